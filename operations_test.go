package dache

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/menismu/dache/hostconn"
	"github.com/menismu/dache/routing"
	"github.com/menismu/dache/serialize"
)

// fakeConn is an in-memory hostconn.Conn used to exercise the Facade
// without a real transport. Get/AddOrUpdate/Remove operate on a single
// shared map per fakeConn instance (as if it were one cache host).
type fakeConn struct {
	ep hostconn.Endpoint

	mu      sync.Mutex
	store   map[string][]byte
	tags    map[string]map[string]struct{}
	failGet bool
}

func newFakeConn(ep hostconn.Endpoint) *fakeConn {
	return &fakeConn{ep: ep, store: map[string][]byte{}, tags: map[string]map[string]struct{}{}}
}

func (f *fakeConn) Endpoint() hostconn.Endpoint        { return f.ep }
func (f *fakeConn) Connect(ctx context.Context) error  { return nil }
func (f *fakeConn) Disconnect() error                  { return nil }

func (f *fakeConn) Get(ctx context.Context, keys []string) ([][]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failGet {
		return nil, errors.New("fakeConn: induced failure")
	}
	out := make([][]byte, len(keys))
	for i, k := range keys {
		out[i] = f.store[k]
	}
	return out, nil
}

func (f *fakeConn) AddOrUpdate(ctx context.Context, items []hostconn.Item, opts hostconn.WriteOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, it := range items {
		f.store[it.Key] = it.Value
		if opts.TagName != "" {
			if f.tags[opts.TagName] == nil {
				f.tags[opts.TagName] = map[string]struct{}{}
			}
			f.tags[opts.TagName][it.Key] = struct{}{}
		}
	}
	return nil
}

func (f *fakeConn) Remove(ctx context.Context, keys []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.store, k)
	}
	return nil
}

func (f *fakeConn) GetTagged(ctx context.Context, tags []string, pattern string) ([][]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out [][]byte
	for _, tag := range tags {
		for k := range f.tags[tag] {
			out = append(out, f.store[k])
		}
	}
	return out, nil
}

func (f *fakeConn) RemoveTagged(ctx context.Context, tags []string, pattern string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, tag := range tags {
		for k := range f.tags[tag] {
			delete(f.store, k)
		}
		delete(f.tags, tag)
	}
	return nil
}

func (f *fakeConn) GetCacheKeys(ctx context.Context, pattern string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for k := range f.store {
		out = append(out, k)
	}
	return out, nil
}

func (f *fakeConn) GetCacheKeysTagged(ctx context.Context, tags []string, pattern string) ([]string, error) {
	return f.GetCacheKeys(ctx, pattern)
}

func (f *fakeConn) Clear(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.store = map[string][]byte{}
	f.tags = map[string]map[string]struct{}{}
	return nil
}

func (f *fakeConn) OnDisconnected(fn func(hostconn.Conn)) {}
func (f *fakeConn) OnReconnected(fn func(hostconn.Conn))  {}
func (f *fakeConn) OnMessage(fn func([]byte))             {}

var _ hostconn.Conn = (*fakeConn)(nil)

// newTestClient builds a Client around n fakeConn hosts without going
// through New (which would dial real TCP).
func newTestClient(n int) *Client {
	conns := make([]hostconn.Conn, n)
	for i := 0; i < n; i++ {
		conns[i] = newFakeConn(hostconn.Endpoint{Address: "10.0.0.1", Port: 10000 + i})
	}
	return &Client{
		table:      routing.NewTable(conns, 1),
		serializer: serialize.MsgpackSerializer{},
		log:        discardLogger{},
		conns:      conns,
	}
}

type discardLogger struct{}

func (discardLogger) Debug(string, ...any)        {}
func (discardLogger) Info(string, ...any)         {}
func (discardLogger) Warn(string, ...any)         {}
func (discardLogger) Error(string, error, ...any) {}

func TestAddOrUpdateThenTryGetRoundTrips(t *testing.T) {
	c := newTestClient(3)
	ctx := context.Background()

	if err := c.AddOrUpdate(ctx, "k1", 42, WriteOptions{}); err != nil {
		t.Fatalf("AddOrUpdate: %v", err)
	}

	got, ok, err := TryGet[int](ctx, c, "k1")
	if err != nil || !ok || got != 42 {
		t.Fatalf("TryGet = (%v, %v, %v), want (42, true, nil)", got, ok, err)
	}
}

func TestRemoveThenTryGetMisses(t *testing.T) {
	c := newTestClient(3)
	ctx := context.Background()

	c.AddOrUpdate(ctx, "k1", "v1", WriteOptions{})
	if err := c.Remove(ctx, "k1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	_, ok, err := TryGet[string](ctx, c, "k1")
	if err != nil || ok {
		t.Fatalf("TryGet after Remove = (_, %v, %v), want (_, false, nil)", ok, err)
	}
}

func TestTryGetRejectsBlankKey(t *testing.T) {
	c := newTestClient(1)
	_, _, err := TryGet[string](context.Background(), c, "")
	var argErr *ErrArgumentInvalid
	if !errors.As(err, &argErr) {
		t.Fatalf("expected ErrArgumentInvalid, got %v", err)
	}
}

func TestGetBatchPreservesOrderAcrossBuckets(t *testing.T) {
	c := newTestClient(4) // width 1 => 4 buckets, keys spread across them
	ctx := context.Background()

	keys := []string{"a", "b", "c", "d"}
	for i, k := range keys {
		c.AddOrUpdate(ctx, k, i, WriteOptions{})
	}

	got, err := Get[int](ctx, c, keys)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got) != len(keys) {
		t.Fatalf("len(got) = %d, want %d", len(got), len(keys))
	}
	for i, k := range keys {
		v, ok, err := TryGet[int](ctx, c, k)
		if err != nil || !ok {
			t.Fatalf("sanity TryGet(%s) failed: %v %v", k, ok, err)
		}
		if got[i] != v {
			t.Fatalf("got[%d] = %d, want %d (TryGet(%s))", i, got[i], v, k)
		}
	}
}

func TestGetBatchRejectsEmptyKeys(t *testing.T) {
	c := newTestClient(1)
	_, err := Get[int](context.Background(), c, nil)
	var argErr *ErrArgumentInvalid
	if !errors.As(err, &argErr) {
		t.Fatalf("expected ErrArgumentInvalid, got %v", err)
	}
}

func TestTaggedWritesCoLocateToSameBucket(t *testing.T) {
	// Two keys sharing a tag target the same Bucket, and RemoveTagged
	// clears both.
	c := newTestClient(4)
	ctx := context.Background()

	if err := c.AddOrUpdate(ctx, "k1", "v1", WriteOptions{TagName: "T"}); err != nil {
		t.Fatalf("AddOrUpdate k1: %v", err)
	}
	if err := c.AddOrUpdate(ctx, "k2", "v2", WriteOptions{TagName: "T"}); err != nil {
		t.Fatalf("AddOrUpdate k2: %v", err)
	}

	tagged, err := GetTagged[string](ctx, c, "T", "*")
	if err != nil {
		t.Fatalf("GetTagged: %v", err)
	}
	if len(tagged) != 2 {
		t.Fatalf("GetTagged returned %d items, want 2", len(tagged))
	}

	if err := c.RemoveTagged(ctx, "T", "*"); err != nil {
		t.Fatalf("RemoveTagged: %v", err)
	}
	if _, ok, _ := TryGet[string](ctx, c, "k1"); ok {
		t.Fatalf("k1 should be gone after RemoveTagged")
	}
	if _, ok, _ := TryGet[string](ctx, c, "k2"); ok {
		t.Fatalf("k2 should be gone after RemoveTagged")
	}
}

func TestClearEmptiesEveryBucket(t *testing.T) {
	c := newTestClient(3)
	ctx := context.Background()
	c.AddOrUpdate(ctx, "k1", "v1", WriteOptions{})
	c.AddOrUpdate(ctx, "k2", "v2", WriteOptions{})

	if err := c.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, ok, _ := TryGet[string](ctx, c, "k1"); ok {
		t.Fatalf("k1 should be gone after Clear")
	}
	if _, ok, _ := TryGet[string](ctx, c, "k2"); ok {
		t.Fatalf("k2 should be gone after Clear")
	}
}

func TestFleetExhaustionSurfacesNoCacheHostsAvailable(t *testing.T) {
	c := newTestClient(0)
	_, _, err := TryGet[string](context.Background(), c, "k1")
	if !errors.Is(err, ErrNoCacheHostsAvailable) {
		t.Fatalf("expected ErrNoCacheHostsAvailable, got %v", err)
	}
}

func TestAddOrUpdateBatchSkipsUnserializableItem(t *testing.T) {
	c := newTestClient(2)
	ctx := context.Background()

	items := []Item{
		{Key: "ok", Value: "fine"},
		{Key: "bad", Value: make(chan int)}, // msgpack cannot marshal a channel
	}
	if err := c.AddOrUpdateBatch(ctx, items, WriteOptions{}); err != nil {
		t.Fatalf("AddOrUpdateBatch: %v", err)
	}

	if _, ok, _ := TryGet[string](ctx, c, "ok"); !ok {
		t.Fatalf("expected 'ok' item to be written despite 'bad' item failing")
	}
	if _, ok, _ := TryGet[string](ctx, c, "bad"); ok {
		t.Fatalf("'bad' item should have been skipped, not written")
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	c := newTestClient(2)
	if err := c.Shutdown(context.Background()); err != nil {
		t.Fatalf("first Shutdown: %v", err)
	}
	if err := c.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}
