package routing

import (
	"context"
	"testing"

	"github.com/menismu/dache/hostconn"
)

// fakeConn is a minimal hostconn.Conn for routing tests: comparable by
// pointer identity, everything else a no-op.
type fakeConn struct {
	ep hostconn.Endpoint
}

func newFakeConn(addr string, port int) *fakeConn {
	return &fakeConn{ep: hostconn.Endpoint{Address: addr, Port: port}}
}

func (f *fakeConn) Endpoint() hostconn.Endpoint           { return f.ep }
func (f *fakeConn) Connect(ctx context.Context) error     { return nil }
func (f *fakeConn) Disconnect() error                     { return nil }
func (f *fakeConn) Get(context.Context, []string) ([][]byte, error) { return nil, nil }
func (f *fakeConn) AddOrUpdate(context.Context, []hostconn.Item, hostconn.WriteOptions) error {
	return nil
}
func (f *fakeConn) Remove(context.Context, []string) error { return nil }
func (f *fakeConn) GetTagged(context.Context, []string, string) ([][]byte, error) {
	return nil, nil
}
func (f *fakeConn) RemoveTagged(context.Context, []string, string) error { return nil }
func (f *fakeConn) GetCacheKeys(context.Context, string) ([]string, error) {
	return nil, nil
}
func (f *fakeConn) GetCacheKeysTagged(context.Context, []string, string) ([]string, error) {
	return nil, nil
}
func (f *fakeConn) Clear(context.Context) error            { return nil }
func (f *fakeConn) OnDisconnected(fn func(hostconn.Conn))   {}
func (f *fakeConn) OnReconnected(fn func(hostconn.Conn))    {}
func (f *fakeConn) OnMessage(fn func([]byte))               {}

var _ hostconn.Conn = (*fakeConn)(nil)

func TestNewTableDeterministicAssembly(t *testing.T) {
	h1 := newFakeConn("10.0.0.2", 1)
	h2 := newFakeConn("10.0.0.1", 2)
	h3 := newFakeConn("10.0.0.1", 1)

	table := NewTable([]hostconn.Conn{h1, h2, h3}, 2)

	if table.Len() != 2 {
		t.Fatalf("got %d buckets, want 2", table.Len())
	}

	online0, _ := table.Bucket(0).Snapshot()
	online1, _ := table.Bucket(1).Snapshot()

	if len(online0) != 2 || online0[0] != hostconn.Conn(h3) || online0[1] != hostconn.Conn(h2) {
		t.Fatalf("bucket 0 = %v, want [h3, h2] (sorted 10.0.0.1:1, 10.0.0.1:2)", online0)
	}
	if len(online1) != 1 || online1[0] != hostconn.Conn(h1) {
		t.Fatalf("bucket 1 = %v, want [h1]", online1)
	}
}

func TestNewTableUnevenTail(t *testing.T) {
	// hostRedundancyLayers=2 (width=3) with 7 hosts -> 3 Buckets of sizes
	// 3, 3, 1.
	conns := make([]hostconn.Conn, 7)
	for i := range conns {
		conns[i] = newFakeConn("10.0.0.1", i+1)
	}

	table := NewTable(conns, 3)
	if table.Len() != 3 {
		t.Fatalf("got %d buckets, want 3", table.Len())
	}
	wantSizes := []int{3, 3, 1}
	for i, want := range wantSizes {
		if got := table.Bucket(i).Len(); got != want {
			t.Errorf("bucket %d size = %d, want %d", i, got, want)
		}
	}
}

func TestLookupStability(t *testing.T) {
	conns := []hostconn.Conn{
		newFakeConn("10.0.0.1", 1),
		newFakeConn("10.0.0.1", 2),
		newFakeConn("10.0.0.1", 3),
	}
	table := NewTable(conns, 1)

	_, firstIdx, err := table.Lookup("user:42")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	for i := 0; i < 1000; i++ {
		_, idx, err := table.Lookup("user:42")
		if err != nil {
			t.Fatalf("Lookup iteration %d: %v", i, err)
		}
		if idx != firstIdx {
			t.Fatalf("lookup not stable: iteration %d got bucket %d, want %d", i, idx, firstIdx)
		}
	}
}

func TestLookupMatchesHashFormula(t *testing.T) {
	conns := []hostconn.Conn{
		newFakeConn("10.0.0.1", 1),
		newFakeConn("10.0.0.1", 2),
		newFakeConn("10.0.0.1", 3),
	}
	table := NewTable(conns, 1)

	h := int32(17)
	for _, r := range "user:42" {
		h += int32(r)
	}
	want := int(abs32(h)) % 3

	_, got, err := table.Lookup("user:42")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got != want {
		t.Fatalf("got bucket %d, want %d (per hash formula)", got, want)
	}
}

func TestLookupEmptyFleetExhaustion(t *testing.T) {
	table := NewTable(nil, 1)
	if _, _, err := table.Lookup("anything"); err != ErrNoCacheHostsAvailable {
		t.Fatalf("got %v, want ErrNoCacheHostsAvailable", err)
	}
}

func TestFailoverAndRecovery(t *testing.T) {
	a := newFakeConn("10.0.0.1", 1)
	b := newFakeConn("10.0.0.2", 1)
	table := NewTable([]hostconn.Conn{a, b}, 1)

	if table.Len() != 2 {
		t.Fatalf("got %d buckets, want 2", table.Len())
	}

	// Find a routing string that lands on bucket 1 so we can observe
	// its failover to bucket 0.
	var routingString string
	for _, s := range []string{"k1", "k2", "k3", "k4", "k5", "k6"} {
		if _, idx, _ := table.Lookup(s); idx == 1 {
			routingString = s
			break
		}
	}
	if routingString == "" {
		t.Fatal("could not find a routing string that lands on bucket 1")
	}

	table.HandleDisconnected(b)

	_, idx, err := table.Lookup(routingString)
	if err != nil {
		t.Fatalf("Lookup after disconnect: %v", err)
	}
	if idx != 0 {
		t.Fatalf("after bucket 1 goes offline, lookup should fail over to bucket 0, got %d", idx)
	}

	table.HandleReconnected(b)
	_, idx, err = table.Lookup(routingString)
	if err != nil {
		t.Fatalf("Lookup after reconnect: %v", err)
	}
	if idx != 1 {
		t.Fatalf("after bucket 1 reconnects, lookup should return to bucket 1, got %d", idx)
	}
}

func TestHandleDisconnectedIdempotent(t *testing.T) {
	a := newFakeConn("10.0.0.1", 1)
	table := NewTable([]hostconn.Conn{a}, 1)

	var fired int
	table.OnHostDisconnected(func(hostconn.Endpoint) { fired++ })

	table.HandleDisconnected(a)
	table.HandleDisconnected(a) // second call should be a no-op, not double-fire

	if fired != 1 {
		t.Fatalf("HostDisconnected fired %d times, want 1", fired)
	}
}

func TestAppendDiscoveredFillsShortBucketFirst(t *testing.T) {
	a := newFakeConn("10.0.0.1", 1)
	table := NewTable([]hostconn.Conn{a}, 2) // one short bucket, width 2

	b := newFakeConn("10.0.0.1", 2)
	table.AppendDiscovered(b)
	if table.Len() != 1 {
		t.Fatalf("got %d buckets, want 1 (discovered host should fill the short bucket)", table.Len())
	}

	c := newFakeConn("10.0.0.1", 3)
	table.AppendDiscovered(c)
	if table.Len() != 2 {
		t.Fatalf("got %d buckets, want 2 (bucket 0 was full, should start a new one)", table.Len())
	}
}
