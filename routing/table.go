// Package routing implements the Routing Table and Key Router: the
// ordered sequence of Redundancy Buckets, the set of Bucket indices
// currently unreachable, and the deterministic routing-string-to-Bucket
// lookup built on top of them.
package routing

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/menismu/dache/bucket"
	"github.com/menismu/dache/hostconn"
)

// ErrNoCacheHostsAvailable is raised when every Bucket in the table is
// in the offline-index-set at lookup time (fleet exhaustion).
var ErrNoCacheHostsAvailable = errors.New("dache: no cache hosts available")

// Table is the ordered sequence of Buckets plus the offline-index-set.
// All lookups take the read lock; membership transitions (discovery
// add/remove, disconnect, reconnect) take the write lock. The table
// never reorders or removes Buckets once assembled; discovery only
// appends.
type Table struct {
	mu      sync.RWMutex
	buckets []*bucket.Bucket[hostconn.Conn]
	offline map[int]struct{}
	width   int
	hasher  Hasher

	onHostDisconnected []func(hostconn.Endpoint)
	onHostReconnected  []func(hostconn.Endpoint)
	onBucketOffline    []func(index int, offline bool)
}

// Option configures a Table at construction time.
type Option func(*Table)

// WithHasher overrides the default WeakHash routing hash. See hash.go
// for the tradeoffs of substituting XXHash64To32.
func WithHasher(h Hasher) Option {
	return func(t *Table) { t.hasher = h }
}

// NewTable assembles a Routing Table from the given connections and
// replication width (hostRedundancyLayers + 1). Connections are sorted
// by (address, port) ascending, then packed into Buckets in order; a
// Bucket is sealed once it reaches width members, and the final,
// possibly-short Bucket is still appended. This produces
// ceil(len(conns)/width) Buckets in an order that is identical across
// client instances given the same configuration.
func NewTable(conns []hostconn.Conn, width int, opts ...Option) *Table {
	if width < 1 {
		width = 1
	}

	sorted := make([]hostconn.Conn, len(conns))
	copy(sorted, conns)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Endpoint().Less(sorted[j].Endpoint())
	})

	t := &Table{
		width:   width,
		offline: make(map[int]struct{}),
		hasher:  WeakHash{},
	}
	for _, opt := range opts {
		opt(t)
	}

	var current *bucket.Bucket[hostconn.Conn]
	for _, c := range sorted {
		if current == nil {
			current = bucket.New[hostconn.Conn](width)
			t.buckets = append(t.buckets, current)
		}
		current.Add(c)
		if current.Len() == width {
			current = nil
		}
	}

	for i, b := range t.buckets {
		if b.Len() == 0 {
			t.offline[i] = struct{}{}
		}
	}

	return t
}

// Len returns the number of Buckets in the table.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.buckets)
}

// Bucket returns the Bucket at index i, for callers (e.g. the Facade's
// "every Bucket" operations) that need to iterate the whole fleet.
func (t *Table) Bucket(i int) *bucket.Bucket[hostconn.Conn] {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.buckets[i]
}

// Buckets returns a snapshot slice of every Bucket, in table order.
func (t *Table) Buckets() []*bucket.Bucket[hostconn.Conn] {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*bucket.Bucket[hostconn.Conn], len(t.buckets))
	copy(out, t.buckets)
	return out
}

// Hash exposes the table's configured routing hash, mostly for tests
// that want to predict a lookup's target Bucket.
func (t *Table) Hash(routingString string) int32 {
	return t.hasher.Hash(routingString)
}

// Lookup implements the Key Router: deterministically map a routing
// string to a Bucket, skipping offline Buckets.
func (t *Table) Lookup(routingString string) (*bucket.Bucket[hostconn.Conn], int, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := len(t.buckets)
	if n == 0 || len(t.offline) == n {
		return nil, -1, ErrNoCacheHostsAvailable
	}

	h := t.hasher.Hash(routingString)
	i := int(abs32(h)) % n

	for {
		if _, down := t.offline[i]; !down {
			return t.buckets[i], i, nil
		}
		i = (i + 1) % n
	}
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}

// OnHostDisconnected registers a callback raised after a host is
// marked offline, carrying the endpoint.
func (t *Table) OnHostDisconnected(fn func(hostconn.Endpoint)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onHostDisconnected = append(t.onHostDisconnected, fn)
}

// OnHostReconnected registers a callback raised after a host is marked
// online again, carrying the endpoint.
func (t *Table) OnHostReconnected(fn func(hostconn.Endpoint)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onHostReconnected = append(t.onHostReconnected, fn)
}

// OnBucketOfflineChange registers a callback raised whenever a Bucket
// index enters or leaves the offline-index-set, carrying the index and
// its new offline state. Used to keep the fleet-health gauge current.
func (t *Table) OnBucketOfflineChange(fn func(index int, offline bool)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onBucketOffline = append(t.onBucketOffline, fn)
}

// BucketOfflineSnapshot returns the current offline state of every
// Bucket index, for initializing a gauge at startup.
func (t *Table) BucketOfflineSnapshot() map[int]bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[int]bool, len(t.buckets))
	for i := range t.buckets {
		_, down := t.offline[i]
		out[i] = down
	}
	return out
}

// HandleDisconnected implements the Disconnected(c) reaction:
// write-lock, find the owning Bucket, take c offline, and if that
// leaves the Bucket with no reachable member, add its index to the
// offline-index-set. It is idempotent: if no Bucket currently has c
// online, it does nothing and raises nothing.
func (t *Table) HandleDisconnected(c hostconn.Conn) {
	t.mu.Lock()
	var idx = -1
	for i, b := range t.buckets {
		if b.TakeOffline(c) {
			idx = i
			break
		}
	}
	if idx == -1 {
		t.mu.Unlock()
		return
	}
	wentOffline := false
	if t.buckets[idx].Len() == 0 {
		if _, already := t.offline[idx]; !already {
			wentOffline = true
		}
		t.offline[idx] = struct{}{}
	}
	callbacks := append([]func(hostconn.Endpoint){}, t.onHostDisconnected...)
	offlineCallbacks := append([]func(int, bool){}, t.onBucketOffline...)
	t.mu.Unlock()

	for _, fn := range callbacks {
		fn(c.Endpoint())
	}
	if wentOffline {
		for _, fn := range offlineCallbacks {
			fn(idx, true)
		}
	}
}

// HandleReconnected implements the Reconnected(c) reaction:
// write-lock, find the Bucket whose offline list holds c, bring it
// online, and drop any now-reachable Bucket from the offline-index-set.
func (t *Table) HandleReconnected(c hostconn.Conn) {
	t.mu.Lock()
	var idx = -1
	for i, b := range t.buckets {
		if b.BringOnline(c) {
			idx = i
			break
		}
	}
	if idx == -1 {
		t.mu.Unlock()
		return
	}
	cameOnline := false
	if t.buckets[idx].Len() > 0 {
		if _, wasDown := t.offline[idx]; wasDown {
			cameOnline = true
		}
		delete(t.offline, idx)
	}
	callbacks := append([]func(hostconn.Endpoint){}, t.onHostReconnected...)
	offlineCallbacks := append([]func(int, bool){}, t.onBucketOffline...)
	t.mu.Unlock()

	for _, fn := range callbacks {
		fn(c.Endpoint())
	}
	if cameOnline {
		for _, fn := range offlineCallbacks {
			fn(idx, false)
		}
	}
}

// AppendDiscovered implements the discovery insertion policy: fill the
// last Bucket while it has fewer online members than its width; once
// the last Bucket is at full width, start a new Bucket. Earlier Buckets
// are never filled by discovery. Adding c to an offline last Bucket
// takes that Bucket out of the offline-index-set.
func (t *Table) AppendDiscovered(c hostconn.Conn) {
	t.mu.Lock()

	if n := len(t.buckets); n > 0 {
		last := t.buckets[n-1]
		if last.Len() < last.Count() {
			last.Add(c)
			_, wasDown := t.offline[n-1]
			delete(t.offline, n-1)
			offlineCallbacks := append([]func(int, bool){}, t.onBucketOffline...)
			t.mu.Unlock()
			if wasDown {
				for _, fn := range offlineCallbacks {
					fn(n-1, false)
				}
			}
			return
		}
	}

	nb := bucket.New[hostconn.Conn](t.width)
	nb.Add(c)
	t.buckets = append(t.buckets, nb)
	t.mu.Unlock()
}

// RemovePermanently implements the discovery BYE reaction: treat c as a
// permanent disconnect; its Bucket index stays in the table (Buckets
// are never reordered or removed) but is marked offline forever
// unless it is the last Bucket and a future HELO adds a replacement
// connection to it via AppendDiscovered.
func (t *Table) RemovePermanently(c hostconn.Conn) {
	t.HandleDisconnected(c)
}

func (t *Table) String() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return fmt.Sprintf("routing.Table{buckets=%d, offline=%d}", len(t.buckets), len(t.offline))
}
