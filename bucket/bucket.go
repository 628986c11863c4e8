// Package bucket implements the Redundancy Bucket: an ordered group of
// Host Connections that hold replicas of the same key range.
package bucket

import (
	"sync"
	"sync/atomic"
)

// Conn is the minimal identity a Bucket needs from a Host Connection:
// enough to compare membership and to invoke the fan-out operation.
// The concrete operations (Get, AddOrUpdate, ...) live on hostconn.Conn;
// Bucket stays generic over "some comparable connection handle" so it
// has no import-time dependency on the transport package.
type Conn interface {
	comparable
}

// Bucket is an ordered group of logical replicas: online members serve
// reads round-robin and receive fanned-out writes; offline members are
// disconnected replicas retained so a Reconnected event can find them.
type Bucket[C Conn] struct {
	mu      sync.RWMutex
	width   int // target replication width, fixed at construction
	online  []C
	offline []C
	cursor  atomic.Uint32
}

// New creates an empty Bucket with the given target replication width
// (hostRedundancyLayers + 1).
func New[C Conn](width int) *Bucket[C] {
	return &Bucket[C]{width: width}
}

// Add appends conn to the online list. Used only at startup and by
// discovery; it does not check for duplicates. Every configured
// connection is handed to exactly one Bucket exactly once.
func (b *Bucket[C]) Add(conn C) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.online = append(b.online, conn)
}

// Count returns the Bucket's original target width, not its current
// online size.
func (b *Bucket[C]) Count() int {
	return b.width
}

// Len returns the number of online members right now.
func (b *Bucket[C]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.online)
}

// Next returns an online member using a round-robin cursor, or the
// zero value and false if no member is online. The cursor increments
// unconditionally on every call and may race between concurrent
// callers; the contract only requires approximate even distribution.
func (b *Bucket[C]) Next() (conn C, ok bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	i := b.cursor.Add(1) - 1
	n := len(b.online)
	if n == 0 {
		return conn, false
	}
	return b.online[int(i)%n], true
}

// ForAll snapshots the online list under read-lock, then invokes fn on
// each member outside the lock so a disconnect callback triggered by fn
// cannot deadlock against this Bucket's lock. It returns every non-nil
// error from fn, joined; the caller decides whether to retry.
func (b *Bucket[C]) ForAll(fn func(C) error) error {
	b.mu.RLock()
	members := make([]C, len(b.online))
	copy(members, b.online)
	b.mu.RUnlock()

	var errs []error
	for _, c := range members {
		if err := fn(c); err != nil {
			errs = append(errs, err)
		}
	}
	return joinErrors(errs)
}

// TakeOffline moves conn from online to offline and resets the
// round-robin cursor. It is idempotent: it returns false (no-op) if
// conn was not in the online list.
func (b *Bucket[C]) TakeOffline(conn C) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, c := range b.online {
		if c == conn {
			b.online = append(b.online[:i], b.online[i+1:]...)
			b.offline = append(b.offline, conn)
			b.cursor.Store(0)
			return true
		}
	}
	return false
}

// BringOnline is the inverse of TakeOffline; also idempotent.
func (b *Bucket[C]) BringOnline(conn C) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, c := range b.offline {
		if c == conn {
			b.offline = append(b.offline[:i], b.offline[i+1:]...)
			b.online = append(b.online, conn)
			return true
		}
	}
	return false
}

// Owns reports whether conn is a member of this Bucket (online or
// offline) and, if so, whether it is currently online.
func (b *Bucket[C]) Owns(conn C) (member bool, online bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, c := range b.online {
		if c == conn {
			return true, true
		}
	}
	for _, c := range b.offline {
		if c == conn {
			return true, false
		}
	}
	return false, false
}

// Snapshot returns copies of the online and offline lists, for
// diagnostics and tests.
func (b *Bucket[C]) Snapshot() (online, offline []C) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	online = append(online, b.online...)
	offline = append(offline, b.offline...)
	return online, offline
}
