// Package hostconn defines the contract a cache host connection must
// satisfy and ships a default framed-TCP implementation of it. Dache's
// routing core only ever talks to hosts through the Conn interface;
// nothing above this package needs to know how bytes reach the wire.
package hostconn

import (
	"context"
	"fmt"
)

// Endpoint identifies a cache host. It is the identity of a Conn and is
// never mutated once the Conn is created.
type Endpoint struct {
	Address string
	Port    int
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%d", e.Address, e.Port)
}

// Less orders endpoints by (address, port) ascending, the sort key the
// Routing Table uses to assemble Buckets deterministically.
func (e Endpoint) Less(other Endpoint) bool {
	if e.Address != other.Address {
		return e.Address < other.Address
	}
	return e.Port < other.Port
}

// Item is a single key/value pair as passed to AddOrUpdate.
type Item struct {
	Key   string
	Value []byte
}

// WriteOptions carries the per-write metadata the host-side storage
// engine needs to apply expiration and notification semantics.
type WriteOptions struct {
	TagName            string
	AbsoluteExpiration *int64 // unix millis, nil if unset
	SlidingExpiration  *int64 // milliseconds, nil if unset
	NotifyRemoved      bool
	IsInterned         bool
}

// Resolve applies the precedence rule: if both an absolute and a
// sliding expiration are supplied, the sliding value is ignored; if the
// item is interned, both expirations and remove notification are
// suppressed entirely.
func (o WriteOptions) Resolve() WriteOptions {
	if o.IsInterned {
		return WriteOptions{TagName: o.TagName, IsInterned: true}
	}
	if o.AbsoluteExpiration != nil {
		o.SlidingExpiration = nil
	}
	return o
}

// Conn is the narrow interface the routing core consumes. It is
// implemented by the default TCPConnection and by test fakes.
type Conn interface {
	// Endpoint returns this connection's fixed identity.
	Endpoint() Endpoint

	// Connect dials the host and starts the connection's own reconnect
	// loop; it does not block waiting for the dial to succeed.
	Connect(ctx context.Context) error

	// Disconnect stops the reconnect loop and closes the transport for
	// good; no further Reconnected events are raised afterward.
	Disconnect() error

	Get(ctx context.Context, keys []string) ([][]byte, error)
	AddOrUpdate(ctx context.Context, items []Item, opts WriteOptions) error
	Remove(ctx context.Context, keys []string) error
	GetTagged(ctx context.Context, tags []string, pattern string) ([][]byte, error)
	RemoveTagged(ctx context.Context, tags []string, pattern string) error
	GetCacheKeys(ctx context.Context, pattern string) ([]string, error)
	GetCacheKeysTagged(ctx context.Context, tags []string, pattern string) ([]string, error)
	Clear(ctx context.Context) error

	// OnDisconnected/OnReconnected/OnMessage register callbacks invoked
	// from the connection's own transport goroutine, never while any
	// routing lock is held by the caller.
	OnDisconnected(fn func(Conn))
	OnReconnected(fn func(Conn))
	OnMessage(fn func([]byte))
}
