package dache

import (
	"sync"

	"github.com/menismu/dache/hostconn"
)

// CacheItemExpired is raised when a host pushes an "expire" message for
// a key.
type CacheItemExpired struct {
	CacheKey string
}

// events is a small typed pub/sub hub shared by the Client. It exists
// so HostDisconnected/HostReconnected/CacheItemExpired subscriptions
// can be wired independently of the routing and invalidation internals
// that raise them.
type events struct {
	mu sync.RWMutex

	onHostDisconnected []func(hostconn.Endpoint)
	onHostReconnected  []func(hostconn.Endpoint)
	onCacheItemExpired []func(CacheItemExpired)
}

// OnHostDisconnected subscribes fn to HostDisconnected events.
func (c *Client) OnHostDisconnected(fn func(hostconn.Endpoint)) {
	c.events.mu.Lock()
	defer c.events.mu.Unlock()
	c.events.onHostDisconnected = append(c.events.onHostDisconnected, fn)
}

// OnHostReconnected subscribes fn to HostReconnected events.
func (c *Client) OnHostReconnected(fn func(hostconn.Endpoint)) {
	c.events.mu.Lock()
	defer c.events.mu.Unlock()
	c.events.onHostReconnected = append(c.events.onHostReconnected, fn)
}

// OnCacheItemExpired subscribes fn to CacheItemExpired events raised by
// the invalidation listener.
func (c *Client) OnCacheItemExpired(fn func(CacheItemExpired)) {
	c.events.mu.Lock()
	defer c.events.mu.Unlock()
	c.events.onCacheItemExpired = append(c.events.onCacheItemExpired, fn)
}

func (e *events) fireHostDisconnected(ep hostconn.Endpoint) {
	e.mu.RLock()
	fns := append([]func(hostconn.Endpoint){}, e.onHostDisconnected...)
	e.mu.RUnlock()
	for _, fn := range fns {
		fn(ep)
	}
}

func (e *events) fireHostReconnected(ep hostconn.Endpoint) {
	e.mu.RLock()
	fns := append([]func(hostconn.Endpoint){}, e.onHostReconnected...)
	e.mu.RUnlock()
	for _, fn := range fns {
		fn(ep)
	}
}

func (e *events) fireCacheItemExpired(ev CacheItemExpired) {
	e.mu.RLock()
	fns := append([]func(CacheItemExpired){}, e.onCacheItemExpired...)
	e.mu.RUnlock()
	for _, fn := range fns {
		fn(ev)
	}
}
