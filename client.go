// Package dache is a distributed in-memory cache client. It owns the
// live set of cache hosts, routes operations to the right replica
// group, replicates writes across redundancy layers, and repairs
// itself automatically on host disconnect/reconnect.
package dache

import (
	"context"
	"fmt"
	"time"

	"github.com/menismu/dache/bucket"
	"github.com/menismu/dache/dachelog"
	"github.com/menismu/dache/discovery"
	"github.com/menismu/dache/hostconn"
	"github.com/menismu/dache/invalidate"
	"github.com/menismu/dache/metrics"
	"github.com/menismu/dache/routing"
	"github.com/menismu/dache/serialize"
)

// Client is the Cache Client Facade: the public operation surface over
// a Routing Table of Host Connections. A Client is meant to be built
// once per process and shared by every caller; it is safe for
// unbounded concurrent use.
type Client struct {
	events

	table      *routing.Table
	serializer serialize.Serializer
	log        dachelog.Logger
	metrics    *metrics.Set
	invalid    *invalidate.Listener
	discover   *discovery.Adapter

	conns []hostconn.Conn
}

// New builds a Client from cfg: it constructs one Host Connection per
// configured host, assembles the Routing Table, wires the Disconnect/
// Reconnect/MessageReceived events, and starts discovery if enabled.
// It does not block waiting for hosts to connect.
func New(ctx context.Context, cfg Config) (*Client, error) {
	logger := cfg.CustomLogger
	if logger == nil {
		logger = dachelog.NewZerolog()
	}
	ser := cfg.CustomSerializer
	if ser == nil {
		ser = serialize.MsgpackSerializer{}
	}

	transport := cfg.Transport
	if cfg.HostReconnectIntervalSeconds > 0 {
		transport.ReconnectInterval = time.Duration(cfg.HostReconnectIntervalSeconds) * time.Second
	}
	if cfg.CommunicationTimeoutSeconds > 0 {
		transport.CommunicationTimeout = time.Duration(cfg.CommunicationTimeoutSeconds) * time.Second
	}

	invalid := invalidate.NewListener()

	c := &Client{
		serializer: ser,
		log:        logger,
		invalid:    invalid,
	}
	if cfg.MetricsNamespace != "" {
		c.metrics = metrics.NewSet(cfg.MetricsNamespace, true)
	}

	invalid.OnExpired(func(key string) {
		logger.Debug("cache item expired", "key", key)
		c.fireCacheItemExpired(CacheItemExpired{CacheKey: key})
	})

	conns := make([]hostconn.Conn, 0, len(cfg.CacheHosts))
	for _, ep := range cfg.endpoints() {
		conns = append(conns, hostconn.NewTCPConnection(ep, transport))
	}
	c.conns = conns

	width := cfg.HostRedundancyLayers + 1
	c.table = routing.NewTable(conns, width)

	c.table.OnHostDisconnected(func(ep hostconn.Endpoint) {
		logger.Warn("host disconnected", "host", ep.String())
		c.fireHostDisconnected(ep)
	})
	c.table.OnHostReconnected(func(ep hostconn.Endpoint) {
		logger.Info("host reconnected", "host", ep.String())
		c.fireHostReconnected(ep)
	})
	c.table.OnBucketOfflineChange(func(index int, offline bool) {
		c.metrics.SetBucketOffline(index, offline)
	})
	for index, down := range c.table.BucketOfflineSnapshot() {
		c.metrics.SetBucketOffline(index, down)
	}

	// The static initial fleet is wired here, against the now-built
	// Table. Hosts discovered later over UDP are wired the same way by
	// discovery.Adapter itself, against this same Table.
	for _, conn := range conns {
		c.wireConn(conn)
	}

	for _, conn := range conns {
		if err := conn.Connect(ctx); err != nil {
			return nil, fmt.Errorf("dache: connect %s: %w", conn.Endpoint(), err)
		}
	}

	if cfg.AutoDetectCacheHosts {
		if cfg.UDPMulticastIP == "" || cfg.UDPMulticastPort == 0 {
			return nil, argError("udpMulticastIp/udpMulticastPort", "required when autoDetectCacheHosts is enabled")
		}
		c.discover = discovery.NewAdapter(c.table, func(ep hostconn.Endpoint) hostconn.Conn {
			return hostconn.NewTCPConnection(ep, transport)
		}, invalid.HandleMessage)
		if err := c.discover.Start(ctx, discovery.Options{
			MulticastIP:   cfg.UDPMulticastIP,
			MulticastPort: cfg.UDPMulticastPort,
		}); err != nil {
			return nil, fmt.Errorf("dache: start discovery: %w", err)
		}
	}

	return c, nil
}

// wireConn wires conn's inbound messages to the invalidation listener
// and its disconnect/reconnect lifecycle to the Routing Table, so a
// real transport failure actually moves the owning Bucket into (and
// back out of) the offline-index-set.
func (c *Client) wireConn(conn hostconn.Conn) {
	conn.OnMessage(c.invalid.HandleMessage)
	conn.OnDisconnected(c.table.HandleDisconnected)
	conn.OnReconnected(c.table.HandleReconnected)
}

// retryLoop computes a fresh Bucket via lookup on every attempt and
// invokes fn against it; op names the operation for metrics. Any
// transport error triggers another lookup; an ArgumentInvalid or
// SerializationError (from fn) surfaces immediately, never retried, as
// does ErrNoCacheHostsAvailable from either lookup or fn. Loop ends
// when ctx is done or the fleet is exhausted.
func retryLoop(ctx context.Context, op string, m *metrics.Set, lookup func() (*bucket.Bucket[hostconn.Conn], int, error), fn func(*bucket.Bucket[hostconn.Conn]) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		b, _, err := lookup()
		if err != nil {
			m.ObserveOp(op, "fleet_exhausted")
			return err
		}

		err = fn(b)
		if err == nil {
			m.ObserveOp(op, "success")
			return nil
		}
		if err == ErrNoCacheHostsAvailable {
			m.ObserveOp(op, "fleet_exhausted")
			return err
		}
		if isFatal(err) {
			m.ObserveOp(op, "fatal")
			return err
		}

		m.ObserveRetry(op)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func isFatal(err error) bool {
	switch err.(type) {
	case *ErrArgumentInvalid, *ErrSerialization:
		return true
	}
	return false
}

func (c *Client) lookup(routingString string) (*bucket.Bucket[hostconn.Conn], int, error) {
	return c.table.Lookup(routingString)
}
