// Package discovery implements the Discovery Adapter: a UDP multicast
// listener that turns HELO/BYE beacons into Routing Table membership
// changes.
package discovery

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/menismu/dache/hostconn"
	"github.com/menismu/dache/routing"
	"github.com/menismu/dache/wire"
)

// ConnFactory constructs a new Host Connection for a discovered
// endpoint. The Adapter wires its lifecycle events to the Routing Table
// and its inbound messages to onMessage before calling Connect.
type ConnFactory func(hostconn.Endpoint) hostconn.Conn

// Adapter polls a UDP multicast group on its own goroutine, translating
// HELO/BYE beacons into Table.AppendDiscovered / permanent-disconnect
// calls. It never reorders or removes existing Buckets; see
// routing.Table.AppendDiscovered for the insertion policy.
type Adapter struct {
	table      *routing.Table
	newConn    ConnFactory
	onMessage  func([]byte)
	pollPeriod time.Duration

	mu    sync.Mutex
	conns map[hostconn.Endpoint]hostconn.Conn

	stop chan struct{}
	done chan struct{}
}

// Options configures an Adapter.
type Options struct {
	MulticastIP   string
	MulticastPort int
	PollPeriod    time.Duration
}

// NewAdapter constructs an Adapter bound to table. newConn builds Host
// Connections for discovered endpoints; onMessage receives every raw
// frame those connections push (typically invalidate.Listener.HandleMessage).
func NewAdapter(table *routing.Table, newConn ConnFactory, onMessage func([]byte)) *Adapter {
	return &Adapter{
		table:     table,
		newConn:   newConn,
		onMessage: onMessage,
		conns:     make(map[hostconn.Endpoint]hostconn.Conn),
	}
}

// Start joins the multicast group and begins polling on a dedicated
// goroutine. It returns once the socket is bound; use TryStop to end
// the loop.
func (a *Adapter) Start(ctx context.Context, opts Options) error {
	if opts.MulticastIP == "" || opts.MulticastPort == 0 {
		return fmt.Errorf("discovery: udpMulticastIp/udpMulticastPort are required when autoDetectCacheHosts is enabled")
	}
	if opts.PollPeriod <= 0 {
		opts.PollPeriod = 250 * time.Millisecond
	}
	a.pollPeriod = opts.PollPeriod

	addr := &net.UDPAddr{IP: net.ParseIP(opts.MulticastIP), Port: opts.MulticastPort}
	conn, err := net.ListenMulticastUDP("udp", nil, addr)
	if err != nil {
		return fmt.Errorf("discovery: join multicast group %s:%d: %w", opts.MulticastIP, opts.MulticastPort, err)
	}

	a.stop = make(chan struct{})
	a.done = make(chan struct{})
	go a.loop(ctx, conn)
	return nil
}

// TryStop signals the poll loop to exit and blocks until it has. It is
// idempotent.
func (a *Adapter) TryStop() {
	a.mu.Lock()
	stop := a.stop
	done := a.done
	a.mu.Unlock()
	if stop == nil {
		return
	}
	select {
	case <-stop:
	default:
		close(stop)
	}
	if done != nil {
		<-done
	}
}

func (a *Adapter) loop(ctx context.Context, conn *net.UDPConn) {
	defer close(a.done)
	defer conn.Close()

	buf := make([]byte, 65507) // largest possible UDP datagram payload
	for {
		select {
		case <-a.stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		conn.SetReadDeadline(time.Now().Add(a.pollPeriod))
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			time.Sleep(a.pollPeriod)
			continue
		}

		beacon, err := wire.DecodeBeacon(buf[:n])
		if err != nil {
			continue
		}
		a.handleBeacon(ctx, beacon)
	}
}

func (a *Adapter) handleBeacon(ctx context.Context, b wire.Beacon) {
	ep := hostconn.Endpoint{Address: b.Address, Port: b.Port}

	switch b.Kind {
	case wire.BeaconHelo:
		a.mu.Lock()
		if _, exists := a.conns[ep]; exists {
			a.mu.Unlock()
			return
		}
		conn := a.newConn(ep)
		a.conns[ep] = conn
		a.mu.Unlock()

		conn.OnDisconnected(a.table.HandleDisconnected)
		conn.OnReconnected(a.table.HandleReconnected)
		if a.onMessage != nil {
			conn.OnMessage(a.onMessage)
		}
		a.table.AppendDiscovered(conn)
		conn.Connect(ctx)

	case wire.BeaconBye:
		a.mu.Lock()
		conn, exists := a.conns[ep]
		if exists {
			delete(a.conns, ep)
		}
		a.mu.Unlock()
		if exists {
			a.table.RemovePermanently(conn)
			conn.Disconnect()
		}
	}
}
