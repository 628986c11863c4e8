package hostconn

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/menismu/dache/wire"
)

// rpc command names, the first frame segment of every request/response
// exchanged over a TCPConnection. These are this module's own wire
// convention for the RPC half of the connection; the invalidation push
// messages that share the same framing always start with "expire".
const (
	cmdGet                = "get"
	cmdAddOrUpdate        = "addorupdate"
	cmdRemove             = "remove"
	cmdGetTagged          = "gettagged"
	cmdRemoveTagged       = "removetagged"
	cmdGetCacheKeys       = "getcachekeys"
	cmdGetCacheKeysTagged = "getcachekeystagged"
	cmdClear              = "clear"
	cmdResponse           = "resp"
	cmdError              = "err"
)

// TCPOptions configures a TCPConnection.
type TCPOptions struct {
	ReconnectInterval time.Duration
	CommunicationTimeout time.Duration
	Dialer            func(ctx context.Context, addr string) (net.Conn, error)
}

// TCPConnection is the default Conn implementation: a persistent framed
// TCP connection to one host, with its own reconnect loop.
type TCPConnection struct {
	endpoint Endpoint
	opts     TCPOptions

	mu      sync.Mutex
	nc      net.Conn
	closed  bool
	stop    chan struct{}
	readyCh chan struct{}

	pending   map[string]chan rpcReply
	pendingMu sync.Mutex

	onDisconnected []func(Conn)
	onReconnected  []func(Conn)
	onMessage      []func([]byte)
	callbacksMu    sync.RWMutex

	wasConnected bool
}

type rpcReply struct {
	payload []byte
	errMsg  string
}

// NewTCPConnection constructs a disconnected TCPConnection for endpoint.
// Connect must be called before use.
func NewTCPConnection(endpoint Endpoint, opts TCPOptions) *TCPConnection {
	if opts.ReconnectInterval <= 0 {
		opts.ReconnectInterval = 5 * time.Second
	}
	if opts.CommunicationTimeout <= 0 {
		opts.CommunicationTimeout = 10 * time.Second
	}
	if opts.Dialer == nil {
		d := &net.Dialer{}
		opts.Dialer = func(ctx context.Context, addr string) (net.Conn, error) {
			return d.DialContext(ctx, "tcp", addr)
		}
	}
	return &TCPConnection{
		endpoint: endpoint,
		opts:     opts,
		pending:  make(map[string]chan rpcReply),
		readyCh:  make(chan struct{}),
	}
}

func (c *TCPConnection) Endpoint() Endpoint { return c.endpoint }

// Connect starts the background loop that dials the host and keeps
// redialing until Disconnect is called; it returns without waiting for
// the first dial. Reconnection is this connection's own
// responsibility, not the caller's.
func (c *TCPConnection) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("hostconn: connection already disconnected")
	}
	c.stop = make(chan struct{})
	c.mu.Unlock()

	go c.connectLoop(ctx)
	return nil
}

func (c *TCPConnection) connectLoop(ctx context.Context) {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0 // retry forever until Disconnect

	for {
		c.mu.Lock()
		stop := c.stop
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return
		}

		nc, err := c.opts.Dialer(ctx, c.endpoint.String())
		if err != nil {
			wait := bo.NextBackOff()
			select {
			case <-time.After(wait):
				continue
			case <-stop:
				return
			}
		}
		bo.Reset()

		c.mu.Lock()
		c.nc = nc
		wasConnected := c.wasConnected
		c.wasConnected = true
		close(c.readyCh)
		c.mu.Unlock()

		if wasConnected {
			c.fireReconnected()
		}

		c.readLoop(nc, stop)

		c.mu.Lock()
		c.nc = nil
		c.readyCh = make(chan struct{})
		closed = c.closed
		c.mu.Unlock()

		c.failPending(errors.New("hostconn: connection lost"))
		c.fireDisconnected()

		if closed {
			return
		}

		select {
		case <-time.After(c.opts.ReconnectInterval):
		case <-stop:
			return
		}
	}
}

func (c *TCPConnection) readLoop(nc net.Conn, stop chan struct{}) {
	for {
		segments, err := wire.ReadFrame(nc)
		if err != nil {
			nc.Close()
			return
		}
		if len(segments) == 0 {
			continue
		}

		switch segments[0] {
		case cmdResponse, cmdError:
			if len(segments) < 2 {
				continue
			}
			reqID := segments[1]
			var payload []byte
			var errMsg string
			if segments[0] == cmdResponse && len(segments) >= 3 {
				payload = []byte(segments[2])
			}
			if segments[0] == cmdError && len(segments) >= 3 {
				errMsg = segments[2]
			}
			c.deliver(reqID, rpcReply{payload: payload, errMsg: errMsg})
		default:
			var buf bytes.Buffer
			if err := wire.WriteFrame(&buf, segments...); err == nil {
				c.fireMessage(buf.Bytes())
			}
		}

		select {
		case <-stop:
			return
		default:
		}
	}
}

// Disconnect stops the reconnect loop and closes the transport. Per
// design, reconnection only stops when this is invoked externally.
func (c *TCPConnection) Disconnect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.stop != nil {
		close(c.stop)
	}
	nc := c.nc
	c.mu.Unlock()

	if nc != nil {
		return nc.Close()
	}
	return nil
}

func (c *TCPConnection) call(ctx context.Context, cmd string, args ...string) ([]byte, error) {
	c.mu.Lock()
	nc := c.nc
	ready := c.readyCh
	timeout := c.opts.CommunicationTimeout
	c.mu.Unlock()

	if nc == nil {
		select {
		case <-ready:
		case <-time.After(timeout):
			return nil, fmt.Errorf("hostconn: %s not connected", c.endpoint)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		c.mu.Lock()
		nc = c.nc
		c.mu.Unlock()
		if nc == nil {
			return nil, fmt.Errorf("hostconn: %s not connected", c.endpoint)
		}
	}

	reqID := uuid.NewString()
	replyCh := make(chan rpcReply, 1)
	c.pendingMu.Lock()
	c.pending[reqID] = replyCh
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, reqID)
		c.pendingMu.Unlock()
	}()

	segments := append([]string{cmd, reqID}, args...)
	if err := wire.WriteFrame(nc, segments...); err != nil {
		return nil, fmt.Errorf("hostconn: write %s: %w", cmd, err)
	}

	select {
	case reply := <-replyCh:
		if reply.errMsg != "" {
			return nil, fmt.Errorf("hostconn: host error: %s", reply.errMsg)
		}
		return reply.payload, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("hostconn: %s: %w", cmd, context.DeadlineExceeded)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *TCPConnection) deliver(reqID string, reply rpcReply) {
	c.pendingMu.Lock()
	ch, ok := c.pending[reqID]
	c.pendingMu.Unlock()
	if ok {
		ch <- reply
	}
}

func (c *TCPConnection) failPending(err error) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for id, ch := range c.pending {
		ch <- rpcReply{errMsg: err.Error()}
		delete(c.pending, id)
	}
}

func (c *TCPConnection) Get(ctx context.Context, keys []string) ([][]byte, error) {
	raw, err := c.callJSON(ctx, cmdGet, keys)
	if err != nil {
		return nil, err
	}
	var out [][]byte
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *TCPConnection) AddOrUpdate(ctx context.Context, items []Item, opts WriteOptions) error {
	_, err := c.callJSON(ctx, cmdAddOrUpdate, struct {
		Items []Item
		Opts  WriteOptions
	}{items, opts.Resolve()})
	return err
}

func (c *TCPConnection) Remove(ctx context.Context, keys []string) error {
	_, err := c.callJSON(ctx, cmdRemove, keys)
	return err
}

func (c *TCPConnection) GetTagged(ctx context.Context, tags []string, pattern string) ([][]byte, error) {
	raw, err := c.callJSON(ctx, cmdGetTagged, struct {
		Tags    []string
		Pattern string
	}{tags, pattern})
	if err != nil {
		return nil, err
	}
	var out [][]byte
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *TCPConnection) RemoveTagged(ctx context.Context, tags []string, pattern string) error {
	_, err := c.callJSON(ctx, cmdRemoveTagged, struct {
		Tags    []string
		Pattern string
	}{tags, pattern})
	return err
}

func (c *TCPConnection) GetCacheKeys(ctx context.Context, pattern string) ([]string, error) {
	raw, err := c.callJSON(ctx, cmdGetCacheKeys, pattern)
	if err != nil {
		return nil, err
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *TCPConnection) GetCacheKeysTagged(ctx context.Context, tags []string, pattern string) ([]string, error) {
	raw, err := c.callJSON(ctx, cmdGetCacheKeysTagged, struct {
		Tags    []string
		Pattern string
	}{tags, pattern})
	if err != nil {
		return nil, err
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *TCPConnection) Clear(ctx context.Context) error {
	_, err := c.callJSON(ctx, cmdClear)
	return err
}

func (c *TCPConnection) callJSON(ctx context.Context, cmd string, arg ...any) ([]byte, error) {
	var payload []byte
	if len(arg) > 0 {
		b, err := json.Marshal(arg[0])
		if err != nil {
			return nil, err
		}
		payload = b
	}
	return c.call(ctx, cmd, string(payload))
}

func (c *TCPConnection) OnDisconnected(fn func(Conn)) {
	c.callbacksMu.Lock()
	defer c.callbacksMu.Unlock()
	c.onDisconnected = append(c.onDisconnected, fn)
}

func (c *TCPConnection) OnReconnected(fn func(Conn)) {
	c.callbacksMu.Lock()
	defer c.callbacksMu.Unlock()
	c.onReconnected = append(c.onReconnected, fn)
}

func (c *TCPConnection) OnMessage(fn func([]byte)) {
	c.callbacksMu.Lock()
	defer c.callbacksMu.Unlock()
	c.onMessage = append(c.onMessage, fn)
}

func (c *TCPConnection) fireDisconnected() {
	c.callbacksMu.RLock()
	fns := append([]func(Conn){}, c.onDisconnected...)
	c.callbacksMu.RUnlock()
	for _, fn := range fns {
		fn(c)
	}
}

func (c *TCPConnection) fireReconnected() {
	c.callbacksMu.RLock()
	fns := append([]func(Conn){}, c.onReconnected...)
	c.callbacksMu.RUnlock()
	for _, fn := range fns {
		fn(c)
	}
}

func (c *TCPConnection) fireMessage(raw []byte) {
	c.callbacksMu.RLock()
	fns := append([]func([]byte){}, c.onMessage...)
	c.callbacksMu.RUnlock()
	for _, fn := range fns {
		fn(raw)
	}
}

var _ Conn = (*TCPConnection)(nil)
