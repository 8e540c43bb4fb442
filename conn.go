package cqlcore

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/datastax/go-cassandra-native-protocol/frame"
	"github.com/datastax/go-cassandra-native-protocol/message"
	"github.com/datastax/go-cassandra-native-protocol/primitive"

	"github.com/arloliu/cqlcore/internal/streams"
	"github.com/arloliu/cqlcore/types"
)

const readBufferSize = 64 * 1024

var errTooManyOrphans = errors.New("too many orphaned streams")

type connState int32

const (
	connConnecting connState = iota
	connReady
	connClosed
)

const (
	callPending int32 = iota
	callDone
	callAbandoned
)

// connConfig is the per-connection subset of ClusterConfig.
type connConfig struct {
	version           primitive.ProtocolVersion
	compressor        Compressor
	authenticator     Authenticator
	tlsConfig         *tls.Config
	connectTimeout    time.Duration
	heartbeatInterval time.Duration
	idleTimeout       time.Duration
	highWaterMark     int
	lowWaterMark      int
	maxOrphaned       int
	keyspace          string
	logger            types.Logger
	metrics           types.MetricsCollector
}

// connHandlers are the callbacks of a ready connection.
type connHandlers struct {
	// onEvent receives server pushed events (negative stream ids).
	onEvent func(msg message.Message)
	// onClose is called once when a ready connection closes.
	onClose func(c *Conn, err error)
}

type callResult struct {
	msg message.Message
	err error
}

// call is a pending request record, keyed by stream id.
type call struct {
	streamID int16
	done     chan callResult
	state    atomic.Int32
	internal bool
}

// Conn is one multiplexed connection to a host.
//
// Requests are matched to responses by stream id. A single reader goroutine
// decodes frames and dispatches them; writers are serialized by a one-slot
// semaphore.
type Conn struct {
	endpoint string
	cfg      connConfig
	handlers connHandlers
	netConn  net.Conn
	codec    frame.Codec
	streams  *streams.Allocator
	writeSem chan struct{}

	mu    sync.Mutex
	calls map[int16]*call

	state     atomic.Int32
	pending   atomic.Int32
	orphaned  atomic.Int32
	accepting atomic.Bool
	compress  atomic.Bool
	lastRead  atomic.Int64
	lastWrite atomic.Int64

	useMu    sync.Mutex
	keyspace atomic.Pointer[string]

	closeOnce sync.Once
	closed    chan struct{}
	closeErr  error
	wg        sync.WaitGroup
}

// dialConn opens a connection and runs the handshake.
//
// Parameters:
//   - ctx: Context for cancellation
//   - endpoint: The host:port to connect to
//   - cfg: Connection settings
//   - handlers: Callbacks of the ready connection
//
// Returns:
//   - *Conn: A ready connection
//   - error: *types.ConnectionError, *types.ProtocolError or *types.ServerError
func dialConn(ctx context.Context, endpoint string, cfg connConfig, handlers connHandlers) (*Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, cfg.connectTimeout)
	defer cancel()

	nc, err := dialNet(dialCtx, endpoint, cfg)
	if err != nil {
		if isTimeout(err) {
			cfg.metrics.IncConnectionTimeout()
			err = fmt.Errorf("%w: %w", types.ErrConnectTimeout, err)
		}

		return nil, &types.ConnectionError{Host: endpoint, Op: "dial", Cause: err}
	}

	c := newConn(endpoint, nc, cfg, handlers)
	c.wg.Add(1)
	go c.readLoop()

	if err := c.startup(dialCtx); err != nil {
		c.closeWithError(err)

		var protoErr *types.ProtocolError
		var serverErr *types.ServerError
		switch {
		case errors.As(err, &protoErr), errors.As(err, &serverErr):
			return nil, err
		case isTimeout(err) || dialCtx.Err() != nil:
			cfg.metrics.IncConnectionTimeout()
			err = fmt.Errorf("%w: %w", types.ErrConnectTimeout, err)
		}

		return nil, &types.ConnectionError{Host: endpoint, Op: "handshake", Cause: err}
	}

	c.state.Store(int32(connReady))
	cfg.metrics.IncConnectionOpened(endpoint)
	cfg.logger.Debug("connection established", "host", endpoint, "protocol_version", int(cfg.version))

	if cfg.heartbeatInterval > 0 || cfg.idleTimeout > 0 {
		c.wg.Add(1)
		go c.heartbeatLoop()
	}

	return c, nil
}

func dialNet(ctx context.Context, endpoint string, cfg connConfig) (net.Conn, error) {
	d := &net.Dialer{Timeout: cfg.connectTimeout, KeepAlive: 30 * time.Second}
	if cfg.tlsConfig != nil {
		td := &tls.Dialer{NetDialer: d, Config: cfg.tlsConfig}
		return td.DialContext(ctx, "tcp", endpoint)
	}

	return d.DialContext(ctx, "tcp", endpoint)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error

	return errors.As(err, &netErr) && netErr.Timeout()
}

func newConn(endpoint string, nc net.Conn, cfg connConfig, handlers connHandlers) *Conn {
	c := &Conn{
		endpoint: endpoint,
		cfg:      cfg,
		handlers: handlers,
		netConn:  nc,
		codec:    newFrameCodec(cfg.compressor),
		streams:  streams.New(streamCapacity(cfg.version)),
		writeSem: make(chan struct{}, 1),
		calls:    make(map[int16]*call),
		closed:   make(chan struct{}),
	}
	c.accepting.Store(true)
	now := time.Now().UnixNano()
	c.lastRead.Store(now)
	c.lastWrite.Store(now)
	empty := ""
	c.keyspace.Store(&empty)

	return c
}

// Endpoint returns the host:port of the connection.
func (c *Conn) Endpoint() string { return c.endpoint }

// ProtocolVersion returns the protocol version in use.
func (c *Conn) ProtocolVersion() primitive.ProtocolVersion { return c.cfg.version }

// InFlight returns the number of streams in use, orphans included.
func (c *Conn) InFlight() int { return int(c.pending.Load()) }

// IsAccepting reports whether the connection is ready and below its high water mark.
func (c *Conn) IsAccepting() bool {
	return connState(c.state.Load()) == connReady && c.accepting.Load()
}

// IsClosed reports whether the connection is closed.
func (c *Conn) IsClosed() bool { return connState(c.state.Load()) == connClosed }

// Keyspace returns the keyspace the connection is using.
func (c *Conn) Keyspace() string { return *c.keyspace.Load() }

// Err returns the error that closed the connection, or nil.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.closeErr
}

// Close closes the connection and fails its pending requests.
func (c *Conn) Close() {
	c.closeWithError(&types.ConnectionError{Host: c.endpoint, Op: "close", Cause: types.ErrConnectionClosed})
}

// Send writes a request and returns its pending call.
//
// Parameters:
//   - ctx: Bounds the wait for the writer
//   - msg: The request message
//
// Returns:
//   - *call: The pending call; the response arrives on its done channel
//   - error: ErrConnectionClosed, ErrConnectionNotReady, ErrConnectionOverloaded,
//     ErrStreamsExhausted, or a write error; the request never reached the wire
func (c *Conn) Send(ctx context.Context, msg message.Message) (*call, error) {
	switch connState(c.state.Load()) {
	case connClosed:
		return nil, types.ErrConnectionClosed
	case connConnecting:
		return nil, types.ErrConnectionNotReady
	}

	if !c.accepting.Load() {
		return nil, types.ErrConnectionOverloaded
	}

	return c.send(ctx, msg, false)
}

func (c *Conn) send(ctx context.Context, msg message.Message, internal bool) (*call, error) {
	id, ok := c.streams.Acquire()
	if !ok {
		return nil, types.ErrStreamsExhausted
	}

	cl := &call{streamID: int16(id), done: make(chan callResult, 1), internal: internal}
	if internal {
		cl.state.Store(callAbandoned)
	}

	c.mu.Lock()
	if connState(c.state.Load()) == connClosed {
		c.mu.Unlock()
		c.streams.Release(id)

		return nil, types.ErrConnectionClosed
	}
	c.calls[cl.streamID] = cl
	c.mu.Unlock()

	if n := c.pending.Add(1); c.cfg.highWaterMark > 0 && int(n) >= c.cfg.highWaterMark {
		c.accepting.Store(false)
	}

	f := frame.NewFrame(c.cfg.version, cl.streamID, msg)
	if c.compress.Load() {
		f.SetCompress(true)
	}

	var buf bytes.Buffer
	if err := c.codec.EncodeFrame(f, &buf); err != nil {
		c.forget(cl)
		return nil, fmt.Errorf("%w: encode frame: %w", types.ErrInternal, err)
	}

	if err := c.write(ctx, buf.Bytes()); err != nil {
		c.forget(cl)
		return nil, err
	}

	return cl, nil
}

func (c *Conn) write(ctx context.Context, b []byte) error {
	select {
	case c.writeSem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.closed:
		return types.ErrConnectionClosed
	}
	defer func() { <-c.writeSem }()

	deadline := time.Now().Add(c.cfg.connectTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.netConn.SetWriteDeadline(deadline)

	if _, err := c.netConn.Write(b); err != nil {
		cerr := &types.ConnectionError{Host: c.endpoint, Op: "write", Cause: err}
		c.closeWithError(cerr)

		return cerr
	}
	c.lastWrite.Store(time.Now().UnixNano())

	return nil
}

// forget drops a call whose request was never written.
func (c *Conn) forget(cl *call) {
	c.mu.Lock()
	owned := c.calls[cl.streamID] == cl
	if owned {
		delete(c.calls, cl.streamID)
	}
	c.mu.Unlock()

	if owned {
		c.releaseStream(cl.streamID)
	}
}

func (c *Conn) releaseStream(id int16) {
	c.streams.Release(int(id))
	if n := c.pending.Add(-1); int(n) <= c.cfg.lowWaterMark && !c.accepting.Load() {
		c.accepting.Store(true)
	}
}

// abandon gives up on a call whose response is no longer wanted.
//
// The stream stays reserved until the late response arrives. Too many such
// orphans recycle the connection. It returns false when the response already
// arrived and is waiting on the call's done channel.
func (c *Conn) abandon(cl *call) bool {
	if !cl.state.CompareAndSwap(callPending, callAbandoned) {
		return false
	}

	n := c.orphaned.Add(1)
	if c.cfg.maxOrphaned > 0 && int(n) > c.cfg.maxOrphaned {
		c.cfg.logger.Warn("recycling connection with too many orphaned streams",
			"host", c.endpoint, "orphaned", n)
		c.closeWithError(&types.ConnectionError{
			Host:  c.endpoint,
			Op:    "recycle",
			Cause: fmt.Errorf("%w: %w", errRecycled, errTooManyOrphans),
		})
	}

	return true
}

// request sends msg and waits for its response.
//
// ERROR responses are returned as errors.
func (c *Conn) request(ctx context.Context, msg message.Message) (message.Message, error) {
	cl, err := c.send(ctx, msg, false)
	if err != nil {
		return nil, err
	}

	select {
	case res := <-cl.done:
		if res.err != nil {
			return nil, res.err
		}
		if err := responseError(c.endpoint, res.msg); err != nil {
			return res.msg, err
		}

		return res.msg, nil
	case <-ctx.Done():
		c.abandon(cl)
		return nil, ctx.Err()
	}
}

func (c *Conn) readLoop() {
	defer c.wg.Done()

	r := bufio.NewReaderSize(c.netConn, readBufferSize)
	for {
		f, err := c.codec.DecodeFrame(r)
		if err != nil {
			c.closeWithError(&types.ConnectionError{Host: c.endpoint, Op: "read", Cause: err})
			return
		}
		c.lastRead.Store(time.Now().UnixNano())

		if f.Header.StreamId < 0 {
			if c.handlers.onEvent != nil {
				c.handlers.onEvent(f.Body.Message)
			}

			continue
		}

		c.dispatch(f)
	}
}

func (c *Conn) dispatch(f *frame.Frame) {
	id := f.Header.StreamId

	c.mu.Lock()
	cl, ok := c.calls[id]
	if ok {
		delete(c.calls, id)
	}
	c.mu.Unlock()

	if !ok {
		c.cfg.logger.Debug("discarding response for unknown stream", "host", c.endpoint, "stream", id)
		return
	}
	c.releaseStream(id)

	if cl.state.CompareAndSwap(callPending, callDone) {
		cl.done <- callResult{msg: f.Body.Message}
		return
	}

	if !cl.internal {
		c.orphaned.Add(-1)
	}
}

func (c *Conn) startup(ctx context.Context) error {
	resp, err := c.request(ctx, &message.Options{})
	if err != nil {
		return err
	}
	supported, ok := resp.(*message.Supported)
	if !ok {
		return &types.ProtocolError{Host: c.endpoint, Message: fmt.Sprintf("expected SUPPORTED, got %v", resp)}
	}

	opts := map[string]string{
		"CQL_VERSION":    cqlVersion,
		"DRIVER_NAME":    DriverName,
		"DRIVER_VERSION": DriverVersion,
	}
	if c.cfg.compressor != nil {
		alg := c.cfg.compressor.Algorithm()
		if !slices.Contains(supported.Options["COMPRESSION"], alg) {
			return fmt.Errorf("%w: %s is not offered by %s", types.ErrUnsupportedCompression, alg, c.endpoint)
		}
		opts["COMPRESSION"] = alg
	}

	resp, err = c.request(ctx, &message.Startup{Options: opts})
	if err != nil {
		return err
	}
	if c.cfg.compressor != nil {
		c.compress.Store(true)
	}

	switch m := resp.(type) {
	case *message.Ready:
	case *message.Authenticate:
		if err := c.authenticate(ctx, m.Authenticator); err != nil {
			return err
		}
	default:
		return &types.ProtocolError{Host: c.endpoint, Message: fmt.Sprintf("unexpected STARTUP response %v", resp)}
	}

	if c.cfg.keyspace != "" {
		return c.useKeyspace(ctx, c.cfg.keyspace)
	}

	return nil
}

func (c *Conn) authenticate(ctx context.Context, class string) error {
	if c.cfg.authenticator == nil {
		return fmt.Errorf("%w: %s uses %s", types.ErrAuthRequired, c.endpoint, class)
	}

	sess, err := c.cfg.authenticator.NewSession(c.endpoint, class)
	if err != nil {
		return err
	}
	token, err := sess.InitialResponse()
	if err != nil {
		return err
	}

	for {
		resp, err := c.request(ctx, &message.AuthResponse{Token: token})
		if err != nil {
			return err
		}

		switch m := resp.(type) {
		case *message.AuthChallenge:
			if token, err = sess.EvaluateChallenge(m.Token); err != nil {
				return err
			}
		case *message.AuthSuccess:
			return sess.Success(m.Token)
		default:
			return &types.ProtocolError{Host: c.endpoint, Message: fmt.Sprintf("unexpected authentication response %v", resp)}
		}
	}
}

// useKeyspace switches the connection keyspace if it differs.
func (c *Conn) useKeyspace(ctx context.Context, keyspace string) error {
	c.useMu.Lock()
	defer c.useMu.Unlock()

	if c.Keyspace() == keyspace {
		return nil
	}

	resp, err := c.request(ctx, &message.Query{
		Query:   "USE " + quoteIdentifier(keyspace),
		Options: &message.QueryOptions{Consistency: primitive.ConsistencyLevelOne},
	})
	if err != nil {
		return err
	}
	if _, ok := resp.(*message.SetKeyspaceResult); !ok {
		return &types.ProtocolError{Host: c.endpoint, Message: fmt.Sprintf("unexpected USE response %v", resp)}
	}
	c.setKeyspace(keyspace)

	return nil
}

func (c *Conn) setKeyspace(keyspace string) {
	c.keyspace.Store(&keyspace)
}

func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (c *Conn) heartbeatLoop() {
	defer c.wg.Done()

	tick := c.cfg.heartbeatInterval
	if half := c.cfg.idleTimeout / 2; half > 0 && (tick <= 0 || half < tick) {
		tick = half
	}

	t := time.NewTicker(tick)
	defer t.Stop()

	for {
		select {
		case <-c.closed:
			return
		case now := <-t.C:
			idle := now.Sub(time.Unix(0, c.lastRead.Load()))
			if c.cfg.idleTimeout > 0 && idle >= c.cfg.idleTimeout {
				c.cfg.logger.Warn("closing idle connection", "host", c.endpoint, "idle", idle)
				c.closeWithError(&types.ConnectionError{Host: c.endpoint, Op: "heartbeat", Cause: types.ErrHeartbeatTimeout})

				return
			}

			if c.cfg.heartbeatInterval > 0 && now.Sub(time.Unix(0, c.lastWrite.Load())) >= c.cfg.heartbeatInterval {
				c.sendHeartbeat()
			}
		}
	}
}

func (c *Conn) sendHeartbeat() {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.connectTimeout)
	defer cancel()

	if _, err := c.send(ctx, &message.Options{}, true); err != nil {
		c.cfg.logger.Debug("heartbeat failed", "host", c.endpoint, "error", err)
	}
}

func (c *Conn) closeWithError(err error) {
	c.closeOnce.Do(func() {
		wasReady := connState(c.state.Swap(int32(connClosed))) == connReady

		c.mu.Lock()
		c.closeErr = err
		pending := c.calls
		c.calls = make(map[int16]*call)
		c.mu.Unlock()

		close(c.closed)
		_ = c.netConn.Close()

		for _, cl := range pending {
			if cl.state.CompareAndSwap(callPending, callDone) {
				cl.done <- callResult{err: err}
			}
		}

		if !wasReady {
			return
		}

		c.cfg.metrics.IncConnectionClosed(c.endpoint)
		c.cfg.logger.Debug("connection closed", "host", c.endpoint, "error", err)
		if c.handlers.onClose != nil {
			c.handlers.onClose(c, err)
		}
	})
}

// wait blocks until the connection goroutines exited.
func (c *Conn) wait() {
	c.wg.Wait()
}
