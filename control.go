package cqlcore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"sync"
	"time"

	"github.com/datastax/go-cassandra-native-protocol/datacodec"
	"github.com/datastax/go-cassandra-native-protocol/datatype"
	"github.com/datastax/go-cassandra-native-protocol/message"
	"github.com/datastax/go-cassandra-native-protocol/primitive"
	"github.com/google/uuid"
	"github.com/jpillora/backoff"
	"golang.org/x/sync/singleflight"

	"github.com/arloliu/cqlcore/policy"
	"github.com/arloliu/cqlcore/topology"
	"github.com/arloliu/cqlcore/types"
)

const (
	localQuery     = "SELECT * FROM system.local WHERE key='local'"
	peersQuery     = "SELECT * FROM system.peers"
	keyspacesQuery = "SELECT keyspace_name, replication FROM system_schema.keyspaces"

	controlEventBuffer = 256
)

// controlConn is the dedicated connection used for topology discovery and
// server events.
//
// It is not part of any pool. When it is lost it reconnects to the next host
// of a fresh query plan with jittered exponential backoff.
type controlConn struct {
	s *Session

	mu      sync.Mutex
	conn    *Conn
	version primitive.ProtocolVersion
	closed  bool

	refreshGroup singleflight.Group
	events       chan message.Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newControlConn(s *Session) *controlConn {
	ctx, cancel := context.WithCancel(context.Background())

	return &controlConn{
		s:      s,
		events: make(chan message.Message, controlEventBuffer),
		ctx:    ctx,
		cancel: cancel,
	}
}

// connect opens the control connection to the first reachable endpoint,
// trying them in random order, and negotiates the protocol version.
//
// Parameters:
//   - ctx: Context for cancellation
//   - endpoints: Candidate host:port endpoints
//
// Returns:
//   - error: *types.NoHostsAvailableError when no endpoint accepted the connection
func (cc *controlConn) connect(ctx context.Context, endpoints []string) error {
	shuffled := append([]string(nil), endpoints...)
	rand.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	errs := make(map[string]error)
	for _, ep := range shuffled {
		if err := cc.connectTo(ctx, ep); err != nil {
			cc.s.logger.Warn("control connection attempt failed", "host", ep, "error", err)
			errs[ep] = err

			if ctx.Err() != nil {
				return ctx.Err()
			}

			continue
		}

		cc.wg.Add(1)
		go cc.eventLoop()

		return nil
	}

	return &types.NoHostsAvailableError{Errors: errs}
}

func (cc *controlConn) connectTo(ctx context.Context, endpoint string) error {
	version := cc.initialVersion()

	for {
		conn, err := dialConn(ctx, endpoint, cc.s.connConfig(version, ""), connHandlers{
			onEvent: cc.enqueueEvent,
			onClose: cc.onConnClosed,
		})

		var protoErr *types.ProtocolError
		if errors.As(err, &protoErr) && protoErr.IsVersionMismatch() && cc.s.cfg.ProtocolVersion == 0 {
			next := downgradeProtocol(version)
			if next == 0 {
				return fmt.Errorf("%w: %w", types.ErrUnsupportedProtocolVersion, err)
			}
			cc.s.logger.Info("server rejected protocol version, downgrading",
				"host", endpoint, "from", int(version), "to", int(next))
			version = next

			continue
		}
		if err != nil {
			return err
		}

		if _, err := conn.request(ctx, &message.Register{EventTypes: []primitive.EventType{
			primitive.EventTypeTopologyChange,
			primitive.EventTypeStatusChange,
			primitive.EventTypeSchemaChange,
		}}); err != nil {
			conn.Close()
			conn.wait()

			return err
		}

		cc.mu.Lock()
		if cc.closed {
			cc.mu.Unlock()
			conn.Close()
			conn.wait()

			return types.ErrSessionClosed
		}
		cc.conn = conn
		cc.version = version
		cc.mu.Unlock()

		cc.s.logger.Info("control connection established", "host", endpoint, "protocol_version", int(version))

		return nil
	}
}

func (cc *controlConn) initialVersion() primitive.ProtocolVersion {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	if cc.version != 0 {
		return cc.version
	}
	if v := cc.s.cfg.ProtocolVersion; v != 0 {
		return primitive.ProtocolVersion(v)
	}

	return newestProtocolVersion
}

// protocolVersion returns the negotiated version.
func (cc *controlConn) protocolVersion() primitive.ProtocolVersion {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	return cc.version
}

func (cc *controlConn) current() *Conn {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	return cc.conn
}

// endpoint returns the host the control connection is connected to, or "".
func (cc *controlConn) endpoint() string {
	if c := cc.current(); c != nil {
		return c.Endpoint()
	}

	return ""
}

func (cc *controlConn) onConnClosed(c *Conn, err error) {
	cc.mu.Lock()
	if cc.conn != c {
		cc.mu.Unlock()
		return
	}
	cc.conn = nil
	closed := cc.closed
	if !closed {
		cc.wg.Add(1)
	}
	cc.mu.Unlock()

	if closed {
		return
	}

	cc.s.logger.Warn("control connection lost", "host", c.Endpoint(), "error", err)
	go cc.reconnectLoop()
}

func (cc *controlConn) reconnectLoop() {
	defer cc.wg.Done()

	b := &backoff.Backoff{
		Min:    100 * time.Millisecond,
		Max:    30 * time.Second,
		Factor: 2,
		Jitter: true,
	}

	for {
		for _, ep := range cc.candidates() {
			if cc.ctx.Err() != nil {
				return
			}

			ctx, cancel := context.WithTimeout(cc.ctx, cc.s.cfg.ConnectTimeout)
			err := cc.connectTo(ctx, ep)
			cancel()
			if err != nil {
				cc.s.logger.Debug("control connection reconnect failed", "host", ep, "error", err)
				continue
			}

			if err := cc.refresh(cc.ctx); err != nil {
				cc.s.logger.Warn("topology refresh after control reconnect failed", "error", err)
			}

			return
		}

		t := time.NewTimer(b.Duration())
		select {
		case <-cc.ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// candidates returns the hosts to reconnect to: the load balancing plan
// first, then every other known host.
func (cc *controlConn) candidates() []string {
	seen := make(map[string]struct{})
	var out []string

	plan := cc.s.lb.NewQueryPlan("", policy.RoutingInfo{})
	for h := plan.Next(); h != nil; h = plan.Next() {
		if _, ok := seen[h.Endpoint()]; !ok {
			seen[h.Endpoint()] = struct{}{}
			out = append(out, h.Endpoint())
		}
	}
	for _, h := range cc.s.registry.Snapshot() {
		if _, ok := seen[h.Endpoint()]; !ok {
			seen[h.Endpoint()] = struct{}{}
			out = append(out, h.Endpoint())
		}
	}

	return out
}

// refresh reloads system.local and system.peers into the registry.
//
// Concurrent calls share one round trip.
func (cc *controlConn) refresh(ctx context.Context) error {
	_, err, _ := cc.refreshGroup.Do("nodes", func() (any, error) {
		return nil, cc.refreshNodes(ctx)
	})

	return err
}

func (cc *controlConn) refreshNodes(ctx context.Context) error {
	conn := cc.current()
	if conn == nil {
		return types.ErrConnectionClosed
	}

	local, err := cc.query(ctx, conn, localQuery)
	if err != nil {
		return fmt.Errorf("query system.local: %w", err)
	}
	peers, err := cc.query(ctx, conn, peersQuery)
	if err != nil {
		return fmt.Errorf("query system.peers: %w", err)
	}

	reg := cc.s.registry
	seen := make(map[string]struct{})

	if local.Next() {
		info, err := hostInfoFromRow(local)
		if err != nil {
			cc.s.logger.Warn("malformed system.local row", "host", conn.Endpoint(), "error", err)
		}
		reg.AddOrUpdate(conn.Endpoint(), info)
		seen[conn.Endpoint()] = struct{}{}
	}

	for peers.Next() {
		endpoint, ok := peerEndpoint(peers, cc.s.cfg.Port)
		if !ok {
			cc.s.logger.Warn("ignoring peer row without a usable address")
			continue
		}
		info, err := hostInfoFromRow(peers)
		if err != nil {
			cc.s.logger.Warn("malformed system.peers row", "host", endpoint, "error", err)
		}
		reg.AddOrUpdate(endpoint, info)
		seen[endpoint] = struct{}{}
	}

	for _, h := range reg.Snapshot() {
		if _, ok := seen[h.Endpoint()]; !ok {
			cc.s.logger.Info("host left the cluster", "host", h.Endpoint())
			reg.Remove(h.Endpoint())
		}
	}

	if err := cc.refreshKeyspaces(ctx, conn); err != nil {
		cc.s.logger.Debug("keyspace replication unavailable, token aware routing uses the default replica count",
			"host", conn.Endpoint(), "error", err)
	}

	cc.s.topologyRefreshed()

	return nil
}

// refreshKeyspaces reloads the replication of every keyspace.
//
// Servers without system_schema (before Cassandra 3.0) answer with an
// error; the registry then keeps no keyspace metadata.
func (cc *controlConn) refreshKeyspaces(ctx context.Context, conn *Conn) error {
	rows, err := cc.query(ctx, conn, keyspacesQuery)
	if err != nil {
		return fmt.Errorf("query system_schema.keyspaces: %w", err)
	}

	var keyspaces []topology.KeyspaceMetadata
	for rows.Next() {
		name := string(rows.column("keyspace_name"))
		replication, err := decodeStringMap(rows.column("replication"), rows.version)
		if err != nil {
			cc.s.logger.Warn("malformed keyspace replication", "keyspace", name, "error", err)
			continue
		}
		keyspaces = append(keyspaces, topology.KeyspaceMetadata{
			Name:        name,
			Replication: topology.ParseReplication(replication),
		})
	}
	cc.s.registry.SetKeyspaces(keyspaces)

	return nil
}

// keyspaceChanged applies a keyspace SCHEMA_CHANGE event.
func (cc *controlConn) keyspaceChanged(change primitive.SchemaChangeType, keyspace string) {
	if change == primitive.SchemaChangeTypeDropped {
		cc.s.registry.RemoveKeyspace(keyspace)
		return
	}

	conn := cc.current()
	if conn == nil {
		return
	}

	ctx, cancel := context.WithTimeout(cc.ctx, cc.s.cfg.ConnectTimeout)
	defer cancel()

	if err := cc.refreshKeyspaces(ctx, conn); err != nil && cc.ctx.Err() == nil {
		cc.s.logger.Warn("keyspace refresh failed", "keyspace", keyspace, "error", err)
	}
}

func (cc *controlConn) query(ctx context.Context, conn *Conn, stmt string) (*Result, error) {
	resp, err := conn.request(ctx, &message.Query{
		Query:   stmt,
		Options: &message.QueryOptions{Consistency: primitive.ConsistencyLevelOne},
	})
	if err != nil {
		return nil, err
	}

	return newResult(resp, conn.ProtocolVersion(), conn.Endpoint())
}

// enqueueEvent runs on the connection reader and must not block.
func (cc *controlConn) enqueueEvent(msg message.Message) {
	select {
	case cc.events <- msg:
	default:
		cc.s.logger.Warn("dropping server event, event queue is full", "event", msg)
	}
}

func (cc *controlConn) eventLoop() {
	defer cc.wg.Done()

	for {
		select {
		case <-cc.ctx.Done():
			return
		case msg := <-cc.events:
			cc.handleEvent(msg)
		}
	}
}

func (cc *controlConn) handleEvent(msg message.Message) {
	switch e := msg.(type) {
	case *message.TopologyChangeEvent:
		endpoint := cc.eventEndpoint(e.Address)
		cc.s.logger.Debug("topology change event", "change", string(e.ChangeType), "host", endpoint)

		switch e.ChangeType {
		case primitive.TopologyChangeTypeRemovedNode:
			cc.s.registry.Remove(endpoint)
		default:
			cc.refreshAsync()
		}

	case *message.StatusChangeEvent:
		endpoint := cc.eventEndpoint(e.Address)
		cc.s.logger.Debug("status change event", "change", string(e.ChangeType), "host", endpoint)

		switch e.ChangeType {
		case primitive.StatusChangeTypeUp:
			if cc.s.registry.Get(endpoint) == nil {
				cc.refreshAsync()
				return
			}
			cc.s.hostUpEvent(endpoint)
		case primitive.StatusChangeTypeDown:
			cc.s.hostDownEvent(endpoint)
		}

	case *message.SchemaChangeEvent:
		cc.s.logger.Info("schema change event",
			"change", string(e.ChangeType), "target", string(e.Target),
			"keyspace", e.Keyspace, "object", e.Object)
		if e.Target == primitive.SchemaChangeTargetKeyspace {
			cc.keyspaceChanged(e.ChangeType, e.Keyspace)
		}
		if h := cc.s.cfg.SchemaChangeHandler; h != nil {
			h(string(e.ChangeType), string(e.Target), e.Keyspace, e.Object)
		}
	}
}

func (cc *controlConn) refreshAsync() {
	ctx, cancel := context.WithTimeout(cc.ctx, cc.s.cfg.ConnectTimeout)
	defer cancel()

	if err := cc.refresh(ctx); err != nil && cc.ctx.Err() == nil {
		cc.s.logger.Warn("topology refresh failed", "error", err)
	}
}

func (cc *controlConn) eventEndpoint(addr *primitive.Inet) string {
	if addr == nil {
		return ""
	}

	port := int(addr.Port)
	if port == 0 {
		port = cc.s.cfg.Port
	}

	return topology.JoinEndpoint(addr.Addr.String(), port)
}

func (cc *controlConn) close() {
	cc.mu.Lock()
	if cc.closed {
		cc.mu.Unlock()
		return
	}
	cc.closed = true
	conn := cc.conn
	cc.conn = nil
	cc.mu.Unlock()

	cc.cancel()
	if conn != nil {
		conn.Close()
		conn.wait()
	}
	cc.wg.Wait()
}

// hostInfoFromRow reads node metadata from a system.local or system.peers
// row. A malformed tokens value leaves the host without tokens.
func hostInfoFromRow(r *Result) (topology.HostInfo, error) {
	info := topology.HostInfo{
		Datacenter:     string(r.column("data_center")),
		Rack:           string(r.column("rack")),
		ReleaseVersion: string(r.column("release_version")),
	}

	tokens, err := decodeStringSet(r.column("tokens"), r.version)
	if err != nil {
		err = fmt.Errorf("tokens: %w", err)
	}
	info.Tokens = tokens

	if raw := r.column("host_id"); len(raw) == 16 {
		if id, err := uuid.FromBytes(raw); err == nil {
			info.HostID = id
		}
	}

	return info, err
}

// peerEndpoint returns the native transport endpoint of a system.peers row.
func peerEndpoint(r *Result, defaultPort int) (string, bool) {
	addr := net.IP(r.column("rpc_address"))
	if len(addr) == 0 || addr.IsUnspecified() {
		addr = net.IP(r.column("peer"))
	}
	if len(addr) != net.IPv4len && len(addr) != net.IPv6len {
		return "", false
	}

	port := defaultPort
	var p int32
	if wasNull, err := datacodec.Int.Decode(r.column("native_port"), &p, r.version); err == nil && !wasNull && p > 0 {
		port = int(p)
	}

	return topology.JoinEndpoint(addr.String(), port), true
}

// column returns the raw value of the named column in the current row.
func (r *Result) column(name string) []byte {
	i := r.columnIndex(name)
	if i < 0 || r.pos < 0 || r.pos >= len(r.rows) || i >= len(r.rows[r.pos]) {
		return nil
	}

	return r.rows[r.pos][i]
}

var (
	stringSetCodec = mustCodec(datacodec.NewSet(datatype.NewSet(datatype.Varchar)))
	stringMapCodec = mustCodec(datacodec.NewMap(datatype.NewMap(datatype.Varchar, datatype.Varchar)))
)

func mustCodec(c datacodec.Codec, err error) datacodec.Codec {
	if err != nil {
		panic(err)
	}

	return c
}

// checkCollectionSize rejects a collection whose element count cannot fit
// in its encoded value. Every element carries at least a length prefix, and
// map entries carry two.
func checkCollectionSize(b []byte, version primitive.ProtocolVersion, perElement int) error {
	r := bytes.NewReader(b)

	var size, prefix int
	if version.Uses4BytesCollectionLength() {
		n, err := primitive.ReadInt(r)
		if err != nil {
			return fmt.Errorf("collection size: %w", err)
		}
		size, prefix = int(n), 4
	} else {
		n, err := primitive.ReadShort(r)
		if err != nil {
			return fmt.Errorf("collection size: %w", err)
		}
		size, prefix = int(n), 2
	}

	if size < 0 || size > r.Len()/(prefix*perElement) {
		return fmt.Errorf("collection of %d elements does not fit in %d bytes", size, len(b))
	}

	return nil
}

// decodeStringSet decodes a set<text> or list<text> value.
func decodeStringSet(b []byte, version primitive.ProtocolVersion) ([]string, error) {
	if len(b) == 0 {
		return nil, nil
	}
	if err := checkCollectionSize(b, version, 1); err != nil {
		return nil, err
	}

	var out []string
	if _, err := stringSetCodec.Decode(b, &out, version); err != nil {
		return nil, err
	}

	return out, nil
}

// decodeStringMap decodes a map<text, text> value.
func decodeStringMap(b []byte, version primitive.ProtocolVersion) (map[string]string, error) {
	if len(b) == 0 {
		return nil, nil
	}
	if err := checkCollectionSize(b, version, 2); err != nil {
		return nil, err
	}

	var out map[string]string
	if _, err := stringMapCodec.Decode(b, &out, version); err != nil {
		return nil, err
	}

	return out, nil
}
