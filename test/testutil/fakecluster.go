package testutil

import (
	"bufio"
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"maps"
	"math"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/datastax/go-cassandra-native-protocol/datacodec"
	"github.com/datastax/go-cassandra-native-protocol/datatype"
	"github.com/datastax/go-cassandra-native-protocol/frame"
	"github.com/datastax/go-cassandra-native-protocol/message"
	"github.com/datastax/go-cassandra-native-protocol/primitive"
	"github.com/google/uuid"
)

// FakeReleaseVersion is the release_version reported by fake nodes.
const FakeReleaseVersion = "4.1.3"

// FakeKeyspace and FakeTable name the keyspace and table reported in the
// metadata of user query results.
const (
	FakeKeyspace = "ks"
	FakeTable    = "tbl"
)

// FakeRule alters how a node answers queries containing Match.
//
// Error, when set, is returned instead of the normal result. Delay postpones
// the response. Blackhole drops the request without answering. Times limits
// how many requests the rule applies to; zero applies it forever.
type FakeRule struct {
	Match     string
	Error     message.Error
	Delay     time.Duration
	Blackhole bool
	Times     int
}

type fakeRule struct {
	FakeRule
	remaining int
}

// FakeClusterOption configures a FakeCluster.
type FakeClusterOption func(*fakeClusterConfig)

type fakeClusterConfig struct {
	datacenters  []string
	racks        []string
	compressor   frame.BodyCompressor
	maxVersion   primitive.ProtocolVersion
	username     string
	password     string
	keyspaces    map[string]map[string]string
	legacySchema bool
}

// WithFakeNodes creates n nodes in datacenter "dc1".
func WithFakeNodes(n int) FakeClusterOption {
	return func(c *fakeClusterConfig) {
		c.datacenters = make([]string, n)
		for i := range c.datacenters {
			c.datacenters[i] = "dc1"
		}
	}
}

// WithFakeDatacenters creates one node per entry, in the named datacenter.
func WithFakeDatacenters(dcs ...string) FakeClusterOption {
	return func(c *fakeClusterConfig) {
		c.datacenters = append([]string(nil), dcs...)
	}
}

// WithFakeRacks assigns racks to the nodes in creation order.
func WithFakeRacks(racks ...string) FakeClusterOption {
	return func(c *fakeClusterConfig) {
		c.racks = append([]string(nil), racks...)
	}
}

// WithFakeKeyspace adds a keyspace to system_schema.keyspaces. The
// replication map holds the "class" entry and the replication factors.
func WithFakeKeyspace(name string, replication map[string]string) FakeClusterOption {
	return func(c *fakeClusterConfig) {
		c.keyspaces[name] = maps.Clone(replication)
	}
}

// WithFakeLegacySchema makes nodes reject system_schema queries the way
// servers older than Cassandra 3.0 do.
func WithFakeLegacySchema() FakeClusterOption {
	return func(c *fakeClusterConfig) {
		c.legacySchema = true
	}
}

// WithFakeCompressor lets nodes decode and answer compressed frames.
func WithFakeCompressor(comp frame.BodyCompressor) FakeClusterOption {
	return func(c *fakeClusterConfig) {
		c.compressor = comp
	}
}

// WithFakeMaxProtocolVersion makes nodes reject newer protocol versions.
func WithFakeMaxProtocolVersion(v primitive.ProtocolVersion) FakeClusterOption {
	return func(c *fakeClusterConfig) {
		c.maxVersion = v
	}
}

// WithFakeCredentials enables password authentication.
func WithFakeCredentials(username, password string) FakeClusterOption {
	return func(c *fakeClusterConfig) {
		c.username = username
		c.password = password
	}
}

// FakeCluster is an in-process set of nodes speaking the CQL native protocol.
//
// Every node listens on 127.0.0.1 with its own port. Nodes answer the
// handshake, system.local, system.peers and system_schema.keyspaces, USE,
// PREPARE, EXECUTE and BATCH. A user SELECT returns one row whose "v"
// column holds the answering node's endpoint; any other statement returns
// a VOID result.
type FakeCluster struct {
	cfg   fakeClusterConfig
	codec frame.Codec
	step  uint64

	mu        sync.RWMutex
	nodes     []*FakeNode
	keyspaces map[string]map[string]string
}

// FakeSimpleReplication is the replication of the default FakeKeyspace.
var FakeSimpleReplication = map[string]string{
	"class":              "org.apache.cassandra.locator.SimpleStrategy",
	"replication_factor": "1",
}

// NewFakeCluster starts a fake cluster. It is stopped when the test ends.
//
// Parameters:
//   - t: Test used for cleanup registration
//   - opts: Cluster options; the default is a single node in "dc1"
//
// Returns:
//   - *FakeCluster: The running cluster
func NewFakeCluster(t testing.TB, opts ...FakeClusterOption) *FakeCluster {
	t.Helper()

	fc, err := StartFakeCluster(opts...)
	if err != nil {
		t.Fatalf("%v", err)
	}
	t.Cleanup(fc.Close)

	return fc
}

// StartFakeCluster starts a fake cluster outside of a test. The caller
// stops it with Close.
//
// Parameters:
//   - opts: Cluster options; the default is a single node in "dc1"
//
// Returns:
//   - *FakeCluster: The running cluster
//   - error: Error if a node cannot listen
func StartFakeCluster(opts ...FakeClusterOption) (*FakeCluster, error) {
	cfg := fakeClusterConfig{
		datacenters: []string{"dc1"},
		maxVersion:  primitive.ProtocolVersion4,
		keyspaces:   map[string]map[string]string{FakeKeyspace: FakeSimpleReplication},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	fc := &FakeCluster{
		cfg:       cfg,
		step:      math.MaxUint64 / uint64(len(cfg.datacenters)),
		keyspaces: make(map[string]map[string]string, len(cfg.keyspaces)),
	}
	for name, replication := range cfg.keyspaces {
		fc.keyspaces[name] = maps.Clone(replication)
	}
	if cfg.compressor != nil {
		fc.codec = frame.NewCodecWithCompression(cfg.compressor)
	} else {
		fc.codec = frame.NewCodec()
	}

	for i, dc := range cfg.datacenters {
		rack := "rack1"
		if i < len(cfg.racks) {
			rack = cfg.racks[i]
		}

		n, err := fc.startNode(i, dc, rack, uint64(i)*fc.step)
		if err != nil {
			fc.Close()
			return nil, err
		}
		fc.nodes = append(fc.nodes, n)
	}

	return fc, nil
}

func (fc *FakeCluster) startNode(i int, dc, rack string, offset uint64) (*FakeNode, error) {
	n := &FakeNode{
		cluster:  fc,
		index:    i,
		dc:       dc,
		rack:     rack,
		hostID:   primitive.UUID(uuid.New()),
		token:    strconv.FormatInt(int64(offset+(1<<63)), 10),
		conns:    make(map[*fakeConn]struct{}),
		prepared: make(map[string]string),
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("fake node %d: listen: %w", i, err)
	}
	n.port = ln.Addr().(*net.TCPAddr).Port
	n.serve(ln)

	return n, nil
}

// AddNode starts a new node, lists it in system.peers and announces
// NEW_NODE through the existing nodes. Its token lies halfway between the
// tokens of the first two initial nodes.
//
// Parameters:
//   - dc: The datacenter of the node
//   - rack: The rack of the node
//
// Returns:
//   - *FakeNode: The running node
//   - error: Error if the node cannot listen
func (fc *FakeCluster) AddNode(dc, rack string) (*FakeNode, error) {
	fc.mu.Lock()
	n, err := fc.startNode(len(fc.nodes), dc, rack, fc.step/2)
	if err != nil {
		fc.mu.Unlock()
		return nil, err
	}
	fc.nodes = append(fc.nodes, n)
	fc.mu.Unlock()

	fc.broadcast(n, &message.TopologyChangeEvent{
		ChangeType: primitive.TopologyChangeTypeNewNode,
		Address:    n.inet(),
	})

	return n, nil
}

// Nodes returns the nodes in creation order.
func (fc *FakeCluster) Nodes() []*FakeNode {
	fc.mu.RLock()
	defer fc.mu.RUnlock()

	return append([]*FakeNode(nil), fc.nodes...)
}

// Node returns the i-th node.
func (fc *FakeCluster) Node(i int) *FakeNode {
	fc.mu.RLock()
	defer fc.mu.RUnlock()

	return fc.nodes[i]
}

// ContactPoints returns the endpoints of all nodes.
func (fc *FakeCluster) ContactPoints() []string {
	nodes := fc.Nodes()
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.Endpoint()
	}

	return out
}

// NodeByEndpoint returns the node listening on endpoint, or nil.
func (fc *FakeCluster) NodeByEndpoint(endpoint string) *FakeNode {
	for _, n := range fc.Nodes() {
		if n.Endpoint() == endpoint {
			return n
		}
	}

	return nil
}

// Requests returns the number of user requests served by all nodes.
func (fc *FakeCluster) Requests() int64 {
	var total int64
	for _, n := range fc.Nodes() {
		total += n.Requests()
	}

	return total
}

// AddRule adds a rule to every node.
func (fc *FakeCluster) AddRule(rule FakeRule) {
	for _, n := range fc.Nodes() {
		n.AddRule(rule)
	}
}

// ClearPrepared forgets prepared statements on every node.
func (fc *FakeCluster) ClearPrepared() {
	for _, n := range fc.Nodes() {
		n.ClearPrepared()
	}
}

// SendSchemaChange pushes a SCHEMA_CHANGE event for a table to every
// registered connection.
func (fc *FakeCluster) SendSchemaChange(change primitive.SchemaChangeType, keyspace, table string) {
	fc.broadcast(nil, &message.SchemaChangeEvent{
		ChangeType: change,
		Target:     primitive.SchemaChangeTargetTable,
		Keyspace:   keyspace,
		Object:     table,
	})
}

// SetKeyspace creates or alters a keyspace and pushes the matching
// SCHEMA_CHANGE event.
func (fc *FakeCluster) SetKeyspace(name string, replication map[string]string) {
	fc.mu.Lock()
	change := primitive.SchemaChangeTypeUpdated
	if _, ok := fc.keyspaces[name]; !ok {
		change = primitive.SchemaChangeTypeCreated
	}
	fc.keyspaces[name] = maps.Clone(replication)
	fc.mu.Unlock()

	fc.broadcast(nil, &message.SchemaChangeEvent{
		ChangeType: change,
		Target:     primitive.SchemaChangeTargetKeyspace,
		Keyspace:   name,
	})
}

// DropKeyspace removes a keyspace and pushes a DROPPED event.
func (fc *FakeCluster) DropKeyspace(name string) {
	fc.mu.Lock()
	delete(fc.keyspaces, name)
	fc.mu.Unlock()

	fc.broadcast(nil, &message.SchemaChangeEvent{
		ChangeType: primitive.SchemaChangeTypeDropped,
		Target:     primitive.SchemaChangeTargetKeyspace,
		Keyspace:   name,
	})
}

// Close stops every node and waits for their goroutines.
func (fc *FakeCluster) Close() {
	for _, n := range fc.Nodes() {
		n.shutdown()
	}
}

// broadcast pushes ev through every node except from.
func (fc *FakeCluster) broadcast(from *FakeNode, ev message.Message) {
	for _, n := range fc.Nodes() {
		if n != from {
			n.pushEvent(ev)
		}
	}
}

func (fc *FakeCluster) peersOf(self *FakeNode) []*FakeNode {
	nodes := fc.Nodes()
	out := make([]*FakeNode, 0, len(nodes))
	for _, n := range nodes {
		if n != self && !n.removed.Load() {
			out = append(out, n)
		}
	}

	return out
}

func (fc *FakeCluster) keyspaceRows(version primitive.ProtocolVersion) *message.RowsResult {
	fc.mu.RLock()
	defer fc.mu.RUnlock()

	names := make([]string, 0, len(fc.keyspaces))
	for name := range fc.keyspaces {
		names = append(names, name)
	}
	sort.Strings(names)

	res := &message.RowsResult{Metadata: schemaMetadata("keyspaces", keyspaceColumns)}
	for _, name := range names {
		res.Data = append(res.Data, encodeRow(version, keyspaceColumns, map[string]any{
			"keyspace_name": name,
			"replication":   fc.keyspaces[name],
		}))
	}

	return res
}

// FakeNode is one node of a FakeCluster.
type FakeNode struct {
	cluster *FakeCluster
	index   int
	dc      string
	rack    string
	hostID  primitive.UUID
	token   string
	port    int

	removed atomic.Bool

	requests    atomic.Int64
	prepares    atomic.Int64
	executes    atomic.Int64
	batches     atomic.Int64
	accepted    atomic.Int64
	consistency atomic.Int32

	mu       sync.Mutex
	listener net.Listener
	stopped  chan struct{}
	conns    map[*fakeConn]struct{}
	prepared map[string]string
	rules    []*fakeRule
	wg       sync.WaitGroup
}

// Endpoint returns the node's "127.0.0.1:port" address.
func (n *FakeNode) Endpoint() string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(n.port))
}

// Datacenter returns the node's datacenter.
func (n *FakeNode) Datacenter() string { return n.dc }

// Token returns the node's single token.
func (n *FakeNode) Token() string { return n.token }

// Requests returns the number of QUERY, EXECUTE and BATCH requests served,
// excluding system table reads and USE.
func (n *FakeNode) Requests() int64 { return n.requests.Load() }

// Prepares returns the number of PREPARE requests served.
func (n *FakeNode) Prepares() int64 { return n.prepares.Load() }

// Executes returns the number of EXECUTE requests served.
func (n *FakeNode) Executes() int64 { return n.executes.Load() }

// Batches returns the number of BATCH requests served.
func (n *FakeNode) Batches() int64 { return n.batches.Load() }

// Accepted returns the number of connections accepted since creation.
func (n *FakeNode) Accepted() int64 { return n.accepted.Load() }

// OpenConnections returns the number of currently open connections.
func (n *FakeNode) OpenConnections() int {
	n.mu.Lock()
	defer n.mu.Unlock()

	return len(n.conns)
}

// LastConsistency returns the consistency of the last user request.
func (n *FakeNode) LastConsistency() primitive.ConsistencyLevel {
	return primitive.ConsistencyLevel(n.consistency.Load())
}

// IsRunning reports whether the node accepts connections.
func (n *FakeNode) IsRunning() bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.listener != nil
}

// AddRule installs a rule; rules are checked in insertion order.
func (n *FakeNode) AddRule(rule FakeRule) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.rules = append(n.rules, &fakeRule{FakeRule: rule, remaining: rule.Times})
}

// ClearRules removes all rules.
func (n *FakeNode) ClearRules() {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.rules = nil
}

// ClearPrepared forgets all prepared statements, so the next EXECUTE of a
// previously prepared id answers UNPREPARED.
func (n *FakeNode) ClearPrepared() {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.prepared = make(map[string]string)
}

// Stop closes the listener and every connection, forgets prepared
// statements and announces the node DOWN through the other nodes.
func (n *FakeNode) Stop() {
	n.stop()
	n.ClearPrepared()
	n.cluster.broadcast(n, n.statusEvent(primitive.StatusChangeTypeDown))
}

// Start listens again on the same port and announces the node UP through
// the other nodes.
//
// Returns:
//   - error: Error if the port cannot be bound again
func (n *FakeNode) Start() error {
	ln, err := net.Listen("tcp", n.Endpoint())
	if err != nil {
		return fmt.Errorf("fake node %d: listen: %w", n.index, err)
	}
	n.serve(ln)
	n.cluster.broadcast(n, n.statusEvent(primitive.StatusChangeTypeUp))

	return nil
}

// Decommission stops the node, removes it from system.peers and announces
// REMOVED_NODE through the other nodes.
func (n *FakeNode) Decommission() {
	n.removed.Store(true)
	n.stop()
	n.cluster.broadcast(n, &message.TopologyChangeEvent{
		ChangeType: primitive.TopologyChangeTypeRemovedNode,
		Address:    n.inet(),
	})
}

func (n *FakeNode) inet() *primitive.Inet {
	return &primitive.Inet{Addr: net.IPv4(127, 0, 0, 1).To4(), Port: int32(n.port)}
}

func (n *FakeNode) statusEvent(change primitive.StatusChangeType) message.Message {
	return &message.StatusChangeEvent{ChangeType: change, Address: n.inet()}
}

func (n *FakeNode) serve(ln net.Listener) {
	n.mu.Lock()
	n.listener = ln
	n.stopped = make(chan struct{})
	stopped := n.stopped
	n.mu.Unlock()

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()

		for {
			nc, err := ln.Accept()
			if err != nil {
				return
			}
			n.accepted.Add(1)

			c := &fakeConn{node: n, nc: nc, stopped: stopped}
			n.mu.Lock()
			n.conns[c] = struct{}{}
			n.mu.Unlock()

			n.wg.Add(1)
			go func() {
				defer n.wg.Done()
				c.serve()
			}()
		}
	}()
}

func (n *FakeNode) stop() {
	n.mu.Lock()
	ln := n.listener
	n.listener = nil
	if n.stopped != nil {
		close(n.stopped)
		n.stopped = nil
	}
	conns := make([]*fakeConn, 0, len(n.conns))
	for c := range n.conns {
		conns = append(conns, c)
	}
	n.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}
	for _, c := range conns {
		_ = c.nc.Close()
	}
}

func (n *FakeNode) shutdown() {
	n.stop()
	n.wg.Wait()
}

func (n *FakeNode) pushEvent(ev message.Message) {
	n.mu.Lock()
	targets := make([]*fakeConn, 0, len(n.conns))
	for c := range n.conns {
		if c.registered.Load() {
			targets = append(targets, c)
		}
	}
	n.mu.Unlock()

	for _, c := range targets {
		c.write(c.versionOrDefault(), -1, ev)
	}
}

func (n *FakeNode) forget(c *fakeConn) {
	n.mu.Lock()
	delete(n.conns, c)
	n.mu.Unlock()
}

// match returns the first rule matching query and consumes one use of it.
func (n *FakeNode) match(query string) *FakeRule {
	n.mu.Lock()
	defer n.mu.Unlock()

	for i, r := range n.rules {
		if !strings.Contains(query, r.Match) {
			continue
		}
		rule := r.FakeRule
		if r.Times > 0 {
			r.remaining--
			if r.remaining <= 0 {
				n.rules = append(n.rules[:i:i], n.rules[i+1:]...)
			}
		}

		return &rule
	}

	return nil
}

func (n *FakeNode) prepare(query string) []byte {
	sum := md5.Sum([]byte(query))

	n.mu.Lock()
	n.prepared[hex.EncodeToString(sum[:])] = query
	n.mu.Unlock()

	return sum[:]
}

func (n *FakeNode) preparedQuery(id []byte) (string, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	q, ok := n.prepared[hex.EncodeToString(id)]

	return q, ok
}

type fakeConn struct {
	node    *FakeNode
	nc      net.Conn
	stopped chan struct{}

	mu         sync.Mutex
	version    atomic.Int32
	compress   atomic.Bool
	registered atomic.Bool
}

func (c *fakeConn) versionOrDefault() primitive.ProtocolVersion {
	if v := c.version.Load(); v != 0 {
		return primitive.ProtocolVersion(v)
	}

	return primitive.ProtocolVersion4
}

func (c *fakeConn) serve() {
	defer c.node.forget(c)
	defer c.nc.Close()

	codec := c.node.cluster.codec
	r := bufio.NewReader(c.nc)
	for {
		f, err := codec.DecodeFrame(r)
		if err != nil {
			return
		}

		version := f.Header.Version
		c.version.Store(int32(version))

		if highest := c.node.cluster.cfg.maxVersion; version > highest {
			c.write(version, f.Header.StreamId, &message.ProtocolError{
				ErrorMessage: fmt.Sprintf("Invalid or unsupported protocol version (%d); highest supported version is %d", version, highest),
			})

			return
		}

		c.handle(version, f.Header.StreamId, f.Body.Message)
	}
}

func (c *fakeConn) write(version primitive.ProtocolVersion, stream int16, msg message.Message) {
	f := frame.NewFrame(version, stream, msg)
	if c.compress.Load() {
		f.SetCompress(true)
	}

	var buf bytes.Buffer
	if err := c.node.cluster.codec.EncodeFrame(f, &buf); err != nil {
		return
	}

	c.mu.Lock()
	_, _ = c.nc.Write(buf.Bytes())
	c.mu.Unlock()
}

func (c *fakeConn) handle(version primitive.ProtocolVersion, stream int16, msg message.Message) {
	cfg := c.node.cluster.cfg

	switch m := msg.(type) {
	case *message.Options:
		c.write(version, stream, &message.Supported{Options: map[string][]string{
			"CQL_VERSION": {"3.4.6"},
			"COMPRESSION": {"snappy", "lz4"},
		}})

	case *message.Startup:
		var resp message.Message = &message.Ready{}
		if cfg.username != "" {
			resp = &message.Authenticate{Authenticator: "org.apache.cassandra.auth.PasswordAuthenticator"}
		}
		c.write(version, stream, resp)
		if m.Options["COMPRESSION"] != "" && cfg.compressor != nil {
			c.compress.Store(true)
		}

	case *message.AuthResponse:
		parts := bytes.Split(m.Token, []byte{0})
		if len(parts) == 3 && string(parts[1]) == cfg.username && string(parts[2]) == cfg.password {
			c.write(version, stream, &message.AuthSuccess{})
			return
		}
		c.write(version, stream, &message.AuthenticationError{
			ErrorMessage: "Provided username and/or password are incorrect",
		})

	case *message.Register:
		c.registered.Store(true)
		c.write(version, stream, &message.Ready{})

	case *message.Query:
		c.respond(version, stream, m.Query, m.Options, func() message.Message {
			return c.queryResult(version, m.Query)
		})

	case *message.Prepare:
		c.node.prepares.Add(1)
		id := c.node.prepare(m.Query)
		c.write(version, stream, preparedResult(id, strings.Count(m.Query, "?")))

	case *message.Execute:
		query, ok := c.node.preparedQuery(m.QueryId)
		if !ok {
			c.write(version, stream, &message.Unprepared{
				ErrorMessage: "Prepared query with ID " + hex.EncodeToString(m.QueryId) + " not found",
				Id:           m.QueryId,
			})

			return
		}
		c.node.executes.Add(1)
		c.respond(version, stream, query, m.Options, func() message.Message {
			return c.queryResult(version, query)
		})

	case *message.Batch:
		text := make([]string, 0, len(m.Children))
		for _, child := range m.Children {
			if child.Id == nil {
				text = append(text, child.Query)
				continue
			}
			query, ok := c.node.preparedQuery(child.Id)
			if !ok {
				c.write(version, stream, &message.Unprepared{
					ErrorMessage: "Prepared query with ID " + hex.EncodeToString(child.Id) + " not found",
					Id:           child.Id,
				})

				return
			}
			text = append(text, query)
		}
		c.node.batches.Add(1)
		c.respond(version, stream, strings.Join(text, "; "), &message.QueryOptions{Consistency: m.Consistency}, func() message.Message {
			return &message.VoidResult{}
		})

	default:
		c.write(version, stream, &message.ProtocolError{
			ErrorMessage: fmt.Sprintf("unexpected message %v", msg),
		})
	}
}

// respond applies the node rules to a user request and writes its result.
func (c *fakeConn) respond(version primitive.ProtocolVersion, stream int16, query string, opts *message.QueryOptions, result func() message.Message) {
	if isInternalQuery(query) {
		c.write(version, stream, result())
		return
	}

	c.node.requests.Add(1)
	if opts != nil {
		c.node.consistency.Store(int32(opts.Consistency))
	}

	rule := c.node.match(query)
	if rule == nil {
		c.write(version, stream, result())
		return
	}
	if rule.Blackhole {
		return
	}

	var resp message.Message
	if rule.Error != nil {
		resp = rule.Error
	} else {
		resp = result()
	}

	if rule.Delay <= 0 {
		c.write(version, stream, resp)
		return
	}

	c.node.wg.Add(1)
	go func() {
		defer c.node.wg.Done()

		timer := time.NewTimer(rule.Delay)
		defer timer.Stop()

		select {
		case <-timer.C:
			c.write(version, stream, resp)
		case <-c.stopped:
		}
	}()
}

func isInternalQuery(query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))

	return strings.HasPrefix(q, "use ") || strings.Contains(q, "from system.") ||
		strings.Contains(q, "from system_schema.")
}

func (c *fakeConn) queryResult(version primitive.ProtocolVersion, query string) message.Message {
	q := strings.ToLower(strings.TrimSpace(query))

	switch {
	case strings.HasPrefix(q, "use "):
		ks := strings.TrimSpace(query[len("use "):])
		ks = strings.Trim(strings.TrimSuffix(ks, ";"), `"`)

		return &message.SetKeyspaceResult{Keyspace: ks}
	case strings.Contains(q, "from system.local"):
		return c.node.localRows(version)
	case strings.Contains(q, "from system.peers"):
		return c.node.peerRows(version)
	case strings.Contains(q, "from system_schema.keyspaces"):
		if c.node.cluster.cfg.legacySchema {
			return &message.Invalid{ErrorMessage: "Keyspace system_schema does not exist"}
		}

		return c.node.cluster.keyspaceRows(version)
	case strings.HasPrefix(q, "select"):
		return endpointRows(c.node.Endpoint())
	default:
		return &message.VoidResult{}
	}
}

func endpointRows(endpoint string) *message.RowsResult {
	return &message.RowsResult{
		Metadata: &message.RowsMetadata{
			ColumnCount: 1,
			Columns: []*message.ColumnMetadata{
				{Keyspace: FakeKeyspace, Table: FakeTable, Name: "v", Index: 0, Type: datatype.Varchar},
			},
		},
		Data: message.RowSet{message.Row{[]byte(endpoint)}},
	}
}

func preparedResult(id []byte, vars int) *message.PreparedResult {
	meta := &message.VariablesMetadata{}
	for i := range vars {
		meta.Columns = append(meta.Columns, &message.ColumnMetadata{
			Keyspace: FakeKeyspace,
			Table:    FakeTable,
			Name:     "p" + strconv.Itoa(i),
			Index:    int32(i),
			Type:     datatype.Varchar,
		})
	}
	if vars > 0 {
		meta.PkIndices = []uint16{0}
	}

	return &message.PreparedResult{
		PreparedQueryId:   id,
		VariablesMetadata: meta,
		ResultMetadata: &message.RowsMetadata{
			ColumnCount: 1,
			Columns: []*message.ColumnMetadata{
				{Keyspace: FakeKeyspace, Table: FakeTable, Name: "v", Index: 0, Type: datatype.Varchar},
			},
		},
	}
}

var (
	localColumns = []fakeColumn{
		{"key", datatype.Varchar},
		{"data_center", datatype.Varchar},
		{"rack", datatype.Varchar},
		{"release_version", datatype.Varchar},
		{"host_id", datatype.Uuid},
		{"tokens", datatype.NewSet(datatype.Varchar)},
		{"rpc_address", datatype.Inet},
	}
	peerColumns = []fakeColumn{
		{"peer", datatype.Inet},
		{"data_center", datatype.Varchar},
		{"rack", datatype.Varchar},
		{"release_version", datatype.Varchar},
		{"host_id", datatype.Uuid},
		{"tokens", datatype.NewSet(datatype.Varchar)},
		{"rpc_address", datatype.Inet},
		{"native_port", datatype.Int},
	}
)

var keyspaceColumns = []fakeColumn{
	{"keyspace_name", datatype.Varchar},
	{"replication", datatype.NewMap(datatype.Varchar, datatype.Varchar)},
}

type fakeColumn struct {
	name string
	typ  datatype.DataType
}

func systemMetadata(table string, cols []fakeColumn) *message.RowsMetadata {
	return tableMetadata("system", table, cols)
}

func schemaMetadata(table string, cols []fakeColumn) *message.RowsMetadata {
	return tableMetadata("system_schema", table, cols)
}

func tableMetadata(keyspace, table string, cols []fakeColumn) *message.RowsMetadata {
	meta := &message.RowsMetadata{ColumnCount: int32(len(cols))}
	for i, col := range cols {
		meta.Columns = append(meta.Columns, &message.ColumnMetadata{
			Keyspace: keyspace,
			Table:    table,
			Name:     col.name,
			Index:    int32(i),
			Type:     col.typ,
		})
	}

	return meta
}

func encodeRow(version primitive.ProtocolVersion, cols []fakeColumn, values map[string]any) message.Row {
	row := make(message.Row, len(cols))
	for i, col := range cols {
		codec, err := datacodec.NewCodec(col.typ)
		if err != nil {
			continue
		}
		b, err := codec.Encode(values[col.name], version)
		if err != nil {
			continue
		}
		row[i] = b
	}

	return row
}

func (n *FakeNode) rowValues() map[string]any {
	addr := net.IPv4(127, 0, 0, 1).To4()

	return map[string]any{
		"key":             "local",
		"peer":            addr,
		"rpc_address":     addr,
		"native_port":     int32(n.port),
		"data_center":     n.dc,
		"rack":            n.rack,
		"release_version": FakeReleaseVersion,
		"host_id":         n.hostID,
		"tokens":          []string{n.token},
	}
}

func (n *FakeNode) localRows(version primitive.ProtocolVersion) *message.RowsResult {
	return &message.RowsResult{
		Metadata: systemMetadata("local", localColumns),
		Data:     message.RowSet{encodeRow(version, localColumns, n.rowValues())},
	}
}

func (n *FakeNode) peerRows(version primitive.ProtocolVersion) *message.RowsResult {
	res := &message.RowsResult{Metadata: systemMetadata("peers", peerColumns)}
	for _, p := range n.cluster.peersOf(n) {
		res.Data = append(res.Data, encodeRow(version, peerColumns, p.rowValues()))
	}

	return res
}

// UnavailableError builds an UNAVAILABLE error.
func UnavailableError(cl primitive.ConsistencyLevel, required, alive int32) message.Error {
	return &message.Unavailable{
		ErrorMessage: "Cannot achieve consistency level",
		Consistency:  cl,
		Required:     required,
		Alive:        alive,
	}
}

// ReadTimeoutError builds a READ_TIMEOUT error.
func ReadTimeoutError(cl primitive.ConsistencyLevel, received, blockFor int32, dataPresent bool) message.Error {
	return &message.ReadTimeout{
		ErrorMessage: "Operation timed out",
		Consistency:  cl,
		Received:     received,
		BlockFor:     blockFor,
		DataPresent:  dataPresent,
	}
}

// WriteTimeoutError builds a WRITE_TIMEOUT error.
func WriteTimeoutError(cl primitive.ConsistencyLevel, received, blockFor int32, writeType primitive.WriteType) message.Error {
	return &message.WriteTimeout{
		ErrorMessage: "Operation timed out",
		Consistency:  cl,
		Received:     received,
		BlockFor:     blockFor,
		WriteType:    writeType,
	}
}

// OverloadedError builds an OVERLOADED error.
func OverloadedError() message.Error {
	return &message.Overloaded{ErrorMessage: "Server is overloaded"}
}

// BootstrappingError builds an IS_BOOTSTRAPPING error.
func BootstrappingError() message.Error {
	return &message.IsBootstrapping{ErrorMessage: "Node is bootstrapping"}
}

// SyntaxError builds a SYNTAX_ERROR error.
func SyntaxError(msg string) message.Error {
	return &message.SyntaxError{ErrorMessage: msg}
}
