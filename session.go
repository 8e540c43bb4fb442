package cqlcore

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/datastax/go-cassandra-native-protocol/message"
	"github.com/datastax/go-cassandra-native-protocol/primitive"
	lru "github.com/hashicorp/golang-lru/v2"
	gometrics "github.com/rcrowley/go-metrics"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/arloliu/cqlcore/internal/logging"
	"github.com/arloliu/cqlcore/internal/metrics"
	"github.com/arloliu/cqlcore/policy"
	"github.com/arloliu/cqlcore/topology"
	"github.com/arloliu/cqlcore/types"
)

// Session is a connected client for a Cassandra cluster.
//
// It owns the host registry, the control connection and one connection pool
// per non-ignored host. A Session is safe for concurrent use.
//
// Example:
//
//	session, err := cqlcore.Connect(ctx,
//	    cqlcore.WithContactPoints("10.0.0.1", "10.0.0.2"),
//	    cqlcore.WithKeyspace("app"),
//	)
//	if err != nil {
//	    return err
//	}
//	defer session.Close(context.Background())
//
//	err = session.Query("INSERT INTO users (id, name) VALUES (?, ?)", id, name).
//	    Idempotent(true).
//	    Exec(ctx)
type Session struct {
	cfg        *ClusterConfig
	logger     types.Logger
	metrics    *sessionMetrics
	registry   *topology.Registry
	lb         policy.LoadBalancingPolicy
	control    *controlConn
	compressor Compressor
	version    primitive.ProtocolVersion

	initialized atomic.Bool
	keyspace    atomic.Pointer[string]

	poolsMu sync.RWMutex
	pools   map[string]*hostPool
	closed  bool

	prepared     *lru.Cache[string, *Prepared]
	prepareGroup singleflight.Group

	reqMu    sync.Mutex
	inFlight sync.WaitGroup
	closing  bool

	closeOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

var _ topology.HostListener = (*Session)(nil)

// Connect creates a session and connects it to the cluster.
//
// It opens the control connection to one of the contact points, negotiates
// the protocol version, discovers the cluster topology and opens the core
// connections of every LOCAL and REMOTE host.
//
// Parameters:
//   - ctx: Context bounding the initial connection
//   - opts: Configuration options
//
// Returns:
//   - *Session: A connected session
//   - error: *types.ConfigError, *types.NoHostsAvailableError or a connection error
func Connect(ctx context.Context, opts ...Option) (*Session, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cfg.Logger = logging.OrNop(cfg.Logger)
	cfg.Metrics = metrics.OrNop(cfg.Metrics)
	if cfg.LogRetryDecisions {
		cfg.RetryPolicy = policy.NewLoggingRetry(cfg.RetryPolicy, cfg.Logger)
	}
	if cfg.LoadBalancingPolicy == nil {
		cfg.LoadBalancingPolicy = policy.NewTokenAware(policy.NewDCAwareRoundRobin(""))
	}
	if cfg.SpeculativeExecutionPolicy == nil {
		cfg.SpeculativeExecutionPolicy = policy.NoSpeculativeExecution{}
	}

	compressor, err := compressorFor(cfg.Compression)
	if err != nil {
		return nil, err
	}

	prepared, err := lru.New[string, *Prepared](cfg.PreparedCacheSize)
	if err != nil {
		return nil, &types.ConfigError{Field: "PreparedCacheSize", Reason: err.Error()}
	}

	endpoints, err := resolveContactPoints(ctx, cfg.ContactPoints, cfg.Port, cfg.Logger)
	if err != nil {
		return nil, err
	}

	bgCtx, cancel := context.WithCancel(context.Background())
	s := &Session{
		cfg:        cfg,
		logger:     cfg.Logger,
		metrics:    newSessionMetrics(cfg.Metrics),
		registry:   topology.NewRegistry(topology.WithRegistryLogger(cfg.Logger)),
		lb:         cfg.LoadBalancingPolicy,
		compressor: compressor,
		pools:      make(map[string]*hostPool),
		prepared:   prepared,
		ctx:        bgCtx,
		cancel:     cancel,
	}
	s.setKeyspace(cfg.Keyspace)
	s.control = newControlConn(s)

	if err := s.control.connect(ctx, endpoints); err != nil {
		s.shutdown()
		return nil, err
	}
	s.version = s.control.protocolVersion()

	if err := s.control.refresh(ctx); err != nil {
		s.shutdown()
		return nil, fmt.Errorf("initial topology refresh: %w", err)
	}

	s.start(ctx)

	s.logger.Info("session connected",
		"hosts", s.registry.Len(),
		"control_host", s.control.endpoint(),
		"protocol_version", int(s.version))

	return s, nil
}

// start initializes the load balancing policy and warms up the pools.
func (s *Session) start(ctx context.Context) {
	if w := s.cfg.DrainWatcher; w != nil {
		for _, h := range s.registry.Snapshot() {
			if w.IsDraining(h.Endpoint()) {
				h.SetDraining(true)
				s.metrics.SetHostDraining(h.Endpoint(), true)
			}
		}
	}

	for _, lb := range s.loadBalancingPolicies() {
		lb.Init(s.registry)
	}

	var g errgroup.Group
	s.poolsMu.Lock()
	for _, h := range s.registry.Snapshot() {
		s.metrics.SetHostUp(h.Endpoint(), h.IsUp())

		d := s.hostDistance(h)
		s.registry.SetDistance(h.Endpoint(), d)
		if d == types.DistanceIgnore {
			continue
		}

		p := s.newPool(h)
		s.pools[h.Endpoint()] = p
		g.Go(func() error {
			if err := p.warmUp(ctx); err != nil {
				s.logger.Warn("could not open connections to host", "host", h.Endpoint(), "error", err)
			}

			return nil
		})
	}
	s.poolsMu.Unlock()
	_ = g.Wait()

	s.initialized.Store(true)
	s.registry.AddListener(s)

	if w := s.cfg.DrainWatcher; w != nil {
		s.wg.Add(1)
		go s.watchDrain(w)
	}
}

func resolveContactPoints(ctx context.Context, points []string, defaultPort int, logger types.Logger) ([]string, error) {
	seen := make(map[string]struct{})
	var endpoints []string

	add := func(host, port string) {
		ep := net.JoinHostPort(host, port)
		if _, ok := seen[ep]; !ok {
			seen[ep] = struct{}{}
			endpoints = append(endpoints, ep)
		}
	}

	for _, cp := range points {
		host, port, err := net.SplitHostPort(cp)
		if err != nil {
			host, port = cp, strconv.Itoa(defaultPort)
		}

		if net.ParseIP(host) != nil {
			add(host, port)
			continue
		}

		addrs, err := net.DefaultResolver.LookupHost(ctx, host)
		if err != nil {
			logger.Warn("could not resolve contact point", "contact_point", cp, "error", err)
			continue
		}
		for _, addr := range addrs {
			add(addr, port)
		}
	}

	if len(endpoints) == 0 {
		return nil, types.ErrNoContactPoints
	}

	return endpoints, nil
}

// connConfig builds the connection settings for a protocol version.
func (s *Session) connConfig(version primitive.ProtocolVersion, keyspace string) connConfig {
	return connConfig{
		version:           version,
		compressor:        s.compressor,
		authenticator:     s.cfg.Authenticator,
		tlsConfig:         s.cfg.TLSConfig,
		connectTimeout:    s.cfg.ConnectTimeout,
		heartbeatInterval: s.cfg.HeartbeatInterval,
		idleTimeout:       s.cfg.IdleTimeout,
		highWaterMark:     s.cfg.PendingRequestsHighWaterMark,
		lowWaterMark:      s.cfg.PendingRequestsLowWaterMark,
		maxOrphaned:       s.cfg.MaxOrphanedStreams,
		keyspace:          keyspace,
		logger:            s.logger,
		metrics:           s.metrics,
	}
}

func (s *Session) newPool(h *topology.Host) *hostPool {
	return newHostPool(h, poolConfig{
		core:         s.cfg.CoreConnectionsPerHost,
		max:          s.cfg.MaxConnectionsPerHost,
		threshold:    s.cfg.MaxConcurrentRequestsThreshold,
		conn:         s.connConfig(s.version, s.Keyspace()),
		reconnection: s.cfg.ReconnectionPolicy,
	}, s.poolHostUp, s.poolHostDown)
}

func (s *Session) poolHostUp(h *topology.Host) {
	s.registry.MarkUp(h.Endpoint())
}

func (s *Session) poolHostDown(h *topology.Host, _ error) {
	s.registry.MarkDown(h.Endpoint())
}

// pool returns the pool of endpoint, or nil.
func (s *Session) pool(endpoint string) *hostPool {
	s.poolsMu.RLock()
	defer s.poolsMu.RUnlock()

	return s.pools[endpoint]
}

// ensurePool creates the pool of h if it has none and starts filling it.
func (s *Session) ensurePool(h *topology.Host) {
	s.poolsMu.Lock()
	if s.closed || s.pools[h.Endpoint()] != nil {
		s.poolsMu.Unlock()
		return
	}
	p := s.newPool(h)
	s.pools[h.Endpoint()] = p
	s.poolsMu.Unlock()

	s.logger.Debug("opening pool", "host", h.Endpoint(), "distance", h.Distance().String())
	p.spawn(s.cfg.CoreConnectionsPerHost)
}

// removePool closes the pool of endpoint in the background.
func (s *Session) removePool(endpoint string) {
	s.poolsMu.Lock()
	p, ok := s.pools[endpoint]
	if ok {
		delete(s.pools, endpoint)
		s.wg.Add(1)
	}
	s.poolsMu.Unlock()

	if !ok {
		return
	}

	s.logger.Debug("closing pool", "host", endpoint)
	go func() {
		defer s.wg.Done()
		p.close()
	}()
}

// goBackground runs fn unless the session is closed.
func (s *Session) goBackground(fn func()) {
	s.poolsMu.Lock()
	if s.closed {
		s.poolsMu.Unlock()
		return
	}
	s.wg.Add(1)
	s.poolsMu.Unlock()

	go func() {
		defer s.wg.Done()
		fn()
	}()
}

// hostDistance returns the nearest distance assigned by the session policy
// or any execution profile policy, or IGNORE for drained hosts.
func (s *Session) hostDistance(h *topology.Host) types.Distance {
	if h.IsDraining() {
		return types.DistanceIgnore
	}

	d := types.DistanceIgnore
	for _, lb := range s.loadBalancingPolicies() {
		d = min(d, lb.Distance(h))
	}

	return d
}

// refreshDistances reassigns every host its distance and opens or closes
// pools accordingly.
func (s *Session) refreshDistances() {
	if !s.initialized.Load() {
		return
	}

	for _, h := range s.registry.Snapshot() {
		d := s.hostDistance(h)
		s.registry.SetDistance(h.Endpoint(), d)

		if d == types.DistanceIgnore {
			s.removePool(h.Endpoint())
		} else {
			s.ensurePool(h)
		}
	}
}

// topologyRefreshed is called by the control connection after a refresh.
func (s *Session) topologyRefreshed() {
	if !s.initialized.Load() {
		return
	}

	type refresher interface{ Refresh() }
	for _, lb := range s.loadBalancingPolicies() {
		for p := lb; p != nil; {
			if r, ok := p.(refresher); ok {
				r.Refresh()
			}
			c, ok := p.(policy.ChildPolicy)
			if !ok {
				break
			}
			p = c.Child()
		}
	}

	s.refreshDistances()
}

// OnAdd implements topology.HostListener.
func (s *Session) OnAdd(h *topology.Host) {
	s.logger.Info("host added", "host", h.Endpoint(), "datacenter", h.Datacenter(), "rack", h.Rack())
	s.metrics.SetHostUp(h.Endpoint(), h.IsUp())
	if w := s.cfg.DrainWatcher; w != nil && w.IsDraining(h.Endpoint()) {
		h.SetDraining(true)
	}
	for _, lb := range s.loadBalancingPolicies() {
		lb.OnAdd(h)
	}
	s.refreshDistances()

	if p := s.pool(h.Endpoint()); p != nil {
		s.goBackground(func() {
			select {
			case <-p.ready:
				s.reprepareAll(h)
			case <-p.ctx.Done():
			case <-s.ctx.Done():
			}
		})
	}
}

// OnRemove implements topology.HostListener.
func (s *Session) OnRemove(h *topology.Host) {
	s.logger.Info("host removed", "host", h.Endpoint())
	for _, lb := range s.loadBalancingPolicies() {
		lb.OnRemove(h)
	}
	s.removePool(h.Endpoint())
	s.refreshDistances()
}

// OnUp implements topology.HostListener.
func (s *Session) OnUp(h *topology.Host) {
	s.logger.Info("host up", "host", h.Endpoint())
	s.metrics.SetHostUp(h.Endpoint(), true)
	for _, lb := range s.loadBalancingPolicies() {
		lb.OnUp(h)
	}
	s.refreshDistances()

	if p := s.pool(h.Endpoint()); p != nil {
		p.triggerReconnect()
	}
	s.goBackground(func() { s.reprepareAll(h) })
}

// OnDown implements topology.HostListener.
func (s *Session) OnDown(h *topology.Host) {
	s.logger.Warn("host down", "host", h.Endpoint())
	s.metrics.SetHostUp(h.Endpoint(), false)
	for _, lb := range s.loadBalancingPolicies() {
		lb.OnDown(h)
	}
	s.refreshDistances()
}

// hostUpEvent handles an UP status event.
func (s *Session) hostUpEvent(endpoint string) {
	if !s.registry.MarkUp(endpoint) {
		if p := s.pool(endpoint); p != nil {
			p.triggerReconnect()
		}
	}
}

// hostDownEvent handles a DOWN status event. Open connections take
// precedence over the event.
func (s *Session) hostDownEvent(endpoint string) {
	if p := s.pool(endpoint); p != nil && p.size() > 0 {
		s.logger.Debug("ignoring DOWN event for host with open connections", "host", endpoint)
		return
	}
	s.registry.MarkDown(endpoint)
}

func (s *Session) watchDrain(w topology.DrainWatcher) {
	defer s.wg.Done()

	for u := range w.Watch(s.ctx) {
		h := s.registry.Get(u.Endpoint)
		if h == nil || !h.SetDraining(u.Draining) {
			continue
		}

		s.logger.Info("host drain override changed",
			"host", u.Endpoint, "draining", u.Draining, "reason", u.Reason)
		s.metrics.SetHostDraining(u.Endpoint, u.Draining)
		s.topologyRefreshed()
	}
}

// Keyspace returns the session keyspace.
func (s *Session) Keyspace() string {
	return *s.keyspace.Load()
}

func (s *Session) setKeyspace(keyspace string) {
	s.keyspace.Store(&keyspace)
}

// ProtocolVersion returns the negotiated native protocol version.
func (s *Session) ProtocolVersion() int {
	return int(s.version)
}

// Hosts returns the known hosts.
func (s *Session) Hosts() []*Host {
	return s.registry.Snapshot()
}

// KeyspaceMetadata returns the replication of a keyspace as last read from
// system_schema.keyspaces.
//
// Returns:
//   - KeyspaceMetadata: The keyspace metadata
//   - bool: false if the keyspace is unknown
func (s *Session) KeyspaceMetadata(name string) (KeyspaceMetadata, bool) {
	return s.registry.Keyspace(name)
}

// Execute runs a statement and waits for its result.
//
// Parameters:
//   - ctx: Context for cancellation; the request timeout applies on top of it
//   - stmt: A *Query, *BoundStatement or *Batch
//
// Returns:
//   - *Result: The result
//   - error: *types.ServerError, *types.NoHostsAvailableError,
//     *types.RequestTimeoutError, a connection error or ErrSessionClosed
func (s *Session) Execute(ctx context.Context, stmt Statement) (*Result, error) {
	return s.ExecuteAsync(ctx, stmt).Get(ctx)
}

// ExecuteAsync starts a statement and returns its future.
//
// The request is bound to ctx: cancelling it fails the request.
func (s *Session) ExecuteAsync(ctx context.Context, stmt Statement) *Future {
	profile, err := s.profile(stmt.options().profile)
	if err != nil {
		return failedFuture(err)
	}
	if !s.beginRequest() {
		return failedFuture(types.ErrSessionClosed)
	}

	re := newRequestExecution(ctx, s, stmt, profile)
	re.begin()

	return re.future
}

// Query creates a simple statement bound to the session.
func (s *Session) Query(stmt string, values ...any) *Query {
	return &Query{session: s, stmt: stmt, values: values}
}

// NewBatch creates a batch bound to the session.
func (s *Session) NewBatch(kind BatchType) *Batch {
	return &Batch{session: s, kind: kind}
}

// ExecuteBatch runs a batch.
func (s *Session) ExecuteBatch(ctx context.Context, b *Batch) error {
	_, err := s.Execute(ctx, b)
	return err
}

// Prepare prepares a statement on the cluster.
//
// Prepared statements are cached per keyspace and query text. Concurrent
// calls for the same statement share one round trip. With PrepareOnAllHosts
// the statement is also prepared on every other pooled host.
//
// Parameters:
//   - ctx: Context for cancellation
//   - query: The CQL text with ? markers
//
// Returns:
//   - *Prepared: The prepared statement
//   - error: The preparation error
func (s *Session) Prepare(ctx context.Context, query string) (*Prepared, error) {
	keyspace := s.Keyspace()
	key := "prepare\x00" + keyspace + "\x00" + query

	if p, ok := s.prepared.Get(key); ok {
		return p, nil
	}

	v, err, _ := s.prepareGroup.Do(key, func() (any, error) {
		if p, ok := s.prepared.Get(key); ok {
			return p, nil
		}

		res, err := s.Execute(ctx, &prepareRequest{
			query: query,
			opts:  statementOptions{idempotent: true, keyspace: keyspace},
		})
		if err != nil {
			return nil, err
		}
		if res.kind != ResultPrepared || res.prepared == nil {
			return nil, &types.ProtocolError{Host: res.host, Message: "expected a PREPARED result"}
		}

		p, err := newPrepared(s, query, keyspace, res.prepared)
		if err != nil {
			return nil, err
		}

		if s.cfg.PrepareOnAllHosts {
			s.prepareOnOtherHosts(ctx, query, res.host)
		}
		s.prepared.Add(key, p)

		return p, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(*Prepared), nil
}

func (s *Session) prepareOnOtherHosts(ctx context.Context, query, except string) {
	s.poolsMu.RLock()
	pools := make([]*hostPool, 0, len(s.pools))
	for ep, p := range s.pools {
		if ep != except {
			pools = append(pools, p)
		}
	}
	s.poolsMu.RUnlock()

	var g errgroup.Group
	for _, p := range pools {
		g.Go(func() error {
			conn, err := p.acquire()
			if err != nil {
				return nil
			}
			if _, err := conn.request(ctx, &message.Prepare{Query: query}); err != nil {
				s.logger.Debug("could not prepare statement on host", "host", conn.Endpoint(), "error", err)
			}

			return nil
		})
	}
	_ = g.Wait()
}

// reprepareOn prepares p on the host of conn. Concurrent calls for the same
// host and statement share one round trip.
func (s *Session) reprepareOn(ctx context.Context, conn *Conn, p *Prepared) error {
	key := "reprepare\x00" + conn.Endpoint() + "\x00" + p.query

	_, err, _ := s.prepareGroup.Do(key, func() (any, error) {
		resp, err := conn.request(ctx, &message.Prepare{Query: p.query})
		if err != nil {
			return nil, err
		}

		res, ok := resp.(*message.PreparedResult)
		if !ok {
			return nil, &types.ProtocolError{Host: conn.Endpoint(), Message: fmt.Sprintf("unexpected PREPARE response %v", resp)}
		}
		if !bytes.Equal(res.PreparedQueryId, p.ID()) {
			s.logger.Warn("prepared statement id changed on re-prepare",
				"host", conn.Endpoint(), "query", p.query)
			p.update(res)
		}

		return nil, nil
	})

	return err
}

// reprepareAll prepares every cached statement on a host that came back up.
func (s *Session) reprepareAll(h *topology.Host) {
	statements := s.prepared.Values()
	if len(statements) == 0 {
		return
	}

	p := s.pool(h.Endpoint())
	if p == nil {
		return
	}
	conn, err := p.acquire()
	if err != nil {
		s.logger.Debug("skipping re-prepare, no connection to host", "host", h.Endpoint(), "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.RequestTimeout)
	defer cancel()

	for _, stmt := range statements {
		if err := s.reprepareOn(ctx, conn, stmt); err != nil {
			s.logger.Debug("re-prepare on host failed", "host", h.Endpoint(), "query", stmt.query, "error", err)
			return
		}
	}
	s.logger.Debug("re-prepared statements on host", "host", h.Endpoint(), "count", len(statements))
}

// Metrics returns a snapshot of the session metrics.
func (s *Session) Metrics() MetricsSnapshot {
	snap := s.metrics.snapshot()

	s.poolsMu.RLock()
	for _, p := range s.pools {
		total, available := p.stats()
		snap.Stats.TotalConnections += total
		snap.Stats.AvailableConnections += available
	}
	s.poolsMu.RUnlock()

	return snap
}

// MetricsRegistry returns the go-metrics registry backing Metrics, for use
// with go-metrics reporters.
func (s *Session) MetricsRegistry() gometrics.Registry {
	return s.metrics.Registry()
}

func (s *Session) beginRequest() bool {
	s.reqMu.Lock()
	defer s.reqMu.Unlock()

	if s.closing {
		return false
	}
	s.inFlight.Add(1)

	return true
}

func (s *Session) endRequest() {
	s.inFlight.Done()
}

// Close stops accepting requests, waits for in-flight requests to finish and
// releases every connection.
//
// In-flight requests are not aborted. When ctx ends first, the connections
// are closed anyway and the remaining requests fail.
//
// Parameters:
//   - ctx: Context bounding the drain
//
// Returns:
//   - error: ctx.Err() if the drain did not complete
func (s *Session) Close(ctx context.Context) error {
	s.reqMu.Lock()
	s.closing = true
	s.reqMu.Unlock()

	drained := make(chan struct{})
	go func() {
		s.inFlight.Wait()
		close(drained)
	}()

	var err error
	select {
	case <-drained:
	case <-ctx.Done():
		err = ctx.Err()
		s.logger.Warn("closing session with requests in flight", "error", err)
	}

	s.shutdown()

	if err != nil {
		// connections are gone, remaining requests resolve promptly
		select {
		case <-drained:
		case <-time.After(s.cfg.ConnectTimeout):
		}
	}

	return err
}

func (s *Session) shutdown() {
	s.closeOnce.Do(func() {
		s.cancel()

		if s.control != nil {
			s.control.close()
		}

		s.poolsMu.Lock()
		s.closed = true
		pools := s.pools
		s.pools = make(map[string]*hostPool)
		s.poolsMu.Unlock()

		var wg sync.WaitGroup
		for _, p := range pools {
			wg.Add(1)
			go func() {
				defer wg.Done()
				p.close()
			}()
		}
		wg.Wait()
		s.wg.Wait()

		s.metrics.stop()
		s.logger.Info("session closed")
	})
}
