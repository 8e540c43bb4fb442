package cqlcore

import (
	"crypto/tls"
	"time"

	"github.com/arloliu/cqlcore/internal/logging"
	"github.com/arloliu/cqlcore/internal/metrics"
	"github.com/arloliu/cqlcore/policy"
	"github.com/arloliu/cqlcore/topology"
	"github.com/arloliu/cqlcore/types"
)

// Default configuration values.
const (
	DefaultPort                           = 9042
	DefaultCoreConnectionsPerHost         = 1
	DefaultMaxConnectionsPerHost          = 2
	DefaultMaxConcurrentRequestsThreshold = 100
	DefaultHighWaterMark                  = 256
	DefaultLowWaterMark                   = 128
	DefaultConnectTimeout                 = 5 * time.Second
	DefaultRequestTimeout                 = 12 * time.Second
	DefaultHeartbeatInterval              = 30 * time.Second
	DefaultIdleTimeout                    = 60 * time.Second
	DefaultMaxOrphanedStreams             = 1024
	DefaultPreparedCacheSize              = 1000
	DefaultReconnectBaseDelay             = 2 * time.Second
	DefaultReconnectMaxDelay              = 10 * time.Minute
)

// TimestampProvider generates client side timestamps for requests.
//
// The default provider uses time.Now().UnixMicro(). Returning 0 leaves the
// timestamp to the coordinator.
type TimestampProvider func() int64

// DefaultTimestampProvider returns the current time in microseconds.
func DefaultTimestampProvider() int64 {
	return time.Now().UnixMicro()
}

// SchemaChangeHandler is called for every SCHEMA_CHANGE event received on the
// control connection.
//
// Parameters:
//   - change: The kind of change (CREATED, UPDATED, DROPPED)
//   - target: The changed object kind (KEYSPACE, TABLE, TYPE, FUNCTION, AGGREGATE)
//   - keyspace: The affected keyspace
//   - object: The affected object name, empty for keyspace changes
type SchemaChangeHandler func(change, target, keyspace, object string)

// ClusterConfig holds configuration for a Session.
type ClusterConfig struct {
	// ContactPoints are the initial hosts, as "host" or "host:port".
	ContactPoints []string
	// Port is used for contact points and peers without an explicit port.
	Port int
	// ProtocolVersion is 2, 3 or 4; 0 negotiates starting at 4.
	ProtocolVersion int

	LoadBalancingPolicy policy.LoadBalancingPolicy
	RetryPolicy         policy.RetryPolicy
	// LogRetryDecisions wraps RetryPolicy in policy.LoggingRetry at connect.
	LogRetryDecisions          bool
	SpeculativeExecutionPolicy policy.SpeculativeExecutionPolicy
	ReconnectionPolicy         policy.ReconnectionPolicy

	// Compression is "", "snappy" or "lz4".
	Compression   string
	Authenticator Authenticator
	TLSConfig     *tls.Config

	ConnectTimeout time.Duration
	RequestTimeout time.Duration
	// AttemptTimeout bounds a single attempt; 0 disables it.
	AttemptTimeout time.Duration

	CoreConnectionsPerHost         int
	MaxConnectionsPerHost          int
	MaxConcurrentRequestsThreshold int
	PendingRequestsHighWaterMark   int
	PendingRequestsLowWaterMark    int
	MaxOrphanedStreams             int

	HeartbeatInterval time.Duration
	IdleTimeout       time.Duration

	Consistency       types.Consistency
	SerialConsistency types.Consistency
	Keyspace          string

	PreparedCacheSize int
	PrepareOnAllHosts bool

	// ExecutionProfiles are the named request settings statements may select.
	ExecutionProfiles map[string]*ExecutionProfile

	DrainWatcher        topology.DrainWatcher
	SchemaChangeHandler SchemaChangeHandler
	TimestampProvider   TimestampProvider

	Logger  types.Logger
	Metrics types.MetricsCollector
}

// DefaultConfig returns a ClusterConfig with sensible defaults.
//
// Default policies:
//   - LoadBalancingPolicy: TokenAware over DCAwareRoundRobin with auto-detected local DC
//   - RetryPolicy: DefaultRetry
//   - SpeculativeExecutionPolicy: none
//   - ReconnectionPolicy: exponential, 2s to 10m
//
// Returns:
//   - *ClusterConfig: Configuration with default settings
func DefaultConfig() *ClusterConfig {
	return &ClusterConfig{
		Port:                           DefaultPort,
		RetryPolicy:                    policy.NewDefaultRetry(),
		SpeculativeExecutionPolicy:     policy.NoSpeculativeExecution{},
		ReconnectionPolicy:             policy.NewExponentialReconnection(DefaultReconnectBaseDelay, DefaultReconnectMaxDelay),
		ConnectTimeout:                 DefaultConnectTimeout,
		RequestTimeout:                 DefaultRequestTimeout,
		CoreConnectionsPerHost:         DefaultCoreConnectionsPerHost,
		MaxConnectionsPerHost:          DefaultMaxConnectionsPerHost,
		MaxConcurrentRequestsThreshold: DefaultMaxConcurrentRequestsThreshold,
		PendingRequestsHighWaterMark:   DefaultHighWaterMark,
		PendingRequestsLowWaterMark:    DefaultLowWaterMark,
		MaxOrphanedStreams:             DefaultMaxOrphanedStreams,
		HeartbeatInterval:              DefaultHeartbeatInterval,
		IdleTimeout:                    DefaultIdleTimeout,
		Consistency:                    types.LocalOne,
		SerialConsistency:              types.Serial,
		PreparedCacheSize:              DefaultPreparedCacheSize,
		PrepareOnAllHosts:              true,
		TimestampProvider:              DefaultTimestampProvider,
		Logger:                         logging.NewNopLogger(),
		Metrics:                        metrics.NewNopMetrics(),
	}
}

// Validate checks the configuration for invalid values.
//
// Returns:
//   - error: A *types.ConfigError describing the first invalid field, or nil
func (c *ClusterConfig) Validate() error {
	switch {
	case len(c.ContactPoints) == 0:
		return &types.ConfigError{Field: "ContactPoints", Reason: "at least one contact point is required"}
	case c.Port <= 0 || c.Port > 65535:
		return &types.ConfigError{Field: "Port", Reason: "must be in 1..65535"}
	case c.ProtocolVersion != 0 && (c.ProtocolVersion < 2 || c.ProtocolVersion > 4):
		return &types.ConfigError{Field: "ProtocolVersion", Reason: "must be 2, 3, 4 or 0 for negotiation"}
	case c.Compression != "" && c.Compression != CompressionSnappy && c.Compression != CompressionLZ4:
		return &types.ConfigError{Field: "Compression", Reason: types.ErrUnsupportedCompression.Error() + ": " + c.Compression}
	case c.ConnectTimeout <= 0:
		return &types.ConfigError{Field: "ConnectTimeout", Reason: "must be positive"}
	case c.RequestTimeout <= 0:
		return &types.ConfigError{Field: "RequestTimeout", Reason: "must be positive"}
	case c.AttemptTimeout < 0:
		return &types.ConfigError{Field: "AttemptTimeout", Reason: "must not be negative"}
	case c.CoreConnectionsPerHost < 0:
		return &types.ConfigError{Field: "CoreConnectionsPerHost", Reason: "must not be negative"}
	case c.MaxConnectionsPerHost < 1 || c.MaxConnectionsPerHost < c.CoreConnectionsPerHost:
		return &types.ConfigError{Field: "MaxConnectionsPerHost", Reason: "must be at least 1 and not below the core count"}
	case c.MaxConcurrentRequestsThreshold < 1:
		return &types.ConfigError{Field: "MaxConcurrentRequestsThreshold", Reason: "must be at least 1"}
	case c.PendingRequestsHighWaterMark < 1:
		return &types.ConfigError{Field: "PendingRequestsHighWaterMark", Reason: "must be at least 1"}
	case c.PendingRequestsLowWaterMark < 0 || c.PendingRequestsLowWaterMark > c.PendingRequestsHighWaterMark:
		return &types.ConfigError{Field: "PendingRequestsLowWaterMark", Reason: "must be in 0..high water mark"}
	case c.HeartbeatInterval < 0 || c.IdleTimeout < 0:
		return &types.ConfigError{Field: "HeartbeatInterval", Reason: "heartbeat interval and idle timeout must not be negative"}
	case c.Consistency.String() == "UNKNOWN":
		return &types.ConfigError{Field: "Consistency", Reason: "unknown consistency level"}
	case !c.SerialConsistency.IsSerial():
		return &types.ConfigError{Field: "SerialConsistency", Reason: "must be SERIAL or LOCAL_SERIAL"}
	case c.PreparedCacheSize < 1:
		return &types.ConfigError{Field: "PreparedCacheSize", Reason: "must be at least 1"}
	case c.RetryPolicy == nil:
		return &types.ConfigError{Field: "RetryPolicy", Reason: "must not be nil"}
	case c.ReconnectionPolicy == nil:
		return &types.ConfigError{Field: "ReconnectionPolicy", Reason: "must not be nil"}
	}

	for name, p := range c.ExecutionProfiles {
		if err := p.validate(name); err != nil {
			return err
		}
	}

	return nil
}

// Option configures a ClusterConfig.
type Option func(*ClusterConfig)

// WithContactPoints sets the initial hosts.
//
// Parameters:
//   - hosts: Addresses as "host" or "host:port"; hostnames are resolved at connect
//
// Returns:
//   - Option: Configuration option
func WithContactPoints(hosts ...string) Option {
	return func(c *ClusterConfig) {
		c.ContactPoints = append([]string(nil), hosts...)
	}
}

// WithPort sets the native protocol port used when an address has no port.
func WithPort(port int) Option {
	return func(c *ClusterConfig) {
		c.Port = port
	}
}

// WithProtocolVersion pins the native protocol version.
//
// Without it the session starts at v4 and downgrades when the server rejects
// the version.
//
// Parameters:
//   - version: 2, 3 or 4
//
// Returns:
//   - Option: Configuration option
func WithProtocolVersion(version int) Option {
	return func(c *ClusterConfig) {
		c.ProtocolVersion = version
	}
}

// WithLoadBalancingPolicy sets the load balancing policy.
//
// Parameters:
//   - p: The policy (e.g., policy.NewTokenAware(policy.NewDCAwareRoundRobin("dc1")))
//
// Returns:
//   - Option: Configuration option
func WithLoadBalancingPolicy(p policy.LoadBalancingPolicy) Option {
	return func(c *ClusterConfig) {
		c.LoadBalancingPolicy = p
	}
}

// WithRetryPolicy sets the default retry policy. Statements may override it.
func WithRetryPolicy(p policy.RetryPolicy) Option {
	return func(c *ClusterConfig) {
		c.RetryPolicy = p
	}
}

// WithRetryDecisionLogging logs every retry and ignore decision of the retry
// policy with the session logger.
func WithRetryDecisionLogging(enabled bool) Option {
	return func(c *ClusterConfig) {
		c.LogRetryDecisions = enabled
	}
}

// WithSpeculativeExecutionPolicy sets the speculative execution policy.
//
// Speculative attempts are only started for idempotent statements.
//
// Parameters:
//   - p: The policy (e.g., policy.NewConstantSpeculativeExecution(50*time.Millisecond, 2))
//
// Returns:
//   - Option: Configuration option
func WithSpeculativeExecutionPolicy(p policy.SpeculativeExecutionPolicy) Option {
	return func(c *ClusterConfig) {
		c.SpeculativeExecutionPolicy = p
	}
}

// WithReconnectionPolicy sets the policy scheduling pool reconnection attempts.
func WithReconnectionPolicy(p policy.ReconnectionPolicy) Option {
	return func(c *ClusterConfig) {
		c.ReconnectionPolicy = p
	}
}

// WithCompression enables frame body compression.
//
// Parameters:
//   - algorithm: CompressionSnappy or CompressionLZ4
//
// Returns:
//   - Option: Configuration option
func WithCompression(algorithm string) Option {
	return func(c *ClusterConfig) {
		c.Compression = algorithm
	}
}

// WithCredentials enables PasswordAuthenticator with the given credentials.
func WithCredentials(username, password string) Option {
	return func(c *ClusterConfig) {
		c.Authenticator = PasswordAuthenticator{Username: username, Password: password}
	}
}

// WithAuthenticator sets a custom SASL authenticator.
func WithAuthenticator(a Authenticator) Option {
	return func(c *ClusterConfig) {
		c.Authenticator = a
	}
}

// WithTLSConfig enables TLS for every connection.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(c *ClusterConfig) {
		c.TLSConfig = cfg
	}
}

// WithConnectTimeout sets the timeout of a connection attempt including the handshake.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *ClusterConfig) {
		c.ConnectTimeout = d
	}
}

// WithRequestTimeout sets the default overall request deadline.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *ClusterConfig) {
		c.RequestTimeout = d
	}
}

// WithAttemptTimeout sets the per-attempt timeout.
//
// An idempotent request whose attempt times out moves on through the retry
// policy. A non-idempotent request fails with ErrRequestTimeout instead, since
// its first frame may already have been applied.
//
// Parameters:
//   - d: The attempt timeout; 0 disables it
//
// Returns:
//   - Option: Configuration option
func WithAttemptTimeout(d time.Duration) Option {
	return func(c *ClusterConfig) {
		c.AttemptTimeout = d
	}
}

// WithConnectionsPerHost sets the core and maximum pool size.
//
// Parameters:
//   - core: Connections opened eagerly; 0 opens none
//   - maxConns: Upper bound reached under load
//
// Returns:
//   - Option: Configuration option
func WithConnectionsPerHost(core, maxConns int) Option {
	return func(c *ClusterConfig) {
		c.CoreConnectionsPerHost = core
		c.MaxConnectionsPerHost = maxConns
	}
}

// WithMaxConcurrentRequestsThreshold sets the in-flight count of the
// least-busy connection above which the pool grows.
func WithMaxConcurrentRequestsThreshold(n int) Option {
	return func(c *ClusterConfig) {
		c.MaxConcurrentRequestsThreshold = n
	}
}

// WithPendingRequestsWaterMarks sets the per-connection pending request marks.
//
// A connection stops accepting requests when its pending count reaches high
// and accepts again once it drops to low.
//
// Parameters:
//   - high: High water mark
//   - low: Low water mark
//
// Returns:
//   - Option: Configuration option
func WithPendingRequestsWaterMarks(high, low int) Option {
	return func(c *ClusterConfig) {
		c.PendingRequestsHighWaterMark = high
		c.PendingRequestsLowWaterMark = low
	}
}

// WithMaxOrphanedStreams sets how many timed-out streams a connection may
// hold before it is recycled.
func WithMaxOrphanedStreams(n int) Option {
	return func(c *ClusterConfig) {
		c.MaxOrphanedStreams = n
	}
}

// WithHeartbeatInterval sets the write-idle interval after which a heartbeat
// is sent. 0 disables heartbeats.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(c *ClusterConfig) {
		c.HeartbeatInterval = d
	}
}

// WithIdleTimeout sets the read-idle time after which a connection is closed.
// 0 disables it.
func WithIdleTimeout(d time.Duration) Option {
	return func(c *ClusterConfig) {
		c.IdleTimeout = d
	}
}

// WithConsistency sets the default consistency level.
func WithConsistency(cl types.Consistency) Option {
	return func(c *ClusterConfig) {
		c.Consistency = cl
	}
}

// WithSerialConsistency sets the default serial consistency level.
//
// Parameters:
//   - cl: Serial or LocalSerial; anything else fails validation
//
// Returns:
//   - Option: Configuration option
func WithSerialConsistency(cl types.Consistency) Option {
	return func(c *ClusterConfig) {
		c.SerialConsistency = cl
	}
}

// WithKeyspace sets the initial keyspace of every connection.
func WithKeyspace(keyspace string) Option {
	return func(c *ClusterConfig) {
		c.Keyspace = keyspace
	}
}

// WithPreparedCacheSize bounds the number of cached prepared statements.
func WithPreparedCacheSize(n int) Option {
	return func(c *ClusterConfig) {
		c.PreparedCacheSize = n
	}
}

// WithPrepareOnAllHosts controls whether a successful prepare is repeated on
// every other host with an open pool.
func WithPrepareOnAllHosts(enabled bool) Option {
	return func(c *ClusterConfig) {
		c.PrepareOnAllHosts = enabled
	}
}

// WithExecutionProfile registers a named execution profile.
//
// Parameters:
//   - name: The name statements select the profile by
//   - profile: The profile settings
//
// Returns:
//   - Option: Configuration option
func WithExecutionProfile(name string, profile *ExecutionProfile) Option {
	return func(c *ClusterConfig) {
		if c.ExecutionProfiles == nil {
			c.ExecutionProfiles = make(map[string]*ExecutionProfile)
		}
		c.ExecutionProfiles[name] = profile
	}
}

// WithHostDrainWatcher sets the source of operator drain overrides.
//
// Drained hosts are skipped by every load balancing policy until restored.
//
// Parameters:
//   - watcher: The drain watcher (e.g., topology.NewLocal() or topology.NewNATS(kv))
//
// Returns:
//   - Option: Configuration option
func WithHostDrainWatcher(watcher topology.DrainWatcher) Option {
	return func(c *ClusterConfig) {
		c.DrainWatcher = watcher
	}
}

// WithSchemaChangeHandler sets a callback for schema change events.
func WithSchemaChangeHandler(fn SchemaChangeHandler) Option {
	return func(c *ClusterConfig) {
		c.SchemaChangeHandler = fn
	}
}

// WithTimestampProvider sets the client side timestamp generator.
//
// Timestamps are sent with protocol v3 and later.
//
// Parameters:
//   - fn: Function that returns current timestamp in microseconds
//
// Returns:
//   - Option: Configuration option
func WithTimestampProvider(fn TimestampProvider) Option {
	return func(c *ClusterConfig) {
		c.TimestampProvider = fn
	}
}

// WithMetrics sets the metrics collector.
//
// If not set, a no-op collector is used that discards all metrics.
// Use contrib/metrics/vm.New() or contrib/metrics/prom.New() for export.
// Session.Metrics() works regardless of the collector.
//
// Parameters:
//   - collector: The metrics collector implementation
//
// Returns:
//   - Option: Configuration option
func WithMetrics(collector types.MetricsCollector) Option {
	return func(c *ClusterConfig) {
		c.Metrics = collector
	}
}

// WithLogger sets the structured logger.
//
// If not set, a no-op logger is used that discards all log messages.
//
// Parameters:
//   - logger: Logger implementation compatible with types.Logger interface
//
// Returns:
//   - Option: Configuration option
func WithLogger(logger types.Logger) Option {
	return func(c *ClusterConfig) {
		c.Logger = logger
	}
}
