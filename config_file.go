package cqlcore

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/arloliu/cqlcore/policy"
	"github.com/arloliu/cqlcore/types"
)

// FileConfig is the YAML representation of a ClusterConfig.
//
// Zero values keep the defaults of DefaultConfig.
//
// Example:
//
//	contact_points: ["10.0.0.1", "10.0.0.2:9142"]
//	keyspace: app
//	consistency: local_quorum
//	compression: lz4
//	request_timeout: 5s
//	load_balancing:
//	  policy: dc_aware
//	  local_dc: dc1
//	  token_aware: true
//	speculative:
//	  delay: 50ms
//	  max_executions: 2
type FileConfig struct {
	ContactPoints     []string      `yaml:"contact_points"`
	Port              int           `yaml:"port"`
	ProtocolVersion   int           `yaml:"protocol_version"`
	Keyspace          string        `yaml:"keyspace"`
	Consistency       string        `yaml:"consistency"`
	SerialConsistency string        `yaml:"serial_consistency"`
	Compression       string        `yaml:"compression"`
	Username          string        `yaml:"username"`
	Password          string        `yaml:"password"`
	ConnectTimeout    time.Duration `yaml:"connect_timeout"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	AttemptTimeout    time.Duration `yaml:"attempt_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`

	Pool          PoolFileConfig          `yaml:"pool"`
	LoadBalancing LoadBalancingFileConfig `yaml:"load_balancing"`
	Retry         RetryFileConfig         `yaml:"retry"`
	Speculative   SpeculativeFileConfig   `yaml:"speculative"`
	Reconnection  ReconnectionFileConfig  `yaml:"reconnection"`

	PreparedCacheSize int   `yaml:"prepared_cache_size"`
	PrepareOnAllHosts *bool `yaml:"prepare_on_all_hosts"`
}

// PoolFileConfig configures connection pools.
type PoolFileConfig struct {
	CoreConnections                int `yaml:"core_connections"`
	MaxConnections                 int `yaml:"max_connections"`
	MaxConcurrentRequestsThreshold int `yaml:"max_concurrent_requests_threshold"`
	HighWaterMark                  int `yaml:"high_water_mark"`
	LowWaterMark                   int `yaml:"low_water_mark"`
}

// LoadBalancingFileConfig configures the load balancing policy chain.
type LoadBalancingFileConfig struct {
	Policy                  string   `yaml:"policy"` // round_robin | dc_aware | rack_aware
	LocalDC                 string   `yaml:"local_dc"`
	LocalRack               string   `yaml:"local_rack"`
	UsedHostsPerRemoteDC    int      `yaml:"used_hosts_per_remote_dc"`
	SkipRemoteDCsForLocalCL *bool    `yaml:"skip_remote_dcs_for_local_cl"`
	TokenAware              bool     `yaml:"token_aware"`
	LatencyAware            bool     `yaml:"latency_aware"`
	AllowHosts              []string `yaml:"allow_hosts"`
	DenyHosts               []string `yaml:"deny_hosts"`
}

// RetryFileConfig configures the retry policy.
type RetryFileConfig struct {
	Policy        string `yaml:"policy"` // default | downgrading | fallthrough
	MaxDowngrades int    `yaml:"max_downgrades"`
	LogDecisions  bool   `yaml:"log_decisions"`
}

// SpeculativeFileConfig configures constant speculative execution.
type SpeculativeFileConfig struct {
	Delay         time.Duration `yaml:"delay"`
	MaxExecutions int           `yaml:"max_executions"`
}

// ReconnectionFileConfig configures the reconnection policy.
type ReconnectionFileConfig struct {
	Policy    string        `yaml:"policy"` // exponential | constant
	BaseDelay time.Duration `yaml:"base_delay"`
	MaxDelay  time.Duration `yaml:"max_delay"`
}

// LoadConfigFile reads a YAML configuration file.
//
// Parameters:
//   - path: Path of the YAML file
//
// Returns:
//   - []Option: Options to pass to Connect
//   - error: Read, parse or *types.ConfigError
func LoadConfigFile(path string) ([]Option, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return ParseConfig(data)
}

// ParseConfig parses a YAML configuration document.
//
// Parameters:
//   - data: The YAML document
//
// Returns:
//   - []Option: Options to pass to Connect
//   - error: Parse error or *types.ConfigError
func ParseConfig(data []byte) ([]Option, error) {
	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return fc.Options()
}

// Options converts the file configuration to functional options.
//
// Returns:
//   - []Option: Options for the set fields
//   - error: *types.ConfigError for unknown names
func (fc *FileConfig) Options() ([]Option, error) {
	var opts []Option

	if len(fc.ContactPoints) > 0 {
		opts = append(opts, WithContactPoints(fc.ContactPoints...))
	}
	if fc.Port != 0 {
		opts = append(opts, WithPort(fc.Port))
	}
	if fc.ProtocolVersion != 0 {
		opts = append(opts, WithProtocolVersion(fc.ProtocolVersion))
	}
	if fc.Keyspace != "" {
		opts = append(opts, WithKeyspace(fc.Keyspace))
	}
	if fc.Consistency != "" {
		cl, ok := types.ParseConsistency(fc.Consistency)
		if !ok {
			return nil, &types.ConfigError{Field: "consistency", Reason: "unknown level " + fc.Consistency}
		}
		opts = append(opts, WithConsistency(cl))
	}
	if fc.SerialConsistency != "" {
		cl, ok := types.ParseConsistency(fc.SerialConsistency)
		if !ok || !cl.IsSerial() {
			return nil, &types.ConfigError{Field: "serial_consistency", Reason: "must be SERIAL or LOCAL_SERIAL"}
		}
		opts = append(opts, WithSerialConsistency(cl))
	}
	if fc.Compression != "" {
		opts = append(opts, WithCompression(strings.ToLower(fc.Compression)))
	}
	if fc.Username != "" {
		opts = append(opts, WithCredentials(fc.Username, fc.Password))
	}
	if fc.ConnectTimeout != 0 {
		opts = append(opts, WithConnectTimeout(fc.ConnectTimeout))
	}
	if fc.RequestTimeout != 0 {
		opts = append(opts, WithRequestTimeout(fc.RequestTimeout))
	}
	if fc.AttemptTimeout != 0 {
		opts = append(opts, WithAttemptTimeout(fc.AttemptTimeout))
	}
	if fc.HeartbeatInterval != 0 {
		opts = append(opts, WithHeartbeatInterval(fc.HeartbeatInterval))
	}
	if fc.IdleTimeout != 0 {
		opts = append(opts, WithIdleTimeout(fc.IdleTimeout))
	}
	if fc.PreparedCacheSize != 0 {
		opts = append(opts, WithPreparedCacheSize(fc.PreparedCacheSize))
	}
	if fc.PrepareOnAllHosts != nil {
		opts = append(opts, WithPrepareOnAllHosts(*fc.PrepareOnAllHosts))
	}

	opts = append(opts, fc.Pool.options()...)

	lb, err := fc.LoadBalancing.policy()
	if err != nil {
		return nil, err
	}
	if lb != nil {
		opts = append(opts, WithLoadBalancingPolicy(lb))
	}

	retry, err := fc.Retry.policy()
	if err != nil {
		return nil, err
	}
	if retry != nil {
		opts = append(opts, WithRetryPolicy(retry))
	}
	if fc.Retry.LogDecisions {
		opts = append(opts, WithRetryDecisionLogging(true))
	}

	if fc.Speculative.MaxExecutions > 0 {
		opts = append(opts, WithSpeculativeExecutionPolicy(
			policy.NewConstantSpeculativeExecution(fc.Speculative.Delay, fc.Speculative.MaxExecutions)))
	}

	reconnect, err := fc.Reconnection.policy()
	if err != nil {
		return nil, err
	}
	if reconnect != nil {
		opts = append(opts, WithReconnectionPolicy(reconnect))
	}

	return opts, nil
}

func (pc PoolFileConfig) options() []Option {
	var opts []Option

	if pc.CoreConnections != 0 || pc.MaxConnections != 0 {
		core, maxConns := pc.CoreConnections, pc.MaxConnections
		if maxConns == 0 {
			maxConns = max(core, DefaultMaxConnectionsPerHost)
		}
		opts = append(opts, WithConnectionsPerHost(core, maxConns))
	}
	if pc.MaxConcurrentRequestsThreshold != 0 {
		opts = append(opts, WithMaxConcurrentRequestsThreshold(pc.MaxConcurrentRequestsThreshold))
	}
	if pc.HighWaterMark != 0 || pc.LowWaterMark != 0 {
		high, low := pc.HighWaterMark, pc.LowWaterMark
		if high == 0 {
			high = DefaultHighWaterMark
		}
		opts = append(opts, WithPendingRequestsWaterMarks(high, low))
	}

	return opts
}

func (lc LoadBalancingFileConfig) policy() (policy.LoadBalancingPolicy, error) {
	var lb policy.LoadBalancingPolicy

	switch lc.Policy {
	case "":
		if !lc.TokenAware && !lc.LatencyAware && len(lc.AllowHosts) == 0 && len(lc.DenyHosts) == 0 {
			return nil, nil
		}
		lb = policy.NewDCAwareRoundRobin(lc.LocalDC)
	case "round_robin":
		lb = policy.NewRoundRobin()
	case "dc_aware", "rack_aware":
		opts := []policy.DCAwareOption{policy.WithUsedHostsPerRemoteDC(lc.UsedHostsPerRemoteDC)}
		if lc.SkipRemoteDCsForLocalCL != nil {
			opts = append(opts, policy.WithSkipRemoteDCsForLocalCL(*lc.SkipRemoteDCsForLocalCL))
		}
		if lc.Policy == "rack_aware" {
			lb = policy.NewRackAwareRoundRobin(lc.LocalDC, lc.LocalRack, opts...)
		} else {
			lb = policy.NewDCAwareRoundRobin(lc.LocalDC, opts...)
		}
	default:
		return nil, &types.ConfigError{Field: "load_balancing.policy", Reason: "unknown policy " + lc.Policy}
	}

	if len(lc.AllowHosts) > 0 {
		lb = policy.NewHostFilter(lb, policy.AllowHosts(lc.AllowHosts...))
	}
	if len(lc.DenyHosts) > 0 {
		lb = policy.NewHostFilter(lb, policy.DenyHosts(lc.DenyHosts...))
	}
	if lc.LatencyAware {
		lb = policy.NewLatencyAware(lb)
	}
	if lc.TokenAware {
		lb = policy.NewTokenAware(lb)
	}

	return lb, nil
}

func (rc RetryFileConfig) policy() (policy.RetryPolicy, error) {
	var rp policy.RetryPolicy

	switch rc.Policy {
	case "":
		return nil, nil
	case "default":
		rp = policy.NewDefaultRetry()
	case "downgrading":
		var opts []policy.DowngradingOption
		if rc.MaxDowngrades > 0 {
			opts = append(opts, policy.WithMaxDowngrades(rc.MaxDowngrades))
		}
		rp = policy.NewDowngradingConsistencyRetry(opts...)
	case "fallthrough":
		rp = policy.NewFallthroughRetry()
	default:
		return nil, &types.ConfigError{Field: "retry.policy", Reason: "unknown policy " + rc.Policy}
	}

	return rp, nil
}

func (rc ReconnectionFileConfig) policy() (policy.ReconnectionPolicy, error) {
	switch rc.Policy {
	case "":
		if rc.BaseDelay == 0 {
			return nil, nil
		}
		fallthrough
	case "exponential":
		base, maxDelay := rc.BaseDelay, rc.MaxDelay
		if base == 0 {
			base = DefaultReconnectBaseDelay
		}
		if maxDelay == 0 {
			maxDelay = DefaultReconnectMaxDelay
		}

		return policy.NewExponentialReconnection(base, maxDelay), nil
	case "constant":
		if rc.BaseDelay <= 0 {
			return nil, &types.ConfigError{Field: "reconnection.base_delay", Reason: "must be positive"}
		}

		return policy.NewConstantReconnection(rc.BaseDelay), nil
	default:
		return nil, &types.ConfigError{Field: "reconnection.policy", Reason: "unknown policy " + rc.Policy}
	}
}
