package topology

import (
	"context"
	"time"
)

// DrainUpdate is emitted when an operator override drains or restores a host.
type DrainUpdate struct {
	// Endpoint is the host:port of the affected host.
	Endpoint string

	// Draining is true when the host must stop receiving traffic.
	Draining bool

	// Reason is the operator supplied reason, if any.
	Reason string
}

// DrainWatcher observes operator drain overrides.
//
// A drained host is given IGNORE distance by the session regardless of the
// load balancing policy, and its pool is closed. Restoring the host gives it
// back the policy distance.
type DrainWatcher interface {
	// Watch returns a channel of drain changes. The channel is closed when
	// the watcher is closed or ctx is cancelled.
	Watch(ctx context.Context) <-chan DrainUpdate

	// IsDraining reports the current override for endpoint.
	IsDraining(endpoint string) bool

	// Close stops the watcher.
	Close() error
}

// DrainConfig represents the drain override document stored in NATS KV.
//
// This is the JSON structure that operations teams PUT to the KV store
// to take nodes out of rotation.
type DrainConfig struct {
	// Drain lists the host:port endpoints currently being drained.
	Drain []string `json:"drain"`

	// Reason is a human-readable explanation for the drain.
	// Example: "OS Patching", "Disk replacement"
	Reason string `json:"reason,omitempty"`
}

// Contains returns true if endpoint is in the drain list.
//
// Parameters:
//   - endpoint: The host:port endpoint to check
//
// Returns:
//   - bool: true if the host is being drained
func (d *DrainConfig) Contains(endpoint string) bool {
	for _, e := range d.Drain {
		if e == endpoint {
			return true
		}
	}

	return false
}

// WatcherConfig holds configuration for drain watchers.
type WatcherConfig struct {
	// Key is the NATS KV key to watch for drain configuration.
	// Default: "cqlcore.topology.drain"
	Key string

	// PollInterval is the fallback polling interval if watch fails.
	// Default: 5 seconds
	PollInterval time.Duration

	// InitialFetchTimeout is the timeout for the initial KV fetch.
	// Default: 10 seconds
	InitialFetchTimeout time.Duration
}

// DefaultWatcherConfig returns a WatcherConfig with sensible defaults.
//
// Returns:
//   - WatcherConfig: Default configuration
func DefaultWatcherConfig() WatcherConfig {
	return WatcherConfig{
		Key:                 "cqlcore.topology.drain",
		PollInterval:        5 * time.Second,
		InitialFetchTimeout: 10 * time.Second,
	}
}

// WatcherOption configures a drain watcher.
type WatcherOption func(*WatcherConfig)

// WithKey sets the NATS KV key to watch.
//
// Parameters:
//   - key: The key name (e.g., "storage.cassandra.drain")
//
// Returns:
//   - WatcherOption: Configuration option
func WithKey(key string) WatcherOption {
	return func(c *WatcherConfig) {
		c.Key = key
	}
}

// WithPollInterval sets the fallback polling interval.
//
// If the NATS watch fails or disconnects, the watcher falls back to
// polling at this interval.
//
// Parameters:
//   - d: Polling interval duration
//
// Returns:
//   - WatcherOption: Configuration option
func WithPollInterval(d time.Duration) WatcherOption {
	return func(c *WatcherConfig) {
		c.PollInterval = d
	}
}

// WithInitialFetchTimeout sets the timeout for the initial KV fetch.
//
// Parameters:
//   - d: Timeout duration
//
// Returns:
//   - WatcherOption: Configuration option
func WithInitialFetchTimeout(d time.Duration) WatcherOption {
	return func(c *WatcherConfig) {
		c.InitialFetchTimeout = d
	}
}
