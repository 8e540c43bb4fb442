package topology

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// NATS monitors a NATS KV bucket for host drain overrides.
//
// It watches a configurable key holding a DrainConfig document and emits a
// DrainUpdate for every endpoint whose drain status changes. This lets
// operations teams take nodes out of rotation for all clients at once.
//
// Watch() should be called once per instance. Subsequent calls return the
// same channel. The channel is closed when Close() is called or the context
// is cancelled.
type NATS struct {
	kv     jetstream.KeyValue
	config WatcherConfig

	// Current drain state, endpoint -> reason
	drained map[string]string
	mu      sync.RWMutex

	// Lifecycle
	updates      chan DrainUpdate
	done         chan struct{}
	closed       bool
	watchStarted bool
	closeOnce    sync.Once
}

var _ DrainWatcher = (*NATS)(nil)

// NewNATS creates a new NATS KV drain watcher.
//
// Parameters:
//   - kv: A NATS JetStream KeyValue store
//   - opts: Optional configuration options
//
// Returns:
//   - *NATS: A new watcher instance
//   - error: Error if kv is nil
//
// Example:
//
//	nc, _ := nats.Connect("nats://localhost:4222")
//	js, _ := jetstream.New(nc)
//	kv, _ := js.KeyValue(ctx, "cassandra-ops")
//
//	watcher, _ := topology.NewNATS(kv,
//	    topology.WithKey("cassandra.drain"),
//	    topology.WithPollInterval(10*time.Second),
//	)
func NewNATS(kv jetstream.KeyValue, opts ...WatcherOption) (*NATS, error) {
	if kv == nil {
		return nil, errors.New("cqlcore/topology: KeyValue store is nil")
	}

	config := DefaultWatcherConfig()
	for _, opt := range opts {
		opt(&config)
	}

	return &NATS{
		kv:      kv,
		config:  config,
		drained: make(map[string]string),
		updates: make(chan DrainUpdate, 64),
		done:    make(chan struct{}),
	}, nil
}

// Watch returns a channel that receives drain updates.
//
// The watcher spawns a background goroutine that monitors the NATS KV key.
//
// Parameters:
//   - ctx: Context for cancellation (only used on first call)
//
// Returns:
//   - <-chan DrainUpdate: Channel of drain changes
func (n *NATS) Watch(ctx context.Context) <-chan DrainUpdate {
	n.mu.Lock()
	if n.watchStarted {
		n.mu.Unlock()

		return n.updates
	}
	n.watchStarted = true
	n.mu.Unlock()

	go n.watchLoop(ctx)

	return n.updates
}

// Close stops the watcher and releases resources.
//
// This method is safe to call multiple times.
func (n *NATS) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil
	}

	n.closed = true
	close(n.done)

	return nil
}

// IsDraining reports whether endpoint is drained by the last processed entry.
func (n *NATS) IsDraining(endpoint string) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()

	_, ok := n.drained[endpoint]

	return ok
}

// Config returns the watcher configuration.
//
// Returns:
//   - WatcherConfig: The current watcher configuration
func (n *NATS) Config() WatcherConfig {
	return n.config
}

// watchLoop is the main watch loop that monitors the NATS KV key.
func (n *NATS) watchLoop(ctx context.Context) {
	defer n.closeOnce.Do(func() { close(n.updates) })

	// Initial fetch
	n.fetchAndEmit(ctx)

	watcher, err := n.kv.Watch(ctx, n.config.Key)
	if err != nil {
		n.pollLoop(ctx)
		return
	}
	defer func() { _ = watcher.Stop() }()

	for {
		select {
		case <-ctx.Done():
			return
		case <-n.done:
			return
		case entry, ok := <-watcher.Updates():
			if !ok {
				n.pollLoop(ctx)
				return
			}
			if entry == nil {
				// end of initial values marker
				continue
			}
			n.processEntry(entry)
		}
	}
}

// pollLoop is a fallback polling loop when watch fails.
func (n *NATS) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(n.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-n.done:
			return
		case <-ticker.C:
			n.fetchAndEmit(ctx)
		}
	}
}

// fetchAndEmit fetches the current KV value and emits updates if changed.
func (n *NATS) fetchAndEmit(ctx context.Context) {
	fetchCtx, cancel := context.WithTimeout(ctx, n.config.InitialFetchTimeout)
	defer cancel()

	entry, err := n.kv.Get(fetchCtx, n.config.Key)
	if err != nil {
		// missing key or fetch error: nothing drained
		n.apply(DrainConfig{})
		return
	}

	n.processEntry(entry)
}

// processEntry parses a KV entry and applies it.
func (n *NATS) processEntry(entry jetstream.KeyValueEntry) {
	if entry.Operation() == jetstream.KeyValueDelete || entry.Operation() == jetstream.KeyValuePurge {
		n.apply(DrainConfig{})
		return
	}

	var config DrainConfig
	if err := json.Unmarshal(entry.Value(), &config); err != nil {
		// invalid JSON is treated as no drain
		n.apply(DrainConfig{})
		return
	}

	n.apply(config)
}

// apply diffs config against the current state and emits a DrainUpdate per change.
func (n *NATS) apply(config DrainConfig) {
	n.mu.Lock()
	defer n.mu.Unlock()

	next := make(map[string]string, len(config.Drain))
	for _, endpoint := range config.Drain {
		next[endpoint] = config.Reason
	}

	var changes []DrainUpdate
	for endpoint := range n.drained {
		if _, still := next[endpoint]; !still {
			changes = append(changes, DrainUpdate{Endpoint: endpoint, Draining: false})
		}
	}
	for endpoint, reason := range next {
		if _, was := n.drained[endpoint]; !was {
			changes = append(changes, DrainUpdate{Endpoint: endpoint, Draining: true, Reason: reason})
		}
	}
	n.drained = next

	for _, u := range changes {
		select {
		case n.updates <- u:
		default:
			// Channel full, skip update (IsDraining stays authoritative)
		}
	}
}
