package topology

import (
	"context"
	"sync"
)

// Local provides an in-memory drain watcher that is controlled programmatically.
//
// It is intended for tests and for applications that drive drain overrides
// from their own control plane.
type Local struct {
	mu       sync.RWMutex
	drained  map[string]string
	updates  chan DrainUpdate
	done     chan struct{}
	closed   bool
	finished bool
}

var _ DrainWatcher = (*Local)(nil)

// NewLocal creates a new in-memory drain watcher.
//
// Returns:
//   - *Local: A new local watcher
func NewLocal() *Local {
	return &Local{
		drained: make(map[string]string),
		updates: make(chan DrainUpdate, 64),
		done:    make(chan struct{}),
	}
}

// Watch returns a channel that receives drain updates.
//
// Multiple calls to Watch return the same channel; only the first call's
// context controls the watch lifecycle.
//
// Parameters:
//   - ctx: Context for cancellation
//
// Returns:
//   - <-chan DrainUpdate: Channel of drain changes
func (l *Local) Watch(ctx context.Context) <-chan DrainUpdate {
	go l.waitForClose(ctx)
	return l.updates
}

// SetDrain drains or restores a host.
//
// An update is emitted only if the state changes.
//
// Parameters:
//   - ctx: Accepted for symmetry with remote operators, unused
//   - endpoint: The host:port to update
//   - draining: true to drain, false to restore
//   - reason: Human-readable reason (only used when draining=true)
//
// Returns:
//   - error: Always nil for the local implementation
func (l *Local) SetDrain(_ context.Context, endpoint string, draining bool, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed || l.finished {
		return nil
	}

	_, current := l.drained[endpoint]
	if current == draining {
		return nil
	}

	if draining {
		l.drained[endpoint] = reason
	} else {
		delete(l.drained, endpoint)
	}

	// Emit update (non-blocking)
	select {
	case l.updates <- DrainUpdate{Endpoint: endpoint, Draining: draining, Reason: reason}:
	default:
		// Channel full, skip update
	}

	return nil
}

// IsDraining reports whether endpoint is drained.
func (l *Local) IsDraining(endpoint string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	_, ok := l.drained[endpoint]

	return ok
}

// DrainReason returns the reason recorded for a drained endpoint.
func (l *Local) DrainReason(endpoint string) string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.drained[endpoint]
}

// Close stops the watcher and releases resources.
func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}

	l.closed = true
	close(l.done)

	return nil
}

// waitForClose waits for context cancellation or close signal.
func (l *Local) waitForClose(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-l.done:
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.finished {
		l.finished = true
		close(l.updates)
	}
}
