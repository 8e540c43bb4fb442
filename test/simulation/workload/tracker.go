package workload

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/arloliu/cqlcore/types"
)

// Tracker counts request outcomes of the simulated workload.
type Tracker struct {
	succeeded atomic.Int64
	failed    atomic.Int64

	mu       sync.Mutex
	failures map[string]int64 // error class -> count
}

// NewTracker creates a new tracker.
func NewTracker() *Tracker {
	return &Tracker{
		failures: make(map[string]int64),
	}
}

// Record records the outcome of one request.
func (t *Tracker) Record(err error) {
	if err == nil {
		t.succeeded.Add(1)
		return
	}

	t.failed.Add(1)

	t.mu.Lock()
	t.failures[classify(err)]++
	t.mu.Unlock()
}

// Count returns the number of successful requests.
func (t *Tracker) Count() int64 {
	return t.succeeded.Load()
}

// Failed returns the number of failed requests.
func (t *Tracker) Failed() int64 {
	return t.failed.Load()
}

// SuccessRatio returns the share of successful requests, 1 when nothing ran.
func (t *Tracker) SuccessRatio() float64 {
	ok, failed := t.succeeded.Load(), t.failed.Load()
	if ok+failed == 0 {
		return 1
	}

	return float64(ok) / float64(ok+failed)
}

// Failures returns "class=count" pairs sorted by class.
func (t *Tracker) Failures() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	parts := make([]string, 0, len(t.failures))
	for class, n := range t.failures {
		parts = append(parts, fmt.Sprintf("%s=%d", class, n))
	}
	sort.Strings(parts)

	return strings.Join(parts, " ")
}

// Verify checks the success ratio against minRatio.
func (t *Tracker) Verify(minRatio float64) error {
	if t.Count() == 0 {
		return errors.New("no successful requests tracked")
	}
	if ratio := t.SuccessRatio(); ratio < minRatio {
		return fmt.Errorf("success ratio %.4f below %.4f (failures: %s)", ratio, minRatio, t.Failures())
	}

	return nil
}

func classify(err error) string {
	var (
		serverErr  *types.ServerError
		timeoutErr *types.RequestTimeoutError
		connErr    *types.ConnectionError
	)

	switch {
	case errors.Is(err, types.ErrNoHostsAvailable):
		return "no_hosts"
	case errors.As(err, &serverErr):
		return serverErr.Kind.String()
	case errors.As(err, &timeoutErr):
		return "timeout"
	case errors.As(err, &connErr):
		return "connection"
	default:
		return "other"
	}
}
