package policy

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/cqlcore/internal/logging"
	"github.com/arloliu/cqlcore/topology"
	"github.com/arloliu/cqlcore/types"
)

// LatencyAware moves slow hosts to the end of the wrapped policy's plans.
//
// Each host keeps an exponentially weighted average of its response
// latency where older samples decay with the time elapsed since the last
// update. A host is slow when its average exceeds exclusionThreshold times
// the best average among hosts, it has at least minMeasured samples, and its
// last sample is younger than retryPeriod. Hosts whose circuit breaker is
// open after consecutive failures are treated as slow too.
//
// The engine feeds samples automatically through LatencyRecorder and
// FailureRecorder.
//
// Example:
//
//	lb := policy.NewLatencyAware(policy.NewDCAwareRoundRobin("dc1"),
//	    policy.WithExclusionThreshold(2.0),
//	    policy.WithMinMeasured(50),
//	)
type LatencyAware struct {
	child              LoadBalancingPolicy
	exclusionThreshold float64
	scale              time.Duration
	retryPeriod        time.Duration
	updateRate         time.Duration
	minMeasured        int64
	breaker            *CircuitBreaker
	logger             types.Logger

	stats      sync.Map // endpoint -> *hostLatency
	minAverage atomic.Int64
	lastUpdate atomic.Int64 // Unix nano of the last min average computation
}

var (
	_ LoadBalancingPolicy = (*LatencyAware)(nil)
	_ ChildPolicy         = (*LatencyAware)(nil)
	_ LatencyRecorder     = (*LatencyAware)(nil)
	_ FailureRecorder     = (*LatencyAware)(nil)
)

// LatencyAwareOption configures a LatencyAware policy.
type LatencyAwareOption func(*LatencyAware)

// WithExclusionThreshold sets how much slower than the best host a host may
// be before it is moved to the end of plans.
//
// Default: 2.0
//
// Parameters:
//   - f: Ratio to the best average latency
//
// Returns:
//   - LatencyAwareOption: Configuration option
func WithExclusionThreshold(f float64) LatencyAwareOption {
	return func(l *LatencyAware) {
		if f >= 1 {
			l.exclusionThreshold = f
		}
	}
}

// WithLatencyScale sets the decay scale of the weighted average.
//
// Default: 100ms
//
// Parameters:
//   - d: Decay scale
//
// Returns:
//   - LatencyAwareOption: Configuration option
func WithLatencyScale(d time.Duration) LatencyAwareOption {
	return func(l *LatencyAware) {
		if d > 0 {
			l.scale = d
		}
	}
}

// WithRetryPeriod sets how long a slow host stays penalized without new
// samples.
//
// Default: 10s
//
// Parameters:
//   - d: Retry period
//
// Returns:
//   - LatencyAwareOption: Configuration option
func WithRetryPeriod(d time.Duration) LatencyAwareOption {
	return func(l *LatencyAware) {
		l.retryPeriod = d
	}
}

// WithUpdateRate sets how often the best average is recomputed.
//
// Default: 100ms
//
// Parameters:
//   - d: Update rate
//
// Returns:
//   - LatencyAwareOption: Configuration option
func WithUpdateRate(d time.Duration) LatencyAwareOption {
	return func(l *LatencyAware) {
		l.updateRate = d
	}
}

// WithMinMeasured sets the number of samples required before a host can be
// penalized.
//
// Default: 50
//
// Parameters:
//   - n: Minimum number of samples
//
// Returns:
//   - LatencyAwareOption: Configuration option
func WithMinMeasured(n int64) LatencyAwareOption {
	return func(l *LatencyAware) {
		l.minMeasured = n
	}
}

// WithHostCircuitBreaker replaces the default per host circuit breaker.
//
// Parameters:
//   - cb: The circuit breaker
//
// Returns:
//   - LatencyAwareOption: Configuration option
func WithHostCircuitBreaker(cb *CircuitBreaker) LatencyAwareOption {
	return func(l *LatencyAware) {
		l.breaker = cb
	}
}

// WithLatencyLogger sets the logger.
//
// Parameters:
//   - logger: The logger
//
// Returns:
//   - LatencyAwareOption: Configuration option
func WithLatencyLogger(logger types.Logger) LatencyAwareOption {
	return func(l *LatencyAware) {
		l.logger = logger
	}
}

// NewLatencyAware wraps child with latency based host ordering.
//
// Parameters:
//   - child: The wrapped policy
//   - opts: Optional configuration options
//
// Returns:
//   - *LatencyAware: A new latency aware policy
func NewLatencyAware(child LoadBalancingPolicy, opts ...LatencyAwareOption) *LatencyAware {
	l := &LatencyAware{
		child:              child,
		exclusionThreshold: 2.0,
		scale:              100 * time.Millisecond,
		retryPeriod:        10 * time.Second,
		updateRate:         100 * time.Millisecond,
		minMeasured:        50,
	}

	for _, opt := range opts {
		opt(l)
	}

	l.logger = logging.OrNop(l.logger)
	if l.breaker == nil {
		l.breaker = NewCircuitBreaker(WithCircuitBreakerLogger(l.logger))
	}
	l.minAverage.Store(-1)

	return l
}

// Child returns the wrapped policy.
func (l *LatencyAware) Child() LoadBalancingPolicy {
	return l.child
}

// Init initializes the wrapped policy.
func (l *LatencyAware) Init(reg *topology.Registry) {
	l.child.Init(reg)
}

// Distance delegates to the wrapped policy.
func (l *LatencyAware) Distance(h *topology.Host) types.Distance {
	return l.child.Distance(h)
}

// RecordLatency adds a latency sample for host and closes its breaker.
//
// Parameters:
//   - host: The host that answered
//   - latency: The attempt latency
func (l *LatencyAware) RecordLatency(host *topology.Host, latency time.Duration) {
	l.breaker.RecordSuccess(host.Endpoint())
	l.hostStats(host.Endpoint()).add(latency, time.Now(), l.scale)
}

// RecordFailure counts a failure against host.
//
// Parameters:
//   - host: The host that failed
func (l *LatencyAware) RecordFailure(host *topology.Host) {
	l.breaker.RecordFailure(host.Endpoint())
}

// Average returns the current weighted average latency of host and the
// number of samples, or -1 when nothing was measured.
func (l *LatencyAware) Average(host *topology.Host) (time.Duration, int64) {
	v, ok := l.stats.Load(host.Endpoint())
	if !ok {
		return -1, 0
	}
	s := v.(*hostLatency)

	s.mu.Lock()
	defer s.mu.Unlock()

	return time.Duration(s.average), s.numMeasured
}

func (l *LatencyAware) hostStats(endpoint string) *hostLatency {
	if v, ok := l.stats.Load(endpoint); ok {
		return v.(*hostLatency)
	}
	v, _ := l.stats.LoadOrStore(endpoint, &hostLatency{average: -1})

	return v.(*hostLatency)
}

// refreshMinAverage recomputes the best average at most once per updateRate.
func (l *LatencyAware) refreshMinAverage(now time.Time) {
	last := l.lastUpdate.Load()
	if last != 0 && now.UnixNano()-last < int64(l.updateRate) {
		return
	}
	if !l.lastUpdate.CompareAndSwap(last, now.UnixNano()) {
		return
	}

	best := int64(-1)
	l.stats.Range(func(_, v any) bool {
		s := v.(*hostLatency)
		s.mu.Lock()
		avg, n := s.average, s.numMeasured
		s.mu.Unlock()
		if n >= l.minMeasured && avg >= 0 && (best < 0 || avg < best) {
			best = avg
		}

		return true
	})
	l.minAverage.Store(best)
}

// isSlow reports whether h should be moved to the end of plans.
func (l *LatencyAware) isSlow(h *topology.Host, now time.Time) bool {
	if l.breaker.IsOpen(h.Endpoint()) {
		return true
	}

	best := l.minAverage.Load()
	if best < 0 {
		return false
	}

	v, ok := l.stats.Load(h.Endpoint())
	if !ok {
		return false
	}
	s := v.(*hostLatency)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.numMeasured < l.minMeasured {
		return false
	}
	if now.Sub(s.updated) > l.retryPeriod {
		return false
	}

	return float64(s.average) > l.exclusionThreshold*float64(best)
}

// NewQueryPlan returns the wrapped plan with slow hosts moved to the end.
//
// Parameters:
//   - keyspace: The request keyspace
//   - info: Routing information
//
// Returns:
//   - QueryPlan: A new query plan
func (l *LatencyAware) NewQueryPlan(keyspace string, info RoutingInfo) QueryPlan {
	now := time.Now()
	l.refreshMinAverage(now)

	return &latencyAwarePlan{
		policy: l,
		child:  l.child.NewQueryPlan(keyspace, info),
		now:    now,
	}
}

// OnAdd forwards the event.
func (l *LatencyAware) OnAdd(h *topology.Host) { l.child.OnAdd(h) }

// OnRemove forgets the host statistics and forwards the event.
func (l *LatencyAware) OnRemove(h *topology.Host) {
	l.stats.Delete(h.Endpoint())
	l.breaker.Forget(h.Endpoint())
	l.child.OnRemove(h)
}

// OnUp forwards the event.
func (l *LatencyAware) OnUp(h *topology.Host) { l.child.OnUp(h) }

// OnDown forwards the event.
func (l *LatencyAware) OnDown(h *topology.Host) { l.child.OnDown(h) }

type hostLatency struct {
	mu          sync.Mutex
	average     int64 // nanoseconds, -1 until the first sample
	numMeasured int64
	updated     time.Time
}

// add folds a sample into the average, weighting the previous average by
// log(x+1)/x where x is the elapsed time in units of scale.
func (s *hostLatency) add(latency time.Duration, now time.Time, scale time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.numMeasured++
	if s.average < 0 {
		s.average = int64(latency)
		s.updated = now
		return
	}

	delay := now.Sub(s.updated)
	if delay <= 0 {
		return
	}

	scaled := float64(delay) / float64(scale)
	weight := math.Log(scaled+1) / scaled
	s.average = int64((1-weight)*float64(latency) + weight*float64(s.average))
	s.updated = now
}

type latencyAwarePlan struct {
	policy *LatencyAware
	child  QueryPlan
	now    time.Time

	mu      sync.Mutex
	skipped []*topology.Host
	drained bool
}

func (pl *latencyAwarePlan) Next() *topology.Host {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	if !pl.drained {
		for {
			h := pl.child.Next()
			if h == nil {
				pl.drained = true
				break
			}
			if !pl.policy.isSlow(h, pl.now) {
				return h
			}
			pl.skipped = append(pl.skipped, h)
		}
	}

	for len(pl.skipped) > 0 {
		h := pl.skipped[0]
		pl.skipped = pl.skipped[1:]
		if live(h) {
			return h
		}
	}

	return nil
}
