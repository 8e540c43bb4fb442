package cqlcore

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/cqlcore/policy"
	"github.com/arloliu/cqlcore/topology"
	"github.com/arloliu/cqlcore/types"
)

// maxReprepares bounds UNPREPARED round trips per request.
const maxReprepares = 3

// RequestState is the lifecycle state of a logical request.
type RequestState int32

// Request states. Completed and Failed are terminal.
const (
	RequestNotStarted RequestState = iota
	RequestWaitingForConnection
	RequestInFlight
	RequestRetrying
	RequestSpeculativeInFlight
	RequestCompleted
	RequestFailed
)

// String returns the name of the state.
func (s RequestState) String() string {
	switch s {
	case RequestNotStarted:
		return "NOT_STARTED"
	case RequestWaitingForConnection:
		return "WAITING_FOR_CONNECTION"
	case RequestInFlight:
		return "IN_FLIGHT"
	case RequestRetrying:
		return "RETRYING"
	case RequestSpeculativeInFlight:
		return "SPECULATIVE_IN_FLIGHT"
	case RequestCompleted:
		return "COMPLETED"
	case RequestFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal reports whether the state is Completed or Failed.
func (s RequestState) IsTerminal() bool {
	return s == RequestCompleted || s == RequestFailed
}

type attemptOutcome uint8

const (
	outcomeDone attemptOutcome = iota
	outcomeSameHost
	outcomeNextHost
)

// requestExecution drives one logical request to a single resolution.
//
// Every attempt runs on its own goroutine and pulls hosts from the shared
// query plan. The original attempt and the speculative ones race; the first
// response that resolves the future wins and the others are abandoned.
type requestExecution struct {
	s           *Session
	stmt        Statement
	opts        *statementOptions
	idempotent  bool
	retry       policy.RetryPolicy
	lb          policy.LoadBalancingPolicy
	speculative policy.SpeculativeExecutionPolicy
	timeout     time.Duration
	serial      types.Consistency
	timestamp   int64
	plan        policy.QueryPlan
	future      *Future
	start       time.Time

	ctx    context.Context
	cancel context.CancelFunc
	state  atomic.Int32

	mu          sync.Mutex
	consistency types.Consistency
	numRetries  int
	running     int
	launched    int
	errors      map[string]error
	lastHost    string
	specTimer   *time.Timer
	specArmed   bool
	reprepares  int
	done        bool
}

// newRequestExecution resolves the request settings: statement options
// first, then the execution profile, then the session configuration.
func newRequestExecution(ctx context.Context, s *Session, stmt Statement, profile *ExecutionProfile) *requestExecution {
	opts := stmt.options()

	re := &requestExecution{
		s:           s,
		stmt:        stmt,
		opts:        opts,
		idempotent:  opts.idempotent,
		retry:       s.cfg.RetryPolicy,
		lb:          s.lb,
		speculative: s.cfg.SpeculativeExecutionPolicy,
		timeout:     s.cfg.RequestTimeout,
		serial:      s.cfg.SerialConsistency,
		consistency: s.cfg.Consistency,
		timestamp:   opts.timestamp,
		future:      newFuture(),
		errors:      make(map[string]error),
	}
	re.future.exec = re

	if profile != nil {
		re.applyProfile(profile)
	}

	if opts.retryPolicy != nil {
		re.retry = opts.retryPolicy
	}
	if opts.timeout > 0 {
		re.timeout = opts.timeout
	}
	if opts.serial != 0 {
		re.serial = opts.serial
	}
	if opts.hasConsistency {
		re.consistency = opts.consistency
	}
	if re.timestamp == 0 && s.cfg.TimestampProvider != nil {
		re.timestamp = s.cfg.TimestampProvider()
	}

	keyspace := opts.keyspace
	if keyspace == "" {
		keyspace = s.Keyspace()
	}
	re.plan = re.lb.NewQueryPlan(keyspace, policy.RoutingInfo{
		RoutingKey:  stmt.routingKey(),
		Consistency: re.consistency,
	})

	re.ctx, re.cancel = context.WithTimeout(ctx, re.timeout)

	return re
}

func (re *requestExecution) applyProfile(p *ExecutionProfile) {
	if p.hasConsistency {
		re.consistency = p.consistency
	}
	if p.serial != 0 {
		re.serial = p.serial
	}
	if p.requestTimeout > 0 {
		re.timeout = p.requestTimeout
	}
	if p.lb != nil {
		re.lb = p.lb
	}
	if p.retry != nil {
		re.retry = p.retry
	}
	if p.speculative != nil {
		re.speculative = p.speculative
	}
}

// begin launches the first attempt.
func (re *requestExecution) begin() {
	re.start = time.Now()
	re.s.metrics.IncRequestTotal()

	re.mu.Lock()
	re.running = 1
	re.launched = 1
	re.mu.Unlock()

	go re.watchDeadline()
	go re.run(nil)
}

func (re *requestExecution) loadState() RequestState {
	return RequestState(re.state.Load())
}

func (re *requestExecution) setState(s RequestState) {
	for {
		cur := re.state.Load()
		if RequestState(cur).IsTerminal() {
			return
		}
		if re.state.CompareAndSwap(cur, int32(s)) {
			return
		}
	}
}

func (re *requestExecution) isDone() bool {
	re.mu.Lock()
	defer re.mu.Unlock()

	return re.done
}

func (re *requestExecution) watchDeadline() {
	<-re.ctx.Done()
	if re.isDone() {
		return
	}

	err := re.ctx.Err()
	if errors.Is(err, context.DeadlineExceeded) {
		if re.loadState() == RequestWaitingForConnection {
			re.s.metrics.IncPendingRequestTimeout()
		}
		re.s.metrics.IncRequestTimeout()

		re.mu.Lock()
		host := re.lastHost
		re.mu.Unlock()

		err = &types.RequestTimeoutError{Timeout: re.timeout, Host: host, Cause: types.ErrRequestTimeout}
	}

	re.fail(err)
}

// run is one attempt chain. It keeps trying hosts until the request is
// resolved, the plan is exhausted or a decision ends it.
func (re *requestExecution) run(host *topology.Host) {
	defer re.attemptExited()

	for {
		if re.isDone() || re.ctx.Err() != nil {
			return
		}

		if host == nil {
			if host = re.plan.Next(); host == nil {
				return
			}
		}

		switch re.attempt(host) {
		case outcomeDone:
			return
		case outcomeNextHost:
			host = nil
		case outcomeSameHost:
		}
	}
}

func (re *requestExecution) attemptExited() {
	re.mu.Lock()
	re.running--
	exhausted := re.running == 0 && !re.done
	errs := maps.Clone(re.errors)
	re.mu.Unlock()

	if exhausted && re.ctx.Err() == nil {
		re.fail(&types.NoHostsAvailableError{Errors: errs})
	}
}

func (re *requestExecution) attempt(host *topology.Host) attemptOutcome {
	endpoint := host.Endpoint()

	re.mu.Lock()
	re.lastHost = endpoint
	consistency := re.consistency
	re.mu.Unlock()

	re.setState(RequestWaitingForConnection)

	pool := re.s.pool(endpoint)
	if pool == nil {
		re.recordError(endpoint, types.ErrNoConnection)
		return outcomeNextHost
	}

	conn, err := pool.acquire()
	if err != nil {
		re.recordError(endpoint, err)
		return outcomeNextHost
	}

	if ks := re.s.Keyspace(); ks != "" && conn.Keyspace() != ks {
		if err := conn.useKeyspace(re.ctx, ks); err != nil {
			if re.ctx.Err() != nil {
				return outcomeDone
			}
			re.recordError(endpoint, err)

			return outcomeNextHost
		}
	}

	msg, err := re.stmt.buildMessage(messageParams{
		version:     conn.ProtocolVersion(),
		consistency: consistency,
		serial:      re.serial,
		timestamp:   re.timestamp,
	})
	if err != nil {
		re.fail(err)
		return outcomeDone
	}

	sent := time.Now()
	cl, err := conn.Send(re.ctx, msg)
	if err != nil {
		// never written, any host may take it
		if re.ctx.Err() != nil {
			return outcomeDone
		}
		re.recordError(endpoint, err)

		return outcomeNextHost
	}
	re.onWritten()

	return re.await(host, pool, conn, cl, sent, consistency)
}

func (re *requestExecution) await(host *topology.Host, pool *hostPool, conn *Conn, cl *call, sent time.Time, consistency types.Consistency) attemptOutcome {
	var timeout <-chan time.Time
	if d := re.s.cfg.AttemptTimeout; d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case res := <-cl.done:
		return re.onCallResult(host, pool, conn, res, time.Since(sent), consistency)
	case <-timeout:
		if !conn.abandon(cl) {
			return re.onCallResult(host, pool, conn, <-cl.done, time.Since(sent), consistency)
		}

		return re.onAttemptTimeout(host, consistency)
	case <-re.ctx.Done():
		conn.abandon(cl)
		return outcomeDone
	}
}

func (re *requestExecution) onCallResult(host *topology.Host, pool *hostPool, conn *Conn, res callResult, latency time.Duration, consistency types.Consistency) attemptOutcome {
	if res.err != nil {
		return re.onConnectionLost(host, res.err, consistency)
	}

	switch err := responseError(host.Endpoint(), res.msg).(type) {
	case nil:
	case *types.ServerError:
		return re.onServerError(host, conn, err, consistency)
	case *types.ProtocolError:
		pool.recycle(conn, err)
		re.fail(err)

		return outcomeDone
	default:
		re.fail(err)
		return outcomeDone
	}

	result, err := newResult(res.msg, conn.ProtocolVersion(), host.Endpoint())
	if err != nil {
		re.fail(err)
		return outcomeDone
	}

	policy.RecordLatency(re.lb, host, latency)
	if result.kind == ResultSetKeyspace {
		conn.setKeyspace(result.keyspace)
		re.s.setKeyspace(result.keyspace)
	}
	re.complete(result, nil)

	return outcomeDone
}

func (re *requestExecution) onConnectionLost(host *topology.Host, err error, consistency types.Consistency) attemptOutcome {
	policy.RecordFailure(re.lb, host)
	re.recordError(host.Endpoint(), err)

	if !re.idempotent {
		re.fail(err)
		return outcomeDone
	}

	return re.decide(host, policy.Failure{
		Kind:        types.ErrorKindConnectionLost,
		Consistency: consistency,
		NumRetries:  re.retries(),
		Err:         err,
	})
}

func (re *requestExecution) onAttemptTimeout(host *topology.Host, consistency types.Consistency) attemptOutcome {
	policy.RecordFailure(re.lb, host)

	err := &types.RequestTimeoutError{
		Timeout: re.s.cfg.AttemptTimeout,
		Host:    host.Endpoint(),
		Cause:   types.ErrAttemptTimeout,
	}
	re.recordError(host.Endpoint(), err)

	if !re.idempotent {
		re.s.metrics.IncRequestTimeout()
		re.fail(err)

		return outcomeDone
	}

	return re.decide(host, policy.Failure{
		Kind:        types.ErrorKindClientTimeout,
		Consistency: consistency,
		NumRetries:  re.retries(),
		Err:         err,
	})
}

func (re *requestExecution) onServerError(host *topology.Host, conn *Conn, se *types.ServerError, consistency types.Consistency) attemptOutcome {
	re.recordError(host.Endpoint(), se)

	switch se.Kind {
	case types.ErrorKindReadTimeout, types.ErrorKindUnavailable:
		return re.decide(host, policy.FailureFromServerError(se, re.retries()))

	case types.ErrorKindWriteTimeout:
		if !re.idempotent {
			re.fail(se)
			return outcomeDone
		}

		return re.decide(host, policy.FailureFromServerError(se, re.retries()))

	case types.ErrorKindOverloaded, types.ErrorKindServerError, types.ErrorKindTruncateError:
		policy.RecordFailure(re.lb, host)
		if !re.idempotent {
			re.fail(se)
			return outcomeDone
		}

		f := policy.FailureFromServerError(se, re.retries())
		f.Consistency = consistency

		return re.decide(host, f)

	case types.ErrorKindIsBootstrapping:
		re.s.logger.Debug("coordinator is bootstrapping, trying next host", "host", host.Endpoint())
		return outcomeNextHost

	case types.ErrorKindUnprepared:
		return re.reprepare(host, conn, se)

	default:
		re.fail(se)
		return outcomeDone
	}
}

// reprepare prepares the statement the coordinator does not know and retries
// on the same host.
func (re *requestExecution) reprepare(host *topology.Host, conn *Conn, se *types.ServerError) attemptOutcome {
	prepared := re.stmt.preparedByID(se.StatementID)
	if prepared == nil {
		re.fail(fmt.Errorf("%w: %w", types.ErrNotPrepared, se))
		return outcomeDone
	}

	re.mu.Lock()
	re.reprepares++
	n := re.reprepares
	re.mu.Unlock()

	if n > maxReprepares {
		re.fail(se)
		return outcomeDone
	}

	re.s.logger.Debug("re-preparing statement unknown to host",
		"host", host.Endpoint(), "query", prepared.query)

	if err := re.s.reprepareOn(re.ctx, conn, prepared); err != nil {
		if re.ctx.Err() != nil {
			return outcomeDone
		}
		re.recordError(host.Endpoint(), err)

		return outcomeNextHost
	}

	return outcomeSameHost
}

func (re *requestExecution) decide(host *topology.Host, f policy.Failure) attemptOutcome {
	d := re.retry.Decide(f)

	switch d.Type {
	case policy.RetrySameHost, policy.RetryNextHost:
		re.mu.Lock()
		if re.done {
			re.mu.Unlock()
			return outcomeDone
		}
		re.numRetries++
		re.consistency = d.Consistency
		re.mu.Unlock()

		re.setState(RequestRetrying)
		re.s.metrics.IncRetry(f.Kind)

		if d.Type == policy.RetrySameHost {
			return outcomeSameHost
		}

		return outcomeNextHost

	case policy.Ignore:
		re.complete(emptyResult(host.Endpoint()), nil)
		return outcomeDone

	default:
		re.fail(f.Err)
		return outcomeDone
	}
}

func (re *requestExecution) retries() int {
	re.mu.Lock()
	defer re.mu.Unlock()

	return re.numRetries
}

func (re *requestExecution) recordError(endpoint string, err error) {
	re.mu.Lock()
	re.errors[endpoint] = err
	re.mu.Unlock()
}

// onWritten arms the speculative timer after the first write.
func (re *requestExecution) onWritten() {
	re.setState(RequestInFlight)

	re.mu.Lock()
	defer re.mu.Unlock()

	if re.specArmed {
		return
	}
	re.specArmed = true
	re.armSpeculative()
}

// armSpeculative schedules the next speculative attempt. Callers hold mu.
func (re *requestExecution) armSpeculative() {
	if !re.idempotent || re.done {
		return
	}

	delay, ok := re.speculative.NextExecution(re.launched - 1)
	if !ok {
		return
	}
	re.specTimer = time.AfterFunc(delay, re.launchSpeculative)
}

func (re *requestExecution) launchSpeculative() {
	re.mu.Lock()
	if re.done || re.ctx.Err() != nil {
		re.mu.Unlock()
		return
	}
	re.launched++
	re.running++
	re.armSpeculative()
	re.mu.Unlock()

	re.s.metrics.IncSpeculativeExecution()
	re.setState(RequestSpeculativeInFlight)

	go re.run(nil)
}

func (re *requestExecution) fail(err error) {
	re.complete(nil, err)
}

// complete resolves the request once; later calls are ignored.
func (re *requestExecution) complete(res *Result, err error) {
	re.mu.Lock()
	if re.done {
		re.mu.Unlock()
		return
	}
	re.done = true
	if re.specTimer != nil {
		re.specTimer.Stop()
	}
	re.mu.Unlock()

	if err != nil {
		re.setState(RequestFailed)
		re.s.metrics.IncRequestError(errorKindOf(err))
	} else {
		re.setState(RequestCompleted)
	}
	re.s.metrics.ObserveRequestDuration(time.Since(re.start).Seconds())

	re.future.complete(res, err)
	re.cancel()
	re.s.endRequest()
}

// errorKindOf classifies a request error for metrics.
func errorKindOf(err error) types.ErrorKind {
	var (
		serverErr  *types.ServerError
		timeoutErr *types.RequestTimeoutError
		connErr    *types.ConnectionError
		protoErr   *types.ProtocolError
	)

	switch {
	case errors.Is(err, types.ErrNoHostsAvailable):
		return types.ErrorKindUnknown
	case errors.As(err, &serverErr):
		return serverErr.Kind
	case errors.As(err, &timeoutErr):
		return types.ErrorKindClientTimeout
	case errors.As(err, &connErr):
		return types.ErrorKindConnectionLost
	case errors.As(err, &protoErr):
		return types.ErrorKindProtocolError
	default:
		return types.ErrorKindUnknown
	}
}
