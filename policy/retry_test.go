package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/cqlcore/types"
)

func TestDefaultRetry(t *testing.T) {
	p := NewDefaultRetry()

	tests := []struct {
		name    string
		failure Failure
		want    RetryDecision
	}{
		{
			name:    "read timeout without data retries same host",
			failure: Failure{Kind: types.ErrorKindReadTimeout, Consistency: types.Quorum, Required: 2, Received: 2},
			want:    RetrySame(types.Quorum),
		},
		{
			name:    "read timeout with data rethrows",
			failure: Failure{Kind: types.ErrorKindReadTimeout, Consistency: types.Quorum, Required: 2, Received: 2, DataPresent: true},
			want:    RethrowDecision(),
		},
		{
			name:    "read timeout not enough replicas rethrows",
			failure: Failure{Kind: types.ErrorKindReadTimeout, Consistency: types.Quorum, Required: 2, Received: 1},
			want:    RethrowDecision(),
		},
		{
			name:    "read timeout second time rethrows",
			failure: Failure{Kind: types.ErrorKindReadTimeout, Consistency: types.Quorum, Required: 2, Received: 2, NumRetries: 1},
			want:    RethrowDecision(),
		},
		{
			name:    "batch log write timeout retries",
			failure: Failure{Kind: types.ErrorKindWriteTimeout, Consistency: types.One, WriteType: types.WriteTypeBatchLog},
			want:    RetrySame(types.One),
		},
		{
			name:    "simple write timeout rethrows",
			failure: Failure{Kind: types.ErrorKindWriteTimeout, Consistency: types.One, WriteType: types.WriteTypeSimple},
			want:    RethrowDecision(),
		},
		{
			name:    "unavailable tries next host once",
			failure: Failure{Kind: types.ErrorKindUnavailable, Consistency: types.All, Required: 3, Alive: 2},
			want:    RetryNext(types.All),
		},
		{
			name:    "unavailable second time rethrows",
			failure: Failure{Kind: types.ErrorKindUnavailable, Consistency: types.All, Required: 3, Alive: 2, NumRetries: 1},
			want:    RethrowDecision(),
		},
		{
			name:    "connection lost tries next host",
			failure: Failure{Kind: types.ErrorKindConnectionLost, Consistency: types.One, NumRetries: 4},
			want:    RetryNext(types.One),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Decide(tt.failure))
		})
	}
}

func TestDowngradingConsistencyRetry(t *testing.T) {
	p := NewDowngradingConsistencyRetry()

	tests := []struct {
		name    string
		failure Failure
		want    RetryDecision
	}{
		{
			name:    "unavailable downgrades to alive count",
			failure: Failure{Kind: types.ErrorKindUnavailable, Consistency: types.All, Required: 3, Alive: 2},
			want:    RetrySame(types.Two),
		},
		{
			name:    "unavailable with one alive",
			failure: Failure{Kind: types.ErrorKindUnavailable, Consistency: types.Quorum, Required: 2, Alive: 1},
			want:    RetrySame(types.One),
		},
		{
			name:    "unavailable with none alive rethrows",
			failure: Failure{Kind: types.ErrorKindUnavailable, Consistency: types.Quorum, Required: 2, Alive: 0},
			want:    RethrowDecision(),
		},
		{
			name:    "unavailable after a retry rethrows",
			failure: Failure{Kind: types.ErrorKindUnavailable, Consistency: types.All, Required: 3, Alive: 2, NumRetries: 1},
			want:    RethrowDecision(),
		},
		{
			name:    "serial read timeout rethrows",
			failure: Failure{Kind: types.ErrorKindReadTimeout, Consistency: types.Serial, Required: 2, Received: 1},
			want:    RethrowDecision(),
		},
		{
			name:    "read timeout with too few responses downgrades",
			failure: Failure{Kind: types.ErrorKindReadTimeout, Consistency: types.Quorum, Required: 2, Received: 1},
			want:    RetrySame(types.One),
		},
		{
			name:    "read timeout without data retries",
			failure: Failure{Kind: types.ErrorKindReadTimeout, Consistency: types.Quorum, Required: 2, Received: 2},
			want:    RetrySame(types.Quorum),
		},
		{
			name:    "simple write acknowledged by one replica is ignored",
			failure: Failure{Kind: types.ErrorKindWriteTimeout, Consistency: types.Quorum, WriteType: types.WriteTypeSimple, Received: 1},
			want:    IgnoreDecision(),
		},
		{
			name:    "simple write acknowledged by none rethrows",
			failure: Failure{Kind: types.ErrorKindWriteTimeout, Consistency: types.Quorum, WriteType: types.WriteTypeSimple},
			want:    RethrowDecision(),
		},
		{
			name:    "unlogged batch downgrades",
			failure: Failure{Kind: types.ErrorKindWriteTimeout, Consistency: types.All, WriteType: types.WriteTypeUnloggedBatch, Received: 2},
			want:    RetrySame(types.Two),
		},
		{
			name:    "batch log retries",
			failure: Failure{Kind: types.ErrorKindWriteTimeout, Consistency: types.Quorum, WriteType: types.WriteTypeBatchLog},
			want:    RetrySame(types.Quorum),
		},
		{
			name:    "counter write rethrows",
			failure: Failure{Kind: types.ErrorKindWriteTimeout, Consistency: types.Quorum, WriteType: types.WriteTypeCounter, Received: 1},
			want:    RethrowDecision(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Decide(tt.failure))
		})
	}
}

func strength(cl types.Consistency) int {
	switch cl {
	case types.All:
		return 5
	case types.Quorum:
		return 4
	default:
		return replicaCount(cl)
	}
}

func TestDowngradingNeverIncreasesConsistency(t *testing.T) {
	p := NewDowngradingConsistencyRetry(WithMaxDowngrades(10))

	// replicas keep dying between attempts
	alive := []int{3, 2, 1, 1}
	cl := types.All
	levels := []types.Consistency{cl}

	for retries, n := range alive {
		d := p.Decide(Failure{
			Kind:        types.ErrorKindUnavailable,
			Consistency: cl,
			Required:    5,
			Alive:       n,
			NumRetries:  retries,
		})
		if !d.IsRetry() {
			break
		}
		require.LessOrEqual(t, strength(d.Consistency), strength(cl))
		cl = d.Consistency
		levels = append(levels, cl)
	}

	assert.Equal(t, []types.Consistency{types.All, types.Three, types.Two, types.One}, levels)
}

func TestFallthroughRetry(t *testing.T) {
	p := NewFallthroughRetry()

	for _, kind := range []types.ErrorKind{
		types.ErrorKindReadTimeout,
		types.ErrorKindWriteTimeout,
		types.ErrorKindUnavailable,
		types.ErrorKindConnectionLost,
	} {
		assert.Equal(t, RethrowDecision(), p.Decide(Failure{Kind: kind, Consistency: types.One}))
	}
}

func TestLoggingRetry(t *testing.T) {
	logger := &recordingLogger{}
	p := NewLoggingRetry(NewDowngradingConsistencyRetry(), logger)

	d := p.Decide(Failure{Kind: types.ErrorKindUnavailable, Consistency: types.All, Required: 3, Alive: 1})
	assert.Equal(t, RetrySame(types.One), d)

	d = p.Decide(Failure{Kind: types.ErrorKindWriteTimeout, Consistency: types.Quorum, WriteType: types.WriteTypeSimple, Received: 1})
	assert.Equal(t, IgnoreDecision(), d)

	d = p.Decide(Failure{Kind: types.ErrorKindSyntaxError})
	assert.Equal(t, RetryNext(types.Any), d)

	assert.Equal(t, []string{"retrying request", "ignoring request error", "retrying request"}, logger.messages())

	quiet := NewLoggingRetry(NewFallthroughRetry(), logger)
	quiet.Decide(Failure{Kind: types.ErrorKindUnavailable})
	assert.Len(t, logger.messages(), 3)
}

func TestFailureFromServerError(t *testing.T) {
	err := &types.ServerError{
		Kind:        types.ErrorKindReadTimeout,
		Consistency: types.LocalQuorum,
		Required:    2,
		Received:    1,
		DataPresent: true,
	}

	f := FailureFromServerError(err, 2)
	assert.Equal(t, types.ErrorKindReadTimeout, f.Kind)
	assert.Equal(t, types.LocalQuorum, f.Consistency)
	assert.Equal(t, 2, f.Required)
	assert.Equal(t, 1, f.Received)
	assert.True(t, f.DataPresent)
	assert.Equal(t, 2, f.NumRetries)
	assert.Same(t, err, f.Err)
}

func TestRetryDecisionString(t *testing.T) {
	assert.Equal(t, "RETHROW", Rethrow.String())
	assert.Equal(t, "RETRY_SAME_HOST", RetrySameHost.String())
	assert.Equal(t, "RETRY_NEXT_HOST", RetryNextHost.String())
	assert.Equal(t, "IGNORE", Ignore.String())
	assert.False(t, IgnoreDecision().IsRetry())
}
