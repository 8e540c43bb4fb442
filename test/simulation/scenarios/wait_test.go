package scenarios

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/cqlcore/test/simulation/chaos"
	"github.com/arloliu/cqlcore/test/simulation/types"
	"github.com/arloliu/cqlcore/test/simulation/workload"
	"github.com/arloliu/cqlcore/test/testutil"
)

func TestAwaitCompleted(t *testing.T) {
	env := &types.Environment{Tracker: workload.NewTracker()}
	ctx := context.Background()

	go func() {
		for range 5 {
			time.Sleep(20 * time.Millisecond)
			env.Tracker.Record(nil)
		}
	}()

	require.NoError(t, awaitCompleted(ctx, env, 0, 5, 3*time.Second))
	require.Error(t, awaitCompleted(ctx, env, 0, 6, 500*time.Millisecond))

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	err := awaitCompleted(canceled, env, 0, 6, time.Second)
	require.True(t, errors.Is(err, context.Canceled), "got %v", err)
}

func TestAwaitNodeTraffic(t *testing.T) {
	fc := testutil.NewFakeCluster(t, testutil.WithFakeNodes(1))
	env := &types.Environment{Chaos: chaos.NewCluster(fc)}

	err := awaitNodeTraffic(context.Background(), env, 0, env.Chaos.Requests(0), 300*time.Millisecond)
	require.Error(t, err)
	require.Contains(t, err.Error(), env.Chaos.Endpoint(0))

	require.NoError(t, awaitNodeTraffic(context.Background(), env, 0, -1, time.Second))
}
