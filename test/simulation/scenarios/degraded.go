package scenarios

import (
	"context"
	"time"

	"github.com/arloliu/cqlcore/test/simulation/types"
)

// DegradedNode simulates a scenario where one node becomes slow.
type DegradedNode struct{}

func (s *DegradedNode) Name() string {
	return "degraded-node"
}

func (s *DegradedNode) Description() string {
	return "Simulates high latency on one node to verify speculative execution"
}

func (s *DegradedNode) Run(ctx context.Context, env *types.Environment) error {
	env.Logger.Info("Starting DegradedNode scenario")
	startCount := env.Tracker.Count()
	startSpec := env.Session.Metrics().SpeculativeExecutions.Count

	// 1. Baseline: Normal operation
	env.Logger.Info("Phase 1: Normal operation")
	_ = awaitCompleted(ctx, env, startCount, 1, 5*time.Second)

	// 2. Inject latency into node 0
	env.Logger.Info("Phase 2: Injecting latency", "endpoint", env.Chaos.Endpoint(0))
	env.Chaos.SetLatency(0, 500*time.Millisecond)

	_ = awaitCompleted(ctx, env, startCount, 100, 10*time.Second)

	// 3. Slow attempts are raced by speculative executions
	env.Logger.Info("Phase 3: Verifying speculative executions",
		"speculative", env.Session.Metrics().SpeculativeExecutions.Count-startSpec)

	// 4. Recovery
	env.Logger.Info("Phase 4: Recovering node")
	env.Chaos.SetLatency(0, 0)
	_ = awaitCompleted(ctx, env, startCount, 150, 5*time.Second)
	env.Logger.Info("DegradedNode scenario completed")

	return nil
}
