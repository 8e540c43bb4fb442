package scenarios

import (
	"context"
	"time"

	"github.com/arloliu/cqlcore/test/simulation/types"
)

// OverloadedNode makes one coordinator reject every request.
type OverloadedNode struct{}

func (s *OverloadedNode) Name() string {
	return "overloaded-node"
}

func (s *OverloadedNode) Description() string {
	return "Answers OVERLOADED from one node to verify idempotent requests retry elsewhere"
}

func (s *OverloadedNode) Run(ctx context.Context, env *types.Environment) error {
	env.Logger.Info("Starting OverloadedNode scenario")
	startRetries := env.Session.Metrics().Errors.Retries

	env.Chaos.SetOverloaded(1, true)

	startCount := env.Tracker.Count()
	_ = awaitCompleted(ctx, env, startCount, 200, 10*time.Second)

	env.Chaos.SetOverloaded(1, false)
	env.Logger.Info("OverloadedNode scenario completed",
		"retries", env.Session.Metrics().Errors.Retries-startRetries)

	return nil
}
