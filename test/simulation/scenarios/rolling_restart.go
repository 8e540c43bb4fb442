package scenarios

import (
	"context"
	"fmt"
	"time"

	"github.com/arloliu/cqlcore/test/simulation/types"
)

// RollingRestart restarts every node in turn.
type RollingRestart struct{}

func (s *RollingRestart) Name() string {
	return "rolling-restart"
}

func (s *RollingRestart) Description() string {
	return "Restarts nodes one at a time to verify pools recover after each restart"
}

func (s *RollingRestart) Run(ctx context.Context, env *types.Environment) error {
	env.Logger.Info("Starting RollingRestart scenario")

	for i := range env.Chaos.Size() {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		env.Logger.Info(fmt.Sprintf("Restart %d: node DOWN", i+1), "endpoint", env.Chaos.Endpoint(i))
		env.Chaos.KillNode(i)
		startCount := env.Tracker.Count()
		_ = awaitCompleted(ctx, env, startCount, 50, 5*time.Second)

		env.Logger.Info(fmt.Sprintf("Restart %d: node UP", i+1), "endpoint", env.Chaos.Endpoint(i))
		if err := env.Chaos.RestartNode(i); err != nil {
			return err
		}

		before := env.Chaos.Requests(i)
		_ = awaitNodeTraffic(ctx, env, i, before, 30*time.Second)
	}

	env.Logger.Info("RollingRestart scenario completed")

	return nil
}
