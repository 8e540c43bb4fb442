package scenarios

import (
	"context"
	"time"

	"github.com/arloliu/cqlcore/test/simulation/types"
)

// DrainMode takes a host out of rotation through a drain override.
type DrainMode struct{}

func (s *DrainMode) Name() string {
	return "drain-mode"
}

func (s *DrainMode) Description() string {
	return "Drains one host to verify it stops receiving requests"
}

func (s *DrainMode) Run(ctx context.Context, env *types.Environment) error {
	env.Logger.Info("Starting DrainMode scenario")
	endpoint := env.Chaos.Endpoint(0)

	// 1. Drain
	env.Logger.Info("Draining host", "endpoint", endpoint)
	if err := env.Drain.SetDrain(ctx, endpoint, true, "simulation"); err != nil {
		return err
	}

	// 2. Let in-flight requests settle, then sample the drained host
	time.Sleep(time.Second)
	before := env.Chaos.Requests(0)
	startCount := env.Tracker.Count()
	_ = awaitCompleted(ctx, env, startCount, 100, 10*time.Second)
	if leaked := env.Chaos.Requests(0) - before; leaked > 0 {
		env.Logger.Warn("Drained host still received requests", "count", leaked)
	}

	// 3. Restore
	env.Logger.Info("Restoring host", "endpoint", endpoint)
	if err := env.Drain.SetDrain(ctx, endpoint, false, ""); err != nil {
		return err
	}
	time.Sleep(2 * time.Second)

	env.Logger.Info("DrainMode scenario completed")

	return nil
}
