package scenarios

import (
	"context"
	"time"

	"github.com/arloliu/cqlcore/test/simulation/types"
)

// PreparedLoss makes every node forget its prepared statements.
type PreparedLoss struct{}

func (s *PreparedLoss) Name() string {
	return "prepared-loss"
}

func (s *PreparedLoss) Description() string {
	return "Drops server side prepared statements to verify transparent re-preparation"
}

func (s *PreparedLoss) Run(ctx context.Context, env *types.Environment) error {
	env.Logger.Info("Starting PreparedLoss scenario")
	failedBefore := env.Tracker.Failed()

	env.Chaos.DropPreparedStatements()

	startCount := env.Tracker.Count()
	_ = awaitCompleted(ctx, env, startCount, 100, 5*time.Second)

	if failed := env.Tracker.Failed() - failedBefore; failed > 0 {
		env.Logger.Warn("Requests failed after prepared statements were dropped", "count", failed)
	}
	env.Logger.Info("PreparedLoss scenario completed")

	return nil
}
