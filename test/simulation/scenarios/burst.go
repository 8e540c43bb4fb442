package scenarios

import (
	"context"
	"time"

	"github.com/arloliu/cqlcore"
	"github.com/arloliu/cqlcore/test/simulation/types"
)

// Burst fires many concurrent requests at once.
type Burst struct {
	// Requests is the burst size. Default: 5000.
	Requests int
}

func (s *Burst) Name() string {
	return "burst"
}

func (s *Burst) Description() string {
	return "Fires a burst of concurrent requests to verify pools grow and drain"
}

func (s *Burst) Run(ctx context.Context, env *types.Environment) error {
	env.Logger.Info("Starting Burst scenario")

	n := s.Requests
	if n <= 0 {
		n = 5000
	}

	burstCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	futures := make([]*cqlcore.Future, 0, n)
	for range n {
		futures = append(futures, env.Session.Query("SELECT v FROM ks.tbl WHERE k = 'burst'").Idempotent(true).ExecAsync(burstCtx))
	}
	env.Logger.Info("Burst submitted", "requests", n,
		"connections", env.Session.Metrics().Stats.TotalConnections)

	for _, f := range futures {
		_, err := f.Get(burstCtx)
		env.Tracker.Record(err)
	}

	env.Logger.Info("Burst scenario completed",
		"connections", env.Session.Metrics().Stats.TotalConnections)

	return nil
}
