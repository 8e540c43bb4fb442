package simulation

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arloliu/cqlcore"
	"github.com/arloliu/cqlcore/internal/logging"
	"github.com/arloliu/cqlcore/policy"
	"github.com/arloliu/cqlcore/test/simulation/chaos"
	"github.com/arloliu/cqlcore/test/simulation/config"
	simtypes "github.com/arloliu/cqlcore/test/simulation/types"
	"github.com/arloliu/cqlcore/test/simulation/workload"
	"github.com/arloliu/cqlcore/test/testutil"
	"github.com/arloliu/cqlcore/topology"
)

// Config holds simulation configuration.
type Config struct {
	Profile  string
	Cluster  *testutil.FakeCluster
	Settings *config.Config
}

// Simulation orchestrates the test execution.
type Simulation struct {
	config       Config
	logger       *slog.Logger
	env          *simtypes.Environment
	scenarios    []simtypes.Scenario
	stopWorkload context.CancelFunc
	workers      sync.WaitGroup
	rng          *rand.Rand
	rngMu        sync.Mutex
}

// New creates a new simulation instance.
func New(cfg Config, logger *slog.Logger) (*Simulation, error) {
	if cfg.Cluster == nil {
		return nil, fmt.Errorf("simulation: cluster is required")
	}
	if cfg.Settings == nil {
		cfg.Settings = config.Default()
	}

	return &Simulation{
		config:    cfg,
		logger:    logger,
		scenarios: make([]simtypes.Scenario, 0),
		//nolint:gosec // Simulation data, not security sensitive
		rng: rand.New(rand.NewSource(cfg.Settings.Simulation.Seed)),
	}, nil
}

// RegisterScenario adds a scenario to the simulation.
func (s *Simulation) RegisterScenario(scenario simtypes.Scenario) {
	s.scenarios = append(s.scenarios, scenario)
}

// Run executes the simulation.
func (s *Simulation) Run(ctx context.Context) error {
	s.logger.Info("Initializing simulation environment...")

	if err := s.setupEnvironment(ctx); err != nil {
		return fmt.Errorf("failed to setup environment: %w", err)
	}
	defer s.teardown()

	s.logger.Info("Starting workload generator...")
	workloadCtx, cancel := context.WithCancel(ctx)
	s.stopWorkload = cancel
	for range s.config.Settings.Simulation.Workers {
		s.workers.Add(1)
		go s.generateTraffic(workloadCtx)
	}
	go s.report(workloadCtx)

	runCtx, stop := context.WithTimeout(ctx, s.config.Settings.Simulation.Duration)
	defer stop()

	for _, scenario := range s.scenarios {
		if runCtx.Err() != nil {
			break
		}

		s.logger.Info("--------------------------------------------------")
		s.logger.Info("Running Scenario", "name", scenario.Name(), "description", scenario.Description())
		s.logger.Info("--------------------------------------------------")

		if err := scenario.Run(runCtx, s.env); err != nil {
			s.logger.Error("Scenario failed", "error", err)
		} else {
			s.logger.Info("Scenario completed successfully")
		}
		if err := s.env.Chaos.Reset(); err != nil {
			s.logger.Error("Failed to reset chaos", "error", err)
		}
		time.Sleep(2 * time.Second)
	}

	s.logger.Info("Stopping workload...")
	cancel()
	s.workers.Wait()

	return s.verify()
}

func (s *Simulation) setupEnvironment(ctx context.Context) error {
	drv := s.config.Settings.Driver

	var lb policy.LoadBalancingPolicy = policy.NewDCAwareRoundRobin(drv.LocalDC)
	if drv.LatencyAware {
		lb = policy.NewLatencyAware(lb)
	}

	drain := topology.NewLocal()

	session, err := cqlcore.Connect(ctx,
		cqlcore.WithContactPoints(s.config.Cluster.ContactPoints()...),
		cqlcore.WithLoadBalancingPolicy(policy.NewTokenAware(lb)),
		cqlcore.WithConnectionsPerHost(drv.CoreConnections, drv.MaxConnections),
		cqlcore.WithRequestTimeout(drv.RequestTimeout),
		cqlcore.WithSpeculativeExecutionPolicy(
			policy.NewConstantSpeculativeExecution(drv.SpeculativeDelay, drv.SpeculativeMax),
		),
		cqlcore.WithReconnectionPolicy(policy.NewExponentialReconnection(100*time.Millisecond, 2*time.Second)),
		cqlcore.WithHostDrainWatcher(drain),
		cqlcore.WithKeyspace(testutil.FakeKeyspace),
		cqlcore.WithLogger(logging.NewSlogLogger(s.logger)),
	)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	s.env = &simtypes.Environment{
		Session: session,
		Chaos:   chaos.NewCluster(s.config.Cluster),
		Drain:   drain,
		Tracker: workload.NewTracker(),
		Logger:  s.logger,
	}

	return nil
}

func (s *Simulation) teardown() {
	if s.stopWorkload != nil {
		s.stopWorkload()
	}
	if s.env == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.env.Session.Close(ctx); err != nil {
		s.logger.Error("Failed to close session", "error", err)
	}
	_ = s.env.Drain.Close()
}

func (s *Simulation) generateTraffic(ctx context.Context) {
	defer s.workers.Done()

	insert, err := s.env.Session.Prepare(ctx, "INSERT INTO tbl (k, v) VALUES (?, ?)")
	if err != nil {
		s.logger.Error("Failed to prepare insert", "error", err)
		return
	}

	ticker := time.NewTicker(s.config.Settings.Simulation.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			data := make([]byte, 100)
			s.rngMu.Lock()
			_, _ = s.rng.Read(data)
			read := s.rng.Intn(4) == 0
			s.rngMu.Unlock()

			key := uuid.NewString()
			if read {
				_, err = s.env.Session.Query("SELECT v FROM tbl WHERE k = ?", key).Idempotent(true).Result(ctx)
			} else {
				err = insert.Bind(key, data).Idempotent(true).Exec(ctx)
			}
			if ctx.Err() != nil {
				return
			}

			s.env.Tracker.Record(err)
			if err != nil {
				s.logger.Debug("Request failed", "error", err)
			}
		}
	}
}

func (s *Simulation) report(ctx context.Context) {
	ticker := time.NewTicker(s.config.Settings.Simulation.ConsoleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := s.env.Session.Metrics()
			s.logger.Info("Progress",
				"succeeded", s.env.Tracker.Count(),
				"failed", s.env.Tracker.Failed(),
				"p99_ms", snap.Requests.P99*1000,
				"retries", snap.Errors.Retries,
				"speculative", snap.SpeculativeExecutions.Count,
				"connections", snap.Stats.TotalConnections,
			)
		}
	}
}

func (s *Simulation) verify() error {
	s.logger.Info("Verifying simulation results...")

	snap := s.env.Session.Metrics()
	s.logger.Info("Final metrics",
		"requests", snap.Requests.Count,
		"mean_ms", snap.Requests.Mean*1000,
		"p99_ms", snap.Requests.P99*1000,
		"request_errors", snap.Errors.RequestErrors,
		"request_timeouts", snap.Errors.RequestTimeouts,
		"retries", snap.Errors.Retries,
		"speculative_pct", snap.SpeculativeExecutions.Percentage,
		"failures", s.env.Tracker.Failures(),
	)

	if err := s.env.Tracker.Verify(s.config.Settings.Simulation.MinSuccessRatio); err != nil {
		return fmt.Errorf("verification failed: %w", err)
	}

	s.logger.Info("Verification passed!")

	return nil
}
