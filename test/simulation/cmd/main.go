package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // pprof is intentional for simulation
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arloliu/cqlcore/test/simulation"
	"github.com/arloliu/cqlcore/test/simulation/config"
	"github.com/arloliu/cqlcore/test/simulation/scenarios"
	"github.com/arloliu/cqlcore/test/testutil"
)

func main() {
	if err := run(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	// Parse flags
	configPath := flag.String("config", "", "Path to configuration file (optional)")
	profile := flag.String("profile", "quick", "Simulation profile (quick, comprehensive, soak)")
	duration := flag.Duration("duration", 0, "Total simulation duration, overrides the configuration")
	seed := flag.Int64("seed", time.Now().UnixNano(), "Random seed")
	verbose := flag.Bool("verbose", false, "Log failed requests")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))

	settings := config.Default()
	if *configPath != "" {
		var err error
		settings, err = config.Load(*configPath)
		if err != nil {
			logger.Error("Failed to load configuration", "path", *configPath, "error", err)
			return err
		}
	}
	if *duration > 0 {
		settings.Simulation.Duration = *duration
	}
	if settings.Simulation.Seed == 0 {
		settings.Simulation.Seed = *seed
	}

	logger.Info("Starting cqlcore Simulation",
		"profile", *profile,
		"seed", settings.Simulation.Seed,
		"duration", settings.Simulation.Duration,
		"nodes", len(settings.Cluster.Datacenters),
	)

	// Start pprof server
	go func() {
		logger.Info("Starting pprof server on :6060")
		server := &http.Server{
			Addr:              ":6060",
			ReadHeaderTimeout: 3 * time.Second,
		}
		if err := server.ListenAndServe(); err != nil {
			logger.Error("pprof server failed", "error", err)
		}
	}()

	// Handle signals for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info("Starting fake cluster...")
	cluster, err := testutil.StartFakeCluster(testutil.WithFakeDatacenters(settings.Cluster.Datacenters...))
	if err != nil {
		logger.Error("Failed to start cluster", "error", err)
		return err
	}
	defer func() {
		logger.Info("Stopping fake cluster...")
		cluster.Close()
	}()

	sim, err := simulation.New(simulation.Config{
		Profile:  *profile,
		Cluster:  cluster,
		Settings: settings,
	}, logger)
	if err != nil {
		logger.Error("Failed to initialize simulation", "error", err)
		return err
	}

	// Register scenarios based on profile
	registerScenarios(sim, *profile)

	// Run simulation
	if err := sim.Run(ctx); err != nil {
		logger.Error("Simulation failed", "error", err)
		return err
	}

	logger.Info("Simulation completed successfully")

	return nil
}

func registerScenarios(sim *simulation.Simulation, profile string) {
	// Basic scenarios always included
	sim.RegisterScenario(&scenarios.DegradedNode{})
	sim.RegisterScenario(&scenarios.NodeFailure{})
	sim.RegisterScenario(&scenarios.DrainMode{})

	// Add more scenarios based on profile
	if profile == "comprehensive" || profile == "soak" {
		sim.RegisterScenario(&scenarios.OverloadedNode{})
		sim.RegisterScenario(&scenarios.PreparedLoss{})
		sim.RegisterScenario(&scenarios.RollingRestart{})
		sim.RegisterScenario(&scenarios.Burst{})
	}
}
