package command

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/arloliu/cqlcore"
	"github.com/arloliu/cqlcore/contrib/metrics/prom"
	"github.com/arloliu/cqlcore/policy"
)

var (
	benchRequests    int
	benchConcurrency int
	benchSpeculative time.Duration
	benchMetricsAddr string

	benchCmd = &cobra.Command{
		Use:   "bench STATEMENT",
		Short: "Run an idempotent statement repeatedly and report latency.",
		Long: `Run an idempotent statement repeatedly and report latency.

The statement is prepared once and executed --requests times from
--concurrency workers. With --metrics-addr the driver metrics are served
in Prometheus format while the benchmark runs.`,
		Args: cobra.ExactArgs(1),
		RunE: runBench,
	}
)

func init() {
	benchCmd.Flags().IntVar(&benchRequests, "requests", 1000, "total number of requests")
	benchCmd.Flags().IntVar(&benchConcurrency, "concurrency", 8, "number of concurrent workers")
	benchCmd.Flags().DurationVar(&benchSpeculative, "speculative-delay", 0, "start one speculative execution after this delay")
	benchCmd.Flags().StringVar(&benchMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
}

func runBench(cmd *cobra.Command, args []string) error {
	if benchRequests < 1 || benchConcurrency < 1 {
		return errors.New("--requests and --concurrency must be positive")
	}

	opts, err := sessionOptions()
	if err != nil {
		return err
	}

	if benchMetricsAddr != "" {
		reg := prometheus.NewRegistry()
		opts = append(opts, cqlcore.WithMetrics(prom.New(prom.WithRegisterer(reg))))

		srv := &http.Server{
			Addr:              benchMetricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() { _ = srv.ListenAndServe() }()
		defer srv.Close()
	}
	if benchSpeculative > 0 {
		opts = append(opts, cqlcore.WithSpeculativeExecutionPolicy(
			policy.NewConstantSpeculativeExecution(benchSpeculative, 1),
		))
	}

	ctx := cmd.Context()
	s, err := cqlcore.Connect(ctx, opts...)
	if err != nil {
		return err
	}
	defer closeSession(s)

	stmt, err := s.Prepare(ctx, args[0])
	if err != nil {
		return err
	}
	if stmt.Variables() > 0 {
		return fmt.Errorf("statement has %d bind markers, bench runs statements without values", stmt.Variables())
	}

	var (
		next    atomic.Int64
		failed  atomic.Int64
		errOnce sync.Once
		first   error
	)

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for range benchConcurrency {
		g.Go(func() error {
			for next.Add(1) <= int64(benchRequests) {
				if err := stmt.Bind().Idempotent(true).Exec(gctx); err != nil {
					failed.Add(1)
					errOnce.Do(func() { first = err })
				}
			}

			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	elapsed := time.Since(start)

	snap := s.Metrics()
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "requests     %d in %s (%.0f/s)\n", benchRequests, elapsed.Round(time.Millisecond),
		float64(benchRequests)/elapsed.Seconds())
	fmt.Fprintf(out, "failed       %d\n", failed.Load())
	fmt.Fprintf(out, "latency      min %s  p50 %s  p95 %s  p99 %s  max %s\n",
		seconds(snap.Requests.Min), seconds(snap.Requests.Median), seconds(snap.Requests.P95),
		seconds(snap.Requests.P99), seconds(snap.Requests.Max))
	fmt.Fprintf(out, "retries      %d\n", snap.Errors.Retries)
	fmt.Fprintf(out, "speculative  %d (%.2f%%)\n", snap.SpeculativeExecutions.Count, snap.SpeculativeExecutions.Percentage)
	fmt.Fprintf(out, "connections  %d open, %d available\n", snap.Stats.TotalConnections, snap.Stats.AvailableConnections)
	if first != nil {
		fmt.Fprintf(out, "first error  %v\n", first)
	}

	if logLevel == "debug" {
		gometrics.WriteOnce(s.MetricsRegistry(), cmd.ErrOrStderr())
	}

	return nil
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second)).Round(time.Microsecond)
}
