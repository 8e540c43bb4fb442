package command

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/arloliu/cqlcore"
	"github.com/arloliu/cqlcore/internal/logging"
	"github.com/arloliu/cqlcore/policy"
	"github.com/arloliu/cqlcore/types"
)

var (
	configFile    string
	contactPoints []string
	keyspace      string
	localDC       string
	consistency   string
	username      string
	password      string
	compression   string
	logLevel      string
	timeout       time.Duration

	// Root is the cqlprobe command.
	Root = &cobra.Command{
		Use:   "cqlprobe",
		Short: "cqlprobe inspects a Cassandra cluster through the cqlcore driver.",
		Example: `cqlprobe hosts --contact-points 10.0.0.1,10.0.0.2 --local-dc dc1
cqlprobe query "SELECT release_version FROM system.local"
cqlprobe bench --config cassandra.yaml --requests 10000 --concurrency 32 "SELECT * FROM ks.t WHERE k = 'a'"`,
		SilenceUsage: true,
	}
)

func init() {
	flags := Root.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "YAML driver configuration file")
	flags.StringSliceVar(&contactPoints, "contact-points", nil, "comma separated host[:port] list, overrides the config file")
	flags.StringVar(&keyspace, "keyspace", "", "session keyspace")
	flags.StringVar(&localDC, "local-dc", "", "local datacenter for DC-aware routing")
	flags.StringVar(&consistency, "consistency", "", "default consistency level (e.g. LOCAL_QUORUM)")
	flags.StringVar(&username, "username", "", "username for password authentication")
	flags.StringVar(&password, "password", "", "password for password authentication")
	flags.StringVar(&compression, "compression", "", "frame compression: snappy or lz4")
	flags.StringVar(&logLevel, "log-level", "warn", "log level: debug, info, warn or error")
	flags.DurationVar(&timeout, "timeout", 10*time.Second, "connect and request timeout")

	Root.AddCommand(hostsCmd, queryCmd, benchCmd)
}

// sessionOptions builds the driver options from the config file and flags.
// Flags win over the file.
func sessionOptions() ([]cqlcore.Option, error) {
	var opts []cqlcore.Option

	if configFile != "" {
		fileOpts, err := cqlcore.LoadConfigFile(configFile)
		if err != nil {
			return nil, err
		}
		opts = append(opts, fileOpts...)
	}

	if len(contactPoints) > 0 {
		opts = append(opts, cqlcore.WithContactPoints(contactPoints...))
	}
	if keyspace != "" {
		opts = append(opts, cqlcore.WithKeyspace(keyspace))
	}
	if localDC != "" {
		opts = append(opts, cqlcore.WithLoadBalancingPolicy(
			policy.NewTokenAware(policy.NewDCAwareRoundRobin(localDC)),
		))
	}
	if consistency != "" {
		cl, ok := types.ParseConsistency(consistency)
		if !ok {
			return nil, fmt.Errorf("unknown consistency %q", consistency)
		}
		opts = append(opts, cqlcore.WithConsistency(cl))
	}
	if username != "" {
		opts = append(opts, cqlcore.WithCredentials(username, password))
	}
	if compression != "" {
		opts = append(opts, cqlcore.WithCompression(compression))
	}

	opts = append(opts,
		cqlcore.WithConnectTimeout(timeout),
		cqlcore.WithRequestTimeout(timeout),
		cqlcore.WithLogger(newLogger()),
	)

	return opts, nil
}

func newLogger() types.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		level = slog.LevelWarn
	}

	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// connect opens a session with the command options.
func connect(ctx context.Context) (*cqlcore.Session, error) {
	opts, err := sessionOptions()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return cqlcore.Connect(ctx, opts...)
}

func closeSession(s *cqlcore.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	_ = s.Close(ctx)
}
