package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"blockgraph/pkg/config"
	"blockgraph/pkg/coordinator"
	"blockgraph/pkg/federation"
	"blockgraph/pkg/utils"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Set at build time with -ldflags "-X main.version=..."
var version = "dev"

var verbose bool

// flagValues holds command-line overrides. Only flags the user actually
// set replace the environment configuration.
type flagValues struct {
	output      string
	concurrency int
	count       int
	timeout     time.Duration
	rate        float64
	metricsAddr string
	maxBodySize string
}

func main() {
	rootCmd := rootCmd()
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var flags flagValues

	cmd := &cobra.Command{
		Use:   "blockgraph",
		Short: "Map moderation relationships between fediverse instances",
		Long: `Reads the instance roster from instances.social, fetches each instance's
public domain-block list and writes the resulting block graph to graph.json.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger(verbose)
			defer logger.Sync()

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if err := applyFlags(cmd, &flags, cfg); err != nil {
				return err
			}

			if err := cfg.Validate(); err != nil {
				if errors.Is(err, config.ErrMissingAPIKey) {
					fmt.Fprintln(cmd.OutOrStdout(), err.Error())
					return nil
				}
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			coord, err := coordinator.New(cfg, logger, coordinator.WithProgressOutput(cmd.OutOrStdout()))
			if err != nil {
				return err
			}

			if cfg.MetricsAddr != "" {
				server := federation.StartMetricsServer(cfg.MetricsAddr, coord.Registry(), logger)
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					server.Shutdown(shutdownCtx)
				}()
			}

			_, err = coord.Run(ctx)
			return err
		},
	}

	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
	cmd.Flags().StringVarP(&flags.output, "output", "o", config.DefaultOutputPath, "graph output path")
	cmd.Flags().IntVar(&flags.concurrency, "concurrency", config.DefaultConcurrency, "maximum concurrent instance fetches")
	cmd.Flags().IntVar(&flags.count, "count", config.DefaultRosterCount, "number of instances to request from the directory")
	cmd.Flags().DurationVar(&flags.timeout, "timeout", config.DefaultFetchTimeout, "per-instance fetch timeout")
	cmd.Flags().Float64Var(&flags.rate, "rate", 0, "maximum fetches per second (0 = unlimited)")
	cmd.Flags().StringVar(&flags.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	cmd.Flags().StringVar(&flags.maxBodySize, "max-body-size", "16MiB", "largest moderation list accepted per instance")

	return cmd
}

func applyFlags(cmd *cobra.Command, flags *flagValues, cfg *config.Config) error {
	if cmd.Flags().Changed("output") {
		cfg.OutputPath = flags.output
	}
	if cmd.Flags().Changed("concurrency") {
		cfg.MaxConcurrent = flags.concurrency
	}
	if cmd.Flags().Changed("count") {
		cfg.RosterCount = flags.count
	}
	if cmd.Flags().Changed("timeout") {
		cfg.FetchTimeout = flags.timeout
	}
	if cmd.Flags().Changed("rate") {
		cfg.RateLimit = flags.rate
	}
	if cmd.Flags().Changed("metrics-addr") {
		cfg.MetricsAddr = flags.metricsAddr
	}
	if cmd.Flags().Changed("max-body-size") {
		size, err := utils.ParseDataSize(flags.maxBodySize)
		if err != nil {
			return fmt.Errorf("invalid --max-body-size: %w", err)
		}
		cfg.MaxBodyBytes = size
	}
	return nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "blockgraph %s\n", version)
		},
	}
}

func setupLogger(verbose bool) *zap.Logger {
	config := zap.NewProductionConfig()
	if verbose {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		config.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
