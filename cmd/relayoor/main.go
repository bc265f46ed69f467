package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ethpandaops/relayoor/internal/agent"
	"github.com/ethpandaops/relayoor/internal/migrate"
	"github.com/ethpandaops/relayoor/internal/version"
)

var (
	cfgFile  string
	logLevel string
	pushFile string
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relayoor",
		Short: "Metric sample relay for custom-metrics backends",
		Long: `relayoor accepts batches of metric samples, resolves a published
name for each one, coerces its value to a number and forwards every
valid data point to the configured backend, scoped to a source instance
when one is configured.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}

	cmd.PersistentFlags().StringVar(
		&cfgFile, "config", "",
		"path to config file (required)",
	)
	cmd.PersistentFlags().StringVar(
		&logLevel, "log-level", "",
		"override log level (debug, info, warn, error)",
	)

	cmd.AddCommand(versionCmd(), pushCmd(), migrateCmd())

	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version.FullWithPlatform())
		},
	}
}

func pushCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "push",
		Short: "Relay a single NDJSON batch and exit",
		RunE:  push,
	}

	cmd.Flags().StringVar(
		&pushFile, "file", "-",
		"NDJSON sample file, or - for stdin",
	)

	return cmd
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the ClickHouse data point schema",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: withMigrator(func(ctx context.Context, _ *logrus.Logger, m migrate.Migrator) error {
				return m.Up(ctx)
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the last migration",
			RunE: withMigrator(func(ctx context.Context, _ *logrus.Logger, m migrate.Migrator) error {
				return m.Down(ctx)
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "Print the current migration version",
			RunE: withMigrator(func(ctx context.Context, log *logrus.Logger, m migrate.Migrator) error {
				v, dirty, err := m.Status(ctx)
				if err != nil {
					return err
				}

				log.WithFields(logrus.Fields{
					"version": v,
					"dirty":   dirty,
				}).Info("Migration status")

				return nil
			}),
		},
	)

	return cmd
}

// setup loads the config file and builds a logger at the configured level.
func setup() (*logrus.Logger, *agent.Config, error) {
	if cfgFile == "" {
		return nil, nil, errors.New(`required flag(s) "config" not set`)
	}

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	cfg, err := agent.LoadConfig(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}

	// CLI flag overrides config file.
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing log level %q: %w", cfg.LogLevel, err)
	}

	log.SetLevel(level)

	return log, cfg, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
}

func run(cmd *cobra.Command, args []string) error {
	log, cfg, err := setup()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	a, err := agent.New(log, cfg)
	if err != nil {
		return fmt.Errorf("creating agent: %w", err)
	}

	log.Info("Starting relayoor agent")

	if err := a.Start(ctx); err != nil {
		return fmt.Errorf("starting agent: %w", err)
	}

	<-ctx.Done()

	log.Info("Shutting down relayoor agent")

	if err := a.Stop(); err != nil {
		log.WithError(err).Error("Error during shutdown")
		return fmt.Errorf("stopping agent: %w", err)
	}

	log.Info("Shutdown complete")

	return nil
}

func push(cmd *cobra.Command, args []string) error {
	log, cfg, err := setup()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	var in io.Reader = cmd.InOrStdin()

	if pushFile != "-" {
		f, err := os.Open(pushFile)
		if err != nil {
			return fmt.Errorf("opening %s: %w", pushFile, err)
		}
		defer f.Close()

		in = f
	}

	received, sent, err := agent.Push(ctx, log, cfg, in)
	if err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"backend":  cfg.Backend,
		"received": received,
		"sent":     sent,
	}).Info("Batch relayed")

	return nil
}

func withMigrator(
	fn func(ctx context.Context, log *logrus.Logger, m migrate.Migrator) error,
) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		log, cfg, err := setup()
		if err != nil {
			return err
		}

		if cfg.Backend != agent.BackendClickHouse {
			return fmt.Errorf("migrations require the %s backend, got %q",
				agent.BackendClickHouse, cfg.Backend)
		}

		if err := migrate.CheckTable(cfg.ClickHouse.Table); err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()

		return fn(ctx, log, migrate.New(log, cfg.ClickHouse.DSN()))
	}
}
