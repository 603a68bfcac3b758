package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "pairsync",
		Short:        "DEX pair cache synchronizer",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Mirror every pair of one network and exit",
		RunE:  runSync,
	}
	addEngineFlags(syncCmd.Flags())
	root.AddCommand(syncCmd)

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Keep the pair cache in sync and serve it over HTTP",
		RunE:  runServe,
	}
	addEngineFlags(serveCmd.Flags())
	serveCmd.Flags().String("listen", ":8080", "HTTP listen address")
	serveCmd.Flags().Duration("retry-interval", 0, "re-evaluate the active network periodically, 0 disables")
	serveCmd.Flags().Bool("offline", false, "start with connectivity off")
	root.AddCommand(serveCmd)

	root.AddCommand(newAssetsCmd())
	return root
}

func addEngineFlags(flags *pflag.FlagSet) {
	flags.String("network", "mainnet", "active network name")
	flags.String("lcd", "", "LCD URL of the active network (overrides config)")
	flags.String("factory", "", "pair factory contract of the active network (overrides config)")
	flags.Int("limit", 30, "pairs per page")
	flags.Duration("request-timeout", 10*time.Second, "timeout of one page request")
	flags.Int("max-retries", 0, "retries of one page request before the failure is reported")
	flags.Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	flags.String("out", "", "optional JSONL file receiving merged pairs")
	flags.String("checkpoint", "", "optional file to resume the pair mirror from and save it to")
	flags.String("pg-dsn", "", "optional Postgres DSN receiving merged pairs")
	flags.String("custom-assets", "./data/custom-assets", "custom asset database directory")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
