package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	root := &cobra.Command{
		Use:          "lpexec",
		Short:        "Uniswap V3 liquidity command executor",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	executeCmd := &cobra.Command{
		Use:   "execute",
		Short: "Execute a planner command batch",
		RunE:  runExecute,
	}
	executeCmd.Flags().String("batch", "-", "command batch JSON file, - for stdin")
	addChainFlags(executeCmd)
	addStoreFlags(executeCmd)
	executeCmd.Flags().String("private-key", "", "signer private key (hex)")
	executeCmd.Flags().Int("tick-window", 2, "tick spacings on each side of the current tick")
	executeCmd.Flags().Int("slippage-bps", 50, "slippage tolerance in basis points")
	executeCmd.Flags().Duration("deadline", 20*time.Minute, "transaction deadline window")
	executeCmd.Flags().Int64("max-fee-gwei", 110, "max fee per gas (gwei)")
	executeCmd.Flags().Int64("max-priority-fee-gwei", 26, "max priority fee per gas (gwei)")
	executeCmd.Flags().Duration("confirm-timeout", 5*time.Minute, "receipt wait timeout")
	executeCmd.Flags().String("redis-addr", "", "Redis address for the signer lock (optional)")
	executeCmd.Flags().Duration("lock-ttl", 30*time.Minute, "signer lock TTL")
	root.AddCommand(executeCmd)

	quoteCmd := &cobra.Command{
		Use:   "quote",
		Short: "Select a route and quote an exact-input swap without signing",
		RunE:  runQuote,
	}
	quoteCmd.Flags().String("in", "", "input token address")
	quoteCmd.Flags().String("out", "", "output token address")
	quoteCmd.Flags().String("amount", "", "input amount in human units")
	addChainFlags(quoteCmd)
	root.AddCommand(quoteCmd)

	executionsCmd := &cobra.Command{
		Use:   "executions",
		Short: "Inspect recorded executions",
	}
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recent executions, newest first",
		RunE:  runExecutionsList,
	}
	listCmd.Flags().Int("limit", 20, "maximum executions to show")
	addStoreFlags(listCmd)
	getCmd := &cobra.Command{
		Use:   "get <execution-id>",
		Short: "Show one execution with its logs",
		Args:  cobra.ExactArgs(1),
		RunE:  runExecutionsGet,
	}
	addStoreFlags(getCmd)
	executionsCmd.AddCommand(listCmd, getCmd)
	root.AddCommand(executionsCmd)

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the execution log over HTTP",
		RunE:  runServe,
	}
	serveCmd.Flags().String("listen", ":8080", "HTTP listen address")
	addStoreFlags(serveCmd)
	root.AddCommand(serveCmd)

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the Postgres execution log schema",
		RunE:  runMigrate,
	}
	migrateCmd.Flags().String("pg-dsn", "", "Postgres DSN")
	migrateCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	root.AddCommand(migrateCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addChainFlags(cmd *cobra.Command) {
	cmd.Flags().String("rpc", "", "Polygon RPC URL")
	cmd.Flags().Int64("chain-id", 137, "chain id")
	cmd.Flags().StringSlice("fee-tiers", nil, "swap fee tiers to probe, in order (comma-separated)")
	if cmd.Flags().Lookup("log-level") == nil {
		cmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	}
}

func addStoreFlags(cmd *cobra.Command) {
	cmd.Flags().String("pg-dsn", "", "Postgres DSN, the JSONL journal is used when empty")
	cmd.Flags().String("journal", "./data/executions.jsonl", "JSONL execution journal path")
	if cmd.Flags().Lookup("log-level") == nil {
		cmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	}
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
