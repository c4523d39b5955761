package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"liquidityAgent/internal/engine"
	"liquidityAgent/internal/lock"
	"liquidityAgent/internal/model"
	"liquidityAgent/internal/submit"
)

func runExecute(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if err := cfg.ValidateSigner(); err != nil {
		return err
	}

	batchPath, _ := cmd.Flags().GetString("batch")
	batch, err := readBatch(batchPath, cmd.InOrStdin())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := connectChain(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.client.Close()

	key, err := submit.ParsePrivateKey(cfg.PrivateKey)
	if err != nil {
		return err
	}
	submitter, err := submit.New(deps.client, key, submit.Config{
		ChainID:              big.NewInt(cfg.ChainID),
		MaxFeePerGas:         gwei(cfg.MaxFeeGwei),
		MaxPriorityFeePerGas: gwei(cfg.MaxPriorityFeeGwei),
		ConfirmTimeout:       cfg.ConfirmTimeout,
		PollInterval:         cfg.PollInterval,
	}, logger)
	if err != nil {
		return err
	}

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	engineDeps := engine.Deps{
		Reader:    deps.reader,
		Builder:   deps.builder,
		Submitter: submitter,
		Store:     store,
	}
	if cfg.RedisAddr != "" {
		locks, err := lock.New(ctx, lock.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err != nil {
			return err
		}
		defer locks.Close()
		engineDeps.Locker = locks
	}

	eng, err := engine.New(engineDeps, engine.Config{
		TickWindow:  int32(cfg.TickWindow),
		SlippageBps: uint32(cfg.SlippageBps),
		Deadline:    cfg.Deadline,
		LockTTL:     cfg.LockTTL,
	}, logger)
	if err != nil {
		return err
	}

	logger.Info("execute start",
		zap.String("signer", submitter.Address().Hex()),
		zap.String("summary", batch.Summary),
		zap.Int("commands", len(batch.Commands)),
	)

	receipts, execErr := eng.Execute(ctx, batch)
	if err := printJSON(cmd.OutOrStdout(), receipts); err != nil {
		return err
	}
	return execErr
}

// readBatch reads planner output from a file or stdin and decodes it.
func readBatch(path string, stdin io.Reader) (model.CommandBatch, error) {
	var (
		data []byte
		err  error
	)
	if path == "" || path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return model.CommandBatch{}, fmt.Errorf("read batch: %w", err)
	}

	raw, err := model.ExtractJSON(string(data))
	if err != nil {
		return model.CommandBatch{}, err
	}
	return model.ParseBatch([]byte(raw))
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
