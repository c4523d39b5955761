package main

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/params"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"liquidityAgent/internal/chain"
	"liquidityAgent/internal/config"
	"liquidityAgent/internal/dex"
	"liquidityAgent/internal/execlog"
	"liquidityAgent/internal/storage"
	"liquidityAgent/internal/storage/postgres"
	"liquidityAgent/internal/txbuilder"
)

const tokenCacheSize = 256

func loadConfig(cmd *cobra.Command) (config.Config, *zap.Logger, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return config.Config{}, nil, err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}

// openStore returns the Postgres store when a DSN is configured and the
// JSONL journal otherwise.
func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (execlog.Store, func(), error) {
	if cfg.PGDSN != "" {
		store, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("execution store", zap.String("backend", "postgres"))
		return store, store.Shutdown, nil
	}

	store, err := storage.NewJournalStore(cfg.Journal, logger)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("execution store", zap.String("backend", "journal"), zap.String("path", cfg.Journal))
	return store, func() {}, nil
}

type chainDeps struct {
	client    *chain.Client
	reader    *dex.Reader
	builder   *txbuilder.Builder
	contracts config.Contracts
}

func connectChain(ctx context.Context, cfg config.Config, logger *zap.Logger) (*chainDeps, error) {
	contracts, err := cfg.Contracts()
	if err != nil {
		return nil, err
	}

	client, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("connect rpc: %w", err)
	}

	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("chain id: %w", err)
	}
	if chainID.Cmp(big.NewInt(cfg.ChainID)) != 0 {
		client.Close()
		return nil, fmt.Errorf("rpc chain id %s does not match configured %d", chainID, cfg.ChainID)
	}

	reader, err := dex.NewReader(client, dex.ReaderConfig{
		Factory:         contracts.Factory,
		PositionManager: contracts.PositionManager,
		TokenCacheSize:  tokenCacheSize,
	}, logger)
	if err != nil {
		client.Close()
		return nil, err
	}

	builder := txbuilder.New(txbuilder.Config{
		PositionManager: contracts.PositionManager,
		SwapRouter:      contracts.SwapRouter,
		Quoter:          contracts.Quoter,
		FeeTiers:        contracts.FeeTiers,
	}, reader, client, logger)

	return &chainDeps{client: client, reader: reader, builder: builder, contracts: contracts}, nil
}

func gwei(v int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(v), big.NewInt(params.GWei))
}
