package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"liquidityAgent/internal/amount"
	"liquidityAgent/internal/config"
)

// quoteResult is what the quote subcommand prints.
type quoteResult struct {
	Pool         common.Address `json:"pool"`
	Fee          uint32         `json:"fee"`
	AmountInRaw  string         `json:"amount_in_raw"`
	AmountOutRaw string         `json:"amount_out_raw"`
	AmountOut    string         `json:"amount_out"`
	InSymbol     string         `json:"in_symbol"`
	OutSymbol    string         `json:"out_symbol"`
}

func runQuote(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		return err
	}

	inArg, _ := cmd.Flags().GetString("in")
	outArg, _ := cmd.Flags().GetString("out")
	amountArg, _ := cmd.Flags().GetString("amount")
	tokens, err := config.ParseAddresses([]string{inArg, outArg})
	if err != nil {
		return err
	}
	if len(tokens) != 2 {
		return fmt.Errorf("--in and --out are required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := connectChain(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.client.Close()

	metaIn, err := deps.reader.FetchTokenMeta(ctx, tokens[0])
	if err != nil {
		return err
	}
	metaOut, err := deps.reader.FetchTokenMeta(ctx, tokens[1])
	if err != nil {
		return err
	}

	amountIn, err := amount.ParseRaw(amountArg, int(metaIn.Decimals))
	if err != nil {
		return err
	}

	route, err := deps.builder.SelectRoute(ctx, tokens[0], tokens[1])
	if err != nil {
		return err
	}
	quoted, err := deps.builder.Quote(ctx, route, amountIn)
	if err != nil {
		return err
	}

	logger.Info("quote",
		zap.String("pool", route.Pool.Hex()),
		zap.Uint32("fee", route.Fee),
		zap.String("amount_out", quoted.String()),
	)

	return printJSON(cmd.OutOrStdout(), quoteResult{
		Pool:         route.Pool,
		Fee:          route.Fee,
		AmountInRaw:  amountIn.String(),
		AmountOutRaw: quoted.String(),
		AmountOut:    amount.Format(quoted, metaOut.Decimals),
		InSymbol:     metaIn.Symbol,
		OutSymbol:    metaOut.Symbol,
	})
}
