// Package engine runs command batches: one execution record per batch,
// commands strictly in order, first failure aborts the rest.
package engine

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"liquidityAgent/internal/execlog"
	"liquidityAgent/internal/lock"
	"liquidityAgent/internal/model"
	"liquidityAgent/internal/position"
	"liquidityAgent/internal/txbuilder"
)

// Reader is the chain state the handlers consult.
type Reader interface {
	FetchPoolState(ctx context.Context, pool common.Address) (model.PoolState, error)
	FetchTokenMeta(ctx context.Context, token common.Address) (model.TokenMeta, error)
	FetchTokenDecimals(ctx context.Context, token common.Address) (uint8, error)
	FetchTokenSymbol(ctx context.Context, token common.Address) (string, error)
	GetPool(ctx context.Context, tokenA, tokenB common.Address, fee uint32) (common.Address, error)
	FetchPosition(ctx context.Context, tokenID *big.Int) (model.Position, error)
}

// Submitter signs and confirms transactions for one account.
type Submitter interface {
	Address() common.Address
	Approve(ctx context.Context, payload model.CallPayload) (model.Receipt, error)
	Submit(ctx context.Context, payload model.CallPayload) (model.Receipt, error)
}

// Locker takes a lock shared with other processes.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// Config holds execution policy. Zero values select the defaults.
type Config struct {
	TickWindow  int32
	SlippageBps uint32
	Deadline    time.Duration
	LockTTL     time.Duration
}

// Deps are the collaborators an Engine drives. Locker is optional.
type Deps struct {
	Reader    Reader
	Builder   *txbuilder.Builder
	Submitter Submitter
	Store     execlog.Store
	Locker    Locker
}

type Engine struct {
	mu        sync.Mutex
	reader    Reader
	builder   *txbuilder.Builder
	calc      *position.Calculator
	submitter Submitter
	store     execlog.Store
	locker    Locker
	cfg       Config
	logger    *zap.Logger
	now       func() time.Time
}

func New(deps Deps, cfg Config, logger *zap.Logger) (*Engine, error) {
	if deps.Reader == nil {
		return nil, fmt.Errorf("reader is nil")
	}
	if deps.Builder == nil {
		return nil, fmt.Errorf("builder is nil")
	}
	if deps.Submitter == nil {
		return nil, fmt.Errorf("submitter is nil")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("execution store is nil")
	}
	if cfg.TickWindow <= 0 {
		cfg.TickWindow = position.DefaultTickWindow
	}
	if cfg.SlippageBps == 0 {
		cfg.SlippageBps = txbuilder.DefaultSlippageBps
	}
	if cfg.SlippageBps >= 10000 {
		return nil, fmt.Errorf("slippage %d bps must be below 10000", cfg.SlippageBps)
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = txbuilder.DefaultDeadline
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Engine{
		reader:    deps.Reader,
		builder:   deps.Builder,
		calc:      position.NewCalculator(cfg.TickWindow),
		submitter: deps.Submitter,
		store:     deps.Store,
		locker:    deps.Locker,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// Execute runs batch and returns one receipt per successful command. On
// failure the returned error is a *model.CommandError and the receipts of
// the commands that completed before it are returned alongside.
func (e *Engine) Execute(ctx context.Context, batch model.CommandBatch) ([]model.Receipt, error) {
	if len(batch.Commands) == 0 {
		return nil, fmt.Errorf("%w: batch has no commands", model.ErrInvalidCommand)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.locker != nil {
		release, err := e.locker.Acquire(ctx, lock.SignerKey(e.submitter.Address()), e.cfg.LockTTL)
		if err != nil {
			return nil, fmt.Errorf("acquire signer lock: %w", err)
		}
		defer release()
	}

	// Recording must survive caller cancellation.
	storeCtx := context.WithoutCancel(ctx)
	id, err := e.store.Open(storeCtx, batch)
	if err != nil {
		return nil, fmt.Errorf("open execution: %w", err)
	}
	exec := newExecution(storeCtx, id, e.store, e.logger)
	exec.batchLog("Execution started", map[string]any{
		"summary":  batch.Summary,
		"commands": len(batch.Commands),
	})

	if cerr := validateBatch(batch); cerr != nil {
		exec.command(cerr.Index, cerr.Kind).report(cerr)
		exec.close(cerr.Error())
		return nil, cerr
	}

	receipts := make([]model.Receipt, 0, len(batch.Commands))
	for i, cmd := range batch.Commands {
		scope := exec.command(i+1, cmd.Kind())
		if err := ctx.Err(); err != nil {
			cerr := scope.fail(model.StageDispatch, err)
			exec.close(cerr.Error())
			return receipts, cerr
		}

		scope.log("Executing command", map[string]any{"command": cmd.Kind()})
		receipt, cerr := e.dispatch(ctx, scope, cmd)
		if cerr != nil {
			exec.close(cerr.Error())
			return receipts, cerr
		}
		receipt.Command = i + 1
		receipt.Kind = cmd.Kind()
		receipts = append(receipts, receipt)
	}

	exec.batchLog("Execution completed", map[string]any{"receipts": len(receipts)})
	exec.close("")
	return receipts, nil
}

func (e *Engine) dispatch(ctx context.Context, scope *commandScope, cmd model.Command) (model.Receipt, *model.CommandError) {
	switch c := cmd.(type) {
	case model.MintPosition:
		return e.mintPosition(ctx, scope, c)
	case model.AddLiquidity:
		return e.addLiquidity(ctx, scope, c)
	case model.RemoveLiquidity:
		return e.removeLiquidity(ctx, scope, c)
	case model.Swap:
		return e.swap(ctx, scope, c)
	default:
		return model.Receipt{}, scope.fail(model.StageValidate, fmt.Errorf("%w: %s", model.ErrUnknownCommand, cmd.Kind()))
	}
}

// validateBatch rejects the whole batch before any chain interaction when a
// command is of an unknown kind or has invalid parameters.
func validateBatch(batch model.CommandBatch) *model.CommandError {
	for i, cmd := range batch.Commands {
		if cmd == nil {
			return &model.CommandError{Index: i + 1, Stage: model.StageValidate, Err: fmt.Errorf("%w: nil command", model.ErrInvalidCommand)}
		}
		switch cmd.(type) {
		case model.MintPosition, model.AddLiquidity, model.RemoveLiquidity, model.Swap:
		default:
			return &model.CommandError{Index: i + 1, Kind: cmd.Kind(), Stage: model.StageValidate, Err: fmt.Errorf("%w: %s", model.ErrUnknownCommand, cmd.Kind())}
		}
		if err := cmd.Validate(); err != nil {
			return &model.CommandError{Index: i + 1, Kind: cmd.Kind(), Stage: model.StageValidate, Err: err}
		}
	}
	return nil
}

func (e *Engine) deadline() *big.Int {
	return txbuilder.Deadline(e.now(), e.cfg.Deadline)
}
