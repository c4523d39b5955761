package engine

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"liquidityAgent/internal/chaintest"
	"liquidityAgent/internal/dex"
	"liquidityAgent/internal/execlog"
	"liquidityAgent/internal/lock"
	"liquidityAgent/internal/model"
	"liquidityAgent/internal/position"
	"liquidityAgent/internal/submit"
	"liquidityAgent/internal/txbuilder"
)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

var (
	factoryAddr = common.HexToAddress("0x1F98431c8aD98523631AE4a59f267346ea31F984")
	pmAddr      = common.HexToAddress("0xC36442b4a4522E871399CD717aBDD847Ab11FE88")
	routerAddr  = common.HexToAddress("0xE592427A0AEce92De3Edee1F18E0157C05861564")
	quoterAddr  = common.HexToAddress("0x61fFE014bA17989E743c5F6cB21bF9697530B21e")
	wmatic      = common.HexToAddress("0x0d500B1d8E8eF31E21C99d1Db9A6444d3ADf1270")
	usdc        = common.HexToAddress("0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359")
	poolAddr    = common.HexToAddress("0xA374094527e1673A86dE625aa59517c5dE346d32")
	missingPool = common.HexToAddress("0x00000000000000000000000000000000DeaDBeef")
)

type testEnv struct {
	chain   *chaintest.Chain
	factory *chaintest.Factory
	store   *execlog.MemoryStore
	engine  *Engine
	signer  common.Address
}

type envOption func(*Deps)

func newEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	fake := chaintest.New()
	fake.AddToken(wmatic, "WMATIC", 18)
	fake.AddToken(usdc, "USDC", 6)
	factory := fake.AddFactory(factoryAddr)
	factory.SetPool(wmatic, usdc, 3000, poolAddr)
	fake.AddPool(model.PoolState{
		Address:      poolAddr,
		Token0:       wmatic,
		Token1:       usdc,
		Fee:          3000,
		TickSpacing:  60,
		Liquidity:    big.NewInt(5_000_000_000),
		SqrtPriceX96: new(big.Int).Set(position.Q96),
		Tick:         0,
	})
	fake.SetQuote(quoterAddr, big.NewInt(1_480_000))

	reader, err := dex.NewReader(fake, dex.ReaderConfig{Factory: factoryAddr, PositionManager: pmAddr, TokenCacheSize: 32}, zap.NewNop())
	require.NoError(t, err)
	builder := txbuilder.New(txbuilder.Config{
		PositionManager: pmAddr,
		SwapRouter:      routerAddr,
		Quoter:          quoterAddr,
	}, reader, fake, zap.NewNop())

	key, err := submit.ParsePrivateKey(testKey)
	require.NoError(t, err)
	submitter, err := submit.New(fake, key, submit.Config{
		ChainID:        big.NewInt(137),
		ConfirmTimeout: time.Second,
		PollInterval:   5 * time.Millisecond,
	}, zap.NewNop())
	require.NoError(t, err)

	store := execlog.NewMemoryStore()
	deps := Deps{Reader: reader, Builder: builder, Submitter: submitter, Store: store}
	for _, opt := range opts {
		opt(&deps)
	}

	eng, err := New(deps, Config{}, zap.NewNop())
	require.NoError(t, err)
	return &testEnv{chain: fake, factory: factory, store: store, engine: eng, signer: submitter.Address()}
}

func swapCommand() model.Swap {
	return model.Swap{
		InputToken:   wmatic,
		OutputToken:  usdc,
		SwapAmountIn: decimal.RequireFromString("1.5"),
	}
}

// mintCommand lists USDC first so amounts must be reordered onto the pool.
func mintCommand(pool common.Address) model.MintPosition {
	return model.MintPosition{
		TokenAAmount:   decimal.RequireFromString("2"),
		TokenBAmount:   decimal.RequireFromString("2"),
		TokenAAddress:  usdc,
		TokenBAddress:  wmatic,
		TokenADecimals: 6,
		TokenBDecimals: 18,
		PoolAddress:    pool,
	}
}

func (env *testEnv) onlyExecution(t *testing.T) model.Execution {
	t.Helper()
	execs, err := env.store.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	return execs[0]
}

func maxCommand(logs []model.LogEntry) int {
	max := 0
	for _, entry := range logs {
		if entry.Command > max {
			max = entry.Command
		}
	}
	return max
}

func commandGroups(logs []model.LogEntry) map[int]bool {
	groups := make(map[int]bool)
	for _, entry := range logs {
		if entry.Command > 0 {
			groups[entry.Command] = true
		}
	}
	return groups
}

type mintArgs struct {
	Token0         common.Address
	Token1         common.Address
	Fee            *big.Int
	TickLower      *big.Int
	TickUpper      *big.Int
	Amount0Desired *big.Int
	Amount1Desired *big.Int
	Amount0Min     *big.Int
	Amount1Min     *big.Int
	Recipient      common.Address
	Deadline       *big.Int
}

func TestExecuteSwapThenMint(t *testing.T) {
	env := newEnv(t)
	batch := model.CommandBatch{
		Summary:  "swap then provide",
		Commands: []model.Command{swapCommand(), mintCommand(poolAddr)},
	}

	receipts, err := env.engine.Execute(context.Background(), batch)
	require.NoError(t, err)
	require.Len(t, receipts, 2)
	require.Equal(t, 1, receipts[0].Command)
	require.Equal(t, model.KindSwap, receipts[0].Kind)
	require.Equal(t, "exactInputSingle", receipts[0].Method)
	require.Equal(t, 2, receipts[1].Command)
	require.Equal(t, model.KindMintPosition, receipts[1].Kind)
	require.Equal(t, "mint", receipts[1].Method)

	exec := env.onlyExecution(t)
	require.Equal(t, model.StatusCompleted, exec.Status)
	require.Empty(t, exec.Error)
	require.NotNil(t, exec.EndTime)
	require.True(t, exec.EndTime.After(exec.StartTime))
	require.Equal(t, map[int]bool{1: true, 2: true}, commandGroups(exec.Logs))
	for _, entry := range exec.Logs {
		require.Equal(t, model.LogTypeLog, entry.Type)
	}

	// approve + swap, then two approvals + mint
	sent := env.chain.Sent()
	require.Len(t, sent, 5)
	require.Equal(t, wmatic, *sent[0].To())
	require.Equal(t, routerAddr, *sent[1].To())
	require.Equal(t, usdc, *sent[2].To())
	require.Equal(t, wmatic, *sent[3].To())
	require.Equal(t, pmAddr, *sent[4].To())

	pmABI, err := dex.PositionManagerABI()
	require.NoError(t, err)
	method, err := pmABI.MethodById(sent[4].Data()[:4])
	require.NoError(t, err)
	require.Equal(t, "mint", method.Name)
	values, err := method.Inputs.Unpack(sent[4].Data()[4:])
	require.NoError(t, err)
	params := abi.ConvertType(values[0], new(mintArgs)).(*mintArgs)
	require.Equal(t, wmatic, params.Token0)
	require.Equal(t, usdc, params.Token1)
	require.Equal(t, int64(-120), params.TickLower.Int64())
	require.Equal(t, int64(120), params.TickUpper.Int64())
	require.Equal(t, env.signer, params.Recipient)
	// USDC is token1 and the binding side: 2 USDC = 2e6 base units.
	require.LessOrEqual(t, params.Amount1Desired.Cmp(big.NewInt(2_000_000)), 0)
	require.Positive(t, params.Amount1Desired.Sign())
}

func TestExecuteFailingQuote(t *testing.T) {
	env := newEnv(t)
	env.chain.FailQuote(quoterAddr, errors.New("execution reverted: SPL"))
	batch := model.CommandBatch{
		Summary:  "swap then provide",
		Commands: []model.Command{swapCommand(), mintCommand(poolAddr)},
	}

	receipts, err := env.engine.Execute(context.Background(), batch)
	require.Error(t, err)
	require.Empty(t, receipts)
	require.ErrorIs(t, err, model.ErrChainRead)

	var cerr *model.CommandError
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, 1, cerr.Index)
	require.Equal(t, model.KindSwap, cerr.Kind)
	require.Equal(t, model.StageQuote, cerr.Stage)

	exec := env.onlyExecution(t)
	require.Equal(t, model.StatusFailed, exec.Status)
	require.Equal(t, err.Error(), exec.Error)
	require.Equal(t, 1, maxCommand(exec.Logs))
	last := exec.Logs[len(exec.Logs)-1]
	require.Equal(t, model.LogTypeError, last.Type)
	require.Equal(t, 1, last.Command)
	require.Contains(t, string(last.Data), model.ErrChainRead.Error())
	require.Empty(t, env.chain.Sent())
}

func TestExecuteStopsAtFirstFailure(t *testing.T) {
	env := newEnv(t)
	batch := model.CommandBatch{
		Summary: "second command targets an unknown pool",
		Commands: []model.Command{
			swapCommand(),
			mintCommand(missingPool),
			swapCommand(),
		},
	}

	receipts, err := env.engine.Execute(context.Background(), batch)
	require.ErrorIs(t, err, model.ErrChainRead)
	require.Len(t, receipts, 1)

	var cerr *model.CommandError
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, 2, cerr.Index)
	require.Equal(t, model.StageRead, cerr.Stage)

	exec := env.onlyExecution(t)
	require.Equal(t, model.StatusFailed, exec.Status)
	require.Equal(t, 2, maxCommand(exec.Logs))
	require.Equal(t, map[int]bool{1: true, 2: true}, commandGroups(exec.Logs))

	// swap approve + swap, then the two mint approvals before the pool read
	require.Len(t, env.chain.Sent(), 4)
	require.Equal(t, 1, env.chain.CallCount("quoteExactInputSingle"))
}

type dataCollection struct{}

func (dataCollection) Kind() model.CommandKind { return "DATA_COLLECTION" }
func (dataCollection) Validate() error         { return nil }

func TestExecuteRejectsUnknownCommandBeforeChainAccess(t *testing.T) {
	env := newEnv(t)
	batch := model.CommandBatch{
		Summary:  "unknown second command",
		Commands: []model.Command{swapCommand(), dataCollection{}},
	}

	receipts, err := env.engine.Execute(context.Background(), batch)
	require.ErrorIs(t, err, model.ErrUnknownCommand)
	require.Empty(t, receipts)

	var cerr *model.CommandError
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, 2, cerr.Index)
	require.Equal(t, model.StageValidate, cerr.Stage)

	require.Empty(t, env.chain.Calls())
	require.Empty(t, env.chain.Sent())

	exec := env.onlyExecution(t)
	require.Equal(t, model.StatusFailed, exec.Status)
}

func TestExecuteRejectsNilCommand(t *testing.T) {
	env := newEnv(t)
	batch := model.CommandBatch{
		Summary:  "nil second command",
		Commands: []model.Command{swapCommand(), nil},
	}

	receipts, err := env.engine.Execute(context.Background(), batch)
	require.ErrorIs(t, err, model.ErrInvalidCommand)
	require.Empty(t, receipts)

	var cerr *model.CommandError
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, 2, cerr.Index)
	require.Equal(t, model.StageValidate, cerr.Stage)
	require.Empty(t, env.chain.Sent())

	exec := env.onlyExecution(t)
	require.Equal(t, model.StatusFailed, exec.Status)
	require.NotEmpty(t, exec.Error)
	last := exec.Logs[len(exec.Logs)-1]
	require.Equal(t, model.LogTypeError, last.Type)
	require.Equal(t, 2, last.Command)
}

func TestExecuteRejectsEmptyBatch(t *testing.T) {
	env := newEnv(t)
	_, err := env.engine.Execute(context.Background(), model.CommandBatch{Summary: "nothing"})
	require.ErrorIs(t, err, model.ErrInvalidCommand)

	execs, err := env.store.List(context.Background(), 0)
	require.NoError(t, err)
	require.Empty(t, execs)
}

func TestExecuteRemoveLiquidity(t *testing.T) {
	env := newEnv(t)
	env.chain.AddPosition(pmAddr, model.Position{
		TokenID:   big.NewInt(812),
		Token0:    wmatic,
		Token1:    usdc,
		Fee:       3000,
		TickLower: -120,
		TickUpper: 120,
		Liquidity: big.NewInt(1_000_000_000),
	})

	batch := model.CommandBatch{
		Summary:  "close half",
		Commands: []model.Command{model.RemoveLiquidity{TokenID: 812, PercentageBps: 5000, PoolAddress: missingPool}},
	}
	receipts, err := env.engine.Execute(context.Background(), batch)
	require.NoError(t, err)
	require.Len(t, receipts, 1)
	require.Equal(t, "multicall", receipts[0].Method)

	sent := env.chain.Sent()
	require.Len(t, sent, 1)
	require.Equal(t, pmAddr, *sent[0].To())

	exec := env.onlyExecution(t)
	require.Equal(t, model.StatusCompleted, exec.Status)
	var sawMismatch bool
	for _, entry := range exec.Logs {
		if entry.Message == "Requested pool differs from position pool; using position pool" {
			sawMismatch = true
		}
	}
	require.True(t, sawMismatch)
}

func TestExecuteAddLiquidityFetchesMissingDecimals(t *testing.T) {
	env := newEnv(t)
	batch := model.CommandBatch{
		Summary: "top up",
		Commands: []model.Command{model.AddLiquidity{
			TokenID:       812,
			TokenAAmount:  decimal.RequireFromString("1"),
			TokenBAmount:  decimal.RequireFromString("1"),
			TokenAAddress: wmatic,
			TokenBAddress: usdc,
			PoolAddress:   poolAddr,
		}},
	}

	receipts, err := env.engine.Execute(context.Background(), batch)
	require.NoError(t, err)
	require.Len(t, receipts, 1)
	require.Equal(t, "increaseLiquidity", receipts[0].Method)
	require.Equal(t, 2, env.chain.CallCount("decimals"))
}

func TestExecuteCanceledBeforeDispatch(t *testing.T) {
	env := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := env.engine.Execute(ctx, model.CommandBatch{Summary: "late", Commands: []model.Command{swapCommand()}})
	require.ErrorIs(t, err, context.Canceled)

	var cerr *model.CommandError
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, model.StageDispatch, cerr.Stage)

	exec := env.onlyExecution(t)
	require.Equal(t, model.StatusFailed, exec.Status)
	require.Empty(t, env.chain.Sent())
}

type recordingLocker struct {
	keys     []string
	released int
	err      error
}

func (l *recordingLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if l.err != nil {
		return nil, l.err
	}
	l.keys = append(l.keys, key)
	return func() { l.released++ }, nil
}

func TestExecuteTakesSignerLock(t *testing.T) {
	locker := &recordingLocker{}
	env := newEnv(t, func(d *Deps) { d.Locker = locker })

	_, err := env.engine.Execute(context.Background(), model.CommandBatch{Summary: "swap", Commands: []model.Command{swapCommand()}})
	require.NoError(t, err)
	require.Equal(t, []string{lock.SignerKey(env.signer)}, locker.keys)
	require.Equal(t, 1, locker.released)
}

func TestExecuteLockHeld(t *testing.T) {
	locker := &recordingLocker{err: lock.ErrLockHeld}
	env := newEnv(t, func(d *Deps) { d.Locker = locker })

	_, err := env.engine.Execute(context.Background(), model.CommandBatch{Summary: "swap", Commands: []model.Command{swapCommand()}})
	require.ErrorIs(t, err, lock.ErrLockHeld)
	execs, err := env.store.List(context.Background(), 0)
	require.NoError(t, err)
	require.Empty(t, execs)
	require.Empty(t, env.chain.Sent())
}

// flakyStore fails every append; the engine must carry on regardless.
type flakyStore struct {
	*execlog.MemoryStore
}

func (flakyStore) Append(ctx context.Context, id string, entry model.LogEntry) error {
	return errors.New("disk full")
}

func TestExecuteSurvivesLogStoreFailures(t *testing.T) {
	store := flakyStore{execlog.NewMemoryStore()}
	env := newEnv(t, func(d *Deps) { d.Store = store })

	receipts, err := env.engine.Execute(context.Background(), model.CommandBatch{Summary: "swap", Commands: []model.Command{swapCommand()}})
	require.NoError(t, err)
	require.Len(t, receipts, 1)

	execs, err := store.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	require.Equal(t, model.StatusCompleted, execs[0].Status)
	require.Empty(t, execs[0].Logs)
}
