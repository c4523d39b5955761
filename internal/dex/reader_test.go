package dex_test

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"liquidityAgent/internal/chaintest"
	"liquidityAgent/internal/dex"
	"liquidityAgent/internal/model"
)

var (
	factory = common.HexToAddress("0x1F98431c8aD98523631AE4a59f267346ea31F984")
	pm      = common.HexToAddress("0xC36442b4a4522E871399CD717aBDD847Ab11FE88")
	wmatic  = common.HexToAddress("0x0d500B1d8E8eF31E21C99d1Db9A6444d3ADf1270")
	usdc    = common.HexToAddress("0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359")
	pool    = common.HexToAddress("0xA374094527e1673A86dE625aa59517c5dE346d32")
)

func newReader(t *testing.T, fake *chaintest.Chain, cacheSize int) *dex.Reader {
	t.Helper()
	r, err := dex.NewReader(fake, dex.ReaderConfig{
		Factory:         factory,
		PositionManager: pm,
		TokenCacheSize:  cacheSize,
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("new reader: %v", err)
	}
	return r
}

func poolState() model.PoolState {
	sqrtP, _ := new(big.Int).SetString("3543191142285914378072636784640", 10)
	return model.PoolState{
		Address:      pool,
		Token0:       wmatic,
		Token1:       usdc,
		Fee:          500,
		TickSpacing:  10,
		Liquidity:    big.NewInt(123456789),
		SqrtPriceX96: sqrtP,
		Tick:         -276324,
	}
}

func TestFetchPoolState(t *testing.T) {
	fake := chaintest.New()
	want := poolState()
	fake.AddPool(want)

	got, err := newReader(t, fake, 0).FetchPoolState(context.Background(), pool)
	if err != nil {
		t.Fatalf("fetch pool state: %v", err)
	}
	if got.Token0 != want.Token0 || got.Token1 != want.Token1 {
		t.Fatalf("tokens mismatch: %+v", got)
	}
	if got.Fee != 500 || got.TickSpacing != 10 || got.Tick != -276324 {
		t.Fatalf("scalars mismatch: %+v", got)
	}
	if got.SqrtPriceX96.Cmp(want.SqrtPriceX96) != 0 || got.Liquidity.Cmp(want.Liquidity) != 0 {
		t.Fatalf("big values mismatch: %+v", got)
	}
}

func TestFetchPoolStateRejectsUnorderedTokens(t *testing.T) {
	fake := chaintest.New()
	state := poolState()
	state.Token0, state.Token1 = state.Token1, state.Token0
	fake.AddPool(state)

	_, err := newReader(t, fake, 0).FetchPoolState(context.Background(), pool)
	if !errors.Is(err, model.ErrChainRead) {
		t.Fatalf("expected ErrChainRead, got %v", err)
	}
}

func TestFetchPoolStateMissingContract(t *testing.T) {
	_, err := newReader(t, chaintest.New(), 0).FetchPoolState(context.Background(), pool)
	if !errors.Is(err, model.ErrChainRead) {
		t.Fatalf("expected ErrChainRead, got %v", err)
	}
}

func TestFetchTokenMetaIsCached(t *testing.T) {
	fake := chaintest.New()
	fake.AddToken(usdc, "USDC", 6)
	r := newReader(t, fake, 16)

	for i := 0; i < 3; i++ {
		meta, err := r.FetchTokenMeta(context.Background(), usdc)
		if err != nil {
			t.Fatalf("fetch meta: %v", err)
		}
		if meta.Decimals != 6 || meta.Symbol != "USDC" {
			t.Fatalf("meta mismatch: %+v", meta)
		}
	}
	if n := fake.CallCount("decimals"); n != 1 {
		t.Fatalf("expected 1 decimals call, got %d", n)
	}
}

func TestFetchTokenMetaWithoutSymbol(t *testing.T) {
	fake := chaintest.New()
	erc20, err := dex.ERC20ABI()
	if err != nil {
		t.Fatalf("erc20 abi: %v", err)
	}
	fake.Return(usdc, erc20, "decimals", uint8(6))

	meta, err := newReader(t, fake, 0).FetchTokenMeta(context.Background(), usdc)
	if err != nil {
		t.Fatalf("fetch meta: %v", err)
	}
	if meta.Decimals != 6 || meta.Symbol != "" {
		t.Fatalf("meta mismatch: %+v", meta)
	}
}

func TestFetchTokenDecimals(t *testing.T) {
	fake := chaintest.New()
	fake.AddToken(usdc, "USDC", 6)
	r := newReader(t, fake, 16)

	decimals, err := r.FetchTokenDecimals(context.Background(), usdc)
	if err != nil {
		t.Fatalf("fetch decimals: %v", err)
	}
	if decimals != 6 {
		t.Fatalf("decimals = %d, want 6", decimals)
	}

	if _, err := r.FetchTokenDecimals(context.Background(), wmatic); !errors.Is(err, model.ErrChainRead) {
		t.Fatalf("expected ErrChainRead for missing token, got %v", err)
	}
}

func TestFetchTokenSymbol(t *testing.T) {
	fake := chaintest.New()
	fake.AddToken(usdc, "USDC", 6)

	symbol, err := newReader(t, fake, 0).FetchTokenSymbol(context.Background(), usdc)
	if err != nil {
		t.Fatalf("fetch symbol: %v", err)
	}
	if symbol != "USDC" {
		t.Fatalf("symbol = %q, want USDC", symbol)
	}
}

func TestFetchTokenSymbolBytes32Fallback(t *testing.T) {
	fake := chaintest.New()
	mkr := common.HexToAddress("0x6f7C932e7684666C9fd1d44527765433e01fF61d")
	fake.AddBytes32Token(mkr, "MKR", 18)
	r := newReader(t, fake, 16)

	symbol, err := r.FetchTokenSymbol(context.Background(), mkr)
	if err != nil {
		t.Fatalf("fetch symbol: %v", err)
	}
	if symbol != "MKR" {
		t.Fatalf("symbol = %q, want MKR", symbol)
	}

	meta, err := r.FetchTokenMeta(context.Background(), mkr)
	if err != nil {
		t.Fatalf("fetch meta: %v", err)
	}
	if meta.Decimals != 18 || meta.Symbol != "MKR" {
		t.Fatalf("meta mismatch: %+v", meta)
	}
}

func TestFetchTokenSymbolMissing(t *testing.T) {
	fake := chaintest.New()
	if _, err := newReader(t, fake, 0).FetchTokenSymbol(context.Background(), usdc); err == nil {
		t.Fatalf("expected error for token without symbol")
	}
}

func TestGetPool(t *testing.T) {
	fake := chaintest.New()
	f := fake.AddFactory(factory)
	f.SetPool(wmatic, usdc, 500, pool)
	r := newReader(t, fake, 0)

	got, err := r.GetPool(context.Background(), usdc, wmatic, 500)
	if err != nil {
		t.Fatalf("get pool: %v", err)
	}
	if got != pool {
		t.Fatalf("pool mismatch: %s", got.Hex())
	}

	got, err = r.GetPool(context.Background(), usdc, wmatic, 3000)
	if err != nil {
		t.Fatalf("get pool: %v", err)
	}
	if got != (common.Address{}) {
		t.Fatalf("expected zero address, got %s", got.Hex())
	}
}

func TestFetchPosition(t *testing.T) {
	fake := chaintest.New()
	fake.AddPosition(pm, model.Position{
		TokenID:     big.NewInt(4242),
		Token0:      wmatic,
		Token1:      usdc,
		Fee:         500,
		TickLower:   -276400,
		TickUpper:   -276200,
		Liquidity:   big.NewInt(987654321),
		TokensOwed0: big.NewInt(3),
	})
	r := newReader(t, fake, 0)

	pos, err := r.FetchPosition(context.Background(), big.NewInt(4242))
	if err != nil {
		t.Fatalf("fetch position: %v", err)
	}
	if pos.Fee != 500 || pos.TickLower != -276400 || pos.TickUpper != -276200 {
		t.Fatalf("position mismatch: %+v", pos)
	}
	if pos.Liquidity.Int64() != 987654321 || pos.TokensOwed0.Int64() != 3 {
		t.Fatalf("position amounts mismatch: %+v", pos)
	}

	if _, err := r.FetchPosition(context.Background(), big.NewInt(1)); !errors.Is(err, model.ErrChainRead) {
		t.Fatalf("expected ErrChainRead for unknown token id, got %v", err)
	}
}
