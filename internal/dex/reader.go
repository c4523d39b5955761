package dex

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"liquidityAgent/internal/model"
)

// Caller is the eth_call side of a chain client.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// ReaderConfig holds the contract addresses the reader talks to.
type ReaderConfig struct {
	Factory         common.Address
	PositionManager common.Address
	TokenCacheSize  int
}

// Reader fetches pool, position and token state. Pool state is always read
// fresh; only immutable token metadata is cached.
type Reader struct {
	caller          Caller
	factory         common.Address
	positionManager common.Address
	tokens          *lru.Cache[common.Address, model.TokenMeta]
	logger          *zap.Logger
}

func NewReader(caller Caller, cfg ReaderConfig, logger *zap.Logger) (*Reader, error) {
	if caller == nil {
		return nil, fmt.Errorf("chain caller is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Reader{
		caller:          caller,
		factory:         cfg.Factory,
		positionManager: cfg.PositionManager,
		logger:          logger,
	}
	if cfg.TokenCacheSize > 0 {
		cache, err := lru.New[common.Address, model.TokenMeta](cfg.TokenCacheSize)
		if err != nil {
			return nil, fmt.Errorf("token cache: %w", err)
		}
		r.tokens = cache
	}
	return r, nil
}

// FetchPoolState issues the six pool reads concurrently and joins them.
func (r *Reader) FetchPoolState(ctx context.Context, pool common.Address) (model.PoolState, error) {
	poolABI, err := V3PoolABI()
	if err != nil {
		return model.PoolState{}, fmt.Errorf("parse pool abi: %w", err)
	}

	state := model.PoolState{Address: pool}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		values, err := CallView(gctx, r.caller, pool, poolABI, "token0")
		if err != nil {
			return err
		}
		if state.Token0, err = asAddress(values[0]); err != nil {
			return malformed("token0", err)
		}
		return nil
	})
	g.Go(func() error {
		values, err := CallView(gctx, r.caller, pool, poolABI, "token1")
		if err != nil {
			return err
		}
		if state.Token1, err = asAddress(values[0]); err != nil {
			return malformed("token1", err)
		}
		return nil
	})
	g.Go(func() error {
		values, err := CallView(gctx, r.caller, pool, poolABI, "fee")
		if err != nil {
			return err
		}
		fee, err := asBigInt(values[0])
		if err != nil {
			return malformed("fee", err)
		}
		if state.Fee, err = uint24FromBig(fee); err != nil {
			return malformed("fee", err)
		}
		return nil
	})
	g.Go(func() error {
		values, err := CallView(gctx, r.caller, pool, poolABI, "tickSpacing")
		if err != nil {
			return err
		}
		spacing, err := asBigInt(values[0])
		if err != nil {
			return malformed("tickSpacing", err)
		}
		if state.TickSpacing, err = int24FromBig(spacing); err != nil {
			return malformed("tickSpacing", err)
		}
		return nil
	})
	g.Go(func() error {
		values, err := CallView(gctx, r.caller, pool, poolABI, "liquidity")
		if err != nil {
			return err
		}
		if state.Liquidity, err = asBigInt(values[0]); err != nil {
			return malformed("liquidity", err)
		}
		return nil
	})
	g.Go(func() error {
		values, err := CallView(gctx, r.caller, pool, poolABI, "slot0")
		if err != nil {
			return err
		}
		if len(values) < 2 {
			return malformed("slot0", fmt.Errorf("expected 7 outputs, got %d", len(values)))
		}
		if state.SqrtPriceX96, err = asBigInt(values[0]); err != nil {
			return malformed("slot0", err)
		}
		tick, err := asBigInt(values[1])
		if err != nil {
			return malformed("slot0", err)
		}
		if state.Tick, err = int24FromBig(tick); err != nil {
			return malformed("slot0", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return model.PoolState{}, err
	}

	if state.Token0.Cmp(state.Token1) >= 0 {
		return model.PoolState{}, malformed("pool tokens", fmt.Errorf("token0 %s not below token1 %s", state.Token0.Hex(), state.Token1.Hex()))
	}
	if state.TickSpacing <= 0 {
		return model.PoolState{}, malformed("tickSpacing", fmt.Errorf("non-positive spacing %d", state.TickSpacing))
	}
	if state.SqrtPriceX96.Sign() == 0 {
		return model.PoolState{}, malformed("slot0", fmt.Errorf("pool %s is not initialized", pool.Hex()))
	}
	return state, nil
}

// GetPool asks the factory for the pool of a token pair and fee tier. A zero
// address means no such pool exists.
func (r *Reader) GetPool(ctx context.Context, tokenA, tokenB common.Address, fee uint32) (common.Address, error) {
	factoryABI, err := V3FactoryABI()
	if err != nil {
		return common.Address{}, fmt.Errorf("parse factory abi: %w", err)
	}
	values, err := CallView(ctx, r.caller, r.factory, factoryABI, "getPool", tokenA, tokenB, new(big.Int).SetUint64(uint64(fee)))
	if err != nil {
		return common.Address{}, err
	}
	pool, err := asAddress(values[0])
	if err != nil {
		return common.Address{}, malformed("getPool", err)
	}
	return pool, nil
}

// FetchPosition reads a position NFT from the position manager.
func (r *Reader) FetchPosition(ctx context.Context, tokenID *big.Int) (model.Position, error) {
	pmABI, err := PositionManagerABI()
	if err != nil {
		return model.Position{}, fmt.Errorf("parse position manager abi: %w", err)
	}
	values, err := CallView(ctx, r.caller, r.positionManager, pmABI, "positions", tokenID)
	if err != nil {
		return model.Position{}, err
	}
	if len(values) != 12 {
		return model.Position{}, malformed("positions", fmt.Errorf("expected 12 outputs, got %d", len(values)))
	}

	pos := model.Position{TokenID: new(big.Int).Set(tokenID)}
	if pos.Token0, err = asAddress(values[2]); err != nil {
		return model.Position{}, malformed("positions", err)
	}
	if pos.Token1, err = asAddress(values[3]); err != nil {
		return model.Position{}, malformed("positions", err)
	}

	ints := make([]*big.Int, 0, 6)
	for _, idx := range []int{4, 5, 6, 7, 10, 11} {
		v, err := asBigInt(values[idx])
		if err != nil {
			return model.Position{}, malformed("positions", err)
		}
		ints = append(ints, v)
	}
	if pos.Fee, err = uint24FromBig(ints[0]); err != nil {
		return model.Position{}, malformed("positions", err)
	}
	if pos.TickLower, err = int24FromBig(ints[1]); err != nil {
		return model.Position{}, malformed("positions", err)
	}
	if pos.TickUpper, err = int24FromBig(ints[2]); err != nil {
		return model.Position{}, malformed("positions", err)
	}
	pos.Liquidity = ints[3]
	pos.TokensOwed0 = ints[4]
	pos.TokensOwed1 = ints[5]
	return pos, nil
}

// CallView packs, calls and unpacks one view method. Transport and
// decoding failures are both reported as model.ErrChainRead.
func CallView(ctx context.Context, caller Caller, to common.Address, parsed abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	msg := ethereum.CallMsg{To: &to, Data: data}
	resp, err := caller.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: call %s on %s: %w", model.ErrChainRead, method, to.Hex(), err)
	}
	values, err := parsed.Unpack(method, resp)
	if err != nil {
		return nil, fmt.Errorf("%w: unpack %s from %s: %w", model.ErrChainRead, method, to.Hex(), err)
	}
	if len(values) == 0 {
		return nil, malformed(method, fmt.Errorf("empty response from %s", to.Hex()))
	}
	return values, nil
}

func malformed(field string, err error) error {
	return fmt.Errorf("%w: malformed %s: %w", model.ErrChainRead, field, err)
}
