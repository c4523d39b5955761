package dex

import (
	"bytes"
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"liquidityAgent/internal/model"
)

// FetchTokenMeta loads decimals and symbol for token. Decimals are required,
// the symbol is best effort. Results are cached since ERC20 metadata is immutable.
func (r *Reader) FetchTokenMeta(ctx context.Context, token common.Address) (model.TokenMeta, error) {
	if r.tokens != nil {
		if meta, ok := r.tokens.Get(token); ok {
			return meta, nil
		}
	}

	decimals, err := r.fetchDecimals(ctx, token)
	if err != nil {
		return model.TokenMeta{}, err
	}
	meta := model.TokenMeta{Address: token, Decimals: decimals}

	if symbol, err := r.fetchSymbol(ctx, token); err == nil {
		meta.Symbol = symbol
	} else {
		r.logger.Debug("symbol call failed", zap.String("token", token.Hex()), zap.Error(err))
	}

	if r.tokens != nil {
		r.tokens.Add(token, meta)
	}
	return meta, nil
}

// FetchTokenDecimals returns the token's decimals.
func (r *Reader) FetchTokenDecimals(ctx context.Context, token common.Address) (uint8, error) {
	meta, err := r.FetchTokenMeta(ctx, token)
	if err != nil {
		return 0, err
	}
	return meta.Decimals, nil
}

// FetchTokenSymbol returns the token's symbol, falling back to the bytes32 form.
func (r *Reader) FetchTokenSymbol(ctx context.Context, token common.Address) (string, error) {
	if r.tokens != nil {
		if meta, ok := r.tokens.Get(token); ok && meta.Symbol != "" {
			return meta.Symbol, nil
		}
	}
	return r.fetchSymbol(ctx, token)
}

func (r *Reader) fetchDecimals(ctx context.Context, token common.Address) (uint8, error) {
	erc20, err := ERC20ABI()
	if err != nil {
		return 0, fmt.Errorf("parse erc20 abi: %w", err)
	}
	values, err := CallView(ctx, r.caller, token, erc20, "decimals")
	if err != nil {
		return 0, err
	}
	decimals, err := asUint8(values[0])
	if err != nil {
		return 0, malformed("decimals", err)
	}
	return decimals, nil
}

func (r *Reader) fetchSymbol(ctx context.Context, token common.Address) (string, error) {
	erc20, err := ERC20ABI()
	if err != nil {
		return "", fmt.Errorf("parse erc20 abi: %w", err)
	}
	values, err := CallView(ctx, r.caller, token, erc20, "symbol")
	if err == nil {
		if symbol, ok := values[0].(string); ok {
			return symbol, nil
		}
	}

	bytes32ABI, abiErr := ERC20Bytes32ABI()
	if abiErr != nil {
		return "", fmt.Errorf("parse erc20 bytes32 abi: %w", abiErr)
	}
	values, err = CallView(ctx, r.caller, token, bytes32ABI, "symbol")
	if err != nil {
		return "", err
	}
	symbol, ok := bytes32ToString(values[0])
	if !ok {
		return "", malformed("symbol", fmt.Errorf("unsupported symbol type %T", values[0]))
	}
	return symbol, nil
}

func bytes32ToString(value interface{}) (string, bool) {
	switch v := value.(type) {
	case [32]byte:
		return string(bytes.TrimRight(v[:], "\x00")), true
	case []byte:
		return string(bytes.TrimRight(v, "\x00")), true
	default:
		return "", false
	}
}

func asAddress(value interface{}) (common.Address, error) {
	switch v := value.(type) {
	case common.Address:
		return v, nil
	case *common.Address:
		return *v, nil
	default:
		return common.Address{}, fmt.Errorf("unsupported address type %T", value)
	}
}

func asBigInt(value interface{}) (*big.Int, error) {
	switch v := value.(type) {
	case *big.Int:
		return new(big.Int).Set(v), nil
	case big.Int:
		return new(big.Int).Set(&v), nil
	case uint8:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint16:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint32:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint64:
		return new(big.Int).SetUint64(v), nil
	case int32:
		return big.NewInt(int64(v)), nil
	case int64:
		return big.NewInt(v), nil
	default:
		return nil, fmt.Errorf("unsupported int type %T", value)
	}
}

func asUint8(value interface{}) (uint8, error) {
	switch v := value.(type) {
	case uint8:
		return v, nil
	case *big.Int:
		if !v.IsUint64() || v.Uint64() > 255 {
			return 0, fmt.Errorf("uint8 overflow: %s", v.String())
		}
		return uint8(v.Uint64()), nil
	default:
		return 0, fmt.Errorf("unsupported uint8 type %T", value)
	}
}

func uint24FromBig(value *big.Int) (uint32, error) {
	if value.Sign() < 0 || value.BitLen() > 24 {
		return 0, fmt.Errorf("uint24 overflow: %s", value.String())
	}
	return uint32(value.Uint64()), nil
}

func int24FromBig(value *big.Int) (int32, error) {
	min := big.NewInt(-1 << 23)
	max := big.NewInt((1 << 23) - 1)
	if value.Cmp(min) < 0 || value.Cmp(max) > 0 {
		return 0, fmt.Errorf("int24 overflow: %s", value.String())
	}
	return int32(value.Int64()), nil
}
