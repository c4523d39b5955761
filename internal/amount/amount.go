package amount

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"liquidityAgent/internal/model"
)

// MaxDecimals is the largest precision an ERC20 can declare.
const MaxDecimals = 255

// ToRaw converts a human amount into base units, truncating anything past
// the token's precision.
func ToRaw(amount decimal.Decimal, decimals int) (*big.Int, error) {
	if err := checkDecimals(decimals); err != nil {
		return nil, err
	}
	if amount.IsNegative() {
		return nil, fmt.Errorf("%w: negative amount %s", model.ErrInvalidAmount, amount.String())
	}

	fixed := amount.Truncate(int32(decimals)).StringFixed(int32(decimals))
	whole, fraction, _ := strings.Cut(fixed, ".")
	if pad := decimals - len(fraction); pad > 0 {
		fraction += strings.Repeat("0", pad)
	}

	digits := strings.TrimLeft(whole+fraction, "0")
	if digits == "" {
		digits = "0"
	}
	raw, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, fmt.Errorf("%w: cannot parse %q", model.ErrInvalidAmount, digits)
	}
	return raw, nil
}

// ParseRaw parses a planner amount string and converts it to base units.
func ParseRaw(s string, decimals int) (*big.Int, error) {
	value, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %q is not a decimal: %w", model.ErrInvalidAmount, s, err)
	}
	return ToRaw(value, decimals)
}

// ToDecimal converts base units back into a human amount.
func ToDecimal(raw *big.Int, decimals int) (decimal.Decimal, error) {
	if err := checkDecimals(decimals); err != nil {
		return decimal.Zero, err
	}
	if raw == nil || raw.Sign() < 0 {
		return decimal.Zero, fmt.Errorf("%w: raw amount must be non-negative", model.ErrInvalidAmount)
	}
	return decimal.NewFromBigInt(raw, -int32(decimals)), nil
}

// NewTokenAmount converts a human amount of token into a TokenAmount.
func NewTokenAmount(token common.Address, decimals uint8, human decimal.Decimal) (model.TokenAmount, error) {
	raw, err := ToRaw(human, int(decimals))
	if err != nil {
		return model.TokenAmount{}, err
	}
	return model.TokenAmount{Token: token, Decimals: decimals, Raw: raw}, nil
}

// Format renders base units with the token's precision, for logs.
func Format(raw *big.Int, decimals uint8) string {
	value, err := ToDecimal(raw, int(decimals))
	if err != nil {
		return "0"
	}
	return value.String()
}

func checkDecimals(decimals int) error {
	if decimals < 0 || decimals > MaxDecimals {
		return fmt.Errorf("%w: decimals %d outside [0, %d]", model.ErrInvalidAmount, decimals, MaxDecimals)
	}
	return nil
}
