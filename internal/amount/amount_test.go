package amount

import (
	"errors"
	"math/big"
	"math/rand"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"liquidityAgent/internal/model"
)

func TestToRawKnownValues(t *testing.T) {
	cases := []struct {
		in       string
		decimals int
		want     string
	}{
		{"100", 18, "100000000000000000000"},
		{"0.5", 6, "500000"},
		{"1.23456789", 6, "1234567"},
		{"0", 18, "0"},
		{"0.0000001", 6, "0"},
		{"42", 0, "42"},
		{"42.9", 0, "42"},
		{"0.000001", 6, "1"},
	}

	for _, tc := range cases {
		got, err := ToRaw(decimal.RequireFromString(tc.in), tc.decimals)
		if err != nil {
			t.Fatalf("ToRaw(%s, %d): %v", tc.in, tc.decimals, err)
		}
		if got.String() != tc.want {
			t.Fatalf("ToRaw(%s, %d) = %s, want %s", tc.in, tc.decimals, got, tc.want)
		}
	}
}

func TestToRawRejectsInvalidInput(t *testing.T) {
	if _, err := ToRaw(decimal.RequireFromString("-1"), 18); !errors.Is(err, model.ErrInvalidAmount) {
		t.Fatalf("negative amount: expected ErrInvalidAmount, got %v", err)
	}
	if _, err := ToRaw(decimal.RequireFromString("1"), -1); !errors.Is(err, model.ErrInvalidAmount) {
		t.Fatalf("negative decimals: expected ErrInvalidAmount, got %v", err)
	}
	if _, err := ToDecimal(big.NewInt(-5), 6); !errors.Is(err, model.ErrInvalidAmount) {
		t.Fatalf("negative raw: expected ErrInvalidAmount, got %v", err)
	}
}

func TestRoundTripTruncates(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 500; i++ {
		decimals := rng.Intn(19)
		scale := int32(rng.Intn(25))
		value := decimal.New(rng.Int63(), -scale)

		raw, err := ToRaw(value, decimals)
		if err != nil {
			t.Fatalf("ToRaw(%s, %d): %v", value, decimals, err)
		}
		back, err := ToDecimal(raw, decimals)
		if err != nil {
			t.Fatalf("ToDecimal(%s, %d): %v", raw, decimals, err)
		}
		want := value.Truncate(int32(decimals))
		if !back.Equal(want) {
			t.Fatalf("round trip %s @%d: got %s want %s", value, decimals, back, want)
		}
	}
}

func TestFormat(t *testing.T) {
	if got := Format(big.NewInt(1500000), 6); got != "1.5" {
		t.Fatalf("format mismatch: %s", got)
	}
}

func TestParseRaw(t *testing.T) {
	got, err := ParseRaw(" 12.345 ", 2)
	if err != nil {
		t.Fatalf("ParseRaw: %v", err)
	}
	if got.String() != "1234" {
		t.Fatalf("ParseRaw = %s, want 1234", got)
	}

	for _, bad := range []string{"", "abc", "1.2.3", "-1"} {
		if _, err := ParseRaw(bad, 6); !errors.Is(err, model.ErrInvalidAmount) {
			t.Fatalf("ParseRaw(%q): expected ErrInvalidAmount, got %v", bad, err)
		}
	}
}

func TestNewTokenAmount(t *testing.T) {
	token := common.HexToAddress("0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359")
	got, err := NewTokenAmount(token, 6, decimal.RequireFromString("2.5"))
	if err != nil {
		t.Fatalf("new token amount: %v", err)
	}
	if got.Token != token || got.Decimals != 6 || got.Raw.String() != "2500000" || got.IsZero() {
		t.Fatalf("unexpected amount: %+v", got)
	}

	dust, err := NewTokenAmount(token, 6, decimal.RequireFromString("0.0000001"))
	if err != nil {
		t.Fatalf("new token amount: %v", err)
	}
	if !dust.IsZero() {
		t.Fatalf("expected dust to truncate to zero, got %s", dust.Raw)
	}

	if _, err := NewTokenAmount(token, 6, decimal.RequireFromString("-1")); !errors.Is(err, model.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}
