package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// CommandKind is the planner's command tag.
type CommandKind string

const (
	KindMintPosition    CommandKind = "MINT_POSITION"
	KindAddLiquidity    CommandKind = "ADD_LIQUIDITY"
	KindRemoveLiquidity CommandKind = "REMOVE_LIQUIDITY"
	KindSwap            CommandKind = "SWAP"
)

// Command is one unit of work in a batch. The concrete types are
// MintPosition, AddLiquidity, RemoveLiquidity and Swap.
type Command interface {
	Kind() CommandKind
	Validate() error
}

// MintPosition opens a new position around the pool's current tick.
type MintPosition struct {
	TokenAAmount   decimal.Decimal `json:"token_a_amount"`
	TokenBAmount   decimal.Decimal `json:"token_b_amount"`
	TokenAAddress  common.Address  `json:"token_a_address"`
	TokenBAddress  common.Address  `json:"token_b_address"`
	TokenADecimals uint8           `json:"token_a_decimals"`
	TokenBDecimals uint8           `json:"token_b_decimals"`
	PoolAddress    common.Address  `json:"pool_address"`
	FromPrice      *float64        `json:"from_price,omitempty"`
	ToPrice        *float64        `json:"to_price,omitempty"`
	FeeTier        string          `json:"fee_tier,omitempty"`
}

// AddLiquidity increases an existing position. Missing decimals are read from chain.
type AddLiquidity struct {
	TokenID        uint64          `json:"token_id"`
	TokenAAmount   decimal.Decimal `json:"token_a_amount"`
	TokenBAmount   decimal.Decimal `json:"token_b_amount"`
	TokenAAddress  common.Address  `json:"token_a_address"`
	TokenBAddress  common.Address  `json:"token_b_address"`
	TokenADecimals *uint8          `json:"token_a_decimals,omitempty"`
	TokenBDecimals *uint8          `json:"token_b_decimals,omitempty"`
	PoolAddress    common.Address  `json:"pool_address"`
}

// RemoveLiquidity burns a share of an existing position and collects the proceeds.
type RemoveLiquidity struct {
	TokenID       uint64         `json:"token_id"`
	PercentageBps uint32         `json:"percentage_bps"`
	PoolAddress   common.Address `json:"pool_address,omitempty"`
}

// Swap trades an exact input amount through the cheapest existing fee tier.
type Swap struct {
	InputToken    common.Address   `json:"input_token"`
	OutputToken   common.Address   `json:"output_token"`
	SwapAmountIn  decimal.Decimal  `json:"swap_amount_in"`
	SwapAmountOut *decimal.Decimal `json:"swap_amount_out,omitempty"`
}

func (MintPosition) Kind() CommandKind    { return KindMintPosition }
func (AddLiquidity) Kind() CommandKind    { return KindAddLiquidity }
func (RemoveLiquidity) Kind() CommandKind { return KindRemoveLiquidity }
func (Swap) Kind() CommandKind            { return KindSwap }

func (c MintPosition) Validate() error {
	if err := validatePair(c.TokenAAddress, c.TokenBAddress); err != nil {
		return err
	}
	if c.PoolAddress == (common.Address{}) {
		return fmt.Errorf("%w: pool_address is zero", ErrInvalidCommand)
	}
	return validateAmounts(c.TokenAAmount, c.TokenBAmount)
}

func (c AddLiquidity) Validate() error {
	if c.TokenID == 0 {
		return fmt.Errorf("%w: token_id is zero", ErrInvalidCommand)
	}
	if err := validatePair(c.TokenAAddress, c.TokenBAddress); err != nil {
		return err
	}
	return validateAmounts(c.TokenAAmount, c.TokenBAmount)
}

func (c RemoveLiquidity) Validate() error {
	if c.TokenID == 0 {
		return fmt.Errorf("%w: token_id is zero", ErrInvalidCommand)
	}
	if c.PercentageBps == 0 || c.PercentageBps > 10000 {
		return fmt.Errorf("%w: percentage_bps %d outside (0, 10000]", ErrInvalidCommand, c.PercentageBps)
	}
	return nil
}

func (c Swap) Validate() error {
	if err := validatePair(c.InputToken, c.OutputToken); err != nil {
		return err
	}
	return validateAmounts(c.SwapAmountIn)
}

func validatePair(a, b common.Address) error {
	if a == (common.Address{}) || b == (common.Address{}) {
		return fmt.Errorf("%w: token address is zero", ErrInvalidCommand)
	}
	if a == b {
		return fmt.Errorf("%w: identical tokens %s", ErrInvalidCommand, a.Hex())
	}
	return nil
}

func validateAmounts(amounts ...decimal.Decimal) error {
	for _, amount := range amounts {
		if amount.IsNegative() {
			return fmt.Errorf("%w: negative amount %s", ErrInvalidAmount, amount.String())
		}
	}
	return nil
}

// CommandBatch is an ordered list of commands plus the planner's summary.
type CommandBatch struct {
	Summary  string
	Commands []Command
}

type commandEnvelope struct {
	Command CommandKind     `json:"command"`
	Params  json.RawMessage `json:"params"`
}

type batchEnvelope struct {
	Summary  string            `json:"summary"`
	Commands []commandEnvelope `json:"commands"`
}

// MarshalJSON encodes the batch in the planner's wire shape.
func (b CommandBatch) MarshalJSON() ([]byte, error) {
	env := batchEnvelope{Summary: b.Summary, Commands: make([]commandEnvelope, 0, len(b.Commands))}
	for _, cmd := range b.Commands {
		if cmd == nil {
			env.Commands = append(env.Commands, commandEnvelope{Params: json.RawMessage("null")})
			continue
		}
		params, err := json.Marshal(cmd)
		if err != nil {
			return nil, fmt.Errorf("marshal %s params: %w", cmd.Kind(), err)
		}
		env.Commands = append(env.Commands, commandEnvelope{Command: cmd.Kind(), Params: params})
	}
	return json.Marshal(env)
}

// UnmarshalJSON decodes and validates the planner's wire shape.
func (b *CommandBatch) UnmarshalJSON(data []byte) error {
	parsed, err := ParseBatch(data)
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

var requiredParams = map[CommandKind][]string{
	KindMintPosition: {
		"token_a_amount", "token_b_amount", "token_a_address", "token_b_address",
		"token_a_decimals", "token_b_decimals", "pool_address",
	},
	KindAddLiquidity: {
		"token_id", "token_a_amount", "token_b_amount", "token_a_address", "token_b_address", "pool_address",
	},
	KindRemoveLiquidity: {"token_id", "percentage_bps"},
	KindSwap:            {"input_token", "output_token", "swap_amount_in"},
}

// ParseBatch decodes planner JSON into a typed batch. Unknown kinds, unknown
// params, missing params and empty batches are rejected here.
func ParseBatch(data []byte) (CommandBatch, error) {
	var env batchEnvelope
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&env); err != nil {
		return CommandBatch{}, fmt.Errorf("%w: decode batch: %v", ErrInvalidCommand, err)
	}
	if len(env.Commands) == 0 {
		return CommandBatch{}, fmt.Errorf("%w: batch has no commands", ErrInvalidCommand)
	}

	batch := CommandBatch{Summary: env.Summary, Commands: make([]Command, 0, len(env.Commands))}
	for i, item := range env.Commands {
		cmd, err := decodeCommand(item)
		if err != nil {
			return CommandBatch{}, fmt.Errorf("command %d: %w", i+1, err)
		}
		batch.Commands = append(batch.Commands, cmd)
	}
	return batch, nil
}

func decodeCommand(item commandEnvelope) (Command, error) {
	required, ok := requiredParams[item.Command]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, item.Command)
	}

	var present map[string]json.RawMessage
	if err := json.Unmarshal(item.Params, &present); err != nil {
		return nil, fmt.Errorf("%w: %s params: %v", ErrInvalidCommand, item.Command, err)
	}
	for _, field := range required {
		raw, ok := present[field]
		if !ok || string(raw) == "null" {
			return nil, fmt.Errorf("%w: %s missing %s", ErrInvalidCommand, item.Command, field)
		}
	}

	var cmd Command
	var err error
	switch item.Command {
	case KindMintPosition:
		var c MintPosition
		err = strictDecode(item.Params, &c)
		cmd = c
	case KindAddLiquidity:
		var c AddLiquidity
		err = strictDecode(item.Params, &c)
		cmd = c
	case KindRemoveLiquidity:
		var c RemoveLiquidity
		err = strictDecode(item.Params, &c)
		cmd = c
	case KindSwap:
		var c Swap
		err = strictDecode(item.Params, &c)
		cmd = c
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s params: %v", ErrInvalidCommand, item.Command, err)
	}
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	return cmd, nil
}

func strictDecode(data []byte, out any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

// ExtractJSON pulls the outermost JSON object out of planner text, dropping
// markdown fences and surrounding prose.
func ExtractJSON(text string) (string, error) {
	text = strings.TrimSpace(text)
	if fenced, ok := strings.CutPrefix(text, "```json"); ok {
		text = fenced
	} else if fenced, ok := strings.CutPrefix(text, "```"); ok {
		text = fenced
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return "", fmt.Errorf("%w: no JSON object in planner output", ErrInvalidCommand)
	}
	return text[start : end+1], nil
}
