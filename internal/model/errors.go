package model

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrChainRead           = errors.New("chain read error")
	ErrInvalidRange        = errors.New("invalid range")
	ErrNoPoolFound         = errors.New("no pool found")
	ErrTransactionReverted = errors.New("transaction reverted")
	ErrTransactionTimeout  = errors.New("transaction timeout")
	ErrUnknownCommand      = errors.New("unknown command")
	ErrInvalidCommand      = errors.New("invalid command parameters")
)

// Stage names the handler step a command failed in.
type Stage string

const (
	StageValidate  Stage = "validate"
	StageDispatch  Stage = "dispatch"
	StageAmount    Stage = "amount"
	StageRead      Stage = "read"
	StageRoute     Stage = "route"
	StageQuote     Stage = "quote"
	StageApprove   Stage = "approve"
	StageCalculate Stage = "calculate"
	StageBuild     Stage = "build"
	StageSubmit    Stage = "submit"
)

// CommandError identifies which command of a batch failed and where.
// Index is 1-based.
type CommandError struct {
	Index int
	Kind  CommandKind
	Stage Stage
	Err   error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %d (%s) failed at %s: %v", e.Index, e.Kind, e.Stage, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}
