package chain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrTokenNotConfigured is returned when a trade names a token the
// deployment has no on-chain address for.
var ErrTokenNotConfigured = errors.New("chain: token has no configured contract address")

// FundsKind names which balance failed a precondition check.
type FundsKind string

const (
	FundsFunding FundsKind = "funding"
	FundsToken   FundsKind = "token"
	FundsGas     FundsKind = "gas"
)

// InsufficientFundsError is returned when a precondition balance check
// fails before any transaction is sent. Amounts are in human units so
// the message can surface to users unchanged.
type InsufficientFundsError struct {
	Kind  FundsKind
	Asset string
	Have  decimal.Decimal
	Need  decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient %s balance: have %s %s, need %s %s",
		e.Kind, e.Have.String(), e.Asset, e.Need.String(), e.Asset)
}

// Step identifies one transaction in the execution sequence.
type Step string

const (
	StepFundActor Step = "fund_actor"
	StepApprove   Step = "approve"
	StepTrade     Step = "trade"
)

// StepError wraps a failure from one execution step so callers know how
// far the sequence got.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("execution step %s failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }
