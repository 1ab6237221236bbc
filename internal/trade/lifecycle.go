package trade

import (
	"context"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/h-sameri/smart-duck/internal/chain"
)

// maxCustomAmount is the ceiling on a user-entered funding amount.
var maxCustomAmount = decimal.NewFromInt(10000)

// Event is a lifecycle trigger.
type Event string

const (
	EventEditAmount   Event = "edit_amount"
	EventAmountSet    Event = "amount_set"
	EventReviewAccept Event = "review_accept"
	EventAccept       Event = "accept"
	EventDecline      Event = "decline"
)

// transitions is the full lifecycle table. A (state, event) pair absent
// here is an invalid transition. Executed, Failed, and Declined are
// terminal and deliberately have no rows. Execution is reachable only
// through the confirming state, where the final contract-level
// parameters are shown before anything touches the chain.
var transitions = map[Status]map[Event]Status{
	StatusProposed: {
		EventEditAmount: StatusAmountEditing,
		EventAccept:     StatusConfirming,
		EventDecline:    StatusDeclined,
	},
	StatusAmountEditing: {
		EventAmountSet: StatusConfirming,
		EventDecline:   StatusDeclined,
	},
	StatusConfirming: {
		EventEditAmount:   StatusAmountEditing,
		EventReviewAccept: StatusExecuting,
		EventDecline:      StatusDeclined,
	},
}

// InvalidTransitionError reports an event arriving in a state that does
// not permit it.
type InvalidTransitionError struct {
	From  Status
	Event Event
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("trade: event %s is not valid in state %s", e.Event, e.From)
}

func transition(from Status, event Event) (Status, error) {
	if next, ok := transitions[from][event]; ok {
		return next, nil
	}
	return from, &InvalidTransitionError{From: from, Event: event}
}

// AmountError is a rejected custom amount, with a reason fit for
// showing to the user.
type AmountError struct {
	Reason string
}

func (e *AmountError) Error() string { return "invalid amount: " + e.Reason }

// Executor runs an approved proposal on chain.
type Executor interface {
	Execute(ctx context.Context, p *Proposal) (*chain.Result, error)
}

// BalanceSource reads the current escrow funding balance for a
// proposal's agent. Amount edits validate against a fresh read, never a
// cached one.
type BalanceSource interface {
	EscrowFunding(ctx context.Context, p *Proposal) (decimal.Decimal, error)
}

// DeclineSink records declined proposals for future decision context.
type DeclineSink interface {
	RecordDecline(ctx context.Context, userID, agentID int64, snapshot []byte) error
}

// Lifecycle drives proposals through the transition table.
type Lifecycle struct {
	proposals *ProposalStore
	executor  Executor
	balances  BalanceSource
	declines  DeclineSink
	log       *zap.Logger
}

// NewLifecycle wires the lifecycle dependencies.
func NewLifecycle(proposals *ProposalStore, executor Executor, balances BalanceSource, declines DeclineSink, log *zap.Logger) *Lifecycle {
	return &Lifecycle{
		proposals: proposals,
		executor:  executor,
		balances:  balances,
		declines:  declines,
		log:       log,
	}
}

// Propose stores a fresh proposal and starts its expiry clock.
func (l *Lifecycle) Propose(ctx context.Context, p *Proposal) error {
	p.Status = StatusProposed
	return l.proposals.Put(ctx, p)
}

// Get returns a live proposal without changing its state.
func (l *Lifecycle) Get(ctx context.Context, id string) (*Proposal, error) {
	return l.proposals.Get(ctx, id)
}

// Confirm moves the proposal into the confirming state. The caller
// shows the final contract-level parameters and waits for a second,
// explicit approval before Accept may execute.
func (l *Lifecycle) Confirm(ctx context.Context, id string) (*Proposal, error) {
	p, err := l.proposals.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	next, err := transition(p.Status, EventAccept)
	if err != nil {
		return nil, err
	}
	p.Status = next
	if err := l.proposals.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// BeginAmountEdit moves the proposal into the amount-editing state.
func (l *Lifecycle) BeginAmountEdit(ctx context.Context, id string) (*Proposal, error) {
	p, err := l.proposals.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	next, err := transition(p.Status, EventEditAmount)
	if err != nil {
		return nil, err
	}
	p.Status = next
	if err := l.proposals.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// ApplyAmountEdit validates a user-entered funding amount and rewrites
// the proposal's amounts at its original entry price. Validation order
// is fixed: shape, then cap, then balance. The proposal keeps its
// remaining TTL.
func (l *Lifecycle) ApplyAmountEdit(ctx context.Context, id string, amount float64) (*Proposal, error) {
	p, err := l.proposals.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	next, err := transition(p.Status, EventAmountSet)
	if err != nil {
		return nil, err
	}

	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount <= 0 {
		return nil, &AmountError{Reason: "amount must be a positive number"}
	}
	funding := decimal.NewFromFloat(amount)
	if funding.GreaterThan(maxCustomAmount) {
		return nil, &AmountError{Reason: fmt.Sprintf("amount exceeds the %s cap", maxCustomAmount)}
	}
	balance, err := l.balances.EscrowFunding(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("failed to check escrow balance: %w", err)
	}
	if funding.GreaterThan(balance) {
		return nil, &AmountError{Reason: fmt.Sprintf("amount exceeds your escrow balance of %s", balance)}
	}

	entry := p.EntryPrice()
	p.FundingCost = funding
	p.TokenAmount = funding.Div(entry)
	p.Status = next
	if err := l.proposals.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Accept consumes a confirmed proposal and executes it. Consumption is
// atomic, so concurrent accepts of the same id execute at most once;
// losers get ErrProposalNotFound. The returned proposal carries the
// terminal status, and the execution error (if any) is returned
// alongside it.
func (l *Lifecycle) Accept(ctx context.Context, id string) (*Proposal, *chain.Result, error) {
	// Read the remaining TTL before consuming so a wrong-state restore
	// cannot extend the proposal's life.
	remaining, _ := l.proposals.TTL(ctx, id)
	p, err := l.proposals.Take(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if _, err := transition(p.Status, EventReviewAccept); err != nil {
		// Wrong state: put it back untouched so the user can finish
		// whatever step they were in.
		if putErr := l.proposals.Restore(ctx, p, remaining); putErr != nil {
			l.log.Warn("failed to restore proposal after invalid accept",
				zap.String("proposal", p.ID), zap.Error(putErr))
		}
		return nil, nil, err
	}

	p.Status = StatusExecuting
	l.log.Info("executing trade",
		zap.String("proposal", p.ID),
		zap.String("token", p.Token),
		zap.String("side", string(p.Side)))

	result, execErr := l.executor.Execute(ctx, p)
	if execErr != nil {
		p.Status = StatusFailed
		l.log.Warn("trade execution failed",
			zap.String("proposal", p.ID), zap.Error(execErr))
		return p, nil, execErr
	}
	p.Status = StatusExecuted
	return p, result, nil
}

// Decline consumes the proposal and records it so later decisions can
// avoid repeating it.
func (l *Lifecycle) Decline(ctx context.Context, id string) (*Proposal, error) {
	remaining, _ := l.proposals.TTL(ctx, id)
	p, err := l.proposals.Take(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := transition(p.Status, EventDecline); err != nil {
		// Restore under the remaining TTL, same as a wrong-state accept.
		if putErr := l.proposals.Restore(ctx, p, remaining); putErr != nil {
			l.log.Warn("failed to restore proposal after invalid decline",
				zap.String("proposal", p.ID), zap.Error(putErr))
		}
		return nil, err
	}
	p.Status = StatusDeclined
	if err := l.declines.RecordDecline(ctx, p.UserID, p.AgentID, p.Snapshot()); err != nil {
		// The decline itself succeeded; losing one history entry is not
		// worth surfacing to the user.
		l.log.Warn("failed to record declined trade",
			zap.String("proposal", p.ID), zap.Error(err))
	}
	return p, nil
}
