// Package trade holds trade proposals through their lifecycle, from
// model output to on-chain execution or decline.
package trade

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/h-sameri/smart-duck/internal/brain"
	"github.com/h-sameri/smart-duck/internal/ephemeral"
)

// ErrProposalNotFound is returned when a proposal id resolves to
// nothing, either because it never existed or because it expired.
var ErrProposalNotFound = errors.New("trade: proposal not found or expired")

// Status is the lifecycle state of a proposal.
type Status string

const (
	StatusProposed      Status = "proposed"
	StatusAmountEditing Status = "amount_editing"
	StatusConfirming    Status = "confirming"
	StatusExecuting     Status = "executing"
	StatusExecuted      Status = "executed"
	StatusFailed        Status = "failed"
	StatusDeclined      Status = "declined"
)

// Proposal is one pending trade suggestion. Funding amounts are in the
// funding token's human units.
type Proposal struct {
	ID           string          `json:"id"`
	UserID       int64           `json:"user_id"`
	AgentID      int64           `json:"agent_id"`
	AgentName    string          `json:"agent_name"`
	Token        string          `json:"token"`
	Side         brain.TradeType `json:"side"`
	FundingCost  decimal.Decimal `json:"funding_cost"`
	TokenAmount  decimal.Decimal `json:"token_amount"`
	StopLoss     float64         `json:"stop_loss"`
	TakeProfit   float64         `json:"take_profit"`
	CurrentPrice float64         `json:"current_price"`
	Message      string          `json:"message"`
	Confidence   float64         `json:"confidence"`
	Status       Status          `json:"status"`
	CreatedAt    time.Time       `json:"created_at"`
}

// NewProposal builds a proposal from a validated decision. The token
// amount is derived from the funding cost at the decision's entry
// price, so the two always agree.
func NewProposal(userID, agentID int64, agentName string, d *brain.Decision) (*Proposal, error) {
	funding := decimal.NewFromFloat(d.TradeAmount)
	entry := decimal.NewFromFloat(d.Entry)
	if entry.Sign() <= 0 {
		return nil, fmt.Errorf("entry price must be positive, got %s", entry)
	}
	if funding.Sign() <= 0 {
		return nil, fmt.Errorf("trade amount must be positive, got %s", funding)
	}
	return &Proposal{
		ID:           uuid.NewString(),
		UserID:       userID,
		AgentID:      agentID,
		AgentName:    agentName,
		Token:        d.Token,
		Side:         d.TradeType,
		FundingCost:  funding,
		TokenAmount:  funding.Div(entry),
		StopLoss:     d.StopLoss,
		TakeProfit:   d.TakeProfit,
		CurrentPrice: d.CurrentPrice,
		Message:      d.Message,
		Confidence:   d.Confidence,
		Status:       StatusProposed,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

// EntryPrice back-derives the per-token price from the stored amounts.
func (p *Proposal) EntryPrice() decimal.Decimal {
	return p.FundingCost.Div(p.TokenAmount)
}

// Snapshot serializes the proposal for the decline log.
func (p *Proposal) Snapshot() []byte {
	data, _ := json.Marshal(p)
	return data
}

// ProposalStore keeps live proposals in the ephemeral store under a
// fixed TTL. Proposals vanish on expiry; there is no grace period.
type ProposalStore struct {
	store ephemeral.Store
	ttl   time.Duration
}

// NewProposalStore wraps store with the proposal TTL.
func NewProposalStore(store ephemeral.Store, ttl time.Duration) *ProposalStore {
	return &ProposalStore{store: store, ttl: ttl}
}

func proposalKey(id string) string { return "proposal:" + id }

// Put stores a fresh proposal under the full TTL.
func (s *ProposalStore) Put(ctx context.Context, p *Proposal) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode proposal: %w", err)
	}
	return s.store.Set(ctx, proposalKey(p.ID), data, s.ttl)
}

// Get returns a live proposal without consuming it.
func (s *ProposalStore) Get(ctx context.Context, id string) (*Proposal, error) {
	data, err := s.store.Get(ctx, proposalKey(id))
	if err != nil {
		if errors.Is(err, ephemeral.ErrNotFound) {
			return nil, ErrProposalNotFound
		}
		return nil, err
	}
	return decodeProposal(data)
}

// Update overwrites a live proposal, keeping whatever TTL it had left.
// Edits must not extend a proposal's life.
func (s *ProposalStore) Update(ctx context.Context, p *Proposal) error {
	remaining, err := s.store.TTL(ctx, proposalKey(p.ID))
	if err != nil {
		if errors.Is(err, ephemeral.ErrNotFound) {
			return ErrProposalNotFound
		}
		return err
	}
	if remaining <= 0 {
		remaining = s.ttl
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode proposal: %w", err)
	}
	return s.store.Set(ctx, proposalKey(p.ID), data, remaining)
}

// TTL reports how long the proposal has left to live.
func (s *ProposalStore) TTL(ctx context.Context, id string) (time.Duration, error) {
	remaining, err := s.store.TTL(ctx, proposalKey(id))
	if err != nil {
		if errors.Is(err, ephemeral.ErrNotFound) {
			return 0, ErrProposalNotFound
		}
		return 0, err
	}
	return remaining, nil
}

// Restore re-stores a taken proposal under the TTL it had when taken,
// so a failed consumption never extends its life. A non-positive
// remaining falls back to the full TTL.
func (s *ProposalStore) Restore(ctx context.Context, p *Proposal, remaining time.Duration) error {
	if remaining <= 0 {
		remaining = s.ttl
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode proposal: %w", err)
	}
	return s.store.Set(ctx, proposalKey(p.ID), data, remaining)
}

// Take atomically removes and returns the proposal. At most one caller
// can ever take a given id.
func (s *ProposalStore) Take(ctx context.Context, id string) (*Proposal, error) {
	data, err := s.store.GetDelete(ctx, proposalKey(id))
	if err != nil {
		if errors.Is(err, ephemeral.ErrNotFound) {
			return nil, ErrProposalNotFound
		}
		return nil, err
	}
	return decodeProposal(data)
}

// Delete removes the proposal if it is still live.
func (s *ProposalStore) Delete(ctx context.Context, id string) error {
	return s.store.Delete(ctx, proposalKey(id))
}

func decodeProposal(data []byte) (*Proposal, error) {
	var p Proposal
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to decode proposal: %w", err)
	}
	return &p, nil
}
