package bot

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/h-sameri/smart-duck/internal/chain"
	"github.com/h-sameri/smart-duck/internal/trade"
	"github.com/h-sameri/smart-duck/internal/wallet"
)

// Wallets derives the two signing identities every agent owns. The
// master key never leaves this type.
type Wallets struct {
	masterKey string
}

// NewWallets wraps the process-wide master key.
func NewWallets(masterKey string) *Wallets {
	return &Wallets{masterKey: masterKey}
}

// Escrow derives the fund-holding identity for an agent.
func (w *Wallets) Escrow(userID int64, agentName string) (*wallet.Identity, error) {
	return wallet.Derive(wallet.EscrowSeed(w.masterKey, userID, agentName))
}

// Actor derives the transaction-submitting identity for an agent.
func (w *Wallets) Actor(userID int64, agentName string) (*wallet.Identity, error) {
	return wallet.Derive(wallet.ActorSeed(userID, agentName))
}

// TradeRunner adapts the chain coordinator to the proposal lifecycle:
// it derives the wallets a proposal needs and maps its amounts onto an
// execution request. It also serves as the lifecycle's balance source
// for amount validation.
type TradeRunner struct {
	coordinator *chain.Coordinator
	balances    Balances
	wallets     *Wallets
}

// NewTradeRunner wires the runner.
func NewTradeRunner(coordinator *chain.Coordinator, balances Balances, wallets *Wallets) *TradeRunner {
	return &TradeRunner{coordinator: coordinator, balances: balances, wallets: wallets}
}

// Execute runs the proposal on chain.
func (r *TradeRunner) Execute(ctx context.Context, p *trade.Proposal) (*chain.Result, error) {
	escrow, err := r.wallets.Escrow(p.UserID, p.AgentName)
	if err != nil {
		return nil, fmt.Errorf("failed to derive escrow wallet: %w", err)
	}
	actor, err := r.wallets.Actor(p.UserID, p.AgentName)
	if err != nil {
		return nil, fmt.Errorf("failed to derive actor wallet: %w", err)
	}
	return r.coordinator.Execute(ctx, chain.Request{
		Side:        chain.Side(p.Side),
		TokenSymbol: p.Token,
		Escrow:      escrow,
		Actor:       actor,
		FundingCost: p.FundingCost,
		TokenAmount: p.TokenAmount,
	})
}

// EscrowFunding reads the proposal agent's current funding balance.
func (r *TradeRunner) EscrowFunding(ctx context.Context, p *trade.Proposal) (decimal.Decimal, error) {
	escrow, err := r.wallets.Escrow(p.UserID, p.AgentName)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to derive escrow wallet: %w", err)
	}
	return r.balances.FundingBalance(ctx, escrow.Address)
}
