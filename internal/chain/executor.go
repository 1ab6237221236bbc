package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/h-sameri/smart-duck/internal/tokens"
	"github.com/h-sameri/smart-duck/internal/wallet"
)

// minActorGas is the wei floor the actor wallet must hold before any
// transaction is attempted.
var minActorGas = big.NewInt(1000000000000000)

// Side is the trade direction.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Backend is the subset of Client the coordinator drives. It exists so
// execution sequencing can be tested without a live RPC endpoint.
type Backend interface {
	NativeBalance(ctx context.Context, addr common.Address) (*big.Int, error)
	TokenBalance(ctx context.Context, token, holder common.Address) (*big.Int, error)
	Decimals(ctx context.Context, token common.Address) (uint8, error)
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
	FundActor(ctx context.Context, key *ecdsa.PrivateKey, escrow, token common.Address, amount *big.Int) (string, error)
	Approve(ctx context.Context, key *ecdsa.PrivateKey, token, spender common.Address, amount *big.Int) (string, error)
	Buy(ctx context.Context, key *ecdsa.PrivateKey, token common.Address, tokenAmount, cost *big.Int) (string, error)
	Sell(ctx context.Context, key *ecdsa.PrivateKey, token common.Address, tokenAmount, expectedRevenue *big.Int) (string, error)
}

// Request describes one trade to execute. Amounts are in human units;
// base-unit conversion happens here against on-chain decimals.
type Request struct {
	Side        Side
	TokenSymbol string
	Escrow      *wallet.Identity
	Actor       *wallet.Identity
	FundingCost decimal.Decimal
	TokenAmount decimal.Decimal
}

// Receipt records one completed step.
type Receipt struct {
	Step   Step
	TxHash string
}

// Result is the outcome of a fully executed trade.
type Result struct {
	Steps   []Receipt
	TradeTx string
}

// Coordinator sequences the transactions of a trade: pull the spend
// asset out of escrow via fundActor, approve the token contract if
// needed, then trade. All balance preconditions are checked before the
// first transaction so a doomed trade spends nothing.
type Coordinator struct {
	backend Backend
	log     *zap.Logger
}

// NewCoordinator builds a coordinator over backend.
func NewCoordinator(backend Backend, log *zap.Logger) *Coordinator {
	return &Coordinator{backend: backend, log: log}
}

// Execute runs the trade. Failures before the first transaction return
// an InsufficientFundsError or ErrTokenNotConfigured; failures after
// return a StepError naming how far the sequence got.
func (c *Coordinator) Execute(ctx context.Context, req Request) (*Result, error) {
	token, ok := tokens.BySymbol(req.TokenSymbol)
	if !ok || token.Address == (common.Address{}) {
		return nil, fmt.Errorf("%w: %s", ErrTokenNotConfigured, req.TokenSymbol)
	}
	tokenAddr := token.Address
	fundingAddr := tokens.FundingAsset.Address

	if req.FundingCost.Sign() <= 0 || req.TokenAmount.Sign() <= 0 {
		return nil, fmt.Errorf("trade amounts must be positive, got cost %s for %s tokens",
			req.FundingCost, req.TokenAmount)
	}

	fundingDecimals, err := c.backend.Decimals(ctx, fundingAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s decimals: %w", tokens.FundingAsset.Symbol, err)
	}
	tokenDecimals, err := c.backend.Decimals(ctx, tokenAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s decimals: %w", token.Symbol, err)
	}
	costBase := toBaseUnits(req.FundingCost, fundingDecimals)
	tokenBase := toBaseUnits(req.TokenAmount, tokenDecimals)

	// The escrow funds the actor with whichever asset the trade spends.
	var spendAddr common.Address
	var spendSymbol string
	var spendAmount decimal.Decimal
	var spendBase *big.Int
	var spendDecimals uint8
	var fundsKind FundsKind
	switch req.Side {
	case SideBuy:
		spendAddr, spendSymbol = fundingAddr, tokens.FundingAsset.Symbol
		spendAmount, spendBase, spendDecimals = req.FundingCost, costBase, fundingDecimals
		fundsKind = FundsFunding
	case SideSell:
		spendAddr, spendSymbol = tokenAddr, token.Symbol
		spendAmount, spendBase, spendDecimals = req.TokenAmount, tokenBase, tokenDecimals
		fundsKind = FundsToken
	default:
		return nil, fmt.Errorf("unknown trade side %q", req.Side)
	}

	escrowBalance, err := c.backend.TokenBalance(ctx, spendAddr, req.Escrow.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to read escrow %s balance: %w", spendSymbol, err)
	}
	if escrowBalance.Cmp(spendBase) < 0 {
		return nil, &InsufficientFundsError{
			Kind:  fundsKind,
			Asset: spendSymbol,
			Have:  fromBaseUnits(escrowBalance, spendDecimals),
			Need:  spendAmount,
		}
	}

	actorGas, err := c.backend.NativeBalance(ctx, req.Actor.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to read actor gas balance: %w", err)
	}
	if actorGas.Cmp(minActorGas) < 0 {
		return nil, &InsufficientFundsError{
			Kind:  FundsGas,
			Asset: "gas",
			Have:  fromBaseUnits(actorGas, 18),
			Need:  fromBaseUnits(minActorGas, 18),
		}
	}

	result := &Result{}

	c.log.Info("funding actor",
		zap.String("asset", spendSymbol),
		zap.String("amount", spendAmount.String()),
		zap.String("actor", req.Actor.Address.Hex()))
	fundTx, err := c.backend.FundActor(ctx, req.Actor.Key, req.Escrow.Address, spendAddr, spendBase)
	if err != nil {
		return nil, &StepError{Step: StepFundActor, Err: err}
	}
	result.Steps = append(result.Steps, Receipt{Step: StepFundActor, TxHash: fundTx})

	// The token contract pulls the spend asset from the actor, so it is
	// the spender being approved.
	allowance, err := c.backend.Allowance(ctx, spendAddr, req.Actor.Address, tokenAddr)
	if err != nil {
		return nil, &StepError{Step: StepApprove, Err: err}
	}
	if allowance.Cmp(spendBase) < 0 {
		approveTx, err := c.backend.Approve(ctx, req.Actor.Key, spendAddr, tokenAddr, spendBase)
		if err != nil {
			return nil, &StepError{Step: StepApprove, Err: err}
		}
		result.Steps = append(result.Steps, Receipt{Step: StepApprove, TxHash: approveTx})
	}

	var tradeTx string
	if req.Side == SideBuy {
		tradeTx, err = c.backend.Buy(ctx, req.Actor.Key, tokenAddr, tokenBase, costBase)
	} else {
		tradeTx, err = c.backend.Sell(ctx, req.Actor.Key, tokenAddr, tokenBase, costBase)
	}
	if err != nil {
		return nil, &StepError{Step: StepTrade, Err: err}
	}
	result.Steps = append(result.Steps, Receipt{Step: StepTrade, TxHash: tradeTx})
	result.TradeTx = tradeTx

	c.log.Info("trade executed",
		zap.String("side", string(req.Side)),
		zap.String("token", token.Symbol),
		zap.String("tx", tradeTx))
	return result, nil
}

// toBaseUnits converts a human-unit amount to base units, truncating
// anything below one base unit.
func toBaseUnits(amount decimal.Decimal, decimals uint8) *big.Int {
	return amount.Shift(int32(decimals)).Truncate(0).BigInt()
}

// fromBaseUnits converts base units back to a human-unit amount.
func fromBaseUnits(amount *big.Int, decimals uint8) decimal.Decimal {
	return decimal.NewFromBigInt(amount, -int32(decimals))
}
