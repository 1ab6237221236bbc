package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/h-sameri/smart-duck/internal/tokens"
)

// BalanceReader resolves catalog symbols to on-chain balances in human
// units.
type BalanceReader struct {
	backend Backend
}

// NewBalanceReader builds a reader over backend.
func NewBalanceReader(backend Backend) *BalanceReader {
	return &BalanceReader{backend: backend}
}

func resolveToken(symbol string) (common.Address, error) {
	if symbol == tokens.FundingAsset.Symbol {
		return tokens.FundingAsset.Address, nil
	}
	token, ok := tokens.BySymbol(symbol)
	if !ok || token.Address == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%w: %s", ErrTokenNotConfigured, symbol)
	}
	return token.Address, nil
}

// Balance reads holder's balance of the named catalog token.
func (r *BalanceReader) Balance(ctx context.Context, symbol string, holder common.Address) (decimal.Decimal, error) {
	tokenAddr, err := resolveToken(symbol)
	if err != nil {
		return decimal.Zero, err
	}

	decimals, err := r.backend.Decimals(ctx, tokenAddr)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to read %s decimals: %w", symbol, err)
	}
	balance, err := r.backend.TokenBalance(ctx, tokenAddr, holder)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to read %s balance: %w", symbol, err)
	}
	return fromBaseUnits(balance, decimals), nil
}

// BaseUnits converts a human-unit amount of the named token into base
// units using its on-chain decimals. Trades are submitted in base
// units, so this is what a confirmation screen must show.
func (r *BalanceReader) BaseUnits(ctx context.Context, symbol string, amount decimal.Decimal) (*big.Int, error) {
	tokenAddr, err := resolveToken(symbol)
	if err != nil {
		return nil, err
	}
	decimals, err := r.backend.Decimals(ctx, tokenAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s decimals: %w", symbol, err)
	}
	return toBaseUnits(amount, decimals), nil
}

// FundingBalance reads holder's funding-asset balance.
func (r *BalanceReader) FundingBalance(ctx context.Context, holder common.Address) (decimal.Decimal, error) {
	return r.Balance(ctx, tokens.FundingAsset.Symbol, holder)
}

// Native reads holder's gas-token balance in human units.
func (r *BalanceReader) Native(ctx context.Context, holder common.Address) (decimal.Decimal, error) {
	balance, err := r.backend.NativeBalance(ctx, holder)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to read native balance: %w", err)
	}
	return fromBaseUnits(balance, 18), nil
}

// All reads holder's funding-asset and catalog balances. Symbols whose
// reads fail are skipped rather than failing the whole view.
func (r *BalanceReader) All(ctx context.Context, holder common.Address) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(tokens.Catalog)+1)
	symbols := append([]string{tokens.FundingAsset.Symbol}, tokens.Symbols()...)
	var lastErr error
	for _, symbol := range symbols {
		balance, err := r.Balance(ctx, symbol, holder)
		if err != nil {
			lastErr = err
			continue
		}
		out[symbol] = balance
	}
	if len(out) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return out, nil
}
