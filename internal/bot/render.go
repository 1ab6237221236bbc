package bot

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/h-sameri/smart-duck/internal/brain"
	"github.com/h-sameri/smart-duck/internal/chain"
	"github.com/h-sameri/smart-duck/internal/trade"
)

const menuText = `What would you like to do?

Manage your agents below, or just send a message to ask your active agent for a trade.`

const helpText = `I run AI trading agents for you.

/start - accept the terms and get going
/menu - agent management
/help - this message

Create an agent, fund its escrow wallet, then chat with it: ask for trades on specific tokens or for general market advice. Every suggested trade waits for your explicit approval before anything touches the chain.`

const termsText = `Before we start, please read and accept the terms:

- Trading cryptocurrencies is risky. You can lose everything you deposit.
- Trade suggestions come from an AI model and are not financial advice.
- Trades execute on-chain only after your explicit approval.
- Escrow wallets are derived from your account; keep your account secure.

Do you accept?`

func termsReply() *Reply {
	return &Reply{
		Text:    termsText,
		Actions: [][]Action{{{Label: "I accept", Data: "terms_accept"}}},
	}
}

// renderError maps domain errors onto user-facing text. Internal detail
// stays in the logs; the user gets something actionable.
func (s *Service) renderError(err error) *Reply {
	switch {
	case errors.Is(err, errNotRegistered):
		return termsReply()

	case errors.Is(err, brain.ErrQuotaExceeded), errors.Is(err, brain.ErrServiceUnavailable):
		return &Reply{Text: "The AI service is temporarily unavailable. Please try again shortly."}

	case errors.Is(err, trade.ErrProposalNotFound):
		return &Reply{Text: "That suggestion has expired. Ask your agent for a fresh one."}

	case errors.Is(err, chain.ErrTokenNotConfigured):
		return &Reply{Text: "That token can't be traded on this network yet."}
	}

	var validationErr *brain.ValidationError
	if errors.As(err, &validationErr) {
		return &Reply{Text: "The AI produced an answer I couldn't verify. Please try again."}
	}

	var amountErr *trade.AmountError
	if errors.As(err, &amountErr) {
		return &Reply{Text: "That amount won't work: " + amountErr.Reason}
	}

	var fundsErr *chain.InsufficientFundsError
	if errors.As(err, &fundsErr) {
		switch fundsErr.Kind {
		case chain.FundsGas:
			return &Reply{Text: fmt.Sprintf(
				"The agent's actor wallet needs gas to trade. It holds %s but needs at least %s of the native token.",
				fundsErr.Have, fundsErr.Need)}
		default:
			return &Reply{Text: fmt.Sprintf(
				"Not enough %s in escrow: you have %s but the trade needs %s. Top up the escrow wallet and try again.",
				fundsErr.Asset, fundsErr.Have, fundsErr.Need)}
		}
	}

	var stepErr *chain.StepError
	if errors.As(err, &stepErr) {
		return &Reply{Text: fmt.Sprintf(
			"Trade execution failed at the %s step. Funds moved in earlier steps stay in the agent's wallets; ask for a new suggestion to retry.",
			stepErr.Step)}
	}

	var transErr *trade.InvalidTransitionError
	if errors.As(err, &transErr) {
		return &Reply{Text: "That action isn't available for this suggestion right now."}
	}

	s.log.Error("unhandled error reached the user", zap.Error(err))
	return &Reply{Text: "Something went wrong on my side. Please try again."}
}
