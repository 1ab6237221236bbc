package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/h-sameri/smart-duck/internal/brain"
	"github.com/h-sameri/smart-duck/internal/session"
	"github.com/h-sameri/smart-duck/internal/store"
	"github.com/h-sameri/smart-duck/internal/tokens"
	"github.com/h-sameri/smart-duck/internal/trade"
)

const declineContextLimit = 5

func (s *Service) handlePrompt(ctx context.Context, user *store.User, text string) (*Reply, error) {
	prompt := strings.TrimSpace(text)
	if prompt == "" {
		return &Reply{Text: "Tell me what you'd like to trade, or open the /menu."}, nil
	}

	agent, reply, err := s.activeAgent(ctx, user)
	if reply != nil || err != nil {
		return reply, err
	}

	intent, err := s.pipeline.ClassifyIntent(ctx, prompt)
	if err != nil {
		return s.renderError(err), nil
	}
	if intent.Kind == brain.IntentOther {
		return &Reply{Text: "I can only help with cryptocurrency trading. Ask me about a trade or the market."}, nil
	}
	if intent.Kind == brain.IntentAdvice {
		advice, err := s.pipeline.Advise(ctx, prompt)
		if err != nil {
			return s.renderError(err), nil
		}
		return renderAdvice(advice), nil
	}

	in := brain.RunInput{Prompt: prompt, Strategy: agent.Instructions}

	escrow, err := s.wallets.Escrow(user.ID, agent.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to derive escrow wallet: %w", err)
	}
	if balance, err := s.balances.FundingBalance(ctx, escrow.Address); err == nil {
		f, _ := balance.Float64()
		in.Balance = &f
	} else {
		// The decision can still be made; sizing just loses its anchor.
		s.log.Warn("failed to read escrow balance for sizing",
			zap.Int64("agent", agent.ID), zap.Error(err))
	}

	if avoid, err := s.registry.RecentDeclines(ctx, user.ID, agent.ID, declineContextLimit); err == nil {
		in.Avoid = avoid
	} else {
		s.log.Warn("failed to load declined trades",
			zap.Int64("agent", agent.ID), zap.Error(err))
	}

	out, err := s.pipeline.Run(ctx, in)
	if err != nil {
		return s.renderError(err), nil
	}
	if !out.Guard.Valid {
		reason := out.Guard.Reason
		if reason == "" {
			reason = "the request is not about cryptocurrency trading"
		}
		return &Reply{Text: "I can't help with that: " + reason}, nil
	}
	if out.Advice != nil {
		return renderAdvice(out.Advice), nil
	}

	proposal, err := trade.NewProposal(user.ID, agent.ID, agent.Name, out.Decision)
	if err != nil {
		return s.renderError(err), nil
	}
	if err := s.lifecycle.Propose(ctx, proposal); err != nil {
		return nil, err
	}
	return renderProposal(proposal), nil
}

// activeAgent resolves which agent the message addresses. A lone agent
// is selected implicitly; multiple agents require an explicit pick.
func (s *Service) activeAgent(ctx context.Context, user *store.User) (*store.Agent, *Reply, error) {
	if id, err := s.sessions.ActiveAgent(ctx, user.ID); err == nil {
		agent, err := s.registry.AgentByID(ctx, id, user.ID)
		if err == nil {
			return agent, nil, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, nil, err
		}
		// Stale selection, fall through to the list.
		if err := s.sessions.ClearActiveAgent(ctx, user.ID); err != nil {
			return nil, nil, err
		}
	}

	agents, err := s.registry.AgentsByUser(ctx, user.ID)
	if err != nil {
		return nil, nil, err
	}
	switch len(agents) {
	case 0:
		return nil, &Reply{
			Text:    "Create an agent first, then ask it for trades.",
			Actions: [][]Action{{{Label: "Create agent", Data: "create_agent"}}},
		}, nil
	case 1:
		if err := s.sessions.SetActiveAgent(ctx, user.ID, agents[0].ID); err != nil {
			return nil, nil, err
		}
		return agents[0], nil, nil
	default:
		reply, err := s.listAgents(ctx, user)
		if err != nil {
			return nil, nil, err
		}
		reply.Text = "Which agent should handle this?"
		return nil, reply, nil
	}
}

// reviewProposal moves the proposal into its confirmation step and
// shows the exact parameters the contracts will see. Nothing touches
// the chain until the user confirms this screen.
func (s *Service) reviewProposal(ctx context.Context, id string) (*Reply, error) {
	p, err := s.lifecycle.Confirm(ctx, id)
	if err != nil {
		return s.renderError(err), nil
	}
	return s.renderConfirmation(ctx, p)
}

func (s *Service) renderConfirmation(ctx context.Context, p *trade.Proposal) (*Reply, error) {
	costBase, err := s.balances.BaseUnits(ctx, tokens.FundingAsset.Symbol, p.FundingCost)
	if err != nil {
		return s.renderError(err), nil
	}
	tokenBase, err := s.balances.BaseUnits(ctx, p.Token, p.TokenAmount)
	if err != nil {
		return s.renderError(err), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Review before execution\n\n")
	fmt.Fprintf(&b, "%s %s %s for %s %s\n\n",
		strings.ToUpper(string(p.Side)), p.TokenAmount.String(), p.Token,
		p.FundingCost.String(), tokens.FundingAsset.Symbol)
	b.WriteString("The contracts will be called with:\n")
	fmt.Fprintf(&b, "Token amount: %s (base units)\n", tokenBase.String())
	fmt.Fprintf(&b, "%s amount: %s (base units)\n", tokens.FundingAsset.Symbol, costBase.String())
	b.WriteString("\nConfirm to submit the trade on chain.")

	return &Reply{
		Text: b.String(),
		Actions: [][]Action{
			{{Label: "Confirm trade", Data: "confirm:" + p.ID}},
			{{Label: "Custom amount", Data: "custom:" + p.ID}},
			{{Label: "Decline", Data: "decline:" + p.ID}},
		},
	}, nil
}

func (s *Service) confirmProposal(ctx context.Context, id string) (*Reply, error) {
	p, result, err := s.lifecycle.Accept(ctx, id)
	if err != nil {
		reply := s.renderError(err)
		if p != nil && p.Status == trade.StatusFailed {
			reply.Actions = append(reply.Actions,
				[]Action{{Label: "Ask for a new suggestion", Data: "menu"}})
		}
		return reply, nil
	}
	return &Reply{
		Text: fmt.Sprintf(
			"Trade executed.\n%s %s %s for %s %s\nTransaction: %s",
			strings.ToUpper(string(p.Side)), p.TokenAmount.String(), p.Token,
			p.FundingCost.String(), tokens.FundingAsset.Symbol, result.TradeTx),
		Actions: [][]Action{{{Label: "Check balances", Data: fmt.Sprintf("balances:%d", p.AgentID)}}},
	}, nil
}

func (s *Service) startAmountEdit(ctx context.Context, user *store.User, id string) (*Reply, error) {
	p, err := s.lifecycle.BeginAmountEdit(ctx, id)
	if err != nil {
		return s.renderError(err), nil
	}
	if err := s.sessions.Begin(ctx, user.ID, session.State{
		Step:       session.StepCustomAmount,
		ProposalID: p.ID,
	}); err != nil {
		return nil, err
	}
	return &Reply{Text: fmt.Sprintf(
		"Enter the %s amount to spend on this trade (currently %s).",
		tokens.FundingAsset.Symbol, p.FundingCost.String())}, nil
}

func (s *Service) applyCustomAmount(ctx context.Context, user *store.User, state *session.State, text string) (*Reply, error) {
	amount, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil {
		if err := s.sessions.Begin(ctx, user.ID, *state); err != nil {
			return nil, err
		}
		return &Reply{Text: "That doesn't look like a number. Enter an amount like 25 or 12.5."}, nil
	}

	p, err := s.lifecycle.ApplyAmountEdit(ctx, state.ProposalID, amount)
	if err != nil {
		var amountErr *trade.AmountError
		if errors.As(err, &amountErr) {
			// Validation failures keep the step armed for another try.
			if err := s.sessions.Begin(ctx, user.ID, *state); err != nil {
				return nil, err
			}
		}
		return s.renderError(err), nil
	}
	// An amount edit lands in the confirmation step, so the user sees
	// the recomputed contract-level parameters before executing.
	reply, err := s.renderConfirmation(ctx, p)
	if err != nil {
		return nil, err
	}
	reply.Text = "Amount updated.\n\n" + reply.Text
	return reply, nil
}

func (s *Service) declineProposal(ctx context.Context, id string) (*Reply, error) {
	p, err := s.lifecycle.Decline(ctx, id)
	if err != nil {
		return s.renderError(err), nil
	}
	return &Reply{Text: fmt.Sprintf(
		"Noted. I won't suggest this %s trade on %s again for a while.",
		p.Side, p.Token)}, nil
}

func renderProposal(p *trade.Proposal) *Reply {
	var b strings.Builder
	fmt.Fprintf(&b, "Trade suggestion from %s\n\n", p.AgentName)
	fmt.Fprintf(&b, "%s %s\n", strings.ToUpper(string(p.Side)), p.Token)
	fmt.Fprintf(&b, "Amount: %s %s (%s %s)\n",
		p.FundingCost.String(), tokens.FundingAsset.Symbol, p.TokenAmount.String(), p.Token)
	fmt.Fprintf(&b, "Entry: %s\n", p.EntryPrice().String())
	fmt.Fprintf(&b, "Stop loss: %.4f | Take profit: %.4f\n", p.StopLoss, p.TakeProfit)
	fmt.Fprintf(&b, "Confidence: %.0f%%\n\n", p.Confidence)
	b.WriteString(p.Message)
	b.WriteString("\n\nThis suggestion expires in 5 minutes.")

	return &Reply{
		Text: b.String(),
		Actions: [][]Action{
			{{Label: "Accept", Data: "accept:" + p.ID}},
			{{Label: "Custom amount", Data: "custom:" + p.ID}},
			{{Label: "Decline", Data: "decline:" + p.ID}},
		},
	}
}

func renderAdvice(a *brain.Advice) *Reply {
	text := a.Reasoning
	if a.SuggestedToken != "" {
		text += fmt.Sprintf("\n\nIf you want to act on this, ask me to trade %s.", a.SuggestedToken)
	}
	return &Reply{Text: text}
}
