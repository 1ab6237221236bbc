package bot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/h-sameri/smart-duck/internal/session"
	"github.com/h-sameri/smart-duck/internal/store"
	"github.com/h-sameri/smart-duck/internal/tokens"
)

const (
	minAgentNameLen         = 3
	maxAgentNameLen         = 50
	minAgentInstructionsLen = 10
	maxAgentInstructionsLen = 1000
)

func (s *Service) startAgentWizard(ctx context.Context, user *store.User) (*Reply, error) {
	if err := s.sessions.Begin(ctx, user.ID, session.State{Step: session.StepAgentName}); err != nil {
		return nil, err
	}
	return &Reply{Text: fmt.Sprintf(
		"Let's create a new agent. What should it be called? (%d-%d characters)",
		minAgentNameLen, maxAgentNameLen)}, nil
}

func (s *Service) resumeSession(ctx context.Context, user *store.User, state *session.State, text string) (*Reply, error) {
	switch state.Step {
	case session.StepAgentName:
		return s.wizardSetName(ctx, user, text)
	case session.StepAgentInstructions:
		return s.wizardSetInstructions(ctx, user, state, text)
	case session.StepCustomAmount:
		return s.applyCustomAmount(ctx, user, state, text)
	default:
		return &Reply{Text: "That conversation has expired. Start again from the menu."}, nil
	}
}

func (s *Service) wizardSetName(ctx context.Context, user *store.User, text string) (*Reply, error) {
	name := strings.TrimSpace(text)
	if n := utf8.RuneCountInString(name); n < minAgentNameLen || n > maxAgentNameLen {
		// Re-arm the step so the user can try again.
		if err := s.sessions.Begin(ctx, user.ID, session.State{Step: session.StepAgentName}); err != nil {
			return nil, err
		}
		return &Reply{Text: fmt.Sprintf(
			"Agent names must be %d-%d characters. Try another name.",
			minAgentNameLen, maxAgentNameLen)}, nil
	}

	agents, err := s.registry.AgentsByUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	for _, a := range agents {
		if strings.EqualFold(a.Name, name) {
			if err := s.sessions.Begin(ctx, user.ID, session.State{Step: session.StepAgentName}); err != nil {
				return nil, err
			}
			return &Reply{Text: fmt.Sprintf("You already have an agent called %q. Pick a different name.", a.Name)}, nil
		}
	}

	if err := s.sessions.Begin(ctx, user.ID, session.State{
		Step:      session.StepAgentInstructions,
		AgentName: name,
	}); err != nil {
		return nil, err
	}
	return &Reply{Text: fmt.Sprintf(
		"Good. Now describe %s's trading strategy in your own words (%d-%d characters). "+
			"The agent follows these instructions when suggesting trades.",
		name, minAgentInstructionsLen, maxAgentInstructionsLen)}, nil
}

func (s *Service) wizardSetInstructions(ctx context.Context, user *store.User, state *session.State, text string) (*Reply, error) {
	instructions := strings.TrimSpace(text)
	if n := utf8.RuneCountInString(instructions); n < minAgentInstructionsLen || n > maxAgentInstructionsLen {
		if err := s.sessions.Begin(ctx, user.ID, *state); err != nil {
			return nil, err
		}
		return &Reply{Text: fmt.Sprintf(
			"Instructions must be %d-%d characters. Try again.",
			minAgentInstructionsLen, maxAgentInstructionsLen)}, nil
	}

	escrow, err := s.wallets.Escrow(user.ID, state.AgentName)
	if err != nil {
		return nil, fmt.Errorf("failed to derive escrow wallet: %w", err)
	}
	agent, err := s.registry.CreateAgent(ctx, user.ID, state.AgentName, instructions, escrow.Address.Hex())
	if err != nil {
		if errors.Is(err, store.ErrAgentExists) {
			return &Reply{Text: "An agent with that name appeared in the meantime. Start over from the menu."}, nil
		}
		return nil, err
	}
	if err := s.sessions.SetActiveAgent(ctx, user.ID, agent.ID); err != nil {
		return nil, err
	}
	s.log.Info("agent created",
		zap.Int64("user", user.ID),
		zap.String("name", agent.Name))

	return &Reply{
		Text: fmt.Sprintf(
			"%s is ready and now your active agent.\n\n"+
				"Deposit %s to its escrow address to fund trades:\n%s\n\n"+
				"Then just tell me what you'd like to trade.",
			agent.Name, tokens.FundingAsset.Symbol, agent.EscrowAddress),
		Actions: [][]Action{
			{{Label: "Check balances", Data: fmt.Sprintf("balances:%d", agent.ID)}},
			{{Label: "Menu", Data: "menu"}},
		},
	}, nil
}

func (s *Service) listAgents(ctx context.Context, user *store.User) (*Reply, error) {
	agents, err := s.registry.AgentsByUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if len(agents) == 0 {
		return &Reply{
			Text:    "You have no agents yet.",
			Actions: [][]Action{{{Label: "Create one", Data: "create_agent"}}},
		}, nil
	}

	var rows [][]Action
	for _, a := range agents {
		rows = append(rows, []Action{{Label: a.Name, Data: fmt.Sprintf("agent:%d", a.ID)}})
	}
	rows = append(rows, []Action{{Label: "Create agent", Data: "create_agent"}})
	return &Reply{Text: "Your agents:", Actions: rows}, nil
}

func (s *Service) showAgent(ctx context.Context, user *store.User, arg string) (*Reply, error) {
	id, err := parseID(arg)
	if err != nil {
		return &Reply{Text: "That agent link is malformed."}, nil
	}
	agent, err := s.registry.AgentByID(ctx, id, user.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &Reply{Text: "That agent no longer exists."}, nil
		}
		return nil, err
	}
	if err := s.sessions.SetActiveAgent(ctx, user.ID, agent.ID); err != nil {
		return nil, err
	}

	return &Reply{
		Text: fmt.Sprintf(
			"%s (active)\nStrategy: %s\nEscrow: %s\n\nSend me a message to ask for a trade.",
			agent.Name, agent.Instructions, agent.EscrowAddress),
		Actions: [][]Action{
			{{Label: "Balances", Data: fmt.Sprintf("balances:%d", agent.ID)}},
			{{Label: "Delete agent", Data: fmt.Sprintf("agent_delete:%d", agent.ID)}},
			{{Label: "Back", Data: "agents"}},
		},
	}, nil
}

func (s *Service) deleteAgent(ctx context.Context, user *store.User, arg string) (*Reply, error) {
	id, err := parseID(arg)
	if err != nil {
		return &Reply{Text: "That agent link is malformed."}, nil
	}
	if err := s.registry.DeleteAgent(ctx, id, user.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &Reply{Text: "That agent no longer exists."}, nil
		}
		return nil, err
	}
	if active, err := s.sessions.ActiveAgent(ctx, user.ID); err == nil && active == id {
		if err := s.sessions.ClearActiveAgent(ctx, user.ID); err != nil {
			return nil, err
		}
	}
	s.log.Info("agent deleted", zap.Int64("user", user.ID), zap.Int64("agent", id))
	return &Reply{
		Text:    "Agent deleted. Funds in its escrow wallet remain recoverable from the same seed.",
		Actions: [][]Action{{{Label: "My agents", Data: "agents"}}},
	}, nil
}

func (s *Service) showBalances(ctx context.Context, user *store.User, arg string) (*Reply, error) {
	id, err := parseID(arg)
	if err != nil {
		return &Reply{Text: "That agent link is malformed."}, nil
	}
	agent, err := s.registry.AgentByID(ctx, id, user.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &Reply{Text: "That agent no longer exists."}, nil
		}
		return nil, err
	}

	escrow, err := s.wallets.Escrow(user.ID, agent.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to derive escrow wallet: %w", err)
	}
	holdings, err := s.balances.All(ctx, escrow.Address)
	if err != nil {
		return s.renderError(err), nil
	}
	actor, err := s.wallets.Actor(user.ID, agent.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to derive actor wallet: %w", err)
	}
	gas, gasErr := s.balances.Native(ctx, actor.Address)

	symbols := make([]string, 0, len(holdings))
	for symbol := range holdings {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	var b strings.Builder
	fmt.Fprintf(&b, "%s escrow holdings:\n", agent.Name)
	for _, symbol := range symbols {
		fmt.Fprintf(&b, "  %s: %s\n", symbol, holdings[symbol].String())
	}
	if gasErr == nil {
		fmt.Fprintf(&b, "Actor gas balance: %s\n", gas.String())
	}
	fmt.Fprintf(&b, "\nEscrow address: %s", agent.EscrowAddress)

	return &Reply{
		Text:    b.String(),
		Actions: [][]Action{{{Label: "Back", Data: fmt.Sprintf("agent:%d", agent.ID)}}},
	}, nil
}
