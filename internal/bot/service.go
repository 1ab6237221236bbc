// Package bot turns inbound chat events into replies. It owns the
// conversation flow: onboarding, agent management, and the trade
// proposal loop. Transport is someone else's problem; this package
// never sees a socket.
package bot

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/h-sameri/smart-duck/internal/brain"
	"github.com/h-sameri/smart-duck/internal/chain"
	"github.com/h-sameri/smart-duck/internal/session"
	"github.com/h-sameri/smart-duck/internal/store"
	"github.com/h-sameri/smart-duck/internal/trade"
)

// TermsVersion is bumped when the terms text changes; users who
// accepted an older version must re-accept.
const TermsVersion = 1

// Event is one inbound interaction. Exactly one of Command, Callback,
// or Text is meaningful.
type Event struct {
	ChatID   int64
	Username string
	Command  string
	Callback string
	Text     string
}

// Action is a button attached to a reply. Data round-trips back as a
// callback event.
type Action struct {
	Label string `json:"label"`
	Data  string `json:"data"`
}

// Reply is the bot's answer, with optional action rows.
type Reply struct {
	Text    string     `json:"text"`
	Actions [][]Action `json:"actions,omitempty"`
}

// Pipeline is the decision engine surface the bot drives.
type Pipeline interface {
	ClassifyIntent(ctx context.Context, prompt string) (*brain.Intent, error)
	Run(ctx context.Context, in brain.RunInput) (*brain.Outcome, error)
	Advise(ctx context.Context, prompt string) (*brain.Advice, error)
}

// Registry is the persisted-store surface the bot needs.
type Registry interface {
	CreateUser(ctx context.Context, chatID int64, username string, termsVersion int) (*store.User, error)
	UserByChatID(ctx context.Context, chatID int64) (*store.User, error)
	CreateAgent(ctx context.Context, userID int64, name, instructions, escrowAddress string) (*store.Agent, error)
	AgentByID(ctx context.Context, id, userID int64) (*store.Agent, error)
	AgentsByUser(ctx context.Context, userID int64) ([]*store.Agent, error)
	DeleteAgent(ctx context.Context, id, userID int64) error
	RecentDeclines(ctx context.Context, userID, agentID int64, limit int) ([]string, error)
}

// Lifecycle is the proposal state machine surface.
type Lifecycle interface {
	Propose(ctx context.Context, p *trade.Proposal) error
	Confirm(ctx context.Context, id string) (*trade.Proposal, error)
	BeginAmountEdit(ctx context.Context, id string) (*trade.Proposal, error)
	ApplyAmountEdit(ctx context.Context, id string, amount float64) (*trade.Proposal, error)
	Accept(ctx context.Context, id string) (*trade.Proposal, *chain.Result, error)
	Decline(ctx context.Context, id string) (*trade.Proposal, error)
}

// Balances reads escrow holdings in human units and converts amounts
// to the base units trades are submitted in.
type Balances interface {
	FundingBalance(ctx context.Context, holder common.Address) (decimal.Decimal, error)
	All(ctx context.Context, holder common.Address) (map[string]decimal.Decimal, error)
	Native(ctx context.Context, holder common.Address) (decimal.Decimal, error)
	BaseUnits(ctx context.Context, symbol string, amount decimal.Decimal) (*big.Int, error)
}

// Service routes events through the domain layers.
type Service struct {
	registry  Registry
	sessions  *session.Store
	lifecycle Lifecycle
	pipeline  Pipeline
	balances  Balances
	wallets   *Wallets
	log       *zap.Logger
}

// New wires the service.
func New(registry Registry, sessions *session.Store, lifecycle Lifecycle, pipeline Pipeline, balances Balances, wallets *Wallets, log *zap.Logger) *Service {
	return &Service{
		registry:  registry,
		sessions:  sessions,
		lifecycle: lifecycle,
		pipeline:  pipeline,
		balances:  balances,
		wallets:   wallets,
		log:       log,
	}
}

// Handle processes one event. Errors that the user can act on are
// rendered into the reply; the returned error is reserved for transport
// failures.
func (s *Service) Handle(ctx context.Context, ev Event) (*Reply, error) {
	switch {
	case ev.Command != "":
		return s.handleCommand(ctx, ev)
	case ev.Callback != "":
		return s.handleCallback(ctx, ev)
	default:
		return s.handleText(ctx, ev)
	}
}

func (s *Service) handleCommand(ctx context.Context, ev Event) (*Reply, error) {
	switch ev.Command {
	case "start":
		user, err := s.registry.UserByChatID(ctx, ev.ChatID)
		if err == nil && user.TermsVersion >= TermsVersion {
			return s.menuReply(), nil
		}
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		return termsReply(), nil
	case "menu":
		if _, err := s.requireUser(ctx, ev.ChatID); err != nil {
			return s.renderError(err), nil
		}
		return s.menuReply(), nil
	case "help":
		return &Reply{Text: helpText}, nil
	default:
		return &Reply{Text: "Unknown command. Try /menu."}, nil
	}
}

func (s *Service) handleCallback(ctx context.Context, ev Event) (*Reply, error) {
	verb, arg, _ := strings.Cut(ev.Callback, ":")

	if verb == "terms_accept" {
		return s.acceptTerms(ctx, ev)
	}

	user, err := s.requireUser(ctx, ev.ChatID)
	if err != nil {
		return s.renderError(err), nil
	}

	switch verb {
	case "menu":
		return s.menuReply(), nil
	case "create_agent":
		return s.startAgentWizard(ctx, user)
	case "agents":
		return s.listAgents(ctx, user)
	case "agent":
		return s.showAgent(ctx, user, arg)
	case "agent_delete":
		return s.deleteAgent(ctx, user, arg)
	case "balances":
		return s.showBalances(ctx, user, arg)
	case "accept":
		return s.reviewProposal(ctx, arg)
	case "confirm":
		return s.confirmProposal(ctx, arg)
	case "custom":
		return s.startAmountEdit(ctx, user, arg)
	case "decline":
		return s.declineProposal(ctx, arg)
	default:
		return &Reply{Text: "That action is no longer available."}, nil
	}
}

func (s *Service) handleText(ctx context.Context, ev Event) (*Reply, error) {
	user, err := s.requireUser(ctx, ev.ChatID)
	if err != nil {
		return s.renderError(err), nil
	}

	state, err := s.sessions.Consume(ctx, user.ID)
	if err == nil {
		return s.resumeSession(ctx, user, state, ev.Text)
	}
	if !errors.Is(err, session.ErrNoSession) {
		return nil, err
	}

	return s.handlePrompt(ctx, user, ev.Text)
}

// errNotRegistered gates everything behind terms acceptance.
var errNotRegistered = errors.New("bot: user has not accepted the terms")

func (s *Service) requireUser(ctx context.Context, chatID int64) (*store.User, error) {
	user, err := s.registry.UserByChatID(ctx, chatID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errNotRegistered
		}
		return nil, err
	}
	if user.TermsVersion < TermsVersion {
		return nil, errNotRegistered
	}
	return user, nil
}

func (s *Service) acceptTerms(ctx context.Context, ev Event) (*Reply, error) {
	if user, err := s.registry.UserByChatID(ctx, ev.ChatID); err == nil && user.TermsVersion >= TermsVersion {
		return s.menuReply(), nil
	}
	username := ev.Username
	if username == "" {
		username = "anonymous"
	}
	if _, err := s.registry.CreateUser(ctx, ev.ChatID, username, TermsVersion); err != nil {
		return nil, fmt.Errorf("failed to register user: %w", err)
	}
	s.log.Info("user accepted terms", zap.Int64("chat", ev.ChatID))
	reply := s.menuReply()
	reply.Text = "Welcome aboard! " + reply.Text
	return reply, nil
}

func (s *Service) menuReply() *Reply {
	return &Reply{
		Text: menuText,
		Actions: [][]Action{
			{{Label: "My agents", Data: "agents"}, {Label: "Create agent", Data: "create_agent"}},
		},
	}
}

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed id %q", arg)
	}
	return id, nil
}
