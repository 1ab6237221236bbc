// Package session tracks multi-step conversations, such as the agent
// creation wizard and custom amount entry. A session is what the next
// free-text message from a user means.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/h-sameri/smart-duck/internal/ephemeral"
)

// ErrNoSession is returned when the user has no pending step.
var ErrNoSession = errors.New("session: no pending step")

// Step is what the bot is waiting for from the user.
type Step string

const (
	StepAgentName         Step = "agent_name"
	StepAgentInstructions Step = "agent_instructions"
	StepCustomAmount      Step = "custom_amount"
)

// sessionTTL bounds how long a half-finished conversation stays
// resumable.
const sessionTTL = 5 * time.Minute

// State is the pending step plus whatever the earlier steps collected.
type State struct {
	Step       Step   `json:"step"`
	AgentID    int64  `json:"agent_id,omitempty"`
	AgentName  string `json:"agent_name,omitempty"`
	ProposalID string `json:"proposal_id,omitempty"`
}

// Store persists sessions in the ephemeral store, one per user.
// Starting a new step overwrites any previous one; the latest
// interaction always wins.
type Store struct {
	store ephemeral.Store
}

// NewStore wraps store.
func NewStore(store ephemeral.Store) *Store {
	return &Store{store: store}
}

func sessionKey(userID int64) string {
	return "session:" + strconv.FormatInt(userID, 10)
}

// Begin records the pending step for a user under a fresh TTL.
func (s *Store) Begin(ctx context.Context, userID int64, state State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	return s.store.Set(ctx, sessionKey(userID), data, sessionTTL)
}

// Consume atomically removes and returns the pending step. The caller
// decides whether to Begin the next one.
func (s *Store) Consume(ctx context.Context, userID int64) (*State, error) {
	data, err := s.store.GetDelete(ctx, sessionKey(userID))
	if err != nil {
		if errors.Is(err, ephemeral.ErrNotFound) {
			return nil, ErrNoSession
		}
		return nil, err
	}
	return decodeState(data)
}

// Clear drops any pending step for the user.
func (s *Store) Clear(ctx context.Context, userID int64) error {
	return s.store.Delete(ctx, sessionKey(userID))
}

func activeAgentKey(userID int64) string {
	return "active_agent:" + strconv.FormatInt(userID, 10)
}

// SetActiveAgent records which agent the user's free-text messages are
// addressed to. The selection does not expire.
func (s *Store) SetActiveAgent(ctx context.Context, userID, agentID int64) error {
	return s.store.Set(ctx, activeAgentKey(userID), []byte(strconv.FormatInt(agentID, 10)), 0)
}

// ActiveAgent returns the user's selected agent, or ErrNoSession when
// none has been chosen.
func (s *Store) ActiveAgent(ctx context.Context, userID int64) (int64, error) {
	data, err := s.store.Get(ctx, activeAgentKey(userID))
	if err != nil {
		if errors.Is(err, ephemeral.ErrNotFound) {
			return 0, ErrNoSession
		}
		return 0, err
	}
	id, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to decode active agent: %w", err)
	}
	return id, nil
}

// ClearActiveAgent drops the selection, typically after the agent is
// deleted.
func (s *Store) ClearActiveAgent(ctx context.Context, userID int64) error {
	return s.store.Delete(ctx, activeAgentKey(userID))
}

func decodeState(data []byte) (*State, error) {
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &state, nil
}
