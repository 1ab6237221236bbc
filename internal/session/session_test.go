package session

import (
	"context"
	"errors"
	"testing"

	"github.com/h-sameri/smart-duck/internal/ephemeral"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mem := ephemeral.NewMemoryStore()
	t.Cleanup(mem.Close)
	return NewStore(mem)
}

func TestConsume_ReturnsAndClears(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Begin(ctx, 1, State{Step: StepAgentName}); err != nil {
		t.Fatalf("failed to begin session: %v", err)
	}

	state, err := s.Consume(ctx, 1)
	if err != nil {
		t.Fatalf("failed to consume session: %v", err)
	}
	if state.Step != StepAgentName {
		t.Errorf("unexpected step %s", state.Step)
	}
	if _, err := s.Consume(ctx, 1); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession after consume, got %v", err)
	}
}

func TestBegin_LatestStepWins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Begin(ctx, 1, State{Step: StepAgentName}); err != nil {
		t.Fatalf("failed to begin first session: %v", err)
	}
	if err := s.Begin(ctx, 1, State{Step: StepCustomAmount, ProposalID: "abc"}); err != nil {
		t.Fatalf("failed to begin second session: %v", err)
	}

	state, err := s.Consume(ctx, 1)
	if err != nil {
		t.Fatalf("failed to consume session: %v", err)
	}
	if state.Step != StepCustomAmount || state.ProposalID != "abc" {
		t.Errorf("expected the latest step to win, got %+v", state)
	}
}

func TestSessions_IsolatedPerUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Begin(ctx, 1, State{Step: StepAgentName}); err != nil {
		t.Fatalf("failed to begin session: %v", err)
	}
	if _, err := s.Consume(ctx, 2); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected no session for another user, got %v", err)
	}
	if _, err := s.Consume(ctx, 1); err != nil {
		t.Fatalf("user 1's session should be untouched: %v", err)
	}
}
