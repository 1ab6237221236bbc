package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.sqlite"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUserRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.CreateUser(ctx, 4242, "duckfan", 1)
	if err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	if created.ID == 0 {
		t.Fatal("expected a nonzero user id")
	}

	got, err := s.UserByChatID(ctx, 4242)
	if err != nil {
		t.Fatalf("failed to look up user: %v", err)
	}
	if got.ID != created.ID || got.Username != "duckfan" || got.TermsVersion != 1 {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if got.AcceptedTermsAt.IsZero() {
		t.Error("expected terms acceptance timestamp to be set")
	}
}

func TestUserByChatID_Missing(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.UserByChatID(context.Background(), 999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateAgent_DuplicateNameRejected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u, err := s.CreateUser(ctx, 1, "alice", 1)
	if err != nil {
		t.Fatalf("failed to create user: %v", err)
	}

	if _, err := s.CreateAgent(ctx, u.ID, "scout", "buy low sell high", "0xabc"); err != nil {
		t.Fatalf("failed to create agent: %v", err)
	}
	if _, err := s.CreateAgent(ctx, u.ID, "scout", "other instructions", "0xdef"); !errors.Is(err, ErrAgentExists) {
		t.Fatalf("expected ErrAgentExists, got %v", err)
	}

	// A different owner may reuse the name.
	u2, err := s.CreateUser(ctx, 2, "bob", 1)
	if err != nil {
		t.Fatalf("failed to create second user: %v", err)
	}
	if _, err := s.CreateAgent(ctx, u2.ID, "scout", "some instructions", "0x123"); err != nil {
		t.Fatalf("name reuse across owners should succeed: %v", err)
	}
}

func TestAgentByID_OwnershipEnforced(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u, _ := s.CreateUser(ctx, 1, "alice", 1)
	other, _ := s.CreateUser(ctx, 2, "bob", 1)

	a, err := s.CreateAgent(ctx, u.ID, "scout", "buy low sell high", "0xabc")
	if err != nil {
		t.Fatalf("failed to create agent: %v", err)
	}

	if _, err := s.AgentByID(ctx, a.ID, other.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign owner, got %v", err)
	}
	got, err := s.AgentByID(ctx, a.ID, u.ID)
	if err != nil {
		t.Fatalf("owner lookup failed: %v", err)
	}
	if got.EscrowAddress != "0xabc" {
		t.Errorf("unexpected escrow address %s", got.EscrowAddress)
	}
}

func TestDeleteAgent_CleansDeclineHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u, _ := s.CreateUser(ctx, 1, "alice", 1)
	a, _ := s.CreateAgent(ctx, u.ID, "scout", "buy low sell high", "0xabc")

	if err := s.RecordDecline(ctx, u.ID, a.ID, []byte(`{"token":"DUCK"}`)); err != nil {
		t.Fatalf("failed to record decline: %v", err)
	}
	if err := s.DeleteAgent(ctx, a.ID, u.ID); err != nil {
		t.Fatalf("failed to delete agent: %v", err)
	}

	declines, err := s.RecentDeclines(ctx, u.ID, a.ID, 5)
	if err != nil {
		t.Fatalf("failed to query declines: %v", err)
	}
	if len(declines) != 0 {
		t.Errorf("expected decline history to be removed, found %d entries", len(declines))
	}

	if err := s.DeleteAgent(ctx, a.ID, u.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestRecentDeclines_OrderAndLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u, _ := s.CreateUser(ctx, 1, "alice", 1)
	a, _ := s.CreateAgent(ctx, u.ID, "scout", "buy low sell high", "0xabc")

	for i := 0; i < 7; i++ {
		snapshot := fmt.Sprintf(`{"seq":%d}`, i)
		if err := s.RecordDecline(ctx, u.ID, a.ID, []byte(snapshot)); err != nil {
			t.Fatalf("failed to record decline %d: %v", i, err)
		}
	}

	declines, err := s.RecentDeclines(ctx, u.ID, a.ID, 5)
	if err != nil {
		t.Fatalf("failed to query declines: %v", err)
	}
	if len(declines) != 5 {
		t.Fatalf("expected 5 declines, got %d", len(declines))
	}
	if declines[0] != `{"seq":6}` {
		t.Errorf("expected most recent decline first, got %s", declines[0])
	}
	if declines[4] != `{"seq":2}` {
		t.Errorf("unexpected oldest returned decline %s", declines[4])
	}
}
