package trade

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/h-sameri/smart-duck/internal/brain"
	"github.com/h-sameri/smart-duck/internal/chain"
	"github.com/h-sameri/smart-duck/internal/ephemeral"
)

// clockStore is an ephemeral.Store with a test-controlled clock so
// expiry can be exercised without sleeping.
type clockStore struct {
	entries map[string]clockEntry
	now     time.Time
}

type clockEntry struct {
	value     []byte
	expiresAt time.Time
}

func newClockStore() *clockStore {
	return &clockStore{
		entries: make(map[string]clockEntry),
		now:     time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (s *clockStore) advance(d time.Duration) { s.now = s.now.Add(d) }

func (s *clockStore) live(key string) (clockEntry, bool) {
	e, ok := s.entries[key]
	if !ok || (!e.expiresAt.IsZero() && s.now.After(e.expiresAt)) {
		delete(s.entries, key)
		return clockEntry{}, false
	}
	return e, true
}

func (s *clockStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := clockEntry{value: value}
	if ttl > 0 {
		e.expiresAt = s.now.Add(ttl)
	}
	s.entries[key] = e
	return nil
}

func (s *clockStore) Get(_ context.Context, key string) ([]byte, error) {
	e, ok := s.live(key)
	if !ok {
		return nil, ephemeral.ErrNotFound
	}
	return e.value, nil
}

func (s *clockStore) GetDelete(_ context.Context, key string) ([]byte, error) {
	e, ok := s.live(key)
	if !ok {
		return nil, ephemeral.ErrNotFound
	}
	delete(s.entries, key)
	return e.value, nil
}

func (s *clockStore) Delete(_ context.Context, key string) error {
	delete(s.entries, key)
	return nil
}

func (s *clockStore) TTL(_ context.Context, key string) (time.Duration, error) {
	e, ok := s.live(key)
	if !ok {
		return 0, ephemeral.ErrNotFound
	}
	if e.expiresAt.IsZero() {
		return 0, nil
	}
	return e.expiresAt.Sub(s.now), nil
}

type fakeExecutor struct {
	calls int
	err   error
}

func (e *fakeExecutor) Execute(context.Context, *Proposal) (*chain.Result, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	return &chain.Result{TradeTx: "0xtrade"}, nil
}

type fakeBalances struct {
	funding decimal.Decimal
}

func (b *fakeBalances) EscrowFunding(context.Context, *Proposal) (decimal.Decimal, error) {
	return b.funding, nil
}

type fakeDeclines struct {
	snapshots [][]byte
}

func (d *fakeDeclines) RecordDecline(_ context.Context, _, _ int64, snapshot []byte) error {
	d.snapshots = append(d.snapshots, snapshot)
	return nil
}

func testDecision() *brain.Decision {
	return &brain.Decision{
		Token:        "DUCK",
		TradeType:    brain.TradeBuy,
		StopLoss:     4.5,
		TakeProfit:   6,
		Entry:        5,
		CurrentPrice: 5,
		Message:      "momentum looks strong",
		Confidence:   70,
		TradeAmount:  30,
	}
}

type fixture struct {
	store     *clockStore
	proposals *ProposalStore
	lifecycle *Lifecycle
	executor  *fakeExecutor
	balances  *fakeBalances
	declines  *fakeDeclines
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := newClockStore()
	proposals := NewProposalStore(store, 5*time.Minute)
	executor := &fakeExecutor{}
	balances := &fakeBalances{funding: decimal.NewFromInt(100)}
	declines := &fakeDeclines{}
	lifecycle := NewLifecycle(proposals, executor, balances, declines, zap.NewNop())
	return &fixture{store: store, proposals: proposals, lifecycle: lifecycle, executor: executor, balances: balances, declines: declines}
}

func (f *fixture) propose(t *testing.T) *Proposal {
	t.Helper()
	p, err := NewProposal(1, 10, "scout", testDecision())
	if err != nil {
		t.Fatalf("failed to build proposal: %v", err)
	}
	if err := f.lifecycle.Propose(context.Background(), p); err != nil {
		t.Fatalf("failed to store proposal: %v", err)
	}
	return p
}

func TestNewProposal_DerivesTokenAmount(t *testing.T) {
	p, err := NewProposal(1, 10, "scout", testDecision())
	if err != nil {
		t.Fatalf("failed to build proposal: %v", err)
	}
	if !p.TokenAmount.Equal(decimal.NewFromInt(6)) {
		t.Errorf("expected token amount 6 for 30 at entry 5, got %s", p.TokenAmount)
	}
	if !p.EntryPrice().Equal(decimal.NewFromInt(5)) {
		t.Errorf("expected entry price 5, got %s", p.EntryPrice())
	}
}

func TestConfirm_DoesNotExecute(t *testing.T) {
	f := newFixture(t)
	p := f.propose(t)
	ctx := context.Background()

	got, err := f.lifecycle.Confirm(ctx, p.ID)
	if err != nil {
		t.Fatalf("confirm failed: %v", err)
	}
	if got.Status != StatusConfirming {
		t.Errorf("expected confirming status, got %s", got.Status)
	}
	if f.executor.calls != 0 {
		t.Errorf("confirm alone must not execute, got %d calls", f.executor.calls)
	}

	// The proposal is still live, awaiting the second approval.
	if _, err := f.lifecycle.Get(ctx, p.ID); err != nil {
		t.Fatalf("confirmed proposal should still be live: %v", err)
	}
}

func TestAccept_RequiresConfirmation(t *testing.T) {
	f := newFixture(t)
	p := f.propose(t)
	ctx := context.Background()

	// Accepting a freshly proposed trade must not execute it.
	_, _, err := f.lifecycle.Accept(ctx, p.ID)
	var transErr *InvalidTransitionError
	if !errors.As(err, &transErr) {
		t.Fatalf("expected InvalidTransitionError without confirmation, got %v", err)
	}
	if f.executor.calls != 0 {
		t.Errorf("unconfirmed accept must not execute, got %d calls", f.executor.calls)
	}

	// The proposal survives and can be confirmed and executed.
	if got, err := f.lifecycle.Get(ctx, p.ID); err != nil || got.Status != StatusProposed {
		t.Fatalf("proposal should remain proposed, got %v (%v)", got, err)
	}
}

func TestAccept_ExecutesOnceAfterConfirm(t *testing.T) {
	f := newFixture(t)
	p := f.propose(t)
	ctx := context.Background()

	if _, err := f.lifecycle.Confirm(ctx, p.ID); err != nil {
		t.Fatalf("confirm failed: %v", err)
	}
	done, result, err := f.lifecycle.Accept(ctx, p.ID)
	if err != nil {
		t.Fatalf("accept failed: %v", err)
	}
	if done.Status != StatusExecuted {
		t.Errorf("expected executed status, got %s", done.Status)
	}
	if result.TradeTx != "0xtrade" {
		t.Errorf("unexpected trade tx %s", result.TradeTx)
	}

	// A second accept of the same id must find nothing.
	if _, _, err := f.lifecycle.Accept(ctx, p.ID); !errors.Is(err, ErrProposalNotFound) {
		t.Fatalf("expected ErrProposalNotFound on duplicate accept, got %v", err)
	}
	if f.executor.calls != 1 {
		t.Errorf("expected exactly one execution, got %d", f.executor.calls)
	}
}

func TestAccept_ExecutionFailureIsTerminal(t *testing.T) {
	f := newFixture(t)
	f.executor.err = errors.New("rpc unreachable")
	p := f.propose(t)
	ctx := context.Background()

	if _, err := f.lifecycle.Confirm(ctx, p.ID); err != nil {
		t.Fatalf("confirm failed: %v", err)
	}
	done, _, err := f.lifecycle.Accept(ctx, p.ID)
	if err == nil {
		t.Fatal("expected execution error")
	}
	if done.Status != StatusFailed {
		t.Errorf("expected failed status, got %s", done.Status)
	}
	// The proposal is consumed; a failed trade needs a fresh proposal.
	if _, err := f.lifecycle.Get(ctx, p.ID); !errors.Is(err, ErrProposalNotFound) {
		t.Errorf("failed proposal must not remain acceptable, got %v", err)
	}
}

func TestAccept_DuringAmountEditRestoresProposal(t *testing.T) {
	f := newFixture(t)
	p := f.propose(t)
	ctx := context.Background()

	if _, err := f.lifecycle.BeginAmountEdit(ctx, p.ID); err != nil {
		t.Fatalf("failed to begin edit: %v", err)
	}

	_, _, err := f.lifecycle.Accept(ctx, p.ID)
	var transErr *InvalidTransitionError
	if !errors.As(err, &transErr) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
	if f.executor.calls != 0 {
		t.Error("invalid accept must not execute")
	}

	// The proposal survives the rejected accept.
	got, err := f.lifecycle.Get(ctx, p.ID)
	if err != nil {
		t.Fatalf("proposal should still be live: %v", err)
	}
	if got.Status != StatusAmountEditing {
		t.Errorf("expected amount_editing status, got %s", got.Status)
	}
}

func TestApplyAmountEdit_RecomputesAtEntryPrice(t *testing.T) {
	f := newFixture(t)
	p := f.propose(t)
	ctx := context.Background()

	if _, err := f.lifecycle.BeginAmountEdit(ctx, p.ID); err != nil {
		t.Fatalf("failed to begin edit: %v", err)
	}
	got, err := f.lifecycle.ApplyAmountEdit(ctx, p.ID, 25)
	if err != nil {
		t.Fatalf("amount edit failed: %v", err)
	}

	if !got.FundingCost.Equal(decimal.NewFromInt(25)) {
		t.Errorf("expected funding cost 25, got %s", got.FundingCost)
	}
	if !got.TokenAmount.Equal(decimal.NewFromInt(5)) {
		t.Errorf("expected token amount 5 at entry price 5, got %s", got.TokenAmount)
	}
	if got.Status != StatusConfirming {
		t.Errorf("expected confirming status, got %s", got.Status)
	}
}

func TestApplyAmountEdit_RejectionOrder(t *testing.T) {
	cases := []struct {
		name   string
		amount float64
		want   string
	}{
		{"not a number", math.NaN(), "positive number"},
		{"negative", -5, "positive number"},
		{"above cap", 10001, "cap"},
		{"above balance", 500, "escrow balance"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			p := f.propose(t)
			ctx := context.Background()
			if _, err := f.lifecycle.BeginAmountEdit(ctx, p.ID); err != nil {
				t.Fatalf("failed to begin edit: %v", err)
			}

			_, err := f.lifecycle.ApplyAmountEdit(ctx, p.ID, tc.amount)
			var amountErr *AmountError
			if !errors.As(err, &amountErr) {
				t.Fatalf("expected AmountError, got %v", err)
			}
			if !strings.Contains(amountErr.Reason, tc.want) {
				t.Errorf("expected reason mentioning %q, got %q", tc.want, amountErr.Reason)
			}

			// A rejected edit leaves the proposal unchanged.
			got, err := f.lifecycle.Get(ctx, p.ID)
			if err != nil {
				t.Fatalf("proposal should still be live: %v", err)
			}
			if !got.FundingCost.Equal(decimal.NewFromInt(30)) {
				t.Errorf("funding cost must be untouched, got %s", got.FundingCost)
			}
		})
	}
}

func TestAmountEdit_DoesNotExtendExpiry(t *testing.T) {
	f := newFixture(t)
	p := f.propose(t)
	ctx := context.Background()

	f.store.advance(2 * time.Minute)
	if _, err := f.lifecycle.BeginAmountEdit(ctx, p.ID); err != nil {
		t.Fatalf("failed to begin edit: %v", err)
	}
	if _, err := f.lifecycle.ApplyAmountEdit(ctx, p.ID, 20); err != nil {
		t.Fatalf("amount edit failed: %v", err)
	}

	// 3 minutes remained at edit time; 3.5 minutes later it is gone.
	f.store.advance(3*time.Minute + 30*time.Second)
	if _, err := f.lifecycle.Get(ctx, p.ID); !errors.Is(err, ErrProposalNotFound) {
		t.Fatalf("expected the edited proposal to keep its original expiry, got %v", err)
	}
}

func TestAccept_WrongStateRestoreKeepsRemainingTTL(t *testing.T) {
	f := newFixture(t)
	p := f.propose(t)
	ctx := context.Background()

	if _, err := f.lifecycle.BeginAmountEdit(ctx, p.ID); err != nil {
		t.Fatalf("failed to begin edit: %v", err)
	}

	// An invalid accept 4 minutes in restores the proposal with the
	// single minute it had left, not a fresh 5.
	f.store.advance(4 * time.Minute)
	if _, _, err := f.lifecycle.Accept(ctx, p.ID); err == nil {
		t.Fatal("expected invalid transition")
	}
	if _, err := f.lifecycle.Get(ctx, p.ID); err != nil {
		t.Fatalf("proposal should be restored: %v", err)
	}

	f.store.advance(1*time.Minute + 1*time.Second)
	if _, err := f.lifecycle.Get(ctx, p.ID); !errors.Is(err, ErrProposalNotFound) {
		t.Fatalf("restored proposal must keep its original expiry, got %v", err)
	}
}

func TestDecline_WrongStateRestoresProposal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Plant a proposal in a state with no decline row.
	p, err := NewProposal(1, 10, "scout", testDecision())
	if err != nil {
		t.Fatalf("failed to build proposal: %v", err)
	}
	p.Status = StatusExecuting
	if err := f.proposals.Put(ctx, p); err != nil {
		t.Fatalf("failed to store proposal: %v", err)
	}

	_, err = f.lifecycle.Decline(ctx, p.ID)
	var transErr *InvalidTransitionError
	if !errors.As(err, &transErr) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
	if len(f.declines.snapshots) != 0 {
		t.Error("invalid decline must not be recorded")
	}
	if _, err := f.lifecycle.Get(ctx, p.ID); err != nil {
		t.Errorf("proposal should survive the rejected decline: %v", err)
	}
}

func TestAccept_AfterExpiryFindsNothing(t *testing.T) {
	f := newFixture(t)
	p := f.propose(t)

	f.store.advance(5*time.Minute + 1*time.Second)

	_, _, err := f.lifecycle.Accept(context.Background(), p.ID)
	if !errors.Is(err, ErrProposalNotFound) {
		t.Fatalf("expected ErrProposalNotFound after expiry, got %v", err)
	}
	if f.executor.calls != 0 {
		t.Error("expired proposal must never execute")
	}
}

func TestDecline_RecordsSnapshot(t *testing.T) {
	f := newFixture(t)
	p := f.propose(t)

	done, err := f.lifecycle.Decline(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("decline failed: %v", err)
	}
	if done.Status != StatusDeclined {
		t.Errorf("expected declined status, got %s", done.Status)
	}
	if len(f.declines.snapshots) != 1 {
		t.Fatalf("expected one recorded decline, got %d", len(f.declines.snapshots))
	}
	if !strings.Contains(string(f.declines.snapshots[0]), `"token":"DUCK"`) {
		t.Errorf("snapshot missing trade data: %s", f.declines.snapshots[0])
	}
}

