package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/h-sameri/smart-duck/internal/bot"
	"github.com/h-sameri/smart-duck/internal/store"
)

type fakeBalances struct{}

func (fakeBalances) FundingBalance(context.Context, common.Address) (decimal.Decimal, error) {
	return decimal.NewFromInt(100), nil
}

func (fakeBalances) All(context.Context, common.Address) (map[string]decimal.Decimal, error) {
	return map[string]decimal.Decimal{
		"USDT": decimal.NewFromInt(100),
		"DUCK": decimal.NewFromInt(6),
	}, nil
}

func (fakeBalances) Native(context.Context, common.Address) (decimal.Decimal, error) {
	return decimal.NewFromFloat(0.01), nil
}

func (fakeBalances) BaseUnits(_ context.Context, symbol string, amount decimal.Decimal) (*big.Int, error) {
	if symbol == "USDT" {
		return amount.Shift(6).Truncate(0).BigInt(), nil
	}
	return amount.Shift(18).Truncate(0).BigInt(), nil
}

func newTestServer(t *testing.T) (*httptest.Server, *store.Store) {
	t.Helper()
	registry, err := store.Open(filepath.Join(t.TempDir(), "api.sqlite"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { registry.Close() })

	api := NewServer(registry, fakeBalances{}, bot.NewWallets("test-master-key"),
		NewTokenIssuer("test-secret"), zap.NewNop())
	srv := httptest.NewServer(api.Routes())
	t.Cleanup(srv.Close)
	return srv, registry
}

func issueTestToken(t *testing.T, srv *httptest.Server, chatID int64) string {
	t.Helper()
	body, _ := json.Marshal(map[string]int64{"chat_id": chatID})
	resp, err := http.Post(srv.URL+"/v1/auth/token", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("token request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("failed to decode token: %v", err)
	}
	return out.Token
}

func authedGet(t *testing.T, srv *httptest.Server, path, token string) *http.Response {
	t.Helper()
	req, _ := http.NewRequest(http.MethodGet, srv.URL+path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

func TestIssueToken_UnknownChatRejected(t *testing.T) {
	srv, _ := newTestServer(t)
	body, _ := json.Marshal(map[string]int64{"chat_id": 42})
	resp, err := http.Post(srv.URL+"/v1/auth/token", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unregistered chat, got %d", resp.StatusCode)
	}
}

func TestListAgents_RequiresToken(t *testing.T) {
	srv, registry := newTestServer(t)
	if _, err := registry.CreateUser(context.Background(), 42, "alice", 1); err != nil {
		t.Fatalf("failed to create user: %v", err)
	}

	resp := authedGet(t, srv, "/v1/agents", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}

	resp = authedGet(t, srv, "/v1/agents", "not-a-token")
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 with garbage token, got %d", resp.StatusCode)
	}
}

func TestListAgents_ReturnsOwnAgentsOnly(t *testing.T) {
	srv, registry := newTestServer(t)
	ctx := context.Background()
	alice, _ := registry.CreateUser(ctx, 42, "alice", 1)
	bob, _ := registry.CreateUser(ctx, 43, "bob", 1)
	if _, err := registry.CreateAgent(ctx, alice.ID, "scout", "momentum trades", "0xabc"); err != nil {
		t.Fatalf("failed to create agent: %v", err)
	}
	if _, err := registry.CreateAgent(ctx, bob.ID, "sniper", "scalp the dips a lot", "0xdef"); err != nil {
		t.Fatalf("failed to create agent: %v", err)
	}

	token := issueTestToken(t, srv, 42)
	resp := authedGet(t, srv, "/v1/agents", token)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var agents []struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&agents); err != nil {
		t.Fatalf("failed to decode agents: %v", err)
	}
	if len(agents) != 1 || agents[0].Name != "scout" {
		t.Errorf("expected only alice's agent, got %+v", agents)
	}
}

func TestAgentBalances(t *testing.T) {
	srv, registry := newTestServer(t)
	ctx := context.Background()
	alice, _ := registry.CreateUser(ctx, 42, "alice", 1)
	agent, err := registry.CreateAgent(ctx, alice.ID, "scout", "momentum trades", "0x0000000000000000000000000000000000000001")
	if err != nil {
		t.Fatalf("failed to create agent: %v", err)
	}

	token := issueTestToken(t, srv, 42)
	resp := authedGet(t, srv, "/v1/agents/"+strconv.FormatInt(agent.ID, 10)+"/balances", token)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var view struct {
		Escrow   map[string]string `json:"escrow"`
		ActorGas string            `json:"actor_gas"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		t.Fatalf("failed to decode balances: %v", err)
	}
	if view.Escrow["USDT"] != "100" || view.Escrow["DUCK"] != "6" {
		t.Errorf("unexpected escrow view %+v", view.Escrow)
	}
	if view.ActorGas != "0.01" {
		t.Errorf("unexpected gas view %q", view.ActorGas)
	}
}
