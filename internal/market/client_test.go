package market

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

func chartHandler(t *testing.T, calls *int) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		*calls++
		w.Header().Set("Content-Type", "application/json")
		resp := map[string][][]float64{
			"prices":        {{1700000000000, 5.0}, {1700003600000, 5.5}},
			"market_caps":   {{1700000000000, 1e9}, {1700003600000, 1.1e9}},
			"total_volumes": {{1700000000000, 2e6}, {1700003600000, 2.5e6}},
		}
		json.NewEncoder(w).Encode(resp)
	}
}

func TestClient_Get(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(chartHandler(t, &calls))
	defer srv.Close()

	c := NewClient(srv.URL, "", zap.NewNop())

	h, err := c.Get(context.Background(), "duck", 7)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if h.Symbol != "DUCK" {
		t.Errorf("expected symbol DUCK, got %s", h.Symbol)
	}
	if len(h.Points) != 2 {
		t.Fatalf("expected 2 points, got %d", len(h.Points))
	}
	if h.Points[1].Price != 5.5 {
		t.Errorf("expected price 5.5, got %f", h.Points[1].Price)
	}
	if h.Points[0].Volume != 2e6 {
		t.Errorf("expected volume 2e6, got %f", h.Points[0].Volume)
	}
}

func TestClient_GetCachesFreshSeries(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(chartHandler(t, &calls))
	defer srv.Close()

	c := NewClient(srv.URL, "", zap.NewNop())
	ctx := context.Background()

	if _, err := c.Get(ctx, "DUCK", 7); err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if _, err := c.Get(ctx, "DUCK", 7); err != nil {
		t.Fatalf("second get failed: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 upstream call, got %d", calls)
	}

	summary := c.Summarize()
	if summary.CachedTokens != 1 {
		t.Errorf("expected 1 cached token, got %d", summary.CachedTokens)
	}
}

func TestClient_GetUnknownSymbol(t *testing.T) {
	c := NewClient("http://127.0.0.1:0", "", zap.NewNop())

	_, err := c.Get(context.Background(), "DOGE", 7)
	if err == nil {
		t.Fatal("expected error for unknown symbol")
	}
}

func TestClient_GetClampsLookback(t *testing.T) {
	var gotDays string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotDays = r.URL.Query().Get("days")
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string][][]float64{
			"prices": {{1700000000000, 1.0}},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", zap.NewNop())
	if _, err := c.Get(context.Background(), "DUCK", 90); err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if gotDays != "15" {
		t.Errorf("expected lookback clamped to 15 days, got %s", gotDays)
	}
}
