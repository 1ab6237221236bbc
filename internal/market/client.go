// Package market supplies price-history snapshots for catalog tokens,
// backed by the CoinGecko market-chart API with a small freshness cache.
package market

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/h-sameri/smart-duck/internal/tokens"
)

// MaxLookbackDays bounds how far back a history request may reach.
const MaxLookbackDays = 15

const cacheFreshness = 10 * time.Minute

// ErrUnknownToken is returned for symbols outside the catalog.
var ErrUnknownToken = errors.New("market: unknown token symbol")

// Point is one sample of a token's market state.
type Point struct {
	Timestamp time.Time `json:"timestamp"`
	Price     float64   `json:"price"`
	Volume    float64   `json:"volume"`
	MarketCap float64   `json:"market_cap"`
}

// History is an ordered price series for one symbol.
type History struct {
	Symbol    string    `json:"symbol"`
	Days      int       `json:"days"`
	Points    []Point   `json:"points"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Summary describes what the cache currently holds, used when giving
// market-wide advice without a specific target token.
type Summary struct {
	CachedTokens int      `json:"cached_tokens"`
	Symbols      []string `json:"symbols"`
	GeneratedAt  string   `json:"generated_at"`
}

// Client fetches and caches price histories.
type Client struct {
	http *resty.Client
	log  *zap.Logger

	mu    sync.RWMutex
	cache map[string]*History
}

// NewClient builds a market client against the given CoinGecko base URL.
// apiKey may be empty for the public tier.
func NewClient(baseURL, apiKey string, log *zap.Logger) *Client {
	http := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30 * time.Second)
	if apiKey != "" {
		http.SetHeader("x-cg-demo-api-key", apiKey)
	}
	return &Client{
		http:  http,
		log:   log,
		cache: make(map[string]*History),
	}
}

type chartResponse struct {
	Prices       [][]float64 `json:"prices"`
	MarketCaps   [][]float64 `json:"market_caps"`
	TotalVolumes [][]float64 `json:"total_volumes"`
}

// Get returns the price history for symbol over the given lookback.
// Lookbacks beyond MaxLookbackDays are clamped. Fresh cached series are
// served without a network round trip.
func (c *Client) Get(ctx context.Context, symbol string, days int) (*History, error) {
	token, ok := tokens.BySymbol(symbol)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownToken, symbol)
	}
	if days < 1 {
		days = 1
	}
	if days > MaxLookbackDays {
		days = MaxLookbackDays
	}

	if cached := c.cached(token.Symbol, days); cached != nil {
		return cached, nil
	}

	var chart chartResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"vs_currency": "usd",
			"days":        strconv.Itoa(days),
		}).
		SetResult(&chart).
		Get("/api/v3/coins/" + token.CoinGeckoID + "/market_chart")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch price history for %s: %w", token.Symbol, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("price history request for %s returned status %d", token.Symbol, resp.StatusCode())
	}

	history := &History{
		Symbol:    token.Symbol,
		Days:      days,
		Points:    mergeChart(chart),
		FetchedAt: time.Now().UTC(),
	}
	if len(history.Points) == 0 {
		return nil, fmt.Errorf("price history for %s is empty", token.Symbol)
	}

	c.mu.Lock()
	c.cache[token.Symbol] = history
	c.mu.Unlock()

	c.log.Debug("fetched price history",
		zap.String("symbol", token.Symbol),
		zap.Int("days", days),
		zap.Int("points", len(history.Points)))
	return history, nil
}

// WarmEssential prefetches every catalog token, skipping failures.
func (c *Client) WarmEssential(ctx context.Context) {
	for _, t := range tokens.Catalog {
		if _, err := c.Get(ctx, t.Symbol, 7); err != nil {
			c.log.Warn("cache warm failed", zap.String("symbol", t.Symbol), zap.Error(err))
		}
	}
}

// CachedHistories returns a snapshot of every cached series.
func (c *Client) CachedHistories() map[string]*History {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]*History, len(c.cache))
	for symbol, h := range c.cache {
		out[symbol] = h
	}
	return out
}

// Summarize reports the current cache contents.
func (c *Client) Summarize() Summary {
	c.mu.RLock()
	defer c.mu.RUnlock()
	symbols := make([]string, 0, len(c.cache))
	for symbol := range c.cache {
		symbols = append(symbols, symbol)
	}
	return Summary{
		CachedTokens: len(symbols),
		Symbols:      symbols,
		GeneratedAt:  time.Now().UTC().Format(time.RFC3339),
	}
}

func (c *Client) cached(symbol string, days int) *History {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.cache[symbol]
	if !ok || h.Days < days || time.Since(h.FetchedAt) > cacheFreshness {
		return nil
	}
	return h
}

// mergeChart zips the parallel price/cap/volume arrays into points. The
// arrays are index-aligned in the API response; missing tails are padded
// with zeroes.
func mergeChart(chart chartResponse) []Point {
	points := make([]Point, 0, len(chart.Prices))
	for i, pair := range chart.Prices {
		if len(pair) < 2 {
			continue
		}
		p := Point{
			Timestamp: time.UnixMilli(int64(pair[0])).UTC(),
			Price:     pair[1],
		}
		if i < len(chart.TotalVolumes) && len(chart.TotalVolumes[i]) >= 2 {
			p.Volume = chart.TotalVolumes[i][1]
		}
		if i < len(chart.MarketCaps) && len(chart.MarketCaps[i]) >= 2 {
			p.MarketCap = chart.MarketCaps[i][1]
		}
		points = append(points, p)
	}
	return points
}
