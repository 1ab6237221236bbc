package brain

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/h-sameri/smart-duck/internal/market"
	"github.com/h-sameri/smart-duck/internal/tokens"
)

// PriceSource supplies the market data the pipeline feeds into
// completion calls.
type PriceSource interface {
	Get(ctx context.Context, symbol string, days int) (*market.History, error)
	CachedHistories() map[string]*market.History
	Summarize() market.Summary
	WarmEssential(ctx context.Context)
}

// Engine runs the staged decision pipeline.
type Engine struct {
	ai     Completer
	prices PriceSource
	log    *zap.Logger
}

// NewEngine wires the pipeline's collaborators.
func NewEngine(ai Completer, prices PriceSource, log *zap.Logger) *Engine {
	return &Engine{ai: ai, prices: prices, log: log}
}

// ClassifyIntent decides what kind of request an inbound message is.
func (e *Engine) ClassifyIntent(ctx context.Context, prompt string) (*Intent, error) {
	preamble := fmt.Sprintf(`You classify inbound messages for a cryptocurrency trading bot.
%s

Classify the message as one of:
- "trade": the user wants a trade recommendation or to trade a token
- "advice": the user asks a general market or crypto question without requesting a trade
- "other": anything else

Known tokens: %s`, timestampLine(), strings.Join(tokens.Symbols(), ", "))

	raw, err := e.ai.Complete(ctx, Request{
		Preamble: preamble,
		Prompt:   prompt,
		Schema:   intentSchema,
	})
	if err != nil {
		return nil, err
	}
	var out Intent
	if err := decode("intent", raw, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Guard checks that a prompt is in-domain before any further processing.
// It fails closed: every upstream error propagates as a typed failure.
func (e *Engine) Guard(ctx context.Context, prompt string) (*GuardResult, error) {
	preamble := fmt.Sprintf(`You are a prompt guard for a cryptocurrency trading bot.
%s

Analyze the user's prompt and determine if it's appropriate for cryptocurrency trading.

Valid prompts include:
- Requests for trade recommendations
- Questions about specific cryptocurrencies
- Market analysis requests
- Price predictions

Invalid prompts include:
- Requests for financial advice beyond trading
- Non-crypto related queries
- Harmful or inappropriate content
- Requests to trade stocks, forex, or other non-crypto assets

Return your analysis with valid: true/false and a reason if invalid.`, timestampLine())

	raw, err := e.ai.Complete(ctx, Request{
		Preamble: preamble,
		Prompt:   prompt,
		Schema:   guardSchema,
	})
	if err != nil {
		return nil, err
	}
	var out GuardResult
	if err := decode("guard", raw, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ExtractTicker maps a prompt onto a single catalog symbol. Ambiguity
// resolution is delegated entirely to the model.
func (e *Engine) ExtractTicker(ctx context.Context, prompt string) (*TickerResult, error) {
	preamble := fmt.Sprintf(`You are a token ticker extraction agent.
%s

Analyze the user's prompt and extract the cryptocurrency ticker they want to trade.

Available tokens: %s

If no specific token is mentioned, suggest the most relevant one based on context.
If multiple tokens are mentioned, pick the primary one for trading.

Remember: w(wrapped) tokens may be referred to by their original name.`,
		timestampLine(), strings.Join(tokens.Symbols(), ", "))

	raw, err := e.ai.Complete(ctx, Request{
		Preamble: preamble,
		Prompt:   prompt,
		Schema:   tickerSchema,
	})
	if err != nil {
		return nil, err
	}
	var out TickerResult
	if err := decode("ticker", raw, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PlanContext asks whether auxiliary market data is needed before a
// decision can be made for ticker.
func (e *Engine) PlanContext(ctx context.Context, prompt, ticker string, history *market.History) (*ContextPlan, error) {
	preamble := fmt.Sprintf(`You are an expert cryptocurrency analyst reviewing if additional market data is needed.
%s

Given the user prompt, target token, and its price history, determine if you need additional context such as:
- Price data from other tokens for comparison
- Longer historical data
- Market correlation data

Be specific about what additional data would help make a better trading decision.
Available tokens: %s`, timestampLine(), strings.Join(tokens.Symbols(), ", "))

	raw, err := e.ai.Complete(ctx, Request{
		Preamble: preamble,
		Knowledge: []string{
			"Target Token: " + ticker,
			fmt.Sprintf("Price History for %s:\n%s", ticker, mustJSON(history)),
		},
		Prompt: prompt,
		Schema: contextSchema,
	})
	if err != nil {
		return nil, err
	}
	var out ContextPlan
	if err := decode("context", raw, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DecisionInput carries everything a decision call may draw on.
type DecisionInput struct {
	Prompt  string
	Ticker  string
	History *market.History

	// Auxiliary holds extra series collected by the context planner.
	// Present only on the enriched call shape.
	Auxiliary map[string]*market.History

	// Balance is the escrow funding-asset balance, when known. It only
	// changes the sizing instruction in the prompt; the returned
	// tradeAmount is passed through unclamped.
	Balance *float64

	// Strategy is the owning agent's free-text instructions.
	Strategy string

	// Avoid carries serialized snapshots of recently declined proposals.
	Avoid []string
}

// Decide produces a schema-validated trade decision.
func (e *Engine) Decide(ctx context.Context, in DecisionInput) (*Decision, error) {
	enriched := len(in.Auxiliary) > 0

	var b strings.Builder
	if enriched {
		b.WriteString("You are an expert cryptocurrency trading analyst with access to comprehensive market data.\n")
	} else {
		b.WriteString("You are an expert cryptocurrency trading analyst.\n")
	}
	b.WriteString(timestampLine())
	b.WriteString("\n")
	b.WriteString(balanceInstruction(in.Balance))
	b.WriteString(`
Based on the user's prompt, token ticker, and price history data, provide a detailed trade recommendation.

Analyze:
- Price trends and patterns
- Volume indicators
- Support and resistance levels
- Risk management parameters
- User's available balance for trading
- Whether this should be a BUY or SELL operation based on the user's request
`)
	if enriched {
		b.WriteString("- Correlation with other tokens\n- Market sentiment from additional data\n")
	}
	b.WriteString(`
Provide specific entry, stop loss, and take profit levels with detailed reasoning.
Also suggest an appropriate trade amount (tradeAmount) in USDT that fits within the user's budget.
Set tradeType to "buy" for buying tokens with USDT, or "sell" for selling tokens to get USDT.

IMPORTANT: Return confidence as a percentage number between 0-100 (e.g., 75 for 75% confidence, not 0.75).`)

	knowledge := []string{
		fmt.Sprintf("Price History Data for %s:\n%s", in.Ticker, mustJSON(in.History)),
	}
	if enriched {
		knowledge = append(knowledge, "Additional Market Data:\n"+mustJSON(in.Auxiliary))
	}
	if in.Strategy != "" {
		knowledge = append(knowledge, "Trading strategy set by the user for this agent:\n"+in.Strategy)
	}
	if len(in.Avoid) > 0 {
		knowledge = append(knowledge,
			"The user recently declined the following suggestions. Avoid suggesting similar trades:\n"+
				strings.Join(in.Avoid, "\n"))
	}
	knowledge = append(knowledge, "Available tokens: "+catalogWithNames())

	raw, err := e.ai.Complete(ctx, Request{
		Preamble:  b.String(),
		Knowledge: knowledge,
		Prompt:    in.Prompt,
		Schema:    decisionSchema,
	})
	if err != nil {
		return nil, err
	}
	var out Decision
	if err := decode("decision", raw, &out); err != nil {
		return nil, err
	}

	if in.Balance != nil && out.TradeAmount > 0 {
		lo, hi := *in.Balance*0.10, *in.Balance*0.90
		if out.TradeAmount < lo || out.TradeAmount > hi {
			// The 10-90% sizing rule lives only in the prompt; the amount
			// is passed through unchanged but the drift is logged.
			e.log.Warn("trade amount outside suggested sizing range",
				zap.Float64("amount", out.TradeAmount),
				zap.Float64("balance", *in.Balance))
		}
	}
	return &out, nil
}

// Advise produces market-wide guidance when no ticker was identified.
func (e *Engine) Advise(ctx context.Context, prompt string) (*Advice, error) {
	summary := e.prices.Summarize()
	if summary.CachedTokens < len(tokens.Catalog) {
		e.prices.WarmEssential(ctx)
		summary = e.prices.Summarize()
	}
	cached := e.prices.CachedHistories()

	preamble := fmt.Sprintf(`You are an expert cryptocurrency trading analyst providing general trading advice.
%s

The user has asked for trading advice without specifying a particular token.

Based on the current market data and user's request, provide:
1. General market insights
2. Suggest a specific token to trade (if appropriate)
3. Reasoning for your suggestion
4. Whether you need specific token price data to make a better recommendation

Available tokens: %s

If you suggest a token, make sure it's from the available list.`,
		timestampLine(), strings.Join(tokens.Symbols(), ", "))

	knowledge := []string{"Market Summary:\n" + mustJSON(summary)}
	if len(cached) > 0 {
		knowledge = append(knowledge, "Cached Price Data:\n"+mustJSON(cached))
	}

	raw, err := e.ai.Complete(ctx, Request{
		Preamble:  preamble,
		Knowledge: knowledge,
		Prompt:    prompt,
		Schema:    adviceSchema,
	})
	if err != nil {
		return nil, err
	}
	var out Advice
	if err := decode("advice", raw, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Outcome is the pipeline's terminal result: exactly one of Decision or
// Advice is set on success.
type Outcome struct {
	Guard    *GuardResult
	Ticker   *TickerResult
	Plan     *ContextPlan
	Decision *Decision
	Advice   *Advice
}

// RunInput parameterizes a full pipeline run.
type RunInput struct {
	Prompt   string
	Balance  *float64
	Strategy string
	Avoid    []string
}

// Run executes guard, ticker extraction, context planning and the
// decision call in order. Any stage failure aborts before a proposal
// exists; no partial result escapes.
func (e *Engine) Run(ctx context.Context, in RunInput) (*Outcome, error) {
	guard, err := e.Guard(ctx, in.Prompt)
	if err != nil {
		return nil, err
	}
	out := &Outcome{Guard: guard}
	if !guard.Valid {
		return out, nil
	}

	ticker, err := e.ExtractTicker(ctx, in.Prompt)
	if err != nil {
		return nil, err
	}
	out.Ticker = ticker

	if !ticker.Found {
		advice, err := e.Advise(ctx, in.Prompt)
		if err != nil {
			return nil, err
		}
		out.Advice = advice
		return out, nil
	}

	history, err := e.prices.Get(ctx, ticker.Ticker, 7)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch price history: %w", err)
	}

	plan, err := e.PlanContext(ctx, in.Prompt, ticker.Ticker, history)
	if err != nil {
		return nil, err
	}
	out.Plan = plan

	var auxiliary map[string]*market.History
	if plan.NeedsMoreContext && len(plan.RequestedTokens) > 0 {
		days := plan.RequestedDays
		if days <= 0 {
			days = 7
		}
		auxiliary = make(map[string]*market.History)
		for _, symbol := range plan.RequestedTokens {
			extra, err := e.prices.Get(ctx, symbol, days)
			if err != nil {
				// A failed auxiliary fetch never blocks the decision.
				e.log.Warn("auxiliary history fetch failed",
					zap.String("symbol", symbol), zap.Error(err))
				continue
			}
			auxiliary[extra.Symbol] = extra
		}
	}

	decision, err := e.Decide(ctx, DecisionInput{
		Prompt:    in.Prompt,
		Ticker:    ticker.Ticker,
		History:   history,
		Auxiliary: auxiliary,
		Balance:   in.Balance,
		Strategy:  in.Strategy,
		Avoid:     in.Avoid,
	})
	if err != nil {
		return nil, err
	}
	out.Decision = decision
	return out, nil
}

func balanceInstruction(balance *float64) string {
	if balance == nil {
		return "User's wallet balance: Unknown - provide general trade recommendation without specific amounts.\n"
	}
	return fmt.Sprintf(`User's current USDT wallet balance: %.2f USDT

CRITICAL: For risk management, suggest trades using 10%% to 90%% of available balance based on risk assessment.
Suggest between %.2f USDT (10%%) and %.2f USDT (90%%).
Choose percentage based on trade confidence, market volatility, and risk level.
Higher confidence = higher percentage (up to 90%%), Lower confidence = lower percentage (down to 10%%).
NEVER suggest more than 90%% or less than 10%% of the balance.
`, *balance, *balance*0.10, *balance*0.90)
}

func catalogWithNames() string {
	parts := make([]string, len(tokens.Catalog))
	for i, t := range tokens.Catalog {
		parts[i] = fmt.Sprintf("%s (%s)", t.Symbol, t.Name)
	}
	return strings.Join(parts, ", ")
}

func mustJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
