package brain

import (
	"encoding/json"
	"fmt"
	"math"
)

// TradeType is the direction of a suggested trade.
type TradeType string

const (
	TradeBuy  TradeType = "buy"
	TradeSell TradeType = "sell"
)

// GuardResult is the domain-appropriateness verdict for a user prompt.
type GuardResult struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

func (r *GuardResult) validate() error { return nil }

// TickerResult is the extracted trading symbol, if any.
type TickerResult struct {
	Ticker string `json:"ticker"`
	Found  bool   `json:"found"`
}

func (r *TickerResult) validate() error {
	if r.Found && r.Ticker == "" {
		return &ValidationError{Shape: "ticker", Reason: "found is true but ticker is empty"}
	}
	return nil
}

// Decision is a fully specified trade suggestion.
type Decision struct {
	Token        string    `json:"token"`
	TradeType    TradeType `json:"tradeType"`
	StopLoss     float64   `json:"sl"`
	TakeProfit   float64   `json:"tp"`
	Entry        float64   `json:"entry"`
	CurrentPrice float64   `json:"currentPrice"`
	Message      string    `json:"message"`
	Confidence   float64   `json:"confidence"`
	TradeAmount  float64   `json:"tradeAmount,omitempty"`
}

func (r *Decision) validate() error {
	if r.Token == "" {
		return &ValidationError{Shape: "decision", Reason: "token is empty"}
	}
	if r.TradeType != TradeBuy && r.TradeType != TradeSell {
		return &ValidationError{Shape: "decision", Reason: fmt.Sprintf("tradeType %q is not buy or sell", r.TradeType)}
	}
	if r.Confidence < 0 || r.Confidence > 100 {
		return &ValidationError{Shape: "decision", Reason: fmt.Sprintf("confidence %.2f outside [0,100]", r.Confidence)}
	}
	for name, v := range map[string]float64{
		"entry":        r.Entry,
		"currentPrice": r.CurrentPrice,
		"sl":           r.StopLoss,
		"tp":           r.TakeProfit,
		"tradeAmount":  r.TradeAmount,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return &ValidationError{Shape: "decision", Reason: name + " is not a finite number"}
		}
	}
	if r.Entry <= 0 {
		return &ValidationError{Shape: "decision", Reason: "entry price must be positive"}
	}
	return nil
}

// ContextPlan is the model's request for auxiliary market data before
// it can produce a decision.
type ContextPlan struct {
	NeedsMoreContext bool     `json:"needsMoreContext"`
	RequestedTokens  []string `json:"requestedTokens,omitempty"`
	RequestedDays    int      `json:"requestedDays,omitempty"`
	Reason           string   `json:"reason,omitempty"`
}

func (r *ContextPlan) validate() error {
	if r.RequestedDays < 0 {
		return &ValidationError{Shape: "context", Reason: "requestedDays is negative"}
	}
	return nil
}

// Advice is market-wide guidance produced when no specific ticker was
// identified in the prompt.
type Advice struct {
	SuggestedToken         string   `json:"suggestedToken,omitempty"`
	Reasoning              string   `json:"reasoning"`
	NeedsSpecificTokenData bool     `json:"needsSpecificTokenData"`
	RequestedTokens        []string `json:"requestedTokens,omitempty"`
}

func (r *Advice) validate() error {
	if r.Reasoning == "" {
		return &ValidationError{Shape: "advice", Reason: "reasoning is empty"}
	}
	return nil
}

// IntentKind classifies an inbound message before any trade processing.
type IntentKind string

const (
	IntentTrade  IntentKind = "trade"
	IntentAdvice IntentKind = "advice"
	IntentOther  IntentKind = "other"
)

// Intent is the coarse classification of an inbound message.
type Intent struct {
	Kind   IntentKind `json:"kind"`
	Reason string     `json:"reason,omitempty"`
}

func (r *Intent) validate() error {
	switch r.Kind {
	case IntentTrade, IntentAdvice, IntentOther:
		return nil
	}
	return &ValidationError{Shape: "intent", Reason: fmt.Sprintf("kind %q is unknown", r.Kind)}
}

type validatable interface {
	validate() error
}

// decode unmarshals a completion payload into shape and runs its
// boundary validation. Untyped data never crosses this line.
func decode(shape string, data []byte, out validatable) error {
	if err := json.Unmarshal(data, out); err != nil {
		return &ValidationError{Shape: shape, Reason: err.Error()}
	}
	return out.validate()
}
