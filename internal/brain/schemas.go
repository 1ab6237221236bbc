package brain

import "encoding/json"

// JSON schemas handed to the completion service. Each mirrors the Go
// result type it constrains; validation in results.go is the authority
// if the service ignores the schema.

var guardSchema = ResponseSchema{
	Name: "prompt_guard",
	Schema: json.RawMessage(`{
		"type": "object",
		"properties": {
			"valid": {"type": "boolean"},
			"reason": {"type": "string"}
		},
		"required": ["valid"]
	}`),
}

var tickerSchema = ResponseSchema{
	Name: "ticker_extraction",
	Schema: json.RawMessage(`{
		"type": "object",
		"properties": {
			"ticker": {"type": "string"},
			"found": {"type": "boolean"}
		},
		"required": ["ticker", "found"]
	}`),
}

var decisionSchema = ResponseSchema{
	Name: "trade_decision",
	Schema: json.RawMessage(`{
		"type": "object",
		"properties": {
			"token": {"type": "string"},
			"tradeType": {"type": "string", "enum": ["buy", "sell"]},
			"sl": {"type": "number"},
			"tp": {"type": "number"},
			"entry": {"type": "number"},
			"currentPrice": {"type": "number"},
			"message": {"type": "string"},
			"confidence": {"type": "number", "minimum": 0, "maximum": 100},
			"tradeAmount": {"type": "number"}
		},
		"required": ["token", "tradeType", "sl", "tp", "entry", "currentPrice", "message", "confidence", "tradeAmount"]
	}`),
}

var contextSchema = ResponseSchema{
	Name: "context_request",
	Schema: json.RawMessage(`{
		"type": "object",
		"properties": {
			"needsMoreContext": {"type": "boolean"},
			"requestedTokens": {"type": "array", "items": {"type": "string"}},
			"requestedDays": {"type": "number"},
			"reason": {"type": "string"}
		},
		"required": ["needsMoreContext"]
	}`),
}

var adviceSchema = ResponseSchema{
	Name: "generic_advice",
	Schema: json.RawMessage(`{
		"type": "object",
		"properties": {
			"suggestedToken": {"type": "string"},
			"reasoning": {"type": "string"},
			"needsSpecificTokenData": {"type": "boolean"},
			"requestedTokens": {"type": "array", "items": {"type": "string"}}
		},
		"required": ["reasoning", "needsSpecificTokenData"]
	}`),
}

var intentSchema = ResponseSchema{
	Name: "message_intent",
	Schema: json.RawMessage(`{
		"type": "object",
		"properties": {
			"kind": {"type": "string", "enum": ["trade", "advice", "other"]},
			"reason": {"type": "string"}
		},
		"required": ["kind"]
	}`),
}
