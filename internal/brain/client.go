// Package brain is the trade-decision pipeline: a sequence of
// schema-constrained completion calls that turn a free-text prompt plus
// market data into a validated trade decision.
package brain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// Request is one schema-constrained completion call: a system preamble,
// ordered knowledge blocks, the user's text, and the JSON shape the
// response must conform to.
type Request struct {
	Preamble  string
	Knowledge []string
	Prompt    string
	Schema    ResponseSchema
}

// ResponseSchema names and defines the JSON schema the model must emit.
type ResponseSchema struct {
	Name   string
	Schema json.RawMessage
}

// Completer abstracts the language-completion service.
type Completer interface {
	Complete(ctx context.Context, req Request) ([]byte, error)
}

// OpenAIClient implements Completer against the OpenAI chat API.
type OpenAIClient struct {
	api   *openai.Client
	model string
	log   *zap.Logger
}

// NewOpenAIClient builds a completion client for the given model.
func NewOpenAIClient(apiKey, model string, log *zap.Logger) *OpenAIClient {
	return &OpenAIClient{
		api:   openai.NewClient(apiKey),
		model: model,
		log:   log,
	}
}

// Complete performs one completion call and returns the raw JSON payload.
// Upstream failures are folded into ErrQuotaExceeded or
// ErrServiceUnavailable; the caller never sees a silent success.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) ([]byte, error) {
	messages := []openai.ChatCompletionMessage{
		{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.Preamble,
		},
		{
			Role:    openai.ChatMessageRoleUser,
			Content: buildUserContent(req),
		},
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: 0.2,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   req.Schema.Name,
				Schema: req.Schema.Schema,
			},
		},
	})
	if err != nil {
		return nil, classifyAPIError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: response contained no choices", ErrServiceUnavailable)
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return nil, fmt.Errorf("%w: response content was empty", ErrServiceUnavailable)
	}
	c.log.Debug("completion finished",
		zap.String("shape", req.Schema.Name),
		zap.Int("bytes", len(content)))
	return []byte(content), nil
}

func classifyAPIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %v", ErrQuotaExceeded, err)
	}
	return fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
}

func buildUserContent(req Request) string {
	var b strings.Builder
	for _, knowledge := range req.Knowledge {
		b.WriteString("This is knowledge provided to you:\n")
		b.WriteString(knowledge)
		b.WriteString("\n")
	}
	b.WriteString("User Prompt:\n")
	b.WriteString(req.Prompt)
	return b.String()
}

// timestampLine anchors every preamble with the current time so the
// model does not reason against its training cutoff.
func timestampLine() string {
	return "Current timestamp: " + time.Now().UTC().Format(time.RFC3339)
}
