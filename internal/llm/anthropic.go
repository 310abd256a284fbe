package llm

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rotisserie/eris"

	"github.com/shahamT/valley-luz/pkg/anthropic"
)

// Anthropic is a Completer backed by the Messages API. Structured output is
// obtained by forcing a single tool whose input schema is the stage schema.
type Anthropic struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewAnthropic wraps client.
func NewAnthropic(client anthropic.Client, model string, maxTokens int64) *Anthropic {
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Anthropic{client: client, model: model, maxTokens: maxTokens}
}

// Complete implements Completer.
func (a *Anthropic) Complete(ctx context.Context, req Request) (json.RawMessage, error) {
	model := req.Model
	if model == "" {
		model = a.model
	}

	msg := anthropic.Message{Role: "user", Content: req.User}
	if req.ImageURL != "" {
		msg.ImageURLs = []string{req.ImageURL}
	}

	temp := 0.0
	resp, err := a.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       model,
		MaxTokens:   a.maxTokens,
		System:      anthropic.BuildCachedSystemBlocks(req.System),
		Messages:    []anthropic.Message{msg},
		Temperature: &temp,
		Tool: &anthropic.Tool{
			Name:        req.Schema.Name,
			Description: req.Schema.Description,
			InputSchema: req.Schema.JSON,
		},
	})
	if err != nil {
		return nil, anthropicError(err)
	}
	resp.Usage.LogCost(model, req.Stage)

	if input, ok := resp.ToolInput(req.Schema.Name); ok {
		return input, nil
	}
	// Some models answer in text despite the forced tool; Decode strips fences.
	if text := resp.Text(); text != "" {
		return json.RawMessage(text), nil
	}
	return nil, &SchemaError{Stage: req.Stage, Err: eris.Errorf("no %s tool call (stop reason %s)", req.Schema.Name, resp.StopReason)}
}

func anthropicError(err error) error {
	var apiErr *anthropic.APIError
	if errors.As(err, &apiErr) {
		return &ProviderError{
			Provider:   "anthropic",
			Kind:       KindForStatus(apiErr.StatusCode),
			StatusCode: apiErr.StatusCode,
			RetryAfter: apiErr.RetryAfter,
			Err:        err,
		}
	}
	return classifyTransport("anthropic", err)
}
