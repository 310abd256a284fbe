package llm

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rotisserie/eris"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// OpenAI is a Completer backed by the Chat Completions API using the
// json_schema response format.
type OpenAI struct {
	client    *openai.Client
	model     string
	maxTokens int
}

// NewOpenAI creates an OpenAI completer. baseURL may point at any
// OpenAI-compatible endpoint.
func NewOpenAI(apiKey, baseURL, model string, maxTokens int) (*OpenAI, error) {
	if apiKey == "" {
		return nil, eris.New("llm: openai api key is required")
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &OpenAI{client: openai.NewClientWithConfig(cfg), model: model, maxTokens: maxTokens}, nil
}

// Complete implements Completer.
func (o *OpenAI) Complete(ctx context.Context, req Request) (json.RawMessage, error) {
	model := req.Model
	if model == "" {
		model = o.model
	}

	user := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.User}
	if req.ImageURL != "" {
		user = openai.ChatCompletionMessage{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: req.User},
				{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
					URL:    req.ImageURL,
					Detail: openai.ImageURLDetailHigh,
				}},
			},
		}
	}

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
			user,
		},
		MaxCompletionTokens: o.maxTokens,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:        req.Schema.Name,
				Description: req.Schema.Description,
				Schema:      req.Schema.JSON,
			},
		},
	})
	if err != nil {
		return nil, openaiError(err)
	}

	zap.L().Info("cost attribution",
		zap.String("model", model),
		zap.String("stage", req.Stage),
		zap.Int("input_tokens", resp.Usage.PromptTokens),
		zap.Int("output_tokens", resp.Usage.CompletionTokens),
	)

	if len(resp.Choices) == 0 {
		return nil, &SchemaError{Stage: req.Stage, Err: eris.New("no choices in response")}
	}
	choice := resp.Choices[0]
	if choice.Message.Refusal != "" {
		return nil, &SchemaError{Stage: req.Stage, Excerpt: Excerpt(choice.Message.Refusal), Err: eris.New("model refused")}
	}
	return json.RawMessage(choice.Message.Content), nil
}

func openaiError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &ProviderError{
			Provider:   "openai",
			Kind:       KindForStatus(apiErr.HTTPStatusCode),
			StatusCode: apiErr.HTTPStatusCode,
			Err:        err,
		}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &ProviderError{
			Provider:   "openai",
			Kind:       KindForStatus(reqErr.HTTPStatusCode),
			StatusCode: reqErr.HTTPStatusCode,
			Err:        err,
		}
	}
	return classifyTransport("openai", err)
}
