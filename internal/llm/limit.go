package llm

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/shahamT/valley-luz/internal/config"
	"github.com/shahamT/valley-luz/pkg/anthropic"
)

// Limited throttles calls to the wrapped Completer.
type Limited struct {
	next    Completer
	limiter *rate.Limiter
}

// NewLimited allows rps calls per second with a burst of one. rps <= 0
// disables throttling.
func NewLimited(next Completer, rps float64) *Limited {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &Limited{next: next, limiter: rate.NewLimiter(limit, 1)}
}

// Complete implements Completer.
func (l *Limited) Complete(ctx context.Context, req Request) (json.RawMessage, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, classifyTransport("limiter", err)
	}
	return l.next.Complete(ctx, req)
}

// FastModel returns the model for cheap stages, or "" to use the
// provider default.
func FastModel(cfg config.LLMConfig) string {
	if cfg.Provider == "openai" && strings.HasPrefix(cfg.FastModel, "claude-") {
		return ""
	}
	return cfg.FastModel
}

// New builds the configured provider behind a rate limiter.
func New(cfg config.LLMConfig, anthropicCfg config.AnthropicConfig, openaiCfg config.OpenAIConfig) (Completer, error) {
	var c Completer
	switch cfg.Provider {
	case "anthropic", "":
		c = NewAnthropic(anthropic.NewClient(anthropicCfg.Key), cfg.Model, cfg.MaxTokens)
	case "openai":
		model := cfg.Model
		if strings.HasPrefix(model, "claude-") {
			model = ""
		}
		o, err := NewOpenAI(openaiCfg.Key, openaiCfg.BaseURL, model, int(cfg.MaxTokens))
		if err != nil {
			return nil, err
		}
		c = o
	default:
		return nil, eris.Errorf("llm: unknown provider %q", cfg.Provider)
	}
	return NewLimited(c, cfg.RequestsPerSecond), nil
}
