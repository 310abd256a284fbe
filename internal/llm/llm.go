// Package llm is the language-model boundary. Providers return raw JSON that
// conforms to a stage's schema, or a typed ProviderError; Decode turns raw
// JSON into a stage result or a SchemaError.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Request is a single structured-output call.
type Request struct {
	// Stage names the calling stage for logs and metrics.
	Stage string
	// Model overrides the provider's default model.
	Model    string
	System   string
	User     string
	ImageURL string
	Schema   Schema
}

// Schema is a named JSON Schema the response must satisfy.
type Schema struct {
	Name        string
	Description string
	JSON        json.RawMessage
}

// Completer returns the model's structured response for req.
type Completer interface {
	Complete(ctx context.Context, req Request) (json.RawMessage, error)
}

// ErrorKind classifies a provider failure.
type ErrorKind string

const (
	KindRateLimit ErrorKind = "rate_limit"
	KindServer    ErrorKind = "server"
	KindTimeout   ErrorKind = "timeout"
	KindClient    ErrorKind = "client"
	KindAuth      ErrorKind = "auth"
)

// ProviderError is a failed model call.
type ProviderError struct {
	Provider   string
	Kind       ErrorKind
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("llm: %s %s (status %d): %v", e.Provider, e.Kind, e.StatusCode, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Transient reports whether the call may succeed if repeated.
func (e *ProviderError) Transient() bool {
	switch e.Kind {
	case KindRateLimit, KindServer, KindTimeout:
		return true
	}
	return false
}

// RetryDelay is the provider-suggested wait before the next attempt.
func (e *ProviderError) RetryDelay() time.Duration { return e.RetryAfter }

// KindForStatus maps an HTTP status to an ErrorKind.
func KindForStatus(status int) ErrorKind {
	switch {
	case status == 429:
		return KindRateLimit
	case status == 408:
		return KindTimeout
	case status == 401 || status == 403:
		return KindAuth
	case status >= 500:
		return KindServer
	default:
		return KindClient
	}
}

// classifyTransport builds a ProviderError for errors without a status
// (network failures, deadlines).
func classifyTransport(provider string, err error) *ProviderError {
	kind := KindClient
	if errors.Is(err, context.DeadlineExceeded) || strings.Contains(strings.ToLower(err.Error()), "timeout") {
		kind = KindTimeout
	} else if !errors.Is(err, context.Canceled) {
		kind = KindServer
	}
	return &ProviderError{Provider: provider, Kind: kind, Err: err}
}

// SchemaError is a response that does not parse as, or validate against,
// the stage's schema.
type SchemaError struct {
	Stage   string
	Excerpt string
	Err     error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("llm: %s response does not match schema: %v", e.Stage, e.Err)
}

func (e *SchemaError) Unwrap() error { return e.Err }

// ExcerptLimit bounds the payload excerpt carried by SchemaError.
const ExcerptLimit = 500

// Excerpt truncates s to ExcerptLimit runes for logging.
func Excerpt(s string) string {
	if utf8.RuneCountInString(s) <= ExcerptLimit {
		return s
	}
	return string([]rune(s)[:ExcerptLimit]) + "…"
}

// Decode parses raw into T and applies check. Any failure is a SchemaError.
func Decode[T any](stage string, raw json.RawMessage, check func(*T) error) (*T, error) {
	body := StripFences(string(raw))
	var out T
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		return nil, &SchemaError{Stage: stage, Excerpt: Excerpt(body), Err: err}
	}
	if check != nil {
		if err := check(&out); err != nil {
			return nil, &SchemaError{Stage: stage, Excerpt: Excerpt(body), Err: err}
		}
	}
	return &out, nil
}

// StripFences removes a surrounding markdown code fence and any prose
// outside the outermost JSON object.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if i := strings.Index(s, "\n"); i >= 0 {
			s = s[i+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		s = s[start : end+1]
	}
	return strings.TrimSpace(s)
}

// IsSchemaError reports whether err is a SchemaError.
func IsSchemaError(err error) bool {
	var se *SchemaError
	return errors.As(err, &se)
}

// IsProviderError reports whether err is a ProviderError.
func IsProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}
