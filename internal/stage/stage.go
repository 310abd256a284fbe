// Package stage implements the model-backed pipeline stages: classification,
// extraction and comparison. Each stage builds a prompt, calls the
// language model through the shared retry policy and validates the response
// once at the decode boundary. A stage that returns an error is treated by
// the pipeline as a null result.
package stage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/shahamT/valley-luz/internal/category"
	"github.com/shahamT/valley-luz/internal/eventtime"
	"github.com/shahamT/valley-luz/internal/llm"
	"github.com/shahamT/valley-luz/internal/resilience"
)

// Stage names used in logs, metrics and SchemaErrors.
const (
	NameClassify = "classify"
	NameExtract  = "extract"
	NameCompare  = "compare"
)

// Options configures Stages.
type Options struct {
	// FastModel is used for classification. Empty means provider default.
	FastModel string
	// Model is used for extraction and comparison. Empty means provider default.
	Model      string
	Retry      resilience.RetryConfig
	Vocabulary *category.Vocabulary
	Zone       *eventtime.Zone
}

// Stages runs the model-backed stages against one Completer.
type Stages struct {
	llm   llm.Completer
	opts  Options
	vocab *category.Vocabulary
	zone  *eventtime.Zone
}

// New creates Stages. A nil vocabulary or zone falls back to the built-in
// vocabulary and Asia/Jerusalem.
func New(c llm.Completer, opts Options) *Stages {
	vocab := opts.Vocabulary
	if vocab == nil {
		vocab = category.Default()
	}
	zone := opts.Zone
	if zone == nil {
		zone = eventtime.MustZone("Asia/Jerusalem")
	}
	return &Stages{llm: c, opts: opts, vocab: vocab, zone: zone}
}

// call runs req under the retry policy and decodes the response into T.
// Only provider errors classified as transient are retried; a response that
// fails the schema is final.
func call[T any](ctx context.Context, s *Stages, req llm.Request, check func(*T) error) (*T, error) {
	retry := s.opts.Retry
	retry.OnRetry = resilience.RetryLogger("llm", req.Stage)
	retry.ShouldRetry = func(err error) bool {
		return !llm.IsSchemaError(err) && resilience.IsTransient(err)
	}

	start := time.Now()
	raw, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (json.RawMessage, error) {
		return s.llm.Complete(ctx, req)
	})
	if err != nil {
		zap.L().Warn("stage: model call failed",
			zap.String("stage", req.Stage),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return nil, err
	}

	out, err := llm.Decode[T](req.Stage, raw, check)
	if err != nil {
		fields := []zap.Field{zap.String("stage", req.Stage), zap.Error(err)}
		var se *llm.SchemaError
		if errors.As(err, &se) {
			fields = append(fields, zap.String("excerpt", se.Excerpt))
		}
		zap.L().Warn("stage: response rejected", fields...)
		return nil, err
	}
	return out, nil
}
