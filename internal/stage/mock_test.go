package stage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/shahamT/valley-luz/internal/category"
	"github.com/shahamT/valley-luz/internal/eventtime"
	"github.com/shahamT/valley-luz/internal/llm"
	"github.com/shahamT/valley-luz/internal/resilience"
)

type mockCompleter struct {
	mock.Mock
}

func (m *mockCompleter) Complete(ctx context.Context, req llm.Request) (json.RawMessage, error) {
	args := m.Called(ctx, req)
	raw, _ := args.Get(0).(json.RawMessage)
	return raw, args.Error(1)
}

func newTestStages(m *mockCompleter) *Stages {
	return New(m, Options{
		FastModel: "claude-haiku-4-5-20251001",
		Model:     "claude-sonnet-4-5-20250929",
		Retry: resilience.RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     5 * time.Millisecond,
		},
		Vocabulary: category.Default(),
		Zone:       eventtime.MustZone("Asia/Jerusalem"),
	})
}

func stageIs(stage string) any {
	return mock.MatchedBy(func(req llm.Request) bool { return req.Stage == stage })
}
