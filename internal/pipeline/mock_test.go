package pipeline

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/shahamT/valley-luz/internal/category"
	"github.com/shahamT/valley-luz/internal/eventtime"
	"github.com/shahamT/valley-luz/internal/llm"
	"github.com/shahamT/valley-luz/internal/model"
	"github.com/shahamT/valley-luz/internal/resilience"
	"github.com/shahamT/valley-luz/internal/stage"
	"github.com/shahamT/valley-luz/internal/store"
	"github.com/shahamT/valley-luz/internal/validate"
)

// --- Completer Mock ---

type mockCompleter struct {
	mock.Mock
}

func (m *mockCompleter) Complete(ctx context.Context, req llm.Request) (json.RawMessage, error) {
	args := m.Called(ctx, req)
	raw, _ := args.Get(0).(json.RawMessage)
	return raw, args.Error(1)
}

func stageIs(name string) any {
	return mock.MatchedBy(func(req llm.Request) bool { return req.Stage == name })
}

// --- Media Mock ---

type mockMedia struct {
	mock.Mock
}

func (m *mockMedia) Upload(ctx context.Context, data []byte, filename, mimeType string) (*model.MediaRef, error) {
	args := m.Called(ctx, data, filename, mimeType)
	ref, _ := args.Get(0).(*model.MediaRef)
	return ref, args.Error(1)
}

func (m *mockMedia) Delete(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

// --- OCR Mock ---

type mockRecognizer struct {
	mock.Mock
}

func (m *mockRecognizer) Recognize(ctx context.Context, imageURL string) (*model.OCRResult, error) {
	args := m.Called(ctx, imageURL)
	res, _ := args.Get(0).(*model.OCRResult)
	return res, args.Error(1)
}

// --- Transport Mock ---

type mockTransport struct {
	mock.Mock
	mu   sync.Mutex
	sent []model.Confirmation
}

func (m *mockTransport) ResolveAlias(ctx context.Context, alias string) (string, error) {
	args := m.Called(ctx, alias)
	return args.String(0), args.Error(1)
}

func (m *mockTransport) LookupContact(ctx context.Context, alias string) (string, error) {
	args := m.Called(ctx, alias)
	return args.String(0), args.Error(1)
}

func (m *mockTransport) SendConfirmation(_ context.Context, c model.Confirmation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, c)
	return nil
}

func (m *mockTransport) reasons() []model.ReasonCode {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.ReasonCode, len(m.sent))
	for i, c := range m.sent {
		out[i] = c.Reason
	}
	return out
}

// --- Submitter that runs jobs inline ---

type inlineQueue struct {
	p        *Pipeline
	outcomes []Outcome
}

func (q *inlineQueue) Submit(job Job) error {
	q.outcomes = append(q.outcomes, q.p.Process(context.Background(), job))
	return nil
}

func (q *inlineQueue) last() Outcome {
	return q.outcomes[len(q.outcomes)-1]
}

// harness wires a Pipeline over a temp SQLite store with mocked
// collaborators.
type harness struct {
	st        *store.SQLiteStore
	docs      *store.Documents
	llm       *mockCompleter
	media     *mockMedia
	ocr       *mockRecognizer
	transport *mockTransport
	metrics   *Metrics
	pipeline  *Pipeline
	queue     *inlineQueue
	gate      *Gate
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	h := &harness{
		st:        st,
		docs:      store.NewDocuments(st),
		llm:       new(mockCompleter),
		media:     new(mockMedia),
		ocr:       new(mockRecognizer),
		transport: new(mockTransport),
		metrics:   NewMetrics(nil),
	}
	zone := eventtime.MustZone("Asia/Jerusalem")
	stages := stage.New(Instrument(h.llm, h.metrics), stage.Options{
		Retry: resilience.RetryConfig{
			MaxAttempts:    2,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     2 * time.Millisecond,
		},
		Vocabulary: category.Default(),
		Zone:       zone,
	})
	h.pipeline = New(Deps{
		Docs:      h.docs,
		Stages:    stages,
		Validator: validate.New(category.Default(), zone, 365),
		Media:     h.media,
		OCR:       h.ocr,
		Transport: h.transport,
		Metrics:   h.metrics,
	}, Options{CandidateLimit: 5})
	h.queue = &inlineQueue{p: h.pipeline}
	h.gate = NewGate(h.docs, h.queue, h.transport, h.metrics)
	return h
}

func (h *harness) onClassify(raw string) {
	h.llm.On("Complete", mock.Anything, stageIs(stage.NameClassify)).Return(json.RawMessage(raw), nil).Once()
}

func (h *harness) onExtract(raw string) {
	h.llm.On("Complete", mock.Anything, stageIs(stage.NameExtract)).Return(json.RawMessage(raw), nil).Once()
}

func (h *harness) onCompare(raw string) {
	h.llm.On("Complete", mock.Anything, stageIs(stage.NameCompare)).Return(json.RawMessage(raw), nil).Once()
}

func (h *harness) submit(t *testing.T, msg model.RawMessage) (*IntakeResult, Outcome) {
	t.Helper()
	before := len(h.queue.outcomes)
	res, err := h.gate.HandleIncomingMessage(context.Background(), msg)
	require.NoError(t, err)
	if len(h.queue.outcomes) == before {
		return res, Outcome{}
	}
	return res, h.queue.last()
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}
