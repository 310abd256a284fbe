package pipeline

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/shahamT/valley-luz/internal/llm"
)

// Metrics holds the pipeline's Prometheus collectors.
type Metrics struct {
	MessagesReceived prometheus.Counter
	Outcomes         *prometheus.CounterVec
	StageDuration    *prometheus.HistogramVec
	LLMCalls         *prometheus.CounterVec
	QueueDepth       prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		MessagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "valley",
			Name:      "messages_received_total",
			Help:      "Messages handed to the intake gate",
		}),
		Outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "valley",
			Name:      "pipeline_outcomes_total",
			Help:      "Final outcome per message, by confirmation reason",
		}, []string{"outcome"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "valley",
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each pipeline stage",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"stage"}),
		LLMCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "valley",
			Name:      "llm_calls_total",
			Help:      "Language model calls by stage and result",
		}, []string{"stage", "result"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "valley",
			Name:      "queue_depth",
			Help:      "Messages waiting for the pipeline worker",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.MessagesReceived, m.Outcomes, m.StageDuration, m.LLMCalls, m.QueueDepth)
	}
	return m
}

func (m *Metrics) outcome(reason string) {
	if m != nil {
		m.Outcomes.WithLabelValues(reason).Inc()
	}
}

// InstrumentedCompleter counts model calls by stage and result.
type InstrumentedCompleter struct {
	next    llm.Completer
	metrics *Metrics
}

// Instrument wraps c so every call is counted in m.
func Instrument(c llm.Completer, m *Metrics) *InstrumentedCompleter {
	return &InstrumentedCompleter{next: c, metrics: m}
}

// Complete implements llm.Completer.
func (i *InstrumentedCompleter) Complete(ctx context.Context, req llm.Request) (json.RawMessage, error) {
	raw, err := i.next.Complete(ctx, req)
	if i.metrics != nil {
		i.metrics.LLMCalls.WithLabelValues(req.Stage, callResult(err)).Inc()
	}
	return raw, err
}

func callResult(err error) string {
	if err == nil {
		return "ok"
	}
	var pe *llm.ProviderError
	if errors.As(err, &pe) {
		return string(pe.Kind)
	}
	return "error"
}
