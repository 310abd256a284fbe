package pipeline

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/shahamT/valley-luz/internal/model"
	"github.com/shahamT/valley-luz/internal/source"
	"github.com/shahamT/valley-luz/internal/store"
)

// Intake statuses.
const (
	StatusQueued    = "queued"
	StatusDuplicate = "duplicate"
)

// Job is one accepted message waiting for the pipeline.
type Job struct {
	RecordID  string
	Message   model.RawMessage
	Signature string
}

// Submitter accepts jobs for sequential processing.
type Submitter interface {
	Submit(job Job) error
}

// IntakeResult reports what the gate did with a message.
type IntakeResult struct {
	Status   string `json:"status"`
	RecordID string `json:"record_id,omitempty"`
}

// Gate is the dedup gate in front of the queue. Check-then-insert on the
// signature index runs under a mutex, so concurrent deliveries of the same
// text produce exactly one placeholder.
type Gate struct {
	mu        sync.Mutex
	docs      *store.Documents
	queue     Submitter
	confirmer Confirmer
	metrics   *Metrics
}

// NewGate creates a Gate feeding queue.
func NewGate(docs *store.Documents, queue Submitter, confirmer Confirmer, metrics *Metrics) *Gate {
	return &Gate{docs: docs, queue: queue, confirmer: confirmer, metrics: metrics}
}

// HandleIncomingMessage admits msg. A message whose signature matches an
// active record is answered with a duplicate confirmation and never reaches
// the pipeline. Otherwise a placeholder is inserted before the job is
// queued, so later copies are caught even while this one is in flight.
// Jobs are queued in the order their placeholders were inserted.
func (g *Gate) HandleIncomingMessage(ctx context.Context, msg model.RawMessage) (*IntakeResult, error) {
	if g.metrics != nil {
		g.metrics.MessagesReceived.Inc()
	}
	sig := source.Signature(msg.Text)
	log := zap.L().With(zap.String("sender", msg.Sender), zap.String("group", msg.Group))

	existing, id, err := g.admit(ctx, msg, sig)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		log.Info("gate: duplicate message", zap.String("existing_id", existing.ID))
		g.metrics.outcome(string(model.ReasonDuplicate))
		confirm(ctx, g.confirmer, model.Confirmation{
			Preview: msg.Preview(PreviewLength),
			Reason:  model.ReasonDuplicate,
			Detail:  "identical message already received",
			Context: map[string]string{"record_id": existing.ID},
		})
		return &IntakeResult{Status: StatusDuplicate, RecordID: existing.ID}, nil
	}

	if id == "" {
		log.Warn("gate: placeholder not persisted, processing without a record")
	}
	log.Debug("gate: queued", zap.String("record_id", id))
	return &IntakeResult{Status: StatusQueued, RecordID: id}, nil
}

// admit runs check, insert and submit as one critical section. It returns
// the active record when sig is a duplicate, otherwise the placeholder id.
func (g *Gate) admit(ctx context.Context, msg model.RawMessage, sig string) (*model.EventRecord, string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if existing := g.docs.FindBySignature(ctx, sig); existing != nil {
		return existing, "", nil
	}

	id := g.docs.Insert(ctx, &model.EventRecord{
		RawMessage:       msg,
		IsActive:         true,
		MessageSignature: sig,
	})
	if err := g.queue.Submit(Job{RecordID: id, Message: msg, Signature: sig}); err != nil {
		g.docs.Delete(ctx, id)
		return nil, "", eris.Wrap(err, "gate: enqueue")
	}
	return nil, id, nil
}
