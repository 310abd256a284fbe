// Package pipeline turns accepted chat messages into verified event
// records: the dedup gate in front of the queue, and the per-message run
// from media upload through classification, extraction, validation,
// candidate matching and comparison to persistence and confirmation.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/shahamT/valley-luz/internal/media"
	"github.com/shahamT/valley-luz/internal/model"
	"github.com/shahamT/valley-luz/internal/ocr"
	"github.com/shahamT/valley-luz/internal/source"
	"github.com/shahamT/valley-luz/internal/stage"
	"github.com/shahamT/valley-luz/internal/store"
	"github.com/shahamT/valley-luz/internal/validate"
)

// PreviewLength is the number of runes of message text quoted in
// confirmations.
const PreviewLength = 80

// Stage names for logs and the stage duration histogram.
const (
	StageUpload    = "upload"
	StageOCR       = "ocr"
	StageBuild     = "build"
	StageValidate  = "validate"
	StageCandidate = "candidates"
	StagePersist   = "persist"
)

// Confirmer sends outbound confirmations.
type Confirmer interface {
	SendConfirmation(ctx context.Context, c model.Confirmation) error
}

// Transport is the chat-transport collaborator.
type Transport interface {
	AliasResolver
	Confirmer
}

// Options tunes a Pipeline.
type Options struct {
	MaxTextLength  int
	CandidateLimit int
}

// Deps are the collaborators of a Pipeline. Media, OCR and Transport may be
// nil; the run proceeds without them.
type Deps struct {
	Docs      *store.Documents
	Stages    *stage.Stages
	Validator *validate.Validator
	Media     media.Store
	OCR       ocr.Recognizer
	Transport Transport
	Metrics   *Metrics
}

// Pipeline runs one accepted message end to end.
type Pipeline struct {
	Deps
	opts Options
}

// New creates a Pipeline.
func New(deps Deps, opts Options) *Pipeline {
	if opts.CandidateLimit <= 0 {
		opts.CandidateLimit = 5
	}
	if opts.MaxTextLength <= 0 {
		opts.MaxTextLength = source.DefaultMaxLength
	}
	return &Pipeline{Deps: deps, opts: opts}
}

// Outcome is the result of one run.
type Outcome struct {
	RecordID    string                 `json:"record_id,omitempty"`
	Reason      model.ReasonCode       `json:"reason"`
	Status      model.ComparisonStatus `json:"status,omitempty"`
	MatchedID   string                 `json:"matched_id,omitempty"`
	Detail      string                 `json:"detail,omitempty"`
	Corrections []string               `json:"corrections,omitempty"`
	Event       *model.Event           `json:"event,omitempty"`
}

// run carries the state of one message through the pipeline.
type run struct {
	p        *Pipeline
	job      Job
	log      *zap.Logger
	uploaded *model.MediaRef
	media    *model.MediaRef
}

// Process runs job to completion. It never panics and never returns an
// error: every failure ends in cleanup and a confirmation.
func (p *Pipeline) Process(ctx context.Context, job Job) (out Outcome) {
	r := &run{
		p:   p,
		job: job,
		log: zap.L().With(
			zap.String("record_id", job.RecordID),
			zap.String("sender", job.Message.Sender),
			zap.String("group", job.Message.Group),
		),
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("pipeline: panic recovered", zap.Any("panic", rec), zap.Stack("stack"))
			out = r.fail(ctx, model.ReasonProcessingFailed, fmt.Sprintf("unexpected error: %v", rec), nil)
		}
		p.Metrics.outcome(string(out.Reason))
		r.log.Info("pipeline: finished",
			zap.String("reason", string(out.Reason)),
			zap.String("status", string(out.Status)),
		)
	}()

	return r.execute(ctx)
}

func (r *run) execute(ctx context.Context) Outcome {
	p := r.p
	msg := r.job.Message

	r.track(StageUpload, func() { r.uploadMedia(ctx) })

	var ocrResult *model.OCRResult
	if r.media != nil && msg.HasImage() && p.OCR != nil {
		r.track(StageOCR, func() {
			res, err := p.OCR.Recognize(ctx, r.media.URL)
			if err != nil {
				r.log.Warn("pipeline: ocr failed, continuing text-only", zap.Error(err))
				return
			}
			ocrResult = res
		})
	}

	var doc model.SourceDocument
	r.track(StageBuild, func() {
		doc = source.Build(msg, source.Options{MaxLength: p.opts.MaxTextLength, OCR: ocrResult, Media: r.media})
	})

	imageURL := ""
	if r.media != nil && msg.HasImage() {
		imageURL = r.media.URL
	}

	var (
		cls *stage.Classification
		err error
	)
	r.track(stage.NameClassify, func() { cls, err = p.Stages.Classify(ctx, doc, imageURL) })
	if err != nil {
		return r.fail(ctx, model.ReasonProcessingFailed, "classification failed", err)
	}
	if !cls.IsEvent {
		return r.reject(ctx, model.ReasonNotAnEvent, cls.ReasonText(), nil)
	}

	var extracted *model.Event
	r.track(stage.NameExtract, func() { extracted, err = p.Stages.Extract(ctx, doc) })
	if err != nil {
		return r.fail(ctx, model.ReasonProcessingFailed, "extraction failed", err)
	}

	var res validate.Result
	r.track(StageValidate, func() { res = p.Validator.Validate(extracted, doc) })
	for _, c := range res.Corrections {
		r.log.Info("pipeline: validator correction", zap.String("correction", c))
	}
	if err := res.Err(); err != nil {
		r.log.Info("pipeline: validation rejected event", zap.Error(err))
		return r.reject(ctx, model.ReasonValidationFailed, joinReasons(res.Corrections), res.Corrections)
	}

	var candidates []model.CandidateEvent
	r.track(StageCandidate, func() {
		candidates = FindCandidates(ctx, p.Docs, cls.SearchKeys, r.job.RecordID, p.opts.CandidateLimit)
	})

	var cmp *stage.Comparison
	r.track(stage.NameCompare, func() { cmp, err = p.Stages.Compare(ctx, res.Event, doc.Text, candidates) })
	if err != nil {
		return r.fail(ctx, model.ReasonProcessingFailed, "comparison failed", err)
	}

	var out Outcome
	r.track(StagePersist, func() { out = r.persist(ctx, res.Event, cmp) })
	out.Corrections = res.Corrections
	return out
}

// track times fn and logs the stage boundary.
func (r *run) track(name string, fn func()) {
	start := time.Now()
	fn()
	elapsed := time.Since(start)
	if r.p.Metrics != nil {
		r.p.Metrics.StageDuration.WithLabelValues(name).Observe(elapsed.Seconds())
	}
	r.log.Debug("pipeline: stage complete",
		zap.String("stage", name),
		zap.Int64("duration_ms", elapsed.Milliseconds()),
	)
}

// uploadMedia stores inline image bytes, or adopts a remote URL as-is.
func (r *run) uploadMedia(ctx context.Context) {
	m := r.job.Message.Media
	if m == nil {
		return
	}
	if len(m.Data) == 0 {
		if m.URL != "" {
			r.media = &model.MediaRef{URL: m.URL, MimeType: m.MimeType}
		}
		return
	}
	if r.p.Media == nil {
		r.log.Warn("pipeline: no object store configured, dropping inline media")
		return
	}
	ref, err := r.p.Media.Upload(ctx, m.Data, m.Filename, m.MimeType)
	if err != nil {
		r.log.Warn("pipeline: media upload failed, continuing without media", zap.Error(err))
		return
	}
	r.uploaded = ref
	r.media = ref
}

// FindCandidates returns up to limit active records whose message text
// matches any of keys. The record being processed is never among them.
func FindCandidates(ctx context.Context, docs *store.Documents, keys []string, excludeID string, limit int) []model.CandidateEvent {
	if len(keys) == 0 {
		return []model.CandidateEvent{}
	}
	return docs.TextSearch(ctx, keys, excludeID, limit)
}
