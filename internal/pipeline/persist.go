package pipeline

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/shahamT/valley-luz/internal/model"
	"github.com/shahamT/valley-luz/internal/source"
	"github.com/shahamT/valley-luz/internal/stage"
)

// persist applies the comparison verdict to the store.
func (r *run) persist(ctx context.Context, ev *model.Event, cmp *stage.Comparison) Outcome {
	switch cmp.Status {
	case model.StatusExistingEvent:
		out := r.reject(ctx, model.ReasonDuplicate, cmp.Reason, nil)
		out.Status = cmp.Status
		out.MatchedID = cmp.MatchedID()
		return out
	case model.StatusUpdatedEvent:
		if matched := r.p.Docs.Get(ctx, cmp.MatchedID()); matched != nil {
			return r.update(ctx, ev, matched, cmp)
		}
		r.log.Warn("pipeline: matched record vanished, storing as new",
			zap.String("matched_id", cmp.MatchedID()))
	}
	return r.create(ctx, ev)
}

// create fills the placeholder with the validated event.
func (r *run) create(ctx context.Context, ev *model.Event) Outcome {
	Enrich(ctx, ev, r.transport(), r.job.Message.Sender, r.media)
	if !r.p.Docs.Update(ctx, r.job.RecordID, ev, r.media) {
		r.log.Warn("pipeline: event not persisted")
	}
	r.log.Info("pipeline: event created", zap.String("title", ev.Title))

	out := Outcome{RecordID: r.job.RecordID, Reason: model.ReasonEventCreated, Status: model.StatusNewEvent, Event: ev}
	r.confirm(ctx, out.Reason, ev.Title, map[string]string{"record_id": r.job.RecordID})
	return out
}

// update folds this message into the matched record: the new event replaces
// it in place and the content read before the replacement becomes a
// previous version. The
// placeholder is dropped only once the matched record carries the new
// signature; the uploaded media now belongs to the matched record. When the
// replacement cannot be written the placeholder is kept and filled as a new
// event instead.
func (r *run) update(ctx context.Context, ev *model.Event, matched *model.EventRecord, cmp *stage.Comparison) Outcome {
	media := r.media
	if media == nil {
		media = matched.Media
	}
	Enrich(ctx, ev, r.transport(), r.job.Message.Sender, media)

	if !r.p.Docs.UpdateFull(ctx, matched.ID, ev, r.job.Message, media, source.Signature(r.job.Message.Text)) {
		r.log.Warn("pipeline: update not persisted, keeping placeholder as new event",
			zap.String("matched_id", matched.ID))
		return r.create(ctx, ev)
	}
	// matched is the snapshot read before the replacement.
	r.p.Docs.AppendVersion(ctx, matched.ID, model.EventVersion{
		Event:      matched.Event,
		RawMessage: matched.RawMessage,
		Media:      matched.Media,
		Timestamp:  time.Now().UTC(),
	})
	r.p.Docs.Delete(ctx, r.job.RecordID)
	r.log.Info("pipeline: event updated",
		zap.String("matched_id", matched.ID),
		zap.String("reason", cmp.Reason),
	)

	out := Outcome{RecordID: matched.ID, Reason: model.ReasonEventUpdated, Status: model.StatusUpdatedEvent, MatchedID: matched.ID, Event: ev}
	r.confirm(ctx, out.Reason, cmp.Reason, map[string]string{
		"record_id":      matched.ID,
		"placeholder_id": r.job.RecordID,
	})
	return out
}

// reject ends the run for a message that will not become an event.
func (r *run) reject(ctx context.Context, reason model.ReasonCode, detail string, corrections []string) Outcome {
	r.log.Info("pipeline: message rejected", zap.String("reason", string(reason)), zap.String("detail", detail))
	r.cleanup(ctx)
	r.confirm(ctx, reason, detail, map[string]string{"record_id": r.job.RecordID})
	return Outcome{RecordID: r.job.RecordID, Reason: reason, Detail: detail, Corrections: corrections}
}

// fail ends the run after an unexpected error.
func (r *run) fail(ctx context.Context, reason model.ReasonCode, detail string, err error) Outcome {
	r.log.Error("pipeline: processing failed", zap.String("detail", detail), zap.Error(err))
	r.cleanup(ctx)
	r.confirm(ctx, reason, detail, map[string]string{"record_id": r.job.RecordID})
	return Outcome{RecordID: r.job.RecordID, Reason: reason, Detail: detail}
}

// cleanup deletes the placeholder and frees media uploaded by this run.
// Failures are logged only.
func (r *run) cleanup(ctx context.Context) {
	if r.job.RecordID != "" {
		r.p.Docs.Delete(ctx, r.job.RecordID)
	}
	if r.uploaded == nil || r.p.Media == nil {
		return
	}
	if _, err := r.p.Media.Delete(ctx, r.uploaded.ID); err != nil {
		r.log.Warn("pipeline: media cleanup failed", zap.String("media_id", r.uploaded.ID), zap.Error(err))
	}
}

func (r *run) confirm(ctx context.Context, reason model.ReasonCode, detail string, extra map[string]string) {
	var c Confirmer
	if r.p.Transport != nil {
		c = r.p.Transport
	}
	confirm(ctx, c, model.Confirmation{
		Preview: r.job.Message.Preview(PreviewLength),
		Reason:  reason,
		Detail:  detail,
		Context: extra,
	})
}

func (r *run) transport() AliasResolver {
	if r.p.Transport == nil {
		return nil
	}
	return r.p.Transport
}

// confirm sends c, logging failures.
func confirm(ctx context.Context, c Confirmer, conf model.Confirmation) {
	if c == nil {
		return
	}
	if err := c.SendConfirmation(ctx, conf); err != nil {
		zap.L().Warn("pipeline: confirmation failed",
			zap.String("reason", string(conf.Reason)),
			zap.Error(err),
		)
	}
}

func joinReasons(reasons []string) string {
	return strings.Join(reasons, "; ")
}
