package store

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/shahamT/valley-luz/internal/model"
)

// Documents wraps a Store with best-effort semantics: failures are logged,
// reads degrade to empty results and writes report false. Nothing is
// returned as an error, so a lost connection never stops the pipeline.
type Documents struct {
	store Store
}

// NewDocuments wraps s. A nil s yields a Documents where every read is
// empty and every write is a no-op.
func NewDocuments(s Store) *Documents {
	return &Documents{store: s}
}

func (d *Documents) available(op string) bool {
	if d == nil || d.store == nil {
		zap.L().Warn("store: unavailable, skipping", zap.String("op", op))
		return false
	}
	return true
}

func logFailure(op, id string, err error) {
	zap.L().Error("store: operation failed",
		zap.String("op", op),
		zap.String("record_id", id),
		zap.Error(err),
	)
}

// FindBySignature returns the active record with sig, or nil.
func (d *Documents) FindBySignature(ctx context.Context, sig string) *model.EventRecord {
	if sig == "" || !d.available("find_by_signature") {
		return nil
	}
	rec, err := d.store.FindBySignature(ctx, sig)
	if err != nil {
		logFailure("find_by_signature", "", err)
		return nil
	}
	return rec
}

// Insert stores rec and returns its id, or "" on failure.
func (d *Documents) Insert(ctx context.Context, rec *model.EventRecord) string {
	if !d.available("insert") {
		return ""
	}
	id, err := d.store.Insert(ctx, rec)
	if err != nil {
		logFailure("insert", rec.ID, err)
		return ""
	}
	return id
}

// Update sets the event and media of record id.
func (d *Documents) Update(ctx context.Context, id string, ev *model.Event, media *model.MediaRef) bool {
	if !d.available("update") {
		return false
	}
	ok, err := d.store.Update(ctx, id, ev, media)
	if err != nil {
		logFailure("update", id, err)
		return false
	}
	return ok
}

// UpdateFull replaces the event, raw message, media and signature of id.
func (d *Documents) UpdateFull(ctx context.Context, id string, ev *model.Event, raw model.RawMessage, media *model.MediaRef, signature string) bool {
	if !d.available("update_full") {
		return false
	}
	ok, err := d.store.UpdateFull(ctx, id, ev, raw, media, signature)
	if err != nil {
		logFailure("update_full", id, err)
		return false
	}
	return ok
}

// Delete removes record id.
func (d *Documents) Delete(ctx context.Context, id string) bool {
	if id == "" || !d.available("delete") {
		return false
	}
	ok, err := d.store.Delete(ctx, id)
	if err != nil {
		logFailure("delete", id, err)
		return false
	}
	return ok
}

// AppendVersion pushes v onto the previous versions of id.
func (d *Documents) AppendVersion(ctx context.Context, id string, v model.EventVersion) bool {
	if !d.available("append_version") {
		return false
	}
	ok, err := d.store.AppendVersion(ctx, id, v)
	if err != nil {
		logFailure("append_version", id, err)
		return false
	}
	return ok
}

// TextSearch returns candidates for keys, never including excludeID.
func (d *Documents) TextSearch(ctx context.Context, keys []string, excludeID string, limit int) []model.CandidateEvent {
	if len(keys) == 0 || !d.available("text_search") {
		return []model.CandidateEvent{}
	}
	found, err := d.store.TextSearch(ctx, keys, excludeID, limit)
	if err != nil {
		logFailure("text_search", excludeID, err)
		return []model.CandidateEvent{}
	}
	out := make([]model.CandidateEvent, 0, len(found))
	for _, c := range found {
		if c.ID == excludeID {
			continue
		}
		out = append(out, c)
		if len(out) == limit {
			break
		}
	}
	return out
}

// Get returns record id, or nil when it is missing or the store fails.
func (d *Documents) Get(ctx context.Context, id string) *model.EventRecord {
	if !d.available("get") {
		return nil
	}
	rec, err := d.store.Get(ctx, id)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			logFailure("get", id, err)
		}
		return nil
	}
	return rec
}
