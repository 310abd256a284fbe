// Package store persists EventRecords. Two drivers implement Store:
// PostgreSQL for production and SQLite for local runs. Documents wraps
// either one with the best-effort semantics the pipeline relies on.
package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rotisserie/eris"

	"github.com/shahamT/valley-luz/internal/config"
	"github.com/shahamT/valley-luz/internal/model"
)

// ErrNotFound is returned by Get when no record has the id.
var ErrNotFound = errors.New("store: record not found")

// Store defines the persistence interface for event records.
type Store interface {
	// FindBySignature returns the active record carrying sig, or nil.
	FindBySignature(ctx context.Context, sig string) (*model.EventRecord, error)
	// Insert stores rec and returns its id. An empty rec.ID is assigned.
	Insert(ctx context.Context, rec *model.EventRecord) (string, error)
	// Update sets the record's event and media.
	Update(ctx context.Context, id string, ev *model.Event, media *model.MediaRef) (bool, error)
	// UpdateFull replaces the event, raw message, media and signature.
	UpdateFull(ctx context.Context, id string, ev *model.Event, raw model.RawMessage, media *model.MediaRef, signature string) (bool, error)
	Delete(ctx context.Context, id string) (bool, error)
	// AppendVersion pushes v onto the record's previous versions.
	AppendVersion(ctx context.Context, id string, v model.EventVersion) (bool, error)
	// TextSearch returns active events whose message text matches any of
	// keys, excluding excludeID, best match first.
	TextSearch(ctx context.Context, keys []string, excludeID string, limit int) ([]model.CandidateEvent, error)
	Get(ctx context.Context, id string) (*model.EventRecord, error)

	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// Open creates the store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "postgres", "":
		return NewPostgres(ctx, cfg.DatabaseURL, &PoolConfig{MaxConns: cfg.MaxConns, MinConns: cfg.MinConns})
	case "sqlite":
		dsn := cfg.DatabaseURL
		if dsn == "" {
			dsn = "valley.db"
		}
		return NewSQLite(dsn)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
}

// storedRaw drops inline media bytes; they live in the object store.
func storedRaw(raw model.RawMessage) model.RawMessage {
	if raw.Media != nil && len(raw.Media.Data) > 0 {
		m := *raw.Media
		m.Data = nil
		raw.Media = &m
	}
	return raw
}

// marshalNullable encodes v, or returns nil when v is a nil pointer.
func marshalNullable[T any](v *T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// unmarshalNullable decodes data into a new T, or returns nil for SQL NULL.
func unmarshalNullable[T any](data []byte) (*T, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
