package store

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/shahamT/valley-luz/internal/model"
)

// Pool is the subset of *pgxpool.Pool the store uses. pgxmock satisfies it.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS event_records (
	id                TEXT PRIMARY KEY,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ,
	raw_message       JSONB NOT NULL,
	media             JSONB,
	event             JSONB,
	previous_versions JSONB NOT NULL DEFAULT '[]'::jsonb,
	is_active         BOOLEAN NOT NULL DEFAULT true,
	message_signature TEXT,
	search_body       TEXT NOT NULL DEFAULT '',
	search_text       TSVECTOR GENERATED ALWAYS AS (to_tsvector('simple', search_body)) STORED
);

CREATE INDEX IF NOT EXISTS idx_event_records_signature ON event_records(message_signature) WHERE is_active;
CREATE INDEX IF NOT EXISTS idx_event_records_search ON event_records USING GIN (search_text);
CREATE INDEX IF NOT EXISTS idx_event_records_created_at ON event_records(created_at DESC);
`

const recordColumns = `id, created_at, updated_at, raw_message, media, event, previous_versions, is_active, message_signature`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) FindBySignature(ctx context.Context, sig string) (*model.EventRecord, error) {
	if sig == "" {
		return nil, nil
	}
	rec, err := scanPostgresRecord(s.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM event_records
		 WHERE message_signature = $1 AND is_active
		 ORDER BY created_at ASC LIMIT 1`,
		sig,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: find by signature")
	}
	return rec, nil
}

func (s *PostgresStore) Insert(ctx context.Context, rec *model.EventRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	rawJSON, err := json.Marshal(storedRaw(rec.RawMessage))
	if err != nil {
		return "", eris.Wrap(err, "postgres: marshal raw message")
	}
	mediaJSON, err := marshalNullable(rec.Media)
	if err != nil {
		return "", eris.Wrap(err, "postgres: marshal media")
	}
	eventJSON, err := marshalNullable(rec.Event)
	if err != nil {
		return "", eris.Wrap(err, "postgres: marshal event")
	}
	versions := rec.PreviousVersions
	if versions == nil {
		versions = []model.EventVersion{}
	}
	versionsJSON, err := json.Marshal(versions)
	if err != nil {
		return "", eris.Wrap(err, "postgres: marshal versions")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO event_records (id, created_at, raw_message, media, event, previous_versions, is_active, message_signature, search_body)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.ID, rec.CreatedAt, rawJSON, mediaJSON, eventJSON, versionsJSON, rec.IsActive, nullString(rec.MessageSignature),
		searchBody(rec.RawMessage.Text),
	)
	if err != nil {
		return "", eris.Wrap(err, "postgres: insert record")
	}
	return rec.ID, nil
}

func (s *PostgresStore) Update(ctx context.Context, id string, ev *model.Event, media *model.MediaRef) (bool, error) {
	eventJSON, err := marshalNullable(ev)
	if err != nil {
		return false, eris.Wrap(err, "postgres: marshal event")
	}
	mediaJSON, err := marshalNullable(media)
	if err != nil {
		return false, eris.Wrap(err, "postgres: marshal media")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE event_records SET event = $1, media = $2, updated_at = $3 WHERE id = $4`,
		eventJSON, mediaJSON, time.Now().UTC(), id,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: update record %s", id)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) UpdateFull(ctx context.Context, id string, ev *model.Event, raw model.RawMessage, media *model.MediaRef, signature string) (bool, error) {
	eventJSON, err := marshalNullable(ev)
	if err != nil {
		return false, eris.Wrap(err, "postgres: marshal event")
	}
	rawJSON, err := json.Marshal(storedRaw(raw))
	if err != nil {
		return false, eris.Wrap(err, "postgres: marshal raw message")
	}
	mediaJSON, err := marshalNullable(media)
	if err != nil {
		return false, eris.Wrap(err, "postgres: marshal media")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE event_records
		 SET event = $1, raw_message = $2, media = $3, message_signature = $4, updated_at = $5, search_body = $6
		 WHERE id = $7`,
		eventJSON, rawJSON, mediaJSON, nullString(signature), time.Now().UTC(), searchBody(raw.Text), id,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: update full record %s", id)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM event_records WHERE id = $1`, id)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: delete record %s", id)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) AppendVersion(ctx context.Context, id string, v model.EventVersion) (bool, error) {
	v.RawMessage = storedRaw(v.RawMessage)
	versionJSON, err := json.Marshal([]model.EventVersion{v})
	if err != nil {
		return false, eris.Wrap(err, "postgres: marshal version")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE event_records SET previous_versions = previous_versions || $1::jsonb, updated_at = $2 WHERE id = $3`,
		versionJSON, time.Now().UTC(), id,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: append version %s", id)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) TextSearch(ctx context.Context, keys []string, excludeID string, limit int) ([]model.CandidateEvent, error) {
	terms := searchTerms(keys)
	if len(terms) == 0 || limit <= 0 {
		return []model.CandidateEvent{}, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, coalesce(raw_message->>'text', '') FROM event_records
		 WHERE is_active AND event IS NOT NULL AND id <> $1
		   AND search_text @@ to_tsquery('simple', $2)
		 ORDER BY ts_rank(search_text, to_tsquery('simple', $2)) DESC, created_at DESC
		 LIMIT $3`,
		excludeID, strings.Join(terms, " | "), limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: text search")
	}
	defer rows.Close()

	out := []model.CandidateEvent{}
	for rows.Next() {
		var c model.CandidateEvent
		if err := rows.Scan(&c.ID, &c.Text); err != nil {
			return nil, eris.Wrap(err, "postgres: scan candidate")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: text search iterate")
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*model.EventRecord, error) {
	rec, err := scanPostgresRecord(s.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM event_records WHERE id = $1`, id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get record %s", id)
	}
	return rec, nil
}

func scanPostgresRecord(row pgx.Row) (*model.EventRecord, error) {
	var (
		rec          model.EventRecord
		rawJSON      []byte
		mediaJSON    []byte
		eventJSON    []byte
		versionsJSON []byte
		signature    *string
	)
	if err := row.Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt, &rawJSON, &mediaJSON, &eventJSON,
		&versionsJSON, &rec.IsActive, &signature); err != nil {
		return nil, err
	}
	if err := decodeRecord(&rec, rawJSON, mediaJSON, eventJSON, versionsJSON); err != nil {
		return nil, eris.Wrap(err, "postgres: decode record")
	}
	if signature != nil {
		rec.MessageSignature = *signature
	}
	return &rec, nil
}

func decodeRecord(rec *model.EventRecord, rawJSON, mediaJSON, eventJSON, versionsJSON []byte) error {
	if err := json.Unmarshal(rawJSON, &rec.RawMessage); err != nil {
		return eris.Wrap(err, "raw message")
	}
	media, err := unmarshalNullable[model.MediaRef](mediaJSON)
	if err != nil {
		return eris.Wrap(err, "media")
	}
	rec.Media = media
	ev, err := unmarshalNullable[model.Event](eventJSON)
	if err != nil {
		return eris.Wrap(err, "event")
	}
	rec.Event = ev
	rec.PreviousVersions = []model.EventVersion{}
	if len(versionsJSON) > 0 {
		if err := json.Unmarshal(versionsJSON, &rec.PreviousVersions); err != nil {
			return eris.Wrap(err, "previous versions")
		}
	}
	return nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
