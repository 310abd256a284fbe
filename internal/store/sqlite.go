package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/shahamT/valley-luz/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Candidate search
// runs over an FTS5 table kept in step with event_records.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS event_records (
	id                TEXT PRIMARY KEY,
	created_at        TEXT NOT NULL,
	updated_at        TEXT,
	raw_message       TEXT NOT NULL,
	media             TEXT,
	event             TEXT,
	previous_versions TEXT NOT NULL DEFAULT '[]',
	is_active         INTEGER NOT NULL DEFAULT 1,
	message_signature TEXT
);

CREATE INDEX IF NOT EXISTS idx_event_records_signature ON event_records(message_signature);
CREATE INDEX IF NOT EXISTS idx_event_records_created_at ON event_records(created_at);

CREATE VIRTUAL TABLE IF NOT EXISTS event_search USING fts5(
	id UNINDEXED,
	body,
	tokenize = 'unicode61 remove_diacritics 2'
);
`

const sqliteRecordColumns = `id, created_at, updated_at, raw_message, media, event, previous_versions, is_active, message_signature`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) FindBySignature(ctx context.Context, sig string) (*model.EventRecord, error) {
	if sig == "" {
		return nil, nil
	}
	rec, err := scanSQLiteRecord(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteRecordColumns+` FROM event_records
		 WHERE message_signature = ? AND is_active = 1
		 ORDER BY created_at ASC LIMIT 1`,
		sig,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find by signature")
	}
	return rec, nil
}

func (s *SQLiteStore) Insert(ctx context.Context, rec *model.EventRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	raw := storedRaw(rec.RawMessage)
	rawJSON, err := json.Marshal(raw)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: marshal raw message")
	}
	mediaJSON, err := marshalNullable(rec.Media)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: marshal media")
	}
	eventJSON, err := marshalNullable(rec.Event)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: marshal event")
	}
	versions := rec.PreviousVersions
	if versions == nil {
		versions = []model.EventVersion{}
	}
	versionsJSON, err := json.Marshal(versions)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: marshal versions")
	}

	err = s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO event_records (id, created_at, raw_message, media, event, previous_versions, is_active, message_signature)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, formatTime(rec.CreatedAt), string(rawJSON), nullText(mediaJSON), nullText(eventJSON),
			string(versionsJSON), rec.IsActive, nullString(rec.MessageSignature),
		); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO event_search (id, body) VALUES (?, ?)`, rec.ID, searchBody(raw.Text))
		return err
	})
	if err != nil {
		return "", eris.Wrap(err, "sqlite: insert record")
	}
	return rec.ID, nil
}

func (s *SQLiteStore) Update(ctx context.Context, id string, ev *model.Event, media *model.MediaRef) (bool, error) {
	eventJSON, err := marshalNullable(ev)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: marshal event")
	}
	mediaJSON, err := marshalNullable(media)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: marshal media")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE event_records SET event = ?, media = ?, updated_at = ? WHERE id = ?`,
		nullText(eventJSON), nullText(mediaJSON), formatTime(time.Now()), id,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: update record %s", id)
	}
	return affected(res)
}

func (s *SQLiteStore) UpdateFull(ctx context.Context, id string, ev *model.Event, raw model.RawMessage, media *model.MediaRef, signature string) (bool, error) {
	eventJSON, err := marshalNullable(ev)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: marshal event")
	}
	raw = storedRaw(raw)
	rawJSON, err := json.Marshal(raw)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: marshal raw message")
	}
	mediaJSON, err := marshalNullable(media)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: marshal media")
	}

	var ok bool
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE event_records
			 SET event = ?, raw_message = ?, media = ?, message_signature = ?, updated_at = ?
			 WHERE id = ?`,
			nullText(eventJSON), string(rawJSON), nullText(mediaJSON), nullString(signature), formatTime(time.Now()), id,
		)
		if err != nil {
			return err
		}
		if ok, err = affected(res); err != nil || !ok {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM event_search WHERE id = ?`, id); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO event_search (id, body) VALUES (?, ?)`, id, searchBody(raw.Text))
		return err
	})
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: update full record %s", id)
	}
	return ok, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) (bool, error) {
	var ok bool
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM event_records WHERE id = ?`, id)
		if err != nil {
			return err
		}
		if ok, err = affected(res); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM event_search WHERE id = ?`, id)
		return err
	})
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: delete record %s", id)
	}
	return ok, nil
}

func (s *SQLiteStore) AppendVersion(ctx context.Context, id string, v model.EventVersion) (bool, error) {
	v.RawMessage = storedRaw(v.RawMessage)
	versionJSON, err := json.Marshal(v)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: marshal version")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE event_records SET previous_versions = json_insert(previous_versions, '$[#]', json(?)), updated_at = ?
		 WHERE id = ?`,
		string(versionJSON), formatTime(time.Now()), id,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: append version %s", id)
	}
	return affected(res)
}

func (s *SQLiteStore) TextSearch(ctx context.Context, keys []string, excludeID string, limit int) ([]model.CandidateEvent, error) {
	terms := searchTerms(keys)
	if len(terms) == 0 || limit <= 0 {
		return []model.CandidateEvent{}, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT r.id, coalesce(json_extract(r.raw_message, '$.text'), '')
		 FROM event_search JOIN event_records r ON r.id = event_search.id
		 WHERE event_search MATCH ? AND r.id <> ? AND r.is_active = 1 AND r.event IS NOT NULL
		 ORDER BY bm25(event_search), r.created_at DESC
		 LIMIT ?`,
		anyTermQuery(terms, " OR "), excludeID, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: text search")
	}
	defer rows.Close()

	out := []model.CandidateEvent{}
	for rows.Next() {
		var c model.CandidateEvent
		if err := rows.Scan(&c.ID, &c.Text); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan candidate")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: text search iterate")
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*model.EventRecord, error) {
	rec, err := scanSQLiteRecord(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteRecordColumns+` FROM event_records WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get record %s", id)
	}
	return rec, nil
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func scanSQLiteRecord(row *sql.Row) (*model.EventRecord, error) {
	var (
		rec                   model.EventRecord
		createdAt             string
		updatedAt             sql.NullString
		rawJSON, versionsJSON string
		mediaJSON, eventJSON  sql.NullString
		signature             sql.NullString
	)
	if err := row.Scan(&rec.ID, &createdAt, &updatedAt, &rawJSON, &mediaJSON, &eventJSON,
		&versionsJSON, &rec.IsActive, &signature); err != nil {
		return nil, err
	}

	var err error
	if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, eris.Wrap(err, "sqlite: parse created_at")
	}
	if updatedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, updatedAt.String)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: parse updated_at")
		}
		rec.UpdatedAt = &t
	}
	if err := decodeRecord(&rec, []byte(rawJSON), []byte(mediaJSON.String), []byte(eventJSON.String), []byte(versionsJSON)); err != nil {
		return nil, eris.Wrap(err, "sqlite: decode record")
	}
	rec.MessageSignature = signature.String
	return &rec, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func nullText(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
