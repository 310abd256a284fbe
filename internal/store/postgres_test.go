package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shahamT/valley-luz/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

var recordCols = []string{"id", "created_at", "updated_at", "raw_message", "media", "event", "previous_versions", "is_active", "message_signature"}

func strPtr(s string) *string { return &s }

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS event_records`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindBySignature(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	created := time.Date(2026, 2, 20, 8, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT .+ FROM event_records\s+WHERE message_signature = \$1 AND is_active`).
		WithArgs("sig-1").
		WillReturnRows(pgxmock.NewRows(recordCols).AddRow(
			"rec-1", created, nil,
			[]byte(`{"sender":"972501234567@c.us","group":"g1","text":"ערב מוזיקה","timestamp":1771574400}`),
			nil, nil, []byte(`[]`), true, strPtr("sig-1"),
		))

	rec, err := s.FindBySignature(context.Background(), "sig-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "rec-1", rec.ID)
	assert.Equal(t, "ערב מוזיקה", rec.RawMessage.Text)
	assert.Nil(t, rec.Event)
	assert.Nil(t, rec.UpdatedAt)
	assert.Equal(t, "sig-1", rec.MessageSignature)
	assert.Equal(t, model.RecordPending, rec.State())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindBySignature_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM event_records`).WithArgs("nope").WillReturnError(pgx.ErrNoRows)

	rec, err := s.FindBySignature(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindBySignature_Empty(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	rec, err := s.FindBySignature(context.Background(), "")
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Insert(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO event_records`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), []byte(nil), []byte(nil), []byte(`[]`), true, strPtr("sig-1"), "ערב מוזיקה וזיקה זיקה").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	rec := &model.EventRecord{
		RawMessage:       model.RawMessage{Text: "ערב מוזיקה", Media: &model.Media{Data: []byte{1, 2, 3}, MimeType: "image/jpeg"}},
		IsActive:         true,
		MessageSignature: "sig-1",
	}
	id, err := s.Insert(context.Background(), rec)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, id, rec.ID)
	assert.False(t, rec.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Insert_Error(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO event_records`).WillReturnError(errors.New("connection refused"))

	_, err := s.Insert(context.Background(), &model.EventRecord{ID: "rec-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: insert record")
}

func TestPostgresStore_Update(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE event_records SET event = \$1, media = \$2, updated_at = \$3 WHERE id = \$4`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), "rec-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE event_records SET event`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ok, err := s.Update(context.Background(), "rec-1", &model.Event{Title: "ערב"}, &model.MediaRef{ID: "m1"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Update(context.Background(), "missing", &model.Event{Title: "ערב"}, nil)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateFull(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE event_records\s+SET event = \$1, raw_message = \$2, media = \$3, message_signature = \$4, updated_at = \$5, search_body = \$6`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), []byte(nil), strPtr("sig-2"), pgxmock.AnyArg(), "בחיפה חיפה", "rec-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	ok, err := s.UpdateFull(context.Background(), "rec-1", &model.Event{Title: "ערב"}, model.RawMessage{Text: "בחיפה"}, nil, "sig-2")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Delete(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`DELETE FROM event_records WHERE id = \$1`).
		WithArgs("rec-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	ok, err := s.Delete(context.Background(), "rec-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AppendVersion(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`previous_versions = previous_versions \|\| \$1::jsonb`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), "rec-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	ok, err := s.AppendVersion(context.Background(), "rec-1", model.EventVersion{
		Event:     &model.Event{Title: "ערב"},
		Timestamp: time.Now(),
	})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_TextSearch(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`search_text @@ to_tsquery\('simple', \$2\)`).
		WithArgs("rec-self", "ערב | מוזיקה | וזיקה | זיקה | חיפה", 5).
		WillReturnRows(pgxmock.NewRows([]string{"id", "text"}).
			AddRow("rec-1", "ערב מוזיקה בחיפה").
			AddRow("rec-2", "ערב מוזיקה בגליל"))

	got, err := s.TextSearch(context.Background(), []string{" ערב  מוזיקה ", `"חיפה"`, "ערב מוזיקה", ""}, "rec-self", 5)
	require.NoError(t, err)
	assert.Equal(t, []model.CandidateEvent{
		{ID: "rec-1", Text: "ערב מוזיקה בחיפה"},
		{ID: "rec-2", Text: "ערב מוזיקה בגליל"},
	}, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_TextSearch_NoKeys(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	got, err := s.TextSearch(context.Background(), []string{" ", ""}, "rec-self", 5)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NotNil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Get(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	created := time.Date(2026, 2, 20, 8, 0, 0, 0, time.UTC)
	updated := created.Add(time.Hour)

	mock.ExpectQuery(`FROM event_records WHERE id = \$1`).
		WithArgs("rec-1").
		WillReturnRows(pgxmock.NewRows(recordCols).AddRow(
			"rec-1", created, &updated,
			[]byte(`{"sender":"s","group":"g","text":"ערב מוזיקה","timestamp":1}`),
			[]byte(`{"id":"m1","url":"https://cdn.example.com/m1.jpg"}`),
			[]byte(`{"title":"ערב מוזיקה","categories":["music"],"mainCategory":"music","occurrences":[{"date":"2026-02-25","hasTime":true,"startTime":"2026-02-25T18:00:00.000Z","endTime":null}]}`),
			[]byte(`[{"event":{"title":"ישן"},"rawMessage":{"sender":"s","group":"g","text":"ישן","timestamp":0},"timestamp":"2026-02-19T08:00:00Z"}]`),
			true, strPtr("sig-1"),
		))

	rec, err := s.Get(context.Background(), "rec-1")
	require.NoError(t, err)
	require.NotNil(t, rec.Event)
	assert.Equal(t, "ערב מוזיקה", rec.Event.Title)
	require.NotNil(t, rec.Media)
	assert.Equal(t, "m1", rec.Media.ID)
	require.NotNil(t, rec.UpdatedAt)
	require.Len(t, rec.PreviousVersions, 1)
	assert.Equal(t, "ישן", rec.PreviousVersions[0].Event.Title)
	assert.Equal(t, model.RecordSuperseded, rec.State())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Get_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM event_records WHERE id = \$1`).WithArgs("nope").WillReturnError(pgx.ErrNoRows)

	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Ping(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectPing()
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	assert.NoError(t, s.Ping(context.Background()))
	err := s.Ping(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: ping")
	assert.NoError(t, mock.ExpectationsWereMet())
}
