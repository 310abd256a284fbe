package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/shahamT/valley-luz/internal/model"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) FindBySignature(ctx context.Context, sig string) (*model.EventRecord, error) {
	args := m.Called(ctx, sig)
	rec, _ := args.Get(0).(*model.EventRecord)
	return rec, args.Error(1)
}

func (m *mockStore) Insert(ctx context.Context, rec *model.EventRecord) (string, error) {
	args := m.Called(ctx, rec)
	return args.String(0), args.Error(1)
}

func (m *mockStore) Update(ctx context.Context, id string, ev *model.Event, media *model.MediaRef) (bool, error) {
	args := m.Called(ctx, id, ev, media)
	return args.Bool(0), args.Error(1)
}

func (m *mockStore) UpdateFull(ctx context.Context, id string, ev *model.Event, raw model.RawMessage, media *model.MediaRef, signature string) (bool, error) {
	args := m.Called(ctx, id, ev, raw, media, signature)
	return args.Bool(0), args.Error(1)
}

func (m *mockStore) Delete(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *mockStore) AppendVersion(ctx context.Context, id string, v model.EventVersion) (bool, error) {
	args := m.Called(ctx, id, v)
	return args.Bool(0), args.Error(1)
}

func (m *mockStore) TextSearch(ctx context.Context, keys []string, excludeID string, limit int) ([]model.CandidateEvent, error) {
	args := m.Called(ctx, keys, excludeID, limit)
	found, _ := args.Get(0).([]model.CandidateEvent)
	return found, args.Error(1)
}

func (m *mockStore) Get(ctx context.Context, id string) (*model.EventRecord, error) {
	args := m.Called(ctx, id)
	rec, _ := args.Get(0).(*model.EventRecord)
	return rec, args.Error(1)
}

func (m *mockStore) Ping(ctx context.Context) error    { return m.Called(ctx).Error(0) }
func (m *mockStore) Migrate(ctx context.Context) error { return m.Called(ctx).Error(0) }
func (m *mockStore) Close() error                      { return m.Called().Error(0) }

var errDown = errors.New("connection refused")

func TestDocuments_FailuresDegrade(t *testing.T) {
	ms := new(mockStore)
	ctx := context.Background()
	ms.On("FindBySignature", ctx, "sig").Return(nil, errDown)
	ms.On("Insert", ctx, mock.Anything).Return("", errDown)
	ms.On("Update", ctx, "id", mock.Anything, mock.Anything).Return(false, errDown)
	ms.On("UpdateFull", ctx, "id", mock.Anything, mock.Anything, mock.Anything, "sig").Return(false, errDown)
	ms.On("Delete", ctx, "id").Return(false, errDown)
	ms.On("AppendVersion", ctx, "id", mock.Anything).Return(false, errDown)
	ms.On("TextSearch", ctx, []string{"k"}, "id", 5).Return(nil, errDown)
	ms.On("Get", ctx, "id").Return(nil, errDown)

	d := NewDocuments(ms)
	assert.Nil(t, d.FindBySignature(ctx, "sig"))
	assert.Equal(t, "", d.Insert(ctx, &model.EventRecord{}))
	assert.False(t, d.Update(ctx, "id", &model.Event{}, nil))
	assert.False(t, d.UpdateFull(ctx, "id", &model.Event{}, model.RawMessage{}, nil, "sig"))
	assert.False(t, d.Delete(ctx, "id"))
	assert.False(t, d.AppendVersion(ctx, "id", model.EventVersion{}))
	found := d.TextSearch(ctx, []string{"k"}, "id", 5)
	assert.NotNil(t, found)
	assert.Empty(t, found)
	assert.Nil(t, d.Get(ctx, "id"))
	ms.AssertExpectations(t)
}

func TestDocuments_NilStore(t *testing.T) {
	ctx := context.Background()
	for _, d := range []*Documents{nil, NewDocuments(nil)} {
		assert.Nil(t, d.FindBySignature(ctx, "sig"))
		assert.Equal(t, "", d.Insert(ctx, &model.EventRecord{}))
		assert.False(t, d.Update(ctx, "id", &model.Event{}, nil))
		assert.False(t, d.Delete(ctx, "id"))
		assert.Equal(t, []model.CandidateEvent{}, d.TextSearch(ctx, []string{"k"}, "", 5))
		assert.Nil(t, d.Get(ctx, "id"))
	}
}

func TestDocuments_TextSearchExcludesSelfAndCaps(t *testing.T) {
	ms := new(mockStore)
	ctx := context.Background()
	ms.On("TextSearch", ctx, []string{"k"}, "self", 2).Return([]model.CandidateEvent{
		{ID: "self", Text: "a"},
		{ID: "e1", Text: "b"},
		{ID: "e2", Text: "c"},
		{ID: "e3", Text: "d"},
	}, nil)

	got := NewDocuments(ms).TextSearch(ctx, []string{"k"}, "self", 2)
	assert.Equal(t, []model.CandidateEvent{{ID: "e1", Text: "b"}, {ID: "e2", Text: "c"}}, got)
}

func TestDocuments_TextSearchNoKeys(t *testing.T) {
	ms := new(mockStore)
	got := NewDocuments(ms).TextSearch(context.Background(), nil, "self", 5)
	assert.Empty(t, got)
	ms.AssertNotCalled(t, "TextSearch", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDocuments_GetNotFoundIsQuiet(t *testing.T) {
	ms := new(mockStore)
	ctx := context.Background()
	ms.On("Get", ctx, "gone").Return(nil, ErrNotFound)
	ms.On("Get", ctx, "rec-1").Return(&model.EventRecord{ID: "rec-1"}, nil)

	d := NewDocuments(ms)
	assert.Nil(t, d.Get(ctx, "gone"))
	rec := d.Get(ctx, "rec-1")
	if assert.NotNil(t, rec) {
		assert.Equal(t, "rec-1", rec.ID)
	}
}
