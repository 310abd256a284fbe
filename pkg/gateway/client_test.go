package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "test-api-key", WithSession("valley"), WithRateLimit(0))
}

func TestResolveAlias(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/valley/lids/123456789@lid", r.URL.Path)
		assert.Equal(t, "test-api-key", r.Header.Get("X-Api-Key"))
		_ = json.NewEncoder(w).Encode(AliasMapping{Alias: "123456789@lid", Phone: "972501234567@c.us"})
	})

	got, err := c.ResolveAlias(context.Background(), "123456789@lid")
	require.NoError(t, err)
	assert.Equal(t, "972501234567@c.us", got.Phone)
}

func TestResolveAlias_NotFound(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"lid not found"}`))
	})

	_, err := c.ResolveAlias(context.Background(), "1@lid")
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "lid not found")
}

func TestGetContact(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/contacts", r.URL.Path)
		assert.Equal(t, "1@lid", r.URL.Query().Get("contactId"))
		assert.Equal(t, "valley", r.URL.Query().Get("session"))
		_ = json.NewEncoder(w).Encode(Contact{ID: "1@lid", Number: "972501234567"})
	})

	got, err := c.GetContact(context.Background(), "1@lid")
	require.NoError(t, err)
	assert.Equal(t, "972501234567", got.Number)
}

func TestGetContact_MalformedBody(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{not json`))
	})

	_, err := c.GetContact(context.Background(), "1@lid")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode response")
}

func TestSendText(t *testing.T) {
	var got SendTextRequest
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/sendText", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	})

	require.NoError(t, c.SendText(context.Background(), "120363000000000000@g.us", "נוסף אירוע"))
	assert.Equal(t, "valley", got.Session)
	assert.Equal(t, "120363000000000000@g.us", got.ChatID)
	assert.Equal(t, "נוסף אירוע", got.Text)
}

func TestSendText_ServerError(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	err := c.SendText(context.Background(), "chat", "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 502")
}

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient("http://gw", "").(*httpClient)
	assert.Equal(t, defaultSession, c.session)
	assert.NotNil(t, c.limiter)

	c = NewClient("http://gw", "", WithSession(""), WithRateLimit(0)).(*httpClient)
	assert.Equal(t, defaultSession, c.session)
	assert.Nil(t, c.limiter)
}

func TestRateLimitHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	c := NewClient(srv.URL, "", WithRateLimit(0.001))

	require.NoError(t, c.SendText(context.Background(), "chat", "first"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.SendText(ctx, "chat", "second")
	assert.Error(t, err)
}
