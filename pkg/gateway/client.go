// Package gateway is a client for the chat-transport HTTP gateway that
// delivers group messages and sends replies.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

const defaultSession = "default"

// Client defines the gateway operations the pipeline uses.
type Client interface {
	// ResolveAlias maps an alias identifier (the "@lid" scheme) to the
	// phone-form identifier behind it.
	ResolveAlias(ctx context.Context, alias string) (*AliasMapping, error)
	// GetContact looks up a contact by any identifier form.
	GetContact(ctx context.Context, id string) (*Contact, error)
	SendText(ctx context.Context, chatID, text string) error
}

// AliasMapping is the response from GET /api/{session}/lids/{lid}.
type AliasMapping struct {
	Alias string `json:"lid"`
	Phone string `json:"pn"`
}

// Contact is the response from GET /api/contacts.
type Contact struct {
	ID     string `json:"id"`
	Number string `json:"number"`
	Name   string `json:"name,omitempty"`
}

// SendTextRequest is the body for POST /api/sendText.
type SendTextRequest struct {
	Session string `json:"session"`
	ChatID  string `json:"chatId"`
	Text    string `json:"text"`
}

// APIError is returned when the gateway responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway: HTTP %d: %s", e.StatusCode, e.Body)
}

// Option configures the httpClient.
type Option func(*httpClient)

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithSession selects the gateway session.
func WithSession(session string) Option {
	return func(c *httpClient) {
		if session != "" {
			c.session = session
		}
	}
}

// WithRateLimit caps outbound requests per second. Zero disables limiting.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		} else {
			c.limiter = nil
		}
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	session string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a gateway client for baseURL.
func NewClient(baseURL, apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: baseURL,
		session: defaultSession,
		http:    &http.Client{Timeout: 15 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(5), 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) ResolveAlias(ctx context.Context, alias string) (*AliasMapping, error) {
	var resp AliasMapping
	path := fmt.Sprintf("/api/%s/lids/%s", url.PathEscape(c.session), url.PathEscape(alias))
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, eris.Wrapf(err, "gateway: resolve alias %s", alias)
	}
	return &resp, nil
}

func (c *httpClient) GetContact(ctx context.Context, id string) (*Contact, error) {
	q := url.Values{}
	q.Set("contactId", id)
	q.Set("session", c.session)

	var resp Contact
	if err := c.get(ctx, "/api/contacts?"+q.Encode(), &resp); err != nil {
		return nil, eris.Wrapf(err, "gateway: get contact %s", id)
	}
	return &resp, nil
}

func (c *httpClient) SendText(ctx context.Context, chatID, text string) error {
	body := SendTextRequest{Session: c.session, ChatID: chatID, Text: text}
	if err := c.post(ctx, "/api/sendText", body, nil); err != nil {
		return eris.Wrapf(err, "gateway: send text to %s", chatID)
	}
	return nil
}

func (c *httpClient) post(ctx context.Context, path string, body any, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return eris.Wrap(err, "marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return eris.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, out)
}

func (c *httpClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return eris.Wrap(err, "create request")
	}

	return c.do(req, out)
}

func (c *httpClient) do(req *http.Request, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(req.Context()); err != nil {
			return eris.Wrap(err, "rate limit wait")
		}
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "execute request")
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{
			StatusCode: resp.StatusCode,
			Body:       string(data),
		}
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return eris.Wrap(err, "decode response")
	}
	return nil
}
