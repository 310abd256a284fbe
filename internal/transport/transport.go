// Package transport adapts the chat gateway to what the pipeline needs:
// alias-to-phone resolution and outbound confirmations.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/shahamT/valley-luz/internal/model"
	"github.com/shahamT/valley-luz/internal/resilience"
	"github.com/shahamT/valley-luz/pkg/gateway"
)

// Identifier suffixes used by the gateway.
const (
	SuffixPhone       = "@c.us"
	SuffixPhoneLegacy = "@s.whatsapp.net"
	SuffixAlias       = "@lid"
)

// Transport resolves sender aliases and sends confirmations through the
// gateway. Resolved aliases are cached.
type Transport struct {
	gw            gateway.Client
	cache         *gocache.Cache
	confirmChatID string
	retry         resilience.RetryConfig
}

// New creates a Transport. An empty confirmChatID logs confirmations
// instead of sending them.
func New(gw gateway.Client, confirmChatID string, aliasTTL time.Duration) *Transport {
	if aliasTTL <= 0 {
		aliasTTL = 12 * time.Hour
	}
	return &Transport{
		gw:            gw,
		cache:         gocache.New(aliasTTL, aliasTTL/2),
		confirmChatID: confirmChatID,
		retry: resilience.RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: 500 * time.Millisecond,
			MaxBackoff:     5 * time.Second,
			ShouldRetry:    retryableSend,
			OnRetry:        resilience.RetryLogger("gateway", "send_text"),
		},
	}
}

// retryableSend retries gateway throttling and server errors.
func retryableSend(err error) bool {
	var apiErr *gateway.APIError
	if errors.As(err, &apiErr) {
		return resilience.IsTransientHTTPStatus(apiErr.StatusCode)
	}
	return resilience.IsTransient(err)
}

// IsAlias reports whether id uses the alias identifier scheme.
func IsAlias(id string) bool {
	return strings.HasSuffix(id, SuffixAlias)
}

// IsPhone reports whether id is a phone-form identifier.
func IsPhone(id string) bool {
	return strings.HasSuffix(id, SuffixPhone) || strings.HasSuffix(id, SuffixPhoneLegacy)
}

// PhoneNumber strips the identifier suffix, leaving the digits.
func PhoneNumber(id string) string {
	if i := strings.IndexByte(id, '@'); i >= 0 {
		id = id[:i]
	}
	return strings.TrimPrefix(strings.TrimSpace(id), "+")
}

// ResolveAlias maps alias to a phone number through the gateway's alias
// table.
func (t *Transport) ResolveAlias(ctx context.Context, alias string) (string, error) {
	if v, ok := t.cache.Get(alias); ok {
		return v.(string), nil
	}
	m, err := t.gw.ResolveAlias(ctx, alias)
	if err != nil {
		return "", err
	}
	phone := PhoneNumber(m.Phone)
	if phone == "" {
		return "", eris.Errorf("transport: alias %s has no phone mapping", alias)
	}
	t.cache.SetDefault(alias, phone)
	return phone, nil
}

// LookupContact is the fallback resolution through the contact directory.
func (t *Transport) LookupContact(ctx context.Context, alias string) (string, error) {
	c, err := t.gw.GetContact(ctx, alias)
	if err != nil {
		return "", err
	}
	phone := PhoneNumber(c.Number)
	if phone == "" && IsPhone(c.ID) {
		phone = PhoneNumber(c.ID)
	}
	if phone == "" {
		return "", eris.Errorf("transport: contact %s has no number", alias)
	}
	t.cache.SetDefault(alias, phone)
	return phone, nil
}

// SendConfirmation reports the outcome for a message. Failures are returned
// for the caller to log.
func (t *Transport) SendConfirmation(ctx context.Context, c model.Confirmation) error {
	text := FormatConfirmation(c)
	if t.confirmChatID == "" {
		zap.L().Info("transport: confirmation",
			zap.String("reason", string(c.Reason)),
			zap.String("preview", c.Preview),
			zap.String("detail", c.Detail),
		)
		return nil
	}
	return resilience.Do(ctx, t.retry, func(ctx context.Context) error {
		return t.gw.SendText(ctx, t.confirmChatID, text)
	})
}

var reasonLabels = map[model.ReasonCode]string{
	model.ReasonEventCreated:     "✅ event created",
	model.ReasonEventUpdated:     "🔄 event updated",
	model.ReasonDuplicate:        "♻️ duplicate",
	model.ReasonNotAnEvent:       "⏭️ not an event",
	model.ReasonValidationFailed: "⚠️ validation failed",
	model.ReasonProcessingFailed: "❌ processing failed",
}

// FormatConfirmation renders c as a chat message. Context keys are sorted.
func FormatConfirmation(c model.Confirmation) string {
	label, ok := reasonLabels[c.Reason]
	if !ok {
		label = string(c.Reason)
	}

	var sb strings.Builder
	sb.WriteString(label)
	if c.Preview != "" {
		fmt.Fprintf(&sb, "\n%q", c.Preview)
	}
	if c.Detail != "" {
		sb.WriteString("\n")
		sb.WriteString(c.Detail)
	}
	keys := make([]string, 0, len(c.Context))
	for k := range c.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, "\n%s: %s", k, c.Context[k])
	}
	return sb.String()
}
