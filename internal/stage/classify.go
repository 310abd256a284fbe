package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/shahamT/valley-luz/internal/llm"
	"github.com/shahamT/valley-luz/internal/model"
)

// Classification rejection reasons.
const (
	ReasonEmpty          = "empty_message"
	ReasonTooShort       = "too_short"
	ReasonRelativeDate   = "relative_date_only"
	ReasonRecurring      = "recurring_without_date"
	ReasonAdvertisement  = "advertisement"
	ReasonMultipleEvents = "multiple_events"
	ReasonNoEvent        = "no_event_semantics"
)

// minTextRunes is the shortest text-only message sent to the model.
const minTextRunes = 10

// maxSearchKeys caps the search phrases a classification may return.
const maxSearchKeys = 5

// Classification is the verdict of the classification stage.
type Classification struct {
	IsEvent    bool     `json:"isEvent"`
	SearchKeys []string `json:"searchKeys"`
	Reason     *string  `json:"reason"`
	NeedsImage bool     `json:"needsImage"`
}

// ReasonText returns the reason or "".
func (c *Classification) ReasonText() string {
	if c == nil || c.Reason == nil {
		return ""
	}
	return *c.Reason
}

const classifySystemPrompt = `You screen posts from community chat groups in northern Israel. Decide whether the post announces exactly one specific, real-world event that a reader could attend.

Answer isEvent=false and set reason to one of these codes when it applies:
- relative_date_only: the only date signal is relative ("today", "tomorrow", "היום", "מחר", "בשבוע הבא") with no calendar date.
- recurring_without_date: the only date signal is a recurring weekday pattern ("every Tuesday", "בכל יום שלישי") with no specific calendar date.
- advertisement: business hours, product sales, services or general promotion without event semantics.
- multiple_events: the post describes more than one distinct event.
- no_event_semantics: anything else that is not an event announcement.

When isEvent=true, reason is null and searchKeys holds 3 to 5 short phrases (2 to 4 words each, in the post's language) that would find other posts about the same event: the event name, the venue or city, the performer or host.

Set needsImage=true only when an image is attached and the text alone is too ambiguous to decide.`

var classifySchema = llm.Schema{
	Name:        "report_classification",
	Description: "Report whether the post announces a single dated event",
	JSON: json.RawMessage(`{
  "type": "object",
  "properties": {
    "isEvent": {"type": "boolean"},
    "searchKeys": {"type": "array", "items": {"type": "string"}},
    "reason": {"type": ["string", "null"]},
    "needsImage": {"type": "boolean"}
  },
  "required": ["isEvent", "searchKeys", "reason", "needsImage"],
  "additionalProperties": false
}`),
}

// prefilter rejects messages that cannot be events without a model call.
func prefilter(text string, hasImage bool) *Classification {
	text = strings.TrimSpace(text)
	reject := func(reason string) *Classification {
		return &Classification{IsEvent: false, SearchKeys: []string{}, Reason: &reason}
	}
	switch {
	case text == "" && !hasImage:
		return reject(ReasonEmpty)
	case !hasImage && utf8.RuneCountInString(text) < minTextRunes:
		return reject(ReasonTooShort)
	}
	return nil
}

func classifyUser(text string, hasImage bool) string {
	attached := "no"
	if hasImage {
		attached = "yes"
	}
	return fmt.Sprintf("Image attached: %s\n\nPost:\n%s", attached, text)
}

func checkClassification(c *Classification) error {
	seen := make(map[string]bool)
	keys := make([]string, 0, len(c.SearchKeys))
	for _, k := range c.SearchKeys {
		k = strings.TrimSpace(k)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		keys = append(keys, k)
		if len(keys) == maxSearchKeys {
			break
		}
	}
	c.SearchKeys = keys

	if c.Reason != nil && strings.TrimSpace(*c.Reason) == "" {
		c.Reason = nil
	}
	if c.IsEvent {
		c.Reason = nil
		return nil
	}
	if c.Reason == nil {
		r := ReasonNoEvent
		c.Reason = &r
	}
	return nil
}

// Classify decides whether doc announces a single event. imageURL is the
// uploaded media URL, or "" when the message has no image.
func (s *Stages) Classify(ctx context.Context, doc model.SourceDocument, imageURL string) (*Classification, error) {
	hasImage := imageURL != ""
	if c := prefilter(doc.Text, hasImage); c != nil {
		zap.L().Debug("classify: rejected before model call", zap.String("reason", c.ReasonText()))
		return c, nil
	}

	text := doc.Text
	if ocr := doc.OCRText(); ocr != "" {
		text += "\n\nText recognized in the attached image:\n" + ocr
	}

	req := llm.Request{
		Stage:  NameClassify,
		Model:  s.opts.FastModel,
		System: classifySystemPrompt,
		User:   classifyUser(text, hasImage),
		Schema: classifySchema,
	}
	// Without text the image is the only signal.
	if strings.TrimSpace(doc.Text) == "" {
		req.ImageURL = imageURL
	}

	c, err := call(ctx, s, req, checkClassification)
	if err != nil {
		return nil, eris.Wrap(err, "classify")
	}

	if c.NeedsImage && hasImage && req.ImageURL == "" {
		req.ImageURL = imageURL
		withImage, err := call(ctx, s, req, checkClassification)
		if err != nil {
			return nil, eris.Wrap(err, "classify: image consult")
		}
		zap.L().Debug("classify: consulted image",
			zap.Bool("text_verdict", c.IsEvent),
			zap.Bool("image_verdict", withImage.IsEvent),
		)
		c = withImage
	}

	zap.L().Debug("classify: complete",
		zap.Bool("is_event", c.IsEvent),
		zap.String("reason", c.ReasonText()),
		zap.Strings("search_keys", c.SearchKeys),
	)
	return c, nil
}
