package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/shahamT/valley-luz/internal/llm"
	"github.com/shahamT/valley-luz/internal/model"
)

// Comparison is the verdict of the comparison stage.
type Comparison struct {
	Status             model.ComparisonStatus `json:"status"`
	MatchedCandidateID *string                `json:"matchedCandidateId"`
	Reason             string                 `json:"reason"`
}

// MatchedID returns the matched candidate id or "".
func (c *Comparison) MatchedID() string {
	if c == nil || c.MatchedCandidateID == nil {
		return ""
	}
	return *c.MatchedCandidateID
}

const compareSystemPrompt = `You decide whether a newly extracted event is already known. You get the new event, the post it came from and a numbered list of earlier posts, each with an id.

Decide in this order:
1. Two events are the same only if the title, city, category and date are all close matches. If no earlier post describes the same event, answer "new_event" with matchedCandidateId null.
2. If an earlier post describes the same event and nothing material differs (price, dates, links, location details, description), answer "existing_event" with that post's id.
3. If an earlier post describes the same event but any of those fields changed, answer "updated_event" with that post's id.

Always give a one-sentence reason.`

var compareSchema = llm.Schema{
	Name:        "report_comparison",
	Description: "Report whether the new event duplicates or updates an earlier one",
	JSON: json.RawMessage(`{
  "type": "object",
  "properties": {
    "status": {"type": "string", "enum": ["new_event", "existing_event", "updated_event"]},
    "matchedCandidateId": {"type": ["string", "null"]},
    "reason": {"type": "string"}
  },
  "required": ["status", "matchedCandidateId", "reason"],
  "additionalProperties": false
}`),
}

// comparedEvent is the subset of an event the comparison prompt shows.
type comparedEvent struct {
	Title        string             `json:"title"`
	Description  string             `json:"description"`
	City         string             `json:"city"`
	Address      string             `json:"address,omitempty"`
	MainCategory string             `json:"mainCategory"`
	Price        *float64           `json:"price"`
	Occurrences  []model.Occurrence `json:"occurrences"`
	URLs         []model.Link       `json:"urls"`
}

func checkComparison(candidates []model.CandidateEvent) func(*Comparison) error {
	return func(c *Comparison) error {
		switch c.Status {
		case model.StatusNewEvent:
			c.MatchedCandidateID = nil
			return nil
		case model.StatusExistingEvent, model.StatusUpdatedEvent:
		default:
			return eris.Errorf("unknown status %q", c.Status)
		}

		id := strings.TrimSpace(c.MatchedID())
		if id == "" {
			return eris.Errorf("status %s requires matchedCandidateId", c.Status)
		}
		for _, cand := range candidates {
			if cand.ID == id {
				c.MatchedCandidateID = &id
				return nil
			}
		}
		return eris.Errorf("matchedCandidateId %q is not among the candidates", id)
	}
}

// Compare decides whether ev is new, a duplicate or an update of one of the
// candidates. With no candidates the event is new and no model call is made.
func (s *Stages) Compare(ctx context.Context, ev *model.Event, messageText string, candidates []model.CandidateEvent) (*Comparison, error) {
	if len(candidates) == 0 {
		return &Comparison{Status: model.StatusNewEvent, Reason: "no candidates"}, nil
	}
	if ev == nil {
		return nil, eris.New("compare: nil event")
	}

	user, err := compareUser(ev, messageText, candidates)
	if err != nil {
		return nil, err
	}

	c, err := call(ctx, s, llm.Request{
		Stage:  NameCompare,
		Model:  s.opts.Model,
		System: compareSystemPrompt,
		User:   user,
		Schema: compareSchema,
	}, checkComparison(candidates))
	if err != nil {
		return nil, eris.Wrap(err, "compare")
	}

	zap.L().Debug("compare: complete",
		zap.String("status", string(c.Status)),
		zap.String("matched", c.MatchedID()),
		zap.String("reason", c.Reason),
	)
	return c, nil
}

func compareUser(ev *model.Event, messageText string, candidates []model.CandidateEvent) (string, error) {
	view := comparedEvent{
		Title:        ev.Title,
		Description:  ev.ShortDescription,
		City:         ev.Location.City,
		Address:      strings.TrimSpace(ev.Location.AddressLine1 + " " + ev.Location.LocationDetails),
		MainCategory: ev.MainCategory,
		Price:        ev.Price,
		Occurrences:  ev.Occurrences,
		URLs:         ev.URLs,
	}
	data, err := json.MarshalIndent(view, "", "  ")
	if err != nil {
		return "", eris.Wrap(err, "compare: marshal event")
	}

	var sb strings.Builder
	sb.WriteString("New event:\n")
	sb.Write(data)
	sb.WriteString("\n\nNew post:\n")
	sb.WriteString(messageText)
	sb.WriteString("\n\nEarlier posts:\n")
	for i, c := range candidates {
		fmt.Fprintf(&sb, "%d. id=%s\n%s\n\n", i+1, c.ID, c.Text)
	}
	return sb.String(), nil
}
