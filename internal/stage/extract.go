package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/shahamT/valley-luz/internal/eventtime"
	"github.com/shahamT/valley-luz/internal/llm"
	"github.com/shahamT/valley-luz/internal/model"
)

const extractSystemPrompt = `You extract one event from a community chat post into structured fields. The post may be in Hebrew, Arabic, English or Russian; keep text fields in the post's language.

Rules:
- Dates are YYYY-MM-DD. Resolve a missing year from the post date: the next occurrence on or after the post date.
- Times are local wall-clock HH:MM exactly as stated. Do not convert time zones. Use null when no time is stated.
- A stated date range (e.g. "25-27/02") is one occurrence with date and endDate. A single day has endDate null.
- Several separate dates are several occurrences.
- categories: one or more ids from the allowed list only. mainCategory must be one of categories.
- location.City is the town or city. location.CityEvidence is the exact text in the post that names it.
- price is the lowest stated entry price as a number, 0 when the post says entry is free, null when not stated.
- urls: only links that appear in the post.
- Every justification is {"status": "evidenced", "quote": "<exact text copied from the post or image text>"} when the field is stated, or {"status": "not_evidenced", "quote": ""} when it is not. Use "unknown" when you cannot tell. Never paraphrase a quote.

Allowed categories:
%s`

var extractSchema = llm.Schema{
	Name:        "report_event",
	Description: "Report the structured event described in the post",
	JSON: json.RawMessage(`{
  "type": "object",
  "properties": {
    "title": {"type": "string"},
    "shortDescription": {"type": "string"},
    "fullDescription": {"type": "string"},
    "categories": {"type": "array", "items": {"type": "string"}},
    "mainCategory": {"type": "string"},
    "location": {
      "type": "object",
      "properties": {
        "City": {"type": "string"},
        "CityEvidence": {"type": "string"},
        "addressLine1": {"type": "string"},
        "addressLine2": {"type": "string"},
        "locationDetails": {"type": "string"}
      },
      "required": ["City", "CityEvidence", "addressLine1", "addressLine2", "locationDetails"],
      "additionalProperties": false
    },
    "price": {"type": ["number", "null"]},
    "occurrences": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "date": {"type": "string"},
          "endDate": {"type": ["string", "null"]},
          "startTime": {"type": ["string", "null"]},
          "endTime": {"type": ["string", "null"]}
        },
        "required": ["date", "endDate", "startTime", "endTime"],
        "additionalProperties": false
      }
    },
    "justifications": {
      "type": "object",
      "properties": {
        "date": {"$ref": "#/$defs/evidence"},
        "location": {"$ref": "#/$defs/evidence"},
        "startTime": {"$ref": "#/$defs/evidence"},
        "endTime": {"$ref": "#/$defs/evidence"},
        "price": {"$ref": "#/$defs/evidence"}
      },
      "required": ["date", "location", "startTime", "endTime", "price"],
      "additionalProperties": false
    },
    "urls": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {"Title": {"type": "string"}, "Url": {"type": "string"}},
        "required": ["Title", "Url"],
        "additionalProperties": false
      }
    }
  },
  "required": ["title", "shortDescription", "fullDescription", "categories", "mainCategory", "location", "price", "occurrences", "justifications", "urls"],
  "additionalProperties": false,
  "$defs": {
    "evidence": {
      "type": "object",
      "properties": {
        "status": {"type": "string", "enum": ["evidenced", "not_evidenced", "unknown"]},
        "quote": {"type": "string"}
      },
      "required": ["status", "quote"],
      "additionalProperties": false
    }
  }
}`),
}

// extraction is the model's response before times are resolved.
type extraction struct {
	Title            string             `json:"title"`
	ShortDescription string             `json:"shortDescription"`
	FullDescription  string             `json:"fullDescription"`
	Categories       []string           `json:"categories"`
	MainCategory     string             `json:"mainCategory"`
	Location         extractedLocation  `json:"location"`
	Price            *float64           `json:"price"`
	Occurrences      []localOccurrence  `json:"occurrences"`
	Justifications   extractedEvidences `json:"justifications"`
	URLs             []model.Link       `json:"urls"`
}

type extractedLocation struct {
	City            string `json:"City"`
	CityEvidence    string `json:"CityEvidence"`
	AddressLine1    string `json:"addressLine1"`
	AddressLine2    string `json:"addressLine2"`
	LocationDetails string `json:"locationDetails"`
}

// localOccurrence is an occurrence in reference-zone wall-clock terms.
type localOccurrence struct {
	Date      string  `json:"date"`
	EndDate   *string `json:"endDate"`
	StartTime *string `json:"startTime"`
	EndTime   *string `json:"endTime"`
}

type extractedEvidences struct {
	Date      evidence `json:"date"`
	Location  evidence `json:"location"`
	StartTime evidence `json:"startTime"`
	EndTime   evidence `json:"endTime"`
	Price     evidence `json:"price"`
}

// evidence decodes the tri-state justification object as well as the
// legacy plain-string form, where the sentinel phrase means not_evidenced.
type evidence model.Evidence

func (e *evidence) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*e = evidence{Status: model.EvidenceUnknown}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*e = evidence(fromLegacy(s))
		return nil
	}

	var obj struct {
		Status string `json:"status"`
		Quote  string `json:"quote"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return eris.Wrap(err, "justification")
	}
	quote := strings.TrimSpace(obj.Quote)
	switch model.EvidenceStatus(strings.ToLower(strings.TrimSpace(obj.Status))) {
	case model.EvidenceEvidenced:
		if isSentinel(quote) {
			*e = evidence(model.NoEvidence())
			return nil
		}
		if quote == "" {
			*e = evidence{Status: model.EvidenceUnknown}
			return nil
		}
		*e = evidence(model.Quoted(quote))
	case model.EvidenceNotEvidenced:
		*e = evidence(model.NoEvidence())
	default:
		*e = evidence{Status: model.EvidenceUnknown, Quote: quote}
	}
	return nil
}

func fromLegacy(s string) model.Evidence {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return model.Evidence{Status: model.EvidenceUnknown}
	case isSentinel(s):
		return model.NoEvidence()
	default:
		return model.Quoted(s)
	}
}

func isSentinel(s string) bool {
	return strings.EqualFold(strings.TrimSpace(s), model.NoEvidenceSentinel)
}

func checkExtraction(x *extraction) error {
	if strings.TrimSpace(x.Title) == "" {
		return eris.New("title is empty")
	}
	if len(x.Occurrences) == 0 {
		return eris.New("no occurrences")
	}
	return nil
}

// Extract turns doc into an event. The result is unvalidated model output.
func (s *Stages) Extract(ctx context.Context, doc model.SourceDocument) (*model.Event, error) {
	req := llm.Request{
		Stage:  NameExtract,
		Model:  s.opts.Model,
		System: fmt.Sprintf(extractSystemPrompt, s.vocab.Describe()),
		User:   s.extractUser(doc),
		Schema: extractSchema,
	}

	x, err := call(ctx, s, req, checkExtraction)
	if err != nil {
		return nil, eris.Wrap(err, "extract")
	}

	ev := s.toEvent(x)
	zap.L().Debug("extract: complete",
		zap.String("title", ev.Title),
		zap.Int("occurrences", len(ev.Occurrences)),
		zap.Strings("categories", ev.Categories),
	)
	return ev, nil
}

func (s *Stages) extractUser(doc model.SourceDocument) string {
	var sb strings.Builder
	if doc.Timestamp > 0 {
		posted := eventtime.FromUnix(doc.Timestamp).In(s.zone.Location())
		fmt.Fprintf(&sb, "Post date: %s (%s)\n\n", posted.Format(eventtime.DateLayout), posted.Weekday())
	}
	sb.WriteString("Post:\n")
	sb.WriteString(doc.Text)
	if ocr := doc.OCRText(); ocr != "" {
		sb.WriteString("\n\nText recognized in the attached image:\n")
		sb.WriteString(ocr)
	}
	if len(doc.URLs) > 0 {
		sb.WriteString("\n\nLinks:\n")
		for _, u := range doc.URLs {
			sb.WriteString(u + "\n")
		}
	}
	return sb.String()
}

// toEvent resolves local wall-clock occurrences into UTC instants. Dates it
// cannot parse pass through untouched for the validator to reject.
func (s *Stages) toEvent(x *extraction) *model.Event {
	ev := &model.Event{
		Title:            strings.TrimSpace(x.Title),
		ShortDescription: strings.TrimSpace(x.ShortDescription),
		FullDescription:  strings.TrimSpace(x.FullDescription),
		Categories:       x.Categories,
		MainCategory:     x.MainCategory,
		Location: model.Location{
			City:            strings.TrimSpace(x.Location.City),
			CityEvidence:    strings.TrimSpace(x.Location.CityEvidence),
			AddressLine1:    strings.TrimSpace(x.Location.AddressLine1),
			AddressLine2:    strings.TrimSpace(x.Location.AddressLine2),
			LocationDetails: strings.TrimSpace(x.Location.LocationDetails),
		},
		Price: x.Price,
		Justifications: model.Justifications{
			Date:      model.Evidence(x.Justifications.Date),
			Location:  model.Evidence(x.Justifications.Location),
			StartTime: model.Evidence(x.Justifications.StartTime),
			EndTime:   model.Evidence(x.Justifications.EndTime),
			Price:     model.Evidence(x.Justifications.Price),
		},
		Media: []model.MediaRef{},
		URLs:  x.URLs,
	}
	if ev.URLs == nil {
		ev.URLs = []model.Link{}
	}

	seen := make(map[string]bool)
	for _, lo := range x.Occurrences {
		for _, o := range s.resolve(lo) {
			key := o.Date + "|" + o.StartTime
			if seen[key] {
				continue
			}
			seen[key] = true
			ev.Occurrences = append(ev.Occurrences, o)
		}
	}
	return ev
}

// resolve expands a local occurrence into one occurrence per calendar day.
func (s *Stages) resolve(lo localOccurrence) []model.Occurrence {
	date := strings.TrimSpace(lo.Date)
	end := ""
	if lo.EndDate != nil {
		end = strings.TrimSpace(*lo.EndDate)
	}

	days, err := s.zone.ExpandRange(date, end)
	if err != nil {
		if _, derr := s.zone.ParseDate(date); derr != nil {
			return []model.Occurrence{{Date: date}}
		}
		// Unreadable end date: keep the start day only.
		days = []string{date}
	}

	startClock := clock(lo.StartTime)
	endClock := clock(lo.EndTime)

	out := make([]model.Occurrence, 0, len(days))
	for _, day := range days {
		o := model.Occurrence{Date: day}
		switch {
		case startClock != "" && endClock != "":
			start, finish, err := s.zone.LocalRange(day, startClock, endClock)
			if err == nil {
				o.HasTime, o.StartTime, o.EndTime = true, start, &finish
			}
		case startClock != "":
			start, err := s.zone.LocalToUTC(day, startClock)
			if err == nil {
				o.HasTime, o.StartTime = true, start
			}
		}
		if !o.HasTime {
			o.StartTime, _ = s.zone.LocalMidnight(day)
		}
		out = append(out, o)
	}
	return out
}

// clock returns a valid HH:MM value or "".
func clock(v *string) string {
	if v == nil {
		return ""
	}
	c := strings.TrimSpace(*v)
	if !eventtime.ValidClock(c) {
		return ""
	}
	return c
}
