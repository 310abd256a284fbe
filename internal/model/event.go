package model

import "strings"

// EvidenceStatus is the tri-state verdict the extraction stage attaches to
// each gated field.
type EvidenceStatus string

const (
	EvidenceEvidenced    EvidenceStatus = "evidenced"
	EvidenceNotEvidenced EvidenceStatus = "not_evidenced"
	EvidenceUnknown      EvidenceStatus = "unknown"
)

// NoEvidenceSentinel is the legacy free-text marker some model outputs still
// emit instead of the tri-state status.
const NoEvidenceSentinel = "no evidence"

// Evidence is the justification for one extracted field: a verbatim quote
// from the source, or an explicit lack of evidence.
type Evidence struct {
	Status EvidenceStatus `json:"status"`
	Quote  string         `json:"quote,omitempty"`
}

// Evidenced reports whether the justification carries a usable quote.
func (e Evidence) Evidenced() bool {
	return e.Status == EvidenceEvidenced && strings.TrimSpace(e.Quote) != ""
}

// NoEvidence returns the not_evidenced justification.
func NoEvidence() Evidence {
	return Evidence{Status: EvidenceNotEvidenced}
}

// Quoted returns an evidenced justification for q.
func Quoted(q string) Evidence {
	return Evidence{Status: EvidenceEvidenced, Quote: q}
}

// Justifications holds the evidence for each gated field.
type Justifications struct {
	Date      Evidence `json:"date"`
	Location  Evidence `json:"location"`
	StartTime Evidence `json:"startTime"`
	EndTime   Evidence `json:"endTime"`
	Price     Evidence `json:"price"`
}

// Location describes where an event takes place.
type Location struct {
	City            string `json:"City"`
	CityEvidence    string `json:"CityEvidence,omitempty"`
	AddressLine1    string `json:"addressLine1,omitempty"`
	AddressLine2    string `json:"addressLine2,omitempty"`
	LocationDetails string `json:"locationDetails,omitempty"`
	WazeNavLink     string `json:"wazeNavLink,omitempty"`
	GmapsNavLink    string `json:"gmapsNavLink,omitempty"`
}

// IsZero reports whether no location field is populated.
func (l Location) IsZero() bool {
	return l == Location{}
}

// Occurrence is one concrete date/time instance of an event. StartTime and
// EndTime are UTC instants formatted with eventtime.ISOLayout.
type Occurrence struct {
	Date      string  `json:"date"`
	HasTime   bool    `json:"hasTime"`
	StartTime string  `json:"startTime"`
	EndTime   *string `json:"endTime"`
}

// Link is a titled URL attached to an event.
type Link struct {
	Title string `json:"Title"`
	URL   string `json:"Url"`
}

// Event is the structured event extracted from a message. Before the
// validator runs it is untrusted model output.
type Event struct {
	Title            string         `json:"title"`
	ShortDescription string         `json:"shortDescription"`
	FullDescription  string         `json:"fullDescription"`
	Categories       []string       `json:"categories"`
	MainCategory     string         `json:"mainCategory"`
	Location         Location       `json:"location"`
	Price            *float64       `json:"price"`
	Occurrences      []Occurrence   `json:"occurrences"`
	Justifications   Justifications `json:"justifications"`
	Media            []MediaRef     `json:"media"`
	URLs             []Link         `json:"urls"`
	PublisherPhone   string         `json:"publisherPhone,omitempty"`
}

// Clone returns a deep copy so the validator can correct without aliasing
// the stage output.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	out := *e
	out.Categories = append([]string(nil), e.Categories...)
	out.Media = append([]MediaRef(nil), e.Media...)
	out.URLs = append([]Link(nil), e.URLs...)
	if e.Price != nil {
		p := *e.Price
		out.Price = &p
	}
	out.Occurrences = make([]Occurrence, len(e.Occurrences))
	for i, o := range e.Occurrences {
		if o.EndTime != nil {
			end := *o.EndTime
			o.EndTime = &end
		}
		out.Occurrences[i] = o
	}
	return &out
}

// HasCategory reports whether id is among the event's categories.
func (e *Event) HasCategory(id string) bool {
	for _, c := range e.Categories {
		if c == id {
			return true
		}
	}
	return false
}
