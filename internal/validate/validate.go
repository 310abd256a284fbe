// Package validate is the deterministic check applied to every extracted
// event before it can be persisted. Model output is never trusted: fields
// without verified evidence are cleared, and events without a verifiable
// date are rejected.
package validate

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/shahamT/valley-luz/internal/category"
	"github.com/shahamT/valley-luz/internal/eventtime"
	"github.com/shahamT/valley-luz/internal/model"
)

// Result is the validator's verdict. Event is nil when the extraction
// could not be repaired.
type Result struct {
	Event       *model.Event
	Corrections []string
}

// Err returns a *Rejection when the event was rejected, nil otherwise.
func (r Result) Err() error {
	if r.Event != nil {
		return nil
	}
	return &Rejection{Reasons: r.Corrections}
}

// Rejection is a terminal validation failure.
type Rejection struct {
	Reasons []string
}

func (e *Rejection) Error() string {
	return "validate: event rejected: " + strings.Join(e.Reasons, "; ")
}

// Validator applies the validation rules.
type Validator struct {
	vocab   *category.Vocabulary
	zone    *eventtime.Zone
	horizon int
}

// New creates a Validator. horizonDays bounds how far past the message an
// occurrence may lie before it is flagged.
func New(vocab *category.Vocabulary, zone *eventtime.Zone, horizonDays int) *Validator {
	if horizonDays <= 0 {
		horizonDays = 365
	}
	return &Validator{vocab: vocab, zone: zone, horizon: horizonDays}
}

type run struct {
	v           *Validator
	ev          *model.Event
	doc         model.SourceDocument
	corrections []string
}

func (r *run) correct(format string, args ...any) {
	r.corrections = append(r.corrections, fmt.Sprintf(format, args...))
}

func (r *run) reject(format string, args ...any) Result {
	r.correct(format, args...)
	return Result{Corrections: r.corrections}
}

// Validate checks ev against doc. ev is not modified.
func (v *Validator) Validate(ev *model.Event, doc model.SourceDocument) Result {
	if ev == nil {
		return Result{Corrections: []string{"no event to validate"}}
	}
	r := &run{v: v, ev: ev.Clone(), doc: doc}

	r.ev.Title = strings.TrimSpace(r.ev.Title)
	if r.ev.Title == "" {
		return r.reject("title is empty")
	}

	r.categories()

	if len(r.ev.Occurrences) == 0 {
		return r.reject("no occurrences")
	}
	for _, o := range r.ev.Occurrences {
		if _, err := v.zone.ParseDate(o.Date); err != nil {
			return r.reject("occurrence date %q is not a valid calendar date", o.Date)
		}
	}

	if reason, ok := r.dateEvidence(); !ok {
		return r.reject("%s", reason)
	}
	r.locationEvidence()
	r.timeEvidence()
	r.endTimeEvidence()
	r.priceEvidence()

	r.normalizeOccurrences()
	r.flagFuture()

	r.links()
	r.ev.Media = []model.MediaRef{}

	return Result{Event: r.ev, Corrections: r.corrections}
}

// categories filters to the vocabulary and repairs mainCategory.
func (r *run) categories() {
	var kept []string
	seen := make(map[string]bool)
	for _, c := range r.ev.Categories {
		c = strings.TrimSpace(c)
		if seen[c] {
			continue
		}
		seen[c] = true
		if r.v.vocab.Allowed(c) {
			kept = append(kept, c)
		} else {
			r.correct("dropped unknown category %q", c)
		}
	}
	if len(kept) == 0 {
		kept = []string{r.v.vocab.Fallback()}
		r.correct("no allowed category, assigned fallback %q", r.v.vocab.Fallback())
	}
	r.ev.Categories = kept

	main := strings.TrimSpace(r.ev.MainCategory)
	if !r.ev.HasCategory(main) {
		r.correct("mainCategory %q not among categories, reassigned to %q", r.ev.MainCategory, kept[0])
		main = kept[0]
	}
	r.ev.MainCategory = main
}

// verified reports whether e carries a quote found in the source.
func (r *run) verified(e model.Evidence) (bool, string) {
	if !e.Evidenced() {
		return false, "no evidence"
	}
	if _, ok := Locate(r.doc, e.Quote); !ok {
		return false, fmt.Sprintf("quote %q not found in source", e.Quote)
	}
	return true, ""
}

func (r *run) dateEvidence() (string, bool) {
	ok, why := r.verified(r.ev.Justifications.Date)
	if !ok {
		return "date: " + why, false
	}
	return "", true
}

func (r *run) locationEvidence() {
	loc := &r.ev.Location
	if loc.IsZero() {
		return
	}
	if ok, why := r.verified(r.ev.Justifications.Location); !ok {
		r.correct("location cleared: %s", why)
		*loc = model.Location{}
		r.ev.Justifications.Location = model.NoEvidence()
		return
	}

	loc.WazeNavLink, loc.GmapsNavLink = "", ""
	if loc.City == "" && loc.CityEvidence == "" {
		return
	}
	if loc.City == "" || loc.CityEvidence == "" {
		r.correct("city cleared: missing city evidence")
		loc.City, loc.CityEvidence = "", ""
		return
	}
	if _, found := Locate(r.doc, loc.CityEvidence); !found {
		r.correct("city cleared: quote %q not found in source", loc.CityEvidence)
		loc.City, loc.CityEvidence = "", ""
	}
}

func (r *run) timeEvidence() {
	timed := false
	for _, o := range r.ev.Occurrences {
		if o.HasTime {
			timed = true
			break
		}
	}
	if !timed {
		return
	}
	if ok, why := r.verified(r.ev.Justifications.StartTime); !ok {
		r.correct("start time cleared, occurrences are all-day: %s", why)
		for i := range r.ev.Occurrences {
			r.ev.Occurrences[i].HasTime = false
		}
		r.ev.Justifications.StartTime = model.NoEvidence()
	}
}

func (r *run) endTimeEvidence() {
	hasEnd := false
	for _, o := range r.ev.Occurrences {
		if o.EndTime != nil {
			hasEnd = true
			break
		}
	}
	if !hasEnd {
		return
	}
	if ok, why := r.verified(r.ev.Justifications.EndTime); !ok {
		r.correct("end time cleared: %s", why)
		for i := range r.ev.Occurrences {
			r.ev.Occurrences[i].EndTime = nil
		}
		r.ev.Justifications.EndTime = model.NoEvidence()
	}
}

func (r *run) priceEvidence() {
	if r.ev.Price == nil {
		return
	}
	if *r.ev.Price < 0 {
		r.correct("price cleared: negative value %v", *r.ev.Price)
		r.ev.Price = nil
		r.ev.Justifications.Price = model.NoEvidence()
		return
	}
	if ok, why := r.verified(r.ev.Justifications.Price); !ok {
		r.correct("price cleared: %s", why)
		r.ev.Price = nil
		r.ev.Justifications.Price = model.NoEvidence()
	}
}

// normalizeOccurrences makes every startTime agree with its date.
func (r *run) normalizeOccurrences() {
	z := r.v.zone
	for i := range r.ev.Occurrences {
		o := &r.ev.Occurrences[i]
		midnight, _ := z.LocalMidnight(o.Date)

		if !o.HasTime {
			if o.StartTime != midnight || o.EndTime != nil {
				if o.StartTime != "" && o.StartTime != midnight {
					r.correct("occurrence %s: all-day start normalized to local midnight", o.Date)
				}
				o.StartTime = midnight
				o.EndTime = nil
			}
			continue
		}

		start, err := eventtime.Parse(o.StartTime)
		if err != nil {
			r.correct("occurrence %s: unparseable start time %q, made all-day", o.Date, o.StartTime)
			o.HasTime = false
			o.StartTime = midnight
			o.EndTime = nil
			continue
		}

		local := start.In(z.Location())
		if local.Format(eventtime.DateLayout) != o.Date {
			day, _ := z.ParseDate(o.Date)
			rebuilt := time.Date(day.Year(), day.Month(), day.Day(), local.Hour(), local.Minute(), 0, 0, z.Location())
			r.correct("occurrence %s: start time rebuilt on the stated date", o.Date)
			if o.EndTime != nil {
				if end, err := eventtime.Parse(*o.EndTime); err == nil {
					shifted := eventtime.Format(end.Add(rebuilt.Sub(start)))
					o.EndTime = &shifted
				}
			}
			start = rebuilt
		}
		o.StartTime = eventtime.Format(start)

		if o.EndTime != nil {
			end, err := eventtime.Parse(*o.EndTime)
			if err != nil || !end.After(start) {
				r.correct("occurrence %s: end time %q dropped", o.Date, *o.EndTime)
				o.EndTime = nil
			} else {
				formatted := eventtime.Format(end)
				o.EndTime = &formatted
			}
		}
	}
}

func (r *run) flagFuture() {
	if r.doc.Timestamp <= 0 {
		return
	}
	limit := eventtime.FromUnix(r.doc.Timestamp).AddDate(0, 0, r.v.horizon)
	for _, o := range r.ev.Occurrences {
		day, err := r.v.zone.ParseDate(o.Date)
		if err != nil {
			continue
		}
		if day.After(limit) {
			r.correct("occurrence %s is more than %d days after the message", o.Date, r.v.horizon)
		}
	}
}

// links keeps only well-formed links that appear in the source.
func (r *run) links() {
	var kept []model.Link
	for _, l := range r.ev.URLs {
		raw := strings.TrimSpace(l.URL)
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			r.correct("dropped malformed link %q", l.URL)
			continue
		}
		if !r.inSource(raw) {
			r.correct("dropped link %q not present in source", l.URL)
			continue
		}
		kept = append(kept, model.Link{Title: strings.TrimSpace(l.Title), URL: raw})
	}
	if kept == nil {
		kept = []model.Link{}
	}
	r.ev.URLs = kept
}

func (r *run) inSource(u string) bool {
	for _, s := range r.doc.URLs {
		if s == u {
			return true
		}
	}
	return false
}
