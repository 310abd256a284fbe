// Package eventtime converts between the reference zone's wall clock and the
// UTC ISO-8601 strings stored on event occurrences.
package eventtime

import (
	"regexp"
	"time"
	_ "time/tzdata"

	"github.com/rotisserie/eris"
)

// ISOLayout is the millisecond-precision UTC layout used for occurrence
// dates and times, e.g. 2026-02-25T18:00:00.000Z.
const ISOLayout = "2006-01-02T15:04:05.000Z"

// DateLayout is the calendar-date layout.
const DateLayout = "2006-01-02"

// MaxRangeDays bounds how many consecutive days a date range may expand to.
const MaxRangeDays = 31

var clockRe = regexp.MustCompile(`^([01]?\d|2[0-3]):([0-5]\d)$`)

// Zone wraps the reference time zone.
type Zone struct {
	loc *time.Location
}

// NewZone loads the named IANA zone.
func NewZone(name string) (*Zone, error) {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, eris.Wrapf(err, "eventtime: load zone %q", name)
	}
	return &Zone{loc: loc}, nil
}

// MustZone is NewZone for known-good names.
func MustZone(name string) *Zone {
	z, err := NewZone(name)
	if err != nil {
		panic(err)
	}
	return z
}

// Location returns the underlying location.
func (z *Zone) Location() *time.Location { return z.loc }

// ParseDate parses YYYY-MM-DD as a local calendar date.
func (z *Zone) ParseDate(date string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, date, z.loc)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "eventtime: parse date %q", date)
	}
	return t, nil
}

// ValidClock reports whether s is an HH:MM wall-clock time.
func ValidClock(s string) bool {
	return clockRe.MatchString(s)
}

// LocalMidnight returns the UTC instant of local midnight on date.
func (z *Zone) LocalMidnight(date string) (string, error) {
	t, err := z.ParseDate(date)
	if err != nil {
		return "", err
	}
	return Format(t), nil
}

// LocalToUTC converts a local date and HH:MM clock time to a UTC instant.
func (z *Zone) LocalToUTC(date, clock string) (string, error) {
	t, err := z.localTime(date, clock)
	if err != nil {
		return "", err
	}
	return Format(t), nil
}

// LocalRange converts a local start/end clock pair on date to UTC instants.
// An end that is not after the start rolls over to the next day.
func (z *Zone) LocalRange(date, start, end string) (string, string, error) {
	s, err := z.localTime(date, start)
	if err != nil {
		return "", "", err
	}
	e, err := z.localTime(date, end)
	if err != nil {
		return "", "", err
	}
	if !e.After(s) {
		e = e.AddDate(0, 0, 1)
	}
	return Format(s), Format(e), nil
}

func (z *Zone) localTime(date, clock string) (time.Time, error) {
	d, err := z.ParseDate(date)
	if err != nil {
		return time.Time{}, err
	}
	m := clockRe.FindStringSubmatch(clock)
	if m == nil {
		return time.Time{}, eris.Errorf("eventtime: invalid clock %q", clock)
	}
	hour := atoi(m[1])
	minute := atoi(m[2])
	return time.Date(d.Year(), d.Month(), d.Day(), hour, minute, 0, 0, z.loc), nil
}

// LocalDate returns the local calendar date of a stored UTC instant.
func (z *Zone) LocalDate(iso string) (string, error) {
	t, err := Parse(iso)
	if err != nil {
		return "", err
	}
	return t.In(z.loc).Format(DateLayout), nil
}

// ExpandRange lists every local date from start to end inclusive. An empty
// or earlier end yields just start. Ranges longer than MaxRangeDays are cut.
func (z *Zone) ExpandRange(start, end string) ([]string, error) {
	s, err := z.ParseDate(start)
	if err != nil {
		return nil, err
	}
	if end == "" {
		return []string{start}, nil
	}
	e, err := z.ParseDate(end)
	if err != nil {
		return nil, err
	}
	if e.Before(s) {
		return []string{start}, nil
	}

	var out []string
	for d := s; !d.After(e) && len(out) < MaxRangeDays; d = d.AddDate(0, 0, 1) {
		out = append(out, d.Format(DateLayout))
	}
	return out, nil
}

// Format renders t as a UTC ISO string.
func Format(t time.Time) string {
	return t.UTC().Format(ISOLayout)
}

// Parse reads a stored ISO instant. RFC 3339 without milliseconds is also
// accepted.
func Parse(iso string) (time.Time, error) {
	if t, err := time.Parse(ISOLayout, iso); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, iso)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "eventtime: parse instant %q", iso)
	}
	return t.UTC(), nil
}

// FromUnix converts a message timestamp in seconds to time.Time.
func FromUnix(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}

func atoi(s string) int {
	n := 0
	for _, r := range s {
		n = n*10 + int(r-'0')
	}
	return n
}
