package tariff

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

var (
	ErrMalformed = errors.New("malformed schedule")
	ErrOverlap   = errors.New("overlapping intervals")
	ErrGap       = errors.New("uncovered time without default kind")
)

// ParseError describes why a raw schedule document was rejected. It wraps
// one of ErrMalformed, ErrOverlap or ErrGap.
type ParseError struct {
	Date   Date
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse schedule %s: %v: %s", e.Date, e.Err, e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

func newParseError(d Date, kind error, format string, args ...any) *ParseError {
	return &ParseError{Date: d, Reason: fmt.Sprintf(format, args...), Err: kind}
}

// RawSchedule is a distributor-neutral daily schedule document. Ranges and
// Events may be combined; an event switches to Kind at At and lasts until the
// next event or midnight. Default covers any time no range claims.
type RawSchedule struct {
	Date      string     `json:"date"`
	Default   Kind       `json:"default,omitempty"`
	Signal    string     `json:"signal,omitempty"`
	Ranges    []RawRange `json:"ranges,omitempty"`
	Events    []RawEvent `json:"events,omitempty"`
	FetchedAt time.Time  `json:"fetched_at,omitempty"`
}

type RawRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
	Kind  Kind   `json:"kind"`
}

type RawEvent struct {
	At   string `json:"at"`
	Kind Kind   `json:"kind"`
}

type span struct {
	start, end Clock
	kind       Kind
	crossing   bool
}

// ParseRaw parses raw for the date it names. A missing or unreadable date is
// reported as a ParseError like any other malformed field.
func ParseRaw(raw RawSchedule) (DaySchedule, error) {
	if raw.Date == "" {
		return DaySchedule{}, newParseError(Date{}, ErrMalformed, "missing date")
	}
	d, err := ParseDate(raw.Date)
	if err != nil {
		return DaySchedule{}, newParseError(Date{}, ErrMalformed, "%v", err)
	}
	return Parse(raw, d)
}

// Parse validates raw and turns it into the DaySchedule for date. A range
// whose end is earlier than its start crosses midnight: the part up to 24:00
// stays on date and the remainder becomes the schedule's Carry.
func Parse(raw RawSchedule, date Date) (DaySchedule, error) {
	if raw.Date != "" {
		d, err := ParseDate(raw.Date)
		if err != nil {
			return DaySchedule{}, newParseError(date, ErrMalformed, "%v", err)
		}
		if d != date {
			return DaySchedule{}, newParseError(date, ErrMalformed, "document is for %s", d)
		}
	}
	if raw.Default != "" && !raw.Default.Valid() {
		return DaySchedule{}, newParseError(date, ErrMalformed, "unknown default kind %q", raw.Default)
	}

	ranges, err := eventRanges(raw.Events, date)
	if err != nil {
		return DaySchedule{}, err
	}
	ranges = append(slices.Clone(raw.Ranges), ranges...)

	var spans []span
	var carry *span
	for i, r := range ranges {
		if !r.Kind.Valid() {
			return DaySchedule{}, newParseError(date, ErrMalformed, "range %d: unknown kind %q", i, r.Kind)
		}
		start, err := ParseClock(r.Start)
		if err != nil {
			return DaySchedule{}, newParseError(date, ErrMalformed, "range %d: %v", i, err)
		}
		end, err := ParseClock(r.End)
		if err != nil {
			return DaySchedule{}, newParseError(date, ErrMalformed, "range %d: %v", i, err)
		}
		if start == EndOfDay {
			return DaySchedule{}, newParseError(date, ErrMalformed, "range %d starts at 24:00", i)
		}
		switch {
		case start == end:
			return DaySchedule{}, newParseError(date, ErrMalformed, "range %d is empty (%s-%s)", i, r.Start, r.End)
		case end > start:
			spans = append(spans, span{start: start, end: end, kind: r.Kind})
		default:
			spans = append(spans, span{start: start, end: EndOfDay, kind: r.Kind, crossing: end > 0})
			if end > 0 {
				carry = &span{start: 0, end: end, kind: r.Kind, crossing: true}
			}
		}
	}

	slices.SortFunc(spans, func(a, b span) int { return int(a.start - b.start) })
	for i := 1; i < len(spans); i++ {
		if spans[i].start < spans[i-1].end {
			return DaySchedule{}, newParseError(date, ErrOverlap, "%s-%s overlaps %s-%s",
				spans[i-1].start, spans[i-1].end, spans[i].start, spans[i].end)
		}
	}

	filled := make([]span, 0, len(spans)*2+1)
	var cursor Clock
	for _, s := range spans {
		if s.start > cursor {
			if raw.Default == "" {
				return DaySchedule{}, newParseError(date, ErrGap, "%s-%s", cursor, s.start)
			}
			filled = append(filled, span{start: cursor, end: s.start, kind: raw.Default})
		}
		filled = append(filled, s)
		cursor = s.end
	}
	if cursor < EndOfDay {
		if raw.Default == "" {
			return DaySchedule{}, newParseError(date, ErrGap, "%s-24:00", cursor)
		}
		filled = append(filled, span{start: cursor, end: EndOfDay, kind: raw.Default})
	}

	var merged []span
	for _, s := range filled {
		if n := len(merged); n > 0 && merged[n-1].kind == s.kind {
			merged[n-1].end = s.end
			merged[n-1].crossing = merged[n-1].crossing || s.crossing
			continue
		}
		merged = append(merged, s)
	}

	ds := DaySchedule{
		Date:      date,
		Default:   raw.Default,
		Signal:    raw.Signal,
		FetchedAt: raw.FetchedAt,
		Intervals: make([]Interval, 0, len(merged)),
	}
	for _, s := range merged {
		ds.Intervals = append(ds.Intervals, Interval{
			Start:  s.start,
			End:    s.end,
			Kind:   s.kind,
			Day:    date,
			Window: windowID(date, s.start, s.kind),
			Split:  s.crossing,
		})
	}
	if carry != nil {
		last := ds.Intervals[len(ds.Intervals)-1]
		ds.Carry = &Interval{
			Start:  0,
			End:    carry.end,
			Kind:   carry.kind,
			Day:    date.AddDays(1),
			Window: last.Window,
			Split:  true,
		}
	}
	return ds, nil
}

func eventRanges(events []RawEvent, date Date) ([]RawRange, error) {
	if len(events) == 0 {
		return nil, nil
	}
	type event struct {
		at   Clock
		raw  string
		kind Kind
	}
	parsed := make([]event, 0, len(events))
	for i, e := range events {
		at, err := ParseClock(e.At)
		if err != nil {
			return nil, newParseError(date, ErrMalformed, "event %d: %v", i, err)
		}
		if at == EndOfDay {
			return nil, newParseError(date, ErrMalformed, "event %d at 24:00", i)
		}
		parsed = append(parsed, event{at: at, raw: e.At, kind: e.Kind})
	}
	slices.SortStableFunc(parsed, func(a, b event) int { return int(a.at - b.at) })

	out := make([]RawRange, 0, len(parsed))
	for i, e := range parsed {
		end := EndOfDay
		if i+1 < len(parsed) {
			end = parsed[i+1].at
			if end == e.at {
				return nil, newParseError(date, ErrMalformed, "two events at %s", e.raw)
			}
		}
		out = append(out, RawRange{Start: e.at.String(), End: end.String(), Kind: e.kind})
	}
	return out, nil
}
