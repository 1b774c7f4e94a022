// Package tariff models two-rate (low/high) distribution schedules and
// answers time-window queries against them.
package tariff

import (
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Kind is a tariff class. Exactly one kind is active at any instant.
type Kind string

const (
	Low  Kind = "low"
	High Kind = "high"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	return k == Low || k == High
}

// Opposite returns the other kind.
func (k Kind) Opposite() Kind {
	if k == Low {
		return High
	}
	return Low
}

// Date is a calendar day in the distributor's time zone.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

const dateLayout = "2006-01-02"

// DateOf returns the calendar date of t in t's location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return DateOf(t), nil
}

// AddDays returns the date n days after d (n may be negative).
func (d Date) AddDays(n int) Date {
	return DateOf(time.Date(d.Year, d.Month, d.Day+n, 12, 0, 0, 0, time.UTC))
}

func (d Date) Before(o Date) bool {
	if d.Year != o.Year {
		return d.Year < o.Year
	}
	if d.Month != o.Month {
		return d.Month < o.Month
	}
	return d.Day < o.Day
}

func (d Date) IsZero() bool { return d == Date{} }

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// At returns the instant at wall clock c on d in loc. EndOfDay maps to the
// following midnight. A wall clock repeated when clocks go back resolves to
// its first occurrence; one skipped when they go forward moves past the gap.
func (d Date) At(c Clock, loc *time.Location) time.Time {
	t := time.Date(d.Year, d.Month, d.Day, 0, 0, int(c), 0, loc)
	_, off := t.Zone()
	_, before := t.Add(-3 * time.Hour).Zone()
	if before > off {
		first := t.Add(-time.Duration(before-off) * time.Second)
		if DateOf(first) == DateOf(t) && ClockOf(first) == ClockOf(t) {
			return first
		}
	}
	return t
}

func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Date) UnmarshalText(b []byte) error {
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Clock is a time of day in seconds since midnight. EndOfDay (24:00) is only
// valid as the end of an interval.
type Clock int

const EndOfDay Clock = 24 * 60 * 60

// ClockOf returns the wall clock time of t.
func ClockOf(t time.Time) Clock {
	h, m, s := t.Clock()
	return Clock(h*3600 + m*60 + s)
}

// ParseClock parses HH:MM or HH:MM:SS with two digits per field. "24:00" is
// accepted and yields EndOfDay.
func ParseClock(s string) (Clock, error) {
	if (len(s) != 5 && len(s) != 8) || s[2] != ':' || (len(s) == 8 && s[5] != ':') {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	fields := make([]int, 0, 3)
	for i := 0; i < len(s); i += 3 {
		n, ok := twoDigits(s[i : i+2])
		if !ok {
			return 0, fmt.Errorf("invalid time of day %q", s)
		}
		fields = append(fields, n)
	}
	h, m, sec := fields[0], fields[1], 0
	if len(fields) == 3 {
		sec = fields[2]
	}
	if m > 59 || sec > 59 || h > 24 {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	c := Clock(h*3600 + m*60 + sec)
	if c > EndOfDay {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	return c, nil
}

func twoDigits(s string) (int, bool) {
	if len(s) != 2 || s[0] < '0' || s[0] > '9' || s[1] < '0' || s[1] > '9' {
		return 0, false
	}
	return int(s[0]-'0')*10 + int(s[1]-'0'), true
}

func (c Clock) String() string {
	h, m, s := int(c)/3600, int(c)%3600/60, int(c)%60
	if s != 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", h, m)
}

func (c Clock) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Clock) UnmarshalText(b []byte) error {
	parsed, err := ParseClock(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Interval is a half-open span [Start, End) of one kind on Day. The two halves
// of a range crossing midnight have Split set and share the same Window id.
type Interval struct {
	Start  Clock  `json:"start"`
	End    Clock  `json:"end"`
	Kind   Kind   `json:"kind"`
	Day    Date   `json:"day"`
	Window string `json:"window"`
	Split  bool   `json:"split,omitempty"`
}

func (iv Interval) Contains(c Clock) bool {
	return c >= iv.Start && c < iv.End
}

// Duration is the nominal wall clock length, ignoring DST shifts.
func (iv Interval) Duration() time.Duration {
	return time.Duration(iv.End-iv.Start) * time.Second
}

// DaySchedule is the validated schedule of one calendar day. Intervals are
// sorted, disjoint, alternate in kind and cover [00:00, 24:00) exactly.
// Carry holds the next-day half of a range that crosses midnight.
type DaySchedule struct {
	Date      Date       `json:"date"`
	Default   Kind       `json:"default,omitempty"`
	Intervals []Interval `json:"intervals"`
	Carry     *Interval  `json:"carry,omitempty"`
	Signal    string     `json:"signal,omitempty"`
	FetchedAt time.Time  `json:"fetched_at"`
}

// IntervalAt returns the interval containing wall clock c.
func (ds DaySchedule) IntervalAt(c Clock) (Interval, bool) {
	i, found := slices.BinarySearchFunc(ds.Intervals, c, func(iv Interval, c Clock) int {
		switch {
		case iv.End <= c:
			return -1
		case iv.Start > c:
			return 1
		default:
			return 0
		}
	})
	if !found {
		return Interval{}, false
	}
	return ds.Intervals[i], true
}

// KindAt returns the kind active at wall clock c.
func (ds DaySchedule) KindAt(c Clock) Kind {
	if iv, ok := ds.IntervalAt(c); ok {
		return iv.Kind
	}
	return ds.Default
}

// Of returns the intervals of kind k in order.
func (ds DaySchedule) Of(k Kind) []Interval {
	var out []Interval
	for _, iv := range ds.Intervals {
		if iv.Kind == k {
			out = append(out, iv)
		}
	}
	return out
}

// Equal compares two schedules ignoring FetchedAt.
func (ds DaySchedule) Equal(o DaySchedule) bool {
	if ds.Date != o.Date || ds.Default != o.Default || ds.Signal != o.Signal {
		return false
	}
	if !slices.Equal(ds.Intervals, o.Intervals) {
		return false
	}
	switch {
	case ds.Carry == nil && o.Carry == nil:
		return true
	case ds.Carry == nil || o.Carry == nil:
		return false
	default:
		return *ds.Carry == *o.Carry
	}
}

// Validate checks the coverage invariants of a schedule. Schedules built by
// Parse always pass; it guards schedules loaded from persistence.
func (ds DaySchedule) Validate() error {
	if ds.Date.IsZero() {
		return newParseError(ds.Date, ErrMalformed, "missing date")
	}
	if len(ds.Intervals) == 0 {
		return newParseError(ds.Date, ErrGap, "no intervals")
	}
	var cursor Clock
	for i, iv := range ds.Intervals {
		if !iv.Kind.Valid() {
			return newParseError(ds.Date, ErrMalformed, "interval %d: unknown kind %q", i, iv.Kind)
		}
		if iv.Start >= iv.End {
			return newParseError(ds.Date, ErrMalformed, "interval %d: start %s not before end %s", i, iv.Start, iv.End)
		}
		if iv.Start < cursor {
			return newParseError(ds.Date, ErrOverlap, "interval %d starts at %s before %s", i, iv.Start, cursor)
		}
		if iv.Start > cursor {
			return newParseError(ds.Date, ErrGap, "uncovered %s-%s", cursor, iv.Start)
		}
		cursor = iv.End
	}
	if cursor != EndOfDay {
		return newParseError(ds.Date, ErrGap, "uncovered %s-24:00", cursor)
	}
	if c := ds.Carry; c != nil {
		if !c.Kind.Valid() || c.Start != 0 || c.End <= 0 || c.End >= EndOfDay {
			return newParseError(ds.Date, ErrMalformed, "invalid carry interval %s-%s", c.Start, c.End)
		}
	}
	return nil
}

func (ds DaySchedule) clone() DaySchedule {
	out := ds
	out.Intervals = slices.Clone(ds.Intervals)
	if ds.Carry != nil {
		c := *ds.Carry
		out.Carry = &c
	}
	return out
}

var windowNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("hdotariff:window"))

// windowID is stable for a given day, start and kind so that re-parsing the
// same document yields equal schedules.
func windowID(d Date, start Clock, k Kind) string {
	return uuid.NewSHA1(windowNamespace, []byte(fmt.Sprintf("%s|%s|%s", d, start, k))).String()
}
