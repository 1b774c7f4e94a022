package tariff

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

var ErrNoScheduleForDate = errors.New("no schedule for date")

// QueryError reports that a query could not be answered from stored data.
type QueryError struct {
	Date Date
	Err  error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query %s: %v", e.Date, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// Window is a maximal span during which one kind is continuously active. It
// may cover parts of several days.
type Window struct {
	Kind      Kind      `json:"kind"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	ID        string    `json:"id"`
	Estimated bool      `json:"estimated,omitempty"`
}

// Countdown is a floored, non-negative number of seconds until At. When Known
// is false the target lies beyond the stored horizon. For next-start
// countdowns Window is the window that starts at At.
type Countdown struct {
	Seconds  int64     `json:"seconds"`
	At       time.Time `json:"at,omitempty"`
	Known    bool      `json:"known"`
	Degraded bool      `json:"degraded,omitempty"`
	Window   *Window   `json:"window,omitempty"`
}

// Result is the state of the tariff at one instant.
type Result struct {
	At        time.Time `json:"at"`
	Date      Date      `json:"date"`
	Kind      Kind      `json:"kind"`
	Window    Window    `json:"window"`
	Remaining Countdown `json:"remaining"`
	NextLow   Countdown `json:"next_low"`
	NextHigh  Countdown `json:"next_high"`
	Degraded  bool      `json:"degraded"`
}

func (r Result) LowActive() bool { return r.Kind == Low }

// Next returns the countdown to the next start of kind k.
func (r Result) Next(k Kind) Countdown {
	if k == Low {
		return r.NextLow
	}
	return r.NextHigh
}

// Query evaluates the tariff state at instant against a snapshot of store.
func Query(store *Store, at time.Time) (Result, error) {
	return store.Snapshot().Evaluate(at)
}

type segment struct {
	start, end time.Time
	kind       Kind
	id         string
	estimated  bool
}

// Evaluate computes the tariff state at instant. The timeline covers the
// previous, current and next day when stored. Without the next day the
// current day's carry is used as an estimate and the result is degraded.
func (sn Snapshot) Evaluate(at time.Time) (Result, error) {
	at = at.In(sn.loc)
	date := DateOf(at)
	cur, ok := sn.day(date)
	if !ok {
		return Result{}, &QueryError{Date: date, Err: ErrNoScheduleForDate}
	}

	var segs []segment
	if prev, ok := sn.day(date.AddDays(-1)); ok {
		segs = sn.appendIntervals(segs, prev.Intervals, false)
	}
	segs = sn.appendIntervals(segs, cur.Intervals, false)
	if next, ok := sn.day(date.AddDays(1)); ok {
		segs = sn.appendIntervals(segs, next.Intervals, false)
	} else if cur.Carry != nil {
		segs = sn.appendIntervals(segs, []Interval{*cur.Carry}, true)
	}

	windows := mergeSegments(segs)
	if len(windows) == 0 {
		return Result{}, &QueryError{Date: date, Err: ErrNoScheduleForDate}
	}
	horizon := windows[len(windows)-1].End

	i := sort.Search(len(windows), func(i int) bool { return windows[i].End.After(at) })
	if i == len(windows) || windows[i].Start.After(at) {
		// Only reachable if the stored schedule does not cover its own day.
		return Result{}, &QueryError{Date: date, Err: ErrNoScheduleForDate}
	}
	w := windows[i]

	res := Result{
		At:     at,
		Date:   date,
		Kind:   w.Kind,
		Window: w,
		Remaining: Countdown{
			Seconds:  seconds(w.End.Sub(at)),
			At:       w.End,
			Known:    true,
			Degraded: w.Estimated || !w.End.Before(horizon),
		},
	}
	res.NextLow = nextStart(windows[i+1:], Low, at)
	res.NextHigh = nextStart(windows[i+1:], High, at)
	res.Degraded = res.Remaining.Degraded || res.NextLow.Degraded || res.NextHigh.Degraded
	return res, nil
}

// appendIntervals converts wall clock intervals to absolute segments. On DST
// days boundaries may collapse or fold; they are clamped to stay ordered and
// zero-length segments are dropped. A boundary inside the repeated hour takes
// effect at its first occurrence (see Date.At).
func (sn Snapshot) appendIntervals(segs []segment, ivs []Interval, estimated bool) []segment {
	for _, iv := range ivs {
		start := iv.Day.At(iv.Start, sn.loc)
		end := iv.Day.At(iv.End, sn.loc)
		if n := len(segs); n > 0 && start.Before(segs[n-1].end) {
			start = segs[n-1].end
		}
		if !end.After(start) {
			continue
		}
		segs = append(segs, segment{start: start, end: end, kind: iv.Kind, id: iv.Window, estimated: estimated})
	}
	return segs
}

func mergeSegments(segs []segment) []Window {
	windows := make([]Window, 0, len(segs))
	for _, s := range segs {
		if n := len(windows); n > 0 && windows[n-1].Kind == s.kind && windows[n-1].End.Equal(s.start) {
			windows[n-1].End = s.end
			windows[n-1].Estimated = windows[n-1].Estimated || s.estimated
			continue
		}
		windows = append(windows, Window{Kind: s.kind, Start: s.start, End: s.end, ID: s.id, Estimated: s.estimated})
	}
	return windows
}

func nextStart(windows []Window, k Kind, at time.Time) Countdown {
	for _, w := range windows {
		if w.Kind == k {
			return Countdown{Seconds: seconds(w.Start.Sub(at)), At: w.Start, Known: true, Degraded: w.Estimated, Window: &w}
		}
	}
	return Countdown{Degraded: true}
}

func seconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64(d / time.Second)
}
