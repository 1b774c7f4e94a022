package tariff

import (
	"slices"
	"sync"
	"time"
)

// Retention is the number of consecutive days a Store keeps, counted back
// from the newest stored date.
const Retention = 3

// Store holds the rolling window of daily schedules for one meter. It has a
// single writer (the refresh path) and many readers (the tick path).
type Store struct {
	mu   sync.RWMutex
	loc  *time.Location
	days map[Date]DaySchedule
}

// NewStore returns an empty store whose dates are interpreted in loc.
func NewStore(loc *time.Location) *Store {
	if loc == nil {
		loc = time.Local
	}
	return &Store{loc: loc, days: make(map[Date]DaySchedule)}
}

func (s *Store) Location() *time.Location { return s.loc }

// Put inserts or replaces the schedule for ds.Date and evicts days older than
// Retention-1 days before the newest date. It reports whether the stored data
// changed; putting a schedule equal to the stored one is a no-op.
func (s *Store) Put(ds DaySchedule) (bool, error) {
	if err := ds.Validate(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.days[ds.Date]; ok && cur.Equal(ds) {
		return false, nil
	}
	s.days[ds.Date] = ds.clone()
	s.evictLocked()
	_, kept := s.days[ds.Date]
	return kept, nil
}

func (s *Store) evictLocked() {
	var newest Date
	for d := range s.days {
		if newest.Before(d) {
			newest = d
		}
	}
	cutoff := newest.AddDays(-(Retention - 1))
	for d := range s.days {
		if d.Before(cutoff) {
			delete(s.days, d)
		}
	}
}

// Get returns a copy of the schedule stored for d.
func (s *Store) Get(d Date) (DaySchedule, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ds, ok := s.days[d]
	if !ok {
		return DaySchedule{}, false
	}
	return ds.clone(), true
}

// Days returns the stored dates in ascending order.
func (s *Store) Days() []Date {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Date, 0, len(s.days))
	for d := range s.days {
		out = append(out, d)
	}
	slices.SortFunc(out, compareDates)
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.days)
}

// HasCoverage reports whether the date of at is stored and, when the window
// containing at runs up to midnight, whether the next date is stored too.
func (s *Store) HasCoverage(at time.Time) bool {
	at = at.In(s.loc)
	d := DateOf(at)

	s.mu.RLock()
	defer s.mu.RUnlock()
	ds, ok := s.days[d]
	if !ok {
		return false
	}
	iv, ok := ds.IntervalAt(ClockOf(at))
	if !ok {
		return false
	}
	if iv.End < EndOfDay {
		return true
	}
	_, ok = s.days[d.AddDays(1)]
	return ok
}

// Snapshot returns a consistent read-only view of the store. Later puts are
// not visible through it.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	days := make(map[Date]DaySchedule, len(s.days))
	for d, ds := range s.days {
		days[d] = ds
	}
	return Snapshot{loc: s.loc, days: days}
}

// Snapshot is an immutable view of a Store at one point in time.
type Snapshot struct {
	loc  *time.Location
	days map[Date]DaySchedule
}

func (sn Snapshot) day(d Date) (DaySchedule, bool) {
	ds, ok := sn.days[d]
	return ds, ok
}

func compareDates(a, b Date) int {
	switch {
	case a.Before(b):
		return -1
	case b.Before(a):
		return 1
	default:
		return 0
	}
}
