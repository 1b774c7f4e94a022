package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bher20/hdotariff/internal/log"
	"github.com/bher20/hdotariff/internal/storage"
	"github.com/bher20/hdotariff/pkg/providers"
	"github.com/bher20/hdotariff/pkg/providers/distributors"
)

var ErrUnknownMeter = errors.New("unknown meter")

// Service holds the trackers of all configured meters.
type Service struct {
	loc      *time.Location
	st       storage.Storage
	order    []string
	trackers map[string]*Tracker

	// Now is the clock used by the tick loop.
	Now func() time.Time
}

// NewService resolves each meter's distributor and creates its store. st may
// be nil, in which case nothing is persisted.
func NewService(st storage.Storage, loc *time.Location, meters []Meter) (*Service, error) {
	if loc == nil {
		loc = time.Local
	}
	s := &Service{
		loc:      loc,
		st:       st,
		trackers: make(map[string]*Tracker, len(meters)),
		Now:      time.Now,
	}
	for _, m := range meters {
		if _, dup := s.trackers[m.ID]; dup {
			return nil, fmt.Errorf("duplicate meter %q", m.ID)
		}
		d, ok := distributors.Get(m.Distributor)
		if !ok {
			return nil, fmt.Errorf("meter %s: distributor %q: %w", m.ID, m.Distributor, providers.ErrProviderNotFound)
		}
		s.trackers[m.ID] = newTracker(m, d, st, loc)
		s.order = append(s.order, m.ID)
	}
	return s, nil
}

func (s *Service) Location() *time.Location { return s.loc }

func (s *Service) Storage() storage.Storage { return s.st }

// Get returns the tracker of a meter.
func (s *Service) Get(id string) (*Tracker, error) {
	t, ok := s.trackers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMeter, id)
	}
	return t, nil
}

// Trackers returns the trackers in configuration order.
func (s *Service) Trackers() []*Tracker {
	out := make([]*Tracker, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.trackers[id])
	}
	return out
}

// Register records the meter configuration in storage.
func (s *Service) Register(ctx context.Context) error {
	if s.st == nil {
		return nil
	}
	for _, t := range s.Trackers() {
		m := t.Meter()
		err := s.st.UpsertMeter(ctx, storage.Meter{
			ID:          m.ID,
			EAN:         m.EAN,
			Signal:      m.Signal,
			Distributor: m.Distributor,
		})
		if err != nil {
			return fmt.Errorf("register meter %s: %w", m.ID, err)
		}
	}
	return nil
}

// Restore loads persisted schedules for every meter.
func (s *Service) Restore(ctx context.Context) error {
	var errs []error
	for _, t := range s.Trackers() {
		n, err := t.Restore(ctx)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		log.Ctx(ctx).InfoContext(ctx, "tracker: restored schedules",
			slog.String("meter", t.Meter().ID), slog.Int("days", n))
	}
	return errors.Join(errs...)
}

// RefreshAll refreshes every meter once and joins the failures.
func (s *Service) RefreshAll(ctx context.Context) error {
	var errs []error
	for _, t := range s.Trackers() {
		if _, err := t.Refresh(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter %s: %w", t.Meter().ID, err))
		}
	}
	return errors.Join(errs...)
}

// TickAll evaluates every meter at now.
func (s *Service) TickAll(now time.Time) {
	for _, t := range s.Trackers() {
		_, _ = t.Tick(now)
	}
}

// RunTicks evaluates all meters every interval until ctx is done. The first
// tick happens immediately.
func (s *Service) RunTicks(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.TickAll(s.Now())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.TickAll(s.Now())
		}
	}
}
