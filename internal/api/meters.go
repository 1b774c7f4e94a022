package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/bher20/hdotariff/internal/log"
	"github.com/bher20/hdotariff/internal/present"
	"github.com/bher20/hdotariff/internal/tariff"
	"github.com/bher20/hdotariff/internal/tracker"
)

type metersResponse struct {
	Meters []tracker.Status `json:"meters"`
}

// StateResponse is the tariff state of one meter at one instant.
type StateResponse struct {
	Meter    string           `json:"meter"`
	State    string           `json:"state"`
	At       time.Time        `json:"at"`
	Degraded bool             `json:"degraded"`
	Error    string           `json:"error,omitempty"`
	Result   *tariff.Result   `json:"result,omitempty"`
	Entities []present.Entity `json:"entities"`
}

type scheduleResponse struct {
	Meter string               `json:"meter"`
	Days  []tariff.DaySchedule `json:"days"`
}

// RefreshResponse is the response structure for refresh endpoints.
type RefreshResponse struct {
	Meter    string `json:"meter"`
	Status   string `json:"status"`
	Fetched  int    `json:"fetched"`
	Changed  int    `json:"changed"`
	Rejected int    `json:"rejected"`
	Error    string `json:"error,omitempty"`
}

func (s *Server) handleMeters(w http.ResponseWriter, r *http.Request) {
	now := s.now()
	resp := metersResponse{Meters: []tracker.Status{}}
	for _, t := range s.svc.Trackers() {
		resp.Meters = append(resp.Meters, t.Status(now))
	}
	writeJSON(w, r, http.StatusOK, resp)
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*tracker.Tracker, bool) {
	t, err := s.svc.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, r, http.StatusNotFound, err.Error())
		return nil, false
	}
	return t, true
}

// handleState returns the latest tick result, or evaluates the store at the
// instant given by ?at=RFC3339.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	t, ok := s.lookup(w, r)
	if !ok {
		return
	}
	lang := s.lang
	if v := r.URL.Query().Get("lang"); v != "" {
		l, err := present.ParseLanguage(v)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		lang = l
	}

	var (
		res tariff.Result
		err error
		at  = s.now()
	)
	if v := r.URL.Query().Get("at"); v != "" {
		at, err = time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "at must be an RFC3339 timestamp")
			return
		}
		at = at.In(s.svc.Location())
		res, err = tariff.Query(t.Store(), at)
	} else {
		var ticked bool
		res, ticked, err = t.Latest()
		if !ticked {
			res, err = tariff.Query(t.Store(), at)
		}
	}

	id := t.Meter().ID
	if err != nil {
		if !errors.Is(err, tariff.ErrNoScheduleForDate) {
			log.Ctx(r.Context()).ErrorContext(r.Context(), "state: query failed",
				slog.String("meter", id), slog.Any("error", err))
		}
		writeJSON(w, r, http.StatusServiceUnavailable, StateResponse{
			Meter:    id,
			State:    "unknown",
			At:       at.In(s.svc.Location()),
			Degraded: true,
			Error:    err.Error(),
			Entities: present.UnknownEntities(lang),
		})
		return
	}

	writeJSON(w, r, http.StatusOK, StateResponse{
		Meter:    id,
		State:    string(res.Kind),
		At:       res.At,
		Degraded: res.Degraded,
		Result:   &res,
		Entities: present.Entities(res, lang),
	})
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	t, ok := s.lookup(w, r)
	if !ok {
		return
	}
	resp := scheduleResponse{Meter: t.Meter().ID, Days: []tariff.DaySchedule{}}
	for _, d := range t.Store().Days() {
		if ds, ok := t.Store().Get(d); ok {
			resp.Days = append(resp.Days, ds)
		}
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// handleRefresh runs a manual refresh of one meter.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	t, ok := s.lookup(w, r)
	if !ok {
		return
	}
	report, err := t.Refresh(r.Context())
	resp := RefreshResponse{
		Meter:    t.Meter().ID,
		Status:   "ok",
		Fetched:  report.Fetched,
		Changed:  report.Changed,
		Rejected: len(report.ParseErrors),
	}
	if err != nil {
		resp.Status = "error"
		resp.Error = err.Error()
		writeJSON(w, r, http.StatusBadGateway, resp)
		return
	}
	writeJSON(w, r, http.StatusOK, resp)
}
