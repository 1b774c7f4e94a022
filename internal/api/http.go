package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bher20/hdotariff/internal/auth"
	"github.com/bher20/hdotariff/internal/log"
	"github.com/bher20/hdotariff/internal/metrics"
	"github.com/bher20/hdotariff/internal/present"
	"github.com/bher20/hdotariff/internal/storage"
	"github.com/bher20/hdotariff/internal/tracker"
)

// Server serves the tracked meters to pollers.
type Server struct {
	svc  *tracker.Service
	st   storage.Storage
	lang present.Language
	auth *auth.Service
	now  func() time.Time
}

func NewServer(svc *tracker.Service, lang present.Language) *Server {
	return &Server{
		svc:  svc,
		st:   svc.Storage(),
		lang: lang,
		now:  time.Now,
	}
}

// WithAuth protects the API routes with token roles.
func (s *Server) WithAuth(a *auth.Service) *Server {
	s.auth = a
	return s
}

// NewMux constructs the HTTP mux, wiring in the meter API, metrics, and health endpoints.
func (s *Server) NewMux() *http.ServeMux {
	mux := http.NewServeMux()

	// Metrics endpoint.
	mux.Handle("/metrics", promhttp.Handler())

	// Health / readiness / liveness.
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/livez", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("live"))
	})
	mux.HandleFunc("/readyz", s.handleReady)

	read := func(obj string, h http.HandlerFunc) http.HandlerFunc {
		return s.auth.RequirePermission(obj, auth.ActRead, h)
	}
	s.route(mux, "GET /api/v1/meters", read(auth.ObjMeters, s.handleMeters))
	s.route(mux, "GET /api/v1/meters/{id}/state", read(auth.ObjMeters, s.handleState))
	s.route(mux, "GET /api/v1/meters/{id}/schedule", read(auth.ObjMeters, s.handleSchedule))
	s.route(mux, "POST /api/v1/meters/{id}/refresh", s.auth.RequirePermission(auth.ObjMeters, auth.ActRefresh, s.handleRefresh))
	s.route(mux, "GET /api/v1/signals", read(auth.ObjDistributors, s.handleSignals))
	s.route(mux, "GET /api/v1/distributors", read(auth.ObjDistributors, s.handleDistributors))

	return mux
}

// Handler is the mux wrapped with response compression.
func (s *Server) Handler() http.Handler {
	return gziphandler.GzipHandler(s.auth.Middleware(s.NewMux()))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.st != nil {
		if err := s.st.Ping(r.Context()); err != nil {
			log.Ctx(r.Context()).WarnContext(r.Context(), "readyz: db ping failed", slog.Any("error", err))
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// route registers h under pattern and records request metrics labelled with
// the pattern, so path parameters do not explode label cardinality.
func (s *Server) route(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		defer func() {
			metrics.RequestDurationSeconds.WithLabelValues(pattern).Observe(time.Since(start).Seconds())
			if rec.status >= 400 {
				metrics.RequestErrorsTotal.WithLabelValues(pattern, strconv.Itoa(rec.status)).Inc()
			}
		}()
		metrics.RequestsTotal.WithLabelValues(pattern).Inc()
		h(rec, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Ctx(r.Context()).ErrorContext(r.Context(), "encode response failed", slog.Any("error", err))
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, r, status, errorResponse{Error: msg})
}
