package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/bher20/hdotariff/internal/auth"
	"github.com/bher20/hdotariff/internal/present"
	"github.com/bher20/hdotariff/internal/storage"
	"github.com/bher20/hdotariff/internal/tariff"
	"github.com/bher20/hdotariff/internal/tracker"
	"github.com/bher20/hdotariff/pkg/providers"
	"github.com/bher20/hdotariff/pkg/providers/distributors"
)

type stubDistributor struct {
	docs    []tariff.RawSchedule
	err     error
	signals []distributors.Signal
}

func (d *stubDistributor) Key() string { return "stub" }
func (d *stubDistributor) Name() string { return "Stub" }
func (d *stubDistributor) Type() providers.ProviderType { return providers.ProviderTypeDistributor }
func (d *stubDistributor) LandingURL() string { return "https://example.org" }

func (d *stubDistributor) FetchSchedules(context.Context, distributors.Meter) ([]tariff.RawSchedule, error) {
	return d.docs, d.err
}

func (d *stubDistributor) ListSignals(_ context.Context, ean string) ([]distributors.Signal, error) {
	return d.signals, d.err
}

func doc(date string) tariff.RawSchedule {
	return tariff.RawSchedule{
		Date:    date,
		Default: tariff.High,
		Ranges: []tariff.RawRange{
			{Start: "00:00", End: "06:00", Kind: tariff.Low},
			{Start: "22:00", End: "24:00", Kind: tariff.Low},
		},
	}
}

type harness struct {
	srv  *httptest.Server
	stub *stubDistributor
	tr   *tracker.Tracker
	loc  *time.Location
}

func newHarness(t *testing.T, docs ...tariff.RawSchedule) *harness {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Prague")
	require.NoError(t, err)

	stub := &stubDistributor{docs: docs}
	distributors.Replace(stub)
	svc, err := tracker.NewService(storage.NewMemory(), loc, []tracker.Meter{{ID: "home", EAN: "1", Distributor: "stub"}})
	require.NoError(t, err)
	tr, err := svc.Get("home")
	require.NoError(t, err)

	s := NewServer(svc, present.English)
	s.now = func() time.Time { return time.Date(2024, 1, 10, 21, 59, 0, 0, loc) }
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &harness{srv: srv, stub: stub, tr: tr, loc: loc}
}

func (h *harness) get(t *testing.T, path string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(h.srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func findEntity(t *testing.T, es []present.Entity, key string) present.Entity {
	t.Helper()
	e, ok := present.Find(es, key)
	require.True(t, ok, key)
	return e
}

func TestStateUnknownWithoutSchedule(t *testing.T) {
	h := newHarness(t)

	var body StateResponse
	resp := h.get(t, "/api/v1/meters/home/state", &body)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "unknown", body.State)
	assert.True(t, body.Degraded)
	assert.Len(t, body.Entities, 11)
	assert.Contains(t, body.Error, "no schedule for date")
}

func TestStateAfterRefresh(t *testing.T) {
	h := newHarness(t, doc("2024-01-10"), doc("2024-01-11"))

	req, err := http.NewRequest(http.MethodPost, h.srv.URL+"/api/v1/meters/home/refresh", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	var refresh RefreshResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&refresh))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, RefreshResponse{Meter: "home", Status: "ok", Fetched: 2, Changed: 2}, refresh)

	var body StateResponse
	resp = h.get(t, "/api/v1/meters/home/state", &body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "high", body.State)
	assert.False(t, body.Degraded)

	active := findEntity(t, body.Entities, present.LowTariffActive)
	assert.Equal(t, false, active.State)
	nextLow := findEntity(t, body.Entities, present.NextLowTariffCountdown)
	assert.Equal(t, float64(60), nextLow.State)
	assert.Equal(t, "In 00:01:00", nextLow.DisplayText)
	nextHigh := findEntity(t, body.Entities, present.NextHighTariffCountdown)
	assert.Equal(t, "Already active", nextHigh.DisplayText)
}

func TestStateAtInstant(t *testing.T) {
	h := newHarness(t, doc("2024-01-10"), doc("2024-01-11"))
	_, err := h.tr.Refresh(context.Background())
	require.NoError(t, err)

	var body StateResponse
	resp := h.get(t, "/api/v1/meters/home/state?at=2024-01-10T22:59:59Z&lang=cs", &body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "low", body.State)

	remaining := findEntity(t, body.Entities, present.LowTariffRemaining)
	assert.Equal(t, float64(21601), remaining.State)
	assert.Equal(t, "Zbývá 06:00:01", remaining.DisplayText)

	resp = h.get(t, "/api/v1/meters/home/state?at=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = h.get(t, "/api/v1/meters/home/state?lang=de", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStateUsesLatestTick(t *testing.T) {
	h := newHarness(t, doc("2024-01-10"))
	_, err := h.tr.Refresh(context.Background())
	require.NoError(t, err)
	_, err = h.tr.Tick(time.Date(2024, 1, 10, 3, 0, 0, 0, h.loc))
	require.NoError(t, err)

	var body StateResponse
	h.get(t, "/api/v1/meters/home/state", &body)
	assert.Equal(t, "low", body.State)
}

func TestUnknownMeter(t *testing.T) {
	h := newHarness(t)
	for _, path := range []string{"/api/v1/meters/nope/state", "/api/v1/meters/nope/schedule"} {
		resp := h.get(t, path, nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
	}
}

func TestRefreshFailure(t *testing.T) {
	h := newHarness(t)
	h.stub.err = errors.New("upstream down")

	resp, err := http.Post(h.srv.URL+"/api/v1/meters/home/refresh", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	var body RefreshResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, "error", body.Status)
	assert.Contains(t, body.Error, "upstream down")
}

func TestScheduleAndMeters(t *testing.T) {
	h := newHarness(t, doc("2024-01-10"), doc("2024-01-11"))
	_, err := h.tr.Refresh(context.Background())
	require.NoError(t, err)

	var sched scheduleResponse
	resp := h.get(t, "/api/v1/meters/home/schedule", &sched)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, sched.Days, 2)
	assert.Equal(t, "2024-01-10", sched.Days[0].Date.String())
	assert.Len(t, sched.Days[0].Intervals, 3)

	var meters metersResponse
	h.get(t, "/api/v1/meters", &meters)
	require.Len(t, meters.Meters, 1)
	assert.Equal(t, "home", meters.Meters[0].Meter.ID)
	assert.Equal(t, []string{"2024-01-10", "2024-01-11"}, meters.Meters[0].Days)
	assert.True(t, meters.Meters[0].Covered)
}

func TestSignals(t *testing.T) {
	h := newHarness(t)
	h.stub.signals = []distributors.Signal{{Name: "a3b4dp01", Days: []distributors.SignalDay{{Weekday: "Středa", Date: "10.01.2024", Times: "00:00-06:00"}}}}

	var body signalsResponse
	resp := h.get(t, "/api/v1/signals?ean=1&distributor=stub", &body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, body.Signals, 1)
	assert.Equal(t, "a3b4dp01", body.Signals[0].Name)

	assert.Equal(t, http.StatusBadRequest, h.get(t, "/api/v1/signals", nil).StatusCode)
	assert.Equal(t, http.StatusNotFound, h.get(t, "/api/v1/signals?ean=1&distributor=nope", nil).StatusCode)

	h.stub.err = providers.ErrNotImplemented
	assert.Equal(t, http.StatusNotImplemented, h.get(t, "/api/v1/signals?ean=1&distributor=stub", nil).StatusCode)
}

func TestDistributorsList(t *testing.T) {
	h := newHarness(t)
	var body struct {
		Distributors []DistributorDTO `json:"distributors"`
	}
	h.get(t, "/api/v1/distributors", &body)
	var keys []string
	for _, d := range body.Distributors {
		keys = append(keys, d.Key)
	}
	assert.Contains(t, keys, "stub")
}

func TestHealthAndMetrics(t *testing.T) {
	h := newHarness(t)
	for _, path := range []string{"/healthz", "/livez", "/readyz"} {
		assert.Equal(t, http.StatusOK, h.get(t, path, nil).StatusCode, path)
	}

	h.get(t, "/api/v1/meters", nil)
	resp, err := http.Get(h.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	buf := new(strings.Builder)
	_, err = io.Copy(buf, resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `hdotariff_requests_total{path="GET /api/v1/meters"}`)
}

func TestResponsesAreCompressible(t *testing.T) {
	h := newHarness(t)
	resp := h.get(t, "/api/v1/meters", nil)
	assert.Contains(t, resp.Header.Values("Vary"), "Accept-Encoding")
}

func TestRefreshRequiresOperatorToken(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Prague")
	require.NoError(t, err)
	distributors.Replace(&stubDistributor{docs: []tariff.RawSchedule{doc("2024-01-10")}})
	svc, err := tracker.NewService(storage.NewMemory(), loc, []tracker.Meter{{ID: "home", EAN: "1", Distributor: "stub"}})
	require.NoError(t, err)

	hash := func(raw string) string {
		h, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.MinCost)
		require.NoError(t, err)
		return string(h)
	}
	guard, err := auth.NewService([]auth.Token{
		{Name: "dashboard", Role: auth.RoleViewer, Hash: hash("view")},
		{Name: "ops", Role: auth.RoleOperator, Hash: hash("ops")},
	})
	require.NoError(t, err)

	srv := httptest.NewServer(NewServer(svc, present.English).WithAuth(guard).Handler())
	t.Cleanup(srv.Close)

	do := func(method, path, token string) int {
		req, err := http.NewRequest(method, srv.URL+path, nil)
		require.NoError(t, err)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusUnauthorized, do(http.MethodGet, "/api/v1/meters", ""))
	assert.Equal(t, http.StatusOK, do(http.MethodGet, "/api/v1/meters", "view"))
	assert.Equal(t, http.StatusForbidden, do(http.MethodPost, "/api/v1/meters/home/refresh", "view"))
	assert.Equal(t, http.StatusOK, do(http.MethodPost, "/api/v1/meters/home/refresh", "ops"))
	assert.Equal(t, http.StatusOK, do(http.MethodGet, "/healthz", ""))
}
