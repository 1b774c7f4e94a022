package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMailer struct {
	to, subject, body string
	err               error
	calls             int
}

func (f *fakeMailer) Send(_ context.Context, to, subject, body string) error {
	f.calls++
	f.to, f.subject, f.body = to, subject, body
	return f.err
}

func sampleAlert() RefreshAlert {
	return RefreshAlert{
		Meter:               "home",
		Distributor:         "cez",
		Error:               "unexpected status 502",
		Attempts:            2,
		ConsecutiveFailures: 1,
		DaysLeft:            1,
		Duration:            1500 * time.Millisecond,
		Timestamp:           time.Date(2024, 1, 10, 1, 0, 0, 0, time.UTC),
	}
}

func TestDefaultAlertConfigFromEnv(t *testing.T) {
	t.Setenv("ALERT_WEBHOOK_URL", "https://hooks.slack.com/services/x")
	t.Setenv("ALERT_WEBHOOK_TYPE", "")
	t.Setenv("ALERT_MIN_FAILURES", "3")
	t.Setenv("ALERT_SENDGRID_API_KEY", "")
	t.Setenv("ALERT_EMAIL_TO", "")

	cfg := DefaultAlertConfig()
	assert.Equal(t, "slack", cfg.WebhookType)
	assert.Equal(t, 3, cfg.MinFailuresBeforeAlert)
	assert.True(t, cfg.Enabled())
	assert.False(t, cfg.emailEnabled())
}

func TestDetectWebhookType(t *testing.T) {
	assert.Equal(t, "discord", detectWebhookType("https://discord.com/api/webhooks/1"))
	assert.Equal(t, "generic", detectWebhookType("https://example.org/hook"))
}

func TestDisabledAlerterIsNoop(t *testing.T) {
	a := NewAlerter(AlertConfig{})
	assert.NoError(t, a.SendRefreshAlert(context.Background(), sampleAlert()))
}

func TestGenericWebhook(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	a := NewAlerter(AlertConfig{WebhookURL: srv.URL, WebhookType: "generic", MinFailuresBeforeAlert: 1, Timeout: time.Second})
	require.NoError(t, a.SendRefreshAlert(context.Background(), sampleAlert()))

	assert.Equal(t, "schedule_refresh_failure", got["alert_type"])
	assert.Equal(t, "home", got["meter"])
	assert.EqualValues(t, 1500, got["duration_ms"])
}

func TestThresholdSuppressesAlert(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	a := NewAlerter(AlertConfig{WebhookURL: srv.URL, MinFailuresBeforeAlert: 2, Timeout: time.Second})
	require.NoError(t, a.SendRefreshAlert(context.Background(), sampleAlert()))
	assert.Equal(t, int32(0), calls.Load())

	alert := sampleAlert()
	alert.ConsecutiveFailures = 2
	require.NoError(t, a.SendRefreshAlert(context.Background(), alert))
	assert.Equal(t, int32(1), calls.Load())
}

func TestWebhookErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	a := NewAlerter(AlertConfig{WebhookURL: srv.URL, MinFailuresBeforeAlert: 1, Timeout: time.Second})
	err := a.SendRefreshAlert(context.Background(), sampleAlert())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestEmailSink(t *testing.T) {
	m := &fakeMailer{}
	a := NewAlerter(AlertConfig{EmailTo: "ops@example.org", SendgridAPIKey: "key", MinFailuresBeforeAlert: 1}).WithMailer(m)
	require.NoError(t, a.SendRefreshAlert(context.Background(), sampleAlert()))

	assert.Equal(t, 1, m.calls)
	assert.Equal(t, "ops@example.org", m.to)
	assert.Equal(t, "HDO refresh failed: home", m.subject)
	assert.Contains(t, m.body, "unexpected status 502")

	m.err = errors.New("quota")
	err := a.SendRefreshAlert(context.Background(), sampleAlert())
	assert.ErrorContains(t, err, "email: quota")
}

func TestPayloadShapes(t *testing.T) {
	a := NewAlerter(AlertConfig{})
	alert := sampleAlert()
	alert.DaysLeft = 0

	slack, err := a.buildSlackPayload(alert)
	require.NoError(t, err)
	assert.Contains(t, string(slack), ":x:")

	discord, err := a.buildDiscordPayload(alert)
	require.NoError(t, err)
	var d struct {
		Embeds []struct {
			Color int `json:"color"`
		} `json:"embeds"`
	}
	require.NoError(t, json.Unmarshal(discord, &d))
	require.Len(t, d.Embeds, 1)
	assert.Equal(t, 16711680, d.Embeds[0].Color)
}
