package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/bher20/hdotariff/internal/log"
)

// AlertConfig holds alerting configuration.
type AlertConfig struct {
	// WebhookURL is a generic webhook endpoint (Slack, Discord, or custom)
	WebhookURL string
	// WebhookType determines the payload format: "slack", "discord", or "generic"
	WebhookType string
	// MinFailuresBeforeAlert is the number of consecutive refresh failures
	// of one meter before an alert goes out.
	MinFailuresBeforeAlert int
	// Timeout for HTTP requests
	Timeout time.Duration

	SendgridAPIKey string
	EmailFrom      string
	EmailTo        string
}

// DefaultAlertConfig returns config from environment variables.
func DefaultAlertConfig() AlertConfig {
	cfg := AlertConfig{
		WebhookURL:             os.Getenv("ALERT_WEBHOOK_URL"),
		WebhookType:            os.Getenv("ALERT_WEBHOOK_TYPE"),
		MinFailuresBeforeAlert: 1,
		Timeout:                10 * time.Second,
		SendgridAPIKey:         os.Getenv("ALERT_SENDGRID_API_KEY"),
		EmailFrom:              os.Getenv("ALERT_EMAIL_FROM"),
		EmailTo:                os.Getenv("ALERT_EMAIL_TO"),
	}

	if cfg.WebhookType == "" {
		cfg.WebhookType = detectWebhookType(cfg.WebhookURL)
	}
	if cfg.EmailFrom == "" {
		cfg.EmailFrom = "hdotariff@localhost"
	}

	if v := os.Getenv("ALERT_MIN_FAILURES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MinFailuresBeforeAlert = n
		}
	}

	return cfg
}

func detectWebhookType(url string) string {
	switch {
	case strings.Contains(url, "slack.com"):
		return "slack"
	case strings.Contains(url, "discord.com"):
		return "discord"
	default:
		return "generic"
	}
}

// Enabled reports whether at least one sink is configured.
func (c AlertConfig) Enabled() bool {
	return c.WebhookURL != "" || c.emailEnabled()
}

func (c AlertConfig) emailEnabled() bool {
	return c.SendgridAPIKey != "" && c.EmailTo != ""
}

// Mailer delivers a plain text e-mail.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

type sendgridMailer struct {
	apiKey string
	from   string
}

func (m sendgridMailer) Send(ctx context.Context, to, subject, body string) error {
	from := mail.NewEmail("hdotariff", m.from)
	message := mail.NewSingleEmail(from, subject, mail.NewEmail("", to), body, body)
	resp, err := sendgrid.NewSendClient(m.apiKey).Send(message)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("sendgrid error: %d %s", resp.StatusCode, resp.Body)
	}
	return nil
}

// Alerter sends alerts to the configured webhook and mailbox.
type Alerter struct {
	cfg    AlertConfig
	client *http.Client
	mailer Mailer
}

// NewAlerter creates a new alerter instance.
func NewAlerter(cfg AlertConfig) *Alerter {
	a := &Alerter{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
	if cfg.emailEnabled() {
		a.mailer = sendgridMailer{apiKey: cfg.SendgridAPIKey, from: cfg.EmailFrom}
	}
	return a
}

// WithMailer replaces the e-mail transport.
func (a *Alerter) WithMailer(m Mailer) *Alerter {
	a.mailer = m
	return a
}

// RefreshAlert describes a failed schedule refresh of one meter.
type RefreshAlert struct {
	Meter               string
	Distributor         string
	Error               string
	Attempts            int
	ConsecutiveFailures int
	// DaysLeft is how many stored days the meter can still be answered from.
	DaysLeft  int
	Duration  time.Duration
	Timestamp time.Time
}

func (r RefreshAlert) title() string {
	return fmt.Sprintf("HDO refresh failed: %s", r.Meter)
}

func (r RefreshAlert) summary() string {
	return fmt.Sprintf("Meter %s (%s) failed %d time(s) in a row after %d attempt(s): %s. Stored days left: %d.",
		r.Meter, r.Distributor, r.ConsecutiveFailures, r.Attempts, r.Error, r.DaysLeft)
}

// SendRefreshAlert notifies every configured sink. Errors from the sinks are
// joined.
func (a *Alerter) SendRefreshAlert(ctx context.Context, alert RefreshAlert) error {
	logger := log.Ctx(ctx)
	if !a.cfg.Enabled() {
		logger.DebugContext(ctx, "alerting: alerts disabled, skipping")
		return nil
	}

	if alert.ConsecutiveFailures < a.cfg.MinFailuresBeforeAlert {
		logger.InfoContext(ctx, "alerting: failures below threshold, skipping",
			slog.String("meter", alert.Meter),
			slog.Int("failures", alert.ConsecutiveFailures),
			slog.Int("threshold", a.cfg.MinFailuresBeforeAlert))
		return nil
	}
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now()
	}

	var errs []error
	if a.cfg.WebhookURL != "" {
		if err := a.sendWebhook(ctx, alert); err != nil {
			errs = append(errs, fmt.Errorf("webhook: %w", err))
		}
	}
	if a.mailer != nil && a.cfg.EmailTo != "" {
		if err := a.mailer.Send(ctx, a.cfg.EmailTo, alert.title(), alert.summary()); err != nil {
			errs = append(errs, fmt.Errorf("email: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	logger.InfoContext(ctx, "alerting: sent refresh alert", slog.String("meter", alert.Meter))
	return nil
}

func (a *Alerter) sendWebhook(ctx context.Context, alert RefreshAlert) error {
	var payload []byte
	var err error

	switch a.cfg.WebhookType {
	case "slack":
		payload, err = a.buildSlackPayload(alert)
	case "discord":
		payload, err = a.buildDiscordPayload(alert)
	default:
		payload, err = a.buildGenericPayload(alert)
	}

	if err != nil {
		return fmt.Errorf("build payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func (a *Alerter) buildSlackPayload(alert RefreshAlert) ([]byte, error) {
	emoji := ":warning:"
	if alert.DaysLeft == 0 {
		emoji = ":x:"
	}

	payload := map[string]interface{}{
		"blocks": []map[string]interface{}{
			{
				"type": "header",
				"text": map[string]string{
					"type": "plain_text",
					"text": fmt.Sprintf("%s %s", emoji, alert.title()),
				},
			},
			{
				"type": "section",
				"fields": []map[string]string{
					{"type": "mrkdwn", "text": fmt.Sprintf("*Distributor:*\n%s", alert.Distributor)},
					{"type": "mrkdwn", "text": fmt.Sprintf("*Failures in a row:*\n%d", alert.ConsecutiveFailures)},
					{"type": "mrkdwn", "text": fmt.Sprintf("*Stored days left:*\n%d", alert.DaysLeft)},
					{"type": "mrkdwn", "text": fmt.Sprintf("*Timestamp:*\n%s", alert.Timestamp.Format(time.RFC3339))},
				},
			},
			{
				"type": "section",
				"text": map[string]string{
					"type": "mrkdwn",
					"text": fmt.Sprintf("*Error:*\n%s", alert.Error),
				},
			},
		},
	}

	return json.Marshal(payload)
}

func (a *Alerter) buildDiscordPayload(alert RefreshAlert) ([]byte, error) {
	color := 16776960 // Yellow
	if alert.DaysLeft == 0 {
		color = 16711680 // Red
	}

	payload := map[string]interface{}{
		"embeds": []map[string]interface{}{
			{
				"title":       alert.title(),
				"description": alert.Error,
				"color":       color,
				"fields": []map[string]interface{}{
					{"name": "Distributor", "value": alert.Distributor, "inline": true},
					{"name": "Failures in a row", "value": strconv.Itoa(alert.ConsecutiveFailures), "inline": true},
					{"name": "Stored days left", "value": strconv.Itoa(alert.DaysLeft), "inline": true},
					{"name": "Duration", "value": alert.Duration.Round(time.Millisecond).String(), "inline": true},
				},
				"timestamp": alert.Timestamp.Format(time.RFC3339),
			},
		},
	}

	return json.Marshal(payload)
}

func (a *Alerter) buildGenericPayload(alert RefreshAlert) ([]byte, error) {
	payload := map[string]interface{}{
		"alert_type":           "schedule_refresh_failure",
		"meter":                alert.Meter,
		"distributor":          alert.Distributor,
		"error":                alert.Error,
		"attempts":             alert.Attempts,
		"consecutive_failures": alert.ConsecutiveFailures,
		"days_left":            alert.DaysLeft,
		"duration_ms":          alert.Duration.Milliseconds(),
		"timestamp":            alert.Timestamp.Format(time.RFC3339),
	}

	return json.Marshal(payload)
}
