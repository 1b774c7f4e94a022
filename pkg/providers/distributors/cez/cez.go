package cez

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/bher20/hdotariff/internal/log"
	"github.com/bher20/hdotariff/internal/tariff"
	"github.com/bher20/hdotariff/pkg/providers"
	"github.com/bher20/hdotariff/pkg/providers/distributors"
	"github.com/bher20/hdotariff/pkg/providers/shared"
)

// DefaultBaseURL is the public ČEZ Distribuce switching-times endpoint.
const DefaultBaseURL = "https://dip.cezdistribuce.cz/irj/portal/anonymous/casy-spinani?path=switch-times/signals"

const dateLayout = "02.01.2006"

func init() {
	distributors.Register(New(DefaultBaseURL))
}

type Provider struct {
	BaseURL    string
	Client     *http.Client
	RetryDelay time.Duration
	Now        func() time.Time
}

func New(baseURL string) *Provider {
	return &Provider{
		BaseURL:    baseURL,
		Client:     shared.DefaultHTTPClient(),
		RetryDelay: 3 * time.Second,
		Now:        time.Now,
	}
}

func (p *Provider) Key() string {
	return "cez"
}

func (p *Provider) Name() string {
	return "ČEZ Distribuce"
}

func (p *Provider) Type() providers.ProviderType {
	return providers.ProviderTypeDistributor
}

func (p *Provider) LandingURL() string {
	return "https://www.cezdistribuce.cz/cs/pro-zakazniky/spinani-hdo"
}

// Response is the body returned by the switching-times endpoint.
type Response struct {
	Data struct {
		Signals []SignalEntry `json:"signals"`
	} `json:"data"`
}

// SignalEntry is one day of one signal. Times lists the low tariff ranges,
// e.g. "00:00-06:00; 22:00-24:00".
type SignalEntry struct {
	Signal  string `json:"signal"`
	Weekday string `json:"den"`
	Date    string `json:"datum"`
	Times   string `json:"casy"`
}

func (p *Provider) FetchSchedules(ctx context.Context, m distributors.Meter) ([]tariff.RawSchedule, error) {
	logger := log.Ctx(ctx)
	data, fetchErr := p.fetch(ctx, m.EAN)
	if fetchErr == nil {
		out, err := Decode(data, m.Signal)
		if err == nil {
			p.stamp(out)
			if m.File != "" {
				if err := shared.WriteFileAtomically(m.File, bytes.NewReader(data)); err != nil {
					logger.WarnContext(ctx, "cez cache save failed", slog.String("path", m.File), slog.Any("error", err))
				}
			}
			return out, nil
		}
		fetchErr = err
	}

	if m.File == "" {
		return nil, fetchErr
	}
	cached, err := os.ReadFile(m.File)
	if err != nil {
		return nil, fetchErr
	}
	out, err := Decode(cached, m.Signal)
	if err != nil {
		return nil, fmt.Errorf("%w (cache: %v)", fetchErr, err)
	}
	logger.WarnContext(ctx, "cez api failed, using cached response",
		slog.String("path", m.File), slog.Any("error", fetchErr))
	p.stamp(out)
	return out, nil
}

func (p *Provider) stamp(out []tariff.RawSchedule) {
	now := p.now()
	for i := range out {
		out[i].FetchedAt = now
	}
}

func (p *Provider) ListSignals(ctx context.Context, ean string) ([]distributors.Signal, error) {
	data, err := p.fetch(ctx, ean)
	if err != nil {
		return nil, err
	}
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", providers.ErrParseFailed, err)
	}

	var out []distributors.Signal
	index := make(map[string]int)
	for _, e := range resp.Data.Signals {
		name := e.Signal
		if name == "" {
			name = "unknown"
		}
		i, ok := index[name]
		if !ok {
			i = len(out)
			index[name] = i
			out = append(out, distributors.Signal{Name: name})
		}
		out[i].Days = append(out[i].Days, distributors.SignalDay{Weekday: e.Weekday, Date: e.Date, Times: e.Times})
	}
	return out, nil
}

// fetch posts the EAN and returns the raw body. A 502 or a transport error
// is retried once after RetryDelay.
func (p *Provider) fetch(ctx context.Context, ean string) ([]byte, error) {
	if ean == "" {
		return nil, fmt.Errorf("cez: EAN is required")
	}
	payload, err := json.Marshal(map[string]string{"ean": ean})
	if err != nil {
		return nil, err
	}
	delay := p.RetryDelay
	if delay <= 0 {
		delay = time.Millisecond
	}
	client := p.Client
	if client == nil {
		client = shared.DefaultHTTPClient()
	}

	var body []byte
	attempt := 0
	err = retry.Do(ctx, retry.WithMaxRetries(1, retry.NewConstant(delay)), func(ctx context.Context) error {
		attempt++
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json, text/plain, */*")
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "hdotariff/1.0")

		resp, err := client.Do(req)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "cez request failed", slog.Int("attempt", attempt), slog.Any("error", err))
			return retry.RetryableError(fmt.Errorf("cez: post: %w", err))
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusBadGateway:
			log.Ctx(ctx).WarnContext(ctx, "cez returned 502", slog.Int("attempt", attempt))
			return retry.RetryableError(fmt.Errorf("cez: unexpected status %d", resp.StatusCode))
		case resp.StatusCode != http.StatusOK:
			return fmt.Errorf("cez: unexpected status %d", resp.StatusCode)
		}
		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("cez: read body: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (p *Provider) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// Decode turns a switching-times response into one raw schedule per date for
// the chosen signal. An empty signal selects the first one listed. Dates not
// covered by low ranges default to high.
func Decode(data []byte, signal string) ([]tariff.RawSchedule, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", providers.ErrParseFailed, err)
	}
	entries := resp.Data.Signals
	if len(entries) == 0 {
		return nil, providers.ErrNoData
	}
	if signal == "" {
		signal = entries[0].Signal
	}

	byDate := make(map[string]*tariff.RawSchedule)
	for _, e := range entries {
		if e.Signal != signal {
			continue
		}
		d, err := time.Parse(dateLayout, strings.TrimSpace(e.Date))
		if err != nil {
			return nil, fmt.Errorf("%w: datum %q", providers.ErrParseFailed, e.Date)
		}
		key := d.Format("2006-01-02")
		raw, ok := byDate[key]
		if !ok {
			raw = &tariff.RawSchedule{Date: key, Default: tariff.High, Signal: signal}
			byDate[key] = raw
		}
		ranges := shared.ParseTimeRanges(e.Times)
		if len(ranges) != shared.CountTimeRangeSeparators(e.Times) {
			return nil, fmt.Errorf("%w: casy %q", providers.ErrParseFailed, e.Times)
		}
		for _, r := range ranges {
			raw.Ranges = append(raw.Ranges, tariff.RawRange{Start: r[0], End: r[1], Kind: tariff.Low})
		}
	}
	if len(byDate) == 0 {
		return nil, fmt.Errorf("%w: %q", providers.ErrSignalNotFound, signal)
	}

	out := make([]tariff.RawSchedule, 0, len(byDate))
	for _, raw := range byDate {
		out = append(out, *raw)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}
