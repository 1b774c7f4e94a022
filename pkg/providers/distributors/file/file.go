// Package file serves schedules from a local JSON document. It accepts either
// an array of raw schedules or a saved ČEZ switching-times response.
package file

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/bher20/hdotariff/internal/tariff"
	"github.com/bher20/hdotariff/pkg/providers"
	"github.com/bher20/hdotariff/pkg/providers/distributors"
	"github.com/bher20/hdotariff/pkg/providers/distributors/cez"
)

func init() {
	distributors.Register(&Provider{})
}

type Provider struct{}

func (p *Provider) Key() string {
	return "file"
}

func (p *Provider) Name() string {
	return "Local schedule file"
}

func (p *Provider) Type() providers.ProviderType {
	return providers.ProviderTypeFile
}

func (p *Provider) LandingURL() string {
	return ""
}

func (p *Provider) FetchSchedules(ctx context.Context, m distributors.Meter) ([]tariff.RawSchedule, error) {
	if m.File == "" {
		return nil, fmt.Errorf("file: no path configured for meter")
	}
	data, err := os.ReadFile(m.File)
	if err != nil {
		return nil, fmt.Errorf("file: read %s: %w", m.File, err)
	}
	info, err := os.Stat(m.File)
	if err != nil {
		return nil, err
	}

	var out []tariff.RawSchedule
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &out); err != nil {
			return nil, fmt.Errorf("%w: %v", providers.ErrParseFailed, err)
		}
	} else if out, err = cez.Decode(data, m.Signal); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, providers.ErrNoData
	}
	for i := range out {
		if out[i].FetchedAt.IsZero() {
			out[i].FetchedAt = info.ModTime().Truncate(time.Second)
		}
	}
	return out, nil
}

func (p *Provider) ListSignals(ctx context.Context, ean string) ([]distributors.Signal, error) {
	return nil, providers.ErrNotImplemented
}
