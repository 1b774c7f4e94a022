package distributors

import (
	"context"

	"github.com/bher20/hdotariff/internal/tariff"
	"github.com/bher20/hdotariff/pkg/providers"
)

// Meter selects which schedule a distributor returns.
type Meter struct {
	// EAN is the supply point identifier printed on the electricity bill.
	EAN string
	// Signal picks one HDO signal when the supply point has several.
	Signal string
	// File is a local document path; distributors that fetch over the
	// network use it as a fallback cache.
	File string
}

// SignalDay is one published day of a signal.
type SignalDay struct {
	Weekday string `json:"weekday"`
	Date    string `json:"date"`
	Times   string `json:"times"`
}

// Signal is an HDO control signal and its published days.
type Signal struct {
	Name string      `json:"signal"`
	Days []SignalDay `json:"days"`
}

// Distributor is the interface that all schedule distributors must implement.
type Distributor interface {
	providers.Provider

	// FetchSchedules returns the raw daily schedules currently published
	// for the meter, usually today and the following days.
	FetchSchedules(ctx context.Context, m Meter) ([]tariff.RawSchedule, error)

	// ListSignals returns the signals available for a supply point.
	ListSignals(ctx context.Context, ean string) ([]Signal, error)
}
