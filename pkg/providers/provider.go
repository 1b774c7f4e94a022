package providers

import "errors"

// ProviderType represents the kind of data a provider publishes.
type ProviderType string

const (
	ProviderTypeDistributor ProviderType = "distributor"
	ProviderTypeFile        ProviderType = "file"
)

// Provider is the base interface for all schedule providers.
type Provider interface {
	// Key returns the unique identifier for the provider (e.g., "cez", "file").
	Key() string
	// Name returns the human-readable name of the provider.
	Name() string
	// Type returns the type of the provider.
	Type() ProviderType
	// LandingURL returns the URL of the provider's public switching-times page.
	LandingURL() string
}

// Common errors shared across providers.
var (
	ErrProviderNotFound = errors.New("provider not found")
	ErrParseFailed      = errors.New("failed to parse schedule document")
	ErrSignalNotFound   = errors.New("signal not found")
	ErrNoData           = errors.New("provider returned no schedules")
	ErrNotImplemented   = errors.New("not implemented")
)
