package coverage

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/i474232898/coverage-aggregation/internal/correction"
	"github.com/i474232898/coverage-aggregation/internal/geo"
	"github.com/i474232898/coverage-aggregation/internal/infrastructure"
)

var (
	// ErrInvalidQuery is returned for malformed coordinates or filters.
	ErrInvalidQuery = eris.New("invalid coverage query")
	// ErrUnknownProvider is returned when a query names an unconfigured provider.
	ErrUnknownProvider = eris.New("unknown provider")
	// ErrNoProviders is returned when no provider is configured at all.
	ErrNoProviders = eris.New("no coverage providers configured")
)

// Provider abstracts a coverage backend. Implementations never return errors
// or panic past this boundary: failures become a failed outcome.
type Provider interface {
	ID() ProviderID
	CheckCoverage(ctx context.Context, c geo.Coordinates, serviceTypes []ServiceType) ProviderOutcome
}

// FailedOutcome is the outcome of a provider that could not answer.
func FailedOutcome(err error) ProviderOutcome {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return ProviderOutcome{
		Available:  false,
		Confidence: ConfidenceLow,
		Services:   []ServiceCoverage{},
		Error:      msg,
		Metadata:   map[string]any{},
	}
}

// Corrector snaps coordinates to a known address point. It never fails.
type Corrector interface {
	Correct(ctx context.Context, c geo.Coordinates) correction.Result
}

// ProximityLookup finds the nearest fixed-wireless facility.
type ProximityLookup interface {
	Nearest(ctx context.Context, c geo.Coordinates, maxDistance float64) (infrastructure.Match, bool, error)
}

// HistoryStore is the contract the check history (in-memory or persistent) must satisfy.
type HistoryStore interface {
	SaveCheck(c geo.Coordinates, rec CheckRecord)
	GetLatest(c geo.Coordinates) (CheckRecord, error)
	GetRange(c geo.Coordinates, from, to time.Time) ([]CheckRecord, error)
}
