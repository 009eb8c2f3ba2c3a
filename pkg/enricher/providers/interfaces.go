// Package providers defines the enrichment provider contract and the
// registry the orchestrator resolves providers from.
package providers

import (
	"context"
	"log/slog"

	"github.com/fitrelay/server/pkg/bootstrap"
	"github.com/fitrelay/server/pkg/types"
)

// Provider type identifiers as stored in pipeline configuration.
const (
	TypeAutoIncrement    = "ENRICHER_AUTO_INCREMENT"
	TypeFitbitHR         = "ENRICHER_FITBIT_HR"
	TypeWeather          = "ENRICHER_WEATHER"
	TypeConditionMatcher = "ENRICHER_CONDITION_MATCHER"
	TypeMock             = "ENRICHER_MOCK"
)

// Patch is the set of modifications a provider proposes. The
// orchestrator owns applying patches to the activity; providers never
// mutate the activity they are handed.
type Patch struct {
	// Replacements; empty means keep the current value.
	Name        string
	Description string

	// NameSuffix accumulates across providers rather than replacing
	// (e.g. " (#5)").
	NameSuffix string

	// HeartRateStream is one BPM value per second of the activity. A
	// later patch carrying a stream replaces an earlier one wholesale.
	HeartRateStream []int

	// Metadata merges key-by-key into the activity event metadata.
	Metadata map[string]string

	// HaltPipeline stops the pipeline without failing it: the activity
	// is intentionally dropped (e.g. filtered out by conditions).
	HaltPipeline bool
	HaltReason   string
}

// Provider is an enrichment step. Implementations must be safe to run
// concurrently with other providers against the same activity snapshot.
type Provider interface {
	// Name returns the unique identifier for the provider (e.g. "fitbit-hr").
	Name() string

	// ProviderType returns the configuration type string this provider
	// serves (one of the Type* constants).
	ProviderType() string

	// Enrich inspects the activity and returns an outcome. forceFinal
	// indicates retries are exhausted: providers should degrade to
	// best-effort output instead of asking for another attempt.
	Enrich(ctx context.Context, logger *slog.Logger, activity *types.StandardizedActivity, user *types.UserRecord, inputConfig map[string]string, forceFinal bool) Outcome
}

// ServiceAware providers receive the shared service container before
// first use. Providers that only transform the activity in memory don't
// need it.
type ServiceAware interface {
	Provider
	SetService(svc *bootstrap.Service)
}
