// Package types holds the canonical data model shared by all FitRelay
// services. Everything here serializes to JSON: Firestore documents and
// Pub/Sub payloads use the same shapes.
package types

import "time"

// ActivitySource identifies the service an activity was ingested from.
// Values use the canonical SOURCE_* form stored in pipeline documents.
type ActivitySource string

const (
	SourceUnspecified ActivitySource = "SOURCE_UNSPECIFIED"
	SourceHevy        ActivitySource = "SOURCE_HEVY"
	SourceStrava      ActivitySource = "SOURCE_STRAVA"
	SourcePeloton     ActivitySource = "SOURCE_PELOTON"
	SourceTest        ActivitySource = "SOURCE_TEST"
)

// Destination identifies a service an enriched activity is routed to.
type Destination string

const (
	DestinationStrava        Destination = "DESTINATION_STRAVA"
	DestinationIntervals     Destination = "DESTINATION_INTERVALS"
	DestinationTrainingPeaks Destination = "DESTINATION_TRAININGPEAKS"
	DestinationMock          Destination = "DESTINATION_MOCK"
)

// ActivityType is the canonical activity classification.
type ActivityType string

const (
	ActivityTypeUnspecified    ActivityType = "ACTIVITY_TYPE_UNSPECIFIED"
	ActivityTypeRun            ActivityType = "ACTIVITY_TYPE_RUN"
	ActivityTypeTrailRun       ActivityType = "ACTIVITY_TYPE_TRAIL_RUN"
	ActivityTypeVirtualRun     ActivityType = "ACTIVITY_TYPE_VIRTUAL_RUN"
	ActivityTypeRide           ActivityType = "ACTIVITY_TYPE_RIDE"
	ActivityTypeVirtualRide    ActivityType = "ACTIVITY_TYPE_VIRTUAL_RIDE"
	ActivityTypeGravelRide     ActivityType = "ACTIVITY_TYPE_GRAVEL_RIDE"
	ActivityTypeMountainBike   ActivityType = "ACTIVITY_TYPE_MOUNTAIN_BIKE_RIDE"
	ActivityTypeSwim           ActivityType = "ACTIVITY_TYPE_SWIM"
	ActivityTypeWalk           ActivityType = "ACTIVITY_TYPE_WALK"
	ActivityTypeHike           ActivityType = "ACTIVITY_TYPE_HIKE"
	ActivityTypeWeightTraining ActivityType = "ACTIVITY_TYPE_WEIGHT_TRAINING"
	ActivityTypeWorkout        ActivityType = "ACTIVITY_TYPE_WORKOUT"
	ActivityTypeYoga           ActivityType = "ACTIVITY_TYPE_YOGA"
	ActivityTypeHIIT           ActivityType = "ACTIVITY_TYPE_HIGH_INTENSITY_INTERVAL_TRAINING"
	ActivityTypeRowing         ActivityType = "ACTIVITY_TYPE_ROWING"
	ActivityTypeElliptical     ActivityType = "ACTIVITY_TYPE_ELLIPTICAL"
)

// Record is a single per-second data point within a lap. Records are
// ordered by timestamp and append-only once populated.
type Record struct {
	Timestamp    time.Time `json:"timestamp"`
	HeartRate    int       `json:"heart_rate,omitempty"`
	Power        int       `json:"power,omitempty"`
	Cadence      int       `json:"cadence,omitempty"`
	Speed        float64   `json:"speed,omitempty"`    // m/s
	Altitude     float64   `json:"altitude,omitempty"` // meters
	PositionLat  float64   `json:"position_lat,omitempty"`
	PositionLong float64   `json:"position_long,omitempty"`
}

// Lap owns an ordered sequence of records.
type Lap struct {
	StartTime        time.Time `json:"start_time"`
	TotalElapsedTime float64   `json:"total_elapsed_time"` // seconds
	Records          []*Record `json:"records,omitempty"`
}

// StrengthSet is one set within a strength-training session.
type StrengthSet struct {
	ExerciseName    string    `json:"exercise_name"`
	Reps            int       `json:"reps,omitempty"`
	WeightKg        float64   `json:"weight_kg,omitempty"`
	DurationSeconds float64   `json:"duration_seconds,omitempty"`
	StartTime       time.Time `json:"start_time,omitempty"`
}

// Session is one continuous block of an activity. Valid inbound
// activities carry exactly one session.
type Session struct {
	StartTime        time.Time      `json:"start_time"`
	TotalElapsedTime float64        `json:"total_elapsed_time"` // seconds, must be > 0
	TotalDistance    float64        `json:"total_distance,omitempty"`
	Laps             []*Lap         `json:"laps,omitempty"`
	StrengthSets     []*StrengthSet `json:"strength_sets,omitempty"`
}

// StandardizedActivity is the canonical activity representation produced
// by the ingestion layer and consumed by the enrichment core.
type StandardizedActivity struct {
	Source      ActivitySource `json:"source"`
	ExternalID  string         `json:"external_id,omitempty"`
	Type        ActivityType   `json:"type"`
	Name        string         `json:"name,omitempty"`
	Description string         `json:"description,omitempty"`
	StartTime   time.Time      `json:"start_time"`
	Sessions    []*Session     `json:"sessions"`
}

// Clone returns a deep copy. Each pipeline run operates on its own copy
// so patches cannot leak between pipelines.
func (a *StandardizedActivity) Clone() *StandardizedActivity {
	if a == nil {
		return nil
	}
	out := *a
	out.Sessions = make([]*Session, len(a.Sessions))
	for i, s := range a.Sessions {
		cs := *s
		cs.Laps = make([]*Lap, len(s.Laps))
		for j, l := range s.Laps {
			cl := *l
			cl.Records = make([]*Record, len(l.Records))
			for k, r := range l.Records {
				cr := *r
				cl.Records[k] = &cr
			}
			cs.Laps[j] = &cl
		}
		cs.StrengthSets = make([]*StrengthSet, len(s.StrengthSets))
		for j, set := range s.StrengthSets {
			c := *set
			cs.StrengthSets[j] = &c
		}
		out.Sessions[i] = &cs
	}
	return &out
}

// EnricherConfig is one configured enrichment step within a pipeline.
// Stage orders execution: stages run ascending, providers within a stage
// are unordered and may run concurrently. A provider that depends on
// another provider's output must be configured in a later stage.
type EnricherConfig struct {
	ProviderType string            `json:"provider_type"`
	Stage        int               `json:"stage,omitempty"`
	Config       map[string]string `json:"config,omitempty"`
}

// PipelineConfig is one user-configured source -> enrichers -> destinations
// route. Stored in the user's pipeline sub-collection and read fresh per
// inbound activity; immutable for the duration of one run.
type PipelineConfig struct {
	ID           string            `json:"id"`
	Name         string            `json:"name,omitempty"`
	Source       ActivitySource    `json:"source"`
	Disabled     bool              `json:"disabled,omitempty"`
	Enrichers    []*EnricherConfig `json:"enrichers,omitempty"`
	Destinations []Destination     `json:"destinations,omitempty"`
}

// IntegrationSettings is the per-integration state on a user record:
// a simple enabled flag plus OAuth token state for integrations that
// need API access.
type IntegrationSettings struct {
	Enabled      bool      `json:"enabled"`
	AccessToken  string    `json:"access_token,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
}

// UserRecord is the slice of the user document the enrichment core reads.
type UserRecord struct {
	UserID              string                          `json:"user_id"`
	Integrations        map[string]*IntegrationSettings `json:"integrations,omitempty"`
	DefaultDestinations []Destination                   `json:"default_destinations,omitempty"`
}

// Counter is a named per-user monotonic counter. The only core entity
// with cross-invocation persistent state; mutated exclusively through the
// store's transactional increment.
type Counter struct {
	ID          string    `json:"id"`
	Count       int64     `json:"count"`
	LastUpdated time.Time `json:"last_updated"`
}

// ActivityPayload is the inbound enrichment request delivered via Pub/Sub.
type ActivityPayload struct {
	UserID               string                `json:"user_id"`
	Source               ActivitySource        `json:"source"`
	StandardizedActivity *StandardizedActivity `json:"standardized_activity"`
	PipelineID           *string               `json:"pipeline_id,omitempty"`
	// ForceFinal instructs providers to accept best-effort partial data
	// instead of requesting another delivery. Set by the scheduler once
	// the retry budget is exhausted.
	ForceFinal bool      `json:"force_final,omitempty"`
	Timestamp  time.Time `json:"timestamp,omitempty"`
}

// EnrichedActivityEvent is one pipeline outcome handed to the router.
type EnrichedActivityEvent struct {
	UserID              string                `json:"user_id"`
	Source              ActivitySource        `json:"source"`
	ActivityID          string                `json:"activity_id"`
	ActivityData        *StandardizedActivity `json:"activity_data"`
	ActivityType        ActivityType          `json:"activity_type"`
	Name                string                `json:"name,omitempty"`
	Description         string                `json:"description,omitempty"`
	AppliedEnrichments  []string              `json:"applied_enrichments"`
	EnrichmentMetadata  map[string]string     `json:"enrichment_metadata"`
	Destinations        []Destination         `json:"destinations"`
	PipelineID          string                `json:"pipeline_id"`
	PipelineExecutionID string                `json:"pipeline_execution_id,omitempty"`
	FitFileURI          string                `json:"fit_file_uri,omitempty"`
	StartTime           time.Time             `json:"start_time"`
}

// ExecutionStatus classifies a function invocation outcome.
type ExecutionStatus string

const (
	StatusStarted     ExecutionStatus = "STATUS_STARTED"
	StatusSuccess     ExecutionStatus = "STATUS_SUCCESS"
	StatusFailure     ExecutionStatus = "STATUS_FAILURE"
	StatusSkipped     ExecutionStatus = "STATUS_SKIPPED"
	StatusLaggedRetry ExecutionStatus = "STATUS_LAGGED_RETRY"
)

// ExecutionRecord is the bookkeeping document written per invocation.
type ExecutionRecord struct {
	ID          string          `json:"id"`
	Service     string          `json:"service"`
	Status      ExecutionStatus `json:"status"`
	UserID      string          `json:"user_id,omitempty"`
	TriggerType string          `json:"trigger_type,omitempty"`
	Error       string          `json:"error,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	FinishedAt  time.Time       `json:"finished_at,omitempty"`
}
