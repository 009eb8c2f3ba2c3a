// Package enricher runs configured enrichment pipelines over inbound
// activities and emits enriched activity events plus FIT file artifacts.
package enricher

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	shared "github.com/fitrelay/server/pkg"
	fit "github.com/fitrelay/server/pkg/domain/file_generators"
	"github.com/fitrelay/server/pkg/enricher/providers"
	"github.com/fitrelay/server/pkg/types"
)

type Orchestrator struct {
	database   shared.Database
	storage    shared.BlobStore
	bucketName string
	registry   *providers.Registry
}

// NewOrchestrator builds an orchestrator over an explicit provider
// registry. The registry is assembled at startup; the orchestrator never
// reaches for global state.
func NewOrchestrator(db shared.Database, storage shared.BlobStore, bucketName string, registry *providers.Registry) *Orchestrator {
	return &Orchestrator{
		database:   db,
		storage:    storage,
		bucketName: bucketName,
		registry:   registry,
	}
}

// ProcessResult contains the outcome of one enrichment run.
type ProcessResult struct {
	Events             []*types.EnrichedActivityEvent
	ProviderExecutions []ProviderExecution
	Status             types.ExecutionStatus
}

// ProviderExecution tracks a single provider's execution for tracing.
type ProviderExecution struct {
	ProviderName string
	ExecutionID  string
	Status       string
	Error        string
	DurationMs   int64
	Metadata     map[string]string
}

// Process executes every pipeline matching the payload's source. One
// event is emitted per completed pipeline; a provider asking for a retry
// aborts the whole run with a RetryableError unless forceFinal is set.
func (o *Orchestrator) Process(ctx context.Context, logger *slog.Logger, payload *types.ActivityPayload, parentExecutionID string, basePipelineExecutionID string, forceFinal bool) (*ProcessResult, error) {
	userRec, err := o.database.GetUser(ctx, payload.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user config: %w", err)
	}

	if payload.StandardizedActivity == nil {
		return nil, fmt.Errorf("standardized activity is nil")
	}
	if len(payload.StandardizedActivity.Sessions) != 1 {
		logger.Error("Activity does not have exactly one session", "count", len(payload.StandardizedActivity.Sessions))
		return nil, fmt.Errorf("multiple sessions not supported")
	}
	if payload.StandardizedActivity.Sessions[0].TotalElapsedTime == 0 {
		logger.Error("Activity session has 0 elapsed time")
		return nil, fmt.Errorf("session total elapsed time is 0")
	}

	pipelines := o.resolvePipelines(ctx, payload, userRec, logger)
	logger.Info("Resolved pipelines", "count", len(pipelines), "source", payload.Source)

	if len(pipelines) == 0 {
		logger.Info("No pipelines configured for source, skipping", "source", payload.Source)
		return &ProcessResult{
			Events:             []*types.EnrichedActivityEvent{},
			ProviderExecutions: []ProviderExecution{},
			Status:             types.StatusSkipped,
		}, nil
	}

	var allEvents []*types.EnrichedActivityEvent
	var allProviderExecutions []ProviderExecution

	for _, pipeline := range pipelines {
		pipelineExecutionID := fmt.Sprintf("%s-%s", basePipelineExecutionID, pipeline.ID)
		pipelineLogger := logger.With("pipeline_id", pipeline.ID, "pipeline_execution_id", pipelineExecutionID)
		pipelineLogger.Info("Executing pipeline")

		event, execs, err := o.runPipeline(ctx, pipelineLogger, payload, userRec, pipeline, pipelineExecutionID, forceFinal)
		allProviderExecutions = append(allProviderExecutions, execs...)

		if err != nil {
			status := types.StatusFailure
			if _, ok := err.(*providers.RetryableError); ok {
				status = types.StatusLaggedRetry
			}
			return &ProcessResult{
				Events:             []*types.EnrichedActivityEvent{},
				ProviderExecutions: allProviderExecutions,
				Status:             status,
			}, err
		}
		if event != nil {
			allEvents = append(allEvents, event)
		}
	}

	status := types.StatusSuccess
	if len(allEvents) == 0 {
		// Every pipeline halted
		status = types.StatusSkipped
	}

	return &ProcessResult{
		Events:             allEvents,
		ProviderExecutions: allProviderExecutions,
		Status:             status,
	}, nil
}

// runPipeline executes one pipeline's enrichers stage by stage and
// builds its enriched activity event. A nil event with nil error means
// the pipeline was deliberately halted.
func (o *Orchestrator) runPipeline(ctx context.Context, logger *slog.Logger, payload *types.ActivityPayload, userRec *types.UserRecord, pipeline *types.PipelineConfig, pipelineExecutionID string, forceFinal bool) (*types.EnrichedActivityEvent, []ProviderExecution, error) {
	var execs []ProviderExecution

	// Each pipeline works on its own deep copy so patches never leak
	// across pipelines.
	currentActivity := payload.StandardizedActivity.Clone()

	appliedEnrichments := []string{}
	enrichmentMetadata := make(map[string]string)

	for _, stage := range stageGroups(pipeline.Enrichers) {
		outcomes := make([]providers.Outcome, len(stage.configs))
		stageExecs := make([]*ProviderExecution, len(stage.configs))

		// Providers within a stage run concurrently against the same
		// activity snapshot; patches apply only after the stage settles.
		snapshot := currentActivity.Clone()

		var wg sync.WaitGroup
		for i, cfg := range stage.configs {
			provider, ok := o.registry.ByType(cfg.ProviderType)
			if !ok {
				logger.Warn("Provider not found for type", "type", cfg.ProviderType)
				stageExecs[i] = &ProviderExecution{
					ProviderName: fmt.Sprintf("TYPE:%s", cfg.ProviderType),
					Status:       "SKIPPED",
					Error:        "provider not registered",
				}
				continue
			}

			inputConfig := make(map[string]string, len(cfg.Config)+2)
			for k, v := range cfg.Config {
				inputConfig[k] = v
			}
			inputConfig["pipeline_execution_id"] = pipelineExecutionID
			inputConfig["pipeline_id"] = pipeline.ID

			execID := uuid.NewString()
			stageExecs[i] = &ProviderExecution{
				ProviderName: provider.Name(),
				ExecutionID:  execID,
				Status:       "STARTED",
			}

			wg.Add(1)
			go func(i int, provider providers.Provider, inputConfig map[string]string) {
				defer wg.Done()
				started := time.Now()
				providerLogger := logger.With("provider", provider.Name())
				outcomes[i] = provider.Enrich(ctx, providerLogger, snapshot, userRec, inputConfig, forceFinal)
				stageExecs[i].DurationMs = time.Since(started).Milliseconds()
			}(i, provider, inputConfig)
		}
		wg.Wait()

		// Settle the stage: fatal beats retry beats ok. When several
		// providers ask for a retry the largest suggested delay wins.
		var pendingRetry *providers.RetryableError
		for i, cfg := range stage.configs {
			pe := stageExecs[i]
			if pe.ExecutionID == "" {
				// unregistered type, already recorded
				execs = append(execs, *pe)
				continue
			}
			outcome := outcomes[i]

			switch outcome.Verdict {
			case providers.VerdictFatal:
				logger.Error("Provider failed", "name", pe.ProviderName, "error", outcome.Err, "duration_ms", pe.DurationMs, "execution_id", pe.ExecutionID)
				pe.Status = "FAILED"
				pe.Error = outcome.Err.Error()
				execs = append(execs, *pe)
				return nil, execs, fmt.Errorf("enricher failed: %s: %w", pe.ProviderName, outcome.Err)

			case providers.VerdictRetry:
				if forceFinal {
					// Retry budget exhausted upstream; record and move on.
					logger.Warn("Provider still lagging at final attempt, skipping", "name", pe.ProviderName, "reason", outcome.RetryReason)
					pe.Status = "SKIPPED"
					pe.Error = outcome.RetryReason
					pe.Metadata = map[string]string{"skip_reason": "retry_exhausted"}
					execs = append(execs, *pe)
					continue
				}
				logger.Info("Provider requested retry", "name", pe.ProviderName, "retry_after", outcome.RetryAfter, "reason", outcome.RetryReason)
				pe.Status = "RETRY"
				pe.Error = outcome.RetryReason
				pe.Metadata = map[string]string{
					"retry_after":  outcome.RetryAfter.String(),
					"retry_reason": outcome.RetryReason,
				}
				execs = append(execs, *pe)
				if pendingRetry == nil || outcome.RetryAfter > pendingRetry.RetryAfter {
					pendingRetry = &providers.RetryableError{
						RetryAfter: outcome.RetryAfter,
						Reason:     outcome.RetryReason,
					}
				}

			case providers.VerdictOK:
				if pendingRetry != nil {
					// The attempt is void; don't bother settling the patch.
					pe.Status = "SUCCESS"
					if outcome.Patch != nil {
						pe.Metadata = outcome.Patch.Metadata
					}
					execs = append(execs, *pe)
					continue
				}
				patch := outcome.Patch
				if patch == nil {
					pe.Status = "SKIPPED"
					pe.Error = "empty patch"
					execs = append(execs, *pe)
					continue
				}
				if patch.HaltPipeline {
					logger.Info("Provider halted pipeline", "name", pe.ProviderName, "reason", patch.HaltReason)
					pe.Status = "SKIPPED"
					pe.Metadata = patch.Metadata
					if patch.HaltReason != "" {
						if pe.Metadata == nil {
							pe.Metadata = map[string]string{}
						}
						pe.Metadata["halt_reason"] = patch.HaltReason
					}
					execs = append(execs, *pe)
					return nil, execs, nil
				}

				pe.Status = "SUCCESS"
				pe.Metadata = patch.Metadata
				execs = append(execs, *pe)
				logger.Info("Provider completed", "name", pe.ProviderName, "duration_ms", pe.DurationMs, "execution_id", pe.ExecutionID)

				applyPatch(currentActivity, patch)
				appliedEnrichments = append(appliedEnrichments, cfg.ProviderType)
				for k, v := range patch.Metadata {
					enrichmentMetadata[k] = v
				}
			}
		}

		if pendingRetry != nil {
			return nil, execs, pendingRetry
		}
	}

	event := &types.EnrichedActivityEvent{
		UserID:              payload.UserID,
		Source:              payload.Source,
		ActivityID:          uuid.NewString(),
		ActivityData:        currentActivity,
		ActivityType:        currentActivity.Type,
		Name:                currentActivity.Name,
		Description:         currentActivity.Description,
		AppliedEnrichments:  appliedEnrichments,
		EnrichmentMetadata:  enrichmentMetadata,
		Destinations:        pipeline.Destinations,
		PipelineID:          pipeline.ID,
		PipelineExecutionID: pipelineExecutionID,
		StartTime:           currentActivity.Sessions[0].StartTime,
	}

	// FIT artifact. Generation failure degrades the event, not the run.
	fitBytes, err := fit.Encode(currentActivity)
	if err != nil {
		logger.Error("Failed to generate FIT file", "error", err)
	} else if len(fitBytes) > 0 {
		objName := fmt.Sprintf("activities/%s/%s.fit", payload.UserID, event.ActivityID)
		if err := o.storage.Write(ctx, o.bucketName, objName, fitBytes); err != nil {
			logger.Error("Failed to write FIT file artifact", "error", err)
		} else {
			event.FitFileURI = fmt.Sprintf("gs://%s/%s", o.bucketName, objName)
		}
	}

	return event, execs, nil
}

// applyPatch folds a provider patch into the activity. Name and
// description replace, suffixes concatenate, heart rate streams replace
// wholesale.
func applyPatch(activity *types.StandardizedActivity, patch *providers.Patch) {
	if patch.Name != "" {
		activity.Name = patch.Name
	}
	if patch.NameSuffix != "" {
		activity.Name += patch.NameSuffix
	}
	if patch.Description != "" {
		activity.Description = patch.Description
	}

	if len(patch.HeartRateStream) > 0 {
		session := activity.Sessions[0]
		if len(session.Laps) == 0 {
			session.Laps = append(session.Laps, &types.Lap{
				StartTime:        session.StartTime,
				TotalElapsedTime: session.TotalElapsedTime,
			})
		}
		lap := session.Laps[0]

		// Grow the record grid to one record per second so the stream
		// has somewhere to land.
		duration := int(session.TotalElapsedTime)
		for k := len(lap.Records); k < duration; k++ {
			lap.Records = append(lap.Records, &types.Record{
				Timestamp: session.StartTime.Add(time.Duration(k) * time.Second),
			})
		}

		for idx, val := range patch.HeartRateStream {
			if idx < len(lap.Records) && val > 0 {
				lap.Records[idx].HeartRate = val
			}
		}
	}
}

// stageGroup is the set of enricher configs sharing one stage number.
type stageGroup struct {
	stage   int
	configs []*types.EnricherConfig
}

// stageGroups buckets enricher configs by stage, ascending. Config order
// within a stage is preserved for deterministic patch application.
func stageGroups(configs []*types.EnricherConfig) []stageGroup {
	byStage := make(map[int][]*types.EnricherConfig)
	for _, cfg := range configs {
		byStage[cfg.Stage] = append(byStage[cfg.Stage], cfg)
	}

	stages := make([]int, 0, len(byStage))
	for stage := range byStage {
		stages = append(stages, stage)
	}
	sort.Ints(stages)

	groups := make([]stageGroup, 0, len(stages))
	for _, stage := range stages {
		groups = append(groups, stageGroup{stage: stage, configs: byStage[stage]})
	}
	return groups
}

// resolvePipelines returns the pipelines to run for this payload:
// configured pipelines matching the source (optionally narrowed to one
// by the payload), or a synthesized legacy pipeline from the user's
// integration flags when none are configured.
func (o *Orchestrator) resolvePipelines(ctx context.Context, payload *types.ActivityPayload, userRec *types.UserRecord, logger *slog.Logger) []*types.PipelineConfig {
	var pipelines []*types.PipelineConfig

	userPipelines, err := o.database.GetUserPipelines(ctx, userRec.UserID)
	if err != nil {
		logger.Error("Failed to get user pipelines", "error", err, "user_id", userRec.UserID)
		return pipelines
	}

	for _, p := range userPipelines {
		if p.Disabled {
			logger.Info("Skipping disabled pipeline", "id", p.ID, "name", p.Name, "source", p.Source)
			continue
		}
		if payload.PipelineID != nil && *payload.PipelineID != "" && p.ID != *payload.PipelineID {
			continue
		}
		if p.Source == payload.Source {
			pipelines = append(pipelines, p)
		}
	}

	if len(pipelines) > 0 || (payload.PipelineID != nil && *payload.PipelineID != "") {
		return pipelines
	}

	// Legacy fallback: users predating pipeline configuration get a
	// default pipeline derived from their integration flags.
	if legacy := legacyPipeline(userRec); legacy != nil {
		logger.Info("Using legacy default pipeline", "user_id", userRec.UserID)
		pipelines = append(pipelines, legacy)
	}
	return pipelines
}

func legacyPipeline(userRec *types.UserRecord) *types.PipelineConfig {
	if len(userRec.DefaultDestinations) == 0 {
		return nil
	}

	pipeline := &types.PipelineConfig{
		ID:           "default",
		Name:         "Legacy default",
		Destinations: userRec.DefaultDestinations,
	}
	if fitbit := userRec.Integrations["fitbit"]; fitbit != nil && fitbit.Enabled {
		pipeline.Enrichers = append(pipeline.Enrichers, &types.EnricherConfig{
			ProviderType: providers.TypeFitbitHR,
		})
	}
	return pipeline
}
