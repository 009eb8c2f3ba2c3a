package enricher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fitrelay/server/pkg/enricher/providers"
	"github.com/fitrelay/server/pkg/enricher/providers/mock"
	"github.com/fitrelay/server/pkg/testing/mocks"
	"github.com/fitrelay/server/pkg/types"
)

const testBucket = "test-artifacts"

type fakeProvider struct {
	name     string
	ptype    string
	enrichFn func(ctx context.Context, activity *types.StandardizedActivity, inputs map[string]string, forceFinal bool) providers.Outcome
}

func (f *fakeProvider) Name() string         { return f.name }
func (f *fakeProvider) ProviderType() string { return f.ptype }
func (f *fakeProvider) Enrich(ctx context.Context, logger *slog.Logger, activity *types.StandardizedActivity, user *types.UserRecord, inputs map[string]string, forceFinal bool) providers.Outcome {
	return f.enrichFn(ctx, activity, inputs, forceFinal)
}

func testPayload() *types.ActivityPayload {
	start := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	return &types.ActivityPayload{
		UserID: "user-1",
		Source: types.SourceHevy,
		StandardizedActivity: &types.StandardizedActivity{
			Source:    types.SourceHevy,
			Type:      types.ActivityTypeWeightTraining,
			Name:      "Push Day",
			StartTime: start,
			Sessions: []*types.Session{{
				StartTime:        start,
				TotalElapsedTime: 60,
			}},
		},
	}
}

func pipelineDB(pipelines ...*types.PipelineConfig) *mocks.MockDatabase {
	return &mocks.MockDatabase{
		GetUserPipelinesFunc: func(ctx context.Context, userID string) ([]*types.PipelineConfig, error) {
			return pipelines, nil
		},
	}
}

func singlePipeline(enrichers ...*types.EnricherConfig) *types.PipelineConfig {
	return &types.PipelineConfig{
		ID:           "pipe-1",
		Source:       types.SourceHevy,
		Enrichers:    enrichers,
		Destinations: []types.Destination{types.DestinationStrava},
	}
}

func process(t *testing.T, o *Orchestrator, payload *types.ActivityPayload, forceFinal bool) (*ProcessResult, error) {
	t.Helper()
	return o.Process(context.Background(), slog.New(slog.DiscardHandler), payload, "parent-exec", "base-exec", forceFinal)
}

func TestProcess_Validation(t *testing.T) {
	db := pipelineDB(singlePipeline())
	o := NewOrchestrator(db, &mocks.MockBlobStore{}, testBucket, providers.NewRegistry())

	t.Run("nil activity", func(t *testing.T) {
		payload := testPayload()
		payload.StandardizedActivity = nil
		_, err := process(t, o, payload, false)
		if err == nil || !strings.Contains(err.Error(), "standardized activity is nil") {
			t.Errorf("expected nil-activity error, got %v", err)
		}
	})

	t.Run("multiple sessions", func(t *testing.T) {
		payload := testPayload()
		payload.StandardizedActivity.Sessions = append(payload.StandardizedActivity.Sessions, &types.Session{TotalElapsedTime: 10})
		_, err := process(t, o, payload, false)
		if err == nil || err.Error() != "multiple sessions not supported" {
			t.Errorf("expected multiple-sessions error, got %v", err)
		}
	})

	t.Run("zero elapsed time", func(t *testing.T) {
		payload := testPayload()
		payload.StandardizedActivity.Sessions[0].TotalElapsedTime = 0
		_, err := process(t, o, payload, false)
		if err == nil || err.Error() != "session total elapsed time is 0" {
			t.Errorf("expected zero-elapsed error, got %v", err)
		}
	})
}

func TestProcess_HappyPath(t *testing.T) {
	db := pipelineDB(singlePipeline(&types.EnricherConfig{
		ProviderType: providers.TypeMock,
		Config:       map[string]string{"name": "Enriched Push Day", "description": "Great session"},
	}))
	store := &mocks.MockBlobStore{}
	registry := providers.NewRegistry(mock.New())
	o := NewOrchestrator(db, store, testBucket, registry)

	result, err := process(t, o, testPayload(), false)
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}

	if result.Status != types.StatusSuccess {
		t.Errorf("expected success status, got %s", result.Status)
	}
	if len(result.Events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(result.Events))
	}

	event := result.Events[0]
	if event.Name != "Enriched Push Day" {
		t.Errorf("expected enriched name, got %q", event.Name)
	}
	if event.Description != "Great session" {
		t.Errorf("expected enriched description, got %q", event.Description)
	}
	if event.PipelineID != "pipe-1" {
		t.Errorf("expected pipeline id pipe-1, got %q", event.PipelineID)
	}
	if event.PipelineExecutionID != "base-exec-pipe-1" {
		t.Errorf("expected per-pipeline execution id, got %q", event.PipelineExecutionID)
	}
	if len(event.AppliedEnrichments) != 1 || event.AppliedEnrichments[0] != providers.TypeMock {
		t.Errorf("expected applied enrichments [%s], got %v", providers.TypeMock, event.AppliedEnrichments)
	}
	if event.EnrichmentMetadata["mock_provider"] != "true" {
		t.Errorf("expected merged provider metadata, got %v", event.EnrichmentMetadata)
	}

	expectedURI := fmt.Sprintf("gs://%s/activities/user-1/%s.fit", testBucket, event.ActivityID)
	if event.FitFileURI != expectedURI {
		t.Errorf("expected FIT URI %q, got %q", expectedURI, event.FitFileURI)
	}
	if data, ok := store.Stored(testBucket, fmt.Sprintf("activities/user-1/%s.fit", event.ActivityID)); !ok || len(data) == 0 {
		t.Error("expected FIT artifact written to blob store")
	}

	if len(result.ProviderExecutions) != 1 {
		t.Fatalf("expected 1 provider execution, got %d", len(result.ProviderExecutions))
	}
	if result.ProviderExecutions[0].Status != "SUCCESS" {
		t.Errorf("expected SUCCESS execution, got %s", result.ProviderExecutions[0].Status)
	}
}

func TestProcess_SourceMismatchSkips(t *testing.T) {
	pipeline := singlePipeline()
	pipeline.Source = types.SourceStrava
	o := NewOrchestrator(pipelineDB(pipeline), &mocks.MockBlobStore{}, testBucket, providers.NewRegistry())

	result, err := process(t, o, testPayload(), false)
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if result.Status != types.StatusSkipped {
		t.Errorf("expected skipped status, got %s", result.Status)
	}
	if len(result.Events) != 0 {
		t.Errorf("expected no events, got %d", len(result.Events))
	}
}

func TestProcess_DisabledPipelineSkipped(t *testing.T) {
	pipeline := singlePipeline()
	pipeline.Disabled = true
	o := NewOrchestrator(pipelineDB(pipeline), &mocks.MockBlobStore{}, testBucket, providers.NewRegistry())

	result, err := process(t, o, testPayload(), false)
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if result.Status != types.StatusSkipped {
		t.Errorf("expected skipped status, got %s", result.Status)
	}
}

func TestProcess_UnknownProviderTypeSkipped(t *testing.T) {
	db := pipelineDB(singlePipeline(
		&types.EnricherConfig{ProviderType: "ENRICHER_NONEXISTENT"},
		&types.EnricherConfig{ProviderType: providers.TypeMock, Config: map[string]string{"name": "Renamed"}},
	))
	o := NewOrchestrator(db, &mocks.MockBlobStore{}, testBucket, providers.NewRegistry(mock.New()))

	result, err := process(t, o, testPayload(), false)
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}

	if len(result.Events) != 1 {
		t.Fatalf("expected pipeline to complete despite unknown provider, got %d events", len(result.Events))
	}
	if result.Events[0].Name != "Renamed" {
		t.Errorf("expected remaining provider to run, got name %q", result.Events[0].Name)
	}

	var skipped *ProviderExecution
	for i := range result.ProviderExecutions {
		if result.ProviderExecutions[i].Status == "SKIPPED" {
			skipped = &result.ProviderExecutions[i]
		}
	}
	if skipped == nil || skipped.Error != "provider not registered" {
		t.Errorf("expected a skipped execution for the unknown type, got %+v", result.ProviderExecutions)
	}
}

func TestProcess_RetryPropagates(t *testing.T) {
	db := pipelineDB(singlePipeline(&types.EnricherConfig{
		ProviderType: providers.TypeMock,
		Config:       map[string]string{"behavior": "lag"},
	}))
	o := NewOrchestrator(db, &mocks.MockBlobStore{}, testBucket, providers.NewRegistry(mock.New()))

	result, err := process(t, o, testPayload(), false)
	if err == nil {
		t.Fatal("expected a retryable error")
	}
	var retryErr *providers.RetryableError
	if !errors.As(err, &retryErr) {
		t.Fatalf("expected RetryableError, got %T: %v", err, err)
	}
	if retryErr.RetryAfter != 1*time.Minute {
		t.Errorf("expected 1m retry delay, got %v", retryErr.RetryAfter)
	}
	if result.Status != types.StatusLaggedRetry {
		t.Errorf("expected lagged-retry status, got %s", result.Status)
	}
	if len(result.Events) != 0 {
		t.Errorf("expected no events on retry, got %d", len(result.Events))
	}
}

func TestProcess_RetryUnderForceFinalIsSkipped(t *testing.T) {
	// A provider that insists on retrying even when told it's the final
	// attempt gets recorded as skipped rather than looping forever.
	stubborn := &fakeProvider{
		name:  "stubborn",
		ptype: "ENRICHER_STUBBORN",
		enrichFn: func(ctx context.Context, activity *types.StandardizedActivity, inputs map[string]string, forceFinal bool) providers.Outcome {
			return providers.Retry(5*time.Minute, "still waiting")
		},
	}
	db := pipelineDB(singlePipeline(&types.EnricherConfig{ProviderType: "ENRICHER_STUBBORN"}))
	o := NewOrchestrator(db, &mocks.MockBlobStore{}, testBucket, providers.NewRegistry(stubborn))

	result, err := process(t, o, testPayload(), true)
	if err != nil {
		t.Fatalf("expected no error under forceFinal, got %v", err)
	}
	if result.Status != types.StatusSuccess {
		t.Errorf("expected success status, got %s", result.Status)
	}
	if len(result.Events) != 1 {
		t.Fatalf("expected the pipeline to finalize, got %d events", len(result.Events))
	}
	if result.ProviderExecutions[0].Status != "SKIPPED" {
		t.Errorf("expected SKIPPED execution, got %s", result.ProviderExecutions[0].Status)
	}
	if result.ProviderExecutions[0].Metadata["skip_reason"] != "retry_exhausted" {
		t.Errorf("expected retry_exhausted skip reason, got %v", result.ProviderExecutions[0].Metadata)
	}
}

func TestProcess_LargestRetryDelayWins(t *testing.T) {
	retrier := func(name string, after time.Duration) *fakeProvider {
		return &fakeProvider{
			name:  name,
			ptype: "ENRICHER_" + strings.ToUpper(name),
			enrichFn: func(ctx context.Context, activity *types.StandardizedActivity, inputs map[string]string, forceFinal bool) providers.Outcome {
				return providers.Retry(after, name+" lagging")
			},
		}
	}
	fast := retrier("fast", 1*time.Minute)
	slow := retrier("slow", 10*time.Minute)

	db := pipelineDB(singlePipeline(
		&types.EnricherConfig{ProviderType: "ENRICHER_FAST"},
		&types.EnricherConfig{ProviderType: "ENRICHER_SLOW"},
	))
	o := NewOrchestrator(db, &mocks.MockBlobStore{}, testBucket, providers.NewRegistry(fast, slow))

	_, err := process(t, o, testPayload(), false)
	var retryErr *providers.RetryableError
	if !errors.As(err, &retryErr) {
		t.Fatalf("expected RetryableError, got %T: %v", err, err)
	}
	if retryErr.RetryAfter != 10*time.Minute {
		t.Errorf("expected the largest delay to win, got %v", retryErr.RetryAfter)
	}
}

func TestProcess_FatalBeatsRetryInStage(t *testing.T) {
	lagging := &fakeProvider{
		name:  "lagging",
		ptype: "ENRICHER_LAGGING",
		enrichFn: func(ctx context.Context, activity *types.StandardizedActivity, inputs map[string]string, forceFinal bool) providers.Outcome {
			return providers.Retry(5*time.Minute, "lagging")
		},
	}
	broken := &fakeProvider{
		name:  "broken",
		ptype: "ENRICHER_BROKEN",
		enrichFn: func(ctx context.Context, activity *types.StandardizedActivity, inputs map[string]string, forceFinal bool) providers.Outcome {
			return providers.Fatal(fmt.Errorf("misconfigured"))
		},
	}

	db := pipelineDB(singlePipeline(
		&types.EnricherConfig{ProviderType: "ENRICHER_LAGGING"},
		&types.EnricherConfig{ProviderType: "ENRICHER_BROKEN"},
	))
	o := NewOrchestrator(db, &mocks.MockBlobStore{}, testBucket, providers.NewRegistry(lagging, broken))

	result, err := process(t, o, testPayload(), false)
	if err == nil {
		t.Fatal("expected an error")
	}
	var retryErr *providers.RetryableError
	if errors.As(err, &retryErr) {
		t.Fatalf("fatal must beat retry, got retryable error %v", err)
	}
	if result.Status != types.StatusFailure {
		t.Errorf("expected failure status, got %s", result.Status)
	}
}

func TestProcess_FatalFailsPipeline(t *testing.T) {
	db := pipelineDB(singlePipeline(&types.EnricherConfig{
		ProviderType: providers.TypeMock,
		Config:       map[string]string{"behavior": "fail", "error_message": "boom"},
	}))
	o := NewOrchestrator(db, &mocks.MockBlobStore{}, testBucket, providers.NewRegistry(mock.New()))

	result, err := process(t, o, testPayload(), false)
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("expected fatal error, got %v", err)
	}
	if result.Status != types.StatusFailure {
		t.Errorf("expected failure status, got %s", result.Status)
	}
	if len(result.Events) != 0 {
		t.Errorf("expected no events, got %d", len(result.Events))
	}
}

func TestProcess_HaltSkipsPipeline(t *testing.T) {
	db := pipelineDB(singlePipeline(&types.EnricherConfig{
		ProviderType: providers.TypeMock,
		Config:       map[string]string{"behavior": "halt", "halt_reason": "filtered out"},
	}))
	o := NewOrchestrator(db, &mocks.MockBlobStore{}, testBucket, providers.NewRegistry(mock.New()))

	result, err := process(t, o, testPayload(), false)
	if err != nil {
		t.Fatalf("halt must not be an error, got %v", err)
	}
	if result.Status != types.StatusSkipped {
		t.Errorf("expected skipped status, got %s", result.Status)
	}
	if len(result.Events) != 0 {
		t.Errorf("expected no events, got %d", len(result.Events))
	}
	if result.ProviderExecutions[0].Metadata["halt_reason"] != "filtered out" {
		t.Errorf("expected halt reason recorded, got %v", result.ProviderExecutions[0].Metadata)
	}
}

func TestProcess_StagesRunInOrder(t *testing.T) {
	// The stage-0 provider replaces the name; the stage-1 provider must
	// see that replacement in its snapshot and appends a suffix.
	var mu sync.Mutex
	var order []string

	rename := &fakeProvider{
		name:  "rename",
		ptype: "ENRICHER_RENAME",
		enrichFn: func(ctx context.Context, activity *types.StandardizedActivity, inputs map[string]string, forceFinal bool) providers.Outcome {
			mu.Lock()
			order = append(order, "rename")
			mu.Unlock()
			return providers.OK(&providers.Patch{Name: "Leg Day"})
		},
	}
	suffix := &fakeProvider{
		name:  "suffix",
		ptype: "ENRICHER_SUFFIX",
		enrichFn: func(ctx context.Context, activity *types.StandardizedActivity, inputs map[string]string, forceFinal bool) providers.Outcome {
			mu.Lock()
			order = append(order, "suffix")
			mu.Unlock()
			if activity.Name != "Leg Day" {
				return providers.Fatal(fmt.Errorf("expected stage-0 patch in snapshot, saw %q", activity.Name))
			}
			return providers.OK(&providers.Patch{NameSuffix: " (#9)"})
		},
	}

	// Configured out of stage order on purpose.
	db := pipelineDB(singlePipeline(
		&types.EnricherConfig{ProviderType: "ENRICHER_SUFFIX", Stage: 1},
		&types.EnricherConfig{ProviderType: "ENRICHER_RENAME", Stage: 0},
	))
	o := NewOrchestrator(db, &mocks.MockBlobStore{}, testBucket, providers.NewRegistry(rename, suffix))

	result, err := process(t, o, testPayload(), false)
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}

	if len(order) != 2 || order[0] != "rename" || order[1] != "suffix" {
		t.Errorf("expected stage 0 before stage 1, got %v", order)
	}
	if result.Events[0].Name != "Leg Day (#9)" {
		t.Errorf("expected composed name, got %q", result.Events[0].Name)
	}
}

func TestProcess_ConcurrentStageSharesSnapshot(t *testing.T) {
	// Two same-stage providers both see the pre-stage activity, not each
	// other's patches; patches apply in config order afterwards.
	seen := make(chan string, 2)
	observer := func(name, setName string) *fakeProvider {
		return &fakeProvider{
			name:  name,
			ptype: "ENRICHER_" + strings.ToUpper(name),
			enrichFn: func(ctx context.Context, activity *types.StandardizedActivity, inputs map[string]string, forceFinal bool) providers.Outcome {
				seen <- activity.Name
				return providers.OK(&providers.Patch{Name: setName})
			},
		}
	}
	a := observer("alpha", "From Alpha")
	b := observer("beta", "From Beta")

	db := pipelineDB(singlePipeline(
		&types.EnricherConfig{ProviderType: "ENRICHER_ALPHA"},
		&types.EnricherConfig{ProviderType: "ENRICHER_BETA"},
	))
	o := NewOrchestrator(db, &mocks.MockBlobStore{}, testBucket, providers.NewRegistry(a, b))

	result, err := process(t, o, testPayload(), false)
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}

	for i := 0; i < 2; i++ {
		if got := <-seen; got != "Push Day" {
			t.Errorf("expected providers to see the pre-stage snapshot name, got %q", got)
		}
	}
	// Later config order wins the name.
	if result.Events[0].Name != "From Beta" {
		t.Errorf("expected later patch to win, got %q", result.Events[0].Name)
	}
}

func TestProcess_HeartRateStreamApplied(t *testing.T) {
	hr := &fakeProvider{
		name:  "hr",
		ptype: "ENRICHER_HR",
		enrichFn: func(ctx context.Context, activity *types.StandardizedActivity, inputs map[string]string, forceFinal bool) providers.Outcome {
			stream := make([]int, 60)
			for i := range stream {
				stream[i] = 100 + i
			}
			return providers.OK(&providers.Patch{HeartRateStream: stream})
		},
	}
	db := pipelineDB(singlePipeline(&types.EnricherConfig{ProviderType: "ENRICHER_HR"}))
	o := NewOrchestrator(db, &mocks.MockBlobStore{}, testBucket, providers.NewRegistry(hr))

	payload := testPayload()
	result, err := process(t, o, payload, false)
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}

	records := result.Events[0].ActivityData.Sessions[0].Laps[0].Records
	if len(records) != 60 {
		t.Fatalf("expected record grid grown to 60, got %d", len(records))
	}
	if records[0].HeartRate != 100 || records[59].HeartRate != 159 {
		t.Errorf("unexpected stream edges: %d, %d", records[0].HeartRate, records[59].HeartRate)
	}
	// The inbound payload must not have been mutated.
	if len(payload.StandardizedActivity.Sessions[0].Laps) != 0 {
		t.Error("expected payload activity to remain untouched")
	}
}

func TestProcess_PipelineIsolation(t *testing.T) {
	p1 := singlePipeline(&types.EnricherConfig{
		ProviderType: providers.TypeMock,
		Config:       map[string]string{"name_suffix": " (A)"},
	})
	p1.ID = "pipe-a"
	p2 := singlePipeline(&types.EnricherConfig{
		ProviderType: providers.TypeMock,
		Config:       map[string]string{"name_suffix": " (B)"},
	})
	p2.ID = "pipe-b"

	o := NewOrchestrator(pipelineDB(p1, p2), &mocks.MockBlobStore{}, testBucket, providers.NewRegistry(mock.New()))

	result, err := process(t, o, testPayload(), false)
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if len(result.Events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(result.Events))
	}
	// Suffixes must not stack across pipelines.
	if result.Events[0].Name != "Push Day (A)" {
		t.Errorf("expected isolated suffix, got %q", result.Events[0].Name)
	}
	if result.Events[1].Name != "Push Day (B)" {
		t.Errorf("expected isolated suffix, got %q", result.Events[1].Name)
	}
}

func TestProcess_LegacyFallbackPipeline(t *testing.T) {
	db := pipelineDB() // no configured pipelines
	db.GetUserFunc = func(ctx context.Context, userID string) (*types.UserRecord, error) {
		return &types.UserRecord{
			UserID:              userID,
			DefaultDestinations: []types.Destination{types.DestinationIntervals},
			Integrations: map[string]*types.IntegrationSettings{
				"fitbit": {Enabled: false},
			},
		}, nil
	}
	o := NewOrchestrator(db, &mocks.MockBlobStore{}, testBucket, providers.NewRegistry())

	result, err := process(t, o, testPayload(), false)
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if len(result.Events) != 1 {
		t.Fatalf("expected 1 event from legacy pipeline, got %d", len(result.Events))
	}
	event := result.Events[0]
	if event.PipelineID != "default" {
		t.Errorf("expected default pipeline id, got %q", event.PipelineID)
	}
	if len(event.Destinations) != 1 || event.Destinations[0] != types.DestinationIntervals {
		t.Errorf("expected default destinations, got %v", event.Destinations)
	}
}

func TestProcess_ExplicitPipelineSelection(t *testing.T) {
	p1 := singlePipeline(&types.EnricherConfig{
		ProviderType: providers.TypeMock,
		Config:       map[string]string{"name_suffix": " (A)"},
	})
	p1.ID = "pipe-a"
	p2 := singlePipeline()
	p2.ID = "pipe-b"

	o := NewOrchestrator(pipelineDB(p1, p2), &mocks.MockBlobStore{}, testBucket, providers.NewRegistry(mock.New()))

	payload := testPayload()
	target := "pipe-b"
	payload.PipelineID = &target

	result, err := process(t, o, payload, false)
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if len(result.Events) != 1 {
		t.Fatalf("expected only the selected pipeline to run, got %d events", len(result.Events))
	}
	if result.Events[0].PipelineID != "pipe-b" {
		t.Errorf("expected pipe-b, got %q", result.Events[0].PipelineID)
	}
}
