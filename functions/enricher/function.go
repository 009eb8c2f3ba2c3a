// Package function is the Cloud Function entry point for the enricher.
// It is triggered by Pub/Sub messages on the activity enrichment topic,
// runs the user's pipelines over the inbound activity and publishes one
// enriched activity event per completed pipeline for the router.
package function

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/cloudevents/sdk-go/v2/event"

	shared "github.com/fitrelay/server/pkg"
	"github.com/fitrelay/server/pkg/bootstrap"
	"github.com/fitrelay/server/pkg/enricher"
	"github.com/fitrelay/server/pkg/enricher/providers"
	"github.com/fitrelay/server/pkg/enricher/providers/auto_increment"
	"github.com/fitrelay/server/pkg/enricher/providers/condition_matcher"
	"github.com/fitrelay/server/pkg/enricher/providers/fitbit_hr"
	"github.com/fitrelay/server/pkg/enricher/providers/mock"
	"github.com/fitrelay/server/pkg/enricher/providers/weather"
	"github.com/fitrelay/server/pkg/framework"
	infrapubsub "github.com/fitrelay/server/pkg/infrastructure/pubsub"
	"github.com/fitrelay/server/pkg/types"
)

const serviceName = "enricher"

// maxDeliveryAttempts matches the subscription's dead-letter policy.
// On the final attempt providers must settle with whatever data exists.
const maxDeliveryAttempts = 5

const enrichedEventType = "com.fitrelay.activity.enriched"

var (
	initOnce     sync.Once
	initErr      error
	service      *bootstrap.Service
	orchestrator *enricher.Orchestrator
)

func init() {
	functions.CloudEvent("EnrichActivity", EnrichActivity)
}

func setup(ctx context.Context) error {
	initOnce.Do(func() {
		service, initErr = bootstrap.NewService(ctx)
		if initErr != nil {
			return
		}
		orchestrator = enricher.NewOrchestrator(
			service.DB,
			service.Store,
			service.Config.GCSArtifactBucket,
			newRegistry(service),
		)
	})
	return initErr
}

// newRegistry assembles every production provider. Providers needing
// infrastructure access get the service injected before registration.
func newRegistry(svc *bootstrap.Service) *providers.Registry {
	provs := []providers.Provider{
		auto_increment.New(),
		condition_matcher.New(),
		fitbit_hr.New(),
		weather.New(),
		mock.New(),
	}
	for _, p := range provs {
		if sa, ok := p.(providers.ServiceAware); ok {
			sa.SetService(svc)
		}
	}
	return providers.NewRegistry(provs...)
}

// EnrichActivity handles an activity enrichment Pub/Sub trigger.
func EnrichActivity(ctx context.Context, e event.Event) error {
	if err := setup(ctx); err != nil {
		return fmt.Errorf("service init: %w", err)
	}
	return framework.WrapCloudEvent(serviceName, service, handle)(ctx, e)
}

func handle(ctx context.Context, e event.Event, fwCtx *framework.FrameworkContext) (types.ExecutionStatus, error) {
	logger := fwCtx.Logger

	var msg types.PubSubMessage
	if err := e.DataAs(&msg); err != nil {
		return types.StatusFailure, fmt.Errorf("failed to parse pubsub envelope: %w", err)
	}

	var payload types.ActivityPayload
	if err := json.Unmarshal(msg.Message.Data, &payload); err != nil {
		return types.StatusFailure, fmt.Errorf("failed to parse activity payload: %w", err)
	}

	forceFinal := payload.ForceFinal
	if msg.DeliveryAttempt != nil && *msg.DeliveryAttempt >= maxDeliveryAttempts {
		logger.Warn("Final delivery attempt, forcing best-effort enrichment", "attempt", *msg.DeliveryAttempt)
		forceFinal = true
	}

	result, err := orchestrator.Process(ctx, logger, &payload, fwCtx.ExecutionID, fwCtx.ExecutionID, forceFinal)
	if err != nil {
		if retryErr, ok := err.(*providers.RetryableError); ok {
			logger.Info("Enrichment lagging, nacking for redelivery", "retry_after", retryErr.RetryAfter, "reason", retryErr.Reason)
			return types.StatusLaggedRetry, err
		}
		return types.StatusFailure, err
	}

	for _, enrichedEvent := range result.Events {
		ce, err := infrapubsub.NewCloudEvent(serviceName, enrichedEventType, enrichedEvent)
		if err != nil {
			return types.StatusFailure, fmt.Errorf("failed to build enriched activity event: %w", err)
		}
		msgID, err := service.Pub.PublishCloudEvent(ctx, shared.TopicEnrichedActivity, ce)
		if err != nil {
			return types.StatusFailure, fmt.Errorf("failed to publish enriched activity event: %w", err)
		}
		logger.Info("Published enriched activity event",
			"message_id", msgID,
			"activity_id", enrichedEvent.ActivityID,
			"pipeline_id", enrichedEvent.PipelineID,
			"fit_uri", enrichedEvent.FitFileURI)
	}

	return result.Status, nil
}
