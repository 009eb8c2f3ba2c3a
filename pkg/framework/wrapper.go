// Package framework wraps CloudEvent handlers with the invocation
// plumbing every function shares: execution records, a per-invocation
// logger and Sentry capture.
package framework

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/cloudevents/sdk-go/v2/event"

	"github.com/fitrelay/server/pkg/bootstrap"
	"github.com/fitrelay/server/pkg/execution"
	"github.com/fitrelay/server/pkg/infrastructure/sentry"
	"github.com/fitrelay/server/pkg/types"
)

// FrameworkContext contains dependencies injected by the framework
type FrameworkContext struct {
	Service     *bootstrap.Service
	Logger      *slog.Logger
	ExecutionID string
}

// HandlerFunc is the signature for a cloud function handler. The
// returned status classifies the run for the execution record; a nil
// error with StatusSkipped is a deliberate no-op, not a failure.
type HandlerFunc func(ctx context.Context, e event.Event, fwCtx *FrameworkContext) (types.ExecutionStatus, error)

// WrapCloudEvent wraps a handler with automatic execution logging and
// error capture.
func WrapCloudEvent(serviceName string, svc *bootstrap.Service, handler HandlerFunc) func(context.Context, event.Event) error {
	return func(ctx context.Context, e event.Event) error {
		userID := extractUserID(e)

		logger := bootstrap.NewLogger(serviceName)
		if userID != "" {
			logger = logger.With("user_id", userID)
		}

		execID, err := execution.LogStart(ctx, svc.DB, serviceName, execution.ExecutionOptions{
			UserID:      userID,
			TriggerType: "pubsub",
		})
		if err != nil {
			// Don't fail the function just because bookkeeping failed
			logger.Error("Failed to log execution start", "error", err)
		}

		logger = logger.With("execution_id", execID)
		logger.Info("Function started")

		fwCtx := &FrameworkContext{
			Service:     svc,
			Logger:      logger,
			ExecutionID: execID,
		}

		status, handlerErr := handler(ctx, e, fwCtx)
		if status == "" {
			if handlerErr != nil {
				status = types.StatusFailure
			} else {
				status = types.StatusSuccess
			}
		}

		if handlerErr != nil {
			logger.Error("Function failed", "error", handlerErr, "status", status)
			sentry.CaptureError(handlerErr, serviceName, map[string]string{"execution_id": execID})
			sentry.Flush(2 * time.Second)
		} else {
			logger.Info("Function completed", "status", status)
		}

		if logErr := execution.LogResult(ctx, svc.DB, execID, status, handlerErr); logErr != nil {
			logger.Warn("Failed to log execution result", "error", logErr)
		}

		return handlerErr
	}
}

// extractUserID pulls the user id out of the Pub/Sub envelope without
// committing to a full payload decode.
func extractUserID(e event.Event) string {
	var msg types.PubSubMessage
	if err := e.DataAs(&msg); err != nil {
		return ""
	}
	var peek struct {
		UserID string `json:"user_id"`
	}
	if err := json.Unmarshal(msg.Message.Data, &peek); err != nil {
		return ""
	}
	return peek.UserID
}
