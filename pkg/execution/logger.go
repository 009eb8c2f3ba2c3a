// Package execution records per-invocation bookkeeping documents so every
// function run is traceable.
package execution

import (
	"context"
	"fmt"
	"time"

	shared "github.com/fitrelay/server/pkg"
	"github.com/fitrelay/server/pkg/types"
)

// ExecutionOptions contains optional fields for execution logging
type ExecutionOptions struct {
	UserID      string
	TriggerType string
}

// LogStart creates an execution record with STARTED status and returns
// its id. Failures are reported but callers normally continue anyway.
func LogStart(ctx context.Context, db shared.Database, service string, opts ExecutionOptions) (string, error) {
	execID := fmt.Sprintf("%s-%d", service, time.Now().UnixNano())

	record := &types.ExecutionRecord{
		ID:          execID,
		Service:     service,
		Status:      types.StatusStarted,
		UserID:      opts.UserID,
		TriggerType: opts.TriggerType,
		StartedAt:   time.Now().UTC(),
	}

	if err := db.SetExecution(ctx, record); err != nil {
		return execID, fmt.Errorf("failed to log execution start: %w", err)
	}
	return execID, nil
}

// LogResult closes an execution record with the given status.
func LogResult(ctx context.Context, db shared.Database, execID string, status types.ExecutionStatus, execErr error) error {
	data := map[string]interface{}{
		"status":      string(status),
		"finished_at": time.Now().UTC(),
	}
	if execErr != nil {
		data["error"] = execErr.Error()
	}
	return db.UpdateExecution(ctx, execID, data)
}
