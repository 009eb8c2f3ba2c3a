package providers

import (
	"fmt"
	"time"
)

// RetryableError signals the messaging layer that the triggering message
// should be nacked and redelivered. The orchestrator folds lingering
// VerdictRetry outcomes into one of these; providers themselves only
// return Outcome values.
type RetryableError struct {
	Err        error
	RetryAfter time.Duration
	Reason     string
}

func (e *RetryableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("retryable: %s (retry after %v)", e.Err.Error(), e.RetryAfter)
	}
	return fmt.Sprintf("retryable: %s (retry after %v)", e.Reason, e.RetryAfter)
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}
