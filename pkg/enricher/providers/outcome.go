package providers

import "time"

// Verdict classifies a provider run.
type Verdict int

const (
	// VerdictOK means the provider finished; Patch carries its changes
	// (possibly none).
	VerdictOK Verdict = iota

	// VerdictRetry means upstream data is not ready yet; the whole
	// message should be retried after RetryAfter.
	VerdictRetry

	// VerdictFatal means the provider failed permanently for this
	// activity.
	VerdictFatal
)

func (v Verdict) String() string {
	switch v {
	case VerdictOK:
		return "ok"
	case VerdictRetry:
		return "retry"
	case VerdictFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Outcome is the tagged result of a provider run. Exactly the fields
// for its verdict are set; callers switch on Verdict rather than
// type-asserting errors.
type Outcome struct {
	Verdict Verdict

	// Set for VerdictOK. A nil patch is a successful no-op.
	Patch *Patch

	// Set for VerdictRetry.
	RetryAfter  time.Duration
	RetryReason string

	// Set for VerdictFatal.
	Err error
}

// OK wraps a patch in a successful outcome. OK(nil) is a no-op success.
func OK(patch *Patch) Outcome {
	return Outcome{Verdict: VerdictOK, Patch: patch}
}

// Retry asks for the message to be redelivered after the given delay.
func Retry(after time.Duration, reason string) Outcome {
	return Outcome{Verdict: VerdictRetry, RetryAfter: after, RetryReason: reason}
}

// Fatal marks the provider permanently failed for this activity.
func Fatal(err error) Outcome {
	return Outcome{Verdict: VerdictFatal, Err: err}
}
