package provider

import (
	"time"

	"github.com/sells-group/enrich-cli/internal/resilience"
)

// classifyStatus folds an HTTP error status into the outcome taxonomy.
// Adapters call it after unwrapping their client's typed error.
func classifyStatus(status int, retryAfter time.Duration, err error) Outcome {
	switch {
	case status == 429:
		return RateLimited(retryAfter)
	case status == 401 || status == 402:
		// Bad credentials or exhausted plan. Rotating identities won't help.
		return Blocked(false, err)
	case status == 403:
		// Provider-side defense; a fresh identity may get through.
		return Blocked(true, err)
	case resilience.IsTransientHTTPStatus(status):
		return Transient(err)
	default:
		return Blocked(false, err)
	}
}

// classifyErr folds an untyped client error into the outcome taxonomy.
// Network-level failures are worth retrying; anything else (bad request
// construction, malformed response) won't improve on a second attempt.
func classifyErr(err error) Outcome {
	if resilience.IsTransient(err) {
		return Transient(err)
	}
	return Blocked(false, err)
}
