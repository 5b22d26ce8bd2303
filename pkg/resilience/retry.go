package resilience

import "time"

// RetryPolicy bounds automatic recovery attempts with a fixed backoff.
// Attempts are scheduled by the caller; the policy never sleeps.
type RetryPolicy struct {
	MaxRetries int
	Backoff    time.Duration
}

func NewRetryPolicy(maxRetries int, backoff time.Duration) RetryPolicy {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if backoff <= 0 {
		backoff = 2 * time.Second
	}
	return RetryPolicy{MaxRetries: maxRetries, Backoff: backoff}
}

// Next reports the delay before retry number attempt (1-based) and whether
// that attempt is still allowed.
func (r RetryPolicy) Next(attempt int) (time.Duration, bool) {
	if attempt < 1 || attempt > r.MaxRetries {
		return 0, false
	}
	return r.Backoff, true
}
