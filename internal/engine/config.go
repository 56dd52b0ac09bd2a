package engine

import "time"

func exponential(retries int, first, ceiling time.Duration) RetryPolicy {
	return RetryPolicy{
		MaxRetries:   retries,
		InitialDelay: first,
		MaxDelay:     ceiling,
		Multiplier:   2,
		Jitter:       true,
	}
}

// DefaultRetryConfig returns the policies used when a caller sets none.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		EmbedPolicy:    exponential(3, time.Second, 30*time.Second),
		GeneratePolicy: exponential(3, time.Second, 30*time.Second),
		FetchPolicy:    exponential(2, 500*time.Millisecond, 10*time.Second),
	}
}

// DefaultTimeouts returns per-call bounds for external providers.
func DefaultTimeouts() Timeouts {
	return Timeouts{Embed: time.Minute, Generate: 2 * time.Minute, Fetch: 30 * time.Second}
}
