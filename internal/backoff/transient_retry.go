package backoff

import "context"

// RetryTransient retries fn with exponential backoff, but only for errors
// classified as transient by Classify; a non-transient error propagates
// immediately, consuming no further attempts. Implements the retry/
// transient-error policy: at most maxAttempts tries total, sleeping
// min(base*factor^attempt, max) plus jitter between attempts.
func RetryTransient[T any](
	ctx context.Context,
	policy BackoffPolicy,
	maxAttempts int,
	fn func(attempt int) (T, error),
) (T, error) {
	var zero T
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		value, err := fn(attempt)
		if err == nil {
			return value, nil
		}
		if !IsTransient(err) {
			return zero, err
		}

		lastErr = err
		if attempt < maxAttempts {
			if serr := SleepWithBackoff(ctx, policy, attempt); serr != nil {
				return zero, serr
			}
		}
	}

	return zero, lastErr
}
