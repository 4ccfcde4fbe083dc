package llm

import (
	"context"
	"time"
)

// RetryBackoff is the exponential backoff schedule: 2s, 4s, 8s. Only the
// first MaxAttempts-1 entries are ever slept on; the schedule is kept at
// its full 3-element shape because it is the schedule spec.md §4.8 names,
// not because all of it is reachable at MaxAttempts==3.
var RetryBackoff = []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}

// MaxAttempts is the total number of calls to next (the original plus
// retries) a query is allowed, per spec.md §4.8 point 4: "retry up to 3
// total attempts".
var MaxAttempts = 3

// RetryMiddleware retries a Complete call on transient failures (network
// error, timeout, 5xx, 429) up to MaxAttempts total attempts. Any other
// error, including non-retryable 4xx, is returned immediately.
func RetryMiddleware() Middleware {
	return MiddlewareFunc{
		Complete: func(ctx context.Context, req Request, next CompleteFunc) (Response, error) {
			var lastErr error
			for attempt := 0; attempt < MaxAttempts; attempt++ {
				resp, err := next(ctx, req)
				if err == nil {
					return resp, nil
				}
				lastErr = err
				if !isRetryable(err) || attempt == MaxAttempts-1 {
					return Response{}, err
				}
				wait := RetryBackoff[attempt]
				if d := retryAfterHint(err); d != nil && *d > wait {
					wait = *d
				}
				select {
				case <-ctx.Done():
					return Response{}, ctx.Err()
				case <-time.After(wait):
				}
			}
			return Response{}, lastErr
		},
	}
}

func isRetryable(err error) bool {
	if e, ok := err.(Error); ok {
		return e.Retryable()
	}
	return false
}

func retryAfterHint(err error) *time.Duration {
	if e, ok := err.(Error); ok {
		return e.RetryAfter()
	}
	return nil
}
