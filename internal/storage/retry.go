package storage

import (
	"context"

	"github.com/cenkalti/backoff/v4"

	"order-matching-engine/internal/tradeerr"
)

// withRetry runs op once, and on failure retries it exactly once more after
// a jittered exponential backoff delay, per spec §7's "transient store
// failure: retry once per operation with jittered backoff". If both
// attempts fail, the error is classified KindTransient so callers can abort
// and roll back the enclosing order-processing unit (spec §5).
//
// ctx carries the caller-supplied deadline (spec §5's "store operations
// accept a caller-supplied deadline"); its expiry aborts the in-flight
// attempt and surfaces as a timeout error.
func withRetry(ctx context.Context, op string, fn func() error) error {
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 1), ctx)

	err := backoff.Retry(fn, b)
	if err != nil {
		if ctx.Err() != nil {
			return tradeerr.New(tradeerr.KindTransient, op, ctx.Err())
		}
		return tradeerr.New(tradeerr.KindTransient, op, err)
	}
	return nil
}
