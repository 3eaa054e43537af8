package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/muniportal/portal-auth/internal/repository"
)

const defaultReadRetryBackoff = 50 * time.Millisecond

// retryRead runs a read-only store call and repeats it once after backoff when it
// fails for a reason other than a missing record or a cancelled context.
func retryRead[T any](ctx context.Context, backoff time.Duration, read func(context.Context) (T, error)) (T, error) {
	value, err := read(ctx)
	if err == nil || !retryable(ctx, err) {
		return value, err
	}

	timer := time.NewTimer(backoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return value, err
	case <-timer.C:
	}

	return read(ctx)
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	switch {
	case errors.Is(err, repository.ErrNotFound),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	default:
		return true
	}
}
