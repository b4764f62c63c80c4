package chat

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"
)

const (
	defaultLockTimeout = 2 * time.Second
	defaultLockRetries = 2
)

// convLock is the single write lock of a conversation. Acquisition is
// bounded by timeout and retried before giving up with ErrTimeout.
type convLock struct {
	sem     *semaphore.Weighted
	timeout time.Duration
	retries int
}

func newConvLock(timeout time.Duration, retries int) *convLock {
	if timeout <= 0 {
		timeout = defaultLockTimeout
	}
	if retries < 0 {
		retries = 0
	}
	return &convLock{
		sem:     semaphore.NewWeighted(1),
		timeout: timeout,
		retries: retries,
	}
}

func (l *convLock) acquire(ctx context.Context) error {
	for attempt := 0; attempt <= l.retries; attempt++ {
		actx, cancel := context.WithTimeout(ctx, l.timeout)
		err := l.sem.Acquire(actx, 1)
		cancel()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	return ErrTimeout
}

func (l *convLock) release() {
	l.sem.Release(1)
}
