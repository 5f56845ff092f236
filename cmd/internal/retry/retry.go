// Package retry holds the bounded, declared backoff schedules used by the device flows.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Policy is an explicit schedule: the first attempt runs immediately, attempt n+1 waits
// Delays[n]. The last delay repeats once the list runs out. MaxAttempts counts every
// attempt including the first.
type Policy struct {
	Delays      []time.Duration
	MaxAttempts int
}

// Delay returns the wait after the given zero-based attempt.
func (p Policy) Delay(attempt int) time.Duration {
	if len(p.Delays) == 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= len(p.Delays) {
		return p.Delays[len(p.Delays)-1]
	}
	return p.Delays[attempt]
}

// Attempts returns MaxAttempts, at least 1.
func (p Policy) Attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// BackOff returns a fresh backoff.BackOff walking the schedule, then backoff.Stop.
func (p Policy) BackOff() backoff.BackOff {
	return &scheduleBackOff{policy: p}
}

type scheduleBackOff struct {
	policy Policy
	next   int
}

func (b *scheduleBackOff) NextBackOff() time.Duration {
	if b.next >= b.policy.Attempts()-1 {
		return backoff.Stop
	}
	d := b.policy.Delay(b.next)
	b.next++
	return d
}

func (b *scheduleBackOff) Reset() { b.next = 0 }

// WaitFunc blocks for d or until ctx is done.
type WaitFunc func(ctx context.Context, d time.Duration) error

// Sleep is the production WaitFunc. The timer is stopped on every exit path.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do runs op under p with backoff.Retry. Errors wrapped with backoff.Permanent end
// the loop early and are returned unwrapped.
func Do[T any](ctx context.Context, p Policy, op func() (T, error), notify func(err error, next time.Duration)) (T, error) {
	opts := []backoff.RetryOption{
		backoff.WithBackOff(p.BackOff()),
		backoff.WithMaxTries(uint(p.Attempts())),
	}
	if notify != nil {
		opts = append(opts, backoff.WithNotify(backoff.Notify(notify)))
	}
	return backoff.Retry(ctx, backoff.Operation[T](op), opts...)
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error { return backoff.Permanent(err) }
