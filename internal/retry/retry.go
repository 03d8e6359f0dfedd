// Package retry holds the explicit backoff policies used around ledger I/O.
package retry

import (
	"context"
	"time"

	"OminisNode/internal/logger"
	"OminisNode/internal/models"
)

// Policy bounds a retry sequence. Attempts counts the first try.
type Policy struct {
	Attempts   int
	Delay      time.Duration
	Multiplier float64
	MaxDelay   time.Duration
}

// Fixed returns a policy with a constant delay between attempts.
func Fixed(attempts int, delay time.Duration) Policy {
	return Policy{Attempts: attempts, Delay: delay, Multiplier: 1}
}

// Backoff returns a policy that doubles the delay up to max.
func Backoff(attempts int, delay, max time.Duration) Policy {
	return Policy{Attempts: attempts, Delay: delay, Multiplier: 2, MaxDelay: max}
}

func (p Policy) attempts() int {
	if p.Attempts <= 0 {
		return 1
	}
	return p.Attempts
}

// Interval returns the wait before attempt n+1, n starting at 1.
func (p Policy) Interval(n int) time.Duration {
	d := p.Delay
	m := p.Multiplier
	if m < 1 {
		m = 1
	}
	for i := 1; i < n; i++ {
		d = time.Duration(float64(d) * m)
		if p.MaxDelay > 0 && d > p.MaxDelay {
			return p.MaxDelay
		}
	}
	return d
}

// Do runs fn until it succeeds, returns a non-transient error, the policy
// is exhausted or ctx is done. Each failed attempt is logged.
func (p Policy) Do(ctx context.Context, log *logger.Logger, op string, fn func(ctx context.Context) error) error {
	var err error
	total := p.attempts()
	for n := 1; n <= total; n++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !models.IsTransient(err) {
			return err
		}
		log.Warn("retrying", "op", op, "attempt", n, "of", total, "err", err)
		if n == total {
			break
		}
		if werr := Sleep(ctx, p.Interval(n)); werr != nil {
			return err
		}
	}
	return err
}

// Poll evaluates check until it reports done, the policy is exhausted or ctx
// is done. It returns whether check ever reported done. Errors from check are
// logged and count as an unsuccessful attempt.
func (p Policy) Poll(ctx context.Context, log *logger.Logger, op string, check func(ctx context.Context) (bool, error)) bool {
	total := p.attempts()
	for n := 1; n <= total; n++ {
		if err := Sleep(ctx, p.Interval(n)); err != nil {
			return false
		}
		ok, err := check(ctx)
		if err != nil {
			log.Warn("poll failed", "op", op, "attempt", n, "of", total, "err", err)
			continue
		}
		if ok {
			return true
		}
		log.Debug("poll pending", "op", op, "attempt", n, "of", total)
	}
	return false
}

// Sleep waits for d or until ctx is done.
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
