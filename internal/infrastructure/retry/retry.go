// Package retry provides a small bounded retry policy shared by the
// broker connect path and the publish recovery path.
//
// A Policy runs an operation up to MaxAttempts times with a fixed delay
// (plus optional random jitter) between failed attempts. Errors wrapped
// with Permanent stop the loop immediately; they describe configuration
// problems that another attempt cannot fix.
//
//	p := retry.Policy{MaxAttempts: 3, Delay: 2 * time.Second}
//	err := p.Do(ctx, func(ctx context.Context, attempt int) error {
//	    return transport.Connect(host, port, keepalive)
//	})
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// Policy describes how many times an operation is attempted and how long
// to wait between attempts. The zero value runs the operation once.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Values below 1 are treated as 1.
	MaxAttempts int

	// Delay is the fixed pause between a failed attempt and the next one.
	Delay time.Duration

	// Jitter, when positive, adds a random duration in [0, Jitter) to each delay.
	Jitter time.Duration

	// OnRetry, when set, is called after a failed attempt that will be retried.
	OnRetry func(attempt int, err error)

	// Sleep waits for d or until ctx is done. Nil uses a real timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Op is a single attempt. attempt starts at 1.
type Op func(ctx context.Context, attempt int) error

// Do runs op according to the policy and returns nil on the first success.
//
// On exhaustion it returns the error of the last attempt. A Permanent error
// is returned unwrapped without further attempts. If ctx is cancelled while
// waiting between attempts the context error is joined with the last
// attempt's error.
func (p Policy) Do(ctx context.Context, op Op) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := op(ctx, attempt)
		if err == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		lastErr = err

		if attempt == attempts {
			break
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}
		if sleepErr := p.sleep(ctx, p.wait()); sleepErr != nil {
			return errors.Join(lastErr, sleepErr)
		}
	}

	return lastErr
}

// wait returns the delay before the next attempt.
func (p Policy) wait() time.Duration {
	d := p.Delay
	if p.Jitter > 0 {
		d += time.Duration(rand.Int63n(int64(p.Jitter))) //nolint:gosec // jitter does not need a CSPRNG
	}
	return d
}

func (p Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	return Sleep(ctx, d)
}

// Sleep waits for d, returning early with ctx.Err() if ctx is done.
// A non-positive d only checks the context.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Permanent(nil) is nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var perm *permanentError
	return errors.As(err, &perm)
}
