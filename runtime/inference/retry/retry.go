// Package retry decides whether and when a failed HTTP attempt is retried.
// It provides exponential backoff with bounded growth, retryable error
// detection over the shared error taxonomy, and per-attempt/overall deadline
// enforcement.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net"
	"time"

	"goa.design/infer/runtime/inference/model"
)

// Policy configures retry behavior. Policies are explicit data so callers can
// merge per-request overrides over client defaults.
type Policy struct {
	// MaxRetries is the number of retries after the initial attempt. Zero
	// disables retries entirely.
	MaxRetries int
	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration
	// MaxBackoff caps the delay between retries. Unbounded exponential
	// growth is forbidden.
	MaxBackoff time.Duration
	// Multiplier is the factor by which the backoff increases after each
	// retry. Values below 1.0 are treated as 1.0.
	Multiplier float64
	// Jitter scales each backoff by a uniform sample in [0.5, 1.5] to avoid
	// thundering herds.
	Jitter bool
}

// TimeoutPolicy configures deadlines. A zero duration means unbounded.
type TimeoutPolicy struct {
	// PerAttempt bounds each individual HTTP attempt. An elapsed per-attempt
	// deadline counts as transient for retry classification.
	PerAttempt time.Duration
	// Overall bounds the whole call including backoff sleeps. An elapsed
	// overall deadline aborts unconditionally.
	Overall time.Duration
}

// DefaultPolicy returns the default retry configuration: 3 retries, 500ms
// initial backoff doubling up to 30s, with jitter.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:     3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
		Jitter:         true,
	}
}

// DefaultTimeoutPolicy returns the default deadlines: 60s per attempt,
// unbounded overall.
func DefaultTimeoutPolicy() TimeoutPolicy {
	return TimeoutPolicy{PerAttempt: 60 * time.Second}
}

// Backoff computes the delay before retry n (1-indexed) without jitter. The
// sequence is monotonic nondecreasing and capped at MaxBackoff.
func (p Policy) Backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	mult := p.Multiplier
	if mult < 1.0 {
		mult = 1.0
	}
	d := float64(p.InitialBackoff) * math.Pow(mult, float64(n-1))
	if ceil := float64(p.MaxBackoff); p.MaxBackoff > 0 && d > ceil {
		d = ceil
	}
	return time.Duration(d)
}

// jittered applies the jitter sample to a computed backoff.
func (p Policy) jittered(d time.Duration) time.Duration {
	if !p.Jitter {
		return d
	}
	return time.Duration(float64(d) * (0.5 + rand.Float64())) //nolint:gosec // jitter does not need crypto rand
}

// IsRetryable reports whether an error may succeed on retry: transient
// transport failures, per-attempt timeouts, and the retriable API status
// subset. Caller cancellation is never retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if e, ok := model.AsError(err); ok {
		return e.Retryable()
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

// Do executes fn under the retry policy. fn receives a context bounded by the
// per-attempt deadline; Do itself is bounded by the overall deadline.
//
// Attempt n (1-indexed) failing with error e resolves as follows: a
// non-retriable e surfaces unchanged; a retriable e after the last allowed
// attempt surfaces unchanged when MaxRetries is zero and wrapped in a
// retry-exhausted error otherwise; a retriable e with budget left sleeps the
// backoff and tries again, unless the overall deadline would be exceeded by
// the sleep plus a conservative next-attempt estimate, in which case the call
// abandons with a timeout error.
func Do(ctx context.Context, policy Policy, timeouts TimeoutPolicy, fn func(ctx context.Context) error) error {
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	start := time.Now()
	if timeouts.Overall > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeouts.Overall)
		defer cancel()
	}

	attempts := policy.MaxRetries + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := runAttempt(ctx, timeouts.PerAttempt, fn)
		if err == nil {
			return nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}

		backoff := policy.jittered(policy.Backoff(attempt))
		if timeouts.Overall > 0 {
			// Conservative estimate: the next attempt needs at least as long
			// as its per-attempt budget, or, without one, the mean time spent
			// per attempt so far (backoff sleeps included).
			estimate := timeouts.PerAttempt
			if estimate <= 0 {
				estimate = time.Since(start) / time.Duration(attempt)
			}
			if time.Since(start)+backoff+estimate > timeouts.Overall {
				return model.NewTimeoutError("overall deadline would be exceeded before next attempt")
			}
		}
		select {
		case <-ctx.Done():
			return ctxError(ctx.Err())
		case <-time.After(backoff):
		}
	}
	if policy.MaxRetries == 0 {
		return lastErr
	}
	return model.NewRetryExhausted(attempts, lastErr)
}

// runAttempt bounds one invocation of fn by the per-attempt deadline and
// normalizes an elapsed deadline into the shared timeout error so retry
// classification treats it as transient.
func runAttempt(ctx context.Context, perAttempt time.Duration, fn func(ctx context.Context) error) error {
	actx := ctx
	if perAttempt > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, perAttempt)
		defer cancel()
	}
	err := fn(actx)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return model.NewTimeoutError("attempt deadline exceeded")
	}
	if ctx.Err() != nil {
		return ctxError(ctx.Err())
	}
	return err
}

func ctxError(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return model.NewTimeoutError("overall deadline exceeded")
	case errors.Is(err, context.Canceled):
		return model.NewCanceled(err)
	default:
		return err
	}
}
