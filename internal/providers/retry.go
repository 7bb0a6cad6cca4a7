package providers

import (
	"context"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog"
)

// RetryPolicy bounds how a capability call is attempted. Each attempt gets
// its own Timeout; waits double from Delay.
type RetryPolicy struct {
	Attempts uint
	Delay    time.Duration
	Timeout  time.Duration
}

// DefaultRetries is how many times a failed call is repeated.
const DefaultRetries = 3

// DefaultRetryPolicy makes one call plus 3 retries with 1s, 2s, 4s backoff
// and 120s per attempt.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: DefaultRetries + 1, Delay: time.Second, Timeout: 120 * time.Second}
}

// WithRetries sets the policy to one call plus n retries. Zero or less
// disables retries.
func (p RetryPolicy) WithRetries(n int) RetryPolicy {
	if n < 0 {
		n = 0
	}
	p.Attempts = uint(n) + 1
	return p
}

// MaxDuration is the longest Do can take when every attempt times out.
func (p RetryPolicy) MaxDuration() time.Duration {
	p = p.normalized()
	total := time.Duration(p.Attempts) * p.Timeout
	for i := uint(0); i+1 < p.Attempts; i++ {
		total += p.Delay << i
	}
	return total
}

func (p RetryPolicy) normalized() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.Attempts == 0 {
		p.Attempts = def.Attempts
	}
	if p.Delay <= 0 {
		p.Delay = def.Delay
	}
	if p.Timeout <= 0 {
		p.Timeout = def.Timeout
	}
	return p
}

// Do runs fn until it succeeds, returns a non-retryable error, the attempts
// run out, or ctx ends. The last error is returned unwrapped.
func Do[T any](ctx context.Context, policy RetryPolicy, logger zerolog.Logger, op string, fn func(context.Context) (T, error)) (T, error) {
	policy = policy.normalized()
	return retry.DoWithData(
		func() (T, error) {
			attemptCtx, cancel := context.WithTimeout(ctx, policy.Timeout)
			defer cancel()
			return fn(attemptCtx)
		},
		retry.Context(ctx),
		retry.Attempts(policy.Attempts),
		retry.Delay(policy.Delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(IsRetryable),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn().Err(err).Str("op", op).Uint("attempt", n+1).Msg("capability call failed, retrying")
		}),
	)
}
