package turn

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy bounds capture restarts after transient failures.
type RetryPolicy struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int     // consecutive start or unknown failures before capture halts; 0 = unbounded
	Jitter      float64 // randomization factor in [0,1)
}

// DefaultRetryPolicy restarts after 250ms, doubling up to 8s, and halts after
// eight failed restarts in a row.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Base: 250 * time.Millisecond, Max: 8 * time.Second, MaxAttempts: 8, Jitter: 0.2}
}

func (p RetryPolicy) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if p.Base > 0 {
		b.InitialInterval = p.Base
	}
	if p.Max > 0 {
		b.MaxInterval = p.Max
	}
	b.Multiplier = 2
	b.RandomizationFactor = p.Jitter
	b.Reset()
	return b
}
