package probe

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/hamed0406/healthwatch/internal/domain"
)

// RetryProber re-runs a failing probe up to Attempts times with a constant
// pause. Only the final result reaches the state machine.
type RetryProber struct {
	Inner    Prober
	Attempts int
	Backoff  time.Duration
}

func (r *RetryProber) Probe(ctx context.Context, ch domain.Channel) Result {
	attempts := r.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var last Result
	tries := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		tries++
		last = r.Inner.Probe(ctx, ch)
		if last.Success {
			return struct{}{}, nil
		}
		return struct{}{}, errors.New(last.Error)
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(r.Backoff)),
		backoff.WithMaxTries(uint(attempts)),
	)
	if err != nil && tries > 1 {
		// annotate so the series is visible in samples
		last.Error = last.Error + " (after retries)"
		if last.Details == nil {
			last.Details = map[string]any{}
		}
		last.Details["attempts"] = tries
	}
	return last
}
