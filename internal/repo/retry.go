package repo

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/hamed0406/healthwatch/internal/domain"
)

const DefaultAttempts = 3

// Retrying wraps a Store so every call is retried with bounded exponential
// backoff. The last error is returned once attempts are exhausted.
type Retrying struct {
	inner    Store
	attempts uint
	initial  time.Duration
	log      *zap.Logger
}

var _ Store = (*Retrying)(nil)

func NewRetrying(inner Store, attempts int, log *zap.Logger) *Retrying {
	if attempts < 1 {
		attempts = DefaultAttempts
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Retrying{inner: inner, attempts: uint(attempts), initial: 100 * time.Millisecond, log: log}
}

func (r *Retrying) Unwrap() Store { return r.inner }

func retry[T any](ctx context.Context, r *Retrying, op string, fn func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.initial
	b.MaxInterval = 2 * time.Second
	return backoff.Retry(ctx, fn,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(r.attempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			r.log.Debug("storage_retry", zap.String("op", op), zap.Duration("next", next), zap.Error(err))
		}),
	)
}

func retryErr(ctx context.Context, r *Retrying, op string, fn func() error) error {
	_, err := retry(ctx, r, op, func() (struct{}, error) { return struct{}{}, fn() })
	return err
}

func (r *Retrying) GetChannelState(ctx context.Context, id domain.ChannelID) (*domain.ChannelState, error) {
	return retry(ctx, r, "get_channel_state", func() (*domain.ChannelState, error) { return r.inner.GetChannelState(ctx, id) })
}

func (r *Retrying) SetChannelState(ctx context.Context, st domain.ChannelState) error {
	return retryErr(ctx, r, "set_channel_state", func() error { return r.inner.SetChannelState(ctx, st) })
}

func (r *Retrying) ListChannelStates(ctx context.Context) ([]domain.ChannelState, error) {
	return retry(ctx, r, "list_channel_states", func() ([]domain.ChannelState, error) { return r.inner.ListChannelStates(ctx) })
}

func (r *Retrying) DeleteChannelState(ctx context.Context, id domain.ChannelID) error {
	return retryErr(ctx, r, "delete_channel_state", func() error { return r.inner.DeleteChannelState(ctx, id) })
}

func (r *Retrying) GetOutages(ctx context.Context, id domain.ChannelID, limit int) ([]domain.Outage, error) {
	return retry(ctx, r, "get_outages", func() ([]domain.Outage, error) { return r.inner.GetOutages(ctx, id, limit) })
}

func (r *Retrying) RecordOutage(ctx context.Context, o domain.Outage) error {
	return retryErr(ctx, r, "record_outage", func() error { return r.inner.RecordOutage(ctx, o) })
}

func (r *Retrying) UpdateOutage(ctx context.Context, o domain.Outage) error {
	return retryErr(ctx, r, "update_outage", func() error { return r.inner.UpdateOutage(ctx, o) })
}

func (r *Retrying) GetCurrentWatchSession(ctx context.Context) (*domain.WatchSession, error) {
	return retry(ctx, r, "get_watch_session", func() (*domain.WatchSession, error) { return r.inner.GetCurrentWatchSession(ctx) })
}

func (r *Retrying) StartWatchSession(ctx context.Context, ws domain.WatchSession) error {
	return retryErr(ctx, r, "start_watch_session", func() error { return r.inner.StartWatchSession(ctx, ws) })
}

func (r *Retrying) EndWatchSession(ctx context.Context, ws domain.WatchSession) error {
	return retryErr(ctx, r, "end_watch_session", func() error { return r.inner.EndWatchSession(ctx, ws) })
}

func (r *Retrying) AppendSample(ctx context.Context, id domain.ChannelID, s domain.Sample) error {
	return retryErr(ctx, r, "append_sample", func() error { return r.inner.AppendSample(ctx, id, s) })
}

func (r *Retrying) GetSamples(ctx context.Context, id domain.ChannelID, start, end time.Time) ([]domain.Sample, error) {
	return retry(ctx, r, "get_samples", func() ([]domain.Sample, error) { return r.inner.GetSamples(ctx, id, start, end) })
}

func (r *Retrying) GetAlert(ctx context.Context, id domain.ChannelID) (*AlertRecord, error) {
	return retry(ctx, r, "get_alert", func() (*AlertRecord, error) { return r.inner.GetAlert(ctx, id) })
}

func (r *Retrying) SetAlert(ctx context.Context, id domain.ChannelID, status domain.Status, sentAt time.Time) error {
	return retryErr(ctx, r, "set_alert", func() error { return r.inner.SetAlert(ctx, id, status, sentAt) })
}

func (r *Retrying) Close() error { return r.inner.Close() }
