package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hamed0406/healthwatch/internal/domain"
	"github.com/hamed0406/healthwatch/internal/events"
	"github.com/hamed0406/healthwatch/internal/health"
)

// maxOnDemand bounds concurrent probes of RunAllChannelsNow.
const maxOnDemand = 8

// RunResult is the outcome of one probe cycle. Skipped cycles carry the
// failing guard in Reason and no transition.
type RunResult struct {
	ChannelID  domain.ChannelID   `json:"channelId"`
	Skipped    bool               `json:"skipped"`
	Reason     string             `json:"reason,omitempty"`
	Sample     *domain.Sample     `json:"sample,omitempty"`
	From       domain.Status      `json:"from,omitempty"`
	To         domain.Status      `json:"to,omitempty"`
	Transition *health.Transition `json:"-"`
}

// run performs one guarded probe and feeds the result to the state machine.
func (s *Scheduler) run(ctx context.Context, ch domain.Channel, timeout time.Duration) RunResult {
	res := RunResult{ChannelID: ch.ID}
	if s.gate != nil && len(ch.Guards) > 0 {
		if name, gr, ok := s.gate.Allow(ctx, ch.Guards); !ok {
			res.Skipped = true
			res.Reason = fmt.Sprintf("guard %s: %s", name, gr.Error)
			s.publish(events.Event{Kind: events.ProbeSkipped, ChannelID: ch.ID, Reason: res.Reason})
			s.log.Debug("probe_skipped", zap.String("channel_id", string(ch.ID)), zap.String("guard", name))
			return res
		}
	}

	pctx, cancel := context.WithTimeout(ctx, timeout)
	out := s.prober.Probe(pctx, ch)
	cancel()
	if ctx.Err() != nil {
		// stopped mid-probe; a cancelled probe says nothing about the target
		res.Skipped = true
		res.Reason = "cancelled"
		return res
	}

	sample, err := out.Sample(s.now())
	if err != nil {
		s.log.Warn("probe_result_invalid", zap.String("channel_id", string(ch.ID)), zap.Error(err))
		res.Skipped = true
		res.Reason = err.Error()
		return res
	}
	tr := s.machine.Apply(ch.ID, sample)
	res.Sample = &sample
	res.From, res.To = tr.From, tr.To
	res.Transition = &tr

	s.log.Debug("probe_done",
		zap.String("channel_id", string(ch.ID)),
		zap.Bool("success", out.Success),
		zap.Float64("latency_ms", out.LatencyMS),
		zap.String("error", out.Error),
	)
	if tr.Changed() {
		s.log.Info("channel_state_changed",
			zap.String("channel_id", string(ch.ID)),
			zap.String("from", string(tr.From)),
			zap.String("to", string(tr.To)),
		)
	}
	return res
}

// RunChannelNow probes one channel outside its timer. The timer schedule is
// left untouched.
func (s *Scheduler) RunChannelNow(ctx context.Context, id domain.ChannelID) (RunResult, error) {
	s.mu.Lock()
	ch, ok := s.channels[id]
	var timeout time.Duration
	if ok {
		timeout = s.timeoutLocked(ch)
	}
	s.mu.Unlock()
	if !ok {
		return RunResult{}, fmt.Errorf("%w: %s", health.ErrUnknownChannel, id)
	}
	return s.run(ctx, ch, timeout), nil
}

// RunAllChannelsNow probes every channel concurrently, sorted by channel id.
func (s *Scheduler) RunAllChannelsNow(ctx context.Context) []RunResult {
	chs := s.Channels()
	out := make([]RunResult, len(chs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxOnDemand)
	for i, ch := range chs {
		g.Go(func() error {
			s.mu.Lock()
			timeout := s.timeoutLocked(ch)
			s.mu.Unlock()
			out[i] = s.run(gctx, ch, timeout)
			return nil
		})
	}
	_ = g.Wait()
	return out
}
