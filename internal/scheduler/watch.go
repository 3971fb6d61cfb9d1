package scheduler

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hamed0406/healthwatch/internal/domain"
	"github.com/hamed0406/healthwatch/internal/events"
	"github.com/hamed0406/healthwatch/internal/health"
)

// StartWatch begins a global watch session, ending any active one. Every
// channel without an individual watch moves to the watch interval.
func (s *Scheduler) StartWatch(d domain.WatchDuration) *domain.WatchSession {
	ws := domain.NewWatchSession(uuid.NewString(), s.now(), d)
	started := ws.Summary()

	s.mu.Lock()
	defer s.mu.Unlock()
	// a paused session is still active and must be reported as ended
	cur := s.machine.WatchSession()
	wasActive := cur != nil && cur.Active
	prev := s.machine.SetWatchSession(ws)
	if prev != nil && wasActive {
		s.publish(events.Event{Kind: events.WatchStopped, Watch: prev.Summary(), Reason: "replaced"})
	}
	s.publish(events.Event{Kind: events.WatchStarted, Watch: started})
	s.log.Info("watch_started", zap.String("watch_id", started.ID), zap.Stringer("duration", d))

	s.armWatchLocked()
	s.rescheduleAllLocked()
	return started
}

// StopWatch ends the active global session and returns it with its samples.
func (s *Scheduler) StopWatch() (*domain.WatchSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endWatchLocked("stopped")
}

func (s *Scheduler) endWatchLocked(why string) (*domain.WatchSession, error) {
	ended := s.machine.EndWatch(s.now())
	if ended == nil {
		return nil, ErrNoActiveWatch
	}
	if s.watchTimer != nil {
		s.watchTimer.Stop()
		s.watchTimer = nil
	}
	s.publish(events.Event{Kind: events.WatchStopped, Watch: ended.Summary(), Reason: why})
	s.log.Info("watch_stopped", zap.String("watch_id", ended.ID), zap.String("reason", why))
	s.rescheduleAllLocked()
	return ended, nil
}

// PauseWatch freezes the session clock and sample recording. Channels fall
// back to baseline cadence until resumed.
func (s *Scheduler) PauseWatch() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.machine.PauseWatch(s.now()) {
		return ErrNoActiveWatch
	}
	if s.watchTimer != nil {
		s.watchTimer.Stop()
		s.watchTimer = nil
	}
	s.publish(events.Event{Kind: events.WatchPaused, Watch: s.machine.WatchSession().Summary()})
	s.log.Info("watch_paused")
	s.rescheduleAllLocked()
	return nil
}

// ResumeWatch restarts a paused session; its end is pushed back by the
// paused time.
func (s *Scheduler) ResumeWatch() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.machine.ResumeWatch(s.now()) {
		return ErrNoActiveWatch
	}
	s.publish(events.Event{Kind: events.WatchResumed, Watch: s.machine.WatchSession().Summary()})
	s.log.Info("watch_resumed")
	s.armWatchLocked()
	s.rescheduleAllLocked()
	return nil
}

// armWatchLocked sets the expiry timer for the current fixed-length session.
func (s *Scheduler) armWatchLocked() {
	if s.watchTimer != nil {
		s.watchTimer.Stop()
		s.watchTimer = nil
	}
	if !s.running {
		return
	}
	ws := s.machine.WatchSession()
	if !ws.Recording() {
		return
	}
	left, ok := ws.Remaining(s.now())
	if !ok {
		return
	}
	id := ws.ID
	s.watchTimer = time.AfterFunc(left, func() { s.expireWatch(id) })
}

func (s *Scheduler) expireWatch(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	ws := s.machine.WatchSession()
	if ws == nil || ws.ID != id || !ws.Recording() {
		return
	}
	if left, _ := ws.Remaining(s.now()); left > 0 {
		s.armWatchLocked()
		return
	}
	_, _ = s.endWatchLocked("expired")
}

// IndividualWatch overrides one channel's cadence. Zero Interval or Timeout
// use the global watch settings.
type IndividualWatch struct {
	Interval time.Duration
	Timeout  time.Duration
	Duration domain.WatchDuration
}

type individualWatch struct {
	opts    IndividualWatch
	started time.Time
	timer   *time.Timer
}

func (iw *individualWatch) stop() {
	if iw.timer != nil {
		iw.timer.Stop()
	}
}

// IndividualWatchStatus describes an active per-channel watch.
type IndividualWatchStatus struct {
	ChannelID  domain.ChannelID     `json:"channelId"`
	IntervalMS int64                `json:"intervalMs"`
	TimeoutMS  int64                `json:"timeoutMs"`
	Duration   domain.WatchDuration `json:"duration"`
	StartedAt  time.Time            `json:"startedAt"`
	ExpiresAt  *time.Time           `json:"expiresAt,omitempty"`
}

// StartIndividualWatch replaces any existing individual watch on the channel.
func (s *Scheduler) StartIndividualWatch(id domain.ChannelID, opts IndividualWatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.channels[id]; !ok {
		return fmt.Errorf("%w: %s", health.ErrUnknownChannel, id)
	}
	if old := s.individual[id]; old != nil {
		old.stop()
	}
	iw := &individualWatch{opts: opts, started: s.now()}
	if !opts.Duration.Forever() {
		iw.timer = time.AfterFunc(time.Duration(opts.Duration), func() { s.expireIndividual(id, iw) })
	}
	s.individual[id] = iw
	s.log.Info("individual_watch_started",
		zap.String("channel_id", string(id)),
		zap.Duration("interval", opts.Interval),
		zap.Stringer("duration", opts.Duration),
	)
	s.rescheduleLocked(id)
	return nil
}

// StopIndividualWatch reports whether a watch was active.
func (s *Scheduler) StopIndividualWatch(id domain.ChannelID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	iw, ok := s.individual[id]
	if !ok {
		return false
	}
	iw.stop()
	delete(s.individual, id)
	s.log.Info("individual_watch_stopped", zap.String("channel_id", string(id)))
	s.rescheduleLocked(id)
	return true
}

func (s *Scheduler) expireIndividual(id domain.ChannelID, iw *individualWatch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.individual[id] != iw {
		return
	}
	delete(s.individual, id)
	s.log.Info("individual_watch_expired", zap.String("channel_id", string(id)))
	s.rescheduleLocked(id)
}

func (s *Scheduler) IndividualWatches() []IndividualWatchStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]IndividualWatchStatus, 0, len(s.individual))
	for id, iw := range s.individual {
		st := IndividualWatchStatus{
			ChannelID:  id,
			IntervalMS: iw.opts.Interval.Milliseconds(),
			TimeoutMS:  iw.opts.Timeout.Milliseconds(),
			Duration:   iw.opts.Duration,
			StartedAt:  iw.started,
		}
		if !iw.opts.Duration.Forever() {
			exp := iw.started.Add(time.Duration(iw.opts.Duration))
			st.ExpiresAt = &exp
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChannelID < out[j].ChannelID })
	return out
}
