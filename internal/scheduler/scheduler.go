// Package scheduler drives probes: one timer per channel, with the delay
// derived from the channel's mode, its backoff multiplier and jitter.
package scheduler

import (
	"context"
	"errors"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/healthwatch/internal/domain"
	"github.com/hamed0406/healthwatch/internal/events"
	"github.com/hamed0406/healthwatch/internal/guard"
	"github.com/hamed0406/healthwatch/internal/health"
	"github.com/hamed0406/healthwatch/internal/probe"
)

type Mode string

const (
	ModeIdle       Mode = "idle"
	ModeBaseline   Mode = "baseline"
	ModeWatch      Mode = "watch"
	ModeIndividual Mode = "individual"
)

var (
	ErrNoActiveWatch = errors.New("no active watch session")
	ErrNotRunning    = errors.New("scheduler not running")
)

type Config struct {
	BaselineEnabled  bool
	BaselineInterval time.Duration
	WatchInterval    time.Duration
	WatchTimeout     time.Duration
	// DefaultTimeout bounds baseline probes of channels without their own timeout.
	DefaultTimeout time.Duration
	JitterPct      float64
}

func (c Config) withDefaults() Config {
	if c.BaselineInterval <= 0 {
		c.BaselineInterval = time.Minute
	}
	if c.WatchInterval <= 0 {
		c.WatchInterval = 5 * time.Second
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 10 * time.Second
	}
	if c.WatchTimeout <= 0 {
		c.WatchTimeout = c.DefaultTimeout
	}
	if c.JitterPct < 0 || c.JitterPct >= 1 {
		c.JitterPct = 0
	}
	return c
}

type Scheduler struct {
	cfg     Config
	prober  probe.Prober
	machine *health.Machine
	gate    *guard.Gate
	pub     events.Publisher
	log     *zap.Logger
	now     func() time.Time
	rand    func() float64

	mu         sync.Mutex
	channels   map[domain.ChannelID]domain.Channel
	timers     map[domain.ChannelID]*time.Timer
	inflight   map[domain.ChannelID]bool
	individual map[domain.ChannelID]*individualWatch
	watchTimer *time.Timer
	running    bool
	gen        uint64
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// New builds a stopped scheduler. gate and pub may be nil.
func New(cfg Config, prober probe.Prober, machine *health.Machine, gate *guard.Gate, pub events.Publisher, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		cfg:        cfg.withDefaults(),
		prober:     prober,
		machine:    machine,
		gate:       gate,
		pub:        pub,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
		rand:       rand.Float64,
		channels:   make(map[domain.ChannelID]domain.Channel),
		timers:     make(map[domain.ChannelID]*time.Timer),
		inflight:   make(map[domain.ChannelID]bool),
		individual: make(map[domain.ChannelID]*individualWatch),
	}
}

func (s *Scheduler) publish(e events.Event) {
	if s.pub != nil {
		s.pub.Publish(e)
	}
}

// Start arms every channel timer with an immediate first run. It is a no-op
// when already running.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.gen++
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.armWatchLocked()
	for id := range s.channels {
		s.armLocked(id)
	}
	s.log.Info("scheduler_started", zap.Int("channels", len(s.channels)))
}

// Stop cancels pending timers and in-flight probes, then waits for them.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.gen++
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	if s.watchTimer != nil {
		s.watchTimer.Stop()
		s.watchTimer = nil
	}
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	s.log.Info("scheduler_stopped")
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// SetChannels replaces the channel set. Removed channels lose their timers,
// individual watches and health state; new and changed ones are (re)armed.
func (s *Scheduler) SetChannels(chs []domain.Channel) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[domain.ChannelID]domain.Channel, len(chs))
	for _, ch := range chs {
		next[ch.ID] = ch
	}
	for id := range s.channels {
		if _, ok := next[id]; ok {
			continue
		}
		s.stopTimerLocked(id)
		if iw := s.individual[id]; iw != nil {
			iw.stop()
			delete(s.individual, id)
		}
		if err := s.machine.RemoveChannel(id, now); err != nil && !errors.Is(err, health.ErrUnknownChannel) {
			s.log.Warn("channel_remove_failed", zap.String("channel_id", string(id)), zap.Error(err))
		}
		s.log.Info("channel_removed", zap.String("channel_id", string(id)))
	}
	for id, ch := range next {
		old, existed := s.channels[id]
		s.machine.SetThreshold(id, ch.Threshold)
		s.channels[id] = ch
		if !existed {
			s.armLocked(id)
		} else if old.IntervalSec != ch.IntervalSec {
			s.rescheduleLocked(id)
		}
	}
}

func (s *Scheduler) Channels() []domain.Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Channel, 0, len(s.channels))
	for _, ch := range s.channels {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Scheduler) Channel(id domain.ChannelID) (domain.Channel, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[id]
	return ch, ok
}

// Mode reports which policy currently drives the channel:
// individual watch > global watch > baseline.
func (s *Scheduler) Mode(id domain.ChannelID) Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.modeLocked(id)
}

func (s *Scheduler) modeLocked(id domain.ChannelID) Mode {
	if _, ok := s.individual[id]; ok {
		return ModeIndividual
	}
	if s.machine.WatchRecording() {
		return ModeWatch
	}
	if s.cfg.BaselineEnabled {
		return ModeBaseline
	}
	return ModeIdle
}

// NextDelay is the delay the channel's next timer would get. ok is false when
// the channel is unknown or idle.
func (s *Scheduler) NextDelay(id domain.ChannelID) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delayLocked(id)
}

func (s *Scheduler) delayLocked(id domain.ChannelID) (time.Duration, bool) {
	ch, ok := s.channels[id]
	if !ok {
		return 0, false
	}
	var base time.Duration
	mult := 1.0
	switch s.modeLocked(id) {
	case ModeIndividual:
		base = s.individual[id].opts.Interval
		if base <= 0 {
			base = s.cfg.WatchInterval
		}
	case ModeWatch:
		base = s.cfg.WatchInterval
	case ModeBaseline:
		base = ch.Interval()
		if base <= 0 {
			base = s.cfg.BaselineInterval
		}
		mult = s.machine.BackoffMultiplier(id)
	default:
		return 0, false
	}
	return s.jitter(time.Duration(float64(base) * mult)), true
}

// jitter spreads d uniformly over d × (1 ± JitterPct).
func (s *Scheduler) jitter(d time.Duration) time.Duration {
	j := s.cfg.JitterPct
	if j == 0 {
		return d
	}
	return time.Duration(float64(d) * (1 + j*(2*s.rand()-1)))
}

func (s *Scheduler) timeoutLocked(ch domain.Channel) time.Duration {
	switch s.modeLocked(ch.ID) {
	case ModeIndividual:
		if t := s.individual[ch.ID].opts.Timeout; t > 0 {
			return t
		}
		return s.cfg.WatchTimeout
	case ModeWatch:
		return s.cfg.WatchTimeout
	}
	if t := ch.Timeout(); t > 0 {
		return t
	}
	return s.cfg.DefaultTimeout
}

func (s *Scheduler) stopTimerLocked(id domain.ChannelID) {
	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
	}
}

// armLocked schedules an immediate first run unless the channel is idle.
func (s *Scheduler) armLocked(id domain.ChannelID) {
	if s.modeLocked(id) != ModeIdle {
		s.scheduleLocked(id, 0)
	}
}

// rescheduleLocked re-arms a channel after its mode or interval changed.
func (s *Scheduler) rescheduleLocked(id domain.ChannelID) {
	if !s.running || s.inflight[id] {
		// the in-flight run re-arms on completion
		return
	}
	d, ok := s.delayLocked(id)
	if !ok {
		s.stopTimerLocked(id)
		return
	}
	s.scheduleLocked(id, d)
}

func (s *Scheduler) rescheduleAllLocked() {
	for id := range s.channels {
		s.rescheduleLocked(id)
	}
}

func (s *Scheduler) scheduleLocked(id domain.ChannelID, d time.Duration) {
	s.stopTimerLocked(id)
	if !s.running {
		return
	}
	gen := s.gen
	s.timers[id] = time.AfterFunc(d, func() { s.fire(id, gen) })
}

func (s *Scheduler) fire(id domain.ChannelID, gen uint64) {
	s.mu.Lock()
	ch, ok := s.channels[id]
	if !s.running || gen != s.gen || !ok || s.inflight[id] {
		s.mu.Unlock()
		return
	}
	delete(s.timers, id)
	s.inflight[id] = true
	s.wg.Add(1)
	ctx := s.ctx
	timeout := s.timeoutLocked(ch)
	s.mu.Unlock()

	defer s.wg.Done()
	s.run(ctx, ch, timeout)

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, id)
	if !s.running || gen != s.gen {
		return
	}
	if _, ok := s.channels[id]; !ok {
		return
	}
	if d, ok := s.delayLocked(id); ok {
		s.scheduleLocked(id, d)
	}
}
