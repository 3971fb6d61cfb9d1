package monitor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/healthwatch/internal/domain"
	"github.com/hamed0406/healthwatch/internal/health"
	"github.com/hamed0406/healthwatch/internal/scheduler"
	"github.com/hamed0406/healthwatch/internal/stats"
)

// DefaultStatsWindow is used when callers pass a zero window.
const DefaultStatsWindow = 24 * time.Hour

// ChannelView is a channel with its live state. The sample ring is left out.
type ChannelView struct {
	domain.Channel
	State      domain.ChannelState `json:"state"`
	Mode       scheduler.Mode      `json:"mode"`
	OpenOutage *domain.Outage      `json:"openOutage,omitempty"`
}

func (m *Monitor) view(ch domain.Channel) ChannelView {
	st, ok := m.machine.State(ch.ID)
	if !ok {
		st = domain.NewChannelState(ch.ID, m.now())
	}
	v := ChannelView{Channel: ch, State: st.Reduced(0), Mode: m.sched.Mode(ch.ID)}
	if o, ok := m.machine.OpenOutage(ch.ID); ok {
		v.OpenOutage = &o
	}
	return v
}

func (m *Monitor) Channels() []ChannelView {
	chs := m.sched.Channels()
	out := make([]ChannelView, 0, len(chs))
	for _, ch := range chs {
		out = append(out, m.view(ch))
	}
	return out
}

func (m *Monitor) Channel(id domain.ChannelID) (ChannelView, error) {
	ch, ok := m.sched.Channel(id)
	if !ok {
		return ChannelView{}, fmt.Errorf("%w: %s", health.ErrUnknownChannel, id)
	}
	return m.view(ch), nil
}

// Outages returns up to limit newest outages, oldest first. An empty id
// covers every channel.
func (m *Monitor) Outages(id domain.ChannelID, limit int) ([]domain.Outage, error) {
	if id == "" {
		if limit <= 0 {
			limit = domain.MaxOutages
		}
		return m.machine.RecentOutages(limit), nil
	}
	if _, ok := m.sched.Channel(id); !ok {
		return nil, fmt.Errorf("%w: %s", health.ErrUnknownChannel, id)
	}
	out := m.machine.Outages(id)
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// samples prefers storage and falls back to the in-memory ring, which is all
// a follower or a fresh memory store has.
func (m *Monitor) samples(ctx context.Context, id domain.ChannelID, w stats.Window) []domain.Sample {
	stored, err := m.store.GetSamples(ctx, id, w.Start, w.End)
	if err != nil {
		m.log.Warn("stats_samples_failed", zap.String("channel_id", string(id)), zap.Error(err))
	}
	ring := stats.FilterSamples(m.machine.RecentSamples(id), w)
	if len(stored) < len(ring) {
		return ring
	}
	return stored
}

func (m *Monitor) channelStats(ctx context.Context, id domain.ChannelID, w stats.Window) stats.ChannelStats {
	status := domain.StatusUnknown
	if st, ok := m.machine.State(id); ok {
		status = st.Status
	}
	return stats.ForChannel(stats.Input{
		ChannelID: id,
		Status:    status,
		Samples:   m.samples(ctx, id, w),
		Outages:   stats.FilterOutages(m.machine.Outages(id), w),
		Now:       w.End,
	})
}

func (m *Monitor) window(d time.Duration) stats.Window {
	if d <= 0 {
		d = DefaultStatsWindow
	}
	return stats.LastWindow(m.now(), d)
}

// ChannelStats computes statistics for one channel over the trailing window.
func (m *Monitor) ChannelStats(ctx context.Context, id domain.ChannelID, window time.Duration) (stats.ChannelStats, error) {
	if _, ok := m.sched.Channel(id); !ok {
		return stats.ChannelStats{}, fmt.Errorf("%w: %s", health.ErrUnknownChannel, id)
	}
	return m.channelStats(ctx, id, m.window(window)), nil
}

// Report is the fleet-wide statistics view.
type Report struct {
	WindowStart     time.Time              `json:"windowStart"`
	WindowEnd       time.Time              `json:"windowEnd"`
	Global          stats.GlobalStats      `json:"global"`
	Channels        []stats.ChannelStats   `json:"channels"`
	SLOTarget       float64                `json:"sloTarget"`
	Breaches        []stats.Breach         `json:"breaches"`
	WorstBreach     *stats.Breach          `json:"worstBreach,omitempty"`
	Recommendations []stats.Recommendation `json:"recommendations"`
}

func (m *Monitor) Report(ctx context.Context, window time.Duration) Report {
	w := m.window(window)
	chs := m.sched.Channels()
	per := make([]stats.ChannelStats, 0, len(chs))
	for _, ch := range chs {
		per = append(per, m.channelStats(ctx, ch.ID, w))
	}
	r := Report{
		WindowStart:     w.Start,
		WindowEnd:       w.End,
		Global:          stats.Global(per),
		Channels:        per,
		SLOTarget:       m.cfg.SLOTarget,
		Breaches:        stats.SLOBreaches(per, m.cfg.SLOTarget),
		Recommendations: stats.Recommend(per, stats.DefaultRules()),
	}
	if b, ok := stats.WorstBreach(per, m.cfg.SLOTarget); ok {
		r.WorstBreach = &b
	}
	return r
}

func (m *Monitor) RunAll(ctx context.Context) ([]scheduler.RunResult, error) {
	if err := m.requireLeader(); err != nil {
		return nil, err
	}
	return m.sched.RunAllChannelsNow(ctx), nil
}

func (m *Monitor) RunChannel(ctx context.Context, id domain.ChannelID) (scheduler.RunResult, error) {
	if err := m.requireLeader(); err != nil {
		return scheduler.RunResult{}, err
	}
	return m.sched.RunChannelNow(ctx, id)
}

// WatchStatus describes the global session and any per-channel watches.
type WatchStatus struct {
	Session    *domain.WatchSession              `json:"session,omitempty"`
	ElapsedMS  int64                             `json:"elapsedMs"`
	Remaining  *int64                            `json:"remainingMs,omitempty"`
	Individual []scheduler.IndividualWatchStatus `json:"individual"`
}

func (m *Monitor) Watch() WatchStatus {
	ws := WatchStatus{Session: m.machine.WatchSession().Summary(), Individual: m.sched.IndividualWatches()}
	if s := ws.Session; s != nil && s.Active {
		now := m.now()
		ws.ElapsedMS = s.Elapsed(now).Milliseconds()
		if left, ok := s.Remaining(now); ok {
			ms := left.Milliseconds()
			ws.Remaining = &ms
		}
	}
	return ws
}

func (m *Monitor) StartWatch(d domain.WatchDuration) (*domain.WatchSession, error) {
	if err := m.requireLeader(); err != nil {
		return nil, err
	}
	return m.sched.StartWatch(d), nil
}

func (m *Monitor) StopWatch() (*domain.WatchSession, error) {
	if err := m.requireLeader(); err != nil {
		return nil, err
	}
	return m.sched.StopWatch()
}

func (m *Monitor) PauseWatch() error {
	if err := m.requireLeader(); err != nil {
		return err
	}
	return m.sched.PauseWatch()
}

func (m *Monitor) ResumeWatch() error {
	if err := m.requireLeader(); err != nil {
		return err
	}
	return m.sched.ResumeWatch()
}

func (m *Monitor) StartIndividualWatch(id domain.ChannelID, opts scheduler.IndividualWatch) error {
	if err := m.requireLeader(); err != nil {
		return err
	}
	return m.sched.StartIndividualWatch(id, opts)
}

func (m *Monitor) StopIndividualWatch(id domain.ChannelID) error {
	if err := m.requireLeader(); err != nil {
		return err
	}
	if !m.sched.StopIndividualWatch(id) {
		return fmt.Errorf("%w: %s", scheduler.ErrNoActiveWatch, id)
	}
	return nil
}
