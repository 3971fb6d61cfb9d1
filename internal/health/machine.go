// Package health owns per-channel health state. It turns a stream of probe
// samples into debounced online/offline status and an outage log.
//
// The Machine is the single writer of ChannelState. On a leader it is driven
// by Apply; on a follower by Mirror. Both hold the same lock, and events are
// published while it is held so consumers see each channel's events in the
// order they were produced.
//
// The backoff multiplier only grows on failures after the channel is already
// offline; the failure that confirms an outage leaves it at 1. Any success
// resets it.
package health

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hamed0406/healthwatch/internal/domain"
	"github.com/hamed0406/healthwatch/internal/events"
)

var ErrUnknownChannel = errors.New("unknown channel")

const (
	DefaultThreshold     = 3
	DefaultBackoffFactor = 2.0
	DefaultBackoffMax    = 8.0
)

type Config struct {
	Threshold     int
	BackoffFactor float64
	BackoffMax    float64
}

func (c Config) withDefaults() Config {
	if c.Threshold <= 0 {
		c.Threshold = DefaultThreshold
	}
	if c.BackoffFactor < 1 {
		c.BackoffFactor = DefaultBackoffFactor
	}
	if c.BackoffMax < 1 {
		c.BackoffMax = DefaultBackoffMax
	}
	return c
}

// Transition describes the effect of one Apply call.
type Transition struct {
	ChannelID domain.ChannelID
	Sample    domain.Sample
	From      domain.Status
	To        domain.Status
	Opened    *domain.Outage
	Closed    *domain.Outage
	State     domain.ChannelState
}

func (t Transition) Changed() bool { return t.From != t.To }

type Machine struct {
	mu         sync.Mutex
	cfg        Config
	thresholds map[domain.ChannelID]int
	states     map[domain.ChannelID]*domain.ChannelState
	outages    []domain.Outage
	watch      *domain.WatchSession

	pub   events.Publisher
	log   *zap.Logger
	newID func() string
}

func New(cfg Config, pub events.Publisher, log *zap.Logger) *Machine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Machine{
		cfg:        cfg.withDefaults(),
		thresholds: make(map[domain.ChannelID]int),
		states:     make(map[domain.ChannelID]*domain.ChannelState),
		pub:        pub,
		log:        log,
		newID:      uuid.NewString,
	}
}

func (m *Machine) publish(e events.Event) {
	if m.pub != nil {
		m.pub.Publish(e)
	}
}

// SetThreshold overrides the consecutive-failure threshold for one channel;
// n <= 0 restores the default.
func (m *Machine) SetThreshold(id domain.ChannelID, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n <= 0 {
		delete(m.thresholds, id)
		return
	}
	m.thresholds[id] = n
}

func (m *Machine) threshold(id domain.ChannelID) int {
	if n, ok := m.thresholds[id]; ok {
		return n
	}
	return m.cfg.Threshold
}

// stateLocked returns the channel's state, creating it on first reference.
func (m *Machine) stateLocked(id domain.ChannelID, now time.Time) *domain.ChannelState {
	st, ok := m.states[id]
	if !ok {
		s := domain.NewChannelState(id, now)
		st = &s
		m.states[id] = st
	}
	return st
}

// Apply feeds one probe sample into the channel's state. The sample timestamp
// is the clock for every transition it causes.
func (m *Machine) Apply(id domain.ChannelID, s domain.Sample) Transition {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := s.Timestamp
	st := m.stateLocked(id, now)
	tr := Transition{ChannelID: id, Sample: s, From: st.Status}

	if s.Success {
		st.ConsecutiveFailures = 0
		st.FirstFailure = nil
		st.BackoffMultiplier = 1
		if st.Status != domain.StatusOnline {
			wasOffline := st.Status == domain.StatusOffline
			st.Status = domain.StatusOnline
			st.LastStateChange = now
			if wasOffline {
				tr.Closed = m.closeOutageLocked(id, now)
			}
		}
	} else {
		wasOffline := st.Status == domain.StatusOffline
		st.ConsecutiveFailures++
		if st.FirstFailure == nil {
			onset := now
			st.FirstFailure = &onset
		}
		if wasOffline {
			st.BackoffMultiplier *= m.cfg.BackoffFactor
			if st.BackoffMultiplier > m.cfg.BackoffMax {
				st.BackoffMultiplier = m.cfg.BackoffMax
			}
		} else if st.ConsecutiveFailures >= m.threshold(id) {
			st.Status = domain.StatusOffline
			st.LastStateChange = now
			tr.Opened = m.openOutageLocked(id, st, s, now)
		}
	}

	st.Push(s)
	if m.watch != nil && m.watch.Recording() {
		m.watch.Record(id, s)
	}

	tr.To = st.Status
	tr.State = st.Reduced(0)

	state := tr.State
	sample := s
	m.publish(events.Event{Kind: events.SampleReceived, At: now, ChannelID: id, Sample: &sample, State: &state})
	if tr.Changed() {
		m.log.Info("channel_state_changed",
			zap.String("channel_id", string(id)),
			zap.String("from", string(tr.From)),
			zap.String("to", string(tr.To)),
			zap.Int("consecutive_failures", st.ConsecutiveFailures),
		)
		m.publish(events.Event{Kind: events.StateChanged, At: now, ChannelID: id, From: tr.From, To: tr.To, State: &state})
	}
	if tr.Opened != nil {
		o := tr.Opened.Clone()
		m.publish(events.Event{Kind: events.OutageOpened, At: now, ChannelID: id, Outage: &o})
	}
	if tr.Closed != nil {
		o := tr.Closed.Clone()
		m.publish(events.Event{Kind: events.OutageClosed, At: now, ChannelID: id, Outage: &o})
	}
	return tr
}

func (m *Machine) openOutageLocked(id domain.ChannelID, st *domain.ChannelState, s domain.Sample, now time.Time) *domain.Outage {
	o := domain.Outage{
		ID:                             m.newID(),
		ChannelID:                      id,
		StartTime:                      now,
		ConfirmedAt:                    now,
		FailureCountBeforeConfirmation: st.ConsecutiveFailures,
		Reason:                         s.Error,
	}
	if st.FirstFailure != nil {
		o.FirstFailureTime = *st.FirstFailure
	}
	m.outages = append(m.outages, o)
	m.trimOutagesLocked()
	out := o.Clone()
	return &out
}

// closeOutageLocked closes the newest open outage of the channel, if any.
func (m *Machine) closeOutageLocked(id domain.ChannelID, now time.Time) *domain.Outage {
	for i := len(m.outages) - 1; i >= 0; i-- {
		o := &m.outages[i]
		if o.ChannelID != id || !o.Open() {
			continue
		}
		o.Close(now)
		out := o.Clone()
		return &out
	}
	m.log.Warn("outage_missing_on_recovery", zap.String("channel_id", string(id)))
	return nil
}

// trimOutagesLocked enforces MaxOutages, evicting the oldest closed outages
// before any open one.
func (m *Machine) trimOutagesLocked() {
	for len(m.outages) > domain.MaxOutages {
		idx := 0
		for i, o := range m.outages {
			if !o.Open() {
				idx = i
				break
			}
		}
		m.outages = append(m.outages[:idx], m.outages[idx+1:]...)
	}
}

// State returns the channel's state without its sample ring.
func (m *Machine) State(id domain.ChannelID) (domain.ChannelState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[id]
	if !ok {
		return domain.ChannelState{}, false
	}
	return st.Reduced(0), true
}

// States returns every channel's state without sample rings, sorted by id.
func (m *Machine) States() []domain.ChannelState {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.ChannelState, 0, len(m.states))
	for _, st := range m.states {
		out = append(out, st.Reduced(0))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChannelID < out[j].ChannelID })
	return out
}

// Snapshot returns full state copies keeping the newest keep samples each.
func (m *Machine) Snapshot(keep int) map[domain.ChannelID]domain.ChannelState {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[domain.ChannelID]domain.ChannelState, len(m.states))
	for id, st := range m.states {
		out[id] = st.Reduced(keep)
	}
	return out
}

func (m *Machine) RecentSamples(id domain.ChannelID) []domain.Sample {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[id]
	if !ok {
		return nil
	}
	return append([]domain.Sample(nil), st.Samples...)
}

// BackoffMultiplier is 1 for unknown channels.
func (m *Machine) BackoffMultiplier(id domain.ChannelID) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.states[id]; ok && st.BackoffMultiplier >= 1 {
		return st.BackoffMultiplier
	}
	return 1
}

// Outages returns the outage log oldest first; an empty id returns all channels.
func (m *Machine) Outages(id domain.ChannelID) []domain.Outage {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Outage
	for _, o := range m.outages {
		if id == "" || o.ChannelID == id {
			out = append(out, o.Clone())
		}
	}
	return out
}

func (m *Machine) OpenOutage(id domain.ChannelID) (domain.Outage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.outages) - 1; i >= 0; i-- {
		if o := m.outages[i]; o.ChannelID == id && o.Open() {
			return o.Clone(), true
		}
	}
	return domain.Outage{}, false
}

// RemoveChannel drops the channel's state and closes its open outage.
func (m *Machine) RemoveChannel(id domain.ChannelID, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.states[id]; !ok {
		return ErrUnknownChannel
	}
	delete(m.states, id)
	delete(m.thresholds, id)
	for i := range m.outages {
		if o := &m.outages[i]; o.ChannelID == id && o.Open() {
			o.Close(now)
			closed := o.Clone()
			m.publish(events.Event{Kind: events.OutageClosed, At: now, ChannelID: id, Outage: &closed, Reason: "channel removed"})
		}
	}
	return nil
}

// Restore seeds the machine from persisted state without emitting events.
func (m *Machine) Restore(states []domain.ChannelState, outages []domain.Outage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, st := range states {
		s := st.Clone()
		if s.BackoffMultiplier < 1 {
			s.BackoffMultiplier = 1
		}
		if s.Status == "" {
			s.Status = domain.StatusUnknown
		}
		m.states[s.ChannelID] = &s
	}
	byID := make(map[string]int, len(m.outages))
	for i, o := range m.outages {
		byID[o.ID] = i
	}
	for _, o := range outages {
		if i, ok := byID[o.ID]; ok {
			m.outages[i] = o.Clone()
			continue
		}
		m.outages = append(m.outages, o.Clone())
	}
	sort.SliceStable(m.outages, func(i, j int) bool { return m.outages[i].StartTime.Before(m.outages[j].StartTime) })
	m.trimOutagesLocked()
}
