package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hamed0406/healthwatch/internal/domain"
	"github.com/hamed0406/healthwatch/internal/repo"
)

// DefaultSampleRetention bounds samples kept per channel.
const DefaultSampleRetention = 10000

type Store struct {
	mu        sync.RWMutex
	states    map[domain.ChannelID]domain.ChannelState
	outages   map[string]domain.Outage
	samples   map[domain.ChannelID][]domain.Sample
	watch     *domain.WatchSession
	watchLog  []domain.WatchSession
	alerts    map[domain.ChannelID]repo.AlertRecord
	retention int
}

var _ repo.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		states:    make(map[domain.ChannelID]domain.ChannelState),
		outages:   make(map[string]domain.Outage),
		samples:   make(map[domain.ChannelID][]domain.Sample),
		alerts:    make(map[domain.ChannelID]repo.AlertRecord),
		retention: DefaultSampleRetention,
	}
}

func (m *Store) Close() error { return nil }

// ---- StateStore ----

func (m *Store) GetChannelState(ctx context.Context, id domain.ChannelID) (*domain.ChannelState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.states[id]
	if !ok {
		return nil, nil
	}
	out := st.Clone()
	return &out, nil
}

func (m *Store) SetChannelState(ctx context.Context, st domain.ChannelState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[st.ChannelID] = st.Reduced(0)
	return nil
}

func (m *Store) ListChannelStates(ctx context.Context) ([]domain.ChannelState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.ChannelState, 0, len(m.states))
	for _, st := range m.states {
		out = append(out, st.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChannelID < out[j].ChannelID })
	return out, nil
}

func (m *Store) DeleteChannelState(ctx context.Context, id domain.ChannelID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, id)
	return nil
}

// ---- OutageStore ----

func (m *Store) GetOutages(ctx context.Context, id domain.ChannelID, limit int) ([]domain.Outage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Outage
	for _, o := range m.outages {
		if id == "" || o.ChannelID == id {
			out = append(out, o.Clone())
		}
	}
	return repo.NewestOutages(out, limit), nil
}

func (m *Store) RecordOutage(ctx context.Context, o domain.Outage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outages[o.ID] = o.Clone()
	return nil
}

func (m *Store) UpdateOutage(ctx context.Context, o domain.Outage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.outages[o.ID]; !ok {
		return repo.ErrNotFound
	}
	m.outages[o.ID] = o.Clone()
	return nil
}

// ---- WatchStore ----

func (m *Store) GetCurrentWatchSession(ctx context.Context) (*domain.WatchSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.watch.Clone(), nil
}

func (m *Store) StartWatchSession(ctx context.Context, ws domain.WatchSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watch = ws.Clone()
	return nil
}

func (m *Store) EndWatchSession(ctx context.Context, ws domain.WatchSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.watch != nil && m.watch.ID == ws.ID {
		m.watch = nil
	}
	m.watchLog = append(m.watchLog, *ws.Clone())
	return nil
}

// ---- SampleStore ----

func (m *Store) AppendSample(ctx context.Context, id domain.ChannelID, s domain.Sample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf := append(m.samples[id], s)
	if len(buf) > m.retention {
		buf = buf[len(buf)-m.retention:]
	}
	m.samples[id] = buf
	return nil
}

func (m *Store) GetSamples(ctx context.Context, id domain.ChannelID, start, end time.Time) ([]domain.Sample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Sample
	for _, s := range m.samples[id] {
		if repo.InRange(s.Timestamp, start, end) {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// ---- AlertStore ----

func (m *Store) GetAlert(ctx context.Context, id domain.ChannelID) (*repo.AlertRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.alerts[id]
	if !ok {
		return nil, nil
	}
	rr := r
	return &rr, nil
}

func (m *Store) SetAlert(ctx context.Context, id domain.ChannelID, status domain.Status, sentAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts[id] = repo.NewAlertRecord(id, status, sentAt)
	return nil
}
