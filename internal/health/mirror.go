package health

import (
	"sort"
	"time"

	"github.com/hamed0406/healthwatch/internal/domain"
	"github.com/hamed0406/healthwatch/internal/events"
)

// Replica is the slice of leader state a follower mirrors.
type Replica struct {
	States  map[domain.ChannelID]domain.ChannelState
	Outages []domain.Outage
	Watch   *domain.WatchSession
}

// Mirror overwrites local channel state with the leader's. Samples newer than
// the local ring are appended so follower history keeps growing. Events are
// published with Mirrored set. Channels absent from the replica are kept.
func (m *Machine) Mirror(r Replica, now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]domain.ChannelID, 0, len(r.States))
	for id := range r.States {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	changed := 0
	for _, id := range ids {
		incoming := r.States[id].Clone()
		incoming.ChannelID = id
		old := m.states[id]

		var since time.Time
		if old != nil && old.LastSample != nil {
			since = old.LastSample.Timestamp
		}
		ring := []domain.Sample(nil)
		if old != nil {
			ring = old.Samples
		}
		var fresh []domain.Sample
		for _, s := range incoming.Samples {
			if s.Timestamp.After(since) {
				fresh = append(fresh, s)
			}
		}
		next := incoming
		next.Samples = ring
		for _, s := range fresh {
			next.Push(s)
		}
		if incoming.LastSample != nil {
			last := *incoming.LastSample
			next.LastSample = &last
		}
		m.states[id] = &next

		state := next.Reduced(0)
		for _, s := range fresh {
			sample := s
			m.publish(events.Event{Kind: events.SampleReceived, At: s.Timestamp, ChannelID: id, Sample: &sample, State: &state, Mirrored: true})
		}
		var from domain.Status = domain.StatusUnknown
		if old != nil {
			from = old.Status
		}
		if from != next.Status {
			m.publish(events.Event{Kind: events.StateChanged, At: now, ChannelID: id, From: from, To: next.Status, State: &state, Mirrored: true})
		}
		if len(fresh) > 0 || from != next.Status {
			changed++
		}
	}

	byID := make(map[string]int, len(m.outages))
	for i, o := range m.outages {
		byID[o.ID] = i
	}
	for _, o := range r.Outages {
		in := o.Clone()
		i, ok := byID[o.ID]
		switch {
		case !ok:
			m.outages = append(m.outages, in)
			kind := events.OutageOpened
			if !in.Open() {
				kind = events.OutageClosed
			}
			m.publish(events.Event{Kind: kind, At: now, ChannelID: in.ChannelID, Outage: &in, Mirrored: true})
		case m.outages[i].Open() && !in.Open():
			m.outages[i] = in
			m.publish(events.Event{Kind: events.OutageClosed, At: now, ChannelID: in.ChannelID, Outage: &in, Mirrored: true})
		default:
			m.outages[i] = in
		}
	}
	sort.SliceStable(m.outages, func(i, j int) bool { return m.outages[i].StartTime.Before(m.outages[j].StartTime) })
	m.trimOutagesLocked()

	m.watch = r.Watch.Clone()
	return changed
}

// RecentOutages returns at most n newest outages, oldest first.
func (m *Machine) RecentOutages(n int) []domain.Outage {
	m.mu.Lock()
	defer m.mu.Unlock()
	src := m.outages
	if len(src) > n {
		src = src[len(src)-n:]
	}
	out := make([]domain.Outage, len(src))
	for i, o := range src {
		out[i] = o.Clone()
	}
	return out
}
