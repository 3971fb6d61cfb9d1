// Package events is the in-process publish/subscribe bus. Events are
// delivered to each subscriber in the order they were published.
package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/healthwatch/internal/domain"
)

type Kind string

const (
	SampleReceived       Kind = "sample.received"
	StateChanged         Kind = "state.changed"
	OutageOpened         Kind = "outage.opened"
	OutageClosed         Kind = "outage.closed"
	WatchStarted         Kind = "watch.started"
	WatchStopped         Kind = "watch.stopped"
	WatchPaused          Kind = "watch.paused"
	WatchResumed         Kind = "watch.resumed"
	ProbeSkipped         Kind = "probe.skipped"
	RoleChanged          Kind = "coordination.role_changed"
	LeadershipAcquired   Kind = "coordination.leadership_acquired"
	LeadershipLost       Kind = "coordination.leadership_lost"
	SharedStateUpdated   Kind = "coordination.shared_state_updated"
	CoordinationDisabled Kind = "coordination.disabled"
)

// DefaultBuffer is the per-subscriber queue length.
const DefaultBuffer = 256

// Lifecycle kinds open or close a record. A durable subscriber never loses
// them; see SubscribeDurable.
var Lifecycle = []Kind{OutageOpened, OutageClosed, WatchStarted, WatchStopped, WatchPaused, WatchResumed}

type Event struct {
	Kind      Kind             `json:"kind"`
	At        time.Time        `json:"at"`
	ChannelID domain.ChannelID `json:"channelId,omitempty"`

	// Mirrored marks events produced while replaying a leader's shared state.
	// Persisting consumers skip them; the leader already wrote them.
	Mirrored bool `json:"mirrored,omitempty"`

	Sample *domain.Sample       `json:"sample,omitempty"`
	State  *domain.ChannelState `json:"state,omitempty"`
	From   domain.Status        `json:"from,omitempty"`
	To     domain.Status        `json:"to,omitempty"`
	Outage *domain.Outage       `json:"outage,omitempty"`
	Watch  *domain.WatchSession `json:"watch,omitempty"`

	Role         string `json:"role,omitempty"`
	PreviousRole string `json:"previousRole,omitempty"`
	InstanceID   string `json:"instanceId,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

// Publisher is the narrow side handed to producers.
type Publisher interface {
	Publish(Event)
}

type Bus struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	buffer int
	closed bool
	log    *zap.Logger
}

func NewBus(log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{subs: make(map[*Subscription]struct{}), buffer: DefaultBuffer, log: log}
}

type Subscription struct {
	C <-chan Event

	name  string
	ch    chan Event
	kinds map[Kind]bool
	bus   *Bus

	// durable subscriptions park lifecycle events here when ch is full.
	// While anything is parked, later lifecycle events queue behind it and
	// other kinds are dropped, so delivered events stay in publish order.
	keep    map[Kind]bool
	mu      sync.Mutex
	pending []Event
	wake    chan struct{}
	stop    chan struct{}
	stopped chan struct{}
}

// Subscribe registers a named consumer. With no kinds every event is delivered.
func (b *Bus) Subscribe(name string, kinds ...Kind) *Subscription {
	return b.subscribe(name, false, kinds)
}

// SubscribeDurable is Subscribe for consumers that persist or act on
// lifecycle events. Those events are queued without bound when the
// subscriber falls behind; samples and other kinds may still be dropped.
func (b *Bus) SubscribeDurable(name string, kinds ...Kind) *Subscription {
	return b.subscribe(name, true, kinds)
}

func (b *Bus) subscribe(name string, durable bool, kinds []Kind) *Subscription {
	ch := make(chan Event, b.buffer)
	s := &Subscription{C: ch, name: name, ch: ch, bus: b}
	if len(kinds) > 0 {
		s.kinds = make(map[Kind]bool, len(kinds))
		for _, k := range kinds {
			s.kinds[k] = true
		}
	}
	if durable {
		s.keep = make(map[Kind]bool, len(Lifecycle))
		for _, k := range Lifecycle {
			s.keep[k] = true
		}
		s.wake = make(chan struct{}, 1)
		s.stop = make(chan struct{})
		s.stopped = make(chan struct{})
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return s
	}
	b.subs[s] = struct{}{}
	if durable {
		go s.drain()
	}
	return s
}

func (s *Subscription) Close() {
	b := s.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[s]; ok {
		delete(b.subs, s)
		s.shut()
	}
}

// shut stops the drain goroutine before closing ch. Callers hold bus.mu.
func (s *Subscription) shut() {
	if s.stop != nil {
		close(s.stop)
		<-s.stopped
		if n := len(s.pending); n > 0 {
			s.bus.log.Warn("event_pending_discarded", zap.String("subscriber", s.name), zap.Int("count", n))
		}
	}
	close(s.ch)
}

// offer delivers e without blocking. It reports false when e was dropped.
func (s *Subscription) offer(e Event) bool {
	if s.keep == nil {
		select {
		case s.ch <- e:
			return true
		default:
			return false
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		select {
		case s.ch <- e:
			return true
		default:
		}
	}
	if !s.keep[e.Kind] {
		return false
	}
	s.pending = append(s.pending, e)
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

// drain moves parked events into ch as the consumer catches up. An event
// leaves pending only after it was sent.
func (s *Subscription) drain() {
	defer close(s.stopped)
	for {
		select {
		case <-s.stop:
			return
		case <-s.wake:
		}
		for {
			s.mu.Lock()
			if len(s.pending) == 0 {
				s.mu.Unlock()
				break
			}
			e := s.pending[0]
			s.mu.Unlock()
			select {
			case s.ch <- e:
			case <-s.stop:
				return
			}
			s.mu.Lock()
			s.pending[0] = Event{}
			s.pending = s.pending[1:]
			s.mu.Unlock()
		}
	}
}

// Publish never blocks. A subscriber whose queue is full misses the event,
// unless it is durable and the event is a lifecycle kind.
func (b *Bus) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for s := range b.subs {
		if s.kinds != nil && !s.kinds[e.Kind] {
			continue
		}
		if !s.offer(e) {
			b.log.Warn("event_dropped",
				zap.String("subscriber", s.name),
				zap.String("kind", string(e.Kind)),
				zap.String("channel_id", string(e.ChannelID)),
			)
		}
	}
}

// Close ends every subscription; later publishes are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		s.shut()
		delete(b.subs, s)
	}
}

// Consume calls fn for each event until ctx is done or the subscription closes.
func Consume(ctx context.Context, s *Subscription, fn func(context.Context, Event)) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-s.C:
			if !ok {
				return
			}
			fn(ctx, e)
		}
	}
}
