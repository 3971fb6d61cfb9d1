package repo

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/healthwatch/internal/domain"
	"github.com/hamed0406/healthwatch/internal/events"
)

// Recorder persists state-machine and watch events. Storage failures are
// logged and skipped: in-memory state stays authoritative.
type Recorder struct {
	store Store
	log   *zap.Logger
}

func NewRecorder(store Store, log *zap.Logger) *Recorder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Recorder{store: store, log: log}
}

// recordedKinds lists the events Handle persists.
var recordedKinds = []events.Kind{
	events.SampleReceived,
	events.OutageOpened,
	events.OutageClosed,
	events.WatchStarted,
	events.WatchStopped,
	events.WatchPaused,
	events.WatchResumed,
}

// Subscribe registers the recorder on bus. Outage and watch events are never
// dropped for it, so a slow store cannot leave an outage open on disk.
// Callers that must not miss the first events subscribe before starting
// producers.
func (r *Recorder) Subscribe(bus *events.Bus) *events.Subscription {
	return bus.SubscribeDurable("recorder", recordedKinds...)
}

// Handle persists one event. Events replayed from a leader are ignored.
func (r *Recorder) Handle(ctx context.Context, e events.Event) {
	if e.Mirrored {
		return
	}
	if err := r.handle(ctx, e); err != nil {
		r.log.Warn("recorder_write_failed",
			zap.String("kind", string(e.Kind)),
			zap.String("channel_id", string(e.ChannelID)),
			zap.Error(err),
		)
	}
}

func (r *Recorder) handle(ctx context.Context, e events.Event) error {
	switch e.Kind {
	case events.SampleReceived:
		if e.Sample == nil {
			return nil
		}
		if err := r.store.AppendSample(ctx, e.ChannelID, *e.Sample); err != nil {
			return fmt.Errorf("append sample: %w", err)
		}
		if e.State != nil {
			if err := r.store.SetChannelState(ctx, *e.State); err != nil {
				return fmt.Errorf("set channel state: %w", err)
			}
		}
	case events.OutageOpened:
		if e.Outage != nil {
			return r.store.RecordOutage(ctx, *e.Outage)
		}
	case events.OutageClosed:
		if e.Outage != nil {
			return r.store.UpdateOutage(ctx, *e.Outage)
		}
	case events.WatchStarted, events.WatchPaused, events.WatchResumed:
		if e.Watch != nil {
			return r.store.StartWatchSession(ctx, *e.Watch.Summary())
		}
	case events.WatchStopped:
		if e.Watch != nil {
			return r.store.EndWatchSession(ctx, *e.Watch.Summary())
		}
	}
	return nil
}

// Snapshot is everything needed to seed a state machine on start.
type Snapshot struct {
	States  []domain.ChannelState
	Outages []domain.Outage
	Watch   *domain.WatchSession
}

// Load reads the persisted snapshot. Each channel gets at most recent samples
// taken after since.
func Load(ctx context.Context, store Store, since time.Time, recent int) (Snapshot, error) {
	var snap Snapshot
	states, err := store.ListChannelStates(ctx)
	if err != nil {
		return snap, fmt.Errorf("list channel states: %w", err)
	}
	for i := range states {
		samples, err := store.GetSamples(ctx, states[i].ChannelID, since, time.Time{})
		if err != nil {
			return snap, fmt.Errorf("samples for %s: %w", states[i].ChannelID, err)
		}
		if len(samples) > recent {
			samples = samples[len(samples)-recent:]
		}
		states[i].Samples = samples
	}
	snap.States = states
	if snap.Outages, err = store.GetOutages(ctx, "", domain.MaxOutages); err != nil {
		return snap, fmt.Errorf("get outages: %w", err)
	}
	if snap.Watch, err = store.GetCurrentWatchSession(ctx); err != nil {
		return snap, fmt.Errorf("get watch session: %w", err)
	}
	return snap, nil
}
