package repo_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hamed0406/healthwatch/internal/domain"
	"github.com/hamed0406/healthwatch/internal/events"
	"github.com/hamed0406/healthwatch/internal/repo"
	bdg "github.com/hamed0406/healthwatch/internal/repo/badger"
	"github.com/hamed0406/healthwatch/internal/repo/memory"
	pg "github.com/hamed0406/healthwatch/internal/repo/postgres"
)

// Compile-time interface satisfaction checks.
// Using external test package avoids import cycle.
func TestInterfaceSatisfaction(t *testing.T) {
	var _ repo.Store = memory.New()
	var _ repo.Store = (*bdg.Store)(nil)
	var _ repo.Store = (*pg.Store)(nil)
	var _ repo.Store = repo.NewRetrying(memory.New(), 1, nil)
}

// flaky fails the first n sample writes.
type flaky struct {
	*memory.Store
	failures int
	calls    int
}

func (f *flaky) AppendSample(ctx context.Context, id domain.ChannelID, s domain.Sample) error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("disk busy")
	}
	return f.Store.AppendSample(ctx, id, s)
}

var t0 = time.Date(2025, 5, 5, 5, 0, 0, 0, time.UTC)

func TestRetrying_RecoversWithinAttempts(t *testing.T) {
	inner := &flaky{Store: memory.New(), failures: 2}
	r := repo.NewRetrying(inner, 3, nil)

	require.NoError(t, r.AppendSample(context.Background(), "api", domain.Sample{Timestamp: t0}))
	assert.Equal(t, 3, inner.calls)

	got, _ := inner.GetSamples(context.Background(), "api", time.Time{}, time.Time{})
	assert.Len(t, got, 1)
}

func TestRetrying_GivesUpAfterAttempts(t *testing.T) {
	inner := &flaky{Store: memory.New(), failures: 10}
	r := repo.NewRetrying(inner, 3, nil)

	err := r.AppendSample(context.Background(), "api", domain.Sample{Timestamp: t0})
	require.Error(t, err)
	assert.Equal(t, 3, inner.calls)
}

func TestRecorder_PersistsAndSkipsMirrored(t *testing.T) {
	store := memory.New()
	rec := repo.NewRecorder(store, nil)
	ctx := context.Background()

	st := domain.NewChannelState("api", t0)
	st.Status = domain.StatusOffline
	smp := domain.Sample{Timestamp: t0, Error: "down"}
	out := domain.Outage{ID: "o1", ChannelID: "api", StartTime: t0}

	rec.Handle(ctx, events.Event{Kind: events.SampleReceived, ChannelID: "api", Sample: &smp, State: &st})
	rec.Handle(ctx, events.Event{Kind: events.OutageOpened, ChannelID: "api", Outage: &out})
	rec.Handle(ctx, events.Event{Kind: events.SampleReceived, ChannelID: "api", Sample: &smp, Mirrored: true})

	samples, _ := store.GetSamples(ctx, "api", time.Time{}, time.Time{})
	assert.Len(t, samples, 1)
	got, _ := store.GetChannelState(ctx, "api")
	require.NotNil(t, got)
	assert.Equal(t, domain.StatusOffline, got.Status)

	closed := out
	closed.Close(t0.Add(time.Minute))
	rec.Handle(ctx, events.Event{Kind: events.OutageClosed, ChannelID: "api", Outage: &closed})
	outs, _ := store.GetOutages(ctx, "api", 0)
	require.Len(t, outs, 1)
	assert.False(t, outs[0].Open())

	ws := domain.NewWatchSession("w", t0, domain.WatchForever)
	rec.Handle(ctx, events.Event{Kind: events.WatchStarted, Watch: ws})
	cur, _ := store.GetCurrentWatchSession(ctx)
	require.NotNil(t, cur)
	ws.End(t0.Add(time.Hour))
	rec.Handle(ctx, events.Event{Kind: events.WatchStopped, Watch: ws})
	cur, _ = store.GetCurrentWatchSession(ctx)
	assert.Nil(t, cur)
}

// slowStore takes a while per sample write, long enough for the recorder's
// queue to overflow during a burst.
type slowStore struct {
	*memory.Store
	delay time.Duration
}

func (s *slowStore) AppendSample(ctx context.Context, id domain.ChannelID, smp domain.Sample) error {
	time.Sleep(s.delay)
	return s.Store.AppendSample(ctx, id, smp)
}

func TestRecorder_SlowStoreStillClosesOutage(t *testing.T) {
	store := &slowStore{Store: memory.New(), delay: time.Millisecond}
	bus := events.NewBus(nil)
	rec := repo.NewRecorder(store, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := rec.Subscribe(bus)
	done := make(chan struct{})
	go func() {
		events.Consume(ctx, sub, rec.Handle)
		close(done)
	}()

	burst := func(from int) {
		for i := 0; i < 300; i++ {
			smp := domain.Sample{Timestamp: t0.Add(time.Duration(from+i) * time.Second), Error: "down"}
			bus.Publish(events.Event{Kind: events.SampleReceived, ChannelID: "api", Sample: &smp})
		}
	}
	out := domain.Outage{ID: "o1", ChannelID: "api", StartTime: t0}
	burst(0)
	bus.Publish(events.Event{Kind: events.OutageOpened, ChannelID: "api", Outage: &out})
	burst(300)
	closed := out
	closed.Close(t0.Add(10 * time.Minute))
	bus.Publish(events.Event{Kind: events.OutageClosed, ChannelID: "api", Outage: &closed})

	require.Eventually(t, func() bool {
		outs, _ := store.GetOutages(ctx, "api", 0)
		return len(outs) == 1 && !outs[0].Open()
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	<-done
}

func TestLoad_SeedsSnapshot(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	_ = store.SetChannelState(ctx, domain.NewChannelState("api", t0))
	for i := 0; i < 5; i++ {
		_ = store.AppendSample(ctx, "api", domain.Sample{Timestamp: t0.Add(time.Duration(i) * time.Second)})
	}
	_ = store.RecordOutage(ctx, domain.Outage{ID: "o", ChannelID: "api", StartTime: t0})

	snap, err := repo.Load(ctx, store, t0.Add(time.Second), 3)
	require.NoError(t, err)
	require.Len(t, snap.States, 1)
	assert.Len(t, snap.States[0].Samples, 3)
	assert.Equal(t, t0.Add(4*time.Second), snap.States[0].Samples[2].Timestamp)
	assert.Len(t, snap.Outages, 1)
	assert.Nil(t, snap.Watch)
}
