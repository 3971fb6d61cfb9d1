package monitor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hamed0406/healthwatch/internal/config"
	"github.com/hamed0406/healthwatch/internal/coordination"
	"github.com/hamed0406/healthwatch/internal/domain"
	"github.com/hamed0406/healthwatch/internal/health"
	"github.com/hamed0406/healthwatch/internal/probe"
	"github.com/hamed0406/healthwatch/internal/repo/memory"
	"github.com/hamed0406/healthwatch/internal/scheduler"
	"github.com/hamed0406/healthwatch/internal/stats"
)

// scripted succeeds for every channel not listed in down.
type scripted struct {
	mu    sync.Mutex
	down  map[domain.ChannelID]bool
	calls atomic.Int64
}

func (p *scripted) Probe(ctx context.Context, ch domain.Channel) probe.Result {
	p.calls.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.down[ch.ID] {
		return probe.Result{Success: false, Error: "connection refused"}
	}
	return probe.Result{Success: true, LatencyMS: 12}
}

func testChannels() []domain.Channel {
	return []domain.Channel{
		{ID: "api", Type: domain.ChannelTCP, Host: "127.0.0.1", Port: 1},
		{ID: "db", Type: domain.ChannelTCP, Host: "127.0.0.1", Port: 2},
	}
}

func testConfig(dir string) config.Config {
	return config.Config{
		InstanceID:           "test",
		Coordination:         "off",
		DataDir:              dir,
		StorageRetryAttempts: 1,
		FailureThreshold:     3,
		HTTPTimeout:          time.Second,
		WatchInterval:        time.Hour,
		BaselineInterval:     time.Hour,
		SLOTarget:            99,
	}
}

func run(t *testing.T, m *Monitor) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	select {
	case <-m.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("monitor not ready")
	}
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(3 * time.Second):
			t.Error("monitor did not stop")
		}
	})
}

func TestMonitor_UncoordinatedRunRecordsAndReports(t *testing.T) {
	store := memory.New()
	p := &scripted{down: map[domain.ChannelID]bool{"db": true}}
	m, err := New(context.Background(), testConfig(t.TempDir()), testChannels(), nil, WithStore(store), WithProber(p))
	require.NoError(t, err)
	run(t, m)

	assert.Equal(t, coordination.RoleLeader, m.Coordination().Role)
	for range 3 {
		res, err := m.RunAll(context.Background())
		require.NoError(t, err)
		require.Len(t, res, 2)
	}

	db, err := m.Channel("db")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOffline, db.State.Status)
	require.NotNil(t, db.OpenOutage)
	assert.Equal(t, "connection refused", db.OpenOutage.Reason)
	assert.Empty(t, db.State.Samples)

	// the recorder persists asynchronously
	require.Eventually(t, func() bool {
		s, _ := store.GetSamples(context.Background(), "db", time.Time{}, time.Time{})
		o, _ := store.GetOutages(context.Background(), "db", 0)
		return len(s) == 3 && len(o) == 1
	}, 2*time.Second, 10*time.Millisecond)

	rep := m.Report(context.Background(), time.Hour)
	assert.Equal(t, 2, rep.Global.Channels)
	assert.Equal(t, 1, rep.Global.Offline)
	assert.Equal(t, domain.ChannelID("api"), rep.Global.BestChannel)
	require.NotNil(t, rep.WorstBreach)
	assert.Equal(t, domain.ChannelID("db"), rep.WorstBreach.ChannelID)
	require.NotEmpty(t, rep.Recommendations)
	assert.Equal(t, stats.PriorityHigh, rep.Recommendations[0].Priority)

	cs, err := m.ChannelStats(context.Background(), "api", 0)
	require.NoError(t, err)
	assert.InDelta(t, 100.0, cs.Availability, 0.001)

	_, err = m.ChannelStats(context.Background(), "nope", 0)
	assert.ErrorIs(t, err, health.ErrUnknownChannel)
}

func TestMonitor_WatchLifecycle(t *testing.T) {
	m, err := New(context.Background(), testConfig(t.TempDir()), testChannels(), nil,
		WithStore(memory.New()), WithProber(&scripted{}))
	require.NoError(t, err)
	run(t, m)

	ws, err := m.StartWatch(domain.WatchDuration(time.Hour))
	require.NoError(t, err)
	assert.True(t, ws.Active)
	assert.Equal(t, scheduler.ModeWatch, m.Channels()[0].Mode)

	require.NoError(t, m.PauseWatch())
	st := m.Watch()
	require.NotNil(t, st.Session)
	assert.True(t, st.Session.Paused)
	require.NotNil(t, st.Remaining)
	require.NoError(t, m.ResumeWatch())

	require.NoError(t, m.StartIndividualWatch("api", scheduler.IndividualWatch{Interval: time.Minute}))
	assert.Equal(t, scheduler.ModeIndividual, m.Channels()[0].Mode)
	require.NoError(t, m.StopIndividualWatch("api"))
	assert.ErrorIs(t, m.StopIndividualWatch("api"), scheduler.ErrNoActiveWatch)

	ended, err := m.StopWatch()
	require.NoError(t, err)
	assert.False(t, ended.Active)
	_, err = m.StopWatch()
	assert.ErrorIs(t, err, scheduler.ErrNoActiveWatch)
}

func TestMonitor_RestoresKnownChannels(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	onset := time.Now().Add(-time.Minute).UTC()
	for _, id := range []domain.ChannelID{"api", "gone"} {
		st := domain.NewChannelState(id, onset)
		st.Status = domain.StatusOffline
		st.ConsecutiveFailures = 3
		st.FirstFailure = &onset
		require.NoError(t, store.SetChannelState(ctx, st))
		require.NoError(t, store.RecordOutage(ctx, domain.Outage{
			ID:               string(id) + "-1",
			ChannelID:        id,
			StartTime:        onset,
			FirstFailureTime: onset,
			Reason:           "timeout",
		}))
	}

	m, err := New(ctx, testConfig(t.TempDir()), testChannels(), nil, WithStore(store), WithProber(&scripted{}))
	require.NoError(t, err)

	api, err := m.Channel("api")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOffline, api.State.Status)
	require.NotNil(t, api.OpenOutage)

	all, err := m.Outages("", 0)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, domain.ChannelID("api"), all[0].ChannelID)
}

func TestMonitor_RejectsInvalidChannels(t *testing.T) {
	_, err := New(context.Background(), testConfig(t.TempDir()),
		[]domain.Channel{{ID: "x", Type: "carrier-pigeon"}}, nil, WithStore(memory.New()))
	assert.Error(t, err)
}

func coordinatedConfig(dir, id string) config.Config {
	cfg := testConfig(dir)
	cfg.InstanceID = id
	cfg.Coordination = "file"
	cfg.BaselineEnabled = true
	cfg.LeaseTTL = 150 * time.Millisecond
	cfg.ElectionInterval = 30 * time.Millisecond
	cfg.PublishInterval = 20 * time.Millisecond
	return cfg
}

func TestMonitor_FollowerMirrorsAndRefusesWrites(t *testing.T) {
	dir := t.TempDir()
	lp := &scripted{down: map[domain.ChannelID]bool{}}
	leader, err := New(context.Background(), coordinatedConfig(dir, "a"), testChannels(), nil,
		WithStore(memory.New()), WithProber(lp))
	require.NoError(t, err)
	run(t, leader)
	require.Eventually(t, func() bool { return leader.Coordination().Role == coordination.RoleLeader },
		2*time.Second, 5*time.Millisecond)

	fp := &scripted{}
	follower, err := New(context.Background(), coordinatedConfig(dir, "b"), testChannels(), nil,
		WithStore(memory.New()), WithProber(fp))
	require.NoError(t, err)
	run(t, follower)
	require.Eventually(t, func() bool { return follower.Coordination().Role == coordination.RoleFollower },
		2*time.Second, 5*time.Millisecond)

	_, err = follower.RunAll(context.Background())
	assert.True(t, errors.Is(err, coordination.ErrNotLeader))
	_, err = follower.StartWatch(domain.WatchForever)
	assert.ErrorIs(t, err, coordination.ErrNotLeader)

	_, err = leader.StartWatch(domain.WatchForever)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		api, err := follower.Channel("api")
		return err == nil && api.State.Status == domain.StatusOnline && follower.Watch().Session != nil
	}, 2*time.Second, 10*time.Millisecond)

	assert.Zero(t, fp.calls.Load(), "follower must not probe")
	assert.Positive(t, lp.calls.Load())
}
