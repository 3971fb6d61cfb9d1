package coordination

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hamed0406/healthwatch/internal/domain"
)

var t0 = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

func TestLease_ValidAndBeats(t *testing.T) {
	l := Lease{Owner: "a", LastHeartbeat: t0, TTL: 10 * time.Second}
	assert.True(t, l.Valid(t0.Add(9*time.Second)))
	assert.False(t, l.Valid(t0.Add(10*time.Second)))
	assert.False(t, Lease{}.Valid(t0))

	later := Lease{Owner: "z", LastHeartbeat: t0.Add(time.Millisecond)}
	assert.True(t, later.Beats(l))
	assert.False(t, l.Beats(later))

	tie := Lease{Owner: "b", LastHeartbeat: t0}
	assert.True(t, l.Beats(tie), "smaller id wins a heartbeat tie")
	assert.False(t, tie.Beats(l))
}

func TestFileLeaseStore_AcquireRefreshExpire(t *testing.T) {
	dir := t.TempDir()
	a, err := NewFileLeaseStore(dir)
	require.NoError(t, err)
	b, err := NewFileLeaseStore(dir)
	require.NoError(t, err)
	clock := t0
	a.now = func() time.Time { return clock }
	b.now = func() time.Time { return clock }
	ctx := context.Background()
	ttl := 10 * time.Second

	got, err := a.Acquire(ctx, "a", ttl)
	require.NoError(t, err)
	assert.Equal(t, "a", got.Owner)

	got, err = b.Acquire(ctx, "b", ttl)
	require.NoError(t, err)
	assert.Equal(t, "a", got.Owner, "b must not steal a valid lease")

	clock = clock.Add(5 * time.Second)
	got, err = a.Acquire(ctx, "a", ttl)
	require.NoError(t, err)
	assert.Equal(t, t0, got.AcquiredAt, "refresh keeps the acquisition time")
	assert.Equal(t, clock, got.LastHeartbeat)

	clock = clock.Add(ttl)
	got, err = b.Acquire(ctx, "b", ttl)
	require.NoError(t, err)
	assert.Equal(t, "b", got.Owner, "expired lease is claimable")

	require.NoError(t, a.Release(ctx, "a"), "releasing someone else's lease is a no-op")
	cur, found, err := a.Current()
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "b", cur.Owner)

	require.NoError(t, b.Release(ctx, "b"))
	_, found, _ = a.Current()
	assert.False(t, found)
}

func TestFileLeaseStore_Corrupt(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, LeaseFile), []byte("{not json"), 0o644))
	s, err := NewFileLeaseStore(dir)
	require.NoError(t, err)

	_, err = s.Acquire(context.Background(), "a", time.Second)
	assert.ErrorIs(t, err, ErrCorruptLease)
	assert.False(t, isTransient(err))
}

func TestFileLeaseStore_LockBusy(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileLeaseStore(dir)
	require.NoError(t, err)

	unlock, err := tryLock(s.lockPath)
	require.NoError(t, err)
	defer unlock()

	_, err = s.Acquire(context.Background(), "a", time.Second)
	assert.ErrorIs(t, err, ErrLockBusy)
	assert.True(t, isTransient(err))
}

func TestFileStateStore_RoundTripAndCorrupt(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStateStore(dir, nil)
	require.NoError(t, err)
	ctx := context.Background()

	_, found, err := s.Read(ctx)
	require.NoError(t, err)
	assert.False(t, found)

	st := domain.NewChannelState("api", t0)
	st.Status = domain.StatusOnline
	in := SharedMonitoringState{
		InstanceID:    "leader-1",
		PublishedAt:   t0,
		ChannelStates: map[domain.ChannelID]domain.ChannelState{"api": st},
		ActiveWatch:   domain.NewWatchSession("w1", t0, domain.WatchForever).Summary(),
	}
	require.NoError(t, s.Write(ctx, in))

	out, found, err := s.Read(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "leader-1", out.InstanceID)
	assert.Equal(t, domain.StatusOnline, out.ChannelStates["api"].Status)
	assert.Equal(t, "w1", out.Replica().Watch.ID)

	require.NoError(t, os.WriteFile(filepath.Join(dir, SharedStateFile), []byte("garbage"), 0o644))
	_, _, err = s.Read(ctx)
	assert.ErrorIs(t, err, ErrCorruptState)
}

func TestFileStateStore_WatchNotifiesOnWrite(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStateStore(dir, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := s.Watch(ctx)
	require.NoError(t, err)

	require.NoError(t, s.Write(ctx, SharedMonitoringState{InstanceID: "x", PublishedAt: t0}))
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("no change notification")
	}
}

func TestThrottle_TrailingEdge(t *testing.T) {
	th := NewThrottle(time.Second)

	assert.True(t, th.Request(t0))
	assert.False(t, th.Request(t0.Add(100*time.Millisecond)))
	due, ok := th.Due()
	require.True(t, ok)
	assert.Equal(t, t0.Add(time.Second), due)

	assert.False(t, th.Request(t0.Add(200*time.Millisecond)), "coalesced into the pending publish")
	assert.False(t, th.Fire(t0.Add(500*time.Millisecond)))
	assert.True(t, th.Fire(t0.Add(time.Second)))
	_, ok = th.Due()
	assert.False(t, ok)

	// the trailing publish used the next slot
	assert.False(t, th.Request(t0.Add(1100*time.Millisecond)))
	due, _ = th.Due()
	assert.Equal(t, t0.Add(2*time.Second), due)
}

func TestConsulLeaseStore(t *testing.T) {
	addr := os.Getenv("CONSUL_ADDR")
	if addr == "" {
		t.Skip("CONSUL_ADDR not set")
	}
	key := "healthwatch-test/" + t.Name()
	a, err := NewConsulLeaseStore(addr, key)
	require.NoError(t, err)
	b, err := NewConsulLeaseStore(addr, key)
	require.NoError(t, err)
	ctx := context.Background()

	got, err := a.Acquire(ctx, "a", 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "a", got.Owner)

	got, err = b.Acquire(ctx, "b", 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "a", got.Owner)

	require.NoError(t, a.Release(ctx, "a"))
	got, err = b.Acquire(ctx, "b", 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "b", got.Owner)
	require.NoError(t, b.Release(ctx, "b"))
}
