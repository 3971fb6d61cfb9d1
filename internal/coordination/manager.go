package coordination

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/healthwatch/internal/events"
	"github.com/hamed0406/healthwatch/internal/health"
)

const (
	DefaultLeaseTTL         = 15 * time.Second
	DefaultElectionInterval = 5 * time.Second
	DefaultMaxErrors        = 3
	// SharedSamples is how many samples per channel the shared state carries.
	SharedSamples = 50
	sharedOutages = 100
	releaseWait   = 2 * time.Second
)

type Config struct {
	InstanceID       string
	LeaseTTL         time.Duration
	ElectionInterval time.Duration
	PublishInterval  time.Duration
	// MaxErrors consecutive persistent errors disable coordination.
	MaxErrors int
}

func (c Config) withDefaults() Config {
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = DefaultLeaseTTL
	}
	if c.ElectionInterval <= 0 {
		c.ElectionInterval = DefaultElectionInterval
	}
	if c.PublishInterval <= 0 {
		c.PublishInterval = time.Second
	}
	if c.MaxErrors <= 0 {
		c.MaxErrors = DefaultMaxErrors
	}
	return c
}

// Scheduler is the part of the probe scheduler the manager drives.
type Scheduler interface {
	Start(ctx context.Context)
	Stop()
	Running() bool
}

// Status is a point-in-time view for the API.
type Status struct {
	InstanceID     string    `json:"instanceId"`
	Role           Role      `json:"role"`
	Leader         string    `json:"leader,omitempty"`
	Disabled       bool      `json:"disabled"`
	DisabledReason string    `json:"disabledReason,omitempty"`
	LeaseExpiresAt time.Time `json:"leaseExpiresAt,omitzero"`
	LastPublishAt  time.Time `json:"lastPublishAt,omitzero"`
	LastMirrorAt   time.Time `json:"lastMirrorAt,omitzero"`
	Errors         int       `json:"errors"`
}

// Acting reports whether this instance probes and accepts writes: it holds
// the lease, or coordination fell back to running alone.
func (s Status) Acting() bool { return s.Role == RoleLeader || s.Disabled }

// Manager runs the role machine unelected -> follower <-> leader. All
// elections, publishes and mirrors happen on the Run goroutine, so a role
// change and a mirror never interleave.
type Manager struct {
	cfg     Config
	leases  LeaseStore
	states  StateStore
	machine *health.Machine
	sched   Scheduler
	bus     *events.Bus
	log     *zap.Logger
	now     func() time.Time

	throttle *Throttle

	mu     sync.RWMutex
	status Status
	errs   map[string]int
}

func NewManager(cfg Config, leases LeaseStore, states StateStore, machine *health.Machine, sched Scheduler, bus *events.Bus, log *zap.Logger) *Manager {
	cfg = cfg.withDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		cfg:      cfg,
		leases:   leases,
		states:   states,
		machine:  machine,
		sched:    sched,
		bus:      bus,
		log:      log.With(zap.String("instance_id", cfg.InstanceID)),
		now:      func() time.Time { return time.Now().UTC() },
		throttle: NewThrottle(cfg.PublishInterval),
		status:   Status{InstanceID: cfg.InstanceID, Role: RoleUnelected},
		errs:     make(map[string]int),
	}
}

func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

func (m *Manager) Role() Role {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status.Role
}

// IsLeader is true for the leader and for a process whose coordination was
// disabled: both probe on their own.
func (m *Manager) IsLeader() bool {
	return m.Status().Acting()
}

// syncedKinds are the leader events that make the shared state stale.
var syncedKinds = []events.Kind{
	events.SampleReceived,
	events.StateChanged,
	events.OutageOpened,
	events.OutageClosed,
	events.WatchStarted,
	events.WatchStopped,
	events.WatchPaused,
	events.WatchResumed,
}

// Run blocks until ctx is done. A leader releases its lease on the way out.
// If coordination gets disabled, Run starts the scheduler and then just
// waits.
func (m *Manager) Run(ctx context.Context) error {
	sub := m.bus.Subscribe("coordination", syncedKinds...)
	defer sub.Close()
	subC := sub.C

	notify, err := m.states.Watch(ctx)
	if err != nil {
		// ticks still re-read the shared state
		m.log.Warn("shared_state_watch_unavailable", zap.Error(err))
	}

	ticker := time.NewTicker(m.cfg.ElectionInterval)
	defer ticker.Stop()
	var trailing *time.Timer
	defer func() {
		if trailing != nil {
			trailing.Stop()
		}
	}()

	m.log.Info("coordination_started",
		zap.Duration("lease_ttl", m.cfg.LeaseTTL),
		zap.Duration("election_interval", m.cfg.ElectionInterval),
	)
	m.tick(ctx)

	for {
		if m.Status().Disabled {
			<-ctx.Done()
			return nil
		}
		var trailingC <-chan time.Time
		if due, ok := m.throttle.Due(); ok {
			if trailing == nil {
				trailing = time.NewTimer(time.Until(due))
			}
			trailingC = trailing.C
		}

		select {
		case <-ctx.Done():
			m.shutdown()
			return nil
		case <-ticker.C:
			m.tick(ctx)
		case <-notify:
			if m.Role() == RoleFollower {
				m.mirror(ctx)
			}
		case e, ok := <-subC:
			if !ok {
				subC = nil
				continue
			}
			if !e.Mirrored && m.Role() == RoleLeader && m.throttle.Request(m.now()) {
				m.publish(ctx)
			}
		case <-trailingC:
			trailing = nil
			if m.throttle.Fire(m.now()) && m.Role() == RoleLeader {
				m.publish(ctx)
			}
		}
	}
}

// tick is one election round.
func (m *Manager) tick(ctx context.Context) {
	lease, err := m.leases.Acquire(ctx, m.cfg.InstanceID, m.cfg.LeaseTTL)
	if err != nil {
		m.fail(ctx, "acquire_lease", err)
		m.stepDownIfStale(ctx)
		return
	}
	m.succeed("acquire_lease")
	m.mu.Lock()
	m.status.Leader = lease.Owner
	m.status.LeaseExpiresAt = lease.ExpiresAt()
	m.mu.Unlock()

	if lease.Owner != m.cfg.InstanceID {
		m.becomeFollower(ctx, lease.Owner, "lease held by "+lease.Owner)
		m.mirror(ctx)
		return
	}
	if m.lostToPeer(ctx, lease) {
		m.becomeFollower(ctx, "", "lost leader conflict")
		return
	}
	m.becomeLeader(ctx)
}

// stepDownIfStale gives up leadership when the heartbeat could not be
// renewed and the lease may expire before the next tick. A peer can take an
// expired lease, so a stuck leader must stop probing first.
func (m *Manager) stepDownIfStale(ctx context.Context) {
	st := m.Status()
	if st.Role != RoleLeader || st.Disabled {
		return
	}
	if m.now().Add(m.cfg.ElectionInterval).Before(st.LeaseExpiresAt) {
		return
	}
	m.mu.Lock()
	m.status.Leader = ""
	m.mu.Unlock()
	m.becomeFollower(ctx, "", "heartbeat not renewed before lease expiry")
}

// lostToPeer catches a split brain: another instance published state after
// we took the lease and its claim beats ours.
func (m *Manager) lostToPeer(ctx context.Context, mine Lease) bool {
	st, found, err := m.states.Read(ctx)
	if err != nil {
		m.fail(ctx, "read_shared_state", err)
		return false
	}
	m.succeed("read_shared_state")
	if !found || st.InstanceID == m.cfg.InstanceID || !st.PublishedAt.After(mine.AcquiredAt) {
		return false
	}
	theirs := Lease{Owner: st.InstanceID, LastHeartbeat: st.PublishedAt}
	if theirs.Beats(mine) {
		m.log.Warn("leader_conflict_lost", zap.String("peer", st.InstanceID))
		return true
	}
	return false
}

func (m *Manager) setRole(r Role) (prev Role) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev = m.status.Role
	m.status.Role = r
	return prev
}

func (m *Manager) becomeLeader(ctx context.Context) {
	prev := m.setRole(RoleLeader)
	if prev == RoleLeader {
		return
	}
	m.sched.Start(ctx)
	m.bus.Publish(events.Event{Kind: events.RoleChanged, Role: string(RoleLeader), PreviousRole: string(prev), InstanceID: m.cfg.InstanceID})
	m.bus.Publish(events.Event{Kind: events.LeadershipAcquired, InstanceID: m.cfg.InstanceID})
	m.log.Info("lease_acquired", zap.String("previous_role", string(prev)))
	m.publish(ctx)
}

// becomeFollower stops the scheduler before anything is mirrored.
func (m *Manager) becomeFollower(ctx context.Context, leader, reason string) {
	if m.sched.Running() {
		m.sched.Stop()
	}
	prev := m.setRole(RoleFollower)
	if prev == RoleFollower {
		return
	}
	if prev == RoleLeader {
		m.bus.Publish(events.Event{Kind: events.LeadershipLost, InstanceID: m.cfg.InstanceID, Reason: reason})
		m.log.Warn("lease_lost", zap.String("leader", leader), zap.String("reason", reason))
	}
	m.bus.Publish(events.Event{Kind: events.RoleChanged, Role: string(RoleFollower), PreviousRole: string(prev), InstanceID: m.cfg.InstanceID})
	m.log.Info("became_follower", zap.String("leader", leader))
}

func (m *Manager) publish(ctx context.Context) {
	now := m.now()
	st := SharedMonitoringState{
		InstanceID:    m.cfg.InstanceID,
		PublishedAt:   now,
		ChannelStates: m.machine.Snapshot(SharedSamples),
		Outages:       m.machine.RecentOutages(sharedOutages),
		ActiveWatch:   m.machine.WatchSession().Summary(),
	}
	if err := m.states.Write(ctx, st); err != nil {
		m.fail(ctx, "write_shared_state", err)
		return
	}
	m.succeed("write_shared_state")
	m.mu.Lock()
	m.status.LastPublishAt = now
	m.mu.Unlock()
	m.log.Debug("shared_state_published", zap.Int("channels", len(st.ChannelStates)))
}

func (m *Manager) mirror(ctx context.Context) {
	st, found, err := m.states.Read(ctx)
	if err != nil {
		m.fail(ctx, "read_shared_state", err)
		return
	}
	m.succeed("read_shared_state")
	if !found || st.InstanceID == m.cfg.InstanceID {
		return
	}
	m.mu.RLock()
	seen := m.status.LastMirrorAt
	m.mu.RUnlock()
	if !st.PublishedAt.After(seen) {
		return
	}
	changed := m.machine.Mirror(st.Replica(), m.now())
	m.mu.Lock()
	m.status.LastMirrorAt = st.PublishedAt
	m.mu.Unlock()
	m.bus.Publish(events.Event{Kind: events.SharedStateUpdated, InstanceID: st.InstanceID, At: st.PublishedAt})
	m.log.Debug("shared_state_mirrored", zap.String("leader", st.InstanceID), zap.Int("changed", changed))
}

// succeed resets the consecutive error count of op.
func (m *Manager) succeed(op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.errs[op]; ok {
		delete(m.errs, op)
		m.status.Errors = 0
		for _, n := range m.errs {
			m.status.Errors = max(m.status.Errors, n)
		}
	}
}

// fail counts consecutive persistent errors per operation; transient ones
// are retried next tick.
func (m *Manager) fail(ctx context.Context, op string, err error) {
	if ctx.Err() != nil {
		return
	}
	if isTransient(err) {
		m.log.Debug("coordination_transient_error", zap.String("op", op), zap.Error(err))
		return
	}
	m.mu.Lock()
	m.errs[op]++
	n := m.errs[op]
	m.status.Errors = max(m.status.Errors, n)
	m.mu.Unlock()
	m.log.Warn("coordination_error", zap.String("op", op), zap.Int("count", n), zap.Error(err))
	if n >= m.cfg.MaxErrors {
		m.disable(ctx, err)
	}
}

// disable falls back to uncoordinated monitoring for the process lifetime.
func (m *Manager) disable(ctx context.Context, cause error) {
	m.mu.Lock()
	prev := m.status.Role
	m.status.Disabled = true
	m.status.DisabledReason = cause.Error()
	m.status.Role = RoleUnelected
	m.mu.Unlock()

	if !m.sched.Running() {
		m.sched.Start(ctx)
	}
	m.bus.Publish(events.Event{Kind: events.CoordinationDisabled, InstanceID: m.cfg.InstanceID, PreviousRole: string(prev), Reason: cause.Error()})
	m.log.Error("coordination_disabled", zap.Error(cause))
}

func (m *Manager) shutdown() {
	prev := m.setRole(RoleUnelected)
	if prev != RoleLeader {
		return
	}
	m.sched.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), releaseWait)
	defer cancel()
	if err := m.leases.Release(ctx, m.cfg.InstanceID); err != nil {
		m.log.Warn("lease_release_failed", zap.Error(err))
		return
	}
	m.log.Info("lease_released")
}
