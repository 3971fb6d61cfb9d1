// Package monitor wires the health machine, scheduler, coordination manager,
// storage and the bus consumers into one runnable unit.
//
// With coordination enabled only the elected leader probes; every other
// instance mirrors the leader's shared state. Mutating operations on a
// follower fail with coordination.ErrNotLeader.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hamed0406/healthwatch/internal/config"
	"github.com/hamed0406/healthwatch/internal/coordination"
	"github.com/hamed0406/healthwatch/internal/domain"
	"github.com/hamed0406/healthwatch/internal/events"
	"github.com/hamed0406/healthwatch/internal/guard"
	"github.com/hamed0406/healthwatch/internal/health"
	"github.com/hamed0406/healthwatch/internal/metrics"
	"github.com/hamed0406/healthwatch/internal/notify"
	"github.com/hamed0406/healthwatch/internal/probe"
	"github.com/hamed0406/healthwatch/internal/repo"
	"github.com/hamed0406/healthwatch/internal/repo/badger"
	"github.com/hamed0406/healthwatch/internal/repo/memory"
	"github.com/hamed0406/healthwatch/internal/repo/postgres"
	"github.com/hamed0406/healthwatch/internal/scheduler"
	"github.com/hamed0406/healthwatch/internal/sink"
)

// restoreWindow bounds how far back samples are reloaded on start.
const restoreWindow = 24 * time.Hour

// Option overrides a collaborator, mostly for tests.
type Option func(*options)

type options struct {
	store  repo.Store
	prober probe.Prober
	leases coordination.LeaseStore
	states coordination.StateStore
	writer sink.Writer
}

// WithStore replaces the configured storage backend.
func WithStore(s repo.Store) Option { return func(o *options) { o.store = s } }

// WithProber replaces the built-in probe registry.
func WithProber(p probe.Prober) Option { return func(o *options) { o.prober = p } }

// WithCoordination replaces the configured lease and shared-state stores.
func WithCoordination(l coordination.LeaseStore, s coordination.StateStore) Option {
	return func(o *options) { o.leases, o.states = l, s }
}

// WithSink exports samples to w instead of the configured InfluxDB.
func WithSink(w sink.Writer) Option { return func(o *options) { o.writer = w } }

type consumer interface {
	Subscribe(bus *events.Bus) *events.Subscription
	Handle(ctx context.Context, e events.Event)
}

type Monitor struct {
	cfg     config.Config
	log     *zap.Logger
	store   repo.Store
	bus     *events.Bus
	machine *health.Machine
	gate    *guard.Gate
	sched   *scheduler.Scheduler
	coord   *coordination.Manager // nil when coordination is off
	metrics *metrics.Metrics
	sink    *sink.Influx // nil when no sink is configured

	consumers []consumer
	now       func() time.Time
	ready     chan struct{}

	mu      sync.Mutex
	started bool
}

// New builds a monitor for channels. Nothing runs until Run.
func New(ctx context.Context, cfg config.Config, channels []domain.Channel, log *zap.Logger, opts ...Option) (*Monitor, error) {
	if log == nil {
		log = zap.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if err := config.ValidateChannels(channels); err != nil {
		return nil, err
	}

	store := o.store
	if store == nil {
		var err error
		if store, err = openStore(ctx, cfg, log); err != nil {
			return nil, err
		}
	}
	store = repo.NewRetrying(store, cfg.StorageRetryAttempts, log)

	m := &Monitor{cfg: cfg, log: log, store: store, now: time.Now, ready: make(chan struct{})}
	m.bus = events.NewBus(log.Named("bus"))
	m.machine = health.New(health.Config{
		Threshold:     cfg.FailureThreshold,
		BackoffFactor: cfg.BackoffFactor,
		BackoffMax:    cfg.BackoffMax,
	}, m.bus, log.Named("health"))
	m.gate = guard.NewGate(cfg.GuardCacheTTL, log.Named("guard"))

	prober := o.prober
	if prober == nil {
		reg := probe.Default(cfg.HTTPTimeout)
		if cfg.RetryAttempts > 1 {
			reg.Wrap(func(p probe.Prober) probe.Prober {
				return &probe.RetryProber{Inner: p, Attempts: cfg.RetryAttempts, Backoff: cfg.RetryBackoff}
			})
		}
		prober = reg
	}
	m.sched = scheduler.New(scheduler.Config{
		BaselineEnabled:  cfg.BaselineEnabled,
		BaselineInterval: cfg.BaselineInterval,
		WatchInterval:    cfg.WatchInterval,
		WatchTimeout:     cfg.WatchTimeout,
		DefaultTimeout:   cfg.HTTPTimeout,
		JitterPct:        cfg.JitterPct,
	}, prober, m.machine, m.gate, m.bus, log.Named("scheduler"))

	var notifier notify.Notifier = notify.Log{Logf: func(title, text string) {
		log.Info("alert", zap.String("title", title), zap.String("text", text))
	}}
	if cfg.SlackWebhook != "" {
		notifier = notify.Multi{notifier, notify.NewSlack(cfg.SlackWebhook)}
	}
	m.metrics = metrics.New()
	m.consumers = []consumer{
		repo.NewRecorder(store, log.Named("recorder")),
		notify.NewAlerter(store, notifier, notify.AlerterConfig{
			AlertOnRecovery: cfg.AlertOnRecovery,
			Cooldown:        cfg.AlertCooldown,
		}, log.Named("alerter")),
		m.metrics,
	}
	switch {
	case o.writer != nil:
		m.sink = sink.New(o.writer, log.Named("sink"))
	case cfg.InfluxURL != "":
		m.sink = sink.NewInflux(cfg.InfluxURL, cfg.InfluxToken, cfg.InfluxOrg, cfg.InfluxBucket, log.Named("sink"))
	}
	if m.sink != nil {
		m.consumers = append(m.consumers, m.sink)
	}

	if err := m.buildCoordination(o); err != nil {
		_ = store.Close()
		return nil, err
	}

	m.restore(ctx, channels)
	m.sched.SetChannels(channels)
	return m, nil
}

func openStore(ctx context.Context, cfg config.Config, log *zap.Logger) (repo.Store, error) {
	switch cfg.Storage {
	case "", "memory":
		return memory.New(), nil
	case "badger":
		return badger.Open(badger.Config{
			Path:   filepath.Join(cfg.DataDir, "badger"),
			Logger: log.Named("badger"),
		})
	case "postgres":
		st, err := postgres.New(ctx, cfg.DatabaseURL, log.Named("postgres"))
		if err != nil {
			return nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			return nil, multierr.Append(fmt.Errorf("migrate: %w", err), st.Close())
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown storage %q", cfg.Storage)
	}
}

func (m *Monitor) buildCoordination(o options) error {
	if m.cfg.Coordination == "off" {
		return nil
	}
	leases, states := o.leases, o.states
	var err error
	if states == nil {
		if states, err = coordination.NewFileStateStore(m.cfg.DataDir, m.log.Named("shared_state")); err != nil {
			return err
		}
	}
	if leases == nil {
		switch m.cfg.Coordination {
		case "file":
			leases, err = coordination.NewFileLeaseStore(m.cfg.DataDir)
		case "consul":
			leases, err = coordination.NewConsulLeaseStore(m.cfg.ConsulAddr, coordination.DefaultConsulKey)
		default:
			err = fmt.Errorf("unknown coordination %q", m.cfg.Coordination)
		}
		if err != nil {
			return err
		}
	}
	m.coord = coordination.NewManager(coordination.Config{
		InstanceID:       m.cfg.InstanceID,
		LeaseTTL:         m.cfg.LeaseTTL,
		ElectionInterval: m.cfg.ElectionInterval,
		PublishInterval:  m.cfg.PublishInterval,
	}, leases, states, m.machine, m.sched, m.bus, m.log.Named("coordination"))
	return nil
}

// restore seeds the machine from storage. Failures leave a cold start.
func (m *Monitor) restore(ctx context.Context, channels []domain.Channel) {
	snap, err := repo.Load(ctx, m.store, m.now().Add(-restoreWindow), domain.MaxRecentSamples)
	if err != nil {
		m.log.Warn("restore_failed", zap.Error(err))
		return
	}
	known := make(map[domain.ChannelID]bool, len(channels))
	for _, ch := range channels {
		known[ch.ID] = true
	}
	var states []domain.ChannelState
	for _, st := range snap.States {
		if known[st.ChannelID] {
			states = append(states, st)
		}
	}
	var outages []domain.Outage
	for _, o := range snap.Outages {
		if known[o.ChannelID] {
			outages = append(outages, o)
		}
	}
	m.machine.Restore(states, outages)

	if ws := snap.Watch; ws != nil && ws.Active {
		if left, ok := ws.Remaining(m.now()); ok && left <= 0 {
			ws.End(m.now())
			if err := m.store.EndWatchSession(ctx, *ws); err != nil {
				m.log.Warn("restore_watch_end_failed", zap.Error(err))
			}
		} else {
			m.machine.SetWatchSession(ws)
		}
	}
	m.log.Info("state_restored",
		zap.Int("channels", len(states)),
		zap.Int("outages", len(outages)),
		zap.Bool("watch", m.machine.WatchSession() != nil),
	)
}

// Run blocks until ctx is cancelled, then stops probing and closes storage.
func (m *Monitor) Run(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return errors.New("monitor already started")
	}
	m.started = true
	m.mu.Unlock()

	// subscribe before any producer starts
	subs := make([]*events.Subscription, len(m.consumers))
	for i, c := range m.consumers {
		subs[i] = c.Subscribe(m.bus)
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, c := range m.consumers {
		sub := subs[i]
		g.Go(func() error {
			events.Consume(gctx, sub, c.Handle)
			return nil
		})
	}
	if m.coord != nil {
		g.Go(func() error { return m.coord.Run(gctx) })
	} else {
		m.sched.Start(gctx)
		m.log.Info("monitor_uncoordinated")
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	close(m.ready)

	m.log.Info("monitor_started",
		zap.String("instance_id", m.cfg.InstanceID),
		zap.String("coordination", m.cfg.Coordination),
		zap.Int("channels", len(m.sched.Channels())),
	)
	err := g.Wait()
	return multierr.Append(err, m.close(subs))
}

func (m *Monitor) close(subs []*events.Subscription) error {
	m.sched.Stop()
	for _, s := range subs {
		s.Close()
	}
	m.bus.Close()
	if m.sink != nil {
		m.sink.Close()
	}
	err := m.store.Close()
	m.log.Info("monitor_stopped", zap.Error(err))
	return err
}

// Ready is closed once Run has subscribed every consumer and started
// probing or electing.
func (m *Monitor) Ready() <-chan struct{} { return m.ready }

// Bus exposes the event stream for API subscribers.
func (m *Monitor) Bus() *events.Bus { return m.bus }

func (m *Monitor) MetricsHandler() http.Handler { return m.metrics.Handler() }

// SetChannels swaps the channel set at runtime. State of removed channels is
// dropped.
func (m *Monitor) SetChannels(chs []domain.Channel) error {
	if err := config.ValidateChannels(chs); err != nil {
		return err
	}
	m.sched.SetChannels(chs)
	m.log.Info("channels_reloaded", zap.Int("channels", len(chs)))
	return nil
}

// Coordination reports this instance's role. With coordination off the
// instance always acts as leader.
func (m *Monitor) Coordination() coordination.Status {
	if m.coord == nil {
		return coordination.Status{
			InstanceID:     m.cfg.InstanceID,
			Role:           coordination.RoleLeader,
			Leader:         m.cfg.InstanceID,
			Disabled:       true,
			DisabledReason: "coordination off",
		}
	}
	return m.coord.Status()
}

// requireLeader guards operations that would probe or change the watch
// session. Followers only mirror.
func (m *Monitor) requireLeader() error {
	if m.coord == nil || m.coord.IsLeader() {
		return nil
	}
	if leader := m.coord.Status().Leader; leader != "" {
		return fmt.Errorf("%w: leader is %s", coordination.ErrNotLeader, leader)
	}
	return coordination.ErrNotLeader
}
