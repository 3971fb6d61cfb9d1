// Package metrics exposes monitoring events as Prometheus collectors.
//
// All collectors live in a private registry so tests and multiple
// monitors in one process do not collide.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hamed0406/healthwatch/internal/domain"
	"github.com/hamed0406/healthwatch/internal/events"
)

const namespace = "healthwatch"

type Metrics struct {
	Registry *prometheus.Registry

	// ProbesTotal counts applied samples. Labels: channel, result (success, failure)
	ProbesTotal *prometheus.CounterVec
	// ProbeLatency is the latency of successful probes. Labels: channel
	ProbeLatency *prometheus.HistogramVec
	// ChannelUp is 1 online, 0 offline, -1 unknown. Labels: channel
	ChannelUp *prometheus.GaugeVec
	// OutagesTotal counts opened outages. Labels: channel
	OutagesTotal *prometheus.CounterVec
	// ProbesSkipped counts guard skips. Labels: channel
	ProbesSkipped *prometheus.CounterVec
	// Role is 1 for the current coordination role. Labels: role
	Role *prometheus.GaugeVec
	// WatchActive is 1 while a global watch session records.
	WatchActive prometheus.Gauge
	// CoordinationDisabled flips to 1 once coordination falls back.
	CoordinationDisabled prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		ProbesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "probes_total",
			Help: "Probe samples applied, by channel and result.",
		}, []string{"channel", "result"}),
		ProbeLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "probe_latency_seconds",
			Help:    "Latency of successful probes.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"channel"}),
		ChannelUp: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "channel_up",
			Help: "Channel status: 1 online, 0 offline, -1 unknown.",
		}, []string{"channel"}),
		OutagesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "outages_total",
			Help: "Outages opened.",
		}, []string{"channel"}),
		ProbesSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "probes_skipped_total",
			Help: "Probe cycles skipped by a failing guard.",
		}, []string{"channel"}),
		Role: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "coordination_role",
			Help: "1 for the role this instance currently holds.",
		}, []string{"role"}),
		WatchActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "watch_active",
			Help: "1 while a global watch session is recording.",
		}),
		CoordinationDisabled: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "coordination_disabled",
			Help: "1 once coordination has been disabled.",
		}),
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

func (m *Metrics) Subscribe(bus *events.Bus) *events.Subscription {
	return bus.Subscribe("metrics")
}

// Handle updates collectors for one event. Mirrored samples count too: a
// follower's gauges should track the leader's view.
func (m *Metrics) Handle(_ context.Context, e events.Event) {
	ch := string(e.ChannelID)
	switch e.Kind {
	case events.SampleReceived:
		if e.Sample == nil {
			return
		}
		if e.Sample.Success {
			m.ProbesTotal.WithLabelValues(ch, "success").Inc()
			if lat, ok := e.Sample.Latency(); ok {
				m.ProbeLatency.WithLabelValues(ch).Observe(lat / 1000)
			}
		} else {
			m.ProbesTotal.WithLabelValues(ch, "failure").Inc()
		}
		if e.State != nil {
			m.ChannelUp.WithLabelValues(ch).Set(statusValue(e.State.Status))
		}
	case events.StateChanged:
		m.ChannelUp.WithLabelValues(ch).Set(statusValue(e.To))
	case events.OutageOpened:
		m.OutagesTotal.WithLabelValues(ch).Inc()
	case events.ProbeSkipped:
		m.ProbesSkipped.WithLabelValues(ch).Inc()
	case events.WatchStarted, events.WatchResumed:
		m.WatchActive.Set(1)
	case events.WatchStopped, events.WatchPaused:
		m.WatchActive.Set(0)
	case events.RoleChanged:
		m.Role.Reset()
		m.Role.WithLabelValues(e.Role).Set(1)
	case events.CoordinationDisabled:
		m.CoordinationDisabled.Set(1)
		m.Role.Reset()
	}
}

func statusValue(s domain.Status) float64 {
	switch s {
	case domain.StatusOnline:
		return 1
	case domain.StatusOffline:
		return 0
	}
	return -1
}
