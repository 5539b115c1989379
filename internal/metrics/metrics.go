// Package metrics exposes Prometheus collectors for the scheduler, the alert
// dispatcher and the recovery manager. All methods are nil-safe so components
// can run without metrics in tests.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "remindd"

type Metrics struct {
	fires         *prometheus.CounterVec
	fireFailures  prometheus.Counter
	armed         prometheus.Gauge
	live          prometheus.Gauge
	deliveries    *prometheus.CounterVec
	snapshotOps   *prometheus.CounterVec
	recoveryItems *prometheus.CounterVec
}

// MustNewMetrics constructs collectors on reg (DefaultRegisterer when nil).
// Collectors already registered under the same name are reused so several
// instances can share a registry. Any other registration error panics.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		fires: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "fires_total",
			Help: "Entries fired, by priority.",
		}, []string{"priority"}),
		fireFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "fire_failures_total",
			Help: "Fires whose dispatch failed.",
		}),
		armed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "armed_timers",
			Help: "Entries currently holding a live timer.",
		}),
		live: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "live_entries",
			Help: "Entries in the in-memory live set.",
		}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "alert", Name: "deliveries_total",
			Help: "Alert channel deliveries, by channel and status.",
		}, []string{"channel", "status"}),
		snapshotOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "recovery", Name: "snapshot_ops_total",
			Help: "Persistence operations, by op and status.",
		}, []string{"op", "status"}),
		recoveryItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "recovery", Name: "entries_total",
			Help: "Entries seen during recovery, by outcome.",
		}, []string{"outcome"}),
	}

	m.fires = register(reg, m.fires)
	m.fireFailures = register(reg, m.fireFailures)
	m.armed = register(reg, m.armed)
	m.live = register(reg, m.live)
	m.deliveries = register(reg, m.deliveries)
	m.snapshotOps = register(reg, m.snapshotOps)
	m.recoveryItems = register(reg, m.recoveryItems)
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

func (m *Metrics) Fired(priority string) {
	if m == nil {
		return
	}
	m.fires.WithLabelValues(priority).Inc()
}

func (m *Metrics) FireFailed() {
	if m == nil {
		return
	}
	m.fireFailures.Inc()
}

func (m *Metrics) SetArmed(n int) {
	if m == nil {
		return
	}
	m.armed.Set(float64(n))
}

func (m *Metrics) SetLive(n int) {
	if m == nil {
		return
	}
	m.live.Set(float64(n))
}

func (m *Metrics) Delivered(channel string, err error) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(channel, status(err)).Inc()
}

func (m *Metrics) SnapshotOp(op string, err error) {
	if m == nil {
		return
	}
	m.snapshotOps.WithLabelValues(op, status(err)).Inc()
}

func (m *Metrics) Recovered(outcome string) {
	if m == nil {
		return
	}
	m.recoveryItems.WithLabelValues(outcome).Inc()
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
