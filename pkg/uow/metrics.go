package uow

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	flushResultOK       = "ok"
	flushResultConflict = "conflict"
	flushResultError    = "error"
)

// Metrics exports flush statistics. A nil *Metrics records nothing.
type Metrics struct {
	flushes       *prometheus.CounterVec
	statements    *prometheus.CounterVec
	conflicts     prometheus.Counter
	flushDuration prometheus.Histogram
}

// NewMetrics creates the collectors and registers them when reg is not nil
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sql4go",
			Subsystem: "uow",
			Name:      "flushes_total",
			Help:      "Flushes by result (ok, conflict, error).",
		}, []string{"result"}),
		statements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sql4go",
			Subsystem: "uow",
			Name:      "statements_total",
			Help:      "Statements issued by flushes, by operation.",
		}, []string{"op"}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sql4go",
			Subsystem: "uow",
			Name:      "optimistic_lock_conflicts_total",
			Help:      "Versioned writes that matched no row at the expected version.",
		}),
		flushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sql4go",
			Subsystem: "uow",
			Name:      "flush_duration_seconds",
			Help:      "Time spent in Flush.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(m.flushes, m.statements, m.conflicts, m.flushDuration)
	}
	return m
}

func (m *Metrics) observeFlush(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.flushes.WithLabelValues(result).Inc()
	m.flushDuration.Observe(d.Seconds())
}

func (m *Metrics) countStatement(op string) {
	if m == nil {
		return
	}
	m.statements.WithLabelValues(op).Inc()
}

func (m *Metrics) countConflict() {
	if m == nil {
		return
	}
	m.conflicts.Inc()
}
