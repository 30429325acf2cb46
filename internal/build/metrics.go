package build

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects pipeline counters. A nil *Metrics records nothing.
type Metrics struct {
	blocks   prometheus.Counter
	triples  prometheus.Counter
	literals prometheus.Gauge
	entries  *prometheus.CounterVec
	phases   *prometheus.HistogramVec
	runs     *prometheus.CounterVec
}

// NewMetrics creates pipeline metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		blocks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tristore",
			Subsystem: "build",
			Name:      "blocks_total",
			Help:      "Triple blocks consumed.",
		}),
		triples: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tristore",
			Subsystem: "build",
			Name:      "triples_total",
			Help:      "Triples consumed.",
		}),
		literals: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tristore",
			Subsystem: "build",
			Name:      "global_literals",
			Help:      "Distinct literals in the last global dictionary.",
		}),
		entries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tristore",
			Subsystem: "build",
			Name:      "container_entries_total",
			Help:      "Entries written to index containers.",
		}, []string{"order", "kind"}),
		phases: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tristore",
			Subsystem: "build",
			Name:      "phase_duration_seconds",
			Help:      "Time spent per pipeline phase.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"phase"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tristore",
			Subsystem: "build",
			Name:      "runs_total",
			Help:      "Finished construction runs by outcome.",
		}, []string{"outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.blocks, m.triples, m.literals, m.entries, m.phases, m.runs)
	}
	return m
}

func (m *Metrics) block(triples int) {
	if m == nil {
		return
	}
	m.blocks.Inc()
	m.triples.Add(float64(triples))
}

func (m *Metrics) globalLiterals(n int) {
	if m == nil {
		return
	}
	m.literals.Set(float64(n))
}

func (m *Metrics) containerEntries(order, kind string, n int) {
	if m == nil {
		return
	}
	m.entries.WithLabelValues(order, kind).Add(float64(n))
}

func (m *Metrics) phase(p Phase, d time.Duration) {
	if m == nil {
		return
	}
	m.phases.WithLabelValues(p.String()).Observe(d.Seconds())
}

func (m *Metrics) run(outcome Phase) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(outcome.String()).Inc()
}
