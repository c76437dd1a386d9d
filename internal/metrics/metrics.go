// Package metrics holds the prometheus collectors of the ingest pipeline.
//
// A nil *Metrics is valid and records nothing, so components can be built
// without a registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/coffersTech/logrelay/internal/model"
)

const namespace = "logrelay"

type Metrics struct {
	connectionsAccepted prometheus.Counter
	connectionsActive   prometheus.Gauge
	acceptErrors        prometheus.Counter
	lines               prometheus.Counter
	parseErrors         prometheus.Counter
	linesSkipped        prometheus.Counter
	recordsForwarded    *prometheus.CounterVec
	forwardErrors       prometheus.Counter
}

// New creates the collectors and registers them with reg.
// It returns nil when reg is nil.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		connectionsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_accepted_total",
			Help:      "TCP connections accepted",
		}),
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "TCP connections currently being read",
		}),
		acceptErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "accept_errors_total",
			Help:      "Failed accept calls",
		}),
		lines: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lines_total",
			Help:      "Lines read from all connections",
		}),
		parseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parse_errors_total",
			Help:      "Lines dropped as malformed JSON",
		}),
		linesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lines_skipped_total",
			Help:      "Lines without a string message field",
		}),
		recordsForwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_forwarded_total",
			Help:      "Classified records handed to the sink",
		}, []string{"level"}),
		forwardErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forward_errors_total",
			Help:      "Sink calls that reported an error",
		}),
	}

	reg.MustRegister(
		m.connectionsAccepted,
		m.connectionsActive,
		m.acceptErrors,
		m.lines,
		m.parseErrors,
		m.linesSkipped,
		m.recordsForwarded,
		m.forwardErrors,
	)

	// Pre-create one series per level so dashboards see zeros.
	for _, l := range model.Levels {
		m.recordsForwarded.WithLabelValues(l.String())
	}

	return m
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connectionsAccepted.Inc()
	m.connectionsActive.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connectionsActive.Dec()
}

func (m *Metrics) AcceptError() {
	if m == nil {
		return
	}
	m.acceptErrors.Inc()
}

func (m *Metrics) Line() {
	if m == nil {
		return
	}
	m.lines.Inc()
}

func (m *Metrics) ParseError() {
	if m == nil {
		return
	}
	m.parseErrors.Inc()
}

func (m *Metrics) Skipped() {
	if m == nil {
		return
	}
	m.linesSkipped.Inc()
}

// Forwarded counts one sink call; err is the sink's result.
func (m *Metrics) Forwarded(level model.Level, err error) {
	if m == nil {
		return
	}
	m.recordsForwarded.WithLabelValues(level.String()).Inc()
	if err != nil {
		m.forwardErrors.Inc()
	}
}
