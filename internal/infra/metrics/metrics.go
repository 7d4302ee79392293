// Package metrics exposes Prometheus collectors for one agent process.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "zappy"

// Metrics holds the client's collectors.
type Metrics struct {
	lines          *prometheus.CounterVec
	commandsSent   *prometheus.CounterVec
	connects       *prometheus.CounterVec
	decodeFailures prometheus.Counter
	loops          prometheus.Counter
	spawns         *prometheus.CounterVec
	level          prometheus.Gauge
	inFlight       prometheus.Gauge
}

// MustNew creates the collectors and registers them with reg. Registration
// errors panic, mirroring promauto; pass a fresh registry per instance.
func MustNew(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		lines: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lines_received_total",
			Help:      "Server lines received, by classification.",
		}, []string{"kind"}),
		commandsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_sent_total",
			Help:      "Commands written to the server, by command name.",
		}, []string{"command"}),
		connects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_attempts_total",
			Help:      "Connection attempts, by result code.",
		}, []string{"result"}),
		decodeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_decode_failures_total",
			Help:      "Broadcast tokens that could not be decoded with the team key.",
		}),
		loops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loops_detected_total",
			Help:      "Repeating command patterns broken by an escape action.",
		}),
		spawns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spawns_total",
			Help:      "Additional agent processes requested, by outcome.",
		}, []string{"result"}),
		level: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "agent_level",
			Help:      "Current elevation level of the agent.",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "commands_in_flight",
			Help:      "Commands sent and still awaiting a reply.",
		}),
	}
	reg.MustRegister(m.lines, m.commandsSent, m.connects, m.decodeFailures,
		m.loops, m.spawns, m.level, m.inFlight)
	return m
}

// IncLine counts one received line of the given kind.
func (m *Metrics) IncLine(kind string) {
	if m == nil {
		return
	}
	m.lines.WithLabelValues(kind).Inc()
}

// IncCommandSent counts one written command.
func (m *Metrics) IncCommandSent(name string) {
	if m == nil {
		return
	}
	m.commandsSent.WithLabelValues(name).Inc()
}

// IncConnectAttempt counts one connection attempt with its result code.
func (m *Metrics) IncConnectAttempt(result string) {
	if m == nil {
		return
	}
	m.connects.WithLabelValues(result).Inc()
}

// IncDecodeFailure counts one undecodable broadcast.
func (m *Metrics) IncDecodeFailure() {
	if m == nil {
		return
	}
	m.decodeFailures.Inc()
}

// IncLoop counts one detected loop.
func (m *Metrics) IncLoop() {
	if m == nil {
		return
	}
	m.loops.Inc()
}

// IncSpawn counts one spawn request with its result.
func (m *Metrics) IncSpawn(result string) {
	if m == nil {
		return
	}
	m.spawns.WithLabelValues(result).Inc()
}

// SetLevel records the agent's level.
func (m *Metrics) SetLevel(level int) {
	if m == nil {
		return
	}
	m.level.Set(float64(level))
}

// SetInFlight records the number of commands awaiting replies.
func (m *Metrics) SetInFlight(n int) {
	if m == nil {
		return
	}
	m.inFlight.Set(float64(n))
}
