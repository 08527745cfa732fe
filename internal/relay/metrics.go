package relay

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts per-relay transport activity. Labels carry the relay URL;
// relays are few and user-configured, so cardinality stays bounded.
type Metrics struct {
	Connects       *prometheus.CounterVec
	Disconnects    *prometheus.CounterVec
	EventsReceived *prometheus.CounterVec
	EventsDropped  *prometheus.CounterVec
	Publishes      *prometheus.CounterVec
	AcksReceived   *prometheus.CounterVec
}

// NewMetrics builds and registers the transport metrics. A nil registerer
// leaves the metrics unregistered, which the tests use to avoid collisions.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Connects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_connects_total",
			Help: "Successful relay connections.",
		}, []string{"relay"}),
		Disconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_disconnects_total",
			Help: "Relay connections lost or failed.",
		}, []string{"relay"}),
		EventsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_events_received_total",
			Help: "Inbound events delivered to the reconciler.",
		}, []string{"relay"}),
		EventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_events_dropped_total",
			Help: "Inbound events dropped by the per-relay rate limiter.",
		}, []string{"relay"}),
		Publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_publishes_total",
			Help: "Publish attempts per relay.",
		}, []string{"relay"}),
		AcksReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_acks_total",
			Help: "Accept/reject verdicts received per relay.",
		}, []string{"relay", "accepted"}),
	}
	if reg != nil {
		reg.MustRegister(m.Connects, m.Disconnects, m.EventsReceived,
			m.EventsDropped, m.Publishes, m.AcksReceived)
	}
	return m
}
