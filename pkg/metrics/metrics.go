package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Delivery outcomes recorded by DeliveriesTotal.
const (
	OutcomeDelivered = "delivered"
	OutcomeFiltered  = "filtered"
	OutcomeError     = "error"
)

// Metrics holds the engine collectors. A nil *Metrics is valid and records
// nothing, so components can be used without metrics.
type Metrics struct {
	// ActiveConnections is the number of connections known to the registry.
	ActiveConnections prometheus.Gauge

	// ActiveSubscriptions is the number of live registrations.
	// Labels: subscription
	ActiveSubscriptions *prometheus.GaugeVec

	// MessagesReceived counts inbound protocol messages.
	// Labels: type
	MessagesReceived *prometheus.CounterVec

	// MessagesSent counts outbound protocol messages.
	// Labels: type
	MessagesSent *prometheus.CounterVec

	// PublishesTotal counts publish calls.
	// Labels: subscription
	PublishesTotal *prometheus.CounterVec

	// DeliveriesTotal counts per-registration fan-out outcomes.
	// Labels: subscription, outcome (delivered, filtered, error)
	DeliveriesTotal *prometheus.CounterVec

	// ExecutionDuration tracks GraphQL execution time in seconds.
	// Labels: kind (query, mutation, subscription)
	ExecutionDuration *prometheus.HistogramVec
}

// New creates the engine collectors and registers them on reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gqlsubs_active_connections",
			Help: "Number of active subscription connections.",
		}),
		ActiveSubscriptions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gqlsubs_active_subscriptions",
			Help: "Number of active subscriptions by name.",
		}, []string{"subscription"}),
		MessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gqlsubs_messages_received_total",
			Help: "Protocol messages received by type.",
		}, []string{"type"}),
		MessagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gqlsubs_messages_sent_total",
			Help: "Protocol messages sent by type.",
		}, []string{"type"}),
		PublishesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gqlsubs_publishes_total",
			Help: "Publish calls by subscription name.",
		}, []string{"subscription"}),
		DeliveriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gqlsubs_deliveries_total",
			Help: "Fan-out outcomes by subscription name.",
		}, []string{"subscription", "outcome"}),
		ExecutionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gqlsubs_execution_duration_seconds",
			Help:    "GraphQL execution duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
	}

	for _, c := range []prometheus.Collector{
		m.ActiveConnections,
		m.ActiveSubscriptions,
		m.MessagesReceived,
		m.MessagesSent,
		m.PublishesTotal,
		m.DeliveriesTotal,
		m.ExecutionDuration,
	} {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				return nil, fmt.Errorf("metrics already registered: %w", err)
			}
			return nil, err
		}
	}
	return m, nil
}

// NewRegistry returns a Prometheus registry with the Go runtime and process
// collectors installed.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Handler returns an HTTP handler exposing the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// ConnectionOpened records a new connection.
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.ActiveConnections.Inc()
}

// ConnectionClosed records a closed connection.
func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.ActiveConnections.Dec()
}

// SubscriptionAdded records a new registration.
func (m *Metrics) SubscriptionAdded(name string) {
	if m == nil {
		return
	}
	m.ActiveSubscriptions.WithLabelValues(name).Inc()
}

// SubscriptionRemoved records a removed registration.
func (m *Metrics) SubscriptionRemoved(name string) {
	if m == nil {
		return
	}
	m.ActiveSubscriptions.WithLabelValues(name).Dec()
}

// MessageReceived counts an inbound message.
func (m *Metrics) MessageReceived(msgType string) {
	if m == nil {
		return
	}
	m.MessagesReceived.WithLabelValues(msgType).Inc()
}

// MessageSent counts an outbound message.
func (m *Metrics) MessageSent(msgType string) {
	if m == nil {
		return
	}
	m.MessagesSent.WithLabelValues(msgType).Inc()
}

// Published counts a publish call.
func (m *Metrics) Published(name string) {
	if m == nil {
		return
	}
	m.PublishesTotal.WithLabelValues(name).Inc()
}

// Delivery records the outcome for one registration of a fan-out.
func (m *Metrics) Delivery(name, outcome string) {
	if m == nil {
		return
	}
	m.DeliveriesTotal.WithLabelValues(name, outcome).Inc()
}

// ObserveExecution records how long an execution of the given kind took.
func (m *Metrics) ObserveExecution(kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.ExecutionDuration.WithLabelValues(kind).Observe(d.Seconds())
}
