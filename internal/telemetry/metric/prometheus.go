// Package metric provides Prometheus metrics for SyncRoom.
//
// All recording helpers are nil-safe so components can run without
// metrics (tests, embedded use) by passing a nil *Registry.
package metric

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric name.
const Namespace = "syncroom"

// Registry holds all application metrics.
type Registry struct {
	registry *prometheus.Registry

	// Presence metrics
	ConnectorsOnline        prometheus.Gauge
	ConnectorRegistrations  prometheus.Counter
	ConnectorUnregistration *prometheus.CounterVec
	RuntimeBindings         prometheus.Gauge

	// Arbiter metrics
	ControlTransitions *prometheus.CounterVec
	ControlRequests    *prometheus.CounterVec
	ActiveResources    prometheus.Gauge

	// Event bus metrics
	EventsPublished prometheus.Counter
	EventsDropped   prometheus.Counter

	// Gateway metrics
	GatewaySessions prometheus.Gauge

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Cluster metrics
	ClusterMembers prometheus.Gauge
}

// NewRegistry creates a registry with every metric registered,
// plus the standard Go runtime and process collectors.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	f := promauto.With(reg)
	r := &Registry{registry: reg}

	r.ConnectorsOnline = f.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "connectors_online",
		Help:      "Connectors with a live runtime binding on this node",
	})
	r.ConnectorRegistrations = f.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "connector_registrations_total",
		Help:      "Total connector registrations",
	})
	r.ConnectorUnregistration = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "connector_unregistrations_total",
		Help:      "Total connector unregistrations by reason",
	}, []string{"reason"})
	r.RuntimeBindings = f.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "runtime_bindings",
		Help:      "Runtime bindings held by the presence directory",
	})

	r.ControlTransitions = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "control_transitions_total",
		Help:      "Controller changes by resource kind and reason",
	}, []string{"kind", "reason"})
	r.ControlRequests = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "control_requests_total",
		Help:      "Control request outcomes by resource kind",
	}, []string{"kind", "result"})
	r.ActiveResources = f.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "resources_active",
		Help:      "Collaborative resource actors currently running",
	})

	r.EventsPublished = f.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "eventbus_published_total",
		Help:      "Events published on the bus",
	})
	r.EventsDropped = f.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "eventbus_dropped_total",
		Help:      "Events dropped because a subscriber queue was full",
	})

	r.GatewaySessions = f.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "gateway_sessions",
		Help:      "Open websocket sessions",
	})

	r.HTTPRequestsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests",
	}, []string{"method", "status"})
	r.HTTPRequestDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method"})

	r.ClusterMembers = f.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "cluster_members",
		Help:      "Alive members in the gossip cluster",
	})

	return r
}

// Register adds an external collector (for example storage gauges).
func (r *Registry) Register(c prometheus.Collector) error {
	if r == nil {
		return nil
	}
	return r.registry.Register(c)
}

// Gatherer exposes the underlying registry for tests and exporters.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (r *Registry) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// ConnectorRegistered records a registration.
func (r *Registry) ConnectorRegistered() {
	if r == nil {
		return
	}
	r.ConnectorRegistrations.Inc()
}

// ConnectorUnregistered records an unregistration with its reason
// (explicit, process_down, node_left).
func (r *Registry) ConnectorUnregistered(reason string) {
	if r == nil {
		return
	}
	r.ConnectorUnregistration.WithLabelValues(reason).Inc()
}

// SetBindings publishes the current binding count.
func (r *Registry) SetBindings(n int) {
	if r == nil {
		return
	}
	r.RuntimeBindings.Set(float64(n))
	r.ConnectorsOnline.Set(float64(n))
}

// ControlTransition records a controller change.
func (r *Registry) ControlTransition(kind, reason string) {
	if r == nil {
		return
	}
	r.ControlTransitions.WithLabelValues(kind, reason).Inc()
}

// ControlRequest records the outcome of a control request.
func (r *Registry) ControlRequest(kind, result string) {
	if r == nil {
		return
	}
	r.ControlRequests.WithLabelValues(kind, result).Inc()
}

// SetActiveResources publishes the running arbiter count.
func (r *Registry) SetActiveResources(n int) {
	if r == nil {
		return
	}
	r.ActiveResources.Set(float64(n))
}

// EventPublished records a published event.
func (r *Registry) EventPublished() {
	if r == nil {
		return
	}
	r.EventsPublished.Inc()
}

// EventDropped records an event dropped for a slow subscriber.
func (r *Registry) EventDropped() {
	if r == nil {
		return
	}
	r.EventsDropped.Inc()
}

// GatewaySessionOpened increments the open session gauge.
func (r *Registry) GatewaySessionOpened() {
	if r == nil {
		return
	}
	r.GatewaySessions.Inc()
}

// GatewaySessionClosed decrements the open session gauge.
func (r *Registry) GatewaySessionClosed() {
	if r == nil {
		return
	}
	r.GatewaySessions.Dec()
}

// RecordHTTPRequest records an HTTP request with its duration.
func (r *Registry) RecordHTTPRequest(method string, status int, duration time.Duration) {
	if r == nil {
		return
	}
	r.HTTPRequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	r.HTTPRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// SetClusterMembers publishes the gossip member count.
func (r *Registry) SetClusterMembers(n int) {
	if r == nil {
		return
	}
	r.ClusterMembers.Set(float64(n))
}
