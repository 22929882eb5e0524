package metric

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c interface{ Write(*dto.Metric) error }) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if m.Counter != nil {
		return m.Counter.GetValue()
	}
	return m.Gauge.GetValue()
}

func TestNewRegistry(t *testing.T) {
	r := NewRegistry()
	if r.ConnectorsOnline == nil || r.ControlTransitions == nil || r.EventsDropped == nil {
		t.Fatal("metrics not initialized")
	}
	if r.registry == nil {
		t.Fatal("Prometheus registry not initialized")
	}
}

func TestRecordingHelpers(t *testing.T) {
	r := NewRegistry()

	r.ConnectorRegistered()
	r.ConnectorRegistered()
	r.ConnectorUnregistered("process_down")
	r.SetBindings(3)
	r.ControlTransition("media", "timeout")
	r.ControlRequest("media", "pending")
	r.EventPublished()
	r.EventDropped()
	r.GatewaySessionOpened()
	r.GatewaySessionOpened()
	r.GatewaySessionClosed()
	r.RecordHTTPRequest("GET", 200, 10*time.Millisecond)

	if got := counterValue(t, r.ConnectorRegistrations); got != 2 {
		t.Errorf("registrations = %v, want 2", got)
	}
	if got := counterValue(t, r.ConnectorUnregistration.WithLabelValues("process_down")); got != 1 {
		t.Errorf("unregistrations = %v, want 1", got)
	}
	if got := counterValue(t, r.ConnectorsOnline); got != 3 {
		t.Errorf("connectors_online = %v, want 3", got)
	}
	if got := counterValue(t, r.ControlTransitions.WithLabelValues("media", "timeout")); got != 1 {
		t.Errorf("control_transitions = %v, want 1", got)
	}
	if got := counterValue(t, r.GatewaySessions); got != 1 {
		t.Errorf("gateway_sessions = %v, want 1", got)
	}
	if got := counterValue(t, r.HTTPRequestsTotal.WithLabelValues("GET", "200")); got != 1 {
		t.Errorf("http_requests = %v, want 1", got)
	}
}

func TestNilRegistryIsSafe(t *testing.T) {
	var r *Registry
	r.ConnectorRegistered()
	r.ConnectorUnregistered("explicit")
	r.SetBindings(1)
	r.ControlTransition("media", "take")
	r.EventDropped()
	r.RecordHTTPRequest("GET", 200, time.Millisecond)
	if err := r.Register(nil); err != nil {
		t.Errorf("Register on nil registry = %v", err)
	}
}

func TestHandler(t *testing.T) {
	r := NewRegistry()
	r.EventPublished()

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "syncroom_eventbus_published_total 1") {
		t.Errorf("metrics output missing published counter:\n%s", body)
	}
}
