package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// FlowSource lists flows and reports each one's status as a string, so this
// package can export gauges without importing pkg/orchestrator (which would
// otherwise need to import pkg/flow, which already sits above pkg/metrics in
// the dependency order). *orchestrator.Orchestrator does not satisfy it
// directly: its GetFlowStatus returns model.FlowStatus.
type FlowSource interface {
	ListFlows() []string
	GetFlowStatus(name string) (string, error)
}

// FlowMetrics exports per-flow throughput and error counters as Prometheus
// gauges/counters, grounded on estuary.go's promauto counter registration
// style but pointed at the orchestrator's running flows instead of the
// teacher's single global recordsSent counter.
type FlowMetrics struct {
	MessagesReceived *prometheus.GaugeVec
	RecordsProcessed *prometheus.GaugeVec
	Errors           *prometheus.GaugeVec
	FlowUp           *prometheus.GaugeVec
}

// NewFlowMetrics registers the flow gauge vectors against the default
// Prometheus registry, labeled by flow name.
func NewFlowMetrics() *FlowMetrics {
	return &FlowMetrics{
		MessagesReceived: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cdcsink_flow_messages_received_total",
			Help: "Records pulled from a flow's connector.",
		}, []string{"flow"}),
		RecordsProcessed: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cdcsink_flow_records_processed_total",
			Help: "Records successfully written to a flow's destinations.",
		}, []string{"flow"}),
		Errors: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cdcsink_flow_errors_total",
			Help: "Errors observed by a flow, connector-side or destination-side.",
		}, []string{"flow"}),
		FlowUp: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cdcsink_flow_up",
			Help: "1 if the flow's status is running, 0 otherwise.",
		}, []string{"flow"}),
	}
}

// FlowObservation is a point-in-time read of one flow's counters. Callers
// (cmd/cdcsink, reading the orchestrator's *flow.Flow handles) build
// these and pass them to Observe; this package never imports pkg/flow
// directly to keep the observability layer decoupled from the runtime.
type FlowObservation struct {
	Name             string
	Status           string
	MessagesReceived int64
	RecordsProcessed int64
	Errors           int64
}

// Observe updates every gauge for one flow's latest snapshot.
func (m *FlowMetrics) Observe(obs FlowObservation) {
	m.MessagesReceived.WithLabelValues(obs.Name).Set(float64(obs.MessagesReceived))
	m.RecordsProcessed.WithLabelValues(obs.Name).Set(float64(obs.RecordsProcessed))
	m.Errors.WithLabelValues(obs.Name).Set(float64(obs.Errors))
	up := 0.0
	if obs.Status == "running" {
		up = 1.0
	}
	m.FlowUp.WithLabelValues(obs.Name).Set(up)
}

// Forget removes a flow's label set once it has been removed from the
// orchestrator, so a restarted-under-a-new-name flow doesn't leave a stale
// series behind.
func (m *FlowMetrics) Forget(name string) {
	m.MessagesReceived.DeleteLabelValues(name)
	m.RecordsProcessed.DeleteLabelValues(name)
	m.Errors.DeleteLabelValues(name)
	m.FlowUp.DeleteLabelValues(name)
}
