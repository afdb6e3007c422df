package metrics

import (
	"context"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// RecordHealthCheck records the outcome and duration of a single health check evaluation.
func (tm *TelemetryManager) RecordHealthCheck(status string, duration time.Duration) {
	if !tm.config.Metrics.Enabled {
		return
	}
	ctx := context.Background()
	attrs := metric.WithAttributes(attribute.String("status", status))
	if counter, ok := tm.counters["health_checks"]; ok {
		counter.Add(ctx, 1, attrs)
	}
	if hist, ok := tm.histograms["health_check_duration"]; ok {
		hist.Record(ctx, duration.Seconds(), attrs)
	}
}

// RecordHTTPRequest records a served HTTP request's method, path, status code, and latency.
func (tm *TelemetryManager) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	if !tm.config.Metrics.Enabled {
		return
	}
	ctx := context.Background()
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.String("status_code", strconv.Itoa(statusCode)),
	)
	if counter, ok := tm.counters["http_requests"]; ok {
		counter.Add(ctx, 1, attrs)
	}
	if hist, ok := tm.histograms["http_request_duration"]; ok {
		hist.Record(ctx, duration.Seconds(), attrs)
	}
}

// RecordMetrics records arbitrary metrics (for backward compatibility)
func (tm *TelemetryManager) RecordMetrics(ctx context.Context, metrics map[string]interface{}) {
	// This method is kept for backward compatibility
	// In practice, specific metric recording methods should be preferred
}

// IncrementCounter increments a named counter (for backward compatibility)
func (tm *TelemetryManager) IncrementCounter(name string, value int64) {
	if !tm.config.Metrics.Enabled {
		return
	}
	
	ctx := context.Background()
	if counter, exists := tm.counters[name]; exists {
		counter.Add(ctx, value)
	}
}

// SetGauge sets a gauge value (placeholder - gauges in this implementation are observable)
func (tm *TelemetryManager) SetGauge(name string, value float64, labels map[string]string) {
	// Observable gauges are updated via callbacks, not directly set
	// This method is kept for backward compatibility with existing code
}
