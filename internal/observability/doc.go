// Package observability wires structured logging, OpenTelemetry tracing and
// Prometheus-backed OpenTelemetry metrics for tideflow.
//
// Build the process logger with NewLogger, the tracer provider with
// InitTracing and the meter provider with InitMetrics. The meter provider's
// Handler serves the Prometheus scrape endpoint.
package observability
