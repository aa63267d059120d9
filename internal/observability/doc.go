// Package observability holds the Prometheus metrics and OpenTelemetry spans
// recorded while documents move through the pipeline.
//
// All recorder methods are nil-safe so callers can pass a nil *Metrics when
// metrics are disabled.
package observability
