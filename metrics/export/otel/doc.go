// Package otel registers goLinkAuth engine metrics with an OpenTelemetry
// Meter.
//
// Each engine counter becomes an Int64ObservableCounter. Latency histograms
// are published as one cumulative Int64ObservableGauge per bucket bound plus
// a _count gauge. One callback reads [goLinkAuth.Engine.MetricsSnapshot] per
// collection.
//
// # What this package must NOT do
//
//   - Own the MeterProvider. Callers supply the Meter.
//   - Mutate engine state.
package otel
