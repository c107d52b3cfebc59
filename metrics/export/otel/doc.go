// Package otel provides OpenTelemetry metric exporter bindings for goIdP
// counters and histograms.
//
// [NewOTelExporter] registers an Int64ObservableCounter for each goIdP
// metric and an Int64ObservableGauge per histogram bucket. A single callback
// snapshots every provider of a [goIdP.Registry] on each collection cycle
// and tags observations with realm and provider attributes.
//
// # What this package must NOT do
//
//   - Own the OTel MeterProvider; callers supply the Meter.
//   - Mutate provider state.
package otel
