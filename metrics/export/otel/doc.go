// Package otel binds AndyWeb engine metrics to OpenTelemetry instruments.
//
// Every counter becomes an Int64ObservableCounter and each latency bucket an
// Int64ObservableGauge. One callback reads the engine snapshot per collection;
// the caller owns the MeterProvider.
package otel
