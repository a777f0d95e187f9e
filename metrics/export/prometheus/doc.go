// Package prometheus renders AndyWeb engine metrics in the Prometheus text
// exposition format. Counters are named andyweb_*_total and the single
// histogram is andyweb_validate_latency_seconds.
//
// The exporter keeps no registry of its own; mount Handler wherever the
// service exposes /metrics.
package prometheus
