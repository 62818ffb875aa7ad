// Package prometheus provides Prometheus collectors for passcode metrics.
//
// [NewPrometheusExporter] accepts a [passcode.Engine] and exposes an [http.Handler]
// that renders all passcode counters and histograms in Prometheus text exposition format.
// Counter names are prefixed passcode_*_total; the single histogram is
// passcode_validate_latency_seconds.
//
// # What this package must NOT do
//
//   - Register metrics in a global Prometheus registry — callers mount the Handler.
//   - Mutate engine state.
package prometheus
