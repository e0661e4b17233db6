// Package prometheus exposes otpauth engine metrics through
// prometheus/client_golang.
//
// [PrometheusExporter] is a prometheus.Collector that reads
// [otpauth.Engine.MetricsSnapshot] on each scrape. Counter names are
// otpauth_*_total; the single histogram is
// otpauth_authenticate_latency_seconds.
//
// # What this package must NOT do
//
//   - Register metrics in the global Prometheus registry. Callers use
//     Register or mount Handler.
//   - Mutate engine state.
package prometheus
