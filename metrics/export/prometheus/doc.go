// Package prometheus exposes goLinkAuth engine metrics as a client_golang
// [github.com/prometheus/client_golang/prometheus.Collector].
//
// Counter names are prefixed linkauth_ and end in _total. Session validation
// and magic-link consumption latencies are exported as histograms when the
// engine records them.
//
// # What this package must NOT do
//
//   - Register in the global Prometheus registry. Callers register the
//     Collector or mount [Collector.Handler].
//   - Mutate engine state.
package prometheus
