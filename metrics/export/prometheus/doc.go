// Package prometheus renders goRecycle metrics in Prometheus text exposition format.
//
// [NewPrometheusExporter] reads [goRecycle.Client.MetricsSnapshot] on every scrape.
// Counter names are prefixed gorecycle_*_total; the single histogram is
// gorecycle_submit_latency_seconds. gorecycle_events_dropped_total reports events
// lost to a full dispatcher buffer.
//
// # What this package must NOT do
//
//   - Register metrics in a global Prometheus registry. Callers mount the Handler.
//   - Mutate client state.
package prometheus
