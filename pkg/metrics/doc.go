// Package metrics exposes the controller's own Prometheus metrics
// (queue/waiting/running gauges, ledger size, loop durations, failure
// counters) via Handler, plus small helpers — Timer for latency
// histograms and a process-wide HealthStatus used by the health and
// readiness endpoints. It is distinct from the Prometheus query client in
// pkg/inventory, which reads node memory usage from an external
// Prometheus rather than serving metrics of its own.
package metrics
