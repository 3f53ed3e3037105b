// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Entity cache hit/miss/stale rates and fetch outcomes
//   - Push channel state, transitions, reconnect attempts and outbound queue depth
//   - Router frame throughput, drops and subscriber failures
//   - Poller fetch outcomes and active handles
//   - HTTP fallback latency and circuit breaker state
//   - Price history writer throughput
//
// Collectors are registered with the default registry at init; cmd/syncd
// serves them through promhttp.
package metrics
