// Package api is the HTTP fallback client for entities the push channel
// does not cover or that are missing from the cache.
//
// Endpoints:
//   - GET {base}/{resource}/{id}
//   - GET {base}/{resource}/{id}/timeline
//
// Every response is an Envelope. Requests pass through a rate limiter and
// a circuit breaker, and retryable failures (5xx, 429) are retried with
// jittered exponential backoff.
package api
