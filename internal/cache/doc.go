// Package cache holds remotely owned entities keyed by "<type>:<id>".
//
// Entries carry a fetch time and a ttl. Get serves whatever is cached;
// freshness only decides whether GetOrFetch goes back to the source.
// Concurrent GetOrFetch calls for the same key share one fetch.
package cache
