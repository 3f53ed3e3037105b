package cache

import "time"

// Entry is a cached value with its fetch time and time-to-live.
type Entry[V any] struct {
	Key       string
	Value     V
	FetchedAt time.Time
	TTL       time.Duration
}

// FreshAt reports whether the entry is fresh at the given instant.
// An entry is fresh iff now - FetchedAt < TTL.
func (e Entry[V]) FreshAt(now time.Time) bool {
	return now.Sub(e.FetchedAt) < e.TTL
}

// Age returns how long ago the entry was fetched.
func (e Entry[V]) Age(now time.Time) time.Duration {
	return now.Sub(e.FetchedAt)
}

// Stats contains cache counters.
type Stats struct {
	Entries       int
	Hits          int64 // fresh reads
	StaleHits     int64 // stale values served
	Misses        int64
	Fetches       int64 // underlying fetch calls
	SharedWaits   int64 // callers that joined an in-flight fetch
	FetchErrors   int64
	Invalidations int64
	Discarded     int64 // fetch results dropped because the key was invalidated in flight
}
