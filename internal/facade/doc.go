// Package facade is the entry point application code uses to read and
// watch synchronized entities.
//
// Reads go through the entity cache: a fresh value is returned as is, a
// stale one is returned immediately and revalidated in the background,
// and a miss fetches over the HTTP fallback. Push events keep the cache
// current and are fanned out to per-entity subscriptions. Entities with
// no push coverage, such as shipment timelines, are polled.
//
// Start binds the push channel to the login session: it connects on login
// and, on logout, disconnects and empties the cache.
package facade
