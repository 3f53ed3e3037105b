// Package poller coordinates periodic refetching of resources that have no
// push channel, such as a vehicle's event timeline.
//
// Polling is reference counted per resource id: any number of consumers
// may ask for the same resource and share one loop. Each loop fetches
// immediately, then on every tick unless the previous fetch happened less
// than MinInterval ago. When the host becomes visible again every polled
// resource is refreshed at once with bounded concurrency.
package poller
