// Package router implements the Message Router.
//
// Inbound frames are parsed into envelopes and processed in arrival order.
// Built-in event types (entity and typed updates, deletes, price changes,
// ping/pong) are reconciled into the entity cache first; every event is
// then delivered to the subscriptions registered for its exact type.
// Price changes are also published to a GrowableBuffer for the price
// history writer.
package router
