// Package database opens the optional PostgreSQL store that keeps the
// history of vehicle price changes seen on the push channel.
package database
