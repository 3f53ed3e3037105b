// Package writer persists the price changes seen on the push channel.
//
// PriceHistoryWriter drains the router's price buffer into batches and
// inserts them with pgx.Batch. Inserts are append-only and idempotent:
// a replayed event hits ON CONFLICT DO NOTHING and is counted as a
// conflict.
package writer
