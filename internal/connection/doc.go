// Package connection implements the push channel Connection Manager.
//
// The Manager:
//   - Dials one WebSocket with a freshly derived credential per attempt
//   - Sends an application ping every 30s while connected
//   - Reconnects with exponential backoff until MaxAttempts, then reports
//     the channel unavailable until the next manual Connect
//   - Queues outbound envelopes while not connected and flushes them in order
//   - Forwards inbound frames to the Message Router
package connection
