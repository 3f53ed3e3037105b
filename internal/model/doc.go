// Package model defines shared data types used across the vehicle sync layer.
//
// Conventions:
//   - Entities are addressed by "<type>:<id>" keys (see Entity.Key)
//   - Entity bodies are kept as raw JSON objects; typed views (Vehicle, Bid, ...)
//     are decoded on demand by consumers
//   - Timestamps: time.Time, ISO-8601 on the wire
//   - IDs: strings; numeric IDs on the wire are accepted and normalised (see ID)
package model
