// Package model defines the message types shared by the gateway dispatcher,
// the cache and every downstream consumer.
//
// Conventions:
//   - IDs: int64 snowflakes (decimal strings on the wire)
//   - Timestamps: ISO-8601 strings exactly as received
//   - Optional fields: pointers, nil when unknown
package model
