// Package archive persists deleted and edited messages to PostgreSQL.
//
// The Writer is a dispatch.Handler. Events are queued in memory and written
// in batches by a background goroutine, so a slow database never stalls
// event delivery.
//
// Tables:
//   - message_deletes: one row per delete, backfilled from the cache when known
//   - message_edits: one row per edit with before/after content
package archive
