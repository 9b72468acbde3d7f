// Package dispatch turns gateway DISPATCH payloads into typed message events.
//
// The Dispatcher:
//   - Decodes MESSAGE_CREATE, MESSAGE_UPDATE, MESSAGE_DELETE,
//     MESSAGE_DELETE_BULK and CHANNEL_CREATE payloads
//   - Maintains the message cache synchronously, in gateway order
//   - Reconstructs before-state for edits and full snapshots for deletes
//   - Hands events to a Handler on a separate goroutine through an
//     unbounded-growth queue, so a slow handler never stalls the gateway
package dispatch
