// Package cache provides the bounded, thread-safe LRU used to remember
// created messages so that later edit and delete notifications can be
// reconstructed.
//
// The gateway only sends partial deltas for edits and deletes. Whatever is
// still cached when one arrives is the only source of the "before" state.
package cache
