// ABOUTME: Package documentation for the store package
// ABOUTME: Describes the SQLite transcript cache

// Package store provides a local SQLite cache of conversation
// transcripts.
//
// # Overview
//
// The cache holds one row per message, keyed by research ID, so
// transcripts survive client restarts. The chat manager writes
// through it on every completed turn and reads it back to restore a
// conversation that has no in-memory messages yet.
//
// The backend owns conversation state; this cache is advisory. A
// missing or stale row never blocks sending, and write failures are
// logged rather than surfaced to the user.
//
// # Storage
//
// Messages are stored with their role, content, JSON-encoded tool
// invocations, and an RFC 3339 timestamp. Saving a message ID that
// already exists updates the row in place, which lets a streamed
// assistant message be persisted once its turn completes even if a
// partial write happened earlier.
package store
