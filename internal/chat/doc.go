// Package chat maintains per-research conversation sessions.
//
// # Overview
//
// One Conversation exists per research id, created lazily on first
// access and held for the process lifetime. The Manager mediates two
// exchange paths against the backend:
//
//   - Send: a single request/response call; the assistant reply is
//     appended whole.
//   - OpenStream + SendStreaming: a persistent streaming connection;
//     assistant replies arrive as incremental chunk frames that are
//     reconciled into the transcript.
//
// # Streaming reconciliation
//
// Inbound frames carry a "type" discriminator:
//
//   - chunk: appended to the in-progress assistant message, or starts
//     a new one when no turn is streaming
//   - complete: ends the current assistant turn
//   - error: surfaces the error text and ends the turn; any partial
//     content is kept
//   - tool_use: attached to the last message when it is an assistant
//     message, silently ignored otherwise
//
// Unknown types and frames that fail to parse are dropped. The
// Streaming flag is an explicit state machine (idle -> streaming ->
// idle), never inferred from transcript inspection.
//
// # Concurrency
//
// A single mutex serializes all state. Frames for a key arrive on one
// stream goroutine in arrival order; conversations for different keys
// are independent entries with independent connections.
package chat
