// ABOUTME: Sentinel errors for conversation manager operations
// ABOUTME: Callers distinguish failure classes with errors.Is

package chat

import "errors"

var (
	// ErrNotConnected is returned by SendStreaming when no open
	// streaming connection exists for the key.
	ErrNotConnected = errors.New("no open stream for conversation")

	// ErrConnectFailed wraps streaming connection handshake failures.
	ErrConnectFailed = errors.New("stream connect failed")
)
