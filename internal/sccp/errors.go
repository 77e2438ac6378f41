package sccp

import "errors"

// Sentinel errors returned by the framing and parsing layer.
var (
	// ErrProtocol indicates a malformed frame: bad length field, truncated
	// payload, or a payload that does not match its message type. The
	// session must be dropped; the byte stream can no longer be trusted.
	ErrProtocol = errors.New("sccp: protocol error")

	// ErrFrameTooLarge indicates a length field exceeding MaxPacket.
	// Fatal for the same reason as ErrProtocol: skipping the oversized
	// frame would desynchronise the stream.
	ErrFrameTooLarge = errors.New("sccp: frame exceeds maximum packet size")

	// ErrClosed indicates the peer closed the connection cleanly.
	ErrClosed = errors.New("sccp: connection closed")
)
