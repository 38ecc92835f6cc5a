package transport

import "errors"

var (
	// ErrAuthenticationFailed is returned when the server rejects the preshared key
	ErrAuthenticationFailed = errors.New("preshared key authentication failed")
	// ErrPresharedKeyRequired is returned when the server challenges a client that has no preshared key
	ErrPresharedKeyRequired = errors.New("server requires a preshared key but none is configured")
	// ErrNotPermitted is returned when the server refuses the client's address
	ErrNotPermitted = errors.New("address is not permitted by the server")
	// ErrNotConnected is returned when sending on a link that is not connected
	ErrNotConnected = errors.New("not connected")
	// ErrClosed is returned when using a closed server or client
	ErrClosed = errors.New("transport is closed")
	// ErrAlreadyConnected is returned when Connect is called twice on the same client
	ErrAlreadyConnected = errors.New("client already connected")
	// ErrMessageTooLarge is returned when an inbound message exceeds MaxMessageSize
	ErrMessageTooLarge = errors.New("message exceeds maximum size")
	// ErrProtocol is returned when the peer sends an unexpected frame
	ErrProtocol = errors.New("protocol violation")
	// ErrInvalidBufferSize is returned when ReadStreamBufferSize is less than 1
	ErrInvalidBufferSize = errors.New("read stream buffer size must be at least 1")
)
