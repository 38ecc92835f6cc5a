package pairlink

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"google.golang.org/protobuf/types/known/structpb"
)

// PresharedKeySize is the exact length, in bytes, of a preshared key
const PresharedKeySize = 16

var (
	// ErrNegativeContentLength is returned when a message declares a negative length
	ErrNegativeContentLength = errors.New("content length cannot be negative")
	// ErrUnreadableStream is returned when a message with content has no payload reader
	ErrUnreadableStream = errors.New("payload stream must be readable")
	// ErrUnsupportedMetadata is returned when a metadata value cannot be carried on the wire
	ErrUnsupportedMetadata = errors.New("unsupported metadata value")
	// ErrInvalidPresharedKey is returned when a preshared key is not exactly 16 bytes
	ErrInvalidPresharedKey = fmt.Errorf("preshared key must be exactly %d bytes", PresharedKeySize)
	// ErrInvalidPort is returned for ports outside 1-65535 (0 is allowed for listeners)
	ErrInvalidPort = errors.New("invalid port")
	// ErrEmptyPeerAddress is returned when no peer address is configured
	ErrEmptyPeerAddress = errors.New("peer address cannot be empty")
)

// Message is a unit of data exchanged between the two nodes.
// ContentLength is the number of bytes obtainable from Payload.
type Message struct {
	// Metadata is an arbitrary key/value mapping carried alongside the payload.
	// Values must be representable as protobuf Values (nil, bool, numbers, strings,
	// []any and map[string]any). Numbers are received as float64.
	Metadata map[string]any

	// ContentLength is the declared payload length in bytes
	ContentLength int64

	// Payload yields exactly ContentLength bytes
	Payload io.Reader
}

// NewMessage creates a message from an in-memory payload.
// The payload is not copied; callers must not mutate it until the send completes.
func NewMessage(data []byte, metadata map[string]any) Message {
	return Message{
		Metadata:      metadata,
		ContentLength: int64(len(data)),
		Payload:       bytes.NewReader(data),
	}
}

// NewStreamMessage creates a message that reads its payload from a stream
func NewStreamMessage(metadata map[string]any, contentLength int64, payload io.Reader) Message {
	return Message{
		Metadata:      metadata,
		ContentLength: contentLength,
		Payload:       payload,
	}
}

// Validate checks the message invariants before it is handed to a link
func (m Message) Validate() error {
	if m.ContentLength < 0 {
		return ErrNegativeContentLength
	}
	if m.ContentLength > 0 && m.Payload == nil {
		return ErrUnreadableStream
	}
	if len(m.Metadata) > 0 {
		if _, err := structpb.NewStruct(m.Metadata); err != nil {
			return fmt.Errorf("%w: %v", ErrUnsupportedMetadata, err)
		}
	}
	return nil
}

// Reader returns the payload reader, substituting an empty reader for zero-length messages
func (m Message) Reader() io.Reader {
	if m.Payload == nil {
		return bytes.NewReader(nil)
	}
	return m.Payload
}

// Bytes reads the full payload. It returns io.ErrUnexpectedEOF when the
// payload yields fewer than ContentLength bytes.
func (m Message) Bytes() ([]byte, error) {
	if m.ContentLength < 0 {
		return nil, ErrNegativeContentLength
	}
	buf := make([]byte, m.ContentLength)
	if _, err := io.ReadFull(m.Reader(), buf); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return buf, nil
}

// ValidatePresharedKey reports whether key is a usable preshared key.
// An empty key means "no preshared key" and is valid.
func ValidatePresharedKey(key string) error {
	if key == "" {
		return nil
	}
	if len(key) != PresharedKeySize {
		return ErrInvalidPresharedKey
	}
	return nil
}
