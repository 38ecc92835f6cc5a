// Package wire defines the frames exchanged on a pairlink stream and their
// protobuf encoding.
//
// Frames are encoded field by field with protowire. The encoding is that of
// the following protobuf message:
//
//	message Frame {
//	  Kind   kind           = 1;
//	  bytes  nonce          = 2;
//	  string token          = 3;
//	  bool   ok             = 4;
//	  string reason         = 5;
//	  string message_id     = 6;
//	  bytes  metadata       = 7; // google.protobuf.Struct
//	  int64  content_length = 8;
//	  bytes  data           = 9;
//	}
package wire

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Kind identifies the purpose of a frame
type Kind int32

const (
	KindUnknown Kind = iota
	// KindChallenge carries the server nonce for preshared key authentication
	KindChallenge
	// KindAuthResponse carries the client's signed answer to a challenge
	KindAuthResponse
	// KindReady ends the handshake; OK reports whether the stream was accepted
	KindReady
	// KindMessageStart opens a message with its metadata and content length
	KindMessageStart
	// KindChunk carries a slice of the payload of the open message
	KindChunk
	// KindMessageEnd closes the open message
	KindMessageEnd
)

func (k Kind) String() string {
	switch k {
	case KindChallenge:
		return "Challenge"
	case KindAuthResponse:
		return "AuthResponse"
	case KindReady:
		return "Ready"
	case KindMessageStart:
		return "MessageStart"
	case KindChunk:
		return "Chunk"
	case KindMessageEnd:
		return "MessageEnd"
	default:
		return "Unknown"
	}
}

const (
	fieldKind          protowire.Number = 1
	fieldNonce         protowire.Number = 2
	fieldToken         protowire.Number = 3
	fieldOK            protowire.Number = 4
	fieldReason        protowire.Number = 5
	fieldMessageID     protowire.Number = 6
	fieldMetadata      protowire.Number = 7
	fieldContentLength protowire.Number = 8
	fieldData          protowire.Number = 9
)

// ErrMalformedFrame is returned when a frame cannot be decoded
var ErrMalformedFrame = errors.New("malformed frame")

// Frame is the single message type carried on the link stream.
// Which fields are meaningful depends on Kind.
type Frame struct {
	Kind          Kind
	Nonce         []byte
	Token         string
	OK            bool
	Reason        string
	MessageID     string
	Metadata      []byte
	ContentLength int64
	Data          []byte
}

// Marshal encodes the frame. Zero-valued fields are omitted.
func (f *Frame) Marshal() []byte {
	b := make([]byte, 0, f.size())
	if f.Kind != KindUnknown {
		b = protowire.AppendTag(b, fieldKind, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(f.Kind))
	}
	if len(f.Nonce) > 0 {
		b = protowire.AppendTag(b, fieldNonce, protowire.BytesType)
		b = protowire.AppendBytes(b, f.Nonce)
	}
	if f.Token != "" {
		b = protowire.AppendTag(b, fieldToken, protowire.BytesType)
		b = protowire.AppendString(b, f.Token)
	}
	if f.OK {
		b = protowire.AppendTag(b, fieldOK, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(true))
	}
	if f.Reason != "" {
		b = protowire.AppendTag(b, fieldReason, protowire.BytesType)
		b = protowire.AppendString(b, f.Reason)
	}
	if f.MessageID != "" {
		b = protowire.AppendTag(b, fieldMessageID, protowire.BytesType)
		b = protowire.AppendString(b, f.MessageID)
	}
	if len(f.Metadata) > 0 {
		b = protowire.AppendTag(b, fieldMetadata, protowire.BytesType)
		b = protowire.AppendBytes(b, f.Metadata)
	}
	if f.ContentLength != 0 {
		b = protowire.AppendTag(b, fieldContentLength, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(f.ContentLength))
	}
	if len(f.Data) > 0 {
		b = protowire.AppendTag(b, fieldData, protowire.BytesType)
		b = protowire.AppendBytes(b, f.Data)
	}
	return b
}

func (f *Frame) size() int {
	n := 0
	if f.Kind != KindUnknown {
		n += protowire.SizeTag(fieldKind) + protowire.SizeVarint(uint64(f.Kind))
	}
	n += sizeBytes(fieldNonce, len(f.Nonce))
	n += sizeBytes(fieldToken, len(f.Token))
	if f.OK {
		n += protowire.SizeTag(fieldOK) + 1
	}
	n += sizeBytes(fieldReason, len(f.Reason))
	n += sizeBytes(fieldMessageID, len(f.MessageID))
	n += sizeBytes(fieldMetadata, len(f.Metadata))
	if f.ContentLength != 0 {
		n += protowire.SizeTag(fieldContentLength) + protowire.SizeVarint(uint64(f.ContentLength))
	}
	n += sizeBytes(fieldData, len(f.Data))
	return n
}

func sizeBytes(num protowire.Number, l int) int {
	if l == 0 {
		return 0
	}
	return protowire.SizeTag(num) + protowire.SizeBytes(l)
}

// Unmarshal decodes b into f, replacing its contents.
// Byte fields are copied, so b may be reused once Unmarshal returns.
// Unknown fields are skipped.
func (f *Frame) Unmarshal(b []byte) error {
	*f = Frame{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformedFrame, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldKind && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("%w: kind: %v", ErrMalformedFrame, protowire.ParseError(n))
			}
			f.Kind = Kind(v)
			b = b[n:]
		case num == fieldOK && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("%w: ok: %v", ErrMalformedFrame, protowire.ParseError(n))
			}
			f.OK = protowire.DecodeBool(v)
			b = b[n:]
		case num == fieldContentLength && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("%w: content_length: %v", ErrMalformedFrame, protowire.ParseError(n))
			}
			f.ContentLength = int64(v)
			b = b[n:]
		case typ == protowire.BytesType && isBytesField(num):
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fmt.Errorf("%w: field %d: %v", ErrMalformedFrame, num, protowire.ParseError(n))
			}
			f.setBytes(num, v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("%w: field %d: %v", ErrMalformedFrame, num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return nil
}

func isBytesField(num protowire.Number) bool {
	switch num {
	case fieldNonce, fieldToken, fieldReason, fieldMessageID, fieldMetadata, fieldData:
		return true
	}
	return false
}

func (f *Frame) setBytes(num protowire.Number, v []byte) {
	switch num {
	case fieldNonce:
		f.Nonce = append([]byte(nil), v...)
	case fieldToken:
		f.Token = string(v)
	case fieldReason:
		f.Reason = string(v)
	case fieldMessageID:
		f.MessageID = string(v)
	case fieldMetadata:
		f.Metadata = append([]byte(nil), v...)
	case fieldData:
		f.Data = append([]byte(nil), v...)
	}
}
