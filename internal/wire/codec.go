package wire

import (
	"fmt"

	"google.golang.org/grpc/encoding"
)

// CodecName is the gRPC content-subtype used on the link stream
const CodecName = "pairlink-frame"

// Codec is a gRPC codec for *Frame values.
// Both ends force it with grpc.ForceCodec / grpc.ForceServerCodec.
type Codec struct{}

var _ encoding.Codec = Codec{}

func (Codec) Marshal(v any) ([]byte, error) {
	f, ok := v.(*Frame)
	if !ok {
		return nil, fmt.Errorf("wire: cannot marshal %T, want *wire.Frame", v)
	}
	return f.Marshal(), nil
}

func (Codec) Unmarshal(data []byte, v any) error {
	f, ok := v.(*Frame)
	if !ok {
		return fmt.Errorf("wire: cannot unmarshal into %T, want *wire.Frame", v)
	}
	return f.Unmarshal(data)
}

func (Codec) Name() string {
	return CodecName
}
