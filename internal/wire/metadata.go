package wire

import (
	"fmt"

	"github.com/rmacdonaldsmith/pairlink-go/pkg/pairlink"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// EncodeMetadata encodes message metadata as a serialized google.protobuf.Struct.
// Empty metadata encodes to nil.
func EncodeMetadata(md map[string]any) ([]byte, error) {
	if len(md) == 0 {
		return nil, nil
	}
	s, err := structpb.NewStruct(md)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pairlink.ErrUnsupportedMetadata, err)
	}
	b, err := proto.MarshalOptions{Deterministic: true}.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return b, nil
}

// DecodeMetadata decodes metadata produced by EncodeMetadata.
// It always returns a non-nil map.
func DecodeMetadata(b []byte) (map[string]any, error) {
	if len(b) == 0 {
		return map[string]any{}, nil
	}
	var s structpb.Struct
	if err := proto.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("%w: metadata: %v", ErrMalformedFrame, err)
	}
	return s.AsMap(), nil
}
