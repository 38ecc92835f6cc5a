package wire

import (
	"context"

	"google.golang.org/grpc"
)

const (
	// ServiceName is the fully qualified gRPC service name of the link
	ServiceName = "pairlink.v1.Link"
	// StreamMethod is the full method name of the bidirectional link stream
	StreamMethod = "/pairlink.v1.Link/Stream"
)

// LinkServer is implemented by the server side of the link stream
type LinkServer interface {
	Stream(stream grpc.ServerStream) error
}

// ServiceDesc describes the link service for grpc.Server.RegisterService
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LinkServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Stream",
			Handler:       streamHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "pairlink/v1/link.proto",
}

func streamHandler(srv any, stream grpc.ServerStream) error {
	return srv.(LinkServer).Stream(stream)
}

// RegisterLinkServer registers srv on s
func RegisterLinkServer(s grpc.ServiceRegistrar, srv LinkServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// NewStream opens the link stream on cc. The stream lives until ctx is cancelled.
func NewStream(ctx context.Context, cc grpc.ClientConnInterface, opts ...grpc.CallOption) (grpc.ClientStream, error) {
	return cc.NewStream(ctx, &ServiceDesc.Streams[0], StreamMethod, opts...)
}
