package expertrpc

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the gRPC fully-qualified service name, hand-assigned in
// place of a .proto package path (there is no protoc-generated stub
// backing this service).
const ServiceName = "lighthouse.expertrpc.v1.ExpertService"

// ExpertServiceServer is implemented by whichever side of the
// connection hosts expert adjudication logic: an expert agent process
// answering Delegate calls, and either pairing participant answering
// Suggest stream frames.
type ExpertServiceServer interface {
	Delegate(ctx context.Context, req *DelegateRequest) (*DelegateResponse, error)
	Suggest(stream ExpertService_SuggestServer) error
}

// ExpertService_SuggestServer is the server-side view of the
// bidirectional suggestion stream.
type ExpertService_SuggestServer interface {
	Send(*SuggestMessage) error
	Recv() (*SuggestMessage, error)
	grpc.ServerStream
}

type expertServiceSuggestServer struct {
	grpc.ServerStream
}

func (x *expertServiceSuggestServer) Send(m *SuggestMessage) error {
	return x.ServerStream.SendMsg(m)
}

func (x *expertServiceSuggestServer) Recv() (*SuggestMessage, error) {
	m := new(SuggestMessage)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func delegateHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(DelegateRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ExpertServiceServer).Delegate(ctx, req)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/" + ServiceName + "/Delegate",
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ExpertServiceServer).Delegate(ctx, req.(*DelegateRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func suggestHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(ExpertServiceServer).Suggest(&expertServiceSuggestServer{stream})
}

// ServiceDesc is the hand-written replacement for a protoc-generated
// _ExpertService_serviceDesc. It registers exactly the two RPCs the
// Expert Coordinator and Pair-Session Manager need.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ExpertServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Delegate",
			Handler:    delegateHandler,
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Suggest",
			Handler:       suggestHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "internal/expertrpc/service.go",
}

// RegisterExpertServiceServer registers an implementation on a gRPC
// server, mirroring the generated RegisterXServer helper.
func RegisterExpertServiceServer(s grpc.ServiceRegistrar, srv ExpertServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}
