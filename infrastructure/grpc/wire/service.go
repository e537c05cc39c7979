// Package wire describes the ChatHub gRPC service and its payloads.
//
// The hub exchanges google.protobuf.Struct documents instead of generated
// messages, so the service descriptor below is written by hand in the shape
// protoc-gen-go-grpc would produce.
package wire

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "clinic.chat.v1.ChatHub"

const (
	JoinFullMethodName        = "/clinic.chat.v1.ChatHub/Join"
	LoadHistoryFullMethodName = "/clinic.chat.v1.ChatHub/LoadHistory"
	SendFullMethodName        = "/clinic.chat.v1.ChatHub/Send"
)

// HubServer is the server API for the ChatHub service.
type HubServer interface {
	// Join subscribes the caller to its per-user channel.
	// The first event is Joined, then every MessageReceived for that user.
	Join(*structpb.Struct, grpc.ServerStreamingServer[structpb.Struct]) error
	LoadHistory(context.Context, *structpb.Struct) (*structpb.ListValue, error)
	Send(context.Context, *structpb.Struct) (*emptypb.Empty, error)
}

func RegisterHubServer(s grpc.ServiceRegistrar, srv HubServer) {
	s.RegisterService(&HubServiceDesc, srv)
}

func _ChatHub_Join_Handler(srv any, stream grpc.ServerStream) error {
	m := new(structpb.Struct)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(HubServer).Join(m, &grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
}

func _ChatHub_LoadHistory_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(HubServer).LoadHistory(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: LoadHistoryFullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(HubServer).LoadHistory(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func _ChatHub_Send_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(HubServer).Send(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: SendFullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(HubServer).Send(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

var HubServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*HubServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "LoadHistory", Handler: _ChatHub_LoadHistory_Handler},
		{MethodName: "Send", Handler: _ChatHub_Send_Handler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Join", Handler: _ChatHub_Join_Handler, ServerStreams: true},
	},
	Metadata: "clinic/chat/v1/hub.proto",
}

// HubClient is the raw client API for the ChatHub service.
type HubClient interface {
	Join(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (grpc.ServerStreamingClient[structpb.Struct], error)
	LoadHistory(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.ListValue, error)
	Send(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*emptypb.Empty, error)
}

type hubClient struct {
	cc grpc.ClientConnInterface
}

func NewHubClient(cc grpc.ClientConnInterface) HubClient {
	return &hubClient{cc}
}

func (c *hubClient) Join(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (grpc.ServerStreamingClient[structpb.Struct], error) {
	stream, err := c.cc.NewStream(ctx, &HubServiceDesc.Streams[0], JoinFullMethodName, opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[structpb.Struct, structpb.Struct]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

func (c *hubClient) LoadHistory(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.ListValue, error) {
	out := new(structpb.ListValue)
	if err := c.cc.Invoke(ctx, LoadHistoryFullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *hubClient) Send(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, SendFullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
