package grpcapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "voicecommerce.v1.VoiceCommandService"

const (
	interpretMethod   = "/" + ServiceName + "/Interpret"
	streamAudioMethod = "/" + ServiceName + "/StreamAudio"
)

// Metadata keys read by StreamAudio.
const (
	SessionIDKey = "x-session-id"
	UserIDKey    = "x-user-id"
)

// VoiceCommandServer is the server API. Messages are protobuf well-known
// types, so no generated code is needed on either side.
type VoiceCommandServer interface {
	// Interpret handles one transcript update {sessionId|userId, text, isFinal}.
	Interpret(context.Context, *structpb.Struct) (*structpb.Struct, error)
	// StreamAudio receives wrapperspb.BytesValue chunks and answers with a
	// summary Struct when the client half-closes.
	StreamAudio(grpc.ServerStream) error
}

// ServiceDesc describes VoiceCommandService for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*VoiceCommandServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Interpret", Handler: interpretHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "StreamAudio", Handler: streamAudioHandler, ClientStreams: true},
	},
	Metadata: "voicecommerce/v1/voice_command.proto",
}

func interpretHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(VoiceCommandServer).Interpret(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: interpretMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(VoiceCommandServer).Interpret(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func streamAudioHandler(srv any, stream grpc.ServerStream) error {
	return srv.(VoiceCommandServer).StreamAudio(stream)
}

// Client calls VoiceCommandService.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) Interpret(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, interpretMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// StreamAudio opens an audio stream. Put the session id (or a user id to
// start a new session) in the outgoing metadata.
func (c *Client) StreamAudio(ctx context.Context, opts ...grpc.CallOption) (*AudioStream, error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], streamAudioMethod, opts...)
	if err != nil {
		return nil, err
	}
	return &AudioStream{stream: stream}, nil
}

// AudioStream is the client side of StreamAudio.
type AudioStream struct {
	stream grpc.ClientStream
}

func (s *AudioStream) Send(chunk []byte) error {
	return s.stream.SendMsg(wrapperspb.Bytes(chunk))
}

// CloseAndRecv half-closes the stream and waits for the summary.
func (s *AudioStream) CloseAndRecv() (*structpb.Struct, error) {
	if err := s.stream.CloseSend(); err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := s.stream.RecvMsg(out); err != nil {
		return nil, err
	}
	return out, nil
}
