package client

import (
	"clinic-chat/domain"
	"clinic-chat/errors"
	"clinic-chat/infrastructure/grpc/wire"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// HubClient speaks the ChatHub protocol in domain terms.
type HubClient struct {
	raw wire.HubClient
}

func NewHubClient(cc grpc.ClientConnInterface) *HubClient {
	return &HubClient{raw: wire.NewHubClient(cc)}
}

// JoinStream is the per-user channel opened by Join.
type JoinStream struct {
	stream grpc.ServerStreamingClient[structpb.Struct]
}

// Recv blocks until the next event. Errors wrapping ErrInvalidPayload concern
// a single event and leave the stream usable.
func (s *JoinStream) Recv() (wire.HubEvent, error) {
	doc, err := s.stream.Recv()
	if err != nil {
		return wire.HubEvent{}, err
	}
	return wire.ParseEvent(doc)
}

func (c *HubClient) Join(ctx context.Context, userID string, opts ...grpc.CallOption) (*JoinStream, error) {
	in, err := wire.Encode(wire.JoinRequest{UserID: userID})
	if err != nil {
		return nil, err
	}
	stream, err := c.raw.Join(ctx, in, opts...)
	if err != nil {
		return nil, err
	}
	return &JoinStream{stream: stream}, nil
}

func (c *HubClient) LoadHistory(ctx context.Context, selfID, counterpartID string) ([]domain.Message, error) {
	in, err := wire.Encode(wire.HistoryRequest{SelfID: selfID, CounterpartID: counterpartID})
	if err != nil {
		return nil, err
	}
	out, err := c.raw.LoadHistory(ctx, in)
	if err != nil {
		return nil, err
	}
	return wire.DecodeMessages(out)
}

func (c *HubClient) Send(ctx context.Context, selfID, counterpartID, content string) error {
	in, err := wire.Encode(wire.SendRequest{SelfID: selfID, CounterpartID: counterpartID, Content: content})
	if err != nil {
		return err
	}
	_, err = c.raw.Send(ctx, in)
	return err
}

// DialConfig holds the reconnect policy handed to gRPC.
type DialConfig struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	DebugCalls bool
	Options    []grpc.DialOption
}

// Dial creates a lazy client connection to the hub. gRPC owns reconnection
// with exponential backoff; nothing in this module re-implements it.
func Dial(target string, creds credentials.PerRPCCredentials, cfg DialConfig, log *slog.Logger) (*grpc.ClientConn, error) {
	backoffConfig := backoff.DefaultConfig
	if cfg.BaseDelay > 0 {
		backoffConfig.BaseDelay = cfg.BaseDelay
	}
	if cfg.MaxDelay > 0 {
		backoffConfig.MaxDelay = cfg.MaxDelay
	}
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithPerRPCCredentials(creds),
		grpc.WithConnectParams(grpc.ConnectParams{
			Backoff:           backoffConfig,
			MinConnectTimeout: 2 * time.Second,
		}),
	}
	if cfg.DebugCalls {
		opts = append(opts, grpc.WithUnaryInterceptor(LoggingInterceptor(log)))
	}
	opts = append(opts, cfg.Options...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errors.ErrNotConnected, target, err)
	}
	return conn, nil
}

// LoggingInterceptor logs every unary hub call with its status and, at debug
// level, the request and response documents.
func LoggingInterceptor(log *slog.Logger) grpc.UnaryClientInterceptor {
	marshaler := protojson.MarshalOptions{UseProtoNames: true, EmitUnpopulated: true}
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		start := time.Now()
		err := invoker(ctx, method, req, reply, cc, opts...)

		attrs := []any{"method", method, "code", status.Code(err).String(), "duration", time.Since(start)}
		if m, ok := req.(proto.Message); ok {
			attrs = append(attrs, "request", compact(marshaler.Format(m)))
		}
		if m, ok := reply.(proto.Message); ok && err == nil {
			attrs = append(attrs, "response", compact(marshaler.Format(m)))
		}
		log.Debug("hub call", attrs...)
		return err
	}
}

func compact(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
