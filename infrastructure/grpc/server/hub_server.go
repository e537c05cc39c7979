package server

import (
	"clinic-chat/auth"
	"clinic-chat/domain"
	"clinic-chat/errors"
	"clinic-chat/infrastructure/grpc/wire"
	"clinic-chat/services"
	"clinic-chat/sink"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// HubServer exposes the hub service over the ChatHub gRPC service.
// Every call must carry claims of the user it acts for.
type HubServer struct {
	hubService           services.IHubService
	connectionBufferSize int
	deliveryTimeout      time.Duration
	log                  *slog.Logger
}

func NewHubServer(log *slog.Logger, hubService services.IHubService,
	connectionBufferSize int, deliveryTimeout time.Duration) *HubServer {
	return &HubServer{hubService: hubService,
		connectionBufferSize: connectionBufferSize, log: log,
		deliveryTimeout: deliveryTimeout,
	}
}

// Join registers a dedicated sink for this connection and blocks until the
// client goes away. The first event acknowledges the join; the registration
// happens before it so nothing sent afterwards is missed.
func (s *HubServer) Join(in *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	var req wire.JoinRequest
	if err := wire.Decode(in, &req); err != nil {
		return errors.MapToGRPCError(err)
	}
	if err := authorize(stream.Context(), req.UserID); err != nil {
		return err
	}

	connectionID := uuid.NewString()
	connectionSink := sink.NewGrpcSink(s.log, s.connectionBufferSize, s.deliveryTimeout)
	s.hubService.Join(req.UserID, connectionID, connectionSink)
	defer s.hubService.Leave(req.UserID, connectionID)

	if err := s.send(stream, wire.HubEvent{Type: wire.EventJoined, ConnectionID: connectionID}); err != nil {
		return err
	}

	for {
		select {
		case <-stream.Context().Done():
			s.log.Debug(fmt.Sprintf("Client %s disconnected (%s)", req.UserID, connectionID))
			return nil
		case message := <-connectionSink.Messages:
			dto := wire.FromMessage(message)
			if err := s.send(stream, wire.HubEvent{Type: wire.EventMessageReceived, Message: &dto}); err != nil {
				s.log.Error("failed to push event to stream",
					"user_id", req.UserID,
					"connection_id", connectionID,
					"error", err)
				return err
			}
		}
	}
}

func (s *HubServer) send(stream grpc.ServerStreamingServer[structpb.Struct], event wire.HubEvent) error {
	evt, err := wire.Encode(event)
	if err != nil {
		return errors.MapToGRPCError(err)
	}
	return stream.Send(evt)
}

func (s *HubServer) LoadHistory(ctx context.Context, in *structpb.Struct) (*structpb.ListValue, error) {
	var req wire.HistoryRequest
	if err := wire.Decode(in, &req); err != nil {
		return nil, errors.MapToGRPCError(err)
	}
	if err := authorize(ctx, req.SelfID); err != nil {
		return nil, err
	}
	messages, err := s.hubService.LoadHistory(ctx, req.SelfID, req.CounterpartID)
	if err != nil {
		return nil, errors.MapToGRPCError(err)
	}
	list, err := wire.EncodeList(lo.Map(messages, func(m domain.Message, _ int) wire.MessageDTO {
		return wire.FromMessage(m)
	}))
	if err != nil {
		return nil, errors.MapToGRPCError(err)
	}
	return list, nil
}

// Send stores and dispatches a message. The caller is not answered with the
// message: like any participant it receives it on its Join stream.
func (s *HubServer) Send(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	var req wire.SendRequest
	if err := wire.Decode(in, &req); err != nil {
		return nil, errors.MapToGRPCError(err)
	}
	if err := authorize(ctx, req.SelfID); err != nil {
		return nil, err
	}
	if _, err := s.hubService.Send(ctx, req.SelfID, req.CounterpartID, req.Content); err != nil {
		return nil, errors.MapToGRPCError(err)
	}
	return &emptypb.Empty{}, nil
}

// authorize checks that the authenticated user is the one named in the request.
func authorize(ctx context.Context, userID string) error {
	claims, ok := auth.ClaimsFromContext(ctx)
	if !ok {
		return errors.MapToGRPCError(errors.ErrUnauthenticated)
	}
	if claims.UserID != userID {
		return errors.MapToGRPCError(fmt.Errorf("%w: %s cannot act as %s", errors.ErrForbidden, claims.UserID, userID))
	}
	return nil
}
