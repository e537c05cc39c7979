package sink

import (
	"clinic-chat/domain"
	"clinic-chat/errors"
	"context"
	"log/slog"
	"time"
)

// GrpcSink buffers the messages of one joined hub connection.
// The Join handler owning the stream drains Messages.
type GrpcSink struct {
	log             *slog.Logger
	Messages        chan domain.Message
	deliveryTimeout time.Duration
}

func NewGrpcSink(log *slog.Logger, bufferSize int, deliveryTimeout time.Duration) *GrpcSink {
	return &GrpcSink{
		log:             log,
		Messages:        make(chan domain.Message, bufferSize),
		deliveryTimeout: deliveryTimeout,
	}
}

// Consume is called by the fanout.
// A connection that does not drain its buffer within deliveryTimeout misses
// the message instead of blocking the other participants.
func (s *GrpcSink) Consume(ctx context.Context, message domain.Message) error {
	select {
	case s.Messages <- message:
		return nil
	default:
	}

	timer := time.NewTimer(s.deliveryTimeout)
	defer timer.Stop()
	select {
	case s.Messages <- message:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		s.log.Warn("Dropping message for slow connection", "recipient_id", message.RecipientID)
		return errors.ErrSlowConsumer
	}
}
