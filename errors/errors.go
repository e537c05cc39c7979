package errors

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	ErrWorkerPanic = fmt.Errorf("worker panic")

	ErrNotConnected        = fmt.Errorf("hub connection is not established")
	ErrSessionRequired     = fmt.Errorf("an authenticated session is required")
	ErrJoinFailed          = fmt.Errorf("joining the user channel failed")
	ErrSendRejected        = fmt.Errorf("send rejected")
	ErrEmptyContent        = fmt.Errorf("%w: message is empty", ErrSendRejected)
	ErrNoConversation      = fmt.Errorf("%w: no conversation selected", ErrSendRejected)
	ErrSendWhileOffline    = fmt.Errorf("%w: %w", ErrSendRejected, ErrNotConnected)
	ErrSelectionSuperseded = fmt.Errorf("conversation selection superseded")
	ErrUnknownConversation = fmt.Errorf("unknown conversation")
	ErrInvalidPayload      = fmt.Errorf("invalid payload")
	ErrUnauthenticated     = fmt.Errorf("unauthenticated")
	ErrForbidden           = fmt.Errorf("forbidden")
	ErrInvalidToken        = fmt.Errorf("invalid or expired token")
	ErrNotFound            = fmt.Errorf("not found")
	ErrSlowConsumer        = fmt.Errorf("connection is not draining its events")
)

// MapToGRPCError translates domain errors into gRPC status errors.
// Unknown errors become codes.Internal.
func MapToGRPCError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, ErrInvalidPayload), errors.Is(err, ErrSendRejected):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, ErrUnauthenticated), errors.Is(err, ErrInvalidToken):
		return status.Error(codes.Unauthenticated, err.Error())
	case errors.Is(err, ErrForbidden):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrUnknownConversation):
		return status.Error(codes.NotFound, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// HTTPStatus is the REST counterpart of MapToGRPCError.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrInvalidPayload), errors.Is(err, ErrSendRejected):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthenticated), errors.Is(err, ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrUnknownConversation):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// FromHTTPStatus turns a failed REST response back into a sentinel.
func FromHTTPStatus(code int, body string) error {
	switch code {
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", ErrInvalidPayload, body)
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", ErrUnauthenticated, body)
	case http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrForbidden, body)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, body)
	default:
		return fmt.Errorf("backend answered %d: %s", code, body)
	}
}

// IsTransient reports whether a hub call failed because the transport was not usable.
func IsTransient(err error) bool {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled:
		return true
	}
	return errors.Is(err, ErrNotConnected)
}
