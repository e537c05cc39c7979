//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"clinic-chat/domain"
	"context"
	"reflect"
)

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// Hub is the request/response side of the live hub connection.
type Hub interface {
	LoadHistory(ctx context.Context, selfID, counterpartID string) ([]domain.Message, error)
	Send(ctx context.Context, selfID, counterpartID, content string) error
}

// Connection is the single hub connection of a session as seen by its owner.
type Connection interface {
	Hub
	StateReader
	Connect(ctx context.Context, session domain.Session, credential func(context.Context) (string, error)) error
	Disconnect()
	OnMessage(handler func(domain.Message)) (unsubscribe func())
	OnStateChange(handler func(domain.ConnectionState)) (unsubscribe func())
}

// StateReader exposes the current connection state without any way to change it.
type StateReader interface {
	State() domain.ConnectionState
}

// ConversationAPI is the REST backend as consumed by the conversation directory.
type ConversationAPI interface {
	ListConversations(ctx context.Context, userID string) ([]domain.Conversation, error)
	MarkRead(ctx context.Context, conversationID, userID string) error
}

// Authenticator supplies the current session and the bearer credential.
// OnChange handlers are called with ok=false on logout.
type Authenticator interface {
	Session() (domain.Session, bool)
	Credential(ctx context.Context) (string, error)
	OnChange(handler func(session domain.Session, ok bool)) (unsubscribe func())
}

// MessageSink receives every message pushed to one joined hub connection.
type MessageSink interface {
	Consume(ctx context.Context, message domain.Message) error
}
