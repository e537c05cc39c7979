package wire

import (
	"clinic-chat/domain"
	"clinic-chat/errors"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

var validate = validator.New()

const (
	EventJoined          = "Joined"
	EventMessageReceived = "MessageReceived"
)

// Backend payloads are not consistent about field casing ("senderId" and
// "SenderId" both occur). Every payload goes through encoding/json, whose
// field matching is case-insensitive, so the DTOs below are the only place
// that knows about the wire names.

type JoinRequest struct {
	UserID string `json:"userId" validate:"required"`
}

type HistoryRequest struct {
	SelfID        string `json:"selfId" validate:"required"`
	CounterpartID string `json:"counterpartId" validate:"required"`
}

type SendRequest struct {
	SelfID        string `json:"selfId" validate:"required"`
	CounterpartID string `json:"counterpartId" validate:"required"`
	Content       string `json:"content"`
}

type MessageDTO struct {
	ID             string    `json:"id,omitempty"`
	ConversationID string    `json:"conversationId,omitempty"`
	SenderID       string    `json:"senderId" validate:"required"`
	RecipientID    string    `json:"recipientId" validate:"required"`
	Content        string    `json:"content"`
	SentAt         time.Time `json:"sentAt"`
}

type HubEvent struct {
	Type         string      `json:"type" validate:"required"`
	ConnectionID string      `json:"connectionId,omitempty"`
	Message      *MessageDTO `json:"message,omitempty"`
}

type CounterpartDTO struct {
	ID    string `json:"id" validate:"required"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type LastMessageDTO struct {
	Content string    `json:"content"`
	SentAt  time.Time `json:"sentAt"`
}

type ConversationDTO struct {
	ID          string          `json:"conversationId" validate:"required"`
	Counterpart CounterpartDTO  `json:"counterpart"`
	LastMessage *LastMessageDTO `json:"lastMessage,omitempty"`
	UnreadCount int             `json:"unreadCount" validate:"gte=0"`
}

// Encode turns a DTO into the Struct document carried by the hub.
func Encode(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	s := &structpb.Struct{}
	if err = protojson.Unmarshal(b, s); err != nil {
		return nil, err
	}
	return s, nil
}

// EncodeList does the same as Encode for a slice of DTOs.
func EncodeList(v any) (*structpb.ListValue, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	l := &structpb.ListValue{}
	if err = protojson.Unmarshal(b, l); err != nil {
		return nil, err
	}
	return l, nil
}

// Decode fills dst from a Struct document and validates it.
func Decode(s *structpb.Struct, dst any) error {
	if s == nil {
		return fmt.Errorf("%w: empty document", errors.ErrInvalidPayload)
	}
	b, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("%w: %v", errors.ErrInvalidPayload, err)
	}
	return DecodeJSON(b, dst)
}

// DecodeJSON is the JSON entry point of the normalization step, shared with the REST client.
func DecodeJSON(b []byte, dst any) error {
	if err := json.Unmarshal(b, dst); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrInvalidPayload, err)
	}
	if err := validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrInvalidPayload, err)
	}
	return nil
}

func DecodeMessages(l *structpb.ListValue) ([]domain.Message, error) {
	if l == nil {
		return nil, nil
	}
	b, err := protojson.Marshal(l)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrInvalidPayload, err)
	}
	var dtos []MessageDTO
	if err = json.Unmarshal(b, &dtos); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrInvalidPayload, err)
	}
	messages := make([]domain.Message, 0, len(dtos))
	for _, dto := range dtos {
		message, err := dto.ToMessage()
		if err != nil {
			return nil, err
		}
		messages = append(messages, message)
	}
	return messages, nil
}

// ParseEvent decodes a Join stream event. Type names are matched without regard to case.
func ParseEvent(s *structpb.Struct) (HubEvent, error) {
	var evt HubEvent
	if err := Decode(s, &evt); err != nil {
		return HubEvent{}, err
	}
	switch {
	case strings.EqualFold(evt.Type, EventJoined):
		evt.Type = EventJoined
	case strings.EqualFold(evt.Type, EventMessageReceived):
		evt.Type = EventMessageReceived
		if evt.Message == nil {
			return HubEvent{}, fmt.Errorf("%w: %s without message", errors.ErrInvalidPayload, evt.Type)
		}
	default:
		return HubEvent{}, fmt.Errorf("%w: unknown event type %q", errors.ErrInvalidPayload, evt.Type)
	}
	return evt, nil
}

func (m MessageDTO) ToMessage() (domain.Message, error) {
	if err := validate.Struct(m); err != nil {
		return domain.Message{}, fmt.Errorf("%w: %v", errors.ErrInvalidPayload, err)
	}
	if m.SentAt.IsZero() {
		return domain.Message{}, fmt.Errorf("%w: message without sentAt", errors.ErrInvalidPayload)
	}
	return domain.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		RecipientID:    m.RecipientID,
		Content:        m.Content,
		SentAt:         m.SentAt.UTC(),
	}, nil
}

func FromMessage(m domain.Message) MessageDTO {
	return MessageDTO{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		RecipientID:    m.RecipientID,
		Content:        m.Content,
		SentAt:         m.SentAt,
	}
}

func (c ConversationDTO) ToConversation() domain.Conversation {
	conversation := domain.Conversation{
		ID: c.ID,
		Counterpart: domain.Counterpart{
			ID:    c.Counterpart.ID,
			Name:  c.Counterpart.Name,
			Email: c.Counterpart.Email,
		},
		UnreadCount: c.UnreadCount,
	}
	if c.LastMessage != nil {
		conversation.LastMessage = &domain.LastMessage{
			Content: c.LastMessage.Content,
			SentAt:  c.LastMessage.SentAt.UTC(),
		}
	}
	return conversation
}

func FromConversation(c domain.Conversation) ConversationDTO {
	dto := ConversationDTO{
		ID: c.ID,
		Counterpart: CounterpartDTO{
			ID:    c.Counterpart.ID,
			Name:  c.Counterpart.Name,
			Email: c.Counterpart.Email,
		},
		UnreadCount: c.UnreadCount,
	}
	if c.LastMessage != nil {
		dto.LastMessage = &LastMessageDTO{Content: c.LastMessage.Content, SentAt: c.LastMessage.SentAt}
	}
	return dto
}

func FromConversations(conversations []domain.Conversation) []ConversationDTO {
	return lo.Map(conversations, func(item domain.Conversation, _ int) ConversationDTO {
		return FromConversation(item)
	})
}

// DecodeConversations reads the REST conversation list.
func DecodeConversations(b []byte) ([]domain.Conversation, error) {
	var dtos []ConversationDTO
	if err := json.Unmarshal(b, &dtos); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrInvalidPayload, err)
	}
	conversations := make([]domain.Conversation, 0, len(dtos))
	for _, dto := range dtos {
		if err := validate.Struct(dto); err != nil {
			return nil, fmt.Errorf("%w: %v", errors.ErrInvalidPayload, err)
		}
		conversations = append(conversations, dto.ToConversation())
	}
	return conversations, nil
}
