package services

import (
	"clinic-chat/contract"
	"clinic-chat/domain"
	"clinic-chat/errors"
	"clinic-chat/repositories"
	"clinic-chat/runtime"
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

type IHubService interface {
	Join(userID, connectionID string, sink contract.MessageSink)
	Leave(userID, connectionID string)
	LoadHistory(ctx context.Context, selfID, counterpartID string) ([]domain.Message, error)
	Send(ctx context.Context, senderID, recipientID, content string) (domain.Message, error)
	ListConversations(ctx context.Context, userID string) ([]domain.Conversation, error)
	MarkRead(ctx context.Context, conversationID, userID string) error
}

// ContentModerator masks forbidden words of a message.
type ContentModerator interface {
	Censor(content string) (string, []string)
}

// HubService is the development stand-in for the clinic backend: it stores
// conversations and fans every message out to all joined connections of
// both participants.
type HubService struct {
	log           *slog.Logger
	messages      repositories.IMessageRepository
	conversations repositories.IConversationRepository
	profiles      repositories.IProfileRepository
	registry      *runtime.Registry
	moderator     ContentModerator
	now           func() time.Time
}

func NewHubService(
	log *slog.Logger,
	messages repositories.IMessageRepository,
	conversations repositories.IConversationRepository,
	profiles repositories.IProfileRepository,
	registry *runtime.Registry,
	moderator ContentModerator,
) *HubService {
	return &HubService{
		log:           log,
		messages:      messages,
		conversations: conversations,
		profiles:      profiles,
		registry:      registry,
		moderator:     moderator,
		now:           time.Now,
	}
}

func (s *HubService) Join(userID, connectionID string, sink contract.MessageSink) {
	s.registry.Subscribe(userID, connectionID, sink)
	s.log.Debug("Connection joined", "user_id", userID, "connection_id", connectionID,
		"connections", s.registry.Connections(userID))
}

func (s *HubService) Leave(userID, connectionID string) {
	s.registry.Unsubscribe(userID, connectionID)
	s.log.Debug("Connection left", "user_id", userID, "connection_id", connectionID)
}

func (s *HubService) LoadHistory(_ context.Context, selfID, counterpartID string) ([]domain.Message, error) {
	diskMessages, err := s.messages.GetMessages(selfID, counterpartID)
	if err != nil {
		return nil, err
	}
	return lo.Map(diskMessages, func(m repositories.DiskMessage, _ int) domain.Message {
		return toMessage(m)
	}), nil
}

// Send stores a message and pushes it to every connection of both users,
// the sender's included: the echo is the sender's only copy.
func (s *HubService) Send(ctx context.Context, senderID, recipientID, content string) (domain.Message, error) {
	if strings.TrimSpace(content) == "" {
		return domain.Message{}, errors.ErrEmptyContent
	}
	patientID, doctorID, err := s.participants(senderID, recipientID)
	if err != nil {
		return domain.Message{}, err
	}

	censored, words := s.moderator.Censor(content)
	if len(words) > 0 {
		s.log.Info("Message moderated", "sender_id", senderID, "words", len(words))
	}
	diskMessage := repositories.DiskMessage{
		ID:          uuid.New(),
		SenderID:    senderID,
		RecipientID: recipientID,
		Content:     censored,
		SentAt:      s.now().UTC(),
	}
	conversation, err := s.conversations.RecordMessage(patientID, doctorID, diskMessage)
	if err != nil {
		return domain.Message{}, fmt.Errorf("recording conversation: %w", err)
	}
	diskMessage.ConversationID = conversation.ID
	if err = s.messages.StoreMessage(diskMessage); err != nil {
		return domain.Message{}, fmt.Errorf("storing message: %w", err)
	}

	message := toMessage(diskMessage)
	for _, sink := range s.registry.SinksFor(senderID, recipientID) {
		if err = sink.Consume(ctx, message); err != nil {
			s.log.Warn("Delivery failed", "message_id", message.ID, "error", err)
		}
	}
	return message, nil
}

// participants checks that one side is a patient and the other a doctor.
func (s *HubService) participants(senderID, recipientID string) (patientID, doctorID string, err error) {
	if senderID == recipientID {
		return "", "", fmt.Errorf("%w: cannot write to oneself", errors.ErrSendRejected)
	}
	sender, err := s.profiles.GetProfile(senderID)
	if err != nil {
		return "", "", err
	}
	recipient, err := s.profiles.GetProfile(recipientID)
	if err != nil {
		return "", "", err
	}
	switch {
	case sender.Role == domain.RolePatient && recipient.Role == domain.RoleDoctor:
		return sender.UserID, recipient.UserID, nil
	case sender.Role == domain.RoleDoctor && recipient.Role == domain.RolePatient:
		return recipient.UserID, sender.UserID, nil
	default:
		return "", "", fmt.Errorf("%w: conversations are between a patient and a doctor", errors.ErrForbidden)
	}
}

func (s *HubService) ListConversations(_ context.Context, userID string) ([]domain.Conversation, error) {
	diskConversations, err := s.conversations.ListFor(userID)
	if err != nil {
		return nil, err
	}
	conversations := make([]domain.Conversation, 0, len(diskConversations))
	for _, c := range diskConversations {
		counterpartID := c.CounterpartOf(userID)
		counterpart := domain.Counterpart{ID: counterpartID, Name: counterpartID}
		profile, err := s.profiles.GetProfile(counterpartID)
		switch {
		case err == nil:
			counterpart.Name, counterpart.Email = profile.Name, profile.Email
		case !stderrors.Is(err, errors.ErrNotFound):
			return nil, err
		}

		conversation := domain.Conversation{
			ID:          c.ID,
			Counterpart: counterpart,
			UnreadCount: c.Unread[userID],
		}
		if !c.LastSentAt.IsZero() {
			conversation.LastMessage = &domain.LastMessage{Content: c.LastContent, SentAt: c.LastSentAt}
		}
		conversations = append(conversations, conversation)
	}
	domain.SortByRecentActivity(conversations)
	return conversations, nil
}

func (s *HubService) MarkRead(_ context.Context, conversationID, userID string) error {
	return s.conversations.MarkRead(conversationID, userID)
}

func toMessage(m repositories.DiskMessage) domain.Message {
	return domain.Message{
		ID:             m.ID.String(),
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		RecipientID:    m.RecipientID,
		Content:        m.Content,
		SentAt:         m.SentAt,
	}
}
