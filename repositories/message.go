package repositories

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"google.golang.org/protobuf/types/known/structpb"
)

type IMessageRepository interface {
	StoreMessage(message DiskMessage) error
	GetMessages(participantA, participantB string) ([]DiskMessage, error)
}

type MessageRepository struct {
	db            *badger.DB
	log           *slog.Logger
	limitMessages *int
}

func NewMessageRepository(db *badger.DB, log *slog.Logger, limitMessages *int) MessageRepository {
	return MessageRepository{db: db, log: log, limitMessages: limitMessages}
}

type DiskMessage struct {
	ID             uuid.UUID
	ConversationID string
	SenderID       string
	RecipientID    string
	Content        string
	SentAt         time.Time
}

// PairKey identifies the two participants of a conversation whatever the direction.
func PairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

// StoreMessage persists a message in BadgerDB.
// The key is formatted as "msg:{pair}:{timestamp_padded}:{uuid}" so that a prefix
// scan returns a conversation in SentAt order (19-digit zero padding) and two
// messages of the same nanosecond never overwrite each other.
func (m MessageRepository) StoreMessage(message DiskMessage) error {
	key := fmt.Sprintf("msg:%s:%019d:%s",
		PairKey(message.SenderID, message.RecipientID),
		message.SentAt.UnixNano(),
		message.ID,
	)
	bytes, err := marshalRecord(map[string]*structpb.Value{
		"id":             structpb.NewStringValue(message.ID.String()),
		"conversationId": structpb.NewStringValue(message.ConversationID),
		"senderId":       structpb.NewStringValue(message.SenderID),
		"recipientId":    structpb.NewStringValue(message.RecipientID),
		"content":        structpb.NewStringValue(message.Content),
		"sentAt":         timeValue(message.SentAt),
	})
	if err != nil {
		return err
	}
	return m.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), bytes)
	})
}

// GetMessages returns the messages exchanged by both participants, oldest first.
// When limitMessages is set only the latest ones are returned.
func (m MessageRepository) GetMessages(participantA, participantB string) ([]DiskMessage, error) {
	var byteMessages [][]byte
	err := m.db.View(func(txn *badger.Txn) error {
		prefix := []byte(fmt.Sprintf("msg:%s:", PairKey(participantA, participantB)))
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		// Newest first, starting after the highest possible timestamp
		for it.Seek(append(prefix, []byte("9999999999999999999")...)); it.ValidForPrefix(prefix); it.Next() {
			if m.limitMessages != nil && len(byteMessages) == *m.limitMessages {
				m.log.Debug(fmt.Sprintf("Maximum of %d message reached", *m.limitMessages))
				break
			}
			value, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			byteMessages = append(byteMessages, value)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	diskMessages := make([]DiskMessage, 0, len(byteMessages))
	for _, b := range lo.Reverse(byteMessages) {
		message, err := toDiskMessage(b)
		if err != nil {
			return nil, err
		}
		diskMessages = append(diskMessages, message)
	}
	return diskMessages, nil
}

func toDiskMessage(bytes []byte) (DiskMessage, error) {
	record, err := unmarshalRecord(bytes)
	if err != nil {
		return DiskMessage{}, err
	}
	id, err := uuid.Parse(stringField(record, "id"))
	if err != nil {
		return DiskMessage{}, err
	}
	sentAt, err := parseTime(record, "sentAt")
	if err != nil {
		return DiskMessage{}, err
	}
	return DiskMessage{
		ID:             id,
		ConversationID: stringField(record, "conversationId"),
		SenderID:       stringField(record, "senderId"),
		RecipientID:    stringField(record, "recipientId"),
		Content:        stringField(record, "content"),
		SentAt:         sentAt,
	}, nil
}
