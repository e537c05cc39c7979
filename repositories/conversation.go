package repositories

import (
	"clinic-chat/errors"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"google.golang.org/protobuf/types/known/structpb"
)

type IConversationRepository interface {
	RecordMessage(patientID, doctorID string, message DiskMessage) (DiskConversation, error)
	FindByParticipants(a, b string) (DiskConversation, error)
	ListFor(userID string) ([]DiskConversation, error)
	MarkRead(conversationID, userID string) error
}

// DiskConversation is the thread of one patient and one doctor.
// Unread counts are kept per participant.
type DiskConversation struct {
	ID          string
	PatientID   string
	DoctorID    string
	LastContent string
	LastSentAt  time.Time
	Unread      map[string]int
}

func (c DiskConversation) Has(userID string) bool {
	return c.PatientID == userID || c.DoctorID == userID
}

func (c DiskConversation) CounterpartOf(userID string) string {
	if c.PatientID == userID {
		return c.DoctorID
	}
	return c.PatientID
}

// ConversationRepository stores conversations under "conv:{id}" with two indexes:
// "conv-pair:{pair}" resolves the participants to the id, and
// "conv-user:{userId}:{id}" lists the conversations of a user.
type ConversationRepository struct {
	db *badger.DB
}

func NewConversationRepository(db *badger.DB) ConversationRepository {
	return ConversationRepository{db: db}
}

// RecordMessage creates the conversation on its first message, moves its
// preview forward and counts the message as unread for the recipient.
func (r ConversationRepository) RecordMessage(patientID, doctorID string, message DiskMessage) (DiskConversation, error) {
	var conversation DiskConversation
	err := update(r.db, func(txn *badger.Txn) error {
		id, err := pairIndex(txn, patientID, doctorID)
		switch {
		case stderrors.Is(err, errors.ErrNotFound):
			conversation = DiskConversation{
				ID:        uuid.NewString(),
				PatientID: patientID,
				DoctorID:  doctorID,
				Unread:    map[string]int{},
			}
			if err = indexConversation(txn, conversation); err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			if conversation, err = getConversation(txn, id); err != nil {
				return err
			}
		}

		if !message.SentAt.Before(conversation.LastSentAt) {
			conversation.LastContent = message.Content
			conversation.LastSentAt = message.SentAt
		}
		conversation.Unread[message.RecipientID]++
		return putConversation(txn, conversation)
	})
	return conversation, err
}

func (r ConversationRepository) FindByParticipants(a, b string) (DiskConversation, error) {
	var conversation DiskConversation
	err := r.db.View(func(txn *badger.Txn) error {
		id, err := pairIndex(txn, a, b)
		if err != nil {
			return err
		}
		conversation, err = getConversation(txn, id)
		return err
	})
	return conversation, err
}

// ListFor returns every conversation userID takes part in.
func (r ConversationRepository) ListFor(userID string) ([]DiskConversation, error) {
	var conversations []DiskConversation
	err := r.db.View(func(txn *badger.Txn) error {
		prefix := []byte(fmt.Sprintf("conv-user:%s:", userID))
		options := badger.DefaultIteratorOptions
		options.PrefetchValues = false
		it := txn.NewIterator(options)
		defer it.Close()

		var ids []string
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			ids = append(ids, string(it.Item().Key()[len(prefix):]))
		}
		for _, id := range ids {
			conversation, err := getConversation(txn, id)
			if err != nil {
				return err
			}
			conversations = append(conversations, conversation)
		}
		return nil
	})
	return conversations, err
}

// MarkRead resets the unread count of userID.
// Only a participant may mark a conversation read.
func (r ConversationRepository) MarkRead(conversationID, userID string) error {
	return update(r.db, func(txn *badger.Txn) error {
		conversation, err := getConversation(txn, conversationID)
		if err != nil {
			return err
		}
		if !conversation.Has(userID) {
			return fmt.Errorf("%w: %s is not part of %s", errors.ErrForbidden, userID, conversationID)
		}
		if conversation.Unread[userID] == 0 {
			return nil
		}
		conversation.Unread[userID] = 0
		return putConversation(txn, conversation)
	})
}

func pairIndex(txn *badger.Txn, a, b string) (string, error) {
	item, err := txn.Get([]byte("conv-pair:" + PairKey(a, b)))
	if stderrors.Is(err, badger.ErrKeyNotFound) {
		return "", errors.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	id, err := item.ValueCopy(nil)
	return string(id), err
}

func indexConversation(txn *badger.Txn, c DiskConversation) error {
	if err := txn.Set([]byte("conv-pair:"+PairKey(c.PatientID, c.DoctorID)), []byte(c.ID)); err != nil {
		return err
	}
	for _, userID := range []string{c.PatientID, c.DoctorID} {
		if err := txn.Set([]byte(fmt.Sprintf("conv-user:%s:%s", userID, c.ID)), nil); err != nil {
			return err
		}
	}
	return nil
}

func putConversation(txn *badger.Txn, c DiskConversation) error {
	bytes, err := marshalRecord(map[string]*structpb.Value{
		"id":          structpb.NewStringValue(c.ID),
		"patientId":   structpb.NewStringValue(c.PatientID),
		"doctorId":    structpb.NewStringValue(c.DoctorID),
		"lastContent": structpb.NewStringValue(c.LastContent),
		"lastSentAt":  timeValue(c.LastSentAt),
		"unread": structpb.NewStructValue(&structpb.Struct{
			Fields: lo.MapValues(c.Unread, func(n int, _ string) *structpb.Value {
				return structpb.NewNumberValue(float64(n))
			}),
		}),
	})
	if err != nil {
		return err
	}
	return txn.Set([]byte("conv:"+c.ID), bytes)
}

func getConversation(txn *badger.Txn, id string) (DiskConversation, error) {
	record, err := readRecord(txn, "conv:"+id)
	if err != nil {
		return DiskConversation{}, err
	}
	lastSentAt, err := parseTime(record, "lastSentAt")
	if err != nil {
		return DiskConversation{}, err
	}
	return DiskConversation{
		ID:          stringField(record, "id"),
		PatientID:   stringField(record, "patientId"),
		DoctorID:    stringField(record, "doctorId"),
		LastContent: stringField(record, "lastContent"),
		LastSentAt:  lastSentAt,
		Unread: lo.MapValues(record.GetFields()["unread"].GetStructValue().GetFields(), func(v *structpb.Value, _ string) int {
			return int(v.GetNumberValue())
		}),
	}, nil
}
