package repositories

import (
	"log/slog"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func openDB(t *testing.T) *badger.DB {
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func diskMessage(from, to, content string, at time.Time) DiskMessage {
	return DiskMessage{ID: uuid.New(), ConversationID: "C1", SenderID: from, RecipientID: to, Content: content, SentAt: at}
}

func Test_Record_Conversation_Messages_In_Order(t *testing.T) {
	req := require.New(t)
	repository := NewMessageRepository(openDB(t), slog.Default(), nil)
	at := time.Now().UTC()

	// Given messages of both directions stored out of order, plus another pair
	stored := []DiskMessage{
		diskMessage("p1", "d1", "second", at.Add(time.Minute)),
		diskMessage("d1", "p1", "first", at),
		diskMessage("d1", "p1", "third", at.Add(2*time.Minute)),
	}
	for _, m := range stored {
		req.NoError(repository.StoreMessage(m))
	}
	req.NoError(repository.StoreMessage(diskMessage("p2", "d1", "elsewhere", at)))

	// When reading from either side
	fromPatient, err := repository.GetMessages("p1", "d1")
	req.NoError(err)
	fromDoctor, err := repository.GetMessages("d1", "p1")
	req.NoError(err)

	// Then the same ordered conversation is returned
	req.Equal([]DiskMessage{stored[1], stored[0], stored[2]}, fromPatient)
	req.Equal(fromPatient, fromDoctor)
}

func Test_Record_Same_Nanosecond_Messages(t *testing.T) {
	req := require.New(t)
	repository := NewMessageRepository(openDB(t), slog.Default(), nil)
	at := time.Now().UTC()

	req.NoError(repository.StoreMessage(diskMessage("p1", "d1", "a", at)))
	req.NoError(repository.StoreMessage(diskMessage("p1", "d1", "b", at)))

	messages, err := repository.GetMessages("p1", "d1")
	req.NoError(err)
	req.Len(messages, 2)
}

func Test_Record_Messages_And_Limit(t *testing.T) {
	req := require.New(t)
	limit := 2
	repository := NewMessageRepository(openDB(t), slog.Default(), &limit)
	at := time.Now().UTC()
	for i, content := range []string{"one", "two", "three"} {
		req.NoError(repository.StoreMessage(diskMessage("p1", "d1", content, at.Add(time.Duration(i)*time.Second))))
	}

	messages, err := repository.GetMessages("p1", "d1")

	// Then only the latest ones are kept, oldest first
	req.NoError(err)
	req.Len(messages, limit)
	req.Equal("two", messages[0].Content)
	req.Equal("three", messages[1].Content)
}

func Test_Empty_Conversation(t *testing.T) {
	repository := NewMessageRepository(openDB(t), slog.Default(), nil)
	messages, err := repository.GetMessages("p1", "d1")
	require.NoError(t, err)
	require.Empty(t, messages)
}
