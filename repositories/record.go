package repositories

import (
	"clinic-chat/errors"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Values are stored as protobuf-encoded google.protobuf.Struct documents.

func marshalRecord(fields map[string]*structpb.Value) ([]byte, error) {
	bytes, err := proto.Marshal(&structpb.Struct{Fields: fields})
	if err != nil {
		return nil, fmt.Errorf("marshal failed: %w", err)
	}
	return bytes, nil
}

func unmarshalRecord(bytes []byte) (*structpb.Struct, error) {
	var record structpb.Struct
	if err := proto.Unmarshal(bytes, &record); err != nil {
		return nil, fmt.Errorf("unmarshal failed: %w", err)
	}
	return &record, nil
}

func timeValue(t time.Time) *structpb.Value {
	if t.IsZero() {
		return structpb.NewStringValue("")
	}
	return structpb.NewStringValue(t.UTC().Format(time.RFC3339Nano))
}

func parseTime(record *structpb.Struct, field string) (time.Time, error) {
	raw := record.GetFields()[field].GetStringValue()
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, raw)
}

func stringField(record *structpb.Struct, field string) string {
	return record.GetFields()[field].GetStringValue()
}

// readRecord loads the value at key inside txn.
// A missing key is reported as errors.ErrNotFound.
func readRecord(txn *badger.Txn, key string) (*structpb.Struct, error) {
	item, err := txn.Get([]byte(key))
	if stderrors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", errors.ErrNotFound, key)
	}
	if err != nil {
		return nil, err
	}
	var record *structpb.Struct
	err = item.Value(func(value []byte) error {
		record, err = unmarshalRecord(value)
		return err
	})
	return record, err
}

// update runs fn in a read-write transaction, retrying on write conflicts.
func update(db *badger.DB, fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		if err = db.Update(fn); !stderrors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}
