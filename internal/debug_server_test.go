package internal

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

func TestDefaultMapper(t *testing.T) {
	req := require.New(t)
	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	record, err := structpb.NewStruct(map[string]any{"content": "Xin chào"})
	req.NoError(err)
	val, err := proto.Marshal(record)
	req.NoError(err)

	row := DefaultMapper(fmt.Sprintf("msg:d1|p1:%019d:4f1c2a8e-0000", at.UnixNano()), val)

	req.Equal("msg", row.Kind)
	req.Equal("d1|p1", row.Scope)
	req.Equal("09:30:00", row.Timestamp)
	req.Equal("4f1c2a8e", row.EntityID)
	req.Contains(row.Detail, "Xin chào")

	raw := DefaultMapper("conv-pair:d1|p1", []byte{0xff, 0x01})
	req.Equal("conv-pair", raw.Kind)
	req.Equal("d1|p1", raw.EntityID)
}

func TestInspectHandler(t *testing.T) {
	req := require.New(t)
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	req.NoError(err)
	defer func() { _ = db.Close() }()
	req.NoError(db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte("conv:c1"), []byte("x")); err != nil {
			return err
		}
		return txn.Set([]byte("profile:p1"), []byte("y"))
	}))

	recorder := httptest.NewRecorder()
	InspectHandler(db, nil, func() map[string]any { return map[string]any{"connections": 2} }).
		ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/debug/inspect", nil))

	req.Equal(http.StatusOK, recorder.Code)
	req.Contains(recorder.Body.String(), "conv:c1")
	req.Contains(recorder.Body.String(), "connections: 2")
	req.NotContains(recorder.Body.String(), "profile:p1")
}

func TestConfigHelpers(t *testing.T) {
	req := require.New(t)
	req.Equal([]string{"scam", "fraud"}, SplitList(" scam, ,fraud,"))
	req.Empty(SplitList(""))

	r, err := CharacterRune("*")
	req.NoError(err)
	req.Equal('*', r)
	_, err = CharacterRune("**")
	req.Error(err)
}
