package internal

import (
	"embed"
	"html/template"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

//go:embed inspect.html
var templatesFS embed.FS

const defaultPrefix = "conv:"

type InspectRow struct {
	Key       string
	Kind      string
	Timestamp string
	EntityID  string
	Scope     string
	Detail    string
}

type RowMapper func(key string, val []byte) InspectRow

type PageData struct {
	Prefix string
	Items  []InspectRow
	Stats  map[string]any
}

// InspectHandler lists the badger entries under the "prefix" query parameter.
// It is read-only and meant for the development hub only.
func InspectHandler(db *badger.DB, mapper RowMapper, stats func() map[string]any) http.HandlerFunc {
	tmpl := template.Must(template.ParseFS(templatesFS, "inspect.html"))
	if mapper == nil {
		mapper = DefaultMapper
	}

	return func(w http.ResponseWriter, r *http.Request) {
		prefix := r.URL.Query().Get("prefix")
		if prefix == "" {
			prefix = defaultPrefix
		}
		data := PageData{Prefix: prefix, Stats: map[string]any{}}
		if stats != nil {
			data.Stats = stats()
		}

		err := db.View(func(txn *badger.Txn) error {
			it := txn.NewIterator(badger.DefaultIteratorOptions)
			defer it.Close()
			for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)); it.Next() {
				item := it.Item()
				if err := item.Value(func(val []byte) error {
					data.Items = append(data.Items, mapper(string(item.Key()), val))
					return nil
				}); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_ = tmpl.Execute(w, data)
	}
}

// DefaultMapper understands the "kind:scope:nanos:id" message keys and renders
// Struct values as JSON. Any other key is shown raw.
func DefaultMapper(key string, val []byte) InspectRow {
	parts := strings.Split(key, ":")
	row := InspectRow{
		Key:       key,
		Kind:      parts[0],
		Timestamp: "--:--:--",
		EntityID:  "--------",
		Scope:     "-",
		Detail:    "Size: " + strconv.Itoa(len(val)) + " bytes",
	}

	if len(parts) >= 4 {
		row.Scope = parts[1]
		if tsNano, err := strconv.ParseInt(parts[2], 10, 64); err == nil {
			row.Timestamp = time.Unix(0, tsNano).UTC().Format("15:04:05")
		}
		row.EntityID = parts[3]
	} else if len(parts) >= 2 {
		row.EntityID = parts[len(parts)-1]
	}
	if len(row.EntityID) > 8 {
		row.EntityID = row.EntityID[:8]
	}

	var record structpb.Struct
	if len(val) > 0 && proto.Unmarshal(val, &record) == nil {
		if b, err := protojson.Marshal(&record); err == nil {
			row.Detail = string(b)
		}
	}
	return row
}
