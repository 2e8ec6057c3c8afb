package internal

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

// InspectRow is one decoded store entry. Values are stored as JSON, so the
// decoded fields can be rendered without knowing the record type.
type InspectRow struct {
	Key    string         `json:"key"`
	Size   int            `json:"size"`
	Fields map[string]any `json:"fields,omitempty"`
}

// StartDebugServer exposes a read-only view of the badger store for local
// debugging: GET /inspect?prefix=msg: lists decoded entries under a prefix.
// Never enable it on a public interface.
func StartDebugServer(db *badger.DB, port int, log *slog.Logger) {
	mux := http.NewServeMux()

	mux.HandleFunc("/inspect", func(w http.ResponseWriter, r *http.Request) {
		prefix := r.URL.Query().Get("prefix")
		if prefix == "" {
			prefix = "msg:"
		}

		var rows []InspectRow
		err := db.View(func(txn *badger.Txn) error {
			it := txn.NewIterator(badger.DefaultIteratorOptions)
			defer it.Close()

			prefixBytes := []byte(prefix)
			for it.Seek(prefixBytes); it.ValidForPrefix(prefixBytes); it.Next() {
				item := it.Item()
				_ = item.Value(func(val []byte) error {
					row := InspectRow{Key: string(item.Key()), Size: len(val)}
					_ = json.Unmarshal(val, &row.Fields)
					rows = append(rows, row)
					return nil
				})
			}
			return nil
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"prefix": prefix, "count": len(rows), "items": rows})
	})

	go func() {
		addr := fmt.Sprintf("localhost:%d", port)
		log.Info("Debug badger inspector available", "url", "http://"+addr+"/inspect")
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Warn("Debug inspector stopped", "error", err)
		}
	}()
}
