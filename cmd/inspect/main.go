// inspect dumps the badger store of a stopped server as a table. Records
// are stored as JSON, so rows are decoded generically and the interesting
// fields picked per prefix.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/olekukonko/tablewriter"
)

func main() {
	dbPath := flag.String("db", "./data/badger", "Path to badger DB")
	prefix := flag.String("prefix", "msg:", "Prefix to scan (msg: or room:)")
	flag.Parse()

	db, err := badger.Open(badger.DefaultOptions(*dbPath).
		WithReadOnly(true).
		WithLoggingLevel(badger.ERROR))
	if err != nil {
		log.Fatal("Error while opening Badger: ", err)
	}
	defer db.Close()

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Key", "Room", "Who", "When", "Detail"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	count := 0
	err = db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefixBytes := []byte(*prefix)
		for it.Seek(prefixBytes); it.ValidForPrefix(prefixBytes); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				table.Append(toRow(string(item.Key()), val))
				count++
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.Fatal("Error while scanning: ", err)
	}

	table.Render()
	fmt.Printf("\n%d entries under prefix %q\n", count, *prefix)
}

func toRow(key string, val []byte) []string {
	var fields map[string]any
	if err := json.Unmarshal(val, &fields); err != nil {
		return []string{key, "-", "-", "-", fmt.Sprintf("undecodable (%d bytes)", len(val))}
	}

	room := str(fields["room"])
	who := str(fields["sender"])
	when := "-"
	if nanos, ok := fields["at"].(float64); ok {
		when = time.Unix(0, int64(nanos)).Format("2006-01-02 15:04:05")
	} else if nanos, ok := fields["created_at"].(float64); ok {
		when = time.Unix(0, int64(nanos)).Format("2006-01-02 15:04:05")
	}

	detail := str(fields["content"])
	if detail == "" {
		if participants, ok := fields["participants"].([]any); ok {
			detail = fmt.Sprintf("participants: %v", participants)
		}
	}
	return []string{key, room, who, when, detail}
}

func str(v any) string {
	s, _ := v.(string)
	return s
}
