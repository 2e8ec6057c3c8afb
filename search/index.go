// Package search maintains a full-text index over persisted messages. It is
// a permanent delivery sink: it sees every appended message, and falls
// behind the message log by at most the flush interval.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/blugelabs/bluge"

	"chat-relay/domain"
	"chat-relay/domain/event"
)

// Hit is one search result, in decreasing relevance order.
type Hit struct {
	MessageID string        `json:"message_id"`
	Room      domain.RoomID `json:"room_id"`
	Sender    domain.UserID `json:"sender_id"`
	Content   string        `json:"content"`
	Sequence  uint64        `json:"sequence"`
}

// Index indexes appended messages and serves per-room full-text queries.
type Index struct {
	writer *bluge.Writer
	log    *slog.Logger
}

func NewIndex(writer *bluge.Writer, log *slog.Logger) *Index {
	return &Index{writer: writer, log: log}
}

// Consume indexes MessageAppended events and ignores everything else. The
// index is rebuildable from the message log, so an indexing failure is
// logged and reported but never blocks delivery.
func (i *Index) Consume(ctx context.Context, e event.DomainEvent) error {
	appended, ok := e.(event.MessageAppended)
	if !ok {
		return nil
	}
	msg := appended.Message

	doc := bluge.NewDocument(msg.ID.String()).
		AddField(bluge.NewTextField("content", msg.Content).StoreValue()).
		AddField(bluge.NewKeywordField("room", string(msg.Room)).StoreValue()).
		AddField(bluge.NewKeywordField("sender", string(msg.Sender)).StoreValue()).
		AddField(bluge.NewKeywordField("sequence", strconv.FormatUint(msg.Sequence, 10)).StoreValue())

	if err := i.writer.Update(doc.ID(), doc); err != nil {
		return fmt.Errorf("index message %s: %w", msg.ID, err)
	}
	return nil
}

// Search returns the most relevant messages of one room matching the query
// text. Results never leak across rooms: the room term is a hard filter.
func (i *Index) Search(ctx context.Context, room domain.RoomID, text string, limit int) ([]Hit, error) {
	reader, err := i.writer.Reader()
	if err != nil {
		return nil, fmt.Errorf("open index reader: %w", err)
	}
	defer func() {
		if err := reader.Close(); err != nil {
			i.log.Warn("Failed to close index reader", "error", err)
		}
	}()

	query := bluge.NewBooleanQuery().
		AddMust(bluge.NewMatchQuery(text).SetField("content")).
		AddMust(bluge.NewTermQuery(string(room)).SetField("room"))

	iterator, err := reader.Search(ctx, bluge.NewTopNSearch(limit, query))
	if err != nil {
		return nil, fmt.Errorf("search room %s: %w", room, err)
	}

	var hits []Hit
	for {
		match, err := iterator.Next()
		if err != nil {
			return nil, err
		}
		if match == nil {
			break
		}

		var hit Hit
		err = match.VisitStoredFields(func(field string, value []byte) bool {
			switch field {
			case "_id":
				hit.MessageID = string(value)
			case "room":
				hit.Room = domain.RoomID(value)
			case "sender":
				hit.Sender = domain.UserID(value)
			case "content":
				hit.Content = string(value)
			case "sequence":
				hit.Sequence, _ = strconv.ParseUint(string(value), 10, 64)
			}
			return true
		})
		if err != nil {
			return nil, err
		}
		hits = append(hits, hit)
	}
	return hits, nil
}
