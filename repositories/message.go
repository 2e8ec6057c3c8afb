package repositories

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"chat-relay/domain"
	"chat-relay/errors"
)

// seqSentinel sorts after any real 19-digit sequence for a given room prefix.
const seqSentinel = "9999999999999999999"

// MessageRepository persists messages in BadgerDB as an ordered append log.
//
// The key is formatted as "msg:{room_id}:{sequence_padded}" so that:
//  1. A prefix scan over one room yields messages in sequence order
//     (19-digit zero padding makes lexicographic order numeric order).
//  2. Bounded forward and backward range scans fall out of iterator seeks.
//
// Sequence assignment is serialized per room: the sequence head is guarded by
// a per-room mutex held across the write, so a failed write never burns a
// number and the log stays gapless.
type MessageRepository struct {
	db  *badger.DB
	log *slog.Logger

	mu    sync.Mutex
	heads map[domain.RoomID]*sequenceHead
}

type sequenceHead struct {
	mu   sync.Mutex
	next uint64 // 0 means not recovered from disk yet
}

func NewMessageRepository(db *badger.DB, log *slog.Logger) *MessageRepository {
	return &MessageRepository{db: db, log: log, heads: make(map[domain.RoomID]*sequenceHead)}
}

type diskMessage struct {
	ID      string `json:"id"`
	Room    string `json:"room"`
	Sender  string `json:"sender"`
	Content string `json:"content"`
	Lang    string `json:"lang,omitempty"`
	Seq     uint64 `json:"seq"`
	At      int64  `json:"at"` // UnixNano UTC
}

func messageKey(room domain.RoomID, seq uint64) []byte {
	return fmt.Appendf(nil, "msg:%s:%019d", room, seq)
}

func roomPrefix(room domain.RoomID) []byte {
	return fmt.Appendf(nil, "msg:%s:", room)
}

// Append assigns the room's next sequence number, persists the message and
// returns the stored record. The room record must already exist.
func (m *MessageRepository) Append(ctx context.Context, room domain.RoomID, sender domain.UserID, content, lang string) (domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return domain.Message{}, err
	}

	head := m.headFor(room)
	head.mu.Lock()
	defer head.mu.Unlock()

	if head.next == 0 {
		last, err := m.lastSequence(room)
		if err != nil {
			return domain.Message{}, err
		}
		head.next = last + 1
	}

	msg := domain.Message{
		ID:       uuid.New(),
		Room:     room,
		Sender:   sender,
		Content:  content,
		Lang:     lang,
		Sequence: head.next,
		At:       time.Now().UTC(),
	}

	bytes, err := json.Marshal(fromMessage(msg))
	if err != nil {
		return domain.Message{}, fmt.Errorf("%w: %v", errors.ErrPersistence, err)
	}

	err = m.db.Update(func(txn *badger.Txn) error {
		// The room record guards against appending into the void.
		if _, err := txn.Get(roomKey(room)); err != nil {
			if err == badger.ErrKeyNotFound {
				return errors.ErrRoomNotFound
			}
			return err
		}
		return txn.Set(messageKey(room, msg.Sequence), bytes)
	})
	if err != nil {
		if err == errors.ErrRoomNotFound {
			return domain.Message{}, errors.ErrRoomNotFound
		}
		return domain.Message{}, fmt.Errorf("%w: %v", errors.ErrPersistence, err)
	}

	// Advance the head only after a durable write.
	head.next++
	return msg, nil
}

// History returns up to limit messages with sequence strictly below beforeSeq,
// in ascending sequence order. beforeSeq == 0 means "the most recent page".
func (m *MessageRepository) History(ctx context.Context, room domain.RoomID, beforeSeq uint64, limit int) ([]domain.Message, error) {
	if err := m.roomExists(room); err != nil {
		return nil, err
	}

	prefix := roomPrefix(room)
	var seekKey []byte
	switch beforeSeq {
	case 0:
		seekKey = append(append([]byte{}, prefix...), []byte(seqSentinel)...)
	default:
		// Reverse iteration starts at the newest key below the bound.
		seekKey = messageKey(room, beforeSeq-1)
	}

	var page []domain.Message
	err := m.db.View(func(txn *badger.Txn) error {
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		for it.Seek(seekKey); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			if limit > 0 && len(page) == limit {
				break
			}
			msg, err := decodeItem(it.Item())
			if err != nil {
				return err
			}
			page = append(page, msg)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Collected newest-first, returned oldest-first.
	for i, j := 0, len(page)-1; i < j; i, j = i+1, j-1 {
		page[i], page[j] = page[j], page[i]
	}
	return page, nil
}

// HistorySince returns up to limit messages with sequence strictly above
// afterSeq, in ascending sequence order. This is the reconnect catch-up path.
func (m *MessageRepository) HistorySince(ctx context.Context, room domain.RoomID, afterSeq uint64, limit int) ([]domain.Message, error) {
	if err := m.roomExists(room); err != nil {
		return nil, err
	}

	// Nothing can sit above the maximum sequence; without this guard the
	// +1 below would wrap the seek back to the oldest page.
	if afterSeq == math.MaxUint64 {
		return nil, nil
	}

	prefix := roomPrefix(room)
	seekKey := messageKey(room, afterSeq+1)

	var page []domain.Message
	err := m.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(seekKey); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			if limit > 0 && len(page) == limit {
				break
			}
			msg, err := decodeItem(it.Item())
			if err != nil {
				return err
			}
			page = append(page, msg)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

func (m *MessageRepository) headFor(room domain.RoomID) *sequenceHead {
	m.mu.Lock()
	defer m.mu.Unlock()
	head, ok := m.heads[room]
	if !ok {
		head = &sequenceHead{}
		m.heads[room] = head
	}
	return head
}

// lastSequence recovers the highest persisted sequence of a room after a
// restart, via a reverse seek past all real keys.
func (m *MessageRepository) lastSequence(room domain.RoomID) (uint64, error) {
	prefix := roomPrefix(room)
	seekKey := append(append([]byte{}, prefix...), []byte(seqSentinel)...)

	var last uint64
	err := m.db.View(func(txn *badger.Txn) error {
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		options.PrefetchValues = false
		it := txn.NewIterator(options)
		defer it.Close()

		it.Seek(seekKey)
		if !it.ValidForPrefix(prefix) {
			return nil
		}
		msg, err := decodeItem(it.Item())
		if err != nil {
			return err
		}
		last = msg.Sequence
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errors.ErrPersistence, err)
	}
	return last, nil
}

func (m *MessageRepository) roomExists(room domain.RoomID) error {
	return m.db.View(func(txn *badger.Txn) error {
		if _, err := txn.Get(roomKey(room)); err != nil {
			if err == badger.ErrKeyNotFound {
				return errors.ErrRoomNotFound
			}
			return err
		}
		return nil
	})
}

func decodeItem(item *badger.Item) (domain.Message, error) {
	var stored diskMessage
	err := item.Value(func(value []byte) error {
		return json.Unmarshal(value, &stored)
	})
	if err != nil {
		return domain.Message{}, err
	}
	return toMessage(stored)
}

func fromMessage(msg domain.Message) diskMessage {
	return diskMessage{
		ID:      msg.ID.String(),
		Room:    string(msg.Room),
		Sender:  string(msg.Sender),
		Content: msg.Content,
		Lang:    msg.Lang,
		Seq:     msg.Sequence,
		At:      msg.At.UnixNano(),
	}
}

func toMessage(stored diskMessage) (domain.Message, error) {
	parsedID, err := uuid.Parse(stored.ID)
	if err != nil {
		return domain.Message{}, err
	}
	return domain.Message{
		ID:       parsedID,
		Room:     domain.RoomID(stored.Room),
		Sender:   domain.UserID(stored.Sender),
		Content:  stored.Content,
		Lang:     stored.Lang,
		Sequence: stored.Seq,
		At:       time.Unix(0, stored.At).UTC(),
	}, nil
}
