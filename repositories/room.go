package repositories

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	json "github.com/goccy/go-json"
	"github.com/samber/lo"

	"chat-relay/domain"
	"chat-relay/errors"
)

// RoomRepository persists room records under "room:{room_id}". Rooms are
// created once and never deleted; their messages form permanent history.
type RoomRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewRoomRepository(db *badger.DB, log *slog.Logger) *RoomRepository {
	return &RoomRepository{db: db, log: log}
}

type diskRoom struct {
	ID           string   `json:"id"`
	Participants []string `json:"participants"`
	CreatedAt    int64    `json:"created_at"` // UnixNano UTC
}

func roomKey(id domain.RoomID) []byte {
	return fmt.Appendf(nil, "room:%s", id)
}

// CreateIfAbsent stores the room unless a record with the same id already
// exists and returns the stored record either way. Badger's transaction
// conflict detection closes the check-then-act race: when two first-contact
// requests collide, one commit wins and the loser re-reads the winner's
// record.
func (r *RoomRepository) CreateIfAbsent(ctx context.Context, room domain.Room) (domain.Room, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.Room{}, err
		}

		var stored domain.Room
		err := r.db.Update(func(txn *badger.Txn) error {
			item, err := txn.Get(roomKey(room.ID))
			switch err {
			case nil:
				stored, err = decodeRoom(item)
				return err
			case badger.ErrKeyNotFound:
				bytes, err := json.Marshal(fromRoom(room))
				if err != nil {
					return err
				}
				if err := txn.Set(roomKey(room.ID), bytes); err != nil {
					return err
				}
				stored = room
				return nil
			default:
				return err
			}
		})
		if err == badger.ErrConflict {
			// Lost the race: retry and pick up the winner's record.
			r.log.Debug("Room creation conflict, retrying", "room_id", room.ID)
			continue
		}
		if err != nil {
			return domain.Room{}, fmt.Errorf("%w: %v", errors.ErrPersistence, err)
		}
		return stored, nil
	}
}

func (r *RoomRepository) Get(ctx context.Context, id domain.RoomID) (domain.Room, error) {
	if err := ctx.Err(); err != nil {
		return domain.Room{}, err
	}

	var stored domain.Room
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(roomKey(id))
		if err != nil {
			return err
		}
		stored, err = decodeRoom(item)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return domain.Room{}, errors.ErrRoomNotFound
	}
	if err != nil {
		return domain.Room{}, fmt.Errorf("%w: %v", errors.ErrPersistence, err)
	}
	return stored, nil
}

func decodeRoom(item *badger.Item) (domain.Room, error) {
	var stored diskRoom
	err := item.Value(func(value []byte) error {
		return json.Unmarshal(value, &stored)
	})
	if err != nil {
		return domain.Room{}, err
	}
	return toRoom(stored), nil
}

func fromRoom(room domain.Room) diskRoom {
	return diskRoom{
		ID: string(room.ID),
		Participants: lo.Map(room.Participants, func(id domain.UserID, _ int) string {
			return string(id)
		}),
		CreatedAt: room.CreatedAt.UnixNano(),
	}
}

func toRoom(stored diskRoom) domain.Room {
	return domain.Room{
		ID: domain.RoomID(stored.ID),
		Participants: lo.Map(stored.Participants, func(id string, _ int) domain.UserID {
			return domain.UserID(id)
		}),
		CreatedAt: time.Unix(0, stored.CreatedAt).UTC(),
	}
}
