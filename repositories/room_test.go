package repositories

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"

	"chat-relay/domain"
	"chat-relay/errors"
)

func TestRoomRepository_CreateIfAbsent_Idempotent(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	db := newTestDB(t)
	repo := NewRoomRepository(db, log)

	// Given a room created for a participant pair
	first := domain.NewRoom([]domain.UserID{"alice", "bob"}, time.Now())
	created, err := repo.CreateIfAbsent(context.Background(), first)
	req.NoError(err)

	// When resolving the same pair again, in the opposite order
	again := domain.NewRoom([]domain.UserID{"bob", "alice"}, time.Now().Add(time.Hour))
	resolved, err := repo.CreateIfAbsent(context.Background(), again)
	req.NoError(err)

	// Then both calls yield the original record
	req.Equal(created.ID, resolved.ID)
	req.Equal(created.CreatedAt, resolved.CreatedAt)
	req.Equal([]domain.UserID{"alice", "bob"}, resolved.Participants)
}

func TestRoomRepository_CreateIfAbsent_ConcurrentFirstContact(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	db := newTestDB(t)
	repo := NewRoomRepository(db, log)

	// When N callers race to create the same room
	const callers = 16
	results := make([]domain.Room, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			room, err := repo.CreateIfAbsent(context.Background(),
				domain.NewRoom([]domain.UserID{"alice", "bob"}, time.Now()))
			req.NoError(err)
			results[i] = room
		}(i)
	}
	wg.Wait()

	// Then every caller resolves the identical room id
	for _, room := range results {
		req.Equal(results[0].ID, room.ID)
		req.Equal(results[0].CreatedAt, room.CreatedAt)
	}
}

func TestRoomRepository_Get(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	db := newTestDB(t)
	repo := NewRoomRepository(db, log)

	// Given no room
	_, err := repo.Get(context.Background(), "missing")
	req.ErrorIs(err, errors.ErrRoomNotFound)

	// When a room exists
	room, err := repo.CreateIfAbsent(context.Background(),
		domain.NewRoom([]domain.UserID{"alice", "bob"}, time.Now()))
	req.NoError(err)

	// Then it can be read back intact
	got, err := repo.Get(context.Background(), room.ID)
	req.NoError(err)
	req.Equal(room, got)
}
