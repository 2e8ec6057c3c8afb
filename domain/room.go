// Package domain contains core concepts of the chat system.
// No runtime, network, or UI logic should be added here.
package domain

import (
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

type RoomID string

type UserID string

// roomNamespace seeds the deterministic room id derivation. It must never
// change once rooms have been persisted under it.
var roomNamespace = uuid.MustParse("7b7e61dd-5a5a-4a8f-9c2e-3f1d0c4b6a90")

// Room is a conversation context with a fixed participant set.
// Its identity is a pure function of that set: resolving a room for the same
// participants always yields the same id, regardless of who asked first.
type Room struct {
	ID           RoomID
	Participants []UserID
	CreatedAt    time.Time
}

func NewRoom(participants []UserID, createdAt time.Time) Room {
	sorted := sortedIDs(participants)
	return Room{
		ID:           DeriveRoomID(participants),
		Participants: sorted,
		CreatedAt:    createdAt.UTC(),
	}
}

// DeriveRoomID maps a participant set to a stable id using a name-based UUID
// over the sorted user ids. Order of the input is irrelevant.
func DeriveRoomID(participants []UserID) RoomID {
	sorted := sortedIDs(participants)
	joined := make([]string, len(sorted))
	for i, id := range sorted {
		joined[i] = string(id)
	}
	return RoomID(uuid.NewSHA1(roomNamespace, []byte(strings.Join(joined, "|"))).String())
}

func (r Room) IsParticipant(userID UserID) bool {
	return slices.Contains(r.Participants, userID)
}

func sortedIDs(participants []UserID) []UserID {
	sorted := slices.Clone(participants)
	slices.Sort(sorted)
	return slices.Compact(sorted)
}
