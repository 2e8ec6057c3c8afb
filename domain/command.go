package domain

import (
	"time"
)

type Command interface {
	RoomID() RoomID
}

// SendResult carries the outcome of a send back to the caller. The persisted
// message is the sender's acknowledgment; the sender must not rely on its own
// fan-out copy.
type SendResult struct {
	Message Message
	Err     error
}

// SendMessageCommand asks a room's worker to persist and fan out one message.
// Reply receives exactly one SendResult.
type SendMessageCommand struct {
	Room      RoomID
	Sender    UserID
	Content   string
	CreatedAt time.Time
	Reply     chan SendResult
}

func (c SendMessageCommand) RoomID() RoomID {
	return c.Room
}
