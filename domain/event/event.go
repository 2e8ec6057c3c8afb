package event

import (
	"time"

	"chat-relay/domain"
)

type DomainEvent interface {
	RoomID() domain.RoomID
}

// MessageAppended is emitted after a message has been durably persisted.
// It is the only event fanned out to connected sessions.
type MessageAppended struct {
	Message domain.Message
}

func (m MessageAppended) RoomID() domain.RoomID {
	return m.Message.Room
}

// MemberJoined and MemberLeft track live membership changes. They feed
// observability sinks only; clients learn membership from the room record.
type MemberJoined struct {
	Room    domain.RoomID
	Session domain.SessionID
	At      time.Time
}

func (m MemberJoined) RoomID() domain.RoomID { return m.Room }

type MemberLeft struct {
	Room    domain.RoomID
	Session domain.SessionID
	At      time.Time
}

func (m MemberLeft) RoomID() domain.RoomID { return m.Room }
