//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"iter"
	"reflect"

	"chat-relay/domain"
	"chat-relay/domain/event"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

type WorkerName string

// Worker doesn't protect itself against panics; the supervisor does.
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes, avoiding the need for
// manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

type EventSink interface {
	Consume(ctx context.Context, e event.DomainEvent) error
}

// ConnectionSink is a sink bound to one live transport connection.
// Close releases the connection; Consume after Close is a silent no-op.
type ConnectionSink interface {
	EventSink
	Close()
}

// MessageStore owns the durable, ordered append log of messages per room.
// Once Append returns, the message survives a process restart.
type MessageStore interface {
	// Append assigns the room's next sequence number and persists the
	// message. It fails with ErrRoomNotFound for unknown rooms and with
	// ErrPersistence when the log cannot be written.
	Append(ctx context.Context, room domain.RoomID, sender domain.UserID, content, lang string) (domain.Message, error)
	// History returns up to limit messages with sequence strictly below
	// beforeSeq (0 means "from the latest"), ordered by ascending sequence.
	History(ctx context.Context, room domain.RoomID, beforeSeq uint64, limit int) ([]domain.Message, error)
	// HistorySince returns up to limit messages with sequence strictly above
	// afterSeq, ordered by ascending sequence. Used for reconnect catch-up.
	HistorySince(ctx context.Context, room domain.RoomID, afterSeq uint64, limit int) ([]domain.Message, error)
}

// RoomStore persists room records. Rooms are never deleted.
type RoomStore interface {
	// CreateIfAbsent atomically stores the room unless a record with the
	// same id exists, and returns the stored record either way.
	CreateIfAbsent(ctx context.Context, room domain.Room) (domain.Room, error)
	Get(ctx context.Context, id domain.RoomID) (domain.Room, error)
}

// RoomManager owns room identity and live membership.
type RoomManager interface {
	// Resolve returns the room for exactly this participant set, creating it
	// on first contact. Safe under concurrent calls for the same set.
	Resolve(ctx context.Context, participants []domain.UserID) (domain.Room, error)
	Room(ctx context.Context, id domain.RoomID) (domain.Room, error)
	// Join subscribes the session to live updates. Idempotent. Fails with
	// ErrNotAuthorized when the session's user is not a room participant.
	Join(ctx context.Context, session domain.Session, room domain.RoomID) (int, error)
	Leave(session domain.SessionID, room domain.RoomID)
	LeaveAll(session domain.SessionID)
	// MembersOf yields a restartable snapshot of the sessions currently
	// joined to the room, taken under the membership lock.
	MembersOf(room domain.RoomID) iter.Seq[domain.SessionID]
	// Commands returns the single-writer command channel of the room,
	// spawning its worker on first use.
	Commands(ctx context.Context, room domain.RoomID) (chan<- domain.Command, error)
}

// ConnectionRegistry owns the session to connection mapping.
type ConnectionRegistry interface {
	// Attach records the live connection for a session. A previous
	// connection for the same session is closed: a new login supersedes it.
	Attach(session domain.Session, sink ConnectionSink)
	// Detach clears the session's connection, but only when sink is still
	// the registered one: a superseded connection must not detach its
	// replacement. It reports whether the sink was still current.
	Detach(session domain.SessionID, sink ConnectionSink) bool
	// Send pushes an event over the session's live connection. It silently
	// drops the event when no connection is attached.
	Send(ctx context.Context, session domain.SessionID, e event.DomainEvent)
}

// DeliveryEngine fans a persisted message out to every session currently
// joined to its room. Best effort: a failed push never fails the send.
type DeliveryEngine interface {
	Deliver(ctx context.Context, msg domain.Message)
}

// IdentityProvider validates a bearer credential at the connection boundary.
type IdentityProvider interface {
	Authenticate(ctx context.Context, credential string) (domain.UserID, error)
}

// SocialGraph answers chat-eligibility questions. The policy itself (mutual
// follow, blocks, open by default) belongs to the external service.
type SocialGraph interface {
	IsAuthorizedToChat(ctx context.Context, a, b domain.UserID) (bool, error)
}
