package runtime

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"time"

	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/errors"
	"chat-relay/observability"
)

// SpawnWorker starts the single-writer worker draining a room's command
// channel. The composition root decides what a worker actually does and,
// deliberately, which context it runs under: a worker must outlive the
// request that first touched its room, so no caller context is passed here.
type SpawnWorker func(room domain.RoomID, commands chan domain.Command)

// Manager owns room identity and live membership. Room records come from the
// RoomStore; membership is runtime-only and rebuilt from joins after a
// restart.
type Manager struct {
	log        *slog.Logger
	rooms      contract.RoomStore
	metrics    *observability.Metrics
	spawn      SpawnWorker
	bufferSize int
	sinks      []contract.EventSink

	mu      sync.RWMutex
	members map[domain.RoomID]map[domain.SessionID]struct{}
	handles map[domain.RoomID]chan domain.Command
}

func NewManager(log *slog.Logger, rooms contract.RoomStore,
	metrics *observability.Metrics, spawn SpawnWorker, bufferSize int,
	sinks ...contract.EventSink) *Manager {
	return &Manager{
		log:        log,
		rooms:      rooms,
		metrics:    metrics,
		spawn:      spawn,
		bufferSize: bufferSize,
		sinks:      sinks,
		members:    make(map[domain.RoomID]map[domain.SessionID]struct{}),
		handles:    make(map[domain.RoomID]chan domain.Command),
	}
}

// Resolve returns the room for exactly this participant set, creating it on
// first contact. The store's create-if-absent keyed by the deterministic room
// id makes concurrent first contacts converge on a single record.
func (m *Manager) Resolve(ctx context.Context, participants []domain.UserID) (domain.Room, error) {
	if len(participants) < 2 {
		return domain.Room{}, fmt.Errorf("%w: a room needs at least two participants", errors.ErrValidation)
	}

	room, err := m.rooms.CreateIfAbsent(ctx, domain.NewRoom(participants, time.Now()))
	if err != nil {
		return domain.Room{}, err
	}
	m.metrics.IncrRoomsResolved()
	return room, nil
}

func (m *Manager) Room(ctx context.Context, id domain.RoomID) (domain.Room, error) {
	return m.rooms.Get(ctx, id)
}

// Join subscribes the session to the room's live updates and returns the
// resulting membership size. Idempotent: joining twice has no extra effect.
func (m *Manager) Join(ctx context.Context, session domain.Session, roomID domain.RoomID) (int, error) {
	room, err := m.rooms.Get(ctx, roomID)
	if err != nil {
		return 0, err
	}
	if !room.IsParticipant(session.UserID) {
		return 0, fmt.Errorf("%w: user %s is not a participant of room %s",
			errors.ErrNotAuthorized, session.UserID, roomID)
	}

	m.mu.Lock()
	if _, ok := m.members[roomID]; !ok {
		m.members[roomID] = make(map[domain.SessionID]struct{})
	}
	_, already := m.members[roomID][session.ID]
	m.members[roomID][session.ID] = struct{}{}
	size := len(m.members[roomID])
	m.mu.Unlock()

	if !already {
		m.emit(ctx, event.MemberJoined{Room: roomID, Session: session.ID, At: time.Now().UTC()})
	}
	return size, nil
}

// Leave removes the session from the room's live membership. No error when
// the session was not joined.
func (m *Manager) Leave(session domain.SessionID, roomID domain.RoomID) {
	m.mu.Lock()
	removed := m.removeLocked(session, roomID)
	m.mu.Unlock()

	if removed {
		m.emit(context.Background(), event.MemberLeft{Room: roomID, Session: session, At: time.Now().UTC()})
	}
}

// LeaveAll is the disconnect path: it drops the session from every room.
func (m *Manager) LeaveAll(session domain.SessionID) {
	m.mu.Lock()
	var left []domain.RoomID
	for roomID := range m.members {
		if m.removeLocked(session, roomID) {
			left = append(left, roomID)
		}
	}
	m.mu.Unlock()

	for _, roomID := range left {
		m.emit(context.Background(), event.MemberLeft{Room: roomID, Session: session, At: time.Now().UTC()})
	}
}

func (m *Manager) removeLocked(session domain.SessionID, roomID domain.RoomID) bool {
	members, ok := m.members[roomID]
	if !ok {
		return false
	}
	if _, ok := members[session]; !ok {
		return false
	}
	delete(members, session)

	// No empty sets left behind, rooms come and go over a process lifetime
	if len(members) == 0 {
		delete(m.members, roomID)
	}
	return true
}

// emit feeds membership changes to the permanent sinks. Best effort: a sink
// failure is logged, never surfaced to the caller.
func (m *Manager) emit(ctx context.Context, e event.DomainEvent) {
	for _, sink := range m.sinks {
		if err := sink.Consume(ctx, e); err != nil {
			m.log.Error("Membership event sink failed", "room_id", e.RoomID(), "error", err)
		}
	}
}

// MembersOf yields the sessions currently joined to the room. The snapshot is
// taken under the membership lock, so one fan-out pass sees a consistent set;
// the sequence itself is restartable and lock-free.
func (m *Manager) MembersOf(roomID domain.RoomID) iter.Seq[domain.SessionID] {
	m.mu.RLock()
	snapshot := make([]domain.SessionID, 0, len(m.members[roomID]))
	for session := range m.members[roomID] {
		snapshot = append(snapshot, session)
	}
	m.mu.RUnlock()

	return func(yield func(domain.SessionID) bool) {
		for _, session := range snapshot {
			if !yield(session) {
				return
			}
		}
	}
}

// Commands returns the room's single-writer command channel, spawning the
// worker on first use. All sequence assignment and fan-out for the room
// funnels through this channel, which is what keeps concurrent sends from
// interleaving out of order.
func (m *Manager) Commands(ctx context.Context, roomID domain.RoomID) (chan<- domain.Command, error) {
	m.mu.RLock()
	ch, ok := m.handles[roomID]
	m.mu.RUnlock()
	if ok {
		return ch, nil
	}

	if _, err := m.rooms.Get(ctx, roomID); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.handles[roomID]; ok {
		return ch, nil
	}
	ch = make(chan domain.Command, m.bufferSize)
	m.handles[roomID] = ch
	m.spawn(roomID, ch)
	m.log.Debug("Room worker spawned", "room_id", roomID)
	return ch, nil
}
