// Package services holds the application layer: the use cases shared by the
// REST handlers and the websocket gateway, with all authorization checks.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/errors"
	"chat-relay/search"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

type sendPayload struct {
	Content string `validate:"required,max=4000"`
}

type ChatService struct {
	log         *slog.Logger
	manager     contract.RoomManager
	store       contract.MessageStore
	registry    contract.ConnectionRegistry
	social      contract.SocialGraph
	index       *search.Index
	validate    *validator.Validate
	sendTimeout time.Duration
}

func NewChatService(log *slog.Logger, manager contract.RoomManager,
	store contract.MessageStore, registry contract.ConnectionRegistry,
	social contract.SocialGraph, index *search.Index,
	sendTimeout time.Duration) *ChatService {
	return &ChatService{
		log:         log,
		manager:     manager,
		store:       store,
		registry:    registry,
		social:      social,
		index:       index,
		validate:    validator.New(),
		sendTimeout: sendTimeout,
	}
}

// OpenChat resolves the one-to-one room between the caller and another user,
// creating it on first contact, and joins the caller to its live membership.
// The social graph gates room creation only;
// an existing room stays reachable even if the relationship later changes.
func (s *ChatService) OpenChat(ctx context.Context, me, other domain.UserID) (domain.Room, error) {
	if other == "" || other == me {
		return domain.Room{}, fmt.Errorf("%w: cannot open a chat with %q", errors.ErrValidation, other)
	}

	allowed, err := s.social.IsAuthorizedToChat(ctx, me, other)
	if err != nil {
		return domain.Room{}, err
	}
	if !allowed {
		return domain.Room{}, fmt.Errorf("%w: users %s and %s are not connected",
			errors.ErrNotAuthorized, me, other)
	}

	room, err := s.manager.Resolve(ctx, []domain.UserID{me, other})
	if err != nil {
		return domain.Room{}, err
	}

	// Opening a chat joins the caller right away, so a live connection
	// starts receiving the room's traffic without an explicit join frame.
	// Without a connection the membership is harmless: sends to it no-op.
	if _, err := s.manager.Join(ctx, domain.SessionFor(me), room.ID); err != nil {
		return domain.Room{}, err
	}
	return room, nil
}

// SendMessage funnels the message through the room's single writer and waits
// for its acknowledgment: the persisted message with its sequence number.
func (s *ChatService) SendMessage(ctx context.Context, me domain.UserID,
	roomID domain.RoomID, content string) (domain.Message, error) {
	if err := s.validate.Struct(sendPayload{Content: content}); err != nil {
		return domain.Message{}, fmt.Errorf("%w: %v", errors.ErrValidation, err)
	}
	if err := s.authorizeMember(ctx, me, roomID); err != nil {
		return domain.Message{}, err
	}

	commands, err := s.manager.Commands(ctx, roomID)
	if err != nil {
		return domain.Message{}, err
	}

	reply := make(chan domain.SendResult, 1)
	cmd := domain.SendMessageCommand{
		Room:      roomID,
		Sender:    me,
		Content:   content,
		CreatedAt: time.Now(),
		Reply:     reply,
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.sendTimeout)
	defer cancel()

	select {
	case commands <- cmd:
	case <-sendCtx.Done():
		return domain.Message{}, fmt.Errorf("room %s is saturated: %w", roomID, sendCtx.Err())
	}

	select {
	case result := <-reply:
		return result.Message, result.Err
	case <-sendCtx.Done():
		return domain.Message{}, sendCtx.Err()
	}
}

// History pages backward from beforeSeq (0 means "from the latest message").
func (s *ChatService) History(ctx context.Context, me domain.UserID,
	roomID domain.RoomID, beforeSeq uint64, limit int) ([]domain.Message, error) {
	if err := s.authorizeMember(ctx, me, roomID); err != nil {
		return nil, err
	}
	return s.store.History(ctx, roomID, beforeSeq, clampLimit(limit))
}

// HistorySince is the reconnect catch-up path: everything strictly after the
// highest sequence the client has seen.
func (s *ChatService) HistorySince(ctx context.Context, me domain.UserID,
	roomID domain.RoomID, afterSeq uint64, limit int) ([]domain.Message, error) {
	if err := s.authorizeMember(ctx, me, roomID); err != nil {
		return nil, err
	}
	return s.store.HistorySince(ctx, roomID, afterSeq, clampLimit(limit))
}

// Search runs a full-text query over one room's messages.
func (s *ChatService) Search(ctx context.Context, me domain.UserID,
	roomID domain.RoomID, query string, limit int) ([]search.Hit, error) {
	if query == "" {
		return nil, fmt.Errorf("%w: empty search query", errors.ErrValidation)
	}
	if err := s.authorizeMember(ctx, me, roomID); err != nil {
		return nil, err
	}
	return s.index.Search(ctx, roomID, query, clampLimit(limit))
}

// Join subscribes the session to the room's live updates and returns the
// resulting membership size.
func (s *ChatService) Join(ctx context.Context, session domain.Session, roomID domain.RoomID) (int, error) {
	return s.manager.Join(ctx, session, roomID)
}

func (s *ChatService) Leave(session domain.SessionID, roomID domain.RoomID) {
	s.manager.Leave(session, roomID)
}

// Disconnect tears down everything tied to one connection. Membership is
// only cleared when the connection was still the session's current one:
// a superseded connection must not kick its replacement out of its rooms.
func (s *ChatService) Disconnect(session domain.Session, sink contract.ConnectionSink) {
	if s.registry.Detach(session.ID, sink) {
		s.manager.LeaveAll(session.ID)
		s.log.Debug("Session disconnected", "session_id", session.ID)
	}
}

// Connect registers the session's live connection, superseding any previous
// one for the same session.
func (s *ChatService) Connect(session domain.Session, sink contract.ConnectionSink) {
	s.registry.Attach(session, sink)
}

func (s *ChatService) authorizeMember(ctx context.Context, me domain.UserID, roomID domain.RoomID) error {
	room, err := s.manager.Room(ctx, roomID)
	if err != nil {
		return err
	}
	if !room.IsParticipant(me) {
		return fmt.Errorf("%w: user %s is not a participant of room %s",
			errors.ErrNotAuthorized, me, roomID)
	}
	return nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		return MaxHistoryLimit
	}
	return limit
}
