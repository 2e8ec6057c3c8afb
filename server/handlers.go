package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"chat-relay/auth"
	"chat-relay/domain"
	"chat-relay/errors"
)

type roomResponse struct {
	ID           domain.RoomID   `json:"id"`
	Participants []domain.UserID `json:"participants"`
	CreatedAt    time.Time       `json:"created_at"`
}

type messageResponse struct {
	ID       string        `json:"id"`
	Room     domain.RoomID `json:"room_id"`
	Sender   domain.UserID `json:"sender_id"`
	Content  string        `json:"content"`
	Lang     string        `json:"lang,omitempty"`
	Sequence uint64        `json:"sequence"`
	At       time.Time     `json:"sent_at"`
}

type sendRequest struct {
	Content string `json:"content"`
}

func toRoomResponse(room domain.Room) roomResponse {
	return roomResponse{ID: room.ID, Participants: room.Participants, CreatedAt: room.CreatedAt}
}

func toMessageResponse(msg domain.Message) messageResponse {
	return messageResponse{
		ID:       msg.ID.String(),
		Room:     msg.Room,
		Sender:   msg.Sender,
		Content:  msg.Content,
		Lang:     msg.Lang,
		Sequence: msg.Sequence,
		At:       msg.At,
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Warn("Failed to write response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := errors.MapToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("Request failed", "error", err)
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

func (s *Server) handleOpenChat(w http.ResponseWriter, r *http.Request) {
	me, _ := auth.UserFromContext(r.Context())
	other := domain.UserID(chi.URLParam(r, "otherUserID"))

	room, err := s.service.OpenChat(r.Context(), me, other)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toRoomResponse(room))
}

// handleHistory serves both paging directions: before= pages backward from
// older history, after= catches up forward after a reconnect.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	me, _ := auth.UserFromContext(r.Context())
	roomID := domain.RoomID(chi.URLParam(r, "roomID"))
	query := r.URL.Query()
	limit, _ := strconv.Atoi(query.Get("limit"))

	var messages []domain.Message
	var err error
	if after := query.Get("after"); after != "" {
		afterSeq, parseErr := strconv.ParseUint(after, 10, 64)
		if parseErr != nil {
			s.writeError(w, errors.ErrValidation)
			return
		}
		messages, err = s.service.HistorySince(r.Context(), me, roomID, afterSeq, limit)
	} else {
		var beforeSeq uint64
		if before := query.Get("before"); before != "" {
			beforeSeq, err = strconv.ParseUint(before, 10, 64)
			if err != nil {
				s.writeError(w, errors.ErrValidation)
				return
			}
		}
		messages, err = s.service.History(r.Context(), me, roomID, beforeSeq, limit)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}

	responses := make([]messageResponse, 0, len(messages))
	for _, msg := range messages {
		responses = append(responses, toMessageResponse(msg))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"messages": responses})
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	me, _ := auth.UserFromContext(r.Context())
	roomID := domain.RoomID(chi.URLParam(r, "roomID"))

	var body sendRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, errors.ErrValidation)
		return
	}

	msg, err := s.service.SendMessage(r.Context(), me, roomID, body.Content)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, toMessageResponse(msg))
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	me, _ := auth.UserFromContext(r.Context())
	roomID := domain.RoomID(chi.URLParam(r, "roomID"))
	query := r.URL.Query()
	limit, _ := strconv.Atoi(query.Get("limit"))

	hits, err := s.service.Search(r.Context(), me, roomID, query.Get("q"), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"hits": hits})
}
