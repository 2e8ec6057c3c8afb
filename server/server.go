// Package server is the HTTP boundary: REST endpoints for room resolution,
// history and search, plus the websocket gateway for live delivery.
package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"chat-relay/auth"
	"chat-relay/contract"
	"chat-relay/observability"
	"chat-relay/services"
)

type Server struct {
	log      *slog.Logger
	service  *services.ChatService
	identity contract.IdentityProvider
	metrics  *observability.Metrics

	wsBufferSize int
	authTimeout  time.Duration
}

func NewServer(log *slog.Logger, service *services.ChatService,
	identity contract.IdentityProvider, metrics *observability.Metrics,
	wsBufferSize int, authTimeout time.Duration) *Server {
	return &Server{
		log:          log,
		service:      service,
		identity:     identity,
		metrics:      metrics,
		wsBufferSize: wsBufferSize,
		authTimeout:  authTimeout,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}))

	r.Get("/healthz", s.handleHealth)
	r.Get("/stats", s.handleStats)

	// The websocket endpoint authenticates through its first frame, not the
	// Authorization header: browser websocket clients cannot set headers.
	r.Get("/ws", s.handleWebsocket)

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(s.identity, s.log))
		r.Post("/chats/{otherUserID}", s.handleOpenChat)
		r.Get("/chats/{roomID}/messages", s.handleHistory)
		r.Post("/chats/{roomID}/messages", s.handleSend)
		r.Get("/chats/{roomID}/search", s.handleSearch)
	})

	return r
}
