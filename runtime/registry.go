// Package runtime owns the live state of the service: the session to
// connection mapping, room membership, and the per-room single-writer
// workers. It orchestrates delivery without containing domain rules.
package runtime

import (
	"context"
	"log/slog"
	"sync"

	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/observability"
)

// Registry tracks at most one live connection per session. A new connection
// for a session supersedes and closes the previous one: the latest login
// wins.
type Registry struct {
	mu      sync.RWMutex
	log     *slog.Logger
	metrics *observability.Metrics
	conns   map[domain.SessionID]contract.ConnectionSink
}

func NewRegistry(log *slog.Logger, metrics *observability.Metrics) *Registry {
	return &Registry{
		log:     log,
		metrics: metrics,
		conns:   make(map[domain.SessionID]contract.ConnectionSink),
	}
}

func (r *Registry) Attach(session domain.Session, sink contract.ConnectionSink) {
	r.mu.Lock()
	prev := r.conns[session.ID]
	r.conns[session.ID] = sink
	r.mu.Unlock()

	r.metrics.ConnectionOpened()
	if prev != nil {
		r.log.Info("Connection superseded by a new login", "session_id", session.ID)
		prev.Close()
		r.metrics.ConnectionClosed()
	}
}

// Detach clears the mapping only when sink is still the registered
// connection, so a superseded connection cleaning up after itself cannot
// detach its replacement. The report matters to callers: session state such
// as room membership must only be torn down with the current connection.
func (r *Registry) Detach(session domain.SessionID, sink contract.ConnectionSink) bool {
	r.mu.Lock()
	current, ok := r.conns[session]
	if ok && current == sink {
		delete(r.conns, session)
	} else {
		ok = false
	}
	r.mu.Unlock()

	if ok {
		current.Close()
		r.metrics.ConnectionClosed()
	}
	return ok
}

// Send pushes an event over the session's live connection. Fire and forget:
// a session without a connection, or with a saturated one, simply misses the
// event and catches up through history on reconnect.
func (r *Registry) Send(ctx context.Context, session domain.SessionID, e event.DomainEvent) {
	r.mu.RLock()
	sink := r.conns[session]
	r.mu.RUnlock()

	if sink == nil {
		r.metrics.IncrDropped()
		return
	}
	if err := sink.Consume(ctx, e); err != nil {
		r.metrics.IncrDropped()
		r.log.Debug("Dropped delivery to session", "session_id", session, "error", err)
		return
	}
	r.metrics.IncrDelivered()
}

// Connected reports whether the session currently holds a live connection.
func (r *Registry) Connected(session domain.SessionID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[session]
	return ok
}
