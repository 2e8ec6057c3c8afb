// Package sink holds the connection-side event consumers: the buffered
// decoupling layer between room fan-out and individual connections.
package sink

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"chat-relay/domain/event"
)

// WriteFunc pushes one event down a concrete transport. It runs on the
// sink's writer goroutine, never on the fan-out path.
type WriteFunc func(e event.DomainEvent) error

// Buffered decouples room fan-out from slow connections. Consume enqueues
// and never blocks: when the buffer is full the event is dropped and the
// session recovers through a history fetch. A write failure closes the
// sink, the transport is assumed dead.
type Buffered struct {
	log    *slog.Logger
	write  WriteFunc
	queue  chan event.DomainEvent
	done   chan struct{}
	closed sync.Once
}

func NewBuffered(log *slog.Logger, capacity int, write WriteFunc) *Buffered {
	s := &Buffered{
		log:   log,
		write: write,
		queue: make(chan event.DomainEvent, capacity),
		done:  make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Buffered) run() {
	for {
		select {
		case <-s.done:
			return
		case e := <-s.queue:
			if err := s.write(e); err != nil {
				s.log.Debug("Connection write failed, closing sink", "error", err)
				s.Close()
				return
			}
		}
	}
}

func (s *Buffered) Consume(ctx context.Context, e event.DomainEvent) error {
	select {
	case <-s.done:
		return fmt.Errorf("sink is closed")
	case s.queue <- e:
		return nil
	default:
		return fmt.Errorf("sink buffer full, event dropped")
	}
}

// Close is idempotent and safe from any goroutine, including the writer
// itself after a failed write.
func (s *Buffered) Close() {
	s.closed.Do(func() { close(s.done) })
}

// Done is closed when the sink stops accepting events, either after Close
// or after a transport failure.
func (s *Buffered) Done() <-chan struct{} {
	return s.done
}
