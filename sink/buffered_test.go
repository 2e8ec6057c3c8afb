package sink

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chat-relay/domain"
	"chat-relay/domain/event"
)

func TestBuffered_Delivers_In_Order(t *testing.T) {
	req := require.New(t)

	var mu sync.Mutex
	var written []uint64
	wrote := make(chan struct{}, 16)

	s := NewBuffered(slog.Default(), 16, func(e event.DomainEvent) error {
		mu.Lock()
		written = append(written, e.(event.MessageAppended).Message.Sequence)
		mu.Unlock()
		wrote <- struct{}{}
		return nil
	})
	defer s.Close()

	// When three events are consumed
	for seq := uint64(1); seq <= 3; seq++ {
		err := s.Consume(context.Background(), event.MessageAppended{
			Message: domain.Message{Room: "room-1", Sequence: seq},
		})
		req.NoError(err)
	}
	for range 3 {
		select {
		case <-wrote:
		case <-time.After(time.Second):
			req.Fail("writer did not drain the queue")
		}
	}

	// Then the transport saw them in consume order
	mu.Lock()
	defer mu.Unlock()
	req.Equal([]uint64{1, 2, 3}, written)
}

func TestBuffered_Full_Queue_Rejects_Instead_Of_Blocking(t *testing.T) {
	req := require.New(t)

	block := make(chan struct{})
	s := NewBuffered(slog.Default(), 1, func(e event.DomainEvent) error {
		<-block
		return nil
	})
	defer s.Close()
	defer close(block)

	// Given a stalled transport, fill the in-flight write plus the queue
	req.NoError(s.Consume(context.Background(), event.MessageAppended{}))
	// The writer may or may not have picked up the first event yet
	_ = s.Consume(context.Background(), event.MessageAppended{})

	// When one more event arrives than the sink can hold
	err := s.Consume(context.Background(), event.MessageAppended{})
	if err == nil {
		err = s.Consume(context.Background(), event.MessageAppended{})
	}

	// Then Consume returned immediately with an error
	req.Error(err)
}

func TestBuffered_Write_Failure_Closes_Sink(t *testing.T) {
	req := require.New(t)

	s := NewBuffered(slog.Default(), 4, func(e event.DomainEvent) error {
		return fmt.Errorf("broken pipe")
	})

	req.NoError(s.Consume(context.Background(), event.MessageAppended{}))

	// Then the sink reports itself dead
	select {
	case <-s.Done():
	case <-time.After(time.Second):
		req.Fail("sink did not close after a write failure")
	}
	req.Error(s.Consume(context.Background(), event.MessageAppended{}))
}

func TestBuffered_Close_Is_Idempotent(t *testing.T) {
	req := require.New(t)
	s := NewBuffered(slog.Default(), 1, func(e event.DomainEvent) error { return nil })

	s.Close()
	s.Close()

	req.Error(s.Consume(context.Background(), event.MessageAppended{}))
}
