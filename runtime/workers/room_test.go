package workers

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"chat-relay/domain"
	"chat-relay/errors"
	"chat-relay/mocks"
	"chat-relay/moderation"
	"chat-relay/observability"
)

func newRoomWorker(t *testing.T, room domain.RoomID, commands chan domain.Command,
	store *mocks.MockMessageStore, delivery *mocks.MockDeliveryEngine) *RoomWorker {
	t.Helper()
	moderator, err := moderation.NewModerator([]string{"scammer"}, '*', slog.Default())
	require.NoError(t, err)
	return NewRoomWorker(room, commands, store, delivery, &moderator,
		observability.NewMetrics(), slog.Default(), time.Second)
}

func TestRoomWorker_Send_Persists_Then_Delivers(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	store := mocks.NewMockMessageStore(ctrl)
	delivery := mocks.NewMockDeliveryEngine(ctrl)
	room := domain.RoomID("room-1")
	commands := make(chan domain.Command, 1)
	worker := newRoomWorker(t, room, commands, store, delivery)

	persisted := domain.Message{Room: room, Sender: "alice", Content: "hello there", Sequence: 1}

	// The store must see the message before any delivery happens
	gomock.InOrder(
		store.EXPECT().
			Append(gomock.Any(), room, domain.UserID("alice"), "hello there", gomock.Any()).
			Return(persisted, nil),
		delivery.EXPECT().Deliver(gomock.Any(), persisted),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = worker.Run(ctx) }()

	// When
	reply := make(chan domain.SendResult, 1)
	commands <- domain.SendMessageCommand{
		Room: room, Sender: "alice", Content: "hello there",
		CreatedAt: time.Now(), Reply: reply,
	}

	// Then the sender gets the persisted message back
	select {
	case result := <-reply:
		req.NoError(result.Err)
		req.Equal(persisted, result.Message)
	case <-time.After(time.Second):
		req.Fail("no acknowledgment from worker")
	}
}

func TestRoomWorker_Send_Censors_Content_Before_Persisting(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	store := mocks.NewMockMessageStore(ctrl)
	delivery := mocks.NewMockDeliveryEngine(ctrl)
	room := domain.RoomID("room-1")
	commands := make(chan domain.Command, 1)
	worker := newRoomWorker(t, room, commands, store, delivery)

	var stored string
	store.EXPECT().
		Append(gomock.Any(), room, domain.UserID("alice"), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, r domain.RoomID, s domain.UserID, content, lang string) (domain.Message, error) {
			stored = content
			return domain.Message{Room: r, Sender: s, Content: content, Sequence: 1}, nil
		})
	delivery.EXPECT().Deliver(gomock.Any(), gomock.Any())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = worker.Run(ctx) }()

	// When a send contains a censored word
	reply := make(chan domain.SendResult, 1)
	commands <- domain.SendMessageCommand{
		Room: room, Sender: "alice", Content: "you are a scammer",
		CreatedAt: time.Now(), Reply: reply,
	}

	// Then the persisted content is the censored form
	select {
	case result := <-reply:
		req.NoError(result.Err)
		req.Equal("you are a *******", stored)
	case <-time.After(time.Second):
		req.Fail("no acknowledgment from worker")
	}
}

func TestRoomWorker_Failed_Append_Skips_Delivery(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	store := mocks.NewMockMessageStore(ctrl)
	delivery := mocks.NewMockDeliveryEngine(ctrl)
	room := domain.RoomID("room-1")
	commands := make(chan domain.Command, 1)
	worker := newRoomWorker(t, room, commands, store, delivery)

	store.EXPECT().
		Append(gomock.Any(), room, gomock.Any(), gomock.Any(), gomock.Any()).
		Return(domain.Message{}, errors.ErrPersistence)
	// No Deliver expectation: fan-out after a failed write would fail the test

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = worker.Run(ctx) }()

	// When
	reply := make(chan domain.SendResult, 1)
	commands <- domain.SendMessageCommand{
		Room: room, Sender: "alice", Content: "hello",
		CreatedAt: time.Now(), Reply: reply,
	}

	// Then the sender learns about the failure
	select {
	case result := <-reply:
		req.ErrorIs(result.Err, errors.ErrPersistence)
	case <-time.After(time.Second):
		req.Fail("no acknowledgment from worker")
	}
}

func TestRoomWorker_Stops_On_Context_Cancel(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	store := mocks.NewMockMessageStore(ctrl)
	delivery := mocks.NewMockDeliveryEngine(ctrl)
	commands := make(chan domain.Command)
	worker := newRoomWorker(t, "room-1", commands, store, delivery)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()

	// When
	cancel()

	// Then Run returns nil so the supervisor does not restart it
	select {
	case err := <-done:
		req.NoError(err)
	case <-time.After(time.Second):
		req.Fail("worker did not stop on cancel")
	}
}
