package workers

import (
	"context"
	"log/slog"
	"time"

	"github.com/abadojack/whatlanggo"

	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/moderation"
	"chat-relay/observability"
)

var _ contract.Worker = (*RoomWorker)(nil)

// RoomWorker is the single writer of one room. Every send funnels through
// its command channel, so "assign sequence + fan out" is one serialized
// critical section per room while different rooms proceed fully in parallel.
type RoomWorker struct {
	room          domain.RoomID
	commands      chan domain.Command
	store         contract.MessageStore
	delivery      contract.DeliveryEngine
	moderator     *moderation.Moderator
	metrics       *observability.Metrics
	log           *slog.Logger
	appendTimeout time.Duration
}

func NewRoomWorker(room domain.RoomID, commands chan domain.Command,
	store contract.MessageStore, delivery contract.DeliveryEngine,
	moderator *moderation.Moderator, metrics *observability.Metrics,
	log *slog.Logger, appendTimeout time.Duration) *RoomWorker {
	return &RoomWorker{
		room:          room,
		commands:      commands,
		store:         store,
		delivery:      delivery,
		moderator:     moderator,
		metrics:       metrics,
		log:           log,
		appendTimeout: appendTimeout,
	}
}

func (w *RoomWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Stopping worker", "room_id", w.room)
			return nil
		case cmd, ok := <-w.commands:
			if !ok {
				return nil
			}
			if send, ok := cmd.(domain.SendMessageCommand); ok {
				w.handleSend(ctx, send)
			}
		}
	}
}

// handleSend persists then fans out. A failed append aborts the send before
// any fan-out, so recipients can never see a message that was not durably
// written.
func (w *RoomWorker) handleSend(ctx context.Context, send domain.SendMessageCommand) {
	content, censoredWords := w.moderator.Censor(send.Content)
	if len(censoredWords) > 0 {
		w.log.Info("Message censored",
			"room_id", w.room, "sender", send.Sender, "words", len(censoredWords))
	}

	info := whatlanggo.Detect(send.Content)

	// The append is bounded so a slow store cannot stall the room's
	// single-writer path indefinitely.
	appendCtx, cancel := context.WithTimeout(ctx, w.appendTimeout)
	msg, err := w.store.Append(appendCtx, w.room, send.Sender, content, info.Lang.Iso6391())
	cancel()
	if err != nil {
		w.reply(send, domain.SendResult{Err: err})
		return
	}

	w.metrics.IncrAppended()
	w.delivery.Deliver(ctx, msg)
	w.reply(send, domain.SendResult{Message: msg})
}

func (w *RoomWorker) reply(send domain.SendMessageCommand, result domain.SendResult) {
	if send.Reply == nil {
		return
	}
	select {
	case send.Reply <- result:
	default:
		// The caller went away; it will recover via history.
		w.log.Debug("Send acknowledgment dropped", "room_id", w.room)
	}
}
