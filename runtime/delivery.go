package runtime

import (
	"context"
	"log/slog"

	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/domain/event"
)

// Deliverer fans a persisted message out to every session currently joined
// to its room, in a single pass over the membership snapshot. Permanent sinks
// (search index, projections) see the event before the per-session pushes.
//
// All calls for one room arrive from that room's worker, so per-room delivery
// order equals append order by construction.
type Deliverer struct {
	log       *slog.Logger
	members   contract.RoomManager
	registry  contract.ConnectionRegistry
	permanent []contract.EventSink
}

func NewDeliverer(log *slog.Logger, members contract.RoomManager,
	registry contract.ConnectionRegistry, permanent ...contract.EventSink) *Deliverer {
	return &Deliverer{log: log, members: members, registry: registry, permanent: permanent}
}

func (d *Deliverer) Deliver(ctx context.Context, msg domain.Message) {
	evt := event.MessageAppended{Message: msg}

	for _, sink := range d.permanent {
		if err := sink.Consume(ctx, evt); err != nil {
			d.log.Warn("Permanent sink rejected event",
				"room_id", msg.Room, "sequence", msg.Sequence, "error", err)
		}
	}

	// Sessions joining mid-pass are not part of the snapshot; they close the
	// gap with a history fetch, as on reconnect.
	for session := range d.members.MembersOf(msg.Room) {
		d.registry.Send(ctx, session, evt)
	}
}
