// Package domain contains core concepts of the chat system.
// This file defines Message records and related rules.
// Messages are immutable once assigned a sequence number.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Message represents an immutable chat record.
//
// Sequence is assigned at persistence time, per room, strictly increasing
// from 1 with no gaps. It defines both history order and delivery order.
type Message struct {
	ID       uuid.UUID
	Room     RoomID
	Sender   UserID
	Content  string
	Lang     string
	Sequence uint64
	At       time.Time
}
