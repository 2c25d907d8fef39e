package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ActionKind enumerates the entries allowed in a room's action log.
type ActionKind string

const (
	ActionMove        ActionKind = "move"
	ActionChat        ActionKind = "chat"
	ActionReady       ActionKind = "ready"
	ActionSurrender   ActionKind = "surrender"
	ActionOfferDraw   ActionKind = "offer_draw"
	ActionAcceptDraw  ActionKind = "accept_draw"
	ActionDeclineDraw ActionKind = "decline_draw"
	ActionTimeout     ActionKind = "timeout"
)

// Valid reports whether k is a known action kind.
func (k ActionKind) Valid() bool {
	switch k {
	case ActionMove, ActionChat, ActionReady, ActionSurrender,
		ActionOfferDraw, ActionAcceptDraw, ActionDeclineDraw, ActionTimeout:
		return true
	}
	return false
}

// GameAction is an append-only log entry. UserID is nil for system actions.
// ID increases with insertion order.
type GameAction struct {
	ID        int64           `json:"id"`
	RoomID    uuid.UUID       `json:"room_id"`
	UserID    *uuid.UUID      `json:"user_id,omitempty"`
	Kind      ActionKind      `json:"kind"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}
