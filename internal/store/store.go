// Package store defines the contract of the room store: rooms, their seated
// players, the append-only action log and a per-room change stream.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/tabletop/internal/models"
)

// Table names the kind of row a change event is about.
type Table string

const (
	TableRooms       Table = "rooms"
	TableRoomPlayers Table = "room_players"
	TableGameActions Table = "game_actions"
)

// Op is the row operation behind a change event.
type Op string

const (
	OpInsert Op = "INSERT"
	OpUpdate Op = "UPDATE"
	OpDelete Op = "DELETE"
)

// ChangeEvent is one row change on a room. Old* carry the previous row for
// updates and deletes; Room and Player carry the new row for inserts and updates.
type ChangeEvent struct {
	Table     Table              `json:"table"`
	Op        Op                 `json:"op"`
	RoomID    uuid.UUID          `json:"room_id"`
	Room      *models.Room       `json:"room,omitempty"`
	OldRoom   *models.Room       `json:"old_room,omitempty"`
	Player    *models.RoomPlayer `json:"player,omitempty"`
	OldPlayer *models.RoomPlayer `json:"old_player,omitempty"`
	Action    *models.GameAction `json:"action,omitempty"`
}

// CreateRoomParams describes a new room. The creator is seated at seat 1.
type CreateRoomParams struct {
	GameID     string
	Mode       models.GameMode
	MaxPlayers int
	RoomCode   *string
	CreatedBy  uuid.UUID
}

// ReapResult lists the rooms touched by a stale-room sweep.
type ReapResult struct {
	Cancelled []uuid.UUID
	Abandoned []uuid.UUID
}

// RoomStore is the single source of truth for rooms. Every mutation is published
// to the room's change stream. Implementations must be safe for concurrent use.
type RoomStore interface {
	CreateRoom(ctx context.Context, p CreateRoomParams) (*models.Room, error)
	GetRoom(ctx context.Context, roomID uuid.UUID) (*models.Room, error)
	// FindOpenRooms lists waiting, code-less rooms for gameID and mode that have a
	// free seat and do not already seat userID, oldest first.
	FindOpenRooms(ctx context.Context, gameID string, mode models.GameMode, userID uuid.UUID, limit int) ([]*models.Room, error)
	// FindRoomByCode looks up a waiting room by private code.
	FindRoomByCode(ctx context.Context, code string) (*models.Room, error)
	// FindPendingRoom returns the waiting room userID is seated in.
	FindPendingRoom(ctx context.Context, userID uuid.UUID) (*models.Room, error)

	// JoinRoom claims the next free seat. The claim is conditional on the room
	// still waiting with capacity, so concurrent joiners never share a seat.
	JoinRoom(ctx context.Context, roomID, userID uuid.UUID) (*models.RoomPlayer, error)
	// LeaveRoom frees the seat of a waiting room, cancelling it once empty.
	// In a room already in play the player is only marked disconnected.
	LeaveRoom(ctx context.Context, roomID, userID uuid.UUID) error
	ListPlayers(ctx context.Context, roomID uuid.UUID) ([]*models.RoomPlayer, error)
	// SetReady writes the ready flag and moves the room to playing once every
	// seat is filled and ready. It returns the room after the write.
	SetReady(ctx context.Context, roomID, userID uuid.UUID, ready bool) (*models.Room, error)
	SetConnected(ctx context.Context, roomID, userID uuid.UUID, connected bool) error

	// UpdateGameState overwrites the game state only when the stored version equals
	// expectedVersion (0 for the first write). It fails with models.ErrStaleVersion otherwise.
	UpdateGameState(ctx context.Context, roomID uuid.UUID, gameID string, payload json.RawMessage, expectedVersion int64) (*models.GameState, error)
	FinishRoom(ctx context.Context, roomID uuid.UUID, req models.FinishRequest) (*models.Room, error)
	CancelRoom(ctx context.Context, roomID uuid.UUID) error

	AppendAction(ctx context.Context, action *models.GameAction) (*models.GameAction, error)
	ListActions(ctx context.Context, roomID uuid.UUID) ([]*models.GameAction, error)

	// ReapStaleRooms cancels waiting rooms created before cutoff and finishes, without
	// a winner, playing rooms whose players all disconnected before cutoff.
	ReapStaleRooms(ctx context.Context, cutoff time.Time) (ReapResult, error)

	// Subscribe streams change events for roomID until ctx is done, then closes the channel.
	Subscribe(ctx context.Context, roomID uuid.UUID) (<-chan ChangeEvent, error)
}

// Notifier carries change events between the process that committed a write and
// the subscribers of the room, possibly in other processes.
type Notifier interface {
	Notify(ctx context.Context, ev ChangeEvent) error
	Listen(ctx context.Context, roomID uuid.UUID) (<-chan ChangeEvent, error)
}
