// internal/models/room.go
package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// GameMode selects the matchmaking queue a room belongs to.
type GameMode string

const (
	ModeRanked        GameMode = "ranked"
	ModeCasual        GameMode = "casual"
	ModeCollaborative GameMode = "collaborative"
)

// Valid reports whether m is a known mode.
func (m GameMode) Valid() bool {
	switch m {
	case ModeRanked, ModeCasual, ModeCollaborative:
		return true
	}
	return false
}

// Matchable reports whether m has a public search queue.
func (m GameMode) Matchable() bool {
	return m == ModeRanked || m == ModeCasual
}

// RoomStatus is the lifecycle stage of a room.
type RoomStatus string

const (
	StatusWaiting   RoomStatus = "waiting"
	StatusPlaying   RoomStatus = "playing"
	StatusFinished  RoomStatus = "finished"
	StatusCancelled RoomStatus = "cancelled"
)

// CanTransitionTo reports whether moving from s to next keeps the lifecycle monotonic:
// waiting -> playing -> finished, or waiting -> cancelled.
func (s RoomStatus) CanTransitionTo(next RoomStatus) bool {
	switch s {
	case StatusWaiting:
		return next == StatusPlaying || next == StatusCancelled
	case StatusPlaying:
		return next == StatusFinished
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (s RoomStatus) Terminal() bool {
	return s == StatusFinished || s == StatusCancelled
}

// EndReason explains why a match finished.
type EndReason string

const (
	ReasonWin       EndReason = "win"
	ReasonDraw      EndReason = "draw"
	ReasonSurrender EndReason = "surrender"
	ReasonTimeout   EndReason = "timeout"
)

// Valid reports whether r is a known end reason.
func (r EndReason) Valid() bool {
	switch r {
	case ReasonWin, ReasonDraw, ReasonSurrender, ReasonTimeout:
		return true
	}
	return false
}

// GameState is the versioned envelope around a game-specific payload.
// Version is assigned by the store: 1 on the first write, +1 on each accepted overwrite.
type GameState struct {
	GameID  string          `json:"game_id"`
	Version int64           `json:"version"`
	Payload json.RawMessage `json:"payload"`
}

// Clone returns a deep copy of the envelope.
func (g *GameState) Clone() *GameState {
	if g == nil {
		return nil
	}
	c := *g
	c.Payload = append(json.RawMessage(nil), g.Payload...)
	return &c
}

// Room is one match container. It maps to a row in the rooms table.
type Room struct {
	ID             uuid.UUID  `json:"id"`
	GameID         string     `json:"game_id"`
	Mode           GameMode   `json:"mode"`
	Status         RoomStatus `json:"status"`
	MaxPlayers     int        `json:"max_players"`
	CurrentPlayers int        `json:"current_players"`
	RoomCode       *string    `json:"room_code,omitempty"`
	CreatedBy      uuid.UUID  `json:"created_by"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
	WinnerID       *uuid.UUID `json:"winner_id,omitempty"`
	EndReason      *EndReason `json:"end_reason,omitempty"`
	GameState      *GameState `json:"game_state,omitempty"`
}

// IsFull reports whether every seat is taken.
func (r *Room) IsFull() bool {
	return r.CurrentPlayers >= r.MaxPlayers
}

// IsPrivate reports whether the room is only reachable by code.
func (r *Room) IsPrivate() bool {
	return r.RoomCode != nil
}

// StateVersion returns the current game-state version, or 0 when none was written yet.
func (r *Room) StateVersion() int64 {
	if r.GameState == nil {
		return 0
	}
	return r.GameState.Version
}

// Clone returns a deep copy so callers can hand rooms across goroutines.
func (r *Room) Clone() *Room {
	if r == nil {
		return nil
	}
	c := *r
	if r.RoomCode != nil {
		code := *r.RoomCode
		c.RoomCode = &code
	}
	if r.StartedAt != nil {
		t := *r.StartedAt
		c.StartedAt = &t
	}
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		c.FinishedAt = &t
	}
	if r.WinnerID != nil {
		w := *r.WinnerID
		c.WinnerID = &w
	}
	if r.EndReason != nil {
		e := *r.EndReason
		c.EndReason = &e
	}
	c.GameState = r.GameState.Clone()
	return &c
}

// RoomPlayer is a (room, user) membership with a 1-based seat number.
type RoomPlayer struct {
	RoomID         uuid.UUID  `json:"room_id"`
	UserID         uuid.UUID  `json:"user_id"`
	PlayerNumber   int        `json:"player_number"`
	IsReady        bool       `json:"is_ready"`
	IsConnected    bool       `json:"is_connected"`
	DisconnectedAt *time.Time `json:"disconnected_at,omitempty"`
	JoinedAt       time.Time  `json:"joined_at"`
}

// Clone returns a copy of p.
func (p *RoomPlayer) Clone() *RoomPlayer {
	if p == nil {
		return nil
	}
	c := *p
	if p.DisconnectedAt != nil {
		t := *p.DisconnectedAt
		c.DisconnectedAt = &t
	}
	return &c
}

// FinishRequest carries the terminal fields written when a match resolves.
type FinishRequest struct {
	WinnerID *uuid.UUID
	Reason   EndReason
}

// Validate checks the reason and that a winner is named exactly when the reason
// needs one. A timeout may or may not name a winner.
func (f FinishRequest) Validate() error {
	switch {
	case !f.Reason.Valid():
		return Validationf("finish room", "unknown end reason %q", f.Reason)
	case f.Reason == ReasonDraw && f.WinnerID != nil:
		return Validationf("finish room", "a draw has no winner")
	case (f.Reason == ReasonWin || f.Reason == ReasonSurrender) && f.WinnerID == nil:
		return Validationf("finish room", "reason %q requires a winner", f.Reason)
	}
	return nil
}

// Outcome summarises whether a game has resolved and who won. WinnerSeat is 0 for a draw.
type Outcome struct {
	Over       bool `json:"over"`
	Draw       bool `json:"draw"`
	WinnerSeat int  `json:"winner_seat"`
}
