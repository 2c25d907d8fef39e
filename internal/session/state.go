package session

import (
	"encoding/json"

	"github.com/jason-s-yu/tabletop/internal/models"
)

// State is where a player is in the match lifecycle.
type State string

const (
	StateIdle      State = "idle"
	StateSearching State = "searching"
	StateWaiting   State = "waiting"
	StateReady     State = "ready"
	StatePlaying   State = "playing"
	StateFinished  State = "finished"
)

var transitions = map[State][]State{
	StateIdle:      {StateSearching},
	StateSearching: {StateWaiting, StateIdle},
	StateWaiting:   {StateReady, StatePlaying, StateFinished, StateIdle},
	StateReady:     {StateWaiting, StatePlaying, StateFinished, StateIdle},
	StatePlaying:   {StateFinished, StateIdle},
	StateFinished:  {StateIdle},
}

// CanTransitionTo reports whether the session may move from s to next.
func (s State) CanTransitionTo(next State) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// InRoom reports whether the session is attached to a room.
func (s State) InRoom() bool {
	switch s {
	case StateWaiting, StateReady, StatePlaying, StateFinished:
		return true
	}
	return false
}

// Game is the client-side replica of one game's rules. Seats are 1-based.
// Start, Apply and Forfeit compute candidate states without changing the replica;
// only Merge moves it forward, after validating the transition.
type Game interface {
	GameID() string
	Reset()
	// DealerSeat is the seat that writes the opening state.
	DealerSeat() int
	Start() (json.RawMessage, error)
	Apply(seat int, move json.RawMessage) (json.RawMessage, error)
	Forfeit(loser int) (json.RawMessage, error)
	Merge(payload json.RawMessage) error
	Outcome() models.Outcome
	// CurrentSeat is the seat expected to act, or 0 when nobody is.
	CurrentSeat() int
}
