package models

import (
	"time"

	"github.com/google/uuid"
)

// User is the identity handed to the coordination layer by the auth provider.
type User struct {
	ID       uuid.UUID `json:"id"`
	Username string    `json:"username"`

	IsEphemeral bool `json:"is_ephemeral"`
}

// MultiplayerRating is the per (user, game, mode) record updated at match resolution.
// Rating is on the ELO scale; Deviation and Volatility are the Glicko-2 internals behind it.
type MultiplayerRating struct {
	UserID        uuid.UUID `json:"user_id"`
	GameID        string    `json:"game_id"`
	Mode          GameMode  `json:"mode"`
	Wins          int       `json:"wins"`
	Losses        int       `json:"losses"`
	Draws         int       `json:"draws"`
	Rating        int       `json:"rating"`
	Deviation     float64   `json:"deviation"`
	Volatility    float64   `json:"volatility"`
	CurrentStreak int       `json:"current_streak"`
	BestStreak    int       `json:"best_streak"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// GamesPlayed is the sum of all recorded results.
func (r MultiplayerRating) GamesPlayed() int {
	return r.Wins + r.Losses + r.Draws
}
