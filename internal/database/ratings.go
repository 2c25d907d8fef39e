package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jason-s-yu/tabletop/internal/models"
	"github.com/jason-s-yu/tabletop/internal/rating"
)

// Ratings persists multiplayer_ratings rows.
type Ratings struct {
	pool *pgxpool.Pool
}

var _ rating.Repository = (*Ratings)(nil)

// NewRatings wraps pool.
func NewRatings(pool *pgxpool.Pool) *Ratings {
	return &Ratings{pool: pool}
}

// Get returns the user's record for the game and mode, or a zero record if the user never played it.
func (r *Ratings) Get(ctx context.Context, userID uuid.UUID, gameID string, mode models.GameMode) (models.MultiplayerRating, error) {
	rec := models.MultiplayerRating{UserID: userID, GameID: gameID, Mode: mode}
	q := `
	SELECT wins, losses, draws, rating, deviation, volatility, current_streak, best_streak, updated_at
	FROM multiplayer_ratings
	WHERE user_id=$1 AND game_id=$2 AND mode=$3
	`
	err := r.pool.QueryRow(ctx, q, userID, gameID, string(mode)).Scan(
		&rec.Wins, &rec.Losses, &rec.Draws,
		&rec.Rating, &rec.Deviation, &rec.Volatility,
		&rec.CurrentStreak, &rec.BestStreak, &rec.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return rec, nil
	}
	if err != nil {
		return rec, fmt.Errorf("failed to load rating: %w", err)
	}
	return rec, nil
}

// Save upserts all records in a single transaction.
func (r *Ratings) Save(ctx context.Context, records []models.MultiplayerRating) error {
	q := `
	INSERT INTO multiplayer_ratings
		(user_id, game_id, mode, wins, losses, draws, rating, deviation, volatility, current_streak, best_streak, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	ON CONFLICT (user_id, game_id, mode) DO UPDATE SET
		wins=$4, losses=$5, draws=$6, rating=$7, deviation=$8, volatility=$9,
		current_streak=$10, best_streak=$11, updated_at=$12
	`
	err := beginTxFunc(ctx, r.pool, func(tx pgx.Tx) error {
		for _, rec := range records {
			_, err := tx.Exec(ctx, q,
				rec.UserID, rec.GameID, string(rec.Mode),
				rec.Wins, rec.Losses, rec.Draws,
				rec.Rating, rec.Deviation, rec.Volatility,
				rec.CurrentStreak, rec.BestStreak, rec.UpdatedAt,
			)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save ratings: %w", err)
	}
	return nil
}
