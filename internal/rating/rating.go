package rating

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/tabletop/internal/models"
	"github.com/sirupsen/logrus"
)

// MatchResult is a resolved two-seat match. Players is in seat order; WinnerID
// is nil for a draw or an abandoned match.
type MatchResult struct {
	RoomID   uuid.UUID
	GameID   string
	Mode     models.GameMode
	Players  []uuid.UUID
	WinnerID *uuid.UUID
	Reason   models.EndReason
}

// Repository loads and stores rating records.
type Repository interface {
	// Get returns the stored record, or a zero record keyed by (userID, gameID, mode) when none exists.
	Get(ctx context.Context, userID uuid.UUID, gameID string, mode models.GameMode) (models.MultiplayerRating, error)
	// Save upserts every record in one unit.
	Save(ctx context.Context, records []models.MultiplayerRating) error
}

// Recorder is what the session layer needs from the rating system.
type Recorder interface {
	RecordMatch(ctx context.Context, res MatchResult) error
}

// Updater applies match results to the repository. Win/loss/draw counters and
// streaks are kept for every mode; the rating value only moves for ranked matches.
type Updater struct {
	repo Repository
	log  logrus.FieldLogger
	now  func() time.Time
}

// NewUpdater returns an Updater backed by repo.
func NewUpdater(repo Repository, log logrus.FieldLogger) *Updater {
	return &Updater{repo: repo, log: log, now: time.Now}
}

// score returns the Glicko score of userID in res.
func (res MatchResult) score(userID uuid.UUID) float64 {
	switch {
	case res.WinnerID == nil:
		return 0.5
	case *res.WinnerID == userID:
		return 1
	}
	return 0
}

// RecordMatch updates every player's record for the match.
func (u *Updater) RecordMatch(ctx context.Context, res MatchResult) error {
	if len(res.Players) != 2 {
		return models.Validationf("record match", "expected 2 players, got %d", len(res.Players))
	}
	if res.Reason == models.ReasonTimeout && res.WinnerID == nil {
		u.log.WithField("room_id", res.RoomID).Debug("abandoned match, no rating change")
		return nil
	}

	recs := make([]models.MultiplayerRating, len(res.Players))
	for i, id := range res.Players {
		r, err := u.repo.Get(ctx, id, res.GameID, res.Mode)
		if err != nil {
			return fmt.Errorf("load rating for %s: %w", id, err)
		}
		recs[i] = r
	}

	now := u.now()
	next := make([]models.MultiplayerRating, len(recs))
	for i := range recs {
		me, opp := recs[i], recs[1-i]
		s := res.score(me.UserID)
		n := tally(me, s)
		if res.Mode == models.ModeRanked {
			upd := Update(FromRecord(me), FromRecord(opp), s)
			n.Rating = int(math.Round(upd.ToElo()))
			n.Deviation = upd.Deviation()
			n.Volatility = upd.Sigma
		}
		n.UpdatedAt = now
		next[i] = n
	}

	if err := u.repo.Save(ctx, next); err != nil {
		return fmt.Errorf("save ratings: %w", err)
	}
	u.log.WithFields(logrus.Fields{
		"room_id": res.RoomID,
		"mode":    res.Mode,
		"ratings": []int{next[0].Rating, next[1].Rating},
	}).Info("ratings recorded")
	return nil
}

// tally bumps the result counters and the win streak.
func tally(r models.MultiplayerRating, score float64) models.MultiplayerRating {
	if r.Rating == 0 {
		r.Rating = int(DefaultMu)
		r.Deviation = DefaultPhi
		r.Volatility = DefaultSigma
	}
	switch score {
	case 1:
		r.Wins++
		r.CurrentStreak++
		if r.CurrentStreak > r.BestStreak {
			r.BestStreak = r.CurrentStreak
		}
	case 0:
		r.Losses++
		r.CurrentStreak = 0
	default:
		r.Draws++
		r.CurrentStreak = 0
	}
	return r
}

type ratingKey struct {
	user uuid.UUID
	game string
	mode models.GameMode
}

// MemoryRepository keeps ratings in a map. Used by tests and the in-memory server mode.
type MemoryRepository struct {
	mu   sync.RWMutex
	recs map[ratingKey]models.MultiplayerRating
}

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{recs: make(map[ratingKey]models.MultiplayerRating)}
}

func (m *MemoryRepository) Get(_ context.Context, userID uuid.UUID, gameID string, mode models.GameMode) (models.MultiplayerRating, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if r, ok := m.recs[ratingKey{userID, gameID, mode}]; ok {
		return r, nil
	}
	return models.MultiplayerRating{UserID: userID, GameID: gameID, Mode: mode}, nil
}

func (m *MemoryRepository) Save(_ context.Context, records []models.MultiplayerRating) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		m.recs[ratingKey{r.UserID, r.GameID, r.Mode}] = r
	}
	return nil
}
