// Package matchmaking pairs players into rooms: public search by game and mode,
// and private rooms reached through a short code.
package matchmaking

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jason-s-yu/tabletop/internal/models"
	"github.com/jason-s-yu/tabletop/internal/store"
	"github.com/sirupsen/logrus"
)

const (
	// CodeAlphabet leaves out characters that read alike (0/O, 1/I).
	CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	CodeLength   = 6

	defaultMaxPlayers    = 2
	defaultSearchRetries = 3
	defaultCodeAttempts  = 5
	candidatesPerSearch  = 5
)

// Service implements matchmaking on top of a RoomStore.
type Service struct {
	store         store.RoomStore
	log           logrus.FieldLogger
	maxPlayers    int
	searchRetries int
	codeAttempts  int
	newCode       func() (string, error)
}

// Option configures a Service.
type Option func(*Service)

// WithSearchRetries bounds how many times a lost seat race re-runs the search before creating a room.
func WithSearchRetries(n int) Option { return func(s *Service) { s.searchRetries = n } }

// WithCodeAttempts bounds how many codes CreatePrivateRoom tries.
func WithCodeAttempts(n int) Option { return func(s *Service) { s.codeAttempts = n } }

// WithCodeGenerator replaces the random code source.
func WithCodeGenerator(gen func() (string, error)) Option {
	return func(s *Service) { s.newCode = gen }
}

// NewService returns a matchmaking service for two-seat rooms.
func NewService(rs store.RoomStore, log logrus.FieldLogger, opts ...Option) *Service {
	s := &Service{
		store:         rs,
		log:           log,
		maxPlayers:    defaultMaxPlayers,
		searchRetries: defaultSearchRetries,
		codeAttempts:  defaultCodeAttempts,
		newCode:       RandomCode,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// RandomCode draws a room code from CodeAlphabet.
func RandomCode() (string, error) {
	buf := make([]byte, CodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = CodeAlphabet[int(b)%len(CodeAlphabet)]
	}
	return string(buf), nil
}

// NormalizeCode upper-cases and trims a user supplied code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// lostRace reports whether a join failed because someone else got there first.
func lostRace(err error) bool {
	return errors.Is(err, models.ErrRoomFull) || errors.Is(err, models.ErrRoomNotJoinable)
}

// FindMatch seats userID in an open public room for gameID and mode, creating one
// when none is available. created is true when the caller opened a new room.
// A caller already waiting in a matching room gets that room back.
func (s *Service) FindMatch(ctx context.Context, userID uuid.UUID, gameID string, mode models.GameMode) (room *models.Room, created bool, err error) {
	if !mode.Matchable() {
		return nil, false, models.Validationf("find match", "mode %q has no public queue", mode)
	}
	if gameID == "" {
		return nil, false, models.Validationf("find match", "game id is required")
	}
	log := s.log.WithFields(logrus.Fields{"user_id": userID, "game_id": gameID, "mode": mode})

	pending, err := s.store.FindPendingRoom(ctx, userID)
	switch {
	case err == nil:
		if pending.GameID == gameID && pending.Mode == mode && !pending.IsPrivate() {
			log.WithField("room_id", pending.ID).Debug("search already pending")
			return pending, false, nil
		}
		return nil, false, fmt.Errorf("already waiting in room %s: %w", pending.ID, models.ErrAlreadySeated)
	case !errors.Is(err, models.ErrRoomNotFound):
		return nil, false, err
	}

	for attempt := 0; attempt <= s.searchRetries; attempt++ {
		candidates, err := s.store.FindOpenRooms(ctx, gameID, mode, userID, candidatesPerSearch)
		if err != nil {
			return nil, false, err
		}
		if len(candidates) == 0 {
			break
		}
		for _, c := range candidates {
			_, err := s.store.JoinRoom(ctx, c.ID, userID)
			if lostRace(err) {
				log.WithField("room_id", c.ID).Debug("lost seat race")
				continue
			}
			if err != nil {
				return nil, false, err
			}
			room, err := s.store.GetRoom(ctx, c.ID)
			if err != nil {
				return nil, false, err
			}
			log.WithField("room_id", room.ID).Info("matched into room")
			return room, false, nil
		}
	}

	room, err = s.store.CreateRoom(ctx, store.CreateRoomParams{
		GameID:     gameID,
		Mode:       mode,
		MaxPlayers: s.maxPlayers,
		CreatedBy:  userID,
	})
	if err != nil {
		return nil, false, err
	}
	log.WithField("room_id", room.ID).Info("opened room")
	return room, true, nil
}

// CreatePrivateRoom opens a code-only room with userID in seat 1.
func (s *Service) CreatePrivateRoom(ctx context.Context, userID uuid.UUID, gameID string, mode models.GameMode) (*models.Room, string, error) {
	if !mode.Valid() {
		return nil, "", models.Validationf("create private room", "unknown mode %q", mode)
	}
	if gameID == "" {
		return nil, "", models.Validationf("create private room", "game id is required")
	}

	for i := 0; i < s.codeAttempts; i++ {
		code, err := s.newCode()
		if err != nil {
			return nil, "", fmt.Errorf("generate room code: %w", err)
		}
		code = NormalizeCode(code)
		room, err := s.store.CreateRoom(ctx, store.CreateRoomParams{
			GameID:     gameID,
			Mode:       mode,
			MaxPlayers: s.maxPlayers,
			RoomCode:   &code,
			CreatedBy:  userID,
		})
		if errors.Is(err, models.ErrCodeCollision) {
			s.log.WithField("code", code).Debug("room code collision")
			continue
		}
		if err != nil {
			return nil, "", err
		}
		s.log.WithFields(logrus.Fields{"room_id": room.ID, "user_id": userID}).Info("opened private room")
		return room, code, nil
	}
	return nil, "", fmt.Errorf("after %d attempts: %w", s.codeAttempts, models.ErrCodeCollision)
}

// JoinByCode seats userID in the waiting room with the given code.
func (s *Service) JoinByCode(ctx context.Context, userID uuid.UUID, code string) (*models.Room, error) {
	code = NormalizeCode(code)
	if len(code) != CodeLength {
		return nil, models.Validationf("join by code", "room codes are %d characters", CodeLength)
	}
	room, err := s.store.FindRoomByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if room.Status != models.StatusWaiting {
		return nil, fmt.Errorf("room %s is %s: %w", room.ID, room.Status, models.ErrRoomNotJoinable)
	}

	_, err = s.store.JoinRoom(ctx, room.ID, userID)
	if err != nil && !errors.Is(err, models.ErrAlreadySeated) {
		return nil, err
	}
	return s.store.GetRoom(ctx, room.ID)
}

// CancelSearch withdraws userID from their waiting room while no opponent has
// joined it. A creator alone in the room cancels it; a joiner releases the seat.
// Calling it with nothing pending is a no-op.
func (s *Service) CancelSearch(ctx context.Context, userID uuid.UUID) error {
	room, err := s.store.FindPendingRoom(ctx, userID)
	if errors.Is(err, models.ErrRoomNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if room.CreatedBy == userID && room.CurrentPlayers > 1 {
		return nil
	}

	err = s.store.LeaveRoom(ctx, room.ID, userID)
	if errors.Is(err, models.ErrPlayerNotFound) || errors.Is(err, models.ErrRoomNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{"room_id": room.ID, "user_id": userID}).Info("search cancelled")
	return nil
}
