package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jason-s-yu/tabletop/internal/models"
	"github.com/jason-s-yu/tabletop/internal/store"
	"github.com/sirupsen/logrus"
)

const roomCols = `id, game_id, mode, status, max_players, current_players, room_code, created_by,
	winner_id, end_reason, state_game_id, state_version, state_payload, created_at, started_at, finished_at`

const playerCols = `room_id, user_id, player_number, is_ready, is_connected, disconnected_at, joined_at`

const actionCols = `id, room_id, user_id, kind, payload, created_at`

const uniqueViolation = "23505"

// Store is the Postgres RoomStore. Every write runs in one transaction that locks
// the room row first, so writers to the same room are serialized. Change events are
// handed to the notifier after commit.
type Store struct {
	pool     *pgxpool.Pool
	notifier store.Notifier
	log      logrus.FieldLogger
}

var _ store.RoomStore = (*Store)(nil)

// NewStore wraps pool. A nil notifier falls back to an in-process fan-out.
func NewStore(pool *pgxpool.Pool, notifier store.Notifier, log logrus.FieldLogger) *Store {
	if notifier == nil {
		notifier = store.NewFanout()
	}
	return &Store{pool: pool, notifier: notifier, log: log}
}

func (s *Store) notify(ctx context.Context, evs []store.ChangeEvent) {
	for _, ev := range evs {
		if err := s.notifier.Notify(ctx, ev); err != nil {
			s.log.WithError(err).WithFields(logrus.Fields{
				"room_id": ev.RoomID,
				"table":   ev.Table,
				"op":      ev.Op,
			}).Error("failed to publish change event")
		}
	}
}

func scanRoom(row pgx.Row) (*models.Room, error) {
	var (
		r           models.Room
		mode        string
		status      string
		endReason   *string
		stateGameID *string
		version     int64
		payload     []byte
	)
	err := row.Scan(
		&r.ID, &r.GameID, &mode, &status, &r.MaxPlayers, &r.CurrentPlayers, &r.RoomCode, &r.CreatedBy,
		&r.WinnerID, &endReason, &stateGameID, &version, &payload, &r.CreatedAt, &r.StartedAt, &r.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Mode = models.GameMode(mode)
	r.Status = models.RoomStatus(status)
	if endReason != nil {
		reason := models.EndReason(*endReason)
		r.EndReason = &reason
	}
	if version > 0 {
		gs := &models.GameState{Version: version, Payload: json.RawMessage(payload)}
		if stateGameID != nil {
			gs.GameID = *stateGameID
		}
		r.GameState = gs
	}
	return &r, nil
}

func scanPlayer(row pgx.Row) (*models.RoomPlayer, error) {
	var p models.RoomPlayer
	err := row.Scan(&p.RoomID, &p.UserID, &p.PlayerNumber, &p.IsReady, &p.IsConnected, &p.DisconnectedAt, &p.JoinedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func scanAction(row pgx.Row) (*models.GameAction, error) {
	var (
		a       models.GameAction
		kind    string
		payload []byte
	)
	if err := row.Scan(&a.ID, &a.RoomID, &a.UserID, &kind, &payload, &a.CreatedAt); err != nil {
		return nil, err
	}
	a.Kind = models.ActionKind(kind)
	if len(payload) > 0 {
		a.Payload = json.RawMessage(payload)
	}
	return &a, nil
}

func collectRooms(rows pgx.Rows) ([]*models.Room, error) {
	defer rows.Close()
	var out []*models.Room
	for rows.Next() {
		r, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func notFound(roomID uuid.UUID, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("room %s: %w", roomID, models.ErrRoomNotFound)
	}
	return models.Transport("load room", err)
}

// lockRoom loads the room row FOR UPDATE.
func lockRoom(ctx context.Context, tx pgx.Tx, roomID uuid.UUID) (*models.Room, error) {
	r, err := scanRoom(tx.QueryRow(ctx, `SELECT `+roomCols+` FROM rooms WHERE id=$1 FOR UPDATE`, roomID))
	if err != nil {
		return nil, notFound(roomID, err)
	}
	return r, nil
}

func lockPlayer(ctx context.Context, tx pgx.Tx, roomID, userID uuid.UUID) (*models.RoomPlayer, error) {
	p, err := scanPlayer(tx.QueryRow(ctx, `SELECT `+playerCols+` FROM room_players WHERE room_id=$1 AND user_id=$2 FOR UPDATE`, roomID, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("room %s user %s: %w", roomID, userID, models.ErrPlayerNotFound)
	}
	if err != nil {
		return nil, models.Transport("load player", err)
	}
	return p, nil
}

// write runs fn in a transaction and publishes the events it returns once committed.
// Errors already classified by fn pass through; anything else is a transport failure.
func (s *Store) write(ctx context.Context, op string, fn func(tx pgx.Tx) ([]store.ChangeEvent, error)) error {
	var evs []store.ChangeEvent
	err := beginTxFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		evs, err = fn(tx)
		return err
	})
	if err != nil {
		if models.KindOf(err) == models.KindUnknown {
			return models.Transport(op, err)
		}
		return err
	}
	s.notify(ctx, evs)
	return nil
}

func (s *Store) CreateRoom(ctx context.Context, p store.CreateRoomParams) (*models.Room, error) {
	if p.MaxPlayers < 1 {
		return nil, models.Validationf("create room", "max players must be positive")
	}
	var room *models.Room
	err := s.write(ctx, "create room", func(tx pgx.Tx) ([]store.ChangeEvent, error) {
		var err error
		room, err = scanRoom(tx.QueryRow(ctx, `
			INSERT INTO rooms (id, game_id, mode, status, max_players, current_players, room_code, created_by)
			VALUES ($1, $2, $3, 'waiting', $4, 1, $5, $6)
			RETURNING `+roomCols,
			uuid.New(), p.GameID, string(p.Mode), p.MaxPlayers, p.RoomCode, p.CreatedBy,
		))
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				return nil, fmt.Errorf("code %s: %w", *p.RoomCode, models.ErrCodeCollision)
			}
			return nil, err
		}
		creator, err := scanPlayer(tx.QueryRow(ctx, `
			INSERT INTO room_players (room_id, user_id, player_number)
			VALUES ($1, $2, 1)
			RETURNING `+playerCols,
			room.ID, p.CreatedBy,
		))
		if err != nil {
			return nil, err
		}
		return []store.ChangeEvent{
			{Table: store.TableRooms, Op: store.OpInsert, RoomID: room.ID, Room: room.Clone()},
			{Table: store.TableRoomPlayers, Op: store.OpInsert, RoomID: room.ID, Player: creator},
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return room, nil
}

func (s *Store) GetRoom(ctx context.Context, roomID uuid.UUID) (*models.Room, error) {
	r, err := scanRoom(s.pool.QueryRow(ctx, `SELECT `+roomCols+` FROM rooms WHERE id=$1`, roomID))
	if err != nil {
		return nil, notFound(roomID, err)
	}
	return r, nil
}

func (s *Store) FindOpenRooms(ctx context.Context, gameID string, mode models.GameMode, userID uuid.UUID, limit int) ([]*models.Room, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+roomCols+` FROM rooms r
		WHERE r.game_id=$1 AND r.mode=$2 AND r.status='waiting'
		  AND r.room_code IS NULL AND r.current_players < r.max_players
		  AND NOT EXISTS (SELECT 1 FROM room_players p WHERE p.room_id=r.id AND p.user_id=$3)
		ORDER BY r.created_at
		LIMIT $4`,
		gameID, string(mode), userID, limit,
	)
	if err != nil {
		return nil, models.Transport("find open rooms", err)
	}
	out, err := collectRooms(rows)
	if err != nil {
		return nil, models.Transport("find open rooms", err)
	}
	return out, nil
}

func (s *Store) FindRoomByCode(ctx context.Context, code string) (*models.Room, error) {
	r, err := scanRoom(s.pool.QueryRow(ctx, `
		SELECT `+roomCols+` FROM rooms
		WHERE UPPER(room_code)=UPPER($1)
		ORDER BY (status='waiting') DESC, created_at DESC
		LIMIT 1`,
		code,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("code %s: %w", code, models.ErrRoomNotFound)
	}
	if err != nil {
		return nil, models.Transport("find room by code", err)
	}
	return r, nil
}

func (s *Store) FindPendingRoom(ctx context.Context, userID uuid.UUID) (*models.Room, error) {
	r, err := scanRoom(s.pool.QueryRow(ctx, `
		SELECT `+roomCols+` FROM rooms r
		WHERE r.status='waiting'
		  AND EXISTS (SELECT 1 FROM room_players p WHERE p.room_id=r.id AND p.user_id=$1)
		ORDER BY r.created_at DESC
		LIMIT 1`,
		userID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("pending room for %s: %w", userID, models.ErrRoomNotFound)
	}
	if err != nil {
		return nil, models.Transport("find pending room", err)
	}
	return r, nil
}

// updateRoom rewrites the mutable columns of r and returns the stored row.
func updateRoom(ctx context.Context, tx pgx.Tx, r *models.Room) (*models.Room, error) {
	var (
		stateGameID *string
		version     int64
		payload     []byte
		endReason   *string
	)
	if r.GameState != nil {
		stateGameID = &r.GameState.GameID
		version = r.GameState.Version
		payload = r.GameState.Payload
	}
	if r.EndReason != nil {
		reason := string(*r.EndReason)
		endReason = &reason
	}
	return scanRoom(tx.QueryRow(ctx, `
		UPDATE rooms SET status=$2, current_players=$3, winner_id=$4, end_reason=$5,
			state_game_id=$6, state_version=$7, state_payload=$8, started_at=$9, finished_at=$10
		WHERE id=$1
		RETURNING `+roomCols,
		r.ID, string(r.Status), r.CurrentPlayers, r.WinnerID, endReason,
		stateGameID, version, payload, r.StartedAt, r.FinishedAt,
	))
}

func roomUpdated(old, next *models.Room) store.ChangeEvent {
	return store.ChangeEvent{Table: store.TableRooms, Op: store.OpUpdate, RoomID: next.ID, OldRoom: old, Room: next.Clone()}
}

func (s *Store) JoinRoom(ctx context.Context, roomID, userID uuid.UUID) (*models.RoomPlayer, error) {
	var seated *models.RoomPlayer
	err := s.write(ctx, "join room", func(tx pgx.Tx) ([]store.ChangeEvent, error) {
		r, err := lockRoom(ctx, tx, roomID)
		if err != nil {
			return nil, err
		}
		if r.Status != models.StatusWaiting {
			return nil, fmt.Errorf("room %s is %s: %w", roomID, r.Status, models.ErrRoomNotJoinable)
		}
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM room_players WHERE room_id=$1 AND user_id=$2)`, roomID, userID).Scan(&exists); err != nil {
			return nil, err
		}
		if exists {
			return nil, fmt.Errorf("room %s: %w", roomID, models.ErrAlreadySeated)
		}
		if r.IsFull() {
			return nil, fmt.Errorf("room %s: %w", roomID, models.ErrRoomFull)
		}

		seated, err = scanPlayer(tx.QueryRow(ctx, `
			INSERT INTO room_players (room_id, user_id, player_number)
			SELECT $1, $2, MIN(s) FROM generate_series(1, $3::int) s
			WHERE s NOT IN (SELECT player_number FROM room_players WHERE room_id=$1)
			RETURNING `+playerCols,
			roomID, userID, r.MaxPlayers,
		))
		if err != nil {
			return nil, err
		}

		next := r.Clone()
		next.CurrentPlayers++
		stored, err := updateRoom(ctx, tx, next)
		if err != nil {
			return nil, err
		}
		return []store.ChangeEvent{
			{Table: store.TableRoomPlayers, Op: store.OpInsert, RoomID: roomID, Player: seated.Clone()},
			roomUpdated(r, stored),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return seated, nil
}

func (s *Store) LeaveRoom(ctx context.Context, roomID, userID uuid.UUID) error {
	return s.write(ctx, "leave room", func(tx pgx.Tx) ([]store.ChangeEvent, error) {
		r, err := lockRoom(ctx, tx, roomID)
		if err != nil {
			return nil, err
		}
		p, err := lockPlayer(ctx, tx, roomID, userID)
		if err != nil {
			return nil, err
		}

		if r.Status != models.StatusWaiting {
			if !p.IsConnected {
				return nil, nil
			}
			next, err := setConnected(ctx, tx, p, false)
			if err != nil {
				return nil, err
			}
			return []store.ChangeEvent{{Table: store.TableRoomPlayers, Op: store.OpUpdate, RoomID: roomID, OldPlayer: p, Player: next}}, nil
		}

		if _, err := tx.Exec(ctx, `DELETE FROM room_players WHERE room_id=$1 AND user_id=$2`, roomID, userID); err != nil {
			return nil, err
		}
		next := r.Clone()
		next.CurrentPlayers--
		if next.CurrentPlayers == 0 {
			next.Status = models.StatusCancelled
		}
		stored, err := updateRoom(ctx, tx, next)
		if err != nil {
			return nil, err
		}
		return []store.ChangeEvent{
			{Table: store.TableRoomPlayers, Op: store.OpDelete, RoomID: roomID, OldPlayer: p},
			roomUpdated(r, stored),
		}, nil
	})
}

func (s *Store) ListPlayers(ctx context.Context, roomID uuid.UUID) ([]*models.RoomPlayer, error) {
	if _, err := s.GetRoom(ctx, roomID); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `SELECT `+playerCols+` FROM room_players WHERE room_id=$1 ORDER BY player_number`, roomID)
	if err != nil {
		return nil, models.Transport("list players", err)
	}
	defer rows.Close()

	var out []*models.RoomPlayer
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, models.Transport("list players", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, models.Transport("list players", err)
	}
	return out, nil
}

func (s *Store) SetReady(ctx context.Context, roomID, userID uuid.UUID, ready bool) (*models.Room, error) {
	var room *models.Room
	err := s.write(ctx, "set ready", func(tx pgx.Tx) ([]store.ChangeEvent, error) {
		r, err := lockRoom(ctx, tx, roomID)
		if err != nil {
			return nil, err
		}
		if r.Status != models.StatusWaiting {
			return nil, fmt.Errorf("room %s is %s: %w", roomID, r.Status, models.ErrRoomNotJoinable)
		}
		p, err := lockPlayer(ctx, tx, roomID, userID)
		if err != nil {
			return nil, err
		}

		var evs []store.ChangeEvent
		if p.IsReady != ready {
			next, err := scanPlayer(tx.QueryRow(ctx, `
				UPDATE room_players SET is_ready=$3 WHERE room_id=$1 AND user_id=$2
				RETURNING `+playerCols,
				roomID, userID, ready,
			))
			if err != nil {
				return nil, err
			}
			evs = append(evs, store.ChangeEvent{Table: store.TableRoomPlayers, Op: store.OpUpdate, RoomID: roomID, OldPlayer: p, Player: next})
		}

		var notReady int
		if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM room_players WHERE room_id=$1 AND NOT is_ready`, roomID).Scan(&notReady); err != nil {
			return nil, err
		}
		room = r
		if r.IsFull() && notReady == 0 {
			next := r.Clone()
			now := time.Now()
			next.Status = models.StatusPlaying
			next.StartedAt = &now
			room, err = updateRoom(ctx, tx, next)
			if err != nil {
				return nil, err
			}
			evs = append(evs, roomUpdated(r, room))
		}
		return evs, nil
	})
	if err != nil {
		return nil, err
	}
	return room, nil
}

func setConnected(ctx context.Context, tx pgx.Tx, p *models.RoomPlayer, connected bool) (*models.RoomPlayer, error) {
	return scanPlayer(tx.QueryRow(ctx, `
		UPDATE room_players
		SET is_connected=$3, disconnected_at=CASE WHEN $3 THEN NULL ELSE NOW() END
		WHERE room_id=$1 AND user_id=$2
		RETURNING `+playerCols,
		p.RoomID, p.UserID, connected,
	))
}

func (s *Store) SetConnected(ctx context.Context, roomID, userID uuid.UUID, connected bool) error {
	return s.write(ctx, "set connected", func(tx pgx.Tx) ([]store.ChangeEvent, error) {
		if _, err := lockRoom(ctx, tx, roomID); err != nil {
			return nil, err
		}
		p, err := lockPlayer(ctx, tx, roomID, userID)
		if err != nil {
			return nil, err
		}
		if p.IsConnected == connected {
			return nil, nil
		}
		next, err := setConnected(ctx, tx, p, connected)
		if err != nil {
			return nil, err
		}
		return []store.ChangeEvent{{Table: store.TableRoomPlayers, Op: store.OpUpdate, RoomID: roomID, OldPlayer: p, Player: next}}, nil
	})
}

func (s *Store) UpdateGameState(ctx context.Context, roomID uuid.UUID, gameID string, payload json.RawMessage, expectedVersion int64) (*models.GameState, error) {
	var gs *models.GameState
	err := s.write(ctx, "update game state", func(tx pgx.Tx) ([]store.ChangeEvent, error) {
		r, err := lockRoom(ctx, tx, roomID)
		if err != nil {
			return nil, err
		}
		if r.Status != models.StatusPlaying {
			return nil, fmt.Errorf("room %s is %s: %w", roomID, r.Status, models.ErrRoomNotActive)
		}
		if r.StateVersion() != expectedVersion {
			return nil, fmt.Errorf("room %s at version %d, expected %d: %w", roomID, r.StateVersion(), expectedVersion, models.ErrStaleVersion)
		}
		next := r.Clone()
		next.GameState = &models.GameState{GameID: gameID, Version: expectedVersion + 1, Payload: payload}
		stored, err := updateRoom(ctx, tx, next)
		if err != nil {
			return nil, err
		}
		gs = stored.GameState.Clone()
		return []store.ChangeEvent{roomUpdated(r, stored)}, nil
	})
	if err != nil {
		return nil, err
	}
	return gs, nil
}

func (s *Store) FinishRoom(ctx context.Context, roomID uuid.UUID, req models.FinishRequest) (*models.Room, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	var room *models.Room
	err := s.write(ctx, "finish room", func(tx pgx.Tx) ([]store.ChangeEvent, error) {
		r, err := lockRoom(ctx, tx, roomID)
		if err != nil {
			return nil, err
		}
		if !r.Status.CanTransitionTo(models.StatusFinished) {
			return nil, fmt.Errorf("room %s %s -> finished: %w", roomID, r.Status, models.ErrInvalidTransition)
		}
		if req.WinnerID != nil {
			_, err := lockPlayer(ctx, tx, roomID, *req.WinnerID)
			if errors.Is(err, models.ErrPlayerNotFound) {
				return nil, models.Validationf("finish room", "winner %s is not seated in room %s", *req.WinnerID, roomID)
			}
			if err != nil {
				return nil, err
			}
		}
		next := r.Clone()
		now := time.Now()
		reason := req.Reason
		next.Status = models.StatusFinished
		next.FinishedAt = &now
		next.EndReason = &reason
		next.WinnerID = req.WinnerID
		room, err = updateRoom(ctx, tx, next)
		if err != nil {
			return nil, err
		}
		return []store.ChangeEvent{roomUpdated(r, room)}, nil
	})
	if err != nil {
		return nil, err
	}
	return room, nil
}

func (s *Store) CancelRoom(ctx context.Context, roomID uuid.UUID) error {
	return s.write(ctx, "cancel room", func(tx pgx.Tx) ([]store.ChangeEvent, error) {
		r, err := lockRoom(ctx, tx, roomID)
		if err != nil {
			return nil, err
		}
		if r.Status == models.StatusCancelled {
			return nil, nil
		}
		if !r.Status.CanTransitionTo(models.StatusCancelled) {
			return nil, fmt.Errorf("room %s %s -> cancelled: %w", roomID, r.Status, models.ErrInvalidTransition)
		}
		next := r.Clone()
		next.Status = models.StatusCancelled
		stored, err := updateRoom(ctx, tx, next)
		if err != nil {
			return nil, err
		}
		return []store.ChangeEvent{roomUpdated(r, stored)}, nil
	})
}

func (s *Store) AppendAction(ctx context.Context, a *models.GameAction) (*models.GameAction, error) {
	if !a.Kind.Valid() {
		return nil, models.Validationf("append action", "unknown action kind %q", a.Kind)
	}
	var payload []byte
	if len(a.Payload) > 0 {
		payload = a.Payload
	}
	var stored *models.GameAction
	err := s.write(ctx, "append action", func(tx pgx.Tx) ([]store.ChangeEvent, error) {
		var err error
		stored, err = scanAction(tx.QueryRow(ctx, `
			INSERT INTO game_actions (room_id, user_id, kind, payload)
			VALUES ($1, $2, $3, $4)
			RETURNING `+actionCols,
			a.RoomID, a.UserID, string(a.Kind), payload,
		))
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23503" {
				return nil, fmt.Errorf("room %s: %w", a.RoomID, models.ErrRoomNotFound)
			}
			return nil, err
		}
		out := *stored
		return []store.ChangeEvent{{Table: store.TableGameActions, Op: store.OpInsert, RoomID: a.RoomID, Action: &out}}, nil
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

func (s *Store) ListActions(ctx context.Context, roomID uuid.UUID) ([]*models.GameAction, error) {
	if _, err := s.GetRoom(ctx, roomID); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `SELECT `+actionCols+` FROM game_actions WHERE room_id=$1 ORDER BY id`, roomID)
	if err != nil {
		return nil, models.Transport("list actions", err)
	}
	defer rows.Close()

	var out []*models.GameAction
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, models.Transport("list actions", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, models.Transport("list actions", err)
	}
	return out, nil
}

func (s *Store) ReapStaleRooms(ctx context.Context, cutoff time.Time) (store.ReapResult, error) {
	var res store.ReapResult
	err := s.write(ctx, "reap stale rooms", func(tx pgx.Tx) ([]store.ChangeEvent, error) {
		rows, err := tx.Query(ctx, `
			UPDATE rooms SET status='cancelled'
			WHERE status='waiting' AND created_at < $1
			RETURNING `+roomCols,
			cutoff,
		)
		if err != nil {
			return nil, err
		}
		cancelled, err := collectRooms(rows)
		if err != nil {
			return nil, err
		}

		rows, err = tx.Query(ctx, `
			UPDATE rooms r SET status='finished', finished_at=NOW(), end_reason='timeout'
			WHERE r.status='playing'
			  AND EXISTS (SELECT 1 FROM room_players p WHERE p.room_id=r.id)
			  AND NOT EXISTS (
				SELECT 1 FROM room_players p
				WHERE p.room_id=r.id
				  AND (p.is_connected OR p.disconnected_at IS NULL OR p.disconnected_at >= $1)
			  )
			RETURNING `+roomCols,
			cutoff,
		)
		if err != nil {
			return nil, err
		}
		abandoned, err := collectRooms(rows)
		if err != nil {
			return nil, err
		}

		var evs []store.ChangeEvent
		for _, r := range cancelled {
			old := r.Clone()
			old.Status = models.StatusWaiting
			evs = append(evs, roomUpdated(old, r))
			res.Cancelled = append(res.Cancelled, r.ID)
		}
		for _, r := range abandoned {
			old := r.Clone()
			old.Status = models.StatusPlaying
			old.FinishedAt = nil
			old.EndReason = nil
			evs = append(evs, roomUpdated(old, r))
			res.Abandoned = append(res.Abandoned, r.ID)
		}
		return evs, nil
	})
	return res, err
}

func (s *Store) Subscribe(ctx context.Context, roomID uuid.UUID) (<-chan store.ChangeEvent, error) {
	ch, err := s.notifier.Listen(ctx, roomID)
	if err != nil {
		return nil, models.Transport("subscribe", err)
	}
	return ch, nil
}
