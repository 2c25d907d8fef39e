package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/tabletop/internal/models"
)

// Memory is an in-process RoomStore. It backs tests, local simulation and
// single-node deployments without Postgres.
type Memory struct {
	mu         sync.Mutex
	rooms      map[uuid.UUID]*models.Room
	players    map[uuid.UUID][]*models.RoomPlayer
	actions    map[uuid.UUID][]*models.GameAction
	nextAction int64

	fanout *Fanout
	now    func() time.Time
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		rooms:   make(map[uuid.UUID]*models.Room),
		players: make(map[uuid.UUID][]*models.RoomPlayer),
		actions: make(map[uuid.UUID][]*models.GameAction),
		fanout:  NewFanout(),
		now:     time.Now,
	}
}

// SetClock overrides the time source. Intended for tests.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *Memory) publish(ev ChangeEvent) {
	m.fanout.Publish(ev)
}

func (m *Memory) roomLocked(roomID uuid.UUID) (*models.Room, error) {
	r, ok := m.rooms[roomID]
	if !ok {
		return nil, fmt.Errorf("room %s: %w", roomID, models.ErrRoomNotFound)
	}
	return r, nil
}

func (m *Memory) seatOfLocked(roomID, userID uuid.UUID) (int, *models.RoomPlayer) {
	for i, p := range m.players[roomID] {
		if p.UserID == userID {
			return i, p
		}
	}
	return -1, nil
}

// updateRoomLocked applies mutate to the room and publishes the before/after pair.
func (m *Memory) updateRoomLocked(r *models.Room, mutate func(*models.Room)) {
	old := r.Clone()
	mutate(r)
	m.publish(ChangeEvent{Table: TableRooms, Op: OpUpdate, RoomID: r.ID, OldRoom: old, Room: r.Clone()})
}

func (m *Memory) CreateRoom(ctx context.Context, p CreateRoomParams) (*models.Room, error) {
	if p.MaxPlayers < 1 {
		return nil, models.Validationf("create room", "max players must be positive")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if p.RoomCode != nil {
		for _, r := range m.rooms {
			if r.Status == models.StatusWaiting && r.RoomCode != nil && *r.RoomCode == *p.RoomCode {
				return nil, fmt.Errorf("code %s: %w", *p.RoomCode, models.ErrCodeCollision)
			}
		}
	}

	now := m.now()
	room := &models.Room{
		ID:             uuid.New(),
		GameID:         p.GameID,
		Mode:           p.Mode,
		Status:         models.StatusWaiting,
		MaxPlayers:     p.MaxPlayers,
		CurrentPlayers: 1,
		CreatedBy:      p.CreatedBy,
		CreatedAt:      now,
	}
	if p.RoomCode != nil {
		code := *p.RoomCode
		room.RoomCode = &code
	}
	creator := &models.RoomPlayer{
		RoomID:       room.ID,
		UserID:       p.CreatedBy,
		PlayerNumber: 1,
		IsConnected:  true,
		JoinedAt:     now,
	}
	m.rooms[room.ID] = room
	m.players[room.ID] = []*models.RoomPlayer{creator}

	m.publish(ChangeEvent{Table: TableRooms, Op: OpInsert, RoomID: room.ID, Room: room.Clone()})
	m.publish(ChangeEvent{Table: TableRoomPlayers, Op: OpInsert, RoomID: room.ID, Player: creator.Clone()})
	return room.Clone(), nil
}

func (m *Memory) GetRoom(ctx context.Context, roomID uuid.UUID) (*models.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, err := m.roomLocked(roomID)
	if err != nil {
		return nil, err
	}
	return r.Clone(), nil
}

func (m *Memory) FindOpenRooms(ctx context.Context, gameID string, mode models.GameMode, userID uuid.UUID, limit int) ([]*models.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*models.Room
	for _, r := range m.rooms {
		if r.GameID != gameID || r.Mode != mode || r.Status != models.StatusWaiting || r.IsPrivate() || r.IsFull() {
			continue
		}
		if i, _ := m.seatOfLocked(r.ID, userID); i >= 0 {
			continue
		}
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) FindRoomByCode(ctx context.Context, code string) (*models.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// a code is only unique among waiting rooms, so prefer those
	var fallback *models.Room
	for _, r := range m.rooms {
		if r.RoomCode == nil || !strings.EqualFold(*r.RoomCode, code) {
			continue
		}
		if r.Status == models.StatusWaiting {
			return r.Clone(), nil
		}
		if fallback == nil || r.CreatedAt.After(fallback.CreatedAt) {
			fallback = r
		}
	}
	if fallback != nil {
		return fallback.Clone(), nil
	}
	return nil, fmt.Errorf("code %s: %w", code, models.ErrRoomNotFound)
}

func (m *Memory) FindPendingRoom(ctx context.Context, userID uuid.UUID) (*models.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var found *models.Room
	for _, r := range m.rooms {
		if r.Status != models.StatusWaiting {
			continue
		}
		if i, _ := m.seatOfLocked(r.ID, userID); i < 0 {
			continue
		}
		if found == nil || r.CreatedAt.After(found.CreatedAt) {
			found = r
		}
	}
	if found == nil {
		return nil, fmt.Errorf("pending room for %s: %w", userID, models.ErrRoomNotFound)
	}
	return found.Clone(), nil
}

func (m *Memory) JoinRoom(ctx context.Context, roomID, userID uuid.UUID) (*models.RoomPlayer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, err := m.roomLocked(roomID)
	if err != nil {
		return nil, err
	}
	if r.Status != models.StatusWaiting {
		return nil, fmt.Errorf("room %s is %s: %w", roomID, r.Status, models.ErrRoomNotJoinable)
	}
	if i, _ := m.seatOfLocked(roomID, userID); i >= 0 {
		return nil, fmt.Errorf("room %s: %w", roomID, models.ErrAlreadySeated)
	}
	if r.IsFull() {
		return nil, fmt.Errorf("room %s: %w", roomID, models.ErrRoomFull)
	}

	taken := make(map[int]bool, len(m.players[roomID]))
	for _, p := range m.players[roomID] {
		taken[p.PlayerNumber] = true
	}
	seat := 1
	for taken[seat] {
		seat++
	}

	p := &models.RoomPlayer{
		RoomID:       roomID,
		UserID:       userID,
		PlayerNumber: seat,
		IsConnected:  true,
		JoinedAt:     m.now(),
	}
	m.players[roomID] = append(m.players[roomID], p)
	m.publish(ChangeEvent{Table: TableRoomPlayers, Op: OpInsert, RoomID: roomID, Player: p.Clone()})
	m.updateRoomLocked(r, func(r *models.Room) { r.CurrentPlayers++ })
	return p.Clone(), nil
}

func (m *Memory) LeaveRoom(ctx context.Context, roomID, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, err := m.roomLocked(roomID)
	if err != nil {
		return err
	}
	i, p := m.seatOfLocked(roomID, userID)
	if i < 0 {
		return fmt.Errorf("room %s user %s: %w", roomID, userID, models.ErrPlayerNotFound)
	}

	if r.Status != models.StatusWaiting {
		if !p.IsConnected {
			return nil
		}
		old := p.Clone()
		now := m.now()
		p.IsConnected = false
		p.DisconnectedAt = &now
		m.publish(ChangeEvent{Table: TableRoomPlayers, Op: OpUpdate, RoomID: roomID, OldPlayer: old, Player: p.Clone()})
		return nil
	}

	m.players[roomID] = append(m.players[roomID][:i:i], m.players[roomID][i+1:]...)
	m.publish(ChangeEvent{Table: TableRoomPlayers, Op: OpDelete, RoomID: roomID, OldPlayer: p.Clone()})
	m.updateRoomLocked(r, func(r *models.Room) {
		r.CurrentPlayers--
		if r.CurrentPlayers == 0 {
			r.Status = models.StatusCancelled
		}
	})
	return nil
}

func (m *Memory) ListPlayers(ctx context.Context, roomID uuid.UUID) ([]*models.RoomPlayer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.roomLocked(roomID); err != nil {
		return nil, err
	}
	out := make([]*models.RoomPlayer, 0, len(m.players[roomID]))
	for _, p := range m.players[roomID] {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PlayerNumber < out[j].PlayerNumber })
	return out, nil
}

func (m *Memory) SetReady(ctx context.Context, roomID, userID uuid.UUID, ready bool) (*models.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, err := m.roomLocked(roomID)
	if err != nil {
		return nil, err
	}
	if r.Status != models.StatusWaiting {
		return nil, fmt.Errorf("room %s is %s: %w", roomID, r.Status, models.ErrRoomNotJoinable)
	}
	i, p := m.seatOfLocked(roomID, userID)
	if i < 0 {
		return nil, fmt.Errorf("room %s user %s: %w", roomID, userID, models.ErrPlayerNotFound)
	}
	if p.IsReady != ready {
		old := p.Clone()
		p.IsReady = ready
		m.publish(ChangeEvent{Table: TableRoomPlayers, Op: OpUpdate, RoomID: roomID, OldPlayer: old, Player: p.Clone()})
	}

	if r.IsFull() && allReady(m.players[roomID]) {
		now := m.now()
		m.updateRoomLocked(r, func(r *models.Room) {
			r.Status = models.StatusPlaying
			r.StartedAt = &now
		})
	}
	return r.Clone(), nil
}

func allReady(ps []*models.RoomPlayer) bool {
	for _, p := range ps {
		if !p.IsReady {
			return false
		}
	}
	return len(ps) > 0
}

func (m *Memory) SetConnected(ctx context.Context, roomID, userID uuid.UUID, connected bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.roomLocked(roomID); err != nil {
		return err
	}
	i, p := m.seatOfLocked(roomID, userID)
	if i < 0 {
		return fmt.Errorf("room %s user %s: %w", roomID, userID, models.ErrPlayerNotFound)
	}
	if p.IsConnected == connected {
		return nil
	}
	old := p.Clone()
	p.IsConnected = connected
	if connected {
		p.DisconnectedAt = nil
	} else {
		now := m.now()
		p.DisconnectedAt = &now
	}
	m.publish(ChangeEvent{Table: TableRoomPlayers, Op: OpUpdate, RoomID: roomID, OldPlayer: old, Player: p.Clone()})
	return nil
}

func (m *Memory) UpdateGameState(ctx context.Context, roomID uuid.UUID, gameID string, payload json.RawMessage, expectedVersion int64) (*models.GameState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, err := m.roomLocked(roomID)
	if err != nil {
		return nil, err
	}
	if r.Status != models.StatusPlaying {
		return nil, fmt.Errorf("room %s is %s: %w", roomID, r.Status, models.ErrRoomNotActive)
	}
	if r.StateVersion() != expectedVersion {
		return nil, fmt.Errorf("room %s at version %d, expected %d: %w", roomID, r.StateVersion(), expectedVersion, models.ErrStaleVersion)
	}
	gs := &models.GameState{
		GameID:  gameID,
		Version: expectedVersion + 1,
		Payload: append(json.RawMessage(nil), payload...),
	}
	m.updateRoomLocked(r, func(r *models.Room) { r.GameState = gs })
	return gs.Clone(), nil
}

func (m *Memory) FinishRoom(ctx context.Context, roomID uuid.UUID, req models.FinishRequest) (*models.Room, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	r, err := m.roomLocked(roomID)
	if err != nil {
		return nil, err
	}
	if !r.Status.CanTransitionTo(models.StatusFinished) {
		return nil, fmt.Errorf("room %s %s -> finished: %w", roomID, r.Status, models.ErrInvalidTransition)
	}
	if req.WinnerID != nil {
		if _, p := m.seatOfLocked(roomID, *req.WinnerID); p == nil {
			return nil, models.Validationf("finish room", "winner %s is not seated in room %s", *req.WinnerID, roomID)
		}
	}
	now := m.now()
	reason := req.Reason
	m.updateRoomLocked(r, func(r *models.Room) {
		r.Status = models.StatusFinished
		r.FinishedAt = &now
		r.EndReason = &reason
		if req.WinnerID != nil {
			w := *req.WinnerID
			r.WinnerID = &w
		}
	})
	return r.Clone(), nil
}

func (m *Memory) CancelRoom(ctx context.Context, roomID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, err := m.roomLocked(roomID)
	if err != nil {
		return err
	}
	if r.Status == models.StatusCancelled {
		return nil
	}
	if !r.Status.CanTransitionTo(models.StatusCancelled) {
		return fmt.Errorf("room %s %s -> cancelled: %w", roomID, r.Status, models.ErrInvalidTransition)
	}
	m.updateRoomLocked(r, func(r *models.Room) { r.Status = models.StatusCancelled })
	return nil
}

func (m *Memory) AppendAction(ctx context.Context, a *models.GameAction) (*models.GameAction, error) {
	if !a.Kind.Valid() {
		return nil, models.Validationf("append action", "unknown action kind %q", a.Kind)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.roomLocked(a.RoomID); err != nil {
		return nil, err
	}
	m.nextAction++
	stored := *a
	stored.ID = m.nextAction
	stored.CreatedAt = m.now()
	stored.Payload = append(json.RawMessage(nil), a.Payload...)
	m.actions[a.RoomID] = append(m.actions[a.RoomID], &stored)

	out := stored
	m.publish(ChangeEvent{Table: TableGameActions, Op: OpInsert, RoomID: a.RoomID, Action: &out})
	res := stored
	return &res, nil
}

func (m *Memory) ListActions(ctx context.Context, roomID uuid.UUID) ([]*models.GameAction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.roomLocked(roomID); err != nil {
		return nil, err
	}
	out := make([]*models.GameAction, 0, len(m.actions[roomID]))
	for _, a := range m.actions[roomID] {
		c := *a
		out = append(out, &c)
	}
	return out, nil
}

func (m *Memory) ReapStaleRooms(ctx context.Context, cutoff time.Time) (ReapResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res ReapResult
	for id, r := range m.rooms {
		switch r.Status {
		case models.StatusWaiting:
			if r.CreatedAt.Before(cutoff) {
				m.updateRoomLocked(r, func(r *models.Room) { r.Status = models.StatusCancelled })
				res.Cancelled = append(res.Cancelled, id)
			}
		case models.StatusPlaying:
			if !allGoneBefore(m.players[id], cutoff) {
				continue
			}
			now := m.now()
			reason := models.ReasonTimeout
			m.updateRoomLocked(r, func(r *models.Room) {
				r.Status = models.StatusFinished
				r.FinishedAt = &now
				r.EndReason = &reason
			})
			res.Abandoned = append(res.Abandoned, id)
		}
	}
	return res, nil
}

func allGoneBefore(ps []*models.RoomPlayer, cutoff time.Time) bool {
	for _, p := range ps {
		if p.IsConnected || p.DisconnectedAt == nil || !p.DisconnectedAt.Before(cutoff) {
			return false
		}
	}
	return len(ps) > 0
}

func (m *Memory) Subscribe(ctx context.Context, roomID uuid.UUID) (<-chan ChangeEvent, error) {
	return m.fanout.Subscribe(ctx, roomID), nil
}
