// Package realtime turns a room's change stream into typed callbacks for one player.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jason-s-yu/tabletop/internal/models"
	"github.com/jason-s-yu/tabletop/internal/store"
	"github.com/sirupsen/logrus"
)

// Handlers are invoked from a single goroutine per client, in the order the store
// committed the changes. Nil handlers are skipped. OnPlayerDisconnect fires when a
// seated player drops without giving up the seat; a reconnect comes through OnPlayerJoin.
type Handlers struct {
	OnPlayerJoin       func(p *models.RoomPlayer)
	OnPlayerLeave      func(p *models.RoomPlayer)
	OnPlayerDisconnect func(p *models.RoomPlayer)
	OnPlayerReady      func(p *models.RoomPlayer)
	OnGameStart        func(room *models.Room)
	OnGameStateUpdate  func(gs *models.GameState)
	OnAction           func(a *models.GameAction)
	OnGameEnd          func(winnerID *uuid.UUID, reason models.EndReason)
	OnRoomCancelled    func(room *models.Room)
	OnError            func(err error)
}

// Client is one player's view of one room.
type Client struct {
	store  store.RoomStore
	roomID uuid.UUID
	userID uuid.UUID
	h      Handlers
	log    logrus.FieldLogger

	mu          sync.Mutex
	started     bool
	ended       bool
	lastVersion int64

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// NewClient prepares a client; nothing happens until Connect.
func NewClient(rs store.RoomStore, roomID, userID uuid.UUID, h Handlers, log logrus.FieldLogger) *Client {
	return &Client{
		store:  rs,
		roomID: roomID,
		userID: userID,
		h:      h,
		log:    log.WithFields(logrus.Fields{"room_id": roomID, "user_id": userID}),
		done:   make(chan struct{}),
	}
}

// RoomID returns the room this client follows.
func (c *Client) RoomID() uuid.UUID { return c.roomID }

// Connect subscribes to the room and takes a snapshot. The snapshot is replayed
// through the handlers before any later change, so a room already in play still
// produces OnGameStart. The subscription outlives ctx; it ends with Disconnect.
func (c *Client) Connect(ctx context.Context) (*models.Room, error) {
	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	ch, err := c.store.Subscribe(subCtx, c.roomID)
	if err != nil {
		cancel()
		return nil, asTransport("subscribe", err)
	}
	room, err := c.store.GetRoom(ctx, c.roomID)
	if err != nil {
		cancel()
		return nil, err
	}
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	go c.run(subCtx, room.Clone(), ch)
	return room, nil
}

// Done is closed once the dispatch goroutine of a connected client exits.
func (c *Client) Done() <-chan struct{} { return c.done }

// Disconnect stops the subscription. Safe to call more than once and from a handler.
func (c *Client) Disconnect() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		cancel := c.cancel
		c.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	})
}

// SendAction appends an action authored by this client's user.
func (c *Client) SendAction(ctx context.Context, kind models.ActionKind, payload any) (*models.GameAction, error) {
	raw, err := encodePayload(payload)
	if err != nil {
		return nil, models.Validationf("send action", "encode payload: %v", err)
	}
	uid := c.userID
	a, err := c.store.AppendAction(ctx, &models.GameAction{
		RoomID:  c.roomID,
		UserID:  &uid,
		Kind:    kind,
		Payload: raw,
	})
	if err != nil {
		return nil, asTransport("send action", err)
	}
	return a, nil
}

// UpdateGameState overwrites the room's game state if the stored version is still
// expectedVersion. The echo of an accepted write is not delivered back.
func (c *Client) UpdateGameState(ctx context.Context, gameID string, payload json.RawMessage, expectedVersion int64) (*models.GameState, error) {
	gs, err := c.store.UpdateGameState(ctx, c.roomID, gameID, payload, expectedVersion)
	if err != nil {
		return nil, asTransport("update game state", err)
	}
	c.mu.Lock()
	if gs.Version > c.lastVersion {
		c.lastVersion = gs.Version
	}
	c.mu.Unlock()
	return gs, nil
}

func encodePayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	case []byte:
		return json.RawMessage(p), nil
	}
	return json.Marshal(payload)
}

// asTransport keeps classified errors and marks everything else as a transport failure.
func asTransport(op string, err error) error {
	if models.KindOf(err) != models.KindUnknown {
		return err
	}
	return models.Transport(op, err)
}

func (c *Client) run(ctx context.Context, snapshot *models.Room, ch <-chan store.ChangeEvent) {
	defer close(c.done)

	c.room(snapshot)
	for ev := range ch {
		c.dispatch(ev)
	}
	if ctx.Err() == nil {
		c.fail(models.Transport("subscription", errors.New("change stream closed")))
	}
}

func (c *Client) fail(err error) {
	c.log.WithError(err).Warn("realtime error")
	if c.h.OnError != nil {
		c.h.OnError(err)
	}
}

func (c *Client) dispatch(ev store.ChangeEvent) {
	switch ev.Table {
	case store.TableRooms:
		if ev.Room != nil {
			c.room(ev.Room)
		}
	case store.TableRoomPlayers:
		c.player(ev)
	case store.TableGameActions:
		c.action(ev.Action)
	default:
		c.fail(models.NewError(models.KindUnknown, "dispatch", fmt.Errorf("unexpected table %q", ev.Table)))
	}
}

// room derives start, state and end notifications from a room row.
func (c *Client) room(r *models.Room) {
	c.mu.Lock()
	fireStart := false
	if r.Status == models.StatusPlaying && !c.started {
		c.started = true
		fireStart = true
	}
	var gs *models.GameState
	if r.GameState != nil && r.GameState.Version > c.lastVersion {
		c.lastVersion = r.GameState.Version
		gs = r.GameState.Clone()
	}
	fireEnd := false
	if r.Status == models.StatusFinished && !c.ended {
		c.ended = true
		fireEnd = true
	}
	c.mu.Unlock()

	if fireStart && c.h.OnGameStart != nil {
		c.h.OnGameStart(r.Clone())
	}
	if gs != nil && c.h.OnGameStateUpdate != nil {
		c.h.OnGameStateUpdate(gs)
	}
	if fireEnd && c.h.OnGameEnd != nil {
		reason := models.ReasonWin
		if r.EndReason != nil {
			reason = *r.EndReason
		}
		c.h.OnGameEnd(r.WinnerID, reason)
	}
	if r.Status == models.StatusCancelled && c.h.OnRoomCancelled != nil {
		c.h.OnRoomCancelled(r.Clone())
	}
}

func (c *Client) player(ev store.ChangeEvent) {
	switch ev.Op {
	case store.OpInsert:
		if c.h.OnPlayerJoin != nil && ev.Player != nil {
			c.h.OnPlayerJoin(ev.Player)
		}
	case store.OpDelete:
		if c.h.OnPlayerLeave != nil && ev.OldPlayer != nil {
			c.h.OnPlayerLeave(ev.OldPlayer)
		}
	case store.OpUpdate:
		p, old := ev.Player, ev.OldPlayer
		if p == nil || old == nil {
			return
		}
		if p.IsReady != old.IsReady && c.h.OnPlayerReady != nil {
			c.h.OnPlayerReady(p)
		}
		if old.IsConnected && !p.IsConnected && c.h.OnPlayerDisconnect != nil {
			c.h.OnPlayerDisconnect(p)
		}
		if !old.IsConnected && p.IsConnected && c.h.OnPlayerJoin != nil {
			c.h.OnPlayerJoin(p)
		}
	}
}

func (c *Client) action(a *models.GameAction) {
	if a == nil {
		return
	}
	if a.UserID != nil && *a.UserID == c.userID {
		return
	}
	if c.h.OnAction != nil {
		c.h.OnAction(a)
	}
}
