package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/jason-s-yu/tabletop/internal/middleware"
	"github.com/jason-s-yu/tabletop/internal/models"
	"github.com/jason-s-yu/tabletop/internal/rating"
	"github.com/jason-s-yu/tabletop/internal/store"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// RoomSubprotocol must be offered by websocket clients.
const RoomSubprotocol = "tabletop.room"

// ClientMessage is a request sent over the room websocket. Ref is echoed in the reply.
type ClientMessage struct {
	Type            string            `json:"type"`
	Ref             string            `json:"ref,omitempty"`
	Ready           bool              `json:"ready,omitempty"`
	Kind            models.ActionKind `json:"kind,omitempty"`
	GameID          string            `json:"game_id,omitempty"`
	Payload         json.RawMessage   `json:"payload,omitempty"`
	ExpectedVersion int64             `json:"expected_version,omitempty"`
	WinnerID        *uuid.UUID        `json:"winner_id,omitempty"`
	Reason          models.EndReason  `json:"reason,omitempty"`
}

// ServerMessage is pushed to websocket clients: a snapshot on connect, then one
// event per committed change, plus replies to client requests.
type ServerMessage struct {
	Type    string               `json:"type"`
	Ref     string               `json:"ref,omitempty"`
	Room    *models.Room         `json:"room,omitempty"`
	Players []*models.RoomPlayer `json:"players,omitempty"`
	Event   *store.ChangeEvent   `json:"event,omitempty"`
	State   *models.GameState    `json:"state,omitempty"`
	Action  *models.GameAction   `json:"action,omitempty"`
	Error   string               `json:"error,omitempty"`
	Kind    models.ErrorKind     `json:"kind,omitempty"`
}

const disconnectTimeout = 5 * time.Second

// Each connection may send a burst of 10 requests, refilled at one per 100ms.
const (
	requestInterval = 100 * time.Millisecond
	requestBurst    = 10
)

// RoomWSHandler relays a room's change stream to a seated player and applies the
// writes they send back.
func (a *API) RoomWSHandler(w http.ResponseWriter, r *http.Request) {
	roomID, err := roomIDParam(r)
	if err != nil {
		writeError(w, a.log, err)
		return
	}
	u := middleware.UserFromContext(r.Context())
	if _, err := a.store.GetRoom(r.Context(), roomID); err != nil {
		writeError(w, a.log, err)
		return
	}
	_, me, err := a.seatOf(r.Context(), roomID, u.ID)
	if err != nil {
		writeError(w, a.log, err)
		return
	}
	if me == nil {
		writeError(w, a.log, fmt.Errorf("room %s: %w", roomID, models.ErrPlayerNotFound))
		return
	}

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{RoomSubprotocol},
		OriginPatterns: a.originPatterns,
	})
	if err != nil {
		a.log.WithError(err).Warn("websocket accept error")
		return
	}
	defer c.CloseNow()

	if c.Subprotocol() != RoomSubprotocol {
		c.Close(BadSubprotocolError, "client must speak the "+RoomSubprotocol+" subprotocol")
		return
	}

	log := a.log.WithFields(logrus.Fields{"room_id": roomID, "user_id": u.ID, "seat": me.PlayerNumber})
	middleware.LogWebSocketConnect(log, r.RemoteAddr, r.URL.Path)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, err := a.store.Subscribe(ctx, roomID)
	if err != nil {
		log.WithError(err).Warn("subscribe failed")
		c.Close(SubscriptionLostError, "subscribe failed")
		return
	}
	if err := a.store.SetConnected(ctx, roomID, u.ID, true); err != nil {
		log.WithError(err).Warn("failed to mark connected")
	}
	defer func() {
		dctx, dcancel := context.WithTimeout(context.Background(), disconnectTimeout)
		defer dcancel()
		err := a.store.SetConnected(dctx, roomID, u.ID, false)
		if err != nil && !errors.Is(err, models.ErrPlayerNotFound) {
			log.WithError(err).Warn("failed to mark disconnected")
		}
	}()

	room, err := a.store.GetRoom(ctx, roomID)
	if err != nil {
		c.Close(InvalidRoomIDError, "room disappeared")
		return
	}
	players, err := a.store.ListPlayers(ctx, roomID)
	if err != nil {
		c.Close(SubscriptionLostError, "could not read seats")
		return
	}
	if err := wsjson.Write(ctx, c, ServerMessage{Type: "snapshot", Room: room, Players: players}); err != nil {
		return
	}

	go a.relay(ctx, cancel, c, events, log)

	err = a.readLoop(ctx, c, roomID, u.ID)
	middleware.LogWebSocketDisconnect(log, r.RemoteAddr, r.URL.Path, err)
}

// relay forwards change events until the stream ends.
func (a *API) relay(ctx context.Context, cancel context.CancelFunc, c *websocket.Conn, events <-chan store.ChangeEvent, log logrus.FieldLogger) {
	defer cancel()
	for ev := range events {
		if err := wsjson.Write(ctx, c, ServerMessage{Type: "event", Event: &ev}); err != nil {
			log.WithError(err).Debug("relay write failed")
			return
		}
	}
	if ctx.Err() == nil {
		c.Close(SubscriptionLostError, "change stream closed")
	}
}

func (a *API) readLoop(ctx context.Context, c *websocket.Conn, roomID, userID uuid.UUID) error {
	l := rate.NewLimiter(rate.Every(requestInterval), requestBurst)
	for {
		if err := l.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		var msg ClientMessage
		if err := wsjson.Read(ctx, c, &msg); err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		reply, done := a.handleMessage(ctx, roomID, userID, msg)
		reply.Ref = msg.Ref
		if err := wsjson.Write(ctx, c, reply); err != nil {
			return err
		}
		if done {
			c.Close(websocket.StatusNormalClosure, "left room")
			return nil
		}
	}
}

// handleMessage applies one client request. done reports that the player left.
func (a *API) handleMessage(ctx context.Context, roomID, userID uuid.UUID, msg ClientMessage) (reply ServerMessage, done bool) {
	var err error
	reply = ServerMessage{Type: "ok"}

	switch msg.Type {
	case "ping":
		reply.Type = "pong"
	case "ready":
		_, err = a.store.SetReady(ctx, roomID, userID, msg.Ready)
	case "action":
		uid := userID
		reply.Action, err = a.store.AppendAction(ctx, &models.GameAction{
			RoomID:  roomID,
			UserID:  &uid,
			Kind:    msg.Kind,
			Payload: msg.Payload,
		})
	case "state":
		reply.State, err = a.store.UpdateGameState(ctx, roomID, msg.GameID, msg.Payload, msg.ExpectedVersion)
	case "finish":
		reply.Room, err = a.store.FinishRoom(ctx, roomID, models.FinishRequest{WinnerID: msg.WinnerID, Reason: msg.Reason})
		if err == nil {
			a.recordMatch(ctx, reply.Room)
		}
	case "leave":
		err = a.store.LeaveRoom(ctx, roomID, userID)
		done = err == nil
	default:
		err = models.Validationf("websocket", "unknown message type %q", msg.Type)
	}

	if err != nil {
		reply = ServerMessage{Type: "error", Error: err.Error(), Kind: models.KindOf(err)}
		if reply.Kind == models.KindTransport || reply.Kind == models.KindUnknown {
			a.log.WithError(err).WithField("room_id", roomID).Warn("websocket request failed")
			reply.Error = "connection issue, try again"
		}
	}
	return reply, done
}

// recordMatch feeds a finished room to the rating recorder. Failures are logged only.
func (a *API) recordMatch(ctx context.Context, room *models.Room) {
	if a.ratings == nil {
		return
	}
	log := a.log.WithField("room_id", room.ID)
	players, err := a.store.ListPlayers(ctx, room.ID)
	if err != nil {
		log.WithError(err).Warn("rating update skipped, could not read seats")
		return
	}
	ids := make([]uuid.UUID, 0, len(players))
	for _, p := range players {
		ids = append(ids, p.UserID)
	}
	err = a.ratings.RecordMatch(ctx, rating.MatchResult{
		RoomID:   room.ID,
		GameID:   room.GameID,
		Mode:     room.Mode,
		Players:  ids,
		WinnerID: room.WinnerID,
		Reason:   *room.EndReason,
	})
	if err != nil {
		log.WithError(err).Warn("rating update failed")
	}
}
