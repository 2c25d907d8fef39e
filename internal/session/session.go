// Package session drives one player through matchmaking, the ready check and a
// match, keeping a local game replica in step with the room's stored state.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/tabletop/internal/matchmaking"
	"github.com/jason-s-yu/tabletop/internal/models"
	"github.com/jason-s-yu/tabletop/internal/rating"
	"github.com/jason-s-yu/tabletop/internal/realtime"
	"github.com/jason-s-yu/tabletop/internal/store"
	"github.com/sirupsen/logrus"
)

// MaxChatLength bounds a chat message in runes.
const MaxChatLength = 500

const defaultWriteTimeout = 5 * time.Second

// Events lets a front end observe the session. Hooks run on the session's
// dispatch goroutine or on the caller's goroutine, never concurrently.
type Events struct {
	OnStateChange func(from, to State)
	OnGameState   func(gs *models.GameState)
	OnAction      func(a *models.GameAction)
	OnGameEnd     func(winnerID *uuid.UUID, reason models.EndReason)
	OnError       func(err error)
}

// Config wires a Session.
type Config struct {
	UserID     uuid.UUID
	Store      store.RoomStore
	Matchmaker *matchmaking.Service
	Game       Game
	// Ratings may be nil, in which case results are not recorded.
	Ratings      rating.Recorder
	Log          logrus.FieldLogger
	Events       Events
	WriteTimeout time.Duration
}

// Session is one player's connection to at most one room at a time.
type Session struct {
	mu sync.Mutex

	userID   uuid.UUID
	store    store.RoomStore
	mm       *matchmaking.Service
	game     Game
	ratings  rating.Recorder
	log      logrus.FieldLogger
	events   Events
	writeTTL time.Duration

	state   State
	room    *models.Room
	seat    int
	version int64
	client  *realtime.Client
	seats   map[int]uuid.UUID
	away    map[uuid.UUID]bool

	// draw offers in flight, by the player who made them
	drawOffer *uuid.UUID
}

// New returns an idle session.
func New(cfg Config) *Session {
	ttl := cfg.WriteTimeout
	if ttl <= 0 {
		ttl = defaultWriteTimeout
	}
	return &Session{
		userID:   cfg.UserID,
		store:    cfg.Store,
		mm:       cfg.Matchmaker,
		game:     cfg.Game,
		ratings:  cfg.Ratings,
		log:      cfg.Log.WithField("user_id", cfg.UserID),
		events:   cfg.Events,
		writeTTL: ttl,
		state:    StateIdle,
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Room returns a copy of the last known room row, or nil when idle.
func (s *Session) Room() *models.Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room.Clone()
}

// Seat returns the local player's seat, 0 when not seated.
func (s *Session) Seat() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seat
}

// Version returns the last game-state version merged into the replica.
func (s *Session) Version() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// UserID returns the local player.
func (s *Session) UserID() uuid.UUID { return s.userID }

func (s *Session) setState(next State) {
	if s.state == next {
		return
	}
	if !s.state.CanTransitionTo(next) {
		s.log.WithFields(logrus.Fields{"from": s.state, "to": next}).Warn("ignoring invalid session transition")
		return
	}
	prev := s.state
	s.state = next
	s.log.WithFields(logrus.Fields{"from": prev, "to": next}).Debug("session state")
	if s.events.OnStateChange != nil {
		s.events.OnStateChange(prev, next)
	}
}

func (s *Session) emitError(err error) {
	if s.events.OnError != nil {
		s.events.OnError(err)
	}
}

// writeCtx bounds writes made from the dispatch goroutine, which has no caller context.
func (s *Session) writeCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.writeTTL)
}

// beginSearch moves an idle or finished session to searching.
func (s *Session) beginSearch() error {
	switch s.state {
	case StateIdle:
	case StateFinished:
		s.detach()
	default:
		return models.Validationf("search", "session is %s", s.state)
	}
	s.setState(StateSearching)
	return nil
}

// FindMatch searches the public queue and attaches to the room found or created.
func (s *Session) FindMatch(ctx context.Context, gameID string, mode models.GameMode) (*models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.beginSearch(); err != nil {
		return nil, err
	}
	room, _, err := s.mm.FindMatch(ctx, s.userID, gameID, mode)
	if err != nil {
		s.setState(StateIdle)
		return nil, err
	}
	return s.attach(ctx, room)
}

// CreatePrivateRoom opens a code-only room for the session's game and returns its code.
func (s *Session) CreatePrivateRoom(ctx context.Context, mode models.GameMode) (*models.Room, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.beginSearch(); err != nil {
		return nil, "", err
	}
	room, code, err := s.mm.CreatePrivateRoom(ctx, s.userID, s.game.GameID(), mode)
	if err != nil {
		s.setState(StateIdle)
		return nil, "", err
	}
	room, err = s.attach(ctx, room)
	return room, code, err
}

// JoinByCode joins a private room.
func (s *Session) JoinByCode(ctx context.Context, code string) (*models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.beginSearch(); err != nil {
		return nil, err
	}
	room, err := s.mm.JoinByCode(ctx, s.userID, code)
	if err != nil {
		s.setState(StateIdle)
		return nil, err
	}
	if room.GameID != s.game.GameID() {
		s.setState(StateIdle)
		return nil, models.Validationf("join by code", "room plays %q, not %q", room.GameID, s.game.GameID())
	}
	return s.attach(ctx, room)
}

// attach subscribes to room and moves the session to waiting or ready.
func (s *Session) attach(ctx context.Context, room *models.Room) (*models.Room, error) {
	s.room = room
	s.seats = make(map[int]uuid.UUID)
	s.away = make(map[uuid.UUID]bool)
	s.version = 0
	s.drawOffer = nil
	s.game.Reset()

	roomID := room.ID
	s.client = realtime.NewClient(s.store, roomID, s.userID, realtime.Handlers{
		OnPlayerJoin:       s.onPlayerJoin,
		OnPlayerLeave:      s.onPlayerLeave,
		OnPlayerDisconnect: s.onPlayerDisconnect,
		OnGameStart:        s.onGameStart,
		OnGameStateUpdate:  func(gs *models.GameState) { s.onGameState(roomID, gs) },
		OnAction:           s.onAction,
		OnGameEnd: func(winnerID *uuid.UUID, reason models.EndReason) {
			s.onGameEnd(roomID, winnerID, reason)
		},
		OnRoomCancelled: s.onRoomCancelled,
		OnError:         s.onError,
	}, s.log)

	snap, err := s.client.Connect(ctx)
	if err != nil {
		s.detach()
		s.setState(StateIdle)
		return nil, err
	}
	players, err := s.store.ListPlayers(ctx, room.ID)
	if err != nil {
		s.detach()
		s.setState(StateIdle)
		return nil, err
	}
	for _, p := range players {
		s.seats[p.PlayerNumber] = p.UserID
		if p.UserID == s.userID {
			s.seat = p.PlayerNumber
		}
	}
	if s.seat == 0 {
		s.detach()
		s.setState(StateIdle)
		return nil, fmt.Errorf("room %s: %w", room.ID, models.ErrPlayerNotFound)
	}
	s.room = snap

	s.log.WithFields(logrus.Fields{"room_id": room.ID, "seat": s.seat}).Info("attached to room")
	s.setState(StateWaiting)
	s.checkFull()
	return snap.Clone(), nil
}

// detach drops the room subscription and all per-room state.
func (s *Session) detach() {
	if s.client != nil {
		s.client.Disconnect()
	}
	s.client = nil
	s.room = nil
	s.seat = 0
	s.seats = nil
	s.away = nil
	s.version = 0
	s.drawOffer = nil
}

func (s *Session) checkFull() {
	if s.room == nil {
		return
	}
	full := len(s.seats) >= s.room.MaxPlayers
	switch {
	case s.state == StateWaiting && full:
		s.setState(StateReady)
	case s.state == StateReady && !full:
		s.setState(StateWaiting)
	}
}

func (s *Session) opponent() (int, uuid.UUID) {
	for seat, id := range s.seats {
		if seat != s.seat {
			return seat, id
		}
	}
	return 0, uuid.Nil
}

func (s *Session) requireRoom(op string) error {
	if s.client == nil || !s.state.InRoom() {
		return fmt.Errorf("%s: %w", op, models.ErrNoActiveRoom)
	}
	return nil
}

func (s *Session) requirePlaying(op string) error {
	if err := s.requireRoom(op); err != nil {
		return err
	}
	if s.state != StatePlaying {
		return fmt.Errorf("%s: %w", op, models.ErrRoomNotActive)
	}
	return nil
}

// SetReady writes the ready flag. The session state only changes once the room
// itself moves to playing.
func (s *Session) SetReady(ctx context.Context, ready bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireRoom("set ready"); err != nil {
		return err
	}
	if s.state != StateWaiting && s.state != StateReady {
		return fmt.Errorf("set ready: %w", models.ErrRoomNotJoinable)
	}
	if _, err := s.store.SetReady(ctx, s.room.ID, s.userID, ready); err != nil {
		return err
	}
	if _, err := s.client.SendAction(ctx, models.ActionReady, map[string]bool{"ready": ready}); err != nil {
		s.log.WithError(err).Warn("failed to log ready action")
	}
	return nil
}

// Move applies a game move for the local seat and publishes the resulting state.
func (s *Session) Move(ctx context.Context, move json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requirePlaying("move"); err != nil {
		return err
	}
	if s.game.CurrentSeat() != s.seat {
		return fmt.Errorf("seat %d: %w", s.seat, models.ErrNotYourTurn)
	}
	next, err := s.game.Apply(s.seat, move)
	if err != nil {
		return err
	}
	if err := s.commit(ctx, next); err != nil {
		return err
	}
	s.drawOffer = nil
	if _, err := s.client.SendAction(ctx, models.ActionMove, move); err != nil {
		s.log.WithError(err).Warn("failed to log move")
	}

	if out := s.game.Outcome(); out.Over {
		reason := models.ReasonWin
		var winner *uuid.UUID
		if out.Draw {
			reason = models.ReasonDraw
		} else {
			id := s.seats[out.WinnerSeat]
			winner = &id
		}
		s.finish(ctx, winner, reason)
	}
	return nil
}

// commit writes payload at the next version and merges it into the replica.
func (s *Session) commit(ctx context.Context, payload json.RawMessage) error {
	gs, err := s.client.UpdateGameState(ctx, s.game.GameID(), payload, s.version)
	if err != nil {
		return err
	}
	if err := s.game.Merge(payload); err != nil {
		return err
	}
	s.version = gs.Version
	if s.events.OnGameState != nil {
		s.events.OnGameState(gs)
	}
	return nil
}

// finish closes the room and records ratings. Losing the race to another finisher is fine.
func (s *Session) finish(ctx context.Context, winner *uuid.UUID, reason models.EndReason) {
	room, err := s.store.FinishRoom(ctx, s.room.ID, models.FinishRequest{WinnerID: winner, Reason: reason})
	if errors.Is(err, models.ErrInvalidTransition) {
		return
	}
	if err != nil {
		s.log.WithError(err).Error("failed to finish room")
		s.emitError(err)
		return
	}
	s.room = room
	s.setState(StateFinished)
	s.recordRatings(ctx, room)
}

func (s *Session) recordRatings(ctx context.Context, room *models.Room) {
	if s.ratings == nil {
		return
	}
	players := make([]uuid.UUID, 0, len(s.seats))
	for seat := 1; seat <= room.MaxPlayers; seat++ {
		if id, ok := s.seats[seat]; ok {
			players = append(players, id)
		}
	}
	reason := models.ReasonWin
	if room.EndReason != nil {
		reason = *room.EndReason
	}
	err := s.ratings.RecordMatch(ctx, rating.MatchResult{
		RoomID:   room.ID,
		GameID:   room.GameID,
		Mode:     room.Mode,
		Players:  players,
		WinnerID: room.WinnerID,
		Reason:   reason,
	})
	if err != nil {
		s.log.WithError(err).WithField("room_id", room.ID).Warn("rating update failed")
	}
}

// Surrender concedes the match to the opponent.
func (s *Session) Surrender(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.surrender(ctx)
}

func (s *Session) surrender(ctx context.Context) error {
	if err := s.requirePlaying("surrender"); err != nil {
		return err
	}
	next, err := s.game.Forfeit(s.seat)
	if err != nil {
		return err
	}
	if err := s.commit(ctx, next); err != nil {
		return err
	}
	if _, err := s.client.SendAction(ctx, models.ActionSurrender, nil); err != nil {
		s.log.WithError(err).Warn("failed to log surrender")
	}
	_, opp := s.opponent()
	s.finish(ctx, &opp, models.ReasonSurrender)
	return nil
}

// LeaveRoom detaches from the current room. Leaving a match in progress surrenders it.
func (s *Session) LeaveRoom(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateIdle, StateSearching:
		return nil
	case StatePlaying:
		if err := s.surrender(ctx); err != nil {
			return err
		}
		if err := s.store.SetConnected(ctx, s.room.ID, s.userID, false); err != nil {
			s.log.WithError(err).Warn("failed to mark disconnected")
		}
	case StateWaiting, StateReady:
		err := s.store.LeaveRoom(ctx, s.room.ID, s.userID)
		if err != nil && !errors.Is(err, models.ErrPlayerNotFound) {
			return err
		}
	}
	s.detach()
	s.setState(StateIdle)
	return nil
}

// CancelSearch withdraws from a room that has not started. It is a no-op when idle.
func (s *Session) CancelSearch(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateIdle:
		return nil
	case StatePlaying:
		return models.Validationf("cancel search", "match in progress, leave the room instead")
	case StateFinished:
		s.detach()
		s.setState(StateIdle)
		return nil
	}
	if err := s.mm.CancelSearch(ctx, s.userID); err != nil {
		return err
	}
	s.detach()
	s.setState(StateIdle)
	return nil
}

// Close drops the subscription without touching the room.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		s.client.Disconnect()
	}
}

// SendChat posts a chat line to the room.
func (s *Session) SendChat(ctx context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireRoom("chat"); err != nil {
		return err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return models.Validationf("chat", "message is empty")
	}
	if len([]rune(text)) > MaxChatLength {
		return models.Validationf("chat", "message exceeds %d characters", MaxChatLength)
	}
	_, err := s.client.SendAction(ctx, models.ActionChat, map[string]string{"text": text})
	return err
}

// OfferDraw proposes ending the match as a draw.
func (s *Session) OfferDraw(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requirePlaying("offer draw"); err != nil {
		return err
	}
	if s.drawOffer != nil {
		return fmt.Errorf("draw already offered: %w", models.ErrIllegalAction)
	}
	if _, err := s.client.SendAction(ctx, models.ActionOfferDraw, nil); err != nil {
		return err
	}
	me := s.userID
	s.drawOffer = &me
	return nil
}

func (s *Session) pendingOfferFromOpponent(op string) error {
	if err := s.requirePlaying(op); err != nil {
		return err
	}
	if s.drawOffer == nil || *s.drawOffer == s.userID {
		return fmt.Errorf("%s: no draw offer pending: %w", op, models.ErrIllegalAction)
	}
	return nil
}

// AcceptDraw accepts the opponent's offer and finishes the match as a draw.
func (s *Session) AcceptDraw(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.pendingOfferFromOpponent("accept draw"); err != nil {
		return err
	}
	if _, err := s.client.SendAction(ctx, models.ActionAcceptDraw, nil); err != nil {
		return err
	}
	s.drawOffer = nil
	s.finish(ctx, nil, models.ReasonDraw)
	return nil
}

// DeclineDraw rejects the opponent's offer.
func (s *Session) DeclineDraw(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.pendingOfferFromOpponent("decline draw"); err != nil {
		return err
	}
	if _, err := s.client.SendAction(ctx, models.ActionDeclineDraw, nil); err != nil {
		return err
	}
	s.drawOffer = nil
	return nil
}

// ClaimTimeout wins the match against an opponent who has dropped their connection.
func (s *Session) ClaimTimeout(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requirePlaying("claim timeout"); err != nil {
		return err
	}
	_, opp := s.opponent()
	if !s.away[opp] {
		return fmt.Errorf("opponent is still connected: %w", models.ErrIllegalAction)
	}
	if _, err := s.client.SendAction(ctx, models.ActionTimeout, map[string]string{"against": opp.String()}); err != nil {
		return err
	}
	me := s.userID
	s.finish(ctx, &me, models.ReasonTimeout)
	return nil
}

// The handlers below run on the realtime client's dispatch goroutine.

func (s *Session) stale(roomID uuid.UUID) bool {
	return s.room == nil || s.room.ID != roomID
}

func (s *Session) onPlayerJoin(p *models.RoomPlayer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stale(p.RoomID) {
		return
	}
	s.seats[p.PlayerNumber] = p.UserID
	delete(s.away, p.UserID)
	s.checkFull()
}

func (s *Session) onPlayerLeave(p *models.RoomPlayer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stale(p.RoomID) {
		return
	}
	if s.seats[p.PlayerNumber] == p.UserID {
		delete(s.seats, p.PlayerNumber)
	}
	delete(s.away, p.UserID)
	s.checkFull()
}

func (s *Session) onPlayerDisconnect(p *models.RoomPlayer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stale(p.RoomID) {
		return
	}
	s.away[p.UserID] = true
}

func (s *Session) onGameStart(room *models.Room) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stale(room.ID) || (s.state != StateWaiting && s.state != StateReady) {
		return
	}
	s.room = room
	s.game.Reset()
	s.version = 0
	s.setState(StatePlaying)

	if s.seat != s.game.DealerSeat() || room.StateVersion() != 0 {
		return
	}
	payload, err := s.game.Start()
	if err != nil {
		s.emitError(err)
		return
	}
	ctx, cancel := s.writeCtx()
	defer cancel()
	if err := s.commit(ctx, payload); err != nil {
		if errors.Is(err, models.ErrStaleVersion) {
			return
		}
		s.log.WithError(err).Error("failed to write opening state")
		s.emitError(err)
	}
}

func (s *Session) onGameState(roomID uuid.UUID, gs *models.GameState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stale(roomID) || gs.Version <= s.version {
		return
	}
	if err := s.game.Merge(gs.Payload); err != nil {
		s.log.WithError(err).WithField("version", gs.Version).Error("rejected game state")
		s.emitError(err)
		return
	}
	s.version = gs.Version
	if s.events.OnGameState != nil {
		s.events.OnGameState(gs)
	}
}

func (s *Session) onAction(a *models.GameAction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stale(a.RoomID) {
		return
	}
	switch a.Kind {
	case models.ActionOfferDraw:
		s.drawOffer = a.UserID
	case models.ActionDeclineDraw, models.ActionMove:
		s.drawOffer = nil
	}
	if s.events.OnAction != nil {
		s.events.OnAction(a)
	}
}

func (s *Session) onGameEnd(roomID uuid.UUID, winnerID *uuid.UUID, reason models.EndReason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stale(roomID) {
		return
	}
	s.setState(StateFinished)
	if s.events.OnGameEnd != nil {
		s.events.OnGameEnd(winnerID, reason)
	}
}

func (s *Session) onRoomCancelled(room *models.Room) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stale(room.ID) || (s.state != StateWaiting && s.state != StateReady) {
		return
	}
	s.log.WithField("room_id", room.ID).Info("room cancelled")
	s.detach()
	s.setState(StateIdle)
}

func (s *Session) onError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emitError(err)
}
