// Package storetest is a conformance suite every store.RoomStore implementation runs.
package storetest

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/tabletop/internal/models"
	"github.com/jason-s-yu/tabletop/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run exercises s against the RoomStore contract. Rooms are created with fresh
// ids, so s may be shared across subtests.
func Run(t *testing.T, s store.RoomStore) {
	t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, s) })
	t.Run("JoinSeatsInOrder", func(t *testing.T) { testJoinSeatsInOrder(t, s) })
	t.Run("ConcurrentJoinersNeverShareSeat", func(t *testing.T) { testConcurrentJoin(t, s) })
	t.Run("FindOpenRooms", func(t *testing.T) { testFindOpenRooms(t, s) })
	t.Run("RoomCodes", func(t *testing.T) { testRoomCodes(t, s) })
	t.Run("LeaveWaitingRoom", func(t *testing.T) { testLeaveWaiting(t, s) })
	t.Run("ReadyStartsRoom", func(t *testing.T) { testReadyStartsRoom(t, s) })
	t.Run("GameStateCompareAndSwap", func(t *testing.T) { testGameStateCAS(t, s) })
	t.Run("FinishIsMonotonic", func(t *testing.T) { testFinish(t, s) })
	t.Run("FinishRejectsBadRequests", func(t *testing.T) { testFinishValidation(t, s) })
	t.Run("LeavePlayingRoomDisconnects", func(t *testing.T) { testLeavePlaying(t, s) })
	t.Run("ActionsAppendInOrder", func(t *testing.T) { testActions(t, s) })
	t.Run("SubscribeStreamsChanges", func(t *testing.T) { testSubscribe(t, s) })
	t.Run("ReapStaleRooms", func(t *testing.T) { testReap(t, s) })
}

func ctxT(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func newRoom(t *testing.T, s store.RoomStore, gameID string, mode models.GameMode, code *string) (*models.Room, uuid.UUID) {
	t.Helper()
	creator := uuid.New()
	r, err := s.CreateRoom(ctxT(t), store.CreateRoomParams{
		GameID:     gameID,
		Mode:       mode,
		MaxPlayers: 2,
		RoomCode:   code,
		CreatedBy:  creator,
	})
	require.NoError(t, err)
	return r, creator
}

// playingRoom returns a full room whose players are both ready.
func playingRoom(t *testing.T, s store.RoomStore) (*models.Room, uuid.UUID, uuid.UUID) {
	t.Helper()
	ctx := ctxT(t)
	r, u1 := newRoom(t, s, "poker", models.ModeCasual, nil)
	u2 := uuid.New()
	_, err := s.JoinRoom(ctx, r.ID, u2)
	require.NoError(t, err)
	_, err = s.SetReady(ctx, r.ID, u1, true)
	require.NoError(t, err)
	r, err = s.SetReady(ctx, r.ID, u2, true)
	require.NoError(t, err)
	require.Equal(t, models.StatusPlaying, r.Status)
	return r, u1, u2
}

func testCreateAndGet(t *testing.T, s store.RoomStore) {
	ctx := ctxT(t)
	r, creator := newRoom(t, s, "poker", models.ModeRanked, nil)
	assert.Equal(t, models.StatusWaiting, r.Status)
	assert.Equal(t, 1, r.CurrentPlayers)
	assert.Equal(t, creator, r.CreatedBy)
	assert.Nil(t, r.GameState)

	got, err := s.GetRoom(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.ID, got.ID)
	assert.Equal(t, models.ModeRanked, got.Mode)

	players, err := s.ListPlayers(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, players, 1)
	assert.Equal(t, creator, players[0].UserID)
	assert.Equal(t, 1, players[0].PlayerNumber)

	_, err = s.GetRoom(ctx, uuid.New())
	assert.ErrorIs(t, err, models.ErrRoomNotFound)
}

func testJoinSeatsInOrder(t *testing.T, s store.RoomStore) {
	ctx := ctxT(t)
	r, creator := newRoom(t, s, "poker", models.ModeCasual, nil)

	_, err := s.JoinRoom(ctx, r.ID, creator)
	assert.ErrorIs(t, err, models.ErrAlreadySeated)

	u2 := uuid.New()
	p, err := s.JoinRoom(ctx, r.ID, u2)
	require.NoError(t, err)
	assert.Equal(t, 2, p.PlayerNumber)

	_, err = s.JoinRoom(ctx, r.ID, uuid.New())
	assert.ErrorIs(t, err, models.ErrRoomFull)

	got, err := s.GetRoom(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.CurrentPlayers)
	assert.True(t, got.IsFull())
}

func testConcurrentJoin(t *testing.T, s store.RoomStore) {
	ctx := ctxT(t)
	r, _ := newRoom(t, s, "poker", models.ModeCasual, nil)

	const joiners = 12
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < joiners; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.JoinRoom(ctx, r.ID, uuid.New())
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, models.ErrRoomFull)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)

	players, err := s.ListPlayers(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, players, 2)
	seats := map[int]bool{}
	for _, p := range players {
		assert.False(t, seats[p.PlayerNumber], "seat %d taken twice", p.PlayerNumber)
		seats[p.PlayerNumber] = true
	}
}

func testFindOpenRooms(t *testing.T, s store.RoomStore) {
	ctx := ctxT(t)
	game := "find-" + uuid.NewString()[:8]
	open, creator := newRoom(t, s, game, models.ModeRanked, nil)
	code := uuid.NewString()[:6]
	newRoom(t, s, game, models.ModeRanked, &code)
	newRoom(t, s, game, models.ModeCasual, nil)
	full, _ := newRoom(t, s, game, models.ModeRanked, nil)
	_, err := s.JoinRoom(ctx, full.ID, uuid.New())
	require.NoError(t, err)

	rooms, err := s.FindOpenRooms(ctx, game, models.ModeRanked, uuid.New(), 10)
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, open.ID, rooms[0].ID)

	rooms, err = s.FindOpenRooms(ctx, game, models.ModeRanked, creator, 10)
	require.NoError(t, err)
	assert.Empty(t, rooms, "a player never matches into their own room")

	pending, err := s.FindPendingRoom(ctx, creator)
	require.NoError(t, err)
	assert.Equal(t, open.ID, pending.ID)

	_, err = s.FindPendingRoom(ctx, uuid.New())
	assert.ErrorIs(t, err, models.ErrRoomNotFound)
}

func testRoomCodes(t *testing.T, s store.RoomStore) {
	ctx := ctxT(t)
	code := "C" + uuid.NewString()[:5]
	r, _ := newRoom(t, s, "poker", models.ModeCasual, &code)
	require.NotNil(t, r.RoomCode)
	assert.Equal(t, code, *r.RoomCode)

	got, err := s.FindRoomByCode(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, r.ID, got.ID)

	_, err = s.CreateRoom(ctx, store.CreateRoomParams{GameID: "poker", Mode: models.ModeCasual, MaxPlayers: 2, RoomCode: &code, CreatedBy: uuid.New()})
	assert.ErrorIs(t, err, models.ErrCodeCollision)

	_, err = s.FindRoomByCode(ctx, "NOPE00")
	assert.ErrorIs(t, err, models.ErrRoomNotFound)
}

func testLeaveWaiting(t *testing.T, s store.RoomStore) {
	ctx := ctxT(t)
	r, creator := newRoom(t, s, "poker", models.ModeCasual, nil)
	u2 := uuid.New()
	_, err := s.JoinRoom(ctx, r.ID, u2)
	require.NoError(t, err)

	require.NoError(t, s.LeaveRoom(ctx, r.ID, u2))
	got, err := s.GetRoom(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentPlayers)
	assert.Equal(t, models.StatusWaiting, got.Status)

	u3 := uuid.New()
	p, err := s.JoinRoom(ctx, r.ID, u3)
	require.NoError(t, err)
	assert.Equal(t, 2, p.PlayerNumber, "freed seat is reused")

	require.NoError(t, s.LeaveRoom(ctx, r.ID, u3))
	require.NoError(t, s.LeaveRoom(ctx, r.ID, creator))
	got, err = s.GetRoom(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, got.Status)
	assert.Equal(t, 0, got.CurrentPlayers)

	assert.ErrorIs(t, s.LeaveRoom(ctx, r.ID, creator), models.ErrPlayerNotFound)
}

func testReadyStartsRoom(t *testing.T, s store.RoomStore) {
	ctx := ctxT(t)
	r, u1 := newRoom(t, s, "poker", models.ModeCasual, nil)

	got, err := s.SetReady(ctx, r.ID, u1, true)
	require.NoError(t, err)
	assert.Equal(t, models.StatusWaiting, got.Status, "a half-empty room never starts")

	u2 := uuid.New()
	_, err = s.JoinRoom(ctx, r.ID, u2)
	require.NoError(t, err)
	got, err = s.SetReady(ctx, r.ID, u2, true)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPlaying, got.Status)
	assert.NotNil(t, got.StartedAt)

	_, err = s.JoinRoom(ctx, r.ID, uuid.New())
	assert.ErrorIs(t, err, models.ErrRoomNotJoinable)
}

func testGameStateCAS(t *testing.T, s store.RoomStore) {
	ctx := ctxT(t)
	waiting, _ := newRoom(t, s, "poker", models.ModeCasual, nil)
	_, err := s.UpdateGameState(ctx, waiting.ID, "poker", json.RawMessage(`{}`), 0)
	assert.ErrorIs(t, err, models.ErrRoomNotActive)

	r, _, _ := playingRoom(t, s)
	gs, err := s.UpdateGameState(ctx, r.ID, "poker", json.RawMessage(`{"n":1}`), 0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, gs.Version)

	_, err = s.UpdateGameState(ctx, r.ID, "poker", json.RawMessage(`{"n":"lost"}`), 0)
	assert.ErrorIs(t, err, models.ErrStaleVersion)
	assert.Equal(t, models.KindConflict, models.KindOf(err))

	gs, err = s.UpdateGameState(ctx, r.ID, "poker", json.RawMessage(`{"n":2}`), 1)
	require.NoError(t, err)
	assert.EqualValues(t, 2, gs.Version)

	got, err := s.GetRoom(ctx, r.ID)
	require.NoError(t, err)
	require.NotNil(t, got.GameState)
	assert.EqualValues(t, 2, got.StateVersion())
	assert.JSONEq(t, `{"n":2}`, string(got.GameState.Payload))
}

func testFinish(t *testing.T, s store.RoomStore) {
	ctx := ctxT(t)
	waiting, creator := newRoom(t, s, "poker", models.ModeCasual, nil)
	_, err := s.FinishRoom(ctx, waiting.ID, models.FinishRequest{WinnerID: &creator, Reason: models.ReasonWin})
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	r, u1, _ := playingRoom(t, s)
	assert.ErrorIs(t, s.CancelRoom(ctx, r.ID), models.ErrInvalidTransition)

	got, err := s.FinishRoom(ctx, r.ID, models.FinishRequest{WinnerID: &u1, Reason: models.ReasonSurrender})
	require.NoError(t, err)
	assert.Equal(t, models.StatusFinished, got.Status)
	require.NotNil(t, got.WinnerID)
	assert.Equal(t, u1, *got.WinnerID)
	require.NotNil(t, got.EndReason)
	assert.Equal(t, models.ReasonSurrender, *got.EndReason)
	assert.NotNil(t, got.FinishedAt)

	_, err = s.FinishRoom(ctx, r.ID, models.FinishRequest{Reason: models.ReasonDraw})
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	require.NoError(t, s.CancelRoom(ctx, waiting.ID))
	require.NoError(t, s.CancelRoom(ctx, waiting.ID), "cancelling twice is a no-op")
}

func testFinishValidation(t *testing.T, s store.RoomStore) {
	ctx := ctxT(t)
	r, u1, _ := playingRoom(t, s)
	stranger := uuid.New()

	bad := map[string]models.FinishRequest{
		"unknown reason":       {WinnerID: &u1, Reason: "bogus"},
		"empty reason":         {WinnerID: &u1},
		"winner not seated":    {WinnerID: &stranger, Reason: models.ReasonWin},
		"draw with a winner":   {WinnerID: &u1, Reason: models.ReasonDraw},
		"win without winner":   {Reason: models.ReasonWin},
		"surrender w/o winner": {Reason: models.ReasonSurrender},
		"timeout for stranger": {WinnerID: &stranger, Reason: models.ReasonTimeout},
	}
	for name, req := range bad {
		_, err := s.FinishRoom(ctx, r.ID, req)
		assert.Equal(t, models.KindValidation, models.KindOf(err), name)
	}

	got, err := s.GetRoom(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPlaying, got.Status)
	assert.Nil(t, got.WinnerID)
	assert.Nil(t, got.EndReason)

	got, err = s.FinishRoom(ctx, r.ID, models.FinishRequest{Reason: models.ReasonTimeout})
	require.NoError(t, err, "a timeout may finish without a winner")
	assert.Nil(t, got.WinnerID)
}

func testLeavePlaying(t *testing.T, s store.RoomStore) {
	ctx := ctxT(t)
	r, _, u2 := playingRoom(t, s)
	require.NoError(t, s.LeaveRoom(ctx, r.ID, u2))

	players, err := s.ListPlayers(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, players, 2)
	assert.False(t, players[1].IsConnected)
	assert.NotNil(t, players[1].DisconnectedAt)

	require.NoError(t, s.SetConnected(ctx, r.ID, u2, true))
	players, err = s.ListPlayers(ctx, r.ID)
	require.NoError(t, err)
	assert.True(t, players[1].IsConnected)
	assert.Nil(t, players[1].DisconnectedAt)
}

func testActions(t *testing.T, s store.RoomStore) {
	ctx := ctxT(t)
	r, u1, _ := playingRoom(t, s)

	_, err := s.AppendAction(ctx, &models.GameAction{RoomID: r.ID, UserID: &u1, Kind: "dance"})
	assert.Equal(t, models.KindValidation, models.KindOf(err))

	a1, err := s.AppendAction(ctx, &models.GameAction{RoomID: r.ID, UserID: &u1, Kind: models.ActionChat, Payload: json.RawMessage(`{"text":"gl"}`)})
	require.NoError(t, err)
	a2, err := s.AppendAction(ctx, &models.GameAction{RoomID: r.ID, Kind: models.ActionTimeout})
	require.NoError(t, err)
	assert.Greater(t, a2.ID, a1.ID)
	assert.Nil(t, a2.UserID)

	list, err := s.ListActions(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, models.ActionChat, list[0].Kind)
	assert.JSONEq(t, `{"text":"gl"}`, string(list[0].Payload))
	assert.Equal(t, models.ActionTimeout, list[1].Kind)
}

// Next reads one event or fails after a timeout.
func Next(t *testing.T, ch <-chan store.ChangeEvent) store.ChangeEvent {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "subscription closed")
		return ev
	case <-time.After(5 * time.Second):
		require.FailNow(t, "timed out waiting for change event")
	}
	return store.ChangeEvent{}
}

func testSubscribe(t *testing.T, s store.RoomStore) {
	ctx, cancel := context.WithCancel(ctxT(t))
	r, u1 := newRoom(t, s, "poker", models.ModeCasual, nil)
	ch, err := s.Subscribe(ctx, r.ID)
	require.NoError(t, err)

	u2 := uuid.New()
	_, err = s.JoinRoom(ctx, r.ID, u2)
	require.NoError(t, err)

	ev := Next(t, ch)
	assert.Equal(t, store.TableRoomPlayers, ev.Table)
	assert.Equal(t, store.OpInsert, ev.Op)
	require.NotNil(t, ev.Player)
	assert.Equal(t, u2, ev.Player.UserID)

	ev = Next(t, ch)
	assert.Equal(t, store.TableRooms, ev.Table)
	require.NotNil(t, ev.Room)
	assert.Equal(t, 2, ev.Room.CurrentPlayers)

	_, err = s.SetReady(ctx, r.ID, u1, true)
	require.NoError(t, err)
	_, err = s.SetReady(ctx, r.ID, u2, true)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		ev = Next(t, ch)
		assert.Equal(t, store.TableRoomPlayers, ev.Table)
		require.NotNil(t, ev.Player)
		assert.True(t, ev.Player.IsReady)
	}
	ev = Next(t, ch)
	assert.Equal(t, store.TableRooms, ev.Table)
	require.NotNil(t, ev.OldRoom)
	assert.Equal(t, models.StatusWaiting, ev.OldRoom.Status)
	assert.Equal(t, models.StatusPlaying, ev.Room.Status)

	_, err = s.UpdateGameState(ctx, r.ID, "poker", json.RawMessage(`{"x":1}`), 0)
	require.NoError(t, err)
	ev = Next(t, ch)
	require.NotNil(t, ev.Room)
	assert.EqualValues(t, 1, ev.Room.StateVersion())

	_, err = s.AppendAction(ctx, &models.GameAction{RoomID: r.ID, UserID: &u1, Kind: models.ActionMove})
	require.NoError(t, err)
	ev = Next(t, ch)
	assert.Equal(t, store.TableGameActions, ev.Table)
	require.NotNil(t, ev.Action)
	assert.Equal(t, models.ActionMove, ev.Action.Kind)

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)
}

func testReap(t *testing.T, s store.RoomStore) {
	ctx := ctxT(t)
	stale, _ := newRoom(t, s, "poker", models.ModeCasual, nil)
	abandoned, u1, u2 := playingRoom(t, s)
	live, _, _ := playingRoom(t, s)
	require.NoError(t, s.SetConnected(ctx, abandoned.ID, u1, false))
	require.NoError(t, s.SetConnected(ctx, abandoned.ID, u2, false))

	res, err := s.ReapStaleRooms(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Contains(t, res.Cancelled, stale.ID)
	assert.Contains(t, res.Abandoned, abandoned.ID)
	assert.NotContains(t, res.Abandoned, live.ID)

	got, err := s.GetRoom(ctx, abandoned.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFinished, got.Status)
	require.NotNil(t, got.EndReason)
	assert.Equal(t, models.ReasonTimeout, *got.EndReason)
	assert.Nil(t, got.WinnerID)
}
