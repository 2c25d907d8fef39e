package realtime

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/tabletop/internal/models"
	"github.com/jason-s-yu/tabletop/internal/store"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder collects callback invocations.
type recorder struct {
	mu      sync.Mutex
	joins   []uuid.UUID
	leaves  []uuid.UUID
	drops   []uuid.UUID
	ready   []uuid.UUID
	starts  int
	ends    []models.EndReason
	winners []*uuid.UUID
	states  []int64
	actions []models.ActionKind
	cancels int
	errs    []error
}

func (r *recorder) handlers() Handlers {
	return Handlers{
		OnPlayerJoin:  func(p *models.RoomPlayer) { r.lock(func() { r.joins = append(r.joins, p.UserID) }) },
		OnPlayerLeave: func(p *models.RoomPlayer) { r.lock(func() { r.leaves = append(r.leaves, p.UserID) }) },
		OnPlayerDisconnect: func(p *models.RoomPlayer) {
			r.lock(func() { r.drops = append(r.drops, p.UserID) })
		},
		OnPlayerReady: func(p *models.RoomPlayer) { r.lock(func() { r.ready = append(r.ready, p.UserID) }) },
		OnGameStart:   func(*models.Room) { r.lock(func() { r.starts++ }) },
		OnGameStateUpdate: func(gs *models.GameState) {
			r.lock(func() { r.states = append(r.states, gs.Version) })
		},
		OnAction: func(a *models.GameAction) { r.lock(func() { r.actions = append(r.actions, a.Kind) }) },
		OnGameEnd: func(w *uuid.UUID, reason models.EndReason) {
			r.lock(func() {
				r.ends = append(r.ends, reason)
				r.winners = append(r.winners, w)
			})
		},
		OnRoomCancelled: func(*models.Room) { r.lock(func() { r.cancels++ }) },
		OnError:         func(err error) { r.lock(func() { r.errs = append(r.errs, err) }) },
	}
}

func (r *recorder) lock(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn()
}

func (r *recorder) eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return cond()
	}, 2*time.Second, 5*time.Millisecond, msg)
}

func quiet() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type fixture struct {
	store  *store.Memory
	room   *models.Room
	u1, u2 uuid.UUID
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	m := store.NewMemory()
	u1 := uuid.New()
	room, err := m.CreateRoom(context.Background(), store.CreateRoomParams{GameID: "poker", Mode: models.ModeCasual, MaxPlayers: 2, CreatedBy: u1})
	require.NoError(t, err)
	return fixture{store: m, room: room, u1: u1, u2: uuid.New()}
}

func (f fixture) start(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	_, err := f.store.JoinRoom(ctx, f.room.ID, f.u2)
	require.NoError(t, err)
	_, err = f.store.SetReady(ctx, f.room.ID, f.u1, true)
	require.NoError(t, err)
	_, err = f.store.SetReady(ctx, f.room.ID, f.u2, true)
	require.NoError(t, err)
}

func TestClientLifecycleCallbacks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	rec := &recorder{}
	c := NewClient(f.store, f.room.ID, f.u1, rec.handlers(), quiet())
	snap, err := c.Connect(ctx)
	require.NoError(t, err)
	defer c.Disconnect()
	assert.Equal(t, models.StatusWaiting, snap.Status)

	f.start(t)
	rec.eventually(t, func() bool { return rec.starts == 1 }, "game start")
	rec.lock(func() {
		assert.Equal(t, []uuid.UUID{f.u2}, rec.joins)
		assert.ElementsMatch(t, []uuid.UUID{f.u1, f.u2}, rec.ready)
	})

	_, err = f.store.UpdateGameState(ctx, f.room.ID, "poker", json.RawMessage(`{}`), 0)
	require.NoError(t, err)
	rec.eventually(t, func() bool { return len(rec.states) == 1 }, "state update")

	_, err = f.store.FinishRoom(ctx, f.room.ID, models.FinishRequest{WinnerID: &f.u2, Reason: models.ReasonWin})
	require.NoError(t, err)
	rec.eventually(t, func() bool { return len(rec.ends) == 1 }, "game end")

	rec.lock(func() {
		assert.Equal(t, 1, rec.starts, "start fires once")
		assert.Equal(t, models.ReasonWin, rec.ends[0])
		require.NotNil(t, rec.winners[0])
		assert.Equal(t, f.u2, *rec.winners[0])
		assert.Empty(t, rec.errs)
	})
}

func TestClientSnapshotAlreadyPlaying(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.start(t)
	_, err := f.store.UpdateGameState(ctx, f.room.ID, "poker", json.RawMessage(`{"v":1}`), 0)
	require.NoError(t, err)

	rec := &recorder{}
	c := NewClient(f.store, f.room.ID, f.u2, rec.handlers(), quiet())
	_, err = c.Connect(ctx)
	require.NoError(t, err)
	defer c.Disconnect()

	rec.eventually(t, func() bool { return rec.starts == 1 && len(rec.states) == 1 }, "snapshot replay")
	rec.lock(func() { assert.Equal(t, []int64{1}, rec.states) })
}

func TestClientIgnoresOwnEchoesAndStaleVersions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.start(t)

	rec := &recorder{}
	c := NewClient(f.store, f.room.ID, f.u1, rec.handlers(), quiet())
	_, err := c.Connect(ctx)
	require.NoError(t, err)
	defer c.Disconnect()

	_, err = c.SendAction(ctx, models.ActionChat, map[string]string{"text": "hi"})
	require.NoError(t, err)
	uid := f.u2
	_, err = f.store.AppendAction(ctx, &models.GameAction{RoomID: f.room.ID, UserID: &uid, Kind: models.ActionMove})
	require.NoError(t, err)
	_, err = f.store.AppendAction(ctx, &models.GameAction{RoomID: f.room.ID, Kind: models.ActionTimeout})
	require.NoError(t, err)

	gs, err := c.UpdateGameState(ctx, "poker", json.RawMessage(`{"mine":true}`), 0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, gs.Version)
	_, err = f.store.UpdateGameState(ctx, f.room.ID, "poker", json.RawMessage(`{"theirs":true}`), 1)
	require.NoError(t, err)

	rec.eventually(t, func() bool {
		return len(rec.actions) == 2 && len(rec.states) > 0 && rec.states[len(rec.states)-1] == 2
	}, "foreign events")
	rec.lock(func() {
		assert.Equal(t, []models.ActionKind{models.ActionMove, models.ActionTimeout}, rec.actions, "own chat is not echoed")
		assert.IsIncreasing(t, rec.states)
	})

	_, err = c.UpdateGameState(ctx, "poker", json.RawMessage(`{}`), 1)
	assert.ErrorIs(t, err, models.ErrStaleVersion)
	assert.Equal(t, models.KindConflict, models.KindOf(err))
}

func TestClientReplayedRoomEventsFireOnce(t *testing.T) {
	f := newFixture(t)
	rec := &recorder{}
	c := NewClient(f.store, f.room.ID, f.u1, rec.handlers(), quiet())

	playing := f.room.Clone()
	playing.Status = models.StatusPlaying
	playing.GameState = &models.GameState{GameID: "poker", Version: 3}
	c.room(playing)
	c.room(playing)
	older := playing.Clone()
	older.GameState.Version = 2
	c.room(older)

	finished := playing.Clone()
	finished.Status = models.StatusFinished
	c.room(finished)
	c.room(finished)

	assert.Equal(t, 1, rec.starts)
	assert.Equal(t, []int64{3}, rec.states)
	assert.Len(t, rec.ends, 1)
	assert.Nil(t, rec.winners[0], "no winner means a draw or an abandoned match")
}

func TestClientPlayerEvents(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	rec := &recorder{}
	c := NewClient(f.store, f.room.ID, f.u1, rec.handlers(), quiet())
	_, err := c.Connect(ctx)
	require.NoError(t, err)
	defer c.Disconnect()

	f.start(t)
	require.NoError(t, f.store.SetConnected(ctx, f.room.ID, f.u2, false))
	require.NoError(t, f.store.SetConnected(ctx, f.room.ID, f.u2, true))

	rec.eventually(t, func() bool { return len(rec.drops) == 1 && len(rec.joins) == 2 }, "presence events")
	rec.lock(func() { assert.Empty(t, rec.leaves, "a dropped connection keeps the seat") })

	u3 := uuid.New()
	g := newFixture(t)
	c2 := NewClient(g.store, g.room.ID, g.u1, rec.handlers(), quiet())
	_, err = c2.Connect(ctx)
	require.NoError(t, err)
	defer c2.Disconnect()
	_, err = g.store.JoinRoom(ctx, g.room.ID, u3)
	require.NoError(t, err)
	require.NoError(t, g.store.LeaveRoom(ctx, g.room.ID, u3))
	rec.eventually(t, func() bool { return len(rec.leaves) == 1 }, "leave event")
	rec.lock(func() { assert.Equal(t, u3, rec.leaves[0]) })
}

func TestClientRoomCancelled(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	rec := &recorder{}
	c := NewClient(f.store, f.room.ID, f.u1, rec.handlers(), quiet())
	_, err := c.Connect(ctx)
	require.NoError(t, err)
	defer c.Disconnect()

	require.NoError(t, f.store.CancelRoom(ctx, f.room.ID))
	rec.eventually(t, func() bool { return rec.cancels == 1 }, "cancel")
}

func TestDisconnectIsIdempotent(t *testing.T) {
	f := newFixture(t)
	rec := &recorder{}
	c := NewClient(f.store, f.room.ID, f.u1, rec.handlers(), quiet())
	_, err := c.Connect(context.Background())
	require.NoError(t, err)

	c.Disconnect()
	c.Disconnect()
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch goroutine did not stop")
	}
	assert.Empty(t, rec.errs, "a requested disconnect is not an error")

	unconnected := NewClient(f.store, f.room.ID, f.u2, Handlers{}, quiet())
	unconnected.Disconnect()
}

func TestConnectUnknownRoom(t *testing.T) {
	c := NewClient(store.NewMemory(), uuid.New(), uuid.New(), Handlers{}, quiet())
	_, err := c.Connect(context.Background())
	assert.ErrorIs(t, err, models.ErrRoomNotFound)
}
