package session

import (
	"context"
	"encoding/json"
	"io"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/tabletop/internal/matchmaking"
	"github.com/jason-s-yu/tabletop/internal/models"
	"github.com/jason-s-yu/tabletop/internal/poker"
	"github.com/jason-s-yu/tabletop/internal/rating"
	"github.com/jason-s-yu/tabletop/internal/store"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const wait = 2 * time.Second
const tick = 5 * time.Millisecond

type player struct {
	*Session
	table *poker.Table

	mu   sync.Mutex
	errs []error
}

func (p *player) errors() []error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]error(nil), p.errs...)
}

type harness struct {
	store   *store.Memory
	mm      *matchmaking.Service
	ratings *rating.MemoryRepository
	log     *logrus.Logger
	seed    uint64
}

func newHarness() *harness {
	l := logrus.New()
	l.SetOutput(io.Discard)
	m := store.NewMemory()
	return &harness{store: m, mm: matchmaking.NewService(m, l), ratings: rating.NewMemoryRepository(), log: l}
}

func (h *harness) player() *player {
	h.seed++
	p := &player{table: poker.NewTable(poker.DefaultConfig, rand.New(rand.NewPCG(h.seed, 42)))}
	p.Session = New(Config{
		UserID:     uuid.New(),
		Store:      h.store,
		Matchmaker: h.mm,
		Game:       p.table,
		Ratings:    rating.NewUpdater(h.ratings, h.log),
		Log:        h.log,
		Events: Events{OnError: func(err error) {
			p.mu.Lock()
			p.errs = append(p.errs, err)
			p.mu.Unlock()
		}},
	})
	return p
}

func waitState(t *testing.T, p *player, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return p.State() == want }, wait, tick, "want %s, have %s", want, p.State())
}

func waitVersion(t *testing.T, v int64, ps ...*player) {
	t.Helper()
	for _, p := range ps {
		require.Eventually(t, func() bool { return p.Version() >= v }, wait, tick, "waiting for version %d", v)
	}
}

func move(typ poker.ActionType, amount int) json.RawMessage {
	b, _ := json.Marshal(poker.Action{Type: typ, Amount: amount})
	return b
}

// playing matches two fresh players into one room and waits for the opening deal.
func (h *harness) playing(t *testing.T, mode models.GameMode) (a, b *player) {
	t.Helper()
	ctx := context.Background()
	a, b = h.player(), h.player()

	ra, err := a.FindMatch(ctx, poker.GameID, mode)
	require.NoError(t, err)
	assert.Equal(t, StateWaiting, a.State())
	assert.Equal(t, 1, a.Seat())

	rb, err := b.FindMatch(ctx, poker.GameID, mode)
	require.NoError(t, err)
	require.Equal(t, ra.ID, rb.ID)
	assert.Equal(t, StateReady, b.State())
	assert.Equal(t, 2, b.Seat())
	waitState(t, a, StateReady)

	require.NoError(t, a.SetReady(ctx, true))
	assert.Equal(t, StateReady, a.State(), "ready flag alone does not move the session")
	require.NoError(t, b.SetReady(ctx, true))

	waitState(t, a, StatePlaying)
	waitState(t, b, StatePlaying)
	waitVersion(t, 1, a, b)
	return a, b
}

func TestMatchEndsOnFold(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	a, b := h.playing(t, models.ModeRanked)

	assert.ErrorIs(t, b.Move(ctx, move(poker.ActionCheck, 0)), models.ErrNotYourTurn)
	require.NoError(t, a.Move(ctx, move(poker.ActionFold, 0)))
	assert.Equal(t, StateFinished, a.State())
	waitState(t, b, StateFinished)

	room, err := h.store.GetRoom(ctx, a.Room().ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFinished, room.Status)
	require.NotNil(t, room.WinnerID)
	assert.Equal(t, b.UserID(), *room.WinnerID)
	assert.Equal(t, models.ReasonWin, *room.EndReason)

	rb, err := h.ratings.Get(ctx, b.UserID(), poker.GameID, models.ModeRanked)
	require.NoError(t, err)
	assert.Equal(t, 1, rb.Wins)
	assert.Greater(t, rb.Rating, 1500)

	snap := b.table.Snapshot()
	assert.Equal(t, 2*poker.DefaultConfig.StartingStack, snap.Chips())
	assert.Empty(t, a.errors())
	assert.Empty(t, b.errors())

	actions, err := h.store.ListActions(ctx, room.ID)
	require.NoError(t, err)
	kinds := map[models.ActionKind]int{}
	for _, act := range actions {
		kinds[act.Kind]++
	}
	assert.Equal(t, 2, kinds[models.ActionReady])
	assert.Equal(t, 1, kinds[models.ActionMove])
}

func TestMatchPlaysToShowdown(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	a, b := h.playing(t, models.ModeCasual)

	require.NoError(t, a.Move(ctx, move(poker.ActionCall, 0)))
	v := int64(2)
	waitVersion(t, v, b)
	assert.Equal(t, poker.PhaseFlop, b.table.Snapshot().Phase)

	for street := 0; street < 3; street++ {
		require.NoError(t, b.Move(ctx, move(poker.ActionCheck, 0)))
		v++
		waitVersion(t, v, a)
		require.NoError(t, a.Move(ctx, move(poker.ActionCheck, 0)))
		v++
		if street < 2 {
			waitVersion(t, v, b)
		}
	}

	assert.Equal(t, StateFinished, a.State())
	waitState(t, b, StateFinished)
	snap := a.table.Snapshot()
	assert.True(t, snap.Resolved)
	assert.Len(t, snap.Community, 5)
	assert.Equal(t, 2*poker.DefaultConfig.StartingStack, snap.Chips())

	room, err := h.store.GetRoom(ctx, a.Room().ID)
	require.NoError(t, err)
	if snap.Winner == 0 {
		assert.Equal(t, models.ReasonDraw, *room.EndReason)
		assert.Nil(t, room.WinnerID)
	} else {
		assert.Equal(t, models.ReasonWin, *room.EndReason)
		require.NotNil(t, room.WinnerID)
	}
	assert.EqualValues(t, v, room.StateVersion())
}

func TestSurrender(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	a, b := h.playing(t, models.ModeCasual)

	require.NoError(t, b.Surrender(ctx))
	waitState(t, a, StateFinished)

	room, err := h.store.GetRoom(ctx, a.Room().ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReasonSurrender, *room.EndReason)
	assert.Equal(t, a.UserID(), *room.WinnerID)
	assert.Equal(t, 1, a.table.Snapshot().Winner)

	assert.ErrorIs(t, b.Surrender(ctx), models.ErrRoomNotActive)
}

func TestLeaveWhilePlayingSurrenders(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	a, b := h.playing(t, models.ModeCasual)
	roomID := a.Room().ID

	require.NoError(t, a.LeaveRoom(ctx))
	assert.Equal(t, StateIdle, a.State())
	assert.Nil(t, a.Room())
	waitState(t, b, StateFinished)

	room, err := h.store.GetRoom(ctx, roomID)
	require.NoError(t, err)
	assert.Equal(t, b.UserID(), *room.WinnerID)
	assert.Equal(t, models.ReasonSurrender, *room.EndReason)
}

func TestDrawByAgreement(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	a, b := h.playing(t, models.ModeRanked)

	assert.ErrorIs(t, b.AcceptDraw(ctx), models.ErrIllegalAction)
	require.NoError(t, a.OfferDraw(ctx))
	assert.ErrorIs(t, a.OfferDraw(ctx), models.ErrIllegalAction)
	assert.ErrorIs(t, a.AcceptDraw(ctx), models.ErrIllegalAction, "cannot accept your own offer")

	require.Eventually(t, func() bool { return b.AcceptDraw(ctx) == nil }, wait, tick)
	waitState(t, a, StateFinished)
	assert.Equal(t, StateFinished, b.State())

	room, err := h.store.GetRoom(ctx, a.Room().ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReasonDraw, *room.EndReason)
	assert.Nil(t, room.WinnerID)

	ra, err := h.ratings.Get(ctx, a.UserID(), poker.GameID, models.ModeRanked)
	require.NoError(t, err)
	assert.Equal(t, 1, ra.Draws)
}

func TestDeclineDraw(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	a, b := h.playing(t, models.ModeCasual)

	require.NoError(t, b.OfferDraw(ctx))
	require.Eventually(t, func() bool { return a.DeclineDraw(ctx) == nil }, wait, tick)
	assert.ErrorIs(t, a.DeclineDraw(ctx), models.ErrIllegalAction)
	assert.Equal(t, StatePlaying, a.State())
}

func TestClaimTimeout(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	a, b := h.playing(t, models.ModeCasual)
	roomID := a.Room().ID

	assert.ErrorIs(t, a.ClaimTimeout(ctx), models.ErrIllegalAction)

	b.Close()
	require.NoError(t, h.store.SetConnected(ctx, roomID, b.UserID(), false))
	require.Eventually(t, func() bool { return a.ClaimTimeout(ctx) == nil }, wait, tick)
	assert.Equal(t, StateFinished, a.State())

	room, err := h.store.GetRoom(ctx, roomID)
	require.NoError(t, err)
	assert.Equal(t, models.ReasonTimeout, *room.EndReason)
	assert.Equal(t, a.UserID(), *room.WinnerID)
}

func TestCancelSearch(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	a := h.player()

	require.NoError(t, a.CancelSearch(ctx), "idle cancel is a no-op")
	room, err := a.FindMatch(ctx, poker.GameID, models.ModeCasual)
	require.NoError(t, err)
	require.NoError(t, a.CancelSearch(ctx))
	assert.Equal(t, StateIdle, a.State())
	require.NoError(t, a.CancelSearch(ctx))

	got, err := h.store.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, got.Status)
}

func TestCancelSearchWhilePlayingIsRejected(t *testing.T) {
	h := newHarness()
	a, _ := h.playing(t, models.ModeCasual)
	err := a.CancelSearch(context.Background())
	assert.Equal(t, models.KindValidation, models.KindOf(err))
	assert.Equal(t, StatePlaying, a.State())
}

func TestPrivateRoomFlow(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	a, b := h.player(), h.player()

	room, code, err := a.CreatePrivateRoom(ctx, models.ModeCollaborative)
	require.NoError(t, err)
	assert.Equal(t, StateWaiting, a.State())

	joined, err := b.JoinByCode(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, room.ID, joined.ID)
	waitState(t, a, StateReady)

	require.NoError(t, b.LeaveRoom(ctx))
	assert.Equal(t, StateIdle, b.State())
	waitState(t, a, StateWaiting)
}

func TestJoinByCodeFailureReturnsToIdle(t *testing.T) {
	h := newHarness()
	a := h.player()
	_, err := a.JoinByCode(context.Background(), "QQQQQQ")
	assert.ErrorIs(t, err, models.ErrRoomNotFound)
	assert.Equal(t, StateIdle, a.State())
}

func TestSearchTwiceIsRejected(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	a := h.player()
	_, err := a.FindMatch(ctx, poker.GameID, models.ModeCasual)
	require.NoError(t, err)
	_, err = a.FindMatch(ctx, poker.GameID, models.ModeCasual)
	assert.Equal(t, models.KindValidation, models.KindOf(err))
}

func TestReapedRoomReturnsToIdle(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	a := h.player()
	_, err := a.FindMatch(ctx, poker.GameID, models.ModeCasual)
	require.NoError(t, err)

	_, err = h.store.ReapStaleRooms(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	waitState(t, a, StateIdle)
}

func TestChat(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	a := h.player()

	assert.ErrorIs(t, a.SendChat(ctx, "hello"), models.ErrNoActiveRoom)
	room, err := a.FindMatch(ctx, poker.GameID, models.ModeCasual)
	require.NoError(t, err)

	assert.Equal(t, models.KindValidation, models.KindOf(a.SendChat(ctx, "   ")))
	long := make([]rune, MaxChatLength+1)
	for i := range long {
		long[i] = 'x'
	}
	assert.Equal(t, models.KindValidation, models.KindOf(a.SendChat(ctx, string(long))))
	require.NoError(t, a.SendChat(ctx, " good luck "))

	actions, err := h.store.ListActions(ctx, room.ID)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.JSONEq(t, `{"text":"good luck"}`, string(actions[0].Payload))
}

func TestForeignStateIsRejectedAsDesync(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	a, b := h.playing(t, models.ModeCasual)

	forged := a.table.Snapshot()
	forged.Players[1].Stack += 1000
	payload, err := json.Marshal(forged)
	require.NoError(t, err)
	_, err = h.store.UpdateGameState(ctx, a.Room().ID, poker.GameID, payload, 1)
	require.NoError(t, err)

	for _, p := range []*player{a, b} {
		require.Eventually(t, func() bool { return len(p.errors()) > 0 }, wait, tick)
		assert.Equal(t, models.KindStateDesync, models.KindOf(p.errors()[0]))
		assert.EqualValues(t, 1, p.Version(), "rejected state is not merged")
	}
}

func TestMoveOutsideRoom(t *testing.T) {
	h := newHarness()
	a := h.player()
	assert.ErrorIs(t, a.Move(context.Background(), move(poker.ActionCheck, 0)), models.ErrNoActiveRoom)
}

func TestStateTransitions(t *testing.T) {
	assert.True(t, StateIdle.CanTransitionTo(StateSearching))
	assert.True(t, StateWaiting.CanTransitionTo(StateReady))
	assert.True(t, StateReady.CanTransitionTo(StatePlaying))
	assert.True(t, StatePlaying.CanTransitionTo(StateFinished))
	assert.False(t, StateIdle.CanTransitionTo(StatePlaying))
	assert.False(t, StateFinished.CanTransitionTo(StatePlaying))
	assert.False(t, StatePlaying.CanTransitionTo(StateWaiting))
	assert.True(t, StatePlaying.InRoom())
	assert.False(t, StateSearching.InRoom())
}
