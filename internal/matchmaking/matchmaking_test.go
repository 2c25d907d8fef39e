package matchmaking

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jason-s-yu/tabletop/internal/models"
	"github.com/jason-s-yu/tabletop/internal/store"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService(t *testing.T, opts ...Option) (*Service, *store.Memory) {
	t.Helper()
	l := logrus.New()
	l.SetOutput(io.Discard)
	m := store.NewMemory()
	return NewService(m, l, opts...), m
}

func TestFindMatchCreatesThenJoins(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	a, b := uuid.New(), uuid.New()

	r1, created, err := svc.FindMatch(ctx, a, "poker", models.ModeRanked)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, 1, r1.CurrentPlayers)
	assert.Nil(t, r1.RoomCode)

	r2, created, err := svc.FindMatch(ctx, b, "poker", models.ModeRanked)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, r1.ID, r2.ID)
	assert.Equal(t, 2, r2.CurrentPlayers)
}

func TestFindMatchIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	a := uuid.New()

	r1, _, err := svc.FindMatch(ctx, a, "poker", models.ModeCasual)
	require.NoError(t, err)
	r2, created, err := svc.FindMatch(ctx, a, "poker", models.ModeCasual)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, r1.ID, r2.ID)

	_, _, err = svc.FindMatch(ctx, a, "poker", models.ModeRanked)
	assert.ErrorIs(t, err, models.ErrAlreadySeated)
}

func TestFindMatchSeparatesQueues(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	ranked, _, err := svc.FindMatch(ctx, uuid.New(), "poker", models.ModeRanked)
	require.NoError(t, err)
	casual, created, err := svc.FindMatch(ctx, uuid.New(), "poker", models.ModeCasual)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, ranked.ID, casual.ID)

	other, created, err := svc.FindMatch(ctx, uuid.New(), "chess", models.ModeRanked)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, ranked.ID, other.ID)
}

func TestFindMatchSkipsPrivateRooms(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	private, _, err := svc.CreatePrivateRoom(ctx, uuid.New(), "poker", models.ModeCasual)
	require.NoError(t, err)
	r, created, err := svc.FindMatch(ctx, uuid.New(), "poker", models.ModeCasual)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, private.ID, r.ID)
}

func TestFindMatchRejectsCollaborative(t *testing.T) {
	svc, _ := newService(t)
	_, _, err := svc.FindMatch(context.Background(), uuid.New(), "poker", models.ModeCollaborative)
	assert.Equal(t, models.KindValidation, models.KindOf(err))

	_, _, err = svc.FindMatch(context.Background(), uuid.New(), "", models.ModeCasual)
	assert.Equal(t, models.KindValidation, models.KindOf(err))
}

func TestConcurrentSearchersNeverOverfill(t *testing.T) {
	ctx := context.Background()
	svc, m := newService(t)

	const n = 40
	rooms := make([]uuid.UUID, n)
	users := make([]uuid.UUID, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		users[i] = uuid.New()
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, _, err := svc.FindMatch(ctx, users[i], "poker", models.ModeRanked)
			if assert.NoError(t, err) {
				rooms[i] = r.ID
			}
		}(i)
	}
	wg.Wait()

	seen := map[uuid.UUID]int{}
	for i, id := range rooms {
		seen[id]++
		players, err := m.ListPlayers(ctx, id)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(players), 2)
		found := false
		for _, p := range players {
			found = found || p.UserID == users[i]
		}
		assert.True(t, found, "user %d is seated in the room it was handed", i)
	}
	for id, count := range seen {
		assert.LessOrEqual(t, count, 2, "room %s handed out %d times", id, count)
	}
}

func TestCreatePrivateRoomAndJoinByCode(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	host, guest := uuid.New(), uuid.New()

	room, code, err := svc.CreatePrivateRoom(ctx, host, "poker", models.ModeCollaborative)
	require.NoError(t, err)
	require.Len(t, code, CodeLength)
	for _, c := range code {
		assert.True(t, strings.ContainsRune(CodeAlphabet, c), "unexpected %q in code", c)
	}
	require.NotNil(t, room.RoomCode)
	assert.Equal(t, code, *room.RoomCode)

	joined, err := svc.JoinByCode(ctx, guest, " "+strings.ToLower(code)+" ")
	require.NoError(t, err)
	assert.Equal(t, room.ID, joined.ID)
	assert.Equal(t, 2, joined.CurrentPlayers)

	again, err := svc.JoinByCode(ctx, guest, code)
	require.NoError(t, err, "rejoining your own seat is fine")
	assert.Equal(t, room.ID, again.ID)

	_, err = svc.JoinByCode(ctx, uuid.New(), code)
	assert.ErrorIs(t, err, models.ErrRoomFull)
}

func TestJoinByCodeErrors(t *testing.T) {
	ctx := context.Background()
	svc, m := newService(t)

	_, err := svc.JoinByCode(ctx, uuid.New(), "ABC")
	assert.Equal(t, models.KindValidation, models.KindOf(err))

	_, err = svc.JoinByCode(ctx, uuid.New(), "ZZZZZZ")
	assert.ErrorIs(t, err, models.ErrRoomNotFound)

	host := uuid.New()
	room, code, err := svc.CreatePrivateRoom(ctx, host, "poker", models.ModeCasual)
	require.NoError(t, err)
	require.NoError(t, m.CancelRoom(ctx, room.ID))
	_, err = svc.JoinByCode(ctx, uuid.New(), code)
	assert.ErrorIs(t, err, models.ErrRoomNotJoinable)
}

func TestCreatePrivateRoomRetriesCollisions(t *testing.T) {
	ctx := context.Background()
	codes := []string{"AAAAAA", "AAAAAA", "BBBBBB"}
	i := 0
	gen := func() (string, error) {
		c := codes[i%len(codes)]
		i++
		return c, nil
	}
	svc, _ := newService(t, WithCodeGenerator(gen))

	_, c1, err := svc.CreatePrivateRoom(ctx, uuid.New(), "poker", models.ModeCasual)
	require.NoError(t, err)
	assert.Equal(t, "AAAAAA", c1)
	_, c2, err := svc.CreatePrivateRoom(ctx, uuid.New(), "poker", models.ModeCasual)
	require.NoError(t, err)
	assert.Equal(t, "BBBBBB", c2)
}

func TestCreatePrivateRoomGivesUp(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, WithCodeAttempts(3), WithCodeGenerator(func() (string, error) { return "SAME22", nil }))

	_, _, err := svc.CreatePrivateRoom(ctx, uuid.New(), "poker", models.ModeCasual)
	require.NoError(t, err)
	_, _, err = svc.CreatePrivateRoom(ctx, uuid.New(), "poker", models.ModeCasual)
	assert.ErrorIs(t, err, models.ErrCodeCollision)
	assert.Equal(t, models.KindConflict, models.KindOf(err))
}

func TestCancelSearch(t *testing.T) {
	ctx := context.Background()
	svc, m := newService(t)
	a, b := uuid.New(), uuid.New()

	require.NoError(t, svc.CancelSearch(ctx, a), "nothing pending")

	room, _, err := svc.FindMatch(ctx, a, "poker", models.ModeCasual)
	require.NoError(t, err)
	require.NoError(t, svc.CancelSearch(ctx, a))
	require.NoError(t, svc.CancelSearch(ctx, a), "second cancel is a no-op")

	got, err := m.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, got.Status)

	room, _, err = svc.FindMatch(ctx, a, "poker", models.ModeCasual)
	require.NoError(t, err)
	_, _, err = svc.FindMatch(ctx, b, "poker", models.ModeCasual)
	require.NoError(t, err)

	require.NoError(t, svc.CancelSearch(ctx, a), "creator with an opponent stays put")
	got, err = m.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.CurrentPlayers)

	require.NoError(t, svc.CancelSearch(ctx, b))
	got, err = m.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentPlayers)
	assert.Equal(t, models.StatusWaiting, got.Status)
}

func TestRandomCode(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		c, err := RandomCode()
		require.NoError(t, err)
		require.Len(t, c, CodeLength)
		assert.Equal(t, c, NormalizeCode(c))
		seen[c] = true
	}
	assert.Greater(t, len(seen), 190)
}
