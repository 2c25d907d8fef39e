package store_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/tabletop/internal/models"
	"github.com/jason-s-yu/tabletop/internal/store"
	"github.com/jason-s-yu/tabletop/internal/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryConformance(t *testing.T) {
	storetest.Run(t, store.NewMemory())
}

func TestMemoryReapHonoursCutoff(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	now := base
	m.SetClock(func() time.Time { return now })

	old, err := m.CreateRoom(ctx, store.CreateRoomParams{GameID: "poker", Mode: models.ModeCasual, MaxPlayers: 2, CreatedBy: uuid.New()})
	require.NoError(t, err)
	now = base.Add(10 * time.Minute)
	fresh, err := m.CreateRoom(ctx, store.CreateRoomParams{GameID: "poker", Mode: models.ModeCasual, MaxPlayers: 2, CreatedBy: uuid.New()})
	require.NoError(t, err)

	res, err := m.ReapStaleRooms(ctx, base.Add(5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{old.ID}, res.Cancelled)
	assert.Empty(t, res.Abandoned)

	got, err := m.GetRoom(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusWaiting, got.Status)
}

func TestMemoryReapSparesRecentDisconnects(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	m.SetClock(func() time.Time { return now })

	u1, u2 := uuid.New(), uuid.New()
	r, err := m.CreateRoom(ctx, store.CreateRoomParams{GameID: "poker", Mode: models.ModeCasual, MaxPlayers: 2, CreatedBy: u1})
	require.NoError(t, err)
	_, err = m.JoinRoom(ctx, r.ID, u2)
	require.NoError(t, err)
	_, err = m.SetReady(ctx, r.ID, u1, true)
	require.NoError(t, err)
	_, err = m.SetReady(ctx, r.ID, u2, true)
	require.NoError(t, err)

	require.NoError(t, m.SetConnected(ctx, r.ID, u1, false))
	now = now.Add(time.Minute)
	require.NoError(t, m.SetConnected(ctx, r.ID, u2, false))

	res, err := m.ReapStaleRooms(ctx, now.Add(-30*time.Second))
	require.NoError(t, err)
	assert.Empty(t, res.Abandoned, "second player left after the cutoff")

	res, err = m.ReapStaleRooms(ctx, now.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{r.ID}, res.Abandoned)
}

func TestFanoutSlowReaderKeepsOrder(t *testing.T) {
	f := store.NewFanout()
	room := uuid.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := f.Subscribe(ctx, room)
	assert.Equal(t, 1, f.Subscribers(room))

	const n = 500
	for i := 0; i < n; i++ {
		f.Publish(store.ChangeEvent{RoomID: room, Action: &models.GameAction{ID: int64(i)}})
	}
	f.Publish(store.ChangeEvent{RoomID: uuid.New()})

	for i := 0; i < n; i++ {
		ev := storetest.Next(t, ch)
		require.Equal(t, int64(i), ev.Action.ID)
	}

	cancel()
	require.Eventually(t, func() bool { return f.Subscribers(room) == 0 }, time.Second, 5*time.Millisecond)
}

func TestFanoutBroadcastsToEverySubscriber(t *testing.T) {
	f := store.NewFanout()
	room := uuid.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	subs := []<-chan store.ChangeEvent{f.Subscribe(ctx, room), f.Subscribe(ctx, room), f.Subscribe(ctx, room)}
	f.Publish(store.ChangeEvent{RoomID: room, Op: store.OpInsert})

	var wg sync.WaitGroup
	for _, ch := range subs {
		wg.Add(1)
		go func(ch <-chan store.ChangeEvent) {
			defer wg.Done()
			ev := storetest.Next(t, ch)
			assert.Equal(t, store.OpInsert, ev.Op)
		}(ch)
	}
	wg.Wait()
}
