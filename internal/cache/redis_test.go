package cache

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/tabletop/internal/models"
	"github.com/jason-s-yu/tabletop/internal/store"
	"github.com/jason-s-yu/tabletop/internal/store/storetest"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startRedis(t *testing.T) *redis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping redis container in -short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	testcontainers.CleanupContainer(t, c)
	require.NoError(t, err)

	addr, err := c.Endpoint(ctx, "")
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { rdb.Close() })
	require.NoError(t, rdb.Ping(ctx).Err())
	return rdb
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestNotifierRoundTrip(t *testing.T) {
	rdb := startRedis(t)
	n := NewNotifier(rdb, quietLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	room := uuid.New()
	other := uuid.New()

	ch, err := n.Listen(ctx, room)
	require.NoError(t, err)

	require.NoError(t, n.Notify(ctx, store.ChangeEvent{Table: store.TableRooms, Op: store.OpInsert, RoomID: other}))
	for i := int64(1); i <= 3; i++ {
		err := n.Notify(ctx, store.ChangeEvent{
			Table:  store.TableGameActions,
			Op:     store.OpInsert,
			RoomID: room,
			Action: &models.GameAction{ID: i, RoomID: room, Kind: models.ActionMove},
		})
		require.NoError(t, err)
	}

	for i := int64(1); i <= 3; i++ {
		ev := storetest.Next(t, ch)
		assert.Equal(t, room, ev.RoomID)
		require.NotNil(t, ev.Action)
		assert.Equal(t, i, ev.Action.ID)
	}
}

func TestNotifierDropsMalformedPayloads(t *testing.T) {
	rdb := startRedis(t)
	n := NewNotifier(rdb, quietLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	room := uuid.New()
	ch, err := n.Listen(ctx, room)
	require.NoError(t, err)

	require.NoError(t, rdb.Publish(ctx, n.channel(room), "{not json").Err())
	require.NoError(t, n.Notify(ctx, store.ChangeEvent{Table: store.TableRooms, Op: store.OpUpdate, RoomID: room}))

	ev := storetest.Next(t, ch)
	assert.Equal(t, store.OpUpdate, ev.Op)
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("TABLETOP_TEST_INT", "17")
	t.Setenv("TABLETOP_TEST_BAD", "x")
	assert.Equal(t, 17, getEnvInt("TABLETOP_TEST_INT", 3))
	assert.Equal(t, 3, getEnvInt("TABLETOP_TEST_BAD", 3))
	assert.Equal(t, "fallback", getEnv("TABLETOP_TEST_UNSET", "fallback"))
}
