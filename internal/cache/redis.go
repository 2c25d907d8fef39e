// internal/cache/redis.go
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/tabletop/internal/store"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// DefaultChannelPrefix prefixes the pub/sub channel of every room.
var DefaultChannelPrefix = "room_changes:"

// ConnectRedis builds a client from the environment and pings it:
//   - REDIS_ADDR (default "localhost:6379")
//   - REDIS_DB (optional, default 0)
func ConnectRedis(ctx context.Context) (*redis.Client, error) {
	addr := getEnv("REDIS_ADDR", "localhost:6379")
	dbIdx := getEnvInt("REDIS_DB", 0)

	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   dbIdx,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return rdb, nil
}

// Notifier relays room change events over Redis pub/sub, so every server process
// sharing the database sees the same change stream.
type Notifier struct {
	rdb    *redis.Client
	prefix string
	log    logrus.FieldLogger
}

var _ store.Notifier = (*Notifier)(nil)

// NewNotifier wraps rdb. The channel prefix comes from REDIS_CHANNEL_PREFIX.
func NewNotifier(rdb *redis.Client, log logrus.FieldLogger) *Notifier {
	return &Notifier{
		rdb:    rdb,
		prefix: getEnv("REDIS_CHANNEL_PREFIX", DefaultChannelPrefix),
		log:    log,
	}
}

func (n *Notifier) channel(roomID uuid.UUID) string {
	return n.prefix + roomID.String()
}

// Notify publishes ev as JSON on the room's channel.
func (n *Notifier) Notify(ctx context.Context, ev store.ChangeEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal change event: %w", err)
	}
	if err := n.rdb.Publish(ctx, n.channel(ev.RoomID), data).Err(); err != nil {
		return fmt.Errorf("failed to publish to '%s': %w", n.channel(ev.RoomID), err)
	}
	return nil
}

// Listen subscribes to the room's channel. It returns once Redis confirmed the
// subscription, so no event published after Listen returns is missed.
func (n *Notifier) Listen(ctx context.Context, roomID uuid.UUID) (<-chan store.ChangeEvent, error) {
	ps := n.rdb.Subscribe(ctx, n.channel(roomID))
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("failed to subscribe to '%s': %w", n.channel(roomID), err)
	}

	out := make(chan store.ChangeEvent)
	msgs := ps.Channel()
	go func() {
		defer close(out)
		defer ps.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev store.ChangeEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					n.log.WithError(err).WithField("channel", msg.Channel).Warn("dropping malformed change event")
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// getEnv is a helper to read an environment variable or return a default value.
func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// getEnvInt is a helper to parse an environment variable as integer, else a default value.
func getEnvInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
