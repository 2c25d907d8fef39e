// Package app assembles the storage backend shared by the binaries.
package app

import (
	"context"
	"fmt"

	"github.com/jason-s-yu/tabletop/internal/cache"
	"github.com/jason-s-yu/tabletop/internal/config"
	"github.com/jason-s-yu/tabletop/internal/database"
	"github.com/jason-s-yu/tabletop/internal/rating"
	"github.com/jason-s-yu/tabletop/internal/store"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Backend is an opened room store with its rating repository.
type Backend struct {
	Rooms   store.RoomStore
	Ratings rating.Repository

	closers []func()
}

// Close releases connections in reverse order of opening.
func (b *Backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

// Open connects the backend selected by cfg. The postgres backend runs migrations
// and, with USE_REDIS, fans change events out through Redis so that several
// server processes can share rooms.
func Open(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (*Backend, error) {
	if cfg.Store == config.StoreMemory {
		log.Warn("using the in-memory room store; rooms are lost on restart")
		return &Backend{Rooms: store.NewMemory(), Ratings: rating.NewMemoryRepository()}, nil
	}

	b := &Backend{}
	pool, err := database.Connect(ctx, database.ConnString())
	if err != nil {
		return nil, err
	}
	b.closers = append(b.closers, pool.Close)

	if err := database.Migrate(ctx, pool); err != nil {
		b.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	var notifier store.Notifier
	if cfg.UseRedis {
		var rdb *redis.Client
		rdb, err = cache.ConnectRedis(ctx)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.closers = append(b.closers, func() { _ = rdb.Close() })
		notifier = cache.NewNotifier(rdb, log)
		log.Info("change events fan out through redis")
	}

	b.Rooms = database.NewStore(pool, notifier, log)
	b.Ratings = database.NewRatings(pool)
	return b, nil
}
