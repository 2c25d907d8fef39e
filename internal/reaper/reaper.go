// Package reaper sweeps rooms nobody is playing in: waiting rooms that never
// filled, and matches whose players all dropped.
package reaper

import (
	"context"
	"time"

	"github.com/jason-s-yu/tabletop/internal/store"
	"github.com/sirupsen/logrus"
)

// Reaper periodically calls ReapStaleRooms with a cutoff of now minus the inactivity timeout.
type Reaper struct {
	store      store.RoomStore
	interval   time.Duration
	inactivity time.Duration
	log        logrus.FieldLogger
	now        func() time.Time
}

func New(rs store.RoomStore, interval, inactivity time.Duration, log logrus.FieldLogger) *Reaper {
	return &Reaper{
		store:      rs,
		interval:   interval,
		inactivity: inactivity,
		log:        log.WithField("component", "reaper"),
		now:        time.Now,
	}
}

// Sweep runs a single pass.
func (r *Reaper) Sweep(ctx context.Context) (store.ReapResult, error) {
	cutoff := r.now().Add(-r.inactivity)
	res, err := r.store.ReapStaleRooms(ctx, cutoff)
	if err != nil {
		return res, err
	}
	for _, id := range res.Cancelled {
		r.log.WithField("room_id", id).Info("cancelled stale waiting room")
	}
	for _, id := range res.Abandoned {
		r.log.WithField("room_id", id).Info("marked match abandoned due to inactivity")
	}
	return res, nil
}

// Run sweeps once immediately and then every interval until ctx is done. Failed
// sweeps are logged and retried on the next tick.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.log.WithFields(logrus.Fields{"interval": r.interval, "inactivity": r.inactivity}).Info("reaper started")
	for {
		if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
			r.log.WithError(err).Error("sweep failed")
		}
		select {
		case <-ctx.Done():
			r.log.Info("reaper shutting down")
			return
		case <-ticker.C:
		}
	}
}
