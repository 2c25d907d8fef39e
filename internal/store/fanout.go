package store

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Fanout delivers change events to in-process subscribers of a room. Each
// subscriber has its own unbounded queue, so a slow reader never blocks a
// publisher and never misses an event.
type Fanout struct {
	mu   sync.Mutex
	subs map[uuid.UUID]map[*subscriber]struct{}
}

// NewFanout returns an empty fan-out.
func NewFanout() *Fanout {
	return &Fanout{subs: make(map[uuid.UUID]map[*subscriber]struct{})}
}

type subscriber struct {
	mu     sync.Mutex
	queue  []ChangeEvent
	signal chan struct{}
	out    chan ChangeEvent
}

// Subscribe registers a subscriber for roomID. The returned channel is closed after ctx is done.
func (f *Fanout) Subscribe(ctx context.Context, roomID uuid.UUID) <-chan ChangeEvent {
	sub := &subscriber{
		signal: make(chan struct{}, 1),
		out:    make(chan ChangeEvent),
	}

	f.mu.Lock()
	if f.subs[roomID] == nil {
		f.subs[roomID] = make(map[*subscriber]struct{})
	}
	f.subs[roomID][sub] = struct{}{}
	f.mu.Unlock()

	go func() {
		defer f.remove(roomID, sub)
		sub.pump(ctx)
	}()
	return sub.out
}

// Publish queues ev for every current subscriber of ev.RoomID.
func (f *Fanout) Publish(ev ChangeEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for sub := range f.subs[ev.RoomID] {
		sub.push(ev)
	}
}

// Subscribers reports how many subscribers roomID has.
func (f *Fanout) Subscribers(roomID uuid.UUID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs[roomID])
}

func (f *Fanout) remove(roomID uuid.UUID, sub *subscriber) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subs[roomID], sub)
	if len(f.subs[roomID]) == 0 {
		delete(f.subs, roomID)
	}
}

func (s *subscriber) push(ev ChangeEvent) {
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *subscriber) pump(ctx context.Context) {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-ctx.Done():
				return
			case <-s.signal:
				continue
			}
		}
		ev := s.queue[0]
		s.queue[0] = ChangeEvent{}
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- ev:
		case <-ctx.Done():
			return
		}
	}
}

// Notify implements Notifier for single-process deployments.
func (f *Fanout) Notify(_ context.Context, ev ChangeEvent) error {
	f.Publish(ev)
	return nil
}

// Listen implements Notifier.
func (f *Fanout) Listen(ctx context.Context, roomID uuid.UUID) (<-chan ChangeEvent, error) {
	return f.Subscribe(ctx, roomID), nil
}
