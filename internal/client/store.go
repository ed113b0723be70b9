package client

import (
	"context"
	"errors"
	"sort"
	"sync"

	"cyclecal/internal/keylock"
	"cyclecal/internal/model"
	"cyclecal/internal/rider"

	"go.uber.org/zap"
)

// Updater sends event patches to the server.
type Updater interface {
	UpdateEvent(ctx context.Context, patch model.UpdateEventData) Result
}

// EventStore is the local view of events. Updates are applied optimistically
// and rolled back to the pre-update snapshot when the server reports
// failure. Updates of one event are serialized, and a rollback only lands
// if nothing else wrote the event while the update was in flight.
type EventStore struct {
	updater Updater
	logger  *zap.Logger

	mu     sync.RWMutex
	events map[string]model.Event
	gens   map[string]uint64
	locks  *keylock.Locks
}

func NewEventStore(updater Updater, logger *zap.Logger) *EventStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventStore{
		updater: updater,
		logger:  logger,
		events:  make(map[string]model.Event),
		gens:    make(map[string]uint64),
		locks:   keylock.New(),
	}
}

// Load replaces the stored copies of the given events.
func (s *EventStore) Load(events []model.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range events {
		s.setLocked(ev)
	}
}

func (s *EventStore) Get(d model.Discipline, id string) (model.Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.events[model.EventKey(d, id)]
	if !ok {
		return model.Event{}, false
	}
	return ev.Clone(), true
}

// Events returns the stored events of one discipline ordered by date.
func (s *EventStore) Events(d model.Discipline) []model.Event {
	s.mu.RLock()
	out := make([]model.Event, 0, len(s.events))
	for _, ev := range s.events {
		if ev.EventType == d {
			out = append(out, ev.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Date.Equal(out[j].Date) {
			return out[i].ID < out[j].ID
		}
		return out[i].Date.Before(out[j].Date)
	})
	return out
}

// Update applies patch locally, sends it, and restores the previous state
// if the server does not confirm it.
func (s *EventStore) Update(ctx context.Context, patch model.UpdateEventData) Result {
	unlock := s.locks.Lock(patch.Key())
	defer unlock()

	ev, ok := s.Get(patch.EventType, patch.EventID)
	if !ok {
		return failure("event %s is not loaded", patch.Key())
	}
	return s.updateLocked(ctx, ev, patch)
}

// MoveRider moves name between two buckets of the same pair. housingURL is
// attached when the target is a housing bucket and the event has none.
func (s *EventStore) MoveRider(ctx context.Context, d model.Discipline, id string, from, to rider.List, name, housingURL string) Result {
	return s.modify(ctx, d, id, func(ev model.Event) (model.UpdateEventData, error) {
		patch, err := rider.Move(ev, from, to, name)
		if err != nil {
			return patch, err
		}
		if rider.IsHousing(to) && ev.HousingURL == "" && housingURL != "" {
			patch.HousingURL = model.String(housingURL)
		}
		return patch, nil
	})
}

// RemoveRider drops name from the interested or committed bucket.
func (s *EventStore) RemoveRider(ctx context.Context, d model.Discipline, id string, list rider.List, name string) Result {
	return s.modify(ctx, d, id, func(ev model.Event) (model.UpdateEventData, error) {
		switch list {
		case rider.Interested:
			return rider.RemoveInterested(ev, name), nil
		case rider.Committed:
			return rider.RemoveCommitted(ev, name), nil
		}
		return model.UpdateEventData{}, model.Invalidf("riders can only be removed from %s or %s", rider.Interested, rider.Committed)
	})
}

// AddInterested adds name to the interested riders unless it is already on
// the event.
func (s *EventStore) AddInterested(ctx context.Context, d model.Discipline, id string, name string) Result {
	return s.modify(ctx, d, id, func(ev model.Event) (model.UpdateEventData, error) {
		patch, ok := rider.AddInterested(ev, name)
		if !ok {
			return patch, errAlreadyListed
		}
		return patch, nil
	})
}

var errAlreadyListed = errors.New("rider is already listed")

// modify builds a patch from the current state of an event under its lock.
func (s *EventStore) modify(ctx context.Context, d model.Discipline, id string, build func(model.Event) (model.UpdateEventData, error)) Result {
	unlock := s.locks.Lock(model.EventKey(d, id))
	defer unlock()

	ev, ok := s.Get(d, id)
	if !ok {
		return failure("event %s is not loaded", model.EventKey(d, id))
	}
	patch, err := build(ev)
	if errors.Is(err, errAlreadyListed) {
		return Result{Message: err.Error(), Success: true, Event: &ev}
	}
	if err != nil {
		return Result{Message: err.Error()}
	}
	return s.updateLocked(ctx, ev, patch)
}

// updateLocked runs the optimistic update. The caller holds the event lock.
func (s *EventStore) updateLocked(ctx context.Context, snapshot model.Event, patch model.UpdateEventData) Result {
	optimistic := patch.Apply(snapshot)
	if patch.ChangesHousing(snapshot) && optimistic.HousingURL == "" {
		return Result{Message: model.ErrHousingURLRequired.Error()}
	}

	gen := s.put(optimistic)
	res := s.updater.UpdateEvent(ctx, patch)
	if !res.Success {
		if s.restore(snapshot, gen) {
			s.logger.Warn("update rejected, rolled back",
				zap.String("event", snapshot.Key()),
				zap.String("message", res.Message))
		} else {
			s.logger.Warn("update rejected, keeping newer state",
				zap.String("event", snapshot.Key()),
				zap.String("message", res.Message))
		}
		return res
	}
	if res.Event != nil {
		s.put(*res.Event)
	}
	return res
}

// put stores ev and returns its generation.
func (s *EventStore) put(ev model.Event) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setLocked(ev)
}

// restore puts snapshot back unless the event was written after gen.
func (s *EventStore) restore(snapshot model.Event, gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gens[snapshot.Key()] != gen {
		return false
	}
	s.setLocked(snapshot)
	return true
}

func (s *EventStore) setLocked(ev model.Event) uint64 {
	key := ev.Key()
	s.events[key] = ev.Clone()
	s.gens[key]++
	return s.gens[key]
}
