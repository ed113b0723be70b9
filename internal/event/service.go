package event

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cyclecal/internal/cache"
	"cyclecal/internal/db"
	"cyclecal/internal/keylock"
	"cyclecal/internal/metrics"
	"cyclecal/internal/model"
	"cyclecal/internal/notify"
	"cyclecal/internal/rider"
	"cyclecal/internal/upstream"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// sharedFetchTimeout bounds a coalesced fetch, which outlives the caller
// that started it.
const sharedFetchTimeout = 15 * time.Second

// sharedContext detaches a coalesced fetch from the first caller's
// cancellation so waiting callers do not fail with it.
func sharedContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), sharedFetchTimeout)
}

// RegistrationSource looks up the riders registered for events.
type RegistrationSource interface {
	Registrations(ctx context.Context, d model.Discipline, after time.Time) (upstream.Registrations, error)
}

// EventSource resolves a public event URL to its record.
type EventSource interface {
	EventByURL(ctx context.Context, eventURL string) (upstream.SourceEvent, error)
}

type Opts struct {
	Repo          db.EventRepository
	Events        cache.Cache[[]model.Event]
	Registrations cache.Cache[upstream.Registrations]
	Results       RegistrationSource
	Source        EventSource
	Publisher     notify.Publisher
	Logger        *zap.Logger
	Now           func() time.Time
}

// Service implements the calendar operations. Reads go through the caches;
// mutations of one event are serialized and invalidate the cached list of
// its discipline.
type Service struct {
	repo      db.EventRepository
	events    cache.Cache[[]model.Event]
	regs      cache.Cache[upstream.Registrations]
	results   RegistrationSource
	source    EventSource
	publisher notify.Publisher
	logger    *zap.Logger
	now       func() time.Time

	locks  *keylock.Locks
	flight singleflight.Group
}

func NewService(opts Opts) *Service {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Publisher == nil {
		opts.Publisher = notify.Nop{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Events == nil {
		opts.Events = cache.NewTTL[[]model.Event](cache.DefaultTTL)
	}
	if opts.Registrations == nil {
		opts.Registrations = cache.NewTTL[upstream.Registrations](cache.DefaultTTL)
	}
	return &Service{
		repo:      opts.Repo,
		events:    opts.Events,
		regs:      opts.Registrations,
		results:   opts.Results,
		source:    opts.Source,
		publisher: opts.Publisher,
		logger:    opts.Logger,
		now:       opts.Now,
		locks:     keylock.New(),
	}
}

// EventsByType returns the events of one discipline ordered by date.
func (s *Service) EventsByType(ctx context.Context, d model.Discipline) ([]model.Event, error) {
	if !d.Valid() {
		return nil, model.Invalidf("unknown event type %q", d)
	}

	key := cache.EventsKey(d)
	if events, ok := s.events.Get(ctx, key); ok {
		return events, nil
	}

	v, err, _ := s.flight.Do(key, func() (interface{}, error) {
		ctx, cancel := sharedContext(ctx)
		defer cancel()
		events, err := s.repo.GetEventsByType(ctx, d)
		if err != nil {
			return nil, err
		}
		s.events.Set(ctx, key, events)
		return events, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]model.Event), nil
}

func (s *Service) Event(ctx context.Context, d model.Discipline, id string) (model.Event, error) {
	if !d.Valid() {
		return model.Event{}, model.Invalidf("unknown event type %q", d)
	}
	return s.repo.GetEvent(ctx, d, id)
}

// RegisteredRiders returns the registrations of a discipline from the given
// day on. Lookups on the same calendar day share one cache entry.
func (s *Service) RegisteredRiders(ctx context.Context, d model.Discipline, after time.Time) (upstream.Registrations, error) {
	if !d.Sourced() {
		return nil, model.Invalidf("no registrations for event type %q", d)
	}
	if s.results == nil {
		return nil, errors.New("registration lookup not configured")
	}

	key := cache.RegistrationKey(d, after)
	if regs, ok := s.regs.Get(ctx, key); ok {
		return regs, nil
	}

	v, err, _ := s.flight.Do("registrations:"+key, func() (interface{}, error) {
		ctx, cancel := sharedContext(ctx)
		defer cancel()
		regs, err := s.results.Registrations(ctx, d, after)
		if err != nil {
			return nil, err
		}
		s.regs.Set(ctx, key, regs)
		return regs, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(upstream.Registrations), nil
}

// RiderLists returns the event with its reconciled rider buckets. The
// registered bucket is joined from the registration lookup for display
// only; a failed lookup leaves it empty.
func (s *Service) RiderLists(ctx context.Context, d model.Discipline, id string, after time.Time) (model.Event, rider.Lists, error) {
	ev, err := s.Event(ctx, d, id)
	if err != nil {
		return model.Event{}, nil, err
	}

	var registered []string
	if d.Sourced() && s.results != nil {
		regs, err := s.RegisteredRiders(ctx, d, after)
		if err != nil {
			s.logger.Warn("registration lookup failed, showing event without registrations",
				zap.String("event", ev.Key()), zap.Error(err))
		} else {
			registered = regs.For(id)
		}
	}
	return ev, rider.ForEvent(ev, registered), nil
}

// UpdateEvent applies a partial patch to an event.
func (s *Service) UpdateEvent(ctx context.Context, patch model.UpdateEventData) (model.Event, error) {
	if err := patch.Validate(); err != nil {
		return model.Event{}, err
	}
	if patch.Empty() {
		return model.Event{}, model.Invalidf("nothing to update")
	}

	unlock := s.locks.Lock(patch.Key())
	defer unlock()

	ev, err := s.repo.GetEvent(ctx, patch.EventType, patch.EventID)
	if err != nil {
		return model.Event{}, err
	}
	return s.applyLocked(ctx, ev, patch)
}

// MoveRider moves a rider between two buckets of the same pair.
func (s *Service) MoveRider(ctx context.Context, req MoveRequest) (model.Event, error) {
	if err := req.Validate(); err != nil {
		return model.Event{}, err
	}

	unlock := s.locks.Lock(model.EventKey(req.EventType, req.EventID))
	defer unlock()

	ev, err := s.repo.GetEvent(ctx, req.EventType, req.EventID)
	if err != nil {
		return model.Event{}, err
	}

	patch, err := rider.Move(ev, req.From, req.To, req.Name)
	if err != nil {
		return model.Event{}, fmt.Errorf("%w: %w", model.ErrInvalidInput, err)
	}
	if rider.IsHousing(req.To) && ev.HousingURL == "" && req.HousingURL != "" {
		patch.HousingURL = model.String(req.HousingURL)
	}
	return s.applyLocked(ctx, ev, patch)
}

// RemoveRider drops a rider from the interested or committed bucket.
func (s *Service) RemoveRider(ctx context.Context, req RemoveRequest) (model.Event, error) {
	if err := req.Validate(); err != nil {
		return model.Event{}, err
	}

	unlock := s.locks.Lock(model.EventKey(req.EventType, req.EventID))
	defer unlock()

	ev, err := s.repo.GetEvent(ctx, req.EventType, req.EventID)
	if err != nil {
		return model.Event{}, err
	}

	patch := rider.RemoveCommitted(ev, req.Name)
	if req.List == rider.Interested {
		patch = rider.RemoveInterested(ev, req.Name)
	}
	return s.applyLocked(ctx, ev, patch)
}

// applyLocked persists patch on ev. The caller holds the event's lock.
func (s *Service) applyLocked(ctx context.Context, ev model.Event, patch model.UpdateEventData) (model.Event, error) {
	updated := patch.Apply(ev)
	if patch.ChangesHousing(ev) && updated.HousingURL == "" {
		return model.Event{}, fmt.Errorf("event %s: %w", ev.Key(), model.ErrHousingURLRequired)
	}
	updated.UpdatedAt = s.now()

	if err := s.repo.SaveEvent(ctx, updated); err != nil {
		return model.Event{}, err
	}
	s.invalidate(ctx, updated.EventType)
	s.publish(ctx, notify.Change{
		Kind:      notify.KindUpdated,
		EventType: updated.EventType,
		EventID:   updated.ID,
		Patch:     &patch,
		At:        updated.UpdatedAt,
	})
	return updated, nil
}

// SubmitEvent imports a race from the event source.
func (s *Service) SubmitEvent(ctx context.Context, req SubmitRequest) (model.Event, error) {
	if err := req.Validate(); err != nil {
		return model.Event{}, err
	}
	if s.source == nil {
		return model.Event{}, errors.New("event source not configured")
	}

	src, err := s.source.EventByURL(ctx, req.URL)
	if errors.Is(err, upstream.ErrEventNotFound) {
		return model.Event{}, fmt.Errorf("%w: %w", model.ErrNotFound, err)
	}
	if err != nil {
		return model.Event{}, fmt.Errorf("failed to look up event: %w", err)
	}

	date, err := src.Date()
	if err != nil {
		return model.Event{}, fmt.Errorf("event source returned unparseable date %q: %w", src.StartDate, err)
	}

	now := s.now()
	ev := model.Event{
		ID:               src.ID(),
		EventType:        req.EventType,
		Name:             src.Name,
		Date:             date,
		City:             src.City,
		State:            src.State,
		Address:          src.Address,
		EventURL:         req.URL,
		InterestedRiders: []string{},
		CommittedRiders:  []string{},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	return ev, s.create(ctx, ev)
}

// SubmitSpecialEvent creates a team or special event.
func (s *Service) SubmitSpecialEvent(ctx context.Context, req SpecialEventRequest) (model.Event, error) {
	if err := req.Validate(); err != nil {
		return model.Event{}, err
	}
	date, _ := req.ParsedDate()

	now := s.now()
	ev := model.Event{
		ID:               db.GenerateID(),
		EventType:        model.DisciplineSpecial,
		Name:             req.Name,
		Date:             date,
		City:             req.City,
		State:            req.State,
		Address:          req.Address,
		Description:      req.Description,
		EventURL:         req.URL,
		InterestedRiders: []string{},
		CommittedRiders:  []string{},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	return ev, s.create(ctx, ev)
}

func (s *Service) create(ctx context.Context, ev model.Event) error {
	if err := s.repo.CreateEvent(ctx, ev); err != nil {
		return err
	}
	s.invalidate(ctx, ev.EventType)
	s.publish(ctx, notify.Change{
		Kind:      notify.KindSubmitted,
		EventType: ev.EventType,
		EventID:   ev.ID,
		At:        ev.CreatedAt,
	})
	s.logger.Info("event submitted", zap.String("event", ev.Key()), zap.String("name", ev.Name))
	return nil
}

func (s *Service) DeleteEvent(ctx context.Context, d model.Discipline, id string) error {
	if !d.Valid() {
		return model.Invalidf("unknown event type %q", d)
	}

	unlock := s.locks.Lock(model.EventKey(d, id))
	defer unlock()

	if err := s.repo.DeleteEvent(ctx, d, id); err != nil {
		return err
	}
	s.invalidate(ctx, d)
	s.publish(ctx, notify.Change{Kind: notify.KindDeleted, EventType: d, EventID: id, At: s.now()})
	return nil
}

// ClearCaches drops every cached event list and registration lookup.
func (s *Service) ClearCaches(ctx context.Context) {
	s.events.ClearAll(ctx)
	s.regs.ClearAll(ctx)
	s.logger.Info("caches cleared")
}

func (s *Service) invalidate(ctx context.Context, d model.Discipline) {
	s.events.Clear(ctx, cache.EventsKey(d))
}

func (s *Service) publish(ctx context.Context, c notify.Change) {
	metrics.EventMutations.WithLabelValues(string(c.Kind)).Inc()
	if err := s.publisher.Publish(ctx, c); err != nil {
		s.logger.Warn("failed to publish change",
			zap.String("event", model.EventKey(c.EventType, c.EventID)),
			zap.Error(err))
	}
}
