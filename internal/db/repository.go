package db

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"cyclecal/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EventRepository defines the storage operations on event documents. Events
// are addressed by (event type, event id).
type EventRepository interface {
	GetEventsByType(ctx context.Context, d model.Discipline) ([]model.Event, error)
	GetEvent(ctx context.Context, d model.Discipline, id string) (model.Event, error)
	CreateEvent(ctx context.Context, e model.Event) error
	SaveEvent(ctx context.Context, e model.Event) error
	DeleteEvent(ctx context.Context, d model.Discipline, id string) error
	ListEvents(ctx context.Context) ([]model.Event, error)
}

var errRepoClosed = errors.New("event repository closed")

type writeOp struct {
	ctx  context.Context
	fn   func(tx *gorm.DB) error
	done chan error
}

// EventRepo is the gorm-backed EventRepository.
type EventRepo struct {
	db      *gorm.DB
	writeCh chan writeOp
	closeMu sync.Once
	stop    chan struct{}
	stopped chan struct{}
}

// NewEventRepository migrates the events table and starts the writer that
// applies every mutation in submission order.
func NewEventRepository(db *gorm.DB) (*EventRepo, error) {
	if err := db.AutoMigrate(&model.Event{}); err != nil {
		return nil, fmt.Errorf("failed to migrate events table: %w", err)
	}
	repo := &EventRepo{
		db:      db,
		writeCh: make(chan writeOp, 100),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go repo.processWrites()
	return repo, nil
}

func (r *EventRepo) processWrites() {
	defer close(r.stopped)
	for {
		select {
		case op := <-r.writeCh:
			op.done <- op.fn(r.db.WithContext(op.ctx))
		case <-r.stop:
			return
		}
	}
}

func (r *EventRepo) write(ctx context.Context, fn func(tx *gorm.DB) error) error {
	select {
	case <-r.stop:
		return errRepoClosed
	default:
	}

	op := writeOp{ctx: ctx, fn: fn, done: make(chan error, 1)}
	select {
	case r.writeCh <- op:
	case <-r.stop:
		return errRepoClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	// Once queued the writer owns the op, so report what it did rather than
	// the caller's cancellation.
	select {
	case err := <-op.done:
		return err
	case <-r.stopped:
		select {
		case err := <-op.done:
			return err
		default:
			return errRepoClosed
		}
	}
}

// Close stops the writer. Writes still queued fail with errRepoClosed.
func (r *EventRepo) Close() {
	r.closeMu.Do(func() {
		close(r.stop)
		<-r.stopped
	})
}

func (r *EventRepo) GetEventsByType(ctx context.Context, d model.Discipline) ([]model.Event, error) {
	events := []model.Event{}
	err := r.db.WithContext(ctx).
		Where("event_type = ?", d).
		Order("date ASC").
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list %s events: %w", d, err)
	}
	return events, nil
}

func (r *EventRepo) GetEvent(ctx context.Context, d model.Discipline, id string) (model.Event, error) {
	var e model.Event
	err := r.db.WithContext(ctx).
		Where("event_type = ? AND id = ?", d, id).
		First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Event{}, fmt.Errorf("event %s: %w", model.EventKey(d, id), model.ErrNotFound)
	}
	if err != nil {
		return model.Event{}, fmt.Errorf("failed to get event %s: %w", model.EventKey(d, id), err)
	}
	return e, nil
}

func (r *EventRepo) CreateEvent(ctx context.Context, e model.Event) error {
	return r.write(ctx, func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&e)
		if res.Error != nil {
			return fmt.Errorf("failed to create event %s: %w", e.Key(), res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("event %s: %w", e.Key(), model.ErrAlreadyExists)
		}
		return nil
	})
}

// SaveEvent writes every field of e, inserting it when it does not exist.
func (r *EventRepo) SaveEvent(ctx context.Context, e model.Event) error {
	return r.write(ctx, func(tx *gorm.DB) error {
		if err := tx.Save(&e).Error; err != nil {
			return fmt.Errorf("failed to save event %s: %w", e.Key(), err)
		}
		return nil
	})
}

func (r *EventRepo) DeleteEvent(ctx context.Context, d model.Discipline, id string) error {
	return r.write(ctx, func(tx *gorm.DB) error {
		res := tx.Where("event_type = ? AND id = ?", d, id).Delete(&model.Event{})
		if res.Error != nil {
			return fmt.Errorf("failed to delete event %s: %w", model.EventKey(d, id), res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("event %s: %w", model.EventKey(d, id), model.ErrNotFound)
		}
		return nil
	})
}

func (r *EventRepo) ListEvents(ctx context.Context) ([]model.Event, error) {
	events := []model.Event{}
	if err := r.db.WithContext(ctx).Order("date ASC").Find(&events).Error; err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	return events, nil
}
