package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"direct-booking/internal/status"
	"direct-booking/models"

	"github.com/google/uuid"
)

// MemoryStore keeps everything in maps. It backs tests and single-process runs.
type MemoryStore struct {
	mu         sync.RWMutex
	properties map[string]*models.Property
	bookings   map[string]*models.Booking
	now        func() time.Time
	failNext   error
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		properties: make(map[string]*models.Property),
		bookings:   make(map[string]*models.Booking),
		now:        time.Now,
	}
}

// WithClock replaces the clock used for CreatedAt and UpdatedAt.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

func (s *MemoryStore) PutProperty(p models.Property) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.properties[p.ID] = &p
}

// PutBooking stores b as-is, skipping the overlap check. Used to seed fixtures.
func (s *MemoryStore) PutBooking(b *models.Booking) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bookings[b.ID] = b.Clone()
}

func (s *MemoryStore) LoadProperty(ctx context.Context, id string) (*models.Property, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.properties[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) LoadActiveBookingsForProperty(ctx context.Context, propertyID string) ([]*models.Booking, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.activeLocked(propertyID), nil
}

func (s *MemoryStore) activeLocked(propertyID string) []*models.Booking {
	var out []*models.Booking
	for _, b := range s.bookings {
		if b.PropertyID == propertyID && b.Status.HoldsCalendar() {
			out = append(out, b.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CheckIn.Before(out[j].CheckIn) })
	return out
}

func (s *MemoryStore) InsertBooking(ctx context.Context, b *models.Booking) (*models.Booking, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.takeFailure(); err != nil {
		return nil, err
	}
	if conflict := models.FirstOverlap(s.activeLocked(b.PropertyID), b.CheckIn, b.CheckOut, ""); conflict != nil {
		return nil, &OverlapError{Conflict: conflict.Summary()}
	}

	stored := b.Clone()
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	now := s.now().UTC()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.bookings[stored.ID] = stored
	return stored.Clone(), nil
}

func (s *MemoryStore) LoadBooking(ctx context.Context, id string) (*models.Booking, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	return b.Clone(), nil
}

func (s *MemoryStore) LoadBookingByPaymentReference(ctx context.Context, ref string) (*models.Booking, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, b := range s.bookings {
		if b.PaymentReference != nil && *b.PaymentReference == ref {
			return b.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) UpdateBookingStatus(ctx context.Context, id string, to status.Status, upd BookingUpdate) (*models.Booking, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.takeFailure(); err != nil {
		return nil, err
	}
	b, ok := s.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	applyUpdate(b, to, upd)
	b.UpdatedAt = s.now().UTC()
	return b.Clone(), nil
}

func (s *MemoryStore) ListBookingsByStatus(ctx context.Context, st status.Status, f BookingFilter) ([]*models.Booking, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Booking
	for _, b := range s.bookings {
		if b.Status != st {
			continue
		}
		if !f.CreatedBefore.IsZero() && !b.CreatedAt.Before(f.CreatedBefore) {
			continue
		}
		if f.CheckOutOnOrBefore != nil && b.CheckOut.After(*f.CheckOutOnOrBefore) {
			continue
		}
		out = append(out, b.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// FailNextWrite makes the next InsertBooking or UpdateBookingStatus return err.
func (s *MemoryStore) FailNextWrite(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = err
}

func (s *MemoryStore) takeFailure() error {
	err := s.failNext
	s.failNext = nil
	return err
}
