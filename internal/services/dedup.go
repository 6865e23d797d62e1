package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

// ProcessedEvent records a payment event that has been fully applied.
type ProcessedEvent struct {
	ExternalEventID string    `json:"external_event_id"`
	Kind            string    `json:"kind"`
	BookingID       string    `json:"booking_id"`
	Outcome         string    `json:"outcome"`
	ProcessedAt     time.Time `json:"processed_at"`
}

// ProcessedEventStore remembers applied event ids for a retention window.
// Mark is only called after an event has been handled, so an attempt that
// failed half way is redelivered and retried.
type ProcessedEventStore interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Mark(ctx context.Context, ev ProcessedEvent) error
	Close() error
}

var ErrEventStoreClosed = errors.New("processed event store is closed")

type MemoryEventStore struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]memoryEntry
	closed  bool
	now     func() time.Time
}

type memoryEntry struct {
	event     ProcessedEvent
	expiresAt time.Time
}

func NewMemoryEventStore(ttl time.Duration) *MemoryEventStore {
	return &MemoryEventStore{
		ttl:     ttl,
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (s *MemoryEventStore) Seen(ctx context.Context, eventID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false, ErrEventStoreClosed
	}
	e, ok := s.entries[eventID]
	return ok && s.now().Before(e.expiresAt), nil
}

func (s *MemoryEventStore) Mark(ctx context.Context, ev ProcessedEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrEventStoreClosed
	}
	now := s.now()
	for id, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, id)
		}
	}
	s.entries[ev.ExternalEventID] = memoryEntry{event: ev, expiresAt: now.Add(s.ttl)}
	return nil
}

func (s *MemoryEventStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.entries = nil
	return nil
}

// RedisEventStore shares processed ids between processes.
type RedisEventStore struct {
	Redis  *redis.Client
	ttl    time.Duration
	prefix string
}

func NewRedisEventStore(redisClient *redis.Client, ttl time.Duration) *RedisEventStore {
	return &RedisEventStore{Redis: redisClient, ttl: ttl, prefix: "processed_event:"}
}

func (s *RedisEventStore) Seen(ctx context.Context, eventID string) (bool, error) {
	n, err := s.Redis.Exists(ctx, s.prefix+eventID).Result()
	if err != nil {
		return false, fmt.Errorf("check processed event %s: %w", eventID, err)
	}
	return n > 0, nil
}

func (s *RedisEventStore) Mark(ctx context.Context, ev ProcessedEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	// SetNX keeps the first record if two deliveries race to the finish.
	if err := s.Redis.SetNX(ctx, s.prefix+ev.ExternalEventID, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("mark processed event %s: %w", ev.ExternalEventID, err)
	}
	return nil
}

func (s *RedisEventStore) Close() error { return nil }

// BadgerEventStore keeps processed ids on local disk so they survive restarts
// of a single-node deployment.
type BadgerEventStore struct {
	db     *badger.DB
	ttl    time.Duration
	prefix []byte
	owned  bool
}

func NewBadgerEventStore(db *badger.DB, ttl time.Duration) *BadgerEventStore {
	return &BadgerEventStore{db: db, ttl: ttl, prefix: []byte("processed_event:")}
}

// OpenBadgerEventStore opens (or creates) a database at path. Close closes it.
func OpenBadgerEventStore(path string, ttl time.Duration) (*BadgerEventStore, error) {
	db, err := badger.Open(badger.DefaultOptions(path).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("open processed event store at %s: %w", path, err)
	}
	s := NewBadgerEventStore(db, ttl)
	s.owned = true
	return s, nil
}

func (s *BadgerEventStore) key(eventID string) []byte {
	return append(append([]byte{}, s.prefix...), eventID...)
}

func (s *BadgerEventStore) Seen(ctx context.Context, eventID string) (bool, error) {
	var seen bool
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(s.key(eventID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		seen = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("check processed event %s: %w", eventID, err)
	}
	return seen, nil
}

func (s *BadgerEventStore) Mark(ctx context.Context, ev ProcessedEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry(s.key(ev.ExternalEventID), data).WithTTL(s.ttl))
	})
}

func (s *BadgerEventStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}
