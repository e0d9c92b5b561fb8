package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aquamarinepk/aqm"
)

// DefaultNamespace prefixes every key so cache rows never collide with
// unrelated data kept in the same medium.
const DefaultNamespace = "ordersync"

// ErrStorageFull is returned by a Medium that has run out of room.
var ErrStorageFull = errors.New("cache storage full")

// Entry is the persisted form of a cached value.
type Entry struct {
	Value  json.RawMessage `json:"value"`
	Expiry int64           `json:"expiry"` // epoch millis
}

// Expired reports whether the entry is no longer readable at now.
func (e Entry) Expired(now time.Time) bool {
	return now.UnixMilli() >= e.Expiry
}

// Medium is the durable key-value backend behind a Store.
type Medium interface {
	Load(ctx context.Context, key string) (Entry, bool, error)
	Save(ctx context.Context, key string, e Entry) error
	Delete(ctx context.Context, key string) error
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// Store is a read-through TTL cache. Correctness relies on expiry alone;
// there is no size bound and no request coalescing.
type Store struct {
	medium    Medium
	namespace string
	now       func() time.Time
	logger    aqm.Logger
}

type Option func(*Store)

func WithNamespace(ns string) Option {
	return func(s *Store) {
		if ns != "" {
			s.namespace = ns
		}
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func WithLogger(logger aqm.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New builds a Store over m. A nil medium falls back to process memory.
func New(m Medium, opts ...Option) *Store {
	if m == nil {
		m = NewMemory()
	}
	s := &Store{
		medium:    m,
		namespace: DefaultNamespace,
		now:       time.Now,
		logger:    aqm.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) key(k string) string { return s.namespace + ":" + k }

// Get decodes the live value for key into out. Expired entries are evicted
// and reported as a miss.
func (s *Store) Get(ctx context.Context, key string, out any) (bool, error) {
	nk := s.key(key)
	e, ok, err := s.medium.Load(ctx, nk)
	if err != nil {
		return false, fmt.Errorf("cache load %s: %w", key, err)
	}
	if !ok {
		return false, nil
	}
	if e.Expired(s.now()) {
		if err := s.medium.Delete(ctx, nk); err != nil {
			s.logger.Error("cannot evict expired cache entry", "key", key, "error", err)
		}
		return false, nil
	}
	if err := json.Unmarshal(e.Value, out); err != nil {
		// A row we cannot decode is as good as absent.
		if derr := s.medium.Delete(ctx, nk); derr != nil {
			s.logger.Error("cannot evict undecodable cache entry", "key", key, "error", derr)
		}
		return false, fmt.Errorf("cache decode %s: %w", key, err)
	}
	return true, nil
}

// Set stores value under key until now+ttl. On ErrStorageFull the expired
// entries are swept and the write is retried once.
func (s *Store) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", key, err)
	}
	e := Entry{Value: raw, Expiry: s.now().Add(ttl).UnixMilli()}

	err = s.medium.Save(ctx, s.key(key), e)
	if errors.Is(err, ErrStorageFull) {
		n, sweepErr := s.Sweep(ctx)
		if sweepErr != nil {
			return fmt.Errorf("cache sweep after full storage: %w", sweepErr)
		}
		s.logger.Info("cache storage full, swept expired entries", "removed", n)
		err = s.medium.Save(ctx, s.key(key), e)
	}
	if err != nil {
		return fmt.Errorf("cache save %s: %w", key, err)
	}
	return nil
}

func (s *Store) Invalidate(ctx context.Context, key string) error {
	if err := s.medium.Delete(ctx, s.key(key)); err != nil {
		return fmt.Errorf("cache invalidate %s: %w", key, err)
	}
	return nil
}

// Sweep removes every expired entry and returns how many were dropped.
func (s *Store) Sweep(ctx context.Context) (int, error) {
	return s.medium.DeleteExpired(ctx, s.now())
}
