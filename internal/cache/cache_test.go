package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duisenbekovayan/ordersync/internal/testutil"
)

type payload struct {
	Name string `json:"name"`
	N    int    `json:"n"`
}

func newTestStore(t *testing.T, m Medium) (*Store, *testutil.ManualClock) {
	t.Helper()
	clock := testutil.NewManualClock(time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC))
	return New(m, WithClock(clock.Now)), clock
}

func TestStore_TTL(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(t, NewMemory())

	require.NoError(t, s.Set(ctx, "k", payload{Name: "v", N: 1}, 1000*time.Millisecond))

	clock.Advance(500 * time.Millisecond)
	var got payload
	ok, err := s.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, payload{Name: "v", N: 1}, got)

	clock.Advance(1000 * time.Millisecond)
	ok, err = s.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_ExpiryBoundaryIsMiss(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(t, NewMemory())

	require.NoError(t, s.Set(ctx, "k", 1, time.Second))
	clock.Advance(time.Second)

	var got int
	ok, err := s.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_GetEvictsExpired(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	s, clock := newTestStore(t, m)

	require.NoError(t, s.Set(ctx, "k", 1, time.Second))
	clock.Advance(2 * time.Second)

	var got int
	_, err := s.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.Equal(t, 0, m.Len())
}

func TestStore_Invalidate(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, NewMemory())

	require.NoError(t, s.Set(ctx, "k", "v", time.Hour))
	require.NoError(t, s.Invalidate(ctx, "k"))

	var got string
	ok, err := s.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.False(t, ok)

	// Invalidating a missing key is not an error.
	require.NoError(t, s.Invalidate(ctx, "missing"))
}

func TestStore_Sweep(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	s, clock := newTestStore(t, m)

	require.NoError(t, s.Set(ctx, "short", 1, time.Second))
	require.NoError(t, s.Set(ctx, "long", 2, time.Hour))
	clock.Advance(time.Minute)

	n, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, m.Len())
}

func TestStore_SetSweepsWhenStorageFull(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryWithCapacity(1)
	s, clock := newTestStore(t, m)

	require.NoError(t, s.Set(ctx, "old", 1, time.Second))
	clock.Advance(2 * time.Second)

	require.NoError(t, s.Set(ctx, "new", 2, time.Hour))

	var got int
	ok, err := s.Get(ctx, "new", &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, got)
}

func TestStore_SetFailsWhenStillFull(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, NewMemoryWithCapacity(1))

	require.NoError(t, s.Set(ctx, "live", 1, time.Hour))
	err := s.Set(ctx, "other", 2, time.Hour)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStorageFull)
}

func TestStore_Namespace(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	a := New(m, WithNamespace("a"))
	b := New(m, WithNamespace("b"))

	require.NoError(t, a.Set(ctx, "k", "from-a", time.Hour))

	var got string
	ok, err := b.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.False(t, ok)

	_, found, err := m.Load(ctx, "a:k")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestStore_UndecodableIsMiss(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	s, _ := newTestStore(t, m)

	require.NoError(t, s.Set(ctx, "k", "text", time.Hour))

	var got payload
	ok, err := s.Get(ctx, "k", &got)
	require.Error(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, m.Len())
}

// stuckMedium refuses every delete.
type stuckMedium struct {
	*Memory
	deletes int
}

func (m *stuckMedium) Delete(ctx context.Context, key string) error {
	m.deletes++
	return errors.New("read-only medium")
}

func TestStore_UndecodableEvictFailureKeepsDecodeError(t *testing.T) {
	ctx := context.Background()
	m := &stuckMedium{Memory: NewMemory()}
	s, _ := newTestStore(t, m)

	require.NoError(t, s.Set(ctx, "k", "text", time.Hour))

	var got payload
	ok, err := s.Get(ctx, "k", &got)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cache decode")
	assert.False(t, ok)
	assert.Equal(t, 1, m.deletes)
}

func TestNew_NilMediumUsesMemory(t *testing.T) {
	s := New(nil)
	require.NotNil(t, s.medium)
	assert.Equal(t, DefaultNamespace, s.namespace)
}
