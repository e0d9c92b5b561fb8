package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duisenbekovayan/ordersync/internal/cache"
)

func createTestSQLite(t *testing.T, path string) *SQLite {
	t.Helper()
	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// exerciseMedium runs the contract every cache medium must honour.
func exerciseMedium(t *testing.T, m cache.Medium) {
	t.Helper()
	ctx := context.Background()
	now := time.Date(2026, 10, 15, 10, 0, 0, 0, time.UTC)

	_, ok, err := m.Load(ctx, "ns:missing")
	require.NoError(t, err)
	assert.False(t, ok)

	live := cache.Entry{Value: json.RawMessage(`{"orders":[{"id":1}]}`), Expiry: now.Add(time.Hour).UnixMilli()}
	stale := cache.Entry{Value: json.RawMessage(`1`), Expiry: now.Add(-time.Second).UnixMilli()}
	require.NoError(t, m.Save(ctx, "ns:live", live))
	require.NoError(t, m.Save(ctx, "ns:stale", stale))

	got, ok, err := m.Load(ctx, "ns:live")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, string(live.Value), string(got.Value))
	assert.Equal(t, live.Expiry, got.Expiry)

	// Overwrite keeps one row per key.
	live.Value = json.RawMessage(`{"orders":[]}`)
	require.NoError(t, m.Save(ctx, "ns:live", live))
	got, _, err = m.Load(ctx, "ns:live")
	require.NoError(t, err)
	assert.JSONEq(t, `{"orders":[]}`, string(got.Value))

	n, err := m.DeleteExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, m.Delete(ctx, "ns:live"))
	_, ok, err = m.Load(ctx, "ns:live")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLite_Medium(t *testing.T) {
	s := createTestSQLite(t, filepath.Join(t.TempDir(), "cache.db"))
	exerciseMedium(t, s)
}

func TestSQLite_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.db")
	clock := time.Date(2026, 10, 15, 10, 0, 0, 0, time.UTC)
	now := func() time.Time { return clock }

	first, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, cache.New(first, cache.WithClock(now)).Set(ctx, "orders:all", []int{1, 2}, time.Minute))
	require.NoError(t, first.Close())

	second := createTestSQLite(t, path)
	var ids []int
	ok, err := cache.New(second, cache.WithClock(now)).Get(ctx, "orders:all", &ids)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []int{1, 2}, ids)
}

func TestOpenSQLite_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	for i := 0; i < 3; i++ {
		s, err := OpenSQLite(path)
		if err != nil {
			t.Fatalf("OpenSQLite() iteration %d failed: %v", i, err)
		}
		s.Close()
	}
}

func TestMapSQLiteError(t *testing.T) {
	full := sqlite3.Error{Code: sqlite3.ErrFull}
	assert.ErrorIs(t, mapSQLiteError(full), cache.ErrStorageFull)

	other := sqlite3.Error{Code: sqlite3.ErrBusy}
	assert.NotErrorIs(t, mapSQLiteError(other), cache.ErrStorageFull)
	assert.NoError(t, mapSQLiteError(nil))
}

func TestMapPGError(t *testing.T) {
	full := &pq.Error{Code: "53100", Message: "could not extend file"}
	assert.ErrorIs(t, mapPGError(full), cache.ErrStorageFull)

	unique := &pq.Error{Code: "23505"}
	assert.False(t, errors.Is(mapPGError(unique), cache.ErrStorageFull))
}

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://wb:secret@db:5433/orders?sslmode=disable", DSN("db", 5433, "wb", "secret", "orders"))
}

func TestPG_Medium(t *testing.T) {
	dsn := os.Getenv("ORDERSYNC_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("ORDERSYNC_TEST_PG_DSN not set")
	}
	pg, err := New(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { pg.Close() })

	_, err = pg.DB.Exec(`DELETE FROM cache_entries WHERE key LIKE 'ns:%'`)
	require.NoError(t, err)
	exerciseMedium(t, pg)
}
