package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/duisenbekovayan/ordersync/internal/cache"
)

// pgDiskFull is the SQLSTATE Postgres reports when it cannot extend a file.
const pgDiskFull = "53100"

const pgSchema = `
CREATE TABLE IF NOT EXISTS cache_entries (
	key    TEXT PRIMARY KEY,
	value  JSONB NOT NULL,
	expiry BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cache_entries_expiry ON cache_entries (expiry);`

// PG keeps cache entries in a Postgres table.
type PG struct{ DB *sql.DB }

func New(dsn string) (*PG, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(time.Hour)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if _, err := db.Exec(pgSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &PG{DB: db}, nil
}

func (p *PG) Close() error { return p.DB.Close() }

func (p *PG) Load(ctx context.Context, key string) (cache.Entry, bool, error) {
	var e cache.Entry
	var value []byte
	err := p.DB.QueryRowContext(ctx,
		`SELECT value, expiry FROM cache_entries WHERE key=$1`, key).
		Scan(&value, &e.Expiry)
	if errors.Is(err, sql.ErrNoRows) {
		return e, false, nil
	}
	if err != nil {
		return e, false, err
	}
	e.Value = value
	return e, true, nil
}

func (p *PG) Save(ctx context.Context, key string, e cache.Entry) error {
	_, err := p.DB.ExecContext(ctx, `
		INSERT INTO cache_entries (key, value, expiry)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expiry = EXCLUDED.expiry`,
		key, string(e.Value), e.Expiry)
	return mapPGError(err)
}

func (p *PG) Delete(ctx context.Context, key string) error {
	_, err := p.DB.ExecContext(ctx, `DELETE FROM cache_entries WHERE key=$1`, key)
	return err
}

func (p *PG) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := p.DB.ExecContext(ctx, `DELETE FROM cache_entries WHERE expiry <= $1`, now.UnixMilli())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func mapPGError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == pgDiskFull {
		return fmt.Errorf("%w: %s", cache.ErrStorageFull, pqErr.Message)
	}
	return err
}

func DSN(host string, port int, user, pass, db string) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable", user, pass, host, port, db)
}
