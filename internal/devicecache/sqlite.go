package devicecache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS device_cache (
	url               TEXT PRIMARY KEY,
	data              BLOB NOT NULL,
	size              INTEGER NOT NULL,
	owner_channel_key TEXT NOT NULL DEFAULT '',
	created_at        INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_device_cache_owner ON device_cache (owner_channel_key);
CREATE INDEX IF NOT EXISTS idx_device_cache_created ON device_cache (created_at);
`

// deleteFraction is the share of oldest rows removed when the entry cap is
// exceeded.
const deleteFraction = 0.2

// persistentTier stores payloads in a local sqlite file so a cache survives
// restarts. One row per url, aged out oldest-first in batches.
type persistentTier struct {
	db         *sql.DB
	maxEntries int
}

func openPersistent(path string, maxEntries int) (*persistentTier, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init cache schema: %w", err)
	}
	return &persistentTier{db: db, maxEntries: maxEntries}, nil
}

func (p *persistentTier) get(ctx context.Context, url string) ([]byte, bool, error) {
	var data []byte
	err := p.db.QueryRowContext(ctx,
		"SELECT data FROM device_cache WHERE url = ?", url).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("query cache: %w", err)
	}
	return data, true, nil
}

func (p *persistentTier) put(ctx context.Context, url string, data []byte, ownerChannelKey string) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO device_cache (url, data, size, owner_channel_key, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(url) DO UPDATE SET
		   data = excluded.data, size = excluded.size,
		   owner_channel_key = excluded.owner_channel_key,
		   created_at = excluded.created_at`,
		url, data, len(data), ownerChannelKey, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("insert cache entry: %w", err)
	}
	return p.enforceCap(ctx)
}

func (p *persistentTier) enforceCap(ctx context.Context) error {
	var count int
	if err := p.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM device_cache").Scan(&count); err != nil {
		return fmt.Errorf("count cache entries: %w", err)
	}
	if count <= p.maxEntries {
		return nil
	}
	batch := int(float64(count) * deleteFraction)
	if batch < 1 {
		batch = 1
	}
	_, err := p.db.ExecContext(ctx,
		`DELETE FROM device_cache WHERE url IN (
		   SELECT url FROM device_cache ORDER BY created_at ASC, rowid ASC LIMIT ?)`, batch)
	if err != nil {
		return fmt.Errorf("age out cache entries: %w", err)
	}
	return nil
}

func (p *persistentTier) count(ctx context.Context) (int, error) {
	var count int
	err := p.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM device_cache").Scan(&count)
	return count, err
}

// reset drops and recreates the table.
func (p *persistentTier) reset(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, "DROP TABLE IF EXISTS device_cache"); err != nil {
		return fmt.Errorf("drop cache table: %w", err)
	}
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("recreate cache schema: %w", err)
	}
	return nil
}

func (p *persistentTier) close() error {
	return p.db.Close()
}
