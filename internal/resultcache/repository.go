// Package resultcache persists backtest results as JSON blobs keyed by input
// fingerprint, with per-class expiry. The cache is strictly best-effort: a
// broken backend degrades every Get to a miss and every Set to a no-op, and
// never fails the request that touched it.
package resultcache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/marketgrid/signalbench/internal/database"
)

const (
	// DefaultOpTimeout bounds a single cache operation.
	DefaultOpTimeout = 5 * time.Second
	// DefaultOpRetries is the number of attempts per operation.
	DefaultOpRetries = 3
	// retryBaseDelay doubles per attempt.
	retryBaseDelay = 100 * time.Millisecond
)

const schema = `
CREATE TABLE IF NOT EXISTS results (
	fingerprint TEXT PRIMARY KEY,
	class       TEXT NOT NULL,
	data        TEXT NOT NULL,
	created_at  INTEGER NOT NULL,
	expires_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_results_expires_at ON results(expires_at);
`

// Stats is a snapshot of cache activity since startup.
type Stats struct {
	Enabled    bool    `json:"enabled"`
	Hits       int64   `json:"hits"`
	Misses     int64   `json:"misses"`
	Sets       int64   `json:"sets"`
	Errors     int64   `json:"errors"`
	HitRatePct float64 `json:"hit_rate_pct"`
	Entries    int64   `json:"entries"`
	SizeBytes  int64   `json:"size_bytes"`
}

// Cache is the fingerprint-keyed result store.
type Cache struct {
	db        *database.DB
	opTimeout time.Duration
	retries   int
	log       zerolog.Logger

	mu       sync.Mutex
	disabled bool
	hits     int64
	misses   int64
	sets     int64
	errors   int64
}

// Open creates (or attaches to) the cache database under dataDir. A failure
// to open or migrate disables the cache instead of propagating the error.
func Open(dataDir string, opTimeout time.Duration, retries int, log zerolog.Logger) *Cache {
	if opTimeout <= 0 {
		opTimeout = DefaultOpTimeout
	}
	if retries <= 0 {
		retries = DefaultOpRetries
	}

	c := &Cache{
		opTimeout: opTimeout,
		retries:   retries,
		log:       log.With().Str("component", "resultcache").Logger(),
	}

	db, err := database.New(database.Config{
		Path:    filepath.Join(dataDir, "results_cache.db"),
		Profile: database.ProfileCache,
	})
	if err != nil {
		c.log.Warn().Err(err).Msg("Cache database unavailable, running without cache")
		c.disabled = true
		return c
	}

	if _, err := db.Exec(schema); err != nil {
		c.log.Warn().Err(err).Msg("Cache schema migration failed, running without cache")
		db.Close()
		c.disabled = true
		return c
	}

	c.db = db
	return c
}

// Close releases the underlying database. Safe on a disabled cache.
func (c *Cache) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Path returns the backing database file, or empty when disabled.
func (c *Cache) Path() string {
	if c.db == nil {
		return ""
	}
	return c.db.Path()
}

// Enabled reports whether the backend is usable.
func (c *Cache) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.disabled
}

// Get returns the cached payload for key, or (nil, false) on miss. Expired
// entries and undecodable payloads count as misses.
func (c *Cache) Get(ctx context.Context, key string) (json.RawMessage, bool) {
	if !c.Enabled() {
		c.record(&c.misses)
		return nil, false
	}

	var data string
	err := c.withRetry(ctx, "get", func(opCtx context.Context) error {
		row := c.db.QueryRowContext(opCtx,
			"SELECT data FROM results WHERE fingerprint = ? AND expires_at > ?",
			key, time.Now().Unix())
		return row.Scan(&data)
	})

	switch {
	case err == sql.ErrNoRows:
		c.record(&c.misses)
		return nil, false
	case err != nil:
		c.record(&c.errors)
		c.record(&c.misses)
		c.log.Warn().Err(err).Str("key", key).Msg("Cache get failed, treating as miss")
		return nil, false
	}

	if !json.Valid([]byte(data)) {
		c.record(&c.misses)
		c.log.Warn().Str("key", key).Msg("Cached payload is not valid JSON, treating as miss")
		return nil, false
	}

	c.record(&c.hits)
	return json.RawMessage(data), true
}

// Set stores value under key with the TTL of its class. Errors are logged
// and swallowed.
func (c *Cache) Set(ctx context.Context, key string, value interface{}, class string) {
	if !c.Enabled() {
		return
	}

	payload, err := json.Marshal(value)
	if err != nil {
		c.record(&c.errors)
		c.log.Warn().Err(err).Str("key", key).Msg("Cache set skipped: payload not serializable")
		return
	}

	now := time.Now()
	err = c.withRetry(ctx, "set", func(opCtx context.Context) error {
		_, execErr := c.db.ExecContext(opCtx,
			"INSERT OR REPLACE INTO results (fingerprint, class, data, created_at, expires_at) VALUES (?, ?, ?, ?, ?)",
			key, class, string(payload), now.Unix(), now.Add(TTLFor(class)).Unix())
		return execErr
	})
	if err != nil {
		c.record(&c.errors)
		c.log.Warn().Err(err).Str("key", key).Msg("Cache set failed")
		return
	}

	c.record(&c.sets)
}

// DeleteExpired removes entries past their expiry and returns the count.
func (c *Cache) DeleteExpired(ctx context.Context) (int64, error) {
	if !c.Enabled() {
		return 0, nil
	}

	var removed int64
	err := c.withRetry(ctx, "delete_expired", func(opCtx context.Context) error {
		res, execErr := c.db.ExecContext(opCtx,
			"DELETE FROM results WHERE expires_at <= ?", time.Now().Unix())
		if execErr != nil {
			return execErr
		}
		removed, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		c.record(&c.errors)
		return 0, fmt.Errorf("delete expired cache entries: %w", err)
	}

	return removed, nil
}

// Clear removes entries whose fingerprint matches the SQL LIKE pattern.
// An empty pattern clears everything.
func (c *Cache) Clear(ctx context.Context, pattern string) (int64, error) {
	if !c.Enabled() {
		return 0, nil
	}

	query := "DELETE FROM results"
	args := []interface{}{}
	if pattern != "" {
		query += " WHERE fingerprint LIKE ?"
		args = append(args, pattern)
	}

	var removed int64
	err := c.withRetry(ctx, "clear", func(opCtx context.Context) error {
		res, execErr := c.db.ExecContext(opCtx, query, args...)
		if execErr != nil {
			return execErr
		}
		removed, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		c.record(&c.errors)
		return 0, fmt.Errorf("clear cache: %w", err)
	}

	return removed, nil
}

// Stats returns a snapshot of counters plus entry count and file size.
func (c *Cache) Stats(ctx context.Context) Stats {
	c.mu.Lock()
	s := Stats{
		Enabled: !c.disabled,
		Hits:    c.hits,
		Misses:  c.misses,
		Sets:    c.sets,
		Errors:  c.errors,
	}
	c.mu.Unlock()

	if total := s.Hits + s.Misses; total > 0 {
		s.HitRatePct = float64(s.Hits) / float64(total) * 100
	}

	if s.Enabled {
		opCtx, cancel := context.WithTimeout(ctx, c.opTimeout)
		defer cancel()
		if err := c.db.QueryRowContext(opCtx,
			"SELECT COUNT(*) FROM results").Scan(&s.Entries); err != nil {
			c.log.Debug().Err(err).Msg("Cache entry count unavailable")
		}
		if dbStats, err := c.db.GetStats(); err == nil {
			s.SizeBytes = dbStats.SizeBytes
		}
	}

	return s
}

// withRetry runs op under the per-operation timeout, retrying with
// exponential backoff. The parent ctx aborts the whole sequence.
func (c *Cache) withRetry(ctx context.Context, name string, op func(context.Context) error) error {
	var err error
	delay := retryBaseDelay

	for attempt := 1; attempt <= c.retries; attempt++ {
		opCtx, cancel := context.WithTimeout(ctx, c.opTimeout)
		err = op(opCtx)
		cancel()

		if err == nil || err == sql.ErrNoRows {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt < c.retries {
			c.log.Debug().
				Err(err).
				Str("op", name).
				Int("attempt", attempt).
				Msg("Cache operation retrying")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			delay *= 2
		}
	}

	return err
}

func (c *Cache) record(counter *int64) {
	c.mu.Lock()
	*counter++
	c.mu.Unlock()
}
