package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// CacheSet stores a value under key with a TTL, replacing any prior entry.
func (db *DB) CacheSet(key string, value any, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	expires := time.Now().Add(ttl).UnixMilli()
	_, err = db.Exec(`
		INSERT INTO cache (key, payload, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET payload = excluded.payload, expires_at = excluded.expires_at`,
		key, string(payload), expires)
	if err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

// CacheGet reads a cached value into dst. Returns false on a miss. Expired
// entries are evicted lazily and reported as misses.
func (db *DB) CacheGet(key string, dst any) (bool, error) {
	var (
		payload string
		expires int64
	)
	err := db.QueryRow(
		`SELECT payload, expires_at FROM cache WHERE key = ?`, key).
		Scan(&payload, &expires)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache get %s: %w", key, err)
	}
	if time.Now().UnixMilli() >= expires {
		_, _ = db.Exec(`DELETE FROM cache WHERE key = ?`, key)
		return false, nil
	}
	if err := json.Unmarshal([]byte(payload), dst); err != nil {
		return false, fmt.Errorf("cache get %s: %w", key, err)
	}
	return true, nil
}

// CacheSweep deletes all expired entries and returns how many were removed.
func (db *DB) CacheSweep() (int, error) {
	res, err := db.Exec(`DELETE FROM cache WHERE expires_at <= ?`, time.Now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("cache sweep: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
