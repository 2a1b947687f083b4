package store

import (
	"database/sql"
	"fmt"
	"time"
)

const lastSyncKey = "lastSync"

func checkpointKey(c Collection) string {
	return "checkpoint:" + string(c)
}

func (db *DB) setMeta(key, value string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO sync_metadata (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now)
	if err != nil {
		return fmt.Errorf("set metadata %s: %w", key, err)
	}
	return nil
}

func (db *DB) getMetaTime(key string) (time.Time, error) {
	var value string
	err := db.QueryRow(`SELECT value FROM sync_metadata WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("get metadata %s: %w", key, err)
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("get metadata %s: bad value %q: %w", key, value, err)
	}
	return t, nil
}

// Checkpoint returns a collection's last successful pull checkpoint, or the
// zero time if the collection has never been pulled.
func (db *DB) Checkpoint(c Collection) (time.Time, error) {
	return db.getMetaTime(checkpointKey(c))
}

// SetCheckpoint advances a collection's pull checkpoint. Callers only do
// this after a fully successful pull.
func (db *DB) SetCheckpoint(c Collection, t time.Time) error {
	return db.setMeta(checkpointKey(c), t.UTC().Format(time.RFC3339Nano))
}

// LastSync returns the time of the last completed sync cycle, or the zero
// time if no cycle has completed.
func (db *DB) LastSync() (time.Time, error) {
	return db.getMetaTime(lastSyncKey)
}

// SetLastSync records the completion time of a sync cycle.
func (db *DB) SetLastSync(t time.Time) error {
	return db.setMeta(lastSyncKey, t.UTC().Format(time.RFC3339Nano))
}
