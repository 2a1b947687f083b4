package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Enqueue appends a pending change to the durable queue. Changes are never
// deduplicated: multiple queued operations against the same record are
// preserved and replayed in enqueue order.
func (db *DB) Enqueue(ch Change) (Change, error) {
	if !ch.Collection.Valid() {
		return Change{}, fmt.Errorf("enqueue: %w: %q", ErrUnknownCollection, ch.Collection)
	}
	if ch.ID == "" {
		ch.ID = uuid.NewString()
	}
	if ch.QueuedAt.IsZero() {
		ch.QueuedAt = time.Now()
	}
	payload, err := json.Marshal(ch.Record.Document())
	if err != nil {
		return Change{}, fmt.Errorf("enqueue %s: %w", ch.ID, err)
	}
	_, err = db.Exec(`
		INSERT INTO sync_queue (id, collection, op, record_id, user_id, payload, attempts, queued_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ch.ID, string(ch.Collection), string(ch.Op), ch.Record.ID,
		ch.UserID, string(payload), ch.Attempts, ch.QueuedAt.UnixMilli())
	if err != nil {
		return Change{}, fmt.Errorf("enqueue %s: %w", ch.ID, err)
	}
	return ch, nil
}

// PendingChanges returns all queued changes in enqueue order without
// removing them.
func (db *DB) PendingChanges() ([]Change, error) {
	rows, err := db.Query(`
		SELECT id, collection, op, record_id, user_id, payload, attempts, queued_at
		FROM sync_queue ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("pending changes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var changes []Change
	for rows.Next() {
		ch, err := scanChange(rows)
		if err != nil {
			return nil, err
		}
		changes = append(changes, ch)
	}
	return changes, rows.Err()
}

// PendingChangeFor returns the most recently enqueued pending change
// targeting the given record, or nil if none is queued.
func (db *DB) PendingChangeFor(c Collection, recordID string) (*Change, error) {
	row := db.QueryRow(`
		SELECT id, collection, op, record_id, user_id, payload, attempts, queued_at
		FROM sync_queue WHERE collection = ? AND record_id = ?
		ORDER BY seq DESC LIMIT 1`,
		string(c), recordID)
	ch, err := scanChange(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

// PendingCount returns the number of queued changes.
func (db *DB) PendingCount() (int, error) {
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM sync_queue`).Scan(&n); err != nil {
		return 0, fmt.Errorf("pending count: %w", err)
	}
	return n, nil
}

// RemoveChange removes a single change after its remote operation succeeded.
func (db *DB) RemoveChange(id string) error {
	if _, err := db.Exec(`DELETE FROM sync_queue WHERE id = ?`, id); err != nil {
		return fmt.Errorf("remove change %s: %w", id, err)
	}
	return nil
}

// RemoveChangesFor drops every queued change targeting a record. Used when
// conflict resolution accepts the remote version wholesale.
func (db *DB) RemoveChangesFor(c Collection, recordID string) error {
	if _, err := db.Exec(
		`DELETE FROM sync_queue WHERE collection = ? AND record_id = ?`,
		string(c), recordID); err != nil {
		return fmt.Errorf("remove changes for %s/%s: %w", c, recordID, err)
	}
	return nil
}

// MarkChangeAttempt increments a change's failed-attempt counter.
func (db *DB) MarkChangeAttempt(id string) error {
	if _, err := db.Exec(
		`UPDATE sync_queue SET attempts = attempts + 1 WHERE id = ?`, id); err != nil {
		return fmt.Errorf("mark attempt %s: %w", id, err)
	}
	return nil
}

// ClearQueue removes all queued changes. Used for destructive local resets.
func (db *DB) ClearQueue() error {
	if _, err := db.Exec(`DELETE FROM sync_queue`); err != nil {
		return fmt.Errorf("clear queue: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChange(row rowScanner) (Change, error) {
	var (
		ch         Change
		collection string
		op         string
		recordID   string
		payload    string
		queuedAt   int64
	)
	if err := row.Scan(&ch.ID, &collection, &op, &recordID, &ch.UserID,
		&payload, &ch.Attempts, &queuedAt); err != nil {
		return Change{}, err
	}
	ch.Collection = Collection(collection)
	ch.Op = Op(op)
	ch.QueuedAt = time.UnixMilli(queuedAt)

	var doc map[string]any
	if err := json.Unmarshal([]byte(payload), &doc); err != nil {
		return Change{}, fmt.Errorf("change %s: %w", ch.ID, err)
	}
	// Deletes may be enqueued with a bare id after the record is gone.
	if id, _ := doc["id"].(string); id == "" {
		doc["id"] = recordID
	}
	rec, err := FromDocument(doc)
	if err != nil {
		return Change{}, fmt.Errorf("change %s: %w", ch.ID, err)
	}
	ch.Record = rec
	return ch, nil
}
