package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// Get returns a record by id, or nil if it does not exist.
func (db *DB) Get(c Collection, id string) (*Record, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("get: %w: %q", ErrUnknownCollection, c)
	}
	var payload string
	err := db.QueryRow(
		`SELECT payload FROM records WHERE collection = ? AND id = ?`,
		string(c), id).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", c, id, err)
	}
	rec, err := DecodeRecord([]byte(payload))
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", c, id, err)
	}
	return &rec, nil
}

// GetAll returns every record in a collection. Order follows the primary
// key and is not part of the contract.
func (db *DB) GetAll(c Collection) ([]Record, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("getAll: %w: %q", ErrUnknownCollection, c)
	}
	return db.queryRecords(
		`SELECT payload FROM records WHERE collection = ? ORDER BY id`,
		string(c))
}

// GetAllForUser returns every record in a collection owned by userID.
func (db *DB) GetAllForUser(c Collection, userID string) ([]Record, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("getAllForUser: %w: %q", ErrUnknownCollection, c)
	}
	return db.queryRecords(
		`SELECT payload FROM records WHERE collection = ? AND user_id = ? ORDER BY id`,
		string(c), userID)
}

func (db *DB) queryRecords(query string, args ...any) ([]Record, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var recs []Record
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		rec, err := DecodeRecord([]byte(payload))
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Put upserts a record by primary key.
func (db *DB) Put(c Collection, rec Record) error {
	return putRecord(db.DB, c, rec)
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func putRecord(e execer, c Collection, rec Record) error {
	if !c.Valid() {
		return fmt.Errorf("put: %w: %q", ErrUnknownCollection, c)
	}
	if rec.ID == "" {
		return fmt.Errorf("put %s: record missing id", c)
	}
	payload, err := json.Marshal(rec.Document())
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", c, rec.ID, err)
	}
	_, err = e.Exec(`
		INSERT INTO records (collection, id, user_id, updated_at, payload)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(collection, id) DO UPDATE SET
			user_id = excluded.user_id,
			updated_at = excluded.updated_at,
			payload = excluded.payload`,
		string(c), rec.ID, rec.UserID, rec.UpdatedAt.UnixMilli(), string(payload))
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", c, rec.ID, err)
	}
	return nil
}

// CollectionRecord pairs a record with its destination collection.
type CollectionRecord struct {
	Collection Collection
	Record     Record
}

// PutAll upserts records across collections inside a single transaction; a
// failure on any record writes nothing.
func (db *DB) PutAll(items []CollectionRecord) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("put all: %w", err)
	}
	for _, it := range items {
		if err := putRecord(tx, it.Collection, it.Record); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("put all: %w", err)
	}
	return nil
}

// Delete removes a record. Deleting a missing key is not an error.
func (db *DB) Delete(c Collection, id string) error {
	if !c.Valid() {
		return fmt.Errorf("delete: %w: %q", ErrUnknownCollection, c)
	}
	if _, err := db.Exec(
		`DELETE FROM records WHERE collection = ? AND id = ?`,
		string(c), id); err != nil {
		return fmt.Errorf("delete %s/%s: %w", c, id, err)
	}
	return nil
}
