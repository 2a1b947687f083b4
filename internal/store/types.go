package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Collection identifies a record collection. The set of collections is
// closed: unknown names are rejected at the store boundary instead of
// silently creating new tables.
type Collection string

const (
	SymptomEntries   Collection = "symptom_entries"
	NutritionEntries Collection = "nutrition_entries"
	MedicalEvents    Collection = "medical_events"
	CycleEntries     Collection = "cycle_entries"
	CommunityPosts   Collection = "community_posts"
	Conflicts        Collection = "conflicts"
	Backups          Collection = "backups"
)

// ErrUnknownCollection is returned for a collection name outside the closed set.
var ErrUnknownCollection = errors.New("unknown collection")

// Collections returns all known collections.
func Collections() []Collection {
	return []Collection{
		SymptomEntries,
		NutritionEntries,
		MedicalEvents,
		CycleEntries,
		CommunityPosts,
		Conflicts,
		Backups,
	}
}

// Valid reports whether c is a known collection.
func (c Collection) Valid() bool {
	switch c {
	case SymptomEntries, NutritionEntries, MedicalEvents, CycleEntries,
		CommunityPosts, Conflicts, Backups:
		return true
	}
	return false
}

// ParseCollection validates a collection name.
func ParseCollection(s string) (Collection, error) {
	c := Collection(s)
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownCollection, s)
	}
	return c, nil
}

// Record is the unit of storage, sync and conflict resolution: a JSON
// document carrying an id, an owning user and a last-modification time.
// Fields holds the full document; ID, UserID and UpdatedAt mirror the
// corresponding keys.
type Record struct {
	ID        string
	UserID    string
	UpdatedAt time.Time
	Fields    map[string]any
}

// Document returns the record as a JSON-ready map with the id, user_id and
// updated_at keys stamped from the typed fields.
func (r Record) Document() map[string]any {
	doc := make(map[string]any, len(r.Fields)+3)
	for k, v := range r.Fields {
		doc[k] = v
	}
	doc["id"] = r.ID
	doc["user_id"] = r.UserID
	doc["updated_at"] = r.UpdatedAt.UTC().Format(time.RFC3339Nano)
	return doc
}

// FromDocument builds a Record from a decoded JSON document. The id key is
// required; user_id and updated_at are optional (missing updated_at yields
// the zero time).
func FromDocument(doc map[string]any) (Record, error) {
	id, _ := doc["id"].(string)
	if id == "" {
		return Record{}, errors.New("record document missing id")
	}
	rec := Record{ID: id, Fields: doc}
	rec.UserID, _ = doc["user_id"].(string)
	if ts, ok := doc["updated_at"].(string); ok && ts != "" {
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return Record{}, fmt.Errorf("record %s: bad updated_at %q: %w", id, ts, err)
		}
		rec.UpdatedAt = t
	}
	return rec, nil
}

// DecodeRecord parses a serialized record document.
func DecodeRecord(payload []byte) (Record, error) {
	var doc map[string]any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return Record{}, fmt.Errorf("decode record: %w", err)
	}
	return FromDocument(doc)
}

// Op is the kind of mutation a pending change carries.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Change is a pending local mutation awaiting transmission to the remote
// store. For deletes, Record may carry only the id.
type Change struct {
	ID         string
	Collection Collection
	Op         Op
	Record     Record
	UserID     string
	Attempts   int
	QueuedAt   time.Time
}
