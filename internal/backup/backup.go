// Package backup creates and restores checksummed point-in-time bundles of
// a user's records, stored locally and mirrored to remote blob storage.
package backup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/helgasoul/eva-sync/internal/blob"
	"github.com/helgasoul/eva-sync/internal/netmon"
	"github.com/helgasoul/eva-sync/internal/store"
	"go.uber.org/zap"
)

// ErrNotFound is returned when a bundle exists neither locally nor remotely.
var ErrNotFound = errors.New("backup not found")

// ErrCorrupted is returned when a bundle's checksum does not match its data.
var ErrCorrupted = errors.New("backup corrupted")

// Version is the current bundle format version.
const Version = 1

// Bundle is the portable backup format. Data holds the exact serialized
// bytes of {collection: [records]}; the checksum is computed over those
// bytes, so the bundle survives restore on a different device unchanged.
type Bundle struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"timestamp"`
	Version   int             `json:"version"`
	Checksum  string          `json:"checksum"`
}

// Covered lists the collections included in a backup.
func Covered() []store.Collection {
	return []store.Collection{
		store.SymptomEntries,
		store.NutritionEntries,
		store.MedicalEvents,
	}
}

// Info is a bundle summary without the data payload.
type Info struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"timestamp"`
	Version   int       `json:"version"`
	Size      int       `json:"size"`
}

// Manager implements backup create/restore over the local store and blob
// storage.
type Manager struct {
	db      *store.DB
	blob    blob.Storage
	monitor *netmon.Monitor
	logger  *zap.Logger
}

// NewManager creates a backup manager. blob and monitor may be nil, in
// which case bundles stay device-local.
func NewManager(db *store.DB, bs blob.Storage, monitor *netmon.Monitor, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{db: db, blob: bs, monitor: monitor, logger: logger}
}

func blobKey(userID, backupID string) string {
	return fmt.Sprintf("backups/%s/%s.json", userID, backupID)
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Create snapshots the user's records across the covered collections into
// a new bundle. The bundle is always stored locally; the remote upload is
// best-effort and its failure does not fail the backup.
func (m *Manager) Create(ctx context.Context, userID string) (string, error) {
	data := make(map[store.Collection][]map[string]any, len(Covered()))
	for _, col := range Covered() {
		recs, err := m.db.GetAllForUser(col, userID)
		if err != nil {
			return "", fmt.Errorf("create backup: %w", err)
		}
		docs := make([]map[string]any, 0, len(recs))
		for _, rec := range recs {
			docs = append(docs, rec.Document())
		}
		data[col] = docs
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("create backup: %w", err)
	}

	now := time.Now()
	bundle := Bundle{
		ID:        fmt.Sprintf("backup_%s_%d", userID, now.UnixMilli()),
		UserID:    userID,
		Data:      raw,
		CreatedAt: now,
		Version:   Version,
		Checksum:  checksum(raw),
	}
	encoded, err := json.Marshal(bundle)
	if err != nil {
		return "", fmt.Errorf("create backup: %w", err)
	}

	rec := store.Record{
		ID:        bundle.ID,
		UserID:    userID,
		UpdatedAt: now,
		Fields:    map[string]any{"bundle": string(encoded)},
	}
	if err := m.db.Put(store.Backups, rec); err != nil {
		return "", fmt.Errorf("create backup: %w", err)
	}

	if m.blob != nil && (m.monitor == nil || m.monitor.Online()) {
		if err := m.blob.Upload(ctx, blobKey(userID, bundle.ID), encoded); err != nil {
			m.logger.Warn("backup upload failed, bundle kept local",
				zap.String("backup_id", bundle.ID), zap.Error(err))
		}
	}

	m.logger.Info("backup created",
		zap.String("backup_id", bundle.ID), zap.Int("bytes", len(encoded)))
	return bundle.ID, nil
}

// Restore applies a bundle's records to the local store. The bundle is
// looked up locally first, then in blob storage when online. The checksum
// is verified and every record decoded before anything is written, so a
// corrupt bundle leaves the store untouched.
func (m *Manager) Restore(ctx context.Context, userID, backupID string) error {
	encoded, err := m.loadBundle(ctx, userID, backupID)
	if err != nil {
		return err
	}

	var bundle Bundle
	if err := json.Unmarshal(encoded, &bundle); err != nil {
		return fmt.Errorf("restore %s: %w: %v", backupID, ErrCorrupted, err)
	}
	if bundle.UserID != userID {
		return fmt.Errorf("restore %s: bundle belongs to user %s", backupID, bundle.UserID)
	}
	if checksum(bundle.Data) != bundle.Checksum {
		return fmt.Errorf("restore %s: %w: checksum mismatch", backupID, ErrCorrupted)
	}

	var data map[string][]map[string]any
	if err := json.Unmarshal(bundle.Data, &data); err != nil {
		return fmt.Errorf("restore %s: %w: %v", backupID, ErrCorrupted, err)
	}

	// Decode and validate everything before the first write.
	var items []store.CollectionRecord
	for name, docs := range data {
		col, err := store.ParseCollection(name)
		if err != nil {
			return fmt.Errorf("restore %s: %w", backupID, err)
		}
		for _, doc := range docs {
			rec, err := store.FromDocument(doc)
			if err != nil {
				return fmt.Errorf("restore %s: %w: %v", backupID, ErrCorrupted, err)
			}
			items = append(items, store.CollectionRecord{Collection: col, Record: rec})
		}
	}

	// One transaction, so a storage failure mid-restore writes nothing.
	if err := m.db.PutAll(items); err != nil {
		return fmt.Errorf("restore %s: %w", backupID, err)
	}

	m.logger.Info("backup restored",
		zap.String("backup_id", backupID), zap.Int("records", len(items)))
	return nil
}

func (m *Manager) loadBundle(ctx context.Context, userID, backupID string) ([]byte, error) {
	rec, err := m.db.Get(store.Backups, backupID)
	if err != nil {
		return nil, fmt.Errorf("restore %s: %w", backupID, err)
	}
	if rec != nil {
		encoded, _ := rec.Fields["bundle"].(string)
		if encoded == "" {
			return nil, fmt.Errorf("restore %s: %w: empty bundle", backupID, ErrCorrupted)
		}
		return []byte(encoded), nil
	}

	if m.blob == nil || (m.monitor != nil && !m.monitor.Online()) {
		return nil, fmt.Errorf("restore %s: %w", backupID, ErrNotFound)
	}
	encoded, err := m.blob.Download(ctx, blobKey(userID, backupID))
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return nil, fmt.Errorf("restore %s: %w", backupID, ErrNotFound)
		}
		return nil, fmt.Errorf("restore %s: %w", backupID, err)
	}
	return encoded, nil
}

// List returns summaries of the user's local bundles, newest first.
func (m *Manager) List(userID string) ([]Info, error) {
	recs, err := m.db.GetAllForUser(store.Backups, userID)
	if err != nil {
		return nil, fmt.Errorf("list backups: %w", err)
	}
	infos := make([]Info, 0, len(recs))
	for _, rec := range recs {
		encoded, _ := rec.Fields["bundle"].(string)
		var bundle Bundle
		if err := json.Unmarshal([]byte(encoded), &bundle); err != nil {
			continue
		}
		infos = append(infos, Info{
			ID:        bundle.ID,
			UserID:    bundle.UserID,
			CreatedAt: bundle.CreatedAt,
			Version:   bundle.Version,
			Size:      len(bundle.Data),
		})
	}
	for i, j := 0, len(infos)-1; i < j; i, j = i+1, j-1 {
		infos[i], infos[j] = infos[j], infos[i]
	}
	return infos, nil
}
