package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/helgasoul/eva-sync/internal/blob"
	"github.com/helgasoul/eva-sync/internal/store"
)

type fakeBlob struct {
	objects   map[string][]byte
	uploadErr error
}

func newFakeBlob() *fakeBlob {
	return &fakeBlob{objects: make(map[string][]byte)}
}

func (f *fakeBlob) Upload(_ context.Context, key string, data []byte) error {
	if f.uploadErr != nil {
		return f.uploadErr
	}
	f.objects[key] = append([]byte(nil), data...)
	return nil
}

func (f *fakeBlob) Download(_ context.Context, key string) ([]byte, error) {
	data, ok := f.objects[key]
	if !ok {
		return nil, blob.ErrNotFound
	}
	return data, nil
}

func testDB(t *testing.T) *store.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func seed(t *testing.T, db *store.DB, col store.Collection, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		rec := store.Record{
			ID:        fmt.Sprintf("%s-%d", col, i),
			UserID:    "u1",
			UpdatedAt: time.UnixMilli(int64(1000 + i)),
			Fields:    map[string]any{"value": float64(i)},
		}
		if err := db.Put(col, rec); err != nil {
			t.Fatal(err)
		}
	}
}

func TestBackupRestoreRoundTrip(t *testing.T) {
	db := testDB(t)
	m := NewManager(db, nil, nil, nil)

	seed(t, db, store.SymptomEntries, 3)
	seed(t, db, store.NutritionEntries, 2)
	seed(t, db, store.MedicalEvents, 1)

	id, err := m.Create(context.Background(), "u1")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(id, "backup_u1_") {
		t.Errorf("backup id = %q, want backup_u1_<ts>", id)
	}

	// Wipe the covered collections, then restore.
	for _, col := range Covered() {
		recs, err := db.GetAllForUser(col, "u1")
		if err != nil {
			t.Fatal(err)
		}
		for _, rec := range recs {
			if err := db.Delete(col, rec.ID); err != nil {
				t.Fatal(err)
			}
		}
	}

	if err := m.Restore(context.Background(), "u1", id); err != nil {
		t.Fatal(err)
	}

	for col, want := range map[store.Collection]int{
		store.SymptomEntries:   3,
		store.NutritionEntries: 2,
		store.MedicalEvents:    1,
	} {
		recs, err := db.GetAllForUser(col, "u1")
		if err != nil {
			t.Fatal(err)
		}
		if len(recs) != want {
			t.Errorf("%s: got %d records after restore, want %d", col, len(recs), want)
		}
	}
}

func TestRestoreMissingBundle(t *testing.T) {
	db := testDB(t)
	m := NewManager(db, nil, nil, nil)

	err := m.Restore(context.Background(), "u1", "backup_u1_123")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestRestoreFromBlobFallback(t *testing.T) {
	srcDB := testDB(t)
	fb := newFakeBlob()
	src := NewManager(srcDB, fb, nil, nil)

	seed(t, srcDB, store.SymptomEntries, 2)
	id, err := src.Create(context.Background(), "u1")
	if err != nil {
		t.Fatal(err)
	}

	// A fresh device: no local bundle, only the blob copy.
	dstDB := testDB(t)
	dst := NewManager(dstDB, fb, nil, nil)
	if err := dst.Restore(context.Background(), "u1", id); err != nil {
		t.Fatal(err)
	}

	recs, err := dstDB.GetAllForUser(store.SymptomEntries, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Errorf("got %d records on fresh device, want 2", len(recs))
	}
}

func TestUploadFailureKeepsLocalBackup(t *testing.T) {
	db := testDB(t)
	fb := newFakeBlob()
	fb.uploadErr = errors.New("bucket down")
	m := NewManager(db, fb, nil, nil)

	seed(t, db, store.SymptomEntries, 1)
	id, err := m.Create(context.Background(), "u1")
	if err != nil {
		t.Fatalf("create failed on upload error: %v", err)
	}

	// The local bundle alone still restores.
	if err := m.Restore(context.Background(), "u1", id); err != nil {
		t.Fatal(err)
	}
}

func TestChecksumTamperDetection(t *testing.T) {
	db := testDB(t)
	m := NewManager(db, nil, nil, nil)

	seed(t, db, store.SymptomEntries, 1)
	id, err := m.Create(context.Background(), "u1")
	if err != nil {
		t.Fatal(err)
	}

	// Flip one byte inside the bundle's data section.
	rec, err := db.Get(store.Backups, id)
	if err != nil {
		t.Fatal(err)
	}
	encoded := rec.Fields["bundle"].(string)
	var bundle Bundle
	if err := json.Unmarshal([]byte(encoded), &bundle); err != nil {
		t.Fatal(err)
	}
	bundle.Data = json.RawMessage(strings.Replace(string(bundle.Data), `"value":0`, `"value":9`, 1))
	tampered, err := json.Marshal(bundle)
	if err != nil {
		t.Fatal(err)
	}
	rec.Fields["bundle"] = string(tampered)
	if err := db.Put(store.Backups, *rec); err != nil {
		t.Fatal(err)
	}

	// Change the stored record so a partial restore would be visible.
	live := store.Record{
		ID:        "symptom_entries-0",
		UserID:    "u1",
		UpdatedAt: time.UnixMilli(5000),
		Fields:    map[string]any{"value": float64(42)},
	}
	if err := db.Put(store.SymptomEntries, live); err != nil {
		t.Fatal(err)
	}

	err = m.Restore(context.Background(), "u1", id)
	if !errors.Is(err, ErrCorrupted) {
		t.Fatalf("got %v, want ErrCorrupted", err)
	}

	// All-or-nothing: the store is untouched.
	got, err := db.Get(store.SymptomEntries, "symptom_entries-0")
	if err != nil {
		t.Fatal(err)
	}
	if got.Fields["value"] != float64(42) {
		t.Errorf("value = %v, want 42 (store unchanged)", got.Fields["value"])
	}
}

func TestRestoreWrongUser(t *testing.T) {
	db := testDB(t)
	m := NewManager(db, nil, nil, nil)

	seed(t, db, store.SymptomEntries, 1)
	id, err := m.Create(context.Background(), "u1")
	if err != nil {
		t.Fatal(err)
	}

	if err := m.Restore(context.Background(), "someone-else", id); err == nil {
		t.Error("restore for the wrong user succeeded")
	}
}

func TestListBackups(t *testing.T) {
	db := testDB(t)
	m := NewManager(db, nil, nil, nil)
	seed(t, db, store.SymptomEntries, 1)

	first, err := m.Create(context.Background(), "u1")
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(2 * time.Millisecond) // distinct timestamp ids
	second, err := m.Create(context.Background(), "u1")
	if err != nil {
		t.Fatal(err)
	}

	infos, err := m.List("u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 2 {
		t.Fatalf("got %d backups, want 2", len(infos))
	}
	if infos[0].ID != second || infos[1].ID != first {
		t.Errorf("list order = %s, %s; want newest first", infos[0].ID, infos[1].ID)
	}
}
