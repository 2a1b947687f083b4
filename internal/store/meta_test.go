package store

import (
	"testing"
	"time"
)

func TestCheckpointZeroWhenUnset(t *testing.T) {
	db := testDB(t)

	cp, err := db.Checkpoint(SymptomEntries)
	if err != nil {
		t.Fatal(err)
	}
	if !cp.IsZero() {
		t.Errorf("checkpoint = %v, want zero time", cp)
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	db := testDB(t)

	want := time.Date(2026, 3, 14, 9, 26, 53, 589_000_000, time.UTC)
	if err := db.SetCheckpoint(SymptomEntries, want); err != nil {
		t.Fatal(err)
	}

	got, err := db.Checkpoint(SymptomEntries)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(want) {
		t.Errorf("checkpoint = %v, want %v", got, want)
	}

	// Per-collection keys are independent.
	other, err := db.Checkpoint(NutritionEntries)
	if err != nil {
		t.Fatal(err)
	}
	if !other.IsZero() {
		t.Errorf("other collection checkpoint = %v, want zero", other)
	}
}

func TestLastSyncRoundTrip(t *testing.T) {
	db := testDB(t)

	if ls, err := db.LastSync(); err != nil || !ls.IsZero() {
		t.Fatalf("lastSync = %v, %v; want zero, nil", ls, err)
	}

	want := time.Now().Truncate(time.Millisecond)
	if err := db.SetLastSync(want); err != nil {
		t.Fatal(err)
	}
	got, err := db.LastSync()
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(want) {
		t.Errorf("lastSync = %v, want %v", got, want)
	}
}
