package sync

import (
	"fmt"
	"time"

	"github.com/helgasoul/eva-sync/internal/store"
)

// Policy selects how detected conflicts are resolved.
type Policy string

const (
	// PolicyLastWriteWins keeps whichever side was modified later.
	PolicyLastWriteWins Policy = "last_write_wins"
	// PolicyMerge shallow-merges remote then local fields.
	PolicyMerge Policy = "merge"
	// PolicyManual defers the conflict to the conflicts collection.
	PolicyManual Policy = "manual"
)

// ParsePolicy validates a policy name.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicyLastWriteWins, PolicyMerge, PolicyManual:
		return Policy(s), nil
	}
	return "", fmt.Errorf("unknown conflict policy %q", s)
}

// Settings are the coordinator knobs, mutable at runtime.
type Settings struct {
	AutoSync            bool
	Interval            time.Duration
	BatchSize           int
	RetryAttempts       int
	ConflictResolution  Policy
	PriorityCollections []store.Collection
}

// DefaultSettings returns the built-in coordinator settings.
func DefaultSettings() Settings {
	return Settings{
		AutoSync:           true,
		Interval:           30 * time.Second,
		BatchSize:          50,
		RetryAttempts:      3,
		ConflictResolution: PolicyLastWriteWins,
		PriorityCollections: []store.Collection{
			store.SymptomEntries,
			store.NutritionEntries,
			store.MedicalEvents,
		},
	}
}

func (s Settings) normalized() Settings {
	if s.Interval <= 0 {
		s.Interval = 30 * time.Second
	}
	if s.BatchSize <= 0 {
		s.BatchSize = 50
	}
	if s.ConflictResolution == "" {
		s.ConflictResolution = PolicyLastWriteWins
	}
	return s
}

// Syncable lists the collections replicated against the remote store.
// Conflicts and backups are device-local bookkeeping and never leave the
// device through the sync path.
func Syncable() []store.Collection {
	return []store.Collection{
		store.SymptomEntries,
		store.NutritionEntries,
		store.MedicalEvents,
		store.CycleEntries,
		store.CommunityPosts,
	}
}
