package sync

import (
	"time"

	"github.com/helgasoul/eva-sync/internal/store"
)

// ItemError records a single failed pull or push inside a cycle.
type ItemError struct {
	Collection store.Collection `json:"collection"`
	Op         store.Op         `json:"op,omitempty"`
	ChangeID   string           `json:"change_id,omitempty"`
	Message    string           `json:"message"`
}

// Result summarizes one sync cycle. Per-item failures land in Errors
// instead of aborting the cycle, so observers can render partial success.
type Result struct {
	StartedAt time.Time          `json:"started_at"`
	Duration  time.Duration      `json:"duration"`
	Synced    []store.Collection `json:"synced"`
	Pulled    int                `json:"pulled"`
	Pushed    int                `json:"pushed"`
	Conflicts int                `json:"conflicts"`
	Errors    []ItemError        `json:"errors,omitempty"`
}

// OK reports whether the cycle completed without any item errors.
func (r *Result) OK() bool {
	return len(r.Errors) == 0
}

func (r *Result) addError(c store.Collection, op store.Op, changeID string, err error) {
	r.Errors = append(r.Errors, ItemError{
		Collection: c,
		Op:         op,
		ChangeID:   changeID,
		Message:    err.Error(),
	})
}

// Status is the externally observable sync state snapshot.
type Status struct {
	Online         bool        `json:"online"`
	LastSync       time.Time   `json:"last_sync"`
	PendingChanges int         `json:"pending_changes"`
	Syncing        bool        `json:"syncing"`
	Errors         []ItemError `json:"errors,omitempty"`
}
