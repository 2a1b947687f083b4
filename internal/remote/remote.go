// Package remote defines the contract to the hosted relational store and
// its HTTP implementation.
package remote

import (
	"context"
	"fmt"
	"time"

	"github.com/helgasoul/eva-sync/internal/store"
)

// Store is the remote relational store the coordinator syncs against. It
// must support filtering by owning user and updated_at lower bound, and
// must accept the caller's id on insert.
type Store interface {
	// Select returns the user's records modified strictly after updatedAfter,
	// in the order the remote store returns them.
	Select(ctx context.Context, c store.Collection, userID string, updatedAfter time.Time) ([]store.Record, error)
	Insert(ctx context.Context, c store.Collection, rec store.Record) error
	Update(ctx context.Context, c store.Collection, rec store.Record) error
	Delete(ctx context.Context, c store.Collection, id, userID string) error
}

// StatusError is a non-2xx response from the remote store.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("remote responded %d: %s", e.Code, e.Body)
}

// Transient reports whether the error is worth retrying.
func (e *StatusError) Transient() bool {
	return e.Code == 429 || e.Code >= 500
}
