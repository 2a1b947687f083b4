package sync

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/helgasoul/eva-sync/internal/store"
)

// Conflict pairs a pulled remote record with the locally modified version
// it collided with.
type Conflict struct {
	Collection store.Collection
	Local      store.Record
	Remote     store.Record
}

// resolveConflict applies the configured policy to one detected conflict.
// The local side is the stored record when present, otherwise the record
// carried by the pending change.
func (c *Coordinator) resolveConflict(col store.Collection, remoteRec store.Record, pending *store.Change) error {
	local := pending.Record
	if stored, err := c.db.Get(col, remoteRec.ID); err != nil {
		return err
	} else if stored != nil {
		local = *stored
	}

	conflict := Conflict{Collection: col, Local: local, Remote: remoteRec}

	switch c.Settings().ConflictResolution {
	case PolicyLastWriteWins:
		return c.resolveLastWriteWins(conflict)
	case PolicyMerge:
		return c.resolveMerge(conflict)
	case PolicyManual:
		return c.deferConflict(conflict)
	}
	return fmt.Errorf("unknown conflict policy %q", c.Settings().ConflictResolution)
}

// resolveLastWriteWins keeps the later write. A local win leaves the
// pending change queued so the winner reaches the remote store on push; a
// remote win drops the superseded queued changes so they cannot clobber
// the accepted remote state.
func (c *Coordinator) resolveLastWriteWins(conflict Conflict) error {
	if conflict.Local.UpdatedAt.After(conflict.Remote.UpdatedAt) {
		return nil
	}
	if err := c.db.Put(conflict.Collection, conflict.Remote); err != nil {
		return err
	}
	if err := c.db.RemoveChangesFor(conflict.Collection, conflict.Remote.ID); err != nil {
		return err
	}
	c.publishQueueUpdate()
	return nil
}

// resolveMerge shallow-merges remote then local fields (local wins on key
// collision), stamps a fresh updated_at, stores the result and re-queues
// it for push in place of the superseded changes.
func (c *Coordinator) resolveMerge(conflict Conflict) error {
	fields := make(map[string]any, len(conflict.Remote.Fields)+len(conflict.Local.Fields))
	for k, v := range conflict.Remote.Fields {
		fields[k] = v
	}
	for k, v := range conflict.Local.Fields {
		fields[k] = v
	}

	merged := store.Record{
		ID:        conflict.Remote.ID,
		UserID:    conflict.Remote.UserID,
		UpdatedAt: time.Now(),
		Fields:    fields,
	}
	if merged.UserID == "" {
		merged.UserID = conflict.Local.UserID
	}

	if err := c.db.Put(conflict.Collection, merged); err != nil {
		return err
	}
	if err := c.db.RemoveChangesFor(conflict.Collection, merged.ID); err != nil {
		return err
	}
	if _, err := c.db.Enqueue(store.Change{
		Collection: conflict.Collection,
		Op:         store.OpUpdate,
		Record:     merged,
		UserID:     merged.UserID,
	}); err != nil {
		return err
	}
	c.publishQueueUpdate()
	return nil
}

// deferConflict persists the unresolved conflict for later user action.
// Neither the local record nor the queue is touched.
func (c *Coordinator) deferConflict(conflict Conflict) error {
	rec := store.Record{
		ID:        "conflict_" + uuid.NewString(),
		UserID:    c.userID,
		UpdatedAt: time.Now(),
		Fields: map[string]any{
			"collection":       string(conflict.Collection),
			"record_id":        conflict.Remote.ID,
			"local":            conflict.Local.Document(),
			"remote":           conflict.Remote.Document(),
			"local_timestamp":  conflict.Local.UpdatedAt.UTC().Format(time.RFC3339Nano),
			"remote_timestamp": conflict.Remote.UpdatedAt.UTC().Format(time.RFC3339Nano),
			"status":           "pending",
		},
	}
	return c.db.Put(store.Conflicts, rec)
}
