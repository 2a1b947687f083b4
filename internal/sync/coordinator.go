// Package sync keeps the local store eventually consistent with the remote
// store: pull per collection behind checkpoints, push the queued changes in
// batches, resolve conflicts by policy.
package sync

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"time"

	"github.com/helgasoul/eva-sync/internal/bus"
	"github.com/helgasoul/eva-sync/internal/netmon"
	"github.com/helgasoul/eva-sync/internal/remote"
	"github.com/helgasoul/eva-sync/internal/store"
	"go.uber.org/zap"
)

// ErrSyncInProgress is returned when a cycle is requested while one runs.
var ErrSyncInProgress = errors.New("sync already in progress")

// ErrNoUser is returned when no user is signed in; a cycle aborts before
// any pull or push.
var ErrNoUser = errors.New("no signed-in user")

// Coordinator orchestrates pull and push cycles. A single-flight guard
// refuses overlapping cycles; everything else is sequential within a cycle.
type Coordinator struct {
	db      *store.DB
	remote  remote.Store
	monitor *netmon.Monitor
	bus     *bus.Bus
	logger  *zap.Logger
	userID  string

	mu         gosync.Mutex
	settings   Settings
	syncing    bool
	lastErrors []ItemError

	cancel context.CancelFunc
}

// NewCoordinator creates a coordinator for the given user.
func NewCoordinator(db *store.DB, rs remote.Store, monitor *netmon.Monitor, b *bus.Bus, logger *zap.Logger, userID string, settings Settings) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		db:       db,
		remote:   rs,
		monitor:  monitor,
		bus:      b,
		logger:   logger,
		userID:   userID,
		settings: settings.normalized(),
	}
}

// Settings returns a copy of the current settings.
func (c *Coordinator) Settings() Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings
}

// attemptsSetter is implemented by remote stores whose per-request retry
// bound is adjustable at runtime.
type attemptsSetter interface {
	SetAttempts(int)
}

// UpdateSettings replaces the coordinator settings at runtime. The retry
// bound is pushed down into the remote store when it supports that.
func (c *Coordinator) UpdateSettings(s Settings) {
	s = s.normalized()
	c.mu.Lock()
	c.settings = s
	c.mu.Unlock()

	if s.RetryAttempts > 0 {
		if rs, ok := c.remote.(attemptsSetter); ok {
			rs.SetAttempts(s.RetryAttempts)
		}
	}
}

// Start runs the periodic sync loop and reacts to connectivity transitions.
// Each tick checks the online flag before doing anything; the loop is inert
// while offline or while auto-sync is disabled.
func (c *Coordinator) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	ch, unsub := c.bus.Subscribe("net.", 16)

	go func() {
		defer unsub()
		for {
			select {
			case <-time.After(c.Settings().Interval):
				if c.Settings().AutoSync && c.monitor.Online() {
					c.syncAndLog(ctx)
				}
			case evt := <-ch:
				c.publishStatus()
				if evt.Kind == bus.KindNetOnline && c.Settings().AutoSync {
					c.syncAndLog(ctx)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the loop. An in-flight cycle is not aborted.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (c *Coordinator) syncAndLog(ctx context.Context) {
	res, err := c.Sync(ctx)
	if err != nil {
		if !errors.Is(err, ErrSyncInProgress) {
			c.logger.Error("sync cycle failed", zap.Error(err))
		}
		return
	}
	if !res.OK() {
		c.logger.Warn("sync cycle completed with errors",
			zap.Int("errors", len(res.Errors)),
			zap.Int("pulled", res.Pulled),
			zap.Int("pushed", res.Pushed))
	}
}

// Sync runs one full cycle: pull every syncable collection (priority
// collections first), then drain the queue in batches. Item failures are
// collected in the result; only a missing user or a concurrent cycle fail
// the call itself.
func (c *Coordinator) Sync(ctx context.Context) (*Result, error) {
	if c.userID == "" {
		return nil, ErrNoUser
	}
	if err := c.begin(); err != nil {
		return nil, err
	}
	defer c.end()

	c.bus.Publish(bus.Event{Kind: bus.KindSyncStarted})

	res := &Result{StartedAt: time.Now()}
	settings := c.Settings()

	for _, col := range pullOrder(settings.PriorityCollections) {
		c.pullCollection(ctx, res, col)
	}
	c.pushQueue(ctx, res, settings.BatchSize)

	res.Duration = time.Since(res.StartedAt)
	if err := c.db.SetLastSync(time.Now()); err != nil {
		res.addError("", "", "", err)
	}

	c.mu.Lock()
	c.lastErrors = res.Errors
	c.mu.Unlock()

	kind := bus.KindSyncCompleted
	if !res.OK() {
		kind = bus.KindSyncError
	}
	c.bus.Publish(bus.Event{Kind: kind, Payload: res})
	c.publishStatus()

	return res, nil
}

// QueueChange applies a local mutation to the store and enqueues it for
// push. This is the write path for application logic while offline or
// speculatively before remote confirmation.
func (c *Coordinator) QueueChange(ch store.Change) (store.Change, error) {
	if ch.UserID == "" {
		ch.UserID = c.userID
	}
	switch ch.Op {
	case store.OpInsert, store.OpUpdate:
		if err := c.db.Put(ch.Collection, ch.Record); err != nil {
			return store.Change{}, err
		}
	case store.OpDelete:
		if err := c.db.Delete(ch.Collection, ch.Record.ID); err != nil {
			return store.Change{}, err
		}
	default:
		return store.Change{}, fmt.Errorf("unknown op %q", ch.Op)
	}
	queued, err := c.db.Enqueue(ch)
	if err != nil {
		return store.Change{}, err
	}
	c.publishQueueUpdate()
	return queued, nil
}

// Status returns the externally observable sync state.
func (c *Coordinator) Status() (Status, error) {
	pending, err := c.db.PendingCount()
	if err != nil {
		return Status{}, err
	}
	lastSync, err := c.db.LastSync()
	if err != nil {
		return Status{}, err
	}
	c.mu.Lock()
	syncing := c.syncing
	lastErrors := c.lastErrors
	c.mu.Unlock()

	return Status{
		Online:         c.monitor.Online(),
		LastSync:       lastSync,
		PendingChanges: pending,
		Syncing:        syncing,
		Errors:         lastErrors,
	}, nil
}

func (c *Coordinator) begin() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.syncing {
		return ErrSyncInProgress
	}
	c.syncing = true
	return nil
}

func (c *Coordinator) end() {
	c.mu.Lock()
	c.syncing = false
	c.mu.Unlock()
}

// pullOrder returns the syncable collections with the priority ones first,
// preserving relative order. Priority entries outside the syncable set
// (unknown names, device-local collections) are skipped.
func pullOrder(priority []store.Collection) []store.Collection {
	syncable := Syncable()
	allowed := make(map[store.Collection]bool, len(syncable))
	for _, col := range syncable {
		allowed[col] = true
	}
	seen := make(map[store.Collection]bool, len(priority))
	var out []store.Collection
	for _, col := range priority {
		if allowed[col] && !seen[col] {
			seen[col] = true
			out = append(out, col)
		}
	}
	for _, col := range syncable {
		if !seen[col] {
			out = append(out, col)
		}
	}
	return out
}

// pullCollection fetches remote records modified after the collection's
// checkpoint and upserts them locally. The checkpoint only advances after
// every record applied cleanly, so a failed put is re-pulled next cycle.
func (c *Coordinator) pullCollection(ctx context.Context, res *Result, col store.Collection) {
	checkpoint, err := c.db.Checkpoint(col)
	if err != nil {
		res.addError(col, "", "", err)
		return
	}

	// Captured before the fetch so writes landing remotely mid-pull are
	// covered by the next cycle.
	pullStart := time.Now()

	recs, err := c.remote.Select(ctx, col, c.userID, checkpoint)
	if err != nil {
		res.addError(col, "", "", err)
		return
	}

	failed := false
	for _, rec := range recs {
		if err := c.applyRemote(res, col, rec); err != nil {
			res.addError(col, "", "", err)
			failed = true
		}
	}
	if failed {
		return
	}

	if err := c.db.SetCheckpoint(col, pullStart); err != nil {
		res.addError(col, "", "", err)
		return
	}
	res.Synced = append(res.Synced, col)
	res.Pulled += len(recs)
}

// applyRemote upserts one pulled record, detouring through conflict
// resolution when the record also has a pending queued change.
func (c *Coordinator) applyRemote(res *Result, col store.Collection, rec store.Record) error {
	pending, err := c.db.PendingChangeFor(col, rec.ID)
	if err != nil {
		return err
	}
	if pending == nil {
		return c.db.Put(col, rec)
	}
	res.Conflicts++
	return c.resolveConflict(col, rec, pending)
}

// pushQueue drains the pending queue in enqueue order, split into batches
// to bound round-trips. A failed change stays queued for the next cycle;
// there is no in-cycle retry.
func (c *Coordinator) pushQueue(ctx context.Context, res *Result, batchSize int) {
	changes, err := c.db.PendingChanges()
	if err != nil {
		res.addError("", "", "", err)
		return
	}
	if len(changes) == 0 {
		return
	}

	for start := 0; start < len(changes); start += batchSize {
		end := start + batchSize
		if end > len(changes) {
			end = len(changes)
		}
		for _, ch := range changes[start:end] {
			if err := c.pushChange(ctx, ch); err != nil {
				res.addError(ch.Collection, ch.Op, ch.ID, err)
				if merr := c.db.MarkChangeAttempt(ch.ID); merr != nil {
					c.logger.Warn("failed to mark change attempt",
						zap.String("change_id", ch.ID), zap.Error(merr))
				}
				continue
			}
			if err := c.db.RemoveChange(ch.ID); err != nil {
				res.addError(ch.Collection, ch.Op, ch.ID, err)
				continue
			}
			res.Pushed++
		}
	}
	c.publishQueueUpdate()
}

func (c *Coordinator) pushChange(ctx context.Context, ch store.Change) error {
	switch ch.Op {
	case store.OpInsert:
		return c.remote.Insert(ctx, ch.Collection, ch.Record)
	case store.OpUpdate:
		return c.remote.Update(ctx, ch.Collection, ch.Record)
	case store.OpDelete:
		return c.remote.Delete(ctx, ch.Collection, ch.Record.ID, ch.UserID)
	}
	return fmt.Errorf("unknown op %q", ch.Op)
}

func (c *Coordinator) publishQueueUpdate() {
	pending, err := c.db.PendingCount()
	if err != nil {
		return
	}
	c.bus.Publish(bus.Event{
		Kind:    bus.KindQueueUpdated,
		Payload: bus.QueueUpdate{Pending: pending},
	})
}

func (c *Coordinator) publishStatus() {
	status, err := c.Status()
	if err != nil {
		return
	}
	c.bus.Publish(bus.Event{
		Kind: bus.KindStatusChanged,
		Payload: bus.StatusChange{
			Online:  status.Online,
			Pending: status.PendingChanges,
			Syncing: status.Syncing,
		},
	})
}
