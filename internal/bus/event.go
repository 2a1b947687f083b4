package bus

import "time"

// Event kinds published on the bus. Subscribers filter by namespace prefix,
// e.g. "sync." receives every sync lifecycle event.
const (
	KindSyncStarted   = "sync.started"
	KindSyncCompleted = "sync.completed"
	KindSyncError     = "sync.error"
	KindQueueUpdated  = "queue.updated"
	KindNetOnline     = "net.online"
	KindNetOffline    = "net.offline"
	KindStatusChanged = "status.changed"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// QueueUpdate is the payload for queue.updated events.
type QueueUpdate struct {
	Pending int
}

// StatusChange is the payload for net.* and status.changed events.
type StatusChange struct {
	Online  bool
	Pending int
	Syncing bool
}
