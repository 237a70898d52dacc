package event_bus

const (
	SyncCompletedEvent    EventType = "calendar.sync.completed"
	ConflictDetectedEvent EventType = "calendar.conflict.detected"
)

// SyncCompleted is published after every sync or conflict resolution call.
type SyncCompleted struct {
	OwnerId        int
	IdempotencyKey string
	DryRun         bool
	Created        int
	Updated        int
	Skipped        int
	Failed         int
	Conflicts      int
	QuotaUsed      int
}

// ConflictDetected is published once per conflict found while syncing.
type ConflictDetected struct {
	OwnerId             int
	LocalEventId        string
	RemoteEventId       string
	Type                string
	SuggestedResolution string
}
