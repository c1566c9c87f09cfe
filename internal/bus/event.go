package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds published by the export job registry. Subscribers use the
// "job." namespace to receive all of them.
const (
	KindJobCreated       = "job.created"
	KindJobStatusChanged = "job.status_changed"
	KindJobProgress      = "job.progress"
)

// JobStatusChange is the payload for job.status_changed events.
type JobStatusChange struct {
	JobID string
	From  string
	To    string
}

// JobProgress is the payload for job.progress events. Counters are a
// point-in-time snapshot; consumers must tolerate staleness and drops.
type JobProgress struct {
	JobID             string
	Conversation      string
	ConversationsDone int
	ConversationsAll  int
	Messages          int
	MediaExported     int
	MediaMissing      int
}
