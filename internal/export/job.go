// Package export drives archive export jobs: resolving target conversations,
// streaming rows through decode and media resolution, and packaging the
// result. Jobs run one background goroutine each; all mutable job state is
// guarded by the registry's single mutex and observed through snapshots.
package export

import (
	"time"

	"github.com/chatarc/chatarc/internal/sessiondb"
	"github.com/chatarc/chatarc/internal/shard"
)

// Status is the lifecycle state of an export job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusDone      Status = "done"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
)

// validTransitions defines allowed status transitions. Terminal states have
// no outgoing edges; once reached they are sticky.
var validTransitions = map[Status][]Status{
	StatusQueued:  {StatusRunning, StatusCancelled},
	StatusRunning: {StatusDone, StatusError, StatusCancelled},
}

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	switch s {
	case StatusDone, StatusError, StatusCancelled:
		return true
	}
	return false
}

// Format selects the per-conversation message serialization.
const (
	FormatJSON = "json"
	FormatText = "txt"
)

// Options configures one export job.
type Options struct {
	// Conversations is an explicit target list. Empty means derive targets
	// from the account's session index through Filter.
	Conversations []string
	Filter        sessiondb.Filter
	// Window restricts rows by creation time. Zero bounds are open.
	Window shard.TimeWindow
	// Format is FormatJSON or FormatText. Empty defaults to JSON.
	Format string
	// Media controls whether referenced media is resolved and packed.
	Media bool
	// Privacy scrubs identities and payload content from the output.
	Privacy bool
	// OutputDir receives the final archive. Empty means the working
	// directory.
	OutputDir string
}

// Progress is the counter block of a job snapshot.
type Progress struct {
	Conversation      string // currently exporting
	ConversationsDone int
	ConversationsAll  int
	Messages          int
	MediaExported     int
	MediaMissing      int
	Errors            int
}

// Job is one export run. All fields past the identity block are guarded by
// the owning Manager's mutex; external readers only ever see Snapshot
// copies.
type Job struct {
	id        string
	accountID string
	opts      Options
	createdAt time.Time

	status      Status
	cancelled   bool
	startedAt   time.Time
	finishedAt  time.Time
	errText     string
	archivePath string
	progress    Progress
}

// Snapshot is a point-in-time copy of a job's state. It is always slightly
// stale by the time a caller reads it; observers re-poll rather than hold
// locks.
type Snapshot struct {
	ID          string
	AccountID   string
	Status      Status
	Options     Options
	CreatedAt   time.Time
	StartedAt   time.Time
	FinishedAt  time.Time
	Error       string
	ArchivePath string
	Progress    Progress
}

// snapshotLocked copies the job state. Callers must hold the registry
// mutex.
func (j *Job) snapshotLocked() Snapshot {
	return Snapshot{
		ID:          j.id,
		AccountID:   j.accountID,
		Status:      j.status,
		Options:     j.opts,
		CreatedAt:   j.createdAt,
		StartedAt:   j.startedAt,
		FinishedAt:  j.finishedAt,
		Error:       j.errText,
		ArchivePath: j.archivePath,
		Progress:    j.progress,
	}
}
