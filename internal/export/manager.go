package export

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chatarc/chatarc/internal/account"
	"github.com/chatarc/chatarc/internal/bus"
	"github.com/chatarc/chatarc/internal/media"
	"github.com/chatarc/chatarc/internal/sessiondb"
	"github.com/chatarc/chatarc/internal/store"
)

// Env is the read-only account material every job draws on. Jobs share
// nothing else; each opens its own shard connections and archive writer.
type Env struct {
	Account *account.Account
	Keys    media.Keys
	Codec   *media.Codec
	// CacheDir is the decrypted-media write-through cache location.
	CacheDir string
}

// Manager is the job registry. It owns the id-to-job mapping and the single
// mutex guarding every job's mutable state; jobs stay registered for the
// process lifetime, with terminal ones additionally recorded in the history
// store.
type Manager struct {
	mu    sync.Mutex
	jobs  map[string]*Job
	order []string

	env     Env
	bus     *bus.Bus
	history *store.DB
	logger  *zap.Logger
}

// historyKeep bounds the durable job history; older rows are pruned after
// each insert.
const historyKeep = 200

// NewManager creates an empty registry. bus and history may be nil; events
// and durable history are then skipped.
func NewManager(env Env, b *bus.Bus, history *store.DB, logger *zap.Logger) *Manager {
	return &Manager{
		jobs:    make(map[string]*Job),
		env:     env,
		bus:     b,
		history: history,
		logger:  logger,
	}
}

// Create registers a new job and starts its worker goroutine. The returned
// snapshot is the job's initial queued state.
func (m *Manager) Create(opts Options) (Snapshot, error) {
	switch opts.Format {
	case "":
		opts.Format = FormatJSON
	case FormatJSON, FormatText:
	default:
		return Snapshot{}, fmt.Errorf("unknown export format %q", opts.Format)
	}
	if len(opts.Conversations) == 0 && opts.Filter == (sessiondb.Filter{}) {
		opts.Filter = sessiondb.DefaultFilter()
	}

	j := &Job{
		id:        uuid.NewString(),
		accountID: m.env.Account.ID,
		opts:      opts,
		createdAt: time.Now(),
		status:    StatusQueued,
	}

	m.mu.Lock()
	m.jobs[j.id] = j
	m.order = append(m.order, j.id)
	snap := j.snapshotLocked()
	m.mu.Unlock()

	m.publish(bus.Event{Kind: bus.KindJobCreated, Payload: snap.ID})
	m.logger.Info("export job created",
		zap.String("job_id", j.id),
		zap.String("format", opts.Format),
		zap.Bool("media", opts.Media),
		zap.Bool("privacy", opts.Privacy))

	go m.run(j)
	return snap, nil
}

// Get returns a snapshot of one job.
func (m *Manager) Get(id string) (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return Snapshot{}, false
	}
	return j.snapshotLocked(), true
}

// List returns snapshots of all registered jobs in creation order.
func (m *Manager) List() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Snapshot, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.jobs[id].snapshotLocked())
	}
	return out
}

// Cancel requests cooperative cancellation. It returns false for unknown or
// already-terminal jobs. A queued job transitions to cancelled immediately;
// a running one at its next check point.
func (m *Manager) Cancel(id string) bool {
	m.mu.Lock()
	j, ok := m.jobs[id]
	if !ok || j.status.Terminal() {
		m.mu.Unlock()
		return false
	}
	j.cancelled = true
	queued := j.status == StatusQueued
	m.mu.Unlock()

	if queued {
		m.transition(j, StatusCancelled)
	}
	return true
}

// CancelAll flags every live job; used on shutdown.
func (m *Manager) CancelAll() {
	m.mu.Lock()
	var live []string
	for id, j := range m.jobs {
		if !j.status.Terminal() {
			live = append(live, id)
		}
	}
	m.mu.Unlock()
	for _, id := range live {
		m.Cancel(id)
	}
}

func (m *Manager) run(j *Job) {
	if !m.transition(j, StatusRunning) {
		// Cancelled before the worker started; no output exists.
		return
	}

	r := newRunner(m, j)
	path, err := r.execute()
	switch {
	case isCancelled(err):
		m.transition(j, StatusCancelled)
	case err != nil:
		m.mu.Lock()
		j.errText = err.Error()
		m.mu.Unlock()
		m.logger.Error("export job failed", zap.String("job_id", j.id), zap.Error(err))
		m.transition(j, StatusError)
	default:
		m.mu.Lock()
		j.archivePath = path
		m.mu.Unlock()
		m.logger.Info("export job finished",
			zap.String("job_id", j.id),
			zap.String("archive", path))
		m.transition(j, StatusDone)
	}
}

// transition moves a job between states, publishing the change and recording
// terminal states durably. Invalid transitions are ignored and reported
// false.
func (m *Manager) transition(j *Job, to Status) bool {
	m.mu.Lock()
	from := j.status
	if !slices.Contains(validTransitions[from], to) {
		m.mu.Unlock()
		return false
	}
	j.status = to
	now := time.Now()
	switch {
	case to == StatusRunning:
		j.startedAt = now
	case to.Terminal():
		j.finishedAt = now
	}
	snap := j.snapshotLocked()
	m.mu.Unlock()

	m.publish(bus.Event{
		Kind:    bus.KindJobStatusChanged,
		Payload: bus.JobStatusChange{JobID: j.id, From: string(from), To: string(to)},
	})
	if to.Terminal() {
		m.record(snap)
	}
	return true
}

// isCancelledJob reports the cooperative flag; runners poll it at bounded
// intervals.
func (m *Manager) isCancelledJob(j *Job) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return j.cancelled
}

// updateProgress mutates the job's counters under the registry lock and
// publishes a progress event.
func (m *Manager) updateProgress(j *Job, fn func(p *Progress)) {
	m.mu.Lock()
	fn(&j.progress)
	p := j.progress
	m.mu.Unlock()

	m.publish(bus.Event{
		Kind: bus.KindJobProgress,
		Payload: bus.JobProgress{
			JobID:             j.id,
			Conversation:      p.Conversation,
			ConversationsDone: p.ConversationsDone,
			ConversationsAll:  p.ConversationsAll,
			Messages:          p.Messages,
			MediaExported:     p.MediaExported,
			MediaMissing:      p.MediaMissing,
		},
	})
}

func (m *Manager) publish(evt bus.Event) {
	if m.bus != nil {
		m.bus.Publish(evt)
	}
}

// record persists a terminal snapshot to the history store.
func (m *Manager) record(s Snapshot) {
	if m.history == nil {
		return
	}
	started := s.StartedAt
	if started.IsZero() {
		// Cancelled before the worker ran.
		started = s.CreatedAt
	}
	rec := &store.JobRecord{
		ID:            s.ID,
		AccountID:     s.AccountID,
		Status:        string(s.Status),
		Format:        s.Options.Format,
		OutputPath:    s.ArchivePath,
		Conversations: s.Progress.ConversationsDone,
		Messages:      s.Progress.Messages,
		MediaExported: s.Progress.MediaExported,
		MediaMissing:  s.Progress.MediaMissing,
		Errors:        s.Progress.Errors,
		ErrorText:     s.Error,
		StartedAt:     started.Unix(),
		FinishedAt:    s.FinishedAt.Unix(),
	}
	if err := m.history.RecordJob(rec); err != nil {
		m.logger.Warn("history record failed", zap.String("job_id", s.ID), zap.Error(err))
		return
	}
	if err := m.history.PruneJobs(historyKeep); err != nil {
		m.logger.Warn("history prune failed", zap.Error(err))
	}
}
