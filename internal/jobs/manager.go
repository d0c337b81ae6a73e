package jobs

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrJobNotFound   = errors.New("job not found")
	ErrInvalidSubmit = errors.New("invalid job submission")
)

// Manager owns the background job queues. Training jobs run one at a time
// with later submissions waiting in FIFO order; render jobs run independently
// of the training queue, one per episode, and contend for the device through
// the GPU arbiter instead. Everything else is event fan-out and monotonic
// progress bookkeeping.
type Manager struct {
	mu sync.RWMutex

	jobs           map[string]*Job
	order          []string
	activeTraining string
	pending        []string

	cancels map[string]func()
	starter func(Job)

	subscribers map[int]chan Event
	nextSubID   int
}

func NewManager() *Manager {
	return &Manager{
		jobs:        make(map[string]*Job),
		cancels:     make(map[string]func()),
		subscribers: make(map[int]chan Event),
	}
}

// SetStarter registers the callback invoked (in its own goroutine) whenever a
// job transitions to running. The runner installs itself here.
func (m *Manager) SetStarter(fn func(Job)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.starter = fn
}

// Subscribe returns a feed of job events and a dispose function. Slow
// subscribers lose events rather than block the queue.
func (m *Manager) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 256)
	m.mu.Lock()
	m.nextSubID++
	id := m.nextSubID
	m.subscribers[id] = ch
	m.mu.Unlock()

	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if c, ok := m.subscribers[id]; ok {
			delete(m.subscribers, id)
			close(c)
		}
	}
}

// Submit enqueues one job. Training starts immediately when no training job
// is running; render starts immediately unless the episode already has a live
// render, in which case that job is returned instead of a duplicate.
func (m *Manager) Submit(req SubmitRequest) (Job, error) {
	if err := validateSubmit(req); err != nil {
		return Job{}, err
	}
	now := time.Now().UTC()

	m.mu.Lock()
	if req.Kind == KindRender {
		if existing := m.liveRenderLocked(req.EpisodeID); existing != nil {
			snapshot := *existing
			m.mu.Unlock()
			return snapshot, nil
		}
	}
	job := m.createLocked(req, now)
	started := m.startOrQueueLocked(job, now)
	snapshot := *job
	m.mu.Unlock()

	m.dispatchStart(started)
	return snapshot, nil
}

// SubmitBatch enqueues several jobs at once, preserving order and silently
// dropping duplicates of jobs already waiting or running.
func (m *Manager) SubmitBatch(reqs []SubmitRequest) ([]Job, error) {
	for _, req := range reqs {
		if err := validateSubmit(req); err != nil {
			return nil, err
		}
	}
	now := time.Now().UTC()

	m.mu.Lock()
	seen := make(map[string]bool)
	for _, id := range m.order {
		if j := m.jobs[id]; j != nil && !j.Terminal() {
			seen[dedupKey(*j)] = true
		}
	}

	var started []*Job
	out := make([]Job, 0, len(reqs))
	for _, req := range reqs {
		key := submitKey(req)
		if seen[key] {
			continue
		}
		seen[key] = true
		job := m.createLocked(req, now)
		if s := m.startOrQueueLocked(job, now); s != nil {
			started = append(started, s)
		}
		out = append(out, *job)
	}
	m.mu.Unlock()

	for _, job := range started {
		m.dispatchStart(job)
	}
	return out, nil
}

// Progress merges a progress report into the job. Reports never move a job
// backwards: stale or duplicate updates are dropped.
func (m *Manager) Progress(jobID string, progress float64, stage string, completed, total, currentIndex int) error {
	now := time.Now().UTC()

	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	if job.Terminal() {
		return nil
	}
	if progress < job.Progress && completed <= job.Completed {
		return nil
	}

	if progress > job.Progress {
		job.Progress = progress
	}
	if completed > job.Completed {
		job.Completed = completed
		job.CurrentIndex = currentIndex
	}
	if total > job.Total {
		job.Total = total
	}
	if stage != "" {
		job.Stage = stage
	}
	job.UpdatedAt = now

	m.publishLocked(Event{
		Type:         EventJobProgress,
		JobID:        job.ID,
		Kind:         job.Kind,
		Status:       job.Status,
		Progress:     job.Progress,
		Stage:        job.Stage,
		Completed:    job.Completed,
		Total:        job.Total,
		CurrentIndex: job.CurrentIndex,
		At:           now,
	})
	return nil
}

// Complete marks the job done and starts the next queued one.
func (m *Manager) Complete(jobID string) (Job, error) {
	return m.finish(jobID, StatusCompleted, EventJobCompleted, "", "")
}

// Fail marks the job failed and starts the next queued one.
func (m *Manager) Fail(jobID, code, detail string) (Job, error) {
	return m.finish(jobID, StatusFailed, EventJobFailed, code, detail)
}

// Cancel stops one job. A queued job is removed from the queue; a running job
// has its context cancelled and the next queued job starts.
func (m *Manager) Cancel(jobID string) (Job, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return Job{}, errors.New("job_id is required")
	}
	now := time.Now().UTC()

	m.mu.Lock()
	job, ok := m.jobs[jobID]
	if !ok {
		m.mu.Unlock()
		return Job{}, ErrJobNotFound
	}
	if job.Terminal() {
		snapshot := *job
		m.mu.Unlock()
		return snapshot, nil
	}

	job.Status = StatusCancelled
	job.UpdatedAt = now
	job.EndedAt = &now
	m.removePendingLocked(jobID)
	cancel := m.cancels[jobID]
	delete(m.cancels, jobID)

	m.publishLocked(Event{
		Type:   EventJobCancelled,
		JobID:  job.ID,
		Kind:   job.Kind,
		Status: job.Status,
		At:     now,
	})
	started := m.releaseAndStartNextLocked(jobID, now)
	snapshot := *job
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.dispatchStart(started)
	return snapshot, nil
}

// ClearQueue cancels every queued training job without touching running jobs.
// Renders never queue, so they are unaffected.
func (m *Manager) ClearQueue() []Job {
	now := time.Now().UTC()

	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Job, 0, len(m.pending))
	for _, id := range m.pending {
		job, ok := m.jobs[id]
		if !ok || job.Terminal() {
			continue
		}
		job.Status = StatusCancelled
		job.UpdatedAt = now
		job.EndedAt = &now
		m.publishLocked(Event{
			Type:   EventJobCancelled,
			JobID:  job.ID,
			Kind:   job.Kind,
			Status: job.Status,
			At:     now,
		})
		out = append(out, *job)
	}
	m.pending = nil
	return out
}

func (m *Manager) Get(jobID string) (Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[strings.TrimSpace(jobID)]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	return *job, nil
}

// List returns all jobs newest first.
func (m *Manager) List() []Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Job, 0, len(m.order))
	for i := len(m.order) - 1; i >= 0; i-- {
		if job, ok := m.jobs[m.order[i]]; ok {
			out = append(out, *job)
		}
	}
	return out
}

// ActiveTraining returns the running training job, if any.
func (m *Manager) ActiveTraining() (Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.activeTraining == "" {
		return Job{}, false
	}
	job, ok := m.jobs[m.activeTraining]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// AttachCancel binds the running job's cancel function so Cancel can reach
// into an in-flight execution.
func (m *Manager) AttachCancel(jobID string, cancel func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if ok && !job.Terminal() {
		m.cancels[jobID] = cancel
	}
}

func (m *Manager) finish(jobID string, status Status, eventType EventType, code, detail string) (Job, error) {
	jobID = strings.TrimSpace(jobID)
	now := time.Now().UTC()

	m.mu.Lock()
	job, ok := m.jobs[jobID]
	if !ok {
		m.mu.Unlock()
		return Job{}, ErrJobNotFound
	}
	if job.Terminal() {
		snapshot := *job
		m.mu.Unlock()
		return snapshot, nil
	}

	job.Status = status
	job.UpdatedAt = now
	job.EndedAt = &now
	if status == StatusCompleted {
		job.Progress = 1
		if job.Total > 0 {
			job.Completed = job.Total
		}
		job.Error = ""
	} else {
		job.Error = strings.TrimSpace(detail)
	}
	delete(m.cancels, jobID)

	m.publishLocked(Event{
		Type:      eventType,
		JobID:     job.ID,
		Kind:      job.Kind,
		Status:    job.Status,
		Progress:  job.Progress,
		Completed: job.Completed,
		Total:     job.Total,
		Code:      code,
		Detail:    strings.TrimSpace(detail),
		At:        now,
	})
	started := m.releaseAndStartNextLocked(jobID, now)
	snapshot := *job
	m.mu.Unlock()

	m.dispatchStart(started)
	return snapshot, nil
}

func (m *Manager) createLocked(req SubmitRequest, now time.Time) *Job {
	job := &Job{
		ID:        uuid.NewString(),
		Kind:      req.Kind,
		Status:    StatusQueued,
		CharID:    strings.TrimSpace(req.CharID),
		Mode:      req.Mode,
		EpisodeID: strings.TrimSpace(req.EpisodeID),
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.jobs[job.ID] = job
	m.order = append(m.order, job.ID)
	return job
}

// startOrQueueLocked either activates the job or appends it to the training
// queue. Render jobs never queue here: each episode's render runs alongside
// the training slot and serializes on the GPU arbiter instead. The returned
// pointer is non-nil when the caller must dispatch a start.
func (m *Manager) startOrQueueLocked(job *Job, now time.Time) *Job {
	if job.Kind == KindRender || m.activeTraining == "" {
		if job.Kind == KindTraining {
			m.activeTraining = job.ID
		}
		job.Status = StatusRunning
		job.UpdatedAt = now
		job.StartedAt = &now
		m.publishLocked(Event{
			Type:   EventJobStarted,
			JobID:  job.ID,
			Kind:   job.Kind,
			Status: job.Status,
			At:     now,
		})
		snapshot := *job
		return &snapshot
	}

	m.pending = append(m.pending, job.ID)
	m.publishLocked(Event{
		Type:           EventJobQueued,
		JobID:          job.ID,
		Kind:           job.Kind,
		Status:         job.Status,
		QueuedPosition: len(m.pending),
		At:             now,
	})
	return nil
}

func (m *Manager) releaseAndStartNextLocked(finishedID string, now time.Time) *Job {
	if m.activeTraining != finishedID {
		// A finished render never frees the training slot.
		return nil
	}
	m.activeTraining = ""
	for len(m.pending) > 0 {
		nextID := m.pending[0]
		m.pending = m.pending[1:]
		next, ok := m.jobs[nextID]
		if !ok || next.Terminal() {
			continue
		}
		return m.startOrQueueLocked(next, now)
	}
	return nil
}

// liveRenderLocked finds a non-terminal render job for the episode.
func (m *Manager) liveRenderLocked(episodeID string) *Job {
	episodeID = strings.TrimSpace(episodeID)
	for _, id := range m.order {
		job, ok := m.jobs[id]
		if ok && job.Kind == KindRender && job.EpisodeID == episodeID && !job.Terminal() {
			return job
		}
	}
	return nil
}

func (m *Manager) removePendingLocked(jobID string) {
	if len(m.pending) == 0 {
		return
	}
	out := m.pending[:0]
	for _, id := range m.pending {
		if id != jobID {
			out = append(out, id)
		}
	}
	m.pending = out
}

func (m *Manager) publishLocked(evt Event) {
	for _, ch := range m.subscribers {
		select {
		case ch <- evt:
		default:
		}
	}
}

func (m *Manager) dispatchStart(job *Job) {
	if job == nil {
		return
	}
	m.mu.RLock()
	starter := m.starter
	m.mu.RUnlock()
	if starter != nil {
		go starter(*job)
	}
}

func validateSubmit(req SubmitRequest) error {
	switch req.Kind {
	case KindTraining:
		if strings.TrimSpace(req.CharID) == "" {
			return fmt.Errorf("%w: char_id is required for training", ErrInvalidSubmit)
		}
		if req.Mode != ModePrepare && req.Mode != ModeFinetune {
			return fmt.Errorf("%w: mode must be prepare or finetune", ErrInvalidSubmit)
		}
	case KindRender:
		if strings.TrimSpace(req.EpisodeID) == "" {
			return fmt.Errorf("%w: episode_id is required for render", ErrInvalidSubmit)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidSubmit, req.Kind)
	}
	return nil
}

func dedupKey(j Job) string {
	if j.Kind == KindRender {
		return string(KindRender) + "|" + j.EpisodeID
	}
	return string(KindTraining) + "|" + j.CharID + "|" + string(j.Mode)
}

func submitKey(req SubmitRequest) string {
	if req.Kind == KindRender {
		return string(KindRender) + "|" + strings.TrimSpace(req.EpisodeID)
	}
	return string(KindTraining) + "|" + strings.TrimSpace(req.CharID) + "|" + string(req.Mode)
}
