package jobs

import "time"

type Kind string

const (
	// KindTraining covers voice model work for a single character.
	KindTraining Kind = "training"
	// KindRender pre-renders every spoken line of an episode into the cache.
	KindRender Kind = "render"
)

type TrainingMode string

const (
	// ModePrepare extracts and cleans reference audio for a character.
	ModePrepare TrainingMode = "prepare"
	// ModeFinetune trains the character voice from prepared audio.
	ModeFinetune TrainingMode = "finetune"
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Job is one unit of background GPU work. Training jobs carry CharID and
// Mode; render jobs carry EpisodeID and the line counters.
type Job struct {
	ID     string `json:"id"`
	Kind   Kind   `json:"kind"`
	Status Status `json:"status"`

	CharID string       `json:"char_id,omitempty"`
	Mode   TrainingMode `json:"mode,omitempty"`

	EpisodeID    string `json:"episode_id,omitempty"`
	Completed    int    `json:"completed,omitempty"`
	Total        int    `json:"total,omitempty"`
	CurrentIndex int    `json:"current_index,omitempty"`

	Progress float64 `json:"progress"`
	Stage    string  `json:"stage,omitempty"`
	Error    string  `json:"error,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

func (j Job) Terminal() bool {
	switch j.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// SubmitRequest describes a job to enqueue. Kind selects which of the
// remaining fields apply.
type SubmitRequest struct {
	Kind      Kind         `json:"kind"`
	CharID    string       `json:"char_id,omitempty"`
	Mode      TrainingMode `json:"mode,omitempty"`
	EpisodeID string       `json:"episode_id,omitempty"`
}

type EventType string

const (
	EventJobQueued    EventType = "job_queued"
	EventJobStarted   EventType = "job_started"
	EventJobProgress  EventType = "job_progress"
	EventJobCompleted EventType = "job_completed"
	EventJobFailed    EventType = "job_failed"
	EventJobCancelled EventType = "job_cancelled"
)

type Event struct {
	Type           EventType `json:"type"`
	JobID          string    `json:"job_id"`
	Kind           Kind      `json:"kind"`
	Status         Status    `json:"status"`
	Progress       float64   `json:"progress,omitempty"`
	Stage          string    `json:"stage,omitempty"`
	Completed      int       `json:"completed,omitempty"`
	Total          int       `json:"total,omitempty"`
	CurrentIndex   int       `json:"current_index,omitempty"`
	QueuedPosition int       `json:"queued_position,omitempty"`
	Code           string    `json:"code,omitempty"`
	Detail         string    `json:"detail,omitempty"`
	At             time.Time `json:"at"`
}
