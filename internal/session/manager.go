package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

// State tracks where the dubbing pipeline is for one session.
type State string

const (
	// StateIdle means the session exists but dubbing is off.
	StateIdle State = "idle"
	// StateMonitoring means OCR detections are flowing and being matched.
	StateMonitoring State = "monitoring"
	// StateMatched means a script line was just matched and synthesis is
	// underway.
	StateMatched State = "matched"
	// StatePlaying means dubbed audio is on the speaker.
	StatePlaying State = "playing"
)

var ErrNotFound = errors.New("session not found")

type Session struct {
	ID             string    `json:"session_id"`
	WindowID       string    `json:"window_id"`
	EpisodeID      string    `json:"episode_id"`
	Status         Status    `json:"status"`
	State          State     `json:"state"`
	DetectionCount int       `json:"detection_count"`
	MatchCount     int       `json:"match_count"`
	PlaybackCount  int       `json:"playback_count"`
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

type Manager struct {
	mu                sync.RWMutex
	sessions          map[string]*Session
	inactivityTimeout time.Duration
	onExpire          func(*Session)
}

func NewManager(inactivityTimeout time.Duration) *Manager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 10 * time.Minute
	}
	return &Manager{
		sessions:          make(map[string]*Session),
		inactivityTimeout: inactivityTimeout,
	}
}

func (m *Manager) SetExpireHook(hook func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

func (m *Manager) Create(windowID, episodeID string) *Session {
	now := time.Now().UTC()
	s := &Session{
		ID:             uuid.NewString(),
		WindowID:       windowID,
		EpisodeID:      episodeID,
		Status:         StatusActive,
		State:          StateIdle,
		StartedAt:      now,
		LastActivityAt: now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return clone(s)
}

func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s), nil
}

func (m *Manager) Touch(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.LastActivityAt = time.Now().UTC()
	return nil
}

// SetState moves the session's pipeline state and refreshes activity.
func (m *Manager) SetState(sessionID string, state State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.State = state
	s.LastActivityAt = time.Now().UTC()
	return nil
}

// SetEpisode records the episode the session is dubbing.
func (m *Manager) SetEpisode(sessionID, episodeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.EpisodeID = episodeID
	s.LastActivityAt = time.Now().UTC()
	return nil
}

// RecordDetection bumps the detection counter.
func (m *Manager) RecordDetection(sessionID string) {
	m.bump(sessionID, func(s *Session) { s.DetectionCount++ })
}

// RecordMatch bumps the match counter.
func (m *Manager) RecordMatch(sessionID string) {
	m.bump(sessionID, func(s *Session) { s.MatchCount++ })
}

// RecordPlayback bumps the playback counter.
func (m *Manager) RecordPlayback(sessionID string) {
	m.bump(sessionID, func(s *Session) { s.PlaybackCount++ })
}

func (m *Manager) bump(sessionID string, fn func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return
	}
	fn(s)
	s.LastActivityAt = time.Now().UTC()
}

func (m *Manager) End(sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	s.Status = StatusEnded
	s.State = StateIdle
	s.LastActivityAt = time.Now().UTC()
	return clone(s), nil
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireInactive()
			}
		}
	}()
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, s := range m.sessions {
		if s.Status == StatusActive {
			count++
		}
	}
	return count
}

func (m *Manager) expireInactive() {
	now := time.Now().UTC()
	var expired []*Session

	m.mu.Lock()
	for _, s := range m.sessions {
		if s.Status != StatusActive {
			continue
		}
		if now.Sub(s.LastActivityAt) < m.inactivityTimeout {
			continue
		}
		s.Status = StatusEnded
		s.State = StateIdle
		s.LastActivityAt = now
		expired = append(expired, clone(s))
	}
	hook := m.onExpire
	m.mu.Unlock()

	if hook != nil {
		for _, s := range expired {
			hook(s)
		}
	}
}

func clone(s *Session) *Session {
	c := *s
	return &c
}
