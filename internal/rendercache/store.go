package rendercache

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Entry is one pre-rendered audio clip for a specific episode line.
type Entry struct {
	EpisodeID  string    `json:"episode_id"`
	LineIndex  int       `json:"line_index"`
	VoiceID    string    `json:"voice_id"`
	Audio      []byte    `json:"-"`
	RenderedAt time.Time `json:"rendered_at"`
}

// Store holds pre-rendered episode audio. Entries are invalidated per line
// via Delete; DeleteEpisode drops a whole cache before a re-render.
type Store interface {
	Get(ctx context.Context, episodeID string, lineIndex int) (Entry, bool, error)
	Put(ctx context.Context, entry Entry) error
	List(ctx context.Context, episodeID string) ([]Entry, error)
	Delete(ctx context.Context, episodeID string, lineIndex int) error
	DeleteEpisode(ctx context.Context, episodeID string) error
	Close() error
}

type cacheKey struct {
	episodeID string
	lineIndex int
}

// InMemoryStore keeps rendered audio in process memory.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries map[cacheKey]Entry
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{entries: make(map[cacheKey]Entry)}
}

func (s *InMemoryStore) Get(_ context.Context, episodeID string, lineIndex int) (Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[cacheKey{episodeID, lineIndex}]
	return entry, ok, nil
}

func (s *InMemoryStore) Put(_ context.Context, entry Entry) error {
	if entry.RenderedAt.IsZero() {
		entry.RenderedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[cacheKey{entry.EpisodeID, entry.LineIndex}] = entry
	return nil
}

func (s *InMemoryStore) List(_ context.Context, episodeID string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Entry
	for key, entry := range s.entries {
		if key.episodeID == episodeID {
			out = append(out, entry)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LineIndex < out[j].LineIndex })
	return out, nil
}

func (s *InMemoryStore) Delete(_ context.Context, episodeID string, lineIndex int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, cacheKey{episodeID, lineIndex})
	return nil
}

func (s *InMemoryStore) DeleteEpisode(_ context.Context, episodeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.entries {
		if key.episodeID == episodeID {
			delete(s.entries, key)
		}
	}
	return nil
}

func (s *InMemoryStore) Close() error { return nil }
