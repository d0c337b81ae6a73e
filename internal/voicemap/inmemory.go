package voicemap

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// InMemoryStore keeps mappings for the current process only (session-local
// behavior when no database is configured).
type InMemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{entries: make(map[string]Entry)}
}

func (s *InMemoryStore) Get(_ context.Context, speakerKey string) (Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[speakerKey]
	return entry, ok, nil
}

func (s *InMemoryStore) Put(_ context.Context, entry Entry) error {
	entry.SpeakerKey = strings.TrimSpace(entry.SpeakerKey)
	if entry.SpeakerKey == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.SpeakerKey] = entry
	return nil
}

func (s *InMemoryStore) Delete(_ context.Context, speakerKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, speakerKey)
	return nil
}

func (s *InMemoryStore) List(_ context.Context) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0, len(s.entries))
	for _, entry := range s.entries {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SpeakerKey < out[j].SpeakerKey })
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }
