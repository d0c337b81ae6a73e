package playback

import (
	"context"
	"sync"
	"time"
)

// MockSink records what was played instead of touching the audio device. It
// shares the speaker sink's slot discipline so tests see the same
// no-overlap behavior.
type MockSink struct {
	// Delay is how long each Play blocks, simulating clip duration.
	Delay time.Duration

	slot slot

	mu          sync.Mutex
	played      [][]byte
	stopped     int
	inFlight    int
	maxInFlight int
}

func NewMockSink() *MockSink { return &MockSink{} }

func (s *MockSink) Play(ctx context.Context, audio []byte) error {
	l, err := s.slot.acquire(ctx)
	if err != nil {
		return err
	}
	defer l.release()

	s.mu.Lock()
	s.played = append(s.played, audio)
	s.inFlight++
	if s.inFlight > s.maxInFlight {
		s.maxInFlight = s.inFlight
	}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.inFlight--
		s.mu.Unlock()
	}()

	if s.Delay <= 0 {
		return nil
	}
	select {
	case <-time.After(s.Delay):
		return nil
	case <-l.stop:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *MockSink) Stop() {
	s.mu.Lock()
	s.stopped++
	s.mu.Unlock()
	s.slot.interrupt()
}

func (s *MockSink) Played() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.played))
	copy(out, s.played)
	return out
}

func (s *MockSink) StopCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// MaxConcurrentPlays reports the peak number of clips playing at once.
func (s *MockSink) MaxConcurrentPlays() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxInFlight
}
