package ocr

import (
	"context"
	"sync"
	"time"
)

// MockProvider replays a scripted sequence of detections. Used when no OCR
// agent is configured and in tests.
type MockProvider struct {
	// Script is emitted in order, one event per Interval tick. Empty scripts
	// produce a silent stream.
	Script   []Event
	Interval time.Duration
}

func NewMockProvider() *MockProvider {
	return &MockProvider{Interval: 50 * time.Millisecond}
}

func (p *MockProvider) ListWindows(_ context.Context) ([]Window, error) {
	return []Window{{ID: "mock-window", Title: "Mock Game"}}, nil
}

func (p *MockProvider) StartStream(ctx context.Context, _ string) (Stream, <-chan Event, error) {
	events := make(chan Event, 64)
	streamCtx, cancel := context.WithCancel(ctx)
	s := &mockStream{cancel: cancel}

	go func() {
		defer close(events)
		for _, evt := range p.Script {
			select {
			case <-streamCtx.Done():
				return
			case <-time.After(p.Interval):
			}
			if evt.Timestamp == 0 {
				evt.Timestamp = time.Now().UnixMilli()
			}
			select {
			case events <- evt:
			case <-streamCtx.Done():
				return
			}
		}
		<-streamCtx.Done()
	}()
	return s, events, nil
}

type mockStream struct {
	once   sync.Once
	cancel context.CancelFunc
}

func (s *mockStream) Close() error {
	s.once.Do(s.cancel)
	return nil
}
