package synth

import (
	"context"
	"sync"
	"time"
)

// MockSynthesizer fabricates deterministic audio payloads. Used when no
// synthesis server is configured and in tests.
type MockSynthesizer struct {
	// Delay simulates synthesis latency when non-zero.
	Delay time.Duration

	mu    sync.Mutex
	calls []MockCall
}

type MockCall struct {
	Text    string
	VoiceID string
}

func NewMockSynthesizer() *MockSynthesizer { return &MockSynthesizer{} }

func (m *MockSynthesizer) Synthesize(ctx context.Context, text, voiceID string) ([]byte, error) {
	if m.Delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.Delay):
		}
	}
	m.mu.Lock()
	m.calls = append(m.calls, MockCall{Text: text, VoiceID: voiceID})
	m.mu.Unlock()
	return []byte(voiceID + "|" + text), nil
}

func (m *MockSynthesizer) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// MockTrainer walks through fixed stages with short sleeps so job progress
// events flow end to end without a real training backend.
type MockTrainer struct {
	// StepDelay is the pause between stage reports.
	StepDelay time.Duration
}

func NewMockTrainer() *MockTrainer {
	return &MockTrainer{StepDelay: 50 * time.Millisecond}
}

func (m *MockTrainer) Train(ctx context.Context, charID string, mode string, report func(progress float64, stage string)) error {
	stages := []string{"extracting", "cleaning", "training", "exporting"}
	if mode == "prepare" {
		stages = []string{"extracting", "cleaning"}
	}
	for i, stage := range stages {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.StepDelay):
		}
		report(float64(i+1)/float64(len(stages)), stage)
	}
	return nil
}
