package ocr

import "context"

// Event is one OCR snapshot of the game's dialogue region.
type Event struct {
	// Text is the raw recognized text, possibly noisy.
	Text string `json:"text"`
	// Confidence is the recognizer's own estimate in [0,1].
	Confidence float64 `json:"confidence"`
	// Timestamp is the capture time in unix milliseconds. It doubles as the
	// resume cursor after a reconnect.
	Timestamp int64 `json:"timestamp"`
}

// Window is a capturable game window reported by the OCR agent.
type Window struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Stream is a live OCR feed for one window.
type Stream interface {
	Close() error
}

// Provider connects to the OCR capture agent.
type Provider interface {
	ListWindows(ctx context.Context) ([]Window, error)
	StartStream(ctx context.Context, windowID string) (Stream, <-chan Event, error)
}
