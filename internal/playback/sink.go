package playback

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/speaker"
	"github.com/gopxl/beep/wav"
)

// Sink plays one audio clip at a time. Play blocks until the clip finishes,
// the context is cancelled, or Stop is called. A new Play interrupts the
// current clip and takes over only after it has fully released the device, so
// clips never overlap.
type Sink interface {
	Play(ctx context.Context, audio []byte) error
	Stop()
}

// slot hands out exclusive ownership of the single playback stream. acquire
// interrupts the current holder and waits for it to release before returning.
type slot struct {
	mu       sync.Mutex
	stop     chan struct{}
	released chan struct{}
}

type lease struct {
	slot     *slot
	once     sync.Once
	stop     chan struct{}
	released chan struct{}
}

func (s *slot) acquire(ctx context.Context) (*lease, error) {
	for {
		s.mu.Lock()
		if s.released == nil {
			l := &lease{
				slot:     s,
				stop:     make(chan struct{}),
				released: make(chan struct{}),
			}
			s.stop = l.stop
			s.released = l.released
			s.mu.Unlock()
			return l, nil
		}
		if s.stop != nil {
			close(s.stop)
			s.stop = nil
		}
		prev := s.released
		s.mu.Unlock()

		select {
		case <-prev:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// interrupt stops the current holder without waiting for it to release.
func (s *slot) interrupt() {
	s.mu.Lock()
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
	s.mu.Unlock()
}

func (l *lease) release() {
	l.once.Do(func() {
		l.slot.mu.Lock()
		if l.slot.released == l.released {
			l.slot.released = nil
			l.slot.stop = nil
		}
		close(l.released)
		l.slot.mu.Unlock()
	})
}

const sinkSampleRate = beep.SampleRate(44100)

// SpeakerSink plays WAV clips through the system speaker. Clips with a
// different sample rate are resampled on the fly.
type SpeakerSink struct {
	slot slot
}

func NewSpeakerSink() (*SpeakerSink, error) {
	if err := speaker.Init(sinkSampleRate, sinkSampleRate.N(time.Second/10)); err != nil {
		return nil, fmt.Errorf("init speaker: %w", err)
	}
	return &SpeakerSink{}, nil
}

func (s *SpeakerSink) Play(ctx context.Context, audio []byte) error {
	streamer, format, err := wav.Decode(io.NopCloser(bytes.NewReader(audio)))
	if err != nil {
		return fmt.Errorf("decode wav: %w", err)
	}
	defer streamer.Close()

	var str beep.Streamer = streamer
	if format.SampleRate != sinkSampleRate {
		str = beep.Resample(4, format.SampleRate, sinkSampleRate, streamer)
	}

	l, err := s.slot.acquire(ctx)
	if err != nil {
		return err
	}
	// release runs after speaker.Clear on the interrupted paths, so the next
	// Play cannot reach the speaker before this clip is off it.
	defer l.release()

	done := make(chan struct{})
	speaker.Play(beep.Seq(str, beep.Callback(func() { close(done) })))

	select {
	case <-done:
		return nil
	case <-l.stop:
		speaker.Clear()
		return nil
	case <-ctx.Done():
		speaker.Clear()
		return ctx.Err()
	}
}

func (s *SpeakerSink) Stop() {
	s.slot.interrupt()
}
