package dub

import (
	"context"
	"testing"
	"time"

	"github.com/minseo-lab/gamedub/internal/gpu"
	"github.com/minseo-lab/gamedub/internal/ocr"
	"github.com/minseo-lab/gamedub/internal/playback"
	"github.com/minseo-lab/gamedub/internal/protocol"
	"github.com/minseo-lab/gamedub/internal/rendercache"
	"github.com/minseo-lab/gamedub/internal/script"
	"github.com/minseo-lab/gamedub/internal/session"
	"github.com/minseo-lab/gamedub/internal/synth"
	"github.com/minseo-lab/gamedub/internal/voicemap"
)

func testEpisode() script.Episode {
	return script.Episode{
		ID:    "ep1",
		Title: "Episode One",
		Lines: []script.Line{
			{ID: "l0", Index: 0, SpeakerID: "hero", SpeakerName: "Hero", Text: "Hello there", Type: script.LineDialogue},
			{ID: "l1", Index: 1, SpeakerID: "villain", SpeakerName: "Villain", Text: "We meet again", Type: script.LineDialogue},
		},
	}
}

type engineFixture struct {
	engine   *Engine
	sessions *session.Manager
	synth    *synth.MockSynthesizer
	sink     *playback.MockSink
	cache    *rendercache.InMemoryStore
	ocr      *ocr.MockProvider
}

func newEngineFixture(t *testing.T, detections []ocr.Event) *engineFixture {
	t.Helper()

	mockOCR := ocr.NewMockProvider()
	mockOCR.Interval = 5 * time.Millisecond
	mockOCR.Script = detections

	loader := script.NewStaticLoader(testEpisode())
	resolver := voicemap.NewResolver(voicemap.NewInMemoryStore(), voicemap.Pools{
		NarratorVoice: "nv-narrator",
		Female:        []string{"f-0", "f-1"},
		Male:          []string{"m-0"},
	})
	cache := rendercache.NewInMemoryStore()
	mockSynth := synth.NewMockSynthesizer()
	sink := playback.NewMockSink()
	sessions := session.NewManager(time.Minute)

	engine := NewEngine(
		Config{StabilityThreshold: 3, MinConfidence: 0.4, MinSimilarity: 0.5, MatchWindow: 24},
		mockOCR, loader, resolver, cache, mockSynth, sink, sessions,
		gpu.NewArbiter(true), nil,
	)
	return &engineFixture{
		engine:   engine,
		sessions: sessions,
		synth:    mockSynth,
		sink:     sink,
		cache:    cache,
		ocr:      mockOCR,
	}
}

func waitForMessage(t *testing.T, outbound <-chan any, match func(any) bool) any {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg := <-outbound:
			if match(msg) {
				return msg
			}
		case <-deadline:
			t.Fatalf("timed out waiting for message")
			return nil
		}
	}
}

func repeatedDetections(text string, n int) []ocr.Event {
	out := make([]ocr.Event, 0, n)
	base := time.Now().UnixMilli()
	for i := 0; i < n; i++ {
		out = append(out, ocr.Event{Text: text, Confidence: 0.9, Timestamp: base + int64(i)*100})
	}
	return out
}

func TestSessionDubsAMatchedLine(t *testing.T) {
	fx := newEngineFixture(t, repeatedDetections("Hello there", 4))
	s := fx.sessions.Create("win-1", "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	inbound := make(chan any, 16)
	outbound := make(chan any, 256)

	done := make(chan error, 1)
	go func() { done <- fx.engine.RunSession(ctx, s, inbound, outbound) }()

	inbound <- protocol.ClientControl{Type: protocol.TypeClientControl, SessionID: s.ID, Action: "select_episode", EpisodeID: "ep1"}
	waitForMessage(t, outbound, func(msg any) bool {
		evt, ok := msg.(protocol.SystemEvent)
		return ok && evt.Code == "episode_selected"
	})
	inbound <- protocol.ClientControl{Type: protocol.TypeClientControl, SessionID: s.ID, Action: "start_dubbing"}

	matched := waitForMessage(t, outbound, func(msg any) bool {
		_, ok := msg.(protocol.LineMatched)
		return ok
	}).(protocol.LineMatched)
	if matched.LineIndex != 0 || matched.Similarity < 0.5 {
		t.Fatalf("matched = %+v, want line 0 with similarity >= 0.5", matched)
	}

	started := waitForMessage(t, outbound, func(msg any) bool {
		_, ok := msg.(protocol.DubStarted)
		return ok
	}).(protocol.DubStarted)
	if started.FromCache {
		t.Fatalf("first dub reported from_cache")
	}

	finished := waitForMessage(t, outbound, func(msg any) bool {
		_, ok := msg.(protocol.DubFinished)
		return ok
	}).(protocol.DubFinished)
	if finished.Reason != "completed" {
		t.Fatalf("finish reason = %q, want completed", finished.Reason)
	}

	if calls := fx.synth.Calls(); len(calls) != 1 || calls[0].Text != "Hello there" {
		t.Fatalf("synth calls = %+v, want one for the matched line", calls)
	}
	// Live synthesis feeds the render cache.
	if _, hit, _ := fx.cache.Get(ctx, "ep1", 0); !hit {
		t.Fatalf("synthesized line not cached")
	}

	cancel()
	<-done
}

func TestCachedLinePlaysWithoutSynthesis(t *testing.T) {
	fx := newEngineFixture(t, repeatedDetections("We meet again", 4))
	_ = fx.cache.Put(context.Background(), rendercache.Entry{
		EpisodeID: "ep1",
		LineIndex: 1,
		VoiceID:   "m-0",
		Audio:     []byte("prerendered"),
	})
	s := fx.sessions.Create("win-1", "ep1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	inbound := make(chan any, 16)
	outbound := make(chan any, 256)
	go func() { _ = fx.engine.RunSession(ctx, s, inbound, outbound) }()

	waitForMessage(t, outbound, func(msg any) bool {
		evt, ok := msg.(protocol.SystemEvent)
		return ok && evt.Code == "episode_selected"
	})
	inbound <- protocol.ClientControl{Type: protocol.TypeClientControl, SessionID: s.ID, Action: "start_dubbing"}

	started := waitForMessage(t, outbound, func(msg any) bool {
		_, ok := msg.(protocol.DubStarted)
		return ok
	}).(protocol.DubStarted)
	if !started.FromCache {
		t.Fatalf("cached line not served from cache")
	}
	if calls := fx.synth.Calls(); len(calls) != 0 {
		t.Fatalf("synthesizer called for a cached line: %+v", calls)
	}
}

func TestUnmatchedDetectionReportsAwaitingMatch(t *testing.T) {
	fx := newEngineFixture(t, repeatedDetections("complete gibberish nothing alike", 4))
	s := fx.sessions.Create("win-1", "ep1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	inbound := make(chan any, 16)
	outbound := make(chan any, 256)
	go func() { _ = fx.engine.RunSession(ctx, s, inbound, outbound) }()

	waitForMessage(t, outbound, func(msg any) bool {
		evt, ok := msg.(protocol.SystemEvent)
		return ok && evt.Code == "episode_selected"
	})
	inbound <- protocol.ClientControl{Type: protocol.TypeClientControl, SessionID: s.ID, Action: "start_dubbing"}

	awaiting := waitForMessage(t, outbound, func(msg any) bool {
		_, ok := msg.(protocol.AwaitingMatch)
		return ok
	}).(protocol.AwaitingMatch)
	if awaiting.Text != "complete gibberish nothing alike" {
		t.Fatalf("awaiting text = %q", awaiting.Text)
	}
}

func TestDetectionsIgnoredWhileNotDubbing(t *testing.T) {
	fx := newEngineFixture(t, repeatedDetections("Hello there", 4))
	s := fx.sessions.Create("win-1", "ep1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	inbound := make(chan any, 16)
	outbound := make(chan any, 256)
	go func() { _ = fx.engine.RunSession(ctx, s, inbound, outbound) }()

	waitForMessage(t, outbound, func(msg any) bool {
		evt, ok := msg.(protocol.SystemEvent)
		return ok && evt.Code == "episode_selected"
	})

	// Never started dubbing: all detections drain with no match traffic.
	time.Sleep(150 * time.Millisecond)
	select {
	case msg := <-outbound:
		if _, isMatch := msg.(protocol.LineMatched); isMatch {
			t.Fatalf("line matched while dubbing was off")
		}
		if _, isDet := msg.(protocol.DetectionEvent); isDet {
			t.Fatalf("detection forwarded while dubbing was off")
		}
	default:
	}

	got, _ := fx.sessions.Get(s.ID)
	if got.MatchCount != 0 {
		t.Fatalf("MatchCount = %d, want 0", got.MatchCount)
	}
}

func TestStopDubbingReleasesGPULease(t *testing.T) {
	fx := newEngineFixture(t, nil)
	arbiter := fx.engine.arbiter
	s := fx.sessions.Create("win-1", "ep1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	inbound := make(chan any, 16)
	outbound := make(chan any, 256)
	go func() { _ = fx.engine.RunSession(ctx, s, inbound, outbound) }()

	waitForMessage(t, outbound, func(msg any) bool {
		evt, ok := msg.(protocol.SystemEvent)
		return ok && evt.Code == "episode_selected"
	})
	inbound <- protocol.ClientControl{Type: protocol.TypeClientControl, SessionID: s.ID, Action: "start_dubbing"}
	waitForMessage(t, outbound, func(msg any) bool {
		evt, ok := msg.(protocol.SystemEvent)
		return ok && evt.Code == "dubbing_started"
	})

	// While dubbing, the live lease blocks background work.
	if _, ok := arbiter.TryAcquire(gpu.ClassBackground); ok {
		t.Fatalf("background lease granted while live dubbing holds the GPU")
	}

	inbound <- protocol.ClientControl{Type: protocol.TypeClientControl, SessionID: s.ID, Action: "stop_dubbing"}
	waitForMessage(t, outbound, func(msg any) bool {
		evt, ok := msg.(protocol.SystemEvent)
		return ok && evt.Code == "dubbing_stopped"
	})

	release, ok := arbiter.TryAcquire(gpu.ClassBackground)
	if !ok {
		t.Fatalf("GPU lease not released after stop_dubbing")
	}
	release()
}

func TestStopWhileQueuedForGPUAcknowledgesStop(t *testing.T) {
	fx := newEngineFixture(t, nil)
	arbiter := fx.engine.arbiter
	s := fx.sessions.Create("win-1", "ep1")

	// Background work holds the GPU, so start_dubbing has to queue.
	releaseBackground, ok := arbiter.TryAcquire(gpu.ClassBackground)
	if !ok {
		t.Fatalf("background TryAcquire = false, want true")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	inbound := make(chan any, 16)
	outbound := make(chan any, 256)
	go func() { _ = fx.engine.RunSession(ctx, s, inbound, outbound) }()

	waitForMessage(t, outbound, func(msg any) bool {
		evt, ok := msg.(protocol.SystemEvent)
		return ok && evt.Code == "episode_selected"
	})
	inbound <- protocol.ClientControl{Type: protocol.TypeClientControl, SessionID: s.ID, Action: "start_dubbing"}
	waitForMessage(t, outbound, func(msg any) bool {
		evt, ok := msg.(protocol.SystemEvent)
		return ok && evt.Code == "gpu_wait"
	})

	// Stopping while still queued must be acknowledged, not dropped.
	inbound <- protocol.ClientControl{Type: protocol.TypeClientControl, SessionID: s.ID, Action: "stop_dubbing"}
	waitForMessage(t, outbound, func(msg any) bool {
		evt, ok := msg.(protocol.SystemEvent)
		return ok && evt.Code == "dubbing_stopped"
	})

	// The abandoned wait must not start dubbing once the GPU frees up.
	releaseBackground()
	deadline := time.After(150 * time.Millisecond)
	for {
		select {
		case msg := <-outbound:
			if evt, ok := msg.(protocol.SystemEvent); ok && evt.Code == "dubbing_started" {
				t.Fatalf("dubbing started after the wait was abandoned")
			}
			continue
		case <-deadline:
		}
		break
	}
	release, ok := arbiter.TryAcquire(gpu.ClassBackground)
	if !ok {
		t.Fatalf("GPU still leased after abandoned wait")
	}
	release()
}

func TestRapidMatchesNeverOverlapPlayback(t *testing.T) {
	detections := append(
		repeatedDetections("Hello there", 3),
		repeatedDetections("We meet again", 3)...,
	)
	fx := newEngineFixture(t, detections)
	fx.sink.Delay = 300 * time.Millisecond
	s := fx.sessions.Create("win-1", "ep1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	inbound := make(chan any, 16)
	outbound := make(chan any, 256)
	go func() { _ = fx.engine.RunSession(ctx, s, inbound, outbound) }()

	waitForMessage(t, outbound, func(msg any) bool {
		evt, ok := msg.(protocol.SystemEvent)
		return ok && evt.Code == "episode_selected"
	})
	inbound <- protocol.ClientControl{Type: protocol.TypeClientControl, SessionID: s.ID, Action: "start_dubbing"}

	// The second match lands while the first clip is still playing; it must
	// take the slot over without ever mixing with the first clip.
	finished := waitForMessage(t, outbound, func(msg any) bool {
		evt, ok := msg.(protocol.DubFinished)
		return ok && evt.LineIndex == 1
	}).(protocol.DubFinished)
	if finished.Reason != "completed" {
		t.Fatalf("second line finish reason = %q, want completed", finished.Reason)
	}
	if got := fx.sink.MaxConcurrentPlays(); got != 1 {
		t.Fatalf("MaxConcurrentPlays() = %d, want 1", got)
	}
}

func TestUnknownEpisodeReportsLoadError(t *testing.T) {
	fx := newEngineFixture(t, nil)
	s := fx.sessions.Create("win-1", "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	inbound := make(chan any, 16)
	outbound := make(chan any, 256)
	go func() { _ = fx.engine.RunSession(ctx, s, inbound, outbound) }()

	inbound <- protocol.ClientControl{Type: protocol.TypeClientControl, SessionID: s.ID, Action: "select_episode", EpisodeID: "missing"}

	errEvt := waitForMessage(t, outbound, func(msg any) bool {
		evt, ok := msg.(protocol.ErrorEvent)
		return ok && evt.Code == "episode_load_failed"
	}).(protocol.ErrorEvent)
	if errEvt.Retryable {
		t.Fatalf("missing episode reported retryable")
	}
}
