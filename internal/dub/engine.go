package dub

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/minseo-lab/gamedub/internal/detect"
	"github.com/minseo-lab/gamedub/internal/gpu"
	"github.com/minseo-lab/gamedub/internal/observability"
	"github.com/minseo-lab/gamedub/internal/ocr"
	"github.com/minseo-lab/gamedub/internal/playback"
	"github.com/minseo-lab/gamedub/internal/protocol"
	"github.com/minseo-lab/gamedub/internal/rendercache"
	"github.com/minseo-lab/gamedub/internal/script"
	"github.com/minseo-lab/gamedub/internal/session"
	"github.com/minseo-lab/gamedub/internal/synth"
	"github.com/minseo-lab/gamedub/internal/voicemap"
)

// Config carries the tunables of the live pipeline.
type Config struct {
	StabilityThreshold int
	MinConfidence      float64
	MinSimilarity      float64
	MatchWindow        int
}

// Engine runs live dubbing sessions: OCR detections are stabilized, matched
// against the episode script, synthesized (or served from the render cache)
// and played back. One engine serves all sessions; per-session state lives
// inside RunSession.
type Engine struct {
	cfg      Config
	ocr      ocr.Provider
	loader   script.Loader
	resolver *voicemap.Resolver
	cache    rendercache.Store
	synth    synth.Synthesizer
	sink     playback.Sink
	sessions *session.Manager
	arbiter  *gpu.Arbiter
	metrics  *observability.Metrics
}

func NewEngine(
	cfg Config,
	ocrProvider ocr.Provider,
	loader script.Loader,
	resolver *voicemap.Resolver,
	cache rendercache.Store,
	synthesizer synth.Synthesizer,
	sink playback.Sink,
	sessions *session.Manager,
	arbiter *gpu.Arbiter,
	metrics *observability.Metrics,
) *Engine {
	return &Engine{
		cfg:      cfg,
		ocr:      ocrProvider,
		loader:   loader,
		resolver: resolver,
		cache:    cache,
		synth:    synthesizer,
		sink:     sink,
		sessions: sessions,
		arbiter:  arbiter,
		metrics:  metrics,
	}
}

type episodeLoad struct {
	gen       int
	episodeID string
	episode   script.Episode
	err       error
}

// RunSession drives one dubbing session until the context ends or the client
// goes away. Inbound carries parsed protocol messages; outbound is drained by
// the websocket bridge.
func (e *Engine) RunSession(ctx context.Context, s *session.Session, inbound <-chan any, outbound chan<- any) error {
	stream, ocrEvents, err := e.ocr.StartStream(ctx, s.WindowID)
	if err != nil {
		e.send(outbound, protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			SessionID: s.ID,
			Code:      "ocr_connect_failed",
			Source:    "ocr",
			Retryable: true,
			Detail:    err.Error(),
		})
		return err
	}
	defer stream.Close()

	var (
		stabilizer = detect.NewStabilizer(e.cfg.StabilityThreshold, e.cfg.MinConfidence)
		matcher    *script.Matcher
		episodeID  string

		dubbing       bool
		releaseGPU    func()
		gpuWaitCancel context.CancelFunc
		gpuGrants     = make(chan func(), 1)

		loadGen      int
		episodeLoads = make(chan episodeLoad, 4)

		turnMu     sync.Mutex
		turnCancel context.CancelFunc
		nextToken  int64
		activeTurn int64
	)

	cancelActiveDub := func() {
		turnMu.Lock()
		cancel := turnCancel
		turnCancel = nil
		activeTurn = 0
		turnMu.Unlock()
		if cancel != nil {
			cancel()
		}
	}

	defer func() {
		cancelActiveDub()
		if gpuWaitCancel != nil {
			gpuWaitCancel()
		}
		if releaseGPU != nil {
			releaseGPU()
		}
	}()

	loadEpisode := func(id string) {
		loadGen++
		gen := loadGen
		go func() {
			episode, err := e.loader.LoadEpisode(ctx, id)
			select {
			case episodeLoads <- episodeLoad{gen: gen, episodeID: id, episode: episode, err: err}:
			case <-ctx.Done():
			}
		}()
	}
	if s.EpisodeID != "" {
		loadEpisode(s.EpisodeID)
	}

	startDub := func(line script.Line, detectedAt time.Time) {
		turnMu.Lock()
		// A newly matched line always wins the playback slot.
		if turnCancel != nil {
			turnCancel()
		}
		turnCtx, cancel := context.WithCancel(ctx)
		nextToken++
		token := nextToken
		turnCancel = cancel
		activeTurn = token
		turnMu.Unlock()

		epID := episodeID
		go func() {
			defer func() {
				turnMu.Lock()
				if activeTurn == token {
					turnCancel = nil
					activeTurn = 0
				}
				turnMu.Unlock()
			}()
			e.runDubTurn(turnCtx, s, outbound, epID, line, detectedAt)
		}()
	}

	stopDubbing := func(code string) {
		// A session still queued for the GPU has announced gpu_wait, so the
		// stop must be acknowledged on that path too.
		waiting := gpuWaitCancel != nil
		if waiting {
			gpuWaitCancel()
			gpuWaitCancel = nil
		}
		cancelActiveDub()
		e.sink.Stop()
		if releaseGPU != nil {
			releaseGPU()
			releaseGPU = nil
		}
		if dubbing || waiting {
			dubbing = false
			_ = e.sessions.SetState(s.ID, session.StateIdle)
			e.send(outbound, protocol.SystemEvent{Type: protocol.TypeSystemEvent, SessionID: s.ID, Code: code})
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case msg, ok := <-inbound:
			if !ok {
				return nil
			}
			control, isControl := msg.(protocol.ClientControl)
			if !isControl {
				continue
			}
			_ = e.sessions.Touch(s.ID)

			switch control.Action {
			case "start_dubbing":
				if dubbing || gpuWaitCancel != nil {
					continue
				}
				if release, ok := e.arbiter.TryAcquire(gpu.ClassLive); ok {
					releaseGPU = release
					dubbing = true
					_ = e.sessions.SetState(s.ID, session.StateMonitoring)
					e.send(outbound, protocol.SystemEvent{Type: protocol.TypeSystemEvent, SessionID: s.ID, Code: "dubbing_started"})
					continue
				}
				// GPU held by a background job; wait for it off-loop.
				waitCtx, cancel := context.WithCancel(ctx)
				gpuWaitCancel = cancel
				e.send(outbound, protocol.SystemEvent{
					Type:      protocol.TypeSystemEvent,
					SessionID: s.ID,
					Code:      "gpu_wait",
					Detail:    "waiting for background GPU work to finish",
				})
				go func() {
					release, err := e.arbiter.Acquire(waitCtx, gpu.ClassLive)
					if err != nil {
						return
					}
					select {
					case gpuGrants <- release:
					case <-ctx.Done():
						release()
					}
				}()

			case "stop_dubbing":
				stopDubbing("dubbing_stopped")

			case "select_episode":
				loadEpisode(control.EpisodeID)

			case "stop_audio":
				cancelActiveDub()
				e.sink.Stop()
				if dubbing {
					_ = e.sessions.SetState(s.ID, session.StateMonitoring)
				}
			}

		case release := <-gpuGrants:
			if gpuWaitCancel == nil {
				// Dubbing was stopped while waiting; give the lease back.
				release()
				continue
			}
			gpuWaitCancel = nil
			releaseGPU = release
			dubbing = true
			_ = e.sessions.SetState(s.ID, session.StateMonitoring)
			e.send(outbound, protocol.SystemEvent{Type: protocol.TypeSystemEvent, SessionID: s.ID, Code: "dubbing_started"})

		case load := <-episodeLoads:
			if load.gen != loadGen {
				// A newer selection superseded this load.
				continue
			}
			if load.err != nil {
				e.send(outbound, protocol.ErrorEvent{
					Type:      protocol.TypeErrorEvent,
					SessionID: s.ID,
					Code:      "episode_load_failed",
					Source:    "script",
					Retryable: !errors.Is(load.err, script.ErrEpisodeNotFound),
					Detail:    load.err.Error(),
				})
				continue
			}
			episodeID = load.episodeID
			matcher = script.NewMatcher(load.episode, e.cfg.MinSimilarity, e.cfg.MatchWindow)
			stabilizer.Reset()
			cancelActiveDub()
			e.sink.Stop()
			_ = e.sessions.SetEpisode(s.ID, episodeID)
			e.send(outbound, protocol.SystemEvent{
				Type:      protocol.TypeSystemEvent,
				SessionID: s.ID,
				Code:      "episode_selected",
				Detail:    episodeID,
			})

		case evt, ok := <-ocrEvents:
			if !ok {
				e.send(outbound, protocol.ErrorEvent{
					Type:      protocol.TypeErrorEvent,
					SessionID: s.ID,
					Code:      "ocr_stream_closed",
					Source:    "ocr",
					Retryable: true,
					Detail:    "detection stream ended",
				})
				return errors.New("ocr stream closed")
			}
			if !dubbing {
				continue
			}
			e.sessions.RecordDetection(s.ID)

			stable, ok := stabilizer.Observe(detect.Utterance{
				Text:       evt.Text,
				Confidence: evt.Confidence,
				Timestamp:  evt.Timestamp,
			})
			if !ok || !stable.IsNew {
				e.countDetection("discarded")
				continue
			}
			e.countDetection("stabilized")
			detectedAt := time.Now()
			e.send(outbound, protocol.DetectionEvent{
				Type:      protocol.TypeDetectionEvent,
				SessionID: s.ID,
				Text:      stable.Text,
				TSMs:      evt.Timestamp,
			})

			if matcher == nil {
				e.send(outbound, protocol.AwaitingMatch{Type: protocol.TypeAwaitingMatch, SessionID: s.ID, Text: stable.Text})
				continue
			}
			res := matcher.Match(stable.Text)
			if !res.Matched {
				e.countDetection("unmatched")
				e.send(outbound, protocol.AwaitingMatch{Type: protocol.TypeAwaitingMatch, SessionID: s.ID, Text: stable.Text})
				continue
			}
			e.countDetection("matched")
			e.sessions.RecordMatch(s.ID)
			if e.metrics != nil {
				e.metrics.MatchSimilarity.Observe(res.Similarity)
			}
			e.send(outbound, protocol.LineMatched{
				Type:       protocol.TypeLineMatched,
				SessionID:  s.ID,
				EpisodeID:  episodeID,
				LineIndex:  res.Line.Index,
				LineID:     res.Line.ID,
				Similarity: res.Similarity,
				Speaker:    res.Line.SpeakerName,
			})
			_ = e.sessions.SetState(s.ID, session.StateMatched)
			startDub(res.Line, detectedAt)
		}
	}
}

// runDubTurn resolves the voice, fetches or synthesizes the audio and plays
// it. It runs outside the session loop and is cancelled when a newer line
// takes the playback slot.
func (e *Engine) runDubTurn(ctx context.Context, s *session.Session, outbound chan<- any, episodeID string, line script.Line, detectedAt time.Time) {
	key := voicemap.SpeakerKey(line.SpeakerID, line.SpeakerName)
	voice, ok := e.resolver.Resolve(ctx, key, line.SpeakerName)
	if !ok {
		e.send(outbound, protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			SessionID: s.ID,
			Code:      "voice_unresolved",
			Source:    "voicemap",
			Retryable: false,
			Detail:    "no voice available for speaker " + line.SpeakerName,
		})
		return
	}

	var audio []byte
	fromCache := false
	if entry, hit, err := e.cache.Get(ctx, episodeID, line.Index); err == nil && hit && len(entry.Audio) > 0 {
		audio = entry.Audio
		fromCache = true
	}
	if audio == nil {
		var err error
		audio, err = e.synth.Synthesize(ctx, line.Text, voice)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if e.metrics != nil {
				e.metrics.SynthErrors.WithLabelValues("synthesize").Inc()
			}
			e.send(outbound, protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: s.ID,
				Code:      "synthesis_failed",
				Source:    "synth",
				Retryable: true,
				Detail:    err.Error(),
			})
			return
		}
		_ = e.cache.Put(ctx, rendercache.Entry{
			EpisodeID: episodeID,
			LineIndex: line.Index,
			VoiceID:   voice,
			Audio:     audio,
		})
	}
	if ctx.Err() != nil {
		return
	}

	_ = e.sessions.SetState(s.ID, session.StatePlaying)
	e.send(outbound, protocol.DubStarted{
		Type:      protocol.TypeDubStarted,
		SessionID: s.ID,
		LineIndex: line.Index,
		VoiceID:   voice,
		FromCache: fromCache,
	})
	if e.metrics != nil {
		e.metrics.ObservePlaybackLatency(time.Since(detectedAt))
	}

	err := e.sink.Play(ctx, audio)
	reason := "completed"
	if err != nil {
		reason = "interrupted"
	}
	e.sessions.RecordPlayback(s.ID)
	e.send(outbound, protocol.DubFinished{
		Type:      protocol.TypeDubFinished,
		SessionID: s.ID,
		LineIndex: line.Index,
		Reason:    reason,
	})
	_ = e.sessions.SetState(s.ID, session.StateMonitoring)
}

func (e *Engine) countDetection(outcome string) {
	if e.metrics != nil {
		e.metrics.Detections.WithLabelValues(outcome).Inc()
	}
}

func (e *Engine) send(outbound chan<- any, msg any) {
	select {
	case outbound <- msg:
	default:
		log.Printf("dub: dropping outbound %T (slow consumer)", msg)
	}
}
