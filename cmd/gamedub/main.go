package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/minseo-lab/gamedub/internal/config"
	"github.com/minseo-lab/gamedub/internal/dub"
	"github.com/minseo-lab/gamedub/internal/gpu"
	"github.com/minseo-lab/gamedub/internal/httpapi"
	"github.com/minseo-lab/gamedub/internal/jobs"
	"github.com/minseo-lab/gamedub/internal/observability"
	"github.com/minseo-lab/gamedub/internal/ocr"
	"github.com/minseo-lab/gamedub/internal/playback"
	"github.com/minseo-lab/gamedub/internal/rendercache"
	"github.com/minseo-lab/gamedub/internal/script"
	"github.com/minseo-lab/gamedub/internal/session"
	"github.com/minseo-lab/gamedub/internal/synth"
	"github.com/minseo-lab/gamedub/internal/voicemap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	voiceStore, err := voicemap.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("voice store init failed: %v", err)
	}
	defer voiceStore.Close()

	cache, err := rendercache.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("render cache init failed: %v", err)
	}
	defer cache.Close()

	var (
		ocrProvider  ocr.Provider
		synthesizer  synth.Synthesizer
		trainer      jobs.Trainer
		loader       script.Loader
		sink         playback.Sink
		resolvedMode string
	)

	providerMode := strings.ToLower(strings.TrimSpace(cfg.ProviderMode))
	if providerMode == "" {
		providerMode = "auto"
	}

	tryLive := func() bool {
		if strings.TrimSpace(cfg.OCRStreamURL) == "" || strings.TrimSpace(cfg.SynthesisURL) == "" {
			return false
		}
		ocrProvider = ocr.NewWSProvider(cfg.OCRStreamURL)
		synthesizer = synth.NewHTTPSynthesizer(cfg.SynthesisURL, cfg.SynthesisTimeout)
		trainer = synth.NewHTTPTrainer(cfg.SynthesisURL)
		resolvedMode = "live"
		log.Printf("providers: live (ocr=%s synth=%s)", cfg.OCRStreamURL, cfg.SynthesisURL)
		return true
	}

	useMock := func() {
		mock := ocr.NewMockProvider()
		mock.Interval = cfg.OCRPollInterval
		ocrProvider = mock
		synthesizer = synth.NewMockSynthesizer()
		trainer = synth.NewMockTrainer()
		resolvedMode = "mock"
		log.Printf("providers: mock")
	}

	switch providerMode {
	case "live":
		if !tryLive() {
			log.Fatalf("GAMEDUB_PROVIDER=live requires GAMEDUB_OCR_STREAM_URL and GAMEDUB_SYNTHESIS_URL")
		}
	case "mock":
		useMock()
	case "auto":
		if !tryLive() {
			useMock()
		}
	default:
		log.Fatalf("invalid GAMEDUB_PROVIDER: %q (expected auto|live|mock)", cfg.ProviderMode)
	}
	cfg.ProviderMode = resolvedMode

	if strings.TrimSpace(cfg.ScriptBaseURL) != "" {
		loader = script.NewHTTPLoader(cfg.ScriptBaseURL)
	} else {
		loader = script.NewStaticLoader()
		log.Printf("script loader: static (GAMEDUB_SCRIPT_BASE_URL not set)")
	}

	if resolvedMode == "mock" {
		sink = playback.NewMockSink()
	} else {
		speakerSink, err := playback.NewSpeakerSink()
		if err != nil {
			log.Fatalf("speaker init failed: %v", err)
		}
		sink = speakerSink
	}

	resolver := voicemap.NewResolver(voiceStore, voicemap.Pools{
		NarratorVoice: cfg.NarratorVoice,
		Female:        cfg.FemaleVoices,
		Male:          cfg.MaleVoices,
	})

	arbiter := gpu.NewArbiter(cfg.GPUSemaphore)

	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	sessions.SetExpireHook(func(_ *session.Session) {
		metrics.SessionEvents.WithLabelValues("expired").Inc()
		metrics.ActiveSessions.Set(float64(sessions.ActiveCount()))
	})

	jobManager := jobs.NewManager()
	renderer := jobs.NewEpisodeRenderer(loader, resolver, synthesizer, cache)
	runner := jobs.NewRunner(jobManager, arbiter, trainer, renderer)

	engine := dub.NewEngine(
		dub.Config{
			StabilityThreshold: cfg.StabilityThreshold,
			MinConfidence:      cfg.MinConfidence,
			MinSimilarity:      cfg.MinSimilarity,
			MatchWindow:        cfg.MatchWindow,
		},
		ocrProvider, loader, resolver, cache, synthesizer, sink,
		sessions, arbiter, metrics,
	)

	api := httpapi.New(cfg, sessions, engine, jobManager, arbiter, voiceStore, cache, ocrProvider, loader, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	sessions.StartJanitor(runCtx, 5*time.Second)
	runner.Start(runCtx)

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
