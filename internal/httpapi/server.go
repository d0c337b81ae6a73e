package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/minseo-lab/gamedub/internal/config"
	"github.com/minseo-lab/gamedub/internal/gpu"
	"github.com/minseo-lab/gamedub/internal/jobs"
	"github.com/minseo-lab/gamedub/internal/observability"
	"github.com/minseo-lab/gamedub/internal/ocr"
	"github.com/minseo-lab/gamedub/internal/protocol"
	"github.com/minseo-lab/gamedub/internal/rendercache"
	"github.com/minseo-lab/gamedub/internal/script"
	"github.com/minseo-lab/gamedub/internal/session"
	"github.com/minseo-lab/gamedub/internal/voicemap"
)

// Engine is the live dubbing pipeline behind the websocket endpoint.
type Engine interface {
	RunSession(ctx context.Context, s *session.Session, inbound <-chan any, outbound chan<- any) error
}

type Server struct {
	cfg      config.Config
	sessions *session.Manager
	engine   Engine
	jobs     *jobs.Manager
	arbiter  *gpu.Arbiter
	voices   voicemap.Store
	cache    rendercache.Store
	ocr      ocr.Provider
	loader   script.Loader
	metrics  *observability.Metrics
	upgrader websocket.Upgrader

	gpuMu      sync.Mutex
	gpuSubs    map[int]chan gpu.State
	nextGPUSub int
}

func New(
	cfg config.Config,
	sessions *session.Manager,
	engine Engine,
	jobManager *jobs.Manager,
	arbiter *gpu.Arbiter,
	voices voicemap.Store,
	cache rendercache.Store,
	ocrProvider ocr.Provider,
	loader script.Loader,
	metrics *observability.Metrics,
) *Server {
	s := &Server{
		cfg:      cfg,
		sessions: sessions,
		engine:   engine,
		jobs:     jobManager,
		arbiter:  arbiter,
		voices:   voices,
		cache:    cache,
		ocr:      ocrProvider,
		loader:   loader,
		metrics:  metrics,
		gpuSubs:  make(map[int]chan gpu.State),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browsers may drive a dubbing session
				// unless explicitly opened up.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
	if arbiter != nil {
		arbiter.SetNotify(s.broadcastGPUState)
	}
	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/dub/session", s.handleCreateSession)
	r.Post("/v1/dub/session/{id}/end", s.handleEndSession)
	r.Get("/v1/dub/session/ws", s.handleSessionWS)

	r.Get("/v1/windows", s.handleListWindows)
	r.Get("/v1/episodes/{id}", s.handleGetEpisode)

	r.Get("/v1/voices", s.handleListVoices)
	r.Put("/v1/voices/{key}", s.handlePutVoice)
	r.Delete("/v1/voices/{key}", s.handleDeleteVoice)

	r.Get("/v1/cache/{episodeID}", s.handleListCache)
	r.Delete("/v1/cache/{episodeID}", s.handleDeleteEpisodeCache)
	r.Delete("/v1/cache/{episodeID}/{index}", s.handleDeleteCacheLine)

	r.Post("/v1/jobs/training", s.handleSubmitTraining)
	r.Post("/v1/jobs/training/batch", s.handleSubmitTrainingBatch)
	r.Post("/v1/jobs/render", s.handleSubmitRender)
	r.Post("/v1/jobs/queue/clear", s.handleClearQueue)
	r.Post("/v1/jobs/{id}/cancel", s.handleCancelJob)
	r.Get("/v1/jobs/{id}", s.handleGetJob)
	r.Get("/v1/jobs", s.handleListJobs)

	r.Get("/v1/gpu", s.handleGetGPU)
	r.Put("/v1/gpu", s.handleSetGPU)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"provider_mode": s.cfg.ProviderMode,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":        "ready",
		"gpu_semaphore": s.arbiter.Enabled(),
	})
}

type createSessionRequest struct {
	WindowID  string `json:"window_id"`
	EpisodeID string `json:"episode_id,omitempty"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.WindowID) == "" {
		respondError(w, http.StatusBadRequest, "missing_window_id", "window_id is required")
		return
	}

	sess := s.sessions.Create(req.WindowID, strings.TrimSpace(req.EpisodeID))
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
	s.metrics.SessionEvents.WithLabelValues("created").Inc()
	respondJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}

	sess, err := s.sessions.End(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
	s.metrics.SessionEvents.WithLabelValues("ended").Inc()
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}
	if s.engine == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "engine not configured")
		return
	}

	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan any, 256)
	outbound := make(chan any, 256)
	runDone := make(chan struct{})

	go func() {
		defer close(runDone)
		_ = s.engine.RunSession(ctx, sess, inbound, outbound)
	}()

	// Forward job and GPU state changes alongside the session's own events.
	jobEvents, jobUnsub := s.jobs.Subscribe()
	defer jobUnsub()
	gpuStates, gpuUnsub := s.subscribeGPUState()
	defer gpuUnsub()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-jobEvents:
				if !ok {
					return
				}
				if msg := s.translateJobEvent(evt); msg != nil {
					enqueue(outbound, msg)
				}
			case state, ok := <-gpuStates:
				if !ok {
					return
				}
				enqueue(outbound, protocol.GPUContention{
					Type:      protocol.TypeGPUContention,
					Semaphore: state.Enabled,
					AtRisk:    state.AtRisk,
				})
			}
		}
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-outbound:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
				if t, ok := messageTypeOf(msg); ok {
					s.metrics.WSMessages.WithLabelValues("outbound", string(t)).Inc()
				}
			}
		}
	}()

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			enqueue(outbound, protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sessionID,
				Code:      "invalid_client_message",
				Source:    "gateway",
				Retryable: false,
				Detail:    err.Error(),
			})
			continue
		}

		if t, ok := messageTypeOf(parsed); ok {
			s.metrics.WSMessages.WithLabelValues("inbound", string(t)).Inc()
		}
		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- parsed:
		}
	}

	cancel()
	close(inbound)
	<-runDone
	<-writerDone
	s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()
}

func (s *Server) translateJobEvent(evt jobs.Event) any {
	job, err := s.jobs.Get(evt.JobID)
	if err != nil {
		return nil
	}
	if job.Kind == jobs.KindRender {
		return protocol.RenderProgress{
			Type:         protocol.TypeRenderProgress,
			JobID:        job.ID,
			EpisodeID:    job.EpisodeID,
			Total:        job.Total,
			Completed:    job.Completed,
			CurrentIndex: job.CurrentIndex,
			Status:       string(job.Status),
		}
	}
	return protocol.JobProgress{
		Type:     protocol.TypeJobProgress,
		JobID:    job.ID,
		CharID:   job.CharID,
		Mode:     string(job.Mode),
		Status:   string(job.Status),
		Progress: job.Progress,
		Detail:   evt.Detail,
	}
}

func (s *Server) subscribeGPUState() (<-chan gpu.State, func()) {
	ch := make(chan gpu.State, 8)
	s.gpuMu.Lock()
	s.nextGPUSub++
	id := s.nextGPUSub
	s.gpuSubs[id] = ch
	s.gpuMu.Unlock()

	return ch, func() {
		s.gpuMu.Lock()
		defer s.gpuMu.Unlock()
		if c, ok := s.gpuSubs[id]; ok {
			delete(s.gpuSubs, id)
			close(c)
		}
	}
}

func (s *Server) broadcastGPUState(state gpu.State) {
	if state.AtRisk {
		s.metrics.GPUContention.Set(1)
	} else {
		s.metrics.GPUContention.Set(0)
	}
	s.gpuMu.Lock()
	defer s.gpuMu.Unlock()
	for _, ch := range s.gpuSubs {
		select {
		case ch <- state:
		default:
		}
	}
}

// enqueue keeps websocket writes single-threaded; full queues drop.
func enqueue(outbound chan<- any, msg any) {
	select {
	case outbound <- msg:
	default:
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.ClientControl:
		return m.Type, true
	case protocol.DetectionEvent:
		return m.Type, true
	case protocol.LineMatched:
		return m.Type, true
	case protocol.AwaitingMatch:
		return m.Type, true
	case protocol.DubStarted:
		return m.Type, true
	case protocol.DubFinished:
		return m.Type, true
	case protocol.JobProgress:
		return m.Type, true
	case protocol.RenderProgress:
		return m.Type, true
	case protocol.GPUContention:
		return m.Type, true
	case protocol.SystemEvent:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
