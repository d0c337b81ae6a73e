package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/minseo-lab/gamedub/internal/script"
	"github.com/minseo-lab/gamedub/internal/voicemap"
)

func (s *Server) handleListWindows(w http.ResponseWriter, r *http.Request) {
	windows, err := s.ocr.ListWindows(r.Context())
	if err != nil {
		respondError(w, http.StatusBadGateway, "ocr_unavailable", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"windows": windows})
}

func (s *Server) handleGetEpisode(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	episode, err := s.loader.LoadEpisode(r.Context(), id)
	if err != nil {
		if errors.Is(err, script.ErrEpisodeNotFound) {
			respondError(w, http.StatusNotFound, "episode_not_found", err.Error())
			return
		}
		respondError(w, http.StatusBadGateway, "episode_load_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, episode)
}

func (s *Server) handleListVoices(w http.ResponseWriter, r *http.Request) {
	entries, err := s.voices.List(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"mappings": entries})
}

type putVoiceRequest struct {
	DisplayName string `json:"display_name,omitempty"`
	Voice       string `json:"voice"`
}

func (s *Server) handlePutVoice(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(chi.URLParam(r, "key"))
	if key == "" {
		respondError(w, http.StatusBadRequest, "missing_speaker_key", "speaker key is required")
		return
	}
	var req putVoiceRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Voice) == "" {
		respondError(w, http.StatusBadRequest, "missing_voice", "voice is required")
		return
	}

	entry := voicemap.Entry{
		SpeakerKey:  key,
		DisplayName: strings.TrimSpace(req.DisplayName),
		Voice:       strings.TrimSpace(req.Voice),
	}
	if err := s.voices.Put(r.Context(), entry); err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, entry)
}

func (s *Server) handleDeleteVoice(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(chi.URLParam(r, "key"))
	if key == "" {
		respondError(w, http.StatusBadRequest, "missing_speaker_key", "speaker key is required")
		return
	}
	if err := s.voices.Delete(r.Context(), key); err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"deleted": key})
}

func (s *Server) handleListCache(w http.ResponseWriter, r *http.Request) {
	episodeID := chi.URLParam(r, "episodeID")
	entries, err := s.cache.List(r.Context(), episodeID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"episode_id": episodeID,
		"entries":    entries,
	})
}

func (s *Server) handleDeleteEpisodeCache(w http.ResponseWriter, r *http.Request) {
	episodeID := chi.URLParam(r, "episodeID")
	if err := s.cache.DeleteEpisode(r.Context(), episodeID); err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"deleted": episodeID})
}

func (s *Server) handleDeleteCacheLine(w http.ResponseWriter, r *http.Request) {
	episodeID := chi.URLParam(r, "episodeID")
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 0 {
		respondError(w, http.StatusBadRequest, "invalid_line_index", "index must be a non-negative integer")
		return
	}
	if err := s.cache.Delete(r.Context(), episodeID, index); err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"episode_id": episodeID,
		"line_index": index,
	})
}

func (s *Server) handleGetGPU(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.arbiter.Snapshot())
}

func (s *Server) handleSetGPU(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Semaphore *bool `json:"semaphore"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.Semaphore == nil {
		respondError(w, http.StatusBadRequest, "missing_semaphore", "semaphore is required")
		return
	}
	s.arbiter.SetEnabled(*req.Semaphore)
	respondJSON(w, http.StatusOK, s.arbiter.Snapshot())
}
