package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/minseo-lab/gamedub/internal/jobs"
)

type trainingRequest struct {
	CharID string `json:"char_id"`
	Mode   string `json:"mode"`
}

func (r trainingRequest) toSubmit() jobs.SubmitRequest {
	return jobs.SubmitRequest{
		Kind:   jobs.KindTraining,
		CharID: r.CharID,
		Mode:   jobs.TrainingMode(strings.TrimSpace(r.Mode)),
	}
}

func (s *Server) handleSubmitTraining(w http.ResponseWriter, r *http.Request) {
	var req trainingRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	job, err := s.jobs.Submit(req.toSubmit())
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_job", err.Error())
		return
	}
	s.metrics.JobEvents.WithLabelValues("submitted").Inc()
	respondJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleSubmitTrainingBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Jobs []trainingRequest `json:"jobs"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if len(req.Jobs) == 0 {
		respondError(w, http.StatusBadRequest, "empty_batch", "jobs is required")
		return
	}

	submits := make([]jobs.SubmitRequest, 0, len(req.Jobs))
	for _, j := range req.Jobs {
		submits = append(submits, j.toSubmit())
	}
	accepted, err := s.jobs.SubmitBatch(submits)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_job", err.Error())
		return
	}
	s.metrics.JobEvents.WithLabelValues("batch_submitted").Inc()
	respondJSON(w, http.StatusAccepted, map[string]any{
		"accepted": accepted,
		"skipped":  len(req.Jobs) - len(accepted),
	})
}

func (s *Server) handleSubmitRender(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EpisodeID string `json:"episode_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	job, err := s.jobs.Submit(jobs.SubmitRequest{Kind: jobs.KindRender, EpisodeID: req.EpisodeID})
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_job", err.Error())
		return
	}
	s.metrics.JobEvents.WithLabelValues("submitted").Inc()
	respondJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.jobs.Cancel(id)
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			respondError(w, http.StatusNotFound, "job_not_found", err.Error())
			return
		}
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	s.metrics.JobEvents.WithLabelValues("cancelled").Inc()
	respondJSON(w, http.StatusOK, job)
}

func (s *Server) handleClearQueue(w http.ResponseWriter, _ *http.Request) {
	cleared := s.jobs.ClearQueue()
	s.metrics.JobEvents.WithLabelValues("queue_cleared").Inc()
	respondJSON(w, http.StatusOK, map[string]any{
		"cleared": len(cleared),
		"jobs":    cleared,
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Get(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusNotFound, "job_not_found", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"jobs": s.jobs.List()})
}
