package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrSynthesisFailed wraps upstream synthesis-server failures so callers can
// tell them apart from local errors.
var ErrSynthesisFailed = errors.New("synthesis failed")

const trainPollInterval = 2 * time.Second

// HTTPSynthesizer talks to the local synthesis server. One request per line;
// the server answers with a complete WAV payload.
type HTTPSynthesizer struct {
	baseURL string
	client  *http.Client
}

func NewHTTPSynthesizer(baseURL string, timeout time.Duration) *HTTPSynthesizer {
	return &HTTPSynthesizer{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (s *HTTPSynthesizer) Synthesize(ctx context.Context, text, voiceID string) ([]byte, error) {
	body, err := json.Marshal(map[string]string{
		"text":     text,
		"voice_id": voiceID,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/synthesize", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSynthesisFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: HTTP %d %s", ErrSynthesisFailed, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read audio: %v", ErrSynthesisFailed, err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("%w: empty audio payload", ErrSynthesisFailed)
	}
	return audio, nil
}

// HTTPTrainer drives training on the synthesis server: one POST to start,
// then polling until the server reports a terminal state.
type HTTPTrainer struct {
	baseURL string
	client  *http.Client
}

func NewHTTPTrainer(baseURL string) *HTTPTrainer {
	return &HTTPTrainer{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type trainStatus struct {
	Status   string  `json:"status"`
	Progress float64 `json:"progress"`
	Stage    string  `json:"stage"`
	Error    string  `json:"error"`
}

func (t *HTTPTrainer) Train(ctx context.Context, charID string, mode string, report func(progress float64, stage string)) error {
	body, err := json.Marshal(map[string]string{
		"char_id": charID,
		"mode":    mode,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/train", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("start training: %w", err)
	}
	var started struct {
		JobID string `json:"job_id"`
	}
	decodeErr := json.NewDecoder(resp.Body).Decode(&started)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("start training: HTTP %d", resp.StatusCode)
	}
	if decodeErr != nil || strings.TrimSpace(started.JobID) == "" {
		return errors.New("start training: no job id in response")
	}

	ticker := time.NewTicker(trainPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			t.cancelRemote(started.JobID)
			return ctx.Err()
		case <-ticker.C:
		}

		status, err := t.poll(ctx, started.JobID)
		if err != nil {
			if ctx.Err() != nil {
				t.cancelRemote(started.JobID)
				return ctx.Err()
			}
			// Transient poll failures are retried on the next tick.
			continue
		}
		report(status.Progress, status.Stage)

		switch status.Status {
		case "done":
			return nil
		case "error":
			return fmt.Errorf("training failed: %s", status.Error)
		}
	}
}

func (t *HTTPTrainer) poll(ctx context.Context, jobID string) (trainStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"/train/"+jobID, nil)
	if err != nil {
		return trainStatus{}, err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return trainStatus{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return trainStatus{}, fmt.Errorf("poll training: HTTP %d", resp.StatusCode)
	}
	var status trainStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return trainStatus{}, err
	}
	return status, nil
}

// cancelRemote is best effort; the caller is already unwinding.
func (t *HTTPTrainer) cancelRemote(jobID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/train/"+jobID+"/cancel", nil)
	if err != nil {
		return
	}
	if resp, err := t.client.Do(req); err == nil {
		resp.Body.Close()
	}
}
