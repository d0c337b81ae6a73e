package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientControl  MessageType = "client_control"
	TypeDetectionEvent MessageType = "detection_event"
	TypeLineMatched    MessageType = "line_matched"
	TypeAwaitingMatch  MessageType = "awaiting_match"
	TypeDubStarted     MessageType = "dub_started"
	TypeDubFinished    MessageType = "dub_finished"
	TypeJobProgress    MessageType = "job_progress"
	TypeRenderProgress MessageType = "render_progress"
	TypeGPUContention  MessageType = "gpu_contention"
	TypeSystemEvent    MessageType = "system_event"
	TypeErrorEvent     MessageType = "error_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// ClientControl carries UI commands into the dubbing session.
// Actions: start_dubbing, stop_dubbing, select_episode, stop_audio.
type ClientControl struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Action    string      `json:"action"`
	EpisodeID string      `json:"episode_id,omitempty"`
}

// DetectionEvent mirrors a stabilized on-screen utterance to the UI.
type DetectionEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Text      string      `json:"text"`
	TSMs      int64       `json:"ts_ms"`
}

type LineMatched struct {
	Type       MessageType `json:"type"`
	SessionID  string      `json:"session_id"`
	EpisodeID  string      `json:"episode_id"`
	LineIndex  int         `json:"line_index"`
	LineID     string      `json:"line_id"`
	Similarity float64     `json:"similarity"`
	Speaker    string      `json:"speaker,omitempty"`
}

type AwaitingMatch struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Text      string      `json:"text"`
}

type DubStarted struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	LineIndex int         `json:"line_index"`
	VoiceID   string      `json:"voice_id"`
	FromCache bool        `json:"from_cache"`
}

type DubFinished struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	LineIndex int         `json:"line_index"`
	Reason    string      `json:"reason"`
}

type JobProgress struct {
	Type     MessageType `json:"type"`
	JobID    string      `json:"job_id"`
	CharID   string      `json:"char_id"`
	Mode     string      `json:"mode"`
	Status   string      `json:"status"`
	Progress float64     `json:"progress"`
	Detail   string      `json:"detail,omitempty"`
}

type RenderProgress struct {
	Type         MessageType `json:"type"`
	JobID        string      `json:"job_id"`
	EpisodeID    string      `json:"episode_id"`
	Total        int         `json:"total"`
	Completed    int         `json:"completed"`
	CurrentIndex int         `json:"current_index"`
	Status       string      `json:"status"`
}

// GPUContention is pushed whenever the contention-risk state flips.
type GPUContention struct {
	Type      MessageType `json:"type"`
	Semaphore bool        `json:"semaphore"`
	AtRisk    bool        `json:"at_risk"`
}

type SystemEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Detail    string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.Action == "" {
			return nil, errors.New("invalid client_control")
		}
		if msg.Action == "select_episode" && msg.EpisodeID == "" {
			return nil, errors.New("select_episode requires episode_id")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
