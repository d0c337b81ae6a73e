package protocol

import (
	"errors"
	"testing"
)

func TestParseClientMessageControl(t *testing.T) {
	raw := []byte(`{"type":"client_control","session_id":"s1","action":"select_episode","episode_id":"ep1"}`)
	parsed, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	msg, ok := parsed.(ClientControl)
	if !ok {
		t.Fatalf("ParseClientMessage() = %T, want ClientControl", parsed)
	}
	if msg.SessionID != "s1" || msg.Action != "select_episode" || msg.EpisodeID != "ep1" {
		t.Fatalf("ClientControl = %+v", msg)
	}
}

func TestParseClientMessageRejectsMissingFields(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"missing action", `{"type":"client_control","session_id":"s1"}`},
		{"missing session", `{"type":"client_control","action":"start_dubbing"}`},
		{"select without episode", `{"type":"client_control","session_id":"s1","action":"select_episode"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseClientMessage([]byte(tc.raw)); err == nil {
				t.Fatalf("ParseClientMessage(%s) succeeded, want error", tc.raw)
			}
		})
	}
}

func TestParseClientMessageUnsupportedType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"detection_event","session_id":"s1"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("ParseClientMessage() error = %v, want ErrUnsupportedType", err)
	}
}

func TestParseClientMessageInvalidEnvelope(t *testing.T) {
	if _, err := ParseClientMessage([]byte(`not json`)); err == nil {
		t.Fatalf("ParseClientMessage() succeeded on malformed input, want error")
	}
}
