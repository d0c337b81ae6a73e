package voicemap

import (
	"context"
	"strings"
)

// AutoFemale and AutoMale are mapping sentinels: the speaker has no fixed
// voice, but the deterministic pick is constrained to one gender pool.
const (
	AutoFemale = "AUTO_FEMALE"
	AutoMale   = "AUTO_MALE"
)

// Entry is one persisted voice-mapping row. Voice is a concrete
// voice-character id, AutoFemale, or AutoMale.
type Entry struct {
	SpeakerKey  string `json:"speaker_key"`
	DisplayName string `json:"display_name,omitempty"`
	Voice       string `json:"voice"`
}

// SpeakerKey builds the canonical mapping key: the stable speaker id when the
// script provides one, otherwise a name-scoped key. Narrator lines (no id,
// no name) produce an empty key.
func SpeakerKey(speakerID, speakerName string) string {
	speakerID = strings.TrimSpace(speakerID)
	if speakerID != "" {
		return speakerID
	}
	speakerName = strings.TrimSpace(speakerName)
	if speakerName == "" {
		return ""
	}
	return "name:" + speakerName
}

// Store persists voice mappings. The table is episode-independent.
type Store interface {
	Get(ctx context.Context, speakerKey string) (Entry, bool, error)
	Put(ctx context.Context, entry Entry) error
	Delete(ctx context.Context, speakerKey string) error
	List(ctx context.Context) ([]Entry, error)
	Close() error
}
