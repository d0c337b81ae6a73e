package script

// LineType classifies how a script line appears on screen.
type LineType string

const (
	LineDialogue  LineType = "dialogue"
	LineNarration LineType = "narration"
	LineSubtitle  LineType = "subtitle"
	LineSticker   LineType = "sticker"
	LinePopup     LineType = "popup"
)

// Spoken reports whether lines of this type are dubbed and therefore
// candidates for matching. Stickers and popups are screen decoration.
func (t LineType) Spoken() bool {
	switch t {
	case LineSticker, LinePopup:
		return false
	default:
		return true
	}
}

// Line is one immutable entry of an episode script.
type Line struct {
	ID          string   `json:"id"`
	Index       int      `json:"index"`
	SpeakerID   string   `json:"speaker_id,omitempty"`
	SpeakerName string   `json:"speaker_name,omitempty"`
	Text        string   `json:"text"`
	Type        LineType `json:"type"`
}

// Episode is a fixed, ordered script loaded once per selection.
type Episode struct {
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
	Lines []Line `json:"lines"`
}
