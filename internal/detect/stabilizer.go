package detect

import "strings"

// Utterance is one raw OCR text sample. It lives for a single poll tick.
type Utterance struct {
	Text       string
	Confidence float64
	Timestamp  int64
}

// StableUtterance is a debounced, confirmed on-screen line.
type StableUtterance struct {
	Text  string
	IsNew bool
}

// Stabilizer collapses the noisy per-tick detection stream into discrete
// stable-utterance events. A line is stable once the same non-blank text has
// been seen for threshold consecutive accepted polls, and each distinct
// stabilization emits exactly once.
type Stabilizer struct {
	threshold     int
	minConfidence float64

	lastSeen    string
	runLength   int
	lastEmitted string
}

func NewStabilizer(threshold int, minConfidence float64) *Stabilizer {
	if threshold < 1 {
		threshold = 3
	}
	return &Stabilizer{
		threshold:     threshold,
		minConfidence: minConfidence,
	}
}

// Observe absorbs one detection tick. The second return is true when a new
// stable utterance was produced by this tick.
func (s *Stabilizer) Observe(u Utterance) (StableUtterance, bool) {
	if u.Confidence < s.minConfidence {
		// Below-confidence samples count as "no detection": they neither
		// advance nor reset the run.
		return StableUtterance{}, false
	}

	text := strings.TrimSpace(u.Text)
	if text == "" {
		// No dialogue visible. Drop the run so stale text cannot resume it.
		s.lastSeen = ""
		s.runLength = 0
		return StableUtterance{}, false
	}

	if text == s.lastSeen {
		s.runLength++
	} else {
		s.lastSeen = text
		s.runLength = 1
	}

	if s.runLength == s.threshold && text != s.lastEmitted {
		s.lastEmitted = text
		return StableUtterance{Text: text, IsNew: true}, true
	}
	return StableUtterance{}, false
}

// Reset clears all counters, including the emitted-text memory. Idempotent;
// the next emission after a reset is always IsNew.
func (s *Stabilizer) Reset() {
	s.lastSeen = ""
	s.runLength = 0
	s.lastEmitted = ""
}
