package script

// MatchResult reports the outcome of matching one stable utterance against
// the active episode script.
type MatchResult struct {
	Matched    bool
	Line       Line
	Similarity float64
	Index      int
}

// Matcher fuzzy-matches stable utterances against an episode script. A search
// cursor (last matched index) biases scoring toward forward progress: lines
// within a window ahead of the cursor are tried first, and the whole script
// only when the window produces no acceptable match, so skips and rewinds
// still recover.
type Matcher struct {
	episode       Episode
	minSimilarity float64
	window        int
	cursor        int
}

func NewMatcher(episode Episode, minSimilarity float64, window int) *Matcher {
	if window < 1 {
		window = 24
	}
	if minSimilarity <= 0 {
		minSimilarity = 0.5
	}
	return &Matcher{
		episode:       episode,
		minSimilarity: minSimilarity,
		window:        window,
	}
}

// Cursor returns the index of the last accepted match, 0 before any match.
func (m *Matcher) Cursor() int { return m.cursor }

// Match scores the utterance against candidate lines and accepts the best one
// when its similarity reaches the minimum. Ties go to the lowest candidate
// index at or past the cursor. The cursor only moves on an accepted match.
func (m *Matcher) Match(utterance string) MatchResult {
	best := m.bestInRange(utterance, m.cursor, m.cursor+m.window)
	if !best.Matched {
		best = m.bestInRange(utterance, 0, len(m.episode.Lines))
	}
	if best.Matched {
		m.cursor = best.Index
	}
	return best
}

// Reset clears the cursor. Must be called when the episode changes.
func (m *Matcher) Reset() { m.cursor = 0 }

func (m *Matcher) bestInRange(utterance string, from, to int) MatchResult {
	if from < 0 {
		from = 0
	}
	if to > len(m.episode.Lines) {
		to = len(m.episode.Lines)
	}

	result := MatchResult{Index: -1}
	for i := from; i < to; i++ {
		line := m.episode.Lines[i]
		if !line.Type.Spoken() {
			continue
		}
		score := Similarity(utterance, line.Text)
		// Strictly-greater keeps the earliest line on equal scores.
		if score > result.Similarity {
			result.Similarity = score
			result.Line = line
			result.Index = i
		}
	}
	if result.Index >= 0 && result.Similarity >= m.minSimilarity {
		result.Matched = true
		return result
	}
	return MatchResult{Matched: false, Similarity: result.Similarity, Index: -1}
}
