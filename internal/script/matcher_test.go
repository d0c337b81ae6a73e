package script

import "testing"

func testEpisode() Episode {
	return Episode{
		ID: "ep1",
		Lines: []Line{
			{ID: "l0", Index: 0, SpeakerName: "Mina", Text: "Hello", Type: LineDialogue},
			{ID: "l1", Index: 1, SpeakerName: "Mina", Text: "How are you", Type: LineDialogue},
			{ID: "l2", Index: 2, Text: "A sticker appears", Type: LineSticker},
			{ID: "l3", Index: 3, SpeakerName: "Juno", Text: "Goodbye", Type: LineDialogue},
		},
	}
}

func TestSimilarityFuzzyTolerance(t *testing.T) {
	got := Similarity("how r u", "How are you")
	if got <= 0.5 {
		t.Fatalf("Similarity(how r u, How are you) = %v, want > 0.5", got)
	}
}

func TestSimilarityNormalization(t *testing.T) {
	cases := []struct {
		a, b string
	}{
		{"  HELLO,   world! ", "hello world"},
		{"café", "cafe"},
		{"line one\nline two", "line one line two"},
	}
	for _, tc := range cases {
		if got := Similarity(tc.a, tc.b); got != 1 {
			t.Fatalf("Similarity(%q, %q) = %v, want 1", tc.a, tc.b, got)
		}
	}
}

func TestMatcherMatchesFuzzyUtterance(t *testing.T) {
	m := NewMatcher(testEpisode(), 0.5, 24)
	res := m.Match("how r u")
	if !res.Matched {
		t.Fatalf("Match(how r u) not matched, similarity %v", res.Similarity)
	}
	if res.Index != 1 {
		t.Fatalf("res.Index = %d, want 1", res.Index)
	}
	if res.Similarity <= 0.5 {
		t.Fatalf("res.Similarity = %v, want > 0.5", res.Similarity)
	}
}

func TestMatcherSkipsNonSpokenLines(t *testing.T) {
	m := NewMatcher(testEpisode(), 0.5, 24)
	res := m.Match("a sticker appears")
	if res.Matched && res.Index == 2 {
		t.Fatalf("matched sticker line at index 2")
	}
}

func TestMatcherMonotonicForwardBias(t *testing.T) {
	m := NewMatcher(testEpisode(), 0.5, 24)
	prev := -1
	for _, text := range []string{"hello", "how are you", "goodbye"} {
		res := m.Match(text)
		if !res.Matched {
			t.Fatalf("Match(%q) not matched", text)
		}
		if res.Index < prev {
			t.Fatalf("indices regressed: %d after %d", res.Index, prev)
		}
		prev = res.Index
	}
	if m.Cursor() != 3 {
		t.Fatalf("cursor = %d, want 3", m.Cursor())
	}
}

func TestMatcherFullScriptFallbackOnRewind(t *testing.T) {
	ep := Episode{ID: "ep2", Lines: make([]Line, 0, 40)}
	for i := 0; i < 40; i++ {
		text := "filler line number"
		if i == 1 {
			text = "the dragon awakens tonight"
		}
		ep.Lines = append(ep.Lines, Line{Index: i, Text: text, Type: LineDialogue})
	}

	m := NewMatcher(ep, 0.5, 4)
	m.cursor = 30 // player rewound far behind the cursor window
	res := m.Match("the dragon awakens tonight")
	if !res.Matched || res.Index != 1 {
		t.Fatalf("rewind match = %+v, want index 1", res)
	}
	if m.Cursor() != 1 {
		t.Fatalf("cursor = %d after rewind, want 1", m.Cursor())
	}
}

func TestMatcherNoMatchLeavesCursor(t *testing.T) {
	m := NewMatcher(testEpisode(), 0.5, 24)
	if res := m.Match("hello"); !res.Matched {
		t.Fatalf("hello not matched")
	}
	res := m.Match("completely unrelated zzzz qqqq")
	if res.Matched {
		t.Fatalf("garbage matched with similarity %v", res.Similarity)
	}
	if res.Index != -1 {
		t.Fatalf("unmatched Index = %d, want -1", res.Index)
	}
	if m.Cursor() != 0 {
		t.Fatalf("cursor moved on no-match: %d", m.Cursor())
	}
}

func TestMatcherTieBreaksToEarliestLine(t *testing.T) {
	ep := Episode{
		ID: "ep3",
		Lines: []Line{
			{Index: 0, Text: "yes", Type: LineDialogue},
			{Index: 1, Text: "yes", Type: LineDialogue},
		},
	}
	m := NewMatcher(ep, 0.5, 24)
	res := m.Match("yes")
	if !res.Matched || res.Index != 0 {
		t.Fatalf("tie result = %+v, want index 0", res)
	}
}

func TestMatcherReset(t *testing.T) {
	m := NewMatcher(testEpisode(), 0.5, 24)
	m.Match("goodbye")
	m.Reset()
	if m.Cursor() != 0 {
		t.Fatalf("cursor = %d after Reset, want 0", m.Cursor())
	}
}
