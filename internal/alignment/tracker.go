// Package alignment tracks reading progress through a reference script.
package alignment

import "github.com/loqalabs/loqa-coach/internal/textnorm"

// State is the progress cursor exposed to feedback.
type State struct {
	MatchedCount        int    `json:"matched_count"`
	LastMatchedIndex    int    `json:"last_matched_index"`
	CurrentExpectedWord string `json:"current_expected_word"`
}

// Tracker aligns spoken words against reference words with a greedy,
// forward-only scan. MatchedCount never moves backward.
type Tracker struct {
	words []string
	state State
}

// NewTracker returns a tracker over normalized reference words.
func NewTracker(words []string) *Tracker {
	t := &Tracker{words: append([]string(nil), words...)}
	t.Reset()
	return t
}

// Update recomputes the alignment from the full running transcript. A
// recomputation with fewer matches leaves the previous state in place;
// otherwise the new alignment replaces it whole, so LastMatchedIndex may
// move back when a revision re-anchors an early stray match.
func (t *Tracker) Update(transcript string) State {
	next := Align(t.words, textnorm.Words(transcript))
	if next.MatchedCount >= t.state.MatchedCount {
		t.state = next
	}
	return t.state
}

// State returns the current cursor.
func (t *Tracker) State() State {
	return t.state
}

// Reset returns the cursor to the start of the script.
func (t *Tracker) Reset() {
	t.state = State{LastMatchedIndex: -1, CurrentExpectedWord: wordAt(t.words, 0)}
}

// Progress returns matched words as a fraction of the script length.
func (t *Tracker) Progress() float64 {
	if len(t.words) == 0 {
		return 0
	}
	return float64(t.state.MatchedCount) / float64(len(t.words))
}

// Align performs one greedy forward pass: each spoken word consumes the first
// reference word equal to it after the last match.
func Align(reference, spoken []string) State {
	matched, last := 0, -1
	for _, w := range spoken {
		for i := last + 1; i < len(reference); i++ {
			if reference[i] == w {
				matched++
				last = i
				break
			}
		}
	}
	return State{
		MatchedCount:        matched,
		LastMatchedIndex:    last,
		CurrentExpectedWord: wordAt(reference, matched),
	}
}

func wordAt(words []string, i int) string {
	if i < 0 || i >= len(words) {
		return ""
	}
	return words[i]
}
