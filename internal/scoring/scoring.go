// Package scoring computes the terminal performance score of a session.
package scoring

import (
	"math"
	"strings"
	"unicode/utf8"

	"github.com/loqalabs/loqa-coach/internal/textnorm"
)

// Score is the immutable result attached to a completed session.
type Score struct {
	WPM               int      `json:"wpm"`
	AccuracyPct       int      `json:"accuracy_pct"`
	CoverageSatisfied bool     `json:"coverage_satisfied"`
	Total             int      `json:"total"`
	ElapsedSeconds    int      `json:"elapsed_seconds"`
	TimerExpired      bool     `json:"timer_expired"`
	MissingKeywords   []string `json:"missing_keywords,omitempty"`
}

// Input carries everything the engine needs. Reference may be raw script
// text or already normalized words joined by spaces.
type Input struct {
	Transcript     string
	Reference      string
	Keywords       []string
	ElapsedSeconds int
	TimerExpired   bool
}

// Compute scores in. It has no side effects.
//
// A session whose timer ran out is scored like a manual stop: only keyword
// coverage gates the total.
func Compute(in Input) Score {
	transcript := textnorm.Normalize(in.Transcript)
	reference := textnorm.Normalize(in.Reference)

	elapsed := in.ElapsedSeconds
	if elapsed < 1 {
		elapsed = 1
	}

	s := Score{
		WPM:            WPM(textnorm.WordCount(transcript), elapsed),
		AccuracyPct:    Accuracy(transcript, reference),
		ElapsedSeconds: elapsed,
		TimerExpired:   in.TimerExpired,
	}
	s.MissingKeywords = MissingKeywords(transcript, in.Keywords)
	s.CoverageSatisfied = len(s.MissingKeywords) == 0
	if s.CoverageSatisfied {
		s.Total = int(math.Round(float64(s.WPM+s.AccuracyPct) / 2))
	}
	return s
}

// WPM returns round(words / (elapsed/60)) with elapsed clamped to one second.
func WPM(words, elapsedSeconds int) int {
	if elapsedSeconds < 1 {
		elapsedSeconds = 1
	}
	return int(math.Round(float64(words) / (float64(elapsedSeconds) / 60)))
}

// Accuracy returns round((1 - distance/len(reference)) * 100) clamped to
// [0, 100]. Both arguments must already be normalized.
func Accuracy(transcript, reference string) int {
	refLen := utf8.RuneCountInString(reference)
	if refLen == 0 {
		if transcript == "" {
			return 100
		}
		return 0
	}
	dist := Levenshtein(transcript, reference)
	pct := int(math.Round((1 - float64(dist)/float64(refLen)) * 100))
	return max(0, min(100, pct))
}

// MissingKeywords returns keywords whose normalized form is not a substring of
// the normalized transcript, in input order.
func MissingKeywords(normalizedTranscript string, keywords []string) []string {
	var missing []string
	for _, kw := range keywords {
		if !strings.Contains(normalizedTranscript, textnorm.Normalize(kw)) {
			missing = append(missing, kw)
		}
	}
	return missing
}
