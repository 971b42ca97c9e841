package feed

import (
	"context"
	"time"

	"github.com/loqalabs/loqa-coach/internal/protocol"
)

// Scripted speaks a fixed word list one word per interval. With interim
// results enabled each word first arrives as a truncated partial and is then
// revised to its final text at the same offset, the way a streaming
// recognizer behaves.
type Scripted struct {
	words    []string
	interval time.Duration
	interim  bool
	instance string
	wait     func(context.Context, time.Duration) error
}

type ScriptedOption func(*Scripted)

// WithInterim emits a partial fragment before each final one.
func WithInterim() ScriptedOption {
	return func(s *Scripted) { s.interim = true }
}

// WithInstance tags every fragment with a session instance.
func WithInstance(instance string) ScriptedOption {
	return func(s *Scripted) { s.instance = instance }
}

func NewScripted(words []string, interval time.Duration, opts ...ScriptedOption) *Scripted {
	s := &Scripted{
		words:    append([]string(nil), words...),
		interval: interval,
		wait:     sleep,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scripted) Stream(ctx context.Context, emit Emit) error {
	for i, word := range s.words {
		if i > 0 {
			if err := s.wait(ctx, s.interval); err != nil {
				return err
			}
		}
		// Offsets must stay distinct even with a zero interval.
		offset := int64(i) * max(s.interval.Milliseconds(), 1)
		if s.interim {
			if partial := truncate(word); partial != word {
				if err := emit(ctx, protocol.Fragment{Instance: s.instance, StartOffset: offset, Text: partial}); err != nil {
					return err
				}
			}
		}
		if err := emit(ctx, protocol.Fragment{Instance: s.instance, StartOffset: offset, Text: word, IsFinal: true}); err != nil {
			return err
		}
	}
	return nil
}

func truncate(word string) string {
	r := []rune(word)
	if len(r) < 4 {
		return word
	}
	return string(r[:(len(r)+1)/2])
}
