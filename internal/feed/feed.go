// Package feed produces transcript fragments for local runs and replays.
package feed

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/loqalabs/loqa-coach/internal/protocol"
)

// Emit receives fragments in production order.
type Emit func(ctx context.Context, f protocol.Fragment) error

// Source streams fragments until it is exhausted or ctx is cancelled.
type Source interface {
	Stream(ctx context.Context, emit Emit) error
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Replay reads newline-delimited JSON fragments.
type Replay struct {
	r        io.Reader
	interval time.Duration
	wait     func(context.Context, time.Duration) error
}

// NewReplay returns a source that emits one fragment per line of r, pausing
// interval between lines.
func NewReplay(r io.Reader, interval time.Duration) *Replay {
	return &Replay{r: r, interval: interval, wait: sleep}
}

func (p *Replay) Stream(ctx context.Context, emit Emit) error {
	return scanFragments(ctx, p.r, func(f protocol.Fragment, first bool) error {
		if !first {
			if err := p.wait(ctx, p.interval); err != nil {
				return err
			}
		}
		return emit(ctx, f)
	})
}

func scanFragments(ctx context.Context, r io.Reader, fn func(f protocol.Fragment, first bool) error) error {
	scanner := bufio.NewScanner(r)
	line, first := 0, true
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		var f protocol.Fragment
		if err := json.Unmarshal([]byte(raw), &f); err != nil {
			return fmt.Errorf("decode fragment on line %d: %w", line, err)
		}
		if err := fn(f, first); err != nil {
			return err
		}
		first = false
	}
	return scanner.Err()
}
