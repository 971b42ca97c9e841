package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/loqalabs/loqa-coach/internal/alert"
	"github.com/loqalabs/loqa-coach/internal/feed"
	"github.com/loqalabs/loqa-coach/internal/lexicon"
	"github.com/loqalabs/loqa-coach/internal/pace"
	"github.com/loqalabs/loqa-coach/internal/protocol"
	"github.com/loqalabs/loqa-coach/internal/session"
)

type simulateOptions struct {
	catalog     catalogFlags
	challengeID string
	wpm         int
	interim     bool
	replay      string
	replayDelay time.Duration
	exec        string
	tick        time.Duration
	slowBelow   int
	fastAbove   int
	alertMode   string
	verbose     bool
}

func newSimulateCommand() *cobra.Command {
	opts := simulateOptions{}
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a practice session locally",
		Long: `Run a practice session in-process. Fragments come from the challenge
script spoken at --wpm, from a JSON-lines replay file, or from an external
recognizer command. Pace alerts are printed as they fire and the final score
is printed as JSON.

--tick sets the length of one session second, so a smaller tick runs the
whole session faster without changing its score.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSimulate(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}
	opts.catalog.register(cmd)
	cmd.Flags().StringVar(&opts.challengeID, "challenge", "", "Challenge id")
	cmd.Flags().IntVar(&opts.wpm, "wpm", 150, "Speaking rate of the scripted speaker")
	cmd.Flags().BoolVar(&opts.interim, "interim", false, "Emit partial results before each word")
	cmd.Flags().StringVar(&opts.replay, "replay", "", "Replay fragments from a JSON-lines file")
	cmd.Flags().DurationVar(&opts.replayDelay, "replay-delay", 250*time.Millisecond, "Delay between replayed fragments")
	cmd.Flags().StringVar(&opts.exec, "exec", "", "Read fragments from a recognizer command")
	cmd.Flags().DurationVar(&opts.tick, "tick", time.Second, "Length of one session second")
	cmd.Flags().IntVar(&opts.slowBelow, "slow-below", pace.DefaultThresholds().SlowBelow, "Slow pace threshold in WPM")
	cmd.Flags().IntVar(&opts.fastAbove, "fast-above", pace.DefaultThresholds().FastAbove, "Fast pace threshold in WPM")
	cmd.Flags().StringVar(&opts.alertMode, "alert-mode", string(pace.AlertLevel), "Pace alert mode (level, edge)")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Print every feedback snapshot")
	_ = cmd.MarkFlagRequired("challenge")
	cmd.MarkFlagsMutuallyExclusive("replay", "exec")
	return cmd
}

func runSimulate(ctx context.Context, out io.Writer, opts simulateOptions) error {
	if opts.wpm <= 0 {
		return fmt.Errorf("--wpm must be positive")
	}
	if opts.tick <= 0 {
		return fmt.Errorf("--tick must be positive")
	}
	catalog, err := opts.catalog.load()
	if err != nil {
		return err
	}
	ch, err := catalog.Get(opts.challengeID)
	if err != nil {
		return err
	}
	thresholds := pace.Thresholds{SlowBelow: opts.slowBelow, FastAbove: opts.fastAbove}
	if err := thresholds.Validate(); err != nil {
		return err
	}

	source, closeSource, err := simulationSource(opts, strings.Fields(ch.Script))
	if err != nil {
		return err
	}
	defer closeSource()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	completed := make(chan session.Completion, 1)
	actor := session.NewActor(session.ActorConfig{
		ID: "local",
		Options: session.Options{
			Lexicon:    lexicon.Default(),
			Thresholds: thresholds,
			AlertMode:  pace.AlertMode(opts.alertMode),
			AlertSink: alert.Func(func(_ context.Context, a pace.Alert) error {
				_, err := fmt.Fprintf(out, "pace alert: %d wpm at %ds\n", a.WPM, a.ElapsedSeconds)
				return err
			}),
		},
		Resolver: catalog,
		Observer: session.Hooks{
			OnFeedback: func(fb session.Feedback) {
				if opts.verbose {
					fmt.Fprintf(out, "[%3ds] %-9s %3d wpm  matched %d  fillers %d\n",
						fb.ElapsedSeconds, fb.State, fb.Pace.WPM, fb.Alignment.MatchedCount, fb.FillerCount)
				}
			},
			OnCompleted: func(c session.Completion) {
				select {
				case completed <- c:
				default:
				}
			},
		},
		Logger:       slog.Default(),
		TickInterval: opts.tick,
	})
	runDone := make(chan error, 1)
	go func() { runDone <- actor.Run(ctx) }()
	defer func() {
		actor.Close()
		<-runDone
	}()

	res, err := actor.Control(ctx, session.Command{Action: session.ActionStart, ChallengeID: ch.ID})
	if err != nil {
		return err
	}
	instance := res.Feedback.Instance

	streamErr := source.Stream(ctx, func(ctx context.Context, f protocol.Fragment) error {
		if f.Instance == "" {
			f.Instance = instance
		}
		return actor.Fragment(ctx, f.Instance, f.Transcript())
	})
	if streamErr != nil {
		return fmt.Errorf("feed: %w", streamErr)
	}

	var completion session.Completion
	res, err = actor.Control(ctx, session.Command{Action: session.ActionStop})
	switch {
	case err == nil:
		completion = *res.Completion
	case errors.Is(err, session.ErrInvalidTransition):
		// The timer ran out before the feed finished.
		select {
		case completion = <-completed:
		case <-ctx.Done():
			return ctx.Err()
		}
	default:
		return err
	}
	return writeJSON(out, completion)
}

func simulationSource(opts simulateOptions, words []string) (feed.Source, func(), error) {
	switch {
	case opts.replay != "":
		f, err := os.Open(opts.replay)
		if err != nil {
			return nil, nil, fmt.Errorf("open replay: %w", err)
		}
		return feed.NewReplay(f, opts.replayDelay), func() { _ = f.Close() }, nil
	case opts.exec != "":
		src, err := feed.NewExec(opts.exec)
		if err != nil {
			return nil, nil, err
		}
		return src, func() {}, nil
	default:
		var scripted []feed.ScriptedOption
		if opts.interim {
			scripted = append(scripted, feed.WithInterim())
		}
		interval := opts.tick * 60 / time.Duration(opts.wpm)
		return feed.NewScripted(words, interval, scripted...), func() {}, nil
	}
}
