package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/loqalabs/loqa-coach/internal/filler"
	"github.com/loqalabs/loqa-coach/internal/lexicon"
	"github.com/loqalabs/loqa-coach/internal/scoring"
)

type scoreReport struct {
	ChallengeID string         `json:"challenge_id"`
	Score       scoring.Score  `json:"score"`
	FillerCount int            `json:"filler_count"`
	Fillers     map[string]int `json:"fillers,omitempty"`
}

func newScoreCommand() *cobra.Command {
	var (
		flags        catalogFlags
		challengeID  string
		text         string
		file         string
		elapsed      int
		timerExpired bool
	)
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score a transcript against a challenge offline",
		Long: `Score a finished transcript against a challenge script without running a
session. The transcript comes from --text, --file, or stdin when neither is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if elapsed < 0 {
				return fmt.Errorf("--elapsed must not be negative")
			}
			catalog, err := flags.load()
			if err != nil {
				return err
			}
			ch, err := catalog.Get(challengeID)
			if err != nil {
				return err
			}
			transcript, err := readTranscript(cmd.InOrStdin(), text, file)
			if err != nil {
				return err
			}
			detector := filler.NewDetector(lexicon.Default())
			return writeJSON(cmd.OutOrStdout(), scoreReport{
				ChallengeID: ch.ID,
				Score: scoring.Compute(scoring.Input{
					Transcript:     transcript,
					Reference:      ch.Script,
					Keywords:       ch.Keywords,
					ElapsedSeconds: elapsed,
					TimerExpired:   timerExpired,
				}),
				FillerCount: detector.Count(transcript),
				Fillers:     detector.Matches(transcript),
			})
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&challengeID, "challenge", "", "Challenge id")
	cmd.Flags().StringVar(&text, "text", "", "Transcript text")
	cmd.Flags().StringVar(&file, "file", "", "Read the transcript from a file")
	cmd.Flags().IntVar(&elapsed, "elapsed", 0, "Elapsed seconds")
	cmd.Flags().BoolVar(&timerExpired, "timer-expired", false, "Score as if the timer ran out")
	_ = cmd.MarkFlagRequired("challenge")
	cmd.MarkFlagsMutuallyExclusive("text", "file")
	return cmd
}

func readTranscript(stdin io.Reader, text, file string) (string, error) {
	switch {
	case text != "":
		return text, nil
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("read transcript: %w", err)
		}
		return string(data), nil
	default:
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read transcript: %w", err)
		}
		return string(data), nil
	}
}
