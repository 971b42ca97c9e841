package main

import (
	"encoding/json"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/loqalabs/loqa-coach/internal/challenge"
)

var version = "0.1.0-dev"

type catalogFlags struct {
	path      string
	noBuiltin bool
}

func (f *catalogFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.path, "catalog", "", "Challenge catalog file (.yaml or .toml)")
	cmd.Flags().BoolVar(&f.noBuiltin, "no-builtin", false, "Exclude the built-in challenges")
}

func (f *catalogFlags) load() (*challenge.Catalog, error) {
	return challenge.LoadCatalog(f.path, !f.noBuiltin)
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "coachctl",
		Short: "Operator tool for the loqa speech coach",
		Long: `coachctl inspects challenge catalogs, scores transcripts offline and
runs practice sessions locally or against a running coach over NATS.`,
		Version:      version,
		SilenceUsage: true,
	}

	debug := cmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	cmd.PersistentPreRun = func(*cobra.Command, []string) {
		if *debug {
			slog.SetLogLoggerLevel(slog.LevelDebug)
		}
	}

	cmd.AddCommand(newChallengesCommand())
	cmd.AddCommand(newValidateCommand())
	cmd.AddCommand(newScoreCommand())
	cmd.AddCommand(newSimulateCommand())
	cmd.AddCommand(newControlCommand())
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
