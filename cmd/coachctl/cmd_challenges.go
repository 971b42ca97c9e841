package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/loqalabs/loqa-coach/internal/challenge"
)

func newChallengesCommand() *cobra.Command {
	var (
		flags  catalogFlags
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "challenges",
		Short: "List the challenges in a catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			catalog, err := flags.load()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, catalog.List())
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTITLE\tLIMIT\tKEYWORDS")
			for _, ch := range catalog.List() {
				fmt.Fprintf(tw, "%s\t%s\t%ds\t%s\n", ch.ID, ch.Title, ch.TimeLimitSeconds, strings.Join(ch.Keywords, ", "))
			}
			return tw.Flush()
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the catalog as JSON")
	return cmd
}

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <catalog>",
		Short: "Validate a challenge catalog file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := challenge.LoadCatalog(args[0], false)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "catalog valid: %d challenges\n", catalog.Len())
			return nil
		},
	}
}
