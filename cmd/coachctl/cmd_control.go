package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/loqalabs/loqa-coach/internal/bus"
	"github.com/loqalabs/loqa-coach/internal/config"
	"github.com/loqalabs/loqa-coach/internal/protocol"
)

func newControlCommand() *cobra.Command {
	var (
		servers     []string
		challengeID string
		voice       string
		timeout     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "control <session> <action>",
		Short: "Send a control command to a running coach over NATS",
		Long: `Send a control command to a running coach and print its reply.

Actions: arm, start, pause, resume, stop, restart, reset, narrate.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			cfg := config.Default().Bus
			cfg.Servers = servers
			client, err := bus.Connect(ctx, cfg, "coachctl", slog.Default())
			if err != nil {
				return err
			}
			defer client.Close()

			var reply protocol.ControlReply
			ctl := protocol.Control{Action: args[1], ChallengeID: challengeID, Voice: voice}
			if err := client.RequestJSON(ctx, protocol.Subject(protocol.SubjectControlPrefix, args[0]), ctl, &reply); err != nil {
				return err
			}
			if err := writeJSON(cmd.OutOrStdout(), reply); err != nil {
				return err
			}
			if !reply.OK {
				return fmt.Errorf("control rejected: %s", reply.Error)
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&servers, "server", []string{"nats://localhost:4222"}, "NATS server URL")
	cmd.Flags().StringVar(&challengeID, "challenge", "", "Challenge id for arm or start")
	cmd.Flags().StringVar(&voice, "voice", "", "Voice for narrate")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "Request timeout")
	return cmd
}
