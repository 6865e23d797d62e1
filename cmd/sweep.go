package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"
)

// newSweepCommand runs the periodic booking sweep once, for use from cron.
func newSweepCommand(eng *engine) *cobra.Command {
	var timeout time.Duration

	command := &cobra.Command{
		Use:   "sweep",
		Short: "Expire abandoned pending bookings and complete finished stays",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			if err := eng.dispatcher.Run(ctx); err != nil {
				return err
			}
			return eng.sweep(ctx)
		},
	}
	command.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "maximum time the sweep may take")

	return command
}
