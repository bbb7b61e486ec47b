package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dreamware/fleetcmd/internal/codec"
	"github.com/dreamware/fleetcmd/internal/feedback"
)

func (c *cli) newFeedbackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "feedback [file]",
		Short: "Print the records of a persisted feedback log",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := c.env.Config.Feedback.File
			if len(args) == 1 {
				path = args[0]
			}
			results, err := feedback.ReadFile(path, c.env.Codec, c.env.Log)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, r := range results {
				fmt.Fprintf(out, "[%s] %s $ %s\n", r.StartTime.Format("2006-01-02 15:04:05.000000"), r.ClientID, r.Command)
				fmt.Fprintf(out, "  status=%s exit_code=%d duration=%s start=%s end=%s\n",
					r.Status, r.ExitCode, r.Duration(), codec.FormatTimestamp(r.StartTime), codec.FormatTimestamp(r.EndTime))
				if r.Output != "" {
					fmt.Fprintf(out, "  output: %q\n", r.Output)
				}
				fmt.Fprintf(out, "  error: %q\n", r.Error)
			}
			fmt.Fprintf(out, "%d records\n", len(results))
			return nil
		},
	}
}
