package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dreamware/fleetcmd/internal/cluster"
)

func (c *cli) newDispatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dispatch <target|all> <command...>",
		Short: "Send a command through a running coordinator",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := cluster.DispatchRequest{
				Target:  args[0],
				Command: strings.Join(args[1:], " "),
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			var resp cluster.DispatchResponse
			if err := cluster.PostJSON(ctx, c.statusURL(cmd)+"/dispatch", req, &resp); err != nil {
				return fmt.Errorf("dispatch: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Sent %q to %s\n", req.Command, strings.Join(resp.SentTo, ", "))
			return nil
		},
	}
	addStatusAddrFlag(cmd)
	return cmd
}
