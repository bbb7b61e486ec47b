package main

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dreamware/fleetcmd/internal/cluster"
)

func (c *cli) newResultsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "results [client_id]",
		Short: "Show recent results held by a running coordinator",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			q := url.Values{}
			if len(args) == 1 {
				q.Set("client_id", args[0])
			}
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}
			target := c.statusURL(cmd) + "/results"
			if len(q) > 0 {
				target += "?" + q.Encode()
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()

			var resp cluster.ResultsResponse
			if err := cluster.GetJSON(ctx, target, &resp); err != nil {
				return fmt.Errorf("query coordinator: %w", err)
			}

			out := cmd.OutOrStdout()
			for _, r := range resp.Results {
				fmt.Fprintf(out, "%s  %-12s %-9s exit=%-3d %s\n",
					r.EndTime.Format("15:04:05.000"), r.ClientID, r.Status, r.ExitCode, r.Command)
				if o := strings.TrimRight(r.Output, "\n"); o != "" {
					fmt.Fprintf(out, "    %s\n", strings.ReplaceAll(o, "\n", "\n    "))
				}
			}
			fmt.Fprintf(out, "%d shown, %d collected, %d failed\n", len(resp.Results), resp.Total, resp.Failed)
			return nil
		},
	}
	addStatusAddrFlag(cmd)
	cmd.Flags().IntP("limit", "n", 20, "maximum number of results")
	return cmd
}
