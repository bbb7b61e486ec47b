package main

import (
	"context"
	"fmt"
	"net"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dreamware/fleetcmd/internal/cluster"
)

const defaultStatusAddr = "localhost:8090"

func addStatusAddrFlag(cmd *cobra.Command) {
	cmd.Flags().String("addr", "", "status surface address (default coordinator.status_listen or "+defaultStatusAddr+")")
}

// statusURL resolves the base URL of a running coordinator's status surface.
func (c *cli) statusURL(cmd *cobra.Command) string {
	addr, _ := cmd.Flags().GetString("addr")
	if addr == "" {
		addr = c.env.Config.Coordinator.StatusListen
	}
	if addr == "" {
		addr = defaultStatusAddr
	}
	return baseURL(addr)
}

func baseURL(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return strings.TrimRight(addr, "/")
	}
	host, port, err := net.SplitHostPort(addr)
	if err == nil && (host == "" || host == "0.0.0.0" || host == "::") {
		addr = net.JoinHostPort("localhost", port)
	}
	return "http://" + addr
}

func (c *cli) newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "List workers known to a running coordinator",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()

			var resp cluster.WorkersResponse
			if err := cluster.GetJSON(ctx, c.statusURL(cmd)+"/workers", &resp); err != nil {
				return fmt.Errorf("query coordinator: %w", err)
			}
			return printWorkers(cmd, resp)
		},
	}
	addStatusAddrFlag(cmd)
	return cmd
}

func printWorkers(cmd *cobra.Command, resp cluster.WorkersResponse) error {
	out := cmd.OutOrStdout()
	state := "discovering"
	if resp.Ready {
		state = "ready"
	}
	fmt.Fprintf(out, "Workers: %d (%s)\n\n", len(resp.Workers), state)
	if len(resp.Workers) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tFIRST SEEN\tACKED")
	for _, w := range resp.Workers {
		fmt.Fprintf(tw, "%s\t%s\t%t\n", w.ID, w.FirstSeen.Format("2006-01-02 15:04:05"), w.Acknowledged)
	}
	return tw.Flush()
}
