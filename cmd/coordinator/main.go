// Command coordinator discovers workers on the bus and dispatches commands
// to them.
//
//	coordinator run                    discover, run pipelines, optionally go interactive
//	coordinator status                 list workers known to a running coordinator
//	coordinator dispatch all uptime    send a command through a running coordinator
//	coordinator results w1             show recent results held by a running coordinator
//	coordinator feedback feedback.log  print a persisted feedback log
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dreamware/fleetcmd/internal/app"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "coordinator:", err)
		os.Exit(1)
	}
}

// cli carries state shared by the subcommands of one invocation.
type cli struct {
	env      *app.Env
	bindings app.FlagBindings
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:   "coordinator",
		Short: "Discover fleet workers and dispatch commands to them",
		Long: `The coordinator listens for worker registrations on the bus, waits until no
new worker has joined for the registration timeout, then sends the configured
pipelines to every worker. In realtime mode it then reads commands from the
terminal and broadcasts them until "exit".`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			env, err := app.Load(cmd.Flags(), c.bindings, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			c.env = env
			return nil
		},
	}
	c.bindings = app.CommonFlags(root.PersistentFlags())

	run := c.newRunCmd()
	root.RunE = run.RunE
	c.bindRunFlags(root)

	root.AddCommand(run, c.newStatusCmd(), c.newDispatchCmd(), c.newResultsCmd(), c.newFeedbackCmd())
	return root
}
