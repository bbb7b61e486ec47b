// Command worker registers with the coordinator over the bus and runs the
// shell commands addressed to it, one at a time, publishing each result.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dreamware/fleetcmd/internal/app"
	"github.com/dreamware/fleetcmd/internal/bus"
	"github.com/dreamware/fleetcmd/internal/worker"
)

func main() {
	if err := newRootCmd(nil).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "worker:", err)
		os.Exit(1)
	}
}

// newRootCmd builds the worker command. A nil newBus connects to the
// configured MQTT broker.
func newRootCmd(newBus func(env *app.Env, id string) bus.Bus) *cobra.Command {
	if newBus == nil {
		newBus = func(env *app.Env, id string) bus.Bus { return env.NewBus("worker", id) }
	}

	var bindings app.FlagBindings
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run shell commands dispatched by the coordinator",
		Long: `The worker announces its identity on the registration topic until the
coordinator acknowledges it, and runs every command addressed to that identity
in the order received. Results go to the response topic.

The identity comes from --id, CLIENT_ID or worker.id.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := app.Load(cmd.Flags(), bindings, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, env, newBus(env, env.Config.Worker.ID))
		},
	}
	bindings = app.CommonFlags(cmd.Flags())
	cmd.Flags().String("id", "", "worker identity, overrides CLIENT_ID and worker.id")
	cmd.Flags().String("shell", "", "shell used to run commands")
	bindings["worker.id"] = "id"
	bindings["worker.shell"] = "shell"
	return cmd
}

// run serves until ctx is done.
func run(ctx context.Context, env *app.Env, b bus.Bus) error {
	cfg := env.Config
	w := worker.New(worker.Options{
		ID:                   cfg.Worker.ID,
		RegistrationTopic:    cfg.Topics.Registration,
		AckTopic:             cfg.Topics.Ack,
		CommandTopic:         cfg.Topics.Command,
		ResponseTopic:        cfg.Topics.Response,
		RegistrationInterval: cfg.Worker.RegistrationInterval,
		StartupDelay:         cfg.Worker.StartupDelay,
		PublishTimeout:       cfg.Broker.PublishTimeout,
		PollTimeout:          cfg.Worker.PollTimeout,
		CommandTimeout:       cfg.Worker.CommandTimeout,
	}, b, env.Codec, worker.ShellRunner{Shell: cfg.Worker.Shell}, env.Log)

	if err := w.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	env.Log.Info("shutting down", "pending", w.Engine().Pending())
	w.Stop()
	return nil
}
