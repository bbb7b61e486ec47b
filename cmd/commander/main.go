// Command commander submits commands to a running coordinator through the
// command-loader topic and prints the results workers publish.
//
// Interactive use prompts for a target and a command in turn:
//
//	commander
//
// A single command can also be sent from the command line:
//
//	commander all uptime
//	commander --wait 10s w1 df -h
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dreamware/fleetcmd/internal/app"
	"github.com/dreamware/fleetcmd/internal/bus"
	"github.com/dreamware/fleetcmd/internal/cluster"
	"github.com/dreamware/fleetcmd/internal/codec"
	"github.com/dreamware/fleetcmd/internal/config"
	"github.com/dreamware/fleetcmd/internal/feedback"
	"github.com/dreamware/fleetcmd/internal/logging"
)

func main() {
	if err := newRootCmd(nil).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "commander:", err)
		os.Exit(1)
	}
}

func newRootCmd(newBus func(env *app.Env) bus.Bus) *cobra.Command {
	if newBus == nil {
		newBus = func(env *app.Env) bus.Bus { return env.NewBus("commander", "") }
	}

	var bindings app.FlagBindings
	cmd := &cobra.Command{
		Use:           "commander [target command...]",
		Short:         "Submit commands to the coordinator's command-loader topic",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) == 1 {
				return fmt.Errorf("a target needs a command")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := app.Load(cmd.Flags(), bindings, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			wait, _ := cmd.Flags().GetDuration("wait")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c := newCommander(newBus(env), env.Codec, env.Config.Topics, env.Config.Broker.PublishTimeout, cmd.OutOrStdout(), env.Log)
			if err := c.connect(ctx); err != nil {
				return err
			}
			defer c.close()

			if len(args) >= 2 {
				if err := c.send(ctx, args[0], strings.Join(args[1:], " ")); err != nil {
					return err
				}
				return sleepCtx(ctx, wait)
			}
			return c.prompt(ctx, cmd.InOrStdin())
		},
	}
	bindings = app.CommonFlags(cmd.Flags())
	cmd.Flags().Duration("wait", 0, "after a one-shot send, print feedback for this long before exiting")
	return cmd
}

// commander publishes (target, command) requests and prints feedback.
type commander struct {
	bus       bus.Bus
	codec     codec.Codec
	collector *feedback.Collector
	out       io.Writer
	log       *logging.Logger
	topics    topics
	timeout   time.Duration
	mu        sync.Mutex
}

type topics struct {
	loader   string
	response string
}

func newCommander(b bus.Bus, c codec.Codec, t config.TopicsConfig, timeout time.Duration, out io.Writer, log *logging.Logger) *commander {
	cm := &commander{
		bus:     b,
		codec:   c,
		out:     out,
		log:     log,
		topics:  topics{loader: t.CommandLoader, response: t.Response},
		timeout: timeout,
	}
	cm.collector = feedback.NewCollector(c, logging.NewNop(), feedback.OnResult(cm.printResult))
	return cm
}

func (c *commander) connect(ctx context.Context) error {
	if err := c.bus.Subscribe(c.topics.response, c.collector.Handle); err != nil {
		return fmt.Errorf("subscribe %s: %w", c.topics.response, err)
	}
	if err := c.bus.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	return nil
}

func (c *commander) close() {
	if err := c.bus.Close(); err != nil {
		c.log.Warn("disconnect failed", "error", err)
	}
}

// send publishes one request. "all" is normalized to lower case; the
// coordinator expands it.
func (c *commander) send(ctx context.Context, target, text string) error {
	target = strings.TrimSpace(target)
	if strings.EqualFold(target, cluster.TargetAll) {
		target = cluster.TargetAll
	}
	payload, err := c.codec.EncodeCommand(cluster.Command{Target: target, Text: text})
	if err != nil {
		return err
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	if err := c.bus.Publish(ctx, c.topics.loader, payload); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	c.printf("Sent command to %s: %s\n", target, text)
	return nil
}

// prompt alternates target and command prompts until in is exhausted or
// ctx is done.
func (c *commander) prompt(ctx context.Context, in io.Reader) error {
	type answer struct {
		text string
		ok   bool
	}
	answers := make(chan answer)
	go func() {
		sc := bufio.NewScanner(in)
		for {
			ok := sc.Scan()
			select {
			case answers <- answer{text: strings.TrimSpace(sc.Text()), ok: ok}:
			case <-ctx.Done():
				return
			}
			if !ok {
				return
			}
		}
	}()

	ask := func(q string) (string, bool, error) {
		c.printf("%s", q)
		select {
		case a := <-answers:
			return a.text, a.ok, nil
		case <-ctx.Done():
			return "", false, ctx.Err()
		}
	}

	for {
		target, ok, err := ask("Enter the client ID (or 'all' to send to all clients): ")
		if err != nil || !ok {
			return ignoreCanceled(err)
		}
		text, ok, err := ask("Enter the command to send: ")
		if err != nil || !ok {
			return ignoreCanceled(err)
		}
		if target == "" || text == "" {
			c.printf("Both a client ID and a command are required.\n")
			continue
		}
		if err := c.send(ctx, target, text); err != nil {
			c.log.Error("send failed", "target", target, "error", err)
		}
	}
}

func (c *commander) printResult(res cluster.CommandResult) {
	var b strings.Builder
	fmt.Fprintf(&b, "\nReceived feedback from %s (%s, exit %d, %s):\n$ %s\n",
		res.ClientID, res.Status, res.ExitCode, res.Duration(), res.Command)
	if res.Output != "" {
		b.WriteString(res.Output)
		if !strings.HasSuffix(res.Output, "\n") {
			b.WriteByte('\n')
		}
	}
	if res.Error != cluster.ErrorNone && res.Error != "" {
		fmt.Fprintf(&b, "error: %s\n", strings.TrimRight(res.Error, "\n"))
	}
	c.printf("%s", b.String())
}

// printf serializes writes from the prompt loop and bus callbacks.
func (c *commander) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
	return nil
}
