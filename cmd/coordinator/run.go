package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/fleetcmd/internal/coordinator"
	"github.com/dreamware/fleetcmd/internal/feedback"
	"github.com/dreamware/fleetcmd/internal/storage"
)

func (c *cli) newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a discovery and dispatch session",
		Args:  cobra.NoArgs,
		RunE:  c.runCoordinator,
	}
	c.bindRunFlags(cmd)
	return cmd
}

func (c *cli) bindRunFlags(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.Bool("realtime", false, "read commands from the terminal after discovery")
	fs.Bool("no-pipelines", false, "skip configured pipelines")
	fs.Bool("persist", false, "append results to the feedback log")
	fs.String("status-listen", "", "serve the HTTP status surface on this address")
}

func (c *cli) runCoordinator(cmd *cobra.Command, _ []string) error {
	cfg := c.env.Config
	log := c.env.Log
	fs := cmd.Flags()
	if v, _ := fs.GetBool("realtime"); v {
		cfg.Coordinator.RealtimeMode = true
	}
	if v, _ := fs.GetBool("no-pipelines"); v {
		cfg.Coordinator.PipelineMode = false
	}
	if v, _ := fs.GetBool("persist"); v {
		cfg.Feedback.Persist = true
	}
	if v, _ := fs.GetString("status-listen"); v != "" {
		cfg.Coordinator.StatusListen = v
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var opts []feedback.Option
	if cfg.Feedback.Persist {
		sink, err := feedback.OpenFile(cfg.Feedback.File)
		if err != nil {
			return err
		}
		defer sink.Close()
		opts = append(opts, feedback.WithSink(sink))
		log.Info("persisting feedback", "file", sink.Path())
	}
	collector := feedback.NewCollector(c.env.Codec, log, opts...)

	history := storage.NewMemoryStore(cfg.Coordinator.HistorySize)
	co := coordinator.New(cfg, c.env.NewBus("coordinator", ""), c.env.Codec, collector, log, coordinator.WithHistory(history))
	if err := co.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := co.Close(); err != nil {
			log.Warn("disconnect failed", "error", err)
		}
		stats := history.Stats()
		log.Info("coordinator stopped", "results", stats.Total, "failed", stats.Failed, "dropped", collector.Dropped())
	}()

	g, gctx := errgroup.WithContext(ctx)
	runCtx, cancelRun := context.WithCancel(gctx)
	defer cancelRun()

	if addr := cfg.Coordinator.StatusListen; addr != "" {
		srv := &http.Server{
			Addr:              addr,
			Handler:           co.StatusHandler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			log.Info("status surface listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-runCtx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	g.Go(func() error {
		defer cancelRun()
		return co.Run(runCtx, cmd.InOrStdin(), cmd.OutOrStdout())
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
