package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"agentwatch/internal/hooks"
	"agentwatch/internal/journal"
	"agentwatch/internal/logging"
	"agentwatch/internal/realtime"
	"agentwatch/internal/session"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd() *cobra.Command {
	var (
		host string
		port int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the detection server",
		Long: `Run the local server. Terminal owners register panes and stream output
over /ws or the REST API; the agent's hooks post to /hook. State changes are
broadcast to every websocket client.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, loadErr := loadConfig(configPath)
			if cmd.Flags().Changed("host") {
				cfg.Server.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			return runServe(cmd.Context(), cfg, loadErr)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "listen host (overrides config)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (overrides config)")

	return cmd
}

// runServe serves until parent is cancelled or a signal arrives. A config
// load error is logged and serving continues with cfg.
func runServe(parent context.Context, cfg Config, loadErr error) error {
	logging.Init(cfg.LoggingConfig())
	defer logging.Shutdown()
	log := logging.ForComponent(logging.CompServe)
	if loadErr != nil {
		log.Warn("config_load_failed", slog.String("error", loadErr.Error()))
	}

	tracker := session.NewTracker(cfg.TrackerOptions())
	defer tracker.Close()

	rt := realtime.New(tracker, cfg.ServerOptions())

	var (
		store *journal.Store
		feed  <-chan session.StateEvent
		err   error
	)
	if cfg.Journal.Enabled {
		store, err = journal.Open(cfg.Journal.Path)
		if err != nil {
			return err
		}
		defer store.Close()
		if cfg.Journal.RetentionHours > 0 {
			cutoff := time.Now().Add(-time.Duration(cfg.Journal.RetentionHours) * time.Hour)
			if n, err := store.Prune(cutoff); err != nil {
				log.Warn("journal_prune_failed", slog.String("error", err.Error()))
			} else if n > 0 {
				log.Info("journal_pruned", slog.Int64("rows", n))
			}
		}
		_, feed, _ = tracker.SubscribeAll()
	}

	// The spool starts a watcher that only Run closes, so it is created last.
	spool, err := hooks.NewSpool(cfg.Hooks.SpoolDir, tracker)
	if err != nil {
		return fmt.Errorf("hook spool: %w", err)
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           rt.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("server_started",
			slog.String("addr", httpServer.Addr),
			slog.String("spool", spool.Dir()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return rt.Run(gctx)
	})
	g.Go(func() error {
		return spool.Run(gctx)
	})
	if store != nil {
		g.Go(func() error {
			return store.Run(gctx, feed)
		})
	}

	err = g.Wait()
	log.Info("server_stopped")
	return err
}
