package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"taskdeck/internal/api"
	"taskdeck/internal/config"
	"taskdeck/internal/db"
	"taskdeck/internal/dispatch"
	"taskdeck/internal/events"
	"taskdeck/internal/gateway"
	"taskdeck/internal/store"
)

// newServeCmd creates the serve command for the API server.
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server and review dispatcher",
		Long: `Start the taskdeck API server.

The server provides REST endpoints for tasks, comments, and the audit log,
a WebSocket stream of task events, and runs the review dispatcher that
spawns QA agent sessions for tasks entering review.

Example:
  taskdeck serve
  taskdeck serve --addr :3000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Server.Addr, _ = cmd.Flags().GetString("addr")
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().String("addr", ":8080", "listen address")
	return cmd
}

func runServe(parent context.Context, cfg *config.Config) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	drv, err := db.Open(ctx, db.Options{
		URL:             cfg.Database.URL,
		Path:            cfg.Database.Path,
		MaxConns:        cfg.Database.MaxConns,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
		MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
	})
	if err != nil {
		return err
	}
	defer func() { _ = drv.Close() }()
	logger.Info("storage ready", "dialect", drv.Dialect())

	st := store.New(drv)
	pub := events.NewMemoryPublisher()
	defer pub.Close()

	gw := gateway.New(cfg.Gateway.URL, cfg.Gateway.Token,
		gateway.WithTimeout(cfg.Review.Timeout))

	dispatcher := dispatch.New(st, gw, pub, logger, dispatch.Config{
		Model:         cfg.Gateway.Model,
		RunTimeout:    cfg.Review.Timeout,
		GuardRelease:  cfg.Dispatch.GuardRelease,
		MinHandoffLen: cfg.Dispatch.MinHandoffLen,
	})

	srv := api.New(api.Config{
		Store:     st,
		Publisher: pub,
		Completer: dispatcher,
		Logger:    logger,
	})

	httpSrv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	// Feed status transitions to the dispatcher. Each dispatch runs on its
	// own goroutine so a slow gateway call never stalls event delivery.
	statusEvents := pub.Subscribe(events.GlobalTaskID)
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case ev, ok := <-statusEvents:
				if !ok {
					return nil
				}
				if ev.Type != events.EventTaskStatusChanged {
					continue
				}
				change, ok := ev.Data.(events.StatusChange)
				if !ok {
					continue
				}
				go dispatcher.OnTaskStatusChange(gctx, ev.TaskID, change.From, change.To)
			}
		}
	})

	g.Go(func() error {
		logger.Info("api server listening", "addr", cfg.Server.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
