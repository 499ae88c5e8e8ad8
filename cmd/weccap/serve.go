package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/weccap/internal/api"
	"github.com/banshee-data/weccap/internal/config"
	"github.com/banshee-data/weccap/internal/db"
	"github.com/banshee-data/weccap/internal/eventchannel"
	"github.com/banshee-data/weccap/internal/export"
	"github.com/banshee-data/weccap/internal/monitoring"
	"github.com/banshee-data/weccap/internal/scene"
	"github.com/banshee-data/weccap/internal/session"
	"github.com/banshee-data/weccap/internal/version"
)

var logger = monitoring.Logger("weccap")

var (
	serveListen  string
	serveBackend string
	serveReplay  string
)

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "operator API listen address")
	serveCmd.Flags().StringVar(&serveBackend, "backend", "", "backend websocket URL")
	serveCmd.Flags().StringVar(&serveReplay, "replay", "", "replay a recorded event fixture instead of dialing the backend")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the console",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		applyServeFlags(cfg)
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg)
	},
}

func applyServeFlags(cfg *config.ConsoleConfig) {
	if serveListen != "" {
		cfg.Listen = serveListen
	}
	if serveBackend != "" {
		cfg.BackendURL = serveBackend
	}
	if serveReplay != "" {
		cfg.ReplayFile = serveReplay
	}
}

func serve(ctx context.Context, cfg *config.ConsoleConfig) error {
	logger.Info("starting", "version", version.String(), "listen", cfg.Listen)

	store, err := db.NewDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open history db: %w", err)
	}
	defer store.Close()

	exportOpts := export.Options{Format: cfg.ExportFormat, Archive: cfg.ExportArchive}
	sink, err := export.NewFileSink(cfg.ExportDir, exportOpts, store, 0)
	if err != nil {
		return err
	}

	hub := eventchannel.NewHub(cfg.QueueSize)
	defer hub.Close()

	statusURL := cfg.StatusURL
	if cfg.ReplayFile != "" {
		statusURL = ""
	}
	console := session.New(hub, session.Options{
		StatusURL: statusURL,
		Exporter:  sink,
		History:   store,
	})
	defer console.Close()

	apiServer := api.NewServer(console, exportOpts, store)
	mux := apiServer.ServeMux()
	hub.AttachAdminRoutes(mux)
	apiServer.AttachAdminRoutes(mux)
	if err := store.AttachAdminRoutes(mux); err != nil {
		logger.Warn("history db admin routes unavailable", "err", err)
	}

	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           api.LoggingMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return hub.Run(ctx) })
	g.Go(func() error { return sink.Run(ctx) })
	g.Go(func() error {
		if cfg.ReplayFile != "" {
			return eventchannel.NewReplayFile(hub, cfg.ReplayFile, cfg.GetReplayInterval()).Run(ctx)
		}
		return runTransport(ctx, &eventchannel.WebsocketTransport{URL: cfg.BackendURL, Hub: hub})
	})
	if cfg.SceneListen != "" {
		g.Go(func() error {
			return scene.Serve(ctx, cfg.SceneListen, scene.NewServer(console.Accumulator(), nil))
		})
	}
	g.Go(func() error {
		logger.Info("operator API listening", "addr", cfg.Listen)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	written, failed := sink.Stats()
	logger.Info("stopped", "exports_written", written, "exports_failed", failed)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// transport is a single connection to the backend.
type transport interface {
	Run(ctx context.Context) error
}

// runTransport runs t once. Losing the backend ends the console; restarting
// is left to the process supervisor.
func runTransport(ctx context.Context, t transport) error {
	err := t.Run(ctx)
	if ctx.Err() != nil {
		return nil
	}
	if err == nil {
		err = errors.New("connection closed")
	}
	return fmt.Errorf("backend: %w", err)
}
