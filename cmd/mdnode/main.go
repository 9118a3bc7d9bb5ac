// Command mdnode runs one hop of a hierarchical MessageDirector: it
// accepts downstream participant connections, optionally links to a
// parent MessageDirector upstream, and routes datagrams between them.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs" // tune GOMAXPROCS to the container's CPU quota before guard.Run starts sampling
	"go.uber.org/zap"

	"github.com/riftline/messagedirector/internal/config"
	"github.com/riftline/messagedirector/internal/diagnostics"
	"github.com/riftline/messagedirector/internal/director"
	"github.com/riftline/messagedirector/internal/logging"
	"github.com/riftline/messagedirector/internal/metrics"
	"github.com/riftline/messagedirector/internal/resource"
	"github.com/riftline/messagedirector/internal/transport"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() // nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metricsRegistry := metrics.NewRegistry()
	hub := diagnostics.NewHub(logger)
	go hub.Run(ctx)

	var link *transport.Link
	if cfg.Upstream.Connect != "" {
		link = transport.NewLink(logger)
	}

	var dir *director.MessageDirector
	if link != nil {
		dir = director.New(logger, link, metricsRegistry)
		link.SetDirector(dir)
	} else {
		dir = director.New(logger, nil, metricsRegistry)
	}
	dir.SetEventSink(hub)

	if link != nil {
		if err := link.Connect(cfg.Upstream.Connect, cfg.Upstream.DialTimeout); err != nil {
			logger.Fatal("upstream connect failed", zap.Error(err))
		}
	}

	guard := resource.NewGuard(cfg.Resource, logger, metricsRegistry)
	go guard.Run(ctx.Done())

	server := transport.NewServer(cfg.Server, dir, guard, logger)
	if err := server.Start(ctx); err != nil {
		logger.Fatal("transport start failed", zap.Error(err))
	}

	httpErrCh := make(chan error, 1)
	go func() {
		httpErrCh <- runHTTPServer(ctx, cfg, hub, metricsRegistry, logger)
	}()

	var upstreamFatal <-chan error
	if link != nil {
		upstreamFatal = link.Fatal()
	}

	exitCode := 0
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-httpErrCh:
		if err != nil {
			logger.Error("diagnostics http server error", zap.Error(err))
			exitCode = 1
		}
		stop()
	case err := <-upstreamFatal:
		logger.Error("upstream link failed, shutting down", zap.Error(err))
		exitCode = 1
		stop()
	}

	server.Stop()
	if link != nil {
		_ = link.Close()
	}
	logger.Info("mdnode stopped")

	if exitCode != 0 {
		logger.Sync() // nolint:errcheck
		os.Exit(exitCode)
	}
}

func runHTTPServer(ctx context.Context, cfg config.Config, hub *diagnostics.Hub, reg *metrics.Registry, logger *zap.Logger) error {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339Nano),
		})
	})
	if cfg.Diagnostics.Enabled {
		mux.HandleFunc(cfg.Diagnostics.Path, hub.ServeWS)
	}

	if cfg.Metrics.Enabled {
		mux.Handle(cfg.Metrics.Endpoint, reg.Handler())
	}

	httpServer := &http.Server{
		Addr:         cfg.Metrics.ListenAddr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("diagnostics http server starting", zap.String("addr", cfg.Metrics.ListenAddr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("diagnostics http server shutdown error", zap.Error(err))
		}
		return nil
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
