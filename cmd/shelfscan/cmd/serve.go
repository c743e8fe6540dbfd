package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/shelfscan/internal/server"
	"github.com/MeKo-Tech/shelfscan/internal/version"
)

func newServeCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP and WebSocket scan API",
		Long: `Start an HTTP server exposing the scan pipeline.

Endpoints:
  POST /scan            - scan an uploaded shelf photograph (multipart "file")
  POST /detect          - detection and ordering only, with the annotated image
  POST /detect_and_ocr  - detection plus OCR, no model or catalogue calls
  GET  /ws/scan         - WebSocket scan with per-stage progress
  GET  /debug_crops/... - crops, OCR overlays and composites of past scans
  GET  /health          - health check
  GET  /info            - pipeline components and version
  GET  /metrics         - Prometheus metrics

Examples:
  shelfscan serve
  shelfscan serve --host 0.0.0.0 --port 3000 --rate-limit`,
		Args: cobra.NoArgs,
		RunE: a.runServe,
	}

	flags := cmd.Flags()
	flags.String("host", "localhost", "interface to listen on")
	flags.IntP("port", "p", 8080, "port to listen on")
	flags.String("cors-origin", "*", "value of Access-Control-Allow-Origin")
	flags.Int("max-upload-mb", 10, "maximum upload size in megabytes")
	flags.Int("timeout", 120, "per-scan timeout in seconds")
	flags.Int("shutdown-timeout", 10, "graceful shutdown timeout in seconds")
	flags.Bool("rate-limit", false, "enable per-client rate limiting")
	flags.Float64("rate-limit-rps", 2, "sustained requests per second per client")
	flags.Int("rate-limit-burst", 5, "request burst per client")
	flags.Int("max-requests-per-day", 0, "daily request quota per client (0 disables)")
	flags.Int("max-data-per-day-mb", 0, "daily upload quota per client in megabytes (0 disables)")

	a.bind("server.host", flags.Lookup("host"))
	a.bind("server.port", flags.Lookup("port"))
	a.bind("server.cors_origin", flags.Lookup("cors-origin"))
	a.bind("server.max_upload_mb", flags.Lookup("max-upload-mb"))
	a.bind("server.timeout_sec", flags.Lookup("timeout"))
	a.bind("server.shutdown_timeout", flags.Lookup("shutdown-timeout"))
	a.bind("server.rate_limit.enabled", flags.Lookup("rate-limit"))
	a.bind("server.rate_limit.requests_per_second", flags.Lookup("rate-limit-rps"))
	a.bind("server.rate_limit.burst", flags.Lookup("rate-limit-burst"))
	a.bind("server.rate_limit.max_requests_per_day", flags.Lookup("max-requests-per-day"))
	a.bind("server.rate_limit.max_data_per_day_mb", flags.Lookup("max-data-per-day-mb"))
	return cmd
}

func (a *app) runServe(cmd *cobra.Command, _ []string) error {
	cfg := a.cfg
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := server.NewServer(ctx, cfg.ToServerConfig(version.Version), a.logger)
	if err != nil {
		return fmt.Errorf("initialize server: %w", err)
	}
	defer func() { _ = srv.Close() }()

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	writeTimeout := time.Duration(cfg.Server.TimeoutSec)*time.Second + 30*time.Second
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("starting shelfscan server", "addr", addr, "version", version.Version)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	}

	shutdownTimeout := time.Duration(cfg.Server.ShutdownTimeout) * time.Second
	a.logger.Info("starting graceful shutdown", "timeout", shutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	a.logger.Info("server stopped")
	return nil
}
