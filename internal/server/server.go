// Package server exposes the scan pipeline over HTTP and WebSocket.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MeKo-Tech/shelfscan/internal/artifacts"
	"github.com/MeKo-Tech/shelfscan/internal/detector"
	"github.com/MeKo-Tech/shelfscan/internal/pipeline"
)

// Scanner is the part of *pipeline.Pipeline the server needs.
type Scanner interface {
	Scan(ctx context.Context, req pipeline.ScanRequest) (*pipeline.ScanResult, error)
	Info() map[string]interface{}
	Artifacts() artifacts.Store
	Close() error
}

// RateLimitConfig configures per-client limits. Zero values disable a limit.
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerSecond float64
	Burst             int
	MaxRequestsPerDay int
	MaxDataPerDay     int64
}

// Config holds server configuration.
type Config struct {
	Host        string
	Port        int
	CORSOrigin  string
	MaxUploadMB int64
	Timeout     time.Duration
	RateLimit   RateLimitConfig
	Version     string
	Pipeline    pipeline.Config
}

// Server holds the HTTP server state and dependencies.
type Server struct {
	scanner     Scanner
	artifacts   artifacts.Store
	validate    *validator.Validate
	rateLimiter *RateLimiter
	logger      *slog.Logger

	corsOrigin  string
	maxUploadMB int64
	timeout     time.Duration
	version     string
	thresholds  detector.Thresholds
}

// NewServer builds the pipeline from cfg.Pipeline and wraps it.
func NewServer(ctx context.Context, cfg Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	p, err := pipeline.NewBuilder().
		WithConfig(cfg.Pipeline).
		WithLogger(logger).
		WithObserver(stageMetrics{}).
		Build(ctx)
	if err != nil {
		return nil, err
	}
	return New(p, cfg, logger), nil
}

// New wraps an existing scanner.
func New(scanner Scanner, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxUploadMB <= 0 {
		cfg.MaxUploadMB = 10
	}
	s := &Server{
		scanner:     scanner,
		artifacts:   scanner.Artifacts(),
		validate:    validator.New(),
		logger:      logger,
		corsOrigin:  cfg.CORSOrigin,
		maxUploadMB: cfg.MaxUploadMB,
		timeout:     cfg.Timeout,
		version:     cfg.Version,
		thresholds:  cfg.Pipeline.Thresholds,
	}
	if s.thresholds.Validate() != nil {
		s.thresholds = detector.DefaultThresholds()
	}
	if cfg.RateLimit.Enabled {
		s.rateLimiter = NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst,
			cfg.RateLimit.MaxRequestsPerDay, cfg.RateLimit.MaxDataPerDay)
	}
	return s
}

// Close releases the scanner.
func (s *Server) Close() error {
	if s.scanner != nil {
		return s.scanner.Close()
	}
	return nil
}

// SetupRoutes configures the HTTP routes.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.corsMiddleware(s.healthHandler))
	mux.HandleFunc("/info", s.corsMiddleware(s.infoHandler))
	mux.HandleFunc("/scan", s.corsMiddleware(s.rateLimitMiddleware(s.scanHandler)))
	mux.HandleFunc("/detect", s.corsMiddleware(s.rateLimitMiddleware(s.detectHandler)))
	mux.HandleFunc("/detect_and_ocr", s.corsMiddleware(s.rateLimitMiddleware(s.detectAndOCRHandler)))
	mux.HandleFunc(artifacts.RoutePrefix, s.corsMiddleware(s.artifactHandler))
	mux.HandleFunc("/ws/scan", s.rateLimitMiddleware(s.scanWebSocketHandler))
	mux.Handle("/metrics", promhttp.Handler())
}

// Handler returns a mux with every route registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	return mux
}
