// Package pipeline turns a shelf photograph into position-tagged golden
// records: detect, order, crop, then recognize, correct, extract, verify,
// merge and persist each spine in turn.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MeKo-Tech/shelfscan/internal/artifacts"
	"github.com/MeKo-Tech/shelfscan/internal/bibliographic"
	"github.com/MeKo-Tech/shelfscan/internal/common"
	"github.com/MeKo-Tech/shelfscan/internal/detector"
	"github.com/MeKo-Tech/shelfscan/internal/llm"
	"github.com/MeKo-Tech/shelfscan/internal/recognizer"
	"github.com/MeKo-Tech/shelfscan/internal/region"
	"github.com/MeKo-Tech/shelfscan/internal/store"
)

// CacheConfig locates the Redis instance used for catalogue lookups.
type CacheConfig struct {
	Addr     string
	Password string
	DB       int
}

// StoreConfig controls persistence.
type StoreConfig struct {
	Enabled bool
	DSN     string
	Migrate bool
}

// Config holds configuration for every stage of the pipeline.
type Config struct {
	Detector      detector.Config
	Recognizer    recognizer.Config
	LLM           llm.Config
	Bibliographic bibliographic.Config
	Cache         CacheConfig
	Store         StoreConfig
	Artifacts     artifacts.Config
	Thresholds    detector.Thresholds
	MinCropSide   int
}

// DefaultConfig returns a pipeline config with component defaults.
func DefaultConfig() Config {
	return Config{
		Detector:      detector.DefaultConfig(),
		Recognizer:    recognizer.DefaultConfig(),
		LLM:           llm.DefaultConfig(),
		Bibliographic: bibliographic.DefaultConfig(),
		Artifacts:     artifacts.DefaultConfig(),
		Thresholds:    detector.DefaultThresholds(),
		MinCropSide:   region.DefaultMinSide,
	}
}

// Agent is the language-model side of the pipeline. *llm.Agent satisfies it.
type Agent interface {
	Correct(ctx context.Context, text string) llm.TextOutcome
	Extract(ctx context.Context, text string) llm.MetadataOutcome
	Validate(ctx context.Context, ocrText, title string, authors []string) llm.VerdictOutcome
}

// Observer is told the outcome of every stage of every region.
type Observer interface {
	ObserveStage(stage string, outcome common.Outcome)
}

// Builder constructs a Pipeline with fluent configuration. Components that
// are not injected are built from the config.
type Builder struct {
	cfg       Config
	detector  detector.Detector
	rec       recognizer.Recognizer
	agent     Agent
	books     bibliographic.Looker
	gateway   store.Gateway
	artifacts artifacts.Store
	noArtifacts bool
	observer  Observer
	logger    *slog.Logger
}

// NewBuilder creates a new pipeline builder with defaults.
func NewBuilder() *Builder { return &Builder{cfg: DefaultConfig()} }

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.cfg = cfg
	return b
}

// WithThresholds sets the default detector thresholds.
func (b *Builder) WithThresholds(th detector.Thresholds) *Builder {
	b.cfg.Thresholds = th
	return b
}

// WithMinCropSide sets the smallest crop edge kept by the region extractor.
func (b *Builder) WithMinCropSide(px int) *Builder {
	if px > 0 {
		b.cfg.MinCropSide = px
	}
	return b
}

func (b *Builder) WithDetector(d detector.Detector) *Builder {
	b.detector = d
	return b
}

func (b *Builder) WithRecognizer(r recognizer.Recognizer) *Builder {
	b.rec = r
	return b
}

func (b *Builder) WithAgent(a Agent) *Builder {
	b.agent = a
	return b
}

func (b *Builder) WithBooks(l bibliographic.Looker) *Builder {
	b.books = l
	return b
}

func (b *Builder) WithStore(g store.Gateway) *Builder {
	b.gateway = g
	return b
}

// WithArtifacts sets the debug image store. A nil store disables artifacts.
func (b *Builder) WithArtifacts(s artifacts.Store) *Builder {
	b.artifacts = s
	b.noArtifacts = s == nil
	return b
}

func (b *Builder) WithObserver(o Observer) *Builder {
	b.observer = o
	return b
}

func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	b.logger = l
	return b
}

// Config returns a copy of the current config.
func (b *Builder) Config() Config { return b.cfg }

// Validate checks the configuration that Build relies on.
func (b *Builder) Validate() error {
	if err := b.cfg.Thresholds.Validate(); err != nil {
		return err
	}
	if b.cfg.MinCropSide < 1 {
		return errors.New("min crop side must be >= 1")
	}
	if b.gateway == nil && b.cfg.Store.Enabled && b.cfg.Store.DSN == "" {
		return errors.New("store is enabled but no DSN is configured")
	}
	return nil
}

// Pipeline wires the stage adapters together.
type Pipeline struct {
	cfg       Config
	detector  detector.Detector
	rec       recognizer.Recognizer
	agent     Agent
	books     bibliographic.Looker
	gateway   store.Gateway
	artifacts artifacts.Store
	extractor *region.Extractor
	observer  Observer
	logger    *slog.Logger
	profiler  *Profiler

	closers []func() error
}

// Build initializes the pipeline components. Anything not injected is
// created from the config; on error everything created so far is closed.
func (b *Builder) Build(ctx context.Context) (*Pipeline, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{
		cfg:       b.cfg,
		detector:  b.detector,
		rec:       b.rec,
		agent:     b.agent,
		books:     b.books,
		gateway:   b.gateway,
		artifacts: b.artifacts,
		extractor: region.NewExtractor(b.cfg.MinCropSide, logger),
		observer:  b.observer,
		logger:    logger,
		profiler:  &Profiler{},
	}

	if err := p.initComponents(ctx, b.noArtifacts); err != nil {
		_ = p.Close()
		return nil, err
	}
	return p, nil
}

func (p *Pipeline) initComponents(ctx context.Context, noArtifacts bool) error {
	if p.detector == nil {
		d, err := detector.New(p.cfg.Detector)
		if err != nil {
			return fmt.Errorf("init detector: %w", err)
		}
		p.detector = d
		p.closers = append(p.closers, d.Close)
	}

	if p.rec == nil {
		r, err := recognizer.New(ctx, p.cfg.Recognizer)
		if err != nil {
			return fmt.Errorf("init recognizer: %w", err)
		}
		p.rec = r
		p.closers = append(p.closers, r.Close)
	}

	if p.agent == nil {
		if p.cfg.LLM.APIKey == "" {
			p.logger.Warn("no llm api key configured; correction, extraction and validation will degrade")
			p.agent = llm.NewAgent(llm.Offline{}, p.logger)
		} else {
			c, err := llm.New(ctx, p.cfg.LLM)
			if err != nil {
				return fmt.Errorf("init llm: %w", err)
			}
			p.agent = llm.NewAgent(c, p.logger)
		}
	}

	if p.books == nil {
		l, err := p.initBooks(ctx)
		if err != nil {
			return err
		}
		p.books = l
	}

	if p.gateway == nil {
		g, err := p.initStore(ctx)
		if err != nil {
			return err
		}
		p.gateway = g
	}

	if p.artifacts == nil && !noArtifacts {
		s, err := artifacts.New(p.cfg.Artifacts)
		if err != nil {
			return fmt.Errorf("init artifacts: %w", err)
		}
		p.artifacts = s
	}
	return nil
}

func (p *Pipeline) initBooks(ctx context.Context) (bibliographic.Looker, error) {
	v, err := bibliographic.NewVerifier(ctx, p.cfg.Bibliographic, nil, p.logger)
	if errors.Is(err, bibliographic.ErrNoAPIKey) {
		p.logger.Warn("no google books api key configured; lookups will be skipped")
		return bibliographic.Disabled{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("init bibliographic verifier: %w", err)
	}
	if p.cfg.Cache.Addr == "" {
		return v, nil
	}

	client, err := bibliographic.DialRedis(ctx, p.cfg.Cache.Addr, p.cfg.Cache.Password, p.cfg.Cache.DB)
	if err != nil {
		p.logger.Warn("redis unavailable; books cache disabled", "addr", p.cfg.Cache.Addr, "error", err)
		return v, nil
	}
	p.closers = append(p.closers, client.Close)
	return bibliographic.NewVerifier(ctx, p.cfg.Bibliographic, bibliographic.NewRedisCache(client), p.logger)
}

func (p *Pipeline) initStore(ctx context.Context) (store.Gateway, error) {
	if !p.cfg.Store.Enabled {
		return store.Disabled{}, nil
	}
	s, err := store.Open(ctx, p.cfg.Store.DSN, p.logger)
	if err != nil {
		return nil, err
	}
	p.closers = append(p.closers, s.Close)
	if p.cfg.Store.Migrate {
		if err := s.Migrate(ctx); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Close releases the components the pipeline created itself. Injected
// components belong to the caller.
func (p *Pipeline) Close() error {
	var firstErr error
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	p.closers = nil
	return firstErr
}

// Config returns the pipeline configuration.
func (p *Pipeline) Config() Config { return p.cfg }

// Artifacts returns the debug image store, or nil when artifacts are off.
func (p *Pipeline) Artifacts() artifacts.Store { return p.artifacts }

// Profiler returns cumulative timing counters.
func (p *Pipeline) Profiler() *Profiler { return p.profiler }

// Info returns a map with key pipeline properties and component info.
func (p *Pipeline) Info() map[string]interface{} {
	info := map[string]interface{}{
		"thresholds":    p.cfg.Thresholds,
		"min_crop_side": p.cfg.MinCropSide,
		"artifacts":     p.artifacts != nil,
		"llm_provider":  p.cfg.LLM.Provider,
		"llm_model":     p.cfg.LLM.Model,
		"profile":       p.profiler.Snapshot(),
	}
	if p.detector != nil {
		info["detector"] = p.detector.Info()
	}
	if p.rec != nil {
		info["recognizer"] = p.rec.Info()
	}
	_, booksOff := p.books.(bibliographic.Disabled)
	info["bibliographic"] = map[string]interface{}{
		"enabled": !booksOff,
		"lang":    p.cfg.Bibliographic.Lang,
		"cache":   p.cfg.Cache.Addr != "",
	}
	_, storeOff := p.gateway.(store.Disabled)
	info["store"] = map[string]interface{}{"enabled": !storeOff}
	return info
}
