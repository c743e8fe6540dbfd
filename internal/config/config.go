// Package config loads and validates the shelfscan configuration.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/MeKo-Tech/shelfscan/internal/artifacts"
	"github.com/MeKo-Tech/shelfscan/internal/bibliographic"
	"github.com/MeKo-Tech/shelfscan/internal/detector"
	"github.com/MeKo-Tech/shelfscan/internal/llm"
	"github.com/MeKo-Tech/shelfscan/internal/onnx"
	"github.com/MeKo-Tech/shelfscan/internal/pipeline"
	"github.com/MeKo-Tech/shelfscan/internal/recognizer"
	"github.com/MeKo-Tech/shelfscan/internal/region"
	"github.com/MeKo-Tech/shelfscan/internal/server"
)

const redacted = "********"

// ValidationError reports one invalid configuration value.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %v (%s)", e.Field, e.Value, e.Message)
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	det := detector.DefaultConfig()
	th := detector.DefaultThresholds()
	rec := recognizer.DefaultConfig()
	lc := llm.DefaultConfig()
	bc := bibliographic.DefaultConfig()
	ac := artifacts.DefaultConfig()

	return Config{
		LogLevel: "info",
		Log: LogConfig{
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Detector: DetectorConfig{
			Backend:     det.Backend,
			ModelPath:   det.ModelPath,
			ImageSize:   det.ImageSize,
			ClassNames:  det.ClassNames,
			TimeoutSec:  int(det.Timeout / time.Second),
			Conf:        th.Confidence,
			IoU:         th.IoU,
			MinCropSide: region.DefaultMinSide,
		},
		Recognizer: RecognizerConfig{
			Backend:       rec.Backend,
			TimeoutSec:    int(rec.Timeout / time.Second),
			LanguageHints: rec.LanguageHints,
			Equalize:      rec.Equalize,
		},
		LLM: LLMConfig{
			Provider:   lc.Provider,
			BaseURL:    lc.BaseURL,
			Model:      lc.Model,
			TimeoutSec: int(lc.Timeout / time.Second),
			RatePerSec: lc.RatePerSec,
			Burst:      lc.Burst,
		},
		Books: BooksConfig{
			Lang:        bc.Lang,
			TimeoutSec:  int(bc.Timeout / time.Second),
			CacheTTLSec: int(bc.CacheTTL / time.Second),
		},
		Store: StoreConfig{
			Enabled: false,
			Migrate: true,
		},
		Artifacts: ArtifactsConfig{
			Enabled: ac.Enabled,
			Backend: ac.Backend,
			Dir:     ac.Dir,
		},
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8080,
			CORSOrigin:      "*",
			MaxUploadMB:     10,
			TimeoutSec:      120,
			ShutdownTimeout: 10,
			RateLimit: RateLimitConfig{
				Enabled:           false,
				RequestsPerSecond: 2,
				Burst:             5,
			},
		},
		Batch: BatchConfig{
			Workers: 1,
		},
		Output: OutputConfig{
			Format: "json",
		},
	}
}

// Validate checks the configuration and returns the first problem found
// as a *ValidationError.
func (c *Config) Validate() error {
	checks := []func() error{
		func() error {
			return oneOf("log_level", c.LogLevel, "debug", "info", "warn", "error")
		},
		func() error {
			return oneOf("output.format", c.Output.Format, "json", "text", "csv")
		},
		func() error {
			return oneOf("detector.backend", c.Detector.Backend, detector.BackendONNX, detector.BackendHTTP)
		},
		func() error {
			return oneOf("recognizer.backend", c.Recognizer.Backend, recognizer.BackendVision, recognizer.BackendHTTP)
		},
		func() error {
			return oneOf("llm.provider", c.LLM.Provider, llm.ProviderOpenAI, llm.ProviderGemini)
		},
		func() error {
			return oneOf("artifacts.backend", c.Artifacts.Backend, artifacts.BackendLocal, artifacts.BackendS3)
		},
		func() error { return unitInterval("detector.conf", c.Detector.Conf) },
		func() error { return unitInterval("detector.iou", c.Detector.IoU) },
		func() error { return positive("detector.image_size", c.Detector.ImageSize) },
		func() error { return positive("detector.min_crop_side", c.Detector.MinCropSide) },
		func() error { return nonNegative("detector.num_threads", c.Detector.NumThreads) },
		func() error {
			if c.Detector.Backend == detector.BackendHTTP {
				return requireURL("detector.url", c.Detector.URL)
			}
			return nil
		},
		func() error {
			if c.Recognizer.Backend == recognizer.BackendHTTP {
				return requireURL("recognizer.url", c.Recognizer.URL)
			}
			return nil
		},
		func() error { return nonNegative("llm.rate_per_sec", c.LLM.RatePerSec) },
		func() error {
			if c.Store.Enabled && c.Store.DSN == "" {
				return &ValidationError{Field: "store.dsn", Value: `""`, Message: "required when store.enabled is true"}
			}
			return nil
		},
		func() error {
			if c.Artifacts.Enabled && c.Artifacts.Backend == artifacts.BackendS3 && c.Artifacts.Bucket == "" {
				return &ValidationError{Field: "artifacts.bucket", Value: `""`, Message: "required for the s3 backend"}
			}
			return nil
		},
		func() error {
			if c.Server.Port <= 0 || c.Server.Port > 65535 {
				return &ValidationError{Field: "server.port", Value: c.Server.Port, Message: "must be between 1 and 65535"}
			}
			return nil
		},
		func() error { return positive("server.max_upload_mb", c.Server.MaxUploadMB) },
		func() error { return positive("server.timeout_sec", c.Server.TimeoutSec) },
		func() error { return nonNegative("server.rate_limit.requests_per_second", c.Server.RateLimit.RequestsPerSecond) },
		func() error { return positive("batch.workers", c.Batch.Workers) },
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

// ToPipelineConfig converts the config to the pipeline configuration.
func (c *Config) ToPipelineConfig() pipeline.Config {
	return pipeline.Config{
		Detector: detector.Config{
			Backend:    c.Detector.Backend,
			ModelPath:  c.Detector.ModelPath,
			ImageSize:  c.Detector.ImageSize,
			ClassNames: c.Detector.ClassNames,
			URL:        c.Detector.URL,
			Timeout:    seconds(c.Detector.TimeoutSec),
			Runtime: onnx.RuntimeConfig{
				LibraryPath: c.Detector.LibraryPath,
				NumThreads:  c.Detector.NumThreads,
				UseGPU:      c.Detector.UseGPU,
				DeviceID:    c.Detector.GPUDevice,
			},
		},
		Recognizer: recognizer.Config{
			Backend:         c.Recognizer.Backend,
			URL:             c.Recognizer.URL,
			Timeout:         seconds(c.Recognizer.TimeoutSec),
			CredentialsFile: c.Recognizer.CredentialsFile,
			CredentialsJSON: c.Recognizer.CredentialsJSON,
			LanguageHints:   c.Recognizer.LanguageHints,
			Equalize:        c.Recognizer.Equalize,
		},
		LLM: llm.Config{
			Provider:   c.LLM.Provider,
			APIKey:     c.LLM.APIKey,
			BaseURL:    c.LLM.BaseURL,
			Model:      c.LLM.Model,
			Timeout:    seconds(c.LLM.TimeoutSec),
			RatePerSec: c.LLM.RatePerSec,
			Burst:      c.LLM.Burst,
		},
		Bibliographic: bibliographic.Config{
			APIKey:   c.Books.APIKey,
			Lang:     c.Books.Lang,
			Endpoint: c.Books.Endpoint,
			Timeout:  seconds(c.Books.TimeoutSec),
			CacheTTL: seconds(c.Books.CacheTTLSec),
		},
		Cache: pipeline.CacheConfig{
			Addr:     c.Cache.Addr,
			Password: c.Cache.Password,
			DB:       c.Cache.DB,
		},
		Store: pipeline.StoreConfig{
			Enabled: c.Store.Enabled,
			DSN:     c.Store.DSN,
			Migrate: c.Store.Migrate,
		},
		Artifacts: artifacts.Config{
			Enabled:  c.Artifacts.Enabled,
			Backend:  c.Artifacts.Backend,
			Dir:      c.Artifacts.Dir,
			Bucket:   c.Artifacts.Bucket,
			Prefix:   c.Artifacts.Prefix,
			Region:   c.Artifacts.Region,
			Endpoint: c.Artifacts.Endpoint,
		},
		Thresholds:  detector.Thresholds{Confidence: c.Detector.Conf, IoU: c.Detector.IoU},
		MinCropSide: c.Detector.MinCropSide,
	}
}

// ToServerConfig converts the config to the HTTP server configuration.
func (c *Config) ToServerConfig(version string) server.Config {
	rl := c.Server.RateLimit
	return server.Config{
		Host:        c.Server.Host,
		Port:        c.Server.Port,
		CORSOrigin:  c.Server.CORSOrigin,
		MaxUploadMB: int64(c.Server.MaxUploadMB),
		Timeout:     seconds(c.Server.TimeoutSec),
		RateLimit: server.RateLimitConfig{
			Enabled:           rl.Enabled,
			RequestsPerSecond: rl.RequestsPerSecond,
			Burst:             rl.Burst,
			MaxRequestsPerDay: rl.MaxRequestsPerDay,
			MaxDataPerDay:     int64(rl.MaxDataPerDayMB) * 1024 * 1024,
		},
		Version:  version,
		Pipeline: c.ToPipelineConfig(),
	}
}

// Redacted returns a copy with credentials masked, for display.
func (c Config) Redacted() Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return redacted
	}
	c.LLM.APIKey = mask(c.LLM.APIKey)
	c.Books.APIKey = mask(c.Books.APIKey)
	c.Cache.Password = mask(c.Cache.Password)
	c.Recognizer.CredentialsJSON = mask(c.Recognizer.CredentialsJSON)
	if u, err := url.Parse(c.Store.DSN); err == nil && u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), redacted)
			c.Store.DSN = u.String()
		}
	}
	c.Detector.ClassNames = append([]string(nil), c.Detector.ClassNames...)
	c.Recognizer.LanguageHints = append([]string(nil), c.Recognizer.LanguageHints...)
	return c
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

func oneOf(field, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return &ValidationError{Field: field, Value: value, Message: "must be one of: " + strings.Join(allowed, ", ")}
}

func unitInterval(field string, v float64) error {
	if v <= 0 || v > 1 {
		return &ValidationError{Field: field, Value: v, Message: "must be in (0, 1]"}
	}
	return nil
}

func positive(field string, v int) error {
	if v <= 0 {
		return &ValidationError{Field: field, Value: v, Message: "must be positive"}
	}
	return nil
}

func nonNegative[T int | float64](field string, v T) error {
	if v < 0 {
		return &ValidationError{Field: field, Value: v, Message: "must not be negative"}
	}
	return nil
}

func requireURL(field, v string) error {
	u, err := url.Parse(v)
	if v == "" || err != nil || u.Scheme == "" || u.Host == "" {
		return &ValidationError{Field: field, Value: v, Message: "must be an absolute URL"}
	}
	return nil
}
