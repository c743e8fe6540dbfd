package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/shelfscan/internal/detector"
	"github.com/MeKo-Tech/shelfscan/internal/llm"
	"github.com/MeKo-Tech/shelfscan/internal/recognizer"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, detector.BackendONNX, cfg.Detector.Backend)
	assert.Equal(t, recognizer.BackendVision, cfg.Recognizer.Backend)
	assert.Equal(t, llm.DefaultModel, cfg.LLM.Model)
	assert.Equal(t, "fr", cfg.Books.Lang)
	assert.Equal(t, 10, cfg.Server.MaxUploadMB)
	assert.False(t, cfg.Store.Enabled)
	assert.True(t, cfg.Artifacts.Enabled)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"bad log level", func(c *Config) { c.LogLevel = "trace" }, "log_level"},
		{"bad output format", func(c *Config) { c.Output.Format = "xml" }, "output.format"},
		{"unknown detector", func(c *Config) { c.Detector.Backend = "tflite" }, "detector.backend"},
		{"unknown recognizer", func(c *Config) { c.Recognizer.Backend = "tesseract" }, "recognizer.backend"},
		{"unknown llm provider", func(c *Config) { c.LLM.Provider = "mistral" }, "llm.provider"},
		{"unknown artifacts backend", func(c *Config) { c.Artifacts.Backend = "gcs" }, "artifacts.backend"},
		{"zero confidence", func(c *Config) { c.Detector.Conf = 0 }, "detector.conf"},
		{"iou above one", func(c *Config) { c.Detector.IoU = 1.2 }, "detector.iou"},
		{"zero min crop side", func(c *Config) { c.Detector.MinCropSide = 0 }, "detector.min_crop_side"},
		{"http detector without url", func(c *Config) { c.Detector.Backend = detector.BackendHTTP }, "detector.url"},
		{"http recognizer with relative url", func(c *Config) {
			c.Recognizer.Backend = recognizer.BackendHTTP
			c.Recognizer.URL = "ocr:8000"
		}, "recognizer.url"},
		{"negative llm rate", func(c *Config) { c.LLM.RatePerSec = -1 }, "llm.rate_per_sec"},
		{"store without dsn", func(c *Config) { c.Store.Enabled = true }, "store.dsn"},
		{"s3 without bucket", func(c *Config) { c.Artifacts.Backend = "s3" }, "artifacts.bucket"},
		{"port out of range", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"zero upload limit", func(c *Config) { c.Server.MaxUploadMB = 0 }, "server.max_upload_mb"},
		{"zero workers", func(c *Config) { c.Batch.Workers = 0 }, "batch.workers"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			var ve *ValidationError
			require.True(t, errors.As(err, &ve), "expected ValidationError, got %v", err)
			assert.Equal(t, tt.field, ve.Field)
			assert.Contains(t, ve.Error(), tt.field)
		})
	}
}

func TestConfig_Validate_AcceptsHTTPBackends(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Detector.Backend = detector.BackendHTTP
	cfg.Detector.URL = "http://yolo:8001"
	cfg.Recognizer.Backend = recognizer.BackendHTTP
	cfg.Recognizer.URL = "http://paddle:8000"
	assert.NoError(t, cfg.Validate())
}

func TestConfig_ToPipelineConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Detector.Conf = 0.4
	cfg.Detector.IoU = 0.3
	cfg.Detector.MinCropSide = 6
	cfg.Detector.NumThreads = 2
	cfg.LLM.APIKey = "gsk_test"
	cfg.LLM.TimeoutSec = 5
	cfg.Books.CacheTTLSec = 60
	cfg.Cache.Addr = "localhost:6379"
	cfg.Store = StoreConfig{Enabled: true, DSN: "postgres://u:p@db/biblio", Migrate: true}
	cfg.Artifacts.Dir = "/tmp/crops"

	pc := cfg.ToPipelineConfig()

	assert.Equal(t, detector.Thresholds{Confidence: 0.4, IoU: 0.3}, pc.Thresholds)
	assert.Equal(t, 6, pc.MinCropSide)
	assert.Equal(t, 2, pc.Detector.Runtime.NumThreads)
	assert.Equal(t, "gsk_test", pc.LLM.APIKey)
	assert.Equal(t, 5*time.Second, pc.LLM.Timeout)
	assert.Equal(t, time.Minute, pc.Bibliographic.CacheTTL)
	assert.Equal(t, "localhost:6379", pc.Cache.Addr)
	assert.True(t, pc.Store.Enabled)
	assert.Equal(t, "postgres://u:p@db/biblio", pc.Store.DSN)
	assert.Equal(t, "/tmp/crops", pc.Artifacts.Dir)
	assert.Equal(t, []string{"fr", "en"}, pc.Recognizer.LanguageHints)
}

func TestConfig_ToServerConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Port = 9090
	cfg.Server.RateLimit = RateLimitConfig{Enabled: true, RequestsPerSecond: 1, Burst: 2, MaxRequestsPerDay: 100, MaxDataPerDayMB: 3}

	sc := cfg.ToServerConfig("1.0.0")
	assert.Equal(t, 9090, sc.Port)
	assert.Equal(t, int64(10), sc.MaxUploadMB)
	assert.Equal(t, 120*time.Second, sc.Timeout)
	assert.Equal(t, "1.0.0", sc.Version)
	assert.True(t, sc.RateLimit.Enabled)
	assert.Equal(t, int64(3*1024*1024), sc.RateLimit.MaxDataPerDay)
	assert.Equal(t, cfg.Detector.Conf, sc.Pipeline.Thresholds.Confidence)
}

func TestConfig_Redacted(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LLM.APIKey = "gsk_secret"
	cfg.Books.APIKey = "AIza-secret"
	cfg.Store.DSN = "postgres://biblio:hunter2@db:5432/biblio?sslmode=disable"

	shown := cfg.Redacted()
	assert.Equal(t, redacted, shown.LLM.APIKey)
	assert.Equal(t, redacted, shown.Books.APIKey)
	assert.Empty(t, shown.Cache.Password)
	assert.NotContains(t, shown.Store.DSN, "hunter2")
	assert.Contains(t, shown.Store.DSN, "biblio:")

	// The original is untouched.
	assert.Equal(t, "gsk_secret", cfg.LLM.APIKey)
	shown.Detector.ClassNames[0] = "changed"
	assert.Equal(t, "book", cfg.Detector.ClassNames[0])
}
