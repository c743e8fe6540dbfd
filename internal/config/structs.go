//nolint:lll
package config

// Config is the complete shelfscan configuration. It is loaded from a YAML
// file, SHELFSCAN_* environment variables, a .env file and command-line flags.
type Config struct {
	LogLevel string    `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Verbose  bool      `mapstructure:"verbose" yaml:"verbose" json:"verbose"`
	Log      LogConfig `mapstructure:"log" yaml:"log" json:"log"`

	Detector   DetectorConfig   `mapstructure:"detector" yaml:"detector" json:"detector"`
	Recognizer RecognizerConfig `mapstructure:"recognizer" yaml:"recognizer" json:"recognizer"`
	LLM        LLMConfig        `mapstructure:"llm" yaml:"llm" json:"llm"`
	Books      BooksConfig      `mapstructure:"books" yaml:"books" json:"books"`
	Cache      CacheConfig      `mapstructure:"cache" yaml:"cache" json:"cache"`
	Store      StoreConfig      `mapstructure:"store" yaml:"store" json:"store"`
	Artifacts  ArtifactsConfig  `mapstructure:"artifacts" yaml:"artifacts" json:"artifacts"`

	Server ServerConfig `mapstructure:"server" yaml:"server" json:"server"`
	Batch  BatchConfig  `mapstructure:"batch" yaml:"batch" json:"batch"`
	Output OutputConfig `mapstructure:"output" yaml:"output" json:"output"`
}

// LogConfig enables an additional rotating log file.
type LogConfig struct {
	File       string `mapstructure:"file" yaml:"file" json:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups" json:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days" json:"max_age_days"`
}

// DetectorConfig contains spine detection settings.
type DetectorConfig struct {
	Backend     string   `mapstructure:"backend" yaml:"backend" json:"backend"`
	ModelPath   string   `mapstructure:"model_path" yaml:"model_path" json:"model_path"`
	ImageSize   int      `mapstructure:"image_size" yaml:"image_size" json:"image_size"`
	ClassNames  []string `mapstructure:"class_names" yaml:"class_names" json:"class_names"`
	URL         string   `mapstructure:"url" yaml:"url" json:"url"`
	TimeoutSec  int      `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	Conf        float64  `mapstructure:"conf" yaml:"conf" json:"conf"`
	IoU         float64  `mapstructure:"iou" yaml:"iou" json:"iou"`
	MinCropSide int      `mapstructure:"min_crop_side" yaml:"min_crop_side" json:"min_crop_side"`

	// ONNX runtime
	LibraryPath string `mapstructure:"library_path" yaml:"library_path" json:"library_path"`
	NumThreads  int    `mapstructure:"num_threads" yaml:"num_threads" json:"num_threads"`
	UseGPU      bool   `mapstructure:"use_gpu" yaml:"use_gpu" json:"use_gpu"`
	GPUDevice   int    `mapstructure:"gpu_device" yaml:"gpu_device" json:"gpu_device"`
}

// RecognizerConfig contains OCR settings.
type RecognizerConfig struct {
	Backend         string   `mapstructure:"backend" yaml:"backend" json:"backend"`
	URL             string   `mapstructure:"url" yaml:"url" json:"url"`
	TimeoutSec      int      `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	CredentialsFile string   `mapstructure:"credentials_file" yaml:"credentials_file" json:"credentials_file"`
	CredentialsJSON string   `mapstructure:"credentials_json" yaml:"credentials_json" json:"credentials_json"`
	LanguageHints   []string `mapstructure:"language_hints" yaml:"language_hints" json:"language_hints"`
	Equalize        bool     `mapstructure:"equalize" yaml:"equalize" json:"equalize"`
}

// LLMConfig selects the chat-completion provider.
type LLMConfig struct {
	Provider   string  `mapstructure:"provider" yaml:"provider" json:"provider"`
	APIKey     string  `mapstructure:"api_key" yaml:"api_key" json:"api_key"`
	BaseURL    string  `mapstructure:"base_url" yaml:"base_url" json:"base_url"`
	Model      string  `mapstructure:"model" yaml:"model" json:"model"`
	TimeoutSec int     `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	RatePerSec float64 `mapstructure:"rate_per_sec" yaml:"rate_per_sec" json:"rate_per_sec"`
	Burst      int     `mapstructure:"burst" yaml:"burst" json:"burst"`
}

// BooksConfig configures the Google Books verifier.
type BooksConfig struct {
	APIKey      string `mapstructure:"api_key" yaml:"api_key" json:"api_key"`
	Lang        string `mapstructure:"lang" yaml:"lang" json:"lang"`
	Endpoint    string `mapstructure:"endpoint" yaml:"endpoint" json:"endpoint"`
	TimeoutSec  int    `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	CacheTTLSec int    `mapstructure:"cache_ttl_sec" yaml:"cache_ttl_sec" json:"cache_ttl_sec"`
}

// CacheConfig locates the Redis lookup cache. An empty Addr disables it.
type CacheConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr" json:"addr"`
	Password string `mapstructure:"password" yaml:"password" json:"password"`
	DB       int    `mapstructure:"db" yaml:"db" json:"db"`
}

// StoreConfig controls persistence of golden records.
type StoreConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	DSN     string `mapstructure:"dsn" yaml:"dsn" json:"dsn"`
	Migrate bool   `mapstructure:"migrate" yaml:"migrate" json:"migrate"`
}

// ArtifactsConfig selects where debug images go.
type ArtifactsConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Backend  string `mapstructure:"backend" yaml:"backend" json:"backend"`
	Dir      string `mapstructure:"dir" yaml:"dir" json:"dir"`
	Bucket   string `mapstructure:"bucket" yaml:"bucket" json:"bucket"`
	Prefix   string `mapstructure:"prefix" yaml:"prefix" json:"prefix"`
	Region   string `mapstructure:"region" yaml:"region" json:"region"`
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint" json:"endpoint"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host            string          `mapstructure:"host" yaml:"host" json:"host"`
	Port            int             `mapstructure:"port" yaml:"port" json:"port"`
	CORSOrigin      string          `mapstructure:"cors_origin" yaml:"cors_origin" json:"cors_origin"`
	MaxUploadMB     int             `mapstructure:"max_upload_mb" yaml:"max_upload_mb" json:"max_upload_mb"`
	TimeoutSec      int             `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	ShutdownTimeout int             `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit" json:"rate_limit"`
}

// RateLimitConfig contains per-client limits for the scan endpoints.
type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second" json:"requests_per_second"`
	Burst             int     `mapstructure:"burst" yaml:"burst" json:"burst"`
	MaxRequestsPerDay int     `mapstructure:"max_requests_per_day" yaml:"max_requests_per_day" json:"max_requests_per_day"`
	MaxDataPerDayMB   int     `mapstructure:"max_data_per_day_mb" yaml:"max_data_per_day_mb" json:"max_data_per_day_mb"`
}

// BatchConfig contains manifest processing settings.
type BatchConfig struct {
	Workers         int  `mapstructure:"workers" yaml:"workers" json:"workers"`
	ContinueOnError bool `mapstructure:"continue_on_error" yaml:"continue_on_error" json:"continue_on_error"`
}

// OutputConfig contains CLI output settings.
type OutputConfig struct {
	Format string `mapstructure:"format" yaml:"format" json:"format"`
	File   string `mapstructure:"file" yaml:"file" json:"file"`
}
