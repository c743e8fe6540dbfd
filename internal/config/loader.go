package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	// ConfigFileName is the base name for configuration files (without extension).
	ConfigFileName = "config"

	// EnvPrefix is the prefix for environment variables.
	EnvPrefix = "SHELFSCAN"
)

// legacyEnv maps configuration keys to the variable names the first
// deployment used. The prefixed name still wins when both are set.
var legacyEnv = map[string][]string{
	"llm.api_key":   {"GROQ_API_KEY"},
	"books.api_key": {"GOOGLE_API_KEY", "GOOGLE_BOOKS_API_KEY"},
	"store.enabled": {"ENABLE_DB"},
	"store.dsn":     {"DATABASE_URL"},
	"cache.addr":    {"REDIS_ADDR"},
}

// Loader handles loading configuration from files, the environment and flags.
type Loader struct {
	v        *viper.Viper
	envFiles []string
}

// NewLoader creates a loader on the global viper instance.
func NewLoader() *Loader {
	return NewLoaderWithViper(viper.GetViper())
}

// NewLoaderWithViper creates a loader on v, which should already carry any
// cobra flag bindings.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{v: v, envFiles: []string{".env"}}
}

// Load reads the first config file found on the search path, applies
// environment overrides and validates the result.
func (l *Loader) Load() (*Config, error) {
	cfg, err := l.LoadWithoutValidation()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// LoadWithoutValidation is Load without the final Validate call.
func (l *Loader) LoadWithoutValidation() (*Config, error) {
	l.v.SetConfigName(ConfigFileName)
	l.v.SetConfigType("yaml")
	for _, p := range GetConfigSearchPaths() {
		l.v.AddConfigPath(p)
	}
	return l.read(func() error {
		err := l.v.ReadInConfig()
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return err
	})
}

// LoadWithFile loads configuration from a specific file. An empty path
// falls back to Load.
func (l *Loader) LoadWithFile(configFile string) (*Config, error) {
	if configFile == "" {
		return l.Load()
	}
	cfg, err := l.LoadWithFileWithoutValidation(configFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// LoadWithFileWithoutValidation is LoadWithFile without the final Validate call.
func (l *Loader) LoadWithFileWithoutValidation(configFile string) (*Config, error) {
	if configFile == "" {
		return l.LoadWithoutValidation()
	}
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", configFile)
	}
	l.v.SetConfigFile(configFile)
	return l.read(func() error {
		if err := l.v.ReadInConfig(); err != nil {
			return fmt.Errorf("%s: %w", configFile, err)
		}
		return nil
	})
}

func (l *Loader) read(readFile func() error) (*Config, error) {
	if err := l.loadEnvFiles(); err != nil {
		return nil, err
	}
	if err := l.setupEnvironmentVariables(); err != nil {
		return nil, err
	}
	l.setDefaults()

	if err := readFile(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return &cfg, nil
}

// loadEnvFiles exports variables from .env files. Variables already in the
// environment are left alone.
func (l *Loader) loadEnvFiles() error {
	for _, f := range l.envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

func (l *Loader) setupEnvironmentVariables() error {
	l.v.SetEnvPrefix(EnvPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	l.v.AutomaticEnv()

	for key, names := range legacyEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := l.v.BindEnv(append([]string{key, prefixed}, names...)...); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}

// setDefaults registers every key so AutomaticEnv can override it.
func (l *Loader) setDefaults() {
	d := DefaultConfig()
	set := l.v.SetDefault

	set("log_level", d.LogLevel)
	set("verbose", d.Verbose)
	set("log.file", d.Log.File)
	set("log.max_size_mb", d.Log.MaxSizeMB)
	set("log.max_backups", d.Log.MaxBackups)
	set("log.max_age_days", d.Log.MaxAgeDays)

	set("detector.backend", d.Detector.Backend)
	set("detector.model_path", d.Detector.ModelPath)
	set("detector.image_size", d.Detector.ImageSize)
	set("detector.class_names", d.Detector.ClassNames)
	set("detector.url", d.Detector.URL)
	set("detector.timeout_sec", d.Detector.TimeoutSec)
	set("detector.conf", d.Detector.Conf)
	set("detector.iou", d.Detector.IoU)
	set("detector.min_crop_side", d.Detector.MinCropSide)
	set("detector.library_path", d.Detector.LibraryPath)
	set("detector.num_threads", d.Detector.NumThreads)
	set("detector.use_gpu", d.Detector.UseGPU)
	set("detector.gpu_device", d.Detector.GPUDevice)

	set("recognizer.backend", d.Recognizer.Backend)
	set("recognizer.url", d.Recognizer.URL)
	set("recognizer.timeout_sec", d.Recognizer.TimeoutSec)
	set("recognizer.credentials_file", d.Recognizer.CredentialsFile)
	set("recognizer.credentials_json", d.Recognizer.CredentialsJSON)
	set("recognizer.language_hints", d.Recognizer.LanguageHints)
	set("recognizer.equalize", d.Recognizer.Equalize)

	set("llm.provider", d.LLM.Provider)
	set("llm.api_key", d.LLM.APIKey)
	set("llm.base_url", d.LLM.BaseURL)
	set("llm.model", d.LLM.Model)
	set("llm.timeout_sec", d.LLM.TimeoutSec)
	set("llm.rate_per_sec", d.LLM.RatePerSec)
	set("llm.burst", d.LLM.Burst)

	set("books.api_key", d.Books.APIKey)
	set("books.lang", d.Books.Lang)
	set("books.endpoint", d.Books.Endpoint)
	set("books.timeout_sec", d.Books.TimeoutSec)
	set("books.cache_ttl_sec", d.Books.CacheTTLSec)

	set("cache.addr", d.Cache.Addr)
	set("cache.password", d.Cache.Password)
	set("cache.db", d.Cache.DB)

	set("store.enabled", d.Store.Enabled)
	set("store.dsn", d.Store.DSN)
	set("store.migrate", d.Store.Migrate)

	set("artifacts.enabled", d.Artifacts.Enabled)
	set("artifacts.backend", d.Artifacts.Backend)
	set("artifacts.dir", d.Artifacts.Dir)
	set("artifacts.bucket", d.Artifacts.Bucket)
	set("artifacts.prefix", d.Artifacts.Prefix)
	set("artifacts.region", d.Artifacts.Region)
	set("artifacts.endpoint", d.Artifacts.Endpoint)

	set("server.host", d.Server.Host)
	set("server.port", d.Server.Port)
	set("server.cors_origin", d.Server.CORSOrigin)
	set("server.max_upload_mb", d.Server.MaxUploadMB)
	set("server.timeout_sec", d.Server.TimeoutSec)
	set("server.shutdown_timeout", d.Server.ShutdownTimeout)
	set("server.rate_limit.enabled", d.Server.RateLimit.Enabled)
	set("server.rate_limit.requests_per_second", d.Server.RateLimit.RequestsPerSecond)
	set("server.rate_limit.burst", d.Server.RateLimit.Burst)
	set("server.rate_limit.max_requests_per_day", d.Server.RateLimit.MaxRequestsPerDay)
	set("server.rate_limit.max_data_per_day_mb", d.Server.RateLimit.MaxDataPerDayMB)

	set("batch.workers", d.Batch.Workers)
	set("batch.continue_on_error", d.Batch.ContinueOnError)

	set("output.format", d.Output.Format)
	set("output.file", d.Output.File)
}

// Get returns a raw value from the configuration.
func (l *Loader) Get(key string) interface{} {
	return l.v.Get(key)
}

// GetConfigFileUsed returns the path of the config file used.
func (l *Loader) GetConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// GetViper returns the underlying viper instance.
func (l *Loader) GetViper() *viper.Viper {
	return l.v
}

// GetConfigSearchPaths returns the directories searched for config.yaml.
func GetConfigSearchPaths() []string {
	paths := []string{".", "config"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".shelfscan"))
	}
	return paths
}

// GenerateDefaultConfigFile writes the default configuration as YAML.
func GenerateDefaultConfigFile(filename string) error {
	if filename == "" {
		filename = ConfigFileName + ".yaml"
	}
	return WriteConfigFile(filename, DefaultConfig())
}

// WriteConfigFile writes cfg as YAML, refusing to overwrite an existing file.
func WriteConfigFile(filename string, cfg Config) error {
	data, err := MarshalYAML(cfg)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	f, err := os.OpenFile(filename, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("create config file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("write config file: %w", err)
	}
	return f.Close()
}

// MarshalYAML renders cfg with a short header.
func MarshalYAML(cfg Config) ([]byte, error) {
	body, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	header := "# shelfscan configuration\n" +
		"# Every key can be overridden with " + EnvPrefix + "_<SECTION>_<KEY>, e.g. " + EnvPrefix + "_SERVER_PORT.\n"
	return append([]byte(header), body...), nil
}
