package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// isolatedLoader runs in an empty working directory with a fresh viper and
// no inherited configuration variables.
func isolatedLoader(t *testing.T) *Loader {
	t.Helper()
	for _, env := range os.Environ() {
		name, _, _ := strings.Cut(env, "=")
		if strings.HasPrefix(name, EnvPrefix+"_") {
			t.Setenv(name, "")
			require.NoError(t, os.Unsetenv(name))
		}
	}
	for _, names := range legacyEnv {
		for _, n := range names {
			t.Setenv(n, "")
			require.NoError(t, os.Unsetenv(n))
		}
	}
	t.Chdir(t.TempDir())
	return NewLoaderWithViper(viper.New())
}

func TestNewLoader(t *testing.T) {
	loader := NewLoader()
	require.NotNil(t, loader)
	assert.Same(t, viper.GetViper(), loader.GetViper())
}

func TestLoader_LoadDefaults(t *testing.T) {
	loader := isolatedLoader(t)

	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), *cfg)
	assert.Empty(t, loader.GetConfigFileUsed())
}

func TestLoader_ConfigFileInSearchPath(t *testing.T) {
	loader := isolatedLoader(t)
	require.NoError(t, os.MkdirAll("config", 0o755))
	require.NoError(t, os.WriteFile(filepath.Join("config", "config.yaml"), []byte(`
log_level: debug
detector:
  conf: 0.35
server:
  port: 9000
`), 0o600))

	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.InDelta(t, 0.35, cfg.Detector.Conf, 1e-9)
	assert.Equal(t, 9000, cfg.Server.Port)
	// Untouched keys keep their defaults.
	assert.Equal(t, DefaultConfig().Detector.IoU, cfg.Detector.IoU)
}

func TestLoader_EnvironmentOverrides(t *testing.T) {
	loader := isolatedLoader(t)
	t.Setenv("SHELFSCAN_SERVER_PORT", "7070")
	t.Setenv("SHELFSCAN_DETECTOR_IOU", "0.3")
	t.Setenv("SHELFSCAN_RECOGNIZER_LANGUAGE_HINTS", "fr,de")

	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.InDelta(t, 0.3, cfg.Detector.IoU, 1e-9)
	assert.Equal(t, []string{"fr", "de"}, cfg.Recognizer.LanguageHints)
}

func TestLoader_LegacyVariables(t *testing.T) {
	loader := isolatedLoader(t)
	t.Setenv("GROQ_API_KEY", "gsk_legacy")
	t.Setenv("GOOGLE_API_KEY", "AIza_legacy")
	t.Setenv("ENABLE_DB", "true")
	t.Setenv("DATABASE_URL", "postgres://localhost/biblio")

	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, "gsk_legacy", cfg.LLM.APIKey)
	assert.Equal(t, "AIza_legacy", cfg.Books.APIKey)
	assert.True(t, cfg.Store.Enabled)
	assert.Equal(t, "postgres://localhost/biblio", cfg.Store.DSN)
}

func TestLoader_PrefixedBeatsLegacy(t *testing.T) {
	loader := isolatedLoader(t)
	t.Setenv("GROQ_API_KEY", "old")
	t.Setenv("SHELFSCAN_LLM_API_KEY", "new")

	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, "new", cfg.LLM.APIKey)
}

func TestLoader_DotEnvFile(t *testing.T) {
	loader := isolatedLoader(t)
	require.NoError(t, os.WriteFile(".env", []byte("GROQ_API_KEY=from_dotenv\nSHELFSCAN_LOG_LEVEL=warn\n"), 0o600))
	t.Cleanup(func() {
		_ = os.Unsetenv("GROQ_API_KEY")
		_ = os.Unsetenv("SHELFSCAN_LOG_LEVEL")
	})

	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, "from_dotenv", cfg.LLM.APIKey)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestLoader_LoadWithFile(t *testing.T) {
	t.Run("explicit file", func(t *testing.T) {
		loader := isolatedLoader(t)
		path := filepath.Join(t.TempDir(), "custom.yaml")
		require.NoError(t, os.WriteFile(path, []byte("batch:\n  workers: 4\n"), 0o600))

		cfg, err := loader.LoadWithFile(path)
		require.NoError(t, err)
		assert.Equal(t, 4, cfg.Batch.Workers)
		assert.Equal(t, path, loader.GetConfigFileUsed())
	})

	t.Run("missing file", func(t *testing.T) {
		loader := isolatedLoader(t)
		_, err := loader.LoadWithFile(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.ErrorContains(t, err, "does not exist")
	})

	t.Run("invalid values fail validation", func(t *testing.T) {
		loader := isolatedLoader(t)
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("detector:\n  conf: 2\n"), 0o600))

		_, err := loader.LoadWithFile(path)
		var ve *ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, "detector.conf", ve.Field)

		cfg, err := isolatedLoader(t).LoadWithFileWithoutValidation(path)
		require.NoError(t, err)
		assert.InDelta(t, 2.0, cfg.Detector.Conf, 1e-9)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		loader := isolatedLoader(t)
		path := filepath.Join(t.TempDir(), "broken.yaml")
		require.NoError(t, os.WriteFile(path, []byte("server: [unclosed"), 0o600))
		_, err := loader.LoadWithFile(path)
		assert.ErrorContains(t, err, "error reading config file")
	})
}

func TestGenerateDefaultConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.yaml")

	require.NoError(t, GenerateDefaultConfigFile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "# shelfscan configuration")

	var round Config
	require.NoError(t, yaml.Unmarshal(data, &round))
	assert.Equal(t, DefaultConfig(), round)

	// The generated file loads back to the defaults.
	cfg, err := isolatedLoader(t).LoadWithFile(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), *cfg)

	assert.Error(t, GenerateDefaultConfigFile(path), "existing file must not be overwritten")
}
