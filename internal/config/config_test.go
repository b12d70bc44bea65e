package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func newBound(t *testing.T, args ...string) *viper.Viper {
	t.Helper()

	v := viper.New()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	require.NoError(t, BindFlags(fs, v))
	require.NoError(t, fs.Parse(args))
	return v
}

func TestDefaultsAreValid(t *testing.T) {
	cfg := Defaults()

	require.NoError(t, cfg.Validate())
	require.Equal(t, 8888, cfg.Port)
	require.Equal(t, int64(10*1024*1024), cfg.MaxUploadBytes)
	require.Equal(t, 300*time.Second, cfg.TranscribeTimeout)
	require.Equal(t, "0.0.0.0:8888", cfg.Addr())
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Port = 70000
	cfg.TempDir = "  "
	cfg.MaxUploadBytes = 0
	cfg.TranscribeTimeout = 0

	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "port must be between")
	require.Contains(t, err.Error(), "temp dir must not be empty")
	require.Contains(t, err.Error(), "max upload bytes")
	require.Contains(t, err.Error(), "transcribe timeout")
}

func TestFromViperDefaults(t *testing.T) {
	modelDir := t.TempDir()
	v := newBound(t, "--model-dir", modelDir)

	cfg, err := FromViper(v)
	require.NoError(t, err)
	require.Equal(t, 8888, cfg.Port)
	require.Equal(t, "auto", cfg.Language)
	require.Equal(t, modelDir, cfg.ModelDir)
	require.True(t, cfg.SilenceGate)
	require.Empty(t, cfg.CORSOrigins)
}

func TestPortFromPlatformEnv(t *testing.T) {
	t.Setenv("PORT", "9191")
	v := newBound(t, "--model-dir", t.TempDir())

	cfg, err := FromViper(v)
	require.NoError(t, err)
	require.Equal(t, 9191, cfg.Port)
}

func TestPrefixedEnvWinsOverPlatformPort(t *testing.T) {
	t.Setenv("PORT", "9191")
	t.Setenv("VOXSERVE_PORT", "9292")
	v := newBound(t, "--model-dir", t.TempDir())

	cfg, err := FromViper(v)
	require.NoError(t, err)
	require.Equal(t, 9292, cfg.Port)
}

func TestFlagWinsOverEnv(t *testing.T) {
	t.Setenv("VOXSERVE_PORT", "9292")
	t.Setenv("VOXSERVE_TRANSCRIBE_TIMEOUT", "5s")
	v := newBound(t, "--model-dir", t.TempDir(), "--port", "7000")

	cfg, err := FromViper(v)
	require.NoError(t, err)
	require.Equal(t, 7000, cfg.Port)
	require.Equal(t, 5*time.Second, cfg.TranscribeTimeout)
}

func TestCORSOriginsFromEnvAreSplit(t *testing.T) {
	t.Setenv("VOXSERVE_CORS_ORIGINS", "https://a.example, https://b.example")
	v := newBound(t, "--model-dir", t.TempDir())

	cfg, err := FromViper(v)
	require.NoError(t, err)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
}

func TestFromViperRejectsInvalid(t *testing.T) {
	v := newBound(t, "--model-dir", t.TempDir(), "--max-upload-bytes", "-1")

	_, err := FromViper(v)
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid configuration")
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("VOXSERVE_TEST_ENV_FILE=loaded\n"), 0o600))
	t.Setenv("VOXSERVE_TEST_ENV_FILE", "")
	require.NoError(t, os.Unsetenv("VOXSERVE_TEST_ENV_FILE"))

	require.NoError(t, LoadEnvFile(path, true))
	require.Equal(t, "loaded", os.Getenv("VOXSERVE_TEST_ENV_FILE"))
}

func TestLoadEnvFileKeepsExistingValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("VOXSERVE_TEST_ENV_KEEP=file\n"), 0o600))
	t.Setenv("VOXSERVE_TEST_ENV_KEEP", "process")

	require.NoError(t, LoadEnvFile(path, true))
	require.Equal(t, "process", os.Getenv("VOXSERVE_TEST_ENV_KEEP"))
}

func TestLoadEnvFileMissing(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.env")

	require.NoError(t, LoadEnvFile(missing, false))
	require.Error(t, LoadEnvFile(missing, true))
}
