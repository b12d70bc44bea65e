// Package config holds the server settings and how they are read from flags,
// environment variables and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fmueller/voxserve/internal/bounded"
	"github.com/fmueller/voxserve/internal/platform"
	"github.com/fmueller/voxserve/internal/server"
	"github.com/fmueller/voxserve/internal/transcode"
	"github.com/fmueller/voxserve/internal/whisper"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const EnvPrefix = "VOXSERVE"

const (
	KeyPort                 = "port"
	KeyHost                 = "host"
	KeyTempDir              = "temp-dir"
	KeyModel                = "model"
	KeyModelDir             = "model-dir"
	KeyLanguage             = "language"
	KeyThreads              = "threads"
	KeyWhisperPath          = "whisper-path"
	KeyAutoDownload         = "auto-download"
	KeyWarmup               = "warmup"
	KeyVerifyChecksum       = "verify-checksum"
	KeyMaxUploadBytes       = "max-upload-bytes"
	KeyTranscribeTimeout    = "transcribe-timeout"
	KeyTranscodeTimeout     = "transcode-timeout"
	KeyFFmpegPath           = "ffmpeg-path"
	KeySilenceGate          = "silence-gate"
	KeySilenceThresholdDBFS = "silence-threshold-dbfs"
	KeyCORSOrigins          = "cors-origins"
	KeyShutdownTimeout      = "shutdown-timeout"
	KeyVerbose              = "verbose"
	KeyJSON                 = "json"
	KeyNoProgress           = "no-progress"
)

type Config struct {
	Port     int
	Host     string
	TempDir  string
	Model    string
	ModelDir string
	Language string
	Threads  int

	WhisperPath    string
	AutoDownload   bool
	Warmup         bool
	VerifyChecksum bool

	MaxUploadBytes    int64
	TranscribeTimeout time.Duration
	TranscodeTimeout  time.Duration
	FFmpegPath        string

	SilenceGate          bool
	SilenceThresholdDBFS float64

	CORSOrigins     []string
	ShutdownTimeout time.Duration

	Verbose    bool
	JSON       bool
	NoProgress bool
}

func Defaults() Config {
	return Config{
		Port:                 8888,
		Host:                 "0.0.0.0",
		TempDir:              platform.DefaultTempRoot(),
		Model:                whisper.DefaultModel,
		Language:             "auto",
		AutoDownload:         true,
		Warmup:               true,
		VerifyChecksum:       true,
		MaxUploadBytes:       server.DefaultMaxUploadBytes,
		TranscribeTimeout:    bounded.DefaultTimeout,
		TranscodeTimeout:     transcode.DefaultTimeout,
		FFmpegPath:           transcode.DefaultBinary,
		SilenceGate:          true,
		SilenceThresholdDBFS: server.DefaultSilenceThresholdDBFS,
		ShutdownTimeout:      15 * time.Second,
		JSON:                 true,
	}
}

func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port must be between 1 and 65535, got %d", c.Port))
	}
	if strings.TrimSpace(c.TempDir) == "" {
		errs = append(errs, errors.New("temp dir must not be empty"))
	}
	if c.MaxUploadBytes <= 0 {
		errs = append(errs, fmt.Errorf("max upload bytes must be positive, got %d", c.MaxUploadBytes))
	}
	if c.TranscribeTimeout <= 0 {
		errs = append(errs, fmt.Errorf("transcribe timeout must be positive, got %s", c.TranscribeTimeout))
	}
	if c.TranscodeTimeout <= 0 {
		errs = append(errs, fmt.Errorf("transcode timeout must be positive, got %s", c.TranscodeTimeout))
	}
	if c.Threads < 0 {
		errs = append(errs, fmt.Errorf("threads must not be negative, got %d", c.Threads))
	}
	if c.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("shutdown timeout must not be negative, got %s", c.ShutdownTimeout))
	}
	return errors.Join(errs...)
}

// BindFlags registers every setting on fs with its default and binds it to v.
func BindFlags(fs *pflag.FlagSet, v *viper.Viper) error {
	d := Defaults()

	fs.Int(KeyPort, d.Port, "HTTP listen port (env PORT or VOXSERVE_PORT)")
	fs.String(KeyHost, d.Host, "HTTP listen host")
	fs.String(KeyTempDir, d.TempDir, "Directory for per-request scratch files")
	fs.String(KeyModel, d.Model, "Model name ("+strings.Join(whisper.ModelNames(), "|")+") or model file path")
	fs.String(KeyModelDir, d.ModelDir, "Directory where models are stored")
	fs.String(KeyLanguage, d.Language, "Language hint (auto|en|uk|...)")
	fs.Int(KeyThreads, d.Threads, "whisper threads; 0 uses the engine default")
	fs.String(KeyWhisperPath, d.WhisperPath, "Path to whisper-cli; empty searches PATH and libexec")
	fs.Bool(KeyAutoDownload, d.AutoDownload, "Download a missing named model at startup")
	fs.Bool(KeyWarmup, d.Warmup, "Run a warm-up transcription before serving")
	fs.Bool(KeyVerifyChecksum, d.VerifyChecksum, "Verify the model checksum at startup")
	fs.Int64(KeyMaxUploadBytes, d.MaxUploadBytes, "Maximum accepted upload size in bytes")
	fs.Duration(KeyTranscribeTimeout, d.TranscribeTimeout, "Maximum time to wait for one transcription")
	fs.Duration(KeyTranscodeTimeout, d.TranscodeTimeout, "Maximum time for one ffmpeg conversion")
	fs.String(KeyFFmpegPath, d.FFmpegPath, "ffmpeg binary")
	fs.Bool(KeySilenceGate, d.SilenceGate, "Skip transcription for near-silent audio")
	fs.Float64(KeySilenceThresholdDBFS, d.SilenceThresholdDBFS, "Silence gate threshold in dBFS")
	fs.StringSlice(KeyCORSOrigins, d.CORSOrigins, "Allowed CORS origins; empty disables CORS")
	fs.Duration(KeyShutdownTimeout, d.ShutdownTimeout, "Grace period for in-flight requests on shutdown")
	fs.Bool(KeyVerbose, d.Verbose, "Enable debug logs")
	fs.Bool(KeyJSON, d.JSON, "Emit JSON logs")
	fs.Bool(KeyNoProgress, d.NoProgress, "Disable download progress bars")

	if err := v.BindPFlags(fs); err != nil {
		return fmt.Errorf("bind flags: %w", err)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	// PORT is the conventional platform variable; VOXSERVE_PORT also works.
	if err := v.BindEnv(KeyPort, EnvPrefix+"_PORT", "PORT"); err != nil {
		return fmt.Errorf("bind port env: %w", err)
	}
	return nil
}

// LoadEnvFile loads path into the process environment without overriding
// variables that are already set. A missing default file is not an error.
func LoadEnvFile(path string, explicit bool) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return nil
		}
		return fmt.Errorf("env file %s: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// FromViper reads a Config out of v after BindFlags.
func FromViper(v *viper.Viper) (Config, error) {
	cfg := Config{
		Port:                 v.GetInt(KeyPort),
		Host:                 strings.TrimSpace(v.GetString(KeyHost)),
		TempDir:              strings.TrimSpace(v.GetString(KeyTempDir)),
		Model:                strings.TrimSpace(v.GetString(KeyModel)),
		ModelDir:             strings.TrimSpace(v.GetString(KeyModelDir)),
		Language:             whisper.NormalizeLanguage(v.GetString(KeyLanguage)),
		Threads:              v.GetInt(KeyThreads),
		WhisperPath:          strings.TrimSpace(v.GetString(KeyWhisperPath)),
		AutoDownload:         v.GetBool(KeyAutoDownload),
		Warmup:               v.GetBool(KeyWarmup),
		VerifyChecksum:       v.GetBool(KeyVerifyChecksum),
		MaxUploadBytes:       v.GetInt64(KeyMaxUploadBytes),
		TranscribeTimeout:    v.GetDuration(KeyTranscribeTimeout),
		TranscodeTimeout:     v.GetDuration(KeyTranscodeTimeout),
		FFmpegPath:           strings.TrimSpace(v.GetString(KeyFFmpegPath)),
		SilenceGate:          v.GetBool(KeySilenceGate),
		SilenceThresholdDBFS: v.GetFloat64(KeySilenceThresholdDBFS),
		CORSOrigins:          splitList(v.GetStringSlice(KeyCORSOrigins)),
		ShutdownTimeout:      v.GetDuration(KeyShutdownTimeout),
		Verbose:              v.GetBool(KeyVerbose),
		JSON:                 v.GetBool(KeyJSON),
		NoProgress:           v.GetBool(KeyNoProgress),
	}

	modelDir, err := platform.ResolveModelDir(cfg.ModelDir)
	if err != nil {
		return Config{}, err
	}
	cfg.ModelDir = modelDir

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// splitList flattens values that arrive comma-joined from the environment.
func splitList(values []string) []string {
	var out []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
