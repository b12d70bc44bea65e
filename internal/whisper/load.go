package whisper

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fmueller/voxserve/internal/audio"
	"github.com/fmueller/voxserve/internal/download"
	"github.com/fmueller/voxserve/internal/platform"
	"github.com/fmueller/voxserve/internal/workspace"
	"go.uber.org/zap"
)

type LoadOptions struct {
	// WhisperPath overrides executable discovery.
	WhisperPath    string
	Model          string
	ModelDir       string
	Language       string
	Threads        int
	// Scratch receives whisper output and warm-up files. Nil means a
	// workspace under the default temp root.
	Scratch        Scratch
	AutoDownload   bool
	VerifyChecksum bool
	Warmup         bool
	NoProgress     bool
	Logger         *zap.Logger

	// fetch replaces the model download in tests.
	fetch func(ctx context.Context, opts download.Options) error
}

// Load prepares the engine once at startup: it resolves whisper-cli and the
// model file, downloads or verifies the model, and optionally proves the
// pair works by transcribing a second of silence. Any failure here is meant
// to abort the process before it accepts traffic.
func Load(ctx context.Context, opts LoadOptions) (*Engine, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	self, _ := os.Executable()
	executable, err := ResolveExecutable(opts.WhisperPath, self)
	if err != nil {
		return nil, err
	}

	model, err := EnsureModel(ctx, opts)
	if err != nil {
		return nil, err
	}

	scratch := opts.Scratch
	if scratch == nil {
		ws, err := workspace.New(platform.DefaultTempRoot(), logger)
		if err != nil {
			return nil, err
		}
		scratch = ws
	}

	engine := &Engine{
		Executable: executable,
		Model:      model,
		Language:   NormalizeLanguage(opts.Language),
		Threads:    opts.Threads,
		Scratch:    scratch,
		Logger:     logger,
	}

	if opts.Warmup {
		started := time.Now()
		if err := warmup(ctx, engine); err != nil {
			return nil, fmt.Errorf("warm up whisper engine: %w", err)
		}
		logger.Info("whisper engine warmed up", zap.Duration("elapsed", time.Since(started)))
	}

	logger.Info("whisper engine loaded",
		zap.String("engine", executable),
		zap.String("model", model.Label()),
		zap.String("model_path", model.Path),
		zap.String("language", engine.Language),
	)
	return engine, nil
}

// EnsureModel resolves the configured model and makes sure a verified copy is
// on disk.
func EnsureModel(ctx context.Context, opts LoadOptions) (ResolvedModel, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	fetch := opts.fetch
	if fetch == nil {
		fetch = download.Fetch
	}

	resolved, err := ResolveModel(opts.Model, opts.ModelDir)
	if err != nil {
		return ResolvedModel{}, err
	}
	if resolved.IsCustomPath {
		return resolved, nil
	}

	if !resolved.NeedsDownload && opts.VerifyChecksum {
		if err := download.VerifyFileChecksum(resolved.Path, resolved.SHA256); err != nil {
			if !errors.Is(err, download.ErrChecksumMismatch) || !opts.AutoDownload {
				return ResolvedModel{}, fmt.Errorf("verify model %q: %w", resolved.Name, err)
			}
			logger.Warn("model checksum verification failed; downloading fresh copy", zap.String("model", resolved.Name), zap.Error(err))
			resolved.NeedsDownload = true
		}
	}

	if !resolved.NeedsDownload {
		return resolved, nil
	}

	if !opts.AutoDownload {
		return ResolvedModel{}, fmt.Errorf("model %q is missing at %s; run `voxserve setup --model %s` or enable auto-download", resolved.Name, resolved.Path, resolved.Name)
	}

	logger.Info("model not found, downloading", zap.String("model", resolved.Name), zap.String("destination", resolved.Path))
	if err := fetch(ctx, download.Options{
		URL:            resolved.URL,
		Destination:    resolved.Path,
		ExpectedSHA256: resolved.SHA256,
		NoProgress:     opts.NoProgress,
		Logger:         logger,
	}); err != nil {
		return ResolvedModel{}, fmt.Errorf("download model %q: %w", resolved.Name, err)
	}

	resolved.NeedsDownload = false
	return resolved, nil
}

func warmup(ctx context.Context, engine *Engine) error {
	path, err := engine.Scratch.Allocate(".wav")
	if err != nil {
		return fmt.Errorf("allocate warm-up audio path: %w", err)
	}
	if err := os.WriteFile(path, audio.EncodePCM16WAV(make([]int16, 16000), 16000, 1), 0o644); err != nil {
		return fmt.Errorf("write warm-up audio: %w", err)
	}
	defer os.Remove(path)

	_, err = engine.Transcribe(ctx, path)
	return err
}
