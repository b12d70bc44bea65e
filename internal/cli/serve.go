package cli

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fmueller/voxserve/internal/bounded"
	"github.com/fmueller/voxserve/internal/server"
	"github.com/fmueller/voxserve/internal/transcode"
	"github.com/fmueller/voxserve/internal/workspace"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd(app *appState) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Load the speech model and serve the HTTP API (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.runServe(cmd.Context())
		},
	}
}

func (a *appState) runServe(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := a.cfg
	logger := a.log()

	ffmpeg := transcode.NewFFmpeg(cfg.FFmpegPath, cfg.TranscodeTimeout, logger.Named("ffmpeg"))
	if !a.ffmpegAvailableFn(ffmpeg) {
		return fmt.Errorf("ffmpeg not found (%s); install ffmpeg or set --ffmpeg-path", ffmpeg.Binary)
	}

	ws, err := workspace.New(cfg.TempDir, logger.Named("workspace"))
	if err != nil {
		return err
	}

	opts := a.loadOptions()
	opts.Scratch = ws

	stopSpinner := startSpinner(a.progressEnabled(), a.errOut, "Loading speech model")
	started := time.Now()
	engine, err := a.loadEngineFn(ctx, opts)
	stopSpinner()
	if err != nil {
		return fmt.Errorf("load whisper engine: %w", err)
	}
	logger.Info("speech model ready", zap.Duration("elapsed", time.Since(started)))

	executor := &bounded.Executor{
		OnLate: func(text string, err error, elapsed time.Duration) {
			logger.Warn("detached transcription finished after timeout",
				zap.Duration("elapsed", elapsed),
				zap.Int("chars", len(text)),
				zap.Error(err),
			)
		},
	}

	handler := &server.TranscribeHandler{
		Workspace:            ws,
		Transcoder:           ffmpeg,
		Engine:               engine,
		Executor:             executor,
		Logger:               logger.Named("transcribe"),
		MaxUploadBytes:       cfg.MaxUploadBytes,
		Timeout:              cfg.TranscribeTimeout,
		SilenceGate:          cfg.SilenceGate,
		SilenceThresholdDBFS: cfg.SilenceThresholdDBFS,
	}

	router := server.NewRouter(server.RouterOptions{
		Transcribe:  handler,
		Executor:    executor,
		Model:       engine.Model.Label(),
		Language:    engine.Language,
		CORSOrigins: cfg.CORSOrigins,
		Logger:      logger.Named("http"),
	})

	ln, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Addr(), err)
	}
	if a.readyFn != nil {
		a.readyFn(ln.Addr().String())
	}

	logger.Info("voxserve started",
		zap.String("addr", ln.Addr().String()),
		zap.String("temp_dir", ws.Root()),
		zap.Int64("max_upload_bytes", cfg.MaxUploadBytes),
		zap.Duration("transcribe_timeout", cfg.TranscribeTimeout),
	)

	srv := server.New(cfg.Addr(), router, cfg.ShutdownTimeout, logger.Named("http"))
	if err := srv.Serve(ctx, ln); err != nil {
		return err
	}

	if n := executor.Detached(); n > 0 {
		logger.Warn("exiting with detached transcriptions still running", zap.Int64("detached", n))
	}
	logger.Info("voxserve stopped")
	return nil
}
