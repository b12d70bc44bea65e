package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/fmueller/voxserve/internal/audio"
	"github.com/fmueller/voxserve/internal/bounded"
	"github.com/fmueller/voxserve/internal/transcode"
	"github.com/fmueller/voxserve/internal/whisper"
	"github.com/fmueller/voxserve/internal/workspace"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

const DefaultMaxUploadBytes = 10 << 20

const DefaultSilenceThresholdDBFS = -65.0

// TranscribeHandler serves POST /transcribe. Scratch files of a request are
// removed before its response is written, on every path.
type TranscribeHandler struct {
	Workspace  *workspace.Manager
	Transcoder transcode.Transcoder
	Engine     whisper.Transcriber
	Executor   *bounded.Executor
	Logger     *zap.Logger

	MaxUploadBytes       int64
	Timeout              time.Duration
	SilenceGate          bool
	SilenceThresholdDBFS float64
}

type transcriptBody struct {
	Text string `json:"text"`
}

func (h *TranscribeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := h.logger().With(zap.String("request_id", middleware.GetReqID(r.Context())))

	text, err := h.transcribe(w, r, logger)
	if err != nil {
		respondError(w, logger, err)
		return
	}
	respondJSON(w, http.StatusOK, transcriptBody{Text: text})
}

func (h *TranscribeHandler) transcribe(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (string, error) {
	maxBytes := h.maxUploadBytes()

	up, err := openUpload(w, r, maxBytes)
	if err != nil {
		return "", err
	}

	// Client disconnects do not abort the pipeline; cleanup has to finish.
	ctx := context.WithoutCancel(r.Context())

	item, err := h.Workspace.NewWorkItem(up.ext)
	if err != nil {
		return "", ioFailed("failed to allocate temp files", err)
	}
	defer func() {
		_ = h.Workspace.Cleanup(item.Paths()...)
	}()

	logger = logger.With(zap.String("work_item", item.ID))

	size, err := up.save(item.InputPath, maxBytes)
	if err != nil {
		return "", err
	}
	logger.Debug("audio saved",
		zap.String("upload", up.kind),
		zap.String("filename", up.filename),
		zap.String("ext", up.ext),
		zap.Int64("bytes", size),
	)

	started := time.Now()
	if err := h.Transcoder.Convert(ctx, item.InputPath, item.OutputPath); err != nil {
		return "", conversionFailed(err)
	}
	if err := verifyConverted(item.OutputPath); err != nil {
		return "", err
	}
	logger.Debug("audio converted", zap.Duration("elapsed", time.Since(started)))

	if h.SilenceGate {
		silent, metrics, err := audio.IsSilentWAV(item.OutputPath, h.SilenceThresholdDBFS)
		switch {
		case err != nil:
			logger.Warn("silence analysis failed, continuing", zap.Error(err))
		case silent:
			logger.Info("audio is silent, skipping transcription",
				zap.Float64("rms_dbfs", metrics.RMSdBFS),
				zap.Float64("peak_dbfs", metrics.PeakdBFS),
			)
			return "", nil
		}
	}

	outcome := h.Executor.Run(ctx, func(ctx context.Context) (string, error) {
		return h.Engine.Transcribe(ctx, item.OutputPath)
	}, h.Timeout)

	switch outcome.Kind {
	case bounded.Success:
		logger.Info("transcription finished",
			zap.Duration("elapsed", outcome.Elapsed),
			zap.Int("chars", len(outcome.Text)),
		)
		return outcome.Text, nil
	case bounded.Timeout:
		logger.Warn("transcription detached", zap.Int64("detached", h.Executor.Detached()))
		return "", timedOut(outcome.Err)
	default:
		return "", engineFailed(outcome.Err)
	}
}

// verifyConverted checks that a reported success really left 16 kHz mono
// PCM behind.
func verifyConverted(path string) error {
	st, err := os.Stat(path)
	if err != nil {
		return ioFailed("converted audio file is missing", err)
	}
	if st.Size() == 0 {
		return ioFailed("converted audio file is empty", errors.New("zero bytes"))
	}

	info, err := audio.Inspect(path)
	if err != nil {
		return conversionFailed(fmt.Errorf("inspect converted audio: %w", err))
	}
	if !info.IsPCM16Mono(transcode.SampleRate) {
		return conversionFailed(fmt.Errorf("converted audio has unexpected format %s", info))
	}
	return nil
}

func (h *TranscribeHandler) maxUploadBytes() int64 {
	if h.MaxUploadBytes <= 0 {
		return DefaultMaxUploadBytes
	}
	return h.MaxUploadBytes
}

func (h *TranscribeHandler) logger() *zap.Logger {
	if h.Logger == nil {
		return zap.NewNop()
	}
	return h.Logger
}
