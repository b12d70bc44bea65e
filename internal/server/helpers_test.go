package server

import (
	"bytes"
	"context"
	"math"
	"mime/multipart"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fmueller/voxserve/internal/audio"
	"github.com/fmueller/voxserve/internal/bounded"
	"github.com/fmueller/voxserve/internal/workspace"
	"github.com/stretchr/testify/require"
)

// fakeTranscoder writes a canned WAV to the output path.
type fakeTranscoder struct {
	output []byte
	err    error
	skip   bool

	calls atomic.Int32
	mu    sync.Mutex
	input string
}

func (f *fakeTranscoder) Convert(_ context.Context, inputPath, outputPath string) error {
	f.calls.Add(1)
	f.mu.Lock()
	f.input = inputPath
	f.mu.Unlock()

	if _, err := os.Stat(inputPath); err != nil {
		return err
	}
	if f.err != nil {
		return f.err
	}
	if f.skip {
		return nil
	}
	return os.WriteFile(outputPath, f.output, 0o600)
}

func (f *fakeTranscoder) lastInput() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.input
}

type fakeEngine struct {
	text    string
	err     error
	release chan struct{}

	calls atomic.Int32
}

func (f *fakeEngine) Transcribe(_ context.Context, audioPath string) (string, error) {
	f.calls.Add(1)
	if f.release != nil {
		<-f.release
	}
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

type harness struct {
	root       string
	transcoder *fakeTranscoder
	engine     *fakeEngine
	executor   *bounded.Executor
	handler    *TranscribeHandler
	router     http.Handler
}

func newHarness(t *testing.T, transcoder *fakeTranscoder, engine *fakeEngine) *harness {
	t.Helper()

	root := t.TempDir()
	ws, err := workspace.New(root, nil)
	require.NoError(t, err)

	if transcoder.output == nil {
		transcoder.output = toneWAV()
	}

	executor := &bounded.Executor{}
	handler := &TranscribeHandler{
		Workspace:            ws,
		Transcoder:           transcoder,
		Engine:               engine,
		Executor:             executor,
		MaxUploadBytes:       DefaultMaxUploadBytes,
		Timeout:              5 * time.Second,
		SilenceGate:          true,
		SilenceThresholdDBFS: DefaultSilenceThresholdDBFS,
	}

	return &harness{
		root:       root,
		transcoder: transcoder,
		engine:     engine,
		executor:   executor,
		handler:    handler,
		router: NewRouter(RouterOptions{
			Transcribe: handler,
			Executor:   executor,
			Model:      "tiny",
			Language:   "auto",
		}),
	}
}

func (h *harness) requireEmptyRoot(t *testing.T) {
	t.Helper()

	entries, err := os.ReadDir(h.root)
	require.NoError(t, err)
	require.Empty(t, entries)
}

// toneWAV is half a second of a 440 Hz tone, well above the silence gate.
func toneWAV() []byte {
	samples := make([]int16, 8000)
	for i := range samples {
		samples[i] = int16(8000 * math.Sin(2*math.Pi*440*float64(i)/16000))
	}
	return audio.EncodePCM16WAV(samples, 16000, 1)
}

func silentWAV() []byte {
	return audio.EncodePCM16WAV(make([]int16, 8000), 16000, 1)
}

func silentStereoWAV() []byte {
	return audio.EncodePCM16WAV(make([]int16, 3200), 16000, 2)
}

func multipartBody(t *testing.T, field, filename string, payload []byte) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("note", "ignored"))
	if field != "" {
		part, err := mw.CreateFormFile(field, filename)
		require.NoError(t, err)
		_, err = part.Write(payload)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}
