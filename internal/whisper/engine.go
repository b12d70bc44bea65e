package whisper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// BlankAudioToken is what whisper-cli prints for audio without speech.
const BlankAudioToken = "[BLANK_AUDIO]"

// Transcriber turns a 16 kHz mono PCM WAV file into text. Implementations
// block until done and apply no timeout of their own.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
}

// Scratch hands out fresh file paths for engine output. Allocate(ext)
// returns an unused path ending in ext; nothing is created on disk.
type Scratch interface {
	Allocate(ext string) (string, error)
}

// Engine runs whisper-cli against one loaded model. It is immutable after
// Load and safe for concurrent use.
type Engine struct {
	Executable string
	Model      ResolvedModel
	Language   string
	Threads    int
	Scratch    Scratch
	Logger     *zap.Logger
}

func (e *Engine) Transcribe(ctx context.Context, audioPath string) (string, error) {
	if strings.TrimSpace(audioPath) == "" {
		return "", errors.New("audio path is required")
	}

	if e.Scratch == nil {
		return "", errors.New("engine scratch space is not configured")
	}
	outBase, err := e.Scratch.Allocate("")
	if err != nil {
		return "", fmt.Errorf("allocate whisper output path: %w", err)
	}
	txtOut := outBase + ".txt"
	defer os.Remove(txtOut)

	args := e.args(audioPath, outBase)
	cmd := exec.CommandContext(ctx, e.Executable, args...)
	var stderr bytes.Buffer
	cmd.Stdout = io.Discard
	cmd.Stderr = &stderr

	e.log().Debug("running whisper engine", zap.String("engine", e.Executable), zap.Strings("args", args))
	started := time.Now()
	if err := cmd.Run(); err != nil {
		return "", classifyRunError(e.Executable, err, strings.TrimSpace(stderr.String()))
	}

	content, err := os.ReadFile(txtOut)
	if err != nil {
		return "", fmt.Errorf("read whisper output: %w", err)
	}

	e.log().Debug("whisper engine finished", zap.Duration("elapsed", time.Since(started)))
	return normalizeTranscript(string(content)), nil
}

func (e *Engine) args(audioPath, outBase string) []string {
	args := []string{"-m", e.Model.Path, "-f", audioPath, "-nt", "-otxt", "-of", outBase}
	if lang := NormalizeLanguage(e.Language); lang != "auto" {
		args = append(args, "-l", lang)
	}
	if e.Threads > 0 {
		args = append(args, "-t", strconv.Itoa(e.Threads))
	}
	return args
}

func (e *Engine) log() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

// NormalizeLanguage lower-cases a language hint; empty means auto-detect.
func NormalizeLanguage(input string) string {
	trimmed := strings.TrimSpace(strings.ToLower(input))
	if trimmed == "" {
		return "auto"
	}
	return trimmed
}

func normalizeTranscript(raw string) string {
	lines := strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n")
	kept := lines[:0]
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.EqualFold(line, BlankAudioToken) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, " ")
}

func classifyRunError(executable string, err error, stderr string) error {
	if isMissingSharedLibraryError(stderr) {
		return fmt.Errorf("whisper engine at %s is missing required shared libraries (%s)", executable, stderr)
	}
	if isIllegalInstructionError(stderr) || isIllegalInstructionError(err.Error()) {
		return errors.New("whisper engine crashed with an illegal CPU instruction; " +
			"set VOXSERVE_WHISPER_PATH to a whisper-cli binary built for this CPU")
	}
	if stderr == "" {
		return fmt.Errorf("whisper transcribe failed: %w", err)
	}
	return fmt.Errorf("whisper transcribe failed: %w (%s)", err, lastLine(stderr))
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}

func isMissingSharedLibraryError(stderr string) bool {
	value := strings.ToLower(strings.TrimSpace(stderr))
	if value == "" {
		return false
	}

	for _, pattern := range []string{
		"error while loading shared libraries",
		"cannot open shared object file",
		"dyld: library not loaded",
		"image not found",
	} {
		if strings.Contains(value, pattern) {
			return true
		}
	}
	return false
}

func isIllegalInstructionError(stderr string) bool {
	return strings.Contains(strings.ToLower(stderr), "illegal instruction")
}

func engineBinaryName() string {
	if runtime.GOOS == "windows" {
		return "whisper-cli.exe"
	}
	return "whisper-cli"
}
