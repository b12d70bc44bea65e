package transcode

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	SampleRate    = 16000
	Channels      = 1
	BitsPerSample = 16

	DefaultBinary  = "ffmpeg"
	DefaultTimeout = 2 * time.Minute
)

var ErrTimeout = errors.New("transcoder timed out")

// Transcoder converts an arbitrary audio container into canonical PCM WAV.
type Transcoder interface {
	Convert(ctx context.Context, inputPath, outputPath string) error
}

// Result is what one transcoder invocation left behind.
type Result struct {
	ExitCode int
	Stdout   []string
	Stderr   []string
}

type Error struct {
	Op     string
	Result Result
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}

	msg := fmt.Sprintf("transcode %s failed", e.Op)
	if e.Op == "exit" {
		msg = fmt.Sprintf("transcode failed with exit code %d", e.Result.ExitCode)
	}
	if e.Err != nil && e.Op != "exit" {
		msg += ": " + e.Err.Error()
	}
	if len(e.Result.Stderr) > 0 {
		msg += " (" + strings.Join(e.Result.Stderr, "; ") + ")"
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

type FFmpeg struct {
	Binary  string
	Timeout time.Duration
	Logger  *zap.Logger
}

func NewFFmpeg(binary string, timeout time.Duration, logger *zap.Logger) *FFmpeg {
	if strings.TrimSpace(binary) == "" {
		binary = DefaultBinary
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FFmpeg{Binary: binary, Timeout: timeout, Logger: logger}
}

func (f *FFmpeg) Available() bool {
	_, err := exec.LookPath(f.Binary)
	return err == nil
}

func Args(inputPath, outputPath string) []string {
	return []string{
		"-nostdin", "-hide_banner", "-loglevel", "error", "-y",
		"-i", inputPath,
		"-vn",
		"-ac", strconv.Itoa(Channels),
		"-ar", strconv.Itoa(SampleRate),
		"-c:a", "pcm_s16le",
		"-f", "wav",
		outputPath,
	}
}

func (f *FFmpeg) Convert(ctx context.Context, inputPath, outputPath string) error {
	in, err := os.Open(inputPath)
	if err != nil {
		return &Error{Op: "open-input", Result: Result{ExitCode: -1}, Err: err}
	}
	_ = in.Close()

	timeout := f.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := Args(inputPath, outputPath)
	cmd := exec.CommandContext(runCtx, f.Binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = 2 * time.Second

	f.log().Debug("running transcoder", zap.String("binary", f.Binary), zap.Strings("args", args))
	started := time.Now()
	if err := cmd.Start(); err != nil {
		return &Error{Op: "start", Result: Result{ExitCode: -1}, Err: err}
	}

	waitErr := cmd.Wait()
	result := Result{
		ExitCode: cmd.ProcessState.ExitCode(),
		Stdout:   splitLines(stdout.Bytes()),
		Stderr:   splitLines(stderr.Bytes()),
	}

	if waitErr != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return &Error{Op: "timeout", Result: result, Err: fmt.Errorf("%w after %s", ErrTimeout, timeout)}
		}
		if ctx.Err() != nil {
			return &Error{Op: "canceled", Result: result, Err: ctx.Err()}
		}

		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return &Error{Op: "exit", Result: result, Err: waitErr}
		}
		return &Error{Op: "wait", Result: result, Err: waitErr}
	}

	f.log().Debug("transcoder finished",
		zap.Duration("elapsed", time.Since(started)),
		zap.Int("exit_code", result.ExitCode),
		zap.Strings("stderr", result.Stderr),
	)
	return nil
}

func (f *FFmpeg) log() *zap.Logger {
	if f.Logger == nil {
		return zap.NewNop()
	}
	return f.Logger
}

const (
	maxLineBytes    = 1 << 20
	truncatedMarker = "[output truncated]"
)

// splitLines returns the trimmed non-empty lines of b. A line longer than
// maxLineBytes stops the scan and leaves truncatedMarker as the last line.
func splitLines(b []byte) []string {
	var lines []string
	scanner := bufio.NewScanner(bytes.NewReader(b))
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			lines = append(lines, line)
		}
	}
	if scanner.Err() != nil {
		lines = append(lines, truncatedMarker)
	}
	return lines
}
