package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/fmueller/voxserve/internal/transcode"
	"github.com/fmueller/voxserve/internal/whisper"
	"github.com/stretchr/testify/require"
)

func runCommand(t *testing.T, args []string) (stdout string, stderr string, err error) {
	t.Helper()
	return runAppCommand(t, &appState{}, args)
}

func runAppCommand(t *testing.T, app *appState, args []string) (stdout string, stderr string, err error) {
	t.Helper()

	cmd := newRootCmd(app)
	outBuf := new(bytes.Buffer)
	errBuf := new(bytes.Buffer)

	cmd.SetOut(outBuf)
	cmd.SetErr(errBuf)
	cmd.SetArgs(args)

	err = cmd.ExecuteContext(context.Background())
	return outBuf.String(), errBuf.String(), err
}

// isolatedArgs keeps a test away from the real model and temp directories.
func isolatedArgs(t *testing.T, extra ...string) []string {
	t.Helper()

	dir := t.TempDir()
	envFile := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(envFile, nil, 0o600))

	args := []string{
		"--json=false",
		"--no-progress",
		"--env-file", envFile,
		"--model-dir", filepath.Join(dir, "models"),
		"--temp-dir", filepath.Join(dir, "scratch"),
	}
	return append(args, extra...)
}

func fakeEngine(t *testing.T) *whisper.Engine {
	t.Helper()

	modelPath := filepath.Join(t.TempDir(), "ggml-test.bin")
	require.NoError(t, os.WriteFile(modelPath, []byte("model"), 0o600))

	return &whisper.Engine{
		Executable: "/bin/true",
		Model:      whisper.ResolvedModel{Path: modelPath, IsCustomPath: true},
		Language:   "auto",
	}
}

func alwaysAvailable(*transcode.FFmpeg) bool { return true }
