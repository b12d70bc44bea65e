package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRootCommandRegistersFlags(t *testing.T) {
	t.Parallel()

	cmd := NewRootCmd()
	flags := cmd.PersistentFlags()

	for _, name := range []string{
		"port", "host", "temp-dir", "model", "model-dir", "language", "threads",
		"auto-download", "warmup", "max-upload-bytes", "transcribe-timeout",
		"transcode-timeout", "ffmpeg-path", "silence-gate", "silence-threshold-dbfs",
		"cors-origins", "shutdown-timeout", "verbose", "json", "env-file",
	} {
		require.NotNil(t, flags.Lookup(name), name)
	}

	require.Equal(t, "8888", flags.Lookup("port").DefValue)
	require.Equal(t, "tiny", flags.Lookup("model").DefValue)
	require.Equal(t, "auto", flags.Lookup("language").DefValue)
	require.Equal(t, "10485760", flags.Lookup("max-upload-bytes").DefValue)
	require.Equal(t, "5m0s", flags.Lookup("transcribe-timeout").DefValue)
	require.Equal(t, "true", flags.Lookup("silence-gate").DefValue)
	require.Equal(t, "-65", flags.Lookup("silence-threshold-dbfs").DefValue)
}

func TestRootHelpParsesSuccessfully(t *testing.T) {
	t.Parallel()

	cmd := NewRootCmd()
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs([]string{"--help"})

	require.NoError(t, cmd.Execute())
	require.Contains(t, out.String(), "serve")
	require.Contains(t, out.String(), "setup")
	require.Contains(t, out.String(), "version")
}

func TestSubcommandHelpParsesSuccessfully(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		args     []string
		contains string
	}{
		{name: "serve", args: []string{"serve", "--help"}, contains: "serve the HTTP API"},
		{name: "setup", args: []string{"setup", "--help"}, contains: "Download and verify speech model assets"},
		{name: "version", args: []string{"version", "--help"}, contains: "Print the version number"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			stdout, _, err := runCommand(t, tt.args)
			require.NoError(t, err)
			require.Contains(t, stdout, tt.contains)
		})
	}
}

func TestVersionOutput(t *testing.T) {
	t.Parallel()

	stdout, _, err := runCommand(t, []string{"version"})
	require.NoError(t, err)
	require.Contains(t, stdout, "voxserve v")

	stdout, _, err = runCommand(t, []string{"--version"})
	require.NoError(t, err)
	require.Contains(t, stdout, "voxserve v")
}
