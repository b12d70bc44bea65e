package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewJSONLoggerDefaultsToInfo(t *testing.T) {
	t.Parallel()

	logger, err := New(Options{JSON: true, Service: "voxserve"})
	require.NoError(t, err)
	require.True(t, logger.Core().Enabled(zapcore.InfoLevel))
	require.False(t, logger.Core().Enabled(zapcore.DebugLevel))
}

func TestNewVerboseConsoleLoggerEnablesDebug(t *testing.T) {
	t.Parallel()

	logger, err := New(Options{Verbose: true})
	require.NoError(t, err)
	require.True(t, logger.Core().Enabled(zapcore.DebugLevel))
}
