package bounded

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRunSuccess(t *testing.T) {
	t.Parallel()

	var e Executor
	out := e.Run(context.Background(), func(context.Context) (string, error) {
		return "hello", nil
	}, time.Second)

	require.Equal(t, Success, out.Kind)
	require.Equal(t, "hello", out.Text)
	require.NoError(t, out.Err)
}

func TestRunEngineError(t *testing.T) {
	t.Parallel()

	boom := errors.New("model exploded")
	var e Executor
	out := e.Run(context.Background(), func(context.Context) (string, error) {
		return "", boom
	}, time.Second)

	require.Equal(t, EngineError, out.Kind)
	require.ErrorIs(t, out.Err, boom)
	require.Empty(t, out.Text)
}

func TestRunRecoversPanic(t *testing.T) {
	t.Parallel()

	var e Executor
	out := e.Run(context.Background(), func(context.Context) (string, error) {
		panic("bad tensor")
	}, time.Second)

	require.Equal(t, EngineError, out.Kind)
	require.Contains(t, out.Err.Error(), "bad tensor")
}

func TestRunTimesOutAtBoundaryAndDetaches(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	lateCalled := make(chan string, 1)
	e := &Executor{OnLate: func(text string, err error, _ time.Duration) {
		lateCalled <- text
	}}

	timeout := 150 * time.Millisecond
	started := time.Now()
	out := e.Run(context.Background(), func(context.Context) (string, error) {
		<-release
		return "too late", nil
	}, timeout)
	elapsed := time.Since(started)

	require.Equal(t, Timeout, out.Kind)
	require.ErrorIs(t, out.Err, ErrTimeout)
	require.GreaterOrEqual(t, elapsed, timeout)
	require.Less(t, elapsed, timeout+time.Second)
	require.EqualValues(t, 1, e.Detached())

	close(release)
	select {
	case text := <-lateCalled:
		require.Equal(t, "too late", text)
	case <-time.After(2 * time.Second):
		t.Fatal("late hook was not called")
	}
	require.Eventually(t, func() bool { return e.Detached() == 0 }, time.Second, 5*time.Millisecond)
}

func TestRunDoesNotCancelOperationOnCallerCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var sawCancel atomic.Bool
	var e Executor
	out := e.Run(ctx, func(opCtx context.Context) (string, error) {
		sawCancel.Store(opCtx.Err() != nil)
		return "done", nil
	}, time.Second)

	require.Equal(t, Success, out.Kind)
	require.False(t, sawCancel.Load())
}

func TestRunDefaultsNonPositiveTimeout(t *testing.T) {
	t.Parallel()

	var e Executor
	out := e.Run(context.Background(), func(context.Context) (string, error) {
		return "ok", nil
	}, 0)
	require.Equal(t, Success, out.Kind)
}

func TestKindString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "success", Success.String())
	require.Equal(t, "engine_error", EngineError.String())
	require.Equal(t, "timeout", Timeout.String())
	require.Equal(t, "kind(9)", Kind(9).String())
}
