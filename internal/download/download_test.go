package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func sha(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func TestVerifyFileChecksum(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "payload.bin")
	payload := []byte("voxserve")
	require.NoError(t, os.WriteFile(path, payload, 0o644))

	require.NoError(t, VerifyFileChecksum(path, sha(payload)))
	require.NoError(t, VerifyFileChecksum(path, ""))
	require.ErrorIs(t, VerifyFileChecksum(path, "deadbeef"), ErrChecksumMismatch)
}

func TestFetchWritesVerifiedFile(t *testing.T) {
	t.Parallel()

	payload := []byte("ggml-model-bytes")
	var userAgent atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userAgent.Store(r.Header.Get("User-Agent"))
		_, _ = w.Write(payload)
	}))
	defer server.Close()

	destination := filepath.Join(t.TempDir(), "models", "ggml-tiny.bin")
	err := Fetch(context.Background(), Options{
		URL:            server.URL,
		Destination:    destination,
		ExpectedSHA256: sha(payload),
		NoProgress:     true,
		Retries:        1,
	})
	require.NoError(t, err)

	onDisk, err := os.ReadFile(destination)
	require.NoError(t, err)
	require.Equal(t, payload, onDisk)
	require.Equal(t, "voxserve/1", userAgent.Load())

	_, err = os.Stat(destination + ".part")
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestFetchRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	destination := filepath.Join(t.TempDir(), "model.bin")
	err := Fetch(context.Background(), Options{
		URL:         server.URL,
		Destination: destination,
		NoProgress:  true,
		Retries:     2,
		Backoff:     time.Millisecond,
	})
	require.NoError(t, err)
	require.EqualValues(t, 2, calls.Load())
}

func TestFetchRejectsChecksumMismatch(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("tampered"))
	}))
	defer server.Close()

	destination := filepath.Join(t.TempDir(), "model.bin")
	err := Fetch(context.Background(), Options{
		URL:            server.URL,
		Destination:    destination,
		ExpectedSHA256: sha([]byte("original")),
		NoProgress:     true,
		Retries:        1,
	})
	require.ErrorIs(t, err, ErrChecksumMismatch)

	_, statErr := os.Stat(destination)
	require.ErrorIs(t, statErr, os.ErrNotExist)
}

func TestFetchRequiresURLAndDestination(t *testing.T) {
	t.Parallel()

	require.Error(t, Fetch(context.Background(), Options{Destination: "x"}))
	require.Error(t, Fetch(context.Background(), Options{URL: "http://example.invalid"}))
}
