package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/fmueller/voxserve/internal/transcode"
	"go.uber.org/zap"
)

const MessageNoAudio = "No audio file provided"

const MessageTimedOut = "transcription timed out"

// Class groups request failures by what went wrong.
type Class string

const (
	ValidationError Class = "validation"
	ConversionError Class = "conversion"
	EngineError     Class = "engine"
	TimeoutError    Class = "timeout"
	IOError         Class = "io"
)

// requestError is the single error type the transcribe pipeline returns. Its
// message is what the client sees; cause is only logged.
type requestError struct {
	class   Class
	status  int
	message string
	cause   error
}

func (e *requestError) Error() string {
	if e.cause == nil {
		return e.message
	}
	return e.message + ": " + e.cause.Error()
}

func (e *requestError) Unwrap() error {
	return e.cause
}

func badRequest(message string) *requestError {
	return &requestError{class: ValidationError, status: http.StatusBadRequest, message: message}
}

func tooLarge(limit int64) *requestError {
	return &requestError{
		class:   ValidationError,
		status:  http.StatusRequestEntityTooLarge,
		message: fmt.Sprintf("audio file exceeds the maximum size of %s", formatBytes(limit)),
	}
}

func conversionFailed(err error) *requestError {
	message := "audio conversion failed: " + err.Error()
	var terr *transcode.Error
	if errors.As(err, &terr) {
		message = terr.Error()
	}
	return &requestError{class: ConversionError, status: http.StatusInternalServerError, message: message, cause: err}
}

func engineFailed(err error) *requestError {
	return &requestError{
		class:   EngineError,
		status:  http.StatusInternalServerError,
		message: "transcription failed: " + err.Error(),
		cause:   err,
	}
}

func timedOut(err error) *requestError {
	return &requestError{class: TimeoutError, status: http.StatusInternalServerError, message: MessageTimedOut, cause: err}
}

func ioFailed(message string, err error) *requestError {
	return &requestError{class: IOError, status: http.StatusInternalServerError, message: message, cause: err}
}

// asRequestError maps anything that is not already a requestError to a
// generic 500.
func asRequestError(err error) *requestError {
	var rerr *requestError
	if errors.As(err, &rerr) {
		return rerr
	}
	return &requestError{class: IOError, status: http.StatusInternalServerError, message: "internal server error", cause: err}
}

type errorBody struct {
	Error string `json:"error"`
}

func respondError(w http.ResponseWriter, logger *zap.Logger, err error) {
	rerr := asRequestError(err)

	fields := []zap.Field{
		zap.String("class", string(rerr.class)),
		zap.Int("status", rerr.status),
		zap.String("message", rerr.message),
	}
	if rerr.cause != nil {
		fields = append(fields, zap.Error(rerr.cause))
	}

	switch {
	case rerr.class == TimeoutError:
		logger.Error(MessageTimedOut, fields...)
	case rerr.status >= http.StatusInternalServerError:
		logger.Error("request failed", fields...)
	default:
		logger.Warn("request rejected", fields...)
	}

	respondJSON(w, rerr.status, errorBody{Error: rerr.message})
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	payload, err := json.Marshal(body)
	if err != nil {
		status = http.StatusInternalServerError
		payload = []byte(`{"error":"internal server error"}`)
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_, _ = w.Write(append(payload, '\n'))
}

func formatBytes(n int64) string {
	const mib = 1 << 20
	if n >= mib && n%mib == 0 {
		return fmt.Sprintf("%d MiB", n/mib)
	}
	return fmt.Sprintf("%d bytes", n)
}
