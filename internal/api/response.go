package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/index-tts-go/index-tts-go/internal/queue"
	"github.com/index-tts-go/index-tts-go/internal/schema"
	"github.com/index-tts-go/index-tts-go/internal/streaming"
	"github.com/index-tts-go/index-tts-go/internal/ttserr"
)

// WriteError writes the {"status":"error","error":...} body.
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, schema.NewErrorResponse(message))
}

// WriteJSON writes the data structure as JSON.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteAudio writes a complete WAV file.
func WriteAudio(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Disposition", "attachment; filename=audio.wav")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// WriteFailure maps err onto a status code and writes the error body.
func WriteFailure(w http.ResponseWriter, err error) {
	if httpErr, ok := IsHTTPError(err); ok {
		WriteError(w, httpErr.Status, httpErr.Message)
		return
	}
	WriteError(w, StatusFor(err), messageFor(err))
}

func messageFor(err error) string {
	switch {
	case errors.Is(err, streaming.ErrLimitExceeded):
		return "concurrent stream limit reached"
	case errors.Is(err, streaming.ErrAcquireTimeout):
		return "timed out waiting for a stream slot"
	case errors.Is(err, queue.ErrQueueFull):
		return "batch queue is full"
	case errors.Is(err, queue.ErrShutdown):
		return "server is shutting down"
	default:
		return ttserr.Message(err)
	}
}

// StatusFor returns the HTTP status for a pipeline or admission error.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ttserr.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ttserr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ttserr.ErrDownload):
		return http.StatusBadGateway
	case errors.Is(err, streaming.ErrLimitExceeded),
		errors.Is(err, queue.ErrQueueFull),
		errors.Is(err, queue.ErrShutdown):
		return http.StatusServiceUnavailable
	case errors.Is(err, streaming.ErrAcquireTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
