package engine

import (
	"errors"
	"fmt"
)

// ErrBackendUnavailable indicates the inference sidecar is not reachable.
var ErrBackendUnavailable = errors.New("backend unavailable")

// ErrBackendTimeout indicates the sidecar took too long to respond.
var ErrBackendTimeout = errors.New("backend timeout")

// ErrUnknownCharacter is returned when a character was never registered with the engine.
var ErrUnknownCharacter = errors.New("unknown character")

// BackendError represents an error returned by the inference sidecar.
type BackendError struct {
	StatusCode int
	Message    string
}

func (e *BackendError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("backend error: %s", e.Message)
	}
	return fmt.Sprintf("backend error (status %d): %s", e.StatusCode, e.Message)
}

// IsBackendError checks if an error is a BackendError.
func IsBackendError(err error) bool {
	var be *BackendError
	return errors.As(err, &be)
}
