package api

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

const maxRequestBodyBytes int64 = 1 << 20

// HTTPError represents an error with an associated HTTP status code.
type HTTPError struct {
	Status  int
	Message string
}

func (e *HTTPError) Error() string {
	return e.Message
}

// ParseRequestBody decodes the request body into v based on Content-Type.
// A missing Content-Type is treated as JSON.
func ParseRequestBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)

	contentType := r.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = contentType
	}

	switch strings.ToLower(mediaType) {
	case "", "application/json":
		err = json.NewDecoder(r.Body).Decode(v)
	case "application/msgpack", "application/x-msgpack":
		err = msgpack.NewDecoder(r.Body).Decode(v)
	default:
		return &HTTPError{Status: http.StatusUnsupportedMediaType, Message: "Unsupported content type"}
	}
	if err == nil {
		return nil
	}

	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr):
		return &HTTPError{Status: http.StatusRequestEntityTooLarge, Message: "Request body too large"}
	case errors.Is(err, io.EOF):
		return &HTTPError{Status: http.StatusBadRequest, Message: "Request body is empty"}
	default:
		return &HTTPError{Status: http.StatusBadRequest, Message: "Invalid request body"}
	}
}

// IsHTTPError checks whether an error is an *HTTPError.
func IsHTTPError(err error) (*HTTPError, bool) {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr, true
	}
	return nil, false
}
