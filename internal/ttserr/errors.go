// Package ttserr defines the error kinds shared by the synthesis pipeline.
package ttserr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation indicates a malformed request.
	ErrValidation = errors.New("validation error")
	// ErrNotFound indicates an unknown voice or a missing local reference file.
	ErrNotFound = errors.New("not found")
	// ErrDownload indicates a remote reference could not be fetched.
	ErrDownload = errors.New("download error")
	// ErrInference indicates the engine failed to start or continue synthesis.
	ErrInference = errors.New("inference error")
)

// Error carries a kind sentinel, the failing operation, and an optional cause.
type Error struct {
	Kind error
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Msg != "" {
		b.WriteString(e.Msg)
	} else if e.Kind != nil {
		b.WriteString(e.Kind.Error())
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// Validation returns an ErrValidation error.
func Validation(op, format string, args ...any) error {
	return &Error{Kind: ErrValidation, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// NotFound returns an ErrNotFound error.
func NotFound(op, format string, args ...any) error {
	return &Error{Kind: ErrNotFound, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Download returns an ErrDownload error wrapping cause.
func Download(op string, cause error, format string, args ...any) error {
	return &Error{Kind: ErrDownload, Op: op, Msg: fmt.Sprintf(format, args...), Err: cause}
}

// Inference wraps cause as an ErrInference error. Errors that already carry a
// kind are returned unchanged so a NotFound from the engine stays a NotFound.
func Inference(op string, cause error) error {
	if cause == nil {
		return nil
	}
	if KindOf(cause) != nil {
		return cause
	}
	return &Error{Kind: ErrInference, Op: op, Msg: "synthesis failed", Err: cause}
}

// KindOf returns the kind sentinel carried by err, or nil.
func KindOf(err error) error {
	for _, kind := range []error{ErrValidation, ErrNotFound, ErrDownload, ErrInference} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// Message returns the human readable part of err without the operation prefix.
func Message(err error) string {
	var te *Error
	if errors.As(err, &te) {
		msg := te.Msg
		if msg == "" && te.Kind != nil {
			msg = te.Kind.Error()
		}
		if te.Err != nil {
			msg += ": " + te.Err.Error()
		}
		return msg
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
