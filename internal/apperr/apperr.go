// Package apperr defines the error kinds surfaced to HTTP clients.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure for the client.
type Kind string

const (
	KindValidation       Kind = "VALIDATION_ERROR"
	KindInvalidDocument  Kind = "INVALID_DOCUMENT"
	KindRateLimited      Kind = "RATE_LIMITED"
	KindNotFound         Kind = "NOT_FOUND"
	KindNoFilesFound     Kind = "NO_FILES_FOUND"
	KindTransformFailure Kind = "TRANSFORM_FAILURE"
	KindTimeout          Kind = "TIMEOUT"
	KindStorageFailure   Kind = "STORAGE_FAILURE"
)

// Status returns the HTTP status code for the kind.
func (k Kind) Status() int {
	switch k {
	case KindValidation, KindInvalidDocument:
		return http.StatusBadRequest
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindNotFound, KindNoFilesFound:
		return http.StatusNotFound
	case KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

var defaultMessages = map[Kind]string{
	KindValidation:       "Invalid request",
	KindInvalidDocument:  "Invalid or corrupted PDF",
	KindRateLimited:      "Too many requests, please try again later",
	KindNotFound:         "File not found",
	KindNoFilesFound:     "No files found",
	KindTransformFailure: "Failed to compress PDF",
	KindTimeout:          "Request timed out",
	KindStorageFailure:   "Failed to store compressed file",
}

// Error is a classified error. Message is safe to show to clients; Err is the
// underlying cause and is only logged.
type Error struct {
	Kind    Kind
	Message string
	File    string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.File != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.File)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, apperr.NotFound)
// works regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == "" && t.File == "" && t.Err == nil
}

// Sentinels for errors.Is checks.
var (
	NotFound        = &Error{Kind: KindNotFound}
	NoFilesFound    = &Error{Kind: KindNoFilesFound}
	InvalidDocument = &Error{Kind: KindInvalidDocument}
	Timeout         = &Error{Kind: KindTimeout}
)

// New creates a classified error.
func New(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// ForFile creates a classified error tied to an uploaded file.
func ForFile(kind Kind, file, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, File: file, Err: err}
}

// KindOf reports the kind of err. Context deadline errors are Timeout and
// anything unclassified is a TransformFailure.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindTransformFailure
}

// Message returns the client-facing message for err.
func Message(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		msg := ae.Message
		if msg == "" {
			msg = defaultMessages[ae.Kind]
		}
		if ae.File != "" {
			return fmt.Sprintf("%s: %s", msg, ae.File)
		}
		return msg
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return defaultMessages[KindTimeout]
	}
	return defaultMessages[KindTransformFailure]
}
