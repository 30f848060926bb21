// Package rerr defines the closed set of error kinds shared by every
// component of the knowledge base engine.
package rerr

import (
	"errors"
	"fmt"
	"time"
)

// Kind is a closed enumeration of failure categories. Every error that
// crosses a component boundary carries one.
type Kind string

const (
	Storage          Kind = "storage"
	Io               Kind = "io"
	Serialization    Kind = "serialization"
	Network          Kind = "network"
	PdfExtraction    Kind = "pdf_extraction"
	ModelApi         Kind = "model_api"
	RateLimit        Kind = "rate_limit"
	InvalidCredential Kind = "invalid_credential"
	Embedding        Kind = "embedding"
	Ingestion        Kind = "ingestion"
	MediaTooling     Kind = "media_tooling"
	Ocr              Kind = "ocr"
	VectorSearch     Kind = "vector_search"
	ExtensionLoad    Kind = "extension_load"
	Config           Kind = "config"
	Capture          Kind = "capture"
	NotFound         Kind = "not_found"
	TrialLimit       Kind = "trial_limit"
)

// Error is the single error type used across the engine. It carries a
// kind from the closed set above, a human message, an optional
// wrapped cause, and (for RateLimit) a retry hint.
type Error struct {
	Kind       Kind
	Message    string
	RetryAfter time.Duration
	Cause      error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New builds an Error of the given kind with a message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf builds an Error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error of the given kind wrapping a cause.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithRetryAfter attaches a retry hint to a RateLimit error.
func WithRetryAfter(message string, after time.Duration) *Error {
	return &Error{Kind: RateLimit, Message: message, RetryAfter: after}
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// sentinel instances for errors.Is-style comparisons at the handful of
// points that need identity rather than kind matching.
var (
	ErrNotFound   = New(NotFound, "not found")
	ErrTrialLimit = New(TrialLimit, "trial limit reached")
)
