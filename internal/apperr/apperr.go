// Package apperr defines the error kinds shared across the pipeline.
//
// Kinds are sentinel errors compared with errors.Is. An *Error attaches the
// operation, file and pipeline stage to a kind so callers can report where a
// failure happened without reading logs.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Sentinel error kinds.
var (
	ErrUnsupportedLanguage = errors.New("unsupported language")
	ErrMalformedPatch      = errors.New("malformed patch")
	ErrBinaryFileSkipped   = errors.New("binary file skipped")
	ErrStoreUnavailable    = errors.New("vector store unavailable")
	ErrInvalidModelOutput  = errors.New("invalid model output")
	ErrCommandInProgress   = errors.New("command in progress")
	ErrPartialIndexFailure = errors.New("partial index failure")
	ErrCancelled           = errors.New("cancelled")
	ErrIndexMissing        = errors.New("index not found")
	ErrIndexStale          = errors.New("index built with a different embedding model")
)

// Error is a kind plus the context it occurred in.
type Error struct {
	Kind  error
	Op    string
	File  string
	Stage string
	Err   error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Kind != nil {
		if b.Len() > 0 {
			b.WriteString(": ")
		}
		b.WriteString(e.Kind.Error())
	}
	if e.File != "" {
		fmt.Fprintf(&b, " [file=%s]", e.File)
	}
	if e.Stage != "" {
		fmt.Fprintf(&b, " [stage=%s]", e.Stage)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	var errs []error
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// New builds an *Error of the given kind.
func New(kind error, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// WithFile returns a copy of e annotated with a file path.
func (e *Error) WithFile(path string) *Error {
	c := *e
	c.File = path
	return &c
}

// WithStage returns a copy of e annotated with a pipeline stage.
func (e *Error) WithStage(stage string) *Error {
	c := *e
	c.Stage = stage
	return &c
}

// FileFailure records one file that failed during a tree-wide operation.
type FileFailure struct {
	Path    string `json:"path"`
	Stage   string `json:"stage"`
	Message string `json:"message"`
}

// NewFileFailure converts err into a FileFailure for path.
func NewFileFailure(path, stage string, err error) FileFailure {
	var ae *Error
	if errors.As(err, &ae) && ae.Stage != "" {
		stage = ae.Stage
	}
	return FileFailure{Path: path, Stage: stage, Message: err.Error()}
}

// IsCancellation reports whether err stems from a cancelled context or an
// explicit cancellation.
func IsCancellation(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}

// FromContext maps a context error onto ErrCancelled; other errors pass through.
func FromContext(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return New(ErrCancelled, op, err)
	}
	return err
}
