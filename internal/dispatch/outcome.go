package dispatch

import (
	"errors"
	"time"

	"seclens/internal/apperr"
	"seclens/internal/index"
	"seclens/internal/review"
)

// Process exit codes.
const (
	ExitOK        = 0
	ExitPartial   = 1
	ExitUsage     = 2
	ExitFatal     = 3
	ExitCancelled = 4
)

// Outcome is the recorded result of one command. At most one of Result,
// Answer and Stats is set.
type Outcome struct {
	Command Command `json:"command"`

	Result *review.Result `json:"result,omitempty"`
	Answer *review.Answer `json:"answer,omitempty"`
	Stats  *index.Stats   `json:"stats,omitempty"`
	// Message is plain text for help and exit.
	Message string `json:"message,omitempty"`

	// OutputPath is where the result was written, if anywhere.
	OutputPath string `json:"output_path,omitempty"`
	Err        error  `json:"-"`
	Exit       bool   `json:"-"`

	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`
}

// Payload is the value written to the output sink.
func (o Outcome) Payload() any {
	switch {
	case o.Result != nil:
		return o.Result
	case o.Answer != nil:
		return o.Answer
	case o.Stats != nil:
		return o.Stats
	default:
		return nil
	}
}

// Failures is the number of files that failed inside a successful command.
func (o Outcome) Failures() int {
	switch {
	case o.Result != nil:
		return len(o.Result.Failures)
	case o.Stats != nil:
		return len(o.Stats.Failures)
	default:
		return 0
	}
}

// ExitCode maps the outcome onto a process exit status.
func (o Outcome) ExitCode() int {
	return ExitCode(o.Err, o.Failures())
}

// ExitCode maps an error and a partial-failure count onto a process exit
// status.
func ExitCode(err error, failures int) int {
	switch {
	case err == nil && failures > 0:
		return ExitPartial
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrUsage), errors.Is(err, apperr.ErrUnsupportedLanguage):
		return ExitUsage
	case apperr.IsCancellation(err):
		return ExitCancelled
	case errors.Is(err, apperr.ErrPartialIndexFailure):
		return ExitPartial
	default:
		return ExitFatal
	}
}
