package review

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"seclens/internal/apperr"
)

// State is a step of one review invocation.
type State int

const (
	StateDraft State = iota
	StatePrompted
	StateParsed
	StateValidated
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDraft:
		return "draft"
	case StatePrompted:
		return "prompted"
	case StateParsed:
		return "parsed"
	case StateValidated:
		return "validated"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// TransitionFunc observes state changes of a review invocation.
type TransitionFunc func(file string, from, to State)

// run tracks the state of one prompt round trip.
type run struct {
	file    string
	state   State
	observe TransitionFunc
	logger  *zap.Logger
}

func newRun(file string, observe TransitionFunc, logger *zap.Logger) *run {
	return &run{file: file, state: StateDraft, observe: observe, logger: logger}
}

func (r *run) to(next State) {
	prev := r.state
	r.state = next
	r.logger.Debug("review state", zap.String("file", r.file), zap.Stringer("from", prev), zap.Stringer("to", next))
	if r.observe != nil {
		r.observe(r.file, prev, next)
	}
}

// fail moves to StateFailed and annotates err with the file and the state
// it failed in. Cancellation is mapped to apperr.ErrCancelled.
func (r *run) fail(op string, err error) error {
	stage := r.state.String()
	r.to(StateFailed)
	if apperr.IsCancellation(err) || errors.Is(err, context.DeadlineExceeded) {
		return apperr.FromContext(op, err)
	}
	if ae, ok := err.(*apperr.Error); ok {
		return ae.WithFile(r.file).WithStage(stage)
	}
	return (&apperr.Error{Op: op, Err: err}).WithFile(r.file).WithStage(stage)
}
