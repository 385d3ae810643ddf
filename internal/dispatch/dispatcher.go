// Package dispatch runs commands one at a time against a session's index
// and review engine.
//
// A Dispatcher is Idle, Busy with exactly one command, or in Error after
// the last command failed. Error accepts new commands like Idle; Busy
// rejects them with apperr.ErrCommandInProgress. Interactive front ends
// feed Requests through Run; one-shot callers use Dispatch directly.
package dispatch

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"seclens/internal/apperr"
	"seclens/internal/index"
	"seclens/internal/output"
	"seclens/internal/patch"
	"seclens/internal/review"
)

// State is the dispatcher's state.
type State int

const (
	StateIdle State = iota
	StateBusy
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBusy:
		return "busy"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Indexer builds and maintains the index.
type Indexer interface {
	Index(ctx context.Context, root string) (*index.Stats, error)
	Update(ctx context.Context, root string, p *patch.Patch) (*index.Stats, error)
}

// Reviewer runs review and ask commands.
type Reviewer interface {
	ReviewCode(ctx context.Context) (*review.Result, error)
	ReviewFile(ctx context.Context, path string) (*review.Result, error)
	ReviewPatch(ctx context.Context, p *patch.Patch, target string) (*review.Result, error)
	Ask(ctx context.Context, question string) (*review.Answer, error)
}

// Options configures a Dispatcher.
type Options struct {
	// Root is the codebase directory.
	Root string
	// ResultsDir receives review results of commands without an output
	// file. Empty disables the default output path.
	ResultsDir string
	Sink       output.Sink
	Now        func() time.Time
}

// Status is a snapshot of the dispatcher.
type Status struct {
	State     State     `json:"state"`
	Command   string    `json:"command,omitempty"`
	Since     time.Time `json:"since"`
	Last      string    `json:"last_command,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

// Request is one command fed to Run. Reply, when set, must have room for
// one Outcome.
type Request struct {
	Command Command
	Reply   chan<- Outcome
}

// Dispatcher executes commands with single-flight semantics.
type Dispatcher struct {
	indexer  Indexer
	reviewer Reviewer
	opts     Options
	logger   *zap.Logger

	mu      sync.Mutex
	state   State
	current Command
	since   time.Time
	cancel  context.CancelFunc
	last    *Outcome

	wg sync.WaitGroup
}

// New builds an idle Dispatcher.
func New(indexer Indexer, reviewer Reviewer, opts Options, logger *zap.Logger) *Dispatcher {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Dispatcher{
		indexer:  indexer,
		reviewer: reviewer,
		opts:     opts,
		logger:   logger,
		since:    opts.Now(),
	}
}

// Status returns the current state.
func (d *Dispatcher) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	st := Status{State: d.state, Since: d.since}
	if d.state == StateBusy {
		st.Command = d.current.String()
	}
	if d.last != nil {
		st.Last = d.last.Command.String()
		if d.last.Err != nil {
			st.LastError = d.last.Err.Error()
		}
	}
	return st
}

// Cancel aborts the running command. It reports whether one was running.
func (d *Dispatcher) Cancel() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel == nil {
		return false
	}
	d.logger.Info("cancelling command", zap.Stringer("command", d.current))
	d.cancel()
	return true
}

// Dispatch runs cmd to completion. It fails immediately with
// apperr.ErrCommandInProgress while another command is running.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd Command) Outcome {
	switch cmd.Name {
	case CmdHelp:
		return d.immediate(cmd, Help)
	case CmdExit:
		out := d.immediate(cmd, "Goodbye.")
		out.Exit = true
		return out
	}
	cctx, err := d.acquire(ctx, cmd)
	if err != nil {
		return d.rejected(cmd, err)
	}
	out := d.run(cctx, cmd)
	d.release(out)
	return out
}

// Run serves requests until ctx ends, the channel closes or an exit
// command arrives. Each accepted command runs in its own goroutine so a
// request arriving meanwhile is answered with ErrCommandInProgress rather
// than queued. Run returns only after the running command has finished.
func (d *Dispatcher) Run(ctx context.Context, reqs <-chan Request) {
	defer d.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			d.Cancel()
			return
		case req, ok := <-reqs:
			if !ok {
				return
			}
			switch req.Command.Name {
			case CmdExit:
				d.Cancel()
				d.wg.Wait()
				reply(req, d.Dispatch(ctx, req.Command))
				return
			case CmdHelp:
				reply(req, d.Dispatch(ctx, req.Command))
				continue
			}

			cctx, err := d.acquire(ctx, req.Command)
			if err != nil {
				reply(req, d.rejected(req.Command, err))
				continue
			}
			d.wg.Add(1)
			go func() {
				defer d.wg.Done()
				out := d.run(cctx, req.Command)
				d.release(out)
				reply(req, out)
			}()
		}
	}
}

func reply(req Request, out Outcome) {
	if req.Reply != nil {
		req.Reply <- out
	}
}

func (d *Dispatcher) immediate(cmd Command, msg string) Outcome {
	now := d.opts.Now()
	return Outcome{Command: cmd, Message: msg, Started: now, Finished: now}
}

func (d *Dispatcher) rejected(cmd Command, err error) Outcome {
	d.logger.Warn("command rejected", zap.Stringer("command", cmd), zap.Error(err))
	now := d.opts.Now()
	return Outcome{Command: cmd, Err: err, Started: now, Finished: now}
}

// acquire moves the dispatcher to Busy and returns the command's context.
func (d *Dispatcher) acquire(ctx context.Context, cmd Command) (context.Context, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == StateBusy {
		return nil, apperr.New(apperr.ErrCommandInProgress, "dispatch "+cmd.Name,
			fmt.Errorf("%s is still running", d.current))
	}
	cctx, cancel := context.WithCancel(ctx)
	d.state = StateBusy
	d.current = cmd
	d.cancel = cancel
	d.since = d.opts.Now()
	return cctx, nil
}

// release records out and leaves Busy.
func (d *Dispatcher) release(out Outcome) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.state = StateIdle
	if out.Err != nil {
		d.state = StateError
	}
	d.current = Command{}
	d.since = d.opts.Now()
	d.last = &out
}

func (d *Dispatcher) run(ctx context.Context, cmd Command) Outcome {
	out := Outcome{Command: cmd, Started: d.opts.Now()}
	d.logger.Info("command started", zap.Stringer("command", cmd))

	d.execute(ctx, &out)
	if out.Err == nil || apperr.IsCancellation(out.Err) {
		d.writeOutput(&out)
	}

	out.Finished = d.opts.Now()
	fields := []zap.Field{
		zap.Stringer("command", cmd),
		zap.Duration("elapsed", out.Finished.Sub(out.Started)),
		zap.Int("exit_code", out.ExitCode()),
	}
	if out.Err != nil {
		d.logger.Warn("command failed", append(fields, zap.Error(out.Err))...)
	} else {
		d.logger.Info("command finished", fields...)
	}
	return out
}

func (d *Dispatcher) execute(ctx context.Context, out *Outcome) {
	cmd := out.Command
	switch cmd.Name {
	case CmdIndex:
		out.Stats, out.Err = d.indexer.Index(ctx, d.opts.Root)
	case CmdUpdate:
		p, err := readPatch(cmd.Arg)
		if err != nil {
			out.Err = err
			return
		}
		out.Stats, out.Err = d.indexer.Update(ctx, d.opts.Root, p)
	case CmdReviewCode:
		out.Result, out.Err = d.reviewer.ReviewCode(ctx)
	case CmdReviewFile:
		out.Result, out.Err = d.reviewer.ReviewFile(ctx, cmd.Arg)
	case CmdReviewPatch:
		p, err := readPatch(cmd.Arg)
		if err != nil {
			out.Err = err
			return
		}
		out.Result, out.Err = d.reviewer.ReviewPatch(ctx, p, cmd.Arg)
	case CmdAsk:
		out.Answer, out.Err = d.reviewer.Ask(ctx, cmd.Arg)
	default:
		out.Err = fmt.Errorf("%w: unknown command %q", ErrUsage, cmd.Name)
	}
}

func readPatch(path string) (*patch.Patch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read patch: %w", err)
	}
	return patch.Parse(string(data))
}

func isReview(name string) bool {
	return name == CmdReviewCode || name == CmdReviewFile || name == CmdReviewPatch
}

// writeOutput writes the payload to the requested file, or for review
// commands to the default results path.
func (d *Dispatcher) writeOutput(out *Outcome) {
	payload := out.Payload()
	if payload == nil {
		return
	}
	path := out.Command.OutputFile
	if path == "" && isReview(out.Command.Name) && d.opts.ResultsDir != "" {
		path = output.DefaultPath(d.opts.ResultsDir, out.Command.Name, d.opts.Now())
	}
	if path == "" {
		return
	}
	written, err := d.opts.Sink.Write(path, out.Command.Format, payload)
	if err != nil {
		d.logger.Error("write output failed", zap.String("path", path), zap.Error(err))
		if out.Err == nil {
			out.Err = fmt.Errorf("write output: %w", err)
		}
		return
	}
	out.OutputPath = written
}
