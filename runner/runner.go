// Package runner runs processes and logs what they do.
//
// A Runner logs the command line when a run starts and each line of output as it arrives, and turns unsuccessful runs
// into errors that carry the child's output.
package runner

import (
	"context"
	"fmt"

	"github.com/guseggert/procrunner/process"
	"go.uber.org/zap"
)

const loggerName = "runner"

var defaultLogger *zap.SugaredLogger

func init() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(fmt.Sprintf("error constructing default logger: %s", err))
	}
	defaultLogger = logger.Sugar().Named(loggerName)
}

type subscription struct {
	t process.EventType
	h process.Handler
}

type Runner struct {
	log           *zap.SugaredLogger
	processLogger *zap.Logger
	subscriptions []subscription
	processOpts   []process.Option
	success       func(*process.Result) bool
}

type Option func(r *Runner)

// WithLogger sets the logger for the runner and the processes it runs.
func WithLogger(l *zap.Logger) Option {
	return func(r *Runner) {
		r.log = l.Named(loggerName).Sugar()
		r.processLogger = l
	}
}

// WithHandler subscribes h to events of type t on every process the runner runs.
func WithHandler(t process.EventType, h process.Handler) Option {
	return func(r *Runner) {
		r.subscriptions = append(r.subscriptions, subscription{t: t, h: h})
	}
}

// WithSuccess replaces the check that decides whether a run failed.
// By default a run succeeds if it finished with exit code 0.
func WithSuccess(f func(*process.Result) bool) Option {
	return func(r *Runner) {
		r.success = f
	}
}

// WithProcessOptions passes options through to every process the runner creates.
func WithProcessOptions(o ...process.Option) Option {
	return func(r *Runner) {
		r.processOpts = append(r.processOpts, o...)
	}
}

func New(o ...Option) *Runner {
	r := &Runner{
		log:     defaultLogger,
		success: Succeeded,
	}
	for _, opt := range o {
		opt(r)
	}
	return r
}

// Succeeded reports whether res finished with exit code 0.
func Succeeded(res *process.Result) bool {
	return res.Success() && res.ExitCode == 0
}

// Process creates a process for opts with the runner's logging and handlers subscribed, without running it.
func (r *Runner) Process(opts *process.Options) (*process.Process, error) {
	var popts []process.Option
	if r.processLogger != nil {
		popts = append(popts, process.WithLogger(r.processLogger))
	}
	p := process.New(opts, append(popts, r.processOpts...)...)

	if err := p.Subscribe(process.EventStarted, func(e process.Event) {
		r.log.Info(e.Process.Options().String())
	}); err != nil {
		return nil, err
	}
	if opts.LogStdout() {
		if err := p.Subscribe(process.EventStdout, func(e process.Event) {
			r.log.Info("  OUT: " + e.Line)
		}); err != nil {
			return nil, err
		}
	}
	if opts.LogStderr() {
		if err := p.Subscribe(process.EventStderr, func(e process.Event) {
			r.log.Info("  ERR: " + e.Line)
		}); err != nil {
			return nil, err
		}
	}
	for _, s := range r.subscriptions {
		if err := p.Subscribe(s.t, s.h); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Run runs opts to completion. The result is returned even when the run failed, along with a *RunError.
func (r *Runner) Run(ctx context.Context, opts *process.Options) (*process.Result, error) {
	p, err := r.Process(opts)
	if err != nil {
		return nil, err
	}
	res, err := p.Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("running %s: %w", opts.FileName(), err)
	}
	if !r.success(res) {
		r.log.Debugw("run failed", "CommandLine", res.CommandLine, "Status", res.Status, "ExitCode", res.ExitCode)
		return res, &RunError{Result: res}
	}
	return res, nil
}

// RunError is returned for a run that did not succeed. Its message is the combined output of the child.
type RunError struct {
	Result *process.Result
}

func (e *RunError) Error() string {
	if out := e.Result.AllOutputText(); out != "" {
		return out
	}
	return fmt.Sprintf("%s: %s with exit code %d", e.Result.CommandLine, e.Result.Status, e.Result.ExitCode)
}
