package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultPollInterval bounds how long a timeout or cancellation can go unnoticed.
const DefaultPollInterval = 250 * time.Millisecond

const loggerName = "process"

var defaultLogger *zap.SugaredLogger

func init() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(fmt.Sprintf("error constructing default logger: %s", err))
	}
	defaultLogger = logger.Sugar().Named(loggerName)
}

type Option func(p *Process)

func WithLogger(l *zap.Logger) Option {
	return func(p *Process) {
		p.log = l.Named(loggerName).Sugar()
	}
}

// WithPollInterval sets how often the run checks for timeout and cancellation when no output arrives.
func WithPollInterval(d time.Duration) Option {
	return func(p *Process) {
		if d > 0 {
			p.pollInterval = d
		}
	}
}

// WithCommandHook registers a function that is called with the fully configured command just before it is started.
// It can be used to adjust launch parameters that Options does not cover, such as SysProcAttr.
func WithCommandHook(f func(cmd *exec.Cmd)) Option {
	return func(p *Process) {
		p.commandHooks = append(p.commandHooks, f)
	}
}

// Process runs an executable once, as described by its Options.
type Process struct {
	opts         *Options
	log          *zap.SugaredLogger
	pollInterval time.Duration
	commandHooks []func(*exec.Cmd)

	// handlers is only modified before Run.
	handlers map[EventType][]Handler
	result   *Result
	stdin    *stdinWriter

	// wake is signaled when events are queued or the run is cancelled.
	wake chan struct{}
	// wg tracks the stdin writer and the two readers.
	wg sync.WaitGroup

	mut       sync.Mutex
	ran       bool
	status    Status
	events    []Event
	cmd       *exec.Cmd
	stdio     *stdio
	killed    bool
	startTime time.Time
}

// New creates a Process for opts. The Process can be run once.
func New(opts *Options, o ...Option) *Process {
	p := &Process{
		opts:         opts,
		log:          defaultLogger,
		pollInterval: DefaultPollInterval,
		handlers:     map[EventType][]Handler{},
		result:       NewResult(opts.CommandLine()),
		stdin:        &stdinWriter{},
		wake:         make(chan struct{}, 1),
	}
	for _, opt := range o {
		opt(p)
	}
	p.handlers[EventStdout] = append(p.handlers[EventStdout], p.result.Observe)
	p.handlers[EventStderr] = append(p.handlers[EventStderr], p.result.Observe)
	return p
}

// Subscribe registers h for events of type t. Handlers run on the goroutine that calls Run, in registration order.
func (p *Process) Subscribe(t EventType, h Handler) error {
	p.mut.Lock()
	defer p.mut.Unlock()
	if p.ran {
		return ErrAlreadyStarted
	}
	p.handlers[t] = append(p.handlers[t], h)
	return nil
}

func (p *Process) Options() *Options { return p.opts }

// Result returns the result of the run. It is complete once Run has returned.
func (p *Process) Result() *Result { return p.result }

func (p *Process) Status() Status {
	p.mut.Lock()
	defer p.mut.Unlock()
	return p.status
}

// Stdin returns a writer to the child's standard input.
// Text written before the child has started is buffered and sent as soon as it starts.
// Unless auto-close is disabled in the Options, standard input is closed after the buffered text has been sent, and writes fail.
func (p *Process) Stdin() io.WriteCloser { return p.stdin }

// Cancel kills the child, or prevents it from starting. It has no effect once the run has finished, timed out, or was already cancelled.
// Cancel does not wait for the run to end.
func (p *Process) Cancel() {
	p.mut.Lock()
	defer p.mut.Unlock()
	if p.status == StatusNotStarted || p.status == StatusStarted {
		p.log.Debugw("cancelling", "FileName", p.opts.FileName(), "Status", p.status)
		p.status = StatusCancelled
		p.signal()
	}
}

// signal wakes the goroutine running Run without blocking.
func (p *Process) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Run starts the child and blocks until it has exited and all of its output has been dispatched.
// If ctx is done before that, the run is cancelled.
//
// Errors are only returned when the run could not begin: a second call returns ErrAlreadyStarted, and failing to launch
// the executable returns the launch error. Timeout, cancellation and the exit code are reported in the Result.
func (p *Process) Run(ctx context.Context) (*Result, error) {
	p.mut.Lock()
	if p.ran {
		p.mut.Unlock()
		return nil, ErrAlreadyStarted
	}
	p.ran = true
	p.mut.Unlock()

	p.opts.freeze()
	p.result.CommandLine = p.opts.CommandLine()

	// the options' text goes after anything the caller already wrote to Stdin
	if text := p.opts.StandardInput(); text != "" {
		_, _ = p.stdin.Write([]byte(text))
	}
	if p.opts.AutoCloseStdin() {
		_ = p.stdin.Close()
	}

	if ctx.Err() != nil {
		p.Cancel()
	}

	started, err := p.start()
	if err != nil {
		return nil, err
	}
	if started {
		p.supervise(ctx)
	}

	p.mut.Lock()
	if p.status == StatusStarted {
		p.status = StatusFinished
	}
	p.result.Status = p.status
	p.mut.Unlock()

	p.log.Debugw("run complete", "CommandLine", p.result.CommandLine, "Status", p.result.Status, "ExitCode", p.result.ExitCode)
	return p.result, nil
}

// start launches the child unless the run was cancelled first. It returns whether the child was started.
func (p *Process) start() (bool, error) {
	cmd := p.opts.command()
	cmd.Dir = p.opts.WorkingDir()
	cmd.Env = p.opts.environ(os.Environ())
	for _, hook := range p.commandHooks {
		hook(cmd)
	}

	pipes, err := newStdio()
	if err != nil {
		return false, err
	}
	cmd.Stdin = pipes.stdinR
	cmd.Stdout = pipes.stdoutW
	cmd.Stderr = pipes.stderrW

	p.mut.Lock()
	defer p.mut.Unlock()
	if p.status != StatusNotStarted {
		pipes.close()
		return false, nil
	}

	p.log.Debugw("starting process", "CommandLine", p.result.CommandLine, "Dir", cmd.Dir)
	if err := cmd.Start(); err != nil {
		pipes.close()
		return false, fmt.Errorf("starting %q: %w", p.opts.FileName(), err)
	}
	if err := pipes.closeChildEnds(); err != nil {
		p.log.Debugf("error closing child ends of pipes: %s", err)
	}

	p.cmd = cmd
	p.stdio = pipes
	p.status = StatusStarted
	p.startTime = time.Now()
	return true, nil
}

// supervise runs the dispatch loop until the child has exited and the workers have joined, then records the exit code.
func (p *Process) supervise(ctx context.Context) {
	stdinEnc, stdoutEnc, stderrEnc := p.opts.encodings()

	exited := make(chan struct{})
	var waitErr error
	go func() {
		waitErr = p.cmd.Wait()
		close(exited)
	}()

	// queued ahead of any output
	p.enqueue(Event{Type: EventStarted, Process: p})

	p.wg.Add(3)
	go p.writeStdin(encodeWriter(p.stdio.stdinW, stdinEnc))
	go p.readLines(decodeReader(p.stdio.stdoutR, stdoutEnc), EventStdout)
	go p.readLines(decodeReader(p.stdio.stderrR, stderrEnc), EventStderr)

	p.dispatch()

	var deadline time.Time
	if timeout := p.opts.Timeout(); timeout > 0 {
		deadline = p.startTime.Add(timeout)
	}

	workersDone := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(workersDone)
	}()

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	// Cancellation and timeout still apply after exit, until the readers reach EOF.
	done := ctx.Done()
	readersClosed := false
	for exitedCh, workersCh := exited, workersDone; exitedCh != nil || workersCh != nil; {
		select {
		case <-p.wake:
		case <-ticker.C:
		case <-done:
			p.log.Debugw("context done, cancelling run", "Error", ctx.Err())
			p.Cancel()
			done = nil
		case <-exitedCh:
			exitedCh = nil
		case <-workersCh:
			workersCh = nil
		}
		p.dispatch()
		if exitedCh != nil || workersCh != nil {
			p.checkTermination(deadline)
		}

		// A killed child may leave output unread, and a grandchild may hold the pipes open.
		// Once the child is gone the readers are told to stop and unblocked.
		if exitedCh == nil && !readersClosed && p.Status() != StatusStarted {
			readersClosed = true
			if err := p.stdio.closeReaders(); err != nil {
				p.log.Debugf("error closing output pipes: %s", err)
			}
		}
	}

	if err := p.stdin.release(); err != nil {
		p.log.Debugf("error closing stdin: %s", err)
	}
	if err := p.stdio.close(); err != nil {
		p.log.Debugf("error closing pipes: %s", err)
	}

	p.dispatch()

	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		p.log.Debugf("unexpected wait error: %s", waitErr)
	}
	p.result.ExitCode = p.cmd.ProcessState.ExitCode()
	p.result.Duration = time.Since(p.startTime)
}

// checkTermination kills the child once, if the run timed out or was cancelled.
func (p *Process) checkTermination(deadline time.Time) {
	p.mut.Lock()
	defer p.mut.Unlock()
	if p.killed {
		return
	}
	switch {
	case p.status == StatusStarted && !deadline.IsZero() && time.Now().After(deadline):
		p.log.Debugw("timed out, killing process", "CommandLine", p.result.CommandLine, "Timeout", p.opts.Timeout())
		p.status = StatusTimedOut
		p.kill()
	case p.status == StatusCancelled:
		p.kill()
	}
}

func (p *Process) kill() {
	p.killed = true
	err := p.cmd.Process.Kill()
	if err != nil && !errors.Is(err, os.ErrProcessDone) {
		p.log.Debugf("error killing process %d: %s", p.cmd.Process.Pid, err)
	}
}

func (p *Process) enqueue(e Event) {
	p.mut.Lock()
	defer p.mut.Unlock()
	p.events = append(p.events, e)
	p.signal()
}

// enqueueWhileStarted queues e unless the run has left StatusStarted, and reports whether it did.
func (p *Process) enqueueWhileStarted(e Event) bool {
	p.mut.Lock()
	defer p.mut.Unlock()
	if p.status != StatusStarted {
		return false
	}
	p.events = append(p.events, e)
	p.signal()
	return true
}

// dispatch delivers queued events to the handlers. It must only be called from the goroutine running Run.
// Handlers are called without holding the lock, so they may call Cancel or write to Stdin.
func (p *Process) dispatch() {
	for {
		p.mut.Lock()
		events := p.events
		p.events = nil
		p.mut.Unlock()

		if len(events) == 0 {
			return
		}
		for _, e := range events {
			for _, h := range p.handlers[e.Type] {
				h(e)
			}
		}
	}
}

func (p *Process) writeStdin(w io.WriteCloser) {
	defer p.wg.Done()
	if err := p.stdin.attach(w); err != nil {
		p.log.Debugf("stdin writer got write error: %s", err)
	}
}

func (p *Process) readLines(r io.Reader, t EventType) {
	defer p.wg.Done()
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if len(line) > 0 {
			line = strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")
			if !p.enqueueWhileStarted(Event{Type: t, Process: p, Line: line}) {
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				p.log.Debugf("%s reader got error: %s", t, err)
			}
			return
		}
	}
}

// RunOptions runs the executable described by opts.
func RunOptions(ctx context.Context, opts *Options) (*Result, error) {
	return New(opts).Run(ctx)
}

// Run runs fileName with args, each added with Options.Add.
func Run(ctx context.Context, fileName string, args ...string) (*Result, error) {
	return RunOptions(ctx, NewOptions(fileName, args...))
}

// RunWithTimeout is Run with a timeout.
func RunWithTimeout(ctx context.Context, timeout time.Duration, fileName string, args ...string) (*Result, error) {
	opts := NewOptions(fileName, args...)
	if err := opts.SetTimeout(timeout); err != nil {
		return nil, err
	}
	return RunOptions(ctx, opts)
}
