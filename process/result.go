package process

import (
	"strings"
	"time"
)

// Result holds the outcome of running a Process.
// It is filled in by the process's own event handler, so during a run it must only be read from handlers.
type Result struct {
	CommandLine string
	// ExitCode is -1 until the child has exited.
	ExitCode int
	Status   Status
	Duration time.Duration

	Stdout []string
	Stderr []string
	// AllOutput interleaves Stdout and Stderr in the order the lines were dispatched.
	// Lines of one stream keep their relative order, but the interleaving between the streams is not chronological.
	AllOutput []string
}

// NewResult creates an empty Result for the given command line.
func NewResult(commandLine string) *Result {
	return &Result{
		CommandLine: commandLine,
		ExitCode:    -1,
		Status:      StatusNotStarted,
		Stdout:      []string{},
		Stderr:      []string{},
		AllOutput:   []string{},
	}
}

// Observe adds the line of a stdout or stderr event. Other events are ignored.
func (r *Result) Observe(e Event) {
	switch e.Type {
	case EventStdout:
		r.Stdout = append(r.Stdout, e.Line)
		r.AllOutput = append(r.AllOutput, e.Line)
	case EventStderr:
		r.Stderr = append(r.Stderr, e.Line)
		r.AllOutput = append(r.AllOutput, e.Line)
	}
}

// Success reports whether the child ran to completion, i.e. it was neither cancelled nor timed out.
// The exit code is not considered.
func (r *Result) Success() bool {
	return r.Status == StatusFinished
}

func (r *Result) StdoutText() string    { return strings.Join(r.Stdout, "\n") }
func (r *Result) StderrText() string    { return strings.Join(r.Stderr, "\n") }
func (r *Result) AllOutputText() string { return strings.Join(r.AllOutput, "\n") }
