package wsrun

import (
	"fmt"
	"time"

	"github.com/guseggert/procrunner/process"
)

// RunRequest describes a process to run on the server.
type RunRequest struct {
	Command string
	// Args are passed to the child exactly as given. An empty argument is rejected.
	Args       []string
	Env        map[string]string
	WorkingDir string
	Timeout    time.Duration
	// Stdin is sent before anything written through the Run.
	Stdin string
	// KeepStdinOpen leaves standard input open after Stdin is sent, until the client closes it.
	KeepStdinOpen bool
}

// Options builds the process options for the request.
func (r RunRequest) Options() (*process.Options, error) {
	if r.Command == "" {
		return nil, fmt.Errorf("request contained no command")
	}
	opts := process.NewOptions(r.Command)
	for i, a := range r.Args {
		if !opts.AddEscaped(a) {
			return nil, fmt.Errorf("argument %d is empty", i)
		}
	}
	for k, v := range r.Env {
		if err := opts.SetEnv(k, v); err != nil {
			return nil, err
		}
	}
	if err := opts.SetWorkingDir(r.WorkingDir); err != nil {
		return nil, err
	}
	if err := opts.SetTimeout(r.Timeout); err != nil {
		return nil, err
	}
	if err := opts.Append(r.Stdin); err != nil {
		return nil, err
	}
	if err := opts.SetAutoCloseStdin(!r.KeepStdinOpen); err != nil {
		return nil, err
	}
	return opts, nil
}

// requestMessage is a client->server message.
// Only the first message contains Req. Subsequent messages carry stdin or a cancellation.
type requestMessage struct {
	Req *RunRequest `json:",omitempty"`

	Stdin     string `json:",omitempty"`
	StdinDone bool   `json:",omitempty"`

	Cancel bool `json:",omitempty"`
}

const (
	msgStarted = "started"
	msgStdout  = "stdout"
	msgStderr  = "stderr"
	msgExited  = "exited"
	msgError   = "error"
)

// responseMessage is a server->client message.
// The first message is "started", or "error" if the process could not be launched.
// The last message is "exited", and carries the outcome of the run.
type responseMessage struct {
	Type string

	CommandLine string `json:",omitempty"`
	Line        string `json:",omitempty"`
	Err         string `json:",omitempty"`

	ExitCode int
	Status   process.Status
	TimeMS   int64 `json:",omitempty"`
}

func eventType(msgType string) (process.EventType, bool) {
	switch msgType {
	case msgStarted:
		return process.EventStarted, true
	case msgStdout:
		return process.EventStdout, true
	case msgStderr:
		return process.EventStderr, true
	}
	return 0, false
}
