package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/guseggert/procrunner/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

const helperEnv = "PROCRUNNER_RUNNER_HELPER"

func TestMain(m *testing.M) {
	if mode := os.Getenv(helperEnv); mode != "" {
		os.Exit(runHelper(mode, os.Args[1:]))
	}
	os.Exit(m.Run())
}

func runHelper(mode string, args []string) int {
	switch mode {
	case "output":
		fmt.Println("to stdout")
		fmt.Fprintln(os.Stderr, "to stderr")
	case "exit":
		code, _ := strconv.Atoi(args[0])
		fmt.Println("failing")
		return code
	case "sleep":
		time.Sleep(time.Hour)
	}
	return 0
}

func helperOptions(t *testing.T, mode string, args ...string) *process.Options {
	t.Helper()
	exe, err := os.Executable()
	require.NoError(t, err)
	opts := process.NewOptions(exe, args...)
	require.NoError(t, opts.SetEnv(helperEnv, mode))
	return opts
}

func observedRunner(o ...Option) (*Runner, *observer.ObservedLogs) {
	core, logs := observer.New(zap.InfoLevel)
	return New(append([]Option{WithLogger(zap.New(core))}, o...)...), logs
}

func messages(logs *observer.ObservedLogs) []string {
	var msgs []string
	for _, e := range logs.All() {
		if e.LoggerName == loggerName {
			msgs = append(msgs, e.Message)
		}
	}
	return msgs
}

func TestRunLogsOutput(t *testing.T) {
	cases := []struct {
		name      string
		logStdout bool
		logStderr bool
		expected  []string
	}{
		{name: "both", logStdout: true, logStderr: true, expected: []string{"  OUT: to stdout", "  ERR: to stderr"}},
		{name: "stdout only", logStdout: true, expected: []string{"  OUT: to stdout"}},
		{name: "stderr only", logStderr: true, expected: []string{"  ERR: to stderr"}},
		{name: "neither"},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			opts := helperOptions(t, "output")
			require.NoError(t, opts.SetLogStdout(c.logStdout))
			require.NoError(t, opts.SetLogStderr(c.logStderr))

			r, logs := observedRunner()
			res, err := r.Run(context.Background(), opts)
			require.NoError(t, err)
			assert.Equal(t, []string{"to stdout"}, res.Stdout)
			assert.Equal(t, []string{"to stderr"}, res.Stderr)

			msgs := messages(logs)
			require.NotEmpty(t, msgs)
			assert.Equal(t, opts.String(), msgs[0])
			// stdout and stderr lines have no defined relative order
			assert.ElementsMatch(t, c.expected, msgs[1:])
		})
	}
}

func TestRunErrorOnExitCode(t *testing.T) {
	r, _ := observedRunner()
	res, err := r.Run(context.Background(), helperOptions(t, "exit", "4"))

	var runErr *RunError
	require.True(t, errors.As(err, &runErr))
	assert.Same(t, res, runErr.Result)
	assert.Equal(t, 4, res.ExitCode)
	assert.Equal(t, process.StatusFinished, res.Status)
	assert.Equal(t, "failing", runErr.Error())
}

func TestRunErrorOnTimeout(t *testing.T) {
	opts := helperOptions(t, "sleep")
	require.NoError(t, opts.SetTimeout(100*time.Millisecond))

	r, _ := observedRunner(WithProcessOptions(process.WithPollInterval(10 * time.Millisecond)))
	res, err := r.Run(context.Background(), opts)

	var runErr *RunError
	require.True(t, errors.As(err, &runErr))
	assert.Equal(t, process.StatusTimedOut, res.Status)
	assert.Contains(t, runErr.Error(), "TimedOut")
}

func TestWithSuccess(t *testing.T) {
	r, _ := observedRunner(WithSuccess(func(res *process.Result) bool {
		return res.Success() && res.ExitCode == 4
	}))
	res, err := r.Run(context.Background(), helperOptions(t, "exit", "4"))
	require.NoError(t, err)
	assert.Equal(t, 4, res.ExitCode)
}

func TestWithHandler(t *testing.T) {
	var lines []string
	r, _ := observedRunner(
		WithHandler(process.EventStdout, func(e process.Event) { lines = append(lines, "out:"+e.Line) }),
		WithHandler(process.EventStderr, func(e process.Event) { lines = append(lines, "err:"+e.Line) }),
	)
	_, err := r.Run(context.Background(), helperOptions(t, "output"))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"out:to stdout", "err:to stderr"}, lines)
}

func TestLaunchErrorIsNotRunError(t *testing.T) {
	r, _ := observedRunner()
	_, err := r.Run(context.Background(), process.NewOptions("procrunner-missing-executable"))
	require.Error(t, err)

	var runErr *RunError
	assert.False(t, errors.As(err, &runErr))
}
