package process

import (
	"errors"
	"fmt"
	"os"

	"go.uber.org/multierr"
)

// stdio holds both ends of the three pipes connecting a child's standard streams.
// The child ends are closed in the parent once the child has started.
type stdio struct {
	stdinR, stdinW   *os.File
	stdoutR, stdoutW *os.File
	stderrR, stderrW *os.File
}

func newStdio() (*stdio, error) {
	s := &stdio{}
	var err error
	if s.stdinR, s.stdinW, err = os.Pipe(); err != nil {
		return nil, fmt.Errorf("creating stdin pipe: %w", err)
	}
	if s.stdoutR, s.stdoutW, err = os.Pipe(); err != nil {
		s.close()
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	if s.stderrR, s.stderrW, err = os.Pipe(); err != nil {
		s.close()
		return nil, fmt.Errorf("creating stderr pipe: %w", err)
	}
	return s, nil
}

func closeFile(f *os.File) error {
	if f == nil {
		return nil
	}
	if err := f.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return err
	}
	return nil
}

func closeFiles(files ...*os.File) error {
	var err error
	for _, f := range files {
		err = multierr.Append(err, closeFile(f))
	}
	return err
}

func (s *stdio) closeChildEnds() error {
	return closeFiles(s.stdinR, s.stdoutW, s.stderrW)
}

func (s *stdio) closeReaders() error {
	return closeFiles(s.stdoutR, s.stderrR)
}

func (s *stdio) close() error {
	return closeFiles(s.stdinR, s.stdinW, s.stdoutR, s.stdoutW, s.stderrR, s.stderrW)
}
