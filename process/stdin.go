package process

import (
	"io"
	"sync"
)

// stdinWriter buffers writes until the child's standard input exists and then writes through to it.
// One lock covers both the buffer flush and direct writes, so they never interleave.
//
// It does not share the process lock: a write can block on a full pipe while the child is itself blocked writing
// output, and the readers need the process lock to drain that output.
type stdinWriter struct {
	mut    sync.Mutex
	buf    []byte
	w      io.WriteCloser
	closed bool
	// done is set once the pipe has been closed
	done bool
}

// attach connects the writer to the pipe and flushes the buffer.
// If Close was called before, the pipe is closed after flushing.
func (s *stdinWriter) attach(w io.WriteCloser) error {
	s.mut.Lock()
	defer s.mut.Unlock()
	s.w = w
	return s.flushLocked()
}

func (s *stdinWriter) flushLocked() error {
	if s.w == nil || s.done {
		return nil
	}
	if len(s.buf) > 0 {
		_, err := s.w.Write(s.buf)
		s.buf = nil
		if err != nil {
			s.done = true
			s.w.Close()
			return err
		}
	}
	if s.closed {
		s.done = true
		return s.w.Close()
	}
	return nil
}

func (s *stdinWriter) Write(p []byte) (int, error) {
	s.mut.Lock()
	defer s.mut.Unlock()
	if s.closed || s.done {
		return 0, io.ErrClosedPipe
	}
	if s.w == nil {
		s.buf = append(s.buf, p...)
		return len(p), nil
	}
	if err := s.flushLocked(); err != nil {
		return 0, err
	}
	return s.w.Write(p)
}

// Close closes standard input once everything written so far has been flushed.
// Before the child starts this only marks the writer closed.
func (s *stdinWriter) Close() error {
	s.mut.Lock()
	defer s.mut.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.flushLocked()
}

// release closes the pipe regardless of what the user did, at the end of a run.
func (s *stdinWriter) release() error {
	s.mut.Lock()
	defer s.mut.Unlock()
	s.closed = true
	if s.w == nil || s.done {
		return nil
	}
	s.done = true
	s.buf = nil
	return s.w.Close()
}
