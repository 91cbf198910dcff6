package transport

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
)

const readBufSize = 1024

// Stream adapts any io.ReadWriteCloser (serial port, pipe) to Transport.
type Stream struct {
	name    string
	rwc     io.ReadWriteCloser
	buf     []byte
	writeMu sync.Mutex
	closed  atomic.Bool
}

func NewStream(name string, rwc io.ReadWriteCloser) *Stream {
	return &Stream{
		name: name,
		rwc:  rwc,
		buf:  make([]byte, readBufSize),
	}
}

func (s *Stream) Name() string {
	return s.name
}

// ReadChunk must only be called from one goroutine at a time.
func (s *Stream) ReadChunk() ([]byte, error) {
	for {
		if s.closed.Load() {
			return nil, ErrCancelled
		}

		n, err := s.rwc.Read(s.buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, s.buf[:n])
			return chunk, nil
		}
		if err == nil {
			// Zero-length read from an inter-character timeout
			continue
		}

		if s.closed.Load() {
			return nil, ErrCancelled
		}
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("%w: read %s: %w", ErrIOFailure, s.name, err)
	}
}

func (s *Stream) Write(p []byte) error {
	if s.closed.Load() {
		return ErrAlreadyClosed
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	for len(p) > 0 {
		n, err := s.rwc.Write(p)
		if err != nil {
			return fmt.Errorf("%w: write %s: %w", ErrIOFailure, s.name, err)
		}
		p = p[n:]
	}
	return nil
}

func (s *Stream) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return ErrAlreadyClosed
	}
	if err := s.rwc.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %w", ErrIOFailure, s.name, err)
	}
	return nil
}
