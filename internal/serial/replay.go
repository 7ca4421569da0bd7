package serial

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"squitter-iq/internal/capture"
)

// ReplaySource feeds a captured stream back in fixed-size chunks, so chunk
// boundaries fall mid-frame the way they do on a live link. With interleave
// set every other poll reports ErrWouldBlock, which exercises the idle path
// at the cost of one poll interval per chunk. End of file is reported as
// ErrClosed wrapping io.EOF.
type ReplaySource struct {
	mu         sync.Mutex
	r          io.ReadCloser
	chunk      int
	interleave bool
	idle       bool
	closed     bool
}

// OpenReplay opens a capture file; compression is inferred from the extension.
func OpenReplay(path string, chunk int, interleave bool) (*ReplaySource, error) {
	if path == "" {
		return nil, fmt.Errorf("replay path is required")
	}
	r, err := capture.Open(path)
	if err != nil {
		return nil, err
	}
	return NewReplay(r, chunk, interleave), nil
}

// NewReplay wraps an already open stream. chunk <= 0 selects 37 bytes.
func NewReplay(r io.ReadCloser, chunk int, interleave bool) *ReplaySource {
	if chunk <= 0 {
		chunk = 37
	}
	return &ReplaySource{r: r, chunk: chunk, interleave: interleave}
}

func (s *ReplaySource) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	if s.interleave {
		s.idle = !s.idle
		if !s.idle {
			return 0, ErrWouldBlock
		}
	}
	if len(p) > s.chunk {
		p = p[:s.chunk]
	}
	n, err := s.r.Read(p)
	if n > 0 {
		return n, nil
	}
	if err == nil {
		return 0, ErrWouldBlock
	}
	if errors.Is(err, io.EOF) {
		return 0, fmt.Errorf("%w: end of replay: %w", ErrClosed, io.EOF)
	}
	return 0, fmt.Errorf("%w: %v", ErrClosed, err)
}

func (s *ReplaySource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.r.Close()
}
