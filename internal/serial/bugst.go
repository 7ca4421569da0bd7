package serial

import (
	"fmt"
	"sync"
	"time"

	bugst "go.bug.st/serial"
)

type portReader interface {
	Read(p []byte) (int, error)
	Close() error
}

// bugstSource polls a go.bug.st/serial port with a short read timeout. A read
// that times out with no bytes is reported as ErrWouldBlock.
type bugstSource struct {
	mu     sync.Mutex
	port   portReader
	closed bool
}

func openBugst(path string, baud int, timeout time.Duration) (Source, error) {
	if path == "" {
		return nil, fmt.Errorf("serial device path is required")
	}
	if baud <= 0 {
		baud = 115200
	}
	if timeout <= 0 {
		timeout = 10 * time.Millisecond
	}
	mode := &bugst.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   bugst.NoParity,
		StopBits: bugst.OneStopBit,
	}
	port, err := bugst.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := port.SetReadTimeout(timeout); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("set read timeout: %w", err)
	}
	if err := port.ResetInputBuffer(); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("flush input: %w", err)
	}
	return &bugstSource{port: port}, nil
}

func (s *bugstSource) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	n, err := s.port.Read(p)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrClosed, err)
	}
	if n == 0 {
		return 0, ErrWouldBlock
	}
	return n, nil
}

func (s *bugstSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.port.Close()
}
