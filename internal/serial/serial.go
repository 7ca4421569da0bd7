// Package serial provides the byte sources the receiver streams from: a
// non-blocking termios tty, a go.bug.st/serial port with a short read timeout,
// and a replay of a previously captured stream.
package serial

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrWouldBlock reports that no bytes were available on this poll.
	ErrWouldBlock = errors.New("serial: no data available")
	// ErrClosed reports that the source can no longer produce bytes.
	ErrClosed = errors.New("serial: source closed")
)

// Source is a polled byte stream. Read returns n > 0 with a nil error, or
// ErrWouldBlock, or an error wrapping ErrClosed.
type Source interface {
	Read(p []byte) (int, error)
	Close() error
}

const (
	BackendTermios = "termios"
	BackendBugst   = "bugst"
	BackendReplay  = "replay"
)

type Config struct {
	Backend string
	Device  string
	Baud    int

	// ReadTimeout is the per-read wait used by the bugst backend.
	ReadTimeout time.Duration

	ReplayPath  string
	ReplayChunk int
	// ReplayIdle inserts an idle poll between replayed chunks.
	ReplayIdle  bool
}

// Open selects a backend by name. An empty backend means termios.
func Open(cfg Config) (Source, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendTermios:
		return openTermios(cfg.Device, cfg.Baud)
	case BackendBugst:
		return openBugst(cfg.Device, cfg.Baud, cfg.ReadTimeout)
	case BackendReplay:
		return OpenReplay(cfg.ReplayPath, cfg.ReplayChunk, cfg.ReplayIdle)
	default:
		return nil, fmt.Errorf("unknown serial backend %q", cfg.Backend)
	}
}
