// Package capture persists received frames as text, one frame per line, and
// reads such captures back for replay.
//
// A path ending in .gz is gzip compressed and .zst is zstd compressed; any
// other path is plain text.
package capture

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

type Compression int

const (
	CompressNone Compression = iota
	CompressGzip
	CompressZstd
)

func (c Compression) String() string {
	switch c {
	case CompressGzip:
		return "gzip"
	case CompressZstd:
		return "zstd"
	default:
		return "none"
	}
}

// CompressionFor infers the compression from the file extension.
func CompressionFor(path string) Compression {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gz":
		return CompressGzip
	case ".zst", ".zstd":
		return CompressZstd
	default:
		return CompressNone
	}
}

var ErrWriterClosed = errors.New("capture writer is closed")

type Writer struct {
	f      *os.File
	zw     io.WriteCloser
	w      *bufio.Writer
	frames int
	closed bool
}

// Create truncates path and returns a writer for it.
func Create(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	var dst io.Writer = f
	var zw io.WriteCloser
	switch CompressionFor(path) {
	case CompressGzip:
		zw = gzip.NewWriter(f)
	case CompressZstd:
		enc, err := zstd.NewWriter(f)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("zstd writer: %w", err)
		}
		zw = enc
	}
	if zw != nil {
		dst = zw
	}
	return &Writer{f: f, zw: zw, w: bufio.NewWriterSize(dst, 64*1024)}, nil
}

// WriteFrame appends one frame followed by a newline. The frame text is
// written as received; it must not contain a newline itself.
func (cw *Writer) WriteFrame(text string) error {
	if cw.closed {
		return ErrWriterClosed
	}
	if strings.IndexByte(text, '\n') >= 0 {
		return fmt.Errorf("frame contains a newline")
	}
	if _, err := cw.w.WriteString(text); err != nil {
		return err
	}
	if err := cw.w.WriteByte('\n'); err != nil {
		return err
	}
	cw.frames++
	return nil
}

// Frames is the number of frames written so far.
func (cw *Writer) Frames() int {
	return cw.frames
}

func (cw *Writer) Flush() error {
	if cw.closed {
		return nil
	}
	return cw.w.Flush()
}

func (cw *Writer) Close() error {
	if cw.closed {
		return nil
	}
	cw.closed = true
	err := cw.w.Flush()
	if cw.zw != nil {
		if zerr := cw.zw.Close(); err == nil {
			err = zerr
		}
	}
	if ferr := cw.f.Close(); err == nil {
		err = ferr
	}
	return err
}

// Open returns the decompressed byte stream of a capture file.
func Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	switch CompressionFor(path) {
	case CompressGzip:
		zr, err := gzip.NewReader(f)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("gzip reader: %w", err)
		}
		return &stackedReadCloser{Reader: zr, closers: []io.Closer{zr, f}}, nil
	case CompressZstd:
		dec, err := zstd.NewReader(f)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("zstd reader: %w", err)
		}
		zr := dec.IOReadCloser()
		return &stackedReadCloser{Reader: zr, closers: []io.Closer{zr, f}}, nil
	default:
		return f, nil
	}
}

type stackedReadCloser struct {
	io.Reader
	closers []io.Closer
}

func (s *stackedReadCloser) Close() error {
	var first error
	for _, c := range s.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// ReadFrames returns every line of a capture stream, without the newline.
func ReadFrames(r io.Reader) ([]string, error) {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var out []string
	for s.Scan() {
		out = append(out, s.Text())
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
