package framer

import (
	"bytes"
	"iter"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
)

const (
	// Delimiter terminates every frame on the link.
	Delimiter byte = '\n'

	// ErrorMarker is the byte the receiver UART emits on a physical-layer
	// receive error. It can appear anywhere in a chunk, inside or outside a frame.
	ErrorMarker byte = 0xFF
)

// Frame is one delimited line from the link.
//
// Raw holds the bytes exactly as received (without the delimiter). Text is the
// lossy UTF-8 decoding of Raw: invalid sequences are replaced with U+FFFD so a
// corrupted byte never hides the rest of the line.
type Frame struct {
	Raw  []byte
	Text string
}

// Len returns the decoded length of the frame in characters.
func (f Frame) Len() int {
	return utf8.RuneCountInString(f.Text)
}

// Framer reassembles arbitrarily chunked reads into frames.
//
// A Framer owns its buffer; use one instance per byte source. It is not safe
// for concurrent use.
type Framer struct {
	buf []byte
	dec *encoding.Decoder
}

func New() *Framer {
	return &Framer{dec: unicode.UTF8.NewDecoder()}
}

// Append adds chunk to the buffer and returns the frames that are now
// complete, in stream order.
//
// The chunk is copied before Append returns. Frames are removed from the
// buffer as the sequence yields them; if the caller stops ranging early the
// remaining frames stay buffered and are yielded by the next Append.
func (f *Framer) Append(chunk []byte) iter.Seq[Frame] {
	if len(chunk) > 0 {
		f.buf = append(f.buf, chunk...)
	}
	return f.drain
}

func (f *Framer) drain(yield func(Frame) bool) {
	for {
		i := bytes.IndexByte(f.buf, Delimiter)
		if i < 0 {
			return
		}
		raw := append([]byte(nil), f.buf[:i]...)
		f.buf = append(f.buf[:0], f.buf[i+1:]...)
		if !yield(Frame{Raw: raw, Text: f.decode(raw)}) {
			return
		}
	}
}

// Buffered returns the number of bytes received after the last emitted
// delimiter.
func (f *Framer) Buffered() int {
	return len(f.buf)
}

// Reset abandons any partially received frame.
func (f *Framer) Reset() {
	f.buf = f.buf[:0]
}

func (f *Framer) decode(raw []byte) string {
	if utf8.Valid(raw) {
		return string(raw)
	}
	out, err := f.dec.Bytes(raw)
	if err != nil {
		// The UTF-8 decoder replaces rather than fails; keep a fallback anyway.
		return string(bytes.ToValidUTF8(raw, []byte(string(utf8.RuneError))))
	}
	return string(out)
}

// ContainsErrorMarker reports whether chunk carries a receive error marker.
func ContainsErrorMarker(chunk []byte) bool {
	return bytes.IndexByte(chunk, ErrorMarker) >= 0
}
