package iq

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// TailHexChars is the width of an I/Q tail: 8 hex characters for I followed
// by 8 for Q.
const TailHexChars = 16

var ErrMalformedHex = errors.New("malformed i/q hex")

// TailPolicy selects how Decode treats tails that are not exactly
// TailHexChars wide.
type TailPolicy int

const (
	// TailStrict rejects any tail that is not exactly 16 hex characters.
	TailStrict TailPolicy = iota
	// TailPad strips a 0x prefix, underscores and spaces, left-pads with
	// zeros to 16 characters and keeps the first 16.
	TailPad
)

func (p TailPolicy) String() string {
	switch p {
	case TailStrict:
		return "strict"
	case TailPad:
		return "pad"
	default:
		return fmt.Sprintf("TailPolicy(%d)", int(p))
	}
}

// ParseTailPolicy maps a config value to a policy. Empty selects TailStrict.
func ParseTailPolicy(s string) (TailPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "strict":
		return TailStrict, nil
	case "pad":
		return TailPad, nil
	default:
		return TailStrict, fmt.Errorf("unknown tail policy %q (want strict or pad)", s)
	}
}

// Sample is one I/Q pair as reported by the receiver.
type Sample struct {
	I int32 `json:"i"`
	Q int32 `json:"q"`
}

// Hex returns the tail encoding of s.
func (s Sample) Hex() string {
	var b [8]byte
	binary.BigEndian.PutUint32(b[:4], uint32(s.I))
	binary.BigEndian.PutUint32(b[4:], uint32(s.Q))
	return strings.ToUpper(hex.EncodeToString(b[:]))
}

// Decode parses a hex I/Q tail. Each half is a big-endian two's-complement
// int32. Errors wrap ErrMalformedHex.
func Decode(tail string, policy TailPolicy) (Sample, error) {
	h := tail
	if policy == TailPad {
		h = padTail(h)
	}
	if len(h) != TailHexChars {
		return Sample{}, fmt.Errorf("%w: tail is %d bytes, want %d", ErrMalformedHex, len(h), TailHexChars)
	}

	var b [TailHexChars / 2]byte
	if _, err := hex.Decode(b[:], []byte(h)); err != nil {
		return Sample{}, fmt.Errorf("%w: %v", ErrMalformedHex, err)
	}
	return Sample{
		I: int32(binary.BigEndian.Uint32(b[:4])),
		Q: int32(binary.BigEndian.Uint32(b[4:])),
	}, nil
}

func padTail(h string) string {
	h = strings.TrimSpace(h)
	if strings.HasPrefix(h, "0x") || strings.HasPrefix(h, "0X") {
		h = h[2:]
	}
	h = strings.ReplaceAll(h, "_", "")
	h = strings.ReplaceAll(h, " ", "")
	if len(h) < TailHexChars {
		h = strings.Repeat("0", TailHexChars-len(h)) + h
	}
	return h[:TailHexChars]
}
