package modes

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// HeaderDecoder reads the fields that sit at fixed bit offsets: downlink
// format, extended squitter type code and the announced ICAO address.
// Every other field reports ErrUnavailable.
type HeaderDecoder struct{}

var _ Decoder = HeaderDecoder{}

func (HeaderDecoder) DownlinkFormat(msg string) (int, error) {
	b, err := messageBytes(msg, 1)
	if err != nil {
		return 0, err
	}
	df := int(b[0] >> 3)
	if df > 24 {
		// DF 24 and up share the "11" prefix; the remaining bits are payload.
		df = 24
	}
	return df, nil
}

func (d HeaderDecoder) TypeCode(msg string) (int, error) {
	df, err := d.DownlinkFormat(msg)
	if err != nil {
		return 0, err
	}
	if !IsExtendedSquitter(df) {
		return 0, fmt.Errorf("type code for df %d: %w", df, ErrUnavailable)
	}
	b, err := messageBytes(msg, 5)
	if err != nil {
		return 0, err
	}
	return int(b[4] >> 3), nil
}

func (d HeaderDecoder) ICAO(msg string) (string, error) {
	df, err := d.DownlinkFormat(msg)
	if err != nil {
		return "", err
	}
	switch df {
	case 11, 17, 18:
	default:
		// Address is overlaid on parity for the remaining formats.
		return "", fmt.Errorf("icao for df %d: %w", df, ErrUnavailable)
	}
	b, err := messageBytes(msg, 4)
	if err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(b[1:4])), nil
}

func (HeaderDecoder) Altitude(string) (int, error) { return 0, ErrUnavailable }

func (HeaderDecoder) Callsign(string) (string, error) { return "", ErrUnavailable }

func (HeaderDecoder) PositionWithRef(string, Reference) (Position, error) {
	return Position{}, ErrUnavailable
}

func (HeaderDecoder) Velocity(string) (Velocity, error) { return Velocity{}, ErrUnavailable }

// messageBytes decodes the first n bytes of msg. Characters past that prefix
// are not inspected.
func messageBytes(msg string, n int) ([]byte, error) {
	msg = strings.TrimSpace(msg)
	if len(msg) < 2*n {
		return nil, fmt.Errorf("%w: %d hex characters, need %d", ErrMalformed, len(msg), 2*n)
	}
	b, err := hex.DecodeString(msg[:2*n])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return b, nil
}
