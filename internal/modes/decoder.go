// Package modes classifies Mode S messages and routes extended squitters to
// field decoders.
//
// Field-level decoding (altitude, callsign, CPR position, velocity) is not
// done here. It is delegated to a Decoder, normally an external decoder
// process; HeaderDecoder covers only the fixed-offset header fields.
package modes

import "errors"

var (
	// ErrUnavailable means the decoder could not produce the field for this
	// message (wrong type, insufficient data, decoder gave up).
	ErrUnavailable = errors.New("field not available")

	// ErrMalformed means the message payload is not valid hex.
	ErrMalformed = errors.New("malformed message hex")
)

// Decoder is the field decoding capability. msg is the message payload in hex.
//
// Implementations return ErrUnavailable (possibly wrapped) when a field
// cannot be produced.
type Decoder interface {
	DownlinkFormat(msg string) (int, error)
	TypeCode(msg string) (int, error)
	Altitude(msg string) (int, error)
	Callsign(msg string) (string, error)
	PositionWithRef(msg string, ref Reference) (Position, error)
	Velocity(msg string) (Velocity, error)
	ICAO(msg string) (string, error)
}

// Reference is the receiver location used to resolve single-message CPR
// position ambiguity.
type Reference struct {
	LatDeg float64 `yaml:"lat_deg" json:"lat_deg"`
	LonDeg float64 `yaml:"lon_deg" json:"lon_deg"`
}

// DefaultReference is the field site the receiver was first deployed at.
var DefaultReference = Reference{LatDeg: -34.92277194587654, LonDeg: 138.6247827720262}

type Position struct {
	LatDeg float64 `json:"lat_deg"`
	LonDeg float64 `json:"lon_deg"`
}

type Velocity struct {
	SpeedKt         float64 `json:"speed_kt"`
	HeadingDeg      float64 `json:"heading_deg"`
	VerticalRateFPM int     `json:"vertical_rate_fpm"`
	SpeedType       string  `json:"speed_type,omitempty"`
}
