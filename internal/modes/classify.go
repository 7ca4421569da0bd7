package modes

import (
	"encoding/json"
	"errors"
	"fmt"
)

type State int

const (
	// StateIgnored: not an extended squitter, nothing else was queried.
	StateIgnored State = iota
	// StateDispatched: DF 17/18, type code looked up and field requests made.
	StateDispatched
)

func (s State) String() string {
	switch s {
	case StateIgnored:
		return "ignored"
	case StateDispatched:
		return "dispatched"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "ignored":
		*s = StateIgnored
	case "dispatched":
		*s = StateDispatched
	default:
		return fmt.Errorf("unknown state %q", b)
	}
	return nil
}

type Field string

const (
	FieldAltitude Field = "altitude"
	FieldCallsign Field = "callsign"
	FieldPosition Field = "position"
	FieldVelocity Field = "velocity"
)

type AltitudeUnit string

const (
	UnitFeet   AltitudeUnit = "ft"
	UnitMeters AltitudeUnit = "m"
)

type Altitude struct {
	Value int          `json:"value"`
	Unit  AltitudeUnit `json:"unit"`
}

// Classification is the outcome of routing one message payload.
//
// Requested lists every field the type code asked for, whether or not the
// decoder could produce it. Decoded values are nil or empty when unavailable.
// In JSON the tc key is present exactly when HasTC is set, so type code 0
// survives.
type Classification struct {
	State State  `json:"state"`
	DF    int    `json:"df"`
	TC    int    `json:"-"`
	HasTC bool   `json:"-"`
	ICAO  string `json:"icao,omitempty"`

	Requested []Field   `json:"requested,omitempty"`
	Altitude  *Altitude `json:"altitude,omitempty"`
	Callsign  string    `json:"callsign,omitempty"`
	Position  *Position `json:"position,omitempty"`
	Velocity  *Velocity `json:"velocity,omitempty"`

	// Err records why DF or TC could not be determined.
	Err error `json:"-"`
	// FieldErrors records why a requested field is missing.
	FieldErrors map[Field]error `json:"-"`
}

type plainClassification Classification

func (c Classification) MarshalJSON() ([]byte, error) {
	out := struct {
		plainClassification
		TC *int `json:"tc,omitempty"`
	}{plainClassification: plainClassification(c)}
	if c.HasTC {
		tc := c.TC
		out.TC = &tc
	}
	return json.Marshal(out)
}

func (c *Classification) UnmarshalJSON(b []byte) error {
	var in struct {
		plainClassification
		TC *int `json:"tc"`
	}
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	*c = Classification(in.plainClassification)
	if in.TC != nil {
		c.TC = *in.TC
		c.HasTC = true
	}
	return nil
}

func (c *Classification) fieldFailed(f Field, err error) {
	if c.FieldErrors == nil {
		c.FieldErrors = make(map[Field]error, 1)
	}
	c.FieldErrors[f] = err
}

// IsExtendedSquitter reports whether df carries a type-coded ES payload.
func IsExtendedSquitter(df int) bool {
	return df == 17 || df == 18
}

// Route returns the field requests for an extended squitter type code, and
// the altitude unit when altitude is among them.
func Route(tc int) ([]Field, AltitudeUnit) {
	var fields []Field
	var unit AltitudeUnit
	switch {
	case tc >= 9 && tc <= 18:
		fields = append(fields, FieldAltitude)
		unit = UnitFeet
	case tc >= 20 && tc <= 22:
		fields = append(fields, FieldAltitude)
		unit = UnitMeters
	}
	switch {
	case tc >= 1 && tc <= 4:
		fields = append(fields, FieldCallsign)
	case tc >= 9 && tc <= 18:
		fields = append(fields, FieldPosition)
	case tc == 19:
		fields = append(fields, FieldVelocity)
	}
	return fields, unit
}

// Classify determines the downlink format and type code of payload and
// requests the fields the type code carries. Field failures only leave that
// field empty.
func Classify(payload string, dec Decoder, ref Reference) Classification {
	var out Classification

	df, err := dec.DownlinkFormat(payload)
	if err != nil {
		out.Err = fmt.Errorf("downlink format: %w", err)
		return out
	}
	out.DF = df
	if !IsExtendedSquitter(df) {
		return out
	}

	out.State = StateDispatched
	if icao, err := dec.ICAO(payload); err == nil && icao != "" {
		out.ICAO = icao
	}

	tc, err := dec.TypeCode(payload)
	if err != nil {
		out.Err = fmt.Errorf("type code: %w", err)
		return out
	}
	out.TC = tc
	out.HasTC = true

	fields, unit := Route(tc)
	out.Requested = fields
	for _, f := range fields {
		switch f {
		case FieldAltitude:
			alt, err := dec.Altitude(payload)
			if err != nil {
				out.fieldFailed(f, err)
				continue
			}
			out.Altitude = &Altitude{Value: alt, Unit: unit}
		case FieldCallsign:
			cs, err := dec.Callsign(payload)
			if err != nil {
				out.fieldFailed(f, err)
				continue
			}
			out.Callsign = cs
		case FieldPosition:
			pos, err := dec.PositionWithRef(payload, ref)
			if err != nil {
				out.fieldFailed(f, err)
				continue
			}
			out.Position = &pos
		case FieldVelocity:
			v, err := dec.Velocity(payload)
			if err != nil {
				out.fieldFailed(f, err)
				continue
			}
			out.Velocity = &v
		}
	}
	return out
}

// Unavailable reports whether err means a field was simply not present, as
// opposed to a transport or protocol failure.
func Unavailable(err error) bool {
	return errors.Is(err, ErrUnavailable) || errors.Is(err, ErrMalformed)
}
