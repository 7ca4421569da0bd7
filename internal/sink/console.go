package sink

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"squitter-iq/internal/modes"
)

// Console prints human-readable records.
//
// Dispatched messages get the full block; anything else only gets its
// frequency estimate line.
type Console struct {
	mu sync.Mutex
	w  io.Writer
}

func NewConsole(w io.Writer) *Console {
	return &Console{w: w}
}

func (c *Console) Emit(r Record) error {
	var b strings.Builder
	cl := r.Classification
	if cl.State == modes.StateDispatched {
		fmt.Fprintf(&b, "Data received: %s\n", r.Payload)
		fmt.Fprintf(&b, "Downlink Format: DF-%d\n", cl.DF)
		if cl.HasTC {
			fmt.Fprintf(&b, "Type Code: %d\n", cl.TC)
		}
		if cl.ICAO != "" {
			fmt.Fprintf(&b, "ICAO: %s\n", cl.ICAO)
		}
		if cl.Altitude != nil {
			fmt.Fprintf(&b, "Altitude: %d %s\n", cl.Altitude.Value, cl.Altitude.Unit)
		}
		if cl.Callsign != "" {
			fmt.Fprintf(&b, "Callsign: %s\n", cl.Callsign)
		}
		if cl.Position != nil {
			fmt.Fprintf(&b, "Coordinates: %.6f, %.6f\n", cl.Position.LatDeg, cl.Position.LonDeg)
		}
		if v := cl.Velocity; v != nil {
			fmt.Fprintf(&b, "Velocity: %.0f kt heading %.1f vrate %d ft/min\n", v.SpeedKt, v.HeadingDeg, v.VerticalRateFPM)
		}
	}
	switch {
	case r.Estimate != nil:
		fmt.Fprintf(&b, "Frequency estimation: %d Hz\n", r.Estimate.FrequencyHz)
	case r.IQError != "" && cl.State == modes.StateDispatched:
		fmt.Fprintf(&b, "Frequency estimation: unavailable (%s)\n", r.IQError)
	}
	if b.Len() == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := io.WriteString(c.w, b.String())
	return err
}

func (c *Console) Close() error { return nil }
