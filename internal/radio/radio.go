// Package radio tunes the AD9361 front end before a session starts listening.
//
// Two backends apply the same attribute plan: IIOAttr shells out to the
// libiio iio_attr tool on the receiver itself, and IIOD talks the iiod text
// protocol to a remote daemon.
package radio

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// DefaultDevice is the AD9361 PHY as exposed by libiio.
const DefaultDevice = "ad9361-phy"

// ErrConfigure wraps every failure to apply a setting. It is fatal to a
// session.
var ErrConfigure = errors.New("radio configuration failed")

type Settings struct {
	Device      string
	CarrierHz   int64
	SamplingHz  int64
	BandwidthHz int64 // 0 leaves the analog bandwidth untouched
}

func (s Settings) Validate() error {
	if s.CarrierHz <= 0 {
		return fmt.Errorf("carrier frequency must be > 0 (got %d)", s.CarrierHz)
	}
	if s.SamplingHz <= 0 {
		return fmt.Errorf("sampling frequency must be > 0 (got %d)", s.SamplingHz)
	}
	if s.BandwidthHz < 0 {
		return fmt.Errorf("bandwidth must be >= 0 (got %d)", s.BandwidthHz)
	}
	return nil
}

func (s Settings) device() string {
	if d := strings.TrimSpace(s.Device); d != "" {
		return d
	}
	return DefaultDevice
}

// Configurator applies Settings to the hardware.
type Configurator interface {
	Configure(ctx context.Context, s Settings) error
}

// AttrWrite is one channel attribute assignment.
type AttrWrite struct {
	Channel string
	Output  bool
	Attr    string
	Value   string
}

// Plan lists the writes for s in the order they are applied: both LOs, the
// sampling rate on every converter channel, then the RF bandwidth when set.
func Plan(s Settings) []AttrWrite {
	carrier := strconv.FormatInt(s.CarrierHz, 10)
	sampling := strconv.FormatInt(s.SamplingHz, 10)

	plan := []AttrWrite{
		{Channel: "altvoltage0", Output: true, Attr: "frequency", Value: carrier},
		{Channel: "altvoltage1", Output: true, Attr: "frequency", Value: carrier},
		{Channel: "voltage0", Attr: "sampling_frequency", Value: sampling},
		{Channel: "voltage2", Attr: "sampling_frequency", Value: sampling},
		{Channel: "voltage3", Attr: "sampling_frequency", Value: sampling},
	}
	if s.BandwidthHz > 0 {
		bw := strconv.FormatInt(s.BandwidthHz, 10)
		plan = append(plan,
			AttrWrite{Channel: "voltage0", Attr: "rf_bandwidth", Value: bw},
			AttrWrite{Channel: "voltage2", Attr: "rf_bandwidth", Value: bw},
		)
	}
	return plan
}

// Nop accepts any settings. Replays use it since no hardware is attached.
type Nop struct{}

func (Nop) Configure(ctx context.Context, s Settings) error { return nil }

var gainRE = regexp.MustCompile(`(-?\d+(?:\.\d+)?)\s*dB`)

// ParseGainDB extracts the gain from an iio_attr or iiod hardwaregain value
// such as "71.000000 dB".
func ParseGainDB(out string) (float64, bool) {
	m := gainRE.FindStringSubmatch(out)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
