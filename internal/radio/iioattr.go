package radio

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// IIOAttr configures the radio by running iio_attr once per attribute.
type IIOAttr struct {
	Command string
	Timeout time.Duration

	log zerolog.Logger
	run runFunc
}

func NewIIOAttr(command string, log zerolog.Logger) *IIOAttr {
	if strings.TrimSpace(command) == "" {
		command = "iio_attr"
	}
	return &IIOAttr{
		Command: command,
		Timeout: 5 * time.Second,
		log:     log.With().Str("component", "radio").Logger(),
		run:     runCommand,
	}
}

func (c *IIOAttr) Configure(ctx context.Context, s Settings) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrConfigure, err)
	}
	dev := s.device()
	plan := Plan(s)

	// LOs and sampling rate first, then report the gain the AGC settled on
	// before touching the bandwidth.
	gainAt := len(plan)
	if s.BandwidthHz > 0 {
		gainAt = len(plan) - 2
	}
	for i, w := range plan {
		if i == gainAt {
			c.logGain(ctx, dev)
		}
		if _, err := c.exec(ctx, "-c", dev, w.Channel, w.Attr, w.Value); err != nil {
			return fmt.Errorf("%w: set %s %s=%s: %v", ErrConfigure, w.Channel, w.Attr, w.Value, err)
		}
		c.log.Debug().Str("channel", w.Channel).Str("attr", w.Attr).Str("value", w.Value).Msg("attribute set")
	}
	if gainAt == len(plan) {
		c.logGain(ctx, dev)
	}
	c.log.Info().Int64("carrier_hz", s.CarrierHz).Int64("sampling_hz", s.SamplingHz).Int64("bandwidth_hz", s.BandwidthHz).Msg("radio configured")
	return nil
}

func (c *IIOAttr) logGain(ctx context.Context, dev string) {
	out, err := c.exec(ctx, "-c", "-i", dev, "voltage0", "hardwaregain")
	if err != nil {
		c.log.Warn().Err(err).Msg("hardwaregain query failed")
		return
	}
	if gain, ok := ParseGainDB(out); ok {
		c.log.Info().Float64("gain_db", gain).Msg("rx hardware gain")
		return
	}
	c.log.Info().Str("output", strings.TrimSpace(out)).Msg("rx hardware gain")
}

func (c *IIOAttr) exec(ctx context.Context, args ...string) (string, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := c.run(ctx, c.Command, args...)
	if err != nil {
		if msg := strings.TrimSpace(string(out)); msg != "" {
			return "", fmt.Errorf("%s: %w: %s", c.Command, err, msg)
		}
		return "", fmt.Errorf("%s: %w", c.Command, err)
	}
	return string(out), nil
}
