// Package session runs one listening session: configure the radio, poll the
// byte source, split frames, and hand every valid frame through the
// estimation and classification pipeline to the sinks.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"squitter-iq/internal/framer"
	"squitter-iq/internal/indicator"
	"squitter-iq/internal/iq"
	"squitter-iq/internal/metrics"
	"squitter-iq/internal/modes"
	"squitter-iq/internal/radio"
	"squitter-iq/internal/serial"
	"squitter-iq/internal/sink"
)

type Config struct {
	Radio      radio.Settings
	TailPolicy iq.TailPolicy
	Reference  modes.Reference

	// MaxFrames stops the session after that many frames. 0 is unbounded.
	MaxFrames int

	PollIdle      time.Duration
	ReadSize      int
	SummaryWindow int
}

// FrameWriter persists every frame verbatim, short ones included.
type FrameWriter interface {
	WriteFrame(text string) error
	Close() error
}

type Deps struct {
	Radio       radio.Configurator
	OpenSource  func() (serial.Source, error)
	OpenCapture func() (FrameWriter, error)
	Decoder     modes.Decoder
	Sink        sink.Sink
	Metrics     *metrics.Metrics
	Indicator   indicator.Indicator
	Log         zerolog.Logger
	Now         func() time.Time
}

type StopReason string

const (
	StopInterrupted  StopReason = "interrupted"
	StopSampleCap    StopReason = "sample cap reached"
	StopSourceClosed StopReason = "source closed"
	StopFailed       StopReason = "failed"
)

type Summary struct {
	Session  string        `json:"session"`
	Reason   StopReason    `json:"reason"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`

	Chunks      uint64 `json:"chunks"`
	Bytes       uint64 `json:"bytes"`
	RXErrors    uint64 `json:"rx_errors"`
	Frames      uint64 `json:"frames"`
	ShortFrames uint64 `json:"short_frames"`
	ValidFrames uint64 `json:"valid_frames"`
	IQErrors    uint64 `json:"iq_errors"`
	Dispatched  uint64 `json:"dispatched"`
	Ignored     uint64 `json:"ignored"`
	SinkErrors  uint64 `json:"sink_errors"`
	Captured    uint64 `json:"captured"`

	Estimates iq.Summary `json:"estimates"`
}

type Controller struct {
	cfg      Config
	deps     Deps
	pipeline Pipeline
	id       string
	log      zerolog.Logger
}

func New(cfg Config, deps Deps) (*Controller, error) {
	if deps.OpenSource == nil {
		return nil, fmt.Errorf("session: byte source is required")
	}
	if deps.Decoder == nil {
		return nil, fmt.Errorf("session: decoder is required")
	}
	if err := cfg.Radio.Validate(); err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	if deps.Radio == nil {
		deps.Radio = radio.Nop{}
	}
	if deps.Sink == nil {
		deps.Sink = sink.Multi{}
	}
	if deps.Indicator == nil {
		deps.Indicator = indicator.Nop{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if cfg.PollIdle <= 0 {
		cfg.PollIdle = 2 * time.Millisecond
	}
	if cfg.ReadSize <= 0 {
		cfg.ReadSize = 1024
	}
	if cfg.MaxFrames < 0 {
		return nil, fmt.Errorf("session: max frames must be >= 0")
	}

	id := uuid.NewString()
	return &Controller{
		cfg:  cfg,
		deps: deps,
		pipeline: Pipeline{
			CarrierHz:  cfg.Radio.CarrierHz,
			SamplingHz: cfg.Radio.SamplingHz,
			TailPolicy: cfg.TailPolicy,
			Decoder:    deps.Decoder,
			Reference:  cfg.Reference,
		},
		id:  id,
		log: deps.Log.With().Str("session", id).Logger(),
	}, nil
}

func (c *Controller) ID() string { return c.id }

// Run blocks until ctx is cancelled, the frame cap is reached or the source
// closes. The source, capture file, sinks and indicator are always released
// before Run returns. Only radio, source or capture failures are returned as
// errors.
func (c *Controller) Run(ctx context.Context) (sum Summary, err error) {
	sum = Summary{Session: c.id, Started: c.deps.Now()}
	window := iq.NewWindow(c.cfg.SummaryWindow)

	defer func() {
		if cerr := c.deps.Sink.Close(); cerr != nil {
			c.log.Warn().Err(cerr).Msg("closing sinks")
		}
		if cerr := c.deps.Indicator.Close(); cerr != nil {
			c.log.Warn().Err(cerr).Msg("closing indicator")
		}
		sum.Estimates = window.Summary()
		sum.Duration = c.deps.Now().Sub(sum.Started)
		if err != nil {
			sum.Reason = StopFailed
		}
		c.logSummary(sum, err)
	}()

	if err := c.deps.Radio.Configure(ctx, c.cfg.Radio); err != nil {
		return sum, err
	}

	src, err := c.deps.OpenSource()
	if err != nil {
		return sum, fmt.Errorf("open byte source: %w", err)
	}
	defer func() {
		if cerr := src.Close(); cerr != nil {
			c.log.Warn().Err(cerr).Msg("closing byte source")
		}
	}()

	var capw FrameWriter
	if c.deps.OpenCapture != nil {
		capw, err = c.deps.OpenCapture()
		if err != nil {
			return sum, fmt.Errorf("open capture: %w", err)
		}
		defer func() {
			if cerr := capw.Close(); cerr != nil {
				c.log.Error().Err(cerr).Msg("closing capture")
				if err == nil {
					err = fmt.Errorf("close capture: %w", cerr)
				}
			}
		}()
	}

	c.log.Info().
		Int64("carrier_hz", c.cfg.Radio.CarrierHz).
		Int64("sampling_hz", c.cfg.Radio.SamplingHz).
		Int("max_frames", c.cfg.MaxFrames).
		Str("tail_policy", c.cfg.TailPolicy.String()).
		Msg("listening")

	fr := framer.New()
	buf := make([]byte, c.cfg.ReadSize)
	for {
		if ctx.Err() != nil {
			sum.Reason = StopInterrupted
			return sum, nil
		}

		n, rerr := src.Read(buf)
		now := c.deps.Now()
		c.deps.Indicator.Tick(now)
		switch {
		case errors.Is(rerr, serial.ErrWouldBlock):
			c.deps.Metrics.IdlePoll()
			if !sleepCtx(ctx, c.cfg.PollIdle) {
				sum.Reason = StopInterrupted
				return sum, nil
			}
			continue
		case errors.Is(rerr, io.EOF):
			c.log.Info().Msg("end of input")
			sum.Reason = StopSourceClosed
			return sum, nil
		case rerr != nil:
			c.log.Error().Err(rerr).Msg("byte source closed")
			sum.Reason = StopSourceClosed
			return sum, nil
		}

		chunk := buf[:n]
		sum.Chunks++
		sum.Bytes += uint64(n)
		if framer.ContainsErrorMarker(chunk) {
			sum.RXErrors++
			c.deps.Metrics.RXError()
			c.deps.Indicator.RXError(now)
			c.log.Warn().Int("chunk_bytes", n).Msg("receiver reported an error")
		}

		capped, ferr := c.consume(fr.Append(chunk), now, capw, window, &sum)
		c.deps.Metrics.Chunk(n, fr.Buffered())
		if ferr != nil {
			return sum, ferr
		}
		if capped {
			sum.Reason = StopSampleCap
			return sum, nil
		}
	}
}

func (c *Controller) consume(frames iter.Seq[framer.Frame], now time.Time, capw FrameWriter, window *iq.Window, sum *Summary) (bool, error) {
	for f := range frames {
		sum.Frames++
		if capw != nil {
			if err := capw.WriteFrame(f.Text); err != nil {
				return false, fmt.Errorf("capture frame: %w", err)
			}
			sum.Captured++
		}

		vf, ok := framer.Validate(f)
		c.deps.Metrics.Frame(ok)
		if ok {
			c.handle(vf, now, window, sum)
		} else {
			sum.ShortFrames++
		}

		if c.cfg.MaxFrames > 0 && sum.Frames >= uint64(c.cfg.MaxFrames) {
			return true, nil
		}
	}
	return false, nil
}

func (c *Controller) handle(vf framer.ValidFrame, now time.Time, window *iq.Window, sum *Summary) {
	sum.ValidFrames++
	rec := c.pipeline.Process(vf)
	rec.Session = c.id
	rec.Seq = sum.ValidFrames
	rec.Time = now

	if rec.Estimate != nil {
		window.Add(rec.Estimate.FrequencyHz)
		c.deps.Metrics.Estimate(rec.Estimate.OffsetHz, rec.Estimate.FrequencyHz)
	} else {
		sum.IQErrors++
		c.deps.Metrics.IQMalformed()
		c.log.Debug().Str("tail", rec.Tail).Str("error", rec.IQError).Msg("i/q tail rejected")
	}

	cl := rec.Classification
	switch cl.State {
	case modes.StateDispatched:
		sum.Dispatched++
	default:
		sum.Ignored++
	}
	c.deps.Metrics.Classified(cl.State.String(), cl.DF)
	if cl.Err != nil && !modes.Unavailable(cl.Err) {
		c.log.Warn().Err(cl.Err).Str("payload", rec.Payload).Msg("classification failed")
	}
	for field, ferr := range cl.FieldErrors {
		if !modes.Unavailable(ferr) {
			c.log.Warn().Err(ferr).Str("field", string(field)).Str("payload", rec.Payload).Msg("field decode failed")
		}
	}

	if err := c.deps.Sink.Emit(rec); err != nil {
		sum.SinkErrors++
		c.log.Warn().Err(err).Uint64("seq", rec.Seq).Msg("sink emit failed")
	}
}

func (c *Controller) logSummary(sum Summary, err error) {
	ev := c.log.Info()
	if err != nil {
		ev = c.log.Error().Err(err)
	}
	ev.Str("reason", string(sum.Reason)).
		Dur("duration", sum.Duration).
		Uint64("bytes", sum.Bytes).
		Uint64("frames", sum.Frames).
		Uint64("valid", sum.ValidFrames).
		Uint64("short", sum.ShortFrames).
		Uint64("iq_errors", sum.IQErrors).
		Uint64("dispatched", sum.Dispatched).
		Uint64("rx_errors", sum.RXErrors).
		Int("estimates", sum.Estimates.Count).
		Float64("mean_hz", sum.Estimates.MeanHz).
		Float64("stddev_hz", sum.Estimates.StdDevHz).
		Msg("session ended")
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
