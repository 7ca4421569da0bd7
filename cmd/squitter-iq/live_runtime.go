package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"squitter-iq/internal/capture"
	"squitter-iq/internal/config"
	"squitter-iq/internal/indicator"
	"squitter-iq/internal/iq"
	"squitter-iq/internal/logging"
	"squitter-iq/internal/metrics"
	"squitter-iq/internal/modes"
	"squitter-iq/internal/radio"
	"squitter-iq/internal/serial"
	"squitter-iq/internal/session"
	"squitter-iq/internal/sink"
)

func run(ctx context.Context, cfg config.Config, stdout, stderr io.Writer) error {
	log, err := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, Out: stderr})
	if err != nil {
		return err
	}

	rt, err := newLiveRuntime(ctx, cfg, log, stdout)
	if err != nil {
		return err
	}
	defer rt.Close()

	sum, err := rt.session.Run(ctx)
	if err != nil {
		return err
	}
	if cfg.Capture.Path != "" {
		log.Info().Str("path", cfg.Capture.Path).Uint64("frames", sum.Captured).Msg("capture written")
	}
	return nil
}

// liveRuntime owns everything a session borrows that must outlive it: the
// decoder process and the metrics listener.
type liveRuntime struct {
	session *session.Controller
	log     zerolog.Logger

	decoder     modes.Decoder
	stopMetrics context.CancelFunc
	metricsDone chan struct{}
	closeOnce   sync.Once
}

func newLiveRuntime(ctx context.Context, cfg config.Config, log zerolog.Logger, stdout io.Writer) (*liveRuntime, error) {
	rt := &liveRuntime{log: log}
	ok := false
	defer func() {
		if !ok {
			rt.Close()
		}
	}()

	policy, err := iq.ParseTailPolicy(cfg.Decode.TailPolicy)
	if err != nil {
		return nil, err
	}

	dec, err := buildDecoder(ctx, cfg.Decode, log)
	if err != nil {
		return nil, err
	}
	rt.decoder = dec

	m := metrics.New(cfg.Radio.SamplingHz)
	if addr := strings.TrimSpace(cfg.Metrics.Listen); addr != "" {
		mctx, cancel := context.WithCancel(ctx)
		rt.stopMetrics = cancel
		rt.metricsDone = make(chan struct{})
		go func() {
			defer close(rt.metricsDone)
			if err := metrics.Serve(mctx, addr, m, log); err != nil {
				log.Error().Err(err).Str("addr", addr).Msg("metrics listener stopped")
			}
		}()
	}

	sinks, err := buildSinks(cfg.Output, log, stdout)
	if err != nil {
		return nil, err
	}

	var ind indicator.Indicator = indicator.Nop{}
	if cfg.Indicator.Enable {
		led, err := indicator.Open(cfg.Indicator.Pin, cfg.Indicator.Hold)
		if err != nil {
			log.Warn().Err(err).Int("pin", cfg.Indicator.Pin).Msg("rx indicator unavailable")
		} else {
			ind = led
		}
	}

	var openCapture func() (session.FrameWriter, error)
	if path := cfg.Capture.Path; path != "" {
		openCapture = func() (session.FrameWriter, error) {
			w, err := capture.Create(path)
			if err != nil {
				return nil, err
			}
			log.Info().Str("path", path).Str("compression", capture.CompressionFor(path).String()).Msg("capturing frames")
			return w, nil
		}
	}

	sc := cfg.Serial
	ctl, err := session.New(session.Config{
		Radio: radio.Settings{
			Device:      cfg.Radio.Device,
			CarrierHz:   cfg.Radio.CarrierHz,
			SamplingHz:  cfg.Radio.SamplingHz,
			BandwidthHz: cfg.Radio.BandwidthHz,
		},
		TailPolicy: policy,
		Reference:  modes.Reference{LatDeg: *cfg.Decode.RefLatDeg, LonDeg: *cfg.Decode.RefLonDeg},
		MaxFrames:  cfg.Capture.MaxFrames,
		PollIdle:   sc.PollIdle,
		ReadSize:   sc.ReadSize,
	}, session.Deps{
		Radio: buildRadio(cfg.Radio, log),
		OpenSource: func() (serial.Source, error) {
			src, err := serial.Open(serial.Config{
				Backend:     sc.Backend,
				Device:      sc.Device,
				Baud:        sc.Baud,
				ReadTimeout: sc.ReadTimeout,
				ReplayPath:  sc.ReplayPath,
				ReplayChunk: sc.ReplayChunk,
				ReplayIdle:  sc.ReplayIdle,
			})
			if err != nil {
				return nil, err
			}
			log.Info().Str("backend", sc.Backend).Str("device", sourceName(sc)).Msg("byte source open")
			return src, nil
		},
		OpenCapture: openCapture,
		Decoder:     dec,
		Sink:        sinks,
		Metrics:     m,
		Indicator:   ind,
		Log:         log,
	})
	if err != nil {
		_ = sinks.Close()
		_ = ind.Close()
		return nil, err
	}
	rt.session = ctl
	ok = true
	return rt, nil
}

func (rt *liveRuntime) Close() {
	rt.closeOnce.Do(func() {
		if pd, ok := rt.decoder.(*modes.ProcessDecoder); ok {
			if err := pd.Close(); err != nil {
				rt.log.Warn().Err(err).Msg("decoder exit")
			}
		}
		if rt.stopMetrics != nil {
			rt.stopMetrics()
			<-rt.metricsDone
		}
	})
}

func buildDecoder(ctx context.Context, dc config.DecodeConfig, log zerolog.Logger) (modes.Decoder, error) {
	switch dc.Decoder {
	case "process":
		p, err := modes.StartProcess(ctx, modes.ProcessConfig{
			Command:        dc.Command,
			Args:           dc.Args,
			Env:            dc.Env,
			RequestTimeout: dc.RequestTimeout,
		}, log)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return modes.HeaderDecoder{}, nil
	}
}

func buildRadio(rc config.RadioConfig, log zerolog.Logger) radio.Configurator {
	switch rc.Backend {
	case "iiod":
		return radio.NewIIOD(rc.IIODAddr, log)
	case "none":
		return radio.Nop{}
	default:
		return radio.NewIIOAttr(rc.Command, log)
	}
}

func buildSinks(oc config.OutputConfig, log zerolog.Logger, stdout io.Writer) (sink.Multi, error) {
	var sinks sink.Multi
	if !oc.Quiet {
		sinks = append(sinks, sink.NewConsole(stdout))
	}
	if oc.UDPDest != "" {
		u, err := sink.NewUDP(oc.UDPDest)
		if err != nil {
			_ = sinks.Close()
			return nil, fmt.Errorf("udp output: %w", err)
		}
		sinks = append(sinks, u)
	}
	if oc.MQTT.Broker != "" {
		m, err := sink.NewMQTT(sink.MQTTConfig{
			Broker:         oc.MQTT.Broker,
			Topic:          oc.MQTT.Topic,
			ClientID:       oc.MQTT.ClientID,
			Username:       oc.MQTT.Username,
			Password:       oc.MQTT.Password,
			QoS:            byte(oc.MQTT.QoS),
			PublishTimeout: oc.MQTT.PublishTimeout,
		}, log)
		if err != nil {
			_ = sinks.Close()
			return nil, fmt.Errorf("mqtt output: %w", err)
		}
		sinks = append(sinks, m)
	}
	return sinks, nil
}

func sourceName(sc config.SerialConfig) string {
	if sc.Backend == serial.BackendReplay {
		return sc.ReplayPath
	}
	return sc.Device
}
