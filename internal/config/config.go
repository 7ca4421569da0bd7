package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default reference position for local position decoding.
const (
	DefaultRefLatDeg = -34.92277194587654
	DefaultRefLonDeg = 138.6247827720262
)

type Config struct {
	Radio     RadioConfig     `yaml:"radio"`
	Serial    SerialConfig    `yaml:"serial"`
	Decode    DecodeConfig    `yaml:"decode"`
	Capture   CaptureConfig   `yaml:"capture"`
	Output    OutputConfig    `yaml:"output"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Indicator IndicatorConfig `yaml:"indicator"`
	Log       LogConfig       `yaml:"log"`
}

type RadioConfig struct {
	// Backend is iio_attr, iiod or none.
	Backend     string `yaml:"backend"`
	Command     string `yaml:"command"`
	IIODAddr    string `yaml:"iiod_addr"`
	Device      string `yaml:"device"`
	CarrierHz   int64  `yaml:"carrier_hz"`
	SamplingHz  int64  `yaml:"sampling_hz"`
	BandwidthHz int64  `yaml:"bandwidth_hz"`
}

type SerialConfig struct {
	// Backend is termios, bugst or replay.
	Backend     string        `yaml:"backend"`
	Device      string        `yaml:"device"`
	Baud        int           `yaml:"baud"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
	PollIdle    time.Duration `yaml:"poll_idle"`
	ReadSize    int           `yaml:"read_size"`
	ReplayPath  string        `yaml:"replay_path"`
	ReplayChunk int           `yaml:"replay_chunk"`
	ReplayIdle  bool          `yaml:"replay_idle"`
}

type DecodeConfig struct {
	TailPolicy string `yaml:"tail_policy"`

	// RefLatDeg and RefLonDeg are nil until set; an explicit 0 is kept.
	RefLatDeg *float64 `yaml:"ref_lat_deg"`
	RefLonDeg *float64 `yaml:"ref_lon_deg"`

	// Decoder is header or process.
	Decoder        string            `yaml:"decoder"`
	Command        string            `yaml:"command"`
	Args           []string          `yaml:"args"`
	Env            map[string]string `yaml:"env"`
	RequestTimeout time.Duration     `yaml:"request_timeout"`
}

type CaptureConfig struct {
	Path      string `yaml:"path"`
	MaxFrames int    `yaml:"max_frames"`
}

type OutputConfig struct {
	Quiet   bool       `yaml:"quiet"`
	UDPDest string     `yaml:"udp_dest"`
	MQTT    MQTTConfig `yaml:"mqtt"`
}

type MQTTConfig struct {
	Broker         string        `yaml:"broker"`
	Topic          string        `yaml:"topic"`
	ClientID       string        `yaml:"client_id"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	QoS            int           `yaml:"qos"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`
}

type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

type IndicatorConfig struct {
	Enable bool          `yaml:"enable"`
	Pin    int           `yaml:"pin"`
	Hold   time.Duration `yaml:"hold"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Read parses a YAML file without applying defaults.
func Read(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Load reads path, fills defaults and validates the result.
func Load(path string) (Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return Config{}, err
	}
	if err := DefaultAndValidate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DefaultAndValidate fills unset fields with defaults, normalizes enum
// values to lower case and rejects inconsistent settings.
func DefaultAndValidate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	r := &cfg.Radio
	r.Backend = normalize(r.Backend, "iio_attr")
	switch r.Backend {
	case "iio_attr":
		if strings.TrimSpace(r.Command) == "" {
			r.Command = "iio_attr"
		}
	case "iiod":
		if strings.TrimSpace(r.IIODAddr) == "" {
			return fmt.Errorf("radio.iiod_addr is required when radio.backend is 'iiod'")
		}
	case "none":
	default:
		return fmt.Errorf("radio.backend must be one of iio_attr, iiod, none")
	}
	if r.Device == "" {
		r.Device = "ad9361-phy"
	}
	if r.CarrierHz <= 0 {
		return fmt.Errorf("radio.carrier_hz is required")
	}
	if r.SamplingHz <= 0 {
		return fmt.Errorf("radio.sampling_hz is required")
	}
	if r.BandwidthHz < 0 {
		return fmt.Errorf("radio.bandwidth_hz must be >= 0")
	}

	s := &cfg.Serial
	s.Backend = normalize(s.Backend, "termios")
	switch s.Backend {
	case "termios", "bugst":
		if s.Device == "" {
			s.Device = "/dev/ttyPS1"
		}
	case "replay":
		if s.ReplayPath == "" {
			return fmt.Errorf("serial.replay_path is required when serial.backend is 'replay'")
		}
	default:
		return fmt.Errorf("serial.backend must be one of termios, bugst, replay")
	}
	if s.Baud == 0 {
		s.Baud = 115200
	}
	if s.Baud < 0 {
		return fmt.Errorf("serial.baud must be > 0")
	}
	if s.ReadTimeout <= 0 {
		s.ReadTimeout = 10 * time.Millisecond
	}
	if s.PollIdle <= 0 {
		s.PollIdle = 2 * time.Millisecond
	}
	if s.ReadSize <= 0 {
		s.ReadSize = 1024
	}
	if s.ReplayChunk <= 0 {
		s.ReplayChunk = 37
	}

	d := &cfg.Decode
	d.TailPolicy = normalize(d.TailPolicy, "strict")
	if d.TailPolicy != "strict" && d.TailPolicy != "pad" {
		return fmt.Errorf("decode.tail_policy must be 'strict' or 'pad'")
	}
	if d.RefLatDeg == nil {
		v := DefaultRefLatDeg
		d.RefLatDeg = &v
	}
	if d.RefLonDeg == nil {
		v := DefaultRefLonDeg
		d.RefLonDeg = &v
	}
	if *d.RefLatDeg < -90 || *d.RefLatDeg > 90 {
		return fmt.Errorf("decode.ref_lat_deg must be within [-90, 90]")
	}
	if *d.RefLonDeg < -180 || *d.RefLonDeg > 180 {
		return fmt.Errorf("decode.ref_lon_deg must be within [-180, 180]")
	}
	d.Decoder = normalize(d.Decoder, "header")
	switch d.Decoder {
	case "header":
	case "process":
		if strings.TrimSpace(d.Command) == "" {
			return fmt.Errorf("decode.command is required when decode.decoder is 'process'")
		}
	default:
		return fmt.Errorf("decode.decoder must be 'header' or 'process'")
	}
	if d.RequestTimeout <= 0 {
		d.RequestTimeout = 2 * time.Second
	}

	if cfg.Capture.MaxFrames < 0 {
		return fmt.Errorf("capture.max_frames must be >= 0")
	}

	m := &cfg.Output.MQTT
	if m.Broker != "" {
		if m.Topic == "" {
			m.Topic = "squitter"
		}
		if m.QoS < 0 || m.QoS > 2 {
			return fmt.Errorf("output.mqtt.qos must be 0, 1 or 2")
		}
	}

	if cfg.Indicator.Enable {
		if cfg.Indicator.Pin <= 0 {
			return fmt.Errorf("indicator.pin is required when indicator.enable is true")
		}
	}
	if cfg.Indicator.Hold <= 0 {
		cfg.Indicator.Hold = 500 * time.Millisecond
	}

	cfg.Log.Level = normalize(cfg.Log.Level, "info")
	switch cfg.Log.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of trace, debug, info, warn, error")
	}
	cfg.Log.Format = normalize(cfg.Log.Format, "console")
	if cfg.Log.Format != "console" && cfg.Log.Format != "json" {
		return fmt.Errorf("log.format must be 'console' or 'json'")
	}
	return nil
}

func normalize(v, def string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return def
	}
	return v
}
