package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	tmp := t.TempDir()
	path := filepath.Join(tmp, "cfg.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	return path
}

func requireErrEq(t *testing.T, err error, want string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error %q, got nil", want)
	}
	if err.Error() != want {
		t.Fatalf("error=%q want %q", err.Error(), want)
	}
}

const minimal = "radio:\n  carrier_hz: 1089000000\n  sampling_hz: 60000000\n"

func TestLoad_RequiresCarrier(t *testing.T) {
	path := writeTempConfig(t, "radio:\n  sampling_hz: 60000000\n")
	_, err := Load(path)
	requireErrEq(t, err, "radio.carrier_hz is required")
}

func TestLoad_RequiresSampling(t *testing.T) {
	path := writeTempConfig(t, "radio:\n  carrier_hz: 1089000000\n")
	_, err := Load(path)
	requireErrEq(t, err, "radio.sampling_hz is required")
}

func TestLoad_DefaultsApplied(t *testing.T) {
	cfg, err := Load(writeTempConfig(t, minimal))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Radio.Backend != "iio_attr" || cfg.Radio.Command != "iio_attr" || cfg.Radio.Device != "ad9361-phy" {
		t.Fatalf("radio=%+v", cfg.Radio)
	}
	if cfg.Serial.Backend != "termios" || cfg.Serial.Device != "/dev/ttyPS1" || cfg.Serial.Baud != 115200 {
		t.Fatalf("serial=%+v", cfg.Serial)
	}
	if cfg.Serial.PollIdle != 2*time.Millisecond || cfg.Serial.ReadSize != 1024 {
		t.Fatalf("serial poll=%s read_size=%d", cfg.Serial.PollIdle, cfg.Serial.ReadSize)
	}
	if cfg.Decode.TailPolicy != "strict" || cfg.Decode.Decoder != "header" {
		t.Fatalf("decode=%+v", cfg.Decode)
	}
	if *cfg.Decode.RefLatDeg != DefaultRefLatDeg || *cfg.Decode.RefLonDeg != DefaultRefLonDeg {
		t.Fatalf("reference=%v,%v", *cfg.Decode.RefLatDeg, *cfg.Decode.RefLonDeg)
	}
	if cfg.Decode.RequestTimeout != 2*time.Second {
		t.Fatalf("request_timeout=%s", cfg.Decode.RequestTimeout)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "console" {
		t.Fatalf("log=%+v", cfg.Log)
	}
	if cfg.Capture.MaxFrames != 0 {
		t.Fatalf("max_frames=%d want unbounded", cfg.Capture.MaxFrames)
	}
}

func TestLoad_ExplicitZeroReferenceKept(t *testing.T) {
	cfg, err := Load(writeTempConfig(t, minimal+"decode:\n  ref_lat_deg: 0\n  ref_lon_deg: 0\n"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if *cfg.Decode.RefLatDeg != 0 || *cfg.Decode.RefLonDeg != 0 {
		t.Fatalf("reference=%v,%v want 0,0", *cfg.Decode.RefLatDeg, *cfg.Decode.RefLonDeg)
	}

	cfg, err = Load(writeTempConfig(t, minimal+"decode:\n  ref_lat_deg: 0\n"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if *cfg.Decode.RefLatDeg != 0 || *cfg.Decode.RefLonDeg != DefaultRefLonDeg {
		t.Fatalf("reference=%v,%v want 0,default", *cfg.Decode.RefLatDeg, *cfg.Decode.RefLonDeg)
	}
}

func TestLoad_FullConfig(t *testing.T) {
	path := writeTempConfig(t, `
radio:
  backend: IIOD
  iiod_addr: pluto.local
  carrier_hz: 1090000000
  sampling_hz: 30000000
  bandwidth_hz: 20000000
serial:
  backend: bugst
  device: /dev/ttyUSB0
  baud: 921600
  read_timeout: 20ms
decode:
  tail_policy: pad
  ref_lat_deg: 51.5
  ref_lon_deg: -0.12
  decoder: process
  command: /usr/local/bin/modes-decoder
  args: ["--ndjson"]
  request_timeout: 500ms
capture:
  path: /tmp/cap.txt.zst
  max_frames: 500
output:
  quiet: true
  udp_dest: 127.0.0.1:30003
  mqtt:
    broker: tcp://localhost:1883
    qos: 1
metrics:
  listen: :9108
indicator:
  enable: true
  pin: 17
log:
  level: debug
  format: json
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Radio.Backend != "iiod" || cfg.Radio.BandwidthHz != 20000000 {
		t.Fatalf("radio=%+v", cfg.Radio)
	}
	if cfg.Serial.Device != "/dev/ttyUSB0" || cfg.Serial.Baud != 921600 || cfg.Serial.ReadTimeout != 20*time.Millisecond {
		t.Fatalf("serial=%+v", cfg.Serial)
	}
	if cfg.Decode.TailPolicy != "pad" || *cfg.Decode.RefLatDeg != 51.5 || len(cfg.Decode.Args) != 1 {
		t.Fatalf("decode=%+v", cfg.Decode)
	}
	if cfg.Capture.MaxFrames != 500 || !cfg.Output.Quiet {
		t.Fatalf("capture=%+v output=%+v", cfg.Capture, cfg.Output)
	}
	if cfg.Output.MQTT.Topic != "squitter" || cfg.Output.MQTT.QoS != 1 {
		t.Fatalf("mqtt=%+v", cfg.Output.MQTT)
	}
	if cfg.Indicator.Hold != 500*time.Millisecond {
		t.Fatalf("indicator=%+v", cfg.Indicator)
	}
}

func TestLoad_Validation(t *testing.T) {
	cases := []struct {
		name  string
		extra string
		want  string
	}{
		{
			name:  "UnknownRadioBackend",
			extra: "  backend: soapy\n",
			want:  "radio.backend must be one of iio_attr, iiod, none",
		},
		{
			name:  "IIODNeedsAddr",
			extra: "  backend: iiod\n",
			want:  "radio.iiod_addr is required when radio.backend is 'iiod'",
		},
		{
			name:  "NegativeBandwidth",
			extra: "  bandwidth_hz: -1\n",
			want:  "radio.bandwidth_hz must be >= 0",
		},
		{
			name:  "ReplayNeedsPath",
			extra: "serial:\n  backend: replay\n",
			want:  "serial.replay_path is required when serial.backend is 'replay'",
		},
		{
			name:  "UnknownSerialBackend",
			extra: "serial:\n  backend: usb\n",
			want:  "serial.backend must be one of termios, bugst, replay",
		},
		{
			name:  "TailPolicy",
			extra: "decode:\n  tail_policy: loose\n",
			want:  "decode.tail_policy must be 'strict' or 'pad'",
		},
		{
			name:  "ProcessNeedsCommand",
			extra: "decode:\n  decoder: process\n",
			want:  "decode.command is required when decode.decoder is 'process'",
		},
		{
			name:  "Latitude",
			extra: "decode:\n  ref_lat_deg: 91\n",
			want:  "decode.ref_lat_deg must be within [-90, 90]",
		},
		{
			name:  "NegativeCap",
			extra: "capture:\n  max_frames: -5\n",
			want:  "capture.max_frames must be >= 0",
		},
		{
			name:  "MQTTQoS",
			extra: "output:\n  mqtt:\n    broker: tcp://x:1883\n    qos: 3\n",
			want:  "output.mqtt.qos must be 0, 1 or 2",
		},
		{
			name:  "IndicatorPin",
			extra: "indicator:\n  enable: true\n",
			want:  "indicator.pin is required when indicator.enable is true",
		},
		{
			name:  "LogLevel",
			extra: "log:\n  level: loud\n",
			want:  "log.level must be one of trace, debug, info, warn, error",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			body := minimal + tc.extra
			_, err := Load(writeTempConfig(t, body))
			requireErrEq(t, err, tc.want)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error")
	}
}

func TestLoad_BadYAML(t *testing.T) {
	if _, err := Load(writeTempConfig(t, "radio: [\n")); err == nil {
		t.Fatalf("expected error")
	}
}

func TestDefaultAndValidate_Nil(t *testing.T) {
	requireErrEq(t, DefaultAndValidate(nil), "config is nil")
}
