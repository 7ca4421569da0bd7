package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"squitter-iq/internal/config"
)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

// options holds every flag value. Flags only override the config file when
// they were set explicitly.
type options struct {
	configPath string
	logLevel   string
	logFormat  string

	carrierHz    int64
	samplingHz   int64
	bandwidthHz  int64
	radioBackend string
	iiodAddr     string

	backend string
	device  string
	baud    int
	chunk   int
	idle    bool

	tailPolicy string
	decoder    string
	decoderCmd string

	maxFrames int
	output    string

	quiet         bool
	udpDest       string
	mqttBroker    string
	mqttTopic     string
	metricsListen string
}

const rootLong = `squitter-iq tunes an AD9361 receiver, reads newline-delimited frames from
its serial link, estimates each frame's absolute frequency from the trailing
I/Q sample and classifies the Mode S payload.`

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	o := &options{}
	root := &cobra.Command{
		Use:     "squitter-iq",
		Short:   "Estimate the carrier frequency of Mode S squitters from a receiver's I/Q stream",
		Long:    rootLong,
		Version: fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&o.configPath, "config", "", "path to YAML config")
	pf.StringVar(&o.logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	pf.StringVar(&o.logFormat, "log-format", "", "log format (console, json)")

	root.AddCommand(
		newListenCmd(o, stdout, stderr),
		newCaptureCmd(o, stdout, stderr),
		newReplayCmd(o, stdout, stderr),
		newInspectCmd(o, stdout),
	)
	return root
}

func addRadioFlags(fs *pflag.FlagSet, o *options) {
	fs.Int64VarP(&o.carrierHz, "carrier", "c", 0, "carrier (LO) frequency in Hz")
	fs.Int64VarP(&o.samplingHz, "sampling", "s", 0, "sampling frequency in Hz")
	fs.Int64VarP(&o.bandwidthHz, "bandwidth", "b", 0, "RF bandwidth in Hz (0 leaves it unchanged)")
	fs.StringVar(&o.radioBackend, "radio", "", "radio backend (iio_attr, iiod, none)")
	fs.StringVar(&o.iiodAddr, "iiod-addr", "", "iiod host[:port] for the iiod radio backend")
}

func addSourceFlags(fs *pflag.FlagSet, o *options) {
	fs.StringVar(&o.backend, "serial-backend", "", "serial backend (termios, bugst)")
	fs.StringVar(&o.device, "device", "", "serial device (default /dev/ttyPS1)")
	fs.IntVar(&o.baud, "baud", 0, "serial baud rate (default 115200)")
}

func addPipelineFlags(fs *pflag.FlagSet, o *options) {
	fs.StringVar(&o.tailPolicy, "tail-policy", "", "I/Q tail handling (strict, pad)")
	fs.StringVar(&o.decoder, "decoder", "", "message decoder (header, process)")
	fs.StringVar(&o.decoderCmd, "decoder-cmd", "", "external decoder command for --decoder=process")
}

func addOutputFlags(fs *pflag.FlagSet, o *options) {
	fs.BoolVarP(&o.quiet, "quiet", "q", false, "do not print records to stdout")
	fs.StringVar(&o.udpDest, "udp", "", "send JSON records to this UDP host:port")
	fs.StringVar(&o.mqttBroker, "mqtt-broker", "", "publish JSON records to this MQTT broker (tcp://host:1883)")
	fs.StringVar(&o.mqttTopic, "mqtt-topic", "", "MQTT topic prefix (default squitter)")
	fs.StringVar(&o.metricsListen, "metrics-listen", "", "serve Prometheus metrics on this address")
}

// loadConfig reads --config when given, then applies explicitly set flags on
// top and validates the result.
func loadConfig(cmd *cobra.Command, o *options, adjust func(*config.Config, *pflag.FlagSet)) (config.Config, error) {
	var cfg config.Config
	if o.configPath != "" {
		c, err := config.Read(o.configPath)
		if err != nil {
			return config.Config{}, fmt.Errorf("load config: %w", err)
		}
		cfg = c
	}
	fs := cmd.Flags()
	applyFlags(fs, o, &cfg)
	if adjust != nil {
		adjust(&cfg, fs)
	}
	if err := config.DefaultAndValidate(&cfg); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func applyFlags(fs *pflag.FlagSet, o *options, cfg *config.Config) {
	changed := map[string]bool{}
	fs.Visit(func(f *pflag.Flag) { changed[f.Name] = true })

	set := func(name string, apply func()) {
		if changed[name] {
			apply()
		}
	}
	set("log-level", func() { cfg.Log.Level = o.logLevel })
	set("log-format", func() { cfg.Log.Format = o.logFormat })
	set("carrier", func() { cfg.Radio.CarrierHz = o.carrierHz })
	set("sampling", func() { cfg.Radio.SamplingHz = o.samplingHz })
	set("bandwidth", func() { cfg.Radio.BandwidthHz = o.bandwidthHz })
	set("radio", func() { cfg.Radio.Backend = o.radioBackend })
	set("iiod-addr", func() { cfg.Radio.IIODAddr = o.iiodAddr })
	set("serial-backend", func() { cfg.Serial.Backend = o.backend })
	set("device", func() { cfg.Serial.Device = o.device })
	set("baud", func() { cfg.Serial.Baud = o.baud })
	set("chunk", func() { cfg.Serial.ReplayChunk = o.chunk })
	set("idle", func() { cfg.Serial.ReplayIdle = o.idle })
	set("tail-policy", func() { cfg.Decode.TailPolicy = o.tailPolicy })
	set("decoder", func() { cfg.Decode.Decoder = o.decoder })
	set("decoder-cmd", func() { cfg.Decode.Command = o.decoderCmd })
	set("max-frames", func() { cfg.Capture.MaxFrames = o.maxFrames })
	set("output", func() { cfg.Capture.Path = o.output })
	set("quiet", func() { cfg.Output.Quiet = o.quiet })
	set("udp", func() { cfg.Output.UDPDest = o.udpDest })
	set("mqtt-broker", func() { cfg.Output.MQTT.Broker = o.mqttBroker })
	set("mqtt-topic", func() { cfg.Output.MQTT.Topic = o.mqttTopic })
	set("metrics-listen", func() { cfg.Metrics.Listen = o.metricsListen })
}

func newListenCmd(o *options, stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Configure the radio and print every received frame until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, o, nil)
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true
			return run(cmd.Context(), cfg, stdout, stderr)
		},
	}
	fs := cmd.Flags()
	addRadioFlags(fs, o)
	addSourceFlags(fs, o)
	addPipelineFlags(fs, o)
	addOutputFlags(fs, o)
	fs.IntVarP(&o.maxFrames, "max-frames", "n", 0, "stop after this many frames (0 = unbounded)")
	fs.StringVarP(&o.output, "output", "o", "", "also capture every frame to this file (.gz/.zst compress)")
	return cmd
}

const defaultCaptureFrames = 10000

const captureExample = `  squitter-iq capture -c 1089000000 -s 60000000 -b 56000000 -o cap.txt
  squitter-iq capture -c 1090000000 -s 30000000 -b 20000000 -o cap.txt.zst -n 50000`

func newCaptureCmd(o *options, stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "capture",
		Short:   "Record a bounded number of frames to a file while estimating frequencies",
		Example: captureExample,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, o, func(cfg *config.Config, fs *pflag.FlagSet) {
				if !fs.Changed("max-frames") && cfg.Capture.MaxFrames == 0 {
					cfg.Capture.MaxFrames = defaultCaptureFrames
				}
			})
			if err != nil {
				return err
			}
			if cfg.Capture.MaxFrames == 0 {
				return fmt.Errorf("capture needs a frame cap (--max-frames > 0)")
			}
			cmd.SilenceUsage = true
			return run(cmd.Context(), cfg, stdout, stderr)
		},
	}
	fs := cmd.Flags()
	addRadioFlags(fs, o)
	addSourceFlags(fs, o)
	addPipelineFlags(fs, o)
	addOutputFlags(fs, o)
	fs.IntVarP(&o.maxFrames, "max-frames", "n", defaultCaptureFrames, "number of frames to capture")
	fs.StringVarP(&o.output, "output", "o", "", "capture file (.gz/.zst compress)")
	for _, name := range []string{"carrier", "sampling", "bandwidth", "output"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func newReplayCmd(o *options, stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay <capture-file>",
		Short: "Run a capture file through the pipeline without hardware",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, o, func(cfg *config.Config, fs *pflag.FlagSet) {
				cfg.Radio.Backend = "none"
				cfg.Serial.Backend = "replay"
				cfg.Serial.ReplayPath = args[0]
				cfg.Capture.Path = ""
			})
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true
			return run(cmd.Context(), cfg, stdout, stderr)
		},
	}
	fs := cmd.Flags()
	fs.Int64VarP(&o.carrierHz, "carrier", "c", 0, "carrier frequency the capture was taken at, in Hz")
	fs.Int64VarP(&o.samplingHz, "sampling", "s", 0, "sampling frequency the capture was taken at, in Hz")
	fs.IntVar(&o.chunk, "chunk", 0, "bytes delivered per poll (default 37)")
	fs.BoolVar(&o.idle, "idle", false, "report an idle poll between chunks, like a live link")
	addPipelineFlags(fs, o)
	addOutputFlags(fs, o)
	fs.IntVarP(&o.maxFrames, "max-frames", "n", 0, "stop after this many frames (0 = whole file)")
	return cmd
}
