package radio

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

func TestSettingsValidate(t *testing.T) {
	tests := []struct {
		name string
		s    Settings
		ok   bool
	}{
		{name: "ok", s: Settings{CarrierHz: 1089000000, SamplingHz: 60000000}, ok: true},
		{name: "bandwidth", s: Settings{CarrierHz: 1, SamplingHz: 1, BandwidthHz: 56000000}, ok: true},
		{name: "no carrier", s: Settings{SamplingHz: 1}},
		{name: "no sampling", s: Settings{CarrierHz: 1}},
		{name: "negative bandwidth", s: Settings{CarrierHz: 1, SamplingHz: 1, BandwidthHz: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.s.Validate()
			if (err == nil) != tt.ok {
				t.Fatalf("Validate()=%v ok=%v", err, tt.ok)
			}
		})
	}
}

func TestPlan(t *testing.T) {
	got := Plan(Settings{CarrierHz: 1089000000, SamplingHz: 60000000, BandwidthHz: 56000000})
	want := []AttrWrite{
		{Channel: "altvoltage0", Output: true, Attr: "frequency", Value: "1089000000"},
		{Channel: "altvoltage1", Output: true, Attr: "frequency", Value: "1089000000"},
		{Channel: "voltage0", Attr: "sampling_frequency", Value: "60000000"},
		{Channel: "voltage2", Attr: "sampling_frequency", Value: "60000000"},
		{Channel: "voltage3", Attr: "sampling_frequency", Value: "60000000"},
		{Channel: "voltage0", Attr: "rf_bandwidth", Value: "56000000"},
		{Channel: "voltage2", Attr: "rf_bandwidth", Value: "56000000"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Plan()=%+v\nwant %+v", got, want)
	}

	if n := len(Plan(Settings{CarrierHz: 1, SamplingHz: 1})); n != 5 {
		t.Fatalf("plan without bandwidth has %d writes, want 5", n)
	}
}

func TestParseGainDB(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{in: "dev 'ad9361-phy', channel 'voltage0' (input), attr 'hardwaregain', value '71.000000 dB'", want: 71, ok: true},
		{in: "-3.5 dB", want: -3.5, ok: true},
		{in: "no gain here"},
	}
	for _, tt := range tests {
		got, ok := ParseGainDB(tt.in)
		if ok != tt.ok || got != tt.want {
			t.Fatalf("ParseGainDB(%q)=%v,%v want %v,%v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

type recordedRun struct {
	mu    sync.Mutex
	calls [][]string
	fail  func(args []string) bool
}

func (r *recordedRun) run(ctx context.Context, name string, args ...string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, append([]string{name}, args...))
	if r.fail != nil && r.fail(args) {
		return []byte("No such channel"), errors.New("exit status 1")
	}
	if len(args) > 1 && args[1] == "-i" {
		return []byte("71.000000 dB\n"), nil
	}
	return nil, nil
}

func TestIIOAttr_CommandSequence(t *testing.T) {
	rec := &recordedRun{}
	c := NewIIOAttr("", zerolog.Nop())
	c.run = rec.run

	err := c.Configure(context.Background(), Settings{CarrierHz: 1089000000, SamplingHz: 60000000, BandwidthHz: 56000000})
	if err != nil {
		t.Fatalf("Configure() error: %v", err)
	}
	want := [][]string{
		{"iio_attr", "-c", "ad9361-phy", "altvoltage0", "frequency", "1089000000"},
		{"iio_attr", "-c", "ad9361-phy", "altvoltage1", "frequency", "1089000000"},
		{"iio_attr", "-c", "ad9361-phy", "voltage0", "sampling_frequency", "60000000"},
		{"iio_attr", "-c", "ad9361-phy", "voltage2", "sampling_frequency", "60000000"},
		{"iio_attr", "-c", "ad9361-phy", "voltage3", "sampling_frequency", "60000000"},
		{"iio_attr", "-c", "-i", "ad9361-phy", "voltage0", "hardwaregain"},
		{"iio_attr", "-c", "ad9361-phy", "voltage0", "rf_bandwidth", "56000000"},
		{"iio_attr", "-c", "ad9361-phy", "voltage2", "rf_bandwidth", "56000000"},
	}
	if !reflect.DeepEqual(rec.calls, want) {
		t.Fatalf("calls=%v\nwant %v", rec.calls, want)
	}
}

func TestIIOAttr_GainQueryLastWithoutBandwidth(t *testing.T) {
	rec := &recordedRun{}
	c := NewIIOAttr("/usr/bin/iio_attr", zerolog.Nop())
	c.run = rec.run

	if err := c.Configure(context.Background(), Settings{Device: "other-phy", CarrierHz: 1, SamplingHz: 2}); err != nil {
		t.Fatalf("Configure() error: %v", err)
	}
	if len(rec.calls) != 6 {
		t.Fatalf("calls=%d want 6", len(rec.calls))
	}
	last := rec.calls[len(rec.calls)-1]
	if last[0] != "/usr/bin/iio_attr" || last[2] != "-i" || last[3] != "other-phy" {
		t.Fatalf("last call=%v", last)
	}
}

func TestIIOAttr_FailureIsFatal(t *testing.T) {
	rec := &recordedRun{fail: func(args []string) bool { return len(args) > 2 && args[2] == "voltage2" }}
	c := NewIIOAttr("", zerolog.Nop())
	c.run = rec.run

	err := c.Configure(context.Background(), Settings{CarrierHz: 1, SamplingHz: 2})
	if !errors.Is(err, ErrConfigure) {
		t.Fatalf("err=%v want ErrConfigure", err)
	}
	if !strings.Contains(err.Error(), "No such channel") {
		t.Fatalf("err=%v should carry command output", err)
	}
	if len(rec.calls) != 4 {
		t.Fatalf("calls=%d want 4 (stop at first failure)", len(rec.calls))
	}
}

func TestIIOAttr_GainFailureIsNotFatal(t *testing.T) {
	rec := &recordedRun{fail: func(args []string) bool { return len(args) > 1 && args[1] == "-i" }}
	c := NewIIOAttr("", zerolog.Nop())
	c.run = rec.run

	if err := c.Configure(context.Background(), Settings{CarrierHz: 1, SamplingHz: 2}); err != nil {
		t.Fatalf("Configure() error: %v", err)
	}
}

func TestIIOAttr_InvalidSettings(t *testing.T) {
	rec := &recordedRun{}
	c := NewIIOAttr("", zerolog.Nop())
	c.run = rec.run
	if err := c.Configure(context.Background(), Settings{}); !errors.Is(err, ErrConfigure) {
		t.Fatalf("err=%v want ErrConfigure", err)
	}
	if len(rec.calls) != 0 {
		t.Fatalf("no commands expected, got %v", rec.calls)
	}
}

// fakeIIOD answers WRITE and READ commands on one connection.
func fakeIIOD(conn net.Conn, failAttr string, writes *[]string) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		f := strings.Fields(strings.TrimSpace(line))
		if len(f) == 0 {
			continue
		}
		switch f[0] {
		case "WRITE":
			n, _ := strconv.Atoi(f[len(f)-1])
			val := make([]byte, n)
			if _, err := io.ReadFull(r, val); err != nil {
				return
			}
			*writes = append(*writes, fmt.Sprintf("%s %s %s %s=%s", f[1], f[2], f[3], f[4], val))
			if f[4] == failAttr {
				_, _ = io.WriteString(conn, "-22\n")
				continue
			}
			_, _ = io.WriteString(conn, "0\n")
		case "READ":
			v := "71.000000 dB"
			_, _ = io.WriteString(conn, fmt.Sprintf("%d\n%s\n", len(v), v))
		case "EXIT":
			return
		}
	}
}

func TestIIOD_Configure(t *testing.T) {
	var writes []string
	done := make(chan struct{})
	c := NewIIOD("pluto.local", zerolog.Nop())
	if c.Addr != "pluto.local:30431" {
		t.Fatalf("Addr=%q", c.Addr)
	}
	c.dial = func(ctx context.Context, network, addr string) (net.Conn, error) {
		client, server := net.Pipe()
		go func() {
			defer close(done)
			fakeIIOD(server, "", &writes)
		}()
		return client, nil
	}

	if err := c.Configure(context.Background(), Settings{CarrierHz: 1089000000, SamplingHz: 60000000, BandwidthHz: 56000000}); err != nil {
		t.Fatalf("Configure() error: %v", err)
	}
	<-done
	want := []string{
		"ad9361-phy OUTPUT altvoltage0 frequency=1089000000",
		"ad9361-phy OUTPUT altvoltage1 frequency=1089000000",
		"ad9361-phy INPUT voltage0 sampling_frequency=60000000",
		"ad9361-phy INPUT voltage2 sampling_frequency=60000000",
		"ad9361-phy INPUT voltage3 sampling_frequency=60000000",
		"ad9361-phy INPUT voltage0 rf_bandwidth=56000000",
		"ad9361-phy INPUT voltage2 rf_bandwidth=56000000",
	}
	if !reflect.DeepEqual(writes, want) {
		t.Fatalf("writes=%v\nwant %v", writes, want)
	}
}

func TestIIOD_ErrnoIsFatal(t *testing.T) {
	var writes []string
	done := make(chan struct{})
	c := NewIIOD("127.0.0.1:30431", zerolog.Nop())
	c.dial = func(ctx context.Context, network, addr string) (net.Conn, error) {
		client, server := net.Pipe()
		go func() {
			defer close(done)
			fakeIIOD(server, "sampling_frequency", &writes)
		}()
		return client, nil
	}

	err := c.Configure(context.Background(), Settings{CarrierHz: 1, SamplingHz: 2})
	<-done
	if !errors.Is(err, ErrConfigure) || !strings.Contains(err.Error(), "errno 22") {
		t.Fatalf("err=%v want ErrConfigure with errno", err)
	}
	if len(writes) != 3 {
		t.Fatalf("writes=%v want 3", writes)
	}
}

func TestIIOD_DialFailure(t *testing.T) {
	c := NewIIOD("127.0.0.1:1", zerolog.Nop())
	c.dial = func(ctx context.Context, network, addr string) (net.Conn, error) {
		return nil, errors.New("connection refused")
	}
	if err := c.Configure(context.Background(), Settings{CarrierHz: 1, SamplingHz: 2}); !errors.Is(err, ErrConfigure) {
		t.Fatalf("err=%v want ErrConfigure", err)
	}
}
