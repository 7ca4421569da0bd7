package radio

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// DefaultIIODPort is the TCP port iiod listens on.
const DefaultIIODPort = "30431"

// IIOD configures a remote receiver through the iiod text protocol:
//
//	WRITE <dev> INPUT|OUTPUT <chan> <attr> <len>\r\n<value>   -> "<ret>\n"
//	READ <dev> INPUT|OUTPUT <chan> <attr>\r\n                 -> "<len>\n<value>\n"
//
// A negative ret or len is an errno from the daemon.
type IIOD struct {
	Addr    string
	Timeout time.Duration

	log  zerolog.Logger
	dial func(ctx context.Context, network, addr string) (net.Conn, error)
}

func NewIIOD(addr string, log zerolog.Logger) *IIOD {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, DefaultIIODPort)
	}
	var d net.Dialer
	return &IIOD{
		Addr:    addr,
		Timeout: 5 * time.Second,
		log:     log.With().Str("component", "radio").Str("iiod", addr).Logger(),
		dial:    d.DialContext,
	}
}

func (c *IIOD) Configure(ctx context.Context, s Settings) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrConfigure, err)
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	dctx, cancel := context.WithTimeout(ctx, timeout)
	conn, err := c.dial(dctx, "tcp", c.Addr)
	cancel()
	if err != nil {
		return fmt.Errorf("%w: dial iiod %s: %v", ErrConfigure, c.Addr, err)
	}
	defer conn.Close()

	sess := &iiodSession{conn: conn, r: bufio.NewReader(conn), timeout: timeout}
	dev := s.device()
	for _, w := range Plan(s) {
		if err := sess.write(dev, w); err != nil {
			return fmt.Errorf("%w: set %s %s=%s: %v", ErrConfigure, w.Channel, w.Attr, w.Value, err)
		}
	}

	gain, err := sess.read(dev, AttrWrite{Channel: "voltage0", Attr: "hardwaregain"})
	if err != nil {
		c.log.Warn().Err(err).Msg("hardwaregain query failed")
	} else if g, ok := ParseGainDB(gain); ok {
		c.log.Info().Float64("gain_db", g).Msg("rx hardware gain")
	}
	_ = sess.send("EXIT")

	c.log.Info().Int64("carrier_hz", s.CarrierHz).Int64("sampling_hz", s.SamplingHz).Int64("bandwidth_hz", s.BandwidthHz).Msg("radio configured")
	return nil
}

type iiodSession struct {
	conn    net.Conn
	r       *bufio.Reader
	timeout time.Duration
}

func direction(output bool) string {
	if output {
		return "OUTPUT"
	}
	return "INPUT"
}

func (s *iiodSession) send(line string) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.timeout))
	_, err := io.WriteString(s.conn, line+"\r\n")
	return err
}

func (s *iiodSession) readInt() (int, error) {
	_ = s.conn.SetReadDeadline(time.Now().Add(s.timeout))
	for {
		line, err := s.r.ReadString('\n')
		if err != nil {
			return 0, err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		v, err := strconv.Atoi(line)
		if err != nil {
			return 0, fmt.Errorf("unexpected reply %q", line)
		}
		return v, nil
	}
}

func (s *iiodSession) write(dev string, w AttrWrite) error {
	cmd := fmt.Sprintf("WRITE %s %s %s %s %d", dev, direction(w.Output), w.Channel, w.Attr, len(w.Value))
	if err := s.send(cmd); err != nil {
		return err
	}
	if _, err := io.WriteString(s.conn, w.Value); err != nil {
		return err
	}
	ret, err := s.readInt()
	if err != nil {
		return err
	}
	if ret < 0 {
		return fmt.Errorf("iiod errno %d", -ret)
	}
	return nil
}

func (s *iiodSession) read(dev string, w AttrWrite) (string, error) {
	if err := s.send(fmt.Sprintf("READ %s %s %s %s", dev, direction(w.Output), w.Channel, w.Attr)); err != nil {
		return "", err
	}
	n, err := s.readInt()
	if err != nil {
		return "", err
	}
	if n < 0 {
		return "", fmt.Errorf("iiod errno %d", -n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(s.r, buf); err != nil {
		return "", err
	}
	// The newline after the value is skipped by the next readInt.
	return strings.TrimRight(string(buf), "\x00\n"), nil
}
