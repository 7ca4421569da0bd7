package modes

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ProcessDecoder delegates field decoding to an external decoder command.
//
// The command reads one JSON request per line on stdin and answers with one
// JSON response per line on stdout:
//
//	{"id":7,"op":"position","msg":"8D40621D58C382D690C8AC2863A7","ref_lat":-34.9,"ref_lon":138.6}
//	{"id":7,"ok":true,"value":{"lat_deg":-34.93,"lon_deg":138.61}}
//
// Ops are df, tc, icao, altitude, callsign, position and velocity. A response
// with ok=false or a null value means the field is unavailable. Anything the
// command writes to stderr is kept in a short tail for diagnostics.
type ProcessDecoder struct {
	cfg ProcessConfig
	log zerolog.Logger

	cmd    *exec.Cmd
	stdin  io.Closer
	rpc    *rpcClient
	stderr *tailBuffer

	closeOnce sync.Once
	exited    chan struct{}
	waitErr   error
}

type ProcessConfig struct {
	Command string
	Args    []string
	Env     map[string]string

	// RequestTimeout bounds each field query. Defaults to 2s.
	RequestTimeout time.Duration

	StderrTailLines int
	MaxLineBytes    int
}

var (
	ErrDecoderClosed  = errors.New("decoder process closed")
	ErrDecoderTimeout = errors.New("decoder request timed out")
)

var _ Decoder = (*ProcessDecoder)(nil)

// StartProcess launches the decoder command. The process is killed when ctx
// is cancelled or Close is called.
func StartProcess(ctx context.Context, cfg ProcessConfig, log zerolog.Logger) (*ProcessDecoder, error) {
	cfg.Command = strings.TrimSpace(cfg.Command)
	if cfg.Command == "" {
		return nil, fmt.Errorf("decoder command is required")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 2 * time.Second
	}
	if cfg.StderrTailLines <= 0 {
		cfg.StderrTailLines = 50
	}
	if cfg.MaxLineBytes <= 0 {
		cfg.MaxLineBytes = 64 * 1024
	}

	cmd := exec.CommandContext(ctx, cfg.Command, cfg.Args...)
	if len(cfg.Env) > 0 {
		cmd.Env = append(cmd.Environ(), envMapToList(cfg.Env)...)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start decoder %s: %w", cfg.Command, err)
	}

	p := &ProcessDecoder{
		cfg:    cfg,
		log:    log.With().Str("component", "decoder").Logger(),
		cmd:    cmd,
		stdin:  stdin,
		rpc:    newRPCClient(stdout, stdin, cfg.RequestTimeout, cfg.MaxLineBytes),
		stderr: newTailBuffer(cfg.StderrTailLines, cfg.MaxLineBytes),
		exited: make(chan struct{}),
	}

	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		readLinesToTail(stderr, p.stderr)
	}()
	go func() {
		p.waitErr = waitAfter(cmd.Wait, stderrDone, p.rpc.done)
		close(p.exited)
	}()

	p.log.Info().Str("cmd", cfg.Command).Strs("args", cfg.Args).Int("pid", cmd.Process.Pid).Msg("decoder started")
	return p, nil
}

// Close ends the decoder: stdin is closed first so the command can exit on
// its own, then it is killed after a grace period.
func (p *ProcessDecoder) Close() error {
	if p == nil {
		return nil
	}
	var err error
	p.closeOnce.Do(func() {
		// Unblock the stdout reader first; Wait does not run until it returns.
		p.rpc.close()
		_ = p.stdin.Close()
		select {
		case <-p.exited:
		case <-time.After(2 * time.Second):
			_ = p.cmd.Process.Kill()
			<-p.exited
		}
		if p.waitErr != nil && !errors.Is(p.waitErr, context.Canceled) {
			var exitErr *exec.ExitError
			if !errors.As(p.waitErr, &exitErr) {
				err = p.waitErr
			}
		}
		if tail := p.stderr.snapshot(); len(tail) > 0 {
			p.log.Debug().Strs("stderr", tail).Msg("decoder stopped")
		}
	})
	return err
}

// waitAfter calls wait once every reader is done. exec.Cmd.Wait closes the
// pipes, so it must not run while they are still being read.
func waitAfter(wait func() error, readers ...<-chan struct{}) error {
	for _, r := range readers {
		<-r
	}
	return wait()
}

// StderrTail returns the last lines the decoder wrote to stderr.
func (p *ProcessDecoder) StderrTail() []string {
	return p.stderr.snapshot()
}

func (p *ProcessDecoder) DownlinkFormat(msg string) (int, error) {
	var v int
	return v, p.rpc.call("df", msg, nil, &v)
}

func (p *ProcessDecoder) TypeCode(msg string) (int, error) {
	var v int
	return v, p.rpc.call("tc", msg, nil, &v)
}

func (p *ProcessDecoder) ICAO(msg string) (string, error) {
	var v string
	return v, p.rpc.call("icao", msg, nil, &v)
}

func (p *ProcessDecoder) Altitude(msg string) (int, error) {
	var v int
	return v, p.rpc.call("altitude", msg, nil, &v)
}

func (p *ProcessDecoder) Callsign(msg string) (string, error) {
	var v string
	err := p.rpc.call("callsign", msg, nil, &v)
	return strings.TrimRight(v, "_ "), err
}

func (p *ProcessDecoder) PositionWithRef(msg string, ref Reference) (Position, error) {
	var v Position
	return v, p.rpc.call("position", msg, &ref, &v)
}

func (p *ProcessDecoder) Velocity(msg string) (Velocity, error) {
	var v Velocity
	return v, p.rpc.call("velocity", msg, nil, &v)
}

type rpcRequest struct {
	ID     uint64   `json:"id"`
	Op     string   `json:"op"`
	Msg    string   `json:"msg"`
	RefLat *float64 `json:"ref_lat,omitempty"`
	RefLon *float64 `json:"ref_lon,omitempty"`
}

type rpcResponse struct {
	ID    uint64          `json:"id"`
	OK    bool            `json:"ok"`
	Error string          `json:"error,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
}

// rpcClient runs one request at a time over a line-delimited JSON stream.
// Late responses to timed-out requests are dropped by id.
type rpcClient struct {
	w       io.Writer
	timeout time.Duration

	mu     sync.Mutex
	nextID uint64

	responses chan rpcResponse
	done      chan struct{}
	quit      chan struct{}
	quitOnce  sync.Once
}

func newRPCClient(r io.Reader, w io.Writer, timeout time.Duration, maxLineBytes int) *rpcClient {
	c := &rpcClient{
		w:         w,
		timeout:   timeout,
		responses: make(chan rpcResponse, 16),
		done:      make(chan struct{}),
		quit:      make(chan struct{}),
	}
	go c.readLoop(r, maxLineBytes)
	return c
}

func (c *rpcClient) readLoop(r io.Reader, maxLineBytes int) {
	defer close(c.done)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxLineBytes)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var resp rpcResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			// Not a response; decoders sometimes print banners on stdout.
			continue
		}
		select {
		case c.responses <- resp:
		case <-c.quit:
			return
		}
	}
}

func (c *rpcClient) close() {
	c.quitOnce.Do(func() { close(c.quit) })
}

func (c *rpcClient) call(op, msg string, ref *Reference, out any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.quit:
		return ErrDecoderClosed
	case <-c.done:
		return fmt.Errorf("%s: %w", op, ErrDecoderClosed)
	default:
	}

	c.nextID++
	req := rpcRequest{ID: c.nextID, Op: op, Msg: msg}
	if ref != nil {
		req.RefLat = &ref.LatDeg
		req.RefLon = &ref.LonDeg
	}
	b, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("%s: encode request: %w", op, err)
	}
	b = append(b, '\n')
	if _, err := c.w.Write(b); err != nil {
		return fmt.Errorf("%s: write request: %w", op, err)
	}

	t := time.NewTimer(c.timeout)
	defer t.Stop()
	for {
		select {
		case resp := <-c.responses:
			if resp.ID != req.ID {
				continue
			}
			return resp.decode(op, out)
		case <-c.done:
			return fmt.Errorf("%s: %w", op, ErrDecoderClosed)
		case <-t.C:
			return fmt.Errorf("%s: %w", op, ErrDecoderTimeout)
		}
	}
}

func (r rpcResponse) decode(op string, out any) error {
	if !r.OK || len(r.Value) == 0 || string(r.Value) == "null" {
		if r.Error != "" {
			return fmt.Errorf("%s: %s: %w", op, r.Error, ErrUnavailable)
		}
		return fmt.Errorf("%s: %w", op, ErrUnavailable)
	}
	if err := json.Unmarshal(r.Value, out); err != nil {
		return fmt.Errorf("%s: decode value: %w", op, err)
	}
	return nil
}

func envMapToList(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k, v := range m {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		out = append(out, k+"="+v)
	}
	return out
}

func readLinesToTail(r io.Reader, t *tailBuffer) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), t.maxLineBytes)
	for scanner.Scan() {
		t.add(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		t.add("[tail error] " + err.Error())
	}
}
