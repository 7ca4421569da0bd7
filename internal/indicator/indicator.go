// Package indicator drives a status LED that lights while the receiver is
// reporting errors.
package indicator

import (
	"sync"
	"time"
)

// Indicator is told about receiver errors and polled once per loop
// iteration so it can turn itself off again.
type Indicator interface {
	RXError(now time.Time)
	Tick(now time.Time)
	Close() error
}

// Nop is used when no LED is configured.
type Nop struct{}

func (Nop) RXError(time.Time) {}
func (Nop) Tick(time.Time)    {}
func (Nop) Close() error      { return nil }

type line interface {
	SetValue(v int) error
	Close() error
}

// LED holds a line high for Hold after the most recent error.
type LED struct {
	Hold time.Duration

	mu    sync.Mutex
	line  line
	lit   bool
	offAt time.Time
}

// Open requests pin as an output. It fails on platforms without a GPIO
// character device.
func Open(pin int, hold time.Duration) (*LED, error) {
	l, err := openLine(pin)
	if err != nil {
		return nil, err
	}
	return newLED(l, hold), nil
}

func newLED(l line, hold time.Duration) *LED {
	if hold <= 0 {
		hold = 500 * time.Millisecond
	}
	return &LED{Hold: hold, line: l}
}

func (d *LED) RXError(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.offAt = now.Add(d.Hold)
	if !d.lit {
		d.lit = d.line.SetValue(1) == nil
	}
}

func (d *LED) Tick(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lit && !now.Before(d.offAt) {
		if d.line.SetValue(0) == nil {
			d.lit = false
		}
	}
}

// Lit reports whether the LED is currently on.
func (d *LED) Lit() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lit
}

func (d *LED) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.line == nil {
		return nil
	}
	_ = d.line.SetValue(0)
	err := d.line.Close()
	d.line = nil
	d.lit = false
	return err
}
