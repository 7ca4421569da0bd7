package indicator

import (
	"errors"
	"testing"
	"time"
)

type fakeLine struct {
	values []int
	setErr error
	closed bool
}

func (f *fakeLine) SetValue(v int) error {
	if f.setErr != nil {
		return f.setErr
	}
	f.values = append(f.values, v)
	return nil
}

func (f *fakeLine) Close() error {
	f.closed = true
	return nil
}

func TestLED_HoldsAfterLastError(t *testing.T) {
	fl := &fakeLine{}
	led := newLED(fl, 100*time.Millisecond)
	t0 := time.Unix(1000, 0)

	led.RXError(t0)
	if !led.Lit() {
		t.Fatalf("expected LED on")
	}
	led.RXError(t0.Add(50 * time.Millisecond))
	led.Tick(t0.Add(120 * time.Millisecond))
	if !led.Lit() {
		t.Fatalf("second error should extend the hold")
	}
	led.Tick(t0.Add(150 * time.Millisecond))
	if led.Lit() {
		t.Fatalf("expected LED off after hold")
	}
	if len(fl.values) != 2 || fl.values[0] != 1 || fl.values[1] != 0 {
		t.Fatalf("values=%v want [1 0]", fl.values)
	}
}

func TestLED_TickWhileOffDoesNothing(t *testing.T) {
	fl := &fakeLine{}
	led := newLED(fl, 0)
	if led.Hold != 500*time.Millisecond {
		t.Fatalf("default hold=%v", led.Hold)
	}
	led.Tick(time.Now())
	if len(fl.values) != 0 {
		t.Fatalf("values=%v want none", fl.values)
	}
}

func TestLED_SetFailureStaysOff(t *testing.T) {
	fl := &fakeLine{setErr: errors.New("busy")}
	led := newLED(fl, time.Second)
	led.RXError(time.Now())
	if led.Lit() {
		t.Fatalf("LED should not report lit when the write failed")
	}
}

func TestLED_CloseTurnsOff(t *testing.T) {
	fl := &fakeLine{}
	led := newLED(fl, time.Second)
	led.RXError(time.Now())
	if err := led.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if !fl.closed || fl.values[len(fl.values)-1] != 0 {
		t.Fatalf("closed=%v values=%v", fl.closed, fl.values)
	}
	if err := led.Close(); err != nil {
		t.Fatalf("second Close() error: %v", err)
	}
}

func TestOpen_InvalidPin(t *testing.T) {
	if _, err := Open(0, time.Second); err == nil {
		t.Fatalf("expected error")
	}
}
