package iq

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Summary describes the spread of recent frequency estimates.
type Summary struct {
	Count    int     `json:"count"`
	MeanHz   float64 `json:"mean_hz"`
	StdDevHz float64 `json:"stddev_hz"`
	MinHz    float64 `json:"min_hz"`
	MaxHz    float64 `json:"max_hz"`
}

// Window keeps the most recent estimates in a fixed-size ring.
type Window struct {
	vals []float64
	next int
}

func NewWindow(size int) *Window {
	if size <= 0 {
		size = 4096
	}
	return &Window{vals: make([]float64, 0, size)}
}

func (w *Window) Add(hz int64) {
	if len(w.vals) < cap(w.vals) {
		w.vals = append(w.vals, float64(hz))
		return
	}
	w.vals[w.next] = float64(hz)
	w.next = (w.next + 1) % len(w.vals)
}

func (w *Window) Len() int { return len(w.vals) }

func (w *Window) Summary() Summary {
	if len(w.vals) == 0 {
		return Summary{}
	}
	out := Summary{
		Count: len(w.vals),
		MinHz: floats.Min(w.vals),
		MaxHz: floats.Max(w.vals),
	}
	if len(w.vals) == 1 {
		out.MeanHz = w.vals[0]
		return out
	}
	out.MeanHz, out.StdDevHz = stat.MeanStdDev(w.vals, nil)
	return out
}
