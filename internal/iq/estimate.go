package iq

import "math"

// FrequencyEstimate is the absolute carrier frequency derived from one sample.
type FrequencyEstimate struct {
	PhaseRad    float64 `json:"phase_rad"`
	OffsetHz    int64   `json:"offset_hz"`
	FrequencyHz int64   `json:"frequency_hz"`
}

// Phase returns atan2(Q, I) in (-pi, pi]. A zero sample has phase 0.
func Phase(s Sample) float64 {
	if s.I == 0 && s.Q == 0 {
		return 0
	}
	return math.Atan2(float64(s.Q), float64(s.I))
}

// Estimate converts the phase of s into an absolute frequency:
// round(samplingHz/(2*pi)*phase) + carrierHz.
//
// Each call is independent; no history is kept between frames.
func Estimate(s Sample, carrierHz, samplingHz int64) FrequencyEstimate {
	phi := Phase(s)
	offset := math.Round(float64(samplingHz) / (2 * math.Pi) * phi)
	return FrequencyEstimate{
		PhaseRad:    phi,
		OffsetHz:    int64(offset),
		FrequencyHz: int64(offset) + carrierHz,
	}
}
