// Package sink delivers per-frame records to the operator and downstream
// consumers.
package sink

import (
	"errors"
	"time"

	"squitter-iq/internal/iq"
	"squitter-iq/internal/modes"
)

// Record is everything learned from one valid frame.
type Record struct {
	Session string    `json:"session"`
	Seq     uint64    `json:"seq"`
	Time    time.Time `json:"time"`

	Frame   string `json:"frame"`
	Payload string `json:"payload"`
	Tail    string `json:"tail"`

	Sample   *iq.Sample            `json:"iq,omitempty"`
	Estimate *iq.FrequencyEstimate `json:"estimate,omitempty"`
	IQError  string                `json:"iq_error,omitempty"`

	Classification modes.Classification `json:"classification"`
}

type Sink interface {
	Emit(r Record) error
	Close() error
}

// Multi fans a record out to every sink. One failing sink does not stop the
// others; the errors are joined.
type Multi []Sink

func (m Multi) Emit(r Record) error {
	var errs []error
	for _, s := range m {
		if err := s.Emit(r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
