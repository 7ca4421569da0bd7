package session

import (
	"squitter-iq/internal/framer"
	"squitter-iq/internal/iq"
	"squitter-iq/internal/modes"
	"squitter-iq/internal/sink"
)

// Pipeline turns a valid frame into a record: the tail becomes a frequency
// estimate and the payload is classified. Either half may fail without
// affecting the other.
type Pipeline struct {
	CarrierHz  int64
	SamplingHz int64
	TailPolicy iq.TailPolicy
	Decoder    modes.Decoder
	Reference  modes.Reference
}

func (p Pipeline) Process(vf framer.ValidFrame) sink.Record {
	rec := sink.Record{
		Frame:   vf.Frame.Text,
		Payload: vf.Payload,
		Tail:    vf.Tail,
	}
	if s, err := iq.Decode(vf.Tail, p.TailPolicy); err != nil {
		rec.IQError = err.Error()
	} else {
		est := iq.Estimate(s, p.CarrierHz, p.SamplingHz)
		rec.Sample = &s
		rec.Estimate = &est
	}
	rec.Classification = modes.Classify(vf.Payload, p.Decoder, p.Reference)
	return rec
}
