// Package metrics exposes session counters to Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const namespace = "squitter"

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	reg *prometheus.Registry

	chunks       prometheus.Counter
	bytes        prometheus.Counter
	idlePolls    prometheus.Counter
	rxErrors     prometheus.Counter
	frames       *prometheus.CounterVec
	iqMalformed  prometheus.Counter
	classified   *prometheus.CounterVec
	frequencyHz  prometheus.Gauge
	offsetHz     prometheus.Histogram
	bufferedSize prometheus.Gauge
}

// DefaultSamplingHz sizes the offset histogram when no rate is known.
const DefaultSamplingHz = 60000000

// offsetBuckets spans the estimator's range, -fs/2 to +fs/2, in 25 bounds.
func offsetBuckets(samplingHz int64) []float64 {
	if samplingHz <= 0 {
		samplingHz = DefaultSamplingHz
	}
	fs := float64(samplingHz)
	return prometheus.LinearBuckets(-fs/2, fs/24, 25)
}

// New creates the collectors on a fresh registry, along with the Go runtime
// and process collectors. The offset histogram is sized for samplingHz.
func New(samplingHz int64) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		chunks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "serial", Name: "chunks_total",
			Help: "Chunks read from the byte source.",
		}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "serial", Name: "bytes_total",
			Help: "Bytes read from the byte source.",
		}),
		idlePolls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "serial", Name: "idle_polls_total",
			Help: "Polls that found no data.",
		}),
		rxErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "serial", Name: "rx_errors_total",
			Help: "Chunks carrying the receiver error marker.",
		}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "frames", Name: "total",
			Help: "Frames extracted, by outcome (short or valid).",
		}, []string{"outcome"}),
		iqMalformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "iq", Name: "malformed_total",
			Help: "Valid frames whose I/Q tail could not be decoded.",
		}),
		classified: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "modes", Name: "messages_total",
			Help: "Messages by classification state and downlink format.",
		}, []string{"state", "df"}),
		frequencyHz: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "iq", Name: "last_frequency_hz",
			Help: "Most recent absolute frequency estimate.",
		}),
		offsetHz: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "iq", Name: "offset_hz",
			Help:    "Frequency offset from the carrier.",
			Buckets: offsetBuckets(samplingHz),
		}),
		bufferedSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "framer", Name: "buffered_bytes",
			Help: "Bytes held back waiting for a delimiter.",
		}),
	}
	reg.MustRegister(
		m.chunks, m.bytes, m.idlePolls, m.rxErrors, m.frames, m.iqMalformed,
		m.classified, m.frequencyHz, m.offsetHz, m.bufferedSize,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

func (m *Metrics) Chunk(n int, buffered int) {
	if m == nil {
		return
	}
	m.chunks.Inc()
	m.bytes.Add(float64(n))
	m.bufferedSize.Set(float64(buffered))
}

func (m *Metrics) IdlePoll() {
	if m == nil {
		return
	}
	m.idlePolls.Inc()
}

func (m *Metrics) RXError() {
	if m == nil {
		return
	}
	m.rxErrors.Inc()
}

func (m *Metrics) Frame(valid bool) {
	if m == nil {
		return
	}
	outcome := "short"
	if valid {
		outcome = "valid"
	}
	m.frames.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IQMalformed() {
	if m == nil {
		return
	}
	m.iqMalformed.Inc()
}

func (m *Metrics) Estimate(offsetHz, frequencyHz int64) {
	if m == nil {
		return
	}
	m.offsetHz.Observe(float64(offsetHz))
	m.frequencyHz.Set(float64(frequencyHz))
}

func (m *Metrics) Classified(state string, df int) {
	if m == nil {
		return
	}
	m.classified.WithLabelValues(state, strconv.Itoa(df)).Inc()
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string, m *Metrics, log zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("metrics listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	}
}
