package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"squitter-iq/internal/capture"
	"squitter-iq/internal/framer"
	"squitter-iq/internal/iq"
	"squitter-iq/internal/modes"
)

type captureSummary struct {
	Frames    int
	Short     int
	Valid     int
	IQErrors  int
	DFCounts  map[int]int
	TCCounts  map[int]int
	Estimates iq.Summary
}

// summarizeCapture classifies every frame of a capture with the header
// decoder. Estimates are only computed when samplingHz is known.
func summarizeCapture(frames []string, carrierHz, samplingHz int64, policy iq.TailPolicy) captureSummary {
	s := captureSummary{DFCounts: map[int]int{}, TCCounts: map[int]int{}}
	window := iq.NewWindow(len(frames))
	dec := modes.HeaderDecoder{}

	for _, text := range frames {
		s.Frames++
		vf, ok := framer.Validate(framer.Frame{Raw: []byte(text), Text: text})
		if !ok {
			s.Short++
			continue
		}
		s.Valid++

		if sample, err := iq.Decode(vf.Tail, policy); err != nil {
			s.IQErrors++
		} else if samplingHz > 0 {
			window.Add(iq.Estimate(sample, carrierHz, samplingHz).FrequencyHz)
		}

		cl := modes.Classify(vf.Payload, dec, modes.DefaultReference)
		if cl.Err != nil && cl.State == modes.StateIgnored {
			continue
		}
		s.DFCounts[cl.DF]++
		if cl.HasTC {
			s.TCCounts[cl.TC]++
		}
	}
	s.Estimates = window.Summary()
	return s
}

func printCaptureSummary(w io.Writer, path string, s captureSummary) {
	fmt.Fprintf(w, "path: %s\n", path)
	fmt.Fprintf(w, "frames: %d\n", s.Frames)
	fmt.Fprintf(w, "short_frames: %d\n", s.Short)
	fmt.Fprintf(w, "valid_frames: %d\n", s.Valid)
	fmt.Fprintf(w, "iq_errors: %d\n", s.IQErrors)

	printCounts(w, "df_counts", s.DFCounts)
	printCounts(w, "tc_counts", s.TCCounts)

	if s.Estimates.Count > 0 {
		fmt.Fprintf(w, "estimates: %d\n", s.Estimates.Count)
		fmt.Fprintf(w, "  mean_hz: %.0f\n", s.Estimates.MeanHz)
		fmt.Fprintf(w, "  stddev_hz: %.0f\n", s.Estimates.StdDevHz)
		fmt.Fprintf(w, "  min_hz: %.0f\n", s.Estimates.MinHz)
		fmt.Fprintf(w, "  max_hz: %.0f\n", s.Estimates.MaxHz)
	}
}

func printCounts(w io.Writer, title string, counts map[int]int) {
	keys := make([]int, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	fmt.Fprintf(w, "%s:\n", title)
	for _, k := range keys {
		fmt.Fprintf(w, "  %d: %d\n", k, counts[k])
	}
}

func newInspectCmd(o *options, stdout io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect <capture-file>",
		Short: "Summarize a capture file: frame counts, downlink formats and frequency spread",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			policy, err := iq.ParseTailPolicy(o.tailPolicy)
			if err != nil {
				return err
			}
			path := strings.TrimSpace(args[0])
			r, err := capture.Open(path)
			if err != nil {
				return err
			}
			defer r.Close()
			frames, err := capture.ReadFrames(r)
			if err != nil {
				return fmt.Errorf("read %s: %w", path, err)
			}
			printCaptureSummary(stdout, path, summarizeCapture(frames, o.carrierHz, o.samplingHz, policy))
			return nil
		},
	}
	fs := cmd.Flags()
	fs.Int64VarP(&o.carrierHz, "carrier", "c", 0, "carrier frequency the capture was taken at, in Hz")
	fs.Int64VarP(&o.samplingHz, "sampling", "s", 0, "sampling frequency; enables the frequency summary")
	fs.StringVar(&o.tailPolicy, "tail-policy", "", "I/Q tail handling (strict, pad)")
	return cmd
}
