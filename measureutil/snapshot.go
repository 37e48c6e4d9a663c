// Package measureutil turns the engine counters into a short run summary.
package measureutil

import (
	"fmt"
	"io"

	"dpa-engine/measure"
)

// Summary is derived from one snapshot of the engine counters.
type Summary struct {
	Traces          uint64
	Samples         uint64
	Excluded        uint64
	SamplesPerTrace float64
	// ExcludedShare is the fraction of (trace, hypothesis) pairs that fell
	// into neither group.
	ExcludedShare float64
}

// Summarize derives a Summary from a counter snapshot.
func Summarize(snap map[string]uint64) Summary {
	s := Summary{
		Traces:   snap["engine/traces"],
		Samples:  snap["engine/samples"],
		Excluded: snap["engine/excluded"],
	}
	if s.Traces > 0 {
		s.SamplesPerTrace = float64(s.Samples) / float64(s.Traces)
		s.ExcludedShare = float64(s.Excluded) / float64(s.Traces*256)
	}
	return s
}

// SnapshotAndReset returns the global measurement map and clears it.
func SnapshotAndReset() map[string]uint64 {
	return measure.Global.SnapshotAndReset()
}

// Print writes the summary of the global counters to w and resets them.
func Print(w io.Writer) {
	s := Summarize(SnapshotAndReset())
	fmt.Fprintf(w, "traces=%d samples=%d (%.1f/trace) excluded=%d (%.2f%% of trace×hypothesis pairs)\n",
		s.Traces, s.Samples, s.SamplesPerTrace, s.Excluded, 100*s.ExcludedShare)
}
