// Package report writes the CSV artifacts of a DPA run, records a manifest
// with artifact digests, and reads the artifacts back for ranking and plots.
package report

import (
	"fmt"

	"dpa-engine/engine"
)

// Names are the artifact file names of one run.
type Names struct {
	IntervalMaxima string `json:"interval_maxima"`
	Differentials  string `json:"differentials"`
	GroupCounts    string `json:"group_counts"`
	Manifest       string `json:"manifest"`
}

// ArtifactNames encodes the run parameters in every file name so several
// attacks can share an output directory.
func ArtifactNames(p engine.Params) Names {
	base := fmt.Sprintf("tracesUsed_%06d__targetByteNum_%d__targetNumBits_%d__targetBitsOffset_%d__targetThreshold_%d",
		p.Traces, p.TargetByte, p.NumBits, p.BitsOffset, p.Threshold)
	withInterval := fmt.Sprintf("%s__reportMaxesAfter_%d", base, p.Interval)
	return Names{
		IntervalMaxima: withInterval + "__intervalMaxes.csv",
		Differentials:  base + "__differentials.csv",
		GroupCounts:    withInterval + "__groupCounts.csv",
		Manifest:       withInterval + "__manifest.json",
	}
}
