// Package accumulator keeps the per-hypothesis, per-group running sums of
// power values over the dense time axis, and derives the difference-of-means
// statistic from them.
package accumulator

import (
	"fmt"
	"math"

	"dpa-engine/selection"
)

// Hypotheses is the number of key-byte guesses.
const Hypotheses = 256

// slots per hypothesis in the count table: low, high, excluded.
const slots = 3

// Accumulator is an arena of fixed-size arrays indexed by hypothesis, group
// and bin. Distinct hypotheses touch disjoint regions, so callers may update
// different hypotheses from different goroutines without locking.
type Accumulator struct {
	bins   int
	sums   []float64 // [(h*2+g)*bins + bin]
	counts []uint64  // [h*3 + slot]
}

// New allocates zeroed sums for 256 hypotheses × 2 groups × bins.
func New(bins int) *Accumulator {
	if bins < 0 {
		panic(fmt.Sprintf("accumulator: negative bin count %d", bins))
	}
	return &Accumulator{
		bins:   bins,
		sums:   make([]float64, Hypotheses*2*bins),
		counts: make([]uint64, Hypotheses*slots),
	}
}

// Bins returns the length of the time axis.
func (a *Accumulator) Bins() int { return a.bins }

func slot(g selection.Group) int {
	if g == selection.Excluded {
		return 2
	}
	return int(g)
}

func (a *Accumulator) row(h int, g selection.Group) []float64 {
	if g != selection.Low && g != selection.High {
		panic(fmt.Sprintf("accumulator: no sums for group %v", g))
	}
	off := (h*2 + int(g)) * a.bins
	return a.sums[off : off+a.bins]
}

// Update adds v to sum[h][g][bin]. g must be Low or High.
func (a *Accumulator) Update(h int, g selection.Group, bin int, v float64) {
	a.row(h, g)[bin] += v
}

// AddTrace adds values[i] at bins[i] for every sample of one trace.
func (a *Accumulator) AddTrace(h int, g selection.Group, bins []int, values []float32) {
	r := a.row(h, g)
	for i, b := range bins {
		r[b] += float64(values[i])
	}
}

// IncrementCount records one more trace in group g (Excluded included) for h.
func (a *Accumulator) IncrementCount(h int, g selection.Group) {
	a.counts[h*slots+slot(g)]++
}

// Count returns the number of traces counted for (h, g).
func (a *Accumulator) Count(h int, g selection.Group) uint64 {
	return a.counts[h*slots+slot(g)]
}

// Sum returns sum[h][g][bin].
func (a *Accumulator) Sum(h int, g selection.Group, bin int) float64 {
	return a.row(h, g)[bin]
}

// Mean returns sum/count for (h, g, bin), or NaN when the group is empty.
func (a *Accumulator) Mean(h int, g selection.Group, bin int) float64 {
	c := a.Count(h, g)
	if c == 0 {
		return math.NaN()
	}
	return a.Sum(h, g, bin) / float64(c)
}

// Differential returns |mean(low) - mean(high)| at bin for h. It is NaN
// while either group of h is empty.
func (a *Accumulator) Differential(h, bin int) float64 {
	c0, c1 := a.counts[h*slots], a.counts[h*slots+1]
	if c0 == 0 || c1 == 0 {
		return math.NaN()
	}
	s0 := a.sums[(h*2)*a.bins+bin]
	s1 := a.sums[(h*2+1)*a.bins+bin]
	return math.Abs(s0/float64(c0) - s1/float64(c1))
}

// Row fills dst with the differential of every hypothesis at bin.
func (a *Accumulator) Row(bin int, dst []float64) []float64 {
	if cap(dst) < Hypotheses {
		dst = make([]float64, Hypotheses)
	}
	dst = dst[:Hypotheses]
	for h := range dst {
		dst[h] = a.Differential(h, bin)
	}
	return dst
}

// MaxDifferential returns the largest differential of h over all bins.
// NaN entries never win, so an undefined hypothesis reports 0.
func (a *Accumulator) MaxDifferential(h int) float64 {
	c0, c1 := a.counts[h*slots], a.counts[h*slots+1]
	if c0 == 0 || c1 == 0 {
		return 0
	}
	lo, hi := a.row(h, selection.Low), a.row(h, selection.High)
	n0, n1 := float64(c0), float64(c1)
	m := 0.0
	for b := range lo {
		if d := math.Abs(lo[b]/n0 - hi[b]/n1); d > m {
			m = d
		}
	}
	return m
}

// Maxima writes MaxDifferential(h) into dst[h] for h in [from, to).
func (a *Accumulator) Maxima(dst []float64, from, to int) {
	for h := from; h < to; h++ {
		dst[h] = a.MaxDifferential(h)
	}
}

// Merge adds the sums and counts of o into a. Both must share a bin count.
func (a *Accumulator) Merge(o *Accumulator) error {
	if o.bins != a.bins {
		return fmt.Errorf("accumulator: merge of %d bins into %d", o.bins, a.bins)
	}
	for i, v := range o.sums {
		a.sums[i] += v
	}
	for i, c := range o.counts {
		a.counts[i] += c
	}
	return nil
}
