package report

import (
	"sort"

	"gonum.org/v1/gonum/floats"
)

// Candidate is one key-byte hypothesis and its interval maximum.
type Candidate struct {
	Hypothesis int     `json:"hypothesis"`
	Max        float64 `json:"max"`
}

// Rank orders hypotheses by maximum differential, largest first. Ties keep
// the lower hypothesis first.
func Rank(maxes []float64) []Candidate {
	out := make([]Candidate, len(maxes))
	for h, m := range maxes {
		out[h] = Candidate{Hypothesis: h, Max: m}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Max > out[j].Max })
	return out
}

// Confidence is the best maximum over the runner-up. ok is false when there
// are fewer than two hypotheses or the runner-up is zero.
func Confidence(maxes []float64) (ratio float64, ok bool) {
	if len(maxes) < 2 {
		return 0, false
	}
	best := floats.MaxIdx(maxes)
	second := 0.0
	for h, m := range maxes {
		if h != best && m > second {
			second = m
		}
	}
	if second == 0 {
		return 0, false
	}
	return maxes[best] / second, true
}
