// Package selection implements the bit-window Hamming-weight selection
// function that splits traces into a low group, a high group, or neither.
package selection

import (
	"errors"
	"fmt"

	"dpa-engine/internal/aesbox"
)

// ErrInvalidParameter reports a selection argument outside its documented range.
var ErrInvalidParameter = errors.New("invalid parameter")

// Group is the outcome of classifying one intermediate value.
type Group int

const (
	Excluded Group = -1
	Low      Group = 0
	High     Group = 1
)

func (g Group) String() string {
	switch g {
	case Low:
		return "0"
	case High:
		return "1"
	case Excluded:
		return "-1"
	}
	return fmt.Sprintf("Group(%d)", int(g))
}

// Params holds the bit window [BitsOffset, BitsOffset+NumBits) and the
// Hamming-weight threshold.
type Params struct {
	NumBits    int `json:"num_bits"`
	BitsOffset int `json:"bits_offset"`
	Threshold  int `json:"threshold"`
}

// Validate checks NumBits in [1,8], BitsOffset in [0,7] and Threshold in [0,8].
func (p Params) Validate() error {
	if p.NumBits < 1 || p.NumBits > 8 {
		return fmt.Errorf("selection: numBits=%d not in [1,8]: %w", p.NumBits, ErrInvalidParameter)
	}
	if p.BitsOffset < 0 || p.BitsOffset > 7 {
		return fmt.Errorf("selection: bitsOffset=%d not in [0,7]: %w", p.BitsOffset, ErrInvalidParameter)
	}
	if p.Threshold < 0 || p.Threshold > 8 {
		return fmt.Errorf("selection: threshold=%d not in [0,8]: %w", p.Threshold, ErrInvalidParameter)
	}
	return nil
}

// Mask returns the window as a byte mask. Window bits past bit 7 are dropped.
func (p Params) Mask() byte {
	var m uint
	for i := 0; i < p.NumBits; i++ {
		m |= 1 << uint(p.BitsOffset+i)
	}
	return byte(m & 0xff)
}

// Function is a validated selection function with its mask and decision
// table precomputed for all 256 byte values.
type Function struct {
	params Params
	table  [256]Group
}

// New validates p and builds the lookup table.
func New(p Params) (*Function, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	f := &Function{params: p}
	mask := p.Mask()
	for v := 0; v < 256; v++ {
		f.table[v] = decide(aesbox.Weight(byte(v)&mask), p.NumBits, p.Threshold)
	}
	return f, nil
}

// Params returns the parameters f was built from.
func (f *Function) Params() Params { return f.params }

// Classify returns the group of v.
func (f *Function) Classify(v byte) Group { return f.table[v] }

// Classify validates its arguments and classifies byteValue (0-255).
func Classify(byteValue, numBits, bitsOffset, threshold int) (Group, error) {
	if byteValue < 0 || byteValue > 255 {
		return Excluded, fmt.Errorf("selection: byteValue=%d not in [0,255]: %w", byteValue, ErrInvalidParameter)
	}
	p := Params{NumBits: numBits, BitsOffset: bitsOffset, Threshold: threshold}
	if err := p.Validate(); err != nil {
		return Excluded, err
	}
	return decide(aesbox.Weight(byte(byteValue)&p.Mask()), numBits, threshold), nil
}

// decide applies the low/high rule to a window weight w. A weight that
// satisfies both groups is ambiguous and excluded, as is one strictly
// between the two thresholds.
func decide(w, numBits, threshold int) Group {
	low := w <= numBits-threshold
	high := w >= threshold
	switch {
	case low && high:
		return Excluded
	case low:
		return Low
	case high:
		return High
	}
	return Excluded
}
