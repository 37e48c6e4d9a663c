package engine

import (
	"fmt"

	"dpa-engine/selection"
	"dpa-engine/waveform"
)

// ErrInvalidParameter is shared with the selection package so one errors.Is
// check covers every out-of-range attack argument.
var ErrInvalidParameter = selection.ErrInvalidParameter

// Params fixes one attack run. It is not reloaded mid-run.
type Params struct {
	TargetByte int `json:"target_byte"` // plaintext byte under attack, 0-15
	NumBits    int `json:"num_bits"`    // bit-window width, 1-8
	BitsOffset int `json:"bits_offset"` // bit-window offset, 0-7
	Threshold  int `json:"threshold"`   // Hamming-weight threshold, 0-8
	Interval   int `json:"interval"`    // traces between interval-maxima reports
	Traces     int `json:"traces"`      // total traces to consume
	Workers    int `json:"workers,omitempty"`
}

// Selection returns the selection-function part of p.
func (p Params) Selection() selection.Params {
	return selection.Params{NumBits: p.NumBits, BitsOffset: p.BitsOffset, Threshold: p.Threshold}
}

// Validate checks every field against its range.
func (p Params) Validate() error {
	if p.TargetByte < 0 || p.TargetByte >= waveform.PlaintextLen {
		return fmt.Errorf("engine: targetByte=%d not in [0,%d]: %w", p.TargetByte, waveform.PlaintextLen-1, ErrInvalidParameter)
	}
	if err := p.Selection().Validate(); err != nil {
		return err
	}
	if p.Interval < 1 {
		return fmt.Errorf("engine: interval=%d must be >= 1: %w", p.Interval, ErrInvalidParameter)
	}
	if p.Traces < 1 {
		return fmt.Errorf("engine: traces=%d must be >= 1: %w", p.Traces, ErrInvalidParameter)
	}
	if p.Workers < 0 {
		return fmt.Errorf("engine: workers=%d must be >= 0: %w", p.Workers, ErrInvalidParameter)
	}
	return nil
}
