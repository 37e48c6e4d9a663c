// Package engine drives a DPA run: it streams traces in a caller-given
// order, classifies each under all 256 key-byte hypotheses, feeds the
// accumulator and triggers interval and final reports.
package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang/glog"
	"golang.org/x/sync/errgroup"

	"dpa-engine/accumulator"
	"dpa-engine/internal/aesbox"
	"dpa-engine/measure"
	"dpa-engine/prof"
	"dpa-engine/selection"
	"dpa-engine/timing"
	"dpa-engine/waveform"
)

var (
	ErrFinalized      = errors.New("engine already finalized")
	ErrOrderExhausted = errors.New("trace order exhausted")
	ErrTraceIndex     = errors.New("trace index outside corpus")
)

// State is the run lifecycle. There is no way back from Finalized.
type State int

const (
	Uninitialized State = iota
	TimingIndexLoaded
	Accumulating
	Finalized
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case TimingIndexLoaded:
		return "timing-index-loaded"
	case Accumulating:
		return "accumulating"
	case Finalized:
		return "finalized"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Reporter receives read-only views of the accumulator. ReportInterval runs
// after every Interval traces and on the last one; ReportFinal runs once,
// after the last ReportInterval, and Close follows it.
type Reporter interface {
	ReportInterval(n int, maxes []float64, acc *accumulator.Accumulator) error
	ReportFinal(ix *timing.Index, acc *accumulator.Accumulator) error
	Close() error
}

// Source yields traces by corpus position. *waveform.Corpus implements it.
type Source interface {
	Len() int
	Load(i int) (*waveform.Record, [waveform.PlaintextLen]byte, error)
}

// Engine is single-use: build one per run.
type Engine struct {
	params Params
	sel    *selection.Function
	index  *timing.Index
	acc    *accumulator.Accumulator
	rep    Reporter
	state  State
	n      int

	shards [][2]int
	groups [accumulator.Hypotheses]selection.Group
	bins   []int
	maxes  []float64
	last   time.Time

	// OnTrace, if set, is called after each trace with the number applied so far.
	OnTrace func(n int)
}

// New validates p and allocates the accumulator over ix's bins.
func New(p Params, ix *timing.Index, rep Reporter) (*Engine, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if ix == nil {
		return nil, errors.New("engine: nil timing index")
	}
	if rep == nil {
		return nil, errors.New("engine: nil reporter")
	}
	sel, err := selection.New(p.Selection())
	if err != nil {
		return nil, err
	}
	e := &Engine{
		params: p,
		sel:    sel,
		index:  ix,
		acc:    accumulator.New(ix.Len()),
		rep:    rep,
		state:  TimingIndexLoaded,
		maxes:  make([]float64, accumulator.Hypotheses),
		shards: split(accumulator.Hypotheses, p.Workers),
		last:   time.Now(),
	}
	glog.Infof("[dpa] engine ready: %d bins, byte=%d bits=%d offset=%d thresh=%d, %d shard(s)",
		ix.Len(), p.TargetByte, p.NumBits, p.BitsOffset, p.Threshold, len(e.shards))
	return e, nil
}

// split cuts [0,n) into at most w contiguous ranges.
func split(n, w int) [][2]int {
	if w < 1 {
		w = 1
	}
	if w > n {
		w = n
	}
	out := make([][2]int, 0, w)
	for i := 0; i < w; i++ {
		out = append(out, [2]int{i * n / w, (i + 1) * n / w})
	}
	return out
}

func (e *Engine) Params() Params { return e.params }
func (e *Engine) State() State   { return e.state }
func (e *Engine) Processed() int { return e.n }

// Process applies one trace. Every sample time is resolved before any
// accumulator state changes, so a lookup failure leaves the run untouched.
func (e *Engine) Process(pt [waveform.PlaintextLen]byte, rec *waveform.Record) error {
	if e.state == Finalized {
		return ErrFinalized
	}
	if e.state == Uninitialized {
		return errors.New("engine: not initialized, use New")
	}
	if len(rec.Times) != len(rec.Values) {
		return fmt.Errorf("engine: %d times vs %d values: %w", len(rec.Times), len(rec.Values), waveform.ErrBadRecord)
	}
	bins, err := e.index.Resolve(e.bins, rec.Times)
	if err != nil {
		return err
	}
	e.bins = bins
	e.state = Accumulating

	b := pt[e.params.TargetByte]
	excluded := 0
	for h := range e.groups {
		g := e.sel.Classify(aesbox.Intermediate(b, byte(h)))
		e.groups[h] = g
		if g == selection.Excluded {
			excluded++
		}
	}
	e.forShards(func(from, to int) {
		for h := from; h < to; h++ {
			g := e.groups[h]
			e.acc.IncrementCount(h, g)
			if g != selection.Excluded {
				e.acc.AddTrace(h, g, bins, rec.Values)
			}
		}
	})
	e.n++

	measure.Global.Add("engine/traces", 1)
	measure.Global.Add("engine/samples", int64(len(bins)))
	measure.Global.Add("engine/excluded", int64(excluded))
	e.progress()
	if e.OnTrace != nil {
		e.OnTrace(e.n)
	}

	if e.n%e.params.Interval == 0 || e.n == e.params.Traces {
		if err := e.reportInterval(); err != nil {
			return err
		}
	}
	if e.n == e.params.Traces {
		return e.finalize()
	}
	return nil
}

// forShards runs fn over each hypothesis range and returns once all finish.
func (e *Engine) forShards(fn func(from, to int)) {
	if len(e.shards) == 1 {
		fn(e.shards[0][0], e.shards[0][1])
		return
	}
	var g errgroup.Group
	for _, s := range e.shards {
		s := s
		g.Go(func() error {
			fn(s[0], s[1])
			return nil
		})
	}
	_ = g.Wait()
}

func (e *Engine) progress() {
	glog.V(2).Infof("[dpa] trace %d/%d", e.n, e.params.Traces)
	if e.n%100 == 0 {
		now := time.Now()
		glog.V(1).Infof("[dpa] %d/%d traces, last 100 in %s", e.n, e.params.Traces, now.Sub(e.last).Round(time.Millisecond))
		e.last = now
	}
}

func (e *Engine) reportInterval() error {
	defer prof.Track(time.Now(), "engine/report_interval")
	e.forShards(func(from, to int) { e.acc.Maxima(e.maxes, from, to) })
	if err := e.rep.ReportInterval(e.n, e.maxes, e.acc); err != nil {
		return fmt.Errorf("engine: interval report at %d traces: %w", e.n, err)
	}
	glog.V(1).Infof("[dpa] interval report at %d traces", e.n)
	return nil
}

func (e *Engine) finalize() error {
	defer prof.Track(time.Now(), "engine/report_final")
	err := e.rep.ReportFinal(e.index, e.acc)
	if err != nil {
		err = fmt.Errorf("engine: final report: %w", err)
	}
	if cerr := e.rep.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("engine: close reporter: %w", cerr)
	}
	e.state = Finalized
	if err == nil {
		glog.Infof("[dpa] finalized after %d traces", e.n)
	}
	return err
}

// Run consumes traces from src in order until Traces have been applied.
// order[i] is the position in src of the (i+1)-th trace to process.
func (e *Engine) Run(src Source, order []int) error {
	for e.state != Finalized {
		if e.n >= len(order) {
			return fmt.Errorf("engine: %d entries for %d traces: %w", len(order), e.params.Traces, ErrOrderExhausted)
		}
		idx := order[e.n]
		if idx < 0 || idx >= src.Len() {
			return fmt.Errorf("engine: order entry %d names trace %d of %d: %w", e.n+1, idx, src.Len(), ErrTraceIndex)
		}
		start := time.Now()
		rec, pt, err := src.Load(idx)
		prof.Track(start, "engine/load")
		if err != nil {
			return fmt.Errorf("engine: load trace %d: %w", idx, err)
		}
		start = time.Now()
		err = e.Process(pt, rec)
		prof.Track(start, "engine/process")
		if err != nil {
			return fmt.Errorf("engine: trace %d: %w", idx, err)
		}
	}
	return nil
}
