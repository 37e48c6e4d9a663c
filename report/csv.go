package report

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"
	"golang.org/x/crypto/sha3"

	"dpa-engine/accumulator"
	"dpa-engine/engine"
	"dpa-engine/selection"
	"dpa-engine/timing"
)

// DigestLen is the SHAKE256 output length recorded per artifact.
const DigestLen = 32

// sink is one artifact file. Everything written also feeds a SHAKE256 state.
type sink struct {
	name string
	f    *os.File
	w    *bufio.Writer
	h    sha3.ShakeHash
	n    int64
}

func openSink(dir, name string) (*sink, error) {
	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return nil, fmt.Errorf("report: create %s: %w", name, err)
	}
	s := &sink{name: name, f: f, h: sha3.NewShake256()}
	s.w = bufio.NewWriterSize(io.MultiWriter(f, s.h), 1<<16)
	return s, nil
}

func (s *sink) write(b []byte) error {
	n, err := s.w.Write(b)
	s.n += int64(n)
	if err != nil {
		return fmt.Errorf("report: write %s: %w", s.name, err)
	}
	return nil
}

func (s *sink) close() error {
	ferr := s.w.Flush()
	cerr := s.f.Close()
	if ferr != nil {
		return fmt.Errorf("report: flush %s: %w", s.name, ferr)
	}
	if cerr != nil {
		return fmt.Errorf("report: close %s: %w", s.name, cerr)
	}
	return nil
}

func (s *sink) digest() string {
	out := make([]byte, DigestLen)
	_, _ = s.h.Clone().Read(out)
	return hex.EncodeToString(out)
}

// CSVWriter implements engine.Reporter with the three comma-terminated CSV
// artifacts and a JSON manifest written on Close after a finalized run.
type CSVWriter struct {
	dir    string
	names  Names
	params engine.Params

	maxes, diffs, counts *sink

	runID   uuid.UUID
	started time.Time
	traces  int
	last    []float64
	final   bool
	closed  bool
	buf     []byte
	row     []float64
}

// Create opens the artifacts for p under dir, creating dir if needed.
func Create(dir string, p engine.Params) (*CSVWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("report: mkdir: %w", err)
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("report: run id: %w", err)
	}
	w := &CSVWriter{
		dir:     dir,
		names:   ArtifactNames(p),
		params:  p,
		runID:   id,
		started: time.Now().UTC(),
	}
	if w.maxes, err = openSink(dir, w.names.IntervalMaxima); err != nil {
		return nil, err
	}
	if w.diffs, err = openSink(dir, w.names.Differentials); err != nil {
		w.maxes.close()
		return nil, err
	}
	if w.counts, err = openSink(dir, w.names.GroupCounts); err != nil {
		w.maxes.close()
		w.diffs.close()
		return nil, err
	}
	return w, nil
}

// Names returns the artifact names in use.
func (w *CSVWriter) Names() Names { return w.names }

// Dir returns the output directory.
func (w *CSVWriter) Dir() string { return w.dir }

func appendFloat(b []byte, v float64) []byte {
	b = strconv.AppendFloat(b, v, 'e', 6, 64)
	return append(b, ',')
}

func appendInt(b []byte, v int64) []byte {
	b = strconv.AppendInt(b, v, 10)
	return append(b, ',')
}

// ReportInterval appends one interval-maxima row and the three group-count rows.
func (w *CSVWriter) ReportInterval(n int, maxes []float64, acc *accumulator.Accumulator) error {
	b := appendInt(w.buf[:0], int64(n))
	for _, m := range maxes {
		b = appendFloat(b, m)
	}
	b = append(b, '\n')
	if err := w.maxes.write(b); err != nil {
		return err
	}

	for _, g := range []selection.Group{selection.Low, selection.High, selection.Excluded} {
		b = b[:0]
		if g == selection.Low {
			b = strconv.AppendInt(b, int64(n), 10)
		}
		b = append(b, ',')
		b = append(b, g.String()...)
		b = append(b, ',')
		for h := 0; h < accumulator.Hypotheses; h++ {
			b = strconv.AppendUint(b, acc.Count(h, g), 10)
			b = append(b, ',')
		}
		b = append(b, '\n')
		if err := w.counts.write(b); err != nil {
			return err
		}
	}
	w.buf = b
	w.traces = n
	w.last = append(w.last[:0], maxes...)
	return nil
}

// ReportFinal writes the full differential matrix, one row per bin.
func (w *CSVWriter) ReportFinal(ix *timing.Index, acc *accumulator.Accumulator) error {
	b := w.buf[:0]
	for bin := 0; bin < ix.Len(); bin++ {
		b = appendInt(b[:0], int64(ix.Time(bin)))
		w.row = acc.Row(bin, w.row)
		for _, d := range w.row {
			b = appendFloat(b, d)
		}
		b = append(b, '\n')
		if err := w.diffs.write(b); err != nil {
			return err
		}
	}
	w.buf = b
	w.final = true
	return nil
}

// Close flushes and closes every artifact. After a finalized run it also
// writes the manifest. Calling Close again is a no-op.
func (w *CSVWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	var first error
	for _, s := range []*sink{w.maxes, w.diffs, w.counts} {
		if err := s.close(); err != nil && first == nil {
			first = err
		}
	}
	if first != nil || !w.final {
		if !w.final {
			glog.Warningf("[dpa] run %s closed before the final report; no manifest written", w.runID)
		}
		return first
	}
	m := w.Manifest()
	if err := m.Save(filepath.Join(w.dir, w.names.Manifest)); err != nil {
		return err
	}
	glog.Infof("[dpa] run %s: artifacts in %s, best hypothesis %#02x", w.runID, w.dir, rankOrZero(m.Ranking))
	return nil
}

func rankOrZero(r []Candidate) int {
	if len(r) == 0 {
		return 0
	}
	return r[0].Hypothesis
}

// Manifest describes the run as written so far.
func (w *CSVWriter) Manifest() *Manifest {
	m := &Manifest{
		Version:  ManifestVersion,
		RunID:    w.runID.String(),
		Params:   w.params,
		Started:  w.started,
		Finished: time.Now().UTC(),
		Traces:   w.traces,
		Names:    w.names,
	}
	for _, s := range []*sink{w.maxes, w.diffs, w.counts} {
		m.Artifacts = append(m.Artifacts, Artifact{Name: s.name, Bytes: s.n, SHAKE256: s.digest()})
	}
	if len(w.last) > 0 {
		m.Ranking = Rank(w.last)
		if c, ok := Confidence(w.last); ok {
			m.Confidence = &c
		}
	}
	return m
}
