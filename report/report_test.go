package report

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"dpa-engine/accumulator"
	"dpa-engine/engine"
	"dpa-engine/timing"
	"dpa-engine/waveform"
)

type trace struct {
	pt  [waveform.PlaintextLen]byte
	rec *waveform.Record
}

type sliceSource []trace

func (s sliceSource) Len() int { return len(s) }

func (s sliceSource) Load(i int) (*waveform.Record, [waveform.PlaintextLen]byte, error) {
	return s[i].rec, s[i].pt, nil
}

func corpus(n int) sliceSource {
	src := make(sliceSource, n)
	for i := range src {
		var pt [waveform.PlaintextLen]byte
		pt[0] = byte(i*53 + 1)
		src[i] = trace{pt, &waveform.Record{
			Times:  []uint32{100, 200, 300},
			Values: []float32{float32(i % 5), float32(i) / 4, 1},
		}}
	}
	return src
}

func runAttack(t *testing.T, dir string, p engine.Params) *CSVWriter {
	t.Helper()
	ix, err := timing.NewIndex([]uint32{100, 200, 300})
	if err != nil {
		t.Fatal(err)
	}
	w, err := Create(dir, p)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	e, err := engine.New(p, ix, w)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	order := make([]int, p.Traces)
	for i := range order {
		order[i] = i
	}
	if err := e.Run(corpus(p.Traces), order); err != nil {
		t.Fatalf("Run: %v", err)
	}
	return w
}

func TestArtifactNames(t *testing.T) {
	n := ArtifactNames(engine.Params{TargetByte: 2, NumBits: 4, BitsOffset: 1, Threshold: 3, Interval: 500, Traces: 1234})
	want := "tracesUsed_001234__targetByteNum_2__targetNumBits_4__targetBitsOffset_1__targetThreshold_3__reportMaxesAfter_500__intervalMaxes.csv"
	if n.IntervalMaxima != want {
		t.Fatalf("IntervalMaxima=%q want %q", n.IntervalMaxima, want)
	}
	if !strings.HasSuffix(n.Differentials, "targetThreshold_3__differentials.csv") {
		t.Fatalf("Differentials=%q", n.Differentials)
	}
	if !strings.HasSuffix(n.GroupCounts, "reportMaxesAfter_500__groupCounts.csv") {
		t.Fatalf("GroupCounts=%q", n.GroupCounts)
	}
}

func TestCSVArtifacts(t *testing.T) {
	dir := t.TempDir()
	p := engine.Params{NumBits: 8, Threshold: 5, Interval: 10, Traces: 25}
	w := runAttack(t, dir, p)
	names := w.Names()

	raw, err := os.ReadFile(filepath.Join(dir, names.IntervalMaxima))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSuffix(string(raw), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("%d interval rows want 3", len(lines))
	}
	for i, prefix := range []string{"10,", "20,", "25,"} {
		if !strings.HasPrefix(lines[i], prefix) || !strings.HasSuffix(lines[i], ",") {
			t.Fatalf("row %d = %.40q...", i, lines[i])
		}
		if got := strings.Count(lines[i], ","); got != accumulator.Hypotheses+1 {
			t.Fatalf("row %d has %d commas want %d", i, got, accumulator.Hypotheses+1)
		}
	}

	iv, err := ReadIntervalMaxima(filepath.Join(dir, names.IntervalMaxima))
	if err != nil {
		t.Fatalf("ReadIntervalMaxima: %v", err)
	}
	if len(iv.Traces) != 3 || iv.Traces[2] != 25 {
		t.Fatalf("interval traces %v", iv.Traces)
	}

	d, err := ReadDifferentials(filepath.Join(dir, names.Differentials))
	if err != nil {
		t.Fatalf("ReadDifferentials: %v", err)
	}
	if len(d.Times) != 3 || d.Times[0] != 100 || d.Times[2] != 300 {
		t.Fatalf("differential times %v", d.Times)
	}
	// the last interval maximum is the column max of the final differentials
	last := iv.Last()
	for h := 0; h < accumulator.Hypotheses; h++ {
		m := 0.0
		for b := range d.Times {
			if v := d.Diffs.At(b, h); !math.IsNaN(v) && v > m {
				m = v
			}
		}
		if math.Abs(m-last[h]) > 1e-6*math.Max(1, m) {
			t.Fatalf("h=%d: max of differentials %v, last interval max %v", h, m, last[h])
		}
	}

	gc, err := ReadGroupCounts(filepath.Join(dir, names.GroupCounts))
	if err != nil {
		t.Fatalf("ReadGroupCounts: %v", err)
	}
	if len(gc) != 3 || gc[2].Traces != 25 {
		t.Fatalf("group count events %d", len(gc))
	}
	for h := 0; h < accumulator.Hypotheses; h++ {
		if s := gc[2].Low[h] + gc[2].High[h] + gc[2].Excluded[h]; s != 25 {
			t.Fatalf("h=%d final counts sum to %d", h, s)
		}
		if s := gc[0].Low[h] + gc[0].High[h] + gc[0].Excluded[h]; s != 10 {
			t.Fatalf("h=%d first event counts sum to %d", h, s)
		}
	}
}

func TestUndefinedDifferentialWrittenAsNaN(t *testing.T) {
	dir := t.TempDir()
	// with a single trace one group is always empty
	p := engine.Params{NumBits: 1, Threshold: 1, Interval: 1, Traces: 1}
	w := runAttack(t, dir, p)
	d, err := ReadDifferentials(filepath.Join(dir, w.Names().Differentials))
	if err != nil {
		t.Fatalf("ReadDifferentials: %v", err)
	}
	if v := d.Diffs.At(0, 0); !math.IsNaN(v) {
		t.Fatalf("differential=%v want NaN", v)
	}
	iv, err := ReadIntervalMaxima(filepath.Join(dir, w.Names().IntervalMaxima))
	if err != nil {
		t.Fatalf("ReadIntervalMaxima: %v", err)
	}
	for h, m := range iv.Last() {
		if m != 0 {
			t.Fatalf("h=%d max=%v want 0", h, m)
		}
	}
}

func TestManifestAndReplayDigests(t *testing.T) {
	p := engine.Params{NumBits: 4, BitsOffset: 2, Threshold: 3, Interval: 6, Traces: 20}
	dirA, dirB := t.TempDir(), t.TempDir()
	wa := runAttack(t, dirA, p)
	runAttack(t, dirB, p)

	ma, err := LoadManifest(filepath.Join(dirA, wa.Names().Manifest))
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	mb, err := LoadManifest(filepath.Join(dirB, wa.Names().Manifest))
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	if ma.RunID == mb.RunID {
		t.Fatalf("two runs share id %s", ma.RunID)
	}
	if ma.Traces != 20 || ma.Params != p || len(ma.Artifacts) != 3 {
		t.Fatalf("manifest %+v", ma)
	}
	for _, a := range ma.Artifacts {
		if a.SHAKE256 == "" || a.SHAKE256 != mb.Digest(a.Name) {
			t.Fatalf("artifact %s digests %q vs %q", a.Name, a.SHAKE256, mb.Digest(a.Name))
		}
		ba, _ := os.ReadFile(filepath.Join(dirA, a.Name))
		bb, _ := os.ReadFile(filepath.Join(dirB, a.Name))
		if string(ba) != string(bb) || int64(len(ba)) != a.Bytes {
			t.Fatalf("artifact %s differs between replays", a.Name)
		}
	}
	if len(ma.Ranking) != accumulator.Hypotheses {
		t.Fatalf("ranking has %d entries", len(ma.Ranking))
	}
	if w := wa.Close(); w != nil {
		t.Fatalf("second Close: %v", w)
	}
}

func TestRank(t *testing.T) {
	r := Rank([]float64{1, 3, 3, 0.5})
	want := []int{1, 2, 0, 3}
	for i, c := range r {
		if c.Hypothesis != want[i] {
			t.Fatalf("Rank order %v want %v", r, want)
		}
	}
}

func TestConfidence(t *testing.T) {
	if c, ok := Confidence([]float64{1, 4, 2}); !ok || c != 2 {
		t.Fatalf("Confidence=%v,%v want 2,true", c, ok)
	}
	if _, ok := Confidence([]float64{0, 4, 0}); ok {
		t.Fatalf("Confidence with zero runner-up reported ok")
	}
	if _, ok := Confidence([]float64{4}); ok {
		t.Fatalf("Confidence of one hypothesis reported ok")
	}
}

func TestReadersRejectShortRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.csv")
	if err := os.WriteFile(path, []byte("10,1.0,2.0,\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadIntervalMaxima(path); err == nil {
		t.Fatalf("ReadIntervalMaxima accepted a short row")
	}
	if _, err := ReadDifferentials(path); err == nil {
		t.Fatalf("ReadDifferentials accepted a short row")
	}
	if _, err := ReadGroupCounts(path); err == nil {
		t.Fatalf("ReadGroupCounts accepted a short row")
	}
}
