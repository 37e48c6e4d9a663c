package simulate

import (
	"path/filepath"
	"testing"

	"dpa-engine/accumulator"
	"dpa-engine/engine"
	"dpa-engine/timing"
	"dpa-engine/waveform"
)

func testConfig() Config {
	var key [waveform.PlaintextLen]byte
	for i := range key {
		key[i] = byte(0x2b + 7*i)
	}
	return Config{
		Key:      key,
		Target:   []int{0},
		Traces:   1500,
		Timeline: 12,
		LeakTime: 5,
		Noise:    0.5,
		Sparsity: 0.25,
		Seed:     []byte("simulate-test"),
	}
}

func TestGenerateDeterministic(t *testing.T) {
	cfg := testConfig()
	cfg.Traces = 20
	a, err := Generate(cfg)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	b, err := Generate(cfg)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	for i := range a.Traces {
		if a.Traces[i].Plaintext != b.Traces[i].Plaintext {
			t.Fatalf("trace %d plaintext differs", i)
		}
		ra, rb := a.Traces[i].Record, b.Traces[i].Record
		if ra.Size() != rb.Size() {
			t.Fatalf("trace %d size %d vs %d", i, ra.Size(), rb.Size())
		}
		for j := 0; j < ra.Size(); j++ {
			if ra.Time(j) != rb.Time(j) || ra.Value(j) != rb.Value(j) {
				t.Fatalf("trace %d sample %d differs", i, j)
			}
		}
		if a.Order[i] != b.Order[i] {
			t.Fatalf("order differs at %d", i)
		}
	}
	cfg.Seed = []byte("other")
	c, _ := Generate(cfg)
	if c.Traces[0].Plaintext == a.Traces[0].Plaintext {
		t.Fatalf("different seeds gave the same first plaintext")
	}
}

func TestGenerateShape(t *testing.T) {
	cfg := testConfig()
	cfg.Traces = 50
	c, err := Generate(cfg)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	seen := make([]bool, cfg.Traces)
	for _, i := range c.Order {
		seen[i] = true
	}
	for i, ok := range seen {
		if !ok {
			t.Fatalf("order is not a permutation: %d missing", i)
		}
	}
	for i, tr := range c.Traces {
		if err := tr.Record.Validate(); err != nil {
			t.Fatalf("trace %d: %v", i, err)
		}
		found := false
		for _, tm := range tr.Record.Times {
			if tm >= uint32(cfg.Timeline) {
				t.Fatalf("trace %d has time %d past timeline", i, tm)
			}
			if tm == uint32(cfg.LeakTime) {
				found = true
			}
		}
		if !found {
			t.Fatalf("trace %d dropped the leak sample", i)
		}
	}
	times := c.Times()
	for i := 1; i < len(times); i++ {
		if times[i] <= times[i-1] {
			t.Fatalf("Times not sorted: %v", times)
		}
	}
}

func TestConfigValidate(t *testing.T) {
	bad := []func(*Config){
		func(c *Config) { c.Traces = 0 },
		func(c *Config) { c.Timeline = 0 },
		func(c *Config) { c.LeakTime = c.Timeline },
		func(c *Config) { c.Noise = -1 },
		func(c *Config) { c.Sparsity = 1 },
		func(c *Config) { c.Target = []int{16} },
	}
	for i, mut := range bad {
		cfg := testConfig()
		mut(&cfg)
		if _, err := Generate(cfg); err == nil {
			t.Errorf("case %d: Generate succeeded", i)
		}
	}
	cfg := testConfig()
	cfg.Seed = nil
	if _, err := Generate(cfg); err == nil {
		t.Fatalf("Generate with empty seed succeeded")
	}
}

type lastMaxes struct {
	maxes []float64
}

func (l *lastMaxes) ReportInterval(_ int, maxes []float64, _ *accumulator.Accumulator) error {
	l.maxes = append(l.maxes[:0], maxes...)
	return nil
}
func (l *lastMaxes) ReportFinal(*timing.Index, *accumulator.Accumulator) error { return nil }
func (l *lastMaxes) Close() error                                            { return nil }

func TestEngineRecoversKeyByte(t *testing.T) {
	cfg := testConfig()
	c, err := Generate(cfg)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	ix, err := c.Index()
	if err != nil {
		t.Fatalf("Index: %v", err)
	}
	rep := &lastMaxes{}
	p := engine.Params{TargetByte: 0, NumBits: 8, Threshold: 5, Interval: 500, Traces: cfg.Traces, Workers: 4}
	e, err := engine.New(p, ix, rep)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	if err := e.Run(c, c.Order); err != nil {
		t.Fatalf("Run: %v", err)
	}
	best := 0
	for h, m := range rep.maxes {
		if m > rep.maxes[best] {
			best = h
		}
	}
	if byte(best) != cfg.Key[0] {
		t.Fatalf("best hypothesis %#02x want %#02x", best, cfg.Key[0])
	}
}

func TestWriteDirReadsBack(t *testing.T) {
	cfg := testConfig()
	cfg.Traces = 30
	c, err := Generate(cfg)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	fs, err := WriteDir(t.TempDir(), c, ".zst")
	if err != nil {
		t.Fatalf("WriteDir: %v", err)
	}
	corpus, err := waveform.OpenCorpus(fs.Traces)
	if err != nil {
		t.Fatalf("OpenCorpus: %v", err)
	}
	if corpus.Len() != cfg.Traces {
		t.Fatalf("corpus has %d records want %d", corpus.Len(), cfg.Traces)
	}
	order, err := waveform.LoadOrder(fs.Order)
	if err != nil {
		t.Fatalf("LoadOrder: %v", err)
	}
	ix, err := timing.Load(fs.Profile)
	if err != nil {
		t.Fatalf("timing.Load: %v", err)
	}
	if ix.Len() != len(c.Times()) {
		t.Fatalf("profile has %d bins want %d", ix.Len(), len(c.Times()))
	}
	// the i-th order entry must name the same plaintext on disk as in memory
	for i, pos := range order {
		_, pt, err := corpus.Load(pos)
		if err != nil {
			t.Fatalf("Load(%d): %v", pos, err)
		}
		if want := c.Traces[c.Order[i]].Plaintext; pt != want {
			t.Fatalf("order entry %d: plaintext %x want %x", i, pt, want)
		}
	}
	if filepath.Base(fs.Profile) != "timing_profile.txt" {
		t.Fatalf("profile path %s", fs.Profile)
	}
}
