// Package simulate generates synthetic DPA corpora whose power at one
// sample time leaks the Hamming weight of the first-round S-box output.
package simulate

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"sort"

	"github.com/golang/glog"
	"github.com/tuneinsight/lattigo/v4/utils"

	"dpa-engine/internal/aesbox"
	"dpa-engine/timing"
	"dpa-engine/waveform"
)

// Config describes one synthetic corpus.
type Config struct {
	Key      [waveform.PlaintextLen]byte `json:"key"`
	Target   []int                       `json:"target"`   // key bytes leaking at LeakTime; empty means all 16
	Traces   int                         `json:"traces"`   // records to generate
	Timeline int                         `json:"timeline"` // candidate sample times [0, Timeline)
	LeakTime int                         `json:"leak_time"`
	Noise    float64                     `json:"noise"`    // Gaussian sigma added to every sample
	Sparsity float64                     `json:"sparsity"` // probability a non-leak sample is dropped
	Seed     []byte                      `json:"seed"`
}

// Validate checks the ranges of c.
func (c *Config) Validate() error {
	if c.Traces < 1 {
		return fmt.Errorf("simulate: traces=%d must be >= 1", c.Traces)
	}
	if c.Timeline < 1 {
		return fmt.Errorf("simulate: timeline=%d must be >= 1", c.Timeline)
	}
	if c.LeakTime < 0 || c.LeakTime >= c.Timeline {
		return fmt.Errorf("simulate: leak time %d outside [0,%d)", c.LeakTime, c.Timeline)
	}
	if c.Noise < 0 {
		return fmt.Errorf("simulate: noise=%v must be >= 0", c.Noise)
	}
	if c.Sparsity < 0 || c.Sparsity >= 1 {
		return fmt.Errorf("simulate: sparsity=%v not in [0,1)", c.Sparsity)
	}
	for _, b := range c.Target {
		if b < 0 || b >= waveform.PlaintextLen {
			return fmt.Errorf("simulate: target byte %d not in [0,%d]", b, waveform.PlaintextLen-1)
		}
	}
	return nil
}

func (c *Config) targets() []int {
	if len(c.Target) > 0 {
		return c.Target
	}
	all := make([]int, waveform.PlaintextLen)
	for i := range all {
		all[i] = i
	}
	return all
}

// prngSource adapts a keyed lattigo PRNG to math/rand.
type prngSource struct {
	r   io.Reader
	buf [8]byte
}

func (s *prngSource) Uint64() uint64 {
	if _, err := io.ReadFull(s.r, s.buf[:]); err != nil {
		panic(fmt.Sprintf("simulate: prng read: %v", err))
	}
	return binary.LittleEndian.Uint64(s.buf[:])
}

func (s *prngSource) Int63() int64 { return int64(s.Uint64() >> 1) }
func (s *prngSource) Seed(int64)   {}

func newRand(seed []byte, label string) (*rand.Rand, error) {
	key := append(append([]byte(nil), seed...), label...)
	prng, err := utils.NewKeyedPRNG(key)
	if err != nil {
		return nil, fmt.Errorf("simulate: keyed prng: %w", err)
	}
	return rand.New(&prngSource{r: prng}), nil
}

// Trace is one generated encryption.
type Trace struct {
	Plaintext [waveform.PlaintextLen]byte
	Record    *waveform.Record
}

// Corpus is an in-memory corpus. It satisfies engine.Source.
type Corpus struct {
	Traces []Trace
	Order  []int
}

func (c *Corpus) Len() int { return len(c.Traces) }

func (c *Corpus) Load(i int) (*waveform.Record, [waveform.PlaintextLen]byte, error) {
	if i < 0 || i >= len(c.Traces) {
		return nil, [waveform.PlaintextLen]byte{}, fmt.Errorf("simulate: trace %d outside corpus of %d", i, len(c.Traces))
	}
	t := c.Traces[i]
	return t.Record, t.Plaintext, nil
}

// Times returns every sample time carried by at least one trace, sorted.
func (c *Corpus) Times() []uint32 {
	seen := make(map[uint32]struct{})
	for _, t := range c.Traces {
		for _, tm := range t.Record.Times {
			seen[tm] = struct{}{}
		}
	}
	out := make([]uint32, 0, len(seen))
	for tm := range seen {
		out = append(out, tm)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Index builds the timing index of c.
func (c *Corpus) Index() (*timing.Index, error) {
	return timing.NewIndex(c.Times())
}

// Generate builds a corpus from cfg. The same cfg always yields the same corpus.
func Generate(cfg Config) (*Corpus, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(cfg.Seed) == 0 {
		return nil, errors.New("simulate: empty seed")
	}
	ptRand, err := newRand(cfg.Seed, "plaintext")
	if err != nil {
		return nil, err
	}
	noise, err := newRand(cfg.Seed, "noise")
	if err != nil {
		return nil, err
	}
	mask, err := newRand(cfg.Seed, "mask")
	if err != nil {
		return nil, err
	}
	order, err := newRand(cfg.Seed, "order")
	if err != nil {
		return nil, err
	}

	targets := cfg.targets()
	c := &Corpus{Traces: make([]Trace, cfg.Traces)}
	for i := range c.Traces {
		var pt [waveform.PlaintextLen]byte
		for j := range pt {
			pt[j] = byte(ptRand.Intn(256))
		}
		leak := 0.0
		for _, b := range targets {
			leak += float64(aesbox.Weight(aesbox.Intermediate(pt[b], cfg.Key[b])))
		}
		rec := &waveform.Record{}
		for tm := 0; tm < cfg.Timeline; tm++ {
			if tm != cfg.LeakTime && mask.Float64() < cfg.Sparsity {
				continue
			}
			v := noise.NormFloat64() * cfg.Noise
			if tm == cfg.LeakTime {
				v += leak
			}
			rec.Times = append(rec.Times, uint32(tm))
			rec.Values = append(rec.Values, float32(v))
		}
		c.Traces[i] = Trace{Plaintext: pt, Record: rec}
	}
	c.Order = order.Perm(cfg.Traces)
	return c, nil
}

// Files are the artifacts written by WriteDir.
type Files struct {
	Traces  string
	Profile string
	Order   string
}

// WriteDir writes c under dir: records in dir/traces named by plaintext,
// plus the timing profile and the trace order. Order entries are rewritten
// to index the name-sorted listing waveform.OpenCorpus will see.
func WriteDir(dir string, c *Corpus, ext string) (Files, error) {
	fs := Files{
		Traces:  filepath.Join(dir, "traces"),
		Profile: filepath.Join(dir, "timing_profile.txt"),
		Order:   filepath.Join(dir, "trace_order.txt"),
	}
	if err := os.MkdirAll(fs.Traces, 0o755); err != nil {
		return fs, fmt.Errorf("simulate: mkdir: %w", err)
	}
	names := make([]string, len(c.Traces))
	byName := make(map[string]int, len(c.Traces))
	for i, t := range c.Traces {
		names[i] = waveform.FormatName(t.Plaintext, ext)
		if prev, dup := byName[names[i]]; dup {
			return fs, fmt.Errorf("simulate: traces %d and %d share plaintext %s", prev, i, names[i])
		}
		byName[names[i]] = i
		if err := waveform.WriteFile(filepath.Join(fs.Traces, names[i]), t.Record); err != nil {
			return fs, err
		}
	}
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	pos := make([]int, len(c.Traces))
	for p, n := range sorted {
		pos[byName[n]] = p
	}
	order := make([]int, len(c.Order))
	for i, t := range c.Order {
		order[i] = pos[t]
	}

	if err := writeWith(fs.Profile, func(w io.Writer) error { return timing.Write(w, c.Times()) }); err != nil {
		return fs, err
	}
	if err := writeWith(fs.Order, func(w io.Writer) error { return waveform.WriteOrder(w, order) }); err != nil {
		return fs, err
	}
	glog.Infof("[gentraces] wrote %d records to %s", len(c.Traces), fs.Traces)
	return fs, nil
}

func writeWith(path string, fn func(io.Writer) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("simulate: create: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()
	if err := fn(f); err != nil {
		return fmt.Errorf("simulate: write %s: %w", path, err)
	}
	return nil
}
