// Package prof records stage timings. Per-label totals are kept for the
// whole run; the raw entry log is capped at MaxEntries.
package prof

import (
	"sort"
	"sync"
	"time"
)

// MaxEntries bounds the raw entry log. Totals keep counting past it.
const MaxEntries = 1 << 16

// Entry represents a single timing measurement.
type Entry struct {
	Label string
	Dur   time.Duration
}

// Stage aggregates every Entry sharing a label.
type Stage struct {
	Label string
	Calls int
	Total time.Duration
}

var (
	mu     sync.Mutex
	record []Entry
	stages = make(map[string]*Stage)
)

// Track logs the duration since start with the given name.
func Track(start time.Time, name string) {
	elapsed := time.Since(start)
	mu.Lock()
	if len(record) < MaxEntries {
		record = append(record, Entry{Label: name, Dur: elapsed})
	}
	s, ok := stages[name]
	if !ok {
		s = &Stage{Label: name}
		stages[name] = s
	}
	s.Calls++
	s.Total += elapsed
	mu.Unlock()
}

// Summary returns the per-label totals, longest total first.
func Summary() []Stage {
	mu.Lock()
	out := make([]Stage, 0, len(stages))
	for _, s := range stages {
		out = append(out, *s)
	}
	mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Total != out[j].Total {
			return out[i].Total > out[j].Total
		}
		return out[i].Label < out[j].Label
	})
	return out
}

// SnapshotAndReset returns the collected timing entries and clears them
// along with the totals.
func SnapshotAndReset() []Entry {
	mu.Lock()
	defer mu.Unlock()
	out := make([]Entry, len(record))
	copy(out, record)
	record = nil
	stages = make(map[string]*Stage)
	return out
}
