// Package measure is a process-wide registry of named counters. It is off
// unless DPA_MEASURE=1, and Add is a no-op while disabled.
package measure

import (
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
)

// Enabled is read once at start-up.
var Enabled = os.Getenv("DPA_MEASURE") == "1"

// Global is the registry the engine reports into.
var Global = NewRegistry()

// Registry accumulates counters by label.
type Registry struct {
	mu sync.Mutex
	m  map[string]uint64
}

func NewRegistry() *Registry {
	return &Registry{m: make(map[string]uint64)}
}

// Add increases label by n when Enabled. Negative n is ignored.
func (r *Registry) Add(label string, n int64) {
	if !Enabled || n <= 0 {
		return
	}
	r.mu.Lock()
	r.m[label] += uint64(n)
	r.mu.Unlock()
}

// Get returns the current value of label.
func (r *Registry) Get(label string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.m[label]
}

// SnapshotAndReset returns a copy of all counters and clears them.
func (r *Registry) SnapshotAndReset() map[string]uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]uint64, len(r.m))
	for k, v := range r.m {
		out[k] = v
	}
	r.m = make(map[string]uint64)
	return out
}

// Dump writes the counters sorted by label to w, or stderr when w is nil.
func (r *Registry) Dump(w io.Writer) {
	if w == nil {
		w = os.Stderr
	}
	r.mu.Lock()
	keys := make([]string, 0, len(r.m))
	for k := range r.m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "%-32s %d\n", k, r.m[k])
	}
	r.mu.Unlock()
}
