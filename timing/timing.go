// Package timing maps the sparse sample times observed across a corpus
// onto a dense bin axis.
package timing

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// ErrUnknownTime reports a sample time that was never registered in the profile.
var ErrUnknownTime = errors.New("sample time not in timing profile")

// Index is a read-only bijection between profile times and bins [0, Len()).
type Index struct {
	bins  map[uint32]int
	times []uint32
}

// NewIndex builds an index in the order times are given. Duplicate times
// are rejected since the mapping must stay a bijection.
func NewIndex(times []uint32) (*Index, error) {
	ix := &Index{
		bins:  make(map[uint32]int, len(times)),
		times: make([]uint32, len(times)),
	}
	copy(ix.times, times)
	for i, t := range ix.times {
		if prev, dup := ix.bins[t]; dup {
			return nil, fmt.Errorf("timing: time %d listed at lines %d and %d", t, prev+1, i+1)
		}
		ix.bins[t] = i
	}
	return ix, nil
}

// Load reads a timing profile from path.
func Load(path string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("timing: open profile: %w", err)
	}
	defer f.Close()
	ix, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("timing: %s: %w", path, err)
	}
	return ix, nil
}

// Read parses one non-negative integer time per line. Blank lines are skipped.
func Read(r io.Reader) (*Index, error) {
	var times []uint32
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		s := strings.TrimSpace(sc.Text())
		if s == "" {
			continue
		}
		v, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("line %d: bad sample time %q: %v", line, s, err)
		}
		times = append(times, uint32(v))
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return NewIndex(times)
}

// Write emits times one per line in bin order.
func Write(w io.Writer, times []uint32) error {
	bw := bufio.NewWriter(w)
	for _, t := range times {
		if _, err := fmt.Fprintf(bw, "%d\n", t); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Len returns the number of bins.
func (ix *Index) Len() int { return len(ix.times) }

// Bin returns the dense bin of sample time t.
func (ix *Index) Bin(t uint32) (int, error) {
	b, ok := ix.bins[t]
	if !ok {
		return -1, fmt.Errorf("timing: time %d: %w", t, ErrUnknownTime)
	}
	return b, nil
}

// Resolve maps every time in ts to its bin, writing into dst (grown as
// needed). It stops at the first unknown time.
func (ix *Index) Resolve(dst []int, ts []uint32) ([]int, error) {
	if cap(dst) < len(ts) {
		dst = make([]int, len(ts))
	}
	dst = dst[:len(ts)]
	for i, t := range ts {
		b, ok := ix.bins[t]
		if !ok {
			return nil, fmt.Errorf("timing: sample %d at time %d: %w", i, t, ErrUnknownTime)
		}
		dst[i] = b
	}
	return dst, nil
}

// Time returns the real sample time of bin b.
func (ix *Index) Time(b int) uint32 { return ix.times[b] }

// Times returns a copy of the profile in bin order.
func (ix *Index) Times() []uint32 {
	return append([]uint32(nil), ix.times...)
}
