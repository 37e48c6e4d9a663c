package report

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"

	"dpa-engine/accumulator"
)

// Intervals is an interval-maxima artifact: row i of Maxes holds the 256
// maxima reported after Traces[i] traces.
type Intervals struct {
	Traces []int
	Maxes  *mat.Dense
}

// Last returns the final row of maxima.
func (iv *Intervals) Last() []float64 {
	r, _ := iv.Maxes.Dims()
	return mat.Row(nil, r-1, iv.Maxes)
}

// Differentials is a final differential artifact: row b of Diffs holds the
// 256 differentials at sample time Times[b].
type Differentials struct {
	Times []uint32
	Diffs *mat.Dense
}

// GroupCounts is one report event of a group-counts artifact.
type GroupCounts struct {
	Traces   int
	Low      [accumulator.Hypotheses]uint64
	High     [accumulator.Hypotheses]uint64
	Excluded [accumulator.Hypotheses]uint64
}

// fields splits a comma-terminated row.
func fields(line string) []string {
	return strings.Split(strings.TrimSuffix(strings.TrimSpace(line), ","), ",")
}

func eachLine(path string, fn func(n int, line string) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("report: open: %w", err)
	}
	defer f.Close()
	return scan(f, path, fn)
}

func scan(r io.Reader, path string, fn func(n int, line string) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 1<<16), 1<<22)
	n := 0
	for sc.Scan() {
		n++
		if strings.TrimSpace(sc.Text()) == "" {
			continue
		}
		if err := fn(n, sc.Text()); err != nil {
			return fmt.Errorf("report: %s line %d: %w", path, n, err)
		}
	}
	return sc.Err()
}

func parseFloats(dst []float64, fs []string) error {
	for i, s := range fs {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		dst[i] = v
	}
	return nil
}

// ReadIntervalMaxima parses an interval-maxima CSV.
func ReadIntervalMaxima(path string) (*Intervals, error) {
	iv := &Intervals{}
	var data []float64
	err := eachLine(path, func(_ int, line string) error {
		fs := fields(line)
		if len(fs) != accumulator.Hypotheses+1 {
			return fmt.Errorf("%d fields want %d", len(fs), accumulator.Hypotheses+1)
		}
		n, err := strconv.Atoi(fs[0])
		if err != nil {
			return err
		}
		row := make([]float64, accumulator.Hypotheses)
		if err := parseFloats(row, fs[1:]); err != nil {
			return err
		}
		iv.Traces = append(iv.Traces, n)
		data = append(data, row...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(iv.Traces) == 0 {
		return nil, fmt.Errorf("report: %s has no rows", path)
	}
	iv.Maxes = mat.NewDense(len(iv.Traces), accumulator.Hypotheses, data)
	return iv, nil
}

// ReadDifferentials parses a differentials CSV. NaN cells are kept.
func ReadDifferentials(path string) (*Differentials, error) {
	d := &Differentials{}
	var data []float64
	err := eachLine(path, func(_ int, line string) error {
		fs := fields(line)
		if len(fs) != accumulator.Hypotheses+1 {
			return fmt.Errorf("%d fields want %d", len(fs), accumulator.Hypotheses+1)
		}
		t, err := strconv.ParseUint(fs[0], 10, 32)
		if err != nil {
			return err
		}
		row := make([]float64, accumulator.Hypotheses)
		if err := parseFloats(row, fs[1:]); err != nil {
			return err
		}
		d.Times = append(d.Times, uint32(t))
		data = append(data, row...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(d.Times) == 0 {
		return nil, fmt.Errorf("report: %s has no rows", path)
	}
	d.Diffs = mat.NewDense(len(d.Times), accumulator.Hypotheses, data)
	return d, nil
}

// ReadGroupCounts parses a group-counts CSV into one entry per report event.
func ReadGroupCounts(path string) ([]GroupCounts, error) {
	var out []GroupCounts
	err := eachLine(path, func(_ int, line string) error {
		fs := fields(line)
		if len(fs) != accumulator.Hypotheses+2 {
			return fmt.Errorf("%d fields want %d", len(fs), accumulator.Hypotheses+2)
		}
		var dst *[accumulator.Hypotheses]uint64
		switch fs[1] {
		case "0":
			n, err := strconv.Atoi(fs[0])
			if err != nil {
				return err
			}
			out = append(out, GroupCounts{Traces: n})
			dst = &out[len(out)-1].Low
		case "1", "-1":
			if len(out) == 0 || fs[0] != "" {
				return fmt.Errorf("group %s row outside a report event", fs[1])
			}
			if fs[1] == "1" {
				dst = &out[len(out)-1].High
			} else {
				dst = &out[len(out)-1].Excluded
			}
		default:
			return fmt.Errorf("unknown group tag %q", fs[1])
		}
		for h, s := range fs[2:] {
			v, err := strconv.ParseUint(s, 10, 64)
			if err != nil {
				return err
			}
			dst[h] = v
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
