package waveform

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Corpus is a directory of record files indexed by their position in the
// name-sorted directory listing.
type Corpus struct {
	dir   string
	names []string
}

// OpenCorpus lists the non-directory entries of dir.
func OpenCorpus(dir string) (*Corpus, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("waveform: list corpus: %w", err)
	}
	c := &Corpus{dir: dir}
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		c.names = append(c.names, e.Name())
	}
	sort.Strings(c.names)
	return c, nil
}

func (c *Corpus) Dir() string       { return c.dir }
func (c *Corpus) Len() int          { return len(c.names) }
func (c *Corpus) Name(i int) string { return c.names[i] }
func (c *Corpus) Path(i int) string { return filepath.Join(c.dir, c.names[i]) }

// Load reads record i and the plaintext encoded in its name. The name is
// parsed first so a malformed identifier fails without touching the file.
func (c *Corpus) Load(i int) (*Record, [PlaintextLen]byte, error) {
	if i < 0 || i >= len(c.names) {
		return nil, [PlaintextLen]byte{}, fmt.Errorf("waveform: trace %d outside corpus of %d", i, len(c.names))
	}
	pt, err := ParsePlaintext(c.names[i])
	if err != nil {
		return nil, pt, err
	}
	r, err := ReadFile(c.Path(i))
	if err != nil {
		return nil, pt, err
	}
	return r, pt, nil
}

// ------------------------------ trace order ------------------------------

// ReadOrder parses one trace index per line. Blank lines are skipped.
func ReadOrder(r io.Reader) ([]int, error) {
	var order []int
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		s := strings.TrimSpace(sc.Text())
		if s == "" {
			continue
		}
		v, err := strconv.Atoi(s)
		if err != nil || v < 0 {
			return nil, fmt.Errorf("waveform: order line %d: bad trace index %q", line, s)
		}
		order = append(order, v)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return order, nil
}

// LoadOrder reads a trace-order file.
func LoadOrder(path string) ([]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("waveform: open order: %w", err)
	}
	defer f.Close()
	order, err := ReadOrder(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return order, nil
}

// WriteOrder writes one index per line.
func WriteOrder(w io.Writer, order []int) error {
	bw := bufio.NewWriter(w)
	for _, v := range order {
		if _, err := fmt.Fprintf(bw, "%d\n", v); err != nil {
			return err
		}
	}
	return bw.Flush()
}
