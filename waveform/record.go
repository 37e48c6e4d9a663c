// Package waveform holds sparse power waveforms, their binary file format,
// and the plaintext identifiers encoded in record file names.
package waveform

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Record file layout, little endian:
//
//	magic   [4]byte "DPAW"
//	version u8      (1)
//	count   u32
//	times   [count]u32
//	values  [count]f32
const (
	Version    = 1
	MaxSamples = 1 << 26
)

var magic = [4]byte{'D', 'P', 'A', 'W'}

var (
	ErrBadRecord     = errors.New("bad waveform record")
	ErrDuplicateTime = errors.New("duplicate sample time")
)

// Record is one encryption's sparse waveform: Values[i] was sampled at Times[i].
type Record struct {
	Times  []uint32
	Values []float32
}

func (r *Record) Size() int           { return len(r.Times) }
func (r *Record) Time(i int) uint32   { return r.Times[i] }
func (r *Record) Value(i int) float32 { return r.Values[i] }

// Validate checks the parallel arrays agree and no time repeats.
func (r *Record) Validate() error {
	if len(r.Times) != len(r.Values) {
		return fmt.Errorf("waveform: %d times vs %d values: %w", len(r.Times), len(r.Values), ErrBadRecord)
	}
	seen := make(map[uint32]struct{}, len(r.Times))
	for i, t := range r.Times {
		if _, ok := seen[t]; ok {
			return fmt.Errorf("waveform: sample %d at time %d: %w", i, t, ErrDuplicateTime)
		}
		seen[t] = struct{}{}
	}
	return nil
}

// Encode writes r in the uncompressed record layout.
func Encode(w io.Writer, r *Record) error {
	if err := r.Validate(); err != nil {
		return err
	}
	bw := bufio.NewWriter(w)
	hdr := make([]byte, 9)
	copy(hdr, magic[:])
	hdr[4] = Version
	binary.LittleEndian.PutUint32(hdr[5:], uint32(len(r.Times)))
	if _, err := bw.Write(hdr); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, r.Times); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, r.Values); err != nil {
		return err
	}
	return bw.Flush()
}

// Decode reads one record in the uncompressed layout. Trailing bytes are an error.
func Decode(rd io.Reader) (*Record, error) {
	br := bufio.NewReader(rd)
	hdr := make([]byte, 9)
	if _, err := io.ReadFull(br, hdr); err != nil {
		return nil, fmt.Errorf("waveform: header: %v: %w", err, ErrBadRecord)
	}
	if [4]byte(hdr[:4]) != magic {
		return nil, fmt.Errorf("waveform: magic %q: %w", hdr[:4], ErrBadRecord)
	}
	if hdr[4] != Version {
		return nil, fmt.Errorf("waveform: version %d: %w", hdr[4], ErrBadRecord)
	}
	n := binary.LittleEndian.Uint32(hdr[5:])
	if n > MaxSamples {
		return nil, fmt.Errorf("waveform: %d samples exceeds %d: %w", n, MaxSamples, ErrBadRecord)
	}
	r := &Record{Times: make([]uint32, n), Values: make([]float32, n)}
	if err := binary.Read(br, binary.LittleEndian, r.Times); err != nil {
		return nil, fmt.Errorf("waveform: times: %v: %w", err, ErrBadRecord)
	}
	if err := binary.Read(br, binary.LittleEndian, r.Values); err != nil {
		return nil, fmt.Errorf("waveform: values: %v: %w", err, ErrBadRecord)
	}
	if _, err := br.ReadByte(); err != io.EOF {
		return nil, fmt.Errorf("waveform: trailing data after %d samples: %w", n, ErrBadRecord)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// ------------------------------ compression ------------------------------

type codec struct {
	name   string
	reader func(io.Reader) (io.ReadCloser, error)
	writer func(io.Writer) (io.WriteCloser, error)
}

var codecs = map[string]codec{
	".zst": {
		name: "zstd",
		reader: func(r io.Reader) (io.ReadCloser, error) {
			d, err := zstd.NewReader(r)
			if err != nil {
				return nil, err
			}
			return d.IOReadCloser(), nil
		},
		writer: func(w io.Writer) (io.WriteCloser, error) {
			return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedFastest))
		},
	},
	".lz4": {
		name:   "lz4",
		reader: func(r io.Reader) (io.ReadCloser, error) { return io.NopCloser(lz4.NewReader(r)), nil },
		writer: func(w io.Writer) (io.WriteCloser, error) { return lz4.NewWriter(w), nil },
	},
	".s2": {
		name:   "s2",
		reader: func(r io.Reader) (io.ReadCloser, error) { return io.NopCloser(s2.NewReader(r)), nil },
		writer: func(w io.Writer) (io.WriteCloser, error) { return s2.NewWriter(w), nil },
	},
	".gz": {
		name:   "gzip",
		reader: func(r io.Reader) (io.ReadCloser, error) { return gzip.NewReader(r) },
		writer: func(w io.Writer) (io.WriteCloser, error) { return gzip.NewWriter(w), nil },
	},
}

// Compression names the compression layer implied by a file name, or "" for none.
func Compression(path string) string {
	return codecs[strings.ToLower(filepath.Ext(path))].name
}

// ReadFile decodes the record at path, decompressing by extension.
func ReadFile(path string) (*Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("waveform: open: %w", err)
	}
	defer f.Close()
	var src io.Reader = f
	if c, ok := codecs[strings.ToLower(filepath.Ext(path))]; ok {
		rc, err := c.reader(f)
		if err != nil {
			return nil, fmt.Errorf("waveform: %s reader for %s: %v: %w", c.name, path, err, ErrBadRecord)
		}
		defer rc.Close()
		src = rc
	}
	r, err := Decode(src)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

// WriteFile encodes r to path, compressing by extension.
func WriteFile(path string, r *Record) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("waveform: create: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()
	c, ok := codecs[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return Encode(f, r)
	}
	wc, err := c.writer(f)
	if err != nil {
		return fmt.Errorf("waveform: %s writer for %s: %v", c.name, path, err)
	}
	if err := Encode(wc, r); err != nil {
		wc.Close()
		return err
	}
	return wc.Close()
}
