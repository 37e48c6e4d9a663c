// Command gentraces writes a synthetic corpus, its timing profile and a
// shuffled trace order for exercising the dpa command.
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"strconv"
	"strings"

	"github.com/golang/glog"

	"dpa-engine/simulate"
	"dpa-engine/waveform"
)

func parseTargets(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	var out []int
	for _, f := range strings.Split(s, ",") {
		v, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return nil, fmt.Errorf("target %q: %v", f, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func main() {
	outDir := flag.String("out", "corpus", "output directory")
	keyHex := flag.String("key", "2b7e151628aed2a6abf7158809cf4f3c", "16-byte AES key in hex")
	targets := flag.String("target", "0", "comma-separated key bytes that leak (empty = all)")
	n := flag.Int("n", 5000, "number of traces")
	timeline := flag.Int("timeline", 64, "candidate sample times per trace")
	leak := flag.Int("leak", 20, "sample time carrying the leak")
	noise := flag.Float64("noise", 1.0, "Gaussian noise sigma")
	sparsity := flag.Float64("sparsity", 0.1, "probability a non-leak sample is dropped")
	seed := flag.String("seed", "gentraces", "PRNG seed")
	ext := flag.String("ext", ".zst", "record extension: .wfm .zst .lz4 .s2 .gz")
	flag.Parse()
	defer glog.Flush()

	key, err := hex.DecodeString(strings.TrimPrefix(*keyHex, "0x"))
	if err != nil || len(key) != waveform.PlaintextLen {
		glog.Exitf("[gentraces] -key must be %d hex bytes", waveform.PlaintextLen)
	}
	tg, err := parseTargets(*targets)
	if err != nil {
		glog.Exitf("[gentraces] %v", err)
	}
	cfg := simulate.Config{
		Target:   tg,
		Traces:   *n,
		Timeline: *timeline,
		LeakTime: *leak,
		Noise:    *noise,
		Sparsity: *sparsity,
		Seed:     []byte(*seed),
	}
	copy(cfg.Key[:], key)

	c, err := simulate.Generate(cfg)
	if err != nil {
		glog.Exitf("[gentraces] %v", err)
	}
	fs, err := simulate.WriteDir(*outDir, c, *ext)
	if err != nil {
		glog.Exitf("[gentraces] %v", err)
	}
	fmt.Println("Traces:", fs.Traces)
	fmt.Println("Timing profile:", fs.Profile)
	fmt.Println("Trace order:", fs.Order)
}
