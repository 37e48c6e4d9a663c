// Command dpa runs a difference-of-means attack on one plaintext byte over
// a directory of waveform records.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/golang/glog"
	"github.com/schollz/progressbar/v3"

	"dpa-engine/engine"
	"dpa-engine/measure"
	"dpa-engine/measureutil"
	"dpa-engine/prof"
	"dpa-engine/report"
	"dpa-engine/timing"
	"dpa-engine/waveform"
)

// loadBatch reads a JSON list of attack configurations.
func loadBatch(path string) ([]engine.Params, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var ps []engine.Params
	if err := json.Unmarshal(data, &ps); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if len(ps) == 0 {
		return nil, fmt.Errorf("%s: empty batch", path)
	}
	return ps, nil
}

func attack(p engine.Params, ix *timing.Index, corpus *waveform.Corpus, order []int, outDir string, bar bool) error {
	w, err := report.Create(outDir, p)
	if err != nil {
		return err
	}
	e, err := engine.New(p, ix, w)
	if err != nil {
		w.Close()
		return err
	}
	if bar {
		pb := progressbar.Default(int64(p.Traces), fmt.Sprintf("byte %d", p.TargetByte))
		e.OnTrace = func(n int) { _ = pb.Set(n) }
		defer pb.Finish()
	}
	if err := e.Run(corpus, order); err != nil {
		if e.State() != engine.Finalized {
			w.Close()
		}
		return err
	}
	m := w.Manifest()
	if len(m.Ranking) == 0 {
		glog.Warningf("[dpa] byte %d: no ranking produced", p.TargetByte)
		return nil
	}
	best := m.Ranking[0]
	if m.Confidence != nil {
		fmt.Printf("byte %2d: best key %#02x (max %.6e, confidence %.3f)\n", p.TargetByte, best.Hypothesis, best.Max, *m.Confidence)
	} else {
		fmt.Printf("byte %2d: best key %#02x (max %.6e)\n", p.TargetByte, best.Hypothesis, best.Max)
	}
	return nil
}

func main() {
	traceDir := flag.String("traces", "traces", "directory of waveform records")
	profilePath := flag.String("profile", "timing_profile.txt", "timing profile, one sample time per line")
	orderPath := flag.String("order", "trace_order.txt", "trace order, one corpus index per line")
	outDir := flag.String("out", "results", "output directory for CSV artifacts")
	targetByte := flag.Int("byte", 0, "plaintext byte under attack (0-15)")
	numBits := flag.Int("bits", 8, "bit-window width (1-8)")
	bitsOffset := flag.Int("offset", 0, "bit-window offset (0-7)")
	threshold := flag.Int("threshold", 5, "Hamming-weight threshold (0-8)")
	interval := flag.Int("interval", 1000, "traces between interval-maxima reports")
	total := flag.Int("n", 0, "total traces to process (0 = length of the order file)")
	workers := flag.Int("workers", 1, "hypothesis shards processed in parallel per trace")
	batch := flag.String("batch", "", "JSON file with a list of attack parameters; overrides the single-attack flags")
	stats := flag.Bool("stats", false, "print stage timings and counters after the run")
	bar := flag.Bool("progress", true, "show a progress bar")
	flag.Parse()
	defer glog.Flush()

	start := time.Now()
	ix, err := timing.Load(*profilePath)
	if err != nil {
		glog.Exitf("[dpa] %v", err)
	}
	prof.Track(start, "cli/load_profile")
	glog.Infof("[dpa] timing profile: %d bins", ix.Len())

	corpus, err := waveform.OpenCorpus(*traceDir)
	if err != nil {
		glog.Exitf("[dpa] %v", err)
	}
	order, err := waveform.LoadOrder(*orderPath)
	if err != nil {
		glog.Exitf("[dpa] %v", err)
	}
	glog.Infof("[dpa] corpus %s: %d records, %d order entries", corpus.Dir(), corpus.Len(), len(order))

	var runs []engine.Params
	if *batch != "" {
		if runs, err = loadBatch(*batch); err != nil {
			glog.Exitf("[dpa] batch: %v", err)
		}
	} else {
		runs = []engine.Params{{
			TargetByte: *targetByte,
			NumBits:    *numBits,
			BitsOffset: *bitsOffset,
			Threshold:  *threshold,
			Interval:   *interval,
			Traces:     *total,
			Workers:    *workers,
		}}
	}
	for i := range runs {
		if runs[i].Traces == 0 {
			runs[i].Traces = len(order)
		}
		if runs[i].Workers == 0 {
			runs[i].Workers = *workers
		}
		if err := runs[i].Validate(); err != nil {
			glog.Exitf("[dpa] run %d: %v", i+1, err)
		}
	}

	for i, p := range runs {
		glog.Infof("[dpa] run %d/%d: %+v", i+1, len(runs), p)
		if err := attack(p, ix, corpus, order, *outDir, *bar); err != nil {
			glog.Exitf("[dpa] run %d: %v", i+1, err)
		}
	}

	if *stats {
		for _, s := range prof.Summary() {
			fmt.Printf("%-28s calls=%-8d total=%s\n", s.Label, s.Calls, s.Total.Round(time.Millisecond))
		}
		if measure.Enabled {
			measureutil.Print(os.Stdout)
		}
	}
}
