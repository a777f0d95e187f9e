// Command andyweb-perfcheck compares two `go test -bench` outputs and fails
// when a tracked benchmark regresses past the threshold.
//
//	go test -run '^$' -bench . -count 5 ./... > new.txt
//	andyweb-perfcheck -baseline old.txt -candidate new.txt
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"
)

const defaultThreshold = 0.30

// metric is one benchmark unit under watch.
type metric struct {
	bench string
	unit  string
}

func (m metric) String() string { return m.bench + " " + m.unit }

// tracked lists the hot paths whose cost is guarded, in report order.
var tracked = []metric{
	{"BenchmarkMemoryAllow", "ns/op"},
	{"BenchmarkRender", "ns/op"},
	{"BenchmarkValidateSession", "allocs/op"},
	{"BenchmarkValidateSession", "ns/op"},
}

// sampleSet holds every observed value per benchmark and unit.
type sampleSet map[metric][]float64

// row is one line of the comparison report.
type row struct {
	metric    metric
	baseline  float64
	candidate float64
	delta     float64
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("andyweb-perfcheck", flag.ContinueOnError)
	fs.SetOutput(stderr)
	baselinePath := fs.String("baseline", "", "path to baseline benchmark output")
	candidatePath := fs.String("candidate", "", "path to candidate benchmark output")
	threshold := fs.Float64("threshold", defaultThreshold, "maximum allowed regression ratio (0.30 = +30%)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *baselinePath == "" || *candidatePath == "" {
		fmt.Fprintln(stderr, "-baseline and -candidate are required")
		return 2
	}
	if *threshold < 0 {
		fmt.Fprintln(stderr, "-threshold must be >= 0")
		return 2
	}

	baseline, err := parseBenchmarkFile(*baselinePath)
	if err != nil {
		fmt.Fprintf(stderr, "baseline: %v\n", err)
		return 1
	}
	candidate, err := parseBenchmarkFile(*candidatePath)
	if err != nil {
		fmt.Fprintf(stderr, "candidate: %v\n", err)
		return 1
	}

	rows, failures := compare(baseline, candidate, *threshold)
	printReport(stdout, rows)
	if len(failures) > 0 {
		fmt.Fprintln(stderr, "performance regression threshold exceeded:")
		for _, f := range failures {
			fmt.Fprintf(stderr, "  - %s\n", f)
		}
		return 1
	}
	return 0
}

// compare returns a report row per comparable metric plus a message for
// every regression or missing sample.
func compare(baseline, candidate sampleSet, threshold float64) ([]row, []string) {
	var (
		rows     []row
		failures []string
	)
	for _, m := range tracked {
		base, cand := baseline[m], candidate[m]
		if len(base) == 0 || len(cand) == 0 {
			failures = append(failures, "missing samples for "+m.String())
			continue
		}

		r := row{metric: m, baseline: median(base), candidate: median(cand)}
		switch {
		case r.baseline == 0 && r.candidate == 0:
			continue
		case r.baseline <= 0:
			failures = append(failures, "invalid baseline median for "+m.String())
			continue
		}
		r.delta = (r.candidate - r.baseline) / r.baseline
		rows = append(rows, r)

		if r.delta > threshold {
			failures = append(failures, fmt.Sprintf("%s regressed by %+.2f%% (limit %+.2f%%)", m, r.delta*100, threshold*100))
		}
	}
	return rows, failures
}

func printReport(w io.Writer, rows []row) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "BENCHMARK\tUNIT\tBASELINE\tCANDIDATE\tDELTA")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%.3f\t%.3f\t%+.2f%%\n", r.metric.bench, r.metric.unit, r.baseline, r.candidate, r.delta*100)
	}
	_ = tw.Flush()
}

func parseBenchmarkFile(path string) (sampleSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseBenchmarks(f)
}

// parseBenchmarks reads lines of the form
//
//	BenchmarkName-8   500000   2000 ns/op   640 B/op   9 allocs/op
//
// and keeps values of tracked metrics only.
func parseBenchmarks(r io.Reader) (sampleSet, error) {
	want := make(map[metric]bool, len(tracked))
	for _, m := range tracked {
		want[m] = true
	}

	samples := sampleSet{}
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 4 || !strings.HasPrefix(fields[0], "Benchmark") {
			continue
		}
		bench := stripProcs(fields[0])
		for i := 2; i+1 < len(fields); i += 2 {
			v, err := strconv.ParseFloat(fields[i], 64)
			if err != nil {
				continue
			}
			if m := (metric{bench, fields[i+1]}); want[m] {
				samples[m] = append(samples[m], v)
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, errors.New("no tracked benchmarks found")
	}
	return samples, nil
}

// stripProcs drops the GOMAXPROCS suffix ("BenchmarkX-8" -> "BenchmarkX").
func stripProcs(name string) string {
	i := strings.LastIndexByte(name, '-')
	if i <= 0 {
		return name
	}
	if _, err := strconv.Atoi(name[i+1:]); err != nil {
		return name
	}
	return name[:i]
}

func median(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	sorted := slices.Sorted(slices.Values(values))
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
