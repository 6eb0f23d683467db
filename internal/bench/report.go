package bench

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"sort"
	"time"
)

type summary struct {
	latencies  []time.Duration
	firstBytes []time.Duration
	firstAudio []time.Duration
	rtfs       []float64
	total      int
	success    int
	bytes      int64
	audio      time.Duration
	statuses   map[int]int
	errors     map[string]int
}

func (s *summary) add(result Result) {
	s.total++
	if s.statuses == nil {
		s.statuses = make(map[int]int)
		s.errors = make(map[string]int)
	}
	s.statuses[result.Status]++
	if result.Err != nil {
		s.errors[result.Err.Error()]++
	}
	if !result.Success() {
		return
	}
	s.success++
	s.latencies = append(s.latencies, result.Latency)
	if result.FirstByte > 0 {
		s.firstBytes = append(s.firstBytes, result.FirstByte)
	}
	if result.TTFA > 0 {
		s.firstAudio = append(s.firstAudio, result.TTFA)
	}
	if rtf := result.RTF(); rtf > 0 {
		s.rtfs = append(s.rtfs, rtf)
	}
	s.bytes += result.Bytes
	s.audio += result.Audio
}

func (s *summary) report(elapsed time.Duration) *Report {
	r := &Report{
		Total:    s.total,
		Success:  s.success,
		Failed:   s.total - s.success,
		Elapsed:  elapsed,
		Bytes:    s.bytes,
		Audio:    s.audio,
		Statuses: s.statuses,
		Errors:   s.errors,
		Latency:  summarize(s.latencies),
		// time to first response byte and to first audio byte
		FirstByte:  summarize(s.firstBytes),
		FirstAudio: summarize(s.firstAudio),
	}
	if len(s.rtfs) > 0 {
		var total float64
		for _, v := range s.rtfs {
			total += v
		}
		r.MeanRTF = total / float64(len(s.rtfs))
	}
	if elapsed > 0 {
		r.Throughput = float64(s.success) / elapsed.Seconds()
	}
	return r
}

// Distribution summarizes a set of durations.
type Distribution struct {
	Count int
	Avg   time.Duration
	P50   time.Duration
	P75   time.Duration
	P90   time.Duration
	P95   time.Duration
	P99   time.Duration
	Max   time.Duration
}

func summarize(values []time.Duration) Distribution {
	if len(values) == 0 {
		return Distribution{}
	}
	return Distribution{
		Count: len(values),
		Avg:   average(values),
		P50:   percentile(values, 0.50),
		P75:   percentile(values, 0.75),
		P90:   percentile(values, 0.90),
		P95:   percentile(values, 0.95),
		P99:   percentile(values, 0.99),
		Max:   slices.Max(values),
	}
}

// Report is the aggregate of a load test.
type Report struct {
	Total      int
	Success    int
	Failed     int
	Elapsed    time.Duration
	Throughput float64 // successful requests per second
	Bytes      int64
	Audio      time.Duration
	MeanRTF    float64

	Latency    Distribution
	FirstByte  Distribution
	FirstAudio Distribution

	Statuses map[int]int
	Errors   map[string]int
}

// Print writes a human-readable report.
func (r *Report) Print(w io.Writer) {
	fmt.Fprintf(w, "Total requests: %d\n", r.Total)
	fmt.Fprintf(w, "Success: %d, Failed: %d\n", r.Success, r.Failed)
	fmt.Fprintf(w, "Elapsed: %s (%.2f req/s)\n", r.Elapsed.Round(time.Millisecond), r.Throughput)
	fmt.Fprintf(w, "Audio received: %s in %d bytes\n", r.Audio.Round(time.Millisecond), r.Bytes)
	if r.MeanRTF > 0 {
		fmt.Fprintf(w, "Mean RTF: %.3f\n", r.MeanRTF)
	}

	printDistribution(w, "Latency", r.Latency)
	printDistribution(w, "First response byte", r.FirstByte)
	printDistribution(w, "First audio byte", r.FirstAudio)

	if len(r.Statuses) > 0 {
		fmt.Fprintln(w, "Status codes:")
		for _, code := range slices.Sorted(maps.Keys(r.Statuses)) {
			label := fmt.Sprint(code)
			if code == 0 {
				label = "none"
			}
			fmt.Fprintf(w, "  %s: %d\n", label, r.Statuses[code])
		}
	}
	if len(r.Errors) > 0 {
		fmt.Fprintln(w, "Errors:")
		for _, msg := range slices.Sorted(maps.Keys(r.Errors)) {
			fmt.Fprintf(w, "  %dx %s\n", r.Errors[msg], msg)
		}
	}
}

func printDistribution(w io.Writer, name string, d Distribution) {
	if d.Count == 0 {
		return
	}
	fmt.Fprintf(w, "%s:\n", name)
	fmt.Fprintf(w, "  Avg: %s\n", d.Avg)
	fmt.Fprintf(w, "  P50: %s  P75: %s  P90: %s\n", d.P50, d.P75, d.P90)
	fmt.Fprintf(w, "  P95: %s  P99: %s  Max: %s\n", d.P95, d.P99, d.Max)
}

func percentile(values []time.Duration, p float64) time.Duration {
	if len(values) == 0 {
		return 0
	}
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })
	rank := p * float64(len(values)-1)
	lower := int(rank)
	upper := lower + 1
	if upper >= len(values) {
		return values[lower]
	}
	weight := rank - float64(lower)
	return time.Duration(float64(values[lower])*(1-weight) + float64(values[upper])*weight)
}

func average(values []time.Duration) time.Duration {
	if len(values) == 0 {
		return 0
	}
	var total time.Duration
	for _, v := range values {
		total += v
	}
	return total / time.Duration(len(values))
}
