// Package latency records per-operation durations for remote backends,
// where host-level CPU/IOPS sampling cannot attribute time to the database.
package latency

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"sync"
	"time"
)

// Collector is a thread-safe recorder for one operation type (for example
// "insert" or "query"). Adapters may record from auxiliary probing goroutines
// while the orchestrator records from the main thread, so one mutex guards
// the sample and timestamp lists together to keep them index-aligned.
type Collector struct {
	mu         sync.Mutex
	operation  string
	samples    []float64
	timestamps []int64
}

func New(operation string) *Collector {
	return &Collector{operation: operation}
}

// Record appends one latency sample in fractional milliseconds.
func (c *Collector) Record(latencyMs float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.samples = append(c.samples, latencyMs)
	c.timestamps = append(c.timestamps, time.Now().UnixMilli())
}

// RecordNanos appends one latency sample measured in nanoseconds.
func (c *Collector) RecordNanos(latencyNanos int64) {
	c.Record(float64(latencyNanos) / 1e6)
}

// RecordDuration appends one latency sample from a time.Duration.
func (c *Collector) RecordDuration(d time.Duration) {
	c.RecordNanos(d.Nanoseconds())
}

func (c *Collector) Operation() string { return c.operation }

func (c *Collector) SampleCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.samples)
}

// Sample is one recorded (timestamp, duration) pair.
type Sample struct {
	Timestamp int64   `json:"ts"`
	Millis    float64 `json:"ms"`
}

// Stats is an immutable snapshot of the collector's state. Percentiles use
// the nearest-rank method over the full sample set.
type Stats struct {
	Operation   string   `json:"operation"`
	SampleCount int      `json:"sample_count"`
	MinMs       float64  `json:"min_ms"`
	MaxMs       float64  `json:"max_ms"`
	AvgMs       float64  `json:"avg_ms"`
	P50Ms       float64  `json:"p50_ms"`
	P95Ms       float64  `json:"p95_ms"`
	P99Ms       float64  `json:"p99_ms"`
	Samples     []Sample `json:"samples"`
}

// Stats snapshots the samples under the recording lock so a concurrent
// Record can never produce a torn read, then computes statistics over the
// frozen copy.
func (c *Collector) Stats() Stats {
	c.mu.Lock()
	samples := make([]float64, len(c.samples))
	copy(samples, c.samples)
	timestamps := make([]int64, len(c.timestamps))
	copy(timestamps, c.timestamps)
	c.mu.Unlock()

	stats := Stats{Operation: c.operation, SampleCount: len(samples)}
	if len(samples) == 0 {
		return stats
	}

	stats.Samples = make([]Sample, len(samples))
	sum := 0.0
	stats.MinMs = samples[0]
	stats.MaxMs = samples[0]
	for i, s := range samples {
		stats.Samples[i] = Sample{Timestamp: timestamps[i], Millis: s}
		sum += s
		if s < stats.MinMs {
			stats.MinMs = s
		}
		if s > stats.MaxMs {
			stats.MaxMs = s
		}
	}
	stats.AvgMs = sum / float64(len(samples))

	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)
	stats.P50Ms = nearestRank(sorted, 50)
	stats.P95Ms = nearestRank(sorted, 95)
	stats.P99Ms = nearestRank(sorted, 99)

	return stats
}

// Percentile returns the nearest-rank percentile over the current samples.
func (c *Collector) Percentile(p float64) float64 {
	c.mu.Lock()
	sorted := make([]float64, len(c.samples))
	copy(sorted, c.samples)
	c.mu.Unlock()

	sort.Float64s(sorted)
	return nearestRank(sorted, p)
}

// nearestRank selects sorted[ceil(p/100*n)-1], clamped to the valid range.
func nearestRank(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	index := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	if index < 0 {
		index = 0
	}
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	return sorted[index]
}

// PrintStats writes one self-describing line to stdout so external processes
// can parse latency results without the results sink:
//
//	LATENCY_STATS|<operation>|<json>
//
// Nothing is written when no samples were recorded.
func (c *Collector) PrintStats() {
	c.WriteStats(os.Stdout)
}

func (c *Collector) WriteStats(w io.Writer) {
	stats := c.Stats()
	if stats.SampleCount == 0 {
		return
	}

	payload, err := json.Marshal(stats)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "LATENCY_STATS|%s|%s\n", c.operation, payload)
}
