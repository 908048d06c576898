package latency

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatsKnownSamples(t *testing.T) {
	c := New("insert")
	for _, ms := range []float64{10, 20, 30, 40, 50} {
		c.Record(ms)
	}

	stats := c.Stats()
	assert.Equal(t, 5, stats.SampleCount)
	assert.Equal(t, 10.0, stats.MinMs)
	assert.Equal(t, 50.0, stats.MaxMs)
	assert.Equal(t, 30.0, stats.AvgMs)
	assert.Equal(t, 30.0, stats.P50Ms)
	assert.Equal(t, 50.0, stats.P95Ms, "nearest rank for p95 over 5 samples lands on the last sample")
	assert.Equal(t, 50.0, stats.P99Ms)
}

func TestPercentileFullRankEqualsMax(t *testing.T) {
	c := New("query")
	for _, ms := range []float64{3, 1, 4, 1, 5, 9, 2, 6} {
		c.Record(ms)
	}

	assert.Equal(t, c.Stats().MaxMs, c.Percentile(100))
}

func TestPercentileMonotonic(t *testing.T) {
	c := New("query")
	for _, ms := range []float64{12, 7, 3, 25, 18, 9, 31, 2, 14, 6} {
		c.Record(ms)
	}

	prev := 0.0
	for p := 1.0; p <= 100; p++ {
		v := c.Percentile(p)
		assert.GreaterOrEqual(t, v, prev, "percentile must be non-decreasing at p=%v", p)
		prev = v
	}
}

func TestRecordNanosConvertsToMillis(t *testing.T) {
	c := New("insert")
	c.RecordNanos(1_500_000)

	stats := c.Stats()
	require.Equal(t, 1, stats.SampleCount)
	assert.Equal(t, 1.5, stats.MinMs)
}

func TestOperationAndSampleCount(t *testing.T) {
	c := New("query")
	assert.Equal(t, "query", c.Operation())
	assert.Equal(t, 0, c.SampleCount())

	c.Record(1.5)
	c.Record(2.5)
	assert.Equal(t, 2, c.SampleCount())
}

func TestEmptyCollector(t *testing.T) {
	c := New("insert")

	stats := c.Stats()
	assert.Equal(t, 0, stats.SampleCount)
	assert.Zero(t, stats.MinMs)
	assert.Zero(t, stats.P99Ms)
	assert.Zero(t, c.Percentile(50))

	var buf bytes.Buffer
	c.WriteStats(&buf)
	assert.Empty(t, buf.String(), "empty collector emits no stats line")
}

func TestConcurrentRecording(t *testing.T) {
	c := New("insert")

	var wg sync.WaitGroup
	const workers = 8
	const perWorker = 200
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				c.Record(float64(w*perWorker + i))
			}
		}(w)
	}
	wg.Wait()

	stats := c.Stats()
	assert.Equal(t, workers*perWorker, stats.SampleCount, "no samples may be lost under concurrent recording")
	assert.Len(t, stats.Samples, workers*perWorker)
}

func TestWriteStatsLineFormat(t *testing.T) {
	c := New("query")
	c.Record(12.5)
	c.Record(20)

	var buf bytes.Buffer
	c.WriteStats(&buf)

	line := strings.TrimSpace(buf.String())
	parts := strings.SplitN(line, "|", 3)
	require.Len(t, parts, 3)
	assert.Equal(t, "LATENCY_STATS", parts[0])
	assert.Equal(t, "query", parts[1])

	var stats Stats
	require.NoError(t, json.Unmarshal([]byte(parts[2]), &stats))
	assert.Equal(t, "query", stats.Operation)
	assert.Equal(t, 2, stats.SampleCount)
	require.Len(t, stats.Samples, 2)
	assert.Equal(t, 12.5, stats.Samples[0].Millis)
}
