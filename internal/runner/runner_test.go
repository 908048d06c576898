package runner

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docbench/docbench/internal/backend"
	"github.com/docbench/docbench/internal/config"
	"github.com/docbench/docbench/internal/corpus"
	"github.com/docbench/docbench/internal/report"
)

// fakeBackend is an in-memory contract implementation with scripted insert
// timings, so best-of-N selection is deterministic under test.
type fakeBackend struct {
	elapsed    []time.Duration // per repetition; cycles if shorter
	insertCall int

	stored     map[string]corpus.Document
	prepared   int
	lastBatch  int
	batchSizes []int
	closed     bool

	insertErr error
}

func newFakeBackend(elapsed ...time.Duration) *fakeBackend {
	if len(elapsed) == 0 {
		elapsed = []time.Duration{time.Millisecond}
	}
	return &fakeBackend{elapsed: elapsed}
}

func (f *fakeBackend) PrepareSchema(ctx context.Context, collections []string, opts backend.SchemaOptions) error {
	f.prepared++
	f.stored = make(map[string]corpus.Document)
	return nil
}

func (f *fakeBackend) InsertDocuments(ctx context.Context, collection string, docs []corpus.Document, opts backend.InsertOptions) (backend.InsertStats, error) {
	if f.insertErr != nil {
		return backend.InsertStats{}, f.insertErr
	}

	stats := backend.InsertStats{Elapsed: f.elapsed[f.insertCall%len(f.elapsed)]}
	f.insertCall++

	f.batchSizes = f.batchSizes[:0]
	for offset := 0; offset < len(docs); offset += opts.BatchSize {
		end := offset + opts.BatchSize
		if end > len(docs) {
			end = len(docs)
		}
		for _, doc := range docs[offset:end] {
			f.stored[doc.ID] = doc
		}
		f.batchSizes = append(f.batchSizes, end-offset)
		stats.Batches++
		if opts.Collect != nil {
			opts.Collect(time.Millisecond)
		}
	}
	f.lastBatch = opts.BatchSize
	return stats, nil
}

func (f *fakeBackend) QueryByContainment(ctx context.Context, collection, id string) (int, error) {
	count := 0
	for _, doc := range f.stored {
		for _, target := range doc.Targets {
			if target == id {
				count++
				break
			}
		}
	}
	return count, nil
}

func (f *fakeBackend) QueryByInCondition(ctx context.Context, collection string, targets []string) (int, error) {
	count := 0
	for _, target := range targets {
		if _, ok := f.stored[target]; ok {
			count++
		}
	}
	return count, nil
}

func (f *fakeBackend) QueryViaJoin(ctx context.Context, collection, id string) (int, error) {
	return f.QueryByContainment(ctx, collection, id)
}

func (f *fakeBackend) AverageDocumentSize(ctx context.Context, collection string) (int64, error) {
	return 0, backend.ErrUnsupported
}

func (f *fakeBackend) DocumentCount(ctx context.Context, collection string) (int64, error) {
	return int64(len(f.stored)), nil
}

func (f *fakeBackend) SampleValidate(ctx context.Context, collection, id string, expected corpus.Document) (bool, error) {
	_, ok := f.stored[id]
	return ok, nil
}

func (f *fakeBackend) Close(ctx context.Context) error {
	f.closed = true
	return nil
}

func testConfig(targets ...config.Target) config.Config {
	cfg := config.Defaults()
	cfg.PayloadSizes = []int{100}
	cfg.DocCount = 1000
	cfg.BatchSize = 100
	cfg.Repetitions = 1
	cfg.Validate = true
	cfg.Targets = targets
	return cfg
}

func openerFor(backends map[string]backend.Backend) OpenFunc {
	return func(ctx context.Context, target config.Target) (backend.Backend, backend.Kind, error) {
		b, ok := backends[target.Label()]
		if !ok {
			return nil, backend.Kind(target.Kind), errors.New("connection refused")
		}
		return b, backend.Kind(target.Kind), nil
	}
}

func TestRunSingleBackendScenario(t *testing.T) {
	// 1,000 documents, batch size 100, one repetition: ten batches, a
	// stored count of 1000 and a validation sample of 10.
	fake := newFakeBackend(42 * time.Millisecond)
	cfg := testConfig(config.Target{Name: "fake", Kind: "mongo", URI: "mongodb://x"})

	var sink bytes.Buffer
	r := New(cfg, openerFor(map[string]backend.Backend{"fake": fake}), report.NewJSONLWriterSink(&sink))

	results, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)

	result := results[0]
	assert.True(t, result.Success)
	assert.Equal(t, 10, result.Batches)
	assert.Equal(t, int64(42), result.InsertMillis)
	require.NotNil(t, result.Validation)
	assert.True(t, result.Validation.Passed())
	assert.Equal(t, int64(1000), result.Validation.Actual)
	assert.Equal(t, 10, result.Validation.SampleSize)
	assert.True(t, fake.closed)

	// Last partial batch is flushed: 1000/100 divides evenly here, so all
	// batches are full.
	for _, size := range fake.batchSizes {
		assert.Equal(t, 100, size)
	}
}

func TestRunPartialFinalBatch(t *testing.T) {
	fake := newFakeBackend()
	cfg := testConfig(config.Target{Name: "fake", Kind: "mongo", URI: "mongodb://x"})
	cfg.DocCount = 1050

	var sink bytes.Buffer
	r := New(cfg, openerFor(map[string]backend.Backend{"fake": fake}), report.NewJSONLWriterSink(&sink))

	results, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 11, results[0].Batches)
	assert.Equal(t, 50, fake.batchSizes[len(fake.batchSizes)-1])
}

func TestBestOfNSelectsMinimum(t *testing.T) {
	fake := newFakeBackend(80*time.Millisecond, 30*time.Millisecond, 55*time.Millisecond)
	cfg := testConfig(config.Target{Name: "fake", Kind: "mongo", URI: "mongodb://x"})
	cfg.Repetitions = 3
	cfg.Validate = false

	var sink bytes.Buffer
	r := New(cfg, openerFor(map[string]backend.Backend{"fake": fake}), report.NewJSONLWriterSink(&sink))

	results, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.Equal(t, int64(30), results[0].InsertMillis, "best-of-N keeps the minimum elapsed time")
	assert.Equal(t, 3, fake.prepared, "each repetition drops and recreates the schema")
	assert.LessOrEqual(t, results[0].InsertMillis, int64(30))
}

func TestSetupFailureDoesNotBlockOtherBackends(t *testing.T) {
	good := newFakeBackend()
	cfg := testConfig(
		config.Target{Name: "broken", Kind: "postgres", URI: "postgres://down"},
		config.Target{Name: "good", Kind: "mongo", URI: "mongodb://x"},
	)

	var sink bytes.Buffer
	r := New(cfg, openerFor(map[string]backend.Backend{"good": good}), report.NewJSONLWriterSink(&sink))

	results, err := r.Run(context.Background())
	require.NoError(t, err, "a per-backend failure must not fail the matrix")
	require.Len(t, results, 2)

	assert.False(t, results[0].Success)
	assert.Contains(t, results[0].Error, "connection refused")
	assert.True(t, results[1].Success)
}

func TestInsertFailureEmitsFailureRecord(t *testing.T) {
	fake := newFakeBackend()
	fake.insertErr = errors.New("write rejected")
	cfg := testConfig(config.Target{Name: "fake", Kind: "mongo", URI: "mongodb://x"})

	var sink bytes.Buffer
	r := New(cfg, openerFor(map[string]backend.Backend{"fake": fake}), report.NewJSONLWriterSink(&sink))

	results, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
	assert.Contains(t, results[0].Error, "write rejected")
	assert.True(t, fake.closed)
}

func TestIndexModesRunAsIndependentPasses(t *testing.T) {
	fake := newFakeBackend()
	cfg := testConfig(config.Target{Name: "fake", Kind: "mongo", URI: "mongodb://x"})
	cfg.IndexModes = []config.IndexMode{config.Indexed, config.NonIndexed}
	cfg.Validate = false

	var sink bytes.Buffer
	r := New(cfg, openerFor(map[string]backend.Backend{"fake": fake}), report.NewJSONLWriterSink(&sink))

	results, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "indexed", results[0].IndexMode)
	assert.Equal(t, "nonindexed", results[1].IndexMode)
	assert.Equal(t, 2, fake.prepared)
}

func TestQueryWorkloadWithinBounds(t *testing.T) {
	fake := newFakeBackend()
	cfg := testConfig(config.Target{Name: "fake", Kind: "mongo", URI: "mongodb://x"})
	cfg.DocCount = 500
	cfg.QueryMode = config.QueryContainment
	cfg.QueryLinks = 4

	var sink bytes.Buffer
	r := New(cfg, openerFor(map[string]backend.Backend{"fake": fake}), report.NewJSONLWriterSink(&sink))

	results, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)

	result := results[0]
	require.True(t, result.Success)
	assert.Greater(t, result.QueryMatches, 0)
	assert.LessOrEqual(t, result.QueryMatches, cfg.DocCount*cfg.QueryLinks)
	require.NotNil(t, result.Validation)
	assert.True(t, result.Validation.QueryOK)
}

func TestLatencyCollectionEmitsStatsLines(t *testing.T) {
	fake := newFakeBackend()
	cfg := testConfig(config.Target{Name: "fake", Kind: "mongo", URI: "mongodb://x"})
	cfg.CollectLatency = true
	cfg.QueryMode = config.QueryContainment
	cfg.QueryLinks = 4
	cfg.Validate = false

	var sink, latencyOut bytes.Buffer
	r := New(cfg, openerFor(map[string]backend.Backend{"fake": fake}), report.NewJSONLWriterSink(&sink))
	r.SetLatencyOutput(&latencyOut)

	results, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)

	require.NotNil(t, results[0].InsertLatency)
	assert.Equal(t, 10, results[0].InsertLatency.SampleCount, "one sample per insert batch")
	require.NotNil(t, results[0].QueryLatency)

	out := latencyOut.String()
	assert.True(t, strings.Contains(out, "LATENCY_STATS|insert|"))
	assert.True(t, strings.Contains(out, "LATENCY_STATS|query|"))
}

func TestSinkReceivesEveryResult(t *testing.T) {
	fake := newFakeBackend()
	cfg := testConfig(
		config.Target{Name: "broken", Kind: "oracle", URI: "oracle://down"},
		config.Target{Name: "fake", Kind: "mongo", URI: "mongodb://x"},
	)

	var sink bytes.Buffer
	r := New(cfg, openerFor(map[string]backend.Backend{"fake": fake}), report.NewJSONLWriterSink(&sink))

	_, err := r.Run(context.Background())
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(sink.String()), "\n")
	assert.Len(t, lines, 2, "one JSONL record per (backend, configuration) pair")
}
