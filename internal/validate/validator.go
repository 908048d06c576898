// Package validate re-reads written data after a benchmark pass. Failures
// here are always soft: they are reported and recorded, never fatal to the
// run or the matrix, because partial results beat none.
package validate

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/docbench/docbench/internal/backend"
	"github.com/docbench/docbench/internal/corpus"
)

// Report summarizes one validation pass.
type Report struct {
	Expected      int64 `json:"expected"`
	Actual        int64 `json:"actual"`
	SampleSize    int   `json:"sample_size"`
	SampleMatches int   `json:"sample_matches"`
	CountOK       bool  `json:"count_ok"`
	SamplesOK     bool  `json:"samples_ok"`
	// QueryOK is the query-count bounds check; true when no query
	// workload ran.
	QueryOK bool `json:"query_ok"`
}

func (r Report) Passed() bool {
	return r.CountOK && r.SamplesOK && r.QueryOK
}

// SampleSize returns how many documents are independently re-read: 1% of the
// corpus, but never fewer than 10.
func SampleSize(count int) int {
	size := int(math.Ceil(float64(count) / 100))
	if size < 10 {
		size = 10
	}
	return size
}

// CheckInsertion compares the stored document count against the corpus and
// re-reads an evenly spread sample. Every miss is logged individually.
func CheckInsertion(ctx context.Context, b backend.Backend, collection string, docs []corpus.Document) (Report, error) {
	report := Report{Expected: int64(len(docs)), QueryOK: true}

	actual, err := b.DocumentCount(ctx, collection)
	if err != nil {
		return report, fmt.Errorf("document count: %w", err)
	}
	report.Actual = actual
	report.CountOK = actual == report.Expected
	if !report.CountOK {
		slog.Warn("Document count mismatch", "collection", collection, "expected", report.Expected, "actual", actual)
	}

	sampleSize := SampleSize(len(docs))
	if sampleSize > len(docs) {
		sampleSize = len(docs)
	}
	report.SampleSize = sampleSize

	step := len(docs) / sampleSize
	if step == 0 {
		step = 1
	}
	for i := 0; i < sampleSize; i++ {
		doc := docs[i*step]
		ok, err := b.SampleValidate(ctx, collection, doc.ID, doc)
		if err != nil {
			return report, fmt.Errorf("sample validate %s: %w", doc.ID, err)
		}
		if ok {
			report.SampleMatches++
		} else {
			slog.Warn("Sample validation miss", "collection", collection, "id", doc.ID)
		}
	}
	report.SamplesOK = report.SampleMatches == sampleSize

	slog.Info("Insertion validated",
		"collection", collection,
		"expected", report.Expected,
		"actual", report.Actual,
		"samples", fmt.Sprintf("%d/%d", report.SampleMatches, sampleSize),
	)
	return report, nil
}

// CheckQueryCount bounds-checks one query workload result. Target arrays are
// sampled with replacement, so overlap legitimately shrinks result counts
// per backend; only an empty result or one above the theoretical maximum
// (docs × links) is a violation.
func CheckQueryCount(matches, docCount, queryLinks int) bool {
	if matches <= 0 {
		slog.Warn("Query returned no matches")
		return false
	}
	max := docCount * queryLinks
	if matches > max {
		slog.Warn("Query matches exceed theoretical maximum", "matches", matches, "max", max)
		return false
	}
	return true
}
