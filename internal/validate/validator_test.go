package validate

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docbench/docbench/internal/backend"
	"github.com/docbench/docbench/internal/corpus"
)

// fakeStore implements the subset of the contract CheckInsertion touches.
type fakeStore struct {
	backend.Backend
	count   int64
	missing map[string]bool
}

func (f *fakeStore) DocumentCount(ctx context.Context, collection string) (int64, error) {
	return f.count, nil
}

func (f *fakeStore) SampleValidate(ctx context.Context, collection, id string, expected corpus.Document) (bool, error) {
	return !f.missing[id], nil
}

func makeDocs(n int) []corpus.Document {
	docs := make([]corpus.Document, n)
	for i := range docs {
		docs[i] = corpus.Document{ID: fmt.Sprintf("doc-%d", i)}
	}
	return docs
}

func TestSampleSize(t *testing.T) {
	tests := []struct {
		count int
		want  int
	}{
		{count: 1, want: 10},
		{count: 10, want: 10},
		{count: 100, want: 10},
		{count: 999, want: 10},
		{count: 1000, want: 10},
		{count: 1001, want: 11},
		{count: 2000, want: 20},
		{count: 20000, want: 200},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, SampleSize(tt.count), "count=%d", tt.count)
	}
}

func TestCheckQueryCount(t *testing.T) {
	t.Run("zero matches fail", func(t *testing.T) {
		assert.False(t, CheckQueryCount(0, 20000, 8))
	})

	t.Run("within bounds passes", func(t *testing.T) {
		assert.True(t, CheckQueryCount(1, 20000, 8))
		assert.True(t, CheckQueryCount(150000, 20000, 8))
	})

	t.Run("exact theoretical maximum passes", func(t *testing.T) {
		// Overlap usually keeps counts below docs x links, but equality
		// is legal and must not be flagged.
		assert.True(t, CheckQueryCount(160000, 20000, 8))
	})

	t.Run("above maximum fails", func(t *testing.T) {
		assert.False(t, CheckQueryCount(160001, 20000, 8))
	})
}

func TestCheckInsertion(t *testing.T) {
	ctx := context.Background()

	t.Run("clean pass", func(t *testing.T) {
		docs := makeDocs(1000)
		report, err := CheckInsertion(ctx, &fakeStore{count: 1000}, "documents", docs)
		require.NoError(t, err)
		assert.True(t, report.Passed())
		assert.Equal(t, int64(1000), report.Expected)
		assert.Equal(t, int64(1000), report.Actual)
		assert.Equal(t, 10, report.SampleSize)
		assert.Equal(t, 10, report.SampleMatches)
	})

	t.Run("count mismatch is soft", func(t *testing.T) {
		docs := makeDocs(100)
		report, err := CheckInsertion(ctx, &fakeStore{count: 99}, "documents", docs)
		require.NoError(t, err)
		assert.False(t, report.CountOK)
		assert.True(t, report.SamplesOK)
		assert.False(t, report.Passed())
	})

	t.Run("sample miss counted", func(t *testing.T) {
		docs := makeDocs(100)
		store := &fakeStore{count: 100, missing: map[string]bool{docs[0].ID: true}}
		report, err := CheckInsertion(ctx, store, "documents", docs)
		require.NoError(t, err)
		assert.Equal(t, 9, report.SampleMatches)
		assert.False(t, report.SamplesOK)
	})

	t.Run("sample capped at corpus size", func(t *testing.T) {
		docs := makeDocs(4)
		report, err := CheckInsertion(ctx, &fakeStore{count: 4}, "documents", docs)
		require.NoError(t, err)
		assert.Equal(t, 4, report.SampleSize)
		assert.Equal(t, 4, report.SampleMatches)
	})
}

func TestReportPassed(t *testing.T) {
	assert.True(t, Report{CountOK: true, SamplesOK: true, QueryOK: true}.Passed())
	assert.False(t, Report{CountOK: true, SamplesOK: false, QueryOK: true}.Passed())
	assert.False(t, Report{CountOK: false, SamplesOK: true, QueryOK: true}.Passed())
	assert.False(t, Report{CountOK: true, SamplesOK: true, QueryOK: false}.Passed())
}
