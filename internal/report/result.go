// Package report carries benchmark results across the boundary to the
// external results store: one structured, append-only record per
// (backend, configuration) pair, plus a human-readable summary table.
package report

import (
	"time"

	"github.com/docbench/docbench/internal/latency"
	"github.com/docbench/docbench/internal/validate"
)

// Result is one emitted record. Once handed to a sink it is immutable.
type Result struct {
	Backend       string    `json:"backend"`
	Kind          string    `json:"kind"`
	ServerVersion string    `json:"server_version,omitempty"`
	DriverVersion string    `json:"driver_version,omitempty"`
	Timestamp     time.Time `json:"timestamp"`

	PayloadSize int    `json:"payload_size"`
	BatchSize   int    `json:"batch_size"`
	NumAttrs    int    `json:"num_attrs"`
	DocCount    int    `json:"doc_count"`
	IndexMode   string `json:"index_mode"`
	QueryMode   string `json:"query_mode,omitempty"`
	QueryLinks  int    `json:"query_links"`
	Realistic   bool   `json:"realistic"`

	Batches          int     `json:"batches,omitempty"`
	InsertMillis     int64   `json:"insert_ms"`
	InsertThroughput float64 `json:"insert_docs_per_sec"`
	QueryMillis      int64   `json:"query_ms,omitempty"`
	QueryThroughput  float64 `json:"queries_per_sec,omitempty"`
	QueryMatches     int     `json:"query_matches,omitempty"`
	Duplicates       int64   `json:"duplicates,omitempty"`
	AvgDocSize       int64   `json:"avg_doc_size,omitempty"`

	Validation *validate.Report `json:"validation,omitempty"`

	InsertLatency *latency.Stats `json:"insert_latency,omitempty"`
	QueryLatency  *latency.Stats `json:"query_latency,omitempty"`

	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Failure builds the record emitted when a backend cannot complete a
// configuration, so the matrix still accounts for every attempted pair.
func Failure(backendName, kind string, err error) Result {
	return Result{
		Backend:   backendName,
		Kind:      kind,
		Timestamp: time.Now().UTC(),
		Success:   false,
		Error:     err.Error(),
	}
}

// Throughput converts an elapsed duration and an operation count into
// operations per second. Zero elapsed yields zero rather than +Inf.
func Throughput(ops int, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(ops) / elapsed.Seconds()
}
