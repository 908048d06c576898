// Package backend defines the uniform operation contract every data store
// adapter implements. The orchestrator only ever talks to this interface, so
// identical timing, batching and validation semantics apply to every backend
// regardless of its consistency or wire-protocol model.
package backend

import (
	"context"
	"time"

	"github.com/docbench/docbench/internal/corpus"
)

type Kind string

const (
	Mongo             Kind = "mongo"
	DocumentDBGateway Kind = "documentdb"
	Postgres          Kind = "postgres"
	Yugabyte          Kind = "yugabyte"
	Cockroach         Kind = "cockroach"
	OracleDuality     Kind = "oracle"
	OracleDirect      Kind = "oracle-direct"
)

// Kinds lists every registered backend kind.
func Kinds() []Kind {
	return []Kind{Mongo, DocumentDBGateway, Postgres, Yugabyte, Cockroach, OracleDuality, OracleDirect}
}

type Error string

func (e Error) Error() string { return string(e) }

const (
	// ErrUnsupported is returned by operations a backend cannot express,
	// such as stored-size introspection on a gateway.
	ErrUnsupported Error = "operation not supported by this backend"
	// ErrUnknownKind is returned by the factory for unregistered kinds.
	ErrUnknownKind Error = "unknown backend kind"
)

// SchemaOptions parameterizes PrepareSchema for one benchmark pass.
type SchemaOptions struct {
	// BuildIndex creates the backend's containment index on the targets
	// array (GIN, array index, ...) for the indexed pass.
	BuildIndex bool
	// LinkTable creates the auxiliary link collection/table used by the
	// join query workload.
	LinkTable bool
}

// InsertOptions parameterizes InsertDocuments.
type InsertOptions struct {
	// BatchSize is honored exactly; the last partial batch is still
	// flushed.
	BatchSize int
	// WithLinks stores one auxiliary link record per (document, target)
	// pair before the timed window, for the join workload.
	WithLinks bool
	// StripTargets omits the targets array from the stored document, for
	// workloads that query the link records instead.
	StripTargets bool
	// Collect receives one sample per timed batch when latency collection
	// is enabled. Nil disables collection.
	Collect func(elapsed time.Duration)
}

// InsertStats reports one timed insert pass.
type InsertStats struct {
	// Elapsed covers only the batch-insert window: connection, schema and
	// document materialization cost is excluded.
	Elapsed time.Duration
	// Batches is the number of flushed batches, including a final partial
	// one.
	Batches int
	// Duplicates counts duplicate-key conflicts on auxiliary link records.
	// Conflicts are recovered locally and never fail the run.
	Duplicates int64
}

// Backend is the operation contract. Implementations honor externally
// supplied timeouts on every call so an unreachable backend fails fast
// instead of hanging the matrix.
type Backend interface {
	// PrepareSchema drops and recreates the named collections (and the
	// link store when requested), then builds the containment index when
	// the pass requires one.
	PrepareSchema(ctx context.Context, collections []string, opts SchemaOptions) error

	// InsertDocuments writes the corpus in batches and reports the elapsed
	// wall-clock time of the insert window.
	InsertDocuments(ctx context.Context, collection string, docs []corpus.Document, opts InsertOptions) (InsertStats, error)

	// QueryByContainment counts documents whose targets array contains id.
	QueryByContainment(ctx context.Context, collection, id string) (int, error)

	// QueryByInCondition counts documents whose id is in targets.
	QueryByInCondition(ctx context.Context, collection string, targets []string) (int, error)

	// QueryViaJoin counts documents reached from id through the link store.
	QueryViaJoin(ctx context.Context, collection, id string) (int, error)

	// AverageDocumentSize reports the mean stored size in bytes, or
	// ErrUnsupported.
	AverageDocumentSize(ctx context.Context, collection string) (int64, error)

	// DocumentCount reports the number of stored documents.
	DocumentCount(ctx context.Context, collection string) (int64, error)

	// SampleValidate re-reads one document and compares it against the
	// expected content. At minimum the id must match; adapters widen the
	// comparison to the payload where their native representation allows.
	SampleValidate(ctx context.Context, collection, id string, expected corpus.Document) (bool, error)

	Close(ctx context.Context) error
}
