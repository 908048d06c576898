// Package pg implements the operation contract for relational stores that
// keep each document in a single JSON column next to its id. The same
// adapter serves single-node PostgreSQL and the distributed SQL engines that
// speak its wire protocol; distributed targets additionally tolerate the
// transient not-ready errors a freshly started cluster returns.
package pg

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/avast/retry-go"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/docbench/docbench/internal/backend"
	"github.com/docbench/docbench/internal/corpus"
)

const linksTable = "links"

type Config struct {
	ConnStr string
	// JSONStorage selects the document column type: "jsonb" (default) or
	// "json". The two representations trade write cost against query cost
	// and are benchmarked separately.
	JSONStorage string
	// Distributed marks a distributed SQL engine. Connection setup and
	// schema DDL retry with backoff, since clusters report transient
	// not-ready errors shortly after start.
	Distributed bool
}

type Adapter struct {
	pool        *pgxpool.Pool
	columnType  string
	distributed bool
}

func Open(ctx context.Context, cfg Config) (*Adapter, error) {
	columnType := cfg.JSONStorage
	switch columnType {
	case "":
		columnType = "jsonb"
	case "json", "jsonb":
	default:
		return nil, fmt.Errorf("unknown json storage %q", cfg.JSONStorage)
	}

	var pool *pgxpool.Pool
	connect := func() error {
		p, err := pgxpool.New(ctx, cfg.ConnStr)
		if err != nil {
			return fmt.Errorf("create pool: %w", err)
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			return fmt.Errorf("ping: %w", err)
		}
		pool = p
		return nil
	}

	var err error
	if cfg.Distributed {
		err = retry.Do(connect,
			retry.Context(ctx),
			retry.Attempts(15),
			retry.Delay(time.Second),
			retry.DelayType(retry.BackOffDelay),
			retry.LastErrorOnly(true),
		)
	} else {
		err = connect()
	}
	if err != nil {
		return nil, err
	}

	return &Adapter{pool: pool, columnType: columnType, distributed: cfg.Distributed}, nil
}

func (a *Adapter) PrepareSchema(ctx context.Context, collections []string, opts backend.SchemaOptions) error {
	if opts.LinkTable {
		if err := a.exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", ident(linksTable))); err != nil {
			return fmt.Errorf("drop links table: %w", err)
		}
		ddl := fmt.Sprintf("CREATE TABLE %s (id text PRIMARY KEY, target text NOT NULL)", ident(linksTable))
		if err := a.exec(ctx, ddl); err != nil {
			return fmt.Errorf("create links table: %w", err)
		}
	}

	for _, name := range collections {
		if err := a.exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", ident(name))); err != nil {
			return fmt.Errorf("drop table %s: %w", name, err)
		}
		ddl := fmt.Sprintf("CREATE TABLE %s (id text PRIMARY KEY, doc %s NOT NULL)", ident(name), a.columnType)
		if err := a.exec(ctx, ddl); err != nil {
			return fmt.Errorf("create table %s: %w", name, err)
		}

		if opts.BuildIndex {
			index := fmt.Sprintf(
				"CREATE INDEX %s ON %s USING GIN ((%s) jsonb_path_ops)",
				ident(name+"_targets_idx"), ident(name), a.targetsExpr("doc"),
			)
			if err := a.exec(ctx, index); err != nil {
				return fmt.Errorf("create targets index on %s: %w", name, err)
			}
			slog.Info("Created containment index", "table", name, "type", "gin")
		}
	}
	return nil
}

// exec runs one DDL statement, retrying transient cluster-startup errors on
// distributed targets.
func (a *Adapter) exec(ctx context.Context, sql string) error {
	run := func() error {
		_, err := a.pool.Exec(ctx, sql)
		return err
	}
	if !a.distributed {
		return run()
	}
	return retry.Do(run,
		retry.Context(ctx),
		retry.Attempts(10),
		retry.Delay(time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(isTransient),
	)
}

func (a *Adapter) InsertDocuments(ctx context.Context, collection string, docs []corpus.Document, opts backend.InsertOptions) (backend.InsertStats, error) {
	var stats backend.InsertStats

	// Marshal outside the timed window.
	rows := make([][]any, len(docs))
	for i, doc := range docs {
		body, err := json.Marshal(docBody(doc, opts.StripTargets))
		if err != nil {
			return stats, fmt.Errorf("marshal document %s: %w", doc.ID, err)
		}
		rows[i] = []any{doc.ID, body}
	}

	if opts.WithLinks {
		dups, err := a.insertLinks(ctx, docs, opts.BatchSize)
		if err != nil {
			return stats, fmt.Errorf("insert links: %w", err)
		}
		stats.Duplicates = dups
		if dups > 0 {
			slog.Info("Duplicate link records skipped", "count", dups)
		}
	}

	table := pgx.Identifier{collection}

	start := time.Now()
	for offset := 0; offset < len(rows); offset += opts.BatchSize {
		end := offset + opts.BatchSize
		if end > len(rows) {
			end = len(rows)
		}

		batchStart := time.Now()
		_, err := a.pool.CopyFrom(ctx, table, []string{"id", "doc"}, pgx.CopyFromRows(rows[offset:end]))
		if err != nil {
			return stats, fmt.Errorf("copy batch at %d: %w", offset, err)
		}
		if opts.Collect != nil {
			opts.Collect(time.Since(batchStart))
		}
		stats.Batches++
	}
	stats.Elapsed = time.Since(start)

	return stats, nil
}

// insertLinks tries the COPY fast path first. Link keys collide whenever a
// document references the same target twice; COPY cannot skip conflicts, so
// a unique violation falls back to batched INSERT ... ON CONFLICT DO NOTHING
// with the skipped rows counted as duplicates.
func (a *Adapter) insertLinks(ctx context.Context, docs []corpus.Document, batchSize int) (int64, error) {
	rows := make([][]any, 0, len(docs))
	for _, doc := range docs {
		for _, target := range doc.Targets {
			rows = append(rows, []any{doc.ID + "#" + target, target})
		}
	}
	if len(rows) == 0 {
		return 0, nil
	}

	_, err := a.pool.CopyFrom(ctx, pgx.Identifier{linksTable}, []string{"id", "target"}, pgx.CopyFromRows(rows))
	if err == nil {
		return 0, nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgerrcode.UniqueViolation {
		return 0, fmt.Errorf("copy links: %w", err)
	}

	insert := fmt.Sprintf(
		"INSERT INTO %s (id, target) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING",
		ident(linksTable),
	)
	var dups int64
	for offset := 0; offset < len(rows); offset += batchSize {
		end := offset + batchSize
		if end > len(rows) {
			end = len(rows)
		}

		batch := &pgx.Batch{}
		for _, row := range rows[offset:end] {
			batch.Queue(insert, row...)
		}
		results := a.pool.SendBatch(ctx, batch)
		for range rows[offset:end] {
			tag, err := results.Exec()
			if err != nil {
				_ = results.Close()
				return dups, fmt.Errorf("insert link: %w", err)
			}
			if tag.RowsAffected() == 0 {
				dups++
			}
		}
		if err := results.Close(); err != nil {
			return dups, fmt.Errorf("close link batch: %w", err)
		}
	}
	return dups, nil
}

func (a *Adapter) QueryByContainment(ctx context.Context, collection, id string) (int, error) {
	sql := fmt.Sprintf(
		"SELECT id FROM %s WHERE %s @> to_jsonb($1::text)",
		ident(collection), a.targetsExpr("doc"),
	)
	return a.countRows(ctx, sql, id)
}

func (a *Adapter) QueryByInCondition(ctx context.Context, collection string, targets []string) (int, error) {
	sql := fmt.Sprintf("SELECT id FROM %s WHERE id = ANY($1)", ident(collection))
	return a.countRows(ctx, sql, targets)
}

func (a *Adapter) QueryViaJoin(ctx context.Context, collection, id string) (int, error) {
	sql := fmt.Sprintf(
		"SELECT d.id FROM %s l JOIN %s d ON d.id = l.target WHERE l.id >= $1 || '#' AND l.id <= $1 || '#~'",
		ident(linksTable), ident(collection),
	)
	return a.countRows(ctx, sql, id)
}

func (a *Adapter) countRows(ctx context.Context, sql string, args ...any) (int, error) {
	rows, err := a.pool.Query(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		count++
	}
	if err := rows.Err(); err != nil {
		return count, fmt.Errorf("rows: %w", err)
	}
	return count, nil
}

func (a *Adapter) AverageDocumentSize(ctx context.Context, collection string) (int64, error) {
	sql := fmt.Sprintf("SELECT COALESCE(AVG(pg_column_size(doc)), 0)::bigint FROM %s", ident(collection))

	var avg int64
	if err := a.pool.QueryRow(ctx, sql).Scan(&avg); err != nil {
		return 0, fmt.Errorf("average size: %w", err)
	}
	return avg, nil
}

func (a *Adapter) DocumentCount(ctx context.Context, collection string) (int64, error) {
	var count int64
	sql := fmt.Sprintf("SELECT count(*) FROM %s", ident(collection))
	if err := a.pool.QueryRow(ctx, sql).Scan(&count); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return count, nil
}

func (a *Adapter) SampleValidate(ctx context.Context, collection, id string, expected corpus.Document) (bool, error) {
	sql := fmt.Sprintf("SELECT doc FROM %s WHERE id = $1", ident(collection))

	var body []byte
	err := a.pool.QueryRow(ctx, sql, id).Scan(&body)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("read document: %w", err)
	}

	var stored map[string]any
	if err := json.Unmarshal(body, &stored); err != nil {
		return false, fmt.Errorf("decode document: %w", err)
	}

	// encoding/json stores []byte attributes as base64 strings, so the
	// payload comparison reduces to string equality.
	for name, want := range expected.Payload {
		got, ok := stored[name].(string)
		if !ok || got != base64.StdEncoding.EncodeToString(want) {
			return false, nil
		}
	}
	return true, nil
}

func (a *Adapter) Close(ctx context.Context) error {
	a.pool.Close()
	return nil
}

// targetsExpr yields the jsonb expression for the targets array; a plain
// json column is cast first so containment and GIN indexing stay available.
func (a *Adapter) targetsExpr(column string) string {
	if a.columnType == "json" {
		return fmt.Sprintf("(%s::jsonb)->'targets'", column)
	}
	return fmt.Sprintf("%s->'targets'", column)
}

func docBody(doc corpus.Document, stripTargets bool) map[string]any {
	body := make(map[string]any, len(doc.Payload)+len(doc.Realistic)+1)
	for name, data := range doc.Payload {
		body[name] = data
	}
	for key, value := range doc.Realistic {
		body[key] = value
	}
	if !stripTargets && len(doc.Targets) > 0 {
		body["targets"] = doc.Targets
	}
	return body
}

func ident(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// isTransient reports whether an error looks like a cluster that has not
// finished starting, as opposed to one that is permanently broken.
func isTransient(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.CannotConnectNow, pgerrcode.AdminShutdown, pgerrcode.CrashShutdown,
			pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected:
			return true
		}
		return false
	}
	// Connection-level failures without a SQLSTATE are retried too; the
	// attempt budget bounds how long a genuinely dead target can stall us.
	return true
}
