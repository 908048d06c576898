// Package oracle implements the operation contract against an
// object-relational store: documents live in normalized base tables exposed
// through a JSON-relational duality view. Two write paths exist because
// view-mediated inserts on affected platform versions treat array elements
// as globally unique and silently drop documents; the direct-table bypass is
// a correctness requirement there, selected by operator configuration rather
// than runtime probing.
package oracle

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/sijms/go-ora/v2"

	"github.com/docbench/docbench/internal/backend"
	"github.com/docbench/docbench/internal/corpus"
)

const linksTable = "links"

type Config struct {
	ConnStr string
	// DirectWrite bypasses the duality view and writes the base tables
	// directly. Reads always go through the view so both write paths are
	// checked against the same document surface.
	DirectWrite bool
}

type Adapter struct {
	db          *sql.DB
	directWrite bool
}

func Open(ctx context.Context, cfg Config) (*Adapter, error) {
	db, err := sql.Open("oracle", cfg.ConnStr)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	db.SetConnMaxIdleTime(time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return &Adapter{db: db, directWrite: cfg.DirectWrite}, nil
}

func baseTable(collection string) string    { return collection + "_base" }
func targetsTable(collection string) string { return collection + "_targets" }
func dualityView(collection string) string  { return collection + "_dv" }

func (a *Adapter) PrepareSchema(ctx context.Context, collections []string, opts backend.SchemaOptions) error {
	if opts.LinkTable {
		a.dropIgnoreMissing(ctx, "DROP TABLE "+linksTable)
		ddl := fmt.Sprintf("CREATE TABLE %s (id VARCHAR2(150) PRIMARY KEY, target VARCHAR2(64) NOT NULL)", linksTable)
		if _, err := a.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create links table: %w", err)
		}
	}

	for _, name := range collections {
		a.dropIgnoreMissing(ctx, "DROP VIEW "+dualityView(name))
		a.dropIgnoreMissing(ctx, "DROP TABLE "+targetsTable(name))
		a.dropIgnoreMissing(ctx, "DROP TABLE "+baseTable(name))

		base := fmt.Sprintf(
			"CREATE TABLE %s (id VARCHAR2(64) PRIMARY KEY, body JSON)",
			baseTable(name),
		)
		if _, err := a.db.ExecContext(ctx, base); err != nil {
			return fmt.Errorf("create base table %s: %w", name, err)
		}

		targets := fmt.Sprintf(
			"CREATE TABLE %s (doc_id VARCHAR2(64) NOT NULL REFERENCES %s (id), seq NUMBER NOT NULL, target VARCHAR2(64) NOT NULL, PRIMARY KEY (doc_id, seq))",
			targetsTable(name), baseTable(name),
		)
		if _, err := a.db.ExecContext(ctx, targets); err != nil {
			return fmt.Errorf("create targets table %s: %w", name, err)
		}

		view := fmt.Sprintf(`CREATE OR REPLACE JSON RELATIONAL DUALITY VIEW %s AS
%s @insert @update @delete
{
    _id  : id
    body : body
    targets : %s @insert @update @delete
        [ { seq : seq, value : target } ]
}`, dualityView(name), baseTable(name), targetsTable(name))
		if _, err := a.db.ExecContext(ctx, view); err != nil {
			return fmt.Errorf("create duality view %s: %w", name, err)
		}

		if opts.BuildIndex {
			index := fmt.Sprintf(
				"CREATE INDEX %s_target_idx ON %s (target)",
				name, targetsTable(name),
			)
			if _, err := a.db.ExecContext(ctx, index); err != nil {
				return fmt.Errorf("create targets index on %s: %w", name, err)
			}
			slog.Info("Created containment index", "table", targetsTable(name))
		}
	}

	// Make the active write path visible in every run log so operators
	// know which side of the array-uniqueness defect they are on.
	slog.Info("Oracle write path selected", "direct_write", a.directWrite)
	return nil
}

// dropIgnoreMissing swallows "does not exist" errors so schema preparation
// is idempotent on a fresh database.
func (a *Adapter) dropIgnoreMissing(ctx context.Context, ddl string) {
	if _, err := a.db.ExecContext(ctx, ddl); err != nil {
		if !isMissingObject(err) {
			slog.Warn("Drop failed", "ddl", ddl, "error", err)
		}
	}
}

func (a *Adapter) InsertDocuments(ctx context.Context, collection string, docs []corpus.Document, opts backend.InsertOptions) (backend.InsertStats, error) {
	var stats backend.InsertStats

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

	if a.directWrite {
		return a.insertDirect(ctx, collection, docs, opts, stats)
	}
	return a.insertViaView(ctx, collection, docs, opts, stats)
}

// insertViaView writes whole documents through the duality view, one JSON
// value per row.
func (a *Adapter) insertViaView(ctx context.Context, collection string, docs []corpus.Document, opts backend.InsertOptions, stats backend.InsertStats) (backend.InsertStats, error) {
	// Serialize before timing.
	bodies := make([]string, len(docs))
	for i, doc := range docs {
		body, err := json.Marshal(viewDocument(doc, opts.StripTargets))
		if err != nil {
			return stats, fmt.Errorf("marshal document %s: %w", doc.ID, err)
		}
		bodies[i] = string(body)
	}

	insert := fmt.Sprintf("INSERT INTO %s VALUES (:1)", dualityView(collection))

	start := time.Now()
	for offset := 0; offset < len(bodies); offset += opts.BatchSize {
		end := offset + opts.BatchSize
		if end > len(bodies) {
			end = len(bodies)
		}

		batchStart := time.Now()
		err := a.withTx(ctx, func(tx *sql.Tx) error {
			stmt, err := tx.PrepareContext(ctx, insert)
			if err != nil {
				return err
			}
			defer stmt.Close()

			for _, body := range bodies[offset:end] {
				if _, err := stmt.ExecContext(ctx, body); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return stats, fmt.Errorf("view insert batch at %d: %w", offset, err)
		}
		if opts.Collect != nil {
			opts.Collect(time.Since(batchStart))
		}
		stats.Batches++
	}
	stats.Elapsed = time.Since(start)

	return stats, nil
}

// insertDirect writes the base and targets tables without the view.
func (a *Adapter) insertDirect(ctx context.Context, collection string, docs []corpus.Document, opts backend.InsertOptions, stats backend.InsertStats) (backend.InsertStats, error) {
	bodies := make([]string, len(docs))
	for i, doc := range docs {
		body, err := json.Marshal(docPayload(doc))
		if err != nil {
			return stats, fmt.Errorf("marshal document %s: %w", doc.ID, err)
		}
		bodies[i] = string(body)
	}

	insertBase := fmt.Sprintf("INSERT INTO %s (id, body) VALUES (:1, :2)", baseTable(collection))
	insertTarget := fmt.Sprintf("INSERT INTO %s (doc_id, seq, target) VALUES (:1, :2, :3)", targetsTable(collection))

	start := time.Now()
	for offset := 0; offset < len(docs); offset += opts.BatchSize {
		end := offset + opts.BatchSize
		if end > len(docs) {
			end = len(docs)
		}

		batchStart := time.Now()
		err := a.withTx(ctx, func(tx *sql.Tx) error {
			baseStmt, err := tx.PrepareContext(ctx, insertBase)
			if err != nil {
				return err
			}
			defer baseStmt.Close()
			targetStmt, err := tx.PrepareContext(ctx, insertTarget)
			if err != nil {
				return err
			}
			defer targetStmt.Close()

			for i := offset; i < end; i++ {
				if _, err := baseStmt.ExecContext(ctx, docs[i].ID, bodies[i]); err != nil {
					return err
				}
				if opts.StripTargets {
					continue
				}
				for seq, target := range docs[i].Targets {
					if _, err := targetStmt.ExecContext(ctx, docs[i].ID, seq, target); err != nil {
						return err
					}
				}
			}
			return nil
		})
		if err != nil {
			return stats, fmt.Errorf("direct insert batch at %d: %w", offset, err)
		}
		if opts.Collect != nil {
			opts.Collect(time.Since(batchStart))
		}
		stats.Batches++
	}
	stats.Elapsed = time.Since(start)

	return stats, nil
}

func (a *Adapter) insertLinks(ctx context.Context, docs []corpus.Document, batchSize int) (int64, error) {
	insert := fmt.Sprintf("INSERT INTO %s (id, target) VALUES (:1, :2)", linksTable)

	type link struct{ id, target string }
	var all []link
	for _, doc := range docs {
		for _, target := range doc.Targets {
			all = append(all, link{id: doc.ID + "#" + target, target: target})
		}
	}

	var dups int64
	for offset := 0; offset < len(all); offset += batchSize {
		end := offset + batchSize
		if end > len(all) {
			end = len(all)
		}

		err := a.withTx(ctx, func(tx *sql.Tx) error {
			stmt, err := tx.PrepareContext(ctx, insert)
			if err != nil {
				return err
			}
			defer stmt.Close()

			for _, l := range all[offset:end] {
				if _, err := stmt.ExecContext(ctx, l.id, l.target); err != nil {
					if isUniqueViolation(err) {
						dups++
						continue
					}
					return err
				}
			}
			return nil
		})
		if err != nil {
			return dups, err
		}
	}
	return dups, nil
}

func (a *Adapter) QueryByContainment(ctx context.Context, collection, id string) (int, error) {
	return a.countRows(ctx, containmentQuery(collection), id)
}

// containmentQuery matches against the view's object-array shape: targets
// materialize as {seq, value} elements, so the path filter compares the value
// field rather than the element itself.
func containmentQuery(collection string) string {
	return fmt.Sprintf(
		`SELECT v.data FROM %s v WHERE JSON_EXISTS(v.data, '$.targets[*]?(@.value == $t)' PASSING :1 AS "t")`,
		dualityView(collection),
	)
}

func (a *Adapter) QueryByInCondition(ctx context.Context, collection string, targets []string) (int, error) {
	placeholders := make([]string, len(targets))
	args := make([]any, len(targets))
	for i, t := range targets {
		placeholders[i] = fmt.Sprintf(":%d", i+1)
		args[i] = t
	}
	query := fmt.Sprintf(
		"SELECT id FROM %s WHERE id IN (%s)",
		baseTable(collection), strings.Join(placeholders, ", "),
	)
	return a.countRows(ctx, query, args...)
}

func (a *Adapter) QueryViaJoin(ctx context.Context, collection, id string) (int, error) {
	query := fmt.Sprintf(
		"SELECT b.id FROM %s l JOIN %s b ON b.id = l.target WHERE l.id >= :1 || '#' AND l.id <= :2 || '#~'",
		linksTable, baseTable(collection),
	)
	return a.countRows(ctx, query, id, id)
}

func (a *Adapter) countRows(ctx context.Context, query string, args ...any) (int, error) {
	rows, err := a.db.QueryContext(ctx, query, args...)
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

// AverageDocumentSize approximates the stored OSON size by the serialized
// JSON length of the base-table body.
func (a *Adapter) AverageDocumentSize(ctx context.Context, collection string) (int64, error) {
	query := fmt.Sprintf(
		"SELECT NVL(AVG(LENGTH(JSON_SERIALIZE(body))), 0) FROM %s",
		baseTable(collection),
	)

	var avg float64
	if err := a.db.QueryRowContext(ctx, query).Scan(&avg); err != nil {
		return 0, backend.ErrUnsupported
	}
	return int64(avg), nil
}

// DocumentCount counts through the duality view so documents dropped by the
// view-mediated write defect are visible as a count mismatch.
func (a *Adapter) DocumentCount(ctx context.Context, collection string) (int64, error) {
	var count int64
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", dualityView(collection))
	if err := a.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return count, nil
}

func (a *Adapter) SampleValidate(ctx context.Context, collection, id string, expected corpus.Document) (bool, error) {
	query := fmt.Sprintf(
		"SELECT v.data FROM %s v WHERE JSON_VALUE(v.data, '$._id') = :1",
		dualityView(collection),
	)

	var body []byte
	err := a.db.QueryRowContext(ctx, query, id).Scan(&body)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("read document: %w", err)
	}

	var stored struct {
		ID   string         `json:"_id"`
		Body map[string]any `json:"body"`
	}
	if err := json.Unmarshal(body, &stored); err != nil {
		return false, fmt.Errorf("decode document: %w", err)
	}
	if stored.ID != expected.ID {
		return false, nil
	}

	for name, want := range expected.Payload {
		got, ok := stored.Body[name].(string)
		if !ok || got != base64.StdEncoding.EncodeToString(want) {
			return false, nil
		}
	}
	return true, nil
}

func (a *Adapter) Close(ctx context.Context) error {
	return a.db.Close()
}

func (a *Adapter) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// viewDocument shapes one document for a view-mediated insert: the view maps
// _id and targets onto the base and targets tables, everything else lands in
// the body column.
func viewDocument(doc corpus.Document, stripTargets bool) map[string]any {
	out := map[string]any{
		"_id":  doc.ID,
		"body": docPayload(doc),
	}
	targets := doc.Targets
	if stripTargets {
		targets = nil
	}
	viewTargets := make([]map[string]any, len(targets))
	for i, t := range targets {
		viewTargets[i] = map[string]any{"seq": i, "value": t}
	}
	out["targets"] = viewTargets
	return out
}

func docPayload(doc corpus.Document) map[string]any {
	body := make(map[string]any, len(doc.Payload)+len(doc.Realistic))
	for name, data := range doc.Payload {
		body[name] = data
	}
	for key, value := range doc.Realistic {
		body[key] = value
	}
	return body
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "ORA-00001")
}

func isMissingObject(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "ORA-00942") || strings.Contains(err.Error(), "ORA-04043"))
}
