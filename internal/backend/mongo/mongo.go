// Package mongo implements the operation contract for the native document
// store and for wire-protocol-compatible gateways that front a different
// storage engine behind the same protocol.
package mongo

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"

	"github.com/docbench/docbench/internal/backend"
	"github.com/docbench/docbench/internal/corpus"
)

const linksCollection = "links"

type Config struct {
	URI      string
	Database string
	// Gateway marks a protocol-compatible gateway rather than the native
	// store. Gateways get trust-all TLS for self-signed certificates,
	// generous socket timeouts, and a retried protocol-level readiness
	// probe: the storage engine beneath the gateway comes up before the
	// protocol layer does, so accepting TCP connections is not enough.
	Gateway bool
}

type Adapter struct {
	client  *mongo.Client
	db      *mongo.Database
	gateway bool
}

func Open(ctx context.Context, cfg Config) (*Adapter, error) {
	if cfg.Database == "" {
		cfg.Database = "bench"
	}

	clientOpts := options.Client().ApplyURI(cfg.URI)
	if cfg.Gateway {
		clientOpts.
			SetServerSelectionTimeout(60 * time.Second).
			SetConnectTimeout(30 * time.Second).
			SetSocketTimeout(60 * time.Second)
		// Gateways ship self-signed certificates, but forcing TLS on a
		// plaintext listener would break the handshake, so trust-all only
		// applies when the connection string asks for TLS.
		if wantsTLS(cfg.URI) {
			clientOpts.SetTLSConfig(&tls.Config{InsecureSkipVerify: true})
		}
	}

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	if cfg.Gateway {
		// Round-trip readiness probe. The protocol layer of a staged
		// gateway startup can reject or drop early connections, which is
		// a readiness race rather than a hard failure.
		err = retry.Do(
			func() error { return client.Ping(ctx, readpref.Primary()) },
			retry.Context(ctx),
			retry.Attempts(20),
			retry.Delay(500*time.Millisecond),
			retry.DelayType(retry.BackOffDelay),
			retry.LastErrorOnly(true),
		)
	} else {
		err = client.Ping(ctx, readpref.Primary())
	}
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping: %w", err)
	}

	return &Adapter{
		client:  client,
		db:      client.Database(cfg.Database),
		gateway: cfg.Gateway,
	}, nil
}

func (a *Adapter) PrepareSchema(ctx context.Context, collections []string, opts backend.SchemaOptions) error {
	if opts.LinkTable {
		if err := a.db.Collection(linksCollection).Drop(ctx); err != nil {
			return fmt.Errorf("drop links: %w", err)
		}
		createOpts := options.CreateCollection().SetClusteredIndex(bson.M{
			"key":    bson.M{"_id": 1},
			"unique": true,
		})
		if err := a.db.CreateCollection(ctx, linksCollection, createOpts); err != nil {
			// Gateways without clustered-index support still work with a
			// plain collection; the _id index enforces uniqueness anyway.
			if err := a.db.CreateCollection(ctx, linksCollection); err != nil {
				return fmt.Errorf("create links: %w", err)
			}
		}
	}

	for _, name := range collections {
		if err := a.db.Collection(name).Drop(ctx); err != nil {
			return fmt.Errorf("drop %s: %w", name, err)
		}
		if err := a.db.CreateCollection(ctx, name); err != nil {
			return fmt.Errorf("create %s: %w", name, err)
		}

		if opts.BuildIndex {
			_, err := a.db.Collection(name).Indexes().CreateOne(ctx, mongo.IndexModel{
				Keys: bson.D{{Key: "targets", Value: 1}},
			})
			if err != nil {
				return fmt.Errorf("create targets index on %s: %w", name, err)
			}
			slog.Info("Created containment index", "collection", name, "field", "targets")
		}
	}
	return nil
}

func (a *Adapter) InsertDocuments(ctx context.Context, collection string, docs []corpus.Document, opts backend.InsertOptions) (backend.InsertStats, error) {
	var stats backend.InsertStats

	// Materialize BSON before the timed window so encoding cost does not
	// pollute the insert metric.
	bsonDocs := make([]interface{}, len(docs))
	for i, doc := range docs {
		bsonDocs[i] = toBSON(doc, opts.StripTargets)
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

	coll := a.db.Collection(collection, options.Collection().SetWriteConcern(writeconcern.Journaled()))

	start := time.Now()
	for offset := 0; offset < len(bsonDocs); offset += opts.BatchSize {
		end := offset + opts.BatchSize
		if end > len(bsonDocs) {
			end = len(bsonDocs)
		}

		batchStart := time.Now()
		if _, err := coll.InsertMany(ctx, bsonDocs[offset:end]); err != nil {
			return stats, fmt.Errorf("insert batch at %d: %w", offset, err)
		}
		if opts.Collect != nil {
			opts.Collect(time.Since(batchStart))
		}
		stats.Batches++
	}
	stats.Elapsed = time.Since(start)

	return stats, nil
}

// insertLinks stores one record per (document, target) pair, keyed
// "<docID>#<target>" so join queries can range-scan by prefix. Duplicate keys
// arise whenever a document links the same target twice; they are counted,
// not fatal.
func (a *Adapter) insertLinks(ctx context.Context, docs []corpus.Document, batchSize int) (int64, error) {
	links := a.db.Collection(linksCollection, options.Collection().SetWriteConcern(writeconcern.Journaled()))

	var dups int64
	batch := make([]interface{}, 0, batchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		_, err := links.InsertMany(ctx, batch, options.InsertMany().SetOrdered(false))
		if err != nil {
			var bulkErr mongo.BulkWriteException
			if !errors.As(err, &bulkErr) {
				return err
			}
			for _, writeErr := range bulkErr.WriteErrors {
				if !mongo.IsDuplicateKeyError(writeErr) {
					return err
				}
				dups++
			}
		}
		batch = batch[:0]
		return nil
	}

	for _, doc := range docs {
		for _, target := range doc.Targets {
			batch = append(batch, bson.D{
				{Key: "_id", Value: doc.ID + "#" + target},
				{Key: "target", Value: target},
			})
			if len(batch) == batchSize {
				if err := flush(); err != nil {
					return dups, err
				}
			}
		}
	}
	return dups, flush()
}

func (a *Adapter) QueryByContainment(ctx context.Context, collection, id string) (int, error) {
	cursor, err := a.db.Collection(collection).Find(ctx,
		bson.M{"targets": id},
		options.Find().SetProjection(bson.M{"targets": 0}),
	)
	if err != nil {
		return 0, fmt.Errorf("containment query: %w", err)
	}
	return drain(ctx, cursor)
}

func (a *Adapter) QueryByInCondition(ctx context.Context, collection string, targets []string) (int, error) {
	cursor, err := a.db.Collection(collection).Find(ctx,
		bson.M{"_id": bson.M{"$in": targets}},
		options.Find().SetProjection(bson.M{"targets": 0}),
	)
	if err != nil {
		return 0, fmt.Errorf("in-condition query: %w", err)
	}
	return drain(ctx, cursor)
}

// QueryViaJoin gathers the link records for id by prefix range, then joins
// them back to the document collection through $lookup.
func (a *Adapter) QueryViaJoin(ctx context.Context, collection, id string) (int, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"_id": bson.M{"$gte": id + "#", "$lte": id + "#~"}}}},
		{{Key: "$group", Value: bson.M{"_id": "", "links": bson.M{"$push": "$target"}}}},
		{{Key: "$lookup", Value: bson.M{
			"from":         collection,
			"localField":   "links",
			"foreignField": "_id",
			"as":           "result",
		}}},
		{{Key: "$unwind", Value: bson.M{"path": "$result"}}},
		{{Key: "$replaceRoot", Value: bson.M{"newRoot": "$result"}}},
	}

	cursor, err := a.db.Collection(linksCollection).Aggregate(ctx, pipeline)
	if err != nil {
		return 0, fmt.Errorf("join query: %w", err)
	}
	return drain(ctx, cursor)
}

func (a *Adapter) AverageDocumentSize(ctx context.Context, collection string) (int64, error) {
	if a.gateway {
		// collStats is not reliably implemented behind gateways.
		return 0, backend.ErrUnsupported
	}

	var result bson.M
	err := a.db.RunCommand(ctx, bson.D{{Key: "collStats", Value: collection}}).Decode(&result)
	if err != nil {
		return 0, fmt.Errorf("collStats: %w", err)
	}

	switch v := result["avgObjSize"].(type) {
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		return int64(v), nil
	default:
		return 0, backend.ErrUnsupported
	}
}

func (a *Adapter) DocumentCount(ctx context.Context, collection string) (int64, error) {
	count, err := a.db.Collection(collection).CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return count, nil
}

func (a *Adapter) SampleValidate(ctx context.Context, collection, id string, expected corpus.Document) (bool, error) {
	var stored bson.M
	err := a.db.Collection(collection).FindOne(ctx, bson.M{"_id": id}).Decode(&stored)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return false, nil
		}
		return false, fmt.Errorf("read document: %w", err)
	}

	storedID, ok := stored["_id"].(string)
	if !ok || storedID != expected.ID {
		return false, nil
	}

	// Widen to payload comparison: binary attributes round-trip as BSON
	// binary, so byte equality is checkable directly.
	for name, want := range expected.Payload {
		bin, ok := stored[name].(primitive.Binary)
		if !ok || !bytes.Equal(bin.Data, want) {
			return false, nil
		}
	}
	return true, nil
}

func (a *Adapter) Close(ctx context.Context) error {
	return a.client.Disconnect(ctx)
}

// wantsTLS reports whether a connection string requests TLS, explicitly or
// via the SRV scheme, which implies it.
func wantsTLS(uri string) bool {
	lower := strings.ToLower(uri)
	if strings.HasPrefix(lower, "mongodb+srv://") {
		return true
	}
	return strings.Contains(lower, "tls=true") || strings.Contains(lower, "ssl=true")
}

func toBSON(doc corpus.Document, stripTargets bool) bson.D {
	out := bson.D{{Key: "_id", Value: doc.ID}}
	for i := 0; ; i++ {
		name := corpus.AttrName(i)
		data, ok := doc.Payload[name]
		if !ok {
			break
		}
		out = append(out, bson.E{Key: name, Value: primitive.Binary{Data: data}})
	}
	for key, value := range doc.Realistic {
		out = append(out, bson.E{Key: key, Value: value})
	}
	if !stripTargets && len(doc.Targets) > 0 {
		out = append(out, bson.E{Key: "targets", Value: doc.Targets})
	}
	return out
}

func drain(ctx context.Context, cursor *mongo.Cursor) (int, error) {
	defer cursor.Close(ctx)
	count := 0
	for cursor.Next(ctx) {
		count++
	}
	if err := cursor.Err(); err != nil {
		return count, fmt.Errorf("cursor: %w", err)
	}
	return count, nil
}
