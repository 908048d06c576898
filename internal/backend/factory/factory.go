// Package factory constructs backend adapters from resolved targets. One
// capability set, N interchangeable implementations selected by kind.
package factory

import (
	"context"
	"fmt"

	"github.com/docbench/docbench/internal/backend"
	"github.com/docbench/docbench/internal/backend/mongo"
	"github.com/docbench/docbench/internal/backend/oracle"
	"github.com/docbench/docbench/internal/backend/pg"
	"github.com/docbench/docbench/internal/config"
)

// Open initializes the adapter for target, including its connection and
// readiness handshake. Readiness retries live inside the adapters, not here.
func Open(ctx context.Context, target config.Target) (backend.Backend, backend.Kind, error) {
	kind := backend.Kind(target.Kind)

	var adapter backend.Backend
	var err error
	switch kind {
	case backend.Mongo:
		adapter, err = mongo.Open(ctx, mongo.Config{URI: target.URI, Database: target.Database})

	case backend.DocumentDBGateway:
		adapter, err = mongo.Open(ctx, mongo.Config{URI: target.URI, Database: target.Database, Gateway: true})

	case backend.Postgres:
		adapter, err = pg.Open(ctx, pg.Config{ConnStr: target.URI, JSONStorage: target.JSONStorage})

	case backend.Yugabyte, backend.Cockroach:
		adapter, err = pg.Open(ctx, pg.Config{ConnStr: target.URI, JSONStorage: target.JSONStorage, Distributed: true})

	case backend.OracleDuality:
		adapter, err = oracle.Open(ctx, oracle.Config{ConnStr: target.URI, DirectWrite: target.DirectWrite})

	case backend.OracleDirect:
		adapter, err = oracle.Open(ctx, oracle.Config{ConnStr: target.URI, DirectWrite: true})

	default:
		return nil, kind, fmt.Errorf("%w: %q", backend.ErrUnknownKind, target.Kind)
	}
	if err != nil {
		return nil, kind, fmt.Errorf("open backend %s: %w", target.Label(), err)
	}
	return adapter, kind, nil
}
