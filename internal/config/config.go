// Package config holds the immutable benchmark matrix resolved once per
// invocation. Nothing in here is mutated after construction; every adapter
// call receives what it needs by value.
package config

import (
	"fmt"

	"github.com/docbench/docbench/internal/backend"
)

type IndexMode string

const (
	Indexed    IndexMode = "indexed"
	NonIndexed IndexMode = "nonindexed"
)

type QueryMode string

const (
	QueryNone        QueryMode = "none"
	QueryContainment QueryMode = "containment"
	QueryIn          QueryMode = "in"
	QueryJoin        QueryMode = "join"
)

// Target identifies one backend under test.
type Target struct {
	// Name labels the backend in logs and results. Defaults to Kind.
	Name string `yaml:"name"`
	// Kind selects the adapter: mongo, documentdb, postgres, yugabyte,
	// cockroach, oracle, oracle-direct.
	Kind string `yaml:"kind"`
	// URI is the driver connection string.
	URI string `yaml:"uri"`
	// Database names the logical database/schema when the URI does not.
	Database string `yaml:"database"`
	// JSONStorage toggles the relational column representation between
	// jsonb (default) and json.
	JSONStorage string `yaml:"json_storage"`
	// DirectWrite bypasses the duality view and writes base tables
	// directly. Required on platforms where view-mediated inserts treat
	// array elements as globally unique and silently drop documents.
	DirectWrite bool `yaml:"direct_write"`
}

// Config is the resolved benchmark matrix for one invocation.
type Config struct {
	PayloadSizes   []int       `yaml:"payload_sizes"`
	NumAttrs       int         `yaml:"num_attrs"`
	SplitPayload   bool        `yaml:"split_payload"`
	BatchSize      int         `yaml:"batch_size"`
	DocCount       int         `yaml:"doc_count"`
	Repetitions    int         `yaml:"repetitions"`
	QueryLinks     int         `yaml:"query_links"`
	IndexModes     []IndexMode `yaml:"index_modes"`
	QueryMode      QueryMode   `yaml:"query_mode"`
	Realistic      bool        `yaml:"realistic"`
	Validate       bool        `yaml:"validate"`
	CollectLatency bool        `yaml:"collect_latency"`
	Seed           int64       `yaml:"seed"`
	Targets        []Target    `yaml:"targets"`
}

// Defaults mirrors the workload the harness was designed around: three
// payload sizes, four attributes, thousand-document batches, best of three.
func Defaults() Config {
	return Config{
		PayloadSizes: []int{100, 1000, 10000},
		NumAttrs:     4,
		BatchSize:    1000,
		DocCount:     10000,
		Repetitions:  3,
		QueryLinks:   8,
		IndexModes:   []IndexMode{NonIndexed},
		QueryMode:    QueryNone,
		Seed:         1,
	}
}

// CheckValid reports the first problem with the matrix. Named so it cannot
// collide with the Validate toggle field.
func (c Config) CheckValid() error {
	if len(c.PayloadSizes) == 0 && !c.Realistic {
		return fmt.Errorf("at least one payload size is required")
	}
	for _, s := range c.PayloadSizes {
		if s < 0 {
			return fmt.Errorf("payload size must be non-negative, got %d", s)
		}
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	if c.DocCount <= 0 {
		return fmt.Errorf("document count must be positive, got %d", c.DocCount)
	}
	if c.Repetitions < 1 {
		return fmt.Errorf("repetitions must be at least 1, got %d", c.Repetitions)
	}
	if c.QueryLinks < 0 {
		return fmt.Errorf("query links must be non-negative, got %d", c.QueryLinks)
	}
	if c.SplitPayload && c.NumAttrs <= 0 {
		return fmt.Errorf("split payload requires a positive attribute count, got %d", c.NumAttrs)
	}
	if len(c.IndexModes) == 0 {
		return fmt.Errorf("at least one index mode is required")
	}
	for _, m := range c.IndexModes {
		if m != Indexed && m != NonIndexed {
			return fmt.Errorf("unknown index mode %q", m)
		}
	}
	switch c.QueryMode {
	case QueryNone, QueryContainment, QueryIn, QueryJoin:
	default:
		return fmt.Errorf("unknown query mode %q", c.QueryMode)
	}
	if c.QueryMode != QueryNone && c.QueryLinks == 0 {
		return fmt.Errorf("query mode %q requires query links", c.QueryMode)
	}
	if len(c.Targets) == 0 {
		return fmt.Errorf("at least one backend target is required")
	}
	for i, target := range c.Targets {
		if target.Kind == "" {
			return fmt.Errorf("target at index %d has no kind", i)
		}
		if !knownKind(target.Kind) {
			return fmt.Errorf("target %q has unknown kind %q", target.Label(), target.Kind)
		}
		if target.URI == "" {
			return fmt.Errorf("target %q has no uri", target.Label())
		}
	}
	return nil
}

func knownKind(kind string) bool {
	for _, k := range backend.Kinds() {
		if backend.Kind(kind) == k {
			return true
		}
	}
	return false
}

func (t Target) Label() string {
	if t.Name != "" {
		return t.Name
	}
	return t.Kind
}
