package main

import (
	"flag"
	"fmt"
	"strconv"
	"strings"

	"github.com/docbench/docbench/internal/config"
)

type cliConfig struct {
	ConfigPath  string
	ResultsPath string
	EchoResults bool

	MongoURI      string
	DocumentDBURI string
	PgConnStr     string
	YugabyteURI   string
	CockroachURI  string
	OracleConnStr string
	OracleDirect  bool
	JSONStorage   string

	PayloadSizes string
	NumAttrs     int
	SplitPayload bool
	BatchSize    int
	DocCount     int
	Repetitions  int
	QueryLinks   int
	IndexMode    string
	QueryMode    string
	Realistic    bool
	Validate     bool
	Latency      bool
	Seed         int64

	// set records which flags were given explicitly, so file values are
	// only overridden by flags the user actually passed.
	set map[string]bool
}

func parseFlags() cliConfig {
	cfg := cliConfig{}

	flag.StringVar(&cfg.ConfigPath, "config", "", "Path to benchmark matrix YAML (flags override file values)")
	flag.StringVar(&cfg.ResultsPath, "results", "results.jsonl", "Path to the append-only JSONL results file")
	flag.BoolVar(&cfg.EchoResults, "echo-results", false, "Also write result records to stdout for piping into external collectors")

	flag.StringVar(&cfg.MongoURI, "mongo", "", "MongoDB connection string (enables the document-store backend)")
	flag.StringVar(&cfg.DocumentDBURI, "documentdb", "", "DocumentDB/FerretDB gateway connection string (enables the gateway backend)")
	flag.StringVar(&cfg.PgConnStr, "pg", "", "PostgreSQL connection string (enables the relational backend)")
	flag.StringVar(&cfg.YugabyteURI, "yugabyte", "", "YugabyteDB connection string (enables the distributed SQL backend)")
	flag.StringVar(&cfg.CockroachURI, "cockroach", "", "CockroachDB connection string (enables the distributed SQL backend)")
	flag.StringVar(&cfg.OracleConnStr, "oracle", "", "Oracle connection string (enables the duality-view backend)")
	flag.BoolVar(&cfg.OracleDirect, "oracle-direct", false, "Bypass the duality view and write base tables directly")
	flag.StringVar(&cfg.JSONStorage, "json-storage", "jsonb", "Relational document column type: jsonb or json")

	flag.StringVar(&cfg.PayloadSizes, "sizes", "100,1000,10000", "Payload sizes in bytes, comma-separated")
	flag.IntVar(&cfg.NumAttrs, "attrs", 4, "Number of attributes the payload is split across")
	flag.BoolVar(&cfg.SplitPayload, "split", false, "Split the payload across attrs attributes")
	flag.IntVar(&cfg.BatchSize, "batch", 1000, "Insert batch size")
	flag.IntVar(&cfg.DocCount, "docs", 10000, "Number of documents per test configuration")
	flag.IntVar(&cfg.Repetitions, "reps", 3, "Repetitions per configuration; the minimum time is kept")
	flag.IntVar(&cfg.QueryLinks, "links", 8, "Target ids sampled per document for query workloads")
	flag.StringVar(&cfg.IndexMode, "index-mode", "nonindexed", "Index mode: indexed, nonindexed or both")
	flag.StringVar(&cfg.QueryMode, "query", "none", "Query workload: none, containment, in or join")
	flag.BoolVar(&cfg.Realistic, "realistic", false, "Use the nested realistic-data template instead of flat payloads")
	flag.BoolVar(&cfg.Validate, "validate", false, "Validate counts and re-read a document sample after insertion")
	flag.BoolVar(&cfg.Latency, "latency", false, "Collect per-operation latency percentiles")
	flag.Int64Var(&cfg.Seed, "seed", 1, "Corpus random seed")

	flag.Parse()

	cfg.set = make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { cfg.set[f.Name] = true })
	return cfg
}

func (c cliConfig) flagSet(name string) bool { return c.set[name] }

func (c cliConfig) parseSizes() ([]int, error) {
	parts := strings.Split(c.PayloadSizes, ",")
	sizes := make([]int, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("invalid payload size %q: %w", p, err)
		}
		if v < 0 {
			return nil, fmt.Errorf("payload size must be non-negative, got %d", v)
		}
		sizes = append(sizes, v)
	}
	return sizes, nil
}

func (c cliConfig) parseIndexModes() ([]config.IndexMode, error) {
	switch c.IndexMode {
	case "indexed":
		return []config.IndexMode{config.Indexed}, nil
	case "nonindexed":
		return []config.IndexMode{config.NonIndexed}, nil
	case "both":
		// Non-indexed first so the indexed pass never warms its cache.
		return []config.IndexMode{config.NonIndexed, config.Indexed}, nil
	default:
		return nil, fmt.Errorf("unknown index mode %q", c.IndexMode)
	}
}

// resolve builds the benchmark matrix: YAML file first when given, then flag
// values layered on top.
func (c cliConfig) resolve() (*config.Config, error) {
	var cfg config.Config
	if c.ConfigPath != "" {
		loaded, err := config.LoadFromFile(c.ConfigPath)
		if err != nil {
			return nil, err
		}
		cfg = *loaded
		if err := c.overlayFlags(&cfg); err != nil {
			return nil, err
		}
	} else {
		cfg = config.Defaults()

		sizes, err := c.parseSizes()
		if err != nil {
			return nil, err
		}
		modes, err := c.parseIndexModes()
		if err != nil {
			return nil, err
		}

		cfg.PayloadSizes = sizes
		cfg.NumAttrs = c.NumAttrs
		cfg.SplitPayload = c.SplitPayload
		cfg.BatchSize = c.BatchSize
		cfg.DocCount = c.DocCount
		cfg.Repetitions = c.Repetitions
		cfg.QueryLinks = c.QueryLinks
		cfg.IndexModes = modes
		cfg.QueryMode = config.QueryMode(c.QueryMode)
		cfg.Realistic = c.Realistic
		cfg.Validate = c.Validate
		cfg.CollectLatency = c.Latency
		cfg.Seed = c.Seed
	}

	cfg.Targets = append(cfg.Targets, c.targets()...)

	if err := cfg.CheckValid(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// overlayFlags applies only the explicitly-passed workload flags on top of a
// loaded matrix file.
func (c cliConfig) overlayFlags(cfg *config.Config) error {
	if c.flagSet("sizes") {
		sizes, err := c.parseSizes()
		if err != nil {
			return err
		}
		cfg.PayloadSizes = sizes
	}
	if c.flagSet("index-mode") {
		modes, err := c.parseIndexModes()
		if err != nil {
			return err
		}
		cfg.IndexModes = modes
	}
	if c.flagSet("attrs") {
		cfg.NumAttrs = c.NumAttrs
	}
	if c.flagSet("split") {
		cfg.SplitPayload = c.SplitPayload
	}
	if c.flagSet("batch") {
		cfg.BatchSize = c.BatchSize
	}
	if c.flagSet("docs") {
		cfg.DocCount = c.DocCount
	}
	if c.flagSet("reps") {
		cfg.Repetitions = c.Repetitions
	}
	if c.flagSet("links") {
		cfg.QueryLinks = c.QueryLinks
	}
	if c.flagSet("query") {
		cfg.QueryMode = config.QueryMode(c.QueryMode)
	}
	if c.flagSet("realistic") {
		cfg.Realistic = c.Realistic
	}
	if c.flagSet("validate") {
		cfg.Validate = c.Validate
	}
	if c.flagSet("latency") {
		cfg.CollectLatency = c.Latency
	}
	if c.flagSet("seed") {
		cfg.Seed = c.Seed
	}
	return nil
}

func (c cliConfig) targets() []config.Target {
	var targets []config.Target
	if c.MongoURI != "" {
		targets = append(targets, config.Target{Kind: "mongo", URI: c.MongoURI})
	}
	if c.DocumentDBURI != "" {
		targets = append(targets, config.Target{Kind: "documentdb", URI: c.DocumentDBURI})
	}
	if c.PgConnStr != "" {
		targets = append(targets, config.Target{Kind: "postgres", URI: c.PgConnStr, JSONStorage: c.JSONStorage})
	}
	if c.YugabyteURI != "" {
		targets = append(targets, config.Target{Kind: "yugabyte", URI: c.YugabyteURI, JSONStorage: c.JSONStorage})
	}
	if c.CockroachURI != "" {
		targets = append(targets, config.Target{Kind: "cockroach", URI: c.CockroachURI, JSONStorage: c.JSONStorage})
	}
	if c.OracleConnStr != "" {
		targets = append(targets, config.Target{Kind: "oracle", URI: c.OracleConnStr, DirectWrite: c.OracleDirect})
	}
	return targets
}
