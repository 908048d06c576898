package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/docbench/docbench/internal/backend/factory"
	"github.com/docbench/docbench/internal/report"
	"github.com/docbench/docbench/internal/runner"
	"github.com/docbench/docbench/pkg/config/env"
)

func main() {
	cli := parseFlags()

	if err := env.LoadDotEnv(os.Getenv("APP_ENV"), ".env"); err != nil {
		slog.Debug("No .env file loaded", "error", err)
	}

	cfg, err := cli.resolve()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	fileSink, err := report.NewJSONLSink(cli.ResultsPath)
	if err != nil {
		slog.Error("Failed to open results sink", "path", cli.ResultsPath, "error", err)
		os.Exit(1)
	}
	var sink report.Sink = fileSink
	if cli.EchoResults {
		sink = report.MultiSink{fileSink, report.NewJSONLWriterSink(os.Stdout)}
	}
	defer sink.Close()

	slog.Info("Starting benchmark matrix",
		"backends", len(cfg.Targets),
		"payload_sizes", cfg.PayloadSizes,
		"index_modes", cfg.IndexModes,
		"repetitions", cfg.Repetitions,
	)

	ctx := context.Background()
	r := runner.New(*cfg, factory.Open, sink)

	results, err := r.Run(ctx)
	if err != nil {
		slog.Error("Benchmark run failed", "error", err)
		os.Exit(1)
	}

	report.WriteTable(results, os.Stdout)

	succeeded := 0
	for _, result := range results {
		if result.Success {
			succeeded++
		}
	}
	slog.Info("Benchmark matrix finished", "results", len(results), "succeeded", succeeded)

	if succeeded == 0 {
		os.Exit(1)
	}
}
