package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docbench/docbench/internal/config"
)

func writeMatrixFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "matrix.yaml")
	matrix := `
payload_sizes: [100]
batch_size: 500
repetitions: 2
targets:
  - kind: mongo
    uri: mongodb://localhost:27017
`
	require.NoError(t, os.WriteFile(path, []byte(matrix), 0o644))
	return path
}

func TestResolveFileValuesSurviveUnsetFlags(t *testing.T) {
	cli := cliConfig{
		ConfigPath:  writeMatrixFile(t),
		Repetitions: 9,
		BatchSize:   77,
		set:         map[string]bool{},
	}

	cfg, err := cli.resolve()
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Repetitions)
	assert.Equal(t, 500, cfg.BatchSize)
	assert.Equal(t, []int{100}, cfg.PayloadSizes)
}

func TestResolveExplicitFlagsOverrideFile(t *testing.T) {
	cli := cliConfig{
		ConfigPath:   writeMatrixFile(t),
		Repetitions:  9,
		BatchSize:    77,
		PayloadSizes: "1000,10000",
		IndexMode:    "both",
		set: map[string]bool{
			"reps":       true,
			"batch":      true,
			"sizes":      true,
			"index-mode": true,
		},
	}

	cfg, err := cli.resolve()
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Repetitions)
	assert.Equal(t, 77, cfg.BatchSize)
	assert.Equal(t, []int{1000, 10000}, cfg.PayloadSizes)
	assert.Equal(t, []config.IndexMode{config.NonIndexed, config.Indexed}, cfg.IndexModes)
}

func TestResolveFlagsOnlyWithoutFile(t *testing.T) {
	cli := cliConfig{
		PayloadSizes: "100",
		NumAttrs:     4,
		BatchSize:    100,
		DocCount:     1000,
		Repetitions:  1,
		QueryLinks:   8,
		IndexMode:    "nonindexed",
		QueryMode:    "none",
		MongoURI:     "mongodb://localhost:27017",
		set:          map[string]bool{},
	}

	cfg, err := cli.resolve()
	require.NoError(t, err)
	require.Len(t, cfg.Targets, 1)
	assert.Equal(t, "mongo", cfg.Targets[0].Kind)
	assert.Equal(t, 1, cfg.Repetitions)
}
