package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSuite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "suite.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
sizes: [1024, 2048]
modes: [hybrid]
runs: 5
tolerance: 1e-6
`), 0o644))

	s, err := loadSuite(path)
	require.NoError(t, err)
	assert.Equal(t, []int{1024, 2048}, s.Sizes)
	assert.Equal(t, []string{"hybrid"}, s.Modes)
	assert.Equal(t, 5, s.Runs)
	assert.InDelta(t, 1e-6, s.Tolerance, 0)

	_, err = loadSuite(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestSuiteMerge(t *testing.T) {
	base := defaultSuite()
	merged := base.merge(Suite{Runs: 3, Modes: []string{"simd"}})

	assert.Equal(t, 3, merged.Runs)
	assert.Equal(t, []string{"simd"}, merged.Modes)
	assert.Equal(t, base.Sizes, merged.Sizes, "unset fields keep defaults")
	assert.Equal(t, base.Warmup, merged.Warmup)
}

func TestParseSizes(t *testing.T) {
	sizes, err := parseSizes("1024, 65536,1")
	require.NoError(t, err)
	assert.Equal(t, []int{1024, 65536, 1}, sizes)

	_, err = parseSizes("12,zero")
	assert.Error(t, err)
	_, err = parseSizes("0")
	assert.Error(t, err)
}
