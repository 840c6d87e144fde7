package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Suite describes one benchmark run: which sizes and modes to measure,
// how often, and how strictly to verify against the CPU sum.
type Suite struct {
	Sizes     []int    `yaml:"sizes"`
	Modes     []string `yaml:"modes"`
	Runs      int      `yaml:"runs"`
	Warmup    int      `yaml:"warmup"`
	Tolerance float64  `yaml:"tolerance"`
}

func defaultSuite() Suite {
	return Suite{
		Sizes:  []int{32 * 1024, 256 * 1024, 1024 * 1024, 4*1024*1024 - 4096, 4 * 1024 * 1024},
		Modes:  []string{"barrier", "simd", "hybrid", "pointerjump"},
		Runs:   10,
		Warmup: 1,
		// zero means backend default: 1e-7 on the f64 simulator, wider
		// on the f32 GPU path
		Tolerance: 0,
	}
}

func loadSuite(path string) (Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Suite{}, fmt.Errorf("reading %s: %w", path, err)
	}
	var s Suite
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Suite{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	return s, nil
}

// merge overlays the non-zero fields of other onto s.
func (s Suite) merge(other Suite) Suite {
	if len(other.Sizes) > 0 {
		s.Sizes = other.Sizes
	}
	if len(other.Modes) > 0 {
		s.Modes = other.Modes
	}
	if other.Runs > 0 {
		s.Runs = other.Runs
	}
	if other.Warmup > 0 {
		s.Warmup = other.Warmup
	}
	if other.Tolerance > 0 {
		s.Tolerance = other.Tolerance
	}
	return s
}
