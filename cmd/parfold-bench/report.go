package main

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Report is the JSON document written with --report.
type Report struct {
	RunID        string    `json:"run_id"`
	StartedAt    time.Time `json:"started_at"`
	Backend      string    `json:"backend"`
	MaxGroupSize int       `json:"max_group_size"`
	SimdWidth    int       `json:"simd_width"`
	Tolerance    float64   `json:"tolerance"`
	Results      []Result  `json:"results"`
}

// Result is one (size, mode) measurement averaged over the run count.
type Result struct {
	Size        int     `json:"size"`
	Mode        string  `json:"mode"`
	Runs        int     `json:"runs"`
	AvgNanos    int64   `json:"avg_nanos"`
	CPUAvgNanos int64   `json:"cpu_avg_nanos"`
	MaxAbsError float64 `json:"max_abs_error"`
}

func newReport(backend string, maxGroupSize, simdWidth int, tolerance float64) *Report {
	return &Report{
		RunID:        uuid.NewString(),
		StartedAt:    time.Now().UTC(),
		Backend:      backend,
		MaxGroupSize: maxGroupSize,
		SimdWidth:    simdWidth,
		Tolerance:    tolerance,
	}
}

func (r *Report) write(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
