package main

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"time"

	"github.com/parfold/parfold/internal/device"
	"github.com/parfold/parfold/internal/device/sim"
	"github.com/parfold/parfold/internal/device/webgpu"
	"github.com/parfold/parfold/internal/logger"
	"github.com/parfold/parfold/internal/pointerjump"
	"github.com/parfold/parfold/internal/reduce"
)

type benchOptions struct {
	backend    string
	suite      Suite
	seed       int64
	reportPath string
	log        logger.Logger
}

// reducer is the common surface of the halving and pointer-jumping
// engines.
type reducer interface {
	Reduce(values []float64) (float64, error)
	Close()
}

func resolveBackend(name string, log logger.Logger) (device.Runtime, string, error) {
	switch name {
	case "webgpu":
		rt, err := webgpu.New()
		if err != nil {
			return nil, "", err
		}
		return rt, rt.Name(), nil
	case "sim":
		return sim.New(), "sim", nil
	case "auto":
		if webgpu.IsAvailable() {
			rt, err := webgpu.New()
			if err == nil {
				return rt, rt.Name(), nil
			}
			log.Warn("webgpu unavailable, using simulator", "err", err)
		} else {
			log.Warn("webgpu unavailable, using simulator")
		}
		return sim.New(), "sim", nil
	default:
		return nil, "", fmt.Errorf("unknown backend %q", name)
	}
}

func buildEngines(rt device.Runtime, modes []string, log logger.Logger) (map[string]reducer, error) {
	engines := make(map[string]reducer, len(modes))
	closeAll := func() {
		for _, e := range engines {
			e.Close()
		}
	}
	for _, name := range modes {
		if name == "pointerjump" {
			e, err := pointerjump.New(rt)
			if err != nil {
				closeAll()
				return nil, err
			}
			engines[name] = e
			continue
		}
		mode, err := reduce.ParseSyncMode(name)
		if err != nil {
			closeAll()
			return nil, err
		}
		e, err := reduce.New(rt, mode, reduce.WithLogger(log))
		if err != nil {
			closeAll()
			return nil, err
		}
		engines[name] = e
	}
	return engines, nil
}

func runBench(ctx context.Context, opts benchOptions) error {
	rt, backendName, err := resolveBackend(opts.backend, opts.log)
	if err != nil {
		return err
	}
	caps := rt.Capabilities()
	suite := opts.suite

	tolerance := suite.Tolerance
	if tolerance == 0 {
		if backendName == "sim" {
			tolerance = 1e-7
		} else {
			// the GPU path computes in f32
			tolerance = 1e-2
		}
	}

	fmt.Println("=== parfold benchmark ===")
	fmt.Printf("Backend:      %s\n", backendName)
	fmt.Printf("MaxGroupSize: %d\n", caps.MaxGroupSize)
	fmt.Printf("SimdWidth:    %d\n", caps.SimdWidth)
	fmt.Printf("CPUs:         %d (GOMAXPROCS %d)\n", runtime.NumCPU(), runtime.GOMAXPROCS(0))
	fmt.Printf("Runs:         %d (+%d warmup), tolerance %g\n", suite.Runs, suite.Warmup, tolerance)
	fmt.Println()

	engines, err := buildEngines(rt, suite.Modes, opts.log)
	if err != nil {
		return err
	}
	defer func() {
		for _, e := range engines {
			e.Close()
		}
	}()

	report := newReport(backendName, caps.MaxGroupSize, caps.SimdWidth, tolerance)
	rng := rand.New(rand.NewSource(opts.seed))

	for _, size := range suite.Sizes {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := measureSize(rng, size, suite, engines, tolerance, report); err != nil {
			return err
		}
	}

	if opts.reportPath != "" {
		if err := report.write(opts.reportPath); err != nil {
			return err
		}
		opts.log.Info("report written", "path", opts.reportPath, "run_id", report.RunID)
	}
	return nil
}

func measureSize(rng *rand.Rand, size int, suite Suite, engines map[string]reducer, tolerance float64, report *Report) error {
	if size%(1024*1024) == 0 {
		fmt.Printf("%dM elements, %d runs:\n", size/1024/1024, suite.Runs)
	} else {
		fmt.Printf("%dk elements, %d runs:\n", size/1024, suite.Runs)
	}

	totals := make(map[string]time.Duration, len(suite.Modes))
	maxErr := make(map[string]float64, len(suite.Modes))
	var cpuTotal time.Duration

	input := make([]float64, size)
	for run := 0; run < suite.Warmup+suite.Runs; run++ {
		warmup := run < suite.Warmup
		for i := range input {
			input[i] = rng.Float64() - 0.5
		}

		start := time.Now()
		expected := 0.0
		for _, v := range input {
			expected += v
		}
		if !warmup {
			cpuTotal += time.Since(start)
		}

		for _, mode := range suite.Modes {
			start := time.Now()
			got, err := engines[mode].Reduce(input)
			if err != nil {
				return fmt.Errorf("%s reduction of %d elements: %w", mode, size, err)
			}
			elapsed := time.Since(start)

			diff := math.Abs(got - expected)
			if diff > tolerance {
				return fmt.Errorf("wrong result for mode %s, size %d: expected %v, got %v (diff %g > %g)",
					mode, size, expected, got, diff, tolerance)
			}
			if !warmup {
				totals[mode] += elapsed
				maxErr[mode] = max(maxErr[mode], diff)
			}
		}
		fmt.Print(".")
	}
	fmt.Println()

	for _, mode := range suite.Modes {
		avg := totals[mode] / time.Duration(suite.Runs)
		fmt.Printf("%12s average: %12s  (max err %.3g)\n", mode, avg, maxErr[mode])
		report.Results = append(report.Results, Result{
			Size:        size,
			Mode:        mode,
			Runs:        suite.Runs,
			AvgNanos:    avg.Nanoseconds(),
			CPUAvgNanos: (cpuTotal / time.Duration(suite.Runs)).Nanoseconds(),
			MaxAbsError: maxErr[mode],
		})
	}
	fmt.Printf("%12s average: %12s\n\n", "cpu", cpuTotal/time.Duration(suite.Runs))
	return nil
}
