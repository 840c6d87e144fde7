// Command parfold-bench measures the parallel-reduction engine across
// input sizes and sync modes, verifying every device result against a
// sequential CPU sum.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/parfold/parfold/internal/logger"
)

func main() {
	cmd := benchCmd()
	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func benchCmd() *cli.Command {
	var (
		backend    string
		sizesFlag  string
		modesFlag  string
		runs       int64
		warmup     int64
		tolerance  float64
		seed       int64
		configPath string
		reportPath string
		verbose    bool
	)

	return &cli.Command{
		Name:  "parfold-bench",
		Usage: "Benchmark and verify the parallel-reduction engine",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "backend",
				Usage:       "device backend: webgpu, sim, or auto",
				Value:       "auto",
				Destination: &backend,
			},
			&cli.StringFlag{
				Name:        "sizes",
				Usage:       "comma-separated input sizes",
				Destination: &sizesFlag,
			},
			&cli.StringFlag{
				Name:        "modes",
				Usage:       "comma-separated modes: barrier, simd, hybrid, pointerjump",
				Destination: &modesFlag,
			},
			&cli.Int64Flag{
				Name:        "runs",
				Usage:       "measured runs per size",
				Value:       0,
				Destination: &runs,
			},
			&cli.Int64Flag{
				Name:        "warmup",
				Usage:       "warmup runs per size",
				Value:       0,
				Destination: &warmup,
			},
			&cli.Float64Flag{
				Name:        "tolerance",
				Usage:       "absolute tolerance against the CPU sum (0 = backend default)",
				Destination: &tolerance,
			},
			&cli.Int64Flag{
				Name:        "seed",
				Usage:       "random seed for input generation",
				Value:       42,
				Destination: &seed,
			},
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "YAML suite file overriding sizes/modes/runs",
				Destination: &configPath,
			},
			&cli.StringFlag{
				Name:        "report",
				Aliases:     []string{"o"},
				Usage:       "write a JSON report to this path",
				Destination: &reportPath,
			},
			&cli.BoolFlag{
				Name:        "verbose",
				Aliases:     []string{"v"},
				Usage:       "debug logging",
				Destination: &verbose,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			log := logger.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

			suite := defaultSuite()
			if configPath != "" {
				loaded, err := loadSuite(configPath)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: load suite: %v", err), 1)
				}
				suite = suite.merge(loaded)
			}
			if sizesFlag != "" {
				sizes, err := parseSizes(sizesFlag)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
				suite.Sizes = sizes
			}
			if modesFlag != "" {
				suite.Modes = strings.Split(modesFlag, ",")
			}
			if runs > 0 {
				suite.Runs = int(runs)
			}
			if warmup > 0 {
				suite.Warmup = int(warmup)
			}
			if tolerance > 0 {
				suite.Tolerance = tolerance
			}

			return runBench(ctx, benchOptions{
				backend:    backend,
				suite:      suite,
				seed:       seed,
				reportPath: reportPath,
				log:        log,
			})
		},
	}
}

func parseSizes(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	sizes := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid size %q", p)
		}
		sizes = append(sizes, n)
	}
	return sizes, nil
}
