package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"path/filepath"
	"slices"
	"strconv"

	"github.com/spf13/cobra"

	"schedgraph/internal/config"
	"schedgraph/internal/progress"
	"schedgraph/internal/sched"
	"schedgraph/internal/spangraph"
	"schedgraph/internal/tracedb"
)

type buildOptions struct {
	configPath      string
	workers         int
	ignoreIRQWakers bool
	validate        bool
	verbose         bool
}

func newBuildCmd() *cobra.Command {
	var opts buildOptions
	cmd := &cobra.Command{
		Use:   "build <trace.db> <spans.db>",
		Short: "Derive executing spans and their waker graph from a trace database",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("workers") {
				cfg.Workers = opts.workers
			}
			if flags.Changed("ignore-irq-wakers") {
				cfg.IgnoreIRQWakers = opts.ignoreIRQWakers
			}
			if flags.Changed("validate") {
				cfg.Validate = opts.validate
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runBuild(cmd.Context(), args[0], args[1], cfg, opts.verbose, cmd.ErrOrStderr())
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.configPath, "config", "", "YAML configuration file")
	f.IntVar(&opts.workers, "workers", 0, "Threads normalized concurrently (0 = GOMAXPROCS)")
	f.BoolVar(&opts.ignoreIRQWakers, "ignore-irq-wakers", false, "Do not link spans to wakers that fired from interrupt context")
	f.BoolVar(&opts.validate, "validate", false, "Run validation queries after write")
	f.BoolVar(&opts.verbose, "verbose", false, "Print detailed progress")
	return cmd
}

func runBuild(ctx context.Context, tracePath, outputPath string, cfg config.Config, verbose bool, stderr io.Writer) error {
	level := cfg.SlogLevel()
	if verbose {
		level = slog.LevelDebug
	}
	prog := progress.NewWriter(stderr, verbose, progress.NewLogger(stderr, level))

	// Phase 1: Read decoded records
	in, err := tracedb.ReadTrace(ctx, tracePath, prog)
	if err != nil {
		return err
	}

	// Phase 2: Intervals, spans, waker links, spurious wakeups
	prog.Log("Building executing spans...")
	opts := sched.Options{Workers: cfg.Workers, IgnoreIRQWakers: cfg.IgnoreIRQWakers}
	tr, err := sched.Build(ctx, in, opts)
	if err != nil {
		return fmt.Errorf("build spans: %w", err)
	}
	prog.Log("Built %s thread states, %s spans, %s spurious wakeups",
		progress.Count(len(tr.Intervals)), progress.Count(len(tr.Spans)), progress.Count(len(tr.Spurious)))
	reportDiagnostics(prog.Logger(), tr.Diagnostics)

	// Phase 3: Waker forest
	forest, err := spangraph.New(tr.Spans)
	if err != nil {
		return err
	}
	sum := forest.Summarize()
	prog.Verbose("Forest: %s roots, %s leaves, max depth %d, max height %d",
		progress.Count(sum.Roots), progress.Count(sum.Leaves), sum.MaxDepth, sum.MaxHeight)

	// Phase 4: Write SQLite
	source := sourcePath(tracePath)
	runID, err := tracedb.WriteDB(outputPath, tracedb.Output{
		Trace:  tr,
		Forest: forest,
		Meta: map[string]string{
			"generator":         "schedgraph",
			"source":            source,
			"workers":           strconv.Itoa(cfg.Workers),
			"ignore_irq_wakers": strconv.FormatBool(cfg.IgnoreIRQWakers),
		},
	}, cfg.Validate, prog)
	if err != nil {
		return err
	}

	prog.Log("Done. run %s: %s spans, %s edges.", runID, progress.Count(sum.Spans), progress.Count(sum.Edges))
	return nil
}

// reportDiagnostics warns once per non-zero counter, in name order.
func reportDiagnostics(log *slog.Logger, d sched.Diagnostics) {
	counters := d.Map()
	for _, k := range slices.Sorted(maps.Keys(counters)) {
		if v := counters[k]; v > 0 {
			log.Warn("input normalized", "counter", k, "count", v)
		}
	}
}

func sourcePath(tracePath string) string {
	abs, err := filepath.Abs(tracePath)
	if err != nil {
		return tracePath
	}
	return abs
}
