package main

import (
	"fmt"
	"math"

	"github.com/signalsfoundry/occupancy-adp/core"
	"github.com/signalsfoundry/occupancy-adp/internal/benchmark"
	"github.com/signalsfoundry/occupancy-adp/internal/logging"
	"github.com/spf13/cobra"
)

type benchmarkFlags struct {
	configPath  string
	absorption  string
	parallelism int
	limit       int64
	workers     int
}

func newBenchmarkCmd(a *app) *cobra.Command {
	f := &benchmarkFlags{}
	cmd := &cobra.Command{
		Use:   "benchmark",
		Short: "Compare the ADP policy with the exhaustive optimum",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBenchmark(cmd, a, f)
		},
	}
	addProblemFlags(cmd, &f.configPath, &f.absorption, &f.parallelism)
	cmd.Flags().Int64Var(&f.limit, "limit", 0, "maximum number of policy sequences to enumerate; overrides solver.benchmark_limit")
	cmd.Flags().IntVar(&f.workers, "workers", 0, "enumeration workers; defaults to GOMAXPROCS")
	return cmd
}

func runBenchmark(cmd *cobra.Command, a *app, f *benchmarkFlags) error {
	file, p, err := loadProblem(cmd, f.configPath, f.absorption, f.parallelism)
	if err != nil {
		return err
	}
	opts, err := file.EngineOptions()
	if err != nil {
		return err
	}
	ctx, log := logging.WithRunLogger(cmd.Context(), a.log)

	engine, err := core.NewGraphEngine(p, append(opts, core.WithLogger(log))...)
	if err != nil {
		return err
	}
	approx, err := engine.Run(ctx)
	if err != nil {
		return err
	}

	limit := f.limit
	if !cmd.Flags().Changed("limit") {
		limit = int64(file.Solver.BenchmarkLimit)
	}
	exact, err := benchmark.Solve(ctx, p, benchmark.Options{
		Limit:   limit,
		Workers: f.workers,
		Engine:  opts,
		Logger:  log,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "adp:        objective %.6f feasible %t in %s\n", approx.Objective, approx.Feasible, approx.Elapsed)
	fmt.Fprintf(out, "exhaustive: objective %.6f feasible %t in %s (%d sequences, %d feasible)\n",
		exact.Objective, exact.Feasible, exact.Elapsed, exact.Evaluated, exact.FeasibleSequences)

	abs, rel := benchmark.Gap(approx.Objective, exact.Objective)
	if math.IsNaN(rel) {
		fmt.Fprintf(out, "gap:        %.6f\n", abs)
	} else {
		fmt.Fprintf(out, "gap:        %.6f (%.4f%%)\n", abs, 100*rel)
	}
	log.Info(ctx, "benchmark complete",
		logging.Float64("adp_objective", approx.Objective),
		logging.Float64("exact_objective", exact.Objective),
		logging.Float64("gap", abs),
	)
	return nil
}
