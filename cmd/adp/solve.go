package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/signalsfoundry/occupancy-adp/core"
	"github.com/signalsfoundry/occupancy-adp/internal/config"
	"github.com/signalsfoundry/occupancy-adp/internal/logging"
	"github.com/signalsfoundry/occupancy-adp/internal/observability"
	"github.com/signalsfoundry/occupancy-adp/internal/report"
	"github.com/signalsfoundry/occupancy-adp/kb"
	"github.com/signalsfoundry/occupancy-adp/model"
	"github.com/spf13/cobra"
)

type solveFlags struct {
	configPath  string
	out         string
	noExport    bool
	label       string
	archive     string
	absorption  string
	parallelism int
	showPath    bool
	metricsOut  string
}

func newSolveCmd(a *app) *cobra.Command {
	f := &solveFlags{}
	cmd := &cobra.Command{
		Use:   "solve",
		Short: "Run the forward recursion on a problem file and export the policy",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSolve(cmd, a, f)
		},
	}
	addProblemFlags(cmd, &f.configPath, &f.absorption, &f.parallelism)
	cmd.Flags().StringVarP(&f.out, "out", "o", "", `policy export path (.csv or .xlsx); defaults to "<scenarios>-<stages>.xlsx"`)
	cmd.Flags().BoolVar(&f.noExport, "no-export", false, "skip writing the policy file")
	cmd.Flags().StringVar(&f.label, "label", "", "label stored with the archived run")
	cmd.Flags().StringVar(&f.archive, "archive", "", "run archive directory; overrides archive.path")
	cmd.Flags().BoolVar(&f.showPath, "path", false, "print the optimal path stage by stage")
	cmd.Flags().StringVar(&f.metricsOut, "metrics-out", "", "write solver metrics to this file in Prometheus text format")
	return cmd
}

func addProblemFlags(cmd *cobra.Command, configPath, absorption *string, parallelism *int) {
	cmd.Flags().StringVarP(configPath, "config", "c", "", "problem file (yaml, json or toml)")
	cmd.Flags().StringVar(absorption, "absorption", "", "absorption accounting (incremental or cumulative); overrides solver.absorption")
	cmd.Flags().IntVar(parallelism, "parallelism", 0, "scenario fan-out; overrides solver.parallelism")
	_ = cmd.MarkFlagRequired("config")
}

// loadProblem reads the problem file and applies command-line overrides.
func loadProblem(cmd *cobra.Command, configPath, absorption string, parallelism int) (*config.File, *model.Problem, error) {
	file, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if cmd.Flags().Changed("absorption") {
		file.Solver.Absorption = absorption
	}
	if cmd.Flags().Changed("parallelism") {
		file.Solver.Parallelism = parallelism
	}
	if err := config.Validate(file); err != nil {
		return nil, nil, err
	}
	p, err := file.Problem()
	if err != nil {
		return nil, nil, err
	}
	return file, p, nil
}

func runSolve(cmd *cobra.Command, a *app, f *solveFlags) error {
	file, p, err := loadProblem(cmd, f.configPath, f.absorption, f.parallelism)
	if err != nil {
		return err
	}
	opts, err := file.EngineOptions()
	if err != nil {
		return err
	}
	absorption, _ := core.ParseAbsorption(file.Solver.Absorption)

	ctx, log := logging.WithRunLogger(cmd.Context(), a.log)
	runID := logging.RunIDFromContext(ctx)
	opts = append(opts, core.WithLogger(log))

	var reg *prometheus.Registry
	if f.metricsOut != "" {
		reg = prometheus.NewRegistry()
		collector, err := observability.NewSolverCollector(reg)
		if err != nil {
			return err
		}
		opts = append(opts, core.WithMetricsRecorder(collector))
	}

	engine, err := core.NewGraphEngine(p, opts...)
	if err != nil {
		return err
	}
	res, err := engine.Run(ctx)
	if err != nil {
		return err
	}
	if reg != nil {
		if err := prometheus.WriteToTextfile(f.metricsOut, reg); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
		log.Info(ctx, "solver metrics written", logging.String("path", f.metricsOut))
	}

	out := cmd.OutOrStdout()
	printResult(out, runID, p, res)
	if f.showPath && res.Feasible {
		fmt.Fprint(out, core.FormatPath(res.Path))
	}

	if !f.noExport && !res.Feasible {
		log.Warn(ctx, "policy not exported", logging.Err(core.ErrInfeasible))
	}
	if !f.noExport && res.Feasible {
		path := f.out
		if path == "" {
			path = report.DefaultFileName(p.NumScenarios(), p.NumStages, "xlsx")
		}
		summary := report.Summary{
			RunID:     runID,
			Objective: res.Objective,
			Feasible:  res.Feasible,
			Elapsed:   res.Elapsed,
			Scenarios: p.NumScenarios(),
			Stages:    p.NumStages,
		}
		if err := report.WriteFile(path, res.PolicyMatrix, summary); err != nil {
			return fmt.Errorf("export policy: %w", err)
		}
		log.Info(ctx, "policy exported", logging.String("path", path))
		fmt.Fprintf(out, "policy written to %s\n", path)
	}

	archivePath := file.ArchivePath()
	if cmd.Flags().Changed("archive") {
		archivePath = f.archive
	}
	if archivePath == "" {
		return nil
	}
	label := f.label
	if label == "" {
		label = file.Name
	}
	if label == "" {
		label = filepath.Base(f.configPath)
	}
	rec := kb.NewRunRecord(runID, time.Now(), p, absorption, res)
	rec.Label = label
	return archiveRun(ctx, archivePath, log, rec)
}

func archiveRun(ctx context.Context, path string, log logging.Logger, rec kb.RunRecord) error {
	store, err := kb.OpenBadgerStore(kb.BadgerConfig{Path: path, SyncWrites: true, Logger: log})
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Put(ctx, rec); err != nil {
		return err
	}
	log.Info(ctx, "run archived", logging.String("archive", path))
	return nil
}

func printResult(w io.Writer, runID string, p *model.Problem, res *core.Result) {
	fmt.Fprintf(w, "run:        %s\n", runID)
	fmt.Fprintf(w, "instance:   %d states, %d stages, %d scenarios\n", p.NonAbsorbing(), p.NumStages, p.NumScenarios())
	fmt.Fprintf(w, "feasible:   %t\n", res.Feasible)
	fmt.Fprintf(w, "objective:  %.6f\n", res.Objective)
	fmt.Fprintf(w, "elapsed:    %s\n", res.Elapsed)
}
