package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/signalsfoundry/occupancy-adp/internal/logging"
	"github.com/signalsfoundry/occupancy-adp/internal/observability"
	"github.com/signalsfoundry/occupancy-adp/internal/report"
	"github.com/signalsfoundry/occupancy-adp/internal/rpc"
	"github.com/signalsfoundry/occupancy-adp/kb"
)

// Identity dynamics: controlling state 0 and leaving state 1 alone is
// optimal at every stage, for an objective of 6.5.
const identityScenarios = `{"scenarios":[{"name":"identity","P":[[[1,0],[1,0]],[[0,1],[0,1]]],"Q":[[0,0],[0,0]],"r":[[1,3],[2,0]]}]}`

const identityProblem = `
name: identity
population: 100
capacity: [1000000000, 1000000000]
priors: [0.5, 0.5]
scenarios:
  file: scenarios.json
`

func writeProblem(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "scenarios.json"), []byte(identityScenarios), 0o644); err != nil {
		t.Fatalf("write scenarios: %v", err)
	}
	path := filepath.Join(dir, "problem.yaml")
	if err := os.WriteFile(path, []byte(identityProblem), 0o644); err != nil {
		t.Fatalf("write problem: %v", err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSolveExportsAndArchives(t *testing.T) {
	problem := writeProblem(t)
	dir := t.TempDir()
	policyPath := filepath.Join(dir, "policy.csv")
	archive := filepath.Join(dir, "runs")

	out, err := execute(t, "solve", "-c", problem, "-o", policyPath, "--archive", archive, "--path")
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	if !strings.Contains(out, "objective:  6.500000") || !strings.Contains(out, "feasible:   true") {
		t.Fatalf("unexpected solve output:\n%s", out)
	}
	if !strings.Contains(out, "time: 0---> 1-0") {
		t.Fatalf("expected formatted path in output:\n%s", out)
	}

	csv, err := os.ReadFile(policyPath)
	if err != nil {
		t.Fatalf("read policy: %v", err)
	}
	if got, want := string(csv), "State_0,State_1\n1,0\n1,0\n"; got != want {
		t.Fatalf("policy csv = %q, want %q", got, want)
	}

	out, err = execute(t, "runs", "list", "--archive", archive)
	if err != nil {
		t.Fatalf("runs list: %v", err)
	}
	if !strings.Contains(out, "identity") || !strings.Contains(out, "6.500000") {
		t.Fatalf("unexpected runs list:\n%s", out)
	}

	store, err := kb.OpenBadgerStore(kb.BadgerConfig{Path: archive})
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	runs, err := store.List(context.Background())
	store.Close()
	if err != nil || len(runs) != 1 {
		t.Fatalf("expected one archived run, got %d (%v)", len(runs), err)
	}
	id := runs[0].ID

	out, err = execute(t, "runs", "show", id, "--archive", archive)
	if err != nil {
		t.Fatalf("runs show: %v", err)
	}
	var rec kb.RunRecord
	if err := json.Unmarshal([]byte(out), &rec); err != nil {
		t.Fatalf("decode show output: %v\n%s", err, out)
	}
	if rec.ID != id || rec.Label != "identity" || rec.Absorption != "incremental" {
		t.Fatalf("unexpected record %+v", rec)
	}

	xlsxPath := filepath.Join(dir, "export.xlsx")
	if _, err := execute(t, "runs", "export", id, "--archive", archive, "-o", xlsxPath); err != nil {
		t.Fatalf("runs export: %v", err)
	}
	fh, err := os.Open(xlsxPath)
	if err != nil {
		t.Fatalf("open export: %v", err)
	}
	defer fh.Close()
	matrix, err := report.ReadXLSX(fh)
	if err != nil {
		t.Fatalf("ReadXLSX: %v", err)
	}
	if len(matrix) != 2 || matrix[1][0] != 1 || matrix[1][1] != 0 {
		t.Fatalf("unexpected exported matrix %v", matrix)
	}

	if _, err := execute(t, "runs", "delete", id, "--archive", archive); err != nil {
		t.Fatalf("runs delete: %v", err)
	}
	if _, err := execute(t, "runs", "show", id, "--archive", archive); err == nil {
		t.Fatalf("expected error showing a deleted run")
	}
}

func TestSolveWritesMetricsTextfile(t *testing.T) {
	problem := writeProblem(t)
	metricsPath := filepath.Join(t.TempDir(), "adp.prom")

	if _, err := execute(t, "solve", "-c", problem, "--no-export", "--metrics-out", metricsPath); err != nil {
		t.Fatalf("solve: %v", err)
	}
	raw, err := os.ReadFile(metricsPath)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	text := string(raw)
	for _, want := range []string{
		`adp_runs_total{outcome="feasible"} 1`,
		"adp_arcs_evaluated_total",
		"adp_last_objective 6.5",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("metrics textfile missing %q:\n%s", want, text)
		}
	}
}

func TestSolveRejectsBadOverrides(t *testing.T) {
	problem := writeProblem(t)
	if _, err := execute(t, "solve", "-c", problem, "--no-export", "--absorption", "sometimes"); err == nil {
		t.Fatalf("expected validation error for unknown absorption accounting")
	}
	if _, err := execute(t, "solve", "--no-export"); err == nil {
		t.Fatalf("expected error without --config")
	}
}

func TestBenchmarkReportsGap(t *testing.T) {
	problem := writeProblem(t)

	out, err := execute(t, "benchmark", "-c", problem, "--workers", "2")
	if err != nil {
		t.Fatalf("benchmark: %v", err)
	}
	if !strings.Contains(out, "exhaustive: objective 6.500000") || !strings.Contains(out, "16 sequences") {
		t.Fatalf("unexpected benchmark output:\n%s", out)
	}
	if !strings.Contains(out, "gap:") {
		t.Fatalf("expected gap line:\n%s", out)
	}

	if _, err := execute(t, "benchmark", "-c", problem, "--limit", "8"); err == nil {
		t.Fatalf("expected error when the sequence space exceeds --limit")
	}
}

func TestWatchArchiveCountsAndLogsEvents(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	metrics, err := observability.NewRPCCollector(reg)
	if err != nil {
		t.Fatalf("NewRPCCollector: %v", err)
	}
	var logs bytes.Buffer
	log := logging.New(logging.Config{Level: "info", Format: "json", Output: &logs})

	store := kb.NewKnowledgeBase()
	unsubscribe := watchArchive(ctx, store, log, metrics)
	if err := store.Put(ctx, kb.RunRecord{ID: "a", CreatedAt: time.Now(), Feasible: true}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := store.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	unsubscribe()
	if err := store.Put(ctx, kb.RunRecord{ID: "b", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if got := testutil.ToFloat64(metrics.ArchiveEvents.WithLabelValues("archived")); got != 1 {
		t.Fatalf("archived events = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.ArchiveEvents.WithLabelValues("deleted")); got != 1 {
		t.Fatalf("deleted events = %v, want 1", got)
	}
	if !strings.Contains(logs.String(), `"event":"archived","run_id":"a"`) || strings.Contains(logs.String(), `"run_id":"b"`) {
		t.Fatalf("unexpected archive log:\n%s", logs.String())
	}
}

func TestServerStartupSmoke(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	cfg := serveConfig{
		ListenAddress: lis.Addr().String(),
		ShutdownGrace: time.Second,
	}

	serveCtx, stop := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() {
		errCh <- runServer(serveCtx, cfg, logging.Noop(), lis)
	}()

	conn, err := rpc.Dial(cfg.ListenAddress)
	if err != nil {
		t.Fatalf("rpc.Dial: %v", err)
	}
	defer conn.Close()
	client := rpc.NewClient(conn)

	var scenarios struct {
		Scenarios []rpc.ScenarioPayload `json:"scenarios"`
	}
	if err := json.Unmarshal([]byte(identityScenarios), &scenarios); err != nil {
		t.Fatalf("decode scenarios: %v", err)
	}
	rec, err := client.Solve(rpc.WithRunID(ctx, "smoke"), &rpc.SolveRequest{
		Label:      "smoke",
		Population: 100,
		Capacity:   []float64{1e9, 1e9},
		Priors:     []float64{0.5, 0.5},
		Scenarios:  scenarios.Scenarios,
	})
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if rec.ID != "smoke" || !rec.Feasible {
		t.Fatalf("unexpected record %+v", rec)
	}

	out, err := execute(t, "runs", "list", "--server", cfg.ListenAddress)
	if err != nil {
		t.Fatalf("runs list --server: %v", err)
	}
	if !strings.Contains(out, "smoke") {
		t.Fatalf("expected remote run in listing:\n%s", out)
	}

	stop()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("runServer returned error: %v", err)
		}
	case <-ctx.Done():
		t.Fatalf("server did not shut down")
	}
}
