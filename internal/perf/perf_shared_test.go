//go:build perf || perf_large

package perf

import (
	"context"
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/signalsfoundry/occupancy-adp/core"
	"github.com/signalsfoundry/occupancy-adp/internal/benchmark"
	"github.com/signalsfoundry/occupancy-adp/internal/rpc"
	"github.com/signalsfoundry/occupancy-adp/kb"
	"github.com/signalsfoundry/occupancy-adp/model"
)

type perfConfig struct {
	States      int
	Stages      int
	Scenarios   int
	Parallelism int
	// ExactStates and ExactStages size the exhaustive benchmark, which
	// grows as 2^(States*(Stages-1)).
	ExactStates int
	ExactStages int
}

func benchmarkEngine(b *testing.B, cfg perfConfig) {
	p := randomProblem(b, cfg.States, cfg.Stages, cfg.Scenarios)
	ctx := context.Background()
	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		e, err := core.NewGraphEngine(p, core.WithParallelism(cfg.Parallelism))
		if err != nil {
			b.Fatalf("NewGraphEngine: %v", err)
		}
		if _, err := e.Run(ctx); err != nil {
			b.Fatalf("Run: %v", err)
		}
	}
}

func benchmarkExhaustive(b *testing.B, cfg perfConfig) {
	p := randomProblem(b, cfg.ExactStates, cfg.ExactStages, cfg.Scenarios)
	ctx := context.Background()
	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if _, err := benchmark.Solve(ctx, p, benchmark.Options{}); err != nil {
			b.Fatalf("benchmark.Solve: %v", err)
		}
	}
}

func benchmarkSolveRPC(b *testing.B, cfg perfConfig) {
	req := randomRequest(b, cfg.States, cfg.Stages, cfg.Scenarios)
	in, err := rpc.ToStruct(req)
	if err != nil {
		b.Fatalf("ToStruct: %v", err)
	}
	ctx := context.Background()
	b.ReportAllocs()

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		b.StopTimer()
		svc := rpc.NewService(kb.NewKnowledgeBase())
		b.StartTimer()

		if _, err := svc.Solve(ctx, in); err != nil {
			b.Fatalf("Solve: %v", err)
		}
	}
}

func randomRequest(tb testing.TB, n, stages, scenarios int) *rpc.SolveRequest {
	tb.Helper()
	rng := rand.New(rand.NewPCG(uint64(n), uint64(stages)))
	req := &rpc.SolveRequest{
		Population: 1000,
		Capacity:   make([]float64, stages-1),
		Priors:     make([]float64, n),
	}
	for t := range req.Capacity {
		req.Capacity[t] = 1000 * (0.3 + 0.4*rng.Float64())
	}
	for i := range req.Priors {
		req.Priors[i] = 1 / float64(n)
	}
	for l := 0; l < scenarios; l++ {
		p, q, r := randomChain(rng, n)
		req.Scenarios = append(req.Scenarios, rpc.ScenarioPayload{
			Name: fmt.Sprintf("Scenario_%d", l+1),
			P:    p,
			Q:    q,
			R:    r,
		})
	}
	return req
}

func randomProblem(tb testing.TB, n, stages, scenarios int) *model.Problem {
	tb.Helper()
	p, err := randomRequest(tb, n, stages, scenarios).Problem()
	if err != nil {
		tb.Fatalf("build problem: %v", err)
	}
	return p
}

// randomChain draws rows with sum_j P[i][c][j] + Q[i][c] = 1.
func randomChain(rng *rand.Rand, n int) ([][][]float64, [][]float64, [][]float64) {
	p := make([][][]float64, n)
	q := make([][]float64, n)
	r := make([][]float64, n)
	for i := 0; i < n; i++ {
		p[i] = make([][]float64, 2)
		q[i] = make([]float64, 2)
		for c := 0; c < 2; c++ {
			row := make([]float64, n+1)
			var sum float64
			for j := range row {
				row[j] = rng.Float64() + 0.05
				sum += row[j]
			}
			for j := range row {
				row[j] /= sum
			}
			p[i][c] = row[:n]
			q[i][c] = row[n]
		}
		r[i] = []float64{rng.Float64() * 5, rng.Float64() * 5}
	}
	return p, q, r
}
