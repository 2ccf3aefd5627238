package core

import (
	"math/rand/v2"
	"testing"

	"github.com/signalsfoundry/occupancy-adp/model"
	"github.com/stretchr/testify/require"
)

const tol = 1e-9

// identityScenario keeps every unit of mass in place and never absorbs.
func identityScenario(t *testing.T, r [][]float64) model.Scenario {
	t.Helper()
	n := len(r)
	p := make([][][]float64, n)
	q := make([][]float64, n)
	for i := 0; i < n; i++ {
		p[i] = [][]float64{make([]float64, n), make([]float64, n)}
		p[i][0][i] = 1
		p[i][1][i] = 1
		q[i] = []float64{0, 0}
	}
	sc, err := model.NewScenario("identity", p, q, r, nil)
	require.NoError(t, err)
	return sc
}

// randomScenario draws rows with sum_j P[i][c][j] + Q[i][c] = 1.
func randomScenario(t *testing.T, rng *rand.Rand, name string, n int) model.Scenario {
	t.Helper()
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
		r[i] = []float64{rng.Float64()*10 - 2, rng.Float64()*10 - 2}
	}
	sc, err := model.NewScenario(name, p, q, r, nil)
	require.NoError(t, err)
	return sc
}

func uniformPriors(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 1 / float64(n)
	}
	return out
}

func constCapacity(stages int, bound float64) []float64 {
	out := make([]float64, stages)
	for i := range out {
		out[i] = bound
	}
	return out
}

// randomProblem builds a problem with a capacity that admits roughly half of
// the stage-0 policies so pruning actually happens.
func randomProblem(t *testing.T, seed uint64, n, stages, scenarios int, rD float64) *model.Problem {
	t.Helper()
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	scs := make([]model.Scenario, scenarios)
	for l := range scs {
		scs[l] = randomScenario(t, rng, "s", n)
	}
	capacity := make([]float64, stages-1)
	for i := range capacity {
		capacity[i] = 100 * (0.3 + 0.4*rng.Float64())
	}
	p, err := model.NewProblem(100, rD, capacity, uniformPriors(n), scs)
	require.NoError(t, err)
	return p
}

func runEngine(t *testing.T, p *model.Problem, opts ...Option) (*GraphEngine, *Result) {
	t.Helper()
	e, err := NewGraphEngine(p, opts...)
	require.NoError(t, err)
	res, err := e.Run(t.Context())
	require.NoError(t, err)
	return e, res
}
