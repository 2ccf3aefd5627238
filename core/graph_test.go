package core

import (
	"context"
	"testing"
	"time"

	"github.com/signalsfoundry/occupancy-adp/model"
	"github.com/signalsfoundry/occupancy-adp/timectrl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentityDynamicsPickPerStageRewardMaximiser(t *testing.T) {
	// Controlling state 0 pays more; leaving state 1 alone pays more.
	sc := identityScenario(t, [][]float64{{1, 3}, {2, 0}})
	p, err := model.NewProblem(100, 0, constCapacity(2, 1e9), []float64{0.5, 0.5}, []model.Scenario{sc})
	require.NoError(t, err)

	_, res := runEngine(t, p)

	require.True(t, res.Feasible)
	assert.Equal(t, [][]int{{1, 0}, {1, 0}}, res.PolicyMatrix)
	// 2.5 per stage plus terminal 0.5*2 + 0.5*1.
	assert.InDelta(t, 6.5, res.Objective, tol)
}

func TestZeroCapacityForcesUncontrolledFirstStage(t *testing.T) {
	// Control is strictly better everywhere, so only the bound can stop it.
	sc := identityScenario(t, [][]float64{{0, 5}, {0, 5}})
	capacity := []float64{0, 1e9, 1e9}
	p, err := model.NewProblem(50, 0, capacity, []float64{0.5, 0.5}, []model.Scenario{sc})
	require.NoError(t, err)

	e, res := runEngine(t, p)

	for _, node := range e.Nodes(0) {
		assert.Equal(t, node.Index == 0, node.Reached, "stage-0 node %s", node.Policy)
	}
	require.True(t, res.Feasible)
	assert.Equal(t, []int{0, 0}, res.PolicyMatrix[0])
	for _, u := range res.Path[0].CapacityUsage() {
		assert.Zero(t, u)
	}
	assert.Equal(t, []int{1, 1}, res.PolicyMatrix[1])
	assert.Equal(t, []int{1, 1}, res.PolicyMatrix[2])
}

func TestFlowConservation(t *testing.T) {
	p := randomProblem(t, 7, 3, 5, 4, 1.5)
	e, _ := runEngine(t, p)

	mass := p.PriorMass()
	for stage := 0; stage < p.ControllableStages(); stage++ {
		for _, node := range e.Nodes(stage) {
			if !node.Reached {
				continue
			}
			for l := 0; l < p.NumScenarios(); l++ {
				assert.InDelta(t, mass, node.Mass(l), tol, "stage %d policy %s scenario %d", stage, node.Policy, l)
			}
		}
	}

	// The one-step-ahead terminal flow conserves mass as well.
	last := p.LastControllableStage()
	for _, node := range e.Nodes(last) {
		pred := e.Predecessor(node)
		if pred == nil {
			continue
		}
		arc := newArc(e.k, pred, node)
		arc.Length()
		for l := 0; l < p.NumScenarios(); l++ {
			sum := arc.Z2[l]
			for _, v := range arc.Y[l] {
				sum += v
			}
			assert.InDelta(t, mass, sum, tol)
		}
	}
}

func TestBellmanOptimality(t *testing.T) {
	for _, seed := range []uint64{1, 2, 3, 4} {
		p := randomProblem(t, seed, 2, 5, 3, 0.5)
		e, _ := runEngine(t, p)

		for stage := 1; stage < p.ControllableStages(); stage++ {
			for _, node := range e.Nodes(stage) {
				best, bestIdx := 0.0, NoPredecessor
				for _, from := range e.Nodes(stage - 1) {
					if !from.Reached {
						continue
					}
					arc := newArc(e.k, from, node)
					if !arc.IsFeasible() {
						continue
					}
					if v := from.Value + arc.Length(); bestIdx == NoPredecessor || v > best {
						best, bestIdx = v, from.Index
					}
				}
				if bestIdx == NoPredecessor {
					assert.False(t, node.Reached)
					assert.Zero(t, node.Value)
					assert.Equal(t, NoPredecessor, node.Previous)
					continue
				}
				assert.InDelta(t, best, node.Value, tol, "seed %d stage %d policy %s", seed, stage, node.Policy)
				assert.Equal(t, bestIdx, node.Previous)
			}
		}
	}
}

func TestPathReplayReproducesMeasures(t *testing.T) {
	p := randomProblem(t, 11, 3, 4, 3, 2)
	_, res := runEngine(t, p)
	require.True(t, res.Feasible)

	ev, err := ReplayPath(p, res.Path)
	require.NoError(t, err)
	require.True(t, ev.Feasible)
	require.Len(t, ev.Nodes, len(res.Path))

	for stage, node := range res.Path {
		replayed := ev.Nodes[stage]
		for l := 0; l < p.NumScenarios(); l++ {
			assert.InDelta(t, node.Z[l], replayed.Z[l], tol)
			for i := range node.Xn[l] {
				assert.InDelta(t, node.Xn[l][i], replayed.Xn[l][i], tol)
				assert.InDelta(t, node.Xc[l][i], replayed.Xc[l][i], tol)
			}
		}
		assert.InDelta(t, node.Value, replayed.Value, tol)
	}
	assert.InDelta(t, res.Objective, ev.Objective, tol)
}

func TestPolicyMatrixMatchesPath(t *testing.T) {
	p := randomProblem(t, 5, 3, 4, 2, 0)
	_, res := runEngine(t, p)
	require.True(t, res.Feasible)
	require.Len(t, res.PolicyMatrix, p.ControllableStages())

	for stage, node := range res.Path {
		assert.Equal(t, stage, node.Stage)
		for i, bit := range node.Policy {
			want := 0
			if bit {
				want = 1
			}
			assert.Equal(t, want, res.PolicyMatrix[stage][i])
		}
	}
	assert.Equal(t, PoliciesFromMatrix(res.PolicyMatrix)[1], res.Path[1].Policy)
}

func TestFeasibilityIsMonotoneInCapacity(t *testing.T) {
	base := randomProblem(t, 21, 3, 3, 3, 0)
	looser := *base
	looser.Capacity = append([]float64(nil), base.Capacity...)
	for i := range looser.Capacity {
		looser.Capacity[i] += 10
	}

	tight, err := NewGraphEngine(base)
	require.NoError(t, err)
	loose, err := NewGraphEngine(&looser)
	require.NoError(t, err)

	for idx, node := range tight.Nodes(0) {
		if node.IsFeasible() {
			assert.True(t, loose.Node(0, idx).IsFeasible())
		}
		for to := range tight.Nodes(1) {
			if newArc(tight.k, node, tight.Node(1, to)).IsFeasible() {
				assert.True(t, newArc(loose.k, loose.Node(0, idx), loose.Node(1, to)).IsFeasible())
			}
		}
	}
}

func TestInfeasibleTerminalArcSkipsTerminalPropagation(t *testing.T) {
	p := randomProblem(t, 5, 2, 3, 2, 0.5)
	p.Capacity[1] = -1

	e, _ := runEngine(t, p)

	require.Equal(t, 1, p.LastControllableStage())
	for _, from := range e.Nodes(0) {
		for _, to := range e.Nodes(1) {
			arc := newArc(e.k, from, to)
			require.False(t, arc.IsFeasible())
			assert.Nil(t, arc.Y, "terminal flow computed before the length was asked for")
			assert.Nil(t, arc.Z2)
		}
	}

	arc := newArc(e.k, e.Node(0, 0), e.Node(1, 0))
	first := arc.Length()
	require.NotNil(t, arc.Y)
	assert.Equal(t, first, arc.Length())
}

func TestNegativeCapacityLeavesNoFeasiblePolicy(t *testing.T) {
	p := randomProblem(t, 3, 2, 4, 2, 0)
	p.Capacity[1] = -1

	e, res := runEngine(t, p)

	assert.False(t, res.Feasible)
	assert.Zero(t, res.Objective)
	assert.Nil(t, res.Path)
	for _, stage := range []int{1, 2} {
		for _, node := range e.Nodes(stage) {
			assert.False(t, node.Reached)
			assert.Equal(t, NoPredecessor, node.Previous)
			assert.Zero(t, node.Value)
		}
	}
	assert.Zero(t, res.Stages[2].CandidateArcs)
}

func TestSingleControllableStageCollectsTerminalReward(t *testing.T) {
	sc := identityScenario(t, [][]float64{{1, 3}})
	p, err := model.NewProblem(10, 0, []float64{1e9}, []float64{1}, []model.Scenario{sc})
	require.NoError(t, err)

	_, res := runEngine(t, p)

	require.True(t, res.Feasible)
	assert.Equal(t, [][]int{{1}}, res.PolicyMatrix)
	// Immediate 3 plus terminal mean(1,3) = 2.
	assert.InDelta(t, 5.0, res.Objective, tol)
}

func TestAbsorptionAccounting(t *testing.T) {
	p := absorbingChain(t)

	_, incremental := runEngine(t, p)
	assert.InDelta(t, 18.125, incremental.Objective, tol)

	_, cumulative := runEngine(t, p, WithAbsorption(AbsorptionCumulative))
	assert.InDelta(t, 23.125, cumulative.Objective, tol)
}

// absorbingChain has one state that halves its mass into absorption each step.
func absorbingChain(t *testing.T) *model.Problem {
	t.Helper()
	sc, err := model.NewScenario("halving",
		[][][]float64{{{0.5}, {0.5}}},
		[][]float64{{0.5, 0.5}},
		[][]float64{{1, 1}},
		nil,
	)
	require.NoError(t, err)
	p, err := model.NewProblem(1, 10, constCapacity(3, 1e9), []float64{1}, []model.Scenario{sc})
	require.NoError(t, err)
	return p
}

func TestParallelismDoesNotChangeResult(t *testing.T) {
	p := randomProblem(t, 99, 3, 4, 6, 1)

	_, seq := runEngine(t, p, WithParallelism(1))
	_, par := runEngine(t, p, WithParallelism(4))

	assert.Equal(t, seq.PolicyMatrix, par.PolicyMatrix)
	assert.Equal(t, seq.Objective, par.Objective)
	assert.Equal(t, seq.Stages, par.Stages)
}

func TestRunIsCachedAndTimedByClock(t *testing.T) {
	p := randomProblem(t, 8, 2, 3, 2, 0)
	clock := timectrl.NewTimeController(time.Unix(0, 0), 3*time.Millisecond)
	e, err := NewGraphEngine(p, WithClock(clock))
	require.NoError(t, err)

	first, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3*time.Millisecond, first.Elapsed)

	second, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	p := randomProblem(t, 8, 2, 4, 2, 0)
	e, err := NewGraphEngine(p)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestEngineRejectsOversizedStateSpace(t *testing.T) {
	p := randomProblem(t, 1, 4, 3, 1, 0)
	_, err := NewGraphEngine(p, WithMaxNonAbsorbing(3))
	require.ErrorIs(t, err, ErrTooManyStates)
}

type recordingMetrics struct {
	stages []StageStats
	runs   int
	last   float64
}

func (r *recordingMetrics) ObserveStage(stage, candidate, feasible, reached int) {
	r.stages = append(r.stages, StageStats{stage, candidate, feasible, reached})
}

func (r *recordingMetrics) ObserveRun(_ time.Duration, objective float64, _ bool) {
	r.runs++
	r.last = objective
}

func TestMetricsRecorderSeesEveryStage(t *testing.T) {
	p := randomProblem(t, 13, 2, 4, 2, 0)
	rec := &recordingMetrics{}
	_, res := runEngine(t, p, WithMetricsRecorder(rec))

	assert.Equal(t, res.Stages, rec.stages)
	assert.Equal(t, 1, rec.runs)
	assert.Equal(t, res.Objective, rec.last)
	assert.Equal(t, len(model.EnumeratePolicies(2)), rec.stages[0].CandidateArcs)
}

func TestFormatPath(t *testing.T) {
	sc := identityScenario(t, [][]float64{{1, 3}, {2, 0}})
	p, err := model.NewProblem(1, 0, constCapacity(2, 1e9), []float64{0.5, 0.5}, []model.Scenario{sc})
	require.NoError(t, err)
	_, res := runEngine(t, p)

	assert.Equal(t, "time: 0---> 1-0\ntime: 1---> 1-0\n", FormatPath(res.Path))
}
