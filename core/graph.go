package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/signalsfoundry/occupancy-adp/internal/logging"
	"github.com/signalsfoundry/occupancy-adp/model"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrInfeasible is returned by consumers that need a path when no Node on
	// the last controllable stage was reached.
	ErrInfeasible = errors.New("no feasible policy found")
	// ErrTooManyStates is returned when 2^n Nodes per stage would exceed the
	// configured bound.
	ErrTooManyStates = errors.New("too many non-absorbing states")
)

// StageStats summarises the relaxation of one stage.
type StageStats struct {
	Stage         int
	CandidateArcs int
	FeasibleArcs  int
	ReachedNodes  int
}

// Result is the outcome of a forward recursion.
type Result struct {
	// Objective is the best path value averaged over scenarios. It is zero
	// when Feasible is false.
	Objective float64
	Feasible  bool
	Elapsed   time.Duration
	// Path holds one Node per controllable stage in chronological order.
	Path []*Node
	// PolicyMatrix[t][i] is 1 when state i is controlled at stage t.
	PolicyMatrix [][]int
	Stages       []StageStats
}

// GraphEngine builds the layered decision graph for a Problem and runs the
// forward Bellman recursion over it.
type GraphEngine struct {
	problem  *model.Problem
	policies []model.Policy
	nodes    [][]*Node

	k    *kernel
	opts Options

	result *Result
}

// NewGraphEngine enumerates the policy set and instantiates one Node per
// (controllable stage, policy).
func NewGraphEngine(p *model.Problem, opts ...Option) (*GraphEngine, error) {
	if p == nil {
		return nil, fmt.Errorf("NewGraphEngine: problem is nil")
	}
	if p.NumStages < 2 {
		return nil, fmt.Errorf("NewGraphEngine: need at least 2 stages, got %d: %w", p.NumStages, model.ErrDimensionMismatch)
	}
	if len(p.Capacity) != p.ControllableStages() {
		return nil, fmt.Errorf("NewGraphEngine: %d capacity bounds for %d controllable stages: %w", len(p.Capacity), p.ControllableStages(), model.ErrDimensionMismatch)
	}
	o := buildOptions(opts...)
	if n := p.NonAbsorbing(); n > o.MaxNonAbsorbing {
		return nil, fmt.Errorf("NewGraphEngine: %d states exceeds limit %d: %w", n, o.MaxNonAbsorbing, ErrTooManyStates)
	}

	e := &GraphEngine{
		problem:  p,
		policies: model.EnumeratePolicies(p.NonAbsorbing()),
		k: &kernel{
			problem:    p,
			workers:    o.Parallelism,
			absorption: o.Absorption,
		},
		opts: o,
	}
	e.construct()
	return e, nil
}

func (e *GraphEngine) construct() {
	stages := e.problem.ControllableStages()
	e.nodes = make([][]*Node, stages)
	for t := 0; t < stages; t++ {
		layer := make([]*Node, len(e.policies))
		for idx, pi := range e.policies {
			layer[idx] = newNode(e.k, t, idx, pi)
		}
		e.nodes[t] = layer
	}
}

// Problem returns the instance the engine was built for.
func (e *GraphEngine) Problem() *model.Problem { return e.problem }

// Policies returns the shared policy set in index order.
func (e *GraphEngine) Policies() []model.Policy { return e.policies }

// Nodes returns the Nodes of a stage in policy-index order.
func (e *GraphEngine) Nodes(stage int) []*Node {
	if stage < 0 || stage >= len(e.nodes) {
		return nil
	}
	return e.nodes[stage]
}

// Node returns the Node at (stage, policy index), or nil when out of range.
func (e *GraphEngine) Node(stage, index int) *Node {
	layer := e.Nodes(stage)
	if index < 0 || index >= len(layer) {
		return nil
	}
	return layer[index]
}

// Predecessor returns the Node referenced by n.Previous, or nil.
func (e *GraphEngine) Predecessor(n *Node) *Node {
	if n == nil || !n.HasPredecessor() {
		return nil
	}
	return e.Node(n.Stage-1, n.Previous)
}

// Run executes the forward recursion once; later calls return the cached
// Result. The context is checked between stages.
func (e *GraphEngine) Run(ctx context.Context) (*Result, error) {
	if e.result != nil {
		return e.result, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	log := e.opts.Logger
	last := e.problem.LastControllableStage()

	ctx, span := e.opts.Tracer.Start(ctx, "adp.Run", trace.WithAttributes(
		attribute.Int("adp.states", e.problem.NonAbsorbing()),
		attribute.Int("adp.stages", e.problem.NumStages),
		attribute.Int("adp.scenarios", e.problem.NumScenarios()),
	))
	defer span.End()

	start := e.opts.Clock.Now()
	stats := make([]StageStats, 0, last+1)
	stats = append(stats, e.initStage())
	e.recordStage(ctx, stats[0])

	for t := 1; t <= last; t++ {
		if err := ctx.Err(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		st := e.relaxStage(ctx, t)
		stats = append(stats, st)
		e.recordStage(ctx, st)
	}

	result := &Result{Stages: stats}
	if best := e.bestTerminal(); best != nil {
		result.Feasible = true
		result.Objective = best.Value / float64(e.problem.NumScenarios())
		result.Path = e.path(best)
		result.PolicyMatrix = PolicyMatrix(result.Path)
	}
	result.Elapsed = e.opts.Clock.Since(start)

	if e.opts.Metrics != nil {
		e.opts.Metrics.ObserveRun(result.Elapsed, result.Objective, result.Feasible)
	}
	span.SetAttributes(
		attribute.Bool("adp.feasible", result.Feasible),
		attribute.Float64("adp.objective", result.Objective),
	)
	if result.Feasible {
		log.Info(ctx, "adp run complete",
			logging.Float64("objective", result.Objective),
			logging.Duration("elapsed", result.Elapsed),
		)
	} else {
		log.Warn(ctx, "adp run found no feasible policy",
			logging.Duration("elapsed", result.Elapsed),
		)
	}

	e.result = result
	return result, nil
}

// initStage marks the individually feasible stage-0 Nodes as reached. With a
// single controllable stage those Nodes also collect the terminal reward.
func (e *GraphEngine) initStage() StageStats {
	st := StageStats{Stage: 0, CandidateArcs: len(e.nodes[0])}
	terminal := e.problem.LastControllableStage() == 0
	for _, node := range e.nodes[0] {
		if !node.IsFeasible() {
			continue
		}
		node.Reached = true
		st.FeasibleArcs++
		st.ReachedNodes++
		if terminal {
			reward, _, _ := e.k.terminalReward(node.Occupancy)
			node.Value += reward
		}
	}
	return st
}

// relaxStage performs the Bellman update for every Node of stage t using only
// the reached Nodes of stage t-1. Candidates are scanned in ascending
// predecessor index and a later candidate wins only on a strictly greater
// value, which keeps tie-breaking reproducible.
func (e *GraphEngine) relaxStage(ctx context.Context, t int) StageStats {
	_, span := e.opts.Tracer.Start(ctx, "adp.stage", trace.WithAttributes(attribute.Int("adp.stage", t)))
	defer span.End()

	preds := make([]*Node, 0, len(e.nodes[t-1]))
	for _, from := range e.nodes[t-1] {
		if from.Reached {
			preds = append(preds, from)
		}
	}

	st := StageStats{Stage: t}
	for _, node := range e.nodes[t] {
		var best *Arc
		var bestValue float64
		for _, from := range preds {
			arc := newArc(e.k, from, node)
			st.CandidateArcs++
			if !arc.IsFeasible() {
				continue
			}
			st.FeasibleArcs++
			v := from.Value + arc.Length()
			if best == nil || v > bestValue {
				best, bestValue = arc, v
			}
		}
		if best == nil {
			continue
		}
		node.Value = bestValue
		node.Previous = best.From.Index
		node.Reached = true
		node.SetOccupancyMeasures(best.Xn, best.Xc, best.Z)
		st.ReachedNodes++
	}

	span.SetAttributes(
		attribute.Int("adp.candidate_arcs", st.CandidateArcs),
		attribute.Int("adp.feasible_arcs", st.FeasibleArcs),
		attribute.Int("adp.reached_nodes", st.ReachedNodes),
	)
	return st
}

func (e *GraphEngine) recordStage(ctx context.Context, st StageStats) {
	e.opts.Logger.Debug(ctx, "stage relaxed",
		logging.Int("stage", st.Stage),
		logging.Int("candidate_arcs", st.CandidateArcs),
		logging.Int("feasible_arcs", st.FeasibleArcs),
		logging.Int("reached_nodes", st.ReachedNodes),
	)
	if e.opts.Metrics != nil {
		e.opts.Metrics.ObserveStage(st.Stage, st.CandidateArcs, st.FeasibleArcs, st.ReachedNodes)
	}
}

// bestTerminal returns the reached Node of the last controllable stage with
// the greatest value, preferring the lowest policy index on ties.
func (e *GraphEngine) bestTerminal() *Node {
	var best *Node
	for _, node := range e.nodes[len(e.nodes)-1] {
		if !node.Reached {
			continue
		}
		if best == nil || node.Value > best.Value {
			best = node
		}
	}
	return best
}
