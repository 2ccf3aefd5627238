package core

import (
	"fmt"

	"github.com/signalsfoundry/occupancy-adp/model"
)

// Evaluation is the outcome of pushing the prior through a fixed policy
// sequence.
type Evaluation struct {
	// Value is the scenario-summed reward; Objective is Value averaged over
	// scenarios.
	Value     float64
	Objective float64
	// Feasible is false when any stage breaks its capacity bound. Evaluation
	// still runs to the end so callers can inspect the measures.
	Feasible bool
	// FirstInfeasible is the earliest stage over capacity, or -1.
	FirstInfeasible int
	Nodes           []*Node
}

// EvaluatePolicies replays a sequence of one policy per controllable stage
// using the same kernels as the forward recursion.
func EvaluatePolicies(p *model.Problem, policies []model.Policy, opts ...Option) (*Evaluation, error) {
	if p == nil {
		return nil, fmt.Errorf("EvaluatePolicies: problem is nil")
	}
	if len(policies) != p.ControllableStages() {
		return nil, fmt.Errorf("EvaluatePolicies: %d policies for %d controllable stages: %w", len(policies), p.ControllableStages(), model.ErrDimensionMismatch)
	}
	n := p.NonAbsorbing()
	for t, pi := range policies {
		if len(pi) != n {
			return nil, fmt.Errorf("EvaluatePolicies: policy %d has %d bits, want %d: %w", t, len(pi), n, model.ErrDimensionMismatch)
		}
	}

	o := buildOptions(opts...)
	k := &kernel{problem: p, workers: o.Parallelism, absorption: o.Absorption}
	last := p.LastControllableStage()

	ev := &Evaluation{Feasible: true, FirstInfeasible: -1}
	markInfeasible := func(t int) {
		if ev.Feasible {
			ev.Feasible = false
			ev.FirstInfeasible = t
		}
	}

	cur := newNode(k, 0, policies[0].Index(), policies[0])
	if !cur.IsFeasible() {
		markInfeasible(0)
	}
	if last == 0 {
		reward, _, _ := k.terminalReward(cur.Occupancy)
		cur.Value += reward
	}
	ev.Nodes = append(ev.Nodes, cur)

	for t := 1; t <= last; t++ {
		next := newNode(k, t, policies[t].Index(), policies[t])
		arc := newArc(k, cur, next)
		if !arc.IsFeasible() {
			markInfeasible(t)
		}
		next.Value = cur.Value + arc.Length()
		next.Previous = cur.Index
		next.Reached = true
		next.SetOccupancyMeasures(arc.Xn, arc.Xc, arc.Z)
		ev.Nodes = append(ev.Nodes, next)
		cur = next
	}
	ev.Nodes[0].Reached = ev.Nodes[0].IsFeasible()

	ev.Value = cur.Value
	ev.Objective = cur.Value / float64(p.NumScenarios())
	return ev, nil
}

// ReplayPath re-evaluates the policies along a path produced by Run.
func ReplayPath(p *model.Problem, path []*Node, opts ...Option) (*Evaluation, error) {
	policies := make([]model.Policy, len(path))
	for t, node := range path {
		policies[t] = node.Policy
	}
	return EvaluatePolicies(p, policies, opts...)
}

// PoliciesFromMatrix converts a 0/1 matrix back into policies.
func PoliciesFromMatrix(matrix [][]int) []model.Policy {
	out := make([]model.Policy, len(matrix))
	for t, row := range matrix {
		pi := make(model.Policy, len(row))
		for i, v := range row {
			pi[i] = v != 0
		}
		out[t] = pi
	}
	return out
}
