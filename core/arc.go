package core

import (
	"github.com/signalsfoundry/occupancy-adp/model"
)

// Arc is a candidate transition between Nodes of consecutive stages. Arcs are
// built while relaxing a stage and dropped once the best one is chosen.
type Arc struct {
	From *Node
	To   *Node

	Occupancy
	// Y and Z2 are set by Length only when To is on the last controllable
	// stage: the flow and absorbed mass one step after the last decision.
	Y  [][]float64
	Z2 []float64

	length   float64
	measured bool
	k        *kernel
}

func newArc(k *kernel, from, to *Node) *Arc {
	arc := &Arc{
		From:      from,
		To:        to,
		Occupancy: newOccupancy(k.problem.NumScenarios(), k.problem.NonAbsorbing()),
		k:         k,
	}
	arc.propagate()
	return arc
}

// propagate pushes the predecessor's measures one step through P and Q and
// splits the arriving flow by the destination policy.
func (a *Arc) propagate() {
	n := a.k.problem.NonAbsorbing()
	a.k.forEachScenario(func(l int, sc *model.Scenario) {
		flow := make([]float64, n)
		propagate(sc, a.From.Xn[l], a.From.Xc[l], flow)
		split(a.To.Policy, flow, a.Xn[l], a.Xc[l])
		a.Z[l] = a.From.Z[l] + absorbed(sc, a.From.Xn[l], a.From.Xc[l])
	})
}

func (a *Arc) computeLength() float64 {
	rD := a.k.problem.AbsorptionReward
	cumulative := a.k.absorption == AbsorptionCumulative
	length := a.k.sumScenarios(func(l int, sc *model.Scenario) float64 {
		z := a.Z[l]
		if !cumulative {
			z -= a.From.Z[l]
		}
		return immediateReward(sc, a.Xn[l], a.Xc[l]) + z*rD
	})

	if a.To.Stage == a.k.problem.LastControllableStage() {
		terminal, y, z2 := a.k.terminalReward(a.Occupancy)
		a.Y, a.Z2 = y, z2
		length += terminal
	}
	return length
}

// Length is the scenario-summed one-step reward of taking the Arc, including
// the terminal reward when it lands on the last controllable stage. It is
// computed on first use, so arcs rejected by IsFeasible never pay for the
// terminal propagation.
func (a *Arc) Length() float64 {
	if !a.measured {
		a.length = a.computeLength()
		a.measured = true
	}
	return a.length
}

// CapacityUsage returns population × controlled mass for every scenario.
func (a *Arc) CapacityUsage() []float64 {
	return a.k.capacityUsage(a.Xc)
}

// IsFeasible checks the capacity bound of the destination stage.
func (a *Arc) IsFeasible() bool {
	return a.k.withinCapacity(a.CapacityUsage(), a.To.Stage)
}
