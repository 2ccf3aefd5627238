package core

import (
	"github.com/signalsfoundry/occupancy-adp/model"
)

// NoPredecessor marks a Node that no feasible Arc has reached.
const NoPredecessor = -1

// Node is a (stage, policy) vertex of the decision graph. Nodes live in the
// engine arena; Previous is the policy index of the predecessor one stage
// earlier, so the predecessor links form a forest without owning pointers.
type Node struct {
	Stage  int
	Index  int
	Policy model.Policy

	Occupancy
	// Objective is the scenario-summed reward of the stored measures.
	Objective float64
	// Value is the best cumulative scenario-summed reward of a path ending here.
	Value    float64
	Previous int
	Reached  bool

	k *kernel
}

func newNode(k *kernel, stage, index int, pi model.Policy) *Node {
	node := &Node{
		Stage:    stage,
		Index:    index,
		Policy:   pi,
		Previous: NoPredecessor,
		k:        k,
	}
	if stage == 0 {
		node.Occupancy = k.splitPrior(pi)
		node.Objective = k.stageObjective(node.Occupancy)
		node.Value = node.Objective
		return node
	}
	node.Occupancy = newOccupancy(k.problem.NumScenarios(), k.problem.NonAbsorbing())
	return node
}

// SetOccupancyMeasures overwrites the stored measures with copies of xn, xc
// and z and recomputes Objective.
func (n *Node) SetOccupancyMeasures(xn, xc [][]float64, z []float64) {
	n.k.forEachScenario(func(l int, _ *model.Scenario) {
		copy(n.Xn[l], xn[l])
		copy(n.Xc[l], xc[l])
		n.Z[l] = z[l]
	})
	n.Objective = n.k.stageObjective(n.Occupancy)
}

// CapacityUsage returns population × controlled mass for every scenario.
func (n *Node) CapacityUsage() []float64 {
	return n.k.capacityUsage(n.Xc)
}

// IsFeasible reports whether every scenario stays within the capacity bound
// of the Node's stage.
func (n *Node) IsFeasible() bool {
	return n.k.withinCapacity(n.CapacityUsage(), n.Stage)
}

// HasPredecessor reports whether Previous is set.
func (n *Node) HasPredecessor() bool { return n.Previous != NoPredecessor }
