package core

import (
	"github.com/signalsfoundry/occupancy-adp/model"
	"github.com/sourcegraph/conc/iter"
)

// Occupancy holds per-scenario occupancy measures. Xn and Xc are indexed
// [scenario][state]; Z is the absorbed mass per scenario.
type Occupancy struct {
	Xn [][]float64
	Xc [][]float64
	Z  []float64
}

func newOccupancy(scenarios, states int) Occupancy {
	occ := Occupancy{
		Xn: make([][]float64, scenarios),
		Xc: make([][]float64, scenarios),
		Z:  make([]float64, scenarios),
	}
	for l := 0; l < scenarios; l++ {
		occ.Xn[l] = make([]float64, states)
		occ.Xc[l] = make([]float64, states)
	}
	return occ
}

// Clone returns a deep copy.
func (o Occupancy) Clone() Occupancy {
	out := Occupancy{
		Xn: make([][]float64, len(o.Xn)),
		Xc: make([][]float64, len(o.Xc)),
		Z:  append([]float64(nil), o.Z...),
	}
	for l := range o.Xn {
		out.Xn[l] = append([]float64(nil), o.Xn[l]...)
		out.Xc[l] = append([]float64(nil), o.Xc[l]...)
	}
	return out
}

// Mass returns sum(Xn)+sum(Xc)+Z for scenario l.
func (o Occupancy) Mass(l int) float64 {
	sum := o.Z[l]
	for i := range o.Xn[l] {
		sum += o.Xn[l][i] + o.Xc[l][i]
	}
	return sum
}

// kernel carries the read-only problem and the scenario fan-out settings
// shared by every Node and Arc of one engine.
type kernel struct {
	problem    *model.Problem
	workers    int
	absorption AbsorptionAccounting
}

// forEachScenario runs f once per scenario. Each call must only write to the
// output slot of its own scenario index.
func (k *kernel) forEachScenario(f func(l int, sc *model.Scenario)) {
	if k.workers == 1 || len(k.problem.Scenarios) == 1 {
		for l := range k.problem.Scenarios {
			f(l, &k.problem.Scenarios[l])
		}
		return
	}
	iter.Iterator[model.Scenario]{MaxGoroutines: k.workers}.ForEachIdx(k.problem.Scenarios, f)
}

// sumScenarios evaluates f per scenario in parallel and adds the slots up in
// scenario order, so the total does not depend on scheduling.
func (k *kernel) sumScenarios(f func(l int, sc *model.Scenario) float64) float64 {
	slots := make([]float64, len(k.problem.Scenarios))
	k.forEachScenario(func(l int, sc *model.Scenario) {
		slots[l] = f(l, sc)
	})
	var total float64
	for _, v := range slots {
		total += v
	}
	return total
}

// splitPrior places the prior mass of every state in Xn or Xc according to pi.
func (k *kernel) splitPrior(pi model.Policy) Occupancy {
	n := k.problem.NonAbsorbing()
	occ := newOccupancy(k.problem.NumScenarios(), n)
	k.forEachScenario(func(l int, _ *model.Scenario) {
		split(pi, k.problem.Priors, occ.Xn[l], occ.Xc[l])
		occ.Z[l] = 0
	})
	return occ
}

// capacityUsage returns population × controlled mass per scenario.
func (k *kernel) capacityUsage(xc [][]float64) []float64 {
	usage := make([]float64, len(xc))
	pop := float64(k.problem.Population)
	k.forEachScenario(func(l int, _ *model.Scenario) {
		var use float64
		for _, v := range xc[l] {
			use += v
		}
		usage[l] = pop * use
	})
	return usage
}

func (k *kernel) withinCapacity(usage []float64, stage int) bool {
	bound := k.problem.Capacity[stage]
	for _, u := range usage {
		if u > bound {
			return false
		}
	}
	return true
}

// stageObjective is the scenario-summed flow·r + Z·rD of a set of measures.
func (k *kernel) stageObjective(occ Occupancy) float64 {
	rD := k.problem.AbsorptionReward
	return k.sumScenarios(func(l int, sc *model.Scenario) float64 {
		return immediateReward(sc, occ.Xn[l], occ.Xc[l]) + occ.Z[l]*rD
	})
}

// terminalReward propagates occ one more step and returns the scenario-summed
// Y·R + Z2·rD together with Y and Z2.
func (k *kernel) terminalReward(occ Occupancy) (float64, [][]float64, []float64) {
	n := k.problem.NonAbsorbing()
	rD := k.problem.AbsorptionReward
	y := make([][]float64, k.problem.NumScenarios())
	z2 := make([]float64, k.problem.NumScenarios())
	total := k.sumScenarios(func(l int, sc *model.Scenario) float64 {
		y[l] = make([]float64, n)
		propagate(sc, occ.Xn[l], occ.Xc[l], y[l])
		z2[l] = occ.Z[l] + absorbed(sc, occ.Xn[l], occ.Xc[l])
		var reward float64
		for i, v := range y[l] {
			reward += v * sc.Terminal[i]
		}
		return reward + z2[l]*rD
	})
	return total, y, z2
}

// split routes flow[j] to xn[j] or xc[j] by pi[j] and zeroes the other slot.
func split(pi model.Policy, flow, xn, xc []float64) {
	for j, v := range flow {
		if pi[j] {
			xn[j], xc[j] = 0, v
		} else {
			xn[j], xc[j] = v, 0
		}
	}
}

// propagate writes out[j] = Σ_i xn[i]·P[i][0][j] + xc[i]·P[i][1][j].
func propagate(sc *model.Scenario, xn, xc, out []float64) {
	for j := range out {
		out[j] = 0
	}
	for i := range xn {
		pn, pc := sc.P[i][model.Uncontrolled], sc.P[i][model.Controlled]
		an, ac := xn[i], xc[i]
		if an == 0 && ac == 0 {
			continue
		}
		for j := range out {
			out[j] += an*pn[j] + ac*pc[j]
		}
	}
}

// absorbed returns Σ_i xn[i]·Q[i][0] + xc[i]·Q[i][1].
func absorbed(sc *model.Scenario, xn, xc []float64) float64 {
	var z float64
	for i := range xn {
		z += xn[i]*sc.Q[i][model.Uncontrolled] + xc[i]*sc.Q[i][model.Controlled]
	}
	return z
}

// immediateReward returns Σ_i xn[i]·r[i][0] + xc[i]·r[i][1].
func immediateReward(sc *model.Scenario, xn, xc []float64) float64 {
	var v float64
	for i := range xn {
		v += xn[i]*sc.R[i][model.Uncontrolled] + xc[i]*sc.R[i][model.Controlled]
	}
	return v
}
