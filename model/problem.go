package model

import (
	"fmt"
)

// Problem holds the global parameters of a capacity-control instance. It is
// built once by NewProblem and treated as read-only afterwards; the engine and
// every scenario kernel share it without locking.
type Problem struct {
	// NumStates counts every Markov state, including the single absorbing one.
	NumStates int
	// NumStages is T. Decisions are taken at stages 0..T-2.
	NumStages int
	// Population scales occupancy mass into capacity units.
	Population int
	// AbsorptionReward is rD, earned per unit of absorbed mass.
	AbsorptionReward float64
	// Capacity holds one bound per controllable stage (len T-1).
	Capacity []float64
	// Priors is the initial distribution over the non-absorbing states.
	Priors []float64

	Scenarios []Scenario
}

// NewProblem validates the dimensions of every component and returns an
// independent copy. The state count is derived from the priors and the stage
// count from the capacity vector, mirroring how instances are described.
func NewProblem(population int, absorptionReward float64, capacity, priors []float64, scenarios []Scenario) (*Problem, error) {
	if len(priors) == 0 {
		return nil, fmt.Errorf("problem: priors are empty: %w", ErrDimensionMismatch)
	}
	if len(capacity) == 0 {
		return nil, fmt.Errorf("problem: at least one controllable stage is required: %w", ErrDimensionMismatch)
	}
	if len(scenarios) == 0 {
		return nil, fmt.Errorf("problem: no scenarios: %w", ErrDimensionMismatch)
	}
	if population <= 0 {
		return nil, fmt.Errorf("problem: population must be positive, got %d", population)
	}
	n := len(priors)
	for l, sc := range scenarios {
		if sc.States() != n {
			return nil, fmt.Errorf("problem: scenario %d (%q) has %d states, priors have %d: %w", l, sc.Name, sc.States(), n, ErrDimensionMismatch)
		}
		if len(sc.Q) != n || len(sc.R) != n || len(sc.Terminal) != n {
			return nil, fmt.Errorf("problem: scenario %d (%q) has inconsistent Q/r/R lengths: %w", l, sc.Name, ErrDimensionMismatch)
		}
		for i := range sc.P {
			for c := 0; c < 2; c++ {
				if len(sc.P[i][c]) != n {
					return nil, fmt.Errorf("problem: scenario %d (%q) P[%d][%d] has %d entries, want %d: %w", l, sc.Name, i, c, len(sc.P[i][c]), n, ErrDimensionMismatch)
				}
			}
		}
	}

	return &Problem{
		NumStates:        n + 1,
		NumStages:        len(capacity) + 1,
		Population:       population,
		AbsorptionReward: absorptionReward,
		Capacity:         append([]float64(nil), capacity...),
		Priors:           append([]float64(nil), priors...),
		Scenarios:        append([]Scenario(nil), scenarios...),
	}, nil
}

// NonAbsorbing returns the number of non-absorbing states.
func (p *Problem) NonAbsorbing() int { return p.NumStates - 1 }

// ControllableStages returns T-1, the number of stages with a decision.
func (p *Problem) ControllableStages() int { return p.NumStages - 1 }

// LastControllableStage returns T-2.
func (p *Problem) LastControllableStage() int { return p.NumStages - 2 }

// NumScenarios returns the number of scenarios.
func (p *Problem) NumScenarios() int { return len(p.Scenarios) }

// PriorMass returns the total prior mass, which flow conservation preserves.
func (p *Problem) PriorMass() float64 {
	var sum float64
	for _, v := range p.Priors {
		sum += v
	}
	return sum
}
