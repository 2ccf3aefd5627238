package model

import (
	"errors"
	"fmt"
)

// ErrDimensionMismatch is returned when scenario or problem data does not have
// the element counts implied by the state and stage counts.
var ErrDimensionMismatch = errors.New("dimension mismatch")

// Control bit positions in the second axis of P, Q and r.
const (
	Uncontrolled = 0
	Controlled   = 1
)

// Scenario holds the Markov parameters of one realization of the environment.
// Only the non-absorbing states are indexed; the single absorbing state is
// reached through Q.
type Scenario struct {
	Name string

	// P[i][c][j] is the probability of moving from non-absorbing state i to
	// non-absorbing state j when state i is under control bit c.
	P [][2][]float64
	// Q[i][c] is the probability of absorption from state i under control bit c.
	Q [][2]float64
	// r[i][c] is the immediate reward of one unit of mass in state i.
	R [][2]float64
	// Terminal[i] is the reward realized one step after the last decision.
	Terminal []float64
}

// NewScenario builds a Scenario from nested slices, checking that every
// component is sized for n non-absorbing states.
func NewScenario(name string, p [][][]float64, q, r [][]float64, terminal []float64) (Scenario, error) {
	n := len(p)
	if n == 0 {
		return Scenario{}, fmt.Errorf("scenario %q: P has no states: %w", name, ErrDimensionMismatch)
	}
	sc := Scenario{
		Name:     name,
		P:        make([][2][]float64, n),
		Q:        make([][2]float64, n),
		R:        make([][2]float64, n),
		Terminal: make([]float64, n),
	}
	for i := range p {
		if len(p[i]) != 2 {
			return Scenario{}, fmt.Errorf("scenario %q: P[%d] has %d control rows, want 2: %w", name, i, len(p[i]), ErrDimensionMismatch)
		}
		for c := 0; c < 2; c++ {
			if len(p[i][c]) != n {
				return Scenario{}, fmt.Errorf("scenario %q: P[%d][%d] has %d entries, want %d: %w", name, i, c, len(p[i][c]), n, ErrDimensionMismatch)
			}
			sc.P[i][c] = append([]float64(nil), p[i][c]...)
		}
	}
	if err := copyPairs(sc.Q, q, "Q", name); err != nil {
		return Scenario{}, err
	}
	if err := copyPairs(sc.R, r, "r", name); err != nil {
		return Scenario{}, err
	}
	switch {
	case terminal == nil:
		sc.Terminal = DeriveTerminal(sc.R)
	case len(terminal) != n:
		return Scenario{}, fmt.Errorf("scenario %q: R has %d entries, want %d: %w", name, len(terminal), n, ErrDimensionMismatch)
	default:
		copy(sc.Terminal, terminal)
	}
	return sc, nil
}

func copyPairs(dst [][2]float64, src [][]float64, label, name string) error {
	if len(src) != len(dst) {
		return fmt.Errorf("scenario %q: %s has %d rows, want %d: %w", name, label, len(src), len(dst), ErrDimensionMismatch)
	}
	for i := range src {
		if len(src[i]) != 2 {
			return fmt.Errorf("scenario %q: %s[%d] has %d columns, want 2: %w", name, label, i, len(src[i]), ErrDimensionMismatch)
		}
		dst[i] = [2]float64{src[i][0], src[i][1]}
	}
	return nil
}

// DeriveTerminal returns the terminal reward used when none is supplied: the
// mean of the controlled and uncontrolled immediate rewards of each state.
func DeriveTerminal(r [][2]float64) []float64 {
	out := make([]float64, len(r))
	for i := range r {
		out[i] = (r[i][Uncontrolled] + r[i][Controlled]) / 2
	}
	return out
}

// States returns the number of non-absorbing states.
func (s Scenario) States() int { return len(s.P) }

// Reshape2D turns a flattened row-major slice into an m×k matrix.
func Reshape2D(flat []float64, m, k int) ([][]float64, error) {
	if len(flat) != m*k {
		return nil, fmt.Errorf("cannot reshape %d values into (%d,%d): %w", len(flat), m, k, ErrDimensionMismatch)
	}
	out := make([][]float64, m)
	for i := range out {
		out[i] = append([]float64(nil), flat[i*k:(i+1)*k]...)
	}
	return out, nil
}

// Reshape3D turns a flattened row-major slice into an m×k×q tensor.
func Reshape3D(flat []float64, m, k, q int) ([][][]float64, error) {
	if len(flat) != m*k*q {
		return nil, fmt.Errorf("cannot reshape %d values into (%d,%d,%d): %w", len(flat), m, k, q, ErrDimensionMismatch)
	}
	out := make([][][]float64, m)
	idx := 0
	for i := range out {
		out[i] = make([][]float64, k)
		for j := range out[i] {
			out[i][j] = append([]float64(nil), flat[idx:idx+q]...)
			idx += q
		}
	}
	return out, nil
}
