// Package benchmark computes the exact optimum of small instances by
// evaluating every deterministic policy sequence, so the forward recursion
// can be compared against it.
package benchmark

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"time"

	"github.com/signalsfoundry/occupancy-adp/core"
	"github.com/signalsfoundry/occupancy-adp/internal/logging"
	"github.com/signalsfoundry/occupancy-adp/model"
	"github.com/signalsfoundry/occupancy-adp/timectrl"
	"golang.org/x/sync/errgroup"
)

// DefaultLimit bounds the number of sequences Solve will enumerate.
const DefaultLimit int64 = 1 << 20

// ErrTooLarge is returned when (2^n)^(T-1) exceeds the configured limit.
var ErrTooLarge = errors.New("policy sequence space exceeds limit")

// Options configures Solve.
type Options struct {
	Limit   int64
	Workers int
	// Engine options are forwarded to core.EvaluatePolicies. Scenario
	// fan-out is forced to one goroutine since sequences already run in
	// parallel.
	Engine []core.Option
	Logger logging.Logger
	Clock  timectrl.Clock
}

// Result is the best sequence found by exhaustive search.
type Result struct {
	Objective    float64
	Feasible     bool
	PolicyMatrix [][]int
	// Evaluated counts sequences scored; FeasibleSequences those within
	// capacity at every stage.
	Evaluated         int64
	FeasibleSequences int64
	Elapsed           time.Duration
}

// SequenceCount returns (2^n)^(T-1), or false when it does not fit in an
// int64.
func SequenceCount(p *model.Problem) (int64, bool) {
	bits := p.NonAbsorbing() * p.ControllableStages()
	if bits >= 63 {
		return 0, false
	}
	return int64(1) << bits, true
}

type best struct {
	index     int64
	objective float64
	found     bool
	evaluated int64
	feasible  int64
}

func (b *best) offer(idx int64, objective float64) {
	if !b.found || objective > b.objective || (objective == b.objective && idx < b.index) {
		b.index, b.objective, b.found = idx, objective, true
	}
}

// Solve enumerates every policy sequence and returns the feasible one with
// the greatest scenario-averaged objective. Ties go to the lowest sequence
// index, where stage 0 is the most significant digit.
func Solve(ctx context.Context, p *model.Problem, opts Options) (*Result, error) {
	if p == nil {
		return nil, fmt.Errorf("benchmark: problem is nil")
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	total, ok := SequenceCount(p)
	if !ok || total > limit {
		return nil, fmt.Errorf("benchmark: %d states over %d stages: %w (limit %d)", p.NonAbsorbing(), p.ControllableStages(), ErrTooLarge, limit)
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if int64(workers) > total {
		workers = int(total)
	}
	log := opts.Logger
	if log == nil {
		log = logging.Noop()
	}
	clock := opts.Clock
	if clock == nil {
		clock = timectrl.SystemClock{}
	}
	engine := append(append([]core.Option(nil), opts.Engine...), core.WithParallelism(1))

	policies := model.EnumeratePolicies(p.NonAbsorbing())
	start := clock.Now()

	partial := make([]best, workers)
	chunk := (total + int64(workers) - 1) / int64(workers)
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		lo := int64(w) * chunk
		hi := min(lo+chunk, total)
		g.Go(func() error {
			b := &partial[w]
			seq := make([]model.Policy, p.ControllableStages())
			for idx := lo; idx < hi; idx++ {
				if (idx-lo)&1023 == 0 {
					if err := gctx.Err(); err != nil {
						return err
					}
				}
				decode(idx, policies, seq)
				ev, err := core.EvaluatePolicies(p, seq, engine...)
				if err != nil {
					return err
				}
				b.evaluated++
				if !ev.Feasible {
					continue
				}
				b.feasible++
				b.offer(idx, ev.Objective)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var merged best
	for _, b := range partial {
		merged.evaluated += b.evaluated
		merged.feasible += b.feasible
		if b.found {
			merged.offer(b.index, b.objective)
		}
	}

	res := &Result{
		Evaluated:         merged.evaluated,
		FeasibleSequences: merged.feasible,
		Elapsed:           clock.Since(start),
	}
	if merged.found {
		seq := make([]model.Policy, p.ControllableStages())
		decode(merged.index, policies, seq)
		res.Feasible = true
		res.Objective = merged.objective
		res.PolicyMatrix = make([][]int, len(seq))
		for t, pi := range seq {
			res.PolicyMatrix[t] = pi.Bits()
		}
	}
	log.Info(ctx, "exhaustive search complete",
		logging.Int("sequences", int(res.Evaluated)),
		logging.Int("feasible", int(res.FeasibleSequences)),
		logging.Float64("objective", res.Objective),
		logging.Duration("elapsed", res.Elapsed),
	)
	return res, nil
}

// decode writes the policies of sequence idx into seq, stage 0 first.
func decode(idx int64, policies []model.Policy, seq []model.Policy) {
	m := int64(len(policies))
	for t := len(seq) - 1; t >= 0; t-- {
		seq[t] = policies[idx%m]
		idx /= m
	}
}

// Gap returns exact - approx and the gap relative to |exact|. The relative
// gap is NaN when exact is zero.
func Gap(approx, exact float64) (float64, float64) {
	abs := exact - approx
	if exact == 0 {
		return abs, math.NaN()
	}
	return abs, abs / math.Abs(exact)
}
