package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/signalsfoundry/occupancy-adp/internal/logging"
	"github.com/signalsfoundry/occupancy-adp/timectrl"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// AbsorptionAccounting selects how absorbed mass is rewarded on an Arc.
type AbsorptionAccounting string

const (
	// AbsorptionIncremental rewards only the mass absorbed during the step,
	// (Z - from.Z)·rD.
	AbsorptionIncremental AbsorptionAccounting = "incremental"
	// AbsorptionCumulative rewards all mass absorbed so far, Z·rD, at every
	// stage. This matches the objective of the exact mixed-integer model.
	AbsorptionCumulative AbsorptionAccounting = "cumulative"
)

// ParseAbsorption maps a configuration string onto an AbsorptionAccounting.
// The empty string selects AbsorptionIncremental.
func ParseAbsorption(s string) (AbsorptionAccounting, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(AbsorptionIncremental):
		return AbsorptionIncremental, nil
	case string(AbsorptionCumulative):
		return AbsorptionCumulative, nil
	default:
		return "", fmt.Errorf("unknown absorption accounting %q", s)
	}
}

// DefaultMaxNonAbsorbing bounds the policy set: each stage holds 2^n Nodes and
// each stage transition evaluates up to 4^n Arcs.
const DefaultMaxNonAbsorbing = 14

// MetricsRecorder receives solver statistics. observability.SolverCollector
// satisfies it.
type MetricsRecorder interface {
	ObserveStage(stage, candidateArcs, feasibleArcs, reachedNodes int)
	ObserveRun(elapsed time.Duration, objective float64, feasible bool)
}

// Options configures a GraphEngine.
type Options struct {
	// Parallelism caps the goroutines used per scenario map. Zero uses
	// GOMAXPROCS; one runs every kernel in the calling goroutine.
	Parallelism     int
	Absorption      AbsorptionAccounting
	MaxNonAbsorbing int

	Logger  logging.Logger
	Metrics MetricsRecorder
	Clock   timectrl.Clock
	Tracer  trace.Tracer
}

// Option mutates Options.
type Option func(*Options)

// WithParallelism sets the scenario fan-out.
func WithParallelism(workers int) Option {
	return func(o *Options) { o.Parallelism = workers }
}

// WithAbsorption sets the absorption accounting.
func WithAbsorption(a AbsorptionAccounting) Option {
	return func(o *Options) { o.Absorption = a }
}

// WithMaxNonAbsorbing overrides DefaultMaxNonAbsorbing.
func WithMaxNonAbsorbing(n int) Option {
	return func(o *Options) { o.MaxNonAbsorbing = n }
}

// WithLogger sets the engine logger.
func WithLogger(l logging.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// WithMetricsRecorder wires a metrics sink.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(o *Options) { o.Metrics = m }
}

// WithClock replaces the wall clock used for the elapsed DP time.
func WithClock(c timectrl.Clock) Option {
	return func(o *Options) { o.Clock = c }
}

// WithTracer replaces the tracer taken from the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(o *Options) { o.Tracer = t }
}

func buildOptions(opts ...Option) Options {
	o := Options{}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.Parallelism < 0 {
		o.Parallelism = 0
	}
	if o.Absorption == "" {
		o.Absorption = AbsorptionIncremental
	}
	if o.MaxNonAbsorbing <= 0 {
		o.MaxNonAbsorbing = DefaultMaxNonAbsorbing
	}
	if o.Logger == nil {
		o.Logger = logging.Noop()
	}
	if o.Clock == nil {
		o.Clock = timectrl.SystemClock{}
	}
	if o.Tracer == nil {
		o.Tracer = otel.Tracer("github.com/signalsfoundry/occupancy-adp/core")
	}
	return o
}
