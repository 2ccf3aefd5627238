package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Run outcome label values.
const (
	OutcomeFeasible   = "feasible"
	OutcomeInfeasible = "infeasible"
)

// SolverCollector exposes forward-recursion metrics. It satisfies
// core.MetricsRecorder.
type SolverCollector struct {
	gatherer prometheus.Gatherer

	Runs          *prometheus.CounterVec
	RunDuration   prometheus.Histogram
	ArcsEvaluated prometheus.Counter
	ArcsPruned    prometheus.Counter
	ReachedNodes  *prometheus.GaugeVec
	LastObjective prometheus.Gauge
}

// NewSolverCollector registers solver metrics against the provided registerer.
func NewSolverCollector(reg prometheus.Registerer) (*SolverCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "adp_runs_total",
		Help: "Completed forward recursions, labeled by whether a feasible policy was found.",
	}, []string{"outcome"})
	runs, err := registerCounterVec(reg, runs, "adp_runs_total")
	if err != nil {
		return nil, err
	}

	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "adp_run_duration_seconds",
		Help:    "Wall time of the forward recursion.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
	})
	duration, err = registerHistogram(reg, duration, "adp_run_duration_seconds")
	if err != nil {
		return nil, err
	}

	evaluated, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "adp_arcs_evaluated_total",
		Help: "Candidate arcs built between reached nodes of consecutive stages.",
	}), "adp_arcs_evaluated_total")
	if err != nil {
		return nil, err
	}

	pruned, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "adp_arcs_pruned_total",
		Help: "Candidate arcs discarded for exceeding the stage capacity bound.",
	}), "adp_arcs_pruned_total")
	if err != nil {
		return nil, err
	}

	reached := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "adp_reached_nodes",
		Help: "Nodes reached by a feasible arc in the most recent run, per stage.",
	}, []string{"stage"})
	reached, err = registerGaugeVec(reg, reached, "adp_reached_nodes")
	if err != nil {
		return nil, err
	}

	objective, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "adp_last_objective",
		Help: "Scenario-averaged objective of the most recent run.",
	}), "adp_last_objective")
	if err != nil {
		return nil, err
	}

	return &SolverCollector{
		gatherer:      gatherer,
		Runs:          runs,
		RunDuration:   duration,
		ArcsEvaluated: evaluated,
		ArcsPruned:    pruned,
		ReachedNodes:  reached,
		LastObjective: objective,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *SolverCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// Handler exposes the collector's registry over HTTP.
func (c *SolverCollector) Handler() http.Handler {
	gatherer := c.Gatherer()
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// ObserveStage records the relaxation statistics of one stage.
func (c *SolverCollector) ObserveStage(stage, candidateArcs, feasibleArcs, reachedNodes int) {
	if c == nil {
		return
	}
	if c.ArcsEvaluated != nil {
		c.ArcsEvaluated.Add(float64(candidateArcs))
	}
	if c.ArcsPruned != nil {
		c.ArcsPruned.Add(float64(candidateArcs - feasibleArcs))
	}
	if c.ReachedNodes != nil {
		c.ReachedNodes.WithLabelValues(fmt.Sprint(stage)).Set(float64(reachedNodes))
	}
}

// ObserveRun records the outcome of a completed recursion.
func (c *SolverCollector) ObserveRun(elapsed time.Duration, objective float64, feasible bool) {
	if c == nil {
		return
	}
	outcome := OutcomeInfeasible
	if feasible {
		outcome = OutcomeFeasible
	}
	if c.Runs != nil {
		c.Runs.WithLabelValues(outcome).Inc()
	}
	if c.RunDuration != nil {
		c.RunDuration.Observe(elapsed.Seconds())
	}
	if c.LastObjective != nil {
		c.LastObjective.Set(objective)
	}
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}
