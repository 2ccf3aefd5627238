package rpc

import (
	"context"

	"github.com/signalsfoundry/occupancy-adp/core"
	"github.com/signalsfoundry/occupancy-adp/internal/logging"
	"github.com/signalsfoundry/occupancy-adp/kb"
	"github.com/signalsfoundry/occupancy-adp/timectrl"
	"google.golang.org/protobuf/types/known/structpb"
)

// Service implements SolverServer. Solve runs the forward recursion on an
// inline instance and archives the outcome; GetRun and ListRuns read the
// archive.
type Service struct {
	store     kb.Store
	log       logging.Logger
	metrics   core.MetricsRecorder
	clock     timectrl.Clock
	maxStates int
}

var _ SolverServer = (*Service)(nil)

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets the base logger used when no request logger is present.
func WithLogger(l logging.Logger) ServiceOption {
	return func(s *Service) { s.log = l }
}

// WithSolverMetrics forwards engine statistics to m.
func WithSolverMetrics(m core.MetricsRecorder) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// WithClock sets the clock used for run timestamps and DP timing.
func WithClock(c timectrl.Clock) ServiceOption {
	return func(s *Service) { s.clock = c }
}

// WithMaxStates caps the number of non-absorbing states a request may use.
func WithMaxStates(n int) ServiceOption {
	return func(s *Service) { s.maxStates = n }
}

// NewService constructs a Service archiving into store.
func NewService(store kb.Store, opts ...ServiceOption) *Service {
	s := &Service{
		store: store,
		log:   logging.Noop(),
		clock: timectrl.SystemClock{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) logger(ctx context.Context) logging.Logger {
	if l := logging.LoggerFromContext(ctx); l != nil {
		return l
	}
	return s.log
}

// Solve decodes a SolveRequest, runs the engine and returns the archived
// RunRecord.
func (s *Service) Solve(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req SolveRequest
	if err := FromStruct(in, &req); err != nil {
		return nil, ToStatusError(err)
	}
	p, err := req.Problem()
	if err != nil {
		return nil, ToStatusError(wrapInvalid(err))
	}
	absorption, err := core.ParseAbsorption(req.Absorption)
	if err != nil {
		return nil, ToStatusError(wrapInvalid(err))
	}

	ctx, id := logging.EnsureRunID(ctx)
	log := s.logger(ctx)
	opts := []core.Option{
		core.WithLogger(log),
		core.WithAbsorption(absorption),
		core.WithParallelism(req.Parallelism),
		core.WithClock(s.clock),
		core.WithMaxNonAbsorbing(s.maxStates),
	}
	if s.metrics != nil {
		opts = append(opts, core.WithMetricsRecorder(s.metrics))
	}
	engine, err := core.NewGraphEngine(p, opts...)
	if err != nil {
		return nil, ToStatusError(err)
	}
	res, err := engine.Run(ctx)
	if err != nil {
		log.Warn(ctx, "solve aborted", logging.Err(err))
		return nil, ToStatusError(err)
	}

	rec := kb.NewRunRecord(id, s.clock.Now(), p, absorption, res)
	rec.Label = req.Label
	if err := s.store.Put(ctx, rec); err != nil {
		return nil, ToStatusError(err)
	}
	return s.encode(rec)
}

// GetRun returns one archived run.
func (s *Service) GetRun(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req GetRunRequest
	if err := FromStruct(in, &req); err != nil {
		return nil, ToStatusError(err)
	}
	if req.ID == "" {
		return nil, ToStatusError(wrapInvalid(errMissingID))
	}
	rec, err := s.store.Get(ctx, req.ID)
	if err != nil {
		return nil, ToStatusError(err)
	}
	return s.encode(rec)
}

// ListRuns returns every archived run, newest first.
func (s *Service) ListRuns(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	runs, err := s.store.List(ctx)
	if err != nil {
		return nil, ToStatusError(err)
	}
	return s.encode(ListRunsResponse{Runs: runs})
}

func (s *Service) encode(v any) (*structpb.Struct, error) {
	out, err := ToStruct(v)
	if err != nil {
		return nil, ToStatusError(err)
	}
	return out, nil
}
