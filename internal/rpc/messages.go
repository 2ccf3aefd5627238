package rpc

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/signalsfoundry/occupancy-adp/kb"
	"github.com/signalsfoundry/occupancy-adp/model"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// ErrInvalidRequest marks a request payload that cannot be decoded or fails
// validation.
var ErrInvalidRequest = errors.New("invalid request")

// ScenarioPayload carries one scenario inline. R is optional and defaults
// to the mean of the two r columns.
type ScenarioPayload struct {
	Name     string        `json:"name,omitempty"`
	P        [][][]float64 `json:"P"`
	Q        [][]float64   `json:"Q"`
	R        [][]float64   `json:"r"`
	Terminal []float64     `json:"R,omitempty"`
}

// SolveRequest is the payload of Solver/Solve.
type SolveRequest struct {
	Label            string            `json:"label,omitempty"`
	Population       int               `json:"population"`
	AbsorptionReward float64           `json:"absorption_reward"`
	Capacity         []float64         `json:"capacity"`
	Priors           []float64         `json:"priors"`
	Scenarios        []ScenarioPayload `json:"scenarios"`
	Absorption       string            `json:"absorption,omitempty"`
	Parallelism      int               `json:"parallelism,omitempty"`
}

// GetRunRequest is the payload of Solver/GetRun.
type GetRunRequest struct {
	ID string `json:"id"`
}

// ListRunsResponse is the payload returned by Solver/ListRuns.
type ListRunsResponse struct {
	Runs []kb.RunRecord `json:"runs"`
}

// Problem validates the request and builds the instance it describes.
func (r *SolveRequest) Problem() (*model.Problem, error) {
	scs := make([]model.Scenario, 0, len(r.Scenarios))
	for i, sp := range r.Scenarios {
		name := sp.Name
		if name == "" {
			name = fmt.Sprintf("Scenario_%d", i+1)
		}
		sc, err := model.NewScenario(name, sp.P, sp.Q, sp.R, sp.Terminal)
		if err != nil {
			return nil, err
		}
		scs = append(scs, sc)
	}
	return model.NewProblem(r.Population, r.AbsorptionReward, r.Capacity, r.Priors, scs)
}

// ToStruct converts any JSON-tagged value into a structpb.Struct.
func ToStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, err
	}
	return out, nil
}

// FromStruct decodes a structpb.Struct into a JSON-tagged value.
func FromStruct(s *structpb.Struct, v any) error {
	if s == nil {
		return fmt.Errorf("%w: empty payload", ErrInvalidRequest)
	}
	raw, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return nil
}

var errMissingID = errors.New("id is required")

func wrapInvalid(err error) error {
	return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
}
