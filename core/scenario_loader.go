// core/scenario_loader.go
package core

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/signalsfoundry/occupancy-adp/model"
)

// Scenario directories follow the layout <parent>/Scenario_<k>/ with one
// flattened, row-major component per file.
const (
	ScenarioDirPrefix = "Scenario_"
	TransitionFile    = "P.csv"
	AbsorptionFile    = "Q.csv"
	RewardFile        = "r.csv"
	TerminalFile      = "R.csv" // optional; derived from r when absent
)

// LoadScenarios reads Scenario_1 .. Scenario_<count> under parent, each sized
// for n non-absorbing states.
func LoadScenarios(parent string, count, n int) ([]model.Scenario, error) {
	if count <= 0 {
		return nil, fmt.Errorf("LoadScenarios: scenario count must be positive, got %d", count)
	}
	out := make([]model.Scenario, 0, count)
	for k := 1; k <= count; k++ {
		dir := filepath.Join(parent, ScenarioDirPrefix+strconv.Itoa(k))
		sc, err := LoadScenarioDir(dir, n)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, nil
}

// LoadScenarioDir reads one scenario directory. Element counts are checked
// against n before reshaping; a mismatch wraps model.ErrDimensionMismatch.
func LoadScenarioDir(dir string, n int) (model.Scenario, error) {
	name := filepath.Base(dir)

	pFlat, err := readFlatFile(filepath.Join(dir, TransitionFile))
	if err != nil {
		return model.Scenario{}, err
	}
	qFlat, err := readFlatFile(filepath.Join(dir, AbsorptionFile))
	if err != nil {
		return model.Scenario{}, err
	}
	rFlat, err := readFlatFile(filepath.Join(dir, RewardFile))
	if err != nil {
		return model.Scenario{}, err
	}

	var terminal []float64
	switch tFlat, err := readFlatFile(filepath.Join(dir, TerminalFile)); {
	case err == nil:
		terminal = tFlat
	case errors.Is(err, fs.ErrNotExist):
	default:
		return model.Scenario{}, err
	}

	return scenarioFromFlat(name, n, pFlat, qFlat, rFlat, terminal)
}

// LoadScenarioReaders builds a scenario from already-open flattened inputs.
// terminal may be nil.
func LoadScenarioReaders(name string, n int, p, q, r, terminal io.Reader) (model.Scenario, error) {
	pFlat, err := readFlat(p)
	if err != nil {
		return model.Scenario{}, fmt.Errorf("LoadScenarioReaders: %s P: %w", name, err)
	}
	qFlat, err := readFlat(q)
	if err != nil {
		return model.Scenario{}, fmt.Errorf("LoadScenarioReaders: %s Q: %w", name, err)
	}
	rFlat, err := readFlat(r)
	if err != nil {
		return model.Scenario{}, fmt.Errorf("LoadScenarioReaders: %s r: %w", name, err)
	}
	var tFlat []float64
	if terminal != nil {
		if tFlat, err = readFlat(terminal); err != nil {
			return model.Scenario{}, fmt.Errorf("LoadScenarioReaders: %s R: %w", name, err)
		}
	}
	return scenarioFromFlat(name, n, pFlat, qFlat, rFlat, tFlat)
}

func scenarioFromFlat(name string, n int, pFlat, qFlat, rFlat, terminal []float64) (model.Scenario, error) {
	p, err := model.Reshape3D(pFlat, n, 2, n)
	if err != nil {
		return model.Scenario{}, fmt.Errorf("scenario %s: %s: %w", name, TransitionFile, err)
	}
	q, err := model.Reshape2D(qFlat, n, 2)
	if err != nil {
		return model.Scenario{}, fmt.Errorf("scenario %s: %s: %w", name, AbsorptionFile, err)
	}
	r, err := model.Reshape2D(rFlat, n, 2)
	if err != nil {
		return model.Scenario{}, fmt.Errorf("scenario %s: %s: %w", name, RewardFile, err)
	}
	return model.NewScenario(name, p, q, r, terminal)
}

func readFlatFile(path string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	values, err := readFlat(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return values, nil
}

// readFlat reads every numeric field of a CSV stream in order. Files written
// one value per line and files with several values per row both flatten the
// same way.
func readFlat(r io.Reader) ([]float64, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var out []float64
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		for _, field := range rec {
			field = strings.TrimSpace(field)
			if field == "" {
				continue
			}
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("parse %q: %w", field, err)
			}
			out = append(out, v)
		}
	}
}

// internal JSON shapes – keep them unexported so we're free to evolve them.
type scenarioSetJSON struct {
	Scenarios []scenarioJSON `json:"scenarios"`
}

type scenarioJSON struct {
	Name     string        `json:"name"`
	P        [][][]float64 `json:"P"`
	Q        [][]float64   `json:"Q"`
	R        [][]float64   `json:"r"`
	Terminal []float64     `json:"R"` // optional; defaults to the mean of r
}

// LoadScenariosJSON decodes {"scenarios":[{"name","P","Q","r","R"}]} and
// checks each scenario is sized for n states.
func LoadScenariosJSON(r io.Reader, n int) ([]model.Scenario, error) {
	var payload scenarioSetJSON
	if err := json.NewDecoder(r).Decode(&payload); err != nil {
		return nil, fmt.Errorf("LoadScenariosJSON: decode failed: %w", err)
	}
	if len(payload.Scenarios) == 0 {
		return nil, fmt.Errorf("LoadScenariosJSON: no scenarios")
	}

	out := make([]model.Scenario, 0, len(payload.Scenarios))
	for idx, js := range payload.Scenarios {
		name := js.Name
		if name == "" {
			name = ScenarioDirPrefix + strconv.Itoa(idx+1)
		}
		if len(js.P) != n {
			return nil, fmt.Errorf("LoadScenariosJSON: scenario %q has %d states, want %d: %w", name, len(js.P), n, model.ErrDimensionMismatch)
		}
		sc, err := model.NewScenario(name, js.P, js.Q, js.R, js.Terminal)
		if err != nil {
			return nil, fmt.Errorf("LoadScenariosJSON: %w", err)
		}
		out = append(out, sc)
	}
	return out, nil
}
