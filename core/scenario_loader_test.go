// core/scenario_loader_test.go
package core

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/signalsfoundry/occupancy-adp/model"
)

func writeScenarioDir(t *testing.T, parent string, k int, files map[string]string) {
	t.Helper()
	dir := filepath.Join(parent, ScenarioDirPrefix+string(rune('0'+k)))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
}

// Two states, one value per line, row-major over (state, control, next).
var twoStateFiles = map[string]string{
	TransitionFile: "0.5\n0.25\n0.1\n0.1\n0.2\n0.3\n0\n0.5\n",
	AbsorptionFile: "0.25\n0.8\n0.5\n0.5\n",
	RewardFile:     "1\n3\n2\n0\n",
}

func TestLoadScenariosReadsFlattenedDirectories(t *testing.T) {
	parent := t.TempDir()
	writeScenarioDir(t, parent, 1, twoStateFiles)
	writeScenarioDir(t, parent, 2, twoStateFiles)

	scs, err := LoadScenarios(parent, 2, 2)
	if err != nil {
		t.Fatalf("LoadScenarios returned error: %v", err)
	}
	if len(scs) != 2 {
		t.Fatalf("expected 2 scenarios, got %d", len(scs))
	}

	sc := scs[0]
	if sc.Name != "Scenario_1" {
		t.Fatalf("unexpected name %q", sc.Name)
	}
	if got := sc.P[0][model.Controlled][1]; got != 0.1 {
		t.Fatalf("P[0][1][1] = %v, want 0.1", got)
	}
	if got := sc.P[1][model.Uncontrolled][0]; got != 0.2 {
		t.Fatalf("P[1][0][0] = %v, want 0.2", got)
	}
	if got := sc.Q[0][model.Controlled]; got != 0.8 {
		t.Fatalf("Q[0][1] = %v, want 0.8", got)
	}
	if got := sc.R[0][model.Controlled]; got != 3 {
		t.Fatalf("r[0][1] = %v, want 3", got)
	}
	// R.csv is absent so the terminal reward is the row mean of r.
	if sc.Terminal[0] != 2 || sc.Terminal[1] != 1 {
		t.Fatalf("unexpected derived terminal reward %v", sc.Terminal)
	}
}

func TestLoadScenarioDirUsesExplicitTerminalReward(t *testing.T) {
	parent := t.TempDir()
	files := map[string]string{TerminalFile: "7, 9\n"}
	for k, v := range twoStateFiles {
		files[k] = v
	}
	writeScenarioDir(t, parent, 1, files)

	sc, err := LoadScenarioDir(filepath.Join(parent, "Scenario_1"), 2)
	if err != nil {
		t.Fatalf("LoadScenarioDir returned error: %v", err)
	}
	if sc.Terminal[0] != 7 || sc.Terminal[1] != 9 {
		t.Fatalf("expected terminal [7 9], got %v", sc.Terminal)
	}
}

func TestLoadScenarioDirRejectsWrongElementCount(t *testing.T) {
	parent := t.TempDir()
	writeScenarioDir(t, parent, 1, twoStateFiles)

	_, err := LoadScenarioDir(filepath.Join(parent, "Scenario_1"), 3)
	if !errors.Is(err, model.ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
	if !strings.Contains(err.Error(), TransitionFile) {
		t.Fatalf("expected error to name %s, got %v", TransitionFile, err)
	}
}

func TestLoadScenariosMissingDirectory(t *testing.T) {
	parent := t.TempDir()
	writeScenarioDir(t, parent, 1, twoStateFiles)

	if _, err := LoadScenarios(parent, 2, 2); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error for Scenario_2, got %v", err)
	}
	if _, err := LoadScenarios(parent, 0, 2); err == nil {
		t.Fatalf("expected error for zero scenario count")
	}
}

func TestLoadScenarioReadersRejectsGarbage(t *testing.T) {
	_, err := LoadScenarioReaders("bad", 1,
		strings.NewReader("0.5\n0.5\n"),
		strings.NewReader("0.5\nabc\n"),
		strings.NewReader("1\n1\n"),
		nil,
	)
	if err == nil || !strings.Contains(err.Error(), "abc") {
		t.Fatalf("expected parse error naming the field, got %v", err)
	}
}

func TestLoadScenariosJSON(t *testing.T) {
	payload := `{
  "scenarios": [
    {
      "name": "base",
      "P": [[[0.5], [0.25]]],
      "Q": [[0.5, 0.75]],
      "r": [[1, 4]]
    },
    {
      "P": [[[0.9], [0.9]]],
      "Q": [[0.1, 0.1]],
      "r": [[0, 0]],
      "R": [5]
    }
  ]
}`
	scs, err := LoadScenariosJSON(strings.NewReader(payload), 1)
	if err != nil {
		t.Fatalf("LoadScenariosJSON returned error: %v", err)
	}
	if len(scs) != 2 {
		t.Fatalf("expected 2 scenarios, got %d", len(scs))
	}
	if scs[0].Name != "base" || scs[1].Name != "Scenario_2" {
		t.Fatalf("unexpected names %q, %q", scs[0].Name, scs[1].Name)
	}
	if scs[0].Terminal[0] != 2.5 {
		t.Fatalf("expected derived terminal 2.5, got %v", scs[0].Terminal[0])
	}
	if scs[1].Terminal[0] != 5 {
		t.Fatalf("expected explicit terminal 5, got %v", scs[1].Terminal[0])
	}

	if _, err := LoadScenariosJSON(strings.NewReader(payload), 2); !errors.Is(err, model.ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch for wrong state count, got %v", err)
	}
	if _, err := LoadScenariosJSON(strings.NewReader(`{"scenarios":[]}`), 1); err == nil {
		t.Fatalf("expected error for empty scenario list")
	}
}
