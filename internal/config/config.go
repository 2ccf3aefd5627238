// Package config reads problem files. A problem file names the global
// parameters of an instance, where its scenarios live and how to solve it.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/signalsfoundry/occupancy-adp/core"
	"github.com/signalsfoundry/occupancy-adp/model"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. ADP_SOLVER_PARALLELISM.
const EnvPrefix = "ADP"

// File is the decoded problem file.
type File struct {
	Name             string         `mapstructure:"name"`
	Population       int            `mapstructure:"population"        validate:"required,gt=0"`
	AbsorptionReward float64        `mapstructure:"absorption_reward"`
	Capacity         []float64      `mapstructure:"capacity"          validate:"required,min=1"`
	Priors           []float64      `mapstructure:"priors"            validate:"required,min=1,dive,gte=0"`
	Scenarios        ScenarioSource `mapstructure:"scenarios"`
	Solver           SolverConfig   `mapstructure:"solver"`
	Archive          ArchiveConfig  `mapstructure:"archive"`

	// dir is the directory of the problem file; relative paths resolve
	// against it.
	dir string
}

// ScenarioSource points at either a directory tree of Scenario_<k> folders
// or a JSON scenario set.
type ScenarioSource struct {
	Dir   string `mapstructure:"dir"   validate:"required_without=File"`
	Count int    `mapstructure:"count" validate:"required_with=Dir,gte=0"`
	File  string `mapstructure:"file"  validate:"required_without=Dir"`
}

// SolverConfig carries engine options.
type SolverConfig struct {
	Parallelism    int    `mapstructure:"parallelism"     validate:"gte=0"`
	Absorption     string `mapstructure:"absorption"      validate:"omitempty,oneof=incremental cumulative"`
	MaxStates      int    `mapstructure:"max_states"      validate:"gte=0"`
	BenchmarkLimit int    `mapstructure:"benchmark_limit" validate:"gte=0"`
}

// ArchiveConfig selects where runs are archived. An empty Path keeps runs
// in memory only.
type ArchiveConfig struct {
	Path string `mapstructure:"path"`
}

// Load reads the problem file at path. The format follows the extension
// (yaml, json, toml). Environment variables prefixed with EnvPrefix override
// file values.
func Load(path string) (*File, error) {
	v := viper.New()
	v.SetConfigFile(path)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("solver.parallelism", 0)
	v.SetDefault("solver.absorption", string(core.AbsorptionIncremental))
	v.SetDefault("solver.max_states", core.DefaultMaxNonAbsorbing)
	v.SetDefault("archive.path", "")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config error: %w", err)
	}

	var f File
	if err := v.Unmarshal(&f); err != nil {
		return nil, fmt.Errorf("unmarshal config error: %w", err)
	}
	if err := Validate(&f); err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	f.dir = filepath.Dir(abs)
	return &f, nil
}

// Validate checks struct tags and the cross-field rules tags cannot express.
func Validate(f *File) error {
	validate := validator.New()
	if err := validate.Struct(f); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	if f.Scenarios.Dir != "" && f.Scenarios.File != "" {
		return fmt.Errorf("config validation failed: scenarios.dir and scenarios.file are mutually exclusive")
	}
	return nil
}

func (f *File) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || f.dir == "" {
		return p
	}
	return filepath.Join(f.dir, p)
}

// ArchivePath returns the archive directory resolved against the file.
func (f *File) ArchivePath() string { return f.resolve(f.Archive.Path) }

// Problem loads the referenced scenarios and builds a validated Problem.
func (f *File) Problem() (*model.Problem, error) {
	n := len(f.Priors)
	var (
		scs []model.Scenario
		err error
	)
	switch {
	case f.Scenarios.Dir != "":
		scs, err = core.LoadScenarios(f.resolve(f.Scenarios.Dir), f.Scenarios.Count, n)
	default:
		var fh *os.File
		fh, err = os.Open(f.resolve(f.Scenarios.File))
		if err != nil {
			return nil, fmt.Errorf("open scenario set: %w", err)
		}
		defer fh.Close()
		scs, err = core.LoadScenariosJSON(fh, n)
	}
	if err != nil {
		return nil, err
	}
	return model.NewProblem(f.Population, f.AbsorptionReward, f.Capacity, f.Priors, scs)
}

// EngineOptions translates the solver section into engine options.
func (f *File) EngineOptions() ([]core.Option, error) {
	absorption, err := core.ParseAbsorption(f.Solver.Absorption)
	if err != nil {
		return nil, err
	}
	return []core.Option{
		core.WithParallelism(f.Solver.Parallelism),
		core.WithAbsorption(absorption),
		core.WithMaxNonAbsorbing(f.Solver.MaxStates),
	}, nil
}
