// Package automation runs scripted batches of scenarios and Monte Carlo
// ensembles over uncertain model parameters.
package automation

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/san-kum/closedloop/internal/config"
	"github.com/san-kum/closedloop/internal/experiment"
)

// Script is a named sequence of runs.
type Script struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Steps       []Step `yaml:"steps"`

	dir string
}

// Step describes one run. The scenario starts from Preset of Model (or the
// defaults), is layered with File when set, then with Ticks and Params.
// Params pin model parameters from tick 0.
type Step struct {
	Name     string             `yaml:"name"`
	Model    string             `yaml:"model"`
	Preset   string             `yaml:"preset"`
	File     string             `yaml:"file"`
	Ticks    int                `yaml:"ticks"`
	Params   map[string]float64 `yaml:"params"`
	Schedule []config.Input     `yaml:"schedule"`
}

// StepResult pairs a step with the scenario it ran and its outcome.
type StepResult struct {
	Name   string
	Config *config.Config
	Result *experiment.Result
}

// LoadScript reads a script from a YAML file. Step files are resolved
// relative to the script.
func LoadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var script Script
	if err := yaml.Unmarshal(data, &script); err != nil {
		return nil, fmt.Errorf("automation: parse %s: %w", path, err)
	}
	if len(script.Steps) == 0 {
		return nil, fmt.Errorf("automation: %s has no steps", path)
	}
	script.dir = filepath.Dir(path)
	return &script, nil
}

// Scenario builds the configuration step i runs with.
func (s *Script) Scenario(i int) (*config.Config, error) {
	step := s.Steps[i]

	model := step.Model
	if model == "" {
		model = "seir"
	}
	var cfg *config.Config
	if step.Preset != "" {
		cfg = config.GetPreset(model, step.Preset)
		if cfg == nil {
			return nil, fmt.Errorf("unknown preset %q for model %s", step.Preset, model)
		}
	} else {
		cfg = config.DefaultConfig()
		cfg.Model = model
	}

	if step.File != "" {
		path := step.File
		if !filepath.IsAbs(path) && s.dir != "" {
			path = filepath.Join(s.dir, path)
		}
		var err error
		if cfg, err = config.LoadOver(cfg, path); err != nil {
			return nil, err
		}
	}
	if step.Ticks > 0 {
		cfg.Ticks = step.Ticks
	}
	cfg.Schedule = append(cfg.Schedule, step.Schedule...)

	names := make([]string, 0, len(step.Params))
	for name := range step.Params {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := pin(cfg, name, step.Params[name]); err != nil {
			return nil, err
		}
	}
	return cfg, cfg.Validate()
}

// pin holds parameter name at v from tick 0.
func pin(cfg *config.Config, name string, v float64) error {
	ok, err := cfg.BindChannel(name)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("model %s has no parameter %q", cfg.Model, name)
	}
	cfg.Schedule = append(cfg.Schedule, config.Input{Tick: 0, Channel: name, Value: v})
	return nil
}

func (s Step) label(i int) string {
	if s.Name != "" {
		return s.Name
	}
	if s.Preset != "" {
		return fmt.Sprintf("%d-%s", i+1, s.Preset)
	}
	return fmt.Sprintf("step-%d", i+1)
}

// Run executes every step in order and stops at the first failure,
// returning the steps completed so far.
func Run(ctx context.Context, script *Script, reg *experiment.Registry, logger *slog.Logger) ([]StepResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	results := make([]StepResult, 0, len(script.Steps))

	for i, step := range script.Steps {
		name := step.label(i)
		logger.Info("running step", "step", i+1, "of", len(script.Steps), "name", name)

		cfg, err := script.Scenario(i)
		if err != nil {
			return results, fmt.Errorf("step %s: %w", name, err)
		}
		exp, err := experiment.New(cfg, reg, experiment.WithLogger(logger))
		if err != nil {
			return results, fmt.Errorf("step %s setup: %w", name, err)
		}
		res, err := exp.Run(ctx)
		if err != nil {
			return results, fmt.Errorf("step %s run: %w", name, err)
		}
		results = append(results, StepResult{Name: name, Config: cfg, Result: res})
	}
	return results, nil
}
