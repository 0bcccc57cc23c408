package config

import "sort"

var Presets = map[string]map[string]*Config{
	"seir": {
		"covid": {
			Model: "seir", Order: "sequential", Ticks: 365,
			SEIR: SEIRConfig{
				N: 1e7, I0: 500.0 / 6, R0: "2.78", MaxSteps: 365, Dt: 0.25,
				EI: KernelSpec{Type: "erlang", Shape: 2, Mean: 5.2},
				IR: KernelSpec{Type: "erlang", Shape: 3, Mean: 7},
			},
		},
		"flu": {
			Model: "seir", Order: "sequential", Ticks: 150,
			SEIR: SEIRConfig{
				N: 1e6, E0: 50, I0: 10, R0: "1.4", MaxSteps: 150, Dt: 1,
				EI: KernelSpec{Type: "geometric", P: 0.5},
				IR: KernelSpec{Type: "erlang", Shape: 2, Mean: 4},
			},
		},
		"feedback": {
			Model: "seir", Order: "sequential", Ticks: 365,
			SEIR: SEIRConfig{
				N: 1e7, I0: 500.0 / 6, R0: "r0", MaxSteps: 365, Dt: 0.5,
				EI: KernelSpec{Type: "erlang", Shape: 2, Mean: 5.2},
				IR: KernelSpec{Type: "erlang", Shape: 3, Mean: 7},
			},
			Control: ControlConfig{
				Kind: "pid", Output: "r0", Measure: []string{"I"},
				Target: 0.002, Kp: 1500, Ki: 20,
				Base: 2.78, Min: 0.6, Max: 2.78,
			},
		},
		"controlled": {
			Model: "seir", Order: "sequential", Ticks: 365,
			SEIR: SEIRConfig{
				N: 1e7, I0: 500.0 / 6, R0: "r0", MaxSteps: 365, Dt: 0.5,
				EI: KernelSpec{Type: "erlang", Shape: 2, Mean: 5.2},
				IR: KernelSpec{Type: "erlang", Shape: 3, Mean: 7},
			},
			Schedule: []Input{
				{Tick: 0, Channel: "r0", Value: 2.78},
				{Tick: 40, Channel: "r0", Value: 0.8},
				{Tick: 120, Channel: "r0", Value: 1.2},
			},
		},
	},
	"sidarthe": {
		"italy": {
			Model: "sidarthe", Order: "sequential", Ticks: 350,
		},
		"feedback": {
			Model: "sidarthe", Order: "sequential", Ticks: 350,
			Control: ControlConfig{
				Kind: "pid", Output: "alpha", Measure: []string{"T"},
				Target: 5000.0 / 60e6, Kp: 2e4, Ki: 100,
				Base: 0.57, Min: 0.1, Max: 0.57,
			},
		},
		"lockdown": {
			Model: "sidarthe", Order: "sequential", Ticks: 350,
			Schedule: []Input{
				{Tick: 0, Channel: "alpha", Value: 0.57},
				{Tick: 4, Channel: "alpha", Value: 0.4218},
				{Tick: 22, Channel: "alpha", Value: 0.36},
				{Tick: 28, Channel: "alpha", Value: 0.21},
			},
		},
	},
}

// GetPreset returns a copy of the named preset completed with defaults for
// everything it leaves unset, or nil.
func GetPreset(model, preset string) *Config {
	modelPresets, ok := Presets[model]
	if !ok {
		return nil
	}
	cfg, ok := modelPresets[preset]
	if !ok {
		return nil
	}
	return withDefaults(cfg)
}

func ListPresets(model string) []string {
	modelPresets, ok := Presets[model]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(modelPresets))
	for name := range modelPresets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ListModels names the models that have presets.
func ListModels() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func withDefaults(p *Config) *Config {
	cfg := DefaultConfig()
	cfg.Model = p.Model
	cfg.Order = p.Order
	cfg.Ticks = p.Ticks
	cfg.Schedule = append([]Input(nil), p.Schedule...)
	cfg.Control = p.Control
	cfg.Control.Measure = append([]string(nil), p.Control.Measure...)
	if p.SEIR.N != 0 {
		cfg.SEIR = p.SEIR
		cfg.SEIR.EI.Weights = append([]float64(nil), p.SEIR.EI.Weights...)
		cfg.SEIR.IR.Weights = append([]float64(nil), p.SEIR.IR.Weights...)
	}
	if cfg.Model == "sidarthe" {
		for _, in := range cfg.Schedule {
			switch in.Channel {
			case "alpha":
				cfg.Sidarthe.Alpha = in.Channel
			case "beta":
				cfg.Sidarthe.Beta = in.Channel
			case "gamma":
				cfg.Sidarthe.Gamma = in.Channel
			case "delta":
				cfg.Sidarthe.Delta = in.Channel
			}
		}
	}
	return cfg
}
