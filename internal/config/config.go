package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	kyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"gopkg.in/yaml.v3"
)

const (
	EnvPrefix = "CLOSEDLOOP_"

	DefaultTicks    = 200
	DefaultN        = 1e7
	DefaultI0       = 500.0 / 6
	DefaultR0       = "2.78"
	DefaultMaxSteps = 1000
	DefaultDt       = 1.0
	DefaultStepSize = 0.01
)

type Config struct {
	Model      string          `yaml:"model" koanf:"model"`
	Order      string          `yaml:"order" koanf:"order"`
	Ticks      int             `yaml:"ticks" koanf:"ticks"`
	Workers    int             `yaml:"workers,omitempty" koanf:"workers"`
	Integrator string          `yaml:"integrator,omitempty" koanf:"integrator"`
	Seed       int64           `yaml:"seed,omitempty" koanf:"seed"`
	Log        LogConfig       `yaml:"log" koanf:"log"`
	Telemetry  TelemetryConfig `yaml:"telemetry" koanf:"telemetry"`
	Store      StoreConfig     `yaml:"store" koanf:"store"`
	SEIR       SEIRConfig      `yaml:"seir" koanf:"seir"`
	Sidarthe   SidartheConfig  `yaml:"sidarthe" koanf:"sidarthe"`
	Control    ControlConfig   `yaml:"control,omitempty" koanf:"control"`
	Schedule   []Input         `yaml:"schedule,omitempty" koanf:"schedule"`
}

type LogConfig struct {
	Level  string `yaml:"level" koanf:"level"`
	Format string `yaml:"format" koanf:"format"` // text, json
}

type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled" koanf:"enabled"`
	Exporter    string `yaml:"exporter" koanf:"exporter"` // stdout, otlp
	Endpoint    string `yaml:"endpoint,omitempty" koanf:"endpoint"`
	Insecure    bool   `yaml:"insecure,omitempty" koanf:"insecure"`
	ServiceName string `yaml:"service_name" koanf:"service_name"`
}

type StoreConfig struct {
	Driver string `yaml:"driver" koanf:"driver"` // dir, sqlite
	Path   string `yaml:"path" koanf:"path"`
}

// KernelSpec describes a delay distribution. Lengths and lags count
// substeps; means are in ticks.
type KernelSpec struct {
	Type    string    `yaml:"type" koanf:"type"` // erlang, exponential, geometric, delta, weights
	Shape   int       `yaml:"shape,omitempty" koanf:"shape"`
	Mean    float64   `yaml:"mean,omitempty" koanf:"mean"`
	P       float64   `yaml:"p,omitempty" koanf:"p"`
	Lag     int       `yaml:"lag,omitempty" koanf:"lag"`
	Length  int       `yaml:"length,omitempty" koanf:"length"`
	Weights []float64 `yaml:"weights,omitempty" koanf:"weights"`
}

type SEIRConfig struct {
	N  float64 `yaml:"n" koanf:"n"`
	E0 float64 `yaml:"e0" koanf:"e0"`
	I0 float64 `yaml:"i0" koanf:"i0"`
	// R0 is a number or the name of the channel it is read from.
	R0       string     `yaml:"r0" koanf:"r0"`
	MaxSteps int        `yaml:"max_steps" koanf:"max_steps"`
	Dt       float64    `yaml:"dt" koanf:"dt"`
	EI       KernelSpec `yaml:"ei" koanf:"ei"`
	IR       KernelSpec `yaml:"ir" koanf:"ir"`
}

type SidartheConfig struct {
	N float64 `yaml:"n" koanf:"n"`
	// Initial seeds every compartment but S, which takes the remainder of N.
	Initial map[string]float64 `yaml:"initial" koanf:"initial"`
	// Alpha to Delta are numbers or channel names.
	Alpha    string        `yaml:"alpha" koanf:"alpha"`
	Beta     string        `yaml:"beta" koanf:"beta"`
	Gamma    string        `yaml:"gamma" koanf:"gamma"`
	Delta    string        `yaml:"delta" koanf:"delta"`
	Rates    SidartheRates `yaml:"rates" koanf:"rates"`
	StepSize float64       `yaml:"step_size" koanf:"step_size"`
	MaxSteps int           `yaml:"max_steps,omitempty" koanf:"max_steps"`
	// Capacity is the threatened (intensive care) load above which a tick
	// counts as overloaded; 0 disables the overload metric.
	Capacity float64 `yaml:"capacity,omitempty" koanf:"capacity"`
}

type SidartheRates struct {
	Epsilon float64 `yaml:"epsilon" koanf:"epsilon"`
	Zeta    float64 `yaml:"zeta" koanf:"zeta"`
	Eta     float64 `yaml:"eta" koanf:"eta"`
	Theta   float64 `yaml:"theta" koanf:"theta"`
	Kappa   float64 `yaml:"kappa" koanf:"kappa"`
	H       float64 `yaml:"h" koanf:"h"`
	Mu      float64 `yaml:"mu" koanf:"mu"`
	Nu      float64 `yaml:"nu" koanf:"nu"`
	Xi      float64 `yaml:"xi" koanf:"xi"`
	Rho     float64 `yaml:"rho" koanf:"rho"`
	Sigma   float64 `yaml:"sigma" koanf:"sigma"`
	Tau     float64 `yaml:"tau" koanf:"tau"`
}

// ControlConfig puts a feedback policy in the loop. It measures the share
// of the population in the Measure compartments and publishes
// Base - correction, clamped to [Min, Max], on Output, which the model
// parameter of the same name then reads.
type ControlConfig struct {
	Kind    string   `yaml:"kind,omitempty" koanf:"kind"` // "", none, pid
	Output  string   `yaml:"output,omitempty" koanf:"output"`
	Measure []string `yaml:"measure,omitempty" koanf:"measure"`
	Target  float64  `yaml:"target,omitempty" koanf:"target"`
	Kp      float64  `yaml:"kp,omitempty" koanf:"kp"`
	Ki      float64  `yaml:"ki,omitempty" koanf:"ki"`
	Kd      float64  `yaml:"kd,omitempty" koanf:"kd"`
	Base    float64  `yaml:"base,omitempty" koanf:"base"`
	Min     float64  `yaml:"min,omitempty" koanf:"min"`
	Max     float64  `yaml:"max,omitempty" koanf:"max"`
}

// Enabled reports whether a policy is configured.
func (c ControlConfig) Enabled() bool { return c.Kind != "" }

// Input publishes value on channel right before the given tick is stepped.
// Ticks count from 0.
type Input struct {
	Tick    int     `yaml:"tick" koanf:"tick"`
	Channel string  `yaml:"channel" koanf:"channel"`
	Value   float64 `yaml:"value" koanf:"value"`
}

func DefaultConfig() *Config {
	return &Config{
		Model: "seir",
		Order: "sequential",
		Ticks: DefaultTicks,
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Telemetry: TelemetryConfig{
			Exporter:    "stdout",
			ServiceName: "closedloop",
		},
		Store: StoreConfig{
			Driver: "dir",
			Path:   "runs",
		},
		SEIR: SEIRConfig{
			N:        DefaultN,
			I0:       DefaultI0,
			R0:       DefaultR0,
			MaxSteps: DefaultMaxSteps,
			Dt:       DefaultDt,
			EI:       KernelSpec{Type: "erlang", Shape: 2, Mean: 5.2},
			IR:       KernelSpec{Type: "erlang", Shape: 3, Mean: 7},
		},
		Sidarthe: SidartheConfig{
			N:       60e6,
			Initial: map[string]float64{"I": 200, "D": 20, "A": 1, "R": 2},
			Alpha:   "0.57",
			Beta:    "0.011",
			Gamma:   "0.456",
			Delta:   "0.011",
			Rates: SidartheRates{
				Epsilon: 0.171, Zeta: 0.125, Eta: 0.125, Theta: 0.371,
				Kappa: 0.017, H: 0.034, Mu: 0.012, Nu: 0.027,
				Xi: 0.017, Rho: 0.034, Sigma: 0.017, Tau: 0.003,
			},
			StepSize: DefaultStepSize,
			Capacity: 5000,
		},
	}
}

// Load reads the scenario at path (if any) over the defaults, then applies
// CLOSEDLOOP_* environment overrides.
func Load(path string) (*Config, error) {
	return LoadOver(DefaultConfig(), path)
}

// LoadOver is Load with base in place of the defaults. base is not
// modified.
func LoadOver(base *Config, path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), kyaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: load %s: %w", path, err)
		}
	}

	// CLOSEDLOOP_SEIR_MAX_STEPS -> seir.max_steps
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, EnvPrefix)), "_", ".", 1)
	}), nil); err != nil {
		return nil, fmt.Errorf("config: load env: %w", err)
	}

	cfg := base.Clone()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate checks the fields the driver dispatches on. Model parameters
// are checked by the model constructors.
func (c *Config) Validate() error {
	switch c.Model {
	case "seir", "sidarthe":
	default:
		return fmt.Errorf("config: unknown model %q", c.Model)
	}
	switch strings.ToLower(c.Order) {
	case "", "concurrent", "sequential":
	default:
		return fmt.Errorf("config: unknown order %q", c.Order)
	}
	if c.Ticks < 0 {
		return fmt.Errorf("config: ticks must be non-negative, got %d", c.Ticks)
	}
	switch c.Store.Driver {
	case "", "dir", "sqlite":
	default:
		return fmt.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	if err := c.validateControl(); err != nil {
		return err
	}
	for i, in := range c.Schedule {
		if in.Channel == "" {
			return fmt.Errorf("config: schedule[%d]: empty channel", i)
		}
		if in.Tick < 0 {
			return fmt.Errorf("config: schedule[%d]: negative tick %d", i, in.Tick)
		}
	}
	return nil
}

func (c *Config) validateControl() error {
	ctl := c.Control
	switch ctl.Kind {
	case "":
		return nil
	case "none", "pid":
	default:
		return fmt.Errorf("config: unknown control kind %q", ctl.Kind)
	}
	if ctl.Output == "" {
		return fmt.Errorf("config: control: empty output channel")
	}
	if len(ctl.Measure) == 0 {
		return fmt.Errorf("config: control: nothing to measure")
	}
	if ctl.Min > ctl.Max {
		return fmt.Errorf("config: control: min %v above max %v", ctl.Min, ctl.Max)
	}
	for _, in := range c.Schedule {
		if in.Channel == ctl.Output {
			return fmt.Errorf("config: control output %q is also scheduled", ctl.Output)
		}
	}
	if c.paramField(ctl.Output) == nil {
		return fmt.Errorf("config: %s has no parameter %q to control", c.Model, ctl.Output)
	}
	return nil
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	out := *c
	out.SEIR.EI.Weights = append([]float64(nil), c.SEIR.EI.Weights...)
	out.SEIR.IR.Weights = append([]float64(nil), c.SEIR.IR.Weights...)
	out.Schedule = append([]Input(nil), c.Schedule...)
	out.Control.Measure = append([]string(nil), c.Control.Measure...)
	if c.Sidarthe.Initial != nil {
		out.Sidarthe.Initial = make(map[string]float64, len(c.Sidarthe.Initial))
		for k, v := range c.Sidarthe.Initial {
			out.Sidarthe.Initial[k] = v
		}
	}
	return &out
}

// Channels lists the channels fed by the schedule, in first-use order.
func (c *Config) Channels() []string {
	seen := make(map[string]bool)
	var names []string
	for _, in := range c.Schedule {
		if !seen[in.Channel] {
			seen[in.Channel] = true
			names = append(names, in.Channel)
		}
	}
	return names
}

// InputsAt collects the scheduled values for tick. Later entries win.
func (c *Config) InputsAt(tick int) map[string]any {
	var out map[string]any
	for _, in := range c.Schedule {
		if in.Tick != tick {
			continue
		}
		if out == nil {
			out = make(map[string]any)
		}
		out[in.Channel] = in.Value
	}
	return out
}

func (c *Config) paramField(name string) *string {
	switch c.Model {
	case "seir":
		if name == "r0" {
			return &c.SEIR.R0
		}
	case "sidarthe":
		switch name {
		case "alpha":
			return &c.Sidarthe.Alpha
		case "beta":
			return &c.Sidarthe.Beta
		case "gamma":
			return &c.Sidarthe.Gamma
		case "delta":
			return &c.Sidarthe.Delta
		}
	}
	return nil
}

// ReadChannel points the model parameter named name at the channel of the
// same name. It reports false when the model has no such parameter.
func (c *Config) ReadChannel(name string) bool {
	field := c.paramField(name)
	if field == nil {
		return false
	}
	*field = name
	return true
}

// BindChannel is ReadChannel for a parameter fed by the schedule: one that
// held a number keeps it as a schedule entry at tick 0.
func (c *Config) BindChannel(name string) (bool, error) {
	field := c.paramField(name)
	if field == nil {
		return false, nil
	}

	current := strings.TrimSpace(*field)
	if v, err := strconv.ParseFloat(current, 64); err == nil {
		c.Schedule = append([]Input{{Tick: 0, Channel: name, Value: v}}, c.Schedule...)
	} else if current != name {
		return false, fmt.Errorf("config: %s already reads channel %q", name, current)
	}
	*field = name
	return true, nil
}

// ParamValue returns the number held by the model parameter name. It
// reports false when there is no such parameter or it reads a channel.
func (c *Config) ParamValue(name string) (float64, bool) {
	field := c.paramField(name)
	if field == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(*field), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
