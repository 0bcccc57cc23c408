// Package storage persists finished runs and reads them back for plotting
// and export.
package storage

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/san-kum/closedloop/internal/config"
	"github.com/san-kum/closedloop/internal/experiment"
)

var ErrNotFound = errors.New("storage: run not found")

// RunMetadata describes a stored run.
type RunMetadata struct {
	ID           string             `json:"id"`
	Model        string             `json:"model"`
	Order        string             `json:"order"`
	Timestamp    time.Time          `json:"timestamp"`
	Seed         int64              `json:"seed"`
	Ticks        int                `json:"ticks"`
	Done         bool               `json:"done"`
	Compartments []string           `json:"compartments"`
	Metrics      map[string]float64 `json:"metrics"`
	// Config is the scenario the run was produced from, as YAML.
	Config string `json:"config"`
}

// Series is the trajectory of a run, one row per tick.
type Series struct {
	Compartments []string
	States       [][]float64
	Scalars      map[string][]float64
}

// ScalarNames returns the scalar channel names in sorted order.
func (s *Series) ScalarNames() []string {
	names := make([]string, 0, len(s.Scalars))
	for name := range s.Scalars {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Column returns the trajectory of a compartment or scalar channel.
func (s *Series) Column(name string) ([]float64, bool) {
	for i, c := range s.Compartments {
		if c == name {
			col := make([]float64, len(s.States))
			for t, row := range s.States {
				if i < len(row) {
					col[t] = row[i]
				} else {
					col[t] = math.NaN()
				}
			}
			return col, true
		}
	}
	col, ok := s.Scalars[name]
	return col, ok
}

type Store interface {
	Save(ctx context.Context, cfg *config.Config, res *experiment.Result) (string, error)
	List(ctx context.Context) ([]RunMetadata, error)
	Load(ctx context.Context, id string) (*RunMetadata, error)
	LoadStates(ctx context.Context, id string) (*Series, error)
	Close() error
}

// Open returns the store selected by cfg.
func Open(cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "", "dir":
		s := NewDirStore(cfg.Path)
		if err := s.Init(); err != nil {
			return nil, err
		}
		return s, nil
	case "sqlite":
		return OpenSQLite(cfg.Path)
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", cfg.Driver)
	}
}

func newMetadata(cfg *config.Config, res *experiment.Result) (RunMetadata, error) {
	snapshot, err := yaml.Marshal(cfg)
	if err != nil {
		return RunMetadata{}, fmt.Errorf("storage: snapshot config: %w", err)
	}
	return RunMetadata{
		ID:           fmt.Sprintf("%s_%s", res.Model, uuid.NewString()[:8]),
		Model:        res.Model,
		Order:        cfg.Order,
		Timestamp:    time.Now().UTC(),
		Seed:         cfg.Seed,
		Ticks:        res.StepsTaken,
		Done:         res.Done,
		Compartments: res.Compartments,
		Metrics:      res.Metrics,
		Config:       string(snapshot),
	}, nil
}

func seriesOf(res *experiment.Result) *Series {
	s := &Series{
		Compartments: res.Compartments,
		States:       make([][]float64, len(res.States)),
		Scalars:      res.Scalars,
	}
	for i, x := range res.States {
		s.States[i] = x
	}
	if s.Scalars == nil {
		s.Scalars = map[string][]float64{}
	}
	return s
}

// ScenarioOf decodes the config snapshot of a stored run.
func ScenarioOf(meta *RunMetadata) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if err := yaml.Unmarshal([]byte(meta.Config), cfg); err != nil {
		return nil, fmt.Errorf("storage: decode snapshot of %s: %w", meta.ID, err)
	}
	return cfg, nil
}
