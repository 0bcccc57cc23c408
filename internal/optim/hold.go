package optim

import (
	"context"
	"log/slog"
	"sort"

	"github.com/san-kum/closedloop/internal/config"
	"github.com/san-kum/closedloop/internal/experiment"
)

// HoldChannels builds an Evaluator that pins each swept channel to its grid
// value from tick from onwards. Scheduled inputs for those channels before
// from are kept; later ones are dropped.
func HoldChannels(base *config.Config, reg *experiment.Registry, from int, logger *slog.Logger) Evaluator {
	return func(ctx context.Context, params map[string]float64) (*experiment.Result, error) {
		cfg := base.Clone()

		schedule := cfg.Schedule[:0:0]
		for _, in := range cfg.Schedule {
			if _, swept := params[in.Channel]; swept && in.Tick >= from {
				continue
			}
			schedule = append(schedule, in)
		}
		names := make([]string, 0, len(params))
		for name := range params {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			schedule = append(schedule, config.Input{Tick: from, Channel: name, Value: params[name]})
		}
		cfg.Schedule = schedule

		exp, err := experiment.New(cfg, reg, experiment.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return exp.Run(ctx)
	}
}
