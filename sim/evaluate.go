package sim

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"navsim-go/monitoring"
)

// Summary aggregates a batch of results.
type Summary struct {
	Episodes       int     `json:"episodes"`
	MeanScore      float64 `json:"mean_score"`
	StdScore       float64 `json:"std_score"`
	MinScore       float64 `json:"min_score"`
	MaxScore       float64 `json:"max_score"`
	MeanCollisions float64 `json:"mean_collisions"`
	MeanRMSE       float64 `json:"mean_rmse"`
}

// Summarize computes batch statistics; an empty batch gives a zero Summary.
func Summarize(results []Result) Summary {
	if len(results) == 0 {
		return Summary{}
	}
	scores := make([]float64, len(results))
	coll := make([]float64, len(results))
	rmse := make([]float64, len(results))
	for i, r := range results {
		scores[i] = r.Score
		coll[i] = float64(r.Collisions)
		rmse[i] = r.PositionRMSE
	}
	s := Summary{
		Episodes:       len(results),
		MeanScore:      stat.Mean(scores, nil),
		MinScore:       floats.Min(scores),
		MaxScore:       floats.Max(scores),
		MeanCollisions: stat.Mean(coll, nil),
		MeanRMSE:       stat.Mean(rmse, nil),
	}
	if len(scores) > 1 {
		s.StdScore = stat.StdDev(scores, nil)
	}
	return s
}

// Evaluate runs one episode per config on up to workers goroutines
// (GOMAXPROCS when workers < 1). Episodes share nothing, so results depend
// only on their configs and controllers and come back in config order.
// newController is called once per episode and must not return shared
// mutable controllers.
func Evaluate(ctx context.Context, cfgs []Config, newController func(i int, cfg Config) Controller, workers int, recorders ...func(i int) Recorder) ([]Result, Summary, error) {
	if workers < 1 {
		workers = runtime.GOMAXPROCS(0)
	}
	results := make([]Result, len(cfgs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, cfg := range cfgs {
		g.Go(func() error {
			var recs []Recorder
			for _, mk := range recorders {
				if r := mk(i); r != nil {
					recs = append(recs, r)
				}
			}
			ep, err := NewEpisode(cfg, newController(i, cfg), recs...)
			if err != nil {
				return fmt.Errorf("episode %d: %w", i, err)
			}
			res, err := ep.Run(ctx, cfg.Ticks)
			if err != nil {
				return fmt.Errorf("episode %d: %w", i, err)
			}
			results[i] = res
			monitoring.Logf("sim: episode %d (%s) score %.3f collisions %d", i, res.EpisodeID, res.Score, res.Collisions)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, Summary{}, err
	}
	return results, Summarize(results), nil
}
