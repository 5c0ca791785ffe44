package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"gonum.org/v1/plot/vg"

	"navsim-go/config"
	"navsim-go/report"
	"navsim-go/sim"
	"navsim-go/store"
)

func main() {
	configPath := flag.String("config", "", "Episode config JSON (optional)")
	episodes := flag.Int("n", 10, "Number of episodes; seeds count up from the configured one")
	seed := flag.Uint64("seed", 1, "First seed")
	workers := flag.Int("workers", 0, "Parallel episodes (0 uses every CPU)")
	name := flag.String("name", "batch", "Batch name stored with the results")
	dbPath := flag.String("db", "", "Store the batch in this SQLite database")
	chartPath := flag.String("chart", "", "Write an HTML score chart")
	plotDir := flag.String("plots", "", "Write one trajectory PNG per episode into this directory")
	jsonOut := flag.String("json", "", "Write results and summary as JSON")
	flag.Parse()

	ec := &config.EpisodeConfig{}
	if *configPath != "" {
		var err error
		if ec, err = config.LoadEpisodeConfig(*configPath); err != nil {
			log.Fatalf("Load config: %v", err)
		}
	}
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "seed" {
			ec.Seed = config.Ptr(*seed)
		}
	})
	if ec.Seed == nil {
		ec.Seed = config.Ptr(*seed)
	}
	cfgs, err := ec.BuildBatch(*episodes)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var histories []*sim.History
	var recorders []func(i int) sim.Recorder
	if *plotDir != "" {
		if err := os.MkdirAll(*plotDir, 0o755); err != nil {
			log.Fatalf("Create plot directory: %v", err)
		}
		histories = make([]*sim.History, len(cfgs))
		for i, c := range cfgs {
			histories[i] = sim.NewHistory(max(c.Ticks, 1))
		}
		recorders = append(recorders, func(i int) sim.Recorder { return histories[i] })
	}

	log.Printf("Running %d episodes...", len(cfgs))
	results, sum, err := sim.Evaluate(ctx, cfgs, func(i int, c sim.Config) sim.Controller {
		return sim.WanderController{Speed: c.Robot.MotorSpeed}
	}, *workers, recorders...)
	if err != nil {
		log.Fatalf("Batch failed: %v", err)
	}
	for i, r := range results {
		log.Printf("#%d seed=%d score=%.4f collected=%d/%d collisions=%d rmse=%.2f",
			i, r.Seed, r.Score, r.Collected, r.TotalMarkers, r.Collisions, r.PositionRMSE)
	}
	log.Printf("Mean score %.4f (std %.4f, min %.4f, max %.4f), mean collisions %.1f, mean RMSE %.2f",
		sum.MeanScore, sum.StdScore, sum.MinScore, sum.MaxScore, sum.MeanCollisions, sum.MeanRMSE)

	if *dbPath != "" {
		db, err := store.Open(*dbPath)
		if err != nil {
			log.Fatalf("Open results database: %v", err)
		}
		defer db.Close()
		id, err := db.SaveBatch(ctx, *name, results, sum)
		if err != nil {
			log.Fatalf("Store batch: %v", err)
		}
		log.Printf("Stored batch %s", id)
	}

	if *chartPath != "" {
		f, err := os.Create(*chartPath)
		if err != nil {
			log.Fatalf("Create chart: %v", err)
		}
		if err := report.WritePage(f, report.ScoreChart(*name, results)); err != nil {
			log.Printf("Render chart: %v", err)
		}
		f.Close()
	}

	if *plotDir != "" {
		for i, r := range results {
			// Maps are rebuilt from config; they are deterministic per seed.
			ep, err := sim.NewEpisode(cfgs[i], sim.ControllerFunc(func(sim.Observation) sim.Command { return sim.Stop }))
			if err != nil {
				log.Printf("Rebuild map for #%d: %v", i, err)
				continue
			}
			scene := report.SceneFromHistory(fmt.Sprintf("%s #%d score %.3f", *name, i, r.Score), ep.Map(), histories[i])
			path := filepath.Join(*plotDir, fmt.Sprintf("episode_%03d.png", i))
			if err := scene.SavePNG(path, 6*vg.Inch); err != nil {
				log.Printf("Plot #%d: %v", i, err)
			}
		}
		log.Printf("Wrote %d plots to %s", len(results), *plotDir)
	}

	if *jsonOut != "" {
		data, err := json.MarshalIndent(struct {
			Summary sim.Summary  `json:"summary"`
			Results []sim.Result `json:"results"`
		}{sum, results}, "", "  ")
		if err != nil {
			log.Fatalf("Encode results: %v", err)
		}
		if err := os.WriteFile(*jsonOut, data, 0o644); err != nil {
			log.Fatalf("Write results: %v", err)
		}
	}
}
