package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"navsim-go/binlog"
	"navsim-go/server"
	"navsim-go/sim"
	"navsim-go/telemetry"
	"navsim-go/web"
)

func main() {
	logPath := flag.String("log", "", "Input tick log")
	httpAddr := flag.String("http", ":8080", "Serve the replay on this address")
	staticDir := flag.String("static", "", "Static frontend directory")
	speed := flag.Float64("speed", 1.0, "Replay speed multiplier (0 for max speed)")
	udpTarget := flag.String("telemetry-udp", "", "Also send telemetry lines to this host:port")
	wait := flag.Duration("wait", 0, "Wait this long for viewers before starting")
	loop := flag.Bool("loop", false, "Restart the replay when it ends")
	flag.Parse()

	if *logPath == "" {
		log.Fatal("--log required")
	}
	lg, err := binlog.NewParser(*logPath).Parse()
	if err != nil {
		log.Fatalf("Parse tick log failed: %v", err)
	}
	if lg.Corrupt > 0 {
		log.Printf("Skipped %d corrupt tick records", lg.Corrupt)
	}
	m, err := lg.Header.Map()
	if err != nil {
		log.Fatalf("Rebuild map: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	webSvr := web.NewServer()
	go func() {
		if err := webSvr.Serve(ctx, *httpAddr, *staticDir, nil); err != nil {
			log.Printf("HTTP server error: %v", err)
			stop()
		}
	}()

	sinks := []sim.Recorder{webSvr}
	var tel *telemetry.Recorder
	if *udpTarget != "" {
		sender := telemetry.NewSender()
		sender.SetHeader(lg.Header.EpisodeID)
		if err := sender.AddUDPSender(*udpTarget, telemetry.FlagAll); err != nil {
			log.Fatalf("Telemetry target: %v", err)
		}
		if err := sender.Start(); err != nil {
			log.Fatalf("Start telemetry: %v", err)
		}
		defer sender.Stop()
		tel = &telemetry.Recorder{Sender: sender}
		sinks = append(sinks, tel)
	}
	sink := sim.RecorderFunc(func(s sim.Snapshot) error {
		for _, r := range sinks {
			if err := r.Record(s); err != nil {
				return err
			}
		}
		return nil
	})

	if *wait > 0 {
		log.Printf("Waiting %s for viewers...", *wait)
		select {
		case <-time.After(*wait):
		case <-ctx.Done():
			return
		}
	}

	stats := lg.Stats()
	res := sim.Result{
		EpisodeID:    lg.Header.EpisodeID,
		Seed:         lg.Header.Seed,
		Ticks:        stats.Ticks,
		Score:        stats.FinalScore,
		Collisions:   stats.FinalCollision,
		PositionRMSE: stats.PositionRMSE,
		Applied:      stats.Applied,
		Skipped:      stats.Skipped,
	}
	if n := len(lg.Ticks); n > 0 {
		last := lg.Ticks[n-1]
		res.Collected, res.TotalMarkers = last.Collected, last.TotalMarkers
		res.FinalTruth, res.FinalEstimate = last.Truth, last.Estimate.Mean
	}

	for {
		if err := webSvr.SetMap(m); err != nil {
			log.Fatalf("Publish map: %v", err)
		}
		n, err := server.Replay(ctx, lg, sink, *speed)
		if err != nil {
			log.Printf("Replay stopped after %d ticks: %v", n, err)
			return
		}
		webSvr.Finish(res)
		if tel != nil {
			tel.Summary(res)
		}
		log.Printf("Replayed %d ticks of episode %s", n, lg.Header.EpisodeID)
		if !*loop {
			break
		}
	}
	log.Println("Replay done; serving until interrupted")
	<-ctx.Done()
}
