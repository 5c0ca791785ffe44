package server

import (
	"context"
	"time"

	"navsim-go/binlog"
	"navsim-go/monitoring"
	"navsim-go/sim"
)

// Replay feeds the ticks of a log to sink, spaced by their simulated time
// divided by speed. A speed <= 0 replays as fast as the sink accepts.
func Replay(ctx context.Context, lg *binlog.Log, sink sim.Recorder, speed float64) (int, error) {
	monitoring.Logf("server: replaying episode %s (%d ticks) at %.1fx", lg.Header.EpisodeID, len(lg.Ticks), speed)

	var firstTs float64
	startReal := time.Now()
	sent := 0
	for i, s := range lg.Ticks {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		if i == 0 {
			firstTs = s.Time
			startReal = time.Now()
		} else if speed > 0 {
			targetDelay := time.Duration((s.Time - firstTs) / speed * float64(time.Second))
			if wait := targetDelay - time.Since(startReal); wait > 0 {
				select {
				case <-time.After(wait):
				case <-ctx.Done():
					return sent, ctx.Err()
				}
			}
		}
		if err := sink.Record(s); err != nil {
			return sent, err
		}
		sent++
	}
	monitoring.Logf("server: replay ended after %d ticks", sent)
	return sent, nil
}
