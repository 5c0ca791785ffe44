package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"navsim-go/server"
	"navsim-go/sim"
)

func main() {
	addr := flag.String("server", "127.0.0.1:44333", "Simulator UDP address")
	robot := flag.Uint("addr", 1, "Robot address to drive")
	speed := flag.Float64("speed", 40, "Wheel speed")
	clearance := flag.Float64("clearance", 40, "Front distance that triggers a turn")
	binary := flag.Bool("binary", false, "Send discrete motor states instead of wheel speeds")
	flag.Parse()

	p, err := server.DialPilot(*addr, uint32(*robot))
	if err != nil {
		log.Fatalf("Dial simulator: %v", err)
	}
	defer p.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var ctrl sim.Controller = sim.WanderController{Speed: *speed, Clearance: *clearance}
	if *binary {
		wander := ctrl
		ctrl = sim.ControllerFunc(func(obs sim.Observation) sim.Command {
			c := wander.Decide(obs)
			return sim.Motors(sim.ThresholdMotor(c.VLeft / *speed), sim.ThresholdMotor(c.VRight / *speed))
		})
	}

	log.Printf("Flying robot %d on %s...", *robot, *addr)
	res, err := p.Fly(ctx, ctrl)
	if err != nil {
		log.Fatalf("Flight ended: %v", err)
	}
	log.Printf("Result: score %.4f, collected %d/%d, %d collisions",
		res.Score, res.Collected, res.TotalMarkers, res.Collisions)
}
