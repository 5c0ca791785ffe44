package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gonum.org/v1/plot/vg"

	"navsim-go/binlog"
	"navsim-go/config"
	"navsim-go/report"
	"navsim-go/server"
	"navsim-go/sim"
	"navsim-go/store"
	"navsim-go/telemetry"
	"navsim-go/web"
)

func main() {
	configPath := flag.String("config", "", "Episode config JSON (optional)")
	seed := flag.Uint64("seed", 0, "Seed for maze, sensors and odometry")
	complexity := flag.Int("complexity", 0, "Walls kept beyond the spanning tree")
	mapFile := flag.String("map", "", "XML map file instead of a generated maze")
	duration := flag.String("duration", "", "Episode length, e.g. 60s")
	controller := flag.String("controller", "wander", "wander, manual, script or remote")
	scriptPath := flag.String("script", "", "JSON list of {ticks, command} for -controller script")
	remotePort := flag.Int("remote-port", server.DefaultPort, "UDP port for -controller remote")
	remoteAddr := flag.Uint("remote-addr", 1, "Robot address expected from the remote pilot")
	remoteTimeout := flag.Duration("remote-timeout", 200*time.Millisecond, "Per-tick wait for a remote command")
	realtime := flag.Float64("realtime", 0, "Pace ticks at this multiple of sim time (0 runs flat out)")
	logPath := flag.String("log", "", "Write a tick log to this path")
	httpAddr := flag.String("http", "", "Serve the live view on this address, e.g. :8080")
	staticDir := flag.String("static", "", "Static frontend directory for -http")
	udpTargets := flag.String("telemetry-udp", "", "Comma separated host:port telemetry targets")
	tcpTargets := flag.String("telemetry-tcp", "", "Comma separated host:port telemetry streams")
	mask := flag.Uint("telemetry-mask", telemetry.FlagAll, "Telemetry message mask")
	every := flag.Int("telemetry-every", 1, "Send pose lines every N ticks")
	pngPath := flag.String("png", "", "Write a trajectory plot when done")
	chartPath := flag.String("chart", "", "Write an HTML error chart when done")
	dbPath := flag.String("db", "", "Store the result in this SQLite database")
	flag.Parse()

	ec := &config.EpisodeConfig{}
	if *configPath != "" {
		var err error
		if ec, err = config.LoadEpisodeConfig(*configPath); err != nil {
			log.Fatalf("Load config: %v", err)
		}
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "seed":
			ec.Seed = config.Ptr(*seed)
		case "complexity":
			ec.Complexity = config.Ptr(*complexity)
		case "map":
			ec.MapFile = config.Ptr(*mapFile)
		case "duration":
			ec.Duration = config.Ptr(*duration)
		}
	})
	cfg, err := ec.Build()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var webSvr *web.Server
	if *httpAddr != "" {
		webSvr = web.NewServer()
	}

	var ctrl sim.Controller
	var remote *server.RemoteController
	switch *controller {
	case "wander":
		ctrl = sim.WanderController{Speed: cfg.Robot.MotorSpeed}
	case "manual":
		manual := &sim.ManualController{}
		go readKeys(manual)
		if webSvr != nil {
			webSvr.Hub.OnMessage = web.KeyHandler(manual)
		}
		if *realtime == 0 {
			*realtime = 1
		}
		ctrl = manual
	case "script":
		steps, err := loadScript(*scriptPath)
		if err != nil {
			log.Fatalf("Load script: %v", err)
		}
		ctrl = sim.ScriptController{Steps: steps}
	case "remote":
		remote, err = server.ListenRemote(*remotePort, uint32(*remoteAddr), *remoteTimeout)
		if err != nil {
			log.Fatalf("Listen for pilot: %v", err)
		}
		defer remote.Close()
		log.Printf("Waiting for pilot on %s...", remote.LocalAddr())
		if err := remote.WaitPilot(ctx); err != nil {
			log.Fatalf("No pilot: %v", err)
		}
		ctrl = remote
	default:
		log.Fatalf("Unknown controller %q", *controller)
	}

	keepTicks := cfg.Ticks
	if keepTicks <= 0 {
		keepTicks = 1
	}
	hist := sim.NewHistory(keepTicks)
	ep, err := sim.NewEpisode(cfg, ctrl, hist)
	if err != nil {
		log.Fatalf("Create episode: %v", err)
	}
	log.Printf("Episode %s: %d markers, %d landmarks, %d ticks at %.0f fps",
		ep.ID(), ep.Map().TotalMarkers(), len(ep.Map().Landmarks()), cfg.Ticks, 1/cfg.DT)

	if *logPath != "" {
		lw, err := binlog.Create(*logPath)
		if err != nil {
			log.Fatalf("Create tick log: %v", err)
		}
		defer lw.Close()
		if err := lw.WriteHeader(binlog.HeaderFor(ep)); err != nil {
			log.Fatalf("Write tick log header: %v", err)
		}
		ep.AddRecorder(lw)
		log.Printf("Logging ticks to %s", *logPath)
	}

	var tel *telemetry.Recorder
	if *udpTargets != "" || *tcpTargets != "" {
		sender := telemetry.NewSender()
		sender.SetHeader(ep.ID())
		for _, a := range splitList(*udpTargets) {
			if err := sender.AddUDPSender(a, uint32(*mask)); err != nil {
				log.Fatalf("Telemetry target %s: %v", a, err)
			}
			log.Printf("Added telemetry UDP target: %s (mask %x)", a, *mask)
		}
		for _, a := range splitList(*tcpTargets) {
			sender.AddTCPSender(a, uint32(*mask))
			log.Printf("Added telemetry TCP target: %s (mask %x)", a, *mask)
		}
		if err := sender.Start(); err != nil {
			log.Fatalf("Start telemetry: %v", err)
		}
		defer sender.Stop()
		tel = &telemetry.Recorder{Sender: sender, Every: *every}
		ep.AddRecorder(tel)
	}

	if webSvr != nil {
		if err := webSvr.SetMap(ep.Map()); err != nil {
			log.Fatalf("Publish map: %v", err)
		}
		ep.AddRecorder(webSvr)
		go func() {
			if err := webSvr.Serve(ctx, *httpAddr, *staticDir, nil); err != nil {
				log.Printf("HTTP server error: %v", err)
			}
		}()
	}

	res, err := run(ctx, ep, *realtime)
	if err != nil {
		log.Printf("Episode stopped early: %v", err)
	}
	log.Printf("Score %.4f: collected %d/%d, %d collisions, distance %.1f, position RMSE %.2f, mean NIS %.2f",
		res.Score, res.Collected, res.TotalMarkers, res.Collisions, res.Distance, res.PositionRMSE, res.MeanNIS)

	if remote != nil {
		if err := remote.Finish(res); err != nil {
			log.Printf("Send result to pilot: %v", err)
		}
		if n := remote.Timeouts(); n > 0 {
			log.Printf("Pilot missed %d ticks", n)
		}
	}
	if tel != nil {
		tel.Summary(res)
		for _, st := range tel.Sender.Stats() {
			log.Printf("Telemetry %s: %d sent, %d dropped", st.Addr, st.Sent, st.Dropped)
		}
	}
	if webSvr != nil {
		webSvr.Finish(res)
	}

	if *pngPath != "" {
		scene := report.SceneFromHistory("episode "+ep.ID(), ep.Map(), hist)
		if err := scene.SavePNG(*pngPath, 8*vg.Inch); err != nil {
			log.Printf("Trajectory plot: %v", err)
		} else {
			log.Printf("Wrote %s", *pngPath)
		}
	}
	if *chartPath != "" {
		if err := writeChart(*chartPath, ep.ID(), hist.Snapshots()); err != nil {
			log.Printf("Error chart: %v", err)
		} else {
			log.Printf("Wrote %s", *chartPath)
		}
	}
	if *dbPath != "" {
		db, err := store.Open(*dbPath)
		if err != nil {
			log.Fatalf("Open results database: %v", err)
		}
		defer db.Close()
		if err := db.SaveResult(context.Background(), res); err != nil {
			log.Printf("Store result: %v", err)
		}
	}
}

// run ticks the episode, optionally pacing it against the wall clock.
func run(ctx context.Context, ep *sim.Episode, speed float64) (sim.Result, error) {
	if speed <= 0 {
		return ep.Run(ctx, 0)
	}
	period := time.Duration(ep.Config().DT / speed * float64(time.Second))
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for !ep.Done() {
		select {
		case <-ctx.Done():
			return ep.Result(), ctx.Err()
		case <-ticker.C:
		}
		if _, err := ep.Tick(); err != nil {
			return ep.Result(), err
		}
	}
	return ep.Result(), nil
}

// readKeys feeds stdin to a manual controller: "4" presses key 4, "-4"
// releases it.
func readKeys(m *sim.ManualController) {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		down := !strings.HasPrefix(line, "-")
		line = strings.TrimPrefix(line, "-")
		for _, k := range line {
			if !m.KeyCommand(k, down) {
				log.Printf("Unbound key %q (use 4/1 left, 6/3 right)", k)
			}
		}
	}
}

func loadScript(path string) ([]sim.ScriptStep, error) {
	if path == "" {
		return nil, fmt.Errorf("-script required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var steps []sim.ScriptStep
	if err := json.Unmarshal(data, &steps); err != nil {
		return nil, err
	}
	return steps, nil
}

func writeChart(path, id string, ticks []sim.Snapshot) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return report.WritePage(f, report.ErrorChart("episode "+id, ticks))
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
