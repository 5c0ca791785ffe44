package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"strconv"

	"github.com/google/go-cmp/cmp"
	"gonum.org/v1/plot/vg"

	"navsim-go/binlog"
	"navsim-go/geom"
	"navsim-go/report"
	"navsim-go/sim"
)

const usage = `usage: inspect <command> [flags]

commands:
  stats   -log FILE                 summary of a tick log
  csv     -log FILE -out FILE       per-tick truth and estimate as CSV
  verify  -1 FILE -2 FILE           check two logs hold the same ticks
  compare -log FILE -ref FILE       estimate RMSE against another log's truth
  plot    -log FILE [-png F] [-chart F] [-xml F]
`

func main() {
	if len(os.Args) < 2 {
		fmt.Print(usage)
		os.Exit(2)
	}
	cmd, args := os.Args[1], os.Args[2:]
	var err error
	switch cmd {
	case "stats":
		err = runStats(args)
	case "csv":
		err = runCSV(args)
	case "verify":
		err = runVerify(args)
	case "compare":
		err = runCompare(args)
	case "plot":
		err = runPlot(args)
	default:
		fmt.Print(usage)
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("%s: %v", cmd, err)
	}
}

func parse(path string) (*binlog.Log, error) {
	if path == "" {
		return nil, fmt.Errorf("-log required")
	}
	lg, err := binlog.NewParser(path).Parse()
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return lg, nil
}

func runStats(args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	path := fs.String("log", "", "Input tick log")
	fs.Parse(args)

	lg, err := parse(*path)
	if err != nil {
		return err
	}
	st := lg.Stats()
	h := lg.Header
	fmt.Printf("episode:        %s (seed %d)\n", h.EpisodeID, h.Seed)
	fmt.Printf("map:            %d walls, %d landmarks, %d markers\n", len(h.Walls), len(h.Landmarks), len(h.Markers))
	fmt.Printf("ticks:          %d of %d (dt %.4f), %d corrupt\n", st.Ticks, h.Ticks, h.DT, lg.Corrupt)
	fmt.Printf("score:          %.4f\n", st.FinalScore)
	fmt.Printf("collisions:     %d\n", st.FinalCollision)
	fmt.Printf("position RMSE:  %.3f (max %.3f)\n", st.PositionRMSE, st.MaxPosError)
	fmt.Printf("heading RMSE:   %.4f rad\n", st.HeadingRMSE)
	fmt.Printf("updates:        %d applied, %d skipped\n", st.Applied, st.Skipped)
	return nil
}

func runCSV(args []string) error {
	fs := flag.NewFlagSet("csv", flag.ExitOnError)
	path := fs.String("log", "", "Input tick log")
	out := fs.String("out", "ticks.csv", "Output CSV path")
	fs.Parse(args)

	lg, err := parse(*path)
	if err != nil {
		return err
	}
	rows := [][]string{{"tick", "time", "x", "y", "theta", "est_x", "est_y", "est_theta",
		"var_x", "var_y", "var_theta", "pos_err", "collisions", "collected", "score"}}
	f64 := func(v float64) string { return strconv.FormatFloat(v, 'f', 6, 64) }
	for _, s := range lg.Ticks {
		e := s.Estimate
		rows = append(rows, []string{
			strconv.Itoa(s.Tick), f64(s.Time),
			f64(s.Truth.X), f64(s.Truth.Y), f64(s.Truth.Theta),
			f64(e.Mean.X), f64(e.Mean.Y), f64(e.Mean.Theta),
			f64(e.Cov[0][0]), f64(e.Cov[1][1]), f64(e.Cov[2][2]),
			f64(s.PositionError()),
			strconv.Itoa(s.Collisions), strconv.Itoa(s.Collected), f64(s.Score),
		})
	}
	if err := writeCSV(*out, rows); err != nil {
		return err
	}
	log.Printf("Wrote %d rows to %s", len(rows)-1, *out)
	return nil
}

func writeCSV(path string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := csv.NewWriter(f)
	if err := w.WriteAll(rows); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

func runVerify(args []string) error {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	file1 := fs.String("1", "", "First tick log")
	file2 := fs.String("2", "", "Second tick log")
	fs.Parse(args)

	if *file1 == "" || *file2 == "" {
		return fmt.Errorf("usage: inspect verify -1 <log> -2 <log>")
	}
	a, err := parse(*file1)
	if err != nil {
		return err
	}
	b, err := parse(*file2)
	if err != nil {
		return err
	}
	fmt.Printf("First log ticks:  %d\n", len(a.Ticks))
	fmt.Printf("Second log ticks: %d\n", len(b.Ticks))

	mismatches := 0
	// Episode IDs differ between runs of the same seed.
	ignoreID := cmp.FilterPath(func(p cmp.Path) bool {
		return p.Last().String() == ".EpisodeID"
	}, cmp.Ignore())
	if diff := cmp.Diff(a.Header, b.Header, ignoreID); diff != "" {
		fmt.Printf("Header mismatch:\n%s", diff)
		mismatches++
	}
	for i := 0; i < min(len(a.Ticks), len(b.Ticks)); i++ {
		if diff := cmp.Diff(a.Ticks[i], b.Ticks[i], ignoreID); diff != "" {
			fmt.Printf("Mismatch at tick %d:\n%s", a.Ticks[i].Tick, diff)
			mismatches++
			if mismatches > 10 {
				fmt.Println("Too many mismatches, stopping.")
				break
			}
		}
	}
	if len(a.Ticks) != len(b.Ticks) {
		fmt.Printf("Count mismatch: %d vs %d\n", len(a.Ticks), len(b.Ticks))
		mismatches++
	}
	if mismatches > 0 {
		fmt.Println("FAILURE: Mismatches found.")
		os.Exit(1)
	}
	fmt.Println("SUCCESS: All ticks match.")
	return nil
}

func runCompare(args []string) error {
	fs := flag.NewFlagSet("compare", flag.ExitOnError)
	path := fs.String("log", "", "Log whose estimate is scored")
	refPath := fs.String("ref", "", "Log whose truth is the reference (defaults to -log)")
	maxShift := fs.Int("max-shift", 60, "Max tick shift searched for the best alignment")
	fs.Parse(args)

	lg, err := parse(*path)
	if err != nil {
		return err
	}
	ref := lg
	if *refPath != "" {
		if ref, err = parse(*refPath); err != nil {
			return err
		}
	}
	pred := make([]geom.Vec, len(lg.Ticks))
	for i, s := range lg.Ticks {
		pred[i] = s.Estimate.Mean.Pos()
	}
	truth := make([]geom.Vec, len(ref.Ticks))
	for i, s := range ref.Ticks {
		truth[i] = s.Truth.Pos()
	}
	rmse, shift := bestShiftRMSE(pred, truth, *maxShift)
	if math.IsInf(rmse, 1) {
		return fmt.Errorf("no overlapping ticks")
	}
	fmt.Printf("RMSE %.4f at shift %d ticks\n", rmse, shift)
	return nil
}

// bestShiftRMSE aligns pred against ref by up to maxShift samples either
// way and returns the lowest RMSE found.
func bestShiftRMSE(pred, ref []geom.Vec, maxShift int) (float64, int) {
	bestShift := 0
	bestRmse := math.Inf(1)
	for shift := -maxShift; shift <= maxShift; shift++ {
		var n int
		var sum float64
		if shift >= 0 {
			n = min(len(pred)-shift, len(ref))
			for i := 0; i < n; i++ {
				d := pred[i+shift].Sub(ref[i]).Len()
				sum += d * d
			}
		} else {
			s := -shift
			n = min(len(ref)-s, len(pred))
			for i := 0; i < n; i++ {
				d := pred[i].Sub(ref[i+s]).Len()
				sum += d * d
			}
		}
		if n <= 0 {
			continue
		}
		if rmse := math.Sqrt(sum / float64(n)); rmse < bestRmse {
			bestRmse, bestShift = rmse, shift
		}
	}
	return bestRmse, bestShift
}

func runPlot(args []string) error {
	fs := flag.NewFlagSet("plot", flag.ExitOnError)
	path := fs.String("log", "", "Input tick log")
	pngPath := fs.String("png", "", "Trajectory PNG output")
	chartPath := fs.String("chart", "", "Error chart HTML output")
	xmlPath := fs.String("xml", "", "Export the logged map as XML")
	fs.Parse(args)

	lg, err := parse(*path)
	if err != nil {
		return err
	}
	if *pngPath != "" {
		if err := report.SceneFromLog(lg).SavePNG(*pngPath, 8*vg.Inch); err != nil {
			return err
		}
		log.Printf("Wrote %s", *pngPath)
	}
	if *chartPath != "" {
		if err := writeChart(*chartPath, lg.Header.EpisodeID, lg.Ticks); err != nil {
			return err
		}
		log.Printf("Wrote %s", *chartPath)
	}
	if *xmlPath != "" {
		m, err := lg.Header.Map()
		if err != nil {
			return err
		}
		f, err := os.Create(*xmlPath)
		if err != nil {
			return err
		}
		defer f.Close()
		if err := m.WriteXML(f); err != nil {
			return err
		}
		log.Printf("Wrote %s", *xmlPath)
	}
	return nil
}

func writeChart(path, id string, ticks []sim.Snapshot) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return report.WritePage(f, report.ErrorChart("episode "+id, ticks))
}
