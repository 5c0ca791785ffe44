// Package report renders finished episodes: a PNG of the trajectory over
// the map and HTML charts of filter error and batch scores.
package report

import (
	"fmt"
	"image/color"
	"io"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"navsim-go/binlog"
	"navsim-go/geom"
	"navsim-go/sim"
	"navsim-go/world"
)

var (
	wallColor     = color.RGBA{A: 255}
	truthColor    = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	estimateColor = color.RGBA{R: 214, G: 39, B: 40, A: 255}
	landmarkColor = color.RGBA{R: 44, G: 160, B: 44, A: 255}
	markerColor   = color.RGBA{R: 180, G: 180, B: 180, A: 255}
)

// Scene is everything drawn on a trajectory plot.
type Scene struct {
	Title     string
	Walls     []geom.Segment
	Landmarks []geom.Vec
	Markers   []geom.Vec
	Truth     []geom.Vec
	Estimate  []geom.Vec
}

// SceneFromLog builds a scene from a parsed tick log.
func SceneFromLog(lg *binlog.Log) Scene {
	s := Scene{
		Title:   "episode " + lg.Header.EpisodeID,
		Walls:   lg.Header.Walls,
		Markers: lg.Header.Markers,
	}
	for _, l := range lg.Header.Landmarks {
		s.Landmarks = append(s.Landmarks, l.Pos)
	}
	for _, t := range lg.Ticks {
		s.Truth = append(s.Truth, t.Truth.Pos())
		s.Estimate = append(s.Estimate, t.Estimate.Mean.Pos())
	}
	return s
}

// SceneFromHistory builds a scene from a live map and recorded ticks.
func SceneFromHistory(title string, m *world.Map, h *sim.History) Scene {
	s := Scene{Title: title, Walls: m.Segments()}
	for _, l := range m.Landmarks() {
		s.Landmarks = append(s.Landmarks, l.Pos)
	}
	for _, mk := range m.Markers() {
		s.Markers = append(s.Markers, mk.Pos)
	}
	s.Truth, s.Estimate = h.Paths()
	return s
}

func xys(pts []geom.Vec) plotter.XYs {
	out := make(plotter.XYs, len(pts))
	for i, p := range pts {
		out[i] = plotter.XY{X: p.X, Y: p.Y}
	}
	return out
}

// Plot lays out the scene with equal axis scales.
func (s Scene) Plot() (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = s.Title
	p.X.Label.Text = "x"
	p.Y.Label.Text = "y"

	for _, w := range s.Walls {
		l, err := plotter.NewLine(xys([]geom.Vec{w.A, w.B}))
		if err != nil {
			return nil, err
		}
		l.Color = wallColor
		l.Width = vg.Points(2)
		p.Add(l)
	}
	if len(s.Markers) > 0 {
		sc, err := plotter.NewScatter(xys(s.Markers))
		if err != nil {
			return nil, err
		}
		sc.GlyphStyle.Color = markerColor
		sc.GlyphStyle.Radius = vg.Points(1)
		sc.GlyphStyle.Shape = draw.CircleGlyph{}
		p.Add(sc)
	}
	if len(s.Landmarks) > 0 {
		sc, err := plotter.NewScatter(xys(s.Landmarks))
		if err != nil {
			return nil, err
		}
		sc.GlyphStyle.Color = landmarkColor
		sc.GlyphStyle.Radius = vg.Points(3)
		sc.GlyphStyle.Shape = draw.TriangleGlyph{}
		p.Add(sc)
		p.Legend.Add("landmarks", sc)
	}
	for _, path := range []struct {
		name   string
		pts    []geom.Vec
		c      color.Color
		dashed bool
	}{
		{"truth", s.Truth, truthColor, false},
		{"estimate", s.Estimate, estimateColor, true},
	} {
		if len(path.pts) < 2 {
			continue
		}
		l, err := plotter.NewLine(xys(path.pts))
		if err != nil {
			return nil, err
		}
		l.Color = path.c
		l.Width = vg.Points(1)
		if path.dashed {
			l.Dashes = []vg.Length{vg.Points(3), vg.Points(2)}
		}
		p.Add(l)
		p.Legend.Add(path.name, l)
	}
	p.Legend.Top = true

	if b, ok := s.bounds(); ok {
		// Square the data window so distances read the same on both axes.
		side := math.Max(b.Width(), b.Height())
		cx, cy := (b.Min.X+b.Max.X)/2, (b.Min.Y+b.Max.Y)/2
		p.X.Min, p.X.Max = cx-side/2, cx+side/2
		p.Y.Min, p.Y.Max = cy-side/2, cy+side/2
	}
	return p, nil
}

func (s Scene) bounds() (world.Rect, bool) {
	var pts []geom.Vec
	for _, w := range s.Walls {
		pts = append(pts, w.A, w.B)
	}
	pts = append(pts, s.Truth...)
	pts = append(pts, s.Estimate...)
	if len(pts) == 0 {
		return world.Rect{}, false
	}
	b := world.Rect{Min: pts[0], Max: pts[0]}
	for _, q := range pts[1:] {
		b.Min.X, b.Min.Y = math.Min(b.Min.X, q.X), math.Min(b.Min.Y, q.Y)
		b.Max.X, b.Max.Y = math.Max(b.Max.X, q.X), math.Max(b.Max.Y, q.Y)
	}
	pad := 0.05 * math.Max(math.Max(b.Width(), b.Height()), 1)
	b.Min.X, b.Min.Y = b.Min.X-pad, b.Min.Y-pad
	b.Max.X, b.Max.Y = b.Max.X+pad, b.Max.Y+pad
	return b, true
}

// SavePNG writes the scene to path. The format follows the extension.
func (s Scene) SavePNG(path string, size vg.Length) error {
	p, err := s.Plot()
	if err != nil {
		return err
	}
	if err := p.Save(size, size, path); err != nil {
		return fmt.Errorf("save trajectory plot: %w", err)
	}
	return nil
}

// WritePNG streams the scene as PNG.
func (s Scene) WritePNG(w io.Writer, size vg.Length) error {
	p, err := s.Plot()
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(size, size, "png")
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}
