package world

import (
	"fmt"
	"math/rand/v2"

	"navsim-go/geom"
	"navsim-go/monitoring"
)

// GenParams drive Generate. Complexity is the number of walls kept beyond
// the spanning tree of openings: 0 gives an open room, MaxComplexity a
// perfect maze.
type GenParams struct {
	Rows           int     `json:"rows"`
	Cols           int     `json:"cols"`
	CellSize       float64 `json:"cell_size"`
	Complexity     int     `json:"complexity"`
	Seed           uint64  `json:"seed"`
	// MarkersPerSide n lays an n×n grid of markers in every cell.
	MarkersPerSide int     `json:"markers_per_side"`
	LandmarkRadius float64 `json:"landmark_radius"`
}

// DefaultGenParams is a 3x3 maze with 100-unit cells.
func DefaultGenParams() GenParams {
	return GenParams{
		Rows:           3,
		Cols:           3,
		CellSize:       100,
		Complexity:     2,
		MarkersPerSide: 2,
		LandmarkRadius: 3,
	}
}

// Validate rejects parameters no map can be built from. Complexity is not
// checked here; Generate clamps it.
func (p GenParams) Validate() error {
	switch {
	case p.Rows < 1 || p.Cols < 1:
		return fmt.Errorf("%w: grid %dx%d", ErrInvalidParams, p.Rows, p.Cols)
	case !(p.CellSize > 0):
		return fmt.Errorf("%w: cell size %g", ErrInvalidParams, p.CellSize)
	case p.MarkersPerSide < 0:
		return fmt.Errorf("%w: markers per side %d", ErrInvalidParams, p.MarkersPerSide)
	case p.LandmarkRadius < 0:
		return fmt.Errorf("%w: landmark radius %g", ErrInvalidParams, p.LandmarkRadius)
	}
	return nil
}

// MaxComplexity is the number of internal edges outside any spanning tree.
func (p GenParams) MaxComplexity() int {
	return (p.Rows - 1) * (p.Cols - 1)
}

// grid tracks which internal cell edges carry a wall. Vertical edges
// (between columns) come first, then horizontal ones.
type grid struct {
	rows, cols int
	size       float64
	wall       []bool
}

func newGrid(rows, cols int, size float64) *grid {
	return &grid{rows: rows, cols: cols, size: size, wall: make([]bool, rows*(cols-1)+cols*(rows-1))}
}

func (g *grid) vEdge(r, c int) int { return r*(g.cols-1) + c }
func (g *grid) hEdge(r, c int) int { return g.rows*(g.cols-1) + r*g.cols + c }

type step struct{ cell, edge int }

func (g *grid) neighbours(cell int) []step {
	r, c := cell/g.cols, cell%g.cols
	out := make([]step, 0, 4)
	if c > 0 {
		out = append(out, step{cell - 1, g.vEdge(r, c-1)})
	}
	if c < g.cols-1 {
		out = append(out, step{cell + 1, g.vEdge(r, c)})
	}
	if r > 0 {
		out = append(out, step{cell - g.cols, g.hEdge(r-1, c)})
	}
	if r < g.rows-1 {
		out = append(out, step{cell + g.cols, g.hEdge(r, c)})
	}
	return out
}

// carve runs an iterative depth-first search from cell 0 and returns the
// tree edges it opened.
func (g *grid) carve(rng *rand.Rand) []bool {
	tree := make([]bool, len(g.wall))
	visited := make([]bool, g.rows*g.cols)
	visited[0] = true
	stack := []int{0}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		var open []step
		for _, s := range g.neighbours(cur) {
			if !visited[s.cell] {
				open = append(open, s)
			}
		}
		if len(open) == 0 {
			stack = stack[:len(stack)-1]
			continue
		}
		next := open[rng.IntN(len(open))]
		tree[next.edge] = true
		visited[next.cell] = true
		stack = append(stack, next.cell)
	}
	return tree
}

// reachable counts cells reachable from cell 0 through edges without walls.
func (g *grid) reachable() int {
	seen := make([]bool, g.rows*g.cols)
	seen[0] = true
	queue := []int{0}
	n := 0
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		n++
		for _, s := range g.neighbours(cur) {
			if !seen[s.cell] && !g.wall[s.edge] {
				seen[s.cell] = true
				queue = append(queue, s.cell)
			}
		}
	}
	return n
}

func (g *grid) edgeSegment(e int) geom.Segment {
	size := g.size
	nv := g.rows * (g.cols - 1)
	if e < nv {
		r, c := e/(g.cols-1), e%(g.cols-1)
		x := float64(c+1) * size
		return geom.Seg(x, float64(r)*size, x, float64(r+1)*size)
	}
	e -= nv
	r, c := e/g.cols, e%g.cols
	y := float64(r+1) * size
	return geom.Seg(float64(c)*size, y, float64(c+1)*size, y)
}

// Generate builds a deterministic maze for p.Seed. The outer boundary is
// always present and every cell stays reachable from every other.
func Generate(p GenParams) (*Map, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	maxC := p.MaxComplexity()
	k := p.Complexity
	if k < 0 || k > maxC {
		clamped := min(max(k, 0), maxC)
		monitoring.Logf("world: complexity %d clamped to %d for %dx%d grid", k, clamped, p.Rows, p.Cols)
		k = clamped
	}

	rng := rand.New(rand.NewPCG(p.Seed, p.Seed^0x9e3779b97f4a7c15))
	g := newGrid(p.Rows, p.Cols, p.CellSize)
	tree := g.carve(rng)

	var extra []int
	for e, open := range tree {
		if !open {
			extra = append(extra, e)
		}
	}
	rng.Shuffle(len(extra), func(i, j int) { extra[i], extra[j] = extra[j], extra[i] })
	for _, e := range extra[:k] {
		g.wall[e] = true
	}

	s := p.CellSize
	w, h := float64(p.Cols)*s, float64(p.Rows)*s
	var segs []geom.Segment
	for c := 0; c < p.Cols; c++ {
		x0, x1 := float64(c)*s, float64(c+1)*s
		segs = append(segs, geom.Seg(x0, 0, x1, 0), geom.Seg(x0, h, x1, h))
	}
	for r := 0; r < p.Rows; r++ {
		y0, y1 := float64(r)*s, float64(r+1)*s
		segs = append(segs, geom.Seg(0, y0, 0, y1), geom.Seg(w, y0, w, y1))
	}
	for e, isWall := range g.wall {
		if isWall {
			segs = append(segs, g.edgeSegment(e))
		}
	}

	var markers []geom.Vec
	n := p.MarkersPerSide
	for r := 0; r < p.Rows; r++ {
		for c := 0; c < p.Cols; c++ {
			for i := 0; i < n; i++ {
				for j := 0; j < n; j++ {
					markers = append(markers, geom.V(
						(float64(c)+(float64(j)+0.5)/float64(n))*s,
						(float64(r)+(float64(i)+0.5)/float64(n))*s,
					))
				}
			}
		}
	}

	m, err := NewMap(segs, nil, markers, p.LandmarkRadius)
	if err != nil {
		return nil, err
	}
	m.grid = g
	m.start = geom.Pose{X: s / 2, Y: s / 2}
	return m, nil
}

// CellCenter returns the center of grid cell (row, col). Maps without a
// grid return the start position.
func (m *Map) CellCenter(row, col int) geom.Vec {
	if m.grid == nil {
		return m.start.Pos()
	}
	return geom.V((float64(col)+0.5)*m.grid.size, (float64(row)+0.5)*m.grid.size)
}

// ReachableCells counts cells reachable from the start cell. Hand-built and
// loaded maps report 0.
func (m *Map) ReachableCells() int {
	if m.grid == nil {
		return 0
	}
	return m.grid.reachable()
}
