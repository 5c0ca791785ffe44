// Package world owns the static geometry of an episode: wall segments, known
// landmarks and the coverage markers the robot collects.
package world

import (
	"errors"
	"fmt"
	"sort"

	"navsim-go/geom"
)

// ErrInvalidParams is wrapped by every map construction failure.
var ErrInvalidParams = errors.New("invalid map parameters")

// Wall is an immutable line segment.
type Wall struct {
	ID  int          `json:"id"`
	Seg geom.Segment `json:"seg"`
}

// Landmark is a known point feature. Radius is the physical extent added to
// the robot's detection radius.
type Landmark struct {
	ID     int      `json:"id"`
	Pos    geom.Vec `json:"pos"`
	Radius float64  `json:"radius"`
}

// Marker is a coverage point ("dust") that flips to collected once.
type Marker struct {
	ID        int      `json:"id"`
	Pos       geom.Vec `json:"pos"`
	Collected bool     `json:"collected"`
}

// Rect is an axis-aligned bounding box.
type Rect struct {
	Min geom.Vec `json:"min"`
	Max geom.Vec `json:"max"`
}

func (r Rect) Width() float64 { return r.Max.X - r.Min.X }
func (r Rect) Height() float64 { return r.Max.Y - r.Min.Y }

// Contains reports whether p lies inside r, edges included.
func (r Rect) Contains(p geom.Vec) bool {
	return p.X >= r.Min.X && p.X <= r.Max.X && p.Y >= r.Min.Y && p.Y <= r.Max.Y
}

// Map is created once per episode. Only marker flags change afterwards.
type Map struct {
	walls     []Wall
	segs      []geom.Segment
	landmarks []Landmark
	markers   []Marker
	collected int
	bounds    Rect
	start     geom.Pose
	lmRadius  float64

	grid *grid
}

// NewMap builds a map from explicit geometry. When landmarks is nil the
// distinct wall endpoints are used instead.
func NewMap(walls []geom.Segment, landmarks []geom.Vec, markers []geom.Vec, landmarkRadius float64) (*Map, error) {
	if len(walls) == 0 {
		return nil, fmt.Errorf("%w: map has no walls", ErrInvalidParams)
	}
	if landmarkRadius < 0 {
		return nil, fmt.Errorf("%w: negative landmark radius %g", ErrInvalidParams, landmarkRadius)
	}
	if landmarks == nil {
		landmarks = WallCorners(walls)
	}
	m := &Map{lmRadius: landmarkRadius}
	for i, s := range walls {
		if !s.A.IsFinite() || !s.B.IsFinite() {
			return nil, fmt.Errorf("%w: wall %d has non-finite endpoints", ErrInvalidParams, i)
		}
		m.walls = append(m.walls, Wall{ID: i, Seg: s})
		m.segs = append(m.segs, s)
	}
	for i, p := range landmarks {
		m.landmarks = append(m.landmarks, Landmark{ID: i, Pos: p, Radius: landmarkRadius})
	}
	for i, p := range markers {
		m.markers = append(m.markers, Marker{ID: i, Pos: p})
	}
	m.bounds = boundsOf(walls)
	m.start = geom.Pose{
		X: (m.bounds.Min.X + m.bounds.Max.X) / 2,
		Y: (m.bounds.Min.Y + m.bounds.Max.Y) / 2,
	}
	return m, nil
}

// WallCorners returns the distinct endpoints of walls in lexical (x, y)
// order. This is the landmark set of generated maps.
func WallCorners(walls []geom.Segment) []geom.Vec {
	seen := make(map[geom.Vec]struct{}, 2*len(walls))
	var out []geom.Vec
	for _, w := range walls {
		for _, p := range [2]geom.Vec{w.A, w.B} {
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

func boundsOf(walls []geom.Segment) Rect {
	r := Rect{Min: walls[0].A, Max: walls[0].A}
	for _, w := range walls {
		for _, p := range [2]geom.Vec{w.A, w.B} {
			r.Min.X = min(r.Min.X, p.X)
			r.Min.Y = min(r.Min.Y, p.Y)
			r.Max.X = max(r.Max.X, p.X)
			r.Max.Y = max(r.Max.Y, p.Y)
		}
	}
	return r
}

// Walls returns a copy of the wall list.
func (m *Map) Walls() []Wall {
	return append([]Wall(nil), m.walls...)
}

// Segments returns a copy of the wall geometry, in wall ID order.
func (m *Map) Segments() []geom.Segment {
	return append([]geom.Segment(nil), m.segs...)
}

// Landmarks returns a copy of the landmark list in ID order.
func (m *Map) Landmarks() []Landmark {
	return append([]Landmark(nil), m.landmarks...)
}

// Markers returns a copy of the markers with their current flags.
func (m *Map) Markers() []Marker {
	return append([]Marker(nil), m.markers...)
}

func (m *Map) Bounds() Rect { return m.bounds }

// StartPose is the center of cell (0, 0) for generated maps and the center
// of the bounds otherwise, heading 0.
func (m *Map) StartPose() geom.Pose { return m.start }

// LandmarkRadius is the radius shared by every landmark.
func (m *Map) LandmarkRadius() float64 { return m.lmRadius }

func (m *Map) TotalMarkers() int { return len(m.markers) }

func (m *Map) CollectedMarkers() int { return m.collected }

// LandmarksNear returns every landmark within radius of p in ascending ID
// order.
func (m *Map) LandmarksNear(p geom.Vec, radius float64) []Landmark {
	var out []Landmark
	for _, l := range m.landmarks {
		if l.Pos.Dist(p) <= radius {
			out = append(out, l)
		}
	}
	return out
}

// MarkCollected flags the marker and reports whether it was newly
// collected. Unknown IDs and repeated calls are no-ops.
func (m *Map) MarkCollected(id int) bool {
	if id < 0 || id >= len(m.markers) || m.markers[id].Collected {
		return false
	}
	m.markers[id].Collected = true
	m.collected++
	return true
}

// Coverage is the collected fraction of markers, 0 for a map without any.
func (m *Map) Coverage() float64 {
	if len(m.markers) == 0 {
		return 0
	}
	return float64(m.collected) / float64(len(m.markers))
}
