// Package geom holds the planar primitives shared by the map, the robot and
// the filter: vectors, wall segments, poses and angle wrapping.
package geom

import "math"

// eps is the tolerance below which a denominator is treated as zero.
const eps = 1e-12

// Vec is a point or direction in world coordinates.
type Vec struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// V is shorthand for Vec{x, y}.
func V(x, y float64) Vec { return Vec{X: x, Y: y} }

// Polar returns the unit vector at angle a.
func Polar(a float64) Vec { return Vec{X: math.Cos(a), Y: math.Sin(a)} }

func (v Vec) Add(o Vec) Vec { return Vec{v.X + o.X, v.Y + o.Y} }
func (v Vec) Sub(o Vec) Vec { return Vec{v.X - o.X, v.Y - o.Y} }
func (v Vec) Scale(s float64) Vec { return Vec{v.X * s, v.Y * s} }
func (v Vec) Dot(o Vec) float64 { return v.X*o.X + v.Y*o.Y }
func (v Vec) Cross(o Vec) float64 { return v.X*o.Y - v.Y*o.X }
func (v Vec) Len() float64 { return math.Hypot(v.X, v.Y) }
func (v Vec) Dist(o Vec) float64 { return v.Sub(o).Len() }
func (v Vec) Angle() float64 { return math.Atan2(v.Y, v.X) }
func (v Vec) Perp() Vec { return Vec{-v.Y, v.X} }
func (v Vec) Less(o Vec) bool { return v.X < o.X || (v.X == o.X && v.Y < o.Y) }
func (v Vec) IsFinite() bool { return !math.IsNaN(v.X+v.Y) && !math.IsInf(v.X+v.Y, 0) }
func (v Vec) ApproxEq(o Vec, tol float64) bool { return v.Dist(o) <= tol }

// Pose is a position plus heading in radians, wrapped to (-π, π].
type Pose struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Theta float64 `json:"theta"`
}

// Pos drops the heading.
func (p Pose) Pos() Vec { return Vec{p.X, p.Y} }

// Segment is a wall or sight line from A to B.
type Segment struct {
	A Vec `json:"a"`
	B Vec `json:"b"`
}

// Seg is shorthand for a segment from (x1, y1) to (x2, y2).
func Seg(x1, y1, x2, y2 float64) Segment {
	return Segment{A: Vec{x1, y1}, B: Vec{x2, y2}}
}

func (s Segment) Len() float64 { return s.A.Dist(s.B) }

// ClosestPoint returns the point on s nearest to p. A zero-length segment
// degrades to its single point.
func (s Segment) ClosestPoint(p Vec) Vec {
	d := s.B.Sub(s.A)
	l2 := d.Dot(d)
	if l2 < eps {
		return s.A
	}
	t := p.Sub(s.A).Dot(d) / l2
	switch {
	case t <= 0:
		return s.A
	case t >= 1:
		return s.B
	}
	return s.A.Add(d.Scale(t))
}

// DistanceTo is the perpendicular (or endpoint) distance from p to s.
func (s Segment) DistanceTo(p Vec) float64 {
	return p.Dist(s.ClosestPoint(p))
}

// RaySegment intersects the ray origin + t*dir (t >= 0) with s and returns
// the hit distance in units of |dir|. Parallel or collinear rays and
// zero-length segments report no hit.
func RaySegment(origin, dir Vec, s Segment) (float64, bool) {
	if s.Degenerate() {
		return 0, false
	}
	e := s.B.Sub(s.A)
	denom := dir.Cross(e)
	if math.Abs(denom) < eps {
		return 0, false
	}
	w := s.A.Sub(origin)
	t := w.Cross(e) / denom
	u := w.Cross(dir) / denom
	if t < 0 || u < 0 || u > 1 {
		return 0, false
	}
	return t, true
}

// Degenerate reports a zero-length segment. Such walls block nothing.
func (s Segment) Degenerate() bool {
	d := s.B.Sub(s.A)
	return d.Dot(d) < eps
}

// SegmentCircle reports whether s passes strictly within r of c. A
// degenerate segment never does.
func SegmentCircle(s Segment, c Vec, r float64) bool {
	return !s.Degenerate() && s.DistanceTo(c) < r
}

// SegmentsIntersect reports whether a and b share at least one point.
func SegmentsIntersect(a, b Segment) bool {
	d1 := orient(b.A, b.B, a.A)
	d2 := orient(b.A, b.B, a.B)
	d3 := orient(a.A, a.B, b.A)
	d4 := orient(a.A, a.B, b.B)
	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}
	switch {
	case d1 == 0 && onSegment(b, a.A):
		return true
	case d2 == 0 && onSegment(b, a.B):
		return true
	case d3 == 0 && onSegment(a, b.A):
		return true
	case d4 == 0 && onSegment(a, b.B):
		return true
	}
	return false
}

func orient(a, b, c Vec) float64 {
	v := b.Sub(a).Cross(c.Sub(a))
	if math.Abs(v) < eps {
		return 0
	}
	return v
}

func onSegment(s Segment, p Vec) bool {
	return math.Min(s.A.X, s.B.X)-eps <= p.X && p.X <= math.Max(s.A.X, s.B.X)+eps &&
		math.Min(s.A.Y, s.B.Y)-eps <= p.Y && p.Y <= math.Max(s.A.Y, s.B.Y)+eps
}

// WrapAngle maps a into (-π, π].
func WrapAngle(a float64) float64 {
	r := math.Remainder(a, 2*math.Pi)
	if r <= -math.Pi {
		r += 2 * math.Pi
	}
	return r
}

// AngleDiff returns a-b wrapped into (-π, π].
func AngleDiff(a, b float64) float64 {
	return WrapAngle(a - b)
}
