package geom

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapAngle(t *testing.T) {
	tests := []struct {
		name string
		in   float64
		want float64
	}{
		{"zero", 0, 0},
		{"pi stays", math.Pi, math.Pi},
		{"minus pi maps to pi", -math.Pi, math.Pi},
		{"just past pi", math.Pi + 0.1, -math.Pi + 0.1},
		{"negative lap", -2*math.Pi - 0.25, -0.25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := WrapAngle(tt.in)
			assert.InDelta(t, tt.want, got, 1e-12)
			assert.Greater(t, got, -math.Pi)
			assert.LessOrEqual(t, got, math.Pi)
		})
	}
}

func TestAngleDiffAcrossBoundary(t *testing.T) {
	deg := math.Pi / 180
	d := AngleDiff(179*deg, -179*deg)
	assert.InDelta(t, -2*deg, d, 1e-9)
	assert.InDelta(t, 2*deg, AngleDiff(-179*deg, 179*deg), 1e-9)
}

func TestClosestPoint(t *testing.T) {
	s := Seg(0, 0, 10, 0)
	assert.Equal(t, V(3, 0), s.ClosestPoint(V(3, 5)))
	assert.Equal(t, V(0, 0), s.ClosestPoint(V(-4, 1)))
	assert.Equal(t, V(10, 0), s.ClosestPoint(V(12, -1)))
	assert.InDelta(t, 5.0, s.DistanceTo(V(3, 5)), 1e-12)

	point := Seg(2, 2, 2, 2)
	assert.InDelta(t, 5.0, point.DistanceTo(V(5, 6)), 1e-12)
}

func TestRaySegment(t *testing.T) {
	wall := Seg(5, -1, 5, 1)

	d, ok := RaySegment(V(0, 0), V(1, 0), wall)
	assert.True(t, ok)
	assert.InDelta(t, 5.0, d, 1e-12)

	_, ok = RaySegment(V(0, 0), V(-1, 0), wall)
	assert.False(t, ok, "wall behind the ray")

	_, ok = RaySegment(V(0, 0), V(0, 1), Seg(1, 0, 1, 5))
	assert.False(t, ok, "parallel ray")

	_, ok = RaySegment(V(0, 0), V(1, 0), Seg(2, 0, 6, 0))
	assert.False(t, ok, "collinear ray")

	_, ok = RaySegment(V(0, 0), V(1, 0), Seg(3, 0, 3, 0))
	assert.False(t, ok, "zero-length wall")
}

func TestSegmentsIntersect(t *testing.T) {
	assert.True(t, SegmentsIntersect(Seg(0, 0, 2, 2), Seg(0, 2, 2, 0)))
	assert.True(t, SegmentsIntersect(Seg(0, 0, 2, 0), Seg(2, 0, 2, 3)), "shared endpoint")
	assert.False(t, SegmentsIntersect(Seg(0, 0, 1, 0), Seg(2, -1, 2, 1)))
	assert.False(t, SegmentsIntersect(Seg(0, 0, 1, 1), Seg(0, 1, 1, 2)))
}

func TestSegmentCircle(t *testing.T) {
	s := Seg(0, 0, 10, 0)
	assert.True(t, SegmentCircle(s, V(5, 0.5), 1))
	assert.False(t, SegmentCircle(s, V(5, 1), 1))
	assert.False(t, SegmentCircle(s, V(12, 0), 1))
	assert.False(t, SegmentCircle(Seg(5, 0, 5, 0), V(5, 0.5), 1), "zero-length walls are ignored")
	assert.True(t, Seg(5, 0, 5, 0).Degenerate())
	assert.False(t, s.Degenerate())
}
