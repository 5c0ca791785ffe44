package robot

import (
	"math"
	"sort"

	"navsim-go/geom"
	"navsim-go/world"
)

// Detection is one range/bearing observation of a known landmark. Bearing
// is relative to the robot heading and wrapped to (-π, π].
type Detection struct {
	LandmarkID int      `json:"landmark_id"`
	Range      float64  `json:"range"`
	Bearing    float64  `json:"bearing"`
	Landmark   geom.Vec `json:"landmark"`
}

// MarkerField is the part of a map coverage collection needs.
type MarkerField interface {
	Markers() []world.Marker
	MarkCollected(id int) bool
}

// SensorOffsets returns the body-frame angle of each ranging sensor.
func (r *Robot) SensorOffsets() []float64 {
	return append([]float64(nil), r.offsets...)
}

// Sensors returns the distances measured by the last UpdateSensors.
func (r *Robot) Sensors() []float64 {
	return append([]float64(nil), r.sensors...)
}

// Detections returns the landmarks seen by the last DetectLandmarks.
func (r *Robot) Detections() []Detection {
	return append([]Detection(nil), r.detections...)
}

// UpdateSensors casts one ray per sensor from the body center. A sensor that
// hits nothing within SensorRange reads SensorRange.
func (r *Robot) UpdateSensors(walls []geom.Segment) {
	origin := r.pose.Pos()
	readings := make([]float64, len(r.offsets))
	for i, off := range r.offsets {
		dir := geom.Polar(r.pose.Theta + off)
		best := r.cfg.SensorRange
		for _, w := range walls {
			if t, ok := geom.RaySegment(origin, dir, w); ok && t < best {
				best = t
			}
		}
		readings[i] = best
	}
	r.sensors = readings
}

// DetectLandmarks observes every landmark within DetectionRadius (plus the
// landmark's own radius) and inside the field of view. With LineOfSight
// set, landmarks hidden behind a wall are dropped; walls ending on the
// landmark itself never hide it. Results are ordered by landmark ID.
func (r *Robot) DetectLandmarks(landmarks []world.Landmark, walls []geom.Segment) []Detection {
	pos := r.pose.Pos()
	var out []Detection
	for _, l := range landmarks {
		delta := l.Pos.Sub(pos)
		rng := delta.Len()
		if rng > r.cfg.DetectionRadius+l.Radius || rng < 1e-9 {
			continue
		}
		bearing := geom.AngleDiff(delta.Angle(), r.pose.Theta)
		if math.Abs(bearing) > r.cfg.FOVHalfAngle {
			continue
		}
		if r.cfg.LineOfSight && occluded(pos, l.Pos, walls) {
			continue
		}
		if r.rangeNoise != nil {
			rng = math.Max(0, rng+r.rangeNoise.Rand())
		}
		if r.bearingNoise != nil {
			bearing = geom.WrapAngle(bearing + r.bearingNoise.Rand())
		}
		out = append(out, Detection{LandmarkID: l.ID, Range: rng, Bearing: bearing, Landmark: l.Pos})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].LandmarkID < out[j].LandmarkID })
	r.detections = out
	return r.Detections()
}

// occluded stops the sight line just short of the target so walls that
// touch the landmark do not count.
func occluded(from, to geom.Vec, walls []geom.Segment) bool {
	sight := geom.Segment{A: from, B: from.Add(to.Sub(from).Scale(1 - 1e-6))}
	for _, w := range walls {
		if w.Degenerate() || w.DistanceTo(to) < 1e-9 {
			continue
		}
		if geom.SegmentsIntersect(sight, w) {
			return true
		}
	}
	return false
}

// CollectMarkers flags every uncollected marker the body overlaps and
// returns how many were newly collected.
func (r *Robot) CollectMarkers(field MarkerField) int {
	pos := r.pose.Pos()
	reach := r.cfg.Radius + r.cfg.MarkerRadius
	n := 0
	for _, m := range field.Markers() {
		if m.Collected || m.Pos.Dist(pos) > reach {
			continue
		}
		if field.MarkCollected(m.ID) {
			n++
		}
	}
	r.coverage += n
	return n
}
