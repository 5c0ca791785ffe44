// Package robot simulates a differential-drive robot: unicycle kinematics,
// circle-versus-wall collision, a ring of ranging sensors, landmark
// detection and coverage marker collection.
package robot

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"navsim-go/geom"
)

// Side selects a wheel.
type Side int

const (
	Left Side = iota
	Right
)

func (s Side) String() string {
	if s == Left {
		return "left"
	}
	return "right"
}

// penetrationTol absorbs float error after a push-out to exactly Radius.
const penetrationTol = 1e-9

// Robot is owned by a single episode and is not safe for concurrent use.
type Robot struct {
	cfg  Config
	pose geom.Pose

	wheels   [2]float64
	v, omega float64

	offsets    []float64
	sensors    []float64
	detections []Detection

	collisions int
	coverage   int
	distance   float64

	rangeNoise   *distuv.Normal
	bearingNoise *distuv.Normal
}

// New places a robot at start. Sensors read SensorRange until the first
// UpdateSensors.
func New(cfg Config, start geom.Pose) (*Robot, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r := &Robot{
		cfg:     cfg,
		pose:    geom.Pose{X: start.X, Y: start.Y, Theta: geom.WrapAngle(start.Theta)},
		offsets: make([]float64, cfg.SensorCount),
		sensors: make([]float64, cfg.SensorCount),
	}
	for i := range r.offsets {
		r.offsets[i] = geom.WrapAngle(2 * math.Pi * float64(i) / float64(cfg.SensorCount))
		r.sensors[i] = cfg.SensorRange
	}
	src := rand.NewPCG(cfg.Seed, cfg.Seed^0xda3e39cb94b95bdb)
	if cfg.RangeNoiseStd > 0 {
		r.rangeNoise = &distuv.Normal{Mu: 0, Sigma: cfg.RangeNoiseStd, Src: src}
	}
	if cfg.BearingNoiseStd > 0 {
		r.bearingNoise = &distuv.Normal{Mu: 0, Sigma: cfg.BearingNoiseStd, Src: src}
	}
	return r, nil
}

func (r *Robot) Config() Config { return r.cfg }

// SetMotor sets one wheel to off or to ±MotorSpeed.
func (r *Robot) SetMotor(side Side, enabled, forward bool) {
	w := 0.0
	if enabled {
		w = r.cfg.MotorSpeed
		if !forward {
			w = -w
		}
	}
	r.wheels[side] = w
	r.recompute()
}

// SetWheelVelocities is the continuous drive command.
func (r *Robot) SetWheelVelocities(vLeft, vRight float64) {
	r.wheels[Left] = vLeft
	r.wheels[Right] = vRight
	r.recompute()
}

func (r *Robot) recompute() {
	r.v = (r.wheels[Left] + r.wheels[Right]) / 2
	r.omega = (r.wheels[Right] - r.wheels[Left]) / r.cfg.WheelBase
}

func (r *Robot) Pose() geom.Pose { return r.pose }

// Velocity returns the linear and angular velocity implied by the wheels.
func (r *Robot) Velocity() (v, omega float64) { return r.v, r.omega }

func (r *Robot) Wheels() (vLeft, vRight float64) { return r.wheels[Left], r.wheels[Right] }

func (r *Robot) Collisions() int { return r.collisions }
func (r *Robot) Coverage() int { return r.coverage }
func (r *Robot) Distance() float64 { return r.distance }

// Step integrates the unicycle model over dt and resolves collisions with
// walls. Motion is split into sub-steps of at most half the body radius so
// the body cannot pass through a wall in one call. The collision counter
// grows by at most one per call; the result reports whether it did.
func (r *Robot) Step(dt float64, walls []geom.Segment) bool {
	if !(dt > 0) {
		return false
	}
	n := 1
	if travel := math.Abs(r.v) * dt; travel > r.cfg.Radius/2 {
		n = int(math.Ceil(travel / (r.cfg.Radius / 2)))
	}
	h := dt / float64(n)
	collided := false
	for i := 0; i < n; i++ {
		prev := r.pose.Pos()
		r.pose.X += r.v * math.Cos(r.pose.Theta) * h
		r.pose.Y += r.v * math.Sin(r.pose.Theta) * h
		r.pose.Theta = geom.WrapAngle(r.pose.Theta + r.omega*h)
		if r.resolve(walls, prev) {
			collided = true
		}
		r.distance += r.pose.Pos().Dist(prev)
	}
	if collided {
		r.collisions++
	}
	return collided
}

// resolve pushes the body out of every penetrated wall along the contact
// normal, for up to MaxCollisionPasses passes. A body still wedged after the
// last pass returns to prev. Zero-length walls are not obstacles.
func (r *Robot) resolve(walls []geom.Segment, prev geom.Vec) bool {
	pos := r.pose.Pos()
	hit := false
	for pass := 0; pass < r.cfg.MaxCollisionPasses; pass++ {
		moved := false
		for _, w := range walls {
			if !geom.SegmentCircle(w, pos, r.cfg.Radius-penetrationTol) {
				continue
			}
			cp := w.ClosestPoint(pos)
			d := pos.Dist(cp)
			var nrm geom.Vec
			if d > 1e-9 {
				nrm = pos.Sub(cp).Scale(1 / d)
			} else {
				nrm = contactNormal(w, pos, prev)
			}
			pos = cp.Add(nrm.Scale(r.cfg.Radius))
			moved = true
		}
		if !moved {
			break
		}
		hit = true
	}
	if hit && r.penetrates(pos, walls) {
		pos = prev
	}
	r.pose.X, r.pose.Y = pos.X, pos.Y
	return hit
}

func (r *Robot) penetrates(p geom.Vec, walls []geom.Segment) bool {
	for _, w := range walls {
		if geom.SegmentCircle(w, p, r.cfg.Radius-penetrationTol) {
			return true
		}
	}
	return false
}

// contactNormal handles a center lying exactly on the wall: push back toward
// the side the body came from.
func contactNormal(w geom.Segment, pos, prev geom.Vec) geom.Vec {
	d := w.B.Sub(w.A)
	if l := d.Len(); l > 1e-12 {
		n := d.Perp().Scale(1 / l)
		if prev.Sub(w.A).Dot(n) < 0 {
			n = n.Scale(-1)
		}
		return n
	}
	back := prev.Sub(pos)
	if l := back.Len(); l > 1e-12 {
		return back.Scale(1 / l)
	}
	return geom.V(1, 0)
}

// State is a read-only copy of the robot for drivers and recorders.
type State struct {
	Pose       geom.Pose   `json:"pose"`
	V          float64     `json:"v"`
	Omega      float64     `json:"omega"`
	Wheels     [2]float64  `json:"wheels"`
	Sensors    []float64   `json:"sensors"`
	Detections []Detection `json:"detections"`
	Collisions int         `json:"collisions"`
	Coverage   int         `json:"coverage"`
	Distance   float64     `json:"distance"`
}

func (r *Robot) State() State {
	return State{
		Pose:       r.pose,
		V:          r.v,
		Omega:      r.omega,
		Wheels:     r.wheels,
		Sensors:    r.Sensors(),
		Detections: r.Detections(),
		Collisions: r.collisions,
		Coverage:   r.coverage,
		Distance:   r.distance,
	}
}
