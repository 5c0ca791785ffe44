// Package sim ties the map, the robot and the filter together into
// episodes advanced one tick at a time.
package sim

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat/distuv"

	"navsim-go/fusion"
	"navsim-go/geom"
	"navsim-go/monitoring"
	"navsim-go/robot"
	"navsim-go/world"
)

// Snapshot is the state of an episode after one tick. Slices are copies.
type Snapshot struct {
	EpisodeID string  `json:"episode_id"`
	Tick      int     `json:"tick"`
	Time      float64 `json:"time"`

	Truth    geom.Pose       `json:"truth"`
	Estimate fusion.Estimate `json:"estimate"`
	// Display is what a viewer should draw: Truth, or the estimate when
	// the episode visualizes it.
	Display geom.Pose `json:"display"`

	Command Command        `json:"command"`
	Control fusion.Control `json:"control"`

	Sensors    []float64         `json:"sensors"`
	Detections []robot.Detection `json:"detections"`
	Applied    int               `json:"applied"`
	Skipped    []fusion.Skip     `json:"skipped,omitempty"`

	Collided     bool    `json:"collided"`
	Collisions   int     `json:"collisions"`
	Collected    int     `json:"collected"`
	TotalMarkers int     `json:"total_markers"`
	Score        float64 `json:"score"`
}

// PositionError is the distance between the true and estimated positions.
func (s Snapshot) PositionError() float64 {
	return s.Truth.Pos().Dist(s.Estimate.Mean.Pos())
}

// HeadingError is the wrapped difference between estimated and true heading.
func (s Snapshot) HeadingError() float64 {
	return geom.AngleDiff(s.Estimate.Mean.Theta, s.Truth.Theta)
}

// Result summarises a finished (or interrupted) episode.
type Result struct {
	EpisodeID     string    `json:"episode_id"`
	Seed          uint64    `json:"seed"`
	Ticks         int       `json:"ticks"`
	Score         float64   `json:"score"`
	Collisions    int       `json:"collisions"`
	Collected     int       `json:"collected"`
	TotalMarkers  int       `json:"total_markers"`
	Distance      float64   `json:"distance"`
	FinalTruth    geom.Pose `json:"final_truth"`
	FinalEstimate geom.Pose `json:"final_estimate"`
	PositionRMSE  float64   `json:"position_rmse"`
	FinalPosError float64   `json:"final_position_error"`
	Applied       int       `json:"applied"`
	Skipped       int       `json:"skipped"`

	// MeanNIS and NISOutside measure filter consistency over the applied
	// measurements; see fusion.Consistency.
	MeanNIS    float64 `json:"mean_nis"`
	NISOutside float64 `json:"nis_outside"`
}

// Episode owns one map, one robot and one filter. It is not safe for
// concurrent use; run separate episodes for parallelism.
type Episode struct {
	id    string
	cfg   Config
	m     *world.Map
	walls []geom.Segment
	rob   *robot.Robot
	ekf   *fusion.EKF
	ctrl  Controller
	recs  []Recorder

	vNoise, wNoise *distuv.Normal

	tick     int
	time     float64
	last     Snapshot
	sumSqErr float64
	applied  int
	skipped  int
	nis      fusion.Consistency
}

// NewEpisode builds the map, places the robot at the start pose and seeds
// the filter. Every configuration problem is reported here, before the
// first tick.
func NewEpisode(cfg Config, ctrl Controller, recs ...Recorder) (*Episode, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if ctrl == nil {
		return nil, fmt.Errorf("%w: nil controller", ErrInvalidConfig)
	}

	var (
		m   *world.Map
		err error
	)
	if cfg.MapFile != "" {
		m, err = world.LoadXML(cfg.MapFile)
	} else {
		m, err = world.Generate(cfg.Map)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: map: %w", ErrInvalidConfig, err)
	}

	start := m.StartPose()
	if cfg.Start != nil {
		start = *cfg.Start
	}
	if cfg.Robot.Seed == 0 {
		cfg.Robot.Seed = cfg.Seed
	}
	rob, err := robot.New(cfg.Robot, start)
	if err != nil {
		return nil, fmt.Errorf("%w: robot: %w", ErrInvalidConfig, err)
	}

	cfg.Filter.InitialMean = geom.Pose{
		X:     start.X + cfg.InitialOffset.X,
		Y:     start.Y + cfg.InitialOffset.Y,
		Theta: geom.WrapAngle(start.Theta + cfg.InitialOffset.Theta),
	}
	ekf, err := fusion.NewEKF(cfg.Filter)
	if err != nil {
		return nil, fmt.Errorf("%w: filter: %w", ErrInvalidConfig, err)
	}

	id := cfg.ID
	if id == "" {
		id = uuid.NewString()
	}
	e := &Episode{
		id:    id,
		cfg:   cfg,
		m:     m,
		walls: m.Segments(),
		rob:   rob,
		ekf:   ekf,
		ctrl:  ctrl,
		recs:  recs,
	}
	if cfg.OdometryNoise[0] > 0 || cfg.OdometryNoise[1] > 0 {
		src := rand.NewPCG(cfg.Seed, cfg.Seed^0x2545f4914f6cdd1d)
		e.vNoise = &distuv.Normal{Sigma: cfg.OdometryNoise[0], Src: src}
		e.wNoise = &distuv.Normal{Sigma: cfg.OdometryNoise[1], Src: src}
	}

	// Sensors read the start position before the first decision.
	rob.UpdateSensors(e.walls)
	e.last = e.snapshot(Stop, fusion.Control{}, false, fusion.UpdateReport{})
	monitoring.Logf("sim: episode %s: %d walls, %d landmarks, %d markers",
		id, len(e.walls), len(m.Landmarks()), m.TotalMarkers())
	return e, nil
}

func (e *Episode) ID() string { return e.id }
func (e *Episode) Config() Config { return e.cfg }
func (e *Episode) Map() *world.Map { return e.m }
func (e *Episode) TickCount() int { return e.tick }
func (e *Episode) Last() Snapshot { return e.last }
func (e *Episode) Done() bool { return e.cfg.Ticks > 0 && e.tick >= e.cfg.Ticks }
func (e *Episode) Robot() robot.State { return e.rob.State() }

// AddRecorder attaches a recorder for the ticks still to come.
func (e *Episode) AddRecorder(r Recorder) { e.recs = append(e.recs, r) }

// Observation is what the controller will see at the next tick.
func (e *Episode) Observation() Observation {
	return Observation{
		Tick:     e.tick,
		Estimate: e.ekf.Estimate().Mean,
		Sensors:  e.rob.Sensors(),
	}
}

// Tick asks the controller for a command and advances one DT.
func (e *Episode) Tick() (Snapshot, error) {
	return e.Step(e.ctrl.Decide(e.Observation()), e.cfg.DT)
}

// Step runs one tick with an explicit command, in a fixed order: the
// command reaches the wheels, the robot moves and resolves collisions, the
// sensors and landmark detector read the new pose, markers are collected,
// the filter predicts from the commanded control and then corrects with
// the detections, and finally every recorder sees the snapshot.
func (e *Episode) Step(cmd Command, dt float64) (Snapshot, error) {
	if !(dt > 0) {
		return e.last, fmt.Errorf("%w: dt %g", ErrInvalidConfig, dt)
	}

	cmd.apply(e.rob)
	v, w := e.rob.Velocity()

	collided := e.rob.Step(dt, e.walls)
	e.rob.UpdateSensors(e.walls)
	reach := e.rob.Config().DetectionRadius + e.m.LandmarkRadius()
	dets := e.rob.DetectLandmarks(e.m.LandmarksNear(e.rob.Pose().Pos(), reach), e.walls)
	e.rob.CollectMarkers(e.m)

	u := fusion.Control{V: v, Omega: w}
	if e.vNoise != nil {
		u.V += e.vNoise.Rand()
		u.Omega += e.wNoise.Rand()
	}
	if err := e.ekf.Predict(u, dt); err != nil {
		return e.last, err
	}
	ms := make([]fusion.Measurement, len(dets))
	for i, d := range dets {
		ms[i] = fusion.Measurement{LandmarkID: d.LandmarkID, Range: d.Range, Bearing: d.Bearing, Landmark: d.Landmark}
	}
	rep := e.ekf.Update(ms)

	e.tick++
	e.time += dt
	e.applied += rep.Applied
	e.skipped += len(rep.Skipped)
	e.nis.Add(rep.NIS...)

	s := e.snapshot(cmd, u, collided, rep)
	pe := s.PositionError()
	e.sumSqErr += pe * pe
	e.last = s

	for _, r := range e.recs {
		if err := r.Record(s); err != nil {
			return s, fmt.Errorf("record tick %d: %w", s.Tick, err)
		}
	}
	return s, nil
}

func (e *Episode) snapshot(cmd Command, u fusion.Control, collided bool, rep fusion.UpdateReport) Snapshot {
	st := e.rob.State()
	est := e.ekf.Estimate()
	s := Snapshot{
		EpisodeID:    e.id,
		Tick:         e.tick,
		Time:         e.time,
		Truth:        st.Pose,
		Estimate:     est,
		Display:      st.Pose,
		Command:      cmd,
		Control:      u,
		Sensors:      st.Sensors,
		Detections:   st.Detections,
		Applied:      rep.Applied,
		Skipped:      rep.Skipped,
		Collided:     collided,
		Collisions:   st.Collisions,
		Collected:    e.m.CollectedMarkers(),
		TotalMarkers: e.m.TotalMarkers(),
	}
	if e.cfg.VisualizeEstimate {
		s.Display = est.Mean
	}
	s.Score = Score(s.Collected, s.TotalMarkers, s.Collisions, e.cfg.CollisionPenalty)
	return s
}

// Result summarises the episode so far.
func (e *Episode) Result() Result {
	s := e.last
	r := Result{
		EpisodeID:     e.id,
		Seed:          e.cfg.Seed,
		Ticks:         e.tick,
		Score:         s.Score,
		Collisions:    s.Collisions,
		Collected:     s.Collected,
		TotalMarkers:  s.TotalMarkers,
		Distance:      e.rob.Distance(),
		FinalTruth:    s.Truth,
		FinalEstimate: s.Estimate.Mean,
		FinalPosError: s.PositionError(),
		Applied:       e.applied,
		Skipped:       e.skipped,
		MeanNIS:       e.nis.Mean(),
		NISOutside:    e.nis.OutsideFraction(),
	}
	if e.tick > 0 {
		r.PositionRMSE = math.Sqrt(e.sumSqErr / float64(e.tick))
	}
	return r
}

// Run advances up to ticks ticks, stopping early once the configured
// episode length is reached. A non-positive ticks runs to that length.
// Cancellation stops between ticks and returns the partial result with the
// context error.
func (e *Episode) Run(ctx context.Context, ticks int) (Result, error) {
	if ticks <= 0 {
		ticks = e.cfg.Ticks - e.tick
	}
	for i := 0; i < ticks && !e.Done(); i++ {
		if err := ctx.Err(); err != nil {
			return e.Result(), err
		}
		if _, err := e.Tick(); err != nil {
			return e.Result(), err
		}
	}
	return e.Result(), nil
}
