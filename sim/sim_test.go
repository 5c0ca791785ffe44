package sim

import (
	"context"
	"errors"
	"math"
	"os"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"navsim-go/geom"
	"navsim-go/monitoring"
	"navsim-go/robot"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

// openRoom is a 3x3 room without internal walls, 300 units a side.
func openRoom() Config {
	cfg := DefaultConfig()
	cfg.Map.Complexity = 0
	cfg.ID = "test"
	return cfg
}

func forward(Observation) Command { return Motors(MotorForward, MotorForward) }

func TestDriveStraightTracksTruth(t *testing.T) {
	cfg := openRoom()
	cfg.Ticks = 120
	ep, err := NewEpisode(cfg, ControllerFunc(forward))
	require.NoError(t, err)

	res, err := ep.Run(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 120, res.Ticks)
	assert.True(t, ep.Done())

	last := ep.Last()
	assert.InDelta(t, 130, last.Truth.X, 1e-6)
	assert.InDelta(t, 50, last.Truth.Y, 1e-9)
	assert.Zero(t, last.Collisions)
	assert.Less(t, last.PositionError(), 5.0)
	assert.Less(t, math.Abs(last.HeadingError()), 5*math.Pi/180)
	assert.GreaterOrEqual(t, len(last.Detections), 3)
	assert.Equal(t, len(last.Detections), last.Applied)
	assert.InDelta(t, 2.0, last.Time, 1e-9)
	assert.Positive(t, res.MeanNIS)
	assert.GreaterOrEqual(t, res.NISOutside, 0.0)
	assert.LessOrEqual(t, res.NISOutside, 1.0)
}

func TestMazeEpisodeConvergesFromWrongGuess(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ID = "maze"
	cfg.Seed = 0
	cfg.Ticks = 120
	cfg.InitialOffset = geom.Pose{X: 8, Y: -6, Theta: 10 * math.Pi / 180}
	cfg.Filter.InitialCov = [3]float64{100, 100, 0.1}
	require.Positive(t, cfg.Map.Complexity)

	ep, err := NewEpisode(cfg, ControllerFunc(forward))
	require.NoError(t, err)
	room, err := NewEpisode(openRoom(), ControllerFunc(forward))
	require.NoError(t, err)
	assert.Greater(t, len(ep.Map().Walls()), len(room.Map().Walls()), "maze has interior walls")

	start := ep.Map().StartPose()
	guess := ep.Observation().Estimate
	assert.InDelta(t, 10, guess.Pos().Dist(start.Pos()), 1e-9)

	res, err := ep.Run(context.Background(), 0)
	require.NoError(t, err)
	last := ep.Last()
	assert.Zero(t, res.Collisions)
	assert.GreaterOrEqual(t, len(last.Detections), 3)
	assert.Less(t, last.PositionError(), 5.0)
	assert.Less(t, math.Abs(last.HeadingError()), 5*math.Pi/180)

	reach := cfg.Robot.DetectionRadius + ep.Map().LandmarkRadius()
	near := map[int]bool{}
	for _, l := range ep.Map().LandmarksNear(last.Truth.Pos(), reach) {
		near[l.ID] = true
	}
	for _, d := range last.Detections {
		assert.True(t, near[d.LandmarkID], "landmark %d detected outside reach", d.LandmarkID)
	}
}

func TestWallDriveCountsCollisionsAndDiscountsScore(t *testing.T) {
	cfg := openRoom()
	cfg.Ticks = 600
	cfg.CollisionPenalty = 0.001
	cfg.Start = &geom.Pose{X: 25, Y: 25}
	ep, err := NewEpisode(cfg, ControllerFunc(forward))
	require.NoError(t, err)

	res, err := ep.Run(context.Background(), 0)
	require.NoError(t, err)

	assert.LessOrEqual(t, res.FinalTruth.X, 290+1e-6)
	assert.Greater(t, res.Collisions, 100)
	assert.Equal(t, 6, res.Collected, "one row of markers")
	assert.Equal(t, 36, res.TotalMarkers)
	assert.Equal(t, Score(res.Collected, res.TotalMarkers, res.Collisions, cfg.CollisionPenalty), res.Score)
	assert.Less(t, res.Score, 6.0/36)
	assert.Greater(t, res.Score, 0.0)
}

func TestFilterPredictsFromCommandedControl(t *testing.T) {
	cfg := openRoom()
	cfg.Ticks = 600
	cfg.Robot.DetectionRadius = 0
	cfg.Map.LandmarkRadius = 0
	ep, err := NewEpisode(cfg, ControllerFunc(forward))
	require.NoError(t, err)
	_, err = ep.Run(context.Background(), 0)
	require.NoError(t, err)

	last := ep.Last()
	assert.InDelta(t, 290, last.Truth.X, 1e-6)
	// Without landmark corrections the estimate keeps following the
	// wheels through the wall.
	assert.InDelta(t, 450, last.Estimate.Mean.X, 1e-6)
	assert.Zero(t, last.Applied)
}

func TestTickOrder(t *testing.T) {
	cfg := openRoom()
	var (
		obs   []Observation
		snaps []Snapshot
	)
	ctrl := ControllerFunc(func(o Observation) Command {
		obs = append(obs, o)
		return Motors(MotorForward, MotorOff)
	})
	rec := RecorderFunc(func(s Snapshot) error {
		require.Len(t, obs, s.Tick, "recorder runs after the decision of the same tick")
		snaps = append(snaps, s)
		return nil
	})
	ep, err := NewEpisode(cfg, ctrl, rec)
	require.NoError(t, err)
	initial := ep.Last()

	for i := 0; i < 5; i++ {
		_, err := ep.Tick()
		require.NoError(t, err)
	}
	require.Len(t, obs, 5)
	require.Len(t, snaps, 5)

	assert.Equal(t, 0, obs[0].Tick)
	assert.Equal(t, initial.Sensors, obs[0].Sensors)
	assert.Equal(t, initial.Estimate.Mean, obs[0].Estimate)
	for i := 1; i < 5; i++ {
		assert.Equal(t, i, obs[i].Tick)
		assert.Equal(t, snaps[i-1].Sensors, obs[i].Sensors, "controller sees the previous tick's sensors")
		assert.Equal(t, snaps[i-1].Estimate.Mean, obs[i].Estimate)
	}
	for i, s := range snaps {
		assert.Equal(t, i+1, s.Tick)
		assert.Equal(t, Motors(MotorForward, MotorOff), s.Command)
		// Left wheel only: v = 20, ω = -2.
		assert.InDelta(t, 20, s.Control.V, 1e-12)
		assert.InDelta(t, -2, s.Control.Omega, 1e-12)
	}
}

func TestRecorderErrorStopsRun(t *testing.T) {
	boom := errors.New("disk full")
	rec := RecorderFunc(func(s Snapshot) error {
		if s.Tick == 3 {
			return boom
		}
		return nil
	})
	cfg := openRoom()
	cfg.Ticks = 10
	ep, err := NewEpisode(cfg, ControllerFunc(forward), rec)
	require.NoError(t, err)
	res, err := ep.Run(context.Background(), 0)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, res.Ticks)
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	n := 0
	ctrl := ControllerFunc(func(Observation) Command {
		n++
		if n == 4 {
			cancel()
		}
		return Stop
	})
	ep, err := NewEpisode(openRoom(), ctrl)
	require.NoError(t, err)
	res, err := ep.Run(ctx, 100)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 4, res.Ticks)
}

func TestZeroControlKeepsPose(t *testing.T) {
	ep, err := NewEpisode(openRoom(), ControllerFunc(func(Observation) Command { return Stop }))
	require.NoError(t, err)
	start := ep.Last().Truth
	for i := 0; i < 30; i++ {
		_, err := ep.Tick()
		require.NoError(t, err)
	}
	assert.Equal(t, start, ep.Last().Truth)
	assert.Zero(t, ep.Last().Collisions)
}

func TestStepRejectsBadDt(t *testing.T) {
	ep, err := NewEpisode(openRoom(), ControllerFunc(forward))
	require.NoError(t, err)
	_, err = ep.Step(Stop, 0)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Zero(t, ep.TickCount())
}

func TestVisualizeEstimate(t *testing.T) {
	cfg := openRoom()
	cfg.InitialOffset = geom.Pose{X: 3, Y: -2}
	cfg.VisualizeEstimate = true
	ep, err := NewEpisode(cfg, ControllerFunc(forward))
	require.NoError(t, err)
	s := ep.Last()
	assert.Equal(t, geom.Pose{X: 53, Y: 48}, s.Display)
	assert.Equal(t, geom.Pose{X: 50, Y: 50}, s.Truth)

	cfg.VisualizeEstimate = false
	ep, err = NewEpisode(cfg, ControllerFunc(forward))
	require.NoError(t, err)
	assert.Equal(t, ep.Last().Truth, ep.Last().Display)
}

func TestNewEpisodeRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ctrl   Controller
	}{
		{"nil controller", func(*Config) {}, nil},
		{"zero dt", func(c *Config) { c.DT = 0 }, ControllerFunc(forward)},
		{"negative penalty", func(c *Config) { c.CollisionPenalty = -1 }, ControllerFunc(forward)},
		{"no sensors", func(c *Config) { c.Robot.SensorCount = 0 }, ControllerFunc(forward)},
		{"empty grid", func(c *Config) { c.Map.Rows = 0 }, ControllerFunc(forward)},
		{"bad filter", func(c *Config) { c.Filter.ProcessNoise[0] = -1 }, ControllerFunc(forward)},
		{"missing map file", func(c *Config) { c.MapFile = "does-not-exist.xml" }, ControllerFunc(forward)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := openRoom()
			tt.mutate(&cfg)
			_, err := NewEpisode(cfg, tt.ctrl)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestScore(t *testing.T) {
	assert.Zero(t, Score(0, 0, 0, 0.1), "no markers")
	assert.Equal(t, 0.5, Score(18, 36, 0, 0.01))
	assert.InDelta(t, 0.45, Score(18, 36, 10, 0.01), 1e-12)
	assert.Zero(t, Score(18, 36, 500, 0.01), "clamped at zero")
	assert.Equal(t, 1.0, Score(36, 36, 50, 0))
}

func TestOdometryNoiseIsSeeded(t *testing.T) {
	run := func(seed uint64) Result {
		cfg := openRoom()
		cfg.Ticks = 60
		cfg.Seed = seed
		cfg.OdometryNoise = [2]float64{2, 0.1}
		ep, err := NewEpisode(cfg, ControllerFunc(forward))
		require.NoError(t, err)
		res, err := ep.Run(context.Background(), 0)
		require.NoError(t, err)
		return res
	}
	a, b := run(7), run(7)
	if diff := cmp.Diff(a, b); diff != "" {
		t.Fatalf("same seed differs (-a +b):\n%s", diff)
	}
	assert.NotEqual(t, a.FinalEstimate, run(8).FinalEstimate)
}

func TestEvaluateIsDeterministic(t *testing.T) {
	var cfgs []Config
	for seed := uint64(1); seed <= 6; seed++ {
		cfg := DefaultConfig()
		cfg.ID = "batch"
		cfg.Seed = seed
		cfg.Map.Seed = seed
		cfg.Ticks = 240
		cfgs = append(cfgs, cfg)
	}
	script := func(int, Config) Controller {
		return ScriptController{Steps: []ScriptStep{
			{Ticks: 60, Command: Motors(MotorForward, MotorForward)},
			{Ticks: 30, Command: Motors(MotorForward, MotorBackward)},
			{Ticks: 150, Command: Wheels(30, 25)},
		}}
	}
	serial, sumA, err := Evaluate(context.Background(), cfgs, script, 1)
	require.NoError(t, err)
	parallel, sumB, err := Evaluate(context.Background(), cfgs, script, 4)
	require.NoError(t, err)

	if diff := cmp.Diff(serial, parallel); diff != "" {
		t.Fatalf("worker count changed results (-serial +parallel):\n%s", diff)
	}
	assert.Equal(t, sumA, sumB)
	assert.Equal(t, 6, sumA.Episodes)
	assert.LessOrEqual(t, sumA.MinScore, sumA.MeanScore)
	assert.GreaterOrEqual(t, sumA.MaxScore, sumA.MeanScore)
}

func TestEvaluateReportsEpisodeError(t *testing.T) {
	cfgs := []Config{openRoom(), openRoom()}
	cfgs[1].DT = -1
	_, _, err := Evaluate(context.Background(), cfgs, func(int, Config) Controller { return ControllerFunc(forward) }, 2)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestEvaluateRecorderFactory(t *testing.T) {
	cfgs := []Config{openRoom(), openRoom()}
	for i := range cfgs {
		cfgs[i].Ticks = 10
	}
	hist := []*History{NewHistory(100), NewHistory(100)}
	_, _, err := Evaluate(context.Background(), cfgs,
		func(int, Config) Controller { return ControllerFunc(forward) }, 2,
		func(i int) Recorder { return hist[i] })
	require.NoError(t, err)
	assert.Equal(t, 10, hist[0].Len())
	assert.Equal(t, 10, hist[1].Len())
}

func TestSummarize(t *testing.T) {
	assert.Equal(t, Summary{}, Summarize(nil))
	s := Summarize([]Result{{Score: 0.2, Collisions: 2}, {Score: 0.4, Collisions: 4, PositionRMSE: 1}})
	assert.Equal(t, 2, s.Episodes)
	assert.InDelta(t, 0.3, s.MeanScore, 1e-12)
	assert.InDelta(t, math.Sqrt(0.02), s.StdScore, 1e-12)
	assert.Equal(t, 0.2, s.MinScore)
	assert.Equal(t, 0.4, s.MaxScore)
	assert.Equal(t, 3.0, s.MeanCollisions)
	assert.Equal(t, 0.5, s.MeanRMSE)
}

func TestHistoryRing(t *testing.T) {
	h := NewHistory(3)
	for i := 1; i <= 5; i++ {
		require.NoError(t, h.Record(Snapshot{Tick: i, Truth: geom.Pose{X: float64(i)}}))
	}
	assert.Equal(t, 3, h.Len())
	assert.Equal(t, 5, h.Total())
	var ticks []int
	for _, s := range h.Snapshots() {
		ticks = append(ticks, s.Tick)
	}
	assert.Equal(t, []int{3, 4, 5}, ticks)
	truth, est := h.Paths()
	assert.Equal(t, []geom.Vec{{X: 3}, {X: 4}, {X: 5}}, truth)
	assert.Len(t, est, 3)

	small := NewHistory(0)
	require.NoError(t, small.Record(Snapshot{Tick: 1}))
	require.NoError(t, small.Record(Snapshot{Tick: 2}))
	assert.Equal(t, 2, small.Snapshots()[0].Tick)
}

func TestControllers(t *testing.T) {
	t.Run("threshold", func(t *testing.T) {
		assert.Equal(t, MotorForward, ThresholdMotor(0.5))
		assert.Equal(t, MotorOff, ThresholdMotor(0.49))
		assert.Equal(t, MotorOff, ThresholdMotor(-0.49))
		assert.Equal(t, MotorBackward, ThresholdMotor(-0.5))
	})
	t.Run("policy", func(t *testing.T) {
		var got []float64
		p := PolicyController{Policy: func(in []float64) (float64, float64) {
			got = in
			return 0.9, -0.7
		}}
		cmd := p.Decide(Observation{Estimate: geom.Pose{X: 1, Y: 2, Theta: 3}, Sensors: []float64{4, 5}})
		assert.Equal(t, Motors(MotorForward, MotorBackward), cmd)
		assert.Equal(t, []float64{1, 2, 4, 5}, got)
	})
	t.Run("manual keys", func(t *testing.T) {
		var m ManualController
		assert.True(t, m.KeyCommand('4', true))
		assert.True(t, m.KeyCommand('3', true))
		assert.Equal(t, Motors(MotorForward, MotorBackward), m.Decide(Observation{}))
		assert.True(t, m.KeyCommand('4', false))
		assert.Equal(t, Motors(MotorOff, MotorBackward), m.Decide(Observation{}))
		assert.False(t, m.KeyCommand('x', true))
		m.SetMotor(robot.Left, MotorBackward)
		assert.Equal(t, Motors(MotorBackward, MotorBackward), m.Decide(Observation{}))
	})
	t.Run("script", func(t *testing.T) {
		s := ScriptController{Steps: []ScriptStep{
			{Ticks: 2, Command: Motors(MotorForward, MotorForward)},
			{Ticks: 1, Command: Wheels(1, 2)},
		}}
		assert.Equal(t, Motors(MotorForward, MotorForward), s.Decide(Observation{Tick: 1}))
		assert.Equal(t, Wheels(1, 2), s.Decide(Observation{Tick: 2}))
		assert.Equal(t, Stop, s.Decide(Observation{Tick: 3}))
	})
	t.Run("wander", func(t *testing.T) {
		var w WanderController
		open := make([]float64, 12)
		for i := range open {
			open[i] = 200
		}
		assert.Equal(t, Wheels(40, 40), w.Decide(Observation{Sensors: open}))

		blocked := append([]float64(nil), open...)
		blocked[0] = 10
		blocked[9], blocked[10] = 20, 20
		assert.Equal(t, Wheels(-20, 20), w.Decide(Observation{Sensors: blocked}), "turns left, away from the close right side")

		blocked[9], blocked[10] = 200, 200
		blocked[2], blocked[3] = 20, 20
		assert.Equal(t, Wheels(20, -20), w.Decide(Observation{Sensors: blocked}))

		assert.Equal(t, Wheels(40, 40), w.Decide(Observation{}))
	})
}
