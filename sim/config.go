package sim

import (
	"errors"
	"fmt"

	"navsim-go/fusion"
	"navsim-go/geom"
	"navsim-go/robot"
	"navsim-go/world"
)

// ErrInvalidConfig is wrapped by every episode construction failure.
var ErrInvalidConfig = errors.New("invalid episode config")

// Config fixes everything an episode needs before the first tick.
type Config struct {
	// ID names the episode; empty picks a random UUID.
	ID string

	Map world.GenParams
	// MapFile loads an XML map instead of generating one.
	MapFile string

	Robot robot.Config
	// Start overrides the map's start pose.
	Start *geom.Pose

	// Filter.InitialMean is replaced by the start pose plus InitialOffset,
	// so the filter can begin deliberately wrong.
	Filter        fusion.Config
	InitialOffset geom.Pose

	DT    float64
	Ticks int

	CollisionPenalty float64

	// Standard deviation of the noise added to the commanded (v, ω) before
	// it reaches the filter.
	OdometryNoise [2]float64
	Seed          uint64

	// VisualizeEstimate makes Snapshot.Display show the estimate instead of
	// the true pose. It never feeds back into the simulation.
	VisualizeEstimate bool
}

// DefaultConfig is a 3x3 maze at 60 ticks per second for one minute.
func DefaultConfig() Config {
	return Config{
		Map:              world.DefaultGenParams(),
		Robot:            robot.DefaultConfig(),
		Filter:           fusion.DefaultConfig(geom.Pose{}),
		DT:               1.0 / 60,
		Ticks:            3600,
		CollisionPenalty: 0.01,
	}
}

// Validate checks the episode-level fields. Map, robot and filter settings
// are checked by their own constructors.
func (c Config) Validate() error {
	switch {
	case !(c.DT > 0):
		return fmt.Errorf("%w: dt %g", ErrInvalidConfig, c.DT)
	case c.Ticks < 0:
		return fmt.Errorf("%w: ticks %d", ErrInvalidConfig, c.Ticks)
	case c.CollisionPenalty < 0:
		return fmt.Errorf("%w: collision penalty %g", ErrInvalidConfig, c.CollisionPenalty)
	case c.OdometryNoise[0] < 0 || c.OdometryNoise[1] < 0:
		return fmt.Errorf("%w: negative odometry noise", ErrInvalidConfig)
	}
	return nil
}

// Score is coverage times the collision discount, clamped at zero. A map
// without markers scores zero.
func Score(collected, total, collisions int, penalty float64) float64 {
	if total <= 0 {
		return 0
	}
	s := float64(collected) / float64(total) * (1 - penalty*float64(collisions))
	return max(s, 0)
}
