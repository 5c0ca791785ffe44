package robot

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidConfig is wrapped by every robot configuration failure.
var ErrInvalidConfig = errors.New("invalid robot config")

// Config describes the body, drive and sensors of one robot.
type Config struct {
	Radius     float64 `json:"radius"`
	WheelBase  float64 `json:"wheel_base"`
	MotorSpeed float64 `json:"motor_speed"` // wheel speed of an enabled discrete motor

	SensorCount int     `json:"sensor_count"`
	SensorRange float64 `json:"sensor_range"`

	DetectionRadius float64 `json:"detection_radius"`
	FOVHalfAngle    float64 `json:"fov_half_angle"` // radians, π sees all around
	LineOfSight     bool    `json:"line_of_sight"`  // walls occlude landmarks

	MarkerRadius float64 `json:"marker_radius"`

	MaxCollisionPasses int `json:"max_collision_passes"`

	// Detection noise; zero disables it.
	RangeNoiseStd   float64 `json:"range_noise_std"`
	BearingNoiseStd float64 `json:"bearing_noise_std"`
	Seed            uint64  `json:"seed"`
}

// DefaultConfig matches a 100-unit cell maze: 12 sensors every 30°.
func DefaultConfig() Config {
	return Config{
		Radius:             10,
		WheelBase:          20,
		MotorSpeed:         40,
		SensorCount:        12,
		SensorRange:        200,
		DetectionRadius:    250,
		FOVHalfAngle:       math.Pi,
		MarkerRadius:       2,
		MaxCollisionPasses: 4,
	}
}

func (c Config) Validate() error {
	switch {
	case !(c.Radius > 0):
		return fmt.Errorf("%w: radius %g", ErrInvalidConfig, c.Radius)
	case !(c.WheelBase > 0):
		return fmt.Errorf("%w: wheel base %g", ErrInvalidConfig, c.WheelBase)
	case c.MotorSpeed < 0:
		return fmt.Errorf("%w: motor speed %g", ErrInvalidConfig, c.MotorSpeed)
	case c.SensorCount < 1:
		return fmt.Errorf("%w: sensor count %d", ErrInvalidConfig, c.SensorCount)
	case !(c.SensorRange > 0):
		return fmt.Errorf("%w: sensor range %g", ErrInvalidConfig, c.SensorRange)
	case c.DetectionRadius < 0:
		return fmt.Errorf("%w: detection radius %g", ErrInvalidConfig, c.DetectionRadius)
	case c.FOVHalfAngle < 0 || c.FOVHalfAngle > math.Pi:
		return fmt.Errorf("%w: field of view half angle %g outside [0, π]", ErrInvalidConfig, c.FOVHalfAngle)
	case c.MarkerRadius < 0:
		return fmt.Errorf("%w: marker radius %g", ErrInvalidConfig, c.MarkerRadius)
	case c.MaxCollisionPasses < 1:
		return fmt.Errorf("%w: collision passes %d", ErrInvalidConfig, c.MaxCollisionPasses)
	case c.RangeNoiseStd < 0 || c.BearingNoiseStd < 0:
		return fmt.Errorf("%w: negative detection noise", ErrInvalidConfig)
	}
	return nil
}
