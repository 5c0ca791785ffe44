package fusion

import (
	"errors"
	"fmt"
	"math"

	"navsim-go/geom"
)

// ErrInvalidConfig is wrapped by every filter configuration failure.
var ErrInvalidConfig = errors.New("invalid filter config")

// NoiseModel decides how process noise scales with the tick length.
type NoiseModel int

const (
	// NoisePerSecond adds Q·dt per prediction, so uncertainty growth does
	// not depend on the tick rate.
	NoisePerSecond NoiseModel = iota
	// NoisePerTick adds Q once per prediction regardless of dt.
	NoisePerTick
)

func (n NoiseModel) String() string {
	switch n {
	case NoisePerSecond:
		return "per-second"
	case NoisePerTick:
		return "per-tick"
	}
	return fmt.Sprintf("NoiseModel(%d)", int(n))
}

// ParseNoiseModel accepts the String forms.
func ParseNoiseModel(s string) (NoiseModel, error) {
	switch s {
	case "", "per-second":
		return NoisePerSecond, nil
	case "per-tick":
		return NoisePerTick, nil
	}
	return 0, fmt.Errorf("%w: unknown noise model %q", ErrInvalidConfig, s)
}

// Config seeds a filter. Covariances are diagonal variances.
type Config struct {
	InitialMean      geom.Pose
	InitialCov       [StateDim]float64
	ProcessNoise     [StateDim]float64
	MeasurementNoise [MeaDim]float64
	NoiseModel       NoiseModel

	// MinInnovationDet overrides the singular-S threshold when positive.
	MinInnovationDet float64
	// GateProbability enables chi-square gating of innovations when
	// positive (0.95 or 0.99).
	GateProbability float64
}

// DefaultConfig starts at mean with the default noise tuning.
func DefaultConfig(mean geom.Pose) Config {
	return Config{
		InitialMean:      mean,
		InitialCov:       [StateDim]float64{SigmaPos0, SigmaPos0, SigmaTheta0},
		ProcessNoise:     [StateDim]float64{ProcessPos, ProcessPos, ProcessTheta},
		MeasurementNoise: [MeaDim]float64{MeasRange, MeasBearing},
		NoiseModel:       NoisePerSecond,
	}
}

func (c Config) Validate() error {
	for i, v := range c.InitialCov {
		if !(v >= 0) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: initial covariance[%d]=%g", ErrInvalidConfig, i, v)
		}
	}
	for i, v := range c.ProcessNoise {
		if !(v >= 0) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: process noise[%d]=%g", ErrInvalidConfig, i, v)
		}
	}
	for i, v := range c.MeasurementNoise {
		if !(v >= 0) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: measurement noise[%d]=%g", ErrInvalidConfig, i, v)
		}
	}
	if c.NoiseModel != NoisePerSecond && c.NoiseModel != NoisePerTick {
		return fmt.Errorf("%w: noise model %d", ErrInvalidConfig, c.NoiseModel)
	}
	if c.GateProbability < 0 || c.GateProbability >= 1 {
		return fmt.Errorf("%w: gate probability %g", ErrInvalidConfig, c.GateProbability)
	}
	if m := c.InitialMean; math.IsNaN(m.X+m.Y+m.Theta) || math.IsInf(m.X+m.Y+m.Theta, 0) {
		return fmt.Errorf("%w: non-finite initial mean", ErrInvalidConfig)
	}
	return nil
}
