// Package config loads episode settings from JSON files. Every field is
// optional; Get* accessors supply the defaults for anything left out, so a
// partial file (or none at all) yields a runnable episode.
package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"navsim-go/fusion"
	"navsim-go/geom"
	"navsim-go/sim"
)

const maxFileSize = 1 * 1024 * 1024 // 1MB

// EpisodeConfig is the flat on-disk schema of an episode.
type EpisodeConfig struct {
	// Map
	Rows           *int     `json:"rows,omitempty"`
	Cols           *int     `json:"cols,omitempty"`
	CellSize       *float64 `json:"cell_size,omitempty"`
	Complexity     *int     `json:"complexity,omitempty"`
	MarkersPerSide *int     `json:"markers_per_side,omitempty"`
	LandmarkRadius *float64 `json:"landmark_radius,omitempty"`
	MapFile        *string  `json:"map_file,omitempty"`

	// Episode
	Seed             *uint64  `json:"seed,omitempty"`
	FPS              *float64 `json:"fps,omitempty"`
	Duration         *string  `json:"duration,omitempty"` // like "60s"
	CollisionPenalty *float64 `json:"collision_penalty,omitempty"`

	// Robot
	RobotRadius     *float64 `json:"robot_radius,omitempty"`
	WheelBase       *float64 `json:"wheel_base,omitempty"`
	MotorSpeed      *float64 `json:"motor_speed,omitempty"`
	SensorCount     *int     `json:"sensor_count,omitempty"`
	SensorRange     *float64 `json:"sensor_range,omitempty"`
	DetectionRadius *float64 `json:"detection_radius,omitempty"`
	FOVDegrees      *float64 `json:"fov_degrees,omitempty"` // full field of view
	LineOfSight     *bool    `json:"line_of_sight,omitempty"`
	RangeNoise      *float64 `json:"range_noise_std,omitempty"`
	BearingNoiseDeg *float64 `json:"bearing_noise_deg,omitempty"`

	// Filter
	NoiseModel         *string  `json:"noise_model,omitempty"` // "per-second" or "per-tick"
	InitialVarPos      *float64 `json:"initial_var_pos,omitempty"`
	InitialVarTheta    *float64 `json:"initial_var_theta,omitempty"`
	ProcessNoisePos    *float64 `json:"process_noise_pos,omitempty"`
	ProcessNoiseTheta  *float64 `json:"process_noise_theta,omitempty"`
	MeasNoiseRange     *float64 `json:"meas_noise_range,omitempty"`
	MeasNoiseBearing   *float64 `json:"meas_noise_bearing,omitempty"`
	GateProbability    *float64 `json:"gate_probability,omitempty"`
	OdometryNoiseV     *float64 `json:"odometry_noise_v,omitempty"`
	OdometryNoiseOmega *float64 `json:"odometry_noise_omega,omitempty"`
	InitialOffsetX     *float64 `json:"initial_offset_x,omitempty"`
	InitialOffsetY     *float64 `json:"initial_offset_y,omitempty"`
	InitialOffsetDeg   *float64 `json:"initial_offset_deg,omitempty"`

	VisualizeEstimate *bool `json:"visualize_estimate,omitempty"`
}

// Ptr returns a pointer to v, for filling optional fields.
func Ptr[T any](v T) *T { return &v }

// LoadEpisodeConfig reads a JSON episode file. The file must have a .json
// extension and be at most 1MB.
func LoadEpisodeConfig(path string) (*EpisodeConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg := &EpisodeConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Save writes the config as indented JSON.
func (c *EpisodeConfig) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// Validate checks the values that can be judged without building an
// episode. Everything else is rejected by sim.NewEpisode.
func (c *EpisodeConfig) Validate() error {
	if c.FPS != nil && !(*c.FPS > 0) {
		return fmt.Errorf("fps must be positive, got %g", *c.FPS)
	}
	if c.Duration != nil && *c.Duration != "" {
		d, err := time.ParseDuration(*c.Duration)
		if err != nil {
			return fmt.Errorf("invalid duration '%s': %w", *c.Duration, err)
		}
		if d < 0 {
			return fmt.Errorf("duration must be non-negative, got %s", d)
		}
	}
	if c.NoiseModel != nil {
		if _, err := fusion.ParseNoiseModel(*c.NoiseModel); err != nil {
			return err
		}
	}
	if c.FOVDegrees != nil && (*c.FOVDegrees < 0 || *c.FOVDegrees > 360) {
		return fmt.Errorf("fov_degrees must be between 0 and 360, got %g", *c.FOVDegrees)
	}
	if c.CollisionPenalty != nil && *c.CollisionPenalty < 0 {
		return fmt.Errorf("collision_penalty must be non-negative, got %g", *c.CollisionPenalty)
	}
	return nil
}

// GetFPS returns the tick rate, 60 by default.
func (c *EpisodeConfig) GetFPS() float64 {
	if c.FPS == nil {
		return 60
	}
	return *c.FPS
}

// GetDuration returns the episode length, one minute by default.
func (c *EpisodeConfig) GetDuration() time.Duration {
	if c.Duration == nil || *c.Duration == "" {
		return time.Minute
	}
	d, err := time.ParseDuration(*c.Duration)
	if err != nil {
		return time.Minute
	}
	return d
}

// GetTicks is the duration expressed in ticks, rounded to the nearest one.
func (c *EpisodeConfig) GetTicks() int {
	return int(math.Round(c.GetDuration().Seconds() * c.GetFPS()))
}

func (c *EpisodeConfig) GetSeed() uint64 {
	if c.Seed == nil {
		return 0
	}
	return *c.Seed
}

func (c *EpisodeConfig) GetNoiseModel() fusion.NoiseModel {
	if c.NoiseModel == nil {
		return fusion.NoisePerSecond
	}
	m, err := fusion.ParseNoiseModel(*c.NoiseModel)
	if err != nil {
		return fusion.NoisePerSecond
	}
	return m
}

// Build turns the file into a simulation config, filling defaults from
// sim.DefaultConfig. The seed drives the maze, the detection noise and the
// odometry noise alike.
func (c *EpisodeConfig) Build() (sim.Config, error) {
	if err := c.Validate(); err != nil {
		return sim.Config{}, err
	}
	out := sim.DefaultConfig()
	seed := c.GetSeed()

	m := &out.Map
	setInt(&m.Rows, c.Rows)
	setInt(&m.Cols, c.Cols)
	setFloat(&m.CellSize, c.CellSize)
	setInt(&m.Complexity, c.Complexity)
	setInt(&m.MarkersPerSide, c.MarkersPerSide)
	setFloat(&m.LandmarkRadius, c.LandmarkRadius)
	m.Seed = seed
	if c.MapFile != nil {
		out.MapFile = *c.MapFile
	}

	out.Seed = seed
	out.DT = 1 / c.GetFPS()
	out.Ticks = c.GetTicks()
	setFloat(&out.CollisionPenalty, c.CollisionPenalty)

	r := &out.Robot
	setFloat(&r.Radius, c.RobotRadius)
	setFloat(&r.WheelBase, c.WheelBase)
	setFloat(&r.MotorSpeed, c.MotorSpeed)
	setInt(&r.SensorCount, c.SensorCount)
	setFloat(&r.SensorRange, c.SensorRange)
	setFloat(&r.DetectionRadius, c.DetectionRadius)
	if c.FOVDegrees != nil {
		r.FOVHalfAngle = *c.FOVDegrees / 2 * math.Pi / 180
	}
	if c.LineOfSight != nil {
		r.LineOfSight = *c.LineOfSight
	}
	setFloat(&r.RangeNoiseStd, c.RangeNoise)
	if c.BearingNoiseDeg != nil {
		r.BearingNoiseStd = *c.BearingNoiseDeg * math.Pi / 180
	}
	r.Seed = seed

	f := &out.Filter
	f.NoiseModel = c.GetNoiseModel()
	setFloat(&f.InitialCov[0], c.InitialVarPos)
	setFloat(&f.InitialCov[1], c.InitialVarPos)
	setFloat(&f.InitialCov[2], c.InitialVarTheta)
	setFloat(&f.ProcessNoise[0], c.ProcessNoisePos)
	setFloat(&f.ProcessNoise[1], c.ProcessNoisePos)
	setFloat(&f.ProcessNoise[2], c.ProcessNoiseTheta)
	setFloat(&f.MeasurementNoise[0], c.MeasNoiseRange)
	setFloat(&f.MeasurementNoise[1], c.MeasNoiseBearing)
	setFloat(&f.GateProbability, c.GateProbability)

	setFloat(&out.OdometryNoise[0], c.OdometryNoiseV)
	setFloat(&out.OdometryNoise[1], c.OdometryNoiseOmega)
	out.InitialOffset = geom.Pose{}
	setFloat(&out.InitialOffset.X, c.InitialOffsetX)
	setFloat(&out.InitialOffset.Y, c.InitialOffsetY)
	if c.InitialOffsetDeg != nil {
		out.InitialOffset.Theta = *c.InitialOffsetDeg * math.Pi / 180
	}
	if c.VisualizeEstimate != nil {
		out.VisualizeEstimate = *c.VisualizeEstimate
	}

	if err := out.Validate(); err != nil {
		return sim.Config{}, err
	}
	return out, nil
}

// BuildBatch builds n configs that differ only in seed, counting up from
// the configured one.
func (c *EpisodeConfig) BuildBatch(n int) ([]sim.Config, error) {
	base := c.GetSeed()
	out := make([]sim.Config, 0, n)
	for i := 0; i < n; i++ {
		cc := *c
		cc.Seed = Ptr(base + uint64(i))
		cfg, err := cc.Build()
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, nil
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setFloat(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}
