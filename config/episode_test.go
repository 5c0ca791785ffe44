package config

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"navsim-go/fusion"
	"navsim-go/sim"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestEmptyConfigBuildsDefaults(t *testing.T) {
	cfg, err := (&EpisodeConfig{}).Build()
	require.NoError(t, err)
	def := sim.DefaultConfig()
	assert.Equal(t, def.Map, cfg.Map)
	assert.Equal(t, def.Robot, cfg.Robot)
	assert.Equal(t, def.Filter, cfg.Filter)
	assert.InDelta(t, 1.0/60, cfg.DT, 1e-15)
	assert.Equal(t, 3600, cfg.Ticks)
}

func TestLoadEpisodeConfig(t *testing.T) {
	path := writeConfig(t, "episode.json", `{
  "rows": 4,
  "cols": 5,
  "complexity": 3,
  "seed": 42,
  "fps": 30,
  "duration": "10s",
  "collision_penalty": 0.05,
  "fov_degrees": 90,
  "bearing_noise_deg": 2,
  "noise_model": "per-tick",
  "initial_var_pos": 4,
  "initial_offset_deg": 10,
  "odometry_noise_v": 0.5,
  "line_of_sight": true
}`)
	ec, err := LoadEpisodeConfig(path)
	require.NoError(t, err)
	cfg, err := ec.Build()
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Map.Rows)
	assert.Equal(t, 5, cfg.Map.Cols)
	assert.Equal(t, 3, cfg.Map.Complexity)
	assert.Equal(t, uint64(42), cfg.Map.Seed)
	assert.Equal(t, uint64(42), cfg.Robot.Seed)
	assert.Equal(t, uint64(42), cfg.Seed)
	assert.Equal(t, 300, cfg.Ticks)
	assert.InDelta(t, 1.0/30, cfg.DT, 1e-15)
	assert.Equal(t, 0.05, cfg.CollisionPenalty)
	assert.InDelta(t, math.Pi/4, cfg.Robot.FOVHalfAngle, 1e-12)
	assert.InDelta(t, 2*math.Pi/180, cfg.Robot.BearingNoiseStd, 1e-12)
	assert.True(t, cfg.Robot.LineOfSight)
	assert.Equal(t, fusion.NoisePerTick, cfg.Filter.NoiseModel)
	assert.Equal(t, [3]float64{4, 4, fusion.SigmaTheta0}, cfg.Filter.InitialCov)
	assert.InDelta(t, 10*math.Pi/180, cfg.InitialOffset.Theta, 1e-12)
	assert.Equal(t, [2]float64{0.5, 0}, cfg.OdometryNoise)
}

func TestLoadEpisodeConfigRejects(t *testing.T) {
	tests := []struct {
		name, file, body, want string
	}{
		{"extension", "episode.yaml", `{}`, ".json extension"},
		{"bad json", "episode.json", `{"rows":`, "parse config JSON"},
		{"bad duration", "episode.json", `{"duration": "soon"}`, "invalid duration"},
		{"bad fps", "episode.json", `{"fps": 0}`, "fps must be positive"},
		{"bad noise model", "episode.json", `{"noise_model": "hourly"}`, "unknown noise model"},
		{"bad fov", "episode.json", `{"fov_degrees": 400}`, "fov_degrees"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadEpisodeConfig(writeConfig(t, tt.file, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadEpisodeConfigSizeLimit(t *testing.T) {
	body := `{"map_file": "` + strings.Repeat("a", maxFileSize) + `"}`
	_, err := LoadEpisodeConfig(writeConfig(t, "big.json", body))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestLoadEpisodeConfigMissing(t *testing.T) {
	_, err := LoadEpisodeConfig(filepath.Join(t.TempDir(), "nope.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestGetters(t *testing.T) {
	c := &EpisodeConfig{}
	assert.Equal(t, 60.0, c.GetFPS())
	assert.Equal(t, time.Minute, c.GetDuration())
	assert.Equal(t, fusion.NoisePerSecond, c.GetNoiseModel())

	c.Duration = Ptr("1.5s")
	c.FPS = Ptr(20.0)
	assert.Equal(t, 30, c.GetTicks())
}

func TestBuildRejectsInvalidEpisode(t *testing.T) {
	_, err := (&EpisodeConfig{CollisionPenalty: Ptr(-1.0)}).Build()
	assert.Error(t, err)
}

func TestBuildBatchCountsSeeds(t *testing.T) {
	c := &EpisodeConfig{Seed: Ptr(uint64(10))}
	cfgs, err := c.BuildBatch(3)
	require.NoError(t, err)
	require.Len(t, cfgs, 3)
	for i, cfg := range cfgs {
		assert.Equal(t, uint64(10+i), cfg.Seed)
		assert.Equal(t, uint64(10+i), cfg.Map.Seed)
	}
	assert.Equal(t, uint64(10), *c.Seed, "base config untouched")
}

func TestSaveRoundTrip(t *testing.T) {
	c := &EpisodeConfig{Rows: Ptr(2), Duration: Ptr("5s"), LineOfSight: Ptr(true)}
	path := filepath.Join(t.TempDir(), "saved.json")
	require.NoError(t, c.Save(path))
	got, err := LoadEpisodeConfig(path)
	require.NoError(t, err)
	assert.Equal(t, c, got)
}
