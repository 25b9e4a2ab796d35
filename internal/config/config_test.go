package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yegors/flightphase/internal/filter"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestShippedConfigIsValid(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "config.toml"))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
[input]
source = "csv"
csv_path = "positions.csv"
units = "si"

[processing]
flight_gap_tolerance = "45m"
segment_gap_tolerance = "2m"
smoothing_method = "kalman"
workers = 4

[filters]
kalman_interpolate = true
kalman_r = 0.01
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "csv", cfg.Input.Source)
	assert.Equal(t, "true", cfg.Input.HeadingReference)
	assert.Equal(t, 45*time.Minute, cfg.Processing.FlightGapTolerance)
	assert.Equal(t, 100, cfg.Processing.FlightMinSamples)

	pc, err := cfg.Pipeline()
	require.NoError(t, err)
	assert.Equal(t, 45*time.Minute, pc.Flights.GapTolerance)
	assert.Equal(t, 2*time.Minute, pc.Segments.GapTolerance)
	assert.Equal(t, filter.MethodKalman, pc.Classifier.Method)
	assert.True(t, pc.Classifier.Params.Interpolate)
	assert.Equal(t, 0.01, pc.Classifier.Params.KalmanR)
	assert.Equal(t, 4, pc.Workers)
	assert.Equal(t, 50, pc.ChunkSize)

	opts := cfg.CSVOptions()
	assert.EqualValues(t, "si", opts.Units)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, `
[processing]
windw_seconds = 30
`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "processing.windw_seconds")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.ErrorContains(t, err, "config file not found")
}

func TestLoadWithFallback(t *testing.T) {
	path := writeConfig(t, `
[server]
port = 9090
`)
	cfg, err := LoadWithFallback(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestFilterParamsInterpolation(t *testing.T) {
	cfg := Default()
	cfg.Filters.SavGolInterpolate = true

	assert.True(t, cfg.FilterParams(filter.MethodSavitzkyGolay).Interpolate)
	assert.False(t, cfg.FilterParams(filter.MethodKalman).Interpolate)
	assert.False(t, cfg.FilterParams(filter.MethodSpline).Interpolate)
	assert.False(t, cfg.FilterParams(filter.MethodTWF).Interpolate)

	cfg = Default()
	cfg.Filters.KalmanInterpolate = true

	assert.False(t, cfg.FilterParams(filter.MethodSavitzkyGolay).Interpolate)
	assert.True(t, cfg.FilterParams(filter.MethodKalman).Interpolate)

	cfg = Default()
	cfg.Filters.SplineResample = true

	assert.True(t, cfg.FilterParams(filter.MethodSpline).Interpolate)
	assert.False(t, cfg.FilterParams(filter.MethodKalman).Interpolate)
}

func TestSmoothingMethodNames(t *testing.T) {
	for _, name := range []string{"savitzky_golay", "kalman", "spline", "twf"} {
		cfg := Default()
		cfg.Processing.SmoothingMethod = name
		pc, err := cfg.Pipeline()
		require.NoError(t, err, name)
		assert.EqualValues(t, name, pc.Classifier.Method)
	}

	cfg := Default()
	cfg.Processing.SmoothingMethod = "savgol"
	_, err := cfg.Pipeline()
	assert.ErrorContains(t, err, "invalid smoothing_method")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"log level", func(c *Config) { c.Logging.Level = "loud" }},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }},
		{"source", func(c *Config) { c.Input.Source = "kafka" }},
		{"csv without path", func(c *Config) { c.Input.Source = "csv" }},
		{"units", func(c *Config) { c.Input.Units = "metric" }},
		{"heading reference", func(c *Config) { c.Input.HeadingReference = "grid" }},
		{"sqlite path", func(c *Config) { c.Storage.SQLitePath = "" }},
		{"port", func(c *Config) { c.Server.Port = 70000 }},
		{"window", func(c *Config) { c.Processing.WindowSeconds = 0 }},
		{"workers", func(c *Config) { c.Processing.Workers = -2 }},
		{"method", func(c *Config) { c.Processing.SmoothingMethod = "loess" }},
		{"spline kernel", func(c *Config) { c.Filters.SplineKernel = 24 }},
		{"flight gap", func(c *Config) { c.Processing.FlightGapTolerance = 0 }},
		{"segment samples", func(c *Config) { c.Processing.SegmentMinSamples = 0 }},
		{"chunk size", func(c *Config) { c.Processing.ChunkSize = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
