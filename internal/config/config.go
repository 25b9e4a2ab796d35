package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/yegors/flightphase/internal/adsb"
	"github.com/yegors/flightphase/internal/filter"
	"github.com/yegors/flightphase/internal/flights"
	"github.com/yegors/flightphase/internal/fuzzy"
	"github.com/yegors/flightphase/internal/pipeline"
	"github.com/yegors/flightphase/internal/segments"
	"github.com/yegors/flightphase/pkg/logger"
)

// Config represents the main application configuration structure
// containing all configuration sections
type Config struct {
	Logging    LoggingConfig    `toml:"logging"`    // Application logging settings
	Input      InputConfig      `toml:"input"`      // Position source settings
	Storage    StorageConfig    `toml:"storage"`    // Data persistence settings
	Processing ProcessingConfig `toml:"processing"` // Flight, phase and segment extraction settings
	Filters    FiltersConfig    `toml:"filters"`    // Smoothing filter tunables
	Server     ServerConfig     `toml:"server"`     // HTTP server settings
}

// LoggingConfig contains application logging configuration
type LoggingConfig struct {
	Level      string `toml:"level"`        // Log level: "debug", "info", "warn", or "error"
	Format     string `toml:"format"`       // Log format: "json" (structured) or "console" (human-readable)
	File       string `toml:"file"`         // Optional rotating log file
	MaxSizeMB  int    `toml:"max_size_mb"`  // Size at which the log file is rotated
	MaxBackups int    `toml:"max_backups"`  // Rotated files to keep
	MaxAgeDays int    `toml:"max_age_days"` // Days to keep rotated files
}

// InputConfig selects where position reports come from
type InputConfig struct {
	// Allowed values:
	// - "csv": read CSVPath and load it into the positions table
	// - "sqlite": use the positions table as it is
	Source           string `toml:"source"`
	CSVPath          string `toml:"csv_path"`
	Units            string `toml:"units"`             // "imperial" (ft, kt, ft/min) or "si" (m, m/s, m/s)
	HeadingReference string `toml:"heading_reference"` // "true" or "magnetic"
}

// StorageConfig contains data persistence configuration
type StorageConfig struct {
	SQLitePath     string `toml:"sqlite_path"`     // Database holding positions, flights and segments
	PositionsTable string `toml:"positions_table"` // Name of the source table
	ArchivePath    string `toml:"archive_path"`    // Optional .msgpack.zst export written after each run
}

// ProcessingConfig contains the extraction settings
type ProcessingConfig struct {
	WindowSeconds       float64       `toml:"window_seconds"`        // Classification window
	FlightGapTolerance  time.Duration `toml:"flight_gap_tolerance"`  // Largest gap inside one flight, e.g. "30m"
	FlightMinSamples    int           `toml:"flight_min_samples"`    // Reports required to accept a flight
	SegmentGapTolerance time.Duration `toml:"segment_gap_tolerance"` // Largest gap inside one segment, e.g. "180s"
	SegmentMinSamples   int           `toml:"segment_min_samples"`   // Reports required to accept a segment
	SmoothingMethod     string        `toml:"smoothing_method"`      // "savitzky_golay", "kalman", "spline" or "twf"
	Workers             int           `toml:"workers"`               // Aircraft processed at once, 0 uses GOMAXPROCS
	ChunkSize           int           `toml:"chunk_size"`            // Aircraft per storage read
	AltitudeWeight      float64       `toml:"altitude_weight"`       // Weight of altitude when clustering flights, 0 uses time only
}

// FiltersConfig contains the smoothing filter tunables
type FiltersConfig struct {
	SavGolWindow      int     `toml:"savgol_window"`
	SavGolOrder       int     `toml:"savgol_order"`
	SavGolInterpolate bool    `toml:"savgol_interpolate"`
	KalmanQ           float64 `toml:"kalman_q"`
	KalmanR           float64 `toml:"kalman_r"`
	KalmanInterpolate bool    `toml:"kalman_interpolate"`
	SplineSigma       float64 `toml:"spline_sigma"`
	SplineKernel      int     `toml:"spline_kernel"`
	SplineResample    bool    `toml:"spline_resample"`
	TWFWindow         int     `toml:"twf_window"`
}

// ServerConfig contains HTTP server configuration settings
type ServerConfig struct {
	Host             string `toml:"host"`                  // Host address to bind to
	Port             int    `toml:"port"`                  // HTTP port
	ReadTimeoutSecs  int    `toml:"read_timeout_seconds"`  // Maximum duration for reading the entire request (0 = no timeout)
	WriteTimeoutSecs int    `toml:"write_timeout_seconds"` // Maximum duration for writing the response (0 = no timeout)
	IdleTimeoutSecs  int    `toml:"idle_timeout_seconds"`  // Maximum duration to wait for the next request when keep-alives are enabled
}

// Default returns a fully populated configuration
func Default() *Config {
	fp := filter.DefaultParams()
	return &Config{
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Input: InputConfig{
			Source:           "sqlite",
			Units:            string(adsb.UnitsImperial),
			HeadingReference: string(adsb.HeadingTrue),
		},
		Storage: StorageConfig{
			SQLitePath:     "data/flightphase.db",
			PositionsTable: "positions",
		},
		Processing: ProcessingConfig{
			WindowSeconds:       60,
			FlightGapTolerance:  30 * time.Minute,
			FlightMinSamples:    100,
			SegmentGapTolerance: 180 * time.Second,
			SegmentMinSamples:   30,
			SmoothingMethod:     string(filter.MethodSpline),
			ChunkSize:           50,
		},
		Filters: FiltersConfig{
			SavGolWindow: fp.SavGolWindow,
			SavGolOrder:  fp.SavGolOrder,
			KalmanQ:      fp.KalmanQ,
			KalmanR:      fp.KalmanR,
			SplineSigma:  fp.SplineSigma,
			SplineKernel: fp.SplineKernel,
			TWFWindow:    fp.TWFWindow,
		},
		Server: ServerConfig{
			Host:             "127.0.0.1",
			Port:             8080,
			ReadTimeoutSecs:  30,
			WriteTimeoutSecs: 60,
			IdleTimeoutSecs:  120,
		},
	}
}

// Load loads the configuration from the specified file path. Keys missing
// from the file keep their default values.
func Load(path string) (*Config, error) {
	config := Default()

	// Check if the file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	md, err := toml.DecodeFile(path, config)
	if err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}

	return config, nil
}

// LoadWithFallback loads the configuration by checking multiple locations in order of preference
func LoadWithFallback(preferredPath string) (*Config, error) {
	searchPaths := []string{
		preferredPath,
		"configs/config.toml",
		"config.toml",
	}

	// Remove duplicates while preserving order
	uniquePaths := make([]string, 0, len(searchPaths))
	seen := make(map[string]bool)
	for _, path := range searchPaths {
		if path != "" && !seen[path] {
			uniquePaths = append(uniquePaths, path)
			seen[path] = true
		}
	}

	var lastErr error
	for _, path := range uniquePaths {
		if _, err := os.Stat(path); err == nil {
			config, err := Load(path)
			if err != nil {
				lastErr = fmt.Errorf("failed to load config from %s: %w", path, err)
				continue
			}
			return config, nil
		}
		lastErr = fmt.Errorf("config file not found: %s", path)
	}

	return nil, fmt.Errorf("config file not found in any of the expected locations: %v. Last error: %w", uniquePaths, lastErr)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("invalid log format: %s (must be 'json' or 'console')", c.Logging.Format)
	}

	switch c.Input.Source {
	case "sqlite":
	case "csv":
		if c.Input.CSVPath == "" {
			return fmt.Errorf("input source is csv but csv_path is empty")
		}
	default:
		return fmt.Errorf("invalid input source: %s (must be 'csv' or 'sqlite')", c.Input.Source)
	}
	switch adsb.Units(c.Input.Units) {
	case adsb.UnitsImperial, adsb.UnitsSI:
	default:
		return fmt.Errorf("invalid input units: %s (must be 'imperial' or 'si')", c.Input.Units)
	}
	switch adsb.HeadingReference(c.Input.HeadingReference) {
	case adsb.HeadingTrue, adsb.HeadingMagnetic:
	default:
		return fmt.Errorf("invalid heading reference: %s (must be 'true' or 'magnetic')", c.Input.HeadingReference)
	}

	if c.Storage.SQLitePath == "" {
		return fmt.Errorf("storage sqlite_path is empty")
	}
	if c.Storage.PositionsTable == "" {
		return fmt.Errorf("storage positions_table is empty")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.ReadTimeoutSecs < 0 || c.Server.WriteTimeoutSecs < 0 || c.Server.IdleTimeoutSecs < 0 {
		return fmt.Errorf("server timeouts must be >= 0")
	}

	if !(c.Processing.WindowSeconds > 0) {
		return fmt.Errorf("invalid window_seconds: %g (must be > 0)", c.Processing.WindowSeconds)
	}
	if c.Processing.Workers < 0 {
		return fmt.Errorf("invalid workers value: %d (must be >= 0)", c.Processing.Workers)
	}

	method, err := filter.ParseMethod(c.Processing.SmoothingMethod)
	if err != nil {
		return fmt.Errorf("invalid smoothing_method: %w", err)
	}
	if err := c.FilterParams(method).Validate(method); err != nil {
		return fmt.Errorf("invalid filters config: %w", err)
	}

	pc, err := c.Pipeline()
	if err != nil {
		return err
	}
	return pc.Validate()
}

// FilterParams maps the filters section onto the filter tunables. The
// interpolation switch of the chosen method decides Params.Interpolate.
func (c *Config) FilterParams(method filter.Method) filter.Params {
	f := c.Filters
	p := filter.Params{
		SavGolWindow: f.SavGolWindow,
		SavGolOrder:  f.SavGolOrder,
		KalmanQ:      f.KalmanQ,
		KalmanR:      f.KalmanR,
		SplineSigma:  f.SplineSigma,
		SplineKernel: f.SplineKernel,
		TWFWindow:    f.TWFWindow,
	}
	switch method {
	case filter.MethodSavitzkyGolay:
		p.Interpolate = f.SavGolInterpolate
	case filter.MethodKalman:
		p.Interpolate = f.KalmanInterpolate
	case filter.MethodSpline:
		p.Interpolate = f.SplineResample
	}
	return p
}

// Pipeline builds the batch driver configuration
func (c *Config) Pipeline() (pipeline.Config, error) {
	method, err := filter.ParseMethod(c.Processing.SmoothingMethod)
	if err != nil {
		return pipeline.Config{}, fmt.Errorf("invalid smoothing_method: %w", err)
	}
	p := c.Processing
	return pipeline.Config{
		Flights: flights.Config{
			GapTolerance:   p.FlightGapTolerance,
			MinSamples:     p.FlightMinSamples,
			AltitudeWeight: p.AltitudeWeight,
		},
		Segments: segments.Config{
			GapTolerance: p.SegmentGapTolerance,
			MinSamples:   p.SegmentMinSamples,
		},
		Classifier: fuzzy.Options{
			WindowSeconds: p.WindowSeconds,
			Method:        method,
			Params:        c.FilterParams(method),
		},
		Workers:   p.Workers,
		ChunkSize: p.ChunkSize,
	}, nil
}

// CSVOptions returns the ingestion options of the input section
func (c *Config) CSVOptions() adsb.CSVOptions {
	return adsb.CSVOptions{
		Units:            adsb.Units(c.Input.Units),
		HeadingReference: adsb.HeadingReference(c.Input.HeadingReference),
	}
}

// Logger returns the logger configuration
func (c *Config) Logger() logger.Config {
	return logger.Config{
		Level:      c.Logging.Level,
		Format:     c.Logging.Format,
		File:       c.Logging.File,
		MaxSizeMB:  c.Logging.MaxSizeMB,
		MaxBackups: c.Logging.MaxBackups,
		MaxAgeDays: c.Logging.MaxAgeDays,
	}
}
