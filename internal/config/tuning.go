package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
const DefaultConfigPath = "config/pedal.defaults.json"

// Accepted values for the enumerated keys.
const (
	StrategyOdometer    = "odometer"
	StrategyRevolutions = "revolutions"

	SpeedDifferential = "differential"
	SpeedPerSample    = "per_sample"
)

// TuningConfig holds the pipeline tuning. Every field is optional; the Get*
// methods supply defaults for anything left unset, so partial files are safe.
type TuningConfig struct {
	// Distance reconciliation
	DistanceStrategy    *string  `json:"distance_strategy,omitempty"`
	TransmissionRatio   *float64 `json:"transmission_ratio,omitempty"`
	WheelCircumferenceM *float64 `json:"wheel_circumference_m,omitempty"`
	ResumeRawBaseline   *bool    `json:"resume_raw_baseline,omitempty"`

	// Speed
	SpeedMethod           *string `json:"speed_method,omitempty"`
	SampleInterval        *string `json:"sample_interval,omitempty"` // duration string like "2s"
	MeasureSampleInterval *bool   `json:"measure_sample_interval,omitempty"`
	SpeedPollInterval     *string `json:"speed_poll_interval,omitempty"`

	// Energy
	EnergyTickInterval *string `json:"energy_tick_interval,omitempty"`
	EnergyMaxElapsed   *string `json:"energy_max_elapsed,omitempty"`

	// Sessions and leaderboard
	SpeedRecordWarmup *string `json:"speed_record_warmup,omitempty"`
	LeaderboardSize   *int    `json:"leaderboard_size,omitempty"`
	WindowSize        *int    `json:"window_size,omitempty"`

	// Persistence
	RemoteTimeout *string `json:"remote_timeout,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a config with every field set to its default.
// It mirrors config/pedal.defaults.json.
func DefaultTuningConfig() *TuningConfig {
	return &TuningConfig{
		DistanceStrategy:      ptrString(StrategyOdometer),
		TransmissionRatio:     ptrFloat64(3.3),
		WheelCircumferenceM:   ptrFloat64(2.1),
		ResumeRawBaseline:     ptrBool(false),
		SpeedMethod:           ptrString(SpeedDifferential),
		SampleInterval:        ptrString("2s"),
		MeasureSampleInterval: ptrBool(true),
		SpeedPollInterval:     ptrString("200ms"),
		EnergyTickInterval:    ptrString("1s"),
		EnergyMaxElapsed:      ptrString("1.5s"),
		SpeedRecordWarmup:     ptrString("0s"),
		LeaderboardSize:       ptrInt(10),
		WindowSize:            ptrInt(30),
		RemoteTimeout:         ptrString("5s"),
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file must have a .json extension and be under 1MB.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching the current
// directory and its parents. Panics if the file cannot be loaded; intended
// for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/config/
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.DistanceStrategy != nil {
		switch *c.DistanceStrategy {
		case StrategyOdometer, StrategyRevolutions:
		default:
			return fmt.Errorf("distance_strategy must be %q or %q, got %q",
				StrategyOdometer, StrategyRevolutions, *c.DistanceStrategy)
		}
	}
	if c.SpeedMethod != nil {
		switch *c.SpeedMethod {
		case SpeedDifferential, SpeedPerSample:
		default:
			return fmt.Errorf("speed_method must be %q or %q, got %q",
				SpeedDifferential, SpeedPerSample, *c.SpeedMethod)
		}
	}

	if c.TransmissionRatio != nil && *c.TransmissionRatio <= 0 {
		return fmt.Errorf("transmission_ratio must be positive, got %f", *c.TransmissionRatio)
	}
	if c.WheelCircumferenceM != nil && *c.WheelCircumferenceM <= 0 {
		return fmt.Errorf("wheel_circumference_m must be positive, got %f", *c.WheelCircumferenceM)
	}
	if c.LeaderboardSize != nil && *c.LeaderboardSize <= 0 {
		return fmt.Errorf("leaderboard_size must be positive, got %d", *c.LeaderboardSize)
	}
	if c.WindowSize != nil && *c.WindowSize <= 0 {
		return fmt.Errorf("window_size must be positive, got %d", *c.WindowSize)
	}

	durations := []struct {
		key       string
		value     *string
		allowZero bool
	}{
		{"sample_interval", c.SampleInterval, false},
		{"speed_poll_interval", c.SpeedPollInterval, false},
		{"energy_tick_interval", c.EnergyTickInterval, false},
		{"energy_max_elapsed", c.EnergyMaxElapsed, false},
		{"speed_record_warmup", c.SpeedRecordWarmup, true},
		{"remote_timeout", c.RemoteTimeout, false},
	}
	for _, d := range durations {
		if d.value == nil || *d.value == "" {
			continue
		}
		v, err := time.ParseDuration(*d.value)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", d.key, *d.value, err)
		}
		if v < 0 || (v == 0 && !d.allowZero) {
			return fmt.Errorf("%s must be positive, got %s", d.key, *d.value)
		}
	}

	return nil
}

// durationOr parses s, returning def when it is unset or unparsable.
func durationOr(s *string, def time.Duration) time.Duration {
	if s == nil || *s == "" {
		return def
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return def
	}
	return d
}

// GetDistanceStrategy returns the distance_strategy value or the default.
func (c *TuningConfig) GetDistanceStrategy() string {
	if c.DistanceStrategy == nil || *c.DistanceStrategy == "" {
		return StrategyOdometer
	}
	return *c.DistanceStrategy
}

// GetTransmissionRatio returns the transmission_ratio value or the default.
func (c *TuningConfig) GetTransmissionRatio() float64 {
	if c.TransmissionRatio == nil {
		return 3.3
	}
	return *c.TransmissionRatio
}

// GetWheelCircumferenceM returns the wheel_circumference_m value or the default.
func (c *TuningConfig) GetWheelCircumferenceM() float64 {
	if c.WheelCircumferenceM == nil {
		return 2.1
	}
	return *c.WheelCircumferenceM
}

// GetResumeRawBaseline returns the resume_raw_baseline value or the default.
func (c *TuningConfig) GetResumeRawBaseline() bool {
	if c.ResumeRawBaseline == nil {
		return false // default: first sample after restart is a new baseline
	}
	return *c.ResumeRawBaseline
}

// GetSpeedMethod returns the speed_method value or the default.
func (c *TuningConfig) GetSpeedMethod() string {
	if c.SpeedMethod == nil || *c.SpeedMethod == "" {
		return SpeedDifferential
	}
	return *c.SpeedMethod
}

// GetSampleInterval returns the nominal feed sample spacing.
func (c *TuningConfig) GetSampleInterval() time.Duration {
	return durationOr(c.SampleInterval, 2*time.Second)
}

// GetMeasureSampleInterval returns the measure_sample_interval value or the default.
func (c *TuningConfig) GetMeasureSampleInterval() bool {
	if c.MeasureSampleInterval == nil {
		return true
	}
	return *c.MeasureSampleInterval
}

func (c *TuningConfig) GetSpeedPollInterval() time.Duration {
	return durationOr(c.SpeedPollInterval, 200*time.Millisecond)
}

func (c *TuningConfig) GetEnergyTickInterval() time.Duration {
	return durationOr(c.EnergyTickInterval, time.Second)
}

func (c *TuningConfig) GetEnergyMaxElapsed() time.Duration {
	return durationOr(c.EnergyMaxElapsed, 1500*time.Millisecond)
}

// GetSpeedRecordWarmup returns how long speed samples are ignored after a
// session starts. Zero disables the warm-up.
func (c *TuningConfig) GetSpeedRecordWarmup() time.Duration {
	return durationOr(c.SpeedRecordWarmup, 0)
}

// GetLeaderboardSize returns the leaderboard_size value or the default.
func (c *TuningConfig) GetLeaderboardSize() int {
	if c.LeaderboardSize == nil {
		return 10
	}
	return *c.LeaderboardSize
}

// GetWindowSize returns the window_size value or the default.
func (c *TuningConfig) GetWindowSize() int {
	if c.WindowSize == nil {
		return 30
	}
	return *c.WindowSize
}

// GetRemoteTimeout bounds each persistence write.
func (c *TuningConfig) GetRemoteTimeout() time.Duration {
	return durationOr(c.RemoteTimeout, 5*time.Second)
}
