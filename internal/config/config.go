package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"sleepywoodpecker/serial-scope/internal/device"
	"sleepywoodpecker/serial-scope/internal/filter"
	"sleepywoodpecker/serial-scope/internal/processing"
)

const (
	DefaultSamplingRate       = 3840
	DefaultMaxRetainedSeconds = 120
	DefaultVisibleSeconds     = 30
	DefaultMinimum            = 175
	DefaultMaximum            = 49
	DefaultReadTimeoutMs      = 5
	DefaultTelemetryAddr      = "127.0.0.1:4020"
	DefaultTelemetryMs        = 100
	DefaultLogFile            = "rserial.logs"
	DefaultStoragePath        = "serial-scope.db"
	DefaultExportDir          = "exports"
	DefaultSimulatorFrequency = 440
)

// SamplingRatePresets are the rates the device firmware can be flashed with.
var SamplingRatePresets = []int{120, 240, 480, 960, 1440, 1920, 3840, 5760, 11520, 23040, 25000, 46080, 50000, 92160, 100000}

var ErrInvalidConfig = errors.New("config: invalid configuration")

type Config struct {
	Serial      SerialConfig      `yaml:"serial"`
	Acquisition AcquisitionConfig `yaml:"acquisition"`
	Analysis    AnalysisConfig    `yaml:"analysis"`
	Filter      filter.Options    `yaml:"filter"`
	Simulator   SimulatorConfig   `yaml:"simulator"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Storage     StorageConfig     `yaml:"storage"`
	Recording   RecordingConfig   `yaml:"recording"`
	Export      ExportConfig      `yaml:"export"`
	Logging     LoggingConfig     `yaml:"logging"`
}

type SerialConfig struct {
	Port string `yaml:"port"`
	// Baud defaults to ten times the sampling rate: one start bit, eight data bits, one stop bit.
	Baud          int `yaml:"baud"`
	ReadTimeoutMs int `yaml:"read_timeout_ms"`
}

type AcquisitionConfig struct {
	SamplingRate       int     `yaml:"sampling_rate"`
	MaxRetainedSeconds int     `yaml:"max_retained_seconds"`
	VisibleSeconds     float64 `yaml:"visible_seconds"`
	Minimum            *int    `yaml:"minimum"`
	Maximum            *int    `yaml:"maximum"`
	InvertOutput       *bool   `yaml:"invert_output"`
	ReadChunk          int     `yaml:"read_chunk"`
}

type AnalysisConfig struct {
	WindowLength int   `yaml:"window_length"`
	IntervalMs   int   `yaml:"interval_ms"`
	AutoNotify   *bool `yaml:"auto_notify"`
}

type SimulatorConfig struct {
	Waveform    device.Waveform `yaml:"waveform"`
	FrequencyHz float64         `yaml:"frequency_hz"`
	TablePoints int             `yaml:"table_points"`
	Paced       *bool           `yaml:"paced"`
}

type TelemetryConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Addr       string `yaml:"addr"`
	IntervalMs int    `yaml:"interval_ms"`
}

type StorageConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type RecordingConfig struct {
	CSVPath string `yaml:"csv_path"`
}

type ExportConfig struct {
	Dir string `yaml:"dir"`
}

type LoggingConfig struct {
	File    string `yaml:"file"`
	Level   string `yaml:"level"`
	Console bool   `yaml:"console"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default is the configuration used when no file is given.
func Default() *Config {
	var cfg Config
	cfg.ApplyDefaults()
	return &cfg
}

func (c *Config) ApplyDefaults() {
	a := &c.Acquisition
	if a.SamplingRate == 0 {
		a.SamplingRate = DefaultSamplingRate
	}
	if a.MaxRetainedSeconds == 0 {
		a.MaxRetainedSeconds = DefaultMaxRetainedSeconds
	}
	if a.VisibleSeconds == 0 {
		a.VisibleSeconds = DefaultVisibleSeconds
	}
	if a.Minimum == nil {
		a.Minimum = ptr(DefaultMinimum)
	}
	if a.Maximum == nil {
		a.Maximum = ptr(DefaultMaximum)
	}
	if a.InvertOutput == nil {
		a.InvertOutput = ptr(true)
	}
	if a.ReadChunk == 0 {
		a.ReadChunk = processing.DefaultReadChunk
	}

	if c.Serial.Baud == 0 {
		c.Serial.Baud = a.SamplingRate * 10
	}
	if c.Serial.ReadTimeoutMs == 0 {
		c.Serial.ReadTimeoutMs = DefaultReadTimeoutMs
	}

	if c.Analysis.WindowLength == 0 {
		c.Analysis.WindowLength = a.SamplingRate
	}
	if c.Analysis.IntervalMs == 0 {
		c.Analysis.IntervalMs = int(processing.DefaultAnalysisInterval / time.Millisecond)
	}
	if c.Analysis.AutoNotify == nil {
		c.Analysis.AutoNotify = ptr(true)
	}

	if c.Filter.Kind == "" {
		c.Filter.Kind = filter.KindNone
	}

	if c.Simulator.Waveform == "" {
		c.Simulator.Waveform = device.Sine
	}
	if c.Simulator.FrequencyHz == 0 {
		c.Simulator.FrequencyHz = DefaultSimulatorFrequency
	}
	if c.Simulator.TablePoints == 0 {
		c.Simulator.TablePoints = device.DefaultTablePoints
	}
	if c.Simulator.Paced == nil {
		c.Simulator.Paced = ptr(true)
	}

	if c.Telemetry.Addr == "" {
		c.Telemetry.Addr = DefaultTelemetryAddr
	}
	if c.Telemetry.IntervalMs == 0 {
		c.Telemetry.IntervalMs = DefaultTelemetryMs
	}
	if c.Storage.Path == "" {
		c.Storage.Path = DefaultStoragePath
	}
	if c.Export.Dir == "" {
		c.Export.Dir = DefaultExportDir
	}
	if c.Logging.File == "" {
		c.Logging.File = DefaultLogFile
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

func (c *Config) Validate() error {
	a := c.Acquisition
	switch {
	case a.SamplingRate <= 0:
		return fmt.Errorf("%w: sampling_rate must be positive, got %d", ErrInvalidConfig, a.SamplingRate)
	case a.MaxRetainedSeconds <= 0:
		return fmt.Errorf("%w: max_retained_seconds must be positive, got %d", ErrInvalidConfig, a.MaxRetainedSeconds)
	case a.VisibleSeconds <= 0 || a.VisibleSeconds > float64(a.MaxRetainedSeconds):
		return fmt.Errorf("%w: visible_seconds must be in (0, %d], got %g", ErrInvalidConfig, a.MaxRetainedSeconds, a.VisibleSeconds)
	case *a.Minimum < 0 || *a.Minimum > 255 || *a.Maximum < 0 || *a.Maximum > 255:
		return fmt.Errorf("%w: minimum and maximum must be device levels 0..255", ErrInvalidConfig)
	case *a.Minimum == *a.Maximum:
		return fmt.Errorf("%w: minimum and maximum must differ", ErrInvalidConfig)
	case a.ReadChunk < 0:
		return fmt.Errorf("%w: read_chunk must not be negative", ErrInvalidConfig)
	case c.Serial.Baud <= 0:
		return fmt.Errorf("%w: baud must be positive, got %d", ErrInvalidConfig, c.Serial.Baud)
	case c.Analysis.WindowLength <= 0:
		return fmt.Errorf("%w: window_length must be positive, got %d", ErrInvalidConfig, c.Analysis.WindowLength)
	case c.Simulator.FrequencyHz <= 0 || c.Simulator.FrequencyHz >= float64(a.SamplingRate)/2:
		return fmt.Errorf("%w: simulator frequency must be below the Nyquist frequency", ErrInvalidConfig)
	}

	switch c.Filter.Kind {
	case filter.KindNone:
	case filter.KindLowPass, filter.KindHighPass:
		lo, hi := filter.CutoffRange(c.Filter.Kind, float64(a.SamplingRate))
		if cutoff := c.Filter.Cutoff; cutoff != 0 && (cutoff < lo || cutoff > hi) {
			return fmt.Errorf("%w: %s cutoff %g Hz outside [%g, %g]", ErrInvalidConfig, c.Filter.Kind, cutoff, lo, hi)
		}
	case filter.KindLua:
		if c.Filter.Script == "" {
			return fmt.Errorf("%w: lua filter needs a script", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: %w %q", ErrInvalidConfig, filter.ErrUnknownKind, c.Filter.Kind)
	}
	return nil
}

// IsPreset reports whether the sampling rate is one the firmware supports.
func (c *Config) IsPreset() bool {
	return slices.Contains(SamplingRatePresets, c.Acquisition.SamplingRate)
}

func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.Serial.ReadTimeoutMs) * time.Millisecond
}

func (c *Config) TelemetryInterval() time.Duration {
	return time.Duration(c.Telemetry.IntervalMs) * time.Millisecond
}

func (c *Config) PipelineSettings() (processing.Settings, error) {
	a := c.Acquisition
	mapper, err := processing.NewMapper(*a.Minimum, *a.Maximum, *a.InvertOutput)
	if err != nil {
		return processing.Settings{}, err
	}

	return processing.Settings{
		SamplingRate:       a.SamplingRate,
		MaxRetainedSeconds: a.MaxRetainedSeconds,
		VisibleSeconds:     a.VisibleSeconds,
		ReadChunk:          a.ReadChunk,
		AnalysisWindow:     c.Analysis.WindowLength,
		AnalysisInterval:   time.Duration(c.Analysis.IntervalMs) * time.Millisecond,
		AutoNotify:         *c.Analysis.AutoNotify,
		Mapper:             mapper,
	}, nil
}

func ptr[T any](v T) *T {
	return &v
}
