package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is the path to the canonical defaults file.
const DefaultConfigPath = "config/radar.defaults.json"

// Defaults for unset fields.
const (
	DefaultArcMin           = 0.0
	DefaultArcMax           = 90.0
	DefaultRenderInterval   = 125 * time.Millisecond
	DefaultWarningDistance  = 30.0
	DefaultDistanceRange    = 50.0
	DefaultAngleEncoding    = "int32"
	DefaultBaudRate         = 115200
	DefaultFrameSize        = 24
	DefaultTelemetryTopic   = "radar/telemetry"
	DefaultSettingsTopic    = "radar/settings"
	DefaultSyntheticStepDeg = 2.5
	DefaultListen           = ":8080"
)

const maxFileSize = 1 * 1024 * 1024 // 1MB

// RadarConfig is the on-disk configuration. Every field is optional; the Get*
// methods supply defaults for anything left unset so partial files are safe.
type RadarConfig struct {
	// Sweep geometry and display
	ArcMinDeg       *float64 `json:"arc_min_deg,omitempty" yaml:"arc_min_deg,omitempty"`
	ArcMaxDeg       *float64 `json:"arc_max_deg,omitempty" yaml:"arc_max_deg,omitempty"`
	RenderInterval  *string  `json:"render_interval,omitempty" yaml:"render_interval,omitempty"` // duration string like "125ms"
	WarningDistance *float64 `json:"warning_distance,omitempty" yaml:"warning_distance,omitempty"`
	DistanceRange   *float64 `json:"distance_range,omitempty" yaml:"distance_range,omitempty"`

	// Telemetry link
	AngleEncoding      *string `json:"angle_encoding,omitempty" yaml:"angle_encoding,omitempty"`
	FrameSize          *int    `json:"frame_size,omitempty" yaml:"frame_size,omitempty"`
	SerialPort         *string `json:"serial_port,omitempty" yaml:"serial_port,omitempty"`
	BaudRate           *int    `json:"baud_rate,omitempty" yaml:"baud_rate,omitempty"`
	MQTTBroker         *string `json:"mqtt_broker,omitempty" yaml:"mqtt_broker,omitempty"`
	MQTTTelemetryTopic *string `json:"mqtt_telemetry_topic,omitempty" yaml:"mqtt_telemetry_topic,omitempty"`
	MQTTSettingsTopic  *string `json:"mqtt_settings_topic,omitempty" yaml:"mqtt_settings_topic,omitempty"`

	SyntheticStepDeg *float64 `json:"synthetic_step_deg,omitempty" yaml:"synthetic_step_deg,omitempty"`
	FilterOutOfRange *bool    `json:"filter_out_of_range,omitempty" yaml:"filter_out_of_range,omitempty"`
	Listen           *string  `json:"listen,omitempty" yaml:"listen,omitempty"`
}

// EmptyConfig returns a RadarConfig with all fields set to nil.
func EmptyConfig() *RadarConfig {
	return &RadarConfig{}
}

// Load reads a RadarConfig from a .json, .yaml or .yml file and validates it.
// Unknown YAML keys are rejected.
func Load(path string) (*RadarConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
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

	cfg := EmptyConfig()
	if ext == ".json" {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	} else {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		// an empty document decodes to io.EOF, which leaves every field unset
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configured values are usable.
func (c *RadarConfig) Validate() error {
	var errs []error

	if c.ArcMinDeg != nil || c.ArcMaxDeg != nil {
		if c.GetArcMaxDeg() <= c.GetArcMinDeg() {
			errs = append(errs, fmt.Errorf("arc_max_deg (%g) must be greater than arc_min_deg (%g)", c.GetArcMaxDeg(), c.GetArcMinDeg()))
		}
	}
	if c.RenderInterval != nil && *c.RenderInterval != "" {
		d, err := time.ParseDuration(*c.RenderInterval)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid render_interval '%s': %w", *c.RenderInterval, err))
		} else if d <= 0 {
			errs = append(errs, fmt.Errorf("render_interval must be positive, got %s", d))
		}
	}
	if c.WarningDistance != nil && *c.WarningDistance < 0 {
		errs = append(errs, fmt.Errorf("warning_distance must be non-negative, got %g", *c.WarningDistance))
	}
	if c.DistanceRange != nil && *c.DistanceRange <= 0 {
		errs = append(errs, fmt.Errorf("distance_range must be positive, got %g", *c.DistanceRange))
	}
	if c.AngleEncoding != nil {
		switch strings.ToLower(strings.TrimSpace(*c.AngleEncoding)) {
		case "", "int", "int32", "float", "float32":
		default:
			errs = append(errs, fmt.Errorf("angle_encoding must be int32 or float32, got %q", *c.AngleEncoding))
		}
	}
	if c.FrameSize != nil && *c.FrameSize != 8 && *c.FrameSize != 24 {
		errs = append(errs, fmt.Errorf("frame_size must be 8 or 24, got %d", *c.FrameSize))
	}
	if c.BaudRate != nil && *c.BaudRate <= 0 {
		errs = append(errs, fmt.Errorf("baud_rate must be positive, got %d", *c.BaudRate))
	}
	if c.SyntheticStepDeg != nil && *c.SyntheticStepDeg <= 0 {
		errs = append(errs, fmt.Errorf("synthetic_step_deg must be positive, got %g", *c.SyntheticStepDeg))
	}
	if c.SerialPort != nil && *c.SerialPort != "" && c.MQTTBroker != nil && *c.MQTTBroker != "" {
		errs = append(errs, errors.New("serial_port and mqtt_broker are mutually exclusive"))
	}

	return errors.Join(errs...)
}

func (c *RadarConfig) GetArcMinDeg() float64 {
	if c.ArcMinDeg == nil {
		return DefaultArcMin
	}
	return *c.ArcMinDeg
}

func (c *RadarConfig) GetArcMaxDeg() float64 {
	if c.ArcMaxDeg == nil {
		return DefaultArcMax
	}
	return *c.ArcMaxDeg
}

// GetRenderInterval returns the parsed render interval, falling back to the
// default when unset or unparsable.
func (c *RadarConfig) GetRenderInterval() time.Duration {
	if c.RenderInterval == nil || *c.RenderInterval == "" {
		return DefaultRenderInterval
	}
	d, err := time.ParseDuration(*c.RenderInterval)
	if err != nil || d <= 0 {
		return DefaultRenderInterval
	}
	return d
}

func (c *RadarConfig) GetWarningDistance() float64 {
	if c.WarningDistance == nil {
		return DefaultWarningDistance
	}
	return *c.WarningDistance
}

func (c *RadarConfig) GetDistanceRange() float64 {
	if c.DistanceRange == nil {
		return DefaultDistanceRange
	}
	return *c.DistanceRange
}

func (c *RadarConfig) GetAngleEncoding() string {
	if c.AngleEncoding == nil || *c.AngleEncoding == "" {
		return DefaultAngleEncoding
	}
	return *c.AngleEncoding
}

func (c *RadarConfig) GetFrameSize() int {
	if c.FrameSize == nil {
		return DefaultFrameSize
	}
	return *c.FrameSize
}

// GetSerialPort returns the serial device path, or "" when none is configured.
func (c *RadarConfig) GetSerialPort() string {
	if c.SerialPort == nil {
		return ""
	}
	return *c.SerialPort
}

func (c *RadarConfig) GetBaudRate() int {
	if c.BaudRate == nil {
		return DefaultBaudRate
	}
	return *c.BaudRate
}

// GetMQTTBroker returns the broker address, or "" when MQTT is not used.
func (c *RadarConfig) GetMQTTBroker() string {
	if c.MQTTBroker == nil {
		return ""
	}
	return *c.MQTTBroker
}

func (c *RadarConfig) GetMQTTTelemetryTopic() string {
	if c.MQTTTelemetryTopic == nil || *c.MQTTTelemetryTopic == "" {
		return DefaultTelemetryTopic
	}
	return *c.MQTTTelemetryTopic
}

func (c *RadarConfig) GetMQTTSettingsTopic() string {
	if c.MQTTSettingsTopic == nil || *c.MQTTSettingsTopic == "" {
		return DefaultSettingsTopic
	}
	return *c.MQTTSettingsTopic
}

func (c *RadarConfig) GetSyntheticStepDeg() float64 {
	if c.SyntheticStepDeg == nil {
		return DefaultSyntheticStepDeg
	}
	return *c.SyntheticStepDeg
}

func (c *RadarConfig) GetFilterOutOfRange() bool {
	if c.FilterOutOfRange == nil {
		return false
	}
	return *c.FilterOutOfRange
}

func (c *RadarConfig) GetListen() string {
	if c.Listen == nil || *c.Listen == "" {
		return DefaultListen
	}
	return *c.Listen
}
