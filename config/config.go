// Package config loads and validates the pipeline configuration from JSON,
// with defaults for every field and environment variable overrides for
// deployment-specific settings.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/ola-oye/VitaBand/errors"
)

// Duration wraps time.Duration so JSON configs can use strings like "250ms"
type Duration time.Duration

// UnmarshalJSON accepts either a duration string or nanoseconds
func (d *Duration) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		*d = Duration(time.Duration(value))
		return nil
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value, err)
		}
		*d = Duration(parsed)
		return nil
	default:
		return fmt.Errorf("invalid duration type %T", v)
	}
}

// MarshalJSON renders the duration as a string
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std returns the underlying time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the complete application configuration
type Config struct {
	Device     DeviceConfig     `json:"device"`
	Bus        BusConfig        `json:"bus"`
	Sensors    SensorsConfig    `json:"sensors"`
	Synchro    SynchroConfig    `json:"synchro"`
	Window     WindowConfig     `json:"window"`
	Inference  InferenceConfig  `json:"inference"`
	Outbox     OutboxConfig     `json:"outbox"`
	Publisher  PublisherConfig  `json:"publisher"`
	Controller ControllerConfig `json:"controller"`
	Metrics    MetricsConfig    `json:"metrics"`
	Logging    LoggingConfig    `json:"logging"`
}

// DeviceConfig identifies this device on the bus
type DeviceConfig struct {
	ID   string `json:"id"`   // stable device identifier; generated when empty
	Name string `json:"name"` // human-readable device name
}

// BusConfig configures the broker connection
type BusConfig struct {
	URL              string   `json:"url"`
	MaxReconnects    int      `json:"max_reconnects"`
	ReconnectWait    Duration `json:"reconnect_wait"`
	CircuitThreshold int32    `json:"circuit_threshold"`
	MaxBackoff       Duration `json:"max_backoff"`
	ConnectTimeout   Duration `json:"connect_timeout"`
	DrainTimeout     Duration `json:"drain_timeout"`
}

// SensorsConfig configures acquisition
type SensorsConfig struct {
	ReadTimeout Duration `json:"read_timeout"`
	BufferSize  int      `json:"buffer_size"`
	ReplayPath  string   `json:"replay_path,omitempty"` // replay recorded readings instead of synthetic sources
	Seed        int64    `json:"seed,omitempty"`        // synthetic source seed, 0 = time-based
}

// SynchroConfig configures frame alignment and sample screening
type SynchroConfig struct {
	Tolerance       Duration `json:"tolerance"`
	FrameDeadline   Duration `json:"frame_deadline"`
	OutlierWindow   int      `json:"outlier_window"`
	OutlierMADs     float64  `json:"outlier_mads"`
	MotionThreshold float64  `json:"motion_threshold"` // g^2 net of gravity, above this optical samples are suspect
}

// WindowConfig configures feature window aggregation
type WindowConfig struct {
	Size       Duration       `json:"size"`
	Overlap    float64        `json:"overlap"` // fraction of window size, [0, 1)
	MinSamples map[string]int `json:"min_samples"`
}

// InferenceConfig configures classification
type InferenceConfig struct {
	Timeout   Duration `json:"timeout"`
	QueueSize int      `json:"queue_size"`
}

// OutboxConfig configures the durable outbox
type OutboxConfig struct {
	Dir              string `json:"dir"`
	Capacity         int    `json:"capacity"`
	DropOldest       bool   `json:"drop_oldest"` // allow evicting acknowledged-pending qos>=1 entries at capacity
	CompactThreshold int    `json:"compact_threshold"`
}

// PublisherConfig configures delivery
type PublisherConfig struct {
	PublishTimeout Duration `json:"publish_timeout"`
	InitialBackoff Duration `json:"initial_backoff"`
	MaxBackoff     Duration `json:"max_backoff"`
	Multiplier     float64  `json:"multiplier"`
	BatchSize      int      `json:"batch_size"`
}

// ControllerConfig configures scheduling and shutdown
type ControllerConfig struct {
	FastTick          Duration `json:"fast_tick"`
	HeartbeatInterval Duration `json:"heartbeat_interval"`
	StatusInterval    Duration `json:"status_interval"`
	ShutdownGrace     Duration `json:"shutdown_grace"`
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port"`
	Path    string `json:"path"`
}

// LoggingConfig configures structured logging
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			Name: "vitaband",
		},
		Bus: BusConfig{
			URL:              "nats://localhost:4222",
			MaxReconnects:    -1,
			ReconnectWait:    Duration(2 * time.Second),
			CircuitThreshold: 5,
			MaxBackoff:       Duration(time.Minute),
			ConnectTimeout:   Duration(5 * time.Second),
			DrainTimeout:     Duration(10 * time.Second),
		},
		Sensors: SensorsConfig{
			ReadTimeout: Duration(500 * time.Millisecond),
			BufferSize:  256,
		},
		Synchro: SynchroConfig{
			Tolerance:       Duration(250 * time.Millisecond),
			FrameDeadline:   Duration(time.Second),
			OutlierWindow:   15,
			OutlierMADs:     4.0,
			MotionThreshold: 0.2,
		},
		Window: WindowConfig{
			Size:    Duration(30 * time.Second),
			Overlap: 0.5,
			MinSamples: map[string]int{
				"pulse_ox":    8,
				"body_temp":   2,
				"environment": 2,
				"motion":      8,
			},
		},
		Inference: InferenceConfig{
			Timeout:   Duration(2 * time.Second),
			QueueSize: 16,
		},
		Outbox: OutboxConfig{
			Dir:              "data/outbox",
			Capacity:         10000,
			CompactThreshold: 2000,
		},
		Publisher: PublisherConfig{
			PublishTimeout: Duration(3 * time.Second),
			InitialBackoff: Duration(500 * time.Millisecond),
			MaxBackoff:     Duration(30 * time.Second),
			Multiplier:     2.0,
			BatchSize:      32,
		},
		Controller: ControllerConfig{
			FastTick:          Duration(250 * time.Millisecond),
			HeartbeatInterval: Duration(30 * time.Second),
			StatusInterval:    Duration(60 * time.Second),
			ShutdownGrace:     Duration(10 * time.Second),
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads configuration from an optional JSON file, applies environment
// overrides, and validates the result. An empty path returns defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Config", "Load", "read config file")
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, errors.WrapInvalid(err, "Config", "Load", "parse config file")
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies VITABAND_* environment variables on top of the
// loaded configuration
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("VITABAND_BUS_URL"); v != "" {
		cfg.Bus.URL = v
	}
	if v := os.Getenv("VITABAND_DEVICE_ID"); v != "" {
		cfg.Device.ID = v
	}
	if v := os.Getenv("VITABAND_OUTBOX_DIR"); v != "" {
		cfg.Outbox.Dir = v
	}
	if v := os.Getenv("VITABAND_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("VITABAND_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("VITABAND_METRICS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Metrics.Port = port
		}
	}
	if v := os.Getenv("VITABAND_REPLAY_PATH"); v != "" {
		cfg.Sensors.ReplayPath = v
	}
}

// Validate checks configuration invariants
func (c *Config) Validate() error {
	invalid := func(msg string) error {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", msg)
	}

	if c.Bus.URL == "" {
		return invalid("bus url is required")
	}
	if c.Synchro.Tolerance.Std() <= 0 {
		return invalid("synchro tolerance must be positive")
	}
	if c.Synchro.FrameDeadline.Std() < c.Synchro.Tolerance.Std() {
		return invalid("frame deadline must be >= tolerance")
	}
	if c.Synchro.OutlierWindow < 3 {
		return invalid("outlier window must be at least 3 samples")
	}
	if c.Synchro.OutlierMADs <= 0 {
		return invalid("outlier threshold must be positive")
	}
	if c.Window.Size.Std() <= 0 {
		return invalid("window size must be positive")
	}
	if c.Window.Overlap < 0 || c.Window.Overlap >= 1 {
		return invalid("window overlap must be in [0, 1)")
	}
	if c.Inference.Timeout.Std() <= 0 {
		return invalid("inference timeout must be positive")
	}
	if c.Outbox.Capacity <= 0 {
		return invalid("outbox capacity must be positive")
	}
	if c.Outbox.Dir == "" {
		return invalid("outbox dir is required")
	}
	if c.Publisher.Multiplier < 1 {
		return invalid("publisher backoff multiplier must be >= 1")
	}
	if c.Publisher.InitialBackoff.Std() <= 0 ||
		c.Publisher.MaxBackoff.Std() < c.Publisher.InitialBackoff.Std() {
		return invalid("publisher backoff range is invalid")
	}
	if c.Controller.FastTick.Std() <= 0 {
		return invalid("fast tick must be positive")
	}
	if c.Controller.ShutdownGrace.Std() < 0 {
		return invalid("shutdown grace cannot be negative")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return invalid(fmt.Sprintf("unknown log level %q", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return invalid(fmt.Sprintf("unknown log format %q", c.Logging.Format))
	}
	return nil
}
