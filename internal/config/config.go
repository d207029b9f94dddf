// Package config loads daemon configuration from an optional YAML file
// overlaid with FLOW_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/flow-sensor/internal/flow"
	"github.com/sweeney/flow-sensor/internal/gpio"
)

// EnvPrefix prefixes every environment override, e.g. FLOW_UPLINK_API_KEY.
const EnvPrefix = "FLOW"

// Config represents the daemon configuration. Fixed at start, no reload.
type Config struct {
	Device DeviceConfig `yaml:"device"`
	GPIO   GPIOConfig   `yaml:"gpio"`
	Uplink UplinkConfig `yaml:"uplink"`
	Link   LinkConfig   `yaml:"link"`
	Loop   LoopConfig   `yaml:"loop"`
	NTP    NTPConfig    `yaml:"ntp"`
	MQTT   MQTTConfig   `yaml:"mqtt"`
	HTTP   HTTPConfig   `yaml:"http"`
	Log    LogConfig    `yaml:"log"`
}

// DeviceConfig is the device identity.
type DeviceConfig struct {
	ID          string  `yaml:"id"`
	SensorType  string  `yaml:"sensor_type"`
	Location    string  `yaml:"location"`
	Calibration float64 `yaml:"calibration"` // pulses per liter
}

// GPIOConfig selects the sensor input line.
type GPIOConfig struct {
	Chip     string        `yaml:"chip"`
	Pin      int           `yaml:"pin"`
	Debounce time.Duration `yaml:"debounce"`
}

// UplinkConfig configures the ingestion endpoint.
type UplinkConfig struct {
	Endpoint         string        `yaml:"endpoint"`
	RegisterEndpoint string        `yaml:"register_endpoint"`
	APIKey           string        `yaml:"api_key"`
	Timeout          time.Duration `yaml:"timeout"`
	SendInterval     time.Duration `yaml:"send_interval"`
	UserAgent        string        `yaml:"user_agent"`
}

// LinkConfig configures link supervision.
type LinkConfig struct {
	Interface        string        `yaml:"interface"`
	ConnectAttempts  int           `yaml:"connect_attempts"`
	ConnectPoll      time.Duration `yaml:"connect_poll"`
	ReconnectCommand []string      `yaml:"reconnect_command"`
}

// LoopConfig configures the main loop timing.
type LoopConfig struct {
	Window           time.Duration `yaml:"window"`
	Idle             time.Duration `yaml:"idle"`
	Cooldown         time.Duration `yaml:"cooldown"`
	FailureThreshold int           `yaml:"failure_threshold"`
}

// NTPConfig configures time synchronization.
type NTPConfig struct {
	Enabled bool          `yaml:"enabled"`
	Server  string        `yaml:"server"`
	Timeout time.Duration `yaml:"timeout"`
}

// MQTTConfig configures the optional broker mirror. Empty broker disables it.
type MQTTConfig struct {
	Broker      string        `yaml:"broker"`
	ClientID    string        `yaml:"client_id"`
	TopicPrefix string        `yaml:"topic_prefix"`
	Heartbeat   time.Duration `yaml:"heartbeat"`
}

// HTTPConfig configures the status endpoint. Empty addr disables it.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
}

// Default returns a configuration with the stock sensor's values.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			SensorType:  "YF-S201",
			Calibration: 330,
		},
		GPIO: GPIOConfig{
			Chip: gpio.DefaultChip,
			Pin:  gpio.DefaultPin,
		},
		Uplink: UplinkConfig{
			Timeout:      10 * time.Second,
			SendInterval: 5 * time.Second,
			UserAgent:    "flow-sensor",
		},
		Link: LinkConfig{
			ConnectAttempts: 15,
			ConnectPoll:     time.Second,
		},
		Loop: LoopConfig{
			Window:           flow.DefaultWindow,
			Idle:             100 * time.Millisecond,
			Cooldown:         5 * time.Second,
			FailureThreshold: 3,
		},
		NTP: NTPConfig{
			Enabled: true,
			Server:  "pool.ntp.org",
			Timeout: 5 * time.Second,
		},
		MQTT: MQTTConfig{
			ClientID:    "flow-sensor",
			TopicPrefix: "water/flow/sensor",
			Heartbeat:   15 * time.Minute,
		},
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads the YAML file at path (optional when empty), applies
// environment overrides, fills derived fields, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: decode yaml: %w", err)
		}
	}

	if err := applyEnv(cfg, EnvPrefix, os.LookupEnv); err != nil {
		return nil, err
	}

	if cfg.Uplink.RegisterEndpoint == "" {
		cfg.Uplink.RegisterEndpoint = registerEndpoint(cfg.Uplink.Endpoint)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required fields and ranges.
func (c *Config) Validate() error {
	var errs []error

	if c.Device.ID == "" {
		errs = append(errs, errors.New("device.id is required"))
	}
	if c.Device.Calibration <= 0 {
		errs = append(errs, fmt.Errorf("device.calibration must be positive, got %v", c.Device.Calibration))
	}
	if c.GPIO.Pin < 0 {
		errs = append(errs, fmt.Errorf("gpio.pin must not be negative, got %d", c.GPIO.Pin))
	}
	if err := validateURL(c.Uplink.Endpoint); err != nil {
		errs = append(errs, fmt.Errorf("uplink.endpoint: %w", err))
	}
	if c.Uplink.APIKey == "" {
		errs = append(errs, errors.New("uplink.api_key is required"))
	}
	if c.Uplink.SendInterval <= 0 {
		errs = append(errs, errors.New("uplink.send_interval must be positive"))
	}
	if c.Uplink.Timeout <= 0 {
		errs = append(errs, errors.New("uplink.timeout must be positive"))
	}
	if c.Link.ConnectAttempts < 1 {
		errs = append(errs, errors.New("link.connect_attempts must be at least 1"))
	}
	if c.Loop.Window <= 0 {
		errs = append(errs, errors.New("loop.window must be positive"))
	}
	if c.Loop.Idle <= 0 {
		errs = append(errs, errors.New("loop.idle must be positive"))
	}
	if c.Loop.FailureThreshold < 1 {
		errs = append(errs, errors.New("loop.failure_threshold must be at least 1"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// Identity returns the immutable device identity.
func (c *Config) Identity() flow.DeviceIdentity {
	return flow.DeviceIdentity{
		ID:          c.Device.ID,
		SensorType:  c.Device.SensorType,
		Location:    c.Device.Location,
		Calibration: c.Device.Calibration,
	}
}

// Redacted returns a copy safe for printing.
func (c *Config) Redacted() *Config {
	cp := *c
	if cp.Uplink.APIKey != "" {
		cp.Uplink.APIKey = "REDACTED"
	}
	return &cp
}

func validateURL(raw string) error {
	if raw == "" {
		return errors.New("is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

// registerEndpoint derives the registration URL from the ingest URL by
// replacing its last path segment.
func registerEndpoint(ingest string) string {
	u, err := url.Parse(ingest)
	if err != nil || u.Host == "" {
		return ""
	}
	u.Path = path.Join(path.Dir(u.Path), "register-device")
	u.RawQuery = ""
	return u.String()
}
