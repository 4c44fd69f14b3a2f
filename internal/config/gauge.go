// Package config loads the gauge service configuration from JSON.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vaclab-data/pressure.report/internal/units"
)

// GaugeConfig is the root configuration for the gauge service. All fields
// are pointers so a partial config file only overrides what it names; the
// Get* accessors supply defaults for everything else.
type GaugeConfig struct {
	// Serial transport
	SerialPort *string `json:"serial_port,omitempty"`
	BaudRate   *int    `json:"baud_rate,omitempty"`
	Address    *int    `json:"address,omitempty"`

	// Exchange tuning, duration strings like "1s" / "50ms"
	ReadTimeout *string `json:"read_timeout,omitempty"`
	PollDelay   *string `json:"poll_delay,omitempty"`

	// Sampling
	PollInterval *string `json:"poll_interval,omitempty"`
	Unit         *string `json:"unit,omitempty"`
	LogDir       *string `json:"log_dir,omitempty"`

	// Simulator
	Simulated *bool    `json:"simulated,omitempty"`
	SimNoise  *float64 `json:"sim_noise,omitempty"`

	// Persistence and HTTP
	DatabasePath *string `json:"database_path,omitempty"`
	Listen       *string `json:"listen,omitempty"`

	// Optional MQTT fan-out; publishing is disabled unless a broker is set
	MQTTBroker      *string `json:"mqtt_broker,omitempty"`
	MQTTClientID    *string `json:"mqtt_client_id,omitempty"`
	MQTTTopicPrefix *string `json:"mqtt_topic_prefix,omitempty"`
	MQTTUsername    *string `json:"mqtt_username,omitempty"`
	MQTTPassword    *string `json:"mqtt_password,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyGaugeConfig returns a GaugeConfig with all fields unset, so every
// accessor falls back to its default.
func EmptyGaugeConfig() *GaugeConfig {
	return &GaugeConfig{}
}

// LoadGaugeConfig loads a GaugeConfig from a JSON file. Fields omitted from
// the file keep their defaults, so partial configs are safe.
func LoadGaugeConfig(path string) (*GaugeConfig, error) {
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

	cfg := EmptyGaugeConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that set fields hold usable values.
func (c *GaugeConfig) Validate() error {
	if c.BaudRate != nil && *c.BaudRate <= 0 {
		return fmt.Errorf("baud_rate must be positive, got %d", *c.BaudRate)
	}
	if c.Address != nil && (*c.Address < 1 || *c.Address > 253) {
		return fmt.Errorf("address must be between 1 and 253, got %d", *c.Address)
	}
	if c.Unit != nil {
		if u := units.Normalize(*c.Unit); !units.IsValid(u) {
			return fmt.Errorf("invalid unit %q: valid units are %s", *c.Unit, units.GetValidUnitsString())
		}
	}
	if c.SimNoise != nil && (*c.SimNoise < 0 || *c.SimNoise > 1) {
		return fmt.Errorf("sim_noise must be between 0 and 1, got %f", *c.SimNoise)
	}
	for name, field := range map[string]*string{
		"read_timeout":  c.ReadTimeout,
		"poll_delay":    c.PollDelay,
		"poll_interval": c.PollInterval,
	} {
		if field != nil && *field != "" {
			if _, err := time.ParseDuration(*field); err != nil {
				return fmt.Errorf("invalid %s '%s': %w", name, *field, err)
			}
		}
	}
	return nil
}

// GetSerialPort returns the serial device path, empty when unset.
func (c *GaugeConfig) GetSerialPort() string {
	if c.SerialPort == nil {
		return ""
	}
	return *c.SerialPort
}

// GetBaudRate returns the baud rate or the gauge factory default.
func (c *GaugeConfig) GetBaudRate() int {
	if c.BaudRate == nil {
		return 9600
	}
	return *c.BaudRate
}

// GetAddress returns the RS-485 device address or the broadcast default.
func (c *GaugeConfig) GetAddress() int {
	if c.Address == nil {
		return 253
	}
	return *c.Address
}

// GetReadTimeout parses and returns the serial read timeout.
func (c *GaugeConfig) GetReadTimeout() time.Duration {
	return c.duration(c.ReadTimeout, time.Second)
}

// GetPollDelay parses and returns the write-to-read settle delay.
func (c *GaugeConfig) GetPollDelay() time.Duration {
	return c.duration(c.PollDelay, 50*time.Millisecond)
}

// GetPollInterval parses and returns the sampling interval.
func (c *GaugeConfig) GetPollInterval() time.Duration {
	return c.duration(c.PollInterval, 2*time.Second)
}

func (c *GaugeConfig) duration(field *string, fallback time.Duration) time.Duration {
	if field == nil || *field == "" {
		return fallback
	}
	d, err := time.ParseDuration(*field)
	if err != nil {
		return fallback
	}
	return d
}

// GetUnit returns the normalized display unit, defaulting to mbar.
func (c *GaugeConfig) GetUnit() string {
	if c.Unit == nil {
		return units.MBAR
	}
	return units.Normalize(*c.Unit)
}

// GetLogDir returns where CSV measurement logs are written.
func (c *GaugeConfig) GetLogDir() string {
	if c.LogDir == nil {
		return "logs"
	}
	return *c.LogDir
}

// GetSimulated reports whether runs should use the built-in simulator.
func (c *GaugeConfig) GetSimulated() bool {
	if c.Simulated == nil {
		return false
	}
	return *c.Simulated
}

// GetSimNoise returns the simulator's relative jitter.
func (c *GaugeConfig) GetSimNoise() float64 {
	if c.SimNoise == nil {
		return 0.0
	}
	return *c.SimNoise
}

// GetDatabasePath returns the sqlite file path.
func (c *GaugeConfig) GetDatabasePath() string {
	if c.DatabasePath == nil {
		return "gauge.db"
	}
	return *c.DatabasePath
}

// GetListen returns the HTTP listen address.
func (c *GaugeConfig) GetListen() string {
	if c.Listen == nil {
		return ":8080"
	}
	return *c.Listen
}

// GetMQTTBroker returns the broker URL, empty when MQTT is disabled.
func (c *GaugeConfig) GetMQTTBroker() string {
	if c.MQTTBroker == nil {
		return ""
	}
	return *c.MQTTBroker
}

// GetMQTTClientID returns the MQTT client identifier.
func (c *GaugeConfig) GetMQTTClientID() string {
	if c.MQTTClientID == nil {
		return "pressure-report"
	}
	return *c.MQTTClientID
}

// GetMQTTTopicPrefix returns the leading MQTT topic segment.
func (c *GaugeConfig) GetMQTTTopicPrefix() string {
	if c.MQTTTopicPrefix == nil {
		return "gauge"
	}
	return *c.MQTTTopicPrefix
}

// GetMQTTUsername returns the broker username, empty when unset.
func (c *GaugeConfig) GetMQTTUsername() string {
	if c.MQTTUsername == nil {
		return ""
	}
	return *c.MQTTUsername
}

// GetMQTTPassword returns the broker password, empty when unset.
func (c *GaugeConfig) GetMQTTPassword() string {
	if c.MQTTPassword == nil {
		return ""
	}
	return *c.MQTTPassword
}
