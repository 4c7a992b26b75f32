package config

import (
	"fmt"
	"os"
	"time"

	"github.com/life-stream-dev/pitstopper/internal/location"
	"github.com/life-stream-dev/pitstopper/internal/utils"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration of the pitstopper broker.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Broker    BrokerConfig    `yaml:"broker"`
	Location  LocationConfig  `yaml:"location"`
	PitWindow PitWindowConfig `yaml:"pit_window"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Log       LogConfig       `yaml:"log"`
	AppName   string          `yaml:"app_name"`
	DebugMode bool            `yaml:"debug_mode"`
}

type ServerConfig struct {
	TCPAddr        string        `yaml:"tcp_addr"`
	WSAddr         string        `yaml:"ws_addr"` // empty disables the WebSocket listener
	WSPath         string        `yaml:"ws_path"`
	MaxConnections int           `yaml:"max_connections"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
}

type BrokerConfig struct {
	MaxSessions      int           `yaml:"max_sessions"`
	RetryInterval    time.Duration `yaml:"retry_interval"`
	MaxRetries       int           `yaml:"max_retries"`
	RetainedCapacity int           `yaml:"retained_capacity"`
	MaxInflight      int           `yaml:"max_inflight"`
	DispatchWorkers  int           `yaml:"dispatch_workers"`
	DispatchQueue    int           `yaml:"dispatch_queue"`
	MaxPacketSize    int           `yaml:"max_packet_size"`
}

type LocationConfig struct {
	Enabled  bool   `yaml:"enabled"`
	DeviceID string `yaml:"device_id"` // empty means a generated id
	QoS      byte   `yaml:"qos"`
	Encoding string `yaml:"encoding"`
	// RateLimit is the sustained number of fixes per second handed to the broker.
	RateLimit        float64       `yaml:"rate_limit"`
	Burst            int           `yaml:"burst"`
	Simulate         bool          `yaml:"simulate"`
	SimulateInterval time.Duration `yaml:"simulate_interval"`
}

type PitWindowConfig struct {
	Enabled    bool          `yaml:"enabled"`
	RaceStart  string        `yaml:"race_start"`  // hh:mm
	OpensAfter int           `yaml:"opens_after"` // minutes
	Duration   int           `yaml:"duration"`    // minutes
	Interval   time.Duration `yaml:"interval"`

	// StandstillSpeed in km/h clears the alert once the car stays below it
	// for StandstillHold. Zero disables standstill detection.
	StandstillSpeed float64       `yaml:"standstill_speed"`
	StandstillHold  time.Duration `yaml:"standstill_hold"`
}

type ArchiveConfig struct {
	Enabled            bool          `yaml:"enabled"`
	URI                string        `yaml:"uri"` // overrides host/port/credentials when set
	Host               string        `yaml:"host"`
	Port               int           `yaml:"port"`
	Username           string        `yaml:"username"`
	Password           string        `yaml:"password"`
	Database           string        `yaml:"database"`
	Collection         string        `yaml:"collection"`
	UseTLS             bool          `yaml:"use_tls"`
	ConnectTimeout     time.Duration `yaml:"connect_timeout"`
	SocketTimeout      time.Duration `yaml:"socket_timeout"`
	ConnectIdleTimeout time.Duration `yaml:"connect_idle_timeout"`
	OperationTimeout   time.Duration `yaml:"operation_timeout"`
	Heartbeat          time.Duration `yaml:"heartbeat"`
	MinPoolSize        uint64        `yaml:"min_pool_size"`
	MaxPoolSize        uint64        `yaml:"max_pool_size"`
	BatchSize          int           `yaml:"batch_size"`
	FlushInterval      time.Duration `yaml:"flush_interval"`
	Buffer             int           `yaml:"buffer"`
	// Retention accepts day units such as "30d"; empty keeps fixes forever.
	Retention string `yaml:"retention"`
}

type LogConfig struct {
	Level         string `yaml:"level"`
	Dir           string `yaml:"dir"`
	Color         bool   `yaml:"color"`
	RetentionDays int    `yaml:"retention_days"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			TCPAddr:        "0.0.0.0:1883",
			WSPath:         "/mqtt",
			MaxConnections: 64,
			ConnectTimeout: 10 * time.Second,
			WriteTimeout:   5 * time.Second,
		},
		Broker: BrokerConfig{
			MaxSessions:      32,
			RetryInterval:    5 * time.Second,
			MaxRetries:       3,
			RetainedCapacity: 1024,
			MaxInflight:      64,
			DispatchWorkers:  2,
			DispatchQueue:    256,
			MaxPacketSize:    256 * 1024,
		},
		Location: LocationConfig{
			Enabled:          true,
			QoS:              0,
			Encoding:         "json",
			RateLimit:        10,
			Burst:            20,
			SimulateInterval: time.Second,
		},
		PitWindow: PitWindowConfig{
			RaceStart:  "09:00",
			OpensAfter: 17,
			Duration:   6,
			Interval:   5 * time.Second,

			StandstillSpeed: 5,
			StandstillHold:  10 * time.Second,
		},
		Archive: ArchiveConfig{
			Host:               "localhost",
			Port:               27017,
			Database:           "pitstopper",
			Collection:         "fixes",
			ConnectTimeout:     10 * time.Second,
			SocketTimeout:      30 * time.Second,
			ConnectIdleTimeout: 5 * time.Minute,
			OperationTimeout:   5 * time.Second,
			Heartbeat:          10 * time.Second,
			MinPoolSize:        1,
			MaxPoolSize:        10,
			BatchSize:          100,
			FlushInterval:      2 * time.Second,
			Buffer:             1024,
			Retention:          "30d",
		},
		Log: LogConfig{
			Level:         "info",
			Dir:           "logs",
			Color:         true,
			RetentionDays: 30,
		},
		AppName: "pitstopper",
	}
}

// Load loads configuration from a YAML file.
// If the file doesn't exist, returns default configuration.
func Load(filename string) (*Config, error) {
	if filename == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Port returns the port of the TCP listener address.
func (c *Config) Port() int {
	port, _ := utils.PortOf(c.Server.TCPAddr)
	return port
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	port, err := utils.PortOf(c.Server.TCPAddr)
	if err != nil {
		return fmt.Errorf("server.tcp_addr is invalid: %w", err)
	}
	if !utils.IsValidPort(port) {
		return fmt.Errorf("server.tcp_addr port must be between %d and %d", utils.MinPort, utils.MaxPort)
	}
	if c.Server.WSAddr != "" {
		if wsPort, err := utils.PortOf(c.Server.WSAddr); err != nil || !utils.IsValidPort(wsPort) {
			return fmt.Errorf("server.ws_addr must be host:port with a port between %d and %d", utils.MinPort, utils.MaxPort)
		}
		if c.Server.WSPath == "" || c.Server.WSPath[0] != '/' {
			return fmt.Errorf("server.ws_path must start with '/'")
		}
	}
	if c.Server.MaxConnections < 0 {
		return fmt.Errorf("server.max_connections cannot be negative")
	}
	if c.Server.ConnectTimeout <= 0 {
		return fmt.Errorf("server.connect_timeout must be positive")
	}

	if c.Broker.MaxSessions < 1 {
		return fmt.Errorf("broker.max_sessions must be at least 1")
	}
	if c.Broker.RetryInterval < 100*time.Millisecond {
		return fmt.Errorf("broker.retry_interval must be at least 100ms")
	}
	if c.Broker.MaxRetries < 0 {
		return fmt.Errorf("broker.max_retries cannot be negative")
	}
	if c.Broker.RetainedCapacity < 1 {
		return fmt.Errorf("broker.retained_capacity must be at least 1")
	}
	if c.Broker.MaxInflight < 1 || c.Broker.MaxInflight > 65535 {
		return fmt.Errorf("broker.max_inflight must be between 1 and 65535")
	}
	if c.Broker.DispatchWorkers < 1 {
		return fmt.Errorf("broker.dispatch_workers must be at least 1")
	}
	if c.Broker.DispatchQueue < 1 {
		return fmt.Errorf("broker.dispatch_queue must be at least 1")
	}
	if c.Broker.MaxPacketSize < 1024 {
		return fmt.Errorf("broker.max_packet_size must be at least 1KB")
	}

	if c.Location.DeviceID != "" {
		if err := location.ValidateDeviceID(c.Location.DeviceID); err != nil {
			return fmt.Errorf("location.device_id: %w", err)
		}
	}
	if c.Location.QoS > 1 {
		return fmt.Errorf("location.qos must be 0 or 1")
	}
	if c.Location.Encoding != "json" && c.Location.Encoding != "binary" {
		return fmt.Errorf("location.encoding must be one of: json, binary")
	}
	if c.Location.RateLimit <= 0 {
		return fmt.Errorf("location.rate_limit must be positive")
	}
	if c.Location.Burst < 1 {
		return fmt.Errorf("location.burst must be at least 1")
	}
	if c.Location.Simulate && c.Location.SimulateInterval <= 0 {
		return fmt.Errorf("location.simulate_interval must be positive")
	}

	if c.PitWindow.Enabled {
		if _, _, err := utils.ParseClock(c.PitWindow.RaceStart); err != nil {
			return fmt.Errorf("pit_window.race_start: %w", err)
		}
		if c.PitWindow.OpensAfter < 0 {
			return fmt.Errorf("pit_window.opens_after cannot be negative")
		}
		if c.PitWindow.Duration < 1 {
			return fmt.Errorf("pit_window.duration must be at least 1 minute")
		}
		if c.PitWindow.Interval <= 0 {
			return fmt.Errorf("pit_window.interval must be positive")
		}
		if c.PitWindow.StandstillSpeed < 0 {
			return fmt.Errorf("pit_window.standstill_speed cannot be negative")
		}
		if c.PitWindow.StandstillSpeed > 0 && c.PitWindow.StandstillHold <= 0 {
			return fmt.Errorf("pit_window.standstill_hold must be positive")
		}
	}

	if c.Archive.Enabled {
		if c.Archive.URI == "" && c.Archive.Host == "" {
			return fmt.Errorf("archive.uri or archive.host required when archive is enabled")
		}
		if c.Archive.Database == "" || c.Archive.Collection == "" {
			return fmt.Errorf("archive.database and archive.collection cannot be empty")
		}
		if c.Archive.BatchSize < 1 {
			return fmt.Errorf("archive.batch_size must be at least 1")
		}
		if c.Archive.Buffer < c.Archive.BatchSize {
			return fmt.Errorf("archive.buffer must be at least archive.batch_size")
		}
		if c.Archive.FlushInterval <= 0 {
			return fmt.Errorf("archive.flush_interval must be positive")
		}
		if c.Archive.Retention != "" {
			if _, err := utils.ParseStringTime(c.Archive.Retention); err != nil {
				return fmt.Errorf("archive.retention: %w", err)
			}
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}

	return nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
