// Package config loads the YAML configuration shared by the HAL
// backends, the socket harness and the command-line tools. Missing
// values fall back to defaults; durations are configured in
// milliseconds.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"spihal/hal"
)

// Config is the top-level configuration document.
type Config struct {
	Log     LogConfig     `yaml:"Log"`
	Socket  SocketConfig  `yaml:"Socket"`
	Serial  SerialConfig  `yaml:"Serial"`
	Harness HarnessConfig `yaml:"Harness"`
	Device  DeviceConfig  `yaml:"Device"`
}

// LogConfig selects the log level and output format.
type LogConfig struct {
	Level  string `yaml:"Level"`  // DEBUG, INFO, WARN, ERROR
	Format string `yaml:"Format"` // text or json
}

// SocketConfig points the socket backend at its harness.
type SocketConfig struct {
	Host             string `yaml:"Host"`
	Port             string `yaml:"Port"`
	ConnectRetries   int    `yaml:"ConnectRetries"`
	RetryDelayMillis int    `yaml:"RetryDelayMillis"`
	TimeoutMillis    int    `yaml:"TimeoutMillis"` // default receive timeout for the tools
}

// RetryDelay returns the pause between connect attempts.
func (c SocketConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMillis) * time.Millisecond
}

// Timeout returns the default receive timeout.
func (c SocketConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMillis) * time.Millisecond
}

// SerialConfig describes the optional serial link to the harness.
type SerialConfig struct {
	Device string `yaml:"Device"` // e.g. /dev/ttyUSB0; empty disables serial
	Baud   int    `yaml:"Baud"`
}

// HarnessConfig configures the socket server.
type HarnessConfig struct {
	Listen string       `yaml:"Listen"`
	Faults FaultsConfig `yaml:"Faults"`
}

// FaultsConfig injects failures into harness responses, for exercising
// the client's timeout and short-read paths.
type FaultsConfig struct {
	DropResponses       bool `yaml:"DropResponses"`       // never answer
	TruncateBy          int  `yaml:"TruncateBy"`          // shorten payloads, keeping the announced length
	ResponseDelayMillis int  `yaml:"ResponseDelayMillis"` // delay before answering
}

// ResponseDelay returns the configured response delay.
func (f FaultsConfig) ResponseDelay() time.Duration {
	return time.Duration(f.ResponseDelayMillis) * time.Millisecond
}

// DeviceConfig is the default SPI device configuration used by the
// tools.
type DeviceConfig struct {
	Baudrate uint32 `yaml:"Baudrate"`
	Mode     uint8  `yaml:"Mode"`
	BitOrder string `yaml:"BitOrder"` // msb or lsb
	DataBits uint8  `yaml:"DataBits"`
}

// HAL converts the device defaults into a hal.Config.
func (d DeviceConfig) HAL() (hal.Config, error) {
	cfg := hal.Config{
		Baudrate: d.Baudrate,
		Mode:     hal.Mode(d.Mode),
		DataBits: d.DataBits,
	}
	switch d.BitOrder {
	case "", "msb":
		cfg.BitOrder = hal.MSBFirst
	case "lsb":
		cfg.BitOrder = hal.LSBFirst
	default:
		return hal.Config{}, fmt.Errorf("unknown bit order %q (want msb or lsb)", d.BitOrder)
	}
	if err := cfg.Validate(); err != nil {
		return hal.Config{}, err
	}
	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	c := &Config{}
	applyDefaults(c)
	return c
}

// Load reads and decodes a configuration file, applying defaults for
// anything the file leaves out.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	var c Config
	dec := yaml.NewDecoder(f)
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("decode config file %s: %w", path, err)
	}
	applyDefaults(&c)
	return &c, nil
}

func applyDefaults(c *Config) {
	if c.Log.Level == "" {
		c.Log.Level = "INFO"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Socket.Host == "" {
		c.Socket.Host = "127.0.0.1"
	}
	if c.Socket.Port == "" {
		c.Socket.Port = "9000"
	}
	if c.Socket.ConnectRetries == 0 {
		c.Socket.ConnectRetries = 3
	}
	if c.Socket.RetryDelayMillis == 0 {
		c.Socket.RetryDelayMillis = 1000
	}
	if c.Socket.TimeoutMillis == 0 {
		c.Socket.TimeoutMillis = 1000
	}
	if c.Serial.Baud == 0 {
		c.Serial.Baud = 115200
	}
	if c.Harness.Listen == "" {
		c.Harness.Listen = "127.0.0.1:9000"
	}
	if c.Device.Baudrate == 0 {
		c.Device.Baudrate = 1000000
	}
	if c.Device.DataBits == 0 {
		c.Device.DataBits = 8
	}
}
