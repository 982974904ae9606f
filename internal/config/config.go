// Package config loads the YAML configuration shared by psuctl and mockpsu.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"psu-logger/internal/device"
	"psu-logger/internal/model"
	"psu-logger/internal/publish"
	"psu-logger/internal/sampler"
	"psu-logger/internal/storage"
	"psu-logger/internal/tasks"
	"psu-logger/internal/transport"
	"psu-logger/internal/utils"
)

type Config struct {
	Device   DeviceConfig   `yaml:"device"`
	Settings model.Settings `yaml:"settings"`
	Sampling SamplingConfig `yaml:"sampling"`
	Storage  storage.Config `yaml:"storage"`
	Rails    tasks.Plan     `yaml:"rails"`
	API      APIConfig      `yaml:"api"`
	Redis    RedisConfig    `yaml:"redis"`
	Log      LogConfig      `yaml:"log"`
}

type DeviceConfig struct {
	transport.Config `yaml:",inline"`
	SettleDelay      time.Duration `yaml:"settle_delay"`
}

type SamplingConfig struct {
	Interval time.Duration `yaml:"interval"`
	// Buffer is the per-subscriber channel size of live sample streams.
	Buffer int `yaml:"buffer"`
}

type APIConfig struct {
	Addr string `yaml:"addr"`
}

type RedisConfig struct {
	Enabled        bool `yaml:"enabled"`
	publish.Config `yaml:",inline"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

const (
	DefaultAPIAddr   = ":8080"
	DefaultRedisAddr = "localhost:6379"
	DefaultBuffer    = 16
)

// Load reads path. An empty path returns Default().
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

// Parse decodes YAML, fills defaults and validates the result.
func Parse(raw []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration of the bench scripts.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Device.Driver == "" {
		c.Device.Driver = transport.DriverSerial
	}
	if c.Device.Address == "" {
		c.Device.Address = "/dev/ttyUSB0"
	}
	sp := utils.SerialParams{
		BaudRate: c.Device.BaudRate,
		DataBits: c.Device.DataBits,
		StopBits: c.Device.StopBits,
		Parity:   c.Device.Parity,
		Timeout:  c.Device.ReadTimeout,
	}
	utils.EnsureSerialDefaults(&sp)
	c.Device.BaudRate = sp.BaudRate
	c.Device.DataBits = sp.DataBits
	c.Device.StopBits = sp.StopBits
	c.Device.Parity = sp.Parity
	c.Device.ReadTimeout = sp.Timeout
	if c.Device.SettleDelay == 0 {
		c.Device.SettleDelay = device.DefaultSettleDelay
	}

	if c.Settings.Voltage == "" {
		c.Settings.Voltage = "5"
	}
	if c.Settings.Current == "" {
		c.Settings.Current = "1"
	}
	if c.Settings.Protection == "" {
		c.Settings.Protection = "6"
	}

	if c.Sampling.Interval == 0 {
		c.Sampling.Interval = sampler.DefaultInterval
	}
	if c.Sampling.Buffer == 0 {
		c.Sampling.Buffer = DefaultBuffer
	}

	if c.Storage.FileType == "" {
		c.Storage.FileType = storage.DefaultFileType
	}

	c.Rails.ApplyDefaults(c.Sampling.Interval)

	if c.API.Addr == "" {
		c.API.Addr = DefaultAPIAddr
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = DefaultRedisAddr
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

func (c *Config) validate() error {
	switch strings.ToLower(c.Device.Driver) {
	case transport.DriverSerial, transport.DriverBugst, transport.DriverTCP:
	default:
		return fmt.Errorf("device.driver: unknown driver %q", c.Device.Driver)
	}
	if c.Device.SettleDelay < 0 {
		return errors.New("device.settle_delay must not be negative")
	}
	if c.Sampling.Interval < 0 {
		return errors.New("sampling.interval must not be negative")
	}
	if c.Sampling.Buffer < 0 {
		return errors.New("sampling.buffer must not be negative")
	}
	if err := storage.ValidateFileType(c.Storage.FileType); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if err := c.Rails.Validate(); err != nil {
		return fmt.Errorf("rails: %w", err)
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format: unknown format %q", c.Log.Format)
	}
	return nil
}

// NewLogger builds a logrus logger from the log section.
func (l LogConfig) NewLogger() (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(l.Level)
	if err != nil {
		return nil, err
	}
	lg := logrus.New()
	lg.SetLevel(lvl)
	if l.Format == "json" {
		lg.SetFormatter(&logrus.JSONFormatter{})
	} else {
		lg.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return lg, nil
}
