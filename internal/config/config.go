// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JackLamWC/mb-rtu-master/modbus"
)

// EnvPrefix prefixes environment overrides, e.g. RTUMASTER_SERIAL_DEVICE.
const EnvPrefix = "RTUMASTER"

// Config defines the global configuration structure
type Config struct {
	Serial SerialConfig `mapstructure:"serial"`
	Engine EngineConfig `mapstructure:"engine"`
	Store  StoreConfig  `mapstructure:"store"`
	Log    LogConfig    `mapstructure:"log"`
}

// LogConfig defines logging configuration
type LogConfig struct {
	Level string `mapstructure:"level"` // debug, info, warn, error
	File  string `mapstructure:"file"`  // Log file path
}

// SerialConfig defines RTU settings
type SerialConfig struct {
	Device   string `mapstructure:"device"`
	BaudRate int    `mapstructure:"baud_rate"`
	DataBits int    `mapstructure:"data_bits"`
	Parity   string `mapstructure:"parity"`
	StopBits int    `mapstructure:"stop_bits"`
	// PollInterval bounds a single read on the line.
	PollInterval time.Duration `mapstructure:"poll_interval"`

	// RS485 specific
	RS485              bool          `mapstructure:"rs485"`
	DelayRtsBeforeSend time.Duration `mapstructure:"delay_rts_before_send"`
	DelayRtsAfterSend  time.Duration `mapstructure:"delay_rts_after_send"`
	RtsHighDuringSend  bool          `mapstructure:"rts_high_during_send"`
	RtsHighAfterSend   bool          `mapstructure:"rts_high_after_send"`
	RxDuringTx         bool          `mapstructure:"rx_during_tx"`
}

// EngineConfig defines transaction timing and retry policy
type EngineConfig struct {
	SlaveID int           `mapstructure:"slave_id"`
	Timeout time.Duration `mapstructure:"timeout"`
	// QuietInterval is the inter-byte silence that ends a reply whose
	// length cannot be derived from its header.
	QuietInterval time.Duration `mapstructure:"quiet_interval"`
	// Retries applies to timeouts and non-fatal transport errors only.
	Retries int `mapstructure:"retries"`
}

// StoreConfig defines where the register store is mirrored
type StoreConfig struct {
	Mirror string `mapstructure:"mirror"` // "memory", "mmap"
	Path   string `mapstructure:"path"`   // File path for "mmap"
}

// Defaults
const (
	DefaultBaudRate      = 115200
	DefaultTimeout       = time.Second
	DefaultQuietInterval = 10 * time.Millisecond
	DefaultPollInterval  = 20 * time.Millisecond
)

// New returns a viper instance with defaults, search paths and
// environment binding applied.
func New() *viper.Viper {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/rtumaster/")
	v.AddConfigPath("$HOME/.rtumaster")
	v.AddConfigPath(".")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set defaults
	v.SetDefault("serial.device", "/dev/ttyUSB0")
	v.SetDefault("serial.baud_rate", DefaultBaudRate)
	v.SetDefault("serial.data_bits", 8)
	v.SetDefault("serial.parity", "N")
	v.SetDefault("serial.stop_bits", 1)
	v.SetDefault("serial.poll_interval", DefaultPollInterval)
	v.SetDefault("engine.slave_id", 1)
	v.SetDefault("engine.timeout", DefaultTimeout)
	v.SetDefault("engine.quiet_interval", DefaultQuietInterval)
	v.SetDefault("engine.retries", 0)
	v.SetDefault("store.mirror", "memory")
	v.SetDefault("log.level", "info")
	return v
}

// LoadConfig loads configuration from file. A missing file is not an
// error when no explicit path was given: defaults and environment apply.
func LoadConfig(configFile string) (*Config, error) {
	v := New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	}
	if err := Read(v, configFile != ""); err != nil {
		return nil, err
	}
	return Unmarshal(v)
}

// Read reads the config file into v.
func Read(v *viper.Viper, required bool) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) && !required {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// Unmarshal decodes v and applies fixups.
func Unmarshal(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := fixup(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

func fixup(c *Config) error {
	c.Serial.Parity = strings.ToUpper(c.Serial.Parity)
	switch c.Serial.Parity {
	case "N", "E", "O":
	default:
		return fmt.Errorf("invalid parity %q, must be one of N, E, O", c.Serial.Parity)
	}
	if c.Serial.BaudRate <= 0 {
		c.Serial.BaudRate = DefaultBaudRate
	}
	if c.Serial.PollInterval <= 0 {
		c.Serial.PollInterval = DefaultPollInterval
	}
	if c.Engine.Timeout <= 0 {
		c.Engine.Timeout = DefaultTimeout
	}
	if c.Engine.QuietInterval <= 0 {
		c.Engine.QuietInterval = DefaultQuietInterval
	}
	if c.Engine.SlaveID < 1 || c.Engine.SlaveID > 255 {
		return fmt.Errorf("%w: slave id %d must be between 1 and 255", modbus.ErrInvalidParameter, c.Engine.SlaveID)
	}
	if c.Engine.Retries < 0 {
		return fmt.Errorf("invalid retries %d", c.Engine.Retries)
	}
	switch c.Store.Mirror {
	case "", "memory":
		c.Store.Mirror = "memory"
	case "mmap":
		if c.Store.Path == "" {
			return fmt.Errorf("store mirror %q needs a path", c.Store.Mirror)
		}
	default:
		return fmt.Errorf("unknown store mirror %q", c.Store.Mirror)
	}
	return nil
}
