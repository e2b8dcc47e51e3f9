// Package config loads the detent daemon configuration.
package config

import (
	"fmt"
	"os"

	"github.com/w1xm/detent_knob/detent"
	"gopkg.in/yaml.v2"
)

const (
	DefaultListen = ":8765"

	KindFdcanusb = "fdcanusb"
	KindModbus   = "modbus"
	KindSim      = "sim"
)

// Config is the complete daemon configuration.
type Config struct {
	Listen   string         `yaml:"listen"`
	Actuator ActuatorConfig `yaml:"actuator"`
	Control  detent.Config  `yaml:"control"`
	Log      LogConfig      `yaml:"log"`
}

// LogConfig optionally copies the log to a rotated file.
type LogConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// ActuatorConfig selects and addresses the actuator.
type ActuatorConfig struct {
	// Kind is one of fdcanusb, modbus or sim.
	Kind string `yaml:"kind"`
	// Port and Baud address a serial device.
	Port string `yaml:"port"`
	Baud int    `yaml:"baud"`
	// ID is the moteus CAN id.
	ID int `yaml:"id"`
	// Address is a Modbus TCP host:port; it takes precedence over Port.
	Address string `yaml:"address"`
	// URL reaches a Modbus drive shared by modbus_bridge on another host.
	URL     string `yaml:"url"`
	SlaveID byte   `yaml:"slave_id"`
}

func Default() *Config {
	return &Config{
		Listen: DefaultListen,
		Actuator: ActuatorConfig{
			Kind:    KindFdcanusb,
			Port:    "/dev/fdcanusb",
			Baud:    115200,
			ID:      1,
			SlaveID: 1,
		},
		Control: detent.DefaultConfig(),
		Log: LogConfig{
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.UnmarshalStrict(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %q: %w", path, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address must be set")
	}
	switch c.Actuator.Kind {
	case KindFdcanusb:
		if c.Actuator.Port == "" {
			return fmt.Errorf("actuator port must be set")
		}
	case KindModbus:
		if c.Actuator.Port == "" && c.Actuator.Address == "" && c.Actuator.URL == "" {
			return fmt.Errorf("modbus actuator needs a port, address or url")
		}
	case KindSim:
	default:
		return fmt.Errorf("unknown actuator kind %q", c.Actuator.Kind)
	}
	if err := c.Control.Validate(); err != nil {
		return fmt.Errorf("control: %w", err)
	}
	return nil
}
