package config

import (
	"flag"
)

// Flags are command-line overrides. Only flags that were set on the
// command line are applied.
type Flags struct {
	fs *flag.FlagSet

	Config   string
	Listen   string
	Actuator string
	Port     string
	Detents  int
	LogFile  string
}

func (f *Flags) Bind(fs *flag.FlagSet) {
	f.fs = fs
	fs.StringVar(&f.Config, "config", "", "YAML configuration file")
	fs.StringVar(&f.Listen, "listen", DefaultListen, "websocket listen address")
	fs.StringVar(&f.Actuator, "actuator", KindFdcanusb, "actuator kind: fdcanusb, modbus or sim")
	fs.StringVar(&f.Port, "port", "", "actuator serial port")
	fs.IntVar(&f.Detents, "detents", 0, "initial number of detents")
	fs.StringVar(&f.LogFile, "log_file", "", "also write the log to this file, rotated")
}

// Load reads the configuration file named by -config and applies the
// remaining flags over it.
func (f *Flags) Load() (*Config, error) {
	cfg, err := Load(f.Config)
	if err != nil {
		return nil, err
	}
	f.Apply(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (f *Flags) Apply(cfg *Config) {
	f.fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "listen":
			cfg.Listen = f.Listen
		case "actuator":
			cfg.Actuator.Kind = f.Actuator
		case "port":
			cfg.Actuator.Port = f.Port
		case "detents":
			cfg.Control.Detents = f.Detents
		case "log_file":
			cfg.Log.File = f.LogFile
		}
	})
}
