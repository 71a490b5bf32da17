// Package config loads server configuration from shopfloor.yaml plus
// SHOPFLOOR_* environment overrides, through a viper instance rather than
// the global singleton so tests can load isolated configs.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is the full server configuration.
type Config struct {
	// DBPath is the sqlite database file; ":memory:" keeps everything
	// in process memory.
	DBPath string `mapstructure:"db-path"`
	// ListenAddr is the HTTP listen address, e.g. ":8743".
	ListenAddr string `mapstructure:"listen-addr"`
	// LogFile, when set, switches logging to a rolling file.
	LogFile string `mapstructure:"log-file"`
	// Verbose turns debug logging on.
	Verbose bool `mapstructure:"verbose"`
	// MetricsStdout enables the periodic stdout metrics exporter.
	MetricsStdout bool `mapstructure:"metrics-stdout"`
}

// Defaults applied before file and environment lookup.
const (
	DefaultListenAddr = ":8743"
	DefaultDBPath     = "shopfloor.db"
)

// Load reads configuration. path may name a config file directly; when
// empty, shopfloor.yaml is searched in the working directory. A missing
// file is fine, the defaults plus environment apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetDefault("db-path", DefaultDBPath)
	v.SetDefault("listen-addr", DefaultListenAddr)
	v.SetDefault("log-file", "")
	v.SetDefault("verbose", false)
	v.SetDefault("metrics-stdout", false)

	v.SetEnvPrefix("SHOPFLOOR")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("shopfloor")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks for usable values.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("db-path must not be empty")
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("listen-addr must not be empty")
	}
	return nil
}
