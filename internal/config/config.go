// Package config holds the proxy configuration and its viper loader.
package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Config is the full proxy configuration.
type Config struct {
	// Bind and Port define the client-facing listen address.
	Bind string `mapstructure:"bind"`
	Port int    `mapstructure:"port"`

	// Entry is the cluster entry point: "host:port", or the path of a
	// unix domain socket when it starts with '/'.
	Entry string `mapstructure:"entry"`

	// Auth is the pre-shared secret sent as AUTH to every cluster node.
	// A client's AUTH command is checked against it; commands from clients
	// that have not authenticated are still served.
	Auth string `mapstructure:"auth"`

	// Workers is the number of request-processing goroutines, each with
	// a private copy of the cluster topology.
	Workers int `mapstructure:"workers"`

	// MaxRedirections bounds how many times one request may trigger a
	// reconfiguration before its redirection error is relayed as-is.
	MaxRedirections int `mapstructure:"max-redirections"`

	LogLevel    string `mapstructure:"log-level"`
	MetricsAddr string `mapstructure:"metrics-addr"`
}

// SetDefaults installs the default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("bind", "127.0.0.1")
	v.SetDefault("port", 7777)
	v.SetDefault("entry", "127.0.0.1:6379")
	v.SetDefault("workers", 4)
	v.SetDefault("max-redirections", 16)
	v.SetDefault("log-level", "info")
	v.SetDefault("metrics-addr", "")
}

// Load unmarshals and validates the configuration from v.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if cfg.Workers < 1 {
		return nil, fmt.Errorf("workers must be at least 1, got %d", cfg.Workers)
	}
	if cfg.MaxRedirections < 1 {
		return nil, fmt.Errorf("max-redirections must be at least 1, got %d", cfg.MaxRedirections)
	}
	if _, _, _, err := cfg.EntryPoint(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// EntryPoint parses Entry into a TCP host and port, or a unix socket path.
func (c *Config) EntryPoint() (host string, port int, unixSocket string, err error) {
	if strings.HasPrefix(c.Entry, "/") {
		return "", 0, c.Entry, nil
	}
	h, portStr, err := net.SplitHostPort(c.Entry)
	if err != nil {
		return "", 0, "", fmt.Errorf("invalid entry point %q: %w", c.Entry, err)
	}
	p, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, "", fmt.Errorf("invalid entry point port %q: %w", portStr, err)
	}
	return h, p, "", nil
}
