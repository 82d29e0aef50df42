// Package config holds flightcore's process-wide settings: logging, the
// firmware cache location, transport defaults, and the optional shell
// gateway. Every field has a workable default so an embedder can start a
// Session with config.Default() and nothing else.
package config

import (
	"fmt"
)

// Config holds all application configuration.
type Config struct {
	Transport TransportConfig
	Firmware  FirmwareConfig
	Logging   LoggingConfig
	Gateway   GatewayConfig
}

type TransportConfig struct {
	// DefaultBaud is used by detectBoard/connect when the caller doesn't
	// specify one.
	DefaultBaud int
	// EnumeratePollInterval governs the hot-unplug enumeration diff (§4.1).
	EnumeratePollInterval int // milliseconds
	// BoardHintsPath points at a YAML file mapping vid:pid to a board name
	// hint, consulted by the detection FSM's OpenAndClassify step.
	BoardHintsPath string
}

type FirmwareConfig struct {
	// CacheRoot is the content-addressed firmware cache directory.
	CacheRoot string
	// ManifestTimeoutMs bounds upstream manifest/release fetches.
	ManifestTimeoutMs int
}

type LoggingConfig struct {
	Level string // "debug", "info", "warn", "error"
}

type GatewayConfig struct {
	Enabled bool
	Host    string
	Port    int
	// CORSOrigins allowed to reach the local shell gateway.
	CORSOrigins []string
}

// Default returns a Config with sensible defaults for running on a
// developer's desktop.
func Default() *Config {
	return &Config{
		Transport: TransportConfig{
			DefaultBaud:           115200,
			EnumeratePollInterval: 2000,
			BoardHintsPath:        "./data/config/board-hints.yaml",
		},
		Firmware: FirmwareConfig{
			CacheRoot:         "./data/firmware-cache",
			ManifestTimeoutMs: 10000,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Gateway: GatewayConfig{
			Enabled: false,
			Host:    "127.0.0.1",
			Port:    8432,
			CORSOrigins: []string{
				"http://localhost:5173",
				"http://localhost:3000",
			},
		},
	}
}

// Validate checks if the configuration is usable.
func (c *Config) Validate() error {
	if c.Gateway.Enabled && (c.Gateway.Port < 1 || c.Gateway.Port > 65535) {
		return fmt.Errorf("invalid gateway port: %d", c.Gateway.Port)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.Transport.EnumeratePollInterval < 100 {
		return fmt.Errorf("enumerate poll interval too small: %dms", c.Transport.EnumeratePollInterval)
	}

	return nil
}

// GatewayAddr returns the shell gateway's listen address as host:port.
func (c *Config) GatewayAddr() string {
	return fmt.Sprintf("%s:%d", c.Gateway.Host, c.Gateway.Port)
}
