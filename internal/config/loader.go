package config

import (
	"log"
	"os"
	"strconv"
)

// Load loads configuration from environment variables, falling back to
// defaults for anything missing.
func Load() *Config {
	cfg := Default()

	if baud := os.Getenv("FLIGHTCORE_DEFAULT_BAUD"); baud != "" {
		if b, err := strconv.Atoi(baud); err == nil {
			cfg.Transport.DefaultBaud = b
		}
	}

	if hints := os.Getenv("FLIGHTCORE_BOARD_HINTS"); hints != "" {
		cfg.Transport.BoardHintsPath = hints
	}

	if cacheRoot := os.Getenv("FLIGHTCORE_CACHE_ROOT"); cacheRoot != "" {
		cfg.Firmware.CacheRoot = cacheRoot
	}

	if logLevel := os.Getenv("FLIGHTCORE_LOG_LEVEL"); logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	if gw := os.Getenv("FLIGHTCORE_GATEWAY_ENABLED"); gw != "" {
		if b, err := strconv.ParseBool(gw); err == nil {
			cfg.Gateway.Enabled = b
		}
	}

	if port := os.Getenv("FLIGHTCORE_GATEWAY_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Gateway.Port = p
		}
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	return cfg
}
