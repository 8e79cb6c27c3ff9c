// Package config loads flagcoreload harness configuration from
// environment variables.
//
// Required variables: none — FLAGCORE_CONFIG_PATH may be supplied as the
// first command-line argument instead.
//
// Optional variables:
//   - FLAGCORE_CONFIG_PATH: path to the flag configuration JSON file.
//   - FLAGCORE_VALIDATION_MODE: "strict" (default) or "permissive".
//   - LOG_LEVEL: logging verbosity (default "info").
//   - METRICS_ADDR: if set, the harness serves Prometheus metrics on this
//     address instead of exiting after one evaluation.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/matt-riley/flagcore/internal/core"
)

// Config holds the runtime configuration for cmd/flagcoreload.
type Config struct {
	ConfigPath     string
	ValidationMode core.ValidationMode
	LogLevel       string
	MetricsAddr    string
}

// Load reads configuration from environment variables and argv, applying
// defaults where appropriate. argv is the command's non-flag arguments
// (os.Args[1:]); when present, argv[0] overrides FLAGCORE_CONFIG_PATH.
func Load(argv []string) (Config, error) {
	configPath := strings.TrimSpace(os.Getenv("FLAGCORE_CONFIG_PATH"))
	if len(argv) > 0 && strings.TrimSpace(argv[0]) != "" {
		configPath = strings.TrimSpace(argv[0])
	}
	if configPath == "" {
		return Config{}, errors.New("a flag configuration path is required: set FLAGCORE_CONFIG_PATH or pass it as the first argument")
	}

	mode := core.Strict
	if v := strings.ToLower(strings.TrimSpace(os.Getenv("FLAGCORE_VALIDATION_MODE"))); v != "" {
		switch v {
		case "strict":
			mode = core.Strict
		case "permissive":
			mode = core.Permissive
		default:
			return Config{}, fmt.Errorf("FLAGCORE_VALIDATION_MODE must be \"strict\" or \"permissive\", got %q", v)
		}
	}

	return Config{
		ConfigPath:     configPath,
		ValidationMode: mode,
		LogLevel:       envOrDefault("LOG_LEVEL", "info"),
		MetricsAddr:    strings.TrimSpace(os.Getenv("METRICS_ADDR")),
	}, nil
}

func envOrDefault(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}
