// Package config reads server settings from the environment, after loading
// an optional .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"dispatch-route-server/routing"
)

type Config struct {
	Port           string
	OSRMURL        string
	FacilitiesFile string
	Capacity       int
	LogFormat      LogFormat
	LogDebug       bool

	// EnvFileLoaded reports whether a .env file was found.
	EnvFileLoaded bool
}

func Default() Config {
	return Config{
		Port:      "8080",
		OSRMURL:   routing.DefaultOSRMURL,
		Capacity:  routing.Capacity,
		LogFormat: LogFormatConsole,
	}
}

// Load reads .env files (missing ones are ignored) and then the environment.
func Load(envFiles ...string) (Config, error) {
	cfg := Default()
	if err := godotenv.Load(envFiles...); err == nil {
		cfg.EnvFileLoaded = true
	}
	return FromLookup(cfg, os.LookupEnv)
}

// FromLookup overlays variables found through lookup onto base.
func FromLookup(base Config, lookup func(string) (string, bool)) (Config, error) {
	cfg := base

	if v, ok := lookup("PORT"); ok && strings.TrimSpace(v) != "" {
		cfg.Port = strings.TrimSpace(v)
	}
	if v, ok := lookup("OSRM_URL"); ok && strings.TrimSpace(v) != "" {
		cfg.OSRMURL = strings.TrimSpace(v)
	}
	if v, ok := lookup("FACILITIES_FILE"); ok {
		cfg.FacilitiesFile = strings.TrimSpace(v)
	}
	if v, ok := lookup("FACILITY_CAPACITY"); ok && strings.TrimSpace(v) != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return Config{}, fmt.Errorf("FACILITY_CAPACITY: %w", err)
		}
		if n <= 0 {
			return Config{}, fmt.Errorf("FACILITY_CAPACITY must be positive, got %d", n)
		}
		cfg.Capacity = n
	}
	if v, ok := lookup("LOG_FORMAT"); ok && strings.TrimSpace(v) != "" {
		switch f := LogFormat(strings.ToLower(strings.TrimSpace(v))); f {
		case LogFormatJSON, LogFormatConsole:
			cfg.LogFormat = f
		default:
			return Config{}, fmt.Errorf("LOG_FORMAT must be %q or %q, got %q", LogFormatJSON, LogFormatConsole, v)
		}
	}
	if v, ok := lookup("LOG_DEBUG"); ok && strings.TrimSpace(v) != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return Config{}, fmt.Errorf("LOG_DEBUG: %w", err)
		}
		cfg.LogDebug = b
	}

	return cfg, nil
}

func (c Config) Addr() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return ":" + c.Port
}
