// Package config loads start-up parameters for the daemon from flags and
// environment variables, flags taking precedence over environment, which
// in turn takes precedence over built-in defaults. Every parse logs which
// source it resolved from, the way the teacher's internal/config/env.go
// helpers do.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"nhkrec/internal/log"
)

// ParseString reads a string from an environment variable, falling back to
// defaultValue, and logs which source it used.
func ParseString(key, defaultValue string) string {
	logger := log.WithComponent("config")
	if v, ok := os.LookupEnv(key); ok {
		if v == "" {
			logger.Debug().Str("key", key).Str("source", "default").Msg("environment variable empty, using default")
			return defaultValue
		}
		logger.Debug().Str("key", key).Str("source", "environment").Msg("using environment variable")
		return v
	}
	logger.Debug().Str("key", key).Str("source", "default").Msg("using default value")
	return defaultValue
}

// ParseInt reads an int from an environment variable, falling back to
// defaultValue on absence or parse failure.
func ParseInt(key string, defaultValue int) int {
	logger := log.WithComponent("config")
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		logger.Debug().Str("key", key).Str("source", "default").Msg("using default value")
		return defaultValue
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		logger.Warn().Str("key", key).Str("value", v).Msg("invalid integer, using default")
		return defaultValue
	}
	logger.Debug().Str("key", key).Int("value", i).Str("source", "environment").Msg("using environment variable")
	return i
}

// ParseDuration reads a time.Duration from an environment variable in Go
// duration syntax ("30s", "25h"), falling back to defaultValue on absence
// or parse failure.
func ParseDuration(key string, defaultValue time.Duration) time.Duration {
	logger := log.WithComponent("config")
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		logger.Debug().Str("key", key).Str("source", "default").Msg("using default value")
		return defaultValue
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		logger.Warn().Str("key", key).Str("value", v).Msg("invalid duration, using default")
		return defaultValue
	}
	logger.Debug().Str("key", key).Dur("value", d).Str("source", "environment").Msg("using environment variable")
	return d
}

// ParseBool reads a bool from an environment variable, accepting
// true/false/1/0/yes/no case-insensitively.
func ParseBool(key string, defaultValue bool) bool {
	logger := log.WithComponent("config")
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		logger.Debug().Str("key", key).Str("source", "default").Msg("using default value")
		return defaultValue
	}
	switch strings.ToLower(v) {
	case "true", "1", "yes":
		logger.Debug().Str("key", key).Bool("value", true).Str("source", "environment").Msg("using environment variable")
		return true
	case "false", "0", "no":
		logger.Debug().Str("key", key).Bool("value", false).Str("source", "environment").Msg("using environment variable")
		return false
	default:
		logger.Warn().Str("key", key).Str("value", v).Msg("invalid boolean, using default")
		return defaultValue
	}
}
