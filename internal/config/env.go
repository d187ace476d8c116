// Package config loads process configuration from the environment, an
// optional .env file and an optional YAML settings file.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
)

// GetEnv returns the value of the environment variable named by the key,
// or fallback if the variable is not set.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// GetEnvInt is GetEnv for integers. A set but unparsable value is an error.
func GetEnvInt(key string, fallback int) (int, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, eris.Wrapf(err, "%s must be an integer", key)
	}
	return n, nil
}

// GetEnvDuration is GetEnv for durations such as "3s" or "250ms".
func GetEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, eris.Wrapf(err, "%s must be a duration", key)
	}
	return d, nil
}
